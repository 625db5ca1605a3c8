// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package mailbox_test

import (
	"testing"
	"time"

	"github.com/platinasystems/esca/internal/sim"
	"github.com/platinasystems/esca/internal/test"
	"github.com/platinasystems/esca/mailbox"
)

func TestDoorbell(t *testing.T) {
	assert := test.Assert{TB: t}
	regs := sim.NewMailbox(sim.MailboxLayout(0))
	m := mailbox.New(regs, regs.Layout())

	m.Ring(3)
	assert.True(regs.Take() == 1<<3)
	assert.True(regs.Take() == 0)

	regs.Post(1<<3 | 1<<5)
	assert.True(m.Pending(3) && m.Pending(5))
	m.Ack(m.Bit(3))
	assert.False(m.Pending(3))
	assert.True(m.Pending(5))

	m.Raise(3)
	assert.True(m.Pending(3))

	var got []uint32
	m.ForeachChannel(m.Status(), func(ch uint32) { got = append(got, ch) })
	assert.Words(got, []uint32{3, 5})
}

func TestSlaveShift(t *testing.T) {
	assert := test.Assert{TB: t}
	l := sim.MailboxLayout(1)
	l.Shift = 16
	regs := sim.NewMailbox(l)
	m := mailbox.New(regs, l)
	assert.True(m.Bit(2) == 1<<18)
	m.Ring(2)
	assert.True(regs.Take() == 1<<18)
	regs.Post(1 << 18)
	var got []uint32
	m.ForeachChannel(m.Status(), func(ch uint32) { got = append(got, ch) })
	assert.Words(got, []uint32{2})
}

func TestMask(t *testing.T) {
	assert := test.Assert{TB: t}
	regs := sim.NewMailbox(sim.MailboxLayout(0))
	m := mailbox.New(regs, regs.Layout())
	fired := make(chan struct{}, 4)
	regs.Connect(func() { fired <- struct{}{} })

	m.MaskBits(m.Bit(1) | m.Bit(2))
	m.UnmaskBits(m.Bit(2))
	assert.True(m.Masked() == m.Bit(1))

	// a masked bit is pending without an interrupt
	regs.Post(m.Bit(1))
	assert.True(m.Pending(1))
	select {
	case <-fired:
		t.Fatal("masked channel interrupted")
	default:
	}
	regs.Post(m.Bit(2))
	assert.Within(time.Second, func() bool { return len(fired) == 1 })
}
