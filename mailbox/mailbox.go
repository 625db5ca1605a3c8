// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package mailbox drives the doorbell register block shared between the
// application processor and one remote execution layer.
//
// Each channel owns one bit. Writing it to Gen interrupts the remote; the
// remote raises it in Status to interrupt us. Status bits are write 1 to
// clear through Clear, and SelfGen sets our own Status bit so a pending
// condition is not lost after an acknowledgement.
package mailbox

import (
	"fmt"
	"math/bits"
	"sync"
)

// Regs is 32-bit register access by byte offset.
type Regs interface {
	Load32(off uint32) uint32
	Store32(off, v uint32)
}

// Layout gives the register offsets of one mailbox.
type Layout struct {
	Gen, Clear, Status, Mask, SelfGen uint32

	// Channel index to bit shift; 16 when the application processor is
	// the mailbox slave.
	Shift uint32
}

func (l Layout) String() string {
	return fmt.Sprintf("gen %#x clear %#x status %#x mask %#x selfgen %#x shift %d",
		l.Gen, l.Clear, l.Status, l.Mask, l.SelfGen, l.Shift)
}

type Mailbox struct {
	regs Regs
	l    Layout

	// Serializes read-modify-write of Mask.
	maskMu sync.Mutex
}

func New(regs Regs, l Layout) *Mailbox {
	return &Mailbox{regs: regs, l: l}
}

func (m *Mailbox) Layout() Layout { return m.l }

// Bit returns the register bit of channel ch.
func (m *Mailbox) Bit(ch uint32) uint32 { return 1 << (ch + m.l.Shift) }

// Ring interrupts the remote for channel ch.
func (m *Mailbox) Ring(ch uint32) { m.regs.Store32(m.l.Gen, m.Bit(ch)) }

func (m *Mailbox) Status() uint32 { return m.regs.Load32(m.l.Status) }

func (m *Mailbox) Pending(ch uint32) bool { return m.Status()&m.Bit(ch) != 0 }

// Ack clears the given status bits.
func (m *Mailbox) Ack(v uint32) {
	if v != 0 {
		m.regs.Store32(m.l.Clear, v)
	}
}

// Raise regenerates our own status bit of channel ch.
func (m *Mailbox) Raise(ch uint32) { m.regs.Store32(m.l.SelfGen, m.Bit(ch)) }

// A set Mask bit inhibits the interrupt of its channel.
func (m *Mailbox) Masked() uint32 { return m.regs.Load32(m.l.Mask) }

func (m *Mailbox) MaskBits(v uint32) {
	m.maskMu.Lock()
	m.regs.Store32(m.l.Mask, m.regs.Load32(m.l.Mask)|v)
	m.maskMu.Unlock()
}

func (m *Mailbox) UnmaskBits(v uint32) {
	m.maskMu.Lock()
	m.regs.Store32(m.l.Mask, m.regs.Load32(m.l.Mask)&^v)
	m.maskMu.Unlock()
}

// ForeachChannel calls f with the index of each channel whose bit is set in
// status.
func (m *Mailbox) ForeachChannel(status uint32, f func(ch uint32)) {
	for x := status >> m.l.Shift; x != 0; x &= x - 1 {
		f(uint32(bits.TrailingZeros32(x)))
	}
}
