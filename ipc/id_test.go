// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package ipc_test

import (
	"testing"

	"github.com/platinasystems/esca/internal/test"
	"github.com/platinasystems/esca/ipc"
)

func TestID(t *testing.T) {
	assert := test.Assert{TB: t}
	id := ipc.MakeID(ipc.Phy1, 0x2a)
	assert.True(uint32(id) == 0x22a)
	l, i := id.Split()
	assert.True(l == ipc.Phy1 && i == 0x2a)
	assert.Equal(id.String(), "phy1/42")

	for _, s := range []string{"phy1/42", "phy1/0x2a", "0x22a", "554"} {
		got, err := ipc.ParseID(s)
		assert.Nil(err)
		assert.True(got == id)
	}
	_, err := ipc.ParseID("phy9/1")
	assert.Error(err, "phy9/1: unknown layer")
	_, err = ipc.ParseID("app/256")
	assert.NonNil(err)

	l, err = ipc.ParseLayer("phy0")
	assert.Nil(err)
	assert.True(l == ipc.Phy0)
	l, err = ipc.ParseLayer("2")
	assert.Nil(err)
	assert.True(l == ipc.Phy1)
	_, err = ipc.ParseLayer("3")
	assert.Error(err, "3: unknown layer")
}

func TestCommandWord(t *testing.T) {
	assert := test.Assert{TB: t}
	w := ipc.Word(0x9, ipc.Response|ipc.Indirect)
	assert.True(w == 0x64800000)
	assert.True(ipc.CmdOf(w) == 9)

	cmd := ipc.Command{w | 0x3f<<ipc.SeqShift}
	// stale sequence is replaced
	cmd.SetSeq(5)
	assert.True(cmd.Seq() == 5)
	assert.True(cmd[0]&^ipc.SeqMask == w)
	assert.Equal(cmd.String(), "cmd 9 seq 5 response indirect [0x0 0x0 0x0]")
}
