// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package ipc

import (
	"fmt"

	"github.com/platinasystems/esca/internal/seq"
)

// Command is one request: a control word and three payload words.
type Command [4]uint32

// Control word bits.
const (
	Owner    = 1 << 31
	Response = 1 << 30
	Indirect = 1 << 29

	CmdShift = 23
	CmdMask  = 0xf << CmdShift
	SeqShift = 16
	SeqMask  = seq.Mask << SeqShift
)

// Word builds a control word for command id with the given flag bits.
func Word(id, flags uint32) uint32 {
	return flags&(Owner|Response|Indirect) | id<<CmdShift&CmdMask
}

func SeqOf(w uint32) uint32 { return (w & SeqMask) >> SeqShift }
func CmdOf(w uint32) uint32 { return (w & CmdMask) >> CmdShift }

func (c *Command) Seq() uint32 { return SeqOf(c[0]) }

// SetSeq replaces any stale sequence in the control word with n.
func (c *Command) SetSeq(n uint32) {
	c[0] = c[0]&^SeqMask | n<<SeqShift&SeqMask
}

func (c Command) String() string {
	s := fmt.Sprintf("cmd %d seq %d", CmdOf(c[0]), SeqOf(c[0]))
	for _, x := range []struct {
		bit  uint32
		name string
	}{
		{Owner, "owner"},
		{Response, "response"},
		{Indirect, "indirect"},
	} {
		if c[0]&x.bit != 0 {
			s += " " + x.name
		}
	}
	return fmt.Sprintf("%s [%#x %#x %#x]", s, c[1], c[2], c[3])
}
