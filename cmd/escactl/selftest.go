// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/platinasystems/esca/internal/config"
	"github.com/platinasystems/esca/internal/sim"
	"github.com/platinasystems/esca/ipc"
	"github.com/platinasystems/parms"
)

const (
	selftestTag = "selftest"

	// The simulated peer is a goroutine, not hardware.
	selftestTimeout = 100 * time.Millisecond
)

// One channel of each mode.
var selftestChannels = []sim.ChannelSpec{
	{Index: 0, Name: "polling", Polling: true},
	{Index: 1, Name: "immediate", IRQ: ipc.Immediate},
	{Index: 2, Name: "deferred", IRQ: ipc.Deferred},
	{Index: 3, Name: "register", Kind: ipc.Register, IRQ: ipc.Deferred},
	{Layer: ipc.Phy0, Index: 0, Name: "register-polling",
		Kind: ipc.Register, Polling: true},
	{Layer: ipc.Phy1, Index: 7, Name: "wide", Len: 16, Words: 8,
		IRQ: ipc.Deferred},
}

// selftest round trips COUNT requests on each channel of a simulated
// co-processor, then checks that a remote log record reaches the mirror.
func (c *escactl) selftest(args ...string) error {
	parm, args := parms.New(args, "-n")
	if len(args) > 0 {
		return fmt.Errorf("%v: unexpected", args)
	}
	count := 100
	if s := parm.ByName["-n"]; len(s) > 0 {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return fmt.Errorf("-n: %s: invalid", s)
		}
		count = n
	}
	sys, err := sim.NewSystem(selftestChannels...)
	if err != nil {
		return err
	}
	cfg := &config.Config{IPC: sys.Config, Log: &sys.Log}
	cfg.IPC.Timeout = selftestTimeout
	s, err := newSystem(c.ctx, cfg, sys.Window, sys.Regs, wiring{
		print: c.print,
		fatal: ipc.ReturnError,
	})
	if err != nil {
		return err
	}
	defer s.close()
	defer s.mirror.Recover()
	sys.Connect(s.reg)
	ctx, cancel := context.WithCancel(c.ctx)
	sys.Start(ctx)
	defer sys.Wait()
	defer cancel()

	for _, ch := range s.reg.Channels() {
		for i := 0; i < count; i++ {
			want := ipc.Command{
				ipc.Word(uint32(i)&0xf, ipc.Response),
				uint32(i),
				^uint32(i),
				uint32(ch.ID),
			}
			cmd := want
			if err = ch.Send(&cmd, true); err != nil {
				return fmt.Errorf("%v: request %d: %w", ch.ID, i, err)
			}
			if cmd[1] != want[1] || cmd[2] != want[2] ||
				cmd[3] != want[3] {
				return fmt.Errorf("%v: request %d: got %v", ch.ID, i,
					cmd)
			}
		}
		c.println(ch.State())
	}

	if err = sys.Logger.Log(selftestTag, uint32(count)); err != nil {
		return err
	}
	s.mirror.Drain()
	es := s.mirror.Entries()
	if len(es) == 0 || es[len(es)-1].Tag != selftestTag {
		return fmt.Errorf("log: %q record missing", selftestTag)
	}
	c.println(selftestTag, "ok")
	return nil
}
