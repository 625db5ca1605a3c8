// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/platinasystems/esca/internal/config"
	"github.com/platinasystems/esca/internal/sim"
	"github.com/platinasystems/esca/internal/test"
	"github.com/platinasystems/esca/ipc"
)

type closer func() error

func (f closer) Close() error { return f() }

func newTest(t *testing.T) (*escactl, *bytes.Buffer) {
	b := &bytes.Buffer{}
	c := &escactl{ctx: context.Background(), stdout: b}
	c.open = func() (*system, error) {
		sys, err := sim.NewSystem(sim.ChannelSpec{Index: 1, Name: "echo",
			Polling: true})
		if err != nil {
			return nil, err
		}
		s, err := newSystem(c.ctx,
			&config.Config{IPC: sys.Config, Log: &sys.Log},
			sys.Window, sys.Regs, wiring{
				print: c.print,
				fatal: ipc.ReturnError,
			})
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithCancel(c.ctx)
		sys.Start(ctx)
		s.closers = append(s.closers, closer(func() error {
			cancel()
			sys.Wait()
			return nil
		}))
		return s, nil
	}
	return c, b
}

func script(t *testing.T, lines ...string) string {
	fn := filepath.Join(t.TempDir(), "script")
	test.Assert{TB: t}.Nil(os.WriteFile(fn,
		[]byte(strings.Join(lines, "\n")+"\n"), 0644))
	return fn
}

func TestGlobalsEnd(t *testing.T) {
	assert := test.Assert{TB: t}
	assert.True(globalsEnd(nil) == 0)
	assert.True(globalsEnd([]string{"show"}) == 0)
	assert.True(globalsEnd([]string{"-dtb", "x", "-size=4096", "log", "-f"}) == 3)
	assert.True(globalsEnd([]string{"-dtb"}) == 1)
}

func TestCommand(t *testing.T) {
	assert := test.Assert{TB: t}
	c, b := newTest(t)
	assert.Error(c.main("bogus"), "bogus: command not found")
	assert.Error(c.main("-bogus", "x", "show"), "[-bogus x]: unexpected")
	assert.Nil(c.main("help"))
	assert.True(strings.HasPrefix(b.String(), "usage: escactl"))
}

func TestSelftest(t *testing.T) {
	assert := test.Assert{TB: t}
	c, b := newTest(t)
	assert.Nil(c.main("selftest", "-n", "20"))
	out := b.String()
	assert.True(strings.HasSuffix(out, "selftest ok\n"))
	assert.True(strings.Contains(out, "phy1/7 wide queue deferred"))
	assert.True(strings.Contains(out, "sent 20 received 20"))
	assert.Error(c.main("selftest", "-n", "0"), "-n: 0: invalid")
}

func TestScript(t *testing.T) {
	assert := test.Assert{TB: t}
	c, b := newTest(t)
	dump := filepath.Join(t.TempDir(), "ramdump")
	fn := script(t,
		"# round trip",
		"send app/1 0x40000000 7",
		"",
		"send -n app/1 0 1",
		"show",
		"ramdump -o '"+dump+"' from script",
		"log",
	)
	assert.Nil(c.main("-f", fn))
	out := b.String()
	assert.True(strings.Contains(out,
		"app/1 cmd 0 seq 1 response [0x7 0x0 0x0]\n"))
	assert.True(strings.Contains(out, "app/1 echo queue polling"))
	assert.True(c.sys == nil)

	d, err := os.ReadFile(dump)
	assert.Nil(err)
	assert.Match(string(d), "^ramdump [-0-9a-f]+\nreason: from script\n")
}

func TestScriptError(t *testing.T) {
	assert := test.Assert{TB: t}
	c, _ := newTest(t)
	fn := script(t, "show", "send app/9 1")
	assert.Error(c.main("-f", fn), fn+":2: no such channel: app/9")
	fn = script(t, "send app/1 'unterminated")
	assert.NonNil(c.main("-f", fn))
	assert.Error(c.main("-f", fn, "show"), "[show]: unexpected")
}

func TestPanicRamdump(t *testing.T) {
	assert := test.Assert{TB: t}
	c, _ := newTest(t)
	defer c.close()
	s, err := c.system()
	assert.Nil(err)
	func() {
		defer func() {
			assert.True(recover() == "boom")
		}()
		defer c.capturePanic()
		panic("boom")
	}()
	d := s.mirror.Ramdump()
	assert.True(d != nil)
	assert.Equal(d.Reason, "panic: boom")
}
