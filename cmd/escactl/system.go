// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/platinasystems/esca/dbg"
	"github.com/platinasystems/esca/internal/config"
	"github.com/platinasystems/esca/internal/publish"
	"github.com/platinasystems/esca/ipc"
	"github.com/platinasystems/esca/mailbox"
	"github.com/platinasystems/esca/shm"
	"github.com/platinasystems/log"
)

const (
	defaultDTB      = "/sys/firmware/fdt"
	defaultMem      = "/dev/mem"
	defaultRegsSize = 0x1000

	redisChannel = "esca"
)

// system is an open registry with its log mirror and interrupt sources.
type system struct {
	reg    *ipc.Registry
	mirror *dbg.Mirror
	pub    *publish.Publisher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	follow func(line string)

	closers []io.Closer
}

type wiring struct {
	print func(args ...interface{})
	fatal ipc.FatalPolicy
	pub   *publish.Publisher
}

func newSystem(ctx context.Context, cfg *config.Config, win *shm.Window,
	regs mailbox.Regs, w wiring) (*system, error) {
	s := &system{pub: w.pub}
	s.ctx, s.cancel = context.WithCancel(ctx)
	opts := ipc.Options{
		Print:  w.print,
		Fatal:  w.fatal,
		Notify: s.notify,
	}
	if cfg.Log != nil {
		m, err := dbg.New(*cfg.Log, win, dbg.Options{
			Print:   w.print,
			Publish: s.publish,
		})
		if err != nil {
			s.cancel()
			return nil, err
		}
		s.mirror = m
		opts.Recorder = m
	}
	reg, err := ipc.New(cfg.IPC, win, regs, opts)
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.reg = reg
	if s.mirror != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.mirror.Recover()
			s.mirror.Run(s.ctx)
		}()
	}
	return s, nil
}

// serve runs the layer's top half on each interrupt from src.
func (s *system) serve(id ipc.LayerID, src ipc.IRQSource) error {
	l := s.reg.Layer(id)
	if l == nil {
		src.Close()
		return fmt.Errorf("%v: no such layer", id)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.mirror != nil {
			defer s.mirror.Recover()
		}
		if err := l.Serve(s.ctx, src); err != nil &&
			!errors.Is(err, context.Canceled) &&
			!errors.Is(err, ipc.ErrClosed) {
			log.Print("daemon", "err", "esca: ", id, ": ", err)
		}
	}()
	return nil
}

func (s *system) publish(line string) {
	s.mu.Lock()
	f := s.follow
	s.mu.Unlock()
	if f != nil {
		f(line)
	}
	if s.pub != nil {
		s.pub.Print(line)
	}
}

func (s *system) notify(msg string) {
	if s.pub != nil {
		s.pub.Print("fatal: ", msg)
	}
}

// setFollow has each newly mirrored line also sent to f.
func (s *system) setFollow(f func(line string)) {
	s.mu.Lock()
	s.follow = f
	s.mu.Unlock()
}

func (s *system) close() {
	s.cancel()
	s.reg.Close()
	s.wg.Wait()
	if s.pub != nil {
		s.pub.Close()
	}
	for _, x := range s.closers {
		x.Close()
	}
}

func (c *escactl) parm64(name string, def uint64) (uint64, error) {
	s := c.parm.ByName[name]
	if len(s) == 0 {
		return def, nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

func (c *escactl) openSystem() (*system, error) {
	dtb := c.parm.ByName["-dtb"]
	if len(dtb) == 0 {
		dtb = defaultDTB
	}
	cfg, err := config.ReadFile(dtb)
	if err != nil {
		return nil, err
	}
	mem := c.parm.ByName["-mem"]
	if len(mem) == 0 {
		mem = defaultMem
	}
	base, err := c.parm64("-base", 0)
	if err != nil {
		return nil, err
	}
	size, err := c.parm64("-size", 0)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, errors.New("-size: missing")
	}
	var closers []io.Closer
	cleanup := func() {
		for _, x := range closers {
			x.Close()
		}
	}
	win, err := shm.Open(mem, int64(base), int(size))
	if err != nil {
		return nil, err
	}
	closers = append(closers, win)
	var regs mailbox.Regs = win
	if len(c.parm.ByName["-regs"]) > 0 {
		rbase, err := c.parm64("-regs", 0)
		if err != nil {
			cleanup()
			return nil, err
		}
		rsize, err := c.parm64("-regs-size", defaultRegsSize)
		if err != nil {
			cleanup()
			return nil, err
		}
		rwin, err := shm.Open(mem, int64(rbase), int(rsize))
		if err != nil {
			cleanup()
			return nil, err
		}
		closers = append(closers, rwin)
		regs = rwin
	}
	w := wiring{print: log.Print, fatal: ipc.ReturnError}
	if dev := c.parm.ByName["-watchdog"]; len(dev) > 0 {
		w.fatal = ipc.Watchdog(dev)
	}
	if addr := c.parm.ByName["-redis"]; len(addr) > 0 {
		if w.pub, err = publish.Dial(addr, redisChannel); err != nil {
			cleanup()
			return nil, err
		}
	}
	s, err := newSystem(c.ctx, cfg, win, regs, w)
	if err != nil {
		if w.pub != nil {
			w.pub.Close()
		}
		cleanup()
		return nil, err
	}
	s.closers = closers
	if err = c.openUIO(s); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// openUIO serves each LAYER=DEV of -uio.
func (c *escactl) openUIO(s *system) error {
	list := c.parm.ByName["-uio"]
	if len(list) == 0 {
		return nil
	}
	for _, x := range strings.Split(list, ",") {
		name, dev, found := strings.Cut(x, "=")
		if !found {
			return fmt.Errorf("-uio: %s: want LAYER=DEV", x)
		}
		id, err := ipc.ParseLayer(name)
		if err != nil {
			return fmt.Errorf("-uio: %w", err)
		}
		src, err := ipc.OpenUIO(dev)
		if err != nil {
			return err
		}
		if err = s.serve(id, src); err != nil {
			return err
		}
	}
	return nil
}
