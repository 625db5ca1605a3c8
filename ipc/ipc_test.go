// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package ipc_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/platinasystems/esca/internal/sim"
	"github.com/platinasystems/esca/internal/test"
	"github.com/platinasystems/esca/ipc"
)

type recorder struct {
	mu              sync.Mutex
	flushes, kicks  int
	captures        []string
	printed, notify []string
}

func (r *recorder) Flush() {
	r.mu.Lock()
	r.flushes++
	r.mu.Unlock()
}

func (r *recorder) Kick() {
	r.mu.Lock()
	r.kicks++
	r.mu.Unlock()
}

func (r *recorder) Capture(reason string) {
	r.mu.Lock()
	r.captures = append(r.captures, reason)
	r.mu.Unlock()
}

func (r *recorder) print(args ...interface{}) {
	r.mu.Lock()
	r.printed = append(r.printed, fmt.Sprint(args...))
	r.mu.Unlock()
}

func (r *recorder) notified(s string) {
	r.mu.Lock()
	r.notify = append(r.notify, s)
	r.mu.Unlock()
}

type rig struct {
	*sim.System
	*ipc.Registry
	rec    *recorder
	cancel context.CancelFunc
}

func newRig(t *testing.T, mod func(*ipc.Config, *ipc.Options),
	specs ...sim.ChannelSpec) *rig {
	assert := test.Assert{TB: t}
	s, err := sim.NewSystem(specs...)
	assert.Nil(err)
	rec := &recorder{}
	cfg := s.Config
	cfg.Timeout = 50 * time.Millisecond
	opts := ipc.Options{
		Print:    rec.print,
		Fatal:    ipc.ReturnError,
		Recorder: rec,
		Notify:   rec.notified,
	}
	if mod != nil {
		mod(&cfg, &opts)
	}
	r, err := ipc.New(cfg, s.Window, s.Regs, opts)
	assert.Nil(err)
	s.Connect(r)
	ctx, cancel := context.WithCancel(context.Background())
	x := &rig{s, r, rec, cancel}
	t.Cleanup(func() {
		cancel()
		r.Close()
		s.Wait()
	})
	x.start(ctx)
	return x
}

func (x *rig) start(ctx context.Context) { x.System.Start(ctx) }

// newIdle is newRig with a peer that only serves on Step.
func newIdle(t *testing.T, mod func(*ipc.Config, *ipc.Options),
	specs ...sim.ChannelSpec) *rig {
	assert := test.Assert{TB: t}
	s, err := sim.NewSystem(specs...)
	assert.Nil(err)
	rec := &recorder{}
	cfg := s.Config
	cfg.Timeout = 50 * time.Millisecond
	opts := ipc.Options{
		Print:    rec.print,
		Fatal:    ipc.ReturnError,
		Recorder: rec,
		Notify:   rec.notified,
	}
	if mod != nil {
		mod(&cfg, &opts)
	}
	r, err := ipc.New(cfg, s.Window, s.Regs, opts)
	assert.Nil(err)
	s.Connect(r)
	t.Cleanup(func() { r.Close() })
	return &rig{s, r, rec, func() {}}
}

var modes = []struct {
	name string
	spec sim.ChannelSpec
}{
	{"polling", sim.ChannelSpec{Index: 1, Polling: true}},
	{"immediate", sim.ChannelSpec{Index: 1, IRQ: ipc.Immediate}},
	{"deferred", sim.ChannelSpec{Index: 1, IRQ: ipc.Deferred}},
	{"register", sim.ChannelSpec{Index: 1, Kind: ipc.Register, IRQ: ipc.Deferred}},
	{"register-polling", sim.ChannelSpec{Index: 1, Kind: ipc.Register, Polling: true}},
}

// Ring of 4, 4 word entries, a response requested command answered with
// 0xCAFEBABE.
func TestCafeBabe(t *testing.T) {
	for _, m := range modes[:3] {
		t.Run(m.name, func(t *testing.T) {
			assert := test.Assert{TB: t}
			x := newRig(t, nil, m.spec)
			x.Peer(ipc.App).Handle(func(ch uint32, req []uint32) ([]uint32, bool) {
				return []uint32{0xCAFEBABE, 0, 0}, true
			})
			id := ipc.MakeID(ipc.App, 1)
			c, err := x.Lookup(id)
			assert.Nil(err)
			rx := c.Config().RX
			assert.True(rx.Len == 4 && rx.Words == 4)

			cmd := ipc.Command{0x40000000, 1, 2, 3}
			assert.Nil(x.Send(id, &cmd, true))
			assert.Words(cmd[1:], []uint32{0xCAFEBABE, 0, 0})
			assert.True(cmd.Seq() == 1)

			// the response went through slot 0
			var slot [4]uint32
			x.Window.ReadWords(rx.Base, slot[:])
			assert.Words(slot[:], []uint32{0x40000000 | 1<<ipc.SeqShift,
				0xCAFEBABE, 0, 0})
			assert.Words(c.Last(), slot[:])
			assert.True(c.State().Outstanding == 0)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	var results [][]uint32
	for _, m := range modes {
		t.Run(m.name, func(t *testing.T) {
			assert := test.Assert{TB: t}
			x := newRig(t, nil, m.spec)
			id := ipc.MakeID(ipc.App, 1)
			var got []uint32
			for i := uint32(0); i < 100; i++ {
				cmd := ipc.Command{ipc.Word(i&0xf, ipc.Response), i, ^i, i << 4}
				assert.Nil(x.Send(id, &cmd, true))
				assert.Words(cmd[1:], []uint32{i, ^i, i << 4})
				got = append(got, cmd[:]...)
			}
			st := x.Snapshot()[0]
			assert.Comment(st)
			assert.True(st.Sent == 100 && st.Received == 100)
			assert.True(st.Outstanding == 0 && st.Timeouts == 0)
			results = append(results, got)
		})
	}
	// every mode hands back the same commands
	for _, got := range results[1:] {
		test.Assert{TB: t}.Words(got, results[0])
	}
}

func TestConcurrentSenders(t *testing.T) {
	for _, m := range []struct {
		name string
		spec sim.ChannelSpec
		n    uint32
	}{
		{"deferred", sim.ChannelSpec{Index: 2, Len: 8, IRQ: ipc.Deferred}, 50},
		{"immediate", sim.ChannelSpec{Index: 2, Len: 8, IRQ: ipc.Immediate}, 50},
		{"polling", sim.ChannelSpec{Index: 2, Len: 8, Polling: true}, 10},
	} {
		t.Run(m.name, func(t *testing.T) {
			assert := test.Assert{TB: t}
			x := newRig(t, func(cfg *ipc.Config, _ *ipc.Options) {
				cfg.Timeout = 200 * time.Millisecond
				cfg.TxTimeout = time.Second
			}, m.spec)
			x.Peer(ipc.App).Reverse(true)
			id := ipc.MakeID(ipc.App, 2)
			assert.Nil(hammer(x, id, 8, m.n))
			st := x.Snapshot()[0]
			assert.True(st.Received == uint64(8*m.n))
			assert.True(st.Outstanding == 0)
		})
	}
}

// hammer has g senders each round trip n commands on id.
func hammer(x *rig, id ipc.ID, g, n uint32) error {
	var wg sync.WaitGroup
	errs := make(chan error, g)
	for s := uint32(0); s < g; s++ {
		wg.Add(1)
		go func(s uint32) {
			defer wg.Done()
			for i := uint32(0); i < n; i++ {
				v := s<<16 | i
				cmd := ipc.Command{ipc.Response, v, s, i}
				if err := x.Send(id, &cmd, true); err != nil {
					errs <- err
					return
				}
				if cmd[1] != v || cmd[2] != s || cmd[3] != i {
					errs <- fmt.Errorf("%v: got %v", v, cmd)
					return
				}
			}
		}(s)
	}
	wg.Wait()
	close(errs)
	return <-errs
}

// More interrupt waiters than receive slots: responses for senders still
// queued behind the waiting one must not fill the ring ahead of its own.
func TestQueuedWaiters(t *testing.T) {
	for _, m := range []struct {
		name string
		irq  ipc.IRQMode
	}{
		{"immediate", ipc.Immediate},
		{"deferred", ipc.Deferred},
	} {
		t.Run(m.name, func(t *testing.T) {
			assert := test.Assert{TB: t}
			x := newRig(t, func(cfg *ipc.Config, _ *ipc.Options) {
				cfg.Timeout = 100 * time.Millisecond
				cfg.TxTimeout = time.Second
			}, sim.ChannelSpec{Index: 0, Len: 4, IRQ: m.irq})
			p := x.Peer(ipc.App)
			p.Reverse(true)
			p.Delay(5 * time.Millisecond)
			id := ipc.MakeID(ipc.App, 0)
			assert.Nil(hammer(x, id, 6, 10))
			st := x.Snapshot()[0]
			assert.Comment(st)
			assert.True(st.Received == 60 && st.Timeouts == 0)
			assert.True(st.Outstanding == 0 && st.Unsolicited == 0)
			assert.True(st.RxRear == st.RxFront)
		})
	}
}

// Responses answered last first are matched out of order and the receive
// ring compacted under them.
func TestOutOfOrder(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newIdle(t, func(cfg *ipc.Config, _ *ipc.Options) {
		cfg.Timeout = time.Second
	}, sim.ChannelSpec{Index: 0, Len: 8, Polling: true})
	id := ipc.MakeID(ipc.App, 0)
	c, _ := x.Lookup(id)
	var wg sync.WaitGroup
	got := make([]uint32, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := ipc.Command{ipc.Response, uint32(100 + i)}
			if err := x.Send(id, &cmd, true); err == nil {
				got[i] = cmd[1]
			}
		}(i)
	}
	assert.Within(time.Second, func() bool {
		st := c.State()
		return st.Outstanding == 5 && st.TxFront-st.TxRear == 5
	})
	p := x.Peer(ipc.App)
	p.Reverse(true)
	n, err := p.Step()
	assert.Nil(err)
	assert.True(n == 5)
	wg.Wait()
	assert.Words(got, []uint32{100, 101, 102, 103, 104})
	st := c.State()
	assert.True(st.RxRear == st.RxFront)
	assert.True(st.Unsolicited == 0)
	// an empty polled channel has its doorbell status acknowledged
	_, ok, err := c.TryMatch(63)
	assert.Nil(err)
	assert.False(ok)
	assert.False(x.Layer(ipc.App).Mailbox().Pending(0))
}

func TestUnsolicited(t *testing.T) {
	for _, m := range modes {
		if m.spec.Polling {
			continue
		}
		t.Run(m.name, func(t *testing.T) {
			assert := test.Assert{TB: t}
			x := newRig(t, nil, m.spec)
			id := ipc.MakeID(ipc.App, 1)
			events := make(chan []uint32, 4)
			_, err := x.Register(id, func(from ipc.ID, e []uint32) {
				if from == id {
					events <- append([]uint32(nil), e...)
				}
			})
			assert.Nil(err)
			assert.Nil(x.Peer(ipc.App).Inject(1, []uint32{ipc.Word(7, 0), 0x1234}))
			select {
			case e := <-events:
				assert.True(ipc.CmdOf(e[0]) == 7 && e[1] == 0x1234)
			case <-time.After(time.Second):
				t.Fatal("no event")
			}
			c, _ := x.Lookup(id)
			assert.True(c.Stats().Unsolicited == 1)
			assert.Within(time.Second, func() bool {
				x.rec.mu.Lock()
				defer x.rec.mu.Unlock()
				return x.rec.kicks > 0
			})
		})
	}
}

// An event ahead of a response is retired and dispatched on the way to it.
func TestUnsolicitedAhead(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newRig(t, nil, sim.ChannelSpec{Index: 3, Polling: true})
	id := ipc.MakeID(ipc.App, 3)
	var (
		mu  sync.Mutex
		got [][]uint32
	)
	_, err := x.Register(id, func(_ ipc.ID, e []uint32) {
		mu.Lock()
		got = append(got, append([]uint32(nil), e...))
		mu.Unlock()
	})
	assert.Nil(err)
	assert.Nil(x.Peer(ipc.App).Inject(3, []uint32{0, 0xe}))
	cmd := ipc.Command{ipc.Response, 0xa}
	assert.Nil(x.Send(id, &cmd, true))
	assert.True(cmd[1] == 0xa)
	mu.Lock()
	defer mu.Unlock()
	assert.True(len(got) == 2)
	assert.True(got[0][1] == 0xe && got[1][1] == 0xa)
	c, _ := x.Lookup(id)
	assert.True(c.Stats().Unsolicited == 1)
}

// An event published behind a response, announced by the same interrupt,
// is dispatched without waiting for another one.
func TestUnsolicitedBehind(t *testing.T) {
	for _, m := range modes[1:3] {
		t.Run(m.name, func(t *testing.T) {
			assert := test.Assert{TB: t}
			x := newIdle(t, func(cfg *ipc.Config, _ *ipc.Options) {
				cfg.Timeout = time.Second
			}, m.spec)
			// interrupts only on demand
			x.Mailboxes[ipc.App].Connect(nil)
			id := ipc.MakeID(ipc.App, 1)
			c, _ := x.Lookup(id)
			errc := make(chan error)
			go func() {
				cmd := ipc.Command{ipc.Response, 0xa}
				errc <- x.Send(id, &cmd, true)
			}()
			assert.Within(time.Second, func() bool {
				return c.State().Outstanding == 1
			})
			p := x.Peer(ipc.App)
			n, err := p.Step()
			assert.Nil(err)
			assert.True(n == 1)
			assert.Nil(p.Inject(1, []uint32{0, 0xe}))

			x.Layer(ipc.App).Interrupt()
			assert.Nil(<-errc)
			assert.Within(time.Second, func() bool {
				return c.Stats().Unsolicited == 1
			})
			st := c.State()
			assert.True(st.Received == 1)
			assert.True(st.RxRear == st.RxFront)
		})
	}
}

func TestFireAndForget(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newIdle(t, nil, sim.ChannelSpec{Index: 0, Polling: true})
	id := ipc.MakeID(ipc.App, 0)
	for i := uint32(0); i < 3; i++ {
		cmd := ipc.Command{ipc.Word(1, 0), i}
		assert.Nil(x.Send(id, &cmd, false))
		// stamped but not reserved
		assert.True(cmd.Seq() == i+1)
		assert.Words(cmd[1:], []uint32{0, 0, 0})
	}
	c, _ := x.Lookup(id)
	assert.True(c.State().Outstanding == 0)
	assert.True(x.Mailboxes[ipc.App].Take() == 1)
}

func TestNotFound(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newIdle(t, nil, sim.ChannelSpec{Index: 0})
	var cmd ipc.Command
	assert.Error(x.Send(ipc.MakeID(ipc.Phy0, 0), &cmd, false), ipc.ErrNotFound)
	_, err := x.Lookup(ipc.MakeID(ipc.App, 9))
	assert.Error(err, ipc.ErrNotFound)
	_, err = x.Register(ipc.MakeID(ipc.App, 9), nil)
	assert.Error(err, ipc.ErrNotFound)
}

func TestNoMem(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newIdle(t, nil, sim.ChannelSpec{Index: 0})
	id := ipc.MakeID(ipc.App, 0)
	var hs []ipc.Handle
	for i := 0; i < ipc.DefaultCallbacks; i++ {
		h, err := x.Register(id, func(ipc.ID, []uint32) {})
		assert.Nil(err)
		hs = append(hs, h)
	}
	_, err := x.Register(id, func(ipc.ID, []uint32) {})
	assert.Error(err, ipc.ErrNoMem)
	assert.Nil(x.Unregister(hs[1]))
	_, err = x.Register(id, func(ipc.ID, []uint32) {})
	assert.Nil(err)
}

func TestClose(t *testing.T) {
	assert := test.Assert{TB: t}
	x := newIdle(t, nil, sim.ChannelSpec{Index: 0})
	id := ipc.MakeID(ipc.App, 0)
	errc := make(chan error)
	go func() {
		cmd := ipc.Command{ipc.Response}
		errc <- x.Send(id, &cmd, true)
	}()
	c, _ := x.Lookup(id)
	assert.Within(time.Second, func() bool {
		return c.State().Outstanding == 1
	})
	assert.Nil(x.Close())
	assert.Error(<-errc, ipc.ErrClosed)
	assert.True(c.State().Outstanding == 0)
	var cmd ipc.Command
	assert.Error(x.Send(id, &cmd, false), ipc.ErrClosed)
}

func TestNew(t *testing.T) {
	assert := test.Assert{TB: t}
	s, err := sim.NewSystem(sim.ChannelSpec{Index: 0})
	assert.Nil(err)

	cfg := s.Config
	cfg.Layers = append(cfg.Layers, cfg.Layers[0])
	_, err = ipc.New(cfg, s.Window, s.Regs, ipc.Options{})
	assert.Error(err, "ipc: app: duplicate layer")

	cfg = s.Config
	lc := cfg.Layers[0]
	lc.Channels = append(lc.Channels, lc.Channels[0])
	cfg.Layers = []ipc.LayerConfig{lc}
	_, err = ipc.New(cfg, s.Window, s.Regs, ipc.Options{})
	assert.Error(err, "ipc: app/0: duplicate channel")

	lc = s.Config.Layers[0]
	cc := lc.Channels[0]
	cc.RX.Base = uint32(s.Window.Len())
	lc.Channels = []ipc.ChannelConfig{cc}
	cfg.Layers = []ipc.LayerConfig{lc}
	_, err = ipc.New(cfg, s.Window, s.Regs, ipc.Options{})
	assert.NonNil(err)
}
