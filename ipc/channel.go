// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package ipc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/platinasystems/esca/internal/seq"
	"github.com/platinasystems/esca/ring"
)

// Callback receives each entry consumed from a channel's receive side,
// matched or not. It runs with the channel's receive lock held and so must
// not wait on the same channel.
type Callback func(id ID, entry []uint32)

// Handle identifies a registered callback.
type Handle struct {
	ID ID
	n  uint64
}

type callback struct {
	n uint64
	f Callback
}

type counters struct {
	sent, received, unsolicited, retries, timeouts, busy atomic.Uint64
}

type Stats struct {
	Sent        uint64
	Received    uint64
	Unsolicited uint64
	Retries     uint64
	Timeouts    uint64
	Busy        uint64
}

type Channel struct {
	ID  ID
	cfg ChannelConfig
	r   *Registry
	l   *Layer

	// Queue channels.
	tx *ring.Producer
	rx *ring.Consumer

	// Sequence allocation and the transmit side.
	txMu sync.Mutex
	// Matching, dequeue and sequence release.
	rxMu sync.Mutex
	// One interrupt driven waiter at a time.
	waitMu sync.Mutex
	done   chan struct{}

	seq seq.Table

	cbMu    sync.Mutex
	cbs     []callback
	cbCount uint64

	// Responses the dequeuer retired for their waiters, by sequence, and
	// the bitmap of those not yet taken; under rxMu.
	parked [seq.Size][]uint32
	ready  uint64

	// Last matched response, under rxMu.
	scratch []uint32
	// Entry buffer, under rxMu.
	entry []uint32

	counters
}

func newChannel(r *Registry, l *Layer, id ID, cfg ChannelConfig) (*Channel, error) {
	if cfg.MaxCallbacks == 0 {
		cfg.MaxCallbacks = DefaultCallbacks
	}
	c := &Channel{
		ID:   id,
		cfg:  cfg,
		r:    r,
		l:    l,
		done: make(chan struct{}, 1),
	}
	switch cfg.Kind {
	case Queue:
		var err error
		if c.tx, err = ring.NewProducer(r.win, cfg.TX); err != nil {
			return nil, fmt.Errorf("ipc: %v: tx: %w", id, err)
		}
		if c.rx, err = ring.NewConsumer(r.win, cfg.RX); err != nil {
			return nil, fmt.Errorf("ipc: %v: rx: %w", id, err)
		}
	case Register:
		for _, x := range []struct {
			name string
			l    ring.Layout
		}{
			{"tx", cfg.TX},
			{"rx", cfg.RX},
		} {
			if x.l.Words == 0 {
				return nil, fmt.Errorf("ipc: %v: %s: zero width slot",
					id, x.name)
			}
			if err := r.win.Check(x.l.Base, x.l.Words*4); err != nil {
				return nil, fmt.Errorf("ipc: %v: %s: %w", id, x.name, err)
			}
		}
	default:
		return nil, fmt.Errorf("ipc: %v: unknown kind %d", id, cfg.Kind)
	}
	c.scratch = make([]uint32, cfg.RX.Words)
	c.entry = make([]uint32, cfg.RX.Words)
	return c, nil
}

func (c *Channel) Config() ChannelConfig { return c.cfg }

// Register adds cb, failing with ErrNoMem once the channel's table is full.
func (c *Channel) Register(cb Callback) (Handle, error) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	if len(c.cbs) >= c.cfg.MaxCallbacks {
		return Handle{}, fmt.Errorf("%w: %v", ErrNoMem, c.ID)
	}
	c.cbCount++
	c.cbs = append(c.cbs, callback{c.cbCount, cb})
	return Handle{c.ID, c.cbCount}, nil
}

func (c *Channel) Unregister(h Handle) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	for i, cb := range c.cbs {
		if cb.n == h.n {
			// copy, dispatch may be ranging over the old table
			cbs := make([]callback, 0, len(c.cbs)-1)
			cbs = append(cbs, c.cbs[:i]...)
			c.cbs = append(cbs, c.cbs[i+1:]...)
			return
		}
	}
}

func (c *Channel) dispatch(entry []uint32) {
	c.cbMu.Lock()
	cbs := c.cbs
	c.cbMu.Unlock()
	for _, cb := range cbs {
		cb.f(c.ID, entry)
	}
}

// Last returns a copy of the last matched response.
func (c *Channel) Last() []uint32 {
	c.rxMu.Lock()
	defer c.rxMu.Unlock()
	return append([]uint32(nil), c.scratch...)
}

func (c *Channel) Stats() Stats {
	return Stats{
		Sent:        c.sent.Load(),
		Received:    c.received.Load(),
		Unsolicited: c.unsolicited.Load(),
		Retries:     c.retries.Load(),
		Timeouts:    c.timeouts.Load(),
		Busy:        c.busy.Load(),
	}
}

// ChannelState is a point in time view of a channel.
type ChannelState struct {
	ID      ID
	Name    string
	Kind    Kind
	Polling bool
	IRQ     IRQMode

	// Ring indices, or the slot control words of register channels in
	// TxFront and RxFront.
	TxRear, TxFront uint32
	RxRear, RxFront uint32

	Outstanding int
	Stats
}

func (c *Channel) State() ChannelState {
	s := ChannelState{
		ID:          c.ID,
		Name:        c.cfg.Name,
		Kind:        c.cfg.Kind,
		Polling:     c.cfg.Polling,
		IRQ:         c.cfg.IRQ,
		Outstanding: c.seq.Outstanding(),
		Stats:       c.Stats(),
	}
	switch c.cfg.Kind {
	case Queue:
		s.TxRear, s.TxFront, _ = c.tx.Indices()
		s.RxRear, s.RxFront, _ = c.rx.Indices()
	case Register:
		s.TxFront = c.r.win.Load32(c.cfg.TX.Base)
		s.RxFront = c.r.win.Load32(c.cfg.RX.Base)
	}
	return s
}

func (s ChannelState) String() string {
	mode := s.IRQ.String()
	if s.Polling {
		mode = "polling"
	}
	return fmt.Sprintf("%v %s %v %s tx %d/%d rx %d/%d outstanding %d sent %d received %d unsolicited %d retries %d timeouts %d busy %d",
		s.ID, s.Name, s.Kind, mode,
		s.TxRear, s.TxFront, s.RxRear, s.RxFront, s.Outstanding,
		s.Sent, s.Received, s.Unsolicited, s.Retries, s.Timeouts, s.Busy)
}
