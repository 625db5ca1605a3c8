// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package ipc exchanges commands and responses with the remote execution
// layers of the ESCA co-processor over shared memory rings and mailbox
// doorbells.
//
// A Registry owns every channel of every configured layer. Requests are
// stamped with a 6-bit sequence number, written into the channel's transmit
// ring and announced with the doorbell; responses are matched by sequence in
// the receive ring, which the remote may fill out of order. Waiting is either
// a bounded busy poll or a block on the channel's completion, signalled by
// the layer's interrupt.
package ipc

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/platinasystems/esca/mailbox"
	"github.com/platinasystems/esca/shm"
)

type Registry struct {
	cfg  Config
	opts Options
	win  *shm.Window

	layers   [NLayers]*Layer
	channels map[ID]*Channel

	closing   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// New builds the channels described by cfg over the shared window and the
// mailbox registers, and starts each layer's deferred worker.
func New(cfg Config, win *shm.Window, regs mailbox.Regs, opts Options) (*Registry, error) {
	cfg.setDefaults()
	opts.setDefaults()
	r := &Registry{
		cfg:      cfg,
		opts:     opts,
		win:      win,
		channels: make(map[ID]*Channel),
		closing:  make(chan struct{}),
	}
	for _, lc := range cfg.Layers {
		if lc.Layer >= NLayers {
			return nil, fmt.Errorf("ipc: %v: invalid layer", lc.Layer)
		}
		if r.layers[lc.Layer] != nil {
			return nil, fmt.Errorf("ipc: %v: duplicate layer", lc.Layer)
		}
		l := &Layer{
			ID:       lc.Layer,
			r:        r,
			mbox:     mailbox.New(regs, lc.Mailbox),
			channels: make(map[uint32]*Channel),
			wake:     make(chan struct{}, 1),
		}
		for _, cc := range lc.Channels {
			id := MakeID(lc.Layer, cc.Index)
			if cc.Index > indexMask || cc.Index+lc.Mailbox.Shift >= 32 {
				return nil, fmt.Errorf("ipc: %v: index out of range", id)
			}
			if _, found := r.channels[id]; found {
				return nil, fmt.Errorf("ipc: %v: duplicate channel", id)
			}
			c, err := newChannel(r, l, id, cc)
			if err != nil {
				return nil, err
			}
			r.channels[id] = c
			l.channels[cc.Index] = c
			if cc.Polling {
				l.polled |= l.mbox.Bit(cc.Index)
			} else {
				l.routed |= l.mbox.Bit(cc.Index)
			}
		}
		r.layers[lc.Layer] = l
	}
	for _, l := range r.layers {
		if l == nil {
			continue
		}
		l.mbox.MaskBits(l.polled)
		l.mbox.UnmaskBits(l.routed)
		if l.routed != 0 {
			l.wg.Add(1)
			go l.worker()
		}
	}
	return r, nil
}

// Lookup returns the channel of the given composite id.
func (r *Registry) Lookup(id ID) (*Channel, error) {
	c, found := r.channels[id]
	if !found {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, id)
	}
	return c, nil
}

// Send transmits cmd on channel id. With expect, it waits for the response
// and leaves its payload in cmd[1:].
func (r *Registry) Send(id ID, cmd *Command, expect bool) error {
	c, err := r.Lookup(id)
	if err != nil {
		return err
	}
	return c.Send(cmd, expect)
}

// Register adds a callback to channel id.
func (r *Registry) Register(id ID, cb Callback) (Handle, error) {
	c, err := r.Lookup(id)
	if err != nil {
		return Handle{}, err
	}
	return c.Register(cb)
}

func (r *Registry) Unregister(h Handle) error {
	c, err := r.Lookup(h.ID)
	if err != nil {
		return err
	}
	c.Unregister(h)
	return nil
}

// Layer returns the layer of the given selector, or nil.
func (r *Registry) Layer(id LayerID) *Layer {
	if id >= NLayers {
		return nil
	}
	return r.layers[id]
}

// Channels returns every channel sorted by id.
func (r *Registry) Channels() []*Channel {
	cs := make([]*Channel, 0, len(r.channels))
	for _, c := range r.channels {
		cs = append(cs, c)
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
	return cs
}

// Snapshot returns the state of every channel sorted by id.
func (r *Registry) Snapshot() []ChannelState {
	cs := r.Channels()
	states := make([]ChannelState, len(cs))
	for i, c := range cs {
		states[i] = c.State()
	}
	return states
}

// Close stops the deferred workers and fails current and future waits with
// ErrClosed.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.closing)
		for _, l := range r.layers {
			if l != nil {
				l.wg.Wait()
			}
		}
	})
	return nil
}

func (r *Registry) print(args ...interface{}) { r.opts.Print(args...) }

// capturePanic, deferred, has the Recorder capture a panic that then
// continues.
func (r *Registry) capturePanic() {
	p := recover()
	if p == nil {
		return
	}
	if r.opts.Recorder != nil {
		r.opts.Recorder.Capture(fmt.Sprint("panic: ", p))
	}
	panic(p)
}
