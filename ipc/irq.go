// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package ipc

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/platinasystems/esca/mailbox"
)

// Layer is one remote execution layer: its mailbox and its channels.
type Layer struct {
	ID LayerID

	r        *Registry
	mbox     *mailbox.Mailbox
	channels map[uint32]*Channel

	// Status bits of interrupt driven and of polled channels.
	routed, polled uint32

	// Status bits handed from the top half to the deferred worker.
	pending uint32
	wake    chan struct{}
	wg      sync.WaitGroup
}

func (l *Layer) Mailbox() *mailbox.Mailbox { return l.mbox }

// Channels returns the layer's channels sorted by index.
func (l *Layer) Channels() []*Channel {
	cs := make([]*Channel, 0, len(l.channels))
	for _, c := range l.channels {
		cs = append(cs, c)
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
	return cs
}

// Interrupt is the layer's top half. It reads the mailbox status once,
// acknowledges the bits of interrupt driven channels and either completes
// each channel's waiter here or hands the channel to the deferred worker.
// A channel with nothing outstanding always goes to the worker so its
// entries are dequeued.
func (l *Layer) Interrupt() {
	status := l.mbox.Status() & l.routed
	if status == 0 {
		return
	}
	l.mbox.Ack(status)
	var deferred uint32
	l.mbox.ForeachChannel(status, func(ch uint32) {
		c := l.channels[ch]
		if c == nil {
			return
		}
		if c.cfg.IRQ == Immediate && c.seq.Outstanding() > 0 {
			c.complete()
			return
		}
		deferred |= l.mbox.Bit(ch)
	})
	if deferred != 0 {
		l.schedule(deferred)
	}
}

// schedule hands the channels of the given status bits to the worker.
func (l *Layer) schedule(bits uint32) {
	for {
		old := atomic.LoadUint32(&l.pending)
		if atomic.CompareAndSwapUint32(&l.pending, old, old|bits) {
			break
		}
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// worker is the layer's bottom half.
func (l *Layer) worker() {
	defer l.wg.Done()
	defer l.r.capturePanic()
	for {
		select {
		case <-l.r.closing:
			return
		case <-l.wake:
		}
		l.bottom()
	}
}

func (l *Layer) bottom() {
	var bits uint32
	for {
		bits = atomic.LoadUint32(&l.pending)
		if atomic.CompareAndSwapUint32(&l.pending, bits, 0) {
			break
		}
	}
	l.mbox.ForeachChannel(bits, func(ch uint32) {
		if c := l.channels[ch]; c != nil {
			// parks responses before waking their waiter
			c.Dequeue()
			c.complete()
		}
	})
}

// IRQSource delivers a layer's interrupt.
type IRQSource interface {
	// Wait blocks until the interrupt fires.
	Wait() error
	// Enable rearms the interrupt.
	Enable() error
	Close() error
}

// Serve runs the top half on every interrupt from src until ctx is done or
// src fails. src is closed on return.
func (l *Layer) Serve(ctx context.Context, src IRQSource) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-l.r.closing:
		case <-done:
		}
		src.Close()
	}()
	for {
		if err := src.Enable(); err != nil {
			return l.served(ctx, err)
		}
		if err := src.Wait(); err != nil {
			return l.served(ctx, err)
		}
		l.Interrupt()
	}
}

func (l *Layer) served(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if l.r.closed.Load() {
		return ErrClosed
	}
	return err
}
