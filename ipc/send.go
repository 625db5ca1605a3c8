// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package ipc

import (
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/platinasystems/esca/internal/poll"
	"github.com/platinasystems/esca/internal/seq"
)

// Send transmits cmd after stamping it with a sequence number and clearing
// its payload. With expect, it waits for the response with that sequence
// and copies its payload into cmd[1:].
//
// A full transmit side is retried until TxTimeout and then fails with
// ErrBusy. A response that never comes, or an exhausted sequence space, is
// fatal and goes through the registry's FatalPolicy.
func (c *Channel) Send(cmd *Command, expect bool) error {
	if c.r.closed.Load() {
		return ErrClosed
	}
	c.txMu.Lock()
	if err := c.room(); err != nil {
		c.txMu.Unlock()
		return err
	}
	var n uint32
	if expect {
		var err error
		if n, err = c.seq.Alloc(cmd[0]); err != nil {
			c.txMu.Unlock()
			return c.fatal("send", 0, err)
		}
	} else {
		n = c.seq.Next()
	}
	cmd.SetSeq(n)
	if err := c.write(cmd[:]); err != nil {
		if expect {
			c.release(n)
		}
		c.txMu.Unlock()
		return fmt.Errorf("ipc: %v: %w", c.ID, err)
	}
	cmd[1], cmd[2], cmd[3] = 0, 0, 0
	c.l.mbox.Ring(c.cfg.Index)
	c.sent.Add(1)
	c.txMu.Unlock()

	if !expect {
		return nil
	}
	var (
		resp []uint32
		err  error
	)
	if c.cfg.Polling {
		resp, err = c.pollWait(n)
	} else {
		resp, err = c.irqWait(n)
	}
	switch {
	case err == nil:
		copy(cmd[1:], resp[1:])
		return nil
	case errors.Is(err, ErrTimeout):
		return c.escalate(n, err)
	default:
		c.release(n)
		return err
	}
}

func (c *Channel) txFull() (bool, error) {
	if c.cfg.Kind == Register {
		return c.r.win.Load32(c.cfg.TX.Base)&Owner != 0, nil
	}
	if _, _, err := c.tx.Indices(); err != nil {
		return false, err
	}
	return c.tx.IsFull(), nil
}

// room waits, with backoff, for the transmit side to accept an entry.
func (c *Channel) room() error {
	if full, err := c.txFull(); err != nil || !full {
		return err
	}
	err := poll.Deadline{
		Clock:   c.r.opts.Clock,
		Timeout: c.r.cfg.TxTimeout,
		Backoff: &backoff.Backoff{
			Min:    c.r.cfg.PollInterval,
			Max:    c.r.cfg.TxTimeout / 8,
			Factor: 2,
		},
	}.Until(func() (bool, error) {
		full, err := c.txFull()
		if full {
			c.retries.Add(1)
		}
		return !full, err
	})
	if errors.Is(err, poll.ErrTimeout) {
		c.busy.Add(1)
		return fmt.Errorf("%w: %v tx full for %v", ErrBusy, c.ID,
			c.r.cfg.TxTimeout)
	}
	return err
}

func (c *Channel) write(entry []uint32) error {
	if c.cfg.Kind == Queue {
		return c.tx.Push(entry)
	}
	// Payload first, the owner bit publishes it.
	base, words := c.cfg.TX.Base, c.cfg.TX.Words
	for i := uint32(1); i < words; i++ {
		var v uint32
		if int(i) < len(entry) {
			v = entry[i]
		}
		c.r.win.Store32(base+4*i, v)
	}
	c.r.win.Store32(base, entry[0]|Owner)
	return nil
}

func (c *Channel) release(n uint32) {
	c.rxMu.Lock()
	c.ready &^= 1 << (n & seq.Mask)
	c.seq.Release(n)
	c.rxMu.Unlock()
}

func (c *Channel) pollWait(n uint32) (resp []uint32, err error) {
	err = poll.Deadline{
		Clock:    c.r.opts.Clock,
		Timeout:  c.r.cfg.Timeout,
		Retries:  c.r.cfg.PollRetries,
		Interval: c.r.cfg.PollInterval,
		OnRetry:  func(int) { c.retries.Add(1) },
	}.Until(func() (bool, error) {
		if c.r.closed.Load() {
			return false, ErrClosed
		}
		if !c.l.mbox.Pending(c.cfg.Index) && c.rxEmpty() {
			return false, nil
		}
		r, ok, err := c.TryMatch(n)
		if ok {
			resp = r
		}
		return ok, err
	})
	return
}

func (c *Channel) irqWait(n uint32) ([]uint32, error) {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	timeout := irqTimeouts * c.r.cfg.Timeout
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		resp, ok, err := c.TryMatch(n)
		// Entries left behind may be events, or responses for the
		// senders queued on waitMu that must not fill the ring.
		if err == nil && !c.rxEmpty() {
			c.l.schedule(c.l.mbox.Bit(c.cfg.Index))
		}
		if err != nil || ok {
			return resp, err
		}
		select {
		case <-c.done:
		case <-c.r.closing:
			return nil, ErrClosed
		case <-t.C:
			resp, ok, err = c.TryMatch(n)
			if err != nil || ok {
				return resp, err
			}
			return nil, fmt.Errorf("%w after %v", ErrTimeout, timeout)
		}
	}
}

// complete wakes the channel's interrupt driven waiter, if any.
func (c *Channel) complete() {
	select {
	case c.done <- struct{}{}:
	default:
	}
}

// escalate records everything that might explain a lost response before
// handing the timeout to the fatal policy.
func (c *Channel) escalate(n uint32, err error) error {
	c.timeouts.Add(1)
	rec := c.r.opts.Recorder
	if rec != nil {
		rec.Flush()
	}
	m := c.l.mbox
	c.r.print("daemon", "emerg", c.State(), " mailbox status ",
		fmt.Sprintf("%#x", m.Status()), " mask ",
		fmt.Sprintf("%#x", m.Masked()))
	c.release(n)
	return c.fatal("send", n, err)
}

func (c *Channel) fatal(op string, n uint32, err error) error {
	fe := &FatalError{Op: op, Channel: c.ID, Seq: n, Err: err}
	if rec := c.r.opts.Recorder; rec != nil {
		rec.Capture(fe.Error())
	}
	if c.r.opts.Notify != nil {
		c.r.opts.Notify(fe.Error())
	}
	return c.r.opts.Fatal(fe)
}
