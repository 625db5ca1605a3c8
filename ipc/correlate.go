// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package ipc

import (
	"github.com/platinasystems/esca/internal/seq"
)

// TryMatch looks for the response with sequence n, first among those the
// dequeuer parked and then on the receive side. A match is copied out,
// retired from the receive side and handed to the callbacks, and n is freed.
// Entries ahead of the rear that answer no outstanding request are retired
// and dispatched as unsolicited on the way.
func (c *Channel) TryMatch(n uint32) ([]uint32, bool, error) {
	c.rxMu.Lock()
	defer c.rxMu.Unlock()
	if resp, ok := c.unpark(n); ok {
		return resp, true, nil
	}
	if c.cfg.Kind == Register {
		resp, ok := c.matchSlot(n)
		return resp, ok, nil
	}
	rear, front, err := c.rx.Indices()
	if err != nil {
		return nil, false, err
	}
	for ; rear != front; rear = c.rx.Next(rear) {
		if c.awaited(c.rx.Word(rear, 0)) {
			break
		}
		c.rx.Peek(rear, c.entry)
		c.rx.Advance()
		c.unsolicited.Add(1)
		c.dispatch(c.entry)
	}
	for i := rear; i != front; i = c.rx.Next(i) {
		if SeqOf(c.rx.Word(i, 0)) != n {
			continue
		}
		resp := make([]uint32, c.cfg.RX.Words)
		c.rx.Peek(i, resp)
		copy(c.scratch, resp)
		c.rx.Compact(i)
		c.rx.Advance()
		c.dispatch(resp)
		c.drained()
		c.received.Add(1)
		// strictly after the copy out
		c.seq.Release(n)
		return resp, true, nil
	}
	c.drained()
	return nil, false, nil
}

// park keeps entry, the response to an outstanding request, for its waiter.
func (c *Channel) park(entry []uint32) {
	s := SeqOf(entry[0])
	c.parked[s] = append(c.parked[s][:0], entry...)
	c.ready |= 1 << s
}

// unpark takes the parked response with sequence n and frees n.
func (c *Channel) unpark(n uint32) ([]uint32, bool) {
	n &= seq.Mask
	if c.ready&(1<<n) == 0 {
		return nil, false
	}
	c.ready &^= 1 << n
	resp := append([]uint32(nil), c.parked[n]...)
	copy(c.scratch, resp)
	c.received.Add(1)
	// strictly after the copy out
	c.seq.Release(n)
	return resp, true
}

// awaited reports whether control word w answers an outstanding request.
func (c *Channel) awaited(w uint32) bool {
	s := SeqOf(w)
	return s != seq.Zero && c.seq.InUse(s)
}

func (c *Channel) matchSlot(n uint32) ([]uint32, bool) {
	base := c.cfg.RX.Base
	w := c.r.win.Load32(base)
	if w&Owner == 0 {
		return nil, false
	}
	if s := SeqOf(w); s != n && c.awaited(w) {
		return nil, false
	}
	resp := make([]uint32, c.cfg.RX.Words)
	c.r.win.ReadWords(base, resp)
	resp[0] = w
	c.r.win.Store32(base, 0)
	c.dispatch(resp)
	c.drained()
	if SeqOf(w) != n || !c.seq.InUse(n) {
		c.unsolicited.Add(1)
		return nil, false
	}
	copy(c.scratch, resp)
	c.received.Add(1)
	c.seq.Release(n)
	return resp, true
}

// Dequeue retires every entry from the rear to the front, hands each to the
// callbacks and then kicks the log mirror. Entries that answer an
// outstanding request are parked for their waiter's TryMatch, the rest
// count as unsolicited. It returns the number of entries retired.
func (c *Channel) Dequeue() (n int) {
	c.rxMu.Lock()
	switch c.cfg.Kind {
	case Queue:
		rear, front, err := c.rx.Indices()
		if err != nil {
			c.rxMu.Unlock()
			c.r.print("daemon", "err", c.ID, ": dequeue: ", err)
			return
		}
		for ; rear != front; rear = c.rx.Next(rear) {
			c.rx.Peek(rear, c.entry)
			c.rx.Advance()
			c.retire(c.entry)
			n++
		}
	case Register:
		base := c.cfg.RX.Base
		if w := c.r.win.Load32(base); w&Owner != 0 {
			c.r.win.ReadWords(base, c.entry)
			c.entry[0] = w
			c.r.win.Store32(base, 0)
			c.retire(c.entry)
			n++
		}
	}
	c.drained()
	c.rxMu.Unlock()
	if rec := c.r.opts.Recorder; rec != nil {
		rec.Kick()
	}
	return
}

func (c *Channel) retire(entry []uint32) {
	if c.awaited(entry[0]) {
		c.park(entry)
	} else {
		c.unsolicited.Add(1)
	}
	c.dispatch(entry)
}

func (c *Channel) rxEmpty() bool {
	if c.cfg.Kind == Register {
		return c.r.win.Load32(c.cfg.RX.Base)&Owner == 0
	}
	return c.rx.IsEmpty()
}

// drained clears the doorbell status of an empty polled channel. Should the
// remote have refilled it meanwhile, the status is regenerated so the
// entry isn't stranded.
func (c *Channel) drained() {
	if !c.cfg.Polling || !c.rxEmpty() {
		return
	}
	m := c.l.mbox
	if !m.Pending(c.cfg.Index) {
		return
	}
	m.Ack(m.Bit(c.cfg.Index))
	if !c.rxEmpty() {
		m.Raise(c.cfg.Index)
	}
}
