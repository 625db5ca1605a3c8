// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package ring provides the two sides of a fixed size circular buffer of
// fixed width entries living in a shared memory window.
//
// The front index cell is written only by the Producer and the rear index cell
// only by the Consumer. Head == tail means that ring is empty, so a ring of
// Len entries holds at most Len-1. Entry words are stored before the index
// that publishes them and read after the index that announced them.
package ring

import (
	"errors"
	"fmt"
	"math"

	"github.com/platinasystems/esca/shm"
)

var (
	ErrFull  = errors.New("ring full")
	ErrEmpty = errors.New("ring empty")
	ErrIndex = errors.New("ring index out of range")
)

// Layout locates a ring inside a shared window. All offsets are in bytes.
type Layout struct {
	// Offset of entry 0.
	Base uint32

	// Number of entries.
	Len uint32

	// 32-bit words per entry.
	Words uint32

	// Offsets of the front (producer) and rear (consumer) index cells.
	Front, Rear uint32
}

func (l Layout) String() string {
	return fmt.Sprintf("base %#x len %d words %d front %#x rear %#x",
		l.Base, l.Len, l.Words, l.Front, l.Rear)
}

// Bytes is the storage size of the ring's entries.
func (l Layout) Bytes() uint32 { return l.Len * l.Words * 4 }

// Validate checks the layout against a window of the given size.
func (l Layout) Validate(w *shm.Window) error {
	if l.Len < 2 {
		return fmt.Errorf("ring: %v: need at least 2 entries", l)
	}
	if l.Words == 0 {
		return fmt.Errorf("ring: %v: zero width entries", l)
	}
	if uint64(l.Len)*uint64(l.Words)*4 > math.MaxUint32 {
		return fmt.Errorf("ring: %v: too large", l)
	}
	for _, x := range []struct {
		off, n uint32
	}{
		{l.Base, l.Bytes()},
		{l.Front, 4},
		{l.Rear, 4},
	} {
		if err := w.Check(x.off, x.n); err != nil {
			return fmt.Errorf("ring: %v: %w", l, err)
		}
	}
	return nil
}

type ring struct {
	w *shm.Window
	Layout
}

func (r *ring) front() uint32 { return r.w.Load32(r.Front) }
func (r *ring) rear() uint32  { return r.w.Load32(r.Rear) }

func (r *ring) slot(i uint32) uint32 { return r.Base + i*r.Words*4 }

// Next returns the index following i.
func (r *ring) Next(i uint32) uint32 {
	if i++; i == r.Len {
		i = 0
	}
	return i
}

// Indices returns the current rear and front cells, failing if the remote side
// published an index outside [0, Len).
func (r *ring) Indices() (rear, front uint32, err error) {
	rear, front = r.rear(), r.front()
	if rear >= r.Len || front >= r.Len {
		err = fmt.Errorf("%w: rear %d front %d len %d",
			ErrIndex, rear, front, r.Len)
	}
	return
}

// Pending returns the number of published, unconsumed entries.
func (r *ring) Pending() uint32 {
	rear, front, err := r.Indices()
	if err != nil {
		return 0
	}
	return (front + r.Len - rear) % r.Len
}

func (r *ring) IsEmpty() bool { return r.front() == r.rear() }
func (r *ring) IsFull() bool  { return r.Next(r.front()) == r.rear() }

// Producer is the side that owns the front index.
type Producer struct{ ring }

func NewProducer(w *shm.Window, l Layout) (*Producer, error) {
	if err := l.Validate(w); err != nil {
		return nil, err
	}
	return &Producer{ring{w, l}}, nil
}

// Push writes entry at front and then publishes the advanced front. Words
// beyond len(entry) are zeroed; entry words beyond the entry width are
// ignored.
func (p *Producer) Push(entry []uint32) error {
	front := p.front()
	if front >= p.Len {
		return fmt.Errorf("%w: front %d len %d", ErrIndex, front, p.Len)
	}
	next := p.Next(front)
	if next == p.rear() {
		return ErrFull
	}
	n := uint32(len(entry))
	if n > p.Words {
		n = p.Words
	}
	off := p.slot(front)
	p.w.WriteWords(off, entry[:n])
	p.w.ZeroWords(off+n*4, int(p.Words-n))
	p.w.Store32(p.Front, next)
	return nil
}

// Reset publishes front at the current rear, discarding nothing that has
// been consumed.
func (p *Producer) Reset() { p.w.Store32(p.Front, p.rear()) }

// Consumer is the side that owns the rear index.
type Consumer struct{ ring }

func NewConsumer(w *shm.Window, l Layout) (*Consumer, error) {
	if err := l.Validate(w); err != nil {
		return nil, err
	}
	return &Consumer{ring{w, l}}, nil
}

// Word returns word n of entry i.
func (c *Consumer) Word(i, n uint32) uint32 { return c.w.Load32(c.slot(i) + n*4) }

// Peek reads entry i into dst, up to the entry width.
func (c *Consumer) Peek(i uint32, dst []uint32) error {
	if i >= c.Len {
		return fmt.Errorf("%w: peek %d len %d", ErrIndex, i, c.Len)
	}
	if uint32(len(dst)) > c.Words {
		dst = dst[:c.Words]
	}
	c.w.ReadWords(c.slot(i), dst)
	return nil
}

// Pop reads the entry at rear into dst and advances rear.
func (c *Consumer) Pop(dst []uint32) error {
	rear, front, err := c.Indices()
	if err != nil {
		return err
	}
	if rear == front {
		return ErrEmpty
	}
	c.Peek(rear, dst)
	c.w.Store32(c.Rear, c.Next(rear))
	return nil
}

// Compact fills slot i, whose entry was consumed out of order, with the
// entry at rear. A following Advance then retires the rear slot so the
// pending entries stay contiguous without shifting every intermediate slot.
func (c *Consumer) Compact(i uint32) {
	rear := c.rear()
	if i == rear || i >= c.Len {
		return
	}
	src, dst := c.slot(rear), c.slot(i)
	for n := uint32(0); n < c.Words; n++ {
		c.w.Store32(dst+n*4, c.w.Load32(src+n*4))
	}
}

// Advance retires the rear entry.
func (c *Consumer) Advance() error {
	rear, front, err := c.Indices()
	if err != nil {
		return err
	}
	if rear == front {
		return ErrEmpty
	}
	c.w.Store32(c.Rear, c.Next(rear))
	return nil
}

// Flush retires every published entry.
func (c *Consumer) Flush() { c.w.Store32(c.Rear, c.front()) }
