// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package seq allocates the 6-bit sequence numbers that correlate a request
// with its response.
//
// Allocation and release of one table may run concurrently (they happen under
// a channel's tx and rx locks respectively), so the in-use bitmap is only
// changed with compare and swap.
package seq

import (
	"errors"
	"math/bits"
	"sync/atomic"
)

const (
	Bits = 6
	Size = 1 << Bits
	Mask = Size - 1
)

// Zero is reserved for entries that don't answer a request.
const Zero = 0

var ErrExhausted = errors.New("sequence space exhausted")

type Table struct {
	// Last number handed out; only touched by allocation.
	last uint32

	inUse atomic.Uint64

	// Word 0 of the request that holds each number.
	echo [Size]atomic.Uint32
}

// Alloc reserves the first free number after the last one handed out,
// wrapping and skipping Zero, and records echo against it.
func (t *Table) Alloc(echo uint32) (uint32, error) {
	n := t.last
	for i := 0; i < Size; i++ {
		if n = (n + 1) & Mask; n == Zero {
			continue
		}
		m := uint64(1) << n
		for {
			old := t.inUse.Load()
			if old&m != 0 {
				break
			}
			t.echo[n].Store(echo)
			if t.inUse.CompareAndSwap(old, old|m) {
				t.last = n
				return n, nil
			}
		}
	}
	return 0, ErrExhausted
}

// Next advances past the next free number without reserving it; it's used to
// stamp requests that expect no response.
func (t *Table) Next() uint32 {
	n := t.last
	for i := 0; i < Size; i++ {
		if n = (n + 1) & Mask; n != Zero && !t.InUse(n) {
			break
		}
	}
	t.last = n
	return n
}

// Release frees n, reporting whether it was in use.
func (t *Table) Release(n uint32) bool {
	m := uint64(1) << (n & Mask)
	for {
		old := t.inUse.Load()
		if old&m == 0 {
			return false
		}
		if t.inUse.CompareAndSwap(old, old&^m) {
			return true
		}
	}
}

func (t *Table) InUse(n uint32) bool {
	return t.inUse.Load()&(uint64(1)<<(n&Mask)) != 0
}

// Echo returns word 0 of the request holding n.
func (t *Table) Echo(n uint32) uint32 { return t.echo[n&Mask].Load() }

// Outstanding returns the count of reserved numbers.
func (t *Table) Outstanding() int { return bits.OnesCount64(t.inUse.Load()) }

// ForeachInUse calls fn with each reserved number in ascending order.
func (t *Table) ForeachInUse(fn func(n uint32)) {
	for m := t.inUse.Load(); m != 0; m &= m - 1 {
		fn(uint32(bits.TrailingZeros64(m)))
	}
}
