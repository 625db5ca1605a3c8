// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package shm provides ordered 32-bit access to a memory window shared with a
// remote processor or mapped from device registers.
//
// Every access is a single atomic load or store of an aligned word so the
// compiler may neither tear, merge nor reorder it with respect to other
// window accesses. The remote side polls or is interrupted on index changes,
// so data words must be stored before the index word that publishes them.
package shm

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Window is a word addressed view of shared memory.
type Window struct {
	b     []byte
	unmap func([]byte) error
}

// New returns a heap backed window of size bytes, word aligned. It stands in
// for device memory in tests and simulation.
func New(size int) *Window {
	u := make([]uint64, (size+7)/8)
	if len(u) == 0 {
		return &Window{}
	}
	return &Window{b: unsafe.Slice((*byte)(unsafe.Pointer(&u[0])), size)}
}

// Len returns the window size in bytes.
func (w *Window) Len() int { return len(w.b) }

// Close unmaps a window returned by Open; it's a no-op for New windows.
func (w *Window) Close() error {
	if w.unmap == nil || w.b == nil {
		return nil
	}
	err := w.unmap(w.b)
	w.b = nil
	return err
}

// Check reports whether n bytes at off lie inside the window and off is
// word aligned.
func (w *Window) Check(off, n uint32) error {
	if off&3 != 0 {
		return fmt.Errorf("shm: unaligned offset %#x", off)
	}
	if uint64(off)+uint64(n) > uint64(len(w.b)) {
		return fmt.Errorf("shm: [%#x, %#x) outside %#x byte window",
			off, uint64(off)+uint64(n), len(w.b))
	}
	return nil
}

func (w *Window) addr(off uint32) *uint32 {
	if err := w.Check(off, 4); err != nil {
		panic(err)
	}
	return (*uint32)(unsafe.Pointer(&w.b[off]))
}

// Load32 is an ordered read of the word at byte offset off.
func (w *Window) Load32(off uint32) uint32 { return atomic.LoadUint32(w.addr(off)) }

// Store32 is an ordered write of the word at byte offset off.
func (w *Window) Store32(off, v uint32) { atomic.StoreUint32(w.addr(off), v) }

// ReadWords loads len(dst) consecutive words starting at off.
func (w *Window) ReadWords(off uint32, dst []uint32) {
	for i := range dst {
		dst[i] = w.Load32(off + uint32(i)*4)
	}
}

// WriteWords stores src as consecutive words starting at off.
func (w *Window) WriteWords(off uint32, src []uint32) {
	for i, v := range src {
		w.Store32(off+uint32(i)*4, v)
	}
}

// ZeroWords stores n zero words starting at off.
func (w *Window) ZeroWords(off uint32, n int) {
	for i := 0; i < n; i++ {
		w.Store32(off+uint32(i)*4, 0)
	}
}

// CopyOut copies len(dst) bytes starting at off, a word at a time, so that
// device memory which rejects byte accesses may be captured. len(dst) must
// be a multiple of 4.
func (w *Window) CopyOut(off uint32, dst []byte) error {
	if len(dst)&3 != 0 {
		return fmt.Errorf("shm: copy of %d bytes isn't word sized", len(dst))
	}
	if err := w.Check(off, uint32(len(dst))); err != nil {
		return err
	}
	for i := 0; i < len(dst); i += 4 {
		binary.NativeEndian.PutUint32(dst[i:], w.Load32(off+uint32(i)))
	}
	return nil
}
