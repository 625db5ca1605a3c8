// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package dbg mirrors the co-processor's diagnostic log ring into the kernel
// log and, once per boot, captures it with the configured SRAM regions after
// a fatal condition.
package dbg

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinasystems/esca/ring"
	"github.com/platinasystems/esca/shm"
	"github.com/platinasystems/log"
)

const (
	DefaultPeriod   = time.Second
	DefaultResync   = time.Minute
	DefaultCapacity = 1024

	// Left in the marker cell by a capture; it survives a warm reboot of
	// the application processor.
	Captured = 0x45534344
)

// Region is a block of co-processor SRAM to include in a ramdump.
type Region struct {
	Name       string
	Base, Size uint32
}

type Config struct {
	// Remote log ring; Words is the record width.
	Ring ring.Layout

	// Offset of the 64-bit tick counter, low word first, and its rate.
	Tick   uint32
	TickHz uint64

	// Drain and anchor resynchronization periods.
	Period, Resync time.Duration

	// Entries kept in the mirror.
	Capacity int

	// Offset of the once per boot capture marker; zero for none.
	Marker uint32

	Dumps []Region
}

type Options struct {
	// Defaults to log.Print.
	Print func(args ...interface{})
	// Defaults to time.Now.
	Now func() time.Time
	// If not nil, receives each mirrored line.
	Publish func(line string)
}

type Mirror struct {
	cfg  Config
	opts Options
	w    *shm.Window
	c    *ring.Consumer

	// Serializes drains and guards what follows.
	mu       sync.Mutex
	anchor   Anchor
	synced   time.Time
	rec      []uint32
	entries  []Entry
	head, n  int
	drained  uint64
	dropped  uint64
	lastErr  string
	kick     chan struct{}
	captured atomic.Bool

	// Reserved at New so a capture doesn't allocate the large buffers.
	dump *Ramdump
	done atomic.Bool
}

func New(cfg Config, w *shm.Window, opts Options) (*Mirror, error) {
	if err := cfg.Ring.Validate(w); err != nil {
		return nil, fmt.Errorf("dbg: log %w", err)
	}
	if cfg.Ring.Words < MinWords {
		return nil, fmt.Errorf("dbg: log: %d word records, need %d",
			cfg.Ring.Words, MinWords)
	}
	if err := w.Check(cfg.Tick, 8); err != nil {
		return nil, fmt.Errorf("dbg: tick: %w", err)
	}
	if cfg.Marker != 0 {
		if err := w.Check(cfg.Marker, 4); err != nil {
			return nil, fmt.Errorf("dbg: marker: %w", err)
		}
	}
	if cfg.Period == 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Resync == 0 {
		cfg.Resync = DefaultResync
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if opts.Print == nil {
		opts.Print = log.Print
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c, err := ring.NewConsumer(w, cfg.Ring)
	if err != nil {
		return nil, fmt.Errorf("dbg: log %w", err)
	}
	m := &Mirror{
		cfg:     cfg,
		opts:    opts,
		w:       w,
		c:       c,
		rec:     make([]uint32, cfg.Ring.Words),
		entries: make([]Entry, cfg.Capacity),
		kick:    make(chan struct{}, 1),
	}
	m.dump = &Ramdump{
		Log:     make([]byte, cfg.Ring.Bytes()),
		Entries: make([]Entry, 0, cfg.Capacity),
	}
	for _, r := range cfg.Dumps {
		if err := w.Check(r.Base, r.Size); err != nil {
			return nil, fmt.Errorf("dbg: %s: %w", r.Name, err)
		}
		m.dump.Regions = append(m.dump.Regions, Dump{
			Region: r,
			Data:   make([]byte, r.Size),
		})
	}
	m.Resync()
	return m, nil
}

// Tick reads the co-processor's 64-bit counter, retrying a read that
// straddled a carry into the high word.
func (m *Mirror) Tick() uint64 {
	for {
		hi := m.w.Load32(m.cfg.Tick + 4)
		lo := m.w.Load32(m.cfg.Tick)
		if hi == m.w.Load32(m.cfg.Tick+4) {
			return uint64(hi)<<32 | uint64(lo)
		}
	}
}

// Resync takes a new tick and wall clock anchor.
func (m *Mirror) Resync() {
	m.mu.Lock()
	m.resync()
	m.mu.Unlock()
}

func (m *Mirror) resync() {
	m.synced = m.opts.Now()
	m.anchor = Anchor{Tick: m.Tick(), Wall: m.synced, Hz: m.cfg.TickHz}
}

func (m *Mirror) Anchor() Anchor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anchor
}

// Drain moves every record in the remote ring into the mirror and the
// kernel log, returning how many it moved.
func (m *Mirror) Drain() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drain()
}

func (m *Mirror) drain() (n int) {
	if m.opts.Now().Sub(m.synced) >= m.cfg.Resync {
		m.resync()
	}
	for {
		err := m.c.Pop(m.rec)
		if err == ring.ErrEmpty {
			return
		}
		if err != nil {
			// The remote owns front; leave rear for when it recovers.
			if s := err.Error(); s != m.lastErr {
				m.lastErr = s
				m.opts.Print("daemon", "err", "esca log: ", err)
			}
			return
		}
		m.lastErr = ""
		e := DecodeRecord(m.rec)
		e.Time = m.anchor.Time(e.Tick)
		m.push(e)
		line := e.String()
		m.opts.Print("daemon", "info", "esca: ", line)
		if m.opts.Publish != nil {
			m.opts.Publish(line)
		}
		n++
	}
}

func (m *Mirror) push(e Entry) {
	i := m.head + m.n
	if i >= len(m.entries) {
		i -= len(m.entries)
	}
	m.entries[i] = e
	if m.n < len(m.entries) {
		m.n++
	} else {
		m.dropped++
		if m.head++; m.head == len(m.entries) {
			m.head = 0
		}
	}
	m.drained++
}

// Flush drains synchronously.
func (m *Mirror) Flush() { m.Drain() }

// Kick schedules a drain by Run.
func (m *Mirror) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Run drains every Period and on each Kick until ctx is done, then drains a
// last time.
func (m *Mirror) Run(ctx context.Context) error {
	t := time.NewTicker(m.cfg.Period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Drain()
			return ctx.Err()
		case <-t.C:
		case <-m.kick:
		}
		m.Drain()
	}
}

// Entries returns the mirrored entries, oldest first.
func (m *Mirror) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(make([]Entry, 0, m.n))
}

func (m *Mirror) snapshot(dst []Entry) []Entry {
	for i := 0; i < m.n; i++ {
		j := m.head + i
		if j >= len(m.entries) {
			j -= len(m.entries)
		}
		dst = append(dst, m.entries[j])
	}
	return dst
}

// Stop drains the remote ring and returns a snapshot of the mirror.
func (m *Mirror) Stop() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drain()
	return m.snapshot(make([]Entry, 0, m.n))
}

// Counts returns the totals of mirrored entries and of those since
// overwritten.
func (m *Mirror) Counts() (drained, dropped uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drained, m.dropped
}

// Recover, deferred, captures a ramdump on panic and continues panicking.
func (m *Mirror) Recover() {
	if p := recover(); p != nil {
		m.Panicked(p)
		panic(p)
	}
}

// Panicked captures a ramdump for the recovered value p.
func (m *Mirror) Panicked(p interface{}) { m.Capture(fmt.Sprint("panic: ", p)) }
