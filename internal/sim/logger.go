// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package sim

import (
	"sync"

	"github.com/platinasystems/esca/dbg"
	"github.com/platinasystems/esca/ring"
	"github.com/platinasystems/esca/shm"
)

// Logger writes the remote diagnostic log and runs its tick counter.
type Logger struct {
	w    *shm.Window
	cfg  dbg.Config
	p    *ring.Producer
	mu   sync.Mutex
	rec  []uint32
	tick uint64
}

func NewLogger(w *shm.Window, cfg dbg.Config) (*Logger, error) {
	p, err := ring.NewProducer(w, cfg.Ring)
	if err != nil {
		return nil, err
	}
	return &Logger{
		w:   w,
		cfg: cfg,
		p:   p,
		rec: make([]uint32, cfg.Ring.Words),
	}, nil
}

// SetTick sets the counter as the mirror reads it.
func (l *Logger) SetTick(tick uint64) {
	l.mu.Lock()
	l.setTick(tick)
	l.mu.Unlock()
}

func (l *Logger) setTick(tick uint64) {
	l.tick = tick
	l.w.Store32(l.cfg.Tick+4, uint32(tick>>32))
	l.w.Store32(l.cfg.Tick, uint32(tick))
}

// Advance moves the counter n ticks.
func (l *Logger) Advance(n uint64) {
	l.mu.Lock()
	l.setTick(l.tick + n)
	l.mu.Unlock()
}

// Log appends a record stamped with the current tick.
func (l *Logger) Log(tag string, value uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	dbg.EncodeRecord(l.rec, dbg.Entry{Tick: l.tick, Tag: tag, Value: value})
	return l.p.Push(l.rec)
}
