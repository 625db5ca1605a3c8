// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package dbg

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/satori/go.uuid"
	"github.com/sigurn/crc8"
)

var crcTable = crc8.MakeTable(crc8.CRC8)

// Dump is the captured content of a Region.
type Dump struct {
	Region
	Data []byte
	CRC  uint8
}

// Ramdump is the once per boot capture taken on a fatal condition.
type Ramdump struct {
	ID     uuid.UUID
	Reason string
	Anchor Anchor

	// Remote log ring indices and raw contents.
	Rear, Front uint32
	Log         []byte

	Entries []Entry
	Regions []Dump
}

// Capture, at most once per boot, drains the log and copies the log ring
// and every configured region into the reserved ramdump. The marker cell
// records the capture across restarts of this side.
func (m *Mirror) Capture(reason string) {
	if !m.captured.CompareAndSwap(false, true) {
		return
	}
	if m.cfg.Marker != 0 && m.w.Load32(m.cfg.Marker) == Captured {
		m.opts.Print("daemon", "warn",
			"esca: ramdump already taken this boot, ", reason)
		return
	}
	m.mu.Lock()
	m.drain()
	d := m.dump
	d.ID = uuid.NewV4()
	d.Reason = reason
	d.Anchor = m.anchor
	d.Rear, d.Front, _ = m.c.Indices()
	m.w.CopyOut(m.cfg.Ring.Base, d.Log)
	d.Entries = m.snapshot(d.Entries[:0])
	m.mu.Unlock()
	for i := range d.Regions {
		r := &d.Regions[i]
		m.w.CopyOut(r.Base, r.Data)
		r.CRC = crc8.Checksum(r.Data, crcTable)
	}
	if m.cfg.Marker != 0 {
		m.w.Store32(m.cfg.Marker, Captured)
	}
	m.done.Store(true)
	m.opts.Print("daemon", "crit", "esca: ramdump ", d.ID, ": ", reason)
}

// Ramdump returns the capture, or nil before one is complete.
func (m *Mirror) Ramdump() *Ramdump {
	if !m.done.Load() {
		return nil
	}
	return m.dump
}

// WriteTo writes a text header followed by a hex dump of every buffer.
func (d *Ramdump) WriteTo(w io.Writer) (int64, error) {
	var n int64
	printf := func(format string, args ...interface{}) error {
		i, err := fmt.Fprintf(w, format, args...)
		n += int64(i)
		return err
	}
	dump := func(b []byte) error {
		i, err := io.WriteString(w, hex.Dump(b))
		n += int64(i)
		return err
	}
	if err := printf("ramdump %s\nreason: %s\nanchor: tick %d at %s, %d Hz\n",
		d.ID, d.Reason, d.Anchor.Tick,
		d.Anchor.Wall.UTC().Format("2006-01-02T15:04:05.000000Z"),
		d.Anchor.Hz); err != nil {
		return n, err
	}
	if err := printf("log: rear %d front %d, %d entries\n",
		d.Rear, d.Front, len(d.Entries)); err != nil {
		return n, err
	}
	for _, e := range d.Entries {
		if err := printf("\t%s\n", e); err != nil {
			return n, err
		}
	}
	if err := dump(d.Log); err != nil {
		return n, err
	}
	for _, r := range d.Regions {
		if err := printf("%s: base %#x size %#x crc8 %#02x\n",
			r.Name, r.Base, r.Size, r.CRC); err != nil {
			return n, err
		}
		if err := dump(r.Data); err != nil {
			return n, err
		}
	}
	return n, nil
}
