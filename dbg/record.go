// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package dbg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Remote log records are at least MinWords wide:
//
//	[0]		tick count, low word
//	[1]		tick count, high word
//	[2:n-1]		tag, NUL padded, 4 bytes per word in little endian order
//	[n-1]		value
const MinWords = 4

type Entry struct {
	Tick  uint64
	Time  time.Time
	Tag   string
	Value uint32
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %d %s %#x",
		e.Time.UTC().Format("15:04:05.000000"), e.Tick, e.Tag, e.Value)
}

// TagLen is the longest tag that fits a record of the given width.
func TagLen(words int) int { return 4 * (words - 3) }

// EncodeRecord packs e into rec, truncating its tag to fit.
func EncodeRecord(rec []uint32, e Entry) {
	n := len(rec)
	rec[0] = uint32(e.Tick)
	rec[1] = uint32(e.Tick >> 32)
	tag := make([]byte, TagLen(n))
	copy(tag, e.Tag)
	for i := 2; i < n-1; i++ {
		rec[i] = binary.LittleEndian.Uint32(tag[4*(i-2):])
	}
	rec[n-1] = e.Value
}

// DecodeRecord unpacks rec; Time is left for the caller's anchor.
func DecodeRecord(rec []uint32) Entry {
	n := len(rec)
	tag := make([]byte, TagLen(n))
	for i := 2; i < n-1; i++ {
		binary.LittleEndian.PutUint32(tag[4*(i-2):], rec[i])
	}
	if i := bytes.IndexByte(tag, 0); i >= 0 {
		tag = tag[:i]
	}
	return Entry{
		Tick:  uint64(rec[1])<<32 | uint64(rec[0]),
		Tag:   string(tag),
		Value: rec[n-1],
	}
}
