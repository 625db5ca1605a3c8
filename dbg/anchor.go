// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package dbg

import "time"

// Anchor pairs a co-processor tick count with the wall clock time it was
// read at.
type Anchor struct {
	Tick uint64
	Wall time.Time
	Hz   uint64
}

// Time converts tick to wall clock time. Ticks before the anchor convert to
// earlier times.
func (a Anchor) Time(tick uint64) time.Time {
	if a.Hz == 0 {
		return a.Wall
	}
	d := int64(tick - a.Tick)
	hz := int64(a.Hz)
	sec, rem := d/hz, d%hz
	return a.Wall.Add(time.Duration(sec)*time.Second +
		time.Duration(rem*int64(time.Second)/hz))
}
