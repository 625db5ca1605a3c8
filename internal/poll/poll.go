// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package poll repeats a condition until it holds or a deadline, extended by a
// bounded number of retries, lapses.
package poll

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

var ErrTimeout = errors.New("timeout")

// Clock is the time source of a poll.
type Clock interface {
	Now() time.Time
	// Delay waits at least d.
	Delay(d time.Duration)
}

// Spin delays by busy waiting, like udelay, so the caller keeps its CPU.
type Spin struct{}

func (Spin) Now() time.Time { return time.Now() }

func (Spin) Delay(d time.Duration) {
	for start := time.Now(); time.Since(start) < d; {
	}
}

// Sleep delays by yielding to the scheduler.
type Sleep struct{}

func (Sleep) Now() time.Time        { return time.Now() }
func (Sleep) Delay(d time.Duration) { time.Sleep(d) }

// Fake is a manual clock that only moves with Delay and Advance.
type Fake struct {
	mu sync.Mutex
	t  time.Time
}

func NewFake() *Fake { return &Fake{t: time.Unix(0, 0)} }

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *Fake) Delay(d time.Duration) { f.Advance(d) }

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// Deadline describes one poll.
type Deadline struct {
	Clock Clock

	// Primary deadline, restarted on each retry.
	Timeout time.Duration

	// Number of times the deadline is extended before ErrTimeout.
	Retries int

	// Delay between tries.
	Interval time.Duration

	// If not nil, paces tries instead of Interval.
	Backoff *backoff.Backoff

	// If not nil, called before each retry with its ordinal.
	OnRetry func(retry int)
}

// Until calls done until it returns true or an error. ErrTimeout is returned
// only once the clock has reached the deadline after the last retry; done is
// always tried again before the deadline is checked.
func (d Deadline) Until(done func() (bool, error)) error {
	clock := d.Clock
	if clock == nil {
		clock = Spin{}
	}
	if d.Backoff != nil {
		d.Backoff.Reset()
	}
	start := clock.Now()
	end := start.Add(d.Timeout)
	for retry := 0; ; {
		ok, err := done()
		if err != nil || ok {
			return err
		}
		if now := clock.Now(); !now.Before(end) {
			if retry >= d.Retries {
				return fmt.Errorf("%w after %v, %d retries",
					ErrTimeout, now.Sub(start), retry)
			}
			retry++
			if d.OnRetry != nil {
				d.OnRetry(retry)
			}
			end = now.Add(d.Timeout)
			continue
		}
		if d.Backoff != nil {
			clock.Delay(d.Backoff.Duration())
		} else {
			clock.Delay(d.Interval)
		}
	}
}
