// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package poll

import (
	"errors"
	"testing"
	"time"

	"github.com/jpillora/backoff"
	"github.com/platinasystems/esca/internal/test"
)

func TestUntilDone(t *testing.T) {
	assert := test.Assert{TB: t}
	clock := NewFake()
	n := 0
	err := Deadline{
		Clock:    clock,
		Timeout:  time.Millisecond,
		Interval: time.Microsecond,
	}.Until(func() (bool, error) {
		n++
		return n == 10, nil
	})
	assert.Nil(err)
	assert.True(n == 10)
}

func TestUntilError(t *testing.T) {
	assert := test.Assert{TB: t}
	boom := errors.New("boom")
	err := Deadline{Clock: NewFake(), Timeout: time.Second}.Until(
		func() (bool, error) { return false, boom })
	assert.Error(err, boom)
}

func TestTimeoutAfterDeadline(t *testing.T) {
	assert := test.Assert{TB: t}
	clock := NewFake()
	start := clock.Now()
	var retries []int
	d := Deadline{
		Clock:    clock,
		Timeout:  10 * time.Millisecond,
		Retries:  5,
		Interval: 100 * time.Microsecond,
		OnRetry:  func(n int) { retries = append(retries, n) },
	}
	err := d.Until(func() (bool, error) {
		// never report timeout early
		assert.True(clock.Now().Sub(start) <= 6*d.Timeout)
		return false, nil
	})
	assert.Error(err, ErrTimeout)
	assert.True(clock.Now().Sub(start) >= 6*d.Timeout)
	assert.True(len(retries) == 5 && retries[4] == 5)
}

func TestSpinDelays(t *testing.T) {
	assert := test.Assert{TB: t}
	start := time.Now()
	Spin{}.Delay(200 * time.Microsecond)
	assert.True(time.Since(start) >= 200*time.Microsecond)
}

func TestBackoffPaces(t *testing.T) {
	assert := test.Assert{TB: t}
	clock := NewFake()
	start := clock.Now()
	var at []time.Duration
	err := Deadline{
		Clock:   clock,
		Timeout: 50 * time.Millisecond,
		Backoff: &backoff.Backoff{
			Min:    time.Millisecond,
			Max:    8 * time.Millisecond,
			Factor: 2,
		},
	}.Until(func() (bool, error) {
		at = append(at, clock.Now().Sub(start))
		return false, nil
	})
	assert.Error(err, ErrTimeout)
	// 0, 1, 3, 7, 15, then 8ms steps
	assert.True(at[1] == time.Millisecond)
	assert.True(at[3] == 7*time.Millisecond)
	assert.True(at[5]-at[4] == 8*time.Millisecond)
}
