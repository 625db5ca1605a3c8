// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package ipc

import (
	"errors"
	"fmt"
	"os"

	"github.com/platinasystems/esca/internal/poll"
	"github.com/platinasystems/esca/internal/seq"
	"github.com/platinasystems/log"
)

var (
	ErrNotFound = errors.New("no such channel")
	// The channel's callback table is full.
	ErrNoMem = errors.New("out of callback slots")
	// The transmit ring stayed full past TxTimeout.
	ErrBusy         = errors.New("channel busy")
	ErrClosed       = errors.New("registry closed")
	ErrTimeout      = poll.ErrTimeout
	ErrSeqExhausted = seq.ErrExhausted
)

// FatalError is a condition after which the remote layer can no longer be
// trusted.
type FatalError struct {
	Op      string
	Channel ID
	Seq     uint32
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("esca: %s %v seq %d: %v", e.Op, e.Channel, e.Seq,
		e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// A FatalPolicy decides what becomes of a fatal condition. If it returns,
// the failing operation returns its result.
type FatalPolicy func(*FatalError) error

// Halt logs at emergency priority and panics with the error.
func Halt(e *FatalError) error {
	log.Print("daemon", "emerg", e)
	panic(e)
}

// ReturnError has the failing operation return the error to its caller.
func ReturnError(e *FatalError) error { return e }

// Watchdog arms the watchdog device at path, never kicks it, and waits for
// the reset. Without the device it halts.
func Watchdog(path string) FatalPolicy {
	return func(e *FatalError) error {
		log.Print("daemon", "emerg", e, ", waiting for ", path)
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			log.Print("daemon", "emerg", path, ": ", err)
			return Halt(e)
		}
		defer f.Close()
		select {}
	}
}
