// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package ipc

import (
	"fmt"
	"time"

	"github.com/platinasystems/esca/internal/poll"
	"github.com/platinasystems/esca/mailbox"
	"github.com/platinasystems/esca/ring"
	"github.com/platinasystems/log"
)

const (
	DefaultTimeout      = 10 * time.Millisecond
	DefaultTxTimeout    = 50 * time.Millisecond
	DefaultPollRetries  = 5
	DefaultPollInterval = 10 * time.Microsecond
	DefaultCallbacks    = 4

	// Interrupt driven waits last this many timeouts.
	irqTimeouts = 5
)

// Kind is the backing store of a channel.
type Kind int

const (
	// A shared ring of entries.
	Queue Kind = iota
	// A single entry slot handed over with the control word Owner bit.
	Register
)

func (k Kind) String() string {
	if k == Register {
		return "register"
	}
	return "queue"
}

// IRQMode says where a channel's interrupt completes its waiter.
type IRQMode int

const (
	// In the top half.
	Immediate IRQMode = iota
	// In the layer's deferred worker, which also runs the dequeuer.
	Deferred
)

func (m IRQMode) String() string {
	if m == Deferred {
		return "deferred"
	}
	return "immediate"
}

type ChannelConfig struct {
	Index uint32
	Name  string
	Kind  Kind

	// Receive and transmit geometry. Register channels use only Base and
	// Words.
	RX, TX ring.Layout

	// Busy-poll for responses rather than wait for the interrupt.
	Polling bool
	IRQ     IRQMode

	// Zero means DefaultCallbacks.
	MaxCallbacks int
}

type LayerConfig struct {
	Layer    LayerID
	Mailbox  mailbox.Layout
	Channels []ChannelConfig
}

type Config struct {
	// Primary response deadline.
	Timeout time.Duration
	// Deadline for room in a full transmit ring.
	TxTimeout    time.Duration
	PollRetries  int
	PollInterval time.Duration

	Layers []LayerConfig
}

func (cfg *Config) setDefaults() {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TxTimeout == 0 {
		cfg.TxTimeout = DefaultTxTimeout
	}
	if cfg.PollRetries == 0 {
		cfg.PollRetries = DefaultPollRetries
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
}

// Recorder is the diagnostic log mirror as seen by the dispatcher.
type Recorder interface {
	// Drain the remote log now.
	Flush()
	// Schedule a drain.
	Kick()
	// Take the once per boot crash capture.
	Capture(reason string)
}

type Options struct {
	// Defaults to log.Print.
	Print func(args ...interface{})
	// Paces polling waits; defaults to poll.Spin.
	Clock poll.Clock
	// Defaults to Halt.
	Fatal    FatalPolicy
	Recorder Recorder
	// If not nil, receives each fatal condition before the policy.
	Notify func(msg string)
}

func (o *Options) setDefaults() {
	if o.Print == nil {
		o.Print = log.Print
	}
	if o.Clock == nil {
		o.Clock = poll.Spin{}
	}
	if o.Fatal == nil {
		o.Fatal = Halt
	}
}

func (c *ChannelConfig) String() string {
	s := fmt.Sprintf("%d %s %v", c.Index, c.Name, c.Kind)
	if c.Polling {
		s += " polling"
	} else {
		s += " " + c.IRQ.String()
	}
	return s
}
