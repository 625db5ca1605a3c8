// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package sim stands in for the co-processor: mailbox registers, a remote
// peer serving the channels, and a remote log writer, all over an ordinary
// shared window.
package sim

import (
	"sync"

	"github.com/platinasystems/esca/mailbox"
)

// Mailbox models one layer's doorbell register block.
type Mailbox struct {
	l mailbox.Layout

	mu sync.Mutex
	// Pending to us, pending to the remote, and our interrupt mask.
	status, remote, mask uint32
	line                 func()
	rang                 chan struct{}
}

func NewMailbox(l mailbox.Layout) *Mailbox {
	return &Mailbox{l: l, rang: make(chan struct{}, 1)}
}

func (m *Mailbox) Layout() mailbox.Layout { return m.l }

// Connect routes our interrupt line to f.
func (m *Mailbox) Connect(f func()) {
	m.mu.Lock()
	m.line = f
	m.mu.Unlock()
}

func (m *Mailbox) owns(off uint32) bool {
	switch off {
	case m.l.Gen, m.l.Clear, m.l.Status, m.l.Mask, m.l.SelfGen:
		return true
	}
	return false
}

func (m *Mailbox) Load32(off uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch off {
	case m.l.Status:
		return m.status
	case m.l.Mask:
		return m.mask
	}
	return 0
}

func (m *Mailbox) Store32(off, v uint32) {
	switch off {
	case m.l.Gen:
		m.mu.Lock()
		m.remote |= v
		m.mu.Unlock()
		select {
		case m.rang <- struct{}{}:
		default:
		}
	case m.l.Clear:
		m.mu.Lock()
		m.status &^= v
		m.mu.Unlock()
	case m.l.SelfGen:
		m.Post(v)
	case m.l.Mask:
		m.mu.Lock()
		m.mask = v
		m.mu.Unlock()
	}
}

// Post raises status bits as the remote does, firing the line for those not
// masked.
func (m *Mailbox) Post(v uint32) {
	m.mu.Lock()
	m.status |= v
	fire := v&^m.mask != 0
	line := m.line
	m.mu.Unlock()
	if fire && line != nil {
		go line()
	}
}

// Take returns and clears the doorbells rung for the remote.
func (m *Mailbox) Take() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.remote
	m.remote = 0
	return v
}

// Rang is signalled when a doorbell is rung for the remote.
func (m *Mailbox) Rang() <-chan struct{} { return m.rang }

// Bank is the register space of several mailboxes.
type Bank []*Mailbox

func (b Bank) Load32(off uint32) uint32 {
	for _, m := range b {
		if m.owns(off) {
			return m.Load32(off)
		}
	}
	return 0
}

func (b Bank) Store32(off, v uint32) {
	for _, m := range b {
		if m.owns(off) {
			m.Store32(off, v)
			return
		}
	}
}
