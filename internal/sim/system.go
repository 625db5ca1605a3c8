// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package sim

import (
	"context"
	"sync"

	"github.com/platinasystems/esca/dbg"
	"github.com/platinasystems/esca/ipc"
	"github.com/platinasystems/esca/mailbox"
	"github.com/platinasystems/esca/ring"
	"github.com/platinasystems/esca/shm"
)

// Window layout of a System.
const (
	TickOff   = 0x08
	MarkerOff = 0x10
	LogLen    = 64
	LogWords  = 8
	TickHz    = 1000000
	SRAMSize  = 0x100

	firstOff = 0x40
	regsBase = 0x1000
	regsSize = 0x20
)

// ChannelSpec describes a channel of a System. Zero Len and Words default
// to 4.
type ChannelSpec struct {
	Layer   ipc.LayerID
	Index   uint32
	Name    string
	Kind    ipc.Kind
	Len     uint32
	Words   uint32
	Polling bool
	IRQ     ipc.IRQMode
}

// System is a simulated co-processor with a remote peer per layer and a
// remote log writer.
type System struct {
	Window *shm.Window
	Regs   Bank
	Config ipc.Config
	Log    dbg.Config

	Mailboxes map[ipc.LayerID]*Mailbox
	Peers     map[ipc.LayerID]*Peer
	Logger    *Logger

	wg sync.WaitGroup
}

// MailboxLayout is the register layout of layer l in a System.
func MailboxLayout(l ipc.LayerID) mailbox.Layout {
	base := regsBase + regsSize*uint32(l)
	return mailbox.Layout{
		Gen:     base,
		Clear:   base + 0x4,
		Status:  base + 0x8,
		Mask:    base + 0xc,
		SelfGen: base + 0x10,
	}
}

func NewSystem(specs ...ChannelSpec) (*System, error) {
	s := &System{
		Mailboxes: make(map[ipc.LayerID]*Mailbox),
		Peers:     make(map[ipc.LayerID]*Peer),
	}
	off := uint32(firstOff)
	alloc := func(n uint32) uint32 {
		o := off
		off += (n + 7) &^ 7
		return o
	}
	layout := func(n, words uint32) ring.Layout {
		cells := alloc(8)
		return ring.Layout{
			Base:  alloc(n * words * 4),
			Len:   n,
			Words: words,
			Front: cells,
			Rear:  cells + 4,
		}
	}
	layers := map[ipc.LayerID]int{}
	for _, cs := range specs {
		if cs.Len == 0 {
			cs.Len = 4
		}
		if cs.Words == 0 {
			cs.Words = 4
		}
		cc := ipc.ChannelConfig{
			Index:   cs.Index,
			Name:    cs.Name,
			Kind:    cs.Kind,
			Polling: cs.Polling,
			IRQ:     cs.IRQ,
		}
		if cs.Kind == ipc.Register {
			cc.TX = ring.Layout{Base: alloc(cs.Words * 4), Words: cs.Words}
			cc.RX = ring.Layout{Base: alloc(cs.Words * 4), Words: cs.Words}
		} else {
			cc.TX = layout(cs.Len, cs.Words)
			cc.RX = layout(cs.Len, cs.Words)
		}
		i, found := layers[cs.Layer]
		if !found {
			i = len(s.Config.Layers)
			layers[cs.Layer] = i
			s.Config.Layers = append(s.Config.Layers, ipc.LayerConfig{
				Layer:   cs.Layer,
				Mailbox: MailboxLayout(cs.Layer),
			})
		}
		s.Config.Layers[i].Channels = append(s.Config.Layers[i].Channels, cc)
	}
	s.Log = dbg.Config{
		Ring:   layout(LogLen, LogWords),
		Tick:   TickOff,
		TickHz: TickHz,
		Marker: MarkerOff,
		Dumps: []dbg.Region{
			{Name: "sram0", Base: alloc(SRAMSize), Size: SRAMSize},
		},
	}
	s.Window = shm.New(int(off))
	for _, lc := range s.Config.Layers {
		m := NewMailbox(lc.Mailbox)
		p, err := NewPeer(s.Window, m, lc)
		if err != nil {
			return nil, err
		}
		s.Mailboxes[lc.Layer] = m
		s.Peers[lc.Layer] = p
		s.Regs = append(s.Regs, m)
	}
	var err error
	if s.Logger, err = NewLogger(s.Window, s.Log); err != nil {
		return nil, err
	}
	return s, nil
}

// Connect routes each layer's interrupt to the registry's top half.
func (s *System) Connect(r *ipc.Registry) {
	for id, m := range s.Mailboxes {
		if l := r.Layer(id); l != nil {
			m.Connect(l.Interrupt)
		}
	}
}

// Start runs every peer until ctx is done; Wait waits for them to stop.
func (s *System) Start(ctx context.Context) {
	for _, p := range s.Peers {
		s.wg.Add(1)
		go func(p *Peer) {
			defer s.wg.Done()
			p.Run(ctx)
		}(p)
	}
}

func (s *System) Wait() { s.wg.Wait() }

// Peer returns the peer of the given layer.
func (s *System) Peer(l ipc.LayerID) *Peer { return s.Peers[l] }
