// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinasystems/esca/ipc"
	"github.com/platinasystems/esca/ring"
	"github.com/platinasystems/esca/shm"
)

// Handler serves one request. The response echoes the request's control
// word followed by payload; with reply false there is none.
type Handler func(ch uint32, req []uint32) (payload []uint32, reply bool)

// Echo answers every request with its own payload.
func Echo(ch uint32, req []uint32) ([]uint32, bool) { return req[1:], true }

// Silent never answers.
func Silent(ch uint32, req []uint32) ([]uint32, bool) { return nil, false }

type peerChannel struct {
	ipc.ChannelConfig
	// The remote consumes our transmit ring and produces our receive ring.
	req  *ring.Consumer
	resp *ring.Producer
}

// Peer is the remote side of one layer.
type Peer struct {
	mbox *Mailbox
	w    *shm.Window

	mu       sync.Mutex
	channels map[uint32]*peerChannel
	handler  Handler
	// Answer each batch of requests last first.
	reverse bool
	delay   time.Duration
	served  int
}

func NewPeer(w *shm.Window, mbox *Mailbox, lc ipc.LayerConfig) (*Peer, error) {
	p := &Peer{
		mbox:     mbox,
		w:        w,
		channels: make(map[uint32]*peerChannel),
		handler:  Echo,
	}
	for _, cc := range lc.Channels {
		pc := &peerChannel{ChannelConfig: cc}
		if cc.Kind == ipc.Queue {
			var err error
			if pc.req, err = ring.NewConsumer(w, cc.TX); err != nil {
				return nil, err
			}
			if pc.resp, err = ring.NewProducer(w, cc.RX); err != nil {
				return nil, err
			}
		}
		p.channels[cc.Index] = pc
	}
	return p, nil
}

func (p *Peer) Handle(h Handler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Reverse has the peer answer each batch of requests out of order.
func (p *Peer) Reverse(v bool) {
	p.mu.Lock()
	p.reverse = v
	p.mu.Unlock()
}

// Delay holds each batch of responses for d.
func (p *Peer) Delay(d time.Duration) {
	p.mu.Lock()
	p.delay = d
	p.mu.Unlock()
}

// Served returns the number of requests taken.
func (p *Peer) Served() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.served
}

// Step serves every channel with pending requests and returns how many it
// took.
func (p *Peer) Step() (n int, err error) {
	p.mbox.Take()
	p.mu.Lock()
	handler, reverse, delay := p.handler, p.reverse, p.delay
	p.mu.Unlock()
	indices := make([]uint32, 0, len(p.channels))
	for i := range p.channels {
		indices = append(indices, i)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for _, i := range indices {
		pc := p.channels[i]
		reqs := p.requests(pc)
		if len(reqs) == 0 {
			continue
		}
		n += len(reqs)
		var resps [][]uint32
		for _, req := range reqs {
			payload, reply := handler(pc.Index, req)
			if !reply {
				continue
			}
			resp := make([]uint32, pc.RX.Words)
			resp[0] = req[0]
			copy(resp[1:], payload)
			resps = append(resps, resp)
		}
		if reverse {
			for l, r := 0, len(resps)-1; l < r; l, r = l+1, r-1 {
				resps[l], resps[r] = resps[r], resps[l]
			}
		}
		if delay > 0 && len(resps) > 0 {
			time.Sleep(delay)
		}
		for _, resp := range resps {
			if err = p.put(pc, resp); err != nil {
				return
			}
		}
	}
	p.mu.Lock()
	p.served += n
	p.mu.Unlock()
	return
}

func (p *Peer) requests(pc *peerChannel) (reqs [][]uint32) {
	if pc.Kind == ipc.Register {
		base := pc.TX.Base
		w := p.w.Load32(base)
		if w&ipc.Owner == 0 {
			return
		}
		req := make([]uint32, pc.TX.Words)
		p.w.ReadWords(base, req)
		req[0] = w &^ ipc.Owner
		p.w.Store32(base, 0)
		return [][]uint32{req}
	}
	for {
		req := make([]uint32, pc.TX.Words)
		if pc.req.Pop(req) != nil {
			return
		}
		reqs = append(reqs, req)
	}
}

// put publishes resp on our receive side and raises the channel's status.
func (p *Peer) put(pc *peerChannel, resp []uint32) error {
	bit := uint32(1) << (pc.Index + p.mbox.Layout().Shift)
	if pc.Kind == ipc.Register {
		base := pc.RX.Base
		for p.w.Load32(base)&ipc.Owner != 0 {
			time.Sleep(10 * time.Microsecond)
		}
		p.w.WriteWords(base+4, resp[1:pc.RX.Words])
		p.w.Store32(base, resp[0]|ipc.Owner)
		p.mbox.Post(bit)
		return nil
	}
	for i := 0; ; i++ {
		err := pc.resp.Push(resp)
		if err == nil {
			break
		}
		if err != ring.ErrFull || i == 100000 {
			return fmt.Errorf("sim: %d: %w", pc.Index, err)
		}
		// let our side drain
		p.mbox.Post(bit)
		time.Sleep(10 * time.Microsecond)
	}
	p.mbox.Post(bit)
	return nil
}

// Inject publishes an entry that answers no request.
func (p *Peer) Inject(ch uint32, entry []uint32) error {
	pc, found := p.channels[ch]
	if !found {
		return fmt.Errorf("sim: %d: no such channel", ch)
	}
	e := make([]uint32, pc.RX.Words)
	copy(e, entry)
	return p.put(pc, e)
}

// Run serves requests as doorbells ring until ctx is done.
func (p *Peer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.mbox.Rang():
		}
		if _, err := p.Step(); err != nil {
			return err
		}
	}
}
