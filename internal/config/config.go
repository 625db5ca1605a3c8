// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package config builds the ipc and dbg configurations from a flattened
// device tree blob with this layout, all cells big-endian u32.
//
//	esca {
//		timeout-us; tx-timeout-us; poll-retries; ap-slave;
//		layer@N {
//			layer = <N>;
//			mbox = <gen clear status mask selfgen>;
//			channel@M {
//				id = <M>; type = "queue" | "register";
//				rx = <base len words front rear>;
//				tx = <base len words front rear>;
//				polling; irq = "immediate" | "deferred";
//			};
//		};
//		log {
//			ring = <base len bytes front rear>; tick = <offset>;
//			tick-hz; period-ms; resync-ms; capacity; done = <offset>;
//		};
//		sram-dump@K { reg = <base size>; };
//	};
package config

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/platinasystems/esca/dbg"
	"github.com/platinasystems/esca/ipc"
	"github.com/platinasystems/esca/mailbox"
	"github.com/platinasystems/esca/ring"
	"github.com/platinasystems/fdt"
)

const (
	Magic = 0xd00dfeed

	headerSize = 40

	// Interrupt bits of the slave side start here.
	slaveShift = 16
)

var ErrMagic = errors.New("config: bad magic")

type Config struct {
	IPC ipc.Config
	// Nil without a log node.
	Log *dbg.Config
}

// ReadFile parses the blob in the named file.
func ReadFile(fn string) (*Config, error) {
	b, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	return cfg, nil
}

func Parse(blob []byte) (cfg *Config, err error) {
	if err = check(blob); err != nil {
		return
	}
	t := &fdt.Tree{Debug: false, IsLittleEndian: false}
	defer func() {
		// fdt indexes the blob without bounds checks
		if r := recover(); r != nil {
			cfg, err = nil, fmt.Errorf("config: malformed blob: %v", r)
		}
	}()
	t.Parse(blob)
	if t.RootNode == nil {
		return nil, errors.New("config: malformed blob: no root node")
	}
	var esca *fdt.Node
	t.MatchNode("esca", func(n *fdt.Node) {
		if esca == nil {
			esca = n
		}
	})
	if esca == nil {
		return nil, errors.New("config: no esca node")
	}
	p := &parser{t: t}
	cfg = p.esca(esca)
	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

func check(b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("config: %d byte blob is short", len(b))
	}
	if binary.BigEndian.Uint32(b) != Magic {
		return ErrMagic
	}
	size := binary.BigEndian.Uint32(b[4:])
	if size <= headerSize {
		return fmt.Errorf("config: total size %d is short", size)
	}
	if size > uint32(len(b)) {
		return fmt.Errorf("config: total size %d exceeds %d byte blob",
			size, len(b))
	}
	// An empty strings block may sit at the very end.
	for _, x := range []struct {
		off, limit uint32
	}{
		{binary.BigEndian.Uint32(b[8:]), size - 1},
		{binary.BigEndian.Uint32(b[12:]), size},
	} {
		if x.off < headerSize || x.off > x.limit {
			return fmt.Errorf("config: offset %#x out of range", x.off)
		}
	}
	return nil
}

// parser keeps the first error; later lookups return zero.
type parser struct {
	t    *fdt.Tree
	err  error
	path []string
}

func (p *parser) errorf(format string, args ...interface{}) {
	if p.err == nil {
		p.err = fmt.Errorf("config: %s: %s", strings.Join(p.path, "/"),
			fmt.Sprintf(format, args...))
	}
}

func (p *parser) enter(n *fdt.Node) { p.path = append(p.path, n.Name) }
func (p *parser) leave()            { p.path = p.path[:len(p.path)-1] }

func (p *parser) has(n *fdt.Node, name string) bool {
	_, found := n.Properties[name]
	return found
}

func (p *parser) u32(n *fdt.Node, name string, required bool) uint32 {
	b, found := n.Properties[name]
	if !found {
		if required {
			p.errorf("missing %s", name)
		}
		return 0
	}
	if len(b) != 4 {
		p.errorf("%s: %d bytes, want one cell", name, len(b))
		return 0
	}
	return p.t.PropUint32(b)
}

func (p *parser) cells(n *fdt.Node, name string, want int) []uint32 {
	b, found := n.Properties[name]
	if !found {
		p.errorf("missing %s", name)
		return make([]uint32, want)
	}
	if len(b) != 4*want {
		p.errorf("%s: %d bytes, want %d cells", name, len(b), want)
		return make([]uint32, want)
	}
	return p.t.PropUint32Slice(b)
}

func (p *parser) str(n *fdt.Node, name, def string) string {
	b, found := n.Properties[name]
	if !found || len(b) == 0 {
		return def
	}
	return p.t.PropString(b)
}

func (p *parser) esca(n *fdt.Node) *Config {
	p.enter(n)
	defer p.leave()
	cfg := &Config{}
	cfg.IPC.Timeout = time.Duration(p.u32(n, "timeout-us", false)) *
		time.Microsecond
	cfg.IPC.TxTimeout = time.Duration(p.u32(n, "tx-timeout-us", false)) *
		time.Microsecond
	cfg.IPC.PollRetries = int(p.u32(n, "poll-retries", false))
	var shift uint32
	if p.has(n, "ap-slave") {
		shift = slaveShift
	}
	var dumps []dbg.Region
	for _, c := range children(n) {
		switch unit(c.Name) {
		case "layer":
			cfg.IPC.Layers = append(cfg.IPC.Layers, p.layer(c, shift))
		case "log":
			cfg.Log = p.log(c)
		case "sram-dump":
			reg := p.cells(c, "reg", 2)
			dumps = append(dumps, dbg.Region{
				Name: c.Name,
				Base: reg[0],
				Size: reg[1],
			})
		}
	}
	sort.Slice(cfg.IPC.Layers, func(i, j int) bool {
		return cfg.IPC.Layers[i].Layer < cfg.IPC.Layers[j].Layer
	})
	if cfg.Log != nil {
		cfg.Log.Dumps = dumps
	} else if len(dumps) > 0 {
		p.errorf("sram-dump without log")
	}
	return cfg
}

func (p *parser) layer(n *fdt.Node, shift uint32) ipc.LayerConfig {
	p.enter(n)
	defer p.leave()
	lc := ipc.LayerConfig{Layer: ipc.LayerID(p.u32(n, "layer", true))}
	if lc.Layer >= ipc.NLayers {
		p.errorf("layer %d out of range", lc.Layer)
	}
	mbox := p.cells(n, "mbox", 5)
	lc.Mailbox = mailbox.Layout{
		Gen:     mbox[0],
		Clear:   mbox[1],
		Status:  mbox[2],
		Mask:    mbox[3],
		SelfGen: mbox[4],
		Shift:   shift,
	}
	for _, c := range children(n) {
		if unit(c.Name) == "channel" {
			lc.Channels = append(lc.Channels, p.channel(c))
		}
	}
	sort.Slice(lc.Channels, func(i, j int) bool {
		return lc.Channels[i].Index < lc.Channels[j].Index
	})
	return lc
}

func (p *parser) channel(n *fdt.Node) ipc.ChannelConfig {
	p.enter(n)
	defer p.leave()
	cc := ipc.ChannelConfig{
		Index:   p.u32(n, "id", true),
		Name:    p.str(n, "label", n.Name),
		Polling: p.has(n, "polling"),
	}
	switch s := p.str(n, "type", "queue"); s {
	case "queue":
		cc.Kind = ipc.Queue
	case "register":
		cc.Kind = ipc.Register
	default:
		p.errorf("type %q", s)
	}
	switch s := p.str(n, "irq", "immediate"); s {
	case "immediate":
		cc.IRQ = ipc.Immediate
	case "deferred":
		cc.IRQ = ipc.Deferred
	default:
		p.errorf("irq %q", s)
	}
	cc.RX = p.ring(n, "rx")
	cc.TX = p.ring(n, "tx")
	return cc
}

func (p *parser) ring(n *fdt.Node, name string) ring.Layout {
	v := p.cells(n, name, 5)
	return ring.Layout{
		Base:  v[0],
		Len:   v[1],
		Words: v[2],
		Front: v[3],
		Rear:  v[4],
	}
}

func (p *parser) log(n *fdt.Node) *dbg.Config {
	p.enter(n)
	defer p.leave()
	v := p.cells(n, "ring", 5)
	if v[2]%4 != 0 {
		p.errorf("ring: %d byte records", v[2])
	}
	return &dbg.Config{
		Ring: ring.Layout{
			Base:  v[0],
			Len:   v[1],
			Words: v[2] / 4,
			Front: v[3],
			Rear:  v[4],
		},
		Tick:     p.u32(n, "tick", true),
		TickHz:   uint64(p.u32(n, "tick-hz", true)),
		Period:   time.Duration(p.u32(n, "period-ms", false)) * time.Millisecond,
		Resync:   time.Duration(p.u32(n, "resync-ms", false)) * time.Millisecond,
		Capacity: int(p.u32(n, "capacity", false)),
		Marker:   p.u32(n, "done", false),
	}
}

// children in name order
func children(n *fdt.Node) []*fdt.Node {
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	nodes := make([]*fdt.Node, len(names))
	for i, name := range names {
		nodes[i] = n.Children[name]
	}
	return nodes
}

// unit strips the unit address, "layer@1" is "layer".
func unit(name string) string {
	if i := strings.IndexByte(name, '@'); i >= 0 {
		return name[:i]
	}
	return name
}
