// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package ipc

import (
	"fmt"
	"strconv"
	"strings"
)

// LayerID selects one of the remote execution layers.
type LayerID uint32

const (
	App LayerID = iota
	Phy0
	Phy1
	NLayers
)

var layerNames = [...]string{
	App:  "app",
	Phy0: "phy0",
	Phy1: "phy1",
}

func (l LayerID) String() string {
	if l < NLayers {
		return layerNames[l]
	}
	return "layer" + strconv.Itoa(int(l))
}

// ID is the composite channel identifier: layer in bits 9..8, channel index
// in bits 7..0.
type ID uint32

const (
	layerShift = 8
	layerMask  = 0x3
	indexMask  = 0xff
)

func MakeID(l LayerID, index uint32) ID {
	return ID((uint32(l)&layerMask)<<layerShift | index&indexMask)
}

func (id ID) Split() (LayerID, uint32) {
	return LayerID(uint32(id) >> layerShift & layerMask),
		uint32(id) & indexMask
}

func (id ID) Layer() LayerID { l, _ := id.Split(); return l }
func (id ID) Index() uint32  { _, i := id.Split(); return i }

func (id ID) String() string {
	l, i := id.Split()
	return fmt.Sprintf("%v/%d", l, i)
}

// ParseID accepts LAYER/INDEX, as printed by ID.String, or a number.
func ParseID(s string) (ID, error) {
	name, index, found := strings.Cut(s, "/")
	if !found {
		v, err := strconv.ParseUint(s, 0, 10)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", s, err)
		}
		return ID(v), nil
	}
	l, err := ParseLayer(name)
	if err != nil {
		return 0, fmt.Errorf("%s: unknown layer", s)
	}
	v, err := strconv.ParseUint(index, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", s, err)
	}
	return MakeID(l, uint32(v)), nil
}

// ParseLayer accepts a layer name or number.
func ParseLayer(s string) (LayerID, error) {
	for l := LayerID(0); l < NLayers; l++ {
		if l.String() == s {
			return l, nil
		}
	}
	if v, err := strconv.ParseUint(s, 0, 2); err == nil &&
		LayerID(v) < NLayers {
		return LayerID(v), nil
	}
	return 0, fmt.Errorf("%s: unknown layer", s)
}
