// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package ipc

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// UIO is the interrupt of a userspace I/O device, /dev/uioN. A read blocks
// until the next interrupt and returns its count; writing 1 unmasks it.
type UIO struct {
	name  string
	fd    int
	count uint32
}

func OpenUIO(name string) (*UIO, error) {
	fd, err := unix.Open(name, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &UIO{name: name, fd: fd}, nil
}

func (u *UIO) Wait() error {
	var b [4]byte
	n, err := unix.Read(u.fd, b[:])
	if err != nil {
		return fmt.Errorf("%s: %w", u.name, err)
	}
	if n != len(b) {
		return fmt.Errorf("%s: short read", u.name)
	}
	u.count = binary.NativeEndian.Uint32(b[:])
	return nil
}

func (u *UIO) Enable() error {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], 1)
	if _, err := unix.Write(u.fd, b[:]); err != nil {
		return fmt.Errorf("%s: %w", u.name, err)
	}
	return nil
}

// Count is the interrupt count as of the last Wait.
func (u *UIO) Count() uint32 { return u.count }

func (u *UIO) Close() error {
	if u.fd < 0 {
		return nil
	}
	err := unix.Close(u.fd)
	u.fd = -1
	return err
}
