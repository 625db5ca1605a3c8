// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Open maps size bytes of path, starting at byte offset off, shared and
// writable. path is typically /dev/mem, a UIO map, or a file under /dev/shm.
func Open(path string, off int64, size int) (*Window, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	defer unix.Close(fd)
	b, err := unix.Mmap(fd, off, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %s@%#x: %w", path, off, err)
	}
	return &Window{b: b, unmap: unix.Munmap}, nil
}
