// Copyright © 2026 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package shm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/platinasystems/esca/internal/test"
)

func TestWords(t *testing.T) {
	assert := test.Assert{TB: t}
	w := New(64)
	assert.True(w.Len() == 64)
	w.WriteWords(8, []uint32{1, 2, 3})
	got := make([]uint32, 4)
	w.ReadWords(4, got)
	assert.True(got[0] == 0 && got[1] == 1 && got[2] == 2 && got[3] == 3)
	w.ZeroWords(12, 1)
	assert.True(w.Load32(12) == 0)
	assert.True(w.Load32(16) == 3)
}

func TestCheck(t *testing.T) {
	assert := test.Assert{TB: t}
	w := New(16)
	assert.Nil(w.Check(12, 4))
	assert.NonNil(w.Check(13, 4))
	assert.NonNil(w.Check(12, 8))
	defer func() {
		assert.True(recover() != nil)
	}()
	w.Load32(16)
}

func TestCopyOut(t *testing.T) {
	assert := test.Assert{TB: t}
	w := New(16)
	w.Store32(4, 0x04030201)
	b := make([]byte, 8)
	assert.Nil(w.CopyOut(0, b))
	assert.True(b[4] != 0 || b[7] != 0)
	assert.NonNil(w.CopyOut(0, make([]byte, 3)))
	assert.NonNil(w.CopyOut(8, make([]byte, 16)))
}

func TestOpen(t *testing.T) {
	assert := test.Assert{TB: t}
	fn := filepath.Join(t.TempDir(), "shm")
	assert.Nil(os.WriteFile(fn, make([]byte, 4096), 0600))
	w, err := Open(fn, 0, 4096)
	assert.Nil(err)
	w.Store32(0x100, 0xdeadbeef)
	assert.Nil(w.Close())

	w, err = Open(fn, 0, 4096)
	assert.Nil(err)
	defer w.Close()
	assert.True(w.Load32(0x100) == 0xdeadbeef)
}
