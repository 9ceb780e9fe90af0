// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package physmem

import (
	"testing"

	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
)

func TestNewTooSmall(t *testing.T) {
	if _, err := New(hostarch.PageSize); err == nil {
		t.Errorf("New(one page): got nil error")
	}
}

func TestAllocateNeverReturnsNull(t *testing.T) {
	m, err := New(4 * hostarch.PageSize)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	seen := map[uintptr]bool{}
	for i := 0; i < 3; i++ {
		pa, err := m.Allocate()
		if err != nil {
			t.Fatalf("Allocate #%d failed: %v", i, err)
		}
		if pa == 0 {
			t.Fatalf("Allocate returned the null frame")
		}
		if pa%hostarch.PageSize != 0 {
			t.Errorf("Allocate returned unaligned %#x", pa)
		}
		if seen[pa] {
			t.Errorf("Allocate returned %#x twice", pa)
		}
		seen[pa] = true
	}
	if _, err := m.Allocate(); !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Errorf("Allocate on an exhausted pool: got %v, wanted ENOMEM", err)
	}
	if got := m.FreeFrames(); got != 0 {
		t.Errorf("FreeFrames: got %d, wanted 0", got)
	}
}

func TestFreedFramesAreZeroedOnReuse(t *testing.T) {
	m, err := New(2 * hostarch.PageSize)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	pa, err := m.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	copy(m.Bytes(pa, 4), []byte{1, 2, 3, 4})
	m.Free(pa)
	if m.Allocated(pa) {
		t.Errorf("Allocated(%#x) after Free: got true", pa)
	}
	pa2, err := m.Allocate()
	if err != nil {
		t.Fatalf("second Allocate failed: %v", err)
	}
	if pa2 != pa {
		t.Fatalf("got frame %#x, wanted the freed frame %#x", pa2, pa)
	}
	for i, b := range m.Bytes(pa2, 4) {
		if b != 0 {
			t.Errorf("byte %d of reused frame: got %d, wanted 0", i, b)
		}
	}
}

func TestFreeUnallocatedPanics(t *testing.T) {
	m, err := New(2 * hostarch.PageSize)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("Free of an unallocated frame did not panic")
		}
	}()
	m.Free(hostarch.PageSize)
}

func TestBytesCrossingFramePanics(t *testing.T) {
	m, err := New(4 * hostarch.PageSize)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("Bytes across a frame boundary did not panic")
		}
	}()
	m.Bytes(2*hostarch.PageSize-2, 4)
}

func TestAtomics(t *testing.T) {
	m, err := New(2 * hostarch.PageSize)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	pa, err := m.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if old := m.SwapUint32(pa+8, 7); old != 0 {
		t.Errorf("SwapUint32: got old %d, wanted 0", old)
	}
	if got := m.CompareAndSwapUint32(pa+8, 1, 9); got != 7 {
		t.Errorf("failing CompareAndSwapUint32: got %d, wanted 7", got)
	}
	if got := m.CompareAndSwapUint32(pa+8, 7, 9); got != 7 {
		t.Errorf("CompareAndSwapUint32: got %d, wanted 7", got)
	}
	if got := m.LoadUint32(pa + 8); got != 9 {
		t.Errorf("LoadUint32: got %d, wanted 9", got)
	}
	if got := hostarch.ByteOrder.Uint32(m.Bytes(pa+8, 4)); got != 9 {
		t.Errorf("little-endian view: got %d, wanted 9", got)
	}
}
