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

// Package physmem provides the machine's physical memory: a fixed pool of
// page frames and an allocator over them.
//
// Frame contents are plain memory. Concurrent accesses to the same bytes
// race exactly as they would on hardware; callers that need atomicity use
// the Uint32 helpers.
package physmem

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/wenhaozhao/redox-os-kernel/pkg/bitmap"
	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/sync"
)

// MinFrames is the smallest pool New accepts: the reserved null frame plus
// one usable frame.
const MinFrames = 2

// Memory is a pool of physical frames.
type Memory struct {
	// data is the backing store. It is never resized.
	data []byte

	mu sync.Mutex

	// used tracks allocated frames. Frame 0 is always set so that physical
	// address 0 is never handed out.
	//
	// +checklocks:mu
	used bitmap.Bitmap
}

// New returns a pool of size bytes, rounded down to whole frames.
func New(size uint64) (*Memory, error) {
	frames := size / hostarch.PageSize
	if frames < MinFrames {
		return nil, fmt.Errorf("physical memory of %d bytes is smaller than %d frames", size, MinFrames)
	}
	if frames > uint64(bitmap.MaxBitEntryLimit) {
		return nil, fmt.Errorf("physical memory of %d bytes exceeds %d frames", size, bitmap.MaxBitEntryLimit)
	}
	m := &Memory{
		data: make([]byte, frames*hostarch.PageSize),
		used: bitmap.New(uint32(frames)),
	}
	m.used.Add(0)
	return m, nil
}

// Size returns the size of the pool in bytes.
func (m *Memory) Size() uint64 {
	return uint64(len(m.data))
}

// Frames returns the number of frames in the pool, including the reserved
// null frame.
func (m *Memory) Frames() uint64 {
	return uint64(len(m.data)) / hostarch.PageSize
}

// FreeFrames returns the number of frames available for allocation.
func (m *Memory) FreeFrames() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Frames() - uint64(m.used.GetNumOnes())
}

// Allocate returns the physical address of a zeroed frame. It fails with
// ENOMEM when the pool is exhausted.
func (m *Memory) Allocate() (uintptr, error) {
	m.mu.Lock()
	frame, err := m.used.FirstZero(1)
	if err != nil {
		m.mu.Unlock()
		return 0, linuxerr.ENOMEM
	}
	m.used.Add(frame)
	m.mu.Unlock()

	pa := uintptr(frame) * hostarch.PageSize
	clear(m.data[pa : pa+hostarch.PageSize])
	return pa, nil
}

// Free returns the frame at pa to the pool.
//
// Preconditions: pa was returned by Allocate and has not been freed.
func (m *Memory) Free(pa uintptr) {
	frame := m.frameOf(pa)
	m.mu.Lock()
	defer m.mu.Unlock()
	if frame == 0 || !m.used.IsSet(frame) {
		panic(fmt.Sprintf("freeing unallocated frame %#x", pa))
	}
	m.used.Remove(frame)
}

// Allocated returns true if the frame containing pa is allocated.
func (m *Memory) Allocated(pa uintptr) bool {
	if uint64(pa) >= m.Size() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used.IsSet(m.frameOf(pa))
}

func (m *Memory) frameOf(pa uintptr) uint32 {
	if uint64(pa) >= m.Size() {
		panic(fmt.Sprintf("physical address %#x beyond memory of %#x bytes", pa, m.Size()))
	}
	return uint32(uint64(pa) / hostarch.PageSize)
}

// Bytes returns the n bytes at pa. The range must not cross a frame.
func (m *Memory) Bytes(pa uintptr, n int) []byte {
	off := uint64(pa) % hostarch.PageSize
	if n < 0 || off+uint64(n) > hostarch.PageSize {
		panic(fmt.Sprintf("access of %d bytes at %#x crosses a frame", n, pa))
	}
	m.frameOf(pa)
	return m.data[pa : pa+uintptr(n) : pa+uintptr(n)]
}

// uint32At returns the 32-bit word at pa, which must be 4-byte aligned.
func (m *Memory) uint32At(pa uintptr) *uint32 {
	if pa%4 != 0 {
		panic(fmt.Sprintf("unaligned 32-bit access at %#x", pa))
	}
	b := m.Bytes(pa, 4)
	return (*uint32)(unsafe.Pointer(&b[0]))
}

// LoadUint32 atomically loads the word at pa.
func (m *Memory) LoadUint32(pa uintptr) uint32 {
	return atomic.LoadUint32(m.uint32At(pa))
}

// SwapUint32 atomically stores new at pa and returns the previous value.
func (m *Memory) SwapUint32(pa uintptr, new uint32) uint32 {
	return atomic.SwapUint32(m.uint32At(pa), new)
}

// CompareAndSwapUint32 atomically replaces old with new at pa and returns
// the value found there.
func (m *Memory) CompareAndSwapUint32(pa uintptr, old, new uint32) uint32 {
	p := m.uint32At(pa)
	for {
		if atomic.CompareAndSwapUint32(p, old, new) {
			return old
		}
		if cur := atomic.LoadUint32(p); cur != old {
			return cur
		}
	}
}
