// Copyright 2018 The gVisor Authors.
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

package pagetables

import (
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/sync"
)

// Allocator is used to allocate and map PTEs.
//
// Note that allocators may be called concurrently.
type Allocator interface {
	// NewPTEs returns a new set of PTEs and their physical address.
	NewPTEs() (*PTEs, error)

	// PhysicalFor gives the physical address for a set of PTEs.
	PhysicalFor(ptes *PTEs) uintptr

	// LookupPTEs looks up PTEs by physical address. It returns nil if no
	// table lives there.
	LookupPTEs(physical uintptr) *PTEs

	// FreePTEs marks a set of PTEs a freed.
	FreePTEs(ptes *PTEs)
}

// FrameSource hands out physical frames. *physmem.Memory implements it.
type FrameSource interface {
	Allocate() (uintptr, error)
	Free(pa uintptr)
}

// FrameAllocator backs every table with a frame from a FrameSource, so that
// table memory is accounted like any other physical memory.
type FrameAllocator struct {
	src     FrameSource
	entries int

	mu      sync.RWMutex
	byPhys  map[uintptr]*PTEs
	physFor map[*PTEs]uintptr
}

// NewFrameAllocator returns an allocator of tables with g.Entries() entries.
func NewFrameAllocator(src FrameSource, g Geometry) *FrameAllocator {
	return &FrameAllocator{
		src:     src,
		entries: g.Entries(),
		byPhys:  make(map[uintptr]*PTEs),
		physFor: make(map[*PTEs]uintptr),
	}
}

// NewPTEs implements Allocator.NewPTEs.
func (a *FrameAllocator) NewPTEs() (*PTEs, error) {
	pa, err := a.src.Allocate()
	if err != nil {
		return nil, err
	}
	ptes := newPTEs(a.entries)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byPhys[pa] = ptes
	a.physFor[ptes] = pa
	return ptes, nil
}

// PhysicalFor implements Allocator.PhysicalFor.
func (a *FrameAllocator) PhysicalFor(ptes *PTEs) uintptr {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.physFor[ptes]
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *FrameAllocator) LookupPTEs(physical uintptr) *PTEs {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.byPhys[physical]
}

// FreePTEs implements Allocator.FreePTEs.
func (a *FrameAllocator) FreePTEs(ptes *PTEs) {
	a.mu.Lock()
	pa, ok := a.physFor[ptes]
	delete(a.physFor, ptes)
	delete(a.byPhys, pa)
	a.mu.Unlock()
	if ok {
		a.src.Free(pa)
	}
}

// Tables returns the number of live tables.
func (a *FrameAllocator) Tables() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.byPhys)
}

// RuntimeAllocator is a trivial allocator that uses the Go heap and
// fabricates physical addresses. It is intended for tests.
type RuntimeAllocator struct {
	inner *FrameAllocator
}

// runtimeFrames counts fabricated frames; it never reuses an address.
type runtimeFrames struct {
	mu   sync.Mutex
	next uintptr
}

func (r *runtimeFrames) Allocate() (uintptr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next += hostarch.PageSize
	return r.next, nil
}

func (*runtimeFrames) Free(uintptr) {}

// NewRuntimeAllocator returns an allocator that uses runtime allocation.
func NewRuntimeAllocator(g Geometry) *RuntimeAllocator {
	return &RuntimeAllocator{inner: NewFrameAllocator(&runtimeFrames{}, g)}
}

// NewPTEs implements Allocator.NewPTEs.
func (r *RuntimeAllocator) NewPTEs() (*PTEs, error) { return r.inner.NewPTEs() }

// PhysicalFor implements Allocator.PhysicalFor.
func (r *RuntimeAllocator) PhysicalFor(ptes *PTEs) uintptr { return r.inner.PhysicalFor(ptes) }

// LookupPTEs implements Allocator.LookupPTEs.
func (r *RuntimeAllocator) LookupPTEs(physical uintptr) *PTEs { return r.inner.LookupPTEs(physical) }

// FreePTEs implements Allocator.FreePTEs.
func (r *RuntimeAllocator) FreePTEs(ptes *PTEs) { r.inner.FreePTEs(ptes) }

// Tables returns the number of live tables.
func (r *RuntimeAllocator) Tables() int { return r.inner.Tables() }
