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

// Package pagetables provides a generic implementation of pagetables.
//
// The same radix walker serves every supported architecture: only the number
// of levels and the number of index bits per level differ, and both come
// from the layout's Arch. Entries are read and written atomically so that
// the MMU may walk a table while the owning address space updates it.
package pagetables

import (
	"fmt"

	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/layout"
)

// Geometry is the shape of a page table radix tree.
type Geometry struct {
	// Levels is the number of table levels, root included.
	Levels int

	// LevelBits is the number of virtual address bits indexing each level.
	LevelBits uint
}

// GeometryFor returns the page table shape of arch.
func GeometryFor(arch *layout.Arch) Geometry {
	return Geometry{Levels: arch.PageTableLevels, LevelBits: arch.LevelBits}
}

// Entries returns the number of entries in one table.
func (g Geometry) Entries() int {
	return 1 << g.LevelBits
}

// shift returns the address shift of the given level; level 0 holds the
// leaf entries.
func (g Geometry) shift(level int) uint {
	return hostarch.PageShift + uint(level)*g.LevelBits
}

// index returns the entry index of addr at level.
func (g Geometry) index(addr uintptr, level int) int {
	return int((uint64(addr) >> g.shift(level)) & uint64(g.Entries()-1))
}

// PageTables is a page table.
type PageTables struct {
	// Allocator is used to allocate nodes.
	Allocator Allocator

	geometry Geometry

	// root is the pagetable root.
	root *PTEs

	// rootPhysical is the cached physical address of the root.
	rootPhysical uintptr
}

// New returns new PageTables with a freshly allocated root.
func New(a Allocator, g Geometry) (*PageTables, error) {
	if g.Levels < 1 || g.LevelBits == 0 {
		return nil, fmt.Errorf("invalid page table geometry %+v", g)
	}
	root, err := a.NewPTEs()
	if err != nil {
		return nil, err
	}
	return &PageTables{
		Allocator:    a,
		geometry:     g,
		root:         root,
		rootPhysical: a.PhysicalFor(root),
	}, nil
}

// Geometry returns the shape of the tables.
func (p *PageTables) Geometry() Geometry {
	return p.geometry
}

// RootPhysical returns the physical address of the root table.
func (p *PageTables) RootPhysical() uintptr {
	return p.rootPhysical
}

// mapVisitor is used for map.
type mapVisitor struct {
	target   uintptr // Input.
	physical uintptr // Input.
	opts     MapOpts // Input.
	prev     bool    // Output.
}

// visit is used for map.
func (v *mapVisitor) visit(start uintptr, pte *PTE) bool {
	p := v.physical + (start - v.target)
	if pte.Valid() && (pte.Address() != p || pte.Opts() != v.opts) {
		v.prev = true
	}
	pte.Set(p, v.opts)
	return true
}

func (*mapVisitor) requiresAlloc() bool { return true }

// Map installs a mapping with the given physical address.
//
// True is returned iff there was a previous mapping in the range that
// changed.
//
// Precondition: addr & length must be page-aligned, their sum must not
// overflow.
func (p *PageTables) Map(addr hostarch.Addr, length uintptr, opts MapOpts, physical uintptr) (bool, error) {
	if !opts.AccessType.Any() {
		return p.Unmap(addr, length), nil
	}
	opts.AccessType = opts.AccessType.Effective()
	w := walker{
		pageTables: p,
		visitor: &mapVisitor{
			target:   uintptr(addr),
			physical: physical,
			opts:     opts,
		},
	}
	if err := w.iterateRange(uintptr(addr), uintptr(addr)+length); err != nil {
		return false, err
	}
	return w.visitor.(*mapVisitor).prev, nil
}

// unmapVisitor is used for unmap.
type unmapVisitor struct {
	count int
}

func (*unmapVisitor) requiresAlloc() bool { return false }

// visit unmaps the given entry.
func (v *unmapVisitor) visit(start uintptr, pte *PTE) bool {
	pte.Clear()
	v.count++
	return true
}

// Unmap unmaps the given range.
//
// True is returned iff there was a previous mapping in the range.
//
// Precondition: addr & length must be page-aligned, their sum must not
// overflow.
func (p *PageTables) Unmap(addr hostarch.Addr, length uintptr) bool {
	w := walker{
		pageTables: p,
		visitor:    &unmapVisitor{},
	}
	// Unmap never allocates.
	_ = w.iterateRange(uintptr(addr), uintptr(addr)+length)
	return w.visitor.(*unmapVisitor).count > 0
}

// emptyVisitor is used for emptiness checks.
type emptyVisitor struct {
	count int
}

func (*emptyVisitor) requiresAlloc() bool { return false }

// visit unmaps the given entry.
func (v *emptyVisitor) visit(start uintptr, pte *PTE) bool {
	v.count++
	return true
}

// IsEmpty checks if the given range is empty.
//
// Precondition: addr & length must be page-aligned.
func (p *PageTables) IsEmpty(addr hostarch.Addr, length uintptr) bool {
	w := walker{
		pageTables: p,
		visitor:    &emptyVisitor{},
	}
	_ = w.iterateRange(uintptr(addr), uintptr(addr)+length)
	return w.visitor.(*emptyVisitor).count == 0
}

// Lookup returns the physical address and options of the page containing
// addr. ok is false if no valid entry maps it.
//
// Lookup does not allocate and may run concurrently with Map and Unmap.
func (p *PageTables) Lookup(addr hostarch.Addr) (physical uintptr, opts MapOpts, ok bool) {
	g := p.geometry
	entries := p.root
	for level := g.Levels - 1; level >= 0; level-- {
		pte := &entries.entries[g.index(uintptr(addr), level)]
		if !pte.Valid() {
			return 0, MapOpts{}, false
		}
		if level == 0 {
			return pte.Address() + uintptr(addr.PageOffset()), pte.Opts(), true
		}
		entries = p.Allocator.LookupPTEs(pte.Address())
		if entries == nil {
			return 0, MapOpts{}, false
		}
	}
	panic("unreachable")
}

// Release frees every table, root included. The PageTables must not be used
// afterwards.
func (p *PageTables) Release() {
	p.releaseLevel(p.root, p.geometry.Levels-1)
	p.Allocator.FreePTEs(p.root)
	p.root = nil
	p.rootPhysical = 0
}

func (p *PageTables) releaseLevel(entries *PTEs, level int) {
	if level == 0 {
		return
	}
	for i := range entries.entries {
		pte := &entries.entries[i]
		if !pte.Valid() {
			continue
		}
		next := p.Allocator.LookupPTEs(pte.Address())
		pte.Clear()
		if next == nil {
			continue
		}
		p.releaseLevel(next, level-1)
		p.Allocator.FreePTEs(next)
	}
}
