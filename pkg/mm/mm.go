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

// Package mm provides the per-context address space.
//
// An AddressSpace owns one page table root and the user mappings installed
// in it. Its bookkeeping (the vma set) is what the user-copy engine consults
// for a coarse pre-check; the page tables are what the MMU enforces.
//
// Lock order:
//
//	AddressSpace.mu
//	  physmem.Memory.mu
//	  pagetables.FrameAllocator.mu
package mm

import (
	goerrors "errors"
	"fmt"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/layout"
	"github.com/wenhaozhao/redox-os-kernel/pkg/log"
	"github.com/wenhaozhao/redox-os-kernel/pkg/physmem"
	"github.com/wenhaozhao/redox-os-kernel/pkg/ring0/pagetables"
	"github.com/wenhaozhao/redox-os-kernel/pkg/sync"
)

// MinAddr is the lowest address that may be mapped. The page at 0 stays
// unmapped so that null pointers always fault.
const MinAddr = hostarch.Addr(hostarch.PageSize)

// ErrReleased is returned by operations on a released AddressSpace.
var ErrReleased = goerrors.New("address space released")

// lastID is the last allocated address space ID.
var lastID atomic.Uint64

// AddressSpace is the set of user mappings of one execution context.
type AddressSpace struct {
	id   uint64
	arch *layout.Arch
	mem  *physmem.Memory

	// mu protects the fields below. The MMU walks the page tables under the
	// read lock, so mapping changes are atomic with respect to accesses.
	mu sync.RWMutex

	// +checklocks:mu
	pt *pagetables.PageTables

	// vmas is ordered by start address; entries never overlap.
	//
	// +checklocks:mu
	vmas *btree.BTreeG[vma]

	// frames maps each mapped page to its backing frame. Pages with no
	// access keep their frame but have no valid entry.
	//
	// +checklocks:mu
	frames map[hostarch.Addr]uintptr

	// owner is the context the space is attached to, if any.
	//
	// +checklocks:mu
	owner any

	// +checklocks:mu
	released bool
}

// New returns an empty address space for arch with a freshly allocated page
// table root.
func New(arch *layout.Arch, mem *physmem.Memory) (*AddressSpace, error) {
	g := pagetables.GeometryFor(arch)
	pt, err := pagetables.New(pagetables.NewFrameAllocator(mem, g), g)
	if err != nil {
		return nil, fmt.Errorf("allocating page table root: %w", err)
	}
	as := &AddressSpace{
		id:     lastID.Add(1),
		arch:   arch,
		mem:    mem,
		pt:     pt,
		vmas:   btree.NewG(8, vmaLess),
		frames: make(map[hostarch.Addr]uintptr),
	}
	log.Debugf("mm: address space %d created, root %#x", as.id, pt.RootPhysical())
	return as, nil
}

// ID returns a unique identifier of the address space.
func (as *AddressSpace) ID() uint64 {
	return as.id
}

// Arch returns the architecture of the address space.
func (as *AddressSpace) Arch() *layout.Arch {
	return as.arch
}

// RootPhysical returns the physical address of the page table root, or 0
// once released.
func (as *AddressSpace) RootPhysical() uintptr {
	as.mu.RLock()
	defer as.mu.RUnlock()
	if as.released {
		return 0
	}
	return as.pt.RootPhysical()
}

// checkRange validates a page-aligned, non-empty user range.
func (as *AddressSpace) checkRange(ar hostarch.AddrRange) error {
	if !ar.WellFormed() || ar.Length() == 0 || !ar.IsPageAligned() {
		return linuxerr.EINVAL
	}
	if ar.Start < MinAddr || ar.End > as.arch.UserTop {
		return linuxerr.EINVAL
	}
	return nil
}

func leafOpts(perms hostarch.AccessType) pagetables.MapOpts {
	return pagetables.MapOpts{AccessType: perms, User: true}
}

// Map maps zeroed memory over ar with the given permissions. ar must not
// overlap an existing mapping.
func (as *AddressSpace) Map(ar hostarch.AddrRange, perms hostarch.AccessType) error {
	if err := as.checkRange(ar); err != nil {
		return err
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.released {
		return ErrReleased
	}
	if as.overlapsLocked(ar) {
		return linuxerr.EEXIST
	}

	for addr := ar.Start; addr < ar.End; addr += hostarch.PageSize {
		pa, err := as.mem.Allocate()
		if err == nil {
			_, err = as.pt.Map(addr, hostarch.PageSize, leafOpts(perms), pa)
			if err != nil {
				as.mem.Free(pa)
			}
		}
		if err != nil {
			// Roll back the pages mapped so far.
			as.unmapPagesLocked(hostarch.AddrRange{Start: ar.Start, End: addr})
			return err
		}
		as.frames[addr] = pa
	}
	as.vmas.ReplaceOrInsert(vma{ar: ar, perms: perms})
	log.Debugf("mm: %d: mapped %v %v", as.id, ar, perms)
	return nil
}

// Unmap removes every mapping in ar. Unmapping a range with no mappings is
// not an error.
func (as *AddressSpace) Unmap(ar hostarch.AddrRange) error {
	if err := as.checkRange(ar); err != nil {
		return err
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.released {
		return ErrReleased
	}
	for _, v := range as.intersectingLocked(ar) {
		as.vmas.Delete(v)
		for _, rest := range v.subtract(ar) {
			as.vmas.ReplaceOrInsert(rest)
		}
		as.unmapPagesLocked(v.ar.Intersect(ar))
	}
	log.Debugf("mm: %d: unmapped %v", as.id, ar)
	return nil
}

// Protect changes the permissions of ar, which must be entirely mapped.
func (as *AddressSpace) Protect(ar hostarch.AddrRange, perms hostarch.AccessType) error {
	if err := as.checkRange(ar); err != nil {
		return err
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.released {
		return ErrReleased
	}
	vs := as.intersectingLocked(ar)
	if !covers(vs, ar) {
		// Consistent with mprotect(2) on a range with holes.
		return linuxerr.ENOMEM
	}
	for _, v := range vs {
		as.vmas.Delete(v)
		for _, rest := range v.subtract(ar) {
			as.vmas.ReplaceOrInsert(rest)
		}
		in := v.ar.Intersect(ar)
		as.vmas.ReplaceOrInsert(vma{ar: in, perms: perms})
		for addr := in.Start; addr < in.End; addr += hostarch.PageSize {
			if _, err := as.pt.Map(addr, hostarch.PageSize, leafOpts(perms), as.frames[addr]); err != nil {
				return err
			}
		}
	}
	log.Debugf("mm: %d: protected %v %v", as.id, ar, perms)
	return nil
}

// unmapPagesLocked clears the entries of ar and frees their frames.
//
// +checklocks:as.mu
func (as *AddressSpace) unmapPagesLocked(ar hostarch.AddrRange) {
	if ar.Length() == 0 {
		return
	}
	as.pt.Unmap(ar.Start, uintptr(ar.Length()))
	for addr := ar.Start; addr < ar.End; addr += hostarch.PageSize {
		if pa, ok := as.frames[addr]; ok {
			delete(as.frames, addr)
			as.mem.Free(pa)
		}
	}
}

// Translate returns the physical address addr maps to.
func (as *AddressSpace) Translate(addr hostarch.Addr) (uintptr, bool) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	if as.released {
		return 0, false
	}
	pa, _, ok := as.pt.Lookup(addr)
	return pa, ok
}

// PermissionOf returns the permissions of the mapping containing addr.
func (as *AddressSpace) PermissionOf(addr hostarch.Addr) (hostarch.AccessType, bool) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	if as.released {
		return hostarch.NoAccess, false
	}
	v, ok := as.findLocked(addr)
	if !ok {
		return hostarch.NoAccess, false
	}
	return v.perms, true
}

// Access calls fn with the page table translation of addr, holding the
// mapping stable for the duration of the call. fn must not fault or block.
//
// A page mapped with no access has no page table entry. It is still
// reported present, with empty permissions, so that faults on it are
// permission faults.
func (as *AddressSpace) Access(addr hostarch.Addr, fn func(pa uintptr, opts pagetables.MapOpts, ok bool)) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	if as.released {
		fn(0, pagetables.MapOpts{}, false)
		return
	}
	pa, opts, ok := as.pt.Lookup(addr)
	if !ok {
		if frame, mapped := as.frames[addr.RoundDown()]; mapped {
			fn(frame+uintptr(addr.PageOffset()), leafOpts(hostarch.NoAccess), true)
			return
		}
	}
	fn(pa, opts, ok)
}

// Mapping describes one mapping, for diagnostics.
type Mapping struct {
	Range hostarch.AddrRange
	Perms hostarch.AccessType
}

// Mappings returns the current mappings in address order.
func (as *AddressSpace) Mappings() []Mapping {
	as.mu.RLock()
	defer as.mu.RUnlock()
	var ms []Mapping
	as.vmas.Ascend(func(v vma) bool {
		ms = append(ms, Mapping{Range: v.ar, Perms: v.perms})
		return true
	})
	return ms
}

// Attach makes owner the single live user of the address space.
func (as *AddressSpace) Attach(owner any) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.released {
		return ErrReleased
	}
	if as.owner != nil && as.owner != owner {
		return linuxerr.EBUSY
	}
	as.owner = owner
	return nil
}

// Detach hands the address space back; owner must be the attached context.
func (as *AddressSpace) Detach(owner any) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.owner != owner {
		return linuxerr.EINVAL
	}
	as.owner = nil
	return nil
}

// Owner returns the attached context, or nil.
func (as *AddressSpace) Owner() any {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return as.owner
}

// Release removes all mappings and frees the page tables. It fails with
// EBUSY while a context is attached. Releasing twice is a no-op.
func (as *AddressSpace) Release() error {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.released {
		return nil
	}
	if as.owner != nil {
		return linuxerr.EBUSY
	}
	for addr, pa := range as.frames {
		delete(as.frames, addr)
		as.mem.Free(pa)
	}
	as.vmas.Clear(false)
	as.pt.Release()
	as.released = true
	log.Debugf("mm: address space %d released", as.id)
	return nil
}

// Released returns true after Release.
func (as *AddressSpace) Released() bool {
	as.mu.RLock()
	defer as.mu.RUnlock()
	return as.released
}
