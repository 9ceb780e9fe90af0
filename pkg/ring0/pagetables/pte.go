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
	"fmt"
	"sync/atomic"

	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
)

// Entry bits, in the x86 format used by every supported architecture.
const (
	present        = 1 << 0
	writable       = 1 << 1
	user           = 1 << 2
	accessed       = 1 << 5
	dirty          = 1 << 6
	global         = 1 << 8
	executeDisable = 1 << 63
	optionMask     = executeDisable | 0xfff
)

// addressMask selects the frame address bits of an entry.
const addressMask = 0x000f_ffff_ffff_f000

// MapOpts are the options of a leaf mapping.
type MapOpts struct {
	// AccessType defines permissions.
	AccessType hostarch.AccessType

	// Global indicates the page is globally accessible.
	Global bool

	// User indicates the page is a user page.
	User bool
}

// String implements fmt.Stringer.String.
func (o MapOpts) String() string {
	s := o.AccessType.String()
	if o.User {
		s += "u"
	} else {
		s += "s"
	}
	if o.Global {
		s += "g"
	}
	return s
}

// PTE is a page table entry.
type PTE struct {
	bits atomic.Uint64
}

// Clear clears this PTE.
func (p *PTE) Clear() {
	p.bits.Store(0)
}

// Valid returns true iff this entry is valid.
func (p *PTE) Valid() bool {
	return p.bits.Load()&present != 0
}

// Opts returns the PTE options.
func (p *PTE) Opts() MapOpts {
	v := p.bits.Load()
	return MapOpts{
		AccessType: hostarch.AccessType{
			Read:    v&present != 0,
			Write:   v&writable != 0,
			Execute: v&executeDisable == 0,
		},
		Global: v&global != 0,
		User:   v&user != 0,
	}
}

// Set sets this PTE value. An empty access type clears the entry.
func (p *PTE) Set(addr uintptr, opts MapOpts) {
	if !opts.AccessType.Any() {
		p.Clear()
		return
	}
	v := (uint64(addr) &^ optionMask) | present | accessed
	if opts.User {
		v |= user
	}
	if opts.Global {
		v |= global
	}
	if !opts.AccessType.Execute {
		v |= executeDisable
	}
	if opts.AccessType.Write {
		v |= writable | dirty
	}
	p.bits.Store(v)
}

// setPageTable points this PTE at the next level table. Intermediate entries
// grant everything; the leaf decides.
func (p *PTE) setPageTable(pt *PageTables, ptes *PTEs) {
	addr := pt.Allocator.PhysicalFor(ptes)
	if uint64(addr)&^optionMask != uint64(addr) {
		// This should never happen.
		panic(fmt.Sprintf("unaligned physical address: %v", addr))
	}
	p.bits.Store(uint64(addr) | present | user | writable | accessed | dirty)
}

// Address extracts the address. This should only be used if Valid returns
// true.
func (p *PTE) Address() uintptr {
	return uintptr(p.bits.Load() & addressMask)
}

// PTEs is a collection of entries forming one table.
type PTEs struct {
	entries []PTE
}

// newPTEs returns an empty table of n entries.
func newPTEs(n int) *PTEs {
	return &PTEs{entries: make([]PTE, n)}
}

// Len returns the number of entries.
func (p *PTEs) Len() int {
	return len(p.entries)
}
