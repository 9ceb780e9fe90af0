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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/layout"
)

const pteSize = hostarch.PageSize

type mapping struct {
	start  uintptr
	length uintptr
	addr   uintptr
	opts   MapOpts
}

type checkVisitor struct {
	expected []mapping // Input.
	current  int       // Temporary.
	found    []mapping // Output.
	failed   string    // Output.
}

func (v *checkVisitor) visit(start uintptr, pte *PTE) bool {
	v.found = append(v.found, mapping{
		start:  start,
		length: pteSize,
		addr:   pte.Address(),
		opts:   pte.Opts(),
	})
	if v.failed != "" {
		// Don't keep looking for errors.
		return false
	}

	if v.current >= len(v.expected) {
		v.failed = "more mappings than expected"
	} else if v.expected[v.current].start != start {
		v.failed = "start didn't match expected"
	} else if v.expected[v.current].addr != pte.Address() {
		v.failed = "address didn't match expected"
	} else if v.expected[v.current].opts != pte.Opts() {
		v.failed = "opts didn't match"
	}
	v.current++
	return true
}

func (*checkVisitor) requiresAlloc() bool { return false }

// checkMappings expects each mapping to be a single page.
func checkMappings(t *testing.T, pt *PageTables, m []mapping) {
	t.Helper()
	// Iterate over all the mappings.
	w := walker{
		pageTables: pt,
		visitor: &checkVisitor{
			expected: m,
		},
	}
	g := pt.Geometry()
	w.iterateRange(0, uintptr(1)<<(hostarch.PageShift+uint(g.Levels)*g.LevelBits))

	// Were we expected additional mappings?
	cv := w.visitor.(*checkVisitor)
	if cv.failed == "" && cv.current != len(cv.expected) {
		cv.failed = "insufficient mappings found"
	}

	// Emit a meaningful error message on failure.
	if cv.failed != "" {
		t.Errorf("%s; got %#v, wanted %#v", cv.failed, cv.found, cv.expected)
	}
}

func newTables(t *testing.T, arch *layout.Arch) (*PageTables, *RuntimeAllocator) {
	t.Helper()
	g := GeometryFor(arch)
	a := NewRuntimeAllocator(g)
	pt, err := New(a, g)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return pt, a
}

func TestGeometry(t *testing.T) {
	for _, tc := range []struct {
		arch    *layout.Arch
		entries int
		levels  int
	}{
		{layout.X86_64, 512, 4},
		{layout.I686, 1024, 2},
	} {
		g := GeometryFor(tc.arch)
		if g.Entries() != tc.entries || g.Levels != tc.levels {
			t.Errorf("%v: got %d entries and %d levels, wanted %d and %d", tc.arch, g.Entries(), g.Levels, tc.entries, tc.levels)
		}
		if got, want := hostarch.PageShift+uint(g.Levels)*g.LevelBits, tc.arch.AddrBits; got != want {
			t.Errorf("%v: tables cover %d bits, wanted %d", tc.arch, got, want)
		}
	}
}

func TestUnmap(t *testing.T) {
	for _, arch := range layout.Arches() {
		t.Run(arch.Name, func(t *testing.T) {
			pt, _ := newTables(t, arch)

			// Map and unmap one entry.
			pt.Map(0x400000, pteSize, MapOpts{AccessType: hostarch.ReadWrite}, pteSize*42)
			pt.Unmap(0x400000, pteSize)

			checkMappings(t, pt, nil)
		})
	}
}

func TestReadOnly(t *testing.T) {
	for _, arch := range layout.Arches() {
		t.Run(arch.Name, func(t *testing.T) {
			pt, _ := newTables(t, arch)

			// Map one entry.
			pt.Map(0x400000, pteSize, MapOpts{AccessType: hostarch.Read, User: true}, pteSize*42)

			checkMappings(t, pt, []mapping{
				{0x400000, pteSize, pteSize * 42, MapOpts{AccessType: hostarch.Read, User: true}},
			})
		})
	}
}

func TestReadWrite(t *testing.T) {
	pt, _ := newTables(t, layout.X86_64)

	// Map one entry.
	pt.Map(0x400000, pteSize, MapOpts{AccessType: hostarch.ReadWrite}, pteSize*42)

	checkMappings(t, pt, []mapping{
		{0x400000, pteSize, pteSize * 42, MapOpts{AccessType: hostarch.ReadWrite}},
	})
}

func TestSerialEntries(t *testing.T) {
	pt, _ := newTables(t, layout.I686)

	// Map two sequential entries.
	pt.Map(0x400000, 2*pteSize, MapOpts{AccessType: hostarch.ReadWrite}, pteSize*42)

	checkMappings(t, pt, []mapping{
		{0x400000, pteSize, pteSize * 42, MapOpts{AccessType: hostarch.ReadWrite}},
		{0x401000, pteSize, pteSize * 43, MapOpts{AccessType: hostarch.ReadWrite}},
	})
}

func TestSpanningEntries(t *testing.T) {
	pt, _ := newTables(t, layout.X86_64)

	// Span a pgd with two pages.
	pt.Map(0x00007efffffff000, 2*pteSize, MapOpts{AccessType: hostarch.Read}, pteSize*42)

	checkMappings(t, pt, []mapping{
		{0x00007efffffff000, pteSize, pteSize * 42, MapOpts{AccessType: hostarch.Read}},
		{0x00007f0000000000, pteSize, pteSize * 43, MapOpts{AccessType: hostarch.Read}},
	})
}

func TestSparseEntries(t *testing.T) {
	pt, _ := newTables(t, layout.X86_64)

	// Map two entries in different pgds.
	pt.Map(0x400000, pteSize, MapOpts{AccessType: hostarch.ReadWrite}, pteSize*42)
	pt.Map(0x00007f0000000000, pteSize, MapOpts{AccessType: hostarch.Read}, pteSize*43)

	checkMappings(t, pt, []mapping{
		{0x400000, pteSize, pteSize * 42, MapOpts{AccessType: hostarch.ReadWrite}},
		{0x00007f0000000000, pteSize, pteSize * 43, MapOpts{AccessType: hostarch.Read}},
	})
}

func TestMapReportsChanges(t *testing.T) {
	pt, _ := newTables(t, layout.X86_64)
	opts := MapOpts{AccessType: hostarch.ReadWrite, User: true}
	if changed, err := pt.Map(0x400000, pteSize, opts, pteSize*42); err != nil || changed {
		t.Errorf("first Map: got (%v, %v), wanted (false, nil)", changed, err)
	}
	if changed, err := pt.Map(0x400000, pteSize, opts, pteSize*42); err != nil || changed {
		t.Errorf("identical Map: got (%v, %v), wanted (false, nil)", changed, err)
	}
	opts.AccessType = hostarch.Read
	if changed, err := pt.Map(0x400000, pteSize, opts, pteSize*42); err != nil || !changed {
		t.Errorf("protection change: got (%v, %v), wanted (true, nil)", changed, err)
	}
}

func TestLookup(t *testing.T) {
	for _, arch := range layout.Arches() {
		t.Run(arch.Name, func(t *testing.T) {
			pt, _ := newTables(t, arch)
			opts := MapOpts{AccessType: hostarch.ReadWrite, User: true}
			pt.Map(0x7000, pteSize, opts, pteSize*9)

			phys, gotOpts, ok := pt.Lookup(0x7123)
			if !ok {
				t.Fatalf("Lookup(0x7123): not found")
			}
			if want := uintptr(pteSize*9 + 0x123); phys != want {
				t.Errorf("Lookup(0x7123) physical: got %#x, wanted %#x", phys, want)
			}
			if diff := cmp.Diff(opts, gotOpts); diff != "" {
				t.Errorf("Lookup opts mismatch (-want +got):\n%s", diff)
			}
			if _, _, ok := pt.Lookup(0x8000); ok {
				t.Errorf("Lookup(0x8000): found an unmapped page")
			}
		})
	}
}

func TestEmptyTablesAreFreed(t *testing.T) {
	pt, a := newTables(t, layout.X86_64)
	pt.Map(0x400000, 4*pteSize, MapOpts{AccessType: hostarch.ReadWrite}, pteSize*42)
	if got, want := a.Tables(), 4; got != want {
		t.Fatalf("tables after Map: got %d, wanted %d", got, want)
	}
	if !pt.Unmap(0, 0x0000_8000_0000_0000) {
		t.Errorf("Unmap reported no previous mapping")
	}
	if got, want := a.Tables(), 1; got != want {
		t.Errorf("tables after Unmap: got %d, wanted %d (root only)", got, want)
	}
	if !pt.IsEmpty(0, 0x0000_8000_0000_0000) {
		t.Errorf("IsEmpty after Unmap: got false")
	}
}

func TestRelease(t *testing.T) {
	pt, a := newTables(t, layout.I686)
	pt.Map(0x400000, pteSize, MapOpts{AccessType: hostarch.ReadWrite}, pteSize*42)
	pt.Map(0x800000, pteSize, MapOpts{AccessType: hostarch.ReadWrite}, pteSize*43)
	pt.Release()
	if got := a.Tables(); got != 0 {
		t.Errorf("tables after Release: got %d, wanted 0", got)
	}
}

type failingFrames struct{ left int }

func (f *failingFrames) Allocate() (uintptr, error) {
	if f.left == 0 {
		return 0, errOutOfFrames
	}
	f.left--
	return uintptr(f.left+1) * pteSize, nil
}

func (*failingFrames) Free(uintptr) {}

var errOutOfFrames = &testError{"out of frames"}

type testError struct{ s string }

func (e *testError) Error() string { return e.s }

func TestMapAllocationFailure(t *testing.T) {
	g := GeometryFor(layout.X86_64)
	pt, err := New(NewFrameAllocator(&failingFrames{left: 2}, g), g)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := pt.Map(0x400000, pteSize, MapOpts{AccessType: hostarch.Read}, pteSize); err != errOutOfFrames {
		t.Errorf("Map with exhausted frames: got %v, wanted %v", err, errOutOfFrames)
	}
}
