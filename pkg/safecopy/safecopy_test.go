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

package safecopy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"

	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/layout"
	"github.com/wenhaozhao/redox-os-kernel/pkg/mm"
	"github.com/wenhaozhao/redox-os-kernel/pkg/physmem"
	"github.com/wenhaozhao/redox-os-kernel/pkg/ring0"
)

const (
	// rwPage is mapped read-write and followed by an unmapped page.
	rwPage = hostarch.Addr(0x10000)

	// roPage is mapped read-only.
	roPage = hostarch.Addr(0x20000)
)

type harness struct {
	k  *ring0.Kernel
	c  *ring0.CPU
	as *mm.AddressSpace
	cp *Copier
}

func newKernel(t *testing.T, arch *layout.Arch, s layout.Sections) (*ring0.Kernel, error) {
	t.Helper()
	d, err := layout.NewLinked(arch, s)
	if err != nil {
		t.Fatalf("layout.NewLinked failed: %v", err)
	}
	mem, err := physmem.New(4 << 20)
	if err != nil {
		t.Fatalf("physmem.New failed: %v", err)
	}
	return ring0.New(ring0.KernelOpts{Layout: d, Memory: mem, Console: io.Discard})
}

func newHarness(t *testing.T, arch *layout.Arch) *harness {
	t.Helper()
	k, err := newKernel(t, arch, layout.DefaultSections(arch))
	if err != nil {
		t.Fatalf("ring0.New failed: %v", err)
	}
	c, err := k.NewCPU()
	if err != nil {
		t.Fatalf("NewCPU failed: %v", err)
	}
	as, err := mm.New(arch, k.Memory())
	if err != nil {
		t.Fatalf("mm.New failed: %v", err)
	}
	for _, m := range []struct {
		addr  hostarch.Addr
		perms hostarch.AccessType
	}{
		{rwPage, hostarch.ReadWrite},
		{roPage, hostarch.Read},
	} {
		if err := as.Map(hostarch.AddrRange{Start: m.addr, End: m.addr + hostarch.PageSize}, m.perms); err != nil {
			t.Fatalf("Map(%v) failed: %v", m.addr, err)
		}
	}
	c.SwitchAddressSpace(as)
	ua, err := k.ClaimUserAccess()
	if err != nil {
		t.Fatalf("ClaimUserAccess failed: %v", err)
	}
	cp, err := New(ua)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &harness{k: k, c: c, as: as, cp: cp}
}

func TestRoutinePlacement(t *testing.T) {
	for _, arch := range layout.Arches() {
		t.Run(arch.Name, func(t *testing.T) {
			h := newHarness(t, arch)
			uc := h.k.Layout().UserCopyRange()
			for i := 0; i < numRoutines; i++ {
				r := h.cp.Routine(i)
				if !uc.IsSupersetOf(r) || r.Length() < MinRoutineSize {
					t.Errorf("routine %s at %v, wanted a subrange of %v of at least %d bytes", routineNames[i], r, uc, MinRoutineSize)
				}
				if i > 0 && h.cp.Routine(i-1).Overlaps(r) {
					t.Errorf("routines %s and %s overlap", routineNames[i-1], routineNames[i])
				}
				if name, ok := h.cp.RoutineAt(r.End - 1); !ok || name != routineNames[i] {
					t.Errorf("RoutineAt(%v): got (%q, %v), wanted %q", r.End-1, name, ok, routineNames[i])
				}
			}
			if _, ok := h.cp.RoutineAt(h.k.TextPC(0)); ok {
				t.Errorf("RoutineAt(text) found a routine")
			}
		})
	}
}

func TestNewRejectsSmallUserCopy(t *testing.T) {
	s := layout.DefaultSections(layout.X86_64)
	s.UserCopy = numRoutines*MinRoutineSize - 1
	k, err := newKernel(t, layout.X86_64, s)
	if err != nil {
		t.Fatalf("ring0.New failed: %v", err)
	}
	ua, err := k.ClaimUserAccess()
	if err != nil {
		t.Fatalf("ClaimUserAccess failed: %v", err)
	}
	if _, err := New(ua); err == nil {
		t.Errorf("New with a %d byte user-copy range: got nil error", s.UserCopy)
	}
}

func TestCopyRoundTrip(t *testing.T) {
	h := newHarness(t, layout.X86_64)
	src := make([]byte, 1000)
	for i := range src {
		src[i] = byte(i * 7)
	}
	if n, err := h.cp.CopyOut(h.c, rwPage+3, src); n != len(src) || err != nil {
		t.Fatalf("CopyOut: got (%d, %v), wanted (%d, nil)", n, err, len(src))
	}
	dst := make([]byte, len(src))
	if n, err := h.cp.CopyIn(h.c, dst, rwPage+3); n != len(dst) || err != nil {
		t.Fatalf("CopyIn: got (%d, %v), wanted (%d, nil)", n, err, len(dst))
	}
	if diff := cmp.Diff(src, dst); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if h.c.UserAccessEnabled() {
		t.Errorf("user access left enabled after copy")
	}
}

func TestCopyStopsAtFault(t *testing.T) {
	h := newHarness(t, layout.X86_64)
	boundary := rwPage + hostarch.PageSize
	for _, before := range []int{0, 1, 15, 16, 17, 31, 33, 100} {
		for _, out := range []bool{false, true} {
			t.Run(fmt.Sprintf("before=%d,out=%v", before, out), func(t *testing.T) {
				addr := boundary - hostarch.Addr(before)
				buf := bytes.Repeat([]byte{0x5a}, before+40)
				var (
					n   int
					err error
				)
				if out {
					n, err = h.cp.CopyOut(h.c, addr, buf)
				} else {
					n, err = h.cp.CopyIn(h.c, buf, addr)
				}
				if n != before {
					t.Errorf("got %d bytes, wanted %d", n, before)
				}
				var segv SegvError
				if !errors.As(err, &segv) || segv.Addr != boundary {
					t.Errorf("got error %v, wanted SegvError at %v", err, boundary)
				}
				if got := linuxerr.ToUnix(err); got != unix.EFAULT {
					t.Errorf("ToUnix: got %v, wanted EFAULT", got)
				}
			})
		}
	}
}

func TestCopyOutPrefixIsWritten(t *testing.T) {
	h := newHarness(t, layout.I686)
	boundary := rwPage + hostarch.PageSize
	src := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	n, err := h.cp.CopyOut(h.c, boundary-20, src)
	if n != 20 || err == nil {
		t.Fatalf("CopyOut: got (%d, %v), wanted (20, error)", n, err)
	}
	got := make([]byte, 20)
	if _, err := h.cp.CopyIn(h.c, got, boundary-20); err != nil {
		t.Fatalf("CopyIn failed: %v", err)
	}
	if !bytes.Equal(got, src[:20]) {
		t.Errorf("prefix: got %q, wanted %q", got, src[:20])
	}
}

func TestReadOnlyPage(t *testing.T) {
	h := newHarness(t, layout.X86_64)
	if n, err := h.cp.CopyIn(h.c, make([]byte, 64), roPage); n != 64 || err != nil {
		t.Errorf("CopyIn from read-only page: got (%d, %v), wanted (64, nil)", n, err)
	}
	n, err := h.cp.CopyOut(h.c, roPage+8, []byte("nope"))
	var ae AccessError
	if n != 0 || !errors.As(err, &ae) || ae.Addr != roPage+8 {
		t.Errorf("CopyOut to read-only page: got (%d, %v), wanted (0, AccessError at %v)", n, err, roPage+8)
	}
	if n, err := h.cp.ZeroOut(h.c, roPage, 8); n != 0 || !errors.As(err, &ae) {
		t.Errorf("ZeroOut of read-only page: got (%d, %v), wanted (0, AccessError)", n, err)
	}
}

func TestZeroOut(t *testing.T) {
	h := newHarness(t, layout.X86_64)
	if _, err := h.cp.CopyOut(h.c, rwPage, bytes.Repeat([]byte{0xff}, 64)); err != nil {
		t.Fatalf("CopyOut failed: %v", err)
	}
	if n, err := h.cp.ZeroOut(h.c, rwPage+8, 40); n != 40 || err != nil {
		t.Fatalf("ZeroOut: got (%d, %v), wanted (40, nil)", n, err)
	}
	got := make([]byte, 64)
	if _, err := h.cp.CopyIn(h.c, got, rwPage); err != nil {
		t.Fatalf("CopyIn failed: %v", err)
	}
	want := bytes.Repeat([]byte{0xff}, 64)
	clear(want[8:48])
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ZeroOut mismatch (-want +got):\n%s", diff)
	}

	boundary := rwPage + hostarch.PageSize
	n, err := h.cp.ZeroOut(h.c, boundary-30, 100)
	if n != 30 || err == nil {
		t.Errorf("ZeroOut across the mapping end: got (%d, %v), wanted (30, error)", n, err)
	}
}

func TestAtomics(t *testing.T) {
	h := newHarness(t, layout.X86_64)
	addr := rwPage + 0x40
	if old, err := h.cp.SwapUint32(h.c, addr, 3); old != 0 || err != nil {
		t.Errorf("SwapUint32: got (%d, %v), wanted (0, nil)", old, err)
	}
	if prev, err := h.cp.CompareAndSwapUint32(h.c, addr, 3, 4); prev != 3 || err != nil {
		t.Errorf("CompareAndSwapUint32: got (%d, %v), wanted (3, nil)", prev, err)
	}
	if val, err := h.cp.LoadUint32(h.c, addr); val != 4 || err != nil {
		t.Errorf("LoadUint32: got (%d, %v), wanted (4, nil)", val, err)
	}

	var ae AlignmentError
	if _, err := h.cp.LoadUint32(h.c, addr+1); !errors.As(err, &ae) || ae.Alignment != 4 {
		t.Errorf("LoadUint32 unaligned: got %v, wanted AlignmentError", err)
	}
	if _, err := h.cp.SwapUint32(h.c, addr+2, 0); !errors.As(err, &ae) {
		t.Errorf("SwapUint32 unaligned: got %v, wanted AlignmentError", err)
	}
	if _, err := h.cp.CompareAndSwapUint32(h.c, addr+3, 0, 0); !errors.As(err, &ae) {
		t.Errorf("CompareAndSwapUint32 unaligned: got %v, wanted AlignmentError", err)
	}

	var segv SegvError
	if _, err := h.cp.LoadUint32(h.c, rwPage+hostarch.PageSize); !errors.As(err, &segv) {
		t.Errorf("LoadUint32 unmapped: got %v, wanted SegvError", err)
	}
	var access AccessError
	if _, err := h.cp.SwapUint32(h.c, roPage, 1); !errors.As(err, &access) {
		t.Errorf("SwapUint32 read-only: got %v, wanted AccessError", err)
	}
	if h.c.Faults() != 2 {
		t.Errorf("Faults: got %d, wanted 2", h.c.Faults())
	}
}
