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

package fault

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/layout"
)

func classifierFor(t *testing.T, arch *layout.Arch) Classifier {
	t.Helper()
	d, err := layout.NewLinked(arch, layout.DefaultSections(arch))
	if err != nil {
		t.Fatalf("layout.NewLinked failed: %v", err)
	}
	return NewClassifier(d)
}

func TestClassify(t *testing.T) {
	c := classifierFor(t, layout.X86_64)
	inCopy := c.UserCopy.Start + 4
	outside := c.UserCopy.Start - 4
	for _, tc := range []struct {
		name string
		r    Record
		want Classification
	}{
		{
			name: "unmapped user address from user-copy",
			r:    Record{Addr: 0, PC: inCopy, Access: Read, User: true},
			want: Classification{Recoverable, BadAddress},
		},
		{
			name: "read-only user page written from user-copy",
			r:    Record{Addr: 0x40_0000, PC: inCopy, Access: Write, User: true, Present: true},
			want: Classification{Recoverable, PermissionDenied},
		},
		{
			name: "direction mismatch is still recoverable",
			r:    Record{Addr: 0x40_0000, PC: c.UserCopy.End - 1, Access: Read, User: true, Present: true},
			want: Classification{Recoverable, PermissionDenied},
		},
		{
			name: "kernel address from user-copy",
			r:    Record{Addr: 0xFFFF_FFFF_8000_1000, PC: inCopy, Access: Read},
			want: Classification{Fatal, KernelAddressFromUserCopy},
		},
		{
			name: "user flag disagrees with address",
			r:    Record{Addr: c.UserTop, PC: inCopy, Access: Read, User: true},
			want: Classification{Fatal, KernelAddressFromUserCopy},
		},
		{
			name: "user address outside user-copy",
			r:    Record{Addr: 0x40_0000, PC: outside, Access: Read, User: true},
			want: Classification{Fatal, OutsideUserCopy},
		},
		{
			name: "end of user-copy is outside",
			r:    Record{Addr: 0x40_0000, PC: c.UserCopy.End, Access: Read, User: true},
			want: Classification{Fatal, OutsideUserCopy},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Classify(tc.r); got != tc.want {
				t.Errorf("Classify(%+v): got %v, wanted %v", tc.r, got, tc.want)
			}
		})
	}
}

// TestOutsideUserCopyAlwaysFatal checks random faults whose PC lies outside
// the user-copy range, whatever the data address.
func TestOutsideUserCopyAlwaysFatal(t *testing.T) {
	for _, arch := range layout.Arches() {
		c := classifierFor(t, arch)
		rng := rand.New(rand.NewSource(1))
		for i := 0; i < 10000; i++ {
			pc := hostarch.Addr(rng.Uint64())
			if arch.WordSize == 4 {
				pc &= 0xFFFF_FFFF
			}
			if c.UserCopy.Contains(pc) {
				continue
			}
			addr := hostarch.Addr(rng.Uint64()) % c.UserTop
			r := Record{Addr: addr, PC: pc, Access: Access(rng.Intn(3)), User: true, Present: rng.Intn(2) == 0}
			if got := c.Classify(r); got.State != Fatal {
				t.Fatalf("%v: Classify(%+v) = %v, wanted fatal", arch, r, got)
			}
		}
	}
}

func TestErrorCodeRoundTrip(t *testing.T) {
	for _, code := range []uint64{0, ErrCodePresent, ErrCodeWrite, ErrCodePresent | ErrCodeWrite, ErrCodeFetch, ErrCodePresent | ErrCodeFetch} {
		r := FromErrorCode(layout.I686, 0x1000, 0xC000_1000, code)
		if !r.User {
			t.Errorf("FromErrorCode(%#x): User false for a user address", code)
		}
		if got := r.ErrorCode(); got != code {
			t.Errorf("FromErrorCode(%#x).ErrorCode() = %#x", code, got)
		}
	}
	if r := FromErrorCode(layout.I686, 0xC000_0000, 0, 0); r.User {
		t.Errorf("FromErrorCode on a kernel address: User true")
	}
}

func TestFatalReport(t *testing.T) {
	var f FatalFault
	f.Set(
		Record{Addr: 0xdead_0000, PC: 0xFFFF_FFFF_8000_1234, Access: Write},
		Classification{Fatal, OutsideUserCopy},
		Context{CPU: 3, AddressSpace: 7, Root: 0x5000, Region: "text", InSyscall: true, Syscall: [6]uint64{4, 1, 0x1000, 8}},
	)
	report := f.Report()
	for _, want := range []string{
		"KERNEL PANIC: fatal page fault (fault outside user-copy)",
		"Page fault while accessing address: 0xdead0000",
		"Reason: write to non-present page (write, present=0, user=0)",
		"PC = 0xffffffff80001234 in text",
		"CPU 3, address space 7, root 0x5000, AC=0",
		"SYSCALL: 0x4 0x1 0x1000 0x8 0x0 0x0",
		"HALT",
	} {
		if !bytes.Contains(report, []byte(want)) {
			t.Errorf("report lacks %q:\n%s", want, report)
		}
	}
}

func TestFatalReportDoesNotAllocate(t *testing.T) {
	var f FatalFault
	r := Record{Addr: 0x10, PC: 0x20, Access: Read, User: true}
	c := Classification{Fatal, OutsideUserCopy}
	ctx := Context{CPU: 1, InSyscall: true}
	if allocs := testing.AllocsPerRun(100, func() { f.Set(r, c, ctx) }); allocs != 0 {
		t.Errorf("FatalFault.Set allocated %v times, wanted 0", allocs)
	}
}

func TestFatalReportTruncates(t *testing.T) {
	var f FatalFault
	f.Set(Record{}, Classification{Fatal, OutsideUserCopy}, Context{Region: string(bytes.Repeat([]byte{'x'}, 2*ReportSize))})
	if got := len(f.Report()); got != ReportSize {
		t.Errorf("report length: got %d, wanted %d", got, ReportSize)
	}
}
