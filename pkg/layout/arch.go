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

package layout

import (
	"debug/elf"
	"fmt"
	"strings"

	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
)

// Arch is the per-architecture data a kernel image is laid out against.
//
// Everything that differs between architectures lives here; shared code
// never switches on the architecture name.
type Arch struct {
	// Name is the target name, e.g. "x86_64".
	Name string

	// KernelOffset is the virtual address the image is linked at.
	KernelOffset hostarch.Addr

	// PageSize is the granularity every region is aligned to.
	PageSize uint64

	// UserTop is the first address above the user half. Addresses below
	// it belong to user space.
	UserTop hostarch.Addr

	// AddrBits is the number of significant virtual address bits. On
	// 64-bit targets the remaining bits must be a sign extension.
	AddrBits uint

	// WordSize is the size of a native word in bytes.
	WordSize int

	// PageTableLevels and LevelBits describe the page table radix.
	PageTableLevels int
	LevelBits       uint

	// TBSSPadding is reserved at the end of the tbss output section before
	// its final alignment. The amount is an ABI requirement of the target.
	TBSSPadding uint64

	// ELFMachine and ELFClass identify images built for this target.
	ELFMachine elf.Machine
	ELFClass   elf.Class
}

// X86_64 is the 64-bit higher-half layout.
var X86_64 = &Arch{
	Name:            "x86_64",
	KernelOffset:    0xFFFF_FFFF_8000_0000,
	PageSize:        4096,
	UserTop:         0x0000_8000_0000_0000,
	AddrBits:        48,
	WordSize:        8,
	PageTableLevels: 4,
	LevelBits:       9,
	ELFMachine:      elf.EM_X86_64,
	ELFClass:        elf.ELFCLASS64,
}

// I686 is the 32-bit higher-half layout.
var I686 = &Arch{
	Name:            "i686",
	KernelOffset:    0xC000_0000,
	PageSize:        4096,
	UserTop:         0xC000_0000,
	AddrBits:        32,
	WordSize:        4,
	PageTableLevels: 2,
	LevelBits:       10,
	TBSSPadding:     8,
	ELFMachine:      elf.EM_386,
	ELFClass:        elf.ELFCLASS32,
}

// Arches returns every supported architecture.
func Arches() []*Arch {
	return []*Arch{X86_64, I686}
}

// ArchByName looks up an architecture by name. "amd64" and "386" are
// accepted as aliases.
func ArchByName(name string) (*Arch, error) {
	switch strings.ToLower(name) {
	case "x86_64", "amd64":
		return X86_64, nil
	case "i686", "i386", "386", "x86":
		return I686, nil
	}
	return nil, fmt.Errorf("unknown architecture %q", name)
}

// String implements fmt.Stringer.String.
func (a *Arch) String() string {
	return a.Name
}

// IsUser returns true if addr lies in the user half.
func (a *Arch) IsUser(addr hostarch.Addr) bool {
	return addr < a.UserTop
}

// UserRange returns the user half as a range.
func (a *Arch) UserRange() hostarch.AddrRange {
	return hostarch.AddrRange{Start: 0, End: a.UserTop}
}

// Canonical returns true if addr is representable on this architecture.
func (a *Arch) Canonical(addr hostarch.Addr) bool {
	if a.AddrBits >= 64 {
		return true
	}
	if a.WordSize == 4 {
		return uint64(addr)>>a.AddrBits == 0
	}
	// Bits above AddrBits-1 must all equal bit AddrBits-1.
	top := uint64(addr) >> (a.AddrBits - 1)
	return top == 0 || top == (1<<(64-a.AddrBits+1))-1
}

// MaxAddr is the largest address the architecture can express.
func (a *Arch) MaxAddr() hostarch.Addr {
	if a.WordSize == 4 {
		return hostarch.Addr(1<<a.AddrBits - 1)
	}
	return ^hostarch.Addr(0)
}
