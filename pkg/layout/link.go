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
	"sort"

	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
)

// Boundary symbols exported by the kernel linker script.
const (
	SymTextStart     = "__text_start"
	SymUserCopyStart = "__usercopy_start"
	SymUserCopyEnd   = "__usercopy_end"
	SymTextEnd       = "__text_end"
	SymRodataStart   = "__rodata_start"
	SymRodataEnd     = "__rodata_end"
	SymDataStart     = "__data_start"
	SymDataEnd       = "__data_end"
	SymBSSStart      = "__bss_start"
	SymBSSEnd        = "__bss_end"
	SymTDataStart    = "__tdata_start"
	SymTDataEnd      = "__tdata_end"
	SymTBSSStart     = "__tbss_start"
	SymTBSSEnd       = "__tbss_end"
	SymEnd           = "__end"
)

// SymbolNames lists the boundary symbols in image order.
var SymbolNames = []string{
	SymTextStart,
	SymUserCopyStart,
	SymUserCopyEnd,
	SymTextEnd,
	SymRodataStart,
	SymRodataEnd,
	SymDataStart,
	SymDataEnd,
	SymBSSStart,
	SymBSSEnd,
	SymTDataStart,
	SymTDataEnd,
	SymTBSSStart,
	SymTBSSEnd,
	SymEnd,
}

// Symbols maps boundary symbol names to their link addresses.
type Symbols map[string]hostarch.Addr

// Missing returns the boundary symbols absent from s, in image order.
func (s Symbols) Missing() []string {
	var missing []string
	for _, name := range SymbolNames {
		if _, ok := s[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Sorted returns the symbols ordered by address, then by image order for
// symbols sharing an address.
func (s Symbols) Sorted() []Symbol {
	rank := make(map[string]int, len(SymbolNames))
	for i, name := range SymbolNames {
		rank[name] = i
	}
	out := make([]Symbol, 0, len(s))
	for name, addr := range s {
		out = append(out, Symbol{Name: name, Addr: addr})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Addr != out[j].Addr {
			return out[i].Addr < out[j].Addr
		}
		return rank[out[i].Name] < rank[out[j].Name]
	})
	return out
}

// Symbol is a single named boundary.
type Symbol struct {
	Name string        `json:"name" yaml:"name"`
	Addr hostarch.Addr `json:"addr" yaml:"addr"`
}

// Sections holds the sizes of the input sections collected into each
// output section.
type Sections struct {
	// Headers is SIZEOF_HEADERS, the ELF and program headers placed at the
	// kernel offset before text.
	Headers uint64

	// Text is the size of .text*, excluding user-copy functions.
	Text uint64

	// UserCopy is the size of the .usercopy-fns input section.
	UserCopy uint64

	Rodata uint64
	Data   uint64
	BSS    uint64
	TData  uint64
	TBSS   uint64
}

// DefaultSections returns plausible section sizes for arch, used when no
// real image is available.
func DefaultSections(arch *Arch) Sections {
	s := Sections{
		Headers:  0x1c8,
		Text:     0x7_3a10,
		UserCopy: 0x1f0,
		Rodata:   0x2_4b88,
		Data:     0x32d0,
		BSS:      0x2_0a40,
		TData:    0x40,
		TBSS:     0x98,
	}
	if arch.WordSize == 4 {
		s.Headers = 0xf4
		s.Text = 0x5_8e34
		s.UserCopy = 0x160
		s.Rodata = 0x1_c2a0
		s.Data = 0x21a8
		s.BSS = 0x1_7b20
		s.TData = 0x20
		s.TBSS = 0x4c
	}
	return s
}

// Link places sections the way the kernel linker script does and returns the
// resulting boundary symbols:
//
//	. = KERNEL_OFFSET + SIZEOF_HEADERS; . = ALIGN(PAGE);
//	.text   { __text_start; *(.text*); __usercopy_start; *(.usercopy-fns);
//	          __usercopy_end; ALIGN(PAGE); __text_end }
//	.rodata { __rodata_start; *(.rodata*); ALIGN(PAGE); __rodata_end }
//	.data   { __data_start; *(.data*); ALIGN(PAGE); __data_end;
//	          __bss_start; *(.bss*); ALIGN(PAGE); __bss_end }
//	.tdata  { __tdata_start; *(.tdata*); ALIGN(PAGE); __tdata_end;
//	          __tbss_start; *(.tbss*); . += PADDING; ALIGN(PAGE); __tbss_end }
//	__end
func Link(arch *Arch, s Sections) Symbols {
	align := func(a hostarch.Addr) hostarch.Addr {
		r, _ := a.AlignUp(arch.PageSize)
		return r
	}
	syms := make(Symbols, len(SymbolNames))
	dot := align(arch.KernelOffset + hostarch.Addr(s.Headers))

	syms[SymTextStart] = dot
	dot += hostarch.Addr(s.Text)
	syms[SymUserCopyStart] = dot
	dot += hostarch.Addr(s.UserCopy)
	syms[SymUserCopyEnd] = dot
	dot = align(dot)
	syms[SymTextEnd] = dot

	syms[SymRodataStart] = dot
	dot = align(dot + hostarch.Addr(s.Rodata))
	syms[SymRodataEnd] = dot

	syms[SymDataStart] = dot
	dot = align(dot + hostarch.Addr(s.Data))
	syms[SymDataEnd] = dot
	syms[SymBSSStart] = dot
	dot = align(dot + hostarch.Addr(s.BSS))
	syms[SymBSSEnd] = dot

	syms[SymTDataStart] = dot
	dot = align(dot + hostarch.Addr(s.TData))
	syms[SymTDataEnd] = dot
	syms[SymTBSSStart] = dot
	dot = align(dot + hostarch.Addr(s.TBSS) + hostarch.Addr(arch.TBSSPadding))
	syms[SymTBSSEnd] = dot

	syms[SymEnd] = dot
	return syms
}
