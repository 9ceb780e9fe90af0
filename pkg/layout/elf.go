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

// Discarded lists the output sections the linker script drops from the
// image. A name ending in '*' matches by prefix.
var Discarded = []string{
	".comment",
	".eh_frame",
	".gcc_except_table",
	".note*",
	".rel.eh_frame",
}

func discarded(name string) bool {
	for _, d := range Discarded {
		if prefix, ok := strings.CutSuffix(d, "*"); ok {
			if strings.HasPrefix(name, prefix) {
				return true
			}
		} else if name == d {
			return true
		}
	}
	return false
}

// ArchFromELF returns the architecture an image was built for.
func ArchFromELF(f *elf.File) (*Arch, error) {
	for _, a := range Arches() {
		if f.Machine == a.ELFMachine && f.Class == a.ELFClass {
			return a, nil
		}
	}
	return nil, fmt.Errorf("unsupported image: machine %v, class %v", f.Machine, f.Class)
}

// SymbolsFromELF reads the boundary symbols from an image's symbol table.
// Symbols outside the contract are ignored; an image missing any contract
// symbol is an error.
func SymbolsFromELF(f *elf.File) (Symbols, error) {
	elfSyms, err := f.Symbols()
	if err != nil {
		return nil, fmt.Errorf("reading symbol table: %w", err)
	}
	want := make(map[string]bool, len(SymbolNames))
	for _, name := range SymbolNames {
		want[name] = true
	}
	syms := make(Symbols, len(SymbolNames))
	for _, s := range elfSyms {
		if want[s.Name] {
			syms[s.Name] = hostarch.Addr(s.Value)
		}
	}
	if missing := syms.Missing(); len(missing) > 0 {
		return syms, fmt.Errorf("image lacks boundary symbols: %s", strings.Join(missing, ", "))
	}
	return syms, nil
}

// CheckDiscarded returns an error naming every section that should have been
// discarded at link time but is present in the image.
func CheckDiscarded(f *elf.File) error {
	var present []string
	for _, s := range f.Sections {
		if discarded(s.Name) {
			present = append(present, s.Name)
		}
	}
	if len(present) > 0 {
		return fmt.Errorf("image carries discarded sections: %s", strings.Join(present, ", "))
	}
	return nil
}

// FromELF resolves and validates the layout of an image.
func FromELF(f *elf.File) (*Descriptor, error) {
	arch, err := ArchFromELF(f)
	if err != nil {
		return nil, err
	}
	syms, err := SymbolsFromELF(f)
	if err != nil {
		return nil, err
	}
	return New(arch, syms)
}
