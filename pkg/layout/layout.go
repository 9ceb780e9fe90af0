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

// Package layout describes the virtual layout of a kernel image.
//
// A Descriptor is resolved once from the boundary symbols the linker script
// exports, validated, and then shared read-only by everything that needs to
// know where kernel code and data live. In particular it carries the
// user-copy sub-range of text: the only instructions allowed to fault on a
// user address.
package layout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
)

// Class is the permission class of a region.
type Class int

// Region classes, in image order.
const (
	ExecuteRead Class = iota
	ReadOnly
	ReadWrite
	ReadWriteUninitialized
	ThreadLocalInit
	ThreadLocalZero
)

var classNames = [...]string{
	ExecuteRead:            "ExecuteRead",
	ReadOnly:               "ReadOnly",
	ReadWrite:              "ReadWrite",
	ReadWriteUninitialized: "ReadWriteUninitialized",
	ThreadLocalInit:        "ThreadLocalInit",
	ThreadLocalZero:        "ThreadLocalZero",
}

// String implements fmt.Stringer.String.
func (c Class) String() string {
	if c >= 0 && int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Access returns the access a supervisor mapping of the class grants.
// Thread-local sections are templates: each CPU writes its own copy, never
// the image.
func (c Class) Access() hostarch.AccessType {
	switch c {
	case ExecuteRead:
		return hostarch.ReadExec
	case ReadWrite, ReadWriteUninitialized:
		return hostarch.ReadWrite
	default:
		return hostarch.Read
	}
}

// Region names.
const (
	Text   = "text"
	Rodata = "rodata"
	Data   = "data"
	BSS    = "bss"
	TData  = "tdata"
	TBSS   = "tbss"
)

// Region is a named range of the kernel image with a uniform class.
type Region struct {
	Name  string        `json:"name" yaml:"name"`
	Start hostarch.Addr `json:"start" yaml:"start"`
	End   hostarch.Addr `json:"end" yaml:"end"`
	Align uint64        `json:"align" yaml:"align"`
	Class Class         `json:"class" yaml:"class"`
}

// Range returns [r.Start, r.End).
func (r Region) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: r.Start, End: r.End}
}

// Size returns the length of the region in bytes.
func (r Region) Size() uint64 {
	return r.Range().Length()
}

// String implements fmt.Stringer.String.
func (r Region) String() string {
	return fmt.Sprintf("%s %v %v", r.Name, r.Range(), r.Class)
}

// regionSpec binds a region to the symbols delimiting it.
type regionSpec struct {
	name       string
	start, end string
	class      Class
}

var regionSpecs = []regionSpec{
	{Text, SymTextStart, SymTextEnd, ExecuteRead},
	{Rodata, SymRodataStart, SymRodataEnd, ReadOnly},
	{Data, SymDataStart, SymDataEnd, ReadWrite},
	{BSS, SymBSSStart, SymBSSEnd, ReadWriteUninitialized},
	{TData, SymTDataStart, SymTDataEnd, ThreadLocalInit},
	{TBSS, SymTBSSStart, SymTBSSEnd, ThreadLocalZero},
}

// ErrInvalidLayout is wrapped by every error New returns.
var ErrInvalidLayout = errors.New("invalid kernel layout")

func invalid(format string, v ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidLayout, fmt.Sprintf(format, v...))
}

// Descriptor is the validated layout of one kernel image. It is immutable
// after New and safe for concurrent use.
type Descriptor struct {
	arch     *Arch
	symbols  Symbols
	regions  []Region
	userCopy hostarch.AddrRange
}

// New resolves the regions of an image linked for arch and validates them.
//
// Regions must be page aligned, contiguous in image order, lie in the kernel
// half, and the user-copy range must be a non-empty strict sub-range of
// text. Any violation is returned as an error wrapping ErrInvalidLayout.
func New(arch *Arch, symbols Symbols) (*Descriptor, error) {
	if arch == nil {
		return nil, invalid("no architecture")
	}
	if missing := symbols.Missing(); len(missing) > 0 {
		return nil, invalid("missing symbols: %s", strings.Join(missing, ", "))
	}
	for _, name := range SymbolNames {
		if addr := symbols[name]; !arch.Canonical(addr) {
			return nil, invalid("%s = %v is not a %s address", name, addr, arch)
		}
	}

	d := &Descriptor{
		arch:    arch,
		symbols: make(Symbols, len(symbols)),
		regions: make([]Region, 0, len(regionSpecs)),
	}
	for name, addr := range symbols {
		d.symbols[name] = addr
	}
	for _, rs := range regionSpecs {
		d.regions = append(d.regions, Region{
			Name:  rs.name,
			Start: symbols[rs.start],
			End:   symbols[rs.end],
			Align: arch.PageSize,
			Class: rs.class,
		})
	}
	d.userCopy = hostarch.AddrRange{Start: symbols[SymUserCopyStart], End: symbols[SymUserCopyEnd]}

	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewLinked is equivalent to New(arch, Link(arch, s)).
func NewLinked(arch *Arch, s Sections) (*Descriptor, error) {
	return New(arch, Link(arch, s))
}

func (d *Descriptor) validate() error {
	arch := d.arch
	for i, r := range d.regions {
		if !r.Range().WellFormed() {
			return invalid("region %s ends before it starts: %v", r.Name, r.Range())
		}
		if !r.Start.IsAligned(r.Align) || !r.End.IsAligned(r.Align) {
			return invalid("region %s %v is not aligned to %#x", r.Name, r.Range(), r.Align)
		}
		if arch.IsUser(r.Start) || r.Start < arch.KernelOffset {
			return invalid("region %s %v is below the kernel offset %v", r.Name, r.Range(), arch.KernelOffset)
		}
		if i == 0 {
			continue
		}
		prev := d.regions[i-1]
		if prev.End != r.Start {
			return invalid("region %s %v does not follow %s %v", r.Name, r.Range(), prev.Name, prev.Range())
		}
		for _, o := range d.regions[:i] {
			if o.Range().Overlaps(r.Range()) {
				return invalid("region %s %v overlaps %s %v", r.Name, r.Range(), o.Name, o.Range())
			}
		}
	}
	if end := d.symbols[SymEnd]; end != d.regions[len(d.regions)-1].End {
		return invalid("%s = %v, but the last region ends at %v", SymEnd, end, d.regions[len(d.regions)-1].End)
	}

	text := d.regions[0].Range()
	uc := d.userCopy
	switch {
	case !uc.WellFormed() || uc.Length() == 0:
		return invalid("user-copy range %v is empty", uc)
	case !text.IsSupersetOf(uc):
		return invalid("user-copy range %v is not inside text %v", uc, text)
	case uc == text:
		return invalid("user-copy range %v covers all of text", uc)
	}
	return nil
}

// Arch returns the architecture the image was linked for.
func (d *Descriptor) Arch() *Arch {
	return d.arch
}

// Regions returns the regions in image order. The slice is a copy.
func (d *Descriptor) Regions() []Region {
	return append([]Region(nil), d.regions...)
}

// Region returns the named region.
func (d *Descriptor) Region(name string) (Region, bool) {
	for _, r := range d.regions {
		if r.Name == name {
			return r, true
		}
	}
	return Region{}, false
}

// RegionOf returns the region containing addr.
func (d *Descriptor) RegionOf(addr hostarch.Addr) (Region, bool) {
	for _, r := range d.regions {
		if r.Range().Contains(addr) {
			return r, true
		}
	}
	return Region{}, false
}

// Text returns the executable region.
func (d *Descriptor) Text() Region {
	return d.regions[0]
}

// UserCopyRange returns the bounds of the user-copy functions. Only faults
// at instruction addresses inside this range are recoverable.
func (d *Descriptor) UserCopyRange() hostarch.AddrRange {
	return d.userCopy
}

// Image returns the span of the whole image, from the start of text to
// __end.
func (d *Descriptor) Image() hostarch.AddrRange {
	return hostarch.AddrRange{Start: d.regions[0].Start, End: d.symbols[SymEnd]}
}

// ThreadLocalSize returns the size of one per-CPU thread-local block: the
// tdata template followed by the zeroed tbss space.
func (d *Descriptor) ThreadLocalSize() uint64 {
	tdata, _ := d.Region(TData)
	tbss, _ := d.Region(TBSS)
	return tdata.Size() + tbss.Size()
}

// Symbols returns the boundary symbols sorted by address, for debuggers.
func (d *Descriptor) Symbols() []Symbol {
	return d.symbols.Sorted()
}

// Symbol returns the address of a boundary symbol.
func (d *Descriptor) Symbol(name string) (hostarch.Addr, bool) {
	addr, ok := d.symbols[name]
	return addr, ok
}
