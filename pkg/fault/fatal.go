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
	"strconv"

	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
)

// ReportSize is the capacity of a fatal report. Longer reports are cut.
const ReportSize = 1024

// Context is the machine state captured alongside a fatal fault.
type Context struct {
	// CPU is the faulting CPU.
	CPU int

	// AddressSpace is the ID of the active address space, or 0.
	AddressSpace uint64

	// Root is the physical address of the active page table root.
	Root uintptr

	// UserAccess is the state of the user-access flag.
	UserAccess bool

	// Region names the image region containing the PC, if known.
	Region string

	// InSyscall is true if Syscall holds the raw registers of the call in
	// progress: the number followed by up to five arguments.
	InSyscall bool
	Syscall   [6]uint64
}

// FatalFault is the record a CPU halts with. It is preallocated per CPU and
// filled in place, so raising one does not allocate.
type FatalFault struct {
	Record         Record
	Classification Classification
	Context        Context

	report [ReportSize]byte
	n      int
}

// Set fills f and formats its report.
func (f *FatalFault) Set(r Record, c Classification, ctx Context) {
	f.Record = r
	f.Classification = c
	f.Context = ctx
	f.format()
}

// Report returns the formatted report. The slice aliases f.
func (f *FatalFault) Report() []byte {
	return f.report[:f.n]
}

// Error implements error.Error.
func (f *FatalFault) Error() string {
	return "fatal fault: " + f.Classification.Reason.String() + " at pc " + f.Record.PC.String() + " accessing " + f.Record.Addr.String()
}

// put appends s to the report, dropping what does not fit.
func (f *FatalFault) put(s string) {
	f.n += copy(f.report[f.n:], s)
}

// putBytes appends b to the report, dropping what does not fit.
func (f *FatalFault) putBytes(b []byte) {
	f.n += copy(f.report[f.n:], b)
}

// putHex appends v as 0x-prefixed hex.
func (f *FatalFault) putHex(v uint64) {
	var tmp [18]byte
	f.putBytes(strconv.AppendUint(append(tmp[:0], "0x"...), v, 16))
}

// putDec appends v in decimal.
func (f *FatalFault) putDec(v uint64) {
	var tmp [20]byte
	f.putBytes(strconv.AppendUint(tmp[:0], v, 10))
}

func (f *FatalFault) putBool(b bool) {
	if b {
		f.put("1")
	} else {
		f.put("0")
	}
}

func (f *FatalFault) putAddr(a hostarch.Addr) {
	f.putHex(uint64(a))
}

// format renders the report without allocating.
func (f *FatalFault) format() {
	f.n = 0
	r, ctx := &f.Record, &f.Context

	f.put("KERNEL PANIC: fatal page fault (")
	f.put(f.Classification.Reason.String())
	f.put(")\nPage fault while accessing address: ")
	f.putAddr(r.Addr)
	f.put("\nReason: ")
	f.put(describeErrorCode(r.ErrorCode()))
	f.put(" (")
	f.put(r.Access.String())
	f.put(", present=")
	f.putBool(r.Present)
	f.put(", user=")
	f.putBool(r.User)
	f.put(")\nPC = ")
	f.putAddr(r.PC)
	if ctx.Region != "" {
		f.put(" in ")
		f.put(ctx.Region)
	}
	f.put("\nCPU ")
	f.putDec(uint64(ctx.CPU))
	f.put(", address space ")
	f.putDec(ctx.AddressSpace)
	f.put(", root ")
	f.putHex(uint64(ctx.Root))
	f.put(", AC=")
	f.putBool(ctx.UserAccess)
	if ctx.InSyscall {
		f.put("\nSYSCALL:")
		for _, v := range ctx.Syscall {
			f.put(" ")
			f.putHex(v)
		}
	}
	f.put("\nHALT\n")
}
