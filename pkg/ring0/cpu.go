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

package ring0

import (
	"fmt"

	"github.com/wenhaozhao/redox-os-kernel/pkg/fault"
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/log"
	"github.com/wenhaozhao/redox-os-kernel/pkg/mm"
)

// Fixup describes a recoverable fault. The faulting access is abandoned and
// control returns to the caller, which reports the failure.
type Fixup struct {
	// Addr is the faulting address.
	Addr hostarch.Addr

	// Reason is BadAddress or PermissionDenied.
	Reason fault.Reason
}

// CPU is a single processor.
//
// A CPU is used only by the goroutine it was started on; none of its methods
// are safe for concurrent use.
type CPU struct {
	kernel *Kernel
	id     int

	// as is the active address space. It may be nil, in which case the user
	// half is entirely unmapped.
	as *mm.AddressSpace

	// userAccess is the user-access flag. Supervisor accesses to user pages
	// fault while it is clear.
	userAccess bool

	// tls is this CPU's thread-local block.
	tls *TLSBlock

	// fatal is the record this CPU halts with. It is filled in place on the
	// fatal path.
	fatal fault.FatalFault

	// fixup is the last recoverable fault.
	fixup Fixup

	// faults counts recoverable faults.
	faults uint64

	// inSyscall and syscall hold the registers of the system call in
	// progress, for fatal reports.
	inSyscall bool
	syscall   [6]uint64

	halted  bool
	offline bool
}

// NewCPU brings up the next CPU with a fresh thread-local block.
func (k *Kernel) NewCPU() (*CPU, error) {
	if k.imageFrames == nil {
		return nil, fmt.Errorf("kernel image not loaded")
	}
	c := &CPU{
		kernel: k,
		id:     int(k.nextCPU.Add(1) - 1),
	}
	c.init()
	return c, nil
}

// init initializes the thread-local block from the image's tdata template.
func (c *CPU) init() {
	c.tls = newTLSBlock(c.kernel)
}

// ID returns the CPU number.
func (c *CPU) ID() int {
	return c.id
}

// Kernel returns the kernel c belongs to.
func (c *CPU) Kernel() *Kernel {
	return c.kernel
}

// TLS returns this CPU's thread-local block.
func (c *CPU) TLS() *TLSBlock {
	return c.tls
}

// AddressSpace returns the active address space.
func (c *CPU) AddressSpace() *mm.AddressSpace {
	return c.as
}

// SwitchAddressSpace makes as the active address space and returns the
// previous one. as may be nil.
func (c *CPU) SwitchAddressSpace(as *mm.AddressSpace) *mm.AddressSpace {
	prev := c.as
	c.as = as
	return prev
}

// UserAccessEnabled returns the state of the user-access flag.
func (c *CPU) UserAccessEnabled() bool {
	return c.userAccess
}

// EnterSyscall records the registers of a system call for fatal reports.
func (c *CPU) EnterSyscall(number uintptr, args ...uintptr) {
	c.inSyscall = true
	c.syscall = [6]uint64{uint64(number)}
	for i, a := range args {
		if i+1 >= len(c.syscall) {
			break
		}
		c.syscall[i+1] = uint64(a)
	}
}

// ExitSyscall clears the registers recorded by EnterSyscall.
func (c *CPU) ExitSyscall() {
	c.inSyscall = false
	c.syscall = [6]uint64{}
}

// Fixup returns the last recoverable fault.
func (c *CPU) Fixup() Fixup {
	return c.fixup
}

// Faults returns the number of recoverable faults taken.
func (c *CPU) Faults() uint64 {
	return c.faults
}

// Halted returns true once the CPU has halted on a fatal fault.
func (c *CPU) Halted() bool {
	return c.halted
}

// Shutdown takes the CPU offline. The user-access flag is cleared and the
// address space deactivated.
func (c *CPU) Shutdown() {
	if c.offline {
		return
	}
	c.userAccess = false
	c.as = nil
	c.offline = true
	log.Debugf("ring0: CPU %d offline after %d recoverable faults", c.id, c.faults)
}

// trap handles a page fault raised by the instruction at pc. It returns the
// fixup for a recoverable fault and does not return for a fatal one.
func (c *CPU) trap(pc, addr hostarch.Addr, access fault.Access, present bool) Fixup {
	r := fault.Record{
		Addr:    addr,
		PC:      pc,
		Access:  access,
		User:    c.kernel.Arch().IsUser(addr),
		Present: present,
	}
	cl := c.kernel.classifier.Classify(r)
	if cl.State != fault.Recoverable {
		c.halt(r, cl)
	}
	c.faults++
	c.fixup = Fixup{Addr: addr, Reason: cl.Reason}
	return c.fixup
}

// halt stops the CPU on a fatal fault: the report goes to the console, the
// halt hook runs, and the CPU panics with its FatalFault. Nothing on this
// path allocates.
func (c *CPU) halt(r fault.Record, cl fault.Classification) {
	ctx := fault.Context{
		CPU:        c.id,
		UserAccess: c.userAccess,
		InSyscall:  c.inSyscall,
		Syscall:    c.syscall,
	}
	if c.as != nil {
		ctx.AddressSpace = c.as.ID()
		ctx.Root = c.as.RootPhysical()
	}
	if region, ok := c.kernel.layout.RegionOf(r.PC); ok {
		ctx.Region = region.Name
	}
	c.fatal.Set(r, cl, ctx)
	c.userAccess = false
	c.halted = true
	c.kernel.writeConsole(c.fatal.Report())
	if c.kernel.onHalt != nil {
		c.kernel.onHalt(c, &c.fatal)
	}
	panic(&c.fatal)
}
