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
	"github.com/wenhaozhao/redox-os-kernel/pkg/ring0/pagetables"
)

// permits returns true if a page with permissions perms allows access.
func permits(perms hostarch.AccessType, access fault.Access) bool {
	switch access {
	case fault.Write:
		return perms.Write
	case fault.Execute:
		return perms.Execute
	default:
		return perms.Read
	}
}

// page translates addr for an access by the instruction at pc and, if the
// access is allowed, calls fn with the physical address. Otherwise it traps.
//
// Kernel-half addresses are backed by the image and carry the permissions
// of their region. User-half addresses go through the active address space
// and are only accessible while the user-access flag is set.
func (c *CPU) page(pc, addr hostarch.Addr, access fault.Access, fn func(pa uintptr)) (Fixup, bool) {
	arch := c.kernel.Arch()
	if !arch.Canonical(addr) {
		return c.trap(pc, addr, access, false), true
	}
	if !arch.IsUser(addr) {
		pa, ok := c.kernel.imagePhysical(addr)
		if !ok {
			return c.trap(pc, addr, access, false), true
		}
		region, ok := c.kernel.layout.RegionOf(addr)
		if !ok || !permits(region.Class.Access(), access) {
			return c.trap(pc, addr, access, true), true
		}
		fn(pa)
		return Fixup{}, false
	}
	if c.as == nil {
		return c.trap(pc, addr, access, false), true
	}
	var present, done bool
	c.as.Access(addr, func(pa uintptr, opts pagetables.MapOpts, ok bool) {
		if !ok {
			return
		}
		present = true
		if !c.userAccess || !opts.User || !permits(opts.AccessType, access) {
			return
		}
		fn(pa)
		done = true
	})
	if !done {
		return c.trap(pc, addr, access, present), true
	}
	return Fixup{}, false
}

// copy moves len(buf) bytes between buf and memory at addr, one page at a
// time. On a recoverable fault the pages before the faulting one have been
// transferred.
func (c *CPU) copy(pc, addr hostarch.Addr, buf []byte, access fault.Access) (Fixup, bool) {
	for done := 0; done < len(buf); {
		va := addr + hostarch.Addr(done)
		n := int(hostarch.PageSize - va.PageOffset())
		if rem := len(buf) - done; n > rem {
			n = rem
		}
		chunk := buf[done : done+n]
		f, faulted := c.page(pc, va, access, func(pa uintptr) {
			mem := c.kernel.memory.Bytes(pa, n)
			if access == fault.Write {
				copy(mem, chunk)
			} else {
				copy(chunk, mem)
			}
		})
		if faulted {
			return f, true
		}
		done += n
	}
	return Fixup{}, false
}

// Load reads len(dst) bytes at addr on behalf of the instruction at pc.
//
// If the access faults recoverably, Load returns the fixup and true; some
// prefix of dst may have been filled. A fatal fault halts the CPU and Load
// does not return.
func (c *CPU) Load(pc, addr hostarch.Addr, dst []byte) (Fixup, bool) {
	return c.copy(pc, addr, dst, fault.Read)
}

// Store writes src at addr on behalf of the instruction at pc. Faults are
// handled as for Load.
func (c *CPU) Store(pc, addr hostarch.Addr, src []byte) (Fixup, bool) {
	return c.copy(pc, addr, src, fault.Write)
}

// Fetch fetches an instruction at pc. It faults unless pc lies in an
// executable page.
func (c *CPU) Fetch(pc hostarch.Addr) (Fixup, bool) {
	return c.page(pc, pc, fault.Execute, func(uintptr) {})
}

// checkAligned panics if addr is not suitably aligned for a 32-bit atomic.
func checkAligned(addr hostarch.Addr) {
	if !addr.IsAligned(4) {
		panic(fmt.Sprintf("unaligned 32-bit atomic at %v", addr))
	}
}

// LoadUint32 atomically loads the 32-bit word at addr.
//
// Preconditions: addr is 4-byte aligned.
func (c *CPU) LoadUint32(pc, addr hostarch.Addr) (val uint32, f Fixup, faulted bool) {
	checkAligned(addr)
	f, faulted = c.page(pc, addr, fault.Read, func(pa uintptr) {
		val = c.kernel.memory.LoadUint32(pa)
	})
	return val, f, faulted
}

// SwapUint32 atomically stores new at addr and returns the previous value.
//
// Preconditions: addr is 4-byte aligned.
func (c *CPU) SwapUint32(pc, addr hostarch.Addr, new uint32) (old uint32, f Fixup, faulted bool) {
	checkAligned(addr)
	f, faulted = c.page(pc, addr, fault.Write, func(pa uintptr) {
		old = c.kernel.memory.SwapUint32(pa, new)
	})
	return old, f, faulted
}

// CompareAndSwapUint32 atomically replaces old with new at addr if the word
// there equals old, and returns the value found. The page must be writable
// even if the comparison fails.
//
// Preconditions: addr is 4-byte aligned.
func (c *CPU) CompareAndSwapUint32(pc, addr hostarch.Addr, old, new uint32) (prev uint32, f Fixup, faulted bool) {
	checkAligned(addr)
	f, faulted = c.page(pc, addr, fault.Write, func(pa uintptr) {
		prev = c.kernel.memory.CompareAndSwapUint32(pa, old, new)
	})
	return prev, f, faulted
}
