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
	"fmt"

	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/ring0"
)

// maxRegisterSize is the maximum register size used in memcpy and memclr. It
// is used to decide by how much to rewind the copy (for memcpy) or zeroing
// (for memclr) before proceeding.
const maxRegisterSize = 16

// memcpy moves n bytes between buf and user memory at addr, one register at
// a time. If a fault is taken it returns the fault and true.
//
// Data is copied in order, such that if a fault happens at address p, it is
// safe to assume that all data before p-maxRegisterSize has already been
// successfully copied.
func (cp *Copier) memcpy(c *ring0.CPU, addr hostarch.Addr, buf []byte, out bool) (ring0.Fixup, bool) {
	pc := cp.pc(Memcpy)
	for off := 0; off < len(buf); off += maxRegisterSize {
		end := off + maxRegisterSize
		if end > len(buf) {
			end = len(buf)
		}
		var (
			f       ring0.Fixup
			faulted bool
		)
		if out {
			f, faulted = c.Store(pc, addr+hostarch.Addr(off), buf[off:end])
		} else {
			f, faulted = c.Load(pc, addr+hostarch.Addr(off), buf[off:end])
		}
		if faulted {
			return f, true
		}
	}
	return ring0.Fixup{}, false
}

// memclr zeroes n bytes of user memory at addr. Faults are reported as for
// memcpy.
func (cp *Copier) memclr(c *ring0.CPU, addr hostarch.Addr, n uint64) (ring0.Fixup, bool) {
	var zeroes [maxRegisterSize]byte
	pc := cp.pc(Memclr)
	for off := uint64(0); off < n; off += maxRegisterSize {
		chunk := n - off
		if chunk > maxRegisterSize {
			chunk = maxRegisterSize
		}
		if f, faulted := c.Store(pc, addr+hostarch.Addr(off), zeroes[:chunk]); faulted {
			return f, true
		}
	}
	return ring0.Fixup{}, false
}

// CopyIn copies len(dst) bytes from user memory at src to dst. It returns
// the number of bytes copied and an error if a fault is taken while reading
// from src.
func (cp *Copier) CopyIn(c *ring0.CPU, dst []byte, src hostarch.Addr) (int, error) {
	cp.enter(c)
	defer cp.exit(c)
	return cp.copyIn(c, dst, src)
}

func (cp *Copier) copyIn(c *ring0.CPU, dst []byte, src hostarch.Addr) (int, error) {
	toCopy := uint64(len(dst))
	if toCopy == 0 {
		return 0, nil
	}

	f, faulted := cp.memcpy(c, src, dst, false)
	if !faulted {
		return len(dst), nil
	}

	faultN, srcN := uint64(f.Addr), uint64(src)
	if faultN < srcN || faultN >= srcN+toCopy {
		panic(fmt.Sprintf("CopyIn faulted at %#x, which is outside source [%#x, %#x)", faultN, srcN, srcN+toCopy))
	}

	// memcpy might have ended the copy up to maxRegisterSize bytes before
	// fault, if an instruction caused a memory access that straddled two
	// pages, and the second one faulted. Try to copy up to the fault.
	var done int
	if faultN-srcN > maxRegisterSize {
		done = int(faultN - srcN - maxRegisterSize)
	}
	n, err := cp.copyIn(c, dst[done:int(faultN-srcN)], src+hostarch.Addr(done))
	done += n
	if err != nil {
		return done, err
	}
	return done, errorFromFixup(f)
}

// CopyOut copies len(src) bytes from src to user memory at dst. It returns
// the number of bytes done and an error if a fault is taken while writing to
// dst.
func (cp *Copier) CopyOut(c *ring0.CPU, dst hostarch.Addr, src []byte) (int, error) {
	cp.enter(c)
	defer cp.exit(c)
	return cp.copyOut(c, dst, src)
}

func (cp *Copier) copyOut(c *ring0.CPU, dst hostarch.Addr, src []byte) (int, error) {
	toCopy := uint64(len(src))
	if toCopy == 0 {
		return 0, nil
	}

	f, faulted := cp.memcpy(c, dst, src, true)
	if !faulted {
		return len(src), nil
	}

	faultN, dstN := uint64(f.Addr), uint64(dst)
	if faultN < dstN || faultN >= dstN+toCopy {
		panic(fmt.Sprintf("CopyOut faulted at %#x, which is outside destination [%#x, %#x)", faultN, dstN, dstN+toCopy))
	}

	// memcpy might have ended the copy up to maxRegisterSize bytes before
	// fault, if an instruction caused a memory access that straddled two
	// pages, and the second one faulted. Try to copy up to the fault.
	var done int
	if faultN-dstN > maxRegisterSize {
		done = int(faultN - dstN - maxRegisterSize)
	}
	n, err := cp.copyOut(c, dst+hostarch.Addr(done), src[done:int(faultN-dstN)])
	done += n
	if err != nil {
		return done, err
	}
	return done, errorFromFixup(f)
}

// ZeroOut writes toZero zero bytes to user memory at dst. It returns the
// number of bytes written and an error if a fault is taken while writing to
// dst.
func (cp *Copier) ZeroOut(c *ring0.CPU, dst hostarch.Addr, toZero uint64) (uint64, error) {
	cp.enter(c)
	defer cp.exit(c)
	return cp.zeroOut(c, dst, toZero)
}

func (cp *Copier) zeroOut(c *ring0.CPU, dst hostarch.Addr, toZero uint64) (uint64, error) {
	if toZero == 0 {
		return 0, nil
	}

	f, faulted := cp.memclr(c, dst, toZero)
	if !faulted {
		return toZero, nil
	}

	faultN, dstN := uint64(f.Addr), uint64(dst)
	if faultN < dstN || faultN >= dstN+toZero {
		panic(fmt.Sprintf("ZeroOut faulted at %#x, which is outside destination [%#x, %#x)", faultN, dstN, dstN+toZero))
	}

	// memclr might have ended the write up to maxRegisterSize bytes before
	// fault, if an instruction caused a memory access that straddled two
	// pages, and the second one faulted. Try to write up to the fault.
	var done uint64
	if faultN-dstN > maxRegisterSize {
		done = faultN - dstN - maxRegisterSize
	}
	n, err := cp.zeroOut(c, dst+hostarch.Addr(done), faultN-dstN-done)
	done += n
	if err != nil {
		return done, err
	}
	return done, errorFromFixup(f)
}

// SwapUint32 is equivalent to sync/atomic.SwapUint32 on user memory, except
// that it returns an error if a fault is taken while accessing addr, or if
// addr is not aligned to a 4-byte boundary.
func (cp *Copier) SwapUint32(c *ring0.CPU, addr hostarch.Addr, new uint32) (uint32, error) {
	if !addr.IsAligned(4) {
		return 0, AlignmentError{addr, 4}
	}
	cp.enter(c)
	defer cp.exit(c)
	old, f, faulted := c.SwapUint32(cp.pc(SwapUint32), addr, new)
	if faulted {
		return 0, errorFromFixup(f)
	}
	return old, nil
}

// CompareAndSwapUint32 is like sync/atomic.CompareAndSwapUint32 on user
// memory, but returns the value previously stored at addr. It returns an
// error if a fault is taken while accessing addr, or if addr is not aligned
// to a 4-byte boundary.
func (cp *Copier) CompareAndSwapUint32(c *ring0.CPU, addr hostarch.Addr, old, new uint32) (uint32, error) {
	if !addr.IsAligned(4) {
		return 0, AlignmentError{addr, 4}
	}
	cp.enter(c)
	defer cp.exit(c)
	prev, f, faulted := c.CompareAndSwapUint32(cp.pc(CompareAndSwapUint32), addr, old, new)
	if faulted {
		return 0, errorFromFixup(f)
	}
	return prev, nil
}

// LoadUint32 is like sync/atomic.LoadUint32, but operates with user memory.
// It returns an error if a fault is taken while reading from addr, or if
// addr is not aligned to a 4-byte boundary.
func (cp *Copier) LoadUint32(c *ring0.CPU, addr hostarch.Addr) (uint32, error) {
	if !addr.IsAligned(4) {
		return 0, AlignmentError{addr, 4}
	}
	cp.enter(c)
	defer cp.exit(c)
	val, f, faulted := c.LoadUint32(cp.pc(LoadUint32), addr)
	if faulted {
		return 0, errorFromFixup(f)
	}
	return val, nil
}
