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

// Package safecopy provides the user-copy routines: the only kernel code
// allowed to touch user memory, and the only code whose page faults are
// recovered instead of halting the CPU.
//
// Each routine is placed at its own instruction range inside the image's
// user-copy range, so the fault classifier recognizes its faults.
package safecopy

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/wenhaozhao/redox-os-kernel/pkg/fault"
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/ring0"
)

// SegvError is returned when a routine faults on an address with no valid
// translation.
type SegvError struct {
	// Addr is the address at which the fault occurred.
	Addr hostarch.Addr
}

// Error implements error.Error.
func (e SegvError) Error() string {
	return fmt.Sprintf("page fault at %v: no translation", e.Addr)
}

// Errno returns EFAULT.
func (SegvError) Errno() unix.Errno {
	return unix.EFAULT
}

// AccessError is returned when a routine faults on a mapped address whose
// permissions do not allow the access.
type AccessError struct {
	// Addr is the address at which the fault occurred.
	Addr hostarch.Addr
}

// Error implements error.Error.
func (e AccessError) Error() string {
	return fmt.Sprintf("page fault at %v: access denied", e.Addr)
}

// Errno returns EFAULT.
func (AccessError) Errno() unix.Errno {
	return unix.EFAULT
}

// AlignmentError is returned when a safecopy function is passed an address
// that does not meet alignment requirements.
type AlignmentError struct {
	// Addr is the invalid address.
	Addr hostarch.Addr

	// Alignment is the required alignment.
	Alignment uint64
}

// Error implements error.Error.
func (e AlignmentError) Error() string {
	return fmt.Sprintf("address %v is not aligned to a %d-byte boundary", e.Addr, e.Alignment)
}

// Errno returns EFAULT.
func (AlignmentError) Errno() unix.Errno {
	return unix.EFAULT
}

// errorFromFixup converts a recoverable fault to an error.
func errorFromFixup(f ring0.Fixup) error {
	switch f.Reason {
	case fault.BadAddress:
		return SegvError{f.Addr}
	case fault.PermissionDenied:
		return AccessError{f.Addr}
	default:
		panic(fmt.Sprintf("safecopy recovered from unexpected fault %v at %v", f.Reason, f.Addr))
	}
}

// Routines.
const (
	Memcpy = iota
	Memclr
	SwapUint32
	CompareAndSwapUint32
	LoadUint32

	numRoutines
)

var routineNames = [numRoutines]string{
	Memcpy:               "memcpy",
	Memclr:               "memclr",
	SwapUint32:           "swapUint32",
	CompareAndSwapUint32: "compareAndSwapUint32",
	LoadUint32:           "loadUint32",
}

// MinRoutineSize is the smallest instruction range a routine is given.
const MinRoutineSize = 16

// Copier runs the user-copy routines. It holds the kernel's UserAccess
// capability and opens the user-access window only for the duration of a
// routine.
type Copier struct {
	ua *ring0.UserAccess

	// routines are the instruction ranges of the routines, in order.
	routines [numRoutines]hostarch.AddrRange
}

// New places the routines in the kernel's user-copy range. It fails if the
// range is too small to hold them.
func New(ua *ring0.UserAccess) (*Copier, error) {
	r := ua.Kernel().Layout().UserCopyRange()
	size := r.Length() / numRoutines
	if size < MinRoutineSize {
		return nil, fmt.Errorf("user-copy range %v is too small for %d routines of at least %d bytes", r, numRoutines, MinRoutineSize)
	}
	cp := &Copier{ua: ua}
	for i := range cp.routines {
		start := r.Start + hostarch.Addr(uint64(i)*size)
		cp.routines[i] = hostarch.AddrRange{Start: start, End: start + hostarch.Addr(size)}
	}
	return cp, nil
}

// Routine returns the instruction range of routine i.
func (cp *Copier) Routine(i int) hostarch.AddrRange {
	return cp.routines[i]
}

// RoutineAt returns the name of the routine containing pc.
func (cp *Copier) RoutineAt(pc hostarch.Addr) (string, bool) {
	for i, r := range cp.routines {
		if r.Contains(pc) {
			return routineNames[i], true
		}
	}
	return "", false
}

// pc returns the instruction address of routine i.
func (cp *Copier) pc(i int) hostarch.Addr {
	return cp.routines[i].Start
}

// enter opens the user-access window on c. The caller must call exit.
func (cp *Copier) enter(c *ring0.CPU) {
	cp.ua.Enable(c)
}

func (cp *Copier) exit(c *ring0.CPU) {
	cp.ua.Disable(c)
}
