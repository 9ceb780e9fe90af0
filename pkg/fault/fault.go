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

// Package fault classifies supervisor page faults.
//
// Classification is a pure function of a fault Record and two bounds taken
// from the kernel layout: the user-copy instruction range and the top of the
// user half. It never touches memory, takes no locks and does not allocate,
// so it may run on any CPU's trap path.
package fault

import (
	"fmt"

	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/layout"
)

// Access is the kind of access that faulted.
type Access int

// Access kinds.
const (
	Read Access = iota
	Write
	Execute
)

// String implements fmt.Stringer.String.
func (a Access) String() string {
	switch a {
	case Read:
		return "read"
	case Write:
		return "write"
	case Execute:
		return "execute"
	default:
		return "unknown"
	}
}

// Page fault error code bits, as pushed by x86 hardware.
const (
	ErrCodePresent  = 1 << 0
	ErrCodeWrite    = 1 << 1
	ErrCodeUser     = 1 << 2
	ErrCodeReserved = 1 << 3
	ErrCodeFetch    = 1 << 4
)

// Record describes one fault. It is built by the trap path, consumed by
// Classify, and discarded.
type Record struct {
	// Addr is the faulting virtual address.
	Addr hostarch.Addr

	// PC is the address of the faulting instruction.
	PC hostarch.Addr

	// Access is the kind of access attempted.
	Access Access

	// User is true if Addr lies in the user half.
	User bool

	// Present is true if a valid translation existed, i.e. the fault is a
	// protection violation rather than a missing page.
	Present bool
}

// ErrorCode returns the x86 error code hardware would report for r from
// supervisor mode.
func (r Record) ErrorCode() uint64 {
	var code uint64
	if r.Present {
		code |= ErrCodePresent
	}
	switch r.Access {
	case Write:
		code |= ErrCodeWrite
	case Execute:
		code |= ErrCodeFetch
	}
	return code
}

// FromErrorCode builds a Record from an x86 error code. User is derived from
// arch, not from the error code's user-mode bit.
func FromErrorCode(arch *layout.Arch, addr, pc hostarch.Addr, code uint64) Record {
	r := Record{
		Addr:    addr,
		PC:      pc,
		Access:  Read,
		User:    arch.IsUser(addr),
		Present: code&ErrCodePresent != 0,
	}
	switch {
	case code&ErrCodeFetch != 0:
		r.Access = Execute
	case code&ErrCodeWrite != 0:
		r.Access = Write
	}
	return r
}

// describeErrorCode returns a short description of an error code.
func describeErrorCode(code uint64) string {
	switch code &^ ErrCodeUser {
	case 0:
		return "read from non-present page"
	case ErrCodePresent:
		return "page protection violation (read)"
	case ErrCodeWrite:
		return "write to non-present page"
	case ErrCodePresent | ErrCodeWrite:
		return "page protection violation (write)"
	case ErrCodeFetch:
		return "instruction fetch from non-present page"
	case ErrCodePresent | ErrCodeFetch:
		return "instruction fetch from non-executable page"
	}
	if code&ErrCodeReserved != 0 {
		return "page table has reserved bit set"
	}
	return "unknown"
}

// State is the classification state of a fault.
type State int

// Fault states. Every fault starts Unclassified and ends in exactly one of
// the other two.
const (
	Unclassified State = iota
	Recoverable
	Fatal
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case Unclassified:
		return "unclassified"
	case Recoverable:
		return "recoverable"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reason explains a classification.
type Reason int

// Reasons. The first two accompany Recoverable, the others Fatal.
const (
	NoReason Reason = iota

	// BadAddress is a user address with no mapping.
	BadAddress

	// PermissionDenied is a user address whose mapping forbids the
	// access, including a write during a copy from user memory.
	PermissionDenied

	// KernelAddressFromUserCopy is a user-copy routine faulting on a
	// kernel address.
	KernelAddressFromUserCopy

	// OutsideUserCopy is any fault at an instruction outside the user-copy
	// range.
	OutsideUserCopy
)

// String implements fmt.Stringer.String.
func (r Reason) String() string {
	switch r {
	case NoReason:
		return "none"
	case BadAddress:
		return "bad address"
	case PermissionDenied:
		return "permission denied"
	case KernelAddressFromUserCopy:
		return "kernel address from user-copy"
	case OutsideUserCopy:
		return "fault outside user-copy"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Classification is the outcome of Classify.
type Classification struct {
	State  State
	Reason Reason
}

// String implements fmt.Stringer.String.
func (c Classification) String() string {
	return c.State.String() + ": " + c.Reason.String()
}

// Classifier decides whether a fault is recoverable.
type Classifier struct {
	// UserCopy is the instruction range of the user-copy routines.
	UserCopy hostarch.AddrRange

	// UserTop is the first address above the user half.
	UserTop hostarch.Addr
}

// NewClassifier returns the classifier for an image layout.
func NewClassifier(d *layout.Descriptor) Classifier {
	return Classifier{
		UserCopy: d.UserCopyRange(),
		UserTop:  d.Arch().UserTop,
	}
}

// Classify classifies r.
//
// A fault is recoverable only if it was raised by an instruction inside the
// user-copy range on an address in the user half. Everything else is a
// kernel bug.
func (c Classifier) Classify(r Record) Classification {
	if !c.UserCopy.Contains(r.PC) {
		return Classification{State: Fatal, Reason: OutsideUserCopy}
	}
	if !r.User || r.Addr >= c.UserTop {
		return Classification{State: Fatal, Reason: KernelAddressFromUserCopy}
	}
	if r.Present {
		return Classification{State: Recoverable, Reason: PermissionDenied}
	}
	return Classification{State: Recoverable, Reason: BadAddress}
}
