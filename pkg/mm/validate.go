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

package mm

import (
	"fmt"

	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"golang.org/x/sys/unix"
)

// RangeErrorKind is the reason a range failed validation.
type RangeErrorKind int

const (
	// Unmapped means part of the range has no mapping.
	Unmapped RangeErrorKind = iota

	// Wrapped means the range wraps around the end of the address space
	// or leaves the user half.
	Wrapped

	// Denied means a mapping lacks the required access.
	Denied
)

// String implements fmt.Stringer.String.
func (k RangeErrorKind) String() string {
	switch k {
	case Unmapped:
		return "unmapped"
	case Wrapped:
		return "wrapped"
	case Denied:
		return "permission denied"
	default:
		return fmt.Sprintf("RangeErrorKind(%d)", int(k))
	}
}

// RangeError is returned by ValidateRange.
type RangeError struct {
	Kind RangeErrorKind

	// Addr is the first offending address.
	Addr hostarch.Addr

	// Required is the access that was asked for; Have is what the mapping
	// at Addr grants (Denied only).
	Required hostarch.AccessType
	Have     hostarch.AccessType
}

// Error implements error.Error.
func (e *RangeError) Error() string {
	if e.Kind == Denied {
		return fmt.Sprintf("%v at %v: have %v, need %v", e.Kind, e.Addr, e.Have, e.Required)
	}
	return fmt.Sprintf("%v at %v", e.Kind, e.Addr)
}

// Errno returns EFAULT, as Linux reports for every bad user range.
func (e *RangeError) Errno() unix.Errno {
	return unix.EFAULT
}

// CheckIORange is similar to hostarch.Addr.ToRange, but applies bounds checks
// consistent with Linux's arch/x86/include/asm/uaccess.h:access_ok(): the
// range must not wrap and must end within the user half.
func (as *AddressSpace) CheckIORange(addr hostarch.Addr, length uint64) (hostarch.AddrRange, bool) {
	// Note that access_ok() constrains end even if length == 0.
	ar, ok := addr.ToRange(length)
	return ar, ok && ar.End <= as.arch.UserTop
}

// ValidateRange checks that [addr, addr+length) is mapped with at least the
// required access.
//
// The check is advisory: mappings may change as soon as the lock is dropped,
// so callers must still be prepared for the access itself to fault.
func (as *AddressSpace) ValidateRange(addr hostarch.Addr, length uint64, required hostarch.AccessType) error {
	ar, ok := as.CheckIORange(addr, length)
	if !ok {
		return &RangeError{Kind: Wrapped, Addr: addr, Required: required}
	}
	if length == 0 {
		return nil
	}

	as.mu.RLock()
	defer as.mu.RUnlock()
	if as.released {
		return &RangeError{Kind: Unmapped, Addr: addr, Required: required}
	}
	next := ar.Start
	for _, v := range as.intersectingLocked(ar) {
		if v.ar.Start > next {
			break
		}
		if have := v.perms.Effective(); !have.SupersetOf(required) {
			return &RangeError{Kind: Denied, Addr: next, Required: required, Have: v.perms}
		}
		next = v.ar.End
		if next >= ar.End {
			return nil
		}
	}
	return &RangeError{Kind: Unmapped, Addr: next, Required: required}
}
