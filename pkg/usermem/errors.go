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

package usermem

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/mm"
	"github.com/wenhaozhao/redox-os-kernel/pkg/safecopy"
)

// CopyErrorKind classifies a failed copy.
type CopyErrorKind int

const (
	// BadAddress means the user range, or part of it, is not mapped or not
	// in the user half.
	BadAddress CopyErrorKind = iota

	// PermissionDenied means the user range is mapped without the access
	// the copy needs.
	PermissionDenied

	// Truncated means a non-empty prefix was transferred before the copy
	// failed.
	Truncated
)

// String implements fmt.Stringer.String.
func (k CopyErrorKind) String() string {
	switch k {
	case BadAddress:
		return "bad address"
	case PermissionDenied:
		return "permission denied"
	case Truncated:
		return "truncated"
	default:
		return fmt.Sprintf("CopyErrorKind(%d)", int(k))
	}
}

// Sentinel errors matched by CopyError.Is.
var (
	ErrBadAddress       = errors.New("bad address")
	ErrPermissionDenied = errors.New("permission denied")
	ErrTruncated        = errors.New("truncated copy")

	// ErrTooLong is the cause of a copy rejected for exceeding the length
	// cap.
	ErrTooLong = errors.New("copy length exceeds limit")

	// ErrNoAddressSpace is the cause of a copy on a CPU with no active
	// address space.
	ErrNoAddressSpace = errors.New("no active address space")
)

// CopyError is the error returned by every failed user copy.
type CopyError struct {
	// Op names the operation, e.g. "copy from user".
	Op string

	// Kind is Truncated if Done > 0, otherwise Cause.
	Kind CopyErrorKind

	// Cause is BadAddress or PermissionDenied.
	Cause CopyErrorKind

	// Addr is the first user address that could not be accessed.
	Addr hostarch.Addr

	// Done is the number of bytes transferred before the failure.
	Done int

	// Err is the underlying error, e.g. a *mm.RangeError or a
	// safecopy.SegvError.
	Err error
}

// Error implements error.Error.
func (e *CopyError) Error() string {
	if e.Kind == Truncated {
		return fmt.Sprintf("%s at %v: %v after %d bytes: %v", e.Op, e.Addr, e.Cause, e.Done, e.Err)
	}
	return fmt.Sprintf("%s at %v: %v: %v", e.Op, e.Addr, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *CopyError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind and for e.Cause.
func (e *CopyError) Is(target error) bool {
	switch target {
	case ErrTruncated:
		return e.Kind == Truncated
	case ErrBadAddress:
		return e.Cause == BadAddress
	case ErrPermissionDenied:
		return e.Cause == PermissionDenied
	}
	return false
}

// Errno returns EFAULT, the errno of every failed user copy.
func (e *CopyError) Errno() unix.Errno {
	return unix.EFAULT
}

// newCopyError builds a CopyError, deriving Kind from done.
func newCopyError(op string, cause CopyErrorKind, addr hostarch.Addr, done int, err error) *CopyError {
	kind := cause
	if done > 0 {
		kind = Truncated
	}
	return &CopyError{
		Op:    op,
		Kind:  kind,
		Cause: cause,
		Addr:  addr,
		Done:  done,
		Err:   err,
	}
}

// fromRangeError converts a failed pre-check.
func fromRangeError(op string, err *mm.RangeError) *CopyError {
	cause := BadAddress
	if err.Kind == mm.Denied {
		cause = PermissionDenied
	}
	return newCopyError(op, cause, err.Addr, 0, err)
}

// fromSafecopy converts a fault taken during a transfer. addr is the start
// of the transfer.
func fromSafecopy(op string, addr hostarch.Addr, done int, err error) *CopyError {
	var (
		segv   safecopy.SegvError
		access safecopy.AccessError
		align  safecopy.AlignmentError
	)
	switch {
	case errors.As(err, &access):
		return newCopyError(op, PermissionDenied, access.Addr, done, err)
	case errors.As(err, &segv):
		return newCopyError(op, BadAddress, segv.Addr, done, err)
	case errors.As(err, &align):
		return newCopyError(op, BadAddress, align.Addr, done, err)
	default:
		return newCopyError(op, BadAddress, addr+hostarch.Addr(done), done, err)
	}
}
