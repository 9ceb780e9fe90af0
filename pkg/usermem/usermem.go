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

// Package usermem is the single gateway between the kernel and user memory.
//
// An Engine owns the kernel's user-access capability; no other code can
// dereference a user address. Every user pointer a system call receives is
// attacker controlled, so each copy is bounded, pre-checked against the
// active address space, and performed by the user-copy routines, whose
// faults come back as a *CopyError instead of halting the CPU.
package usermem

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/log"
	"github.com/wenhaozhao/redox-os-kernel/pkg/mm"
	"github.com/wenhaozhao/redox-os-kernel/pkg/ring0"
	"github.com/wenhaozhao/redox-os-kernel/pkg/safecopy"
)

// DefaultMaxCopyBytes is the default cap on a single copy, Linux's
// MAX_RW_COUNT.
const DefaultMaxCopyBytes = 0x7fff_f000

// DefaultFaultLogInterval is the default minimum interval between logged
// recoverable faults.
const DefaultFaultLogInterval = time.Second

// Operation names used in errors.
const (
	opCopyIn  = "copy from user"
	opCopyOut = "copy to user"
	opZeroOut = "zero user memory"
	opAtomic  = "atomic user access"
)

// Opts are options for New.
type Opts struct {
	// MaxCopyBytes caps the length of a single copy. Zero means
	// DefaultMaxCopyBytes.
	MaxCopyBytes uint64

	// SkipPrecheck disables the address space pre-check, leaving the fault
	// path as the only guard. Ranges outside the user half are rejected
	// regardless.
	SkipPrecheck bool

	// FaultLogInterval is the minimum interval between logged recoverable
	// faults. Zero means DefaultFaultLogInterval.
	FaultLogInterval time.Duration
}

// Stats are counters kept by an Engine.
type Stats struct {
	// Copies is the number of copies attempted.
	Copies uint64

	// Rejected is the number of copies refused before touching memory.
	Rejected uint64

	// Faults is the number of copies that faulted during the transfer.
	Faults uint64

	// Bytes is the number of bytes transferred.
	Bytes uint64
}

// Engine performs all user memory accesses for one kernel.
//
// Engine is safe for concurrent use by multiple CPUs.
type Engine struct {
	kernel   *ring0.Kernel
	copier   *safecopy.Copier
	maxCopy  uint64
	precheck bool
	faultLog log.Logger

	copies   atomic.Uint64
	rejected atomic.Uint64
	faults   atomic.Uint64
	bytes    atomic.Uint64

	// afterPrecheck, if set, runs between the pre-check and the transfer.
	afterPrecheck func()
}

// New returns an Engine holding ua.
func New(ua *ring0.UserAccess, opts Opts) (*Engine, error) {
	cp, err := safecopy.New(ua)
	if err != nil {
		return nil, err
	}
	if opts.MaxCopyBytes == 0 {
		opts.MaxCopyBytes = DefaultMaxCopyBytes
	}
	if opts.FaultLogInterval == 0 {
		opts.FaultLogInterval = DefaultFaultLogInterval
	}
	return &Engine{
		kernel:   ua.Kernel(),
		copier:   cp,
		maxCopy:  opts.MaxCopyBytes,
		precheck: !opts.SkipPrecheck,
		faultLog: log.BasicRateLimitedLogger(opts.FaultLogInterval),
	}, nil
}

// MaxCopyBytes returns the cap on a single copy.
func (e *Engine) MaxCopyBytes() uint64 {
	return e.maxCopy
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Copies:   e.copies.Load(),
		Rejected: e.rejected.Load(),
		Faults:   e.faults.Load(),
		Bytes:    e.bytes.Load(),
	}
}

// check validates a copy of length bytes at addr before anything is
// touched.
func (e *Engine) check(c *ring0.CPU, op string, addr hostarch.Addr, length uint64, required hostarch.AccessType) *CopyError {
	e.copies.Add(1)
	cerr := e.checkRange(c, op, addr, length, required)
	if cerr != nil {
		e.rejected.Add(1)
		e.faultLog.Debugf("usermem: CPU %d: rejected: %v", c.ID(), cerr)
	}
	return cerr
}

func (e *Engine) checkRange(c *ring0.CPU, op string, addr hostarch.Addr, length uint64, required hostarch.AccessType) *CopyError {
	if length > e.maxCopy {
		return newCopyError(op, BadAddress, addr, 0, fmt.Errorf("%w: %d > %d", ErrTooLong, length, e.maxCopy))
	}
	as := c.AddressSpace()
	if as == nil {
		return newCopyError(op, BadAddress, addr, 0, ErrNoAddressSpace)
	}
	if !e.precheck {
		if _, ok := as.CheckIORange(addr, length); !ok {
			return fromRangeError(op, &mm.RangeError{Kind: mm.Wrapped, Addr: addr, Required: required})
		}
		return nil
	}
	if err := as.ValidateRange(addr, length, required); err != nil {
		var rerr *mm.RangeError
		if errors.As(err, &rerr) {
			return fromRangeError(op, rerr)
		}
		return newCopyError(op, BadAddress, addr, 0, err)
	}
	return nil
}

// transferred accounts for a transfer of n bytes that returned err.
func (e *Engine) transferred(c *ring0.CPU, op string, addr hostarch.Addr, n int, err error) error {
	e.bytes.Add(uint64(n))
	if err == nil {
		return nil
	}
	e.faults.Add(1)
	cerr := fromSafecopy(op, addr, n, err)
	e.faultLog.Debugf("usermem: CPU %d: recovered: %v", c.ID(), cerr)
	return cerr
}

func (e *Engine) beforeTransfer() {
	if e.afterPrecheck != nil {
		e.afterPrecheck()
	}
}

// CopyIn copies len(dst) bytes from the user address addr to dst. It returns
// the number of bytes copied; if that is less than len(dst), the error is a
// *CopyError.
func (e *Engine) CopyIn(c *ring0.CPU, addr hostarch.Addr, dst []byte) (int, error) {
	if cerr := e.check(c, opCopyIn, addr, uint64(len(dst)), hostarch.Read); cerr != nil {
		return 0, cerr
	}
	e.beforeTransfer()
	n, err := e.copier.CopyIn(c, dst, addr)
	return n, e.transferred(c, opCopyIn, addr, n, err)
}

// CopyOut copies src to the user address addr. It returns the number of
// bytes copied; if that is less than len(src), the error is a *CopyError and
// the prefix may already be visible to user code.
func (e *Engine) CopyOut(c *ring0.CPU, addr hostarch.Addr, src []byte) (int, error) {
	if cerr := e.check(c, opCopyOut, addr, uint64(len(src)), hostarch.Write); cerr != nil {
		return 0, cerr
	}
	e.beforeTransfer()
	n, err := e.copier.CopyOut(c, addr, src)
	return n, e.transferred(c, opCopyOut, addr, n, err)
}

// ZeroOut writes toZero zero bytes at the user address addr.
func (e *Engine) ZeroOut(c *ring0.CPU, addr hostarch.Addr, toZero uint64) (uint64, error) {
	if cerr := e.check(c, opZeroOut, addr, toZero, hostarch.Write); cerr != nil {
		return 0, cerr
	}
	e.beforeTransfer()
	n, err := e.copier.ZeroOut(c, addr, toZero)
	return n, e.transferred(c, opZeroOut, addr, int(n), err)
}

// CopyFromUser returns length bytes read from the user address addr. On
// failure it returns the prefix that was read along with a *CopyError.
func (e *Engine) CopyFromUser(c *ring0.CPU, addr hostarch.Addr, length uint64) ([]byte, error) {
	if length > e.maxCopy {
		// Checked before allocating the buffer.
		return nil, e.check(c, opCopyIn, addr, length, hostarch.Read)
	}
	buf := make([]byte, length)
	n, err := e.CopyIn(c, addr, buf)
	return buf[:n], err
}

// CopyToUser writes data to the user address addr.
func (e *Engine) CopyToUser(c *ring0.CPU, addr hostarch.Addr, data []byte) error {
	_, err := e.CopyOut(c, addr, data)
	return err
}

// Kernel returns the kernel the engine serves.
func (e *Engine) Kernel() *ring0.Kernel {
	return e.kernel
}
