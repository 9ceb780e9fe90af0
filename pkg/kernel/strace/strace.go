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

// Package strace renders system calls for the debug log. User buffers are
// decoded through the user-copy engine, so tracing a call with a bad
// pointer shows the pointer instead of faulting.
package strace

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/wenhaozhao/redox-os-kernel/pkg/abi/linux"
	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/ring0"
	"github.com/wenhaozhao/redox-os-kernel/pkg/usermem"
)

// LogMaximumSize is the maximum number of bytes of a buffer shown.
var LogMaximumSize uint64 = 64

// FormatSpecifier values describe how an individual syscall argument should be
// formatted.
type FormatSpecifier int

// Valid FormatSpecifiers.
//
// Unless otherwise specified, values are formatted before syscall execution
// and not updated after syscall execution (the same value is output).
const (
	// Hex is just a hexadecimal number.
	Hex FormatSpecifier = iota

	// FD is a file descriptor.
	FD

	// ReadBuffer is a buffer for a read-style call. The syscall return
	// value is used for the length.
	//
	// Formatted after syscall execution.
	ReadBuffer

	// WriteBuffer is a buffer for a write-style call. The following arg is
	// used for the length.
	//
	// Contents omitted after syscall execution.
	WriteBuffer

	// Count is a decimal length.
	Count

	// PipeFDs is an array of two FDs, formatted after syscall execution.
	PipeFDs

	// PipeFlags are pipe2(2) flags.
	PipeFlags

	// Stat is a pointer to a struct stat, formatted after syscall execution.
	Stat
)

// SyscallInfo captures the name and printing format of a syscall.
type SyscallInfo struct {
	// name is the name of the syscall.
	name string

	// format contains the format specifiers for each argument.
	format []FormatSpecifier
}

func makeSyscallInfo(name string, f ...FormatSpecifier) SyscallInfo {
	return SyscallInfo{name: name, format: f}
}

// defaultFormat formats all six arguments as hex.
var defaultFormat = []FormatSpecifier{Hex, Hex, Hex, Hex, Hex, Hex}

// syscalls maps system call numbers to names and printing formats.
var syscalls = map[uintptr]SyscallInfo{
	linux.SYS_READ:  makeSyscallInfo("read", FD, ReadBuffer, Count),
	linux.SYS_WRITE: makeSyscallInfo("write", FD, WriteBuffer, Count),
	linux.SYS_CLOSE: makeSyscallInfo("close", FD),
	linux.SYS_FSTAT: makeSyscallInfo("fstat", FD, Stat),
	linux.SYS_PIPE2: makeSyscallInfo("pipe2", PipeFDs, PipeFlags),
}

// Lookup returns the name of syscall nr.
func Lookup(nr uintptr) (string, bool) {
	info, ok := syscalls[nr]
	return info.name, ok
}

func lookup(nr uintptr) SyscallInfo {
	if info, ok := syscalls[nr]; ok {
		return info
	}
	return SyscallInfo{name: fmt.Sprintf("sys_%d", nr), format: defaultFormat}
}

// Tracer formats calls made on one CPU.
type Tracer struct {
	e *usermem.Engine
	c *ring0.CPU
}

// New returns a Tracer reading user memory through e on c.
func New(e *usermem.Engine, c *ring0.CPU) Tracer {
	return Tracer{e: e, c: c}
}

func (t Tracer) dump(addr hostarch.Addr, size uint64) string {
	n := size
	if n > LogMaximumSize {
		n = LogMaximumSize
	}
	s, err := t.e.ReadOnly(t.c, addr, n)
	if err != nil {
		return fmt.Sprintf("%#x (bad address)", addr)
	}
	buf := make([]byte, n)
	if err := s.CopyToSlice(buf); err != nil {
		return fmt.Sprintf("%#x (bad address)", addr)
	}
	dot := ""
	if n < size {
		dot = "..."
	}
	return fmt.Sprintf("%q%s", buf, dot)
}

func (t Tracer) pipeFDs(addr hostarch.Addr) string {
	s, err := t.e.ReadOnly(t.c, addr, 8)
	if err != nil {
		return fmt.Sprintf("%#x (bad address)", addr)
	}
	var fds [2]int32
	if err := s.ReadExact(&fds); err != nil {
		return fmt.Sprintf("%#x (bad address)", addr)
	}
	return fmt.Sprintf("[%d %d]", fds[0], fds[1])
}

func (t Tracer) stat(addr hostarch.Addr) string {
	s, err := t.e.ReadOnly(t.c, addr, linux.SizeOfStat)
	if err != nil {
		return fmt.Sprintf("%#x (bad address)", addr)
	}
	var st linux.Stat
	if err := s.ReadExact(&st); err != nil {
		return fmt.Sprintf("%#x (bad address)", addr)
	}
	return fmt.Sprintf("%#x {ino=%d, mode=%v, nlink=%d, size=%d, blksize=%d}", addr, st.Ino, linux.FileMode(st.Mode), st.Nlink, st.Size, st.Blksize)
}

// format renders the arguments of a call. post is set after execution,
// when rval is the return value.
func (t Tracer) format(info SyscallInfo, args [6]uintptr, post bool, rval uintptr) string {
	var out []string
	for i, f := range info.format {
		if i >= len(args) {
			break
		}
		a := args[i]
		addr := hostarch.Addr(a)
		switch f {
		case FD:
			out = append(out, fmt.Sprintf("%d", int32(a)))
		case Count:
			out = append(out, fmt.Sprintf("%d", a))
		case WriteBuffer:
			if post || i+1 >= len(args) {
				out = append(out, fmt.Sprintf("%#x", a))
			} else {
				out = append(out, t.dump(addr, uint64(args[i+1])))
			}
		case ReadBuffer:
			if post {
				out = append(out, t.dump(addr, uint64(rval)))
			} else {
				out = append(out, fmt.Sprintf("%#x", a))
			}
		case PipeFDs:
			if post {
				out = append(out, t.pipeFDs(addr))
			} else {
				out = append(out, fmt.Sprintf("%#x", a))
			}
		case Stat:
			if post {
				out = append(out, t.stat(addr))
			} else {
				out = append(out, fmt.Sprintf("%#x", a))
			}
		case PipeFlags:
			out = append(out, PipeFlagSet.Parse(uint64(a)))
		default:
			out = append(out, fmt.Sprintf("%#x", a))
		}
	}
	return fmt.Sprintf("%s(%s)", info.name, strings.Join(out, ", "))
}

// FormatCall renders a call before it executes.
func (t Tracer) FormatCall(nr uintptr, args [6]uintptr) string {
	return t.format(lookup(nr), args, false, 0)
}

// FormatReturn renders a call after it executes. Output buffers are shown
// only on success.
func (t Tracer) FormatReturn(nr uintptr, args [6]uintptr, rval uintptr, err error) string {
	info := lookup(nr)
	if err != nil {
		errno := linuxerr.ToUnix(err)
		return fmt.Sprintf("%s = -1 %s (%v)", t.format(info, args, false, 0), errnoName(errno), err)
	}
	return fmt.Sprintf("%s = %d", t.format(info, args, true, rval), rval)
}

func errnoName(errno unix.Errno) string {
	if name := unix.ErrnoName(errno); name != "" {
		return name
	}
	return fmt.Sprintf("errno %d", int(errno))
}
