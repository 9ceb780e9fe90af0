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

package kernel

import (
	"context"

	"github.com/wenhaozhao/redox-os-kernel/pkg/abi/linux"
	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
	"github.com/wenhaozhao/redox-os-kernel/pkg/kernel/strace"
	"github.com/wenhaozhao/redox-os-kernel/pkg/log"
	"github.com/wenhaozhao/redox-os-kernel/pkg/ring0"
)

// SyscallArguments are the raw arguments of a system call.
type SyscallArguments [6]uintptr

// SyscallFn is a syscall implementation.
type SyscallFn func(ctx context.Context, t *Task, c *ring0.CPU, args SyscallArguments) (uintptr, error)

func syscallTable() map[uintptr]SyscallFn {
	return map[uintptr]SyscallFn{
		linux.SYS_READ:  Read,
		linux.SYS_WRITE: Write,
		linux.SYS_CLOSE: Close,
		linux.SYS_FSTAT: Fstat,
		linux.SYS_PIPE2: Pipe2,
	}
}

// Syscall runs system call nr for t on c. The task's address space is active
// on c for the duration of the call, and the call's registers are recorded
// for fatal fault reports. Unknown calls fail with ENOSYS. With Opts.Strace,
// the call is logged before and after it runs.
func (k *Kernel) Syscall(ctx context.Context, c *ring0.CPU, t *Task, nr uintptr, args SyscallArguments) (uintptr, error) {
	if err := t.checkRunning(); err != nil {
		return 0, err
	}
	prev := c.SwitchAddressSpace(t.as)
	defer c.SwitchAddressSpace(prev)
	c.EnterSyscall(nr, args[:]...)
	defer c.ExitSyscall()

	var tr strace.Tracer
	trace := k.strace && log.IsLogging(log.Info)
	if trace {
		tr = strace.New(k.engine, c)
		log.Infof("[%4d] E %s", t.tid, tr.FormatCall(nr, args))
	}

	var (
		rval uintptr
		err  error
	)
	if fn, ok := k.table[nr]; ok {
		rval, err = fn(ctx, t, c, args)
	} else {
		err = linuxerr.ENOSYS
	}

	if trace {
		log.Infof("[%4d] X %s", t.tid, tr.FormatReturn(nr, args, rval, err))
	}
	return rval, err
}

// Return encodes the result of a system call as the value user code finds in
// the return register: rval on success, the negated errno on failure.
func Return(rval uintptr, err error) uintptr {
	if err == nil {
		return rval
	}
	return uintptr(-int64(linuxerr.ToUnix(err)))
}
