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
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/kernel/pipe"
	"github.com/wenhaozhao/redox-os-kernel/pkg/ring0"
)

// Close implements linux syscall close(2).
func Close(ctx context.Context, t *Task, c *ring0.CPU, args SyscallArguments) (uintptr, error) {
	fd := int32(args[0])

	file := t.fdTable.Remove(fd)
	if file == nil {
		return 0, linuxerr.EBADF
	}
	file.Release()
	return 0, nil
}

// Fstat implements linux syscall fstat(2).
func Fstat(ctx context.Context, t *Task, c *ring0.CPU, args SyscallArguments) (uintptr, error) {
	fd := int32(args[0])
	addr := hostarch.Addr(args[1])

	file, _ := t.fdTable.Get(fd)
	if file == nil {
		return 0, linuxerr.EBADF
	}
	stat, err := file.Stat(ctx)
	if err != nil {
		return 0, err
	}
	dst, err := t.k.engine.WriteOnly(c, addr, linux.SizeOfStat)
	if err != nil {
		return 0, err
	}
	_, err = dst.CopyExactly(&stat)
	return 0, err
}

// Pipe2 implements linux syscall pipe2(2).
func Pipe2(ctx context.Context, t *Task, c *ring0.CPU, args SyscallArguments) (uintptr, error) {
	addr := hostarch.Addr(args[0])
	flags := uint64(args[1])

	if flags&^(linux.O_NONBLOCK|linux.O_CLOEXEC) != 0 {
		return 0, linuxerr.EINVAL
	}
	r, w := pipe.NewConnectedPipe(t.k.pipeSize, flags&linux.O_NONBLOCK != 0)
	fds, err := t.fdTable.NewFDs(0, []FileDescription{r, w}, FDFlags{
		CloseOnExec: flags&linux.O_CLOEXEC != 0,
	})
	if err != nil {
		r.Release()
		w.Release()
		return 0, err
	}

	dst, err := t.k.engine.WriteOnly(c, addr, 8)
	if err == nil {
		_, err = dst.CopyExactly([2]int32{fds[0], fds[1]})
	}
	if err != nil {
		// Don't leak the descriptors user code never learned about.
		for _, fd := range fds {
			if file := t.fdTable.Remove(fd); file != nil {
				file.Release()
			}
		}
		return 0, err
	}
	return 0, nil
}
