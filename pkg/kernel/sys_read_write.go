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

	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/ring0"
)

// ioSize validates the size argument of a read or write and caps it at the
// engine's copy limit.
func (t *Task) ioSize(size uintptr) (uint64, error) {
	// Check that the size is legitimate.
	if int64(size) < 0 {
		return 0, linuxerr.EINVAL
	}
	n := uint64(size)
	if max := t.k.engine.MaxCopyBytes(); n > max {
		n = max
	}
	return n, nil
}

// Read implements linux syscall read(2).
func Read(ctx context.Context, t *Task, c *ring0.CPU, args SyscallArguments) (uintptr, error) {
	fd := int32(args[0])
	addr := hostarch.Addr(args[1])
	size, err := t.ioSize(args[2])
	if err != nil {
		return 0, err
	}

	file, _ := t.fdTable.Get(fd)
	if file == nil {
		return 0, linuxerr.EBADF
	}
	dst, err := t.k.engine.WriteOnly(c, addr, size)
	if err != nil {
		return 0, err
	}
	n, err := file.Read(ctx, dst)
	if n > 0 {
		// Partial progress is reported; the error surfaces on the next
		// call.
		return uintptr(n), nil
	}
	return 0, err
}

// Write implements linux syscall write(2).
func Write(ctx context.Context, t *Task, c *ring0.CPU, args SyscallArguments) (uintptr, error) {
	fd := int32(args[0])
	addr := hostarch.Addr(args[1])
	size, err := t.ioSize(args[2])
	if err != nil {
		return 0, err
	}

	file, _ := t.fdTable.Get(fd)
	if file == nil {
		return 0, linuxerr.EBADF
	}
	src, err := t.k.engine.ReadOnly(c, addr, size)
	if err != nil {
		return 0, err
	}
	n, err := file.Write(ctx, src)
	if n > 0 {
		return uintptr(n), nil
	}
	return 0, err
}
