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

// Package kernel implements the system call surface: tasks, their file
// descriptor tables and the calls that move data between files and user
// memory. Every user pointer a call receives is handed to the user-copy
// engine; nothing here dereferences user memory.
package kernel

import (
	"fmt"
	"sync/atomic"

	"github.com/wenhaozhao/redox-os-kernel/pkg/kernel/pipe"
	"github.com/wenhaozhao/redox-os-kernel/pkg/ring0"
	"github.com/wenhaozhao/redox-os-kernel/pkg/usermem"
)

// DefaultMaxFDs is the default size of a task's descriptor table.
const DefaultMaxFDs = 1024

// Opts are options for New.
type Opts struct {
	// PipeSize is the capacity of new pipes. Zero means
	// pipe.DefaultPipeSize.
	PipeSize int

	// MaxFDs is the size of each task's descriptor table. Zero means
	// DefaultMaxFDs.
	MaxFDs int32

	// Strace logs every system call with its decoded arguments.
	Strace bool
}

// Kernel dispatches system calls made by tasks.
type Kernel struct {
	engine   *usermem.Engine
	pipeSize int
	maxFDs   int32
	strace   bool
	table    map[uintptr]SyscallFn

	lastTID atomic.Int32
}

// New returns a Kernel copying user memory through e.
func New(e *usermem.Engine, opts Opts) (*Kernel, error) {
	if opts.PipeSize == 0 {
		opts.PipeSize = pipe.DefaultPipeSize
	}
	if opts.MaxFDs == 0 {
		opts.MaxFDs = DefaultMaxFDs
	}
	if opts.PipeSize < 0 || opts.MaxFDs < 0 {
		return nil, fmt.Errorf("invalid kernel options %+v", opts)
	}
	return &Kernel{
		engine:   e,
		pipeSize: opts.PipeSize,
		maxFDs:   opts.MaxFDs,
		strace:   opts.Strace,
		table:    syscallTable(),
	}, nil
}

// Engine returns the user-copy engine.
func (k *Kernel) Engine() *usermem.Engine {
	return k.engine
}

// Machine returns the machine the kernel runs on.
func (k *Kernel) Machine() *ring0.Kernel {
	return k.engine.Kernel()
}
