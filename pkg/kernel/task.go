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
	"fmt"

	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
	"github.com/wenhaozhao/redox-os-kernel/pkg/log"
	"github.com/wenhaozhao/redox-os-kernel/pkg/mm"
	"github.com/wenhaozhao/redox-os-kernel/pkg/sync"
)

// Task is an execution context: an address space and the descriptors open
// in it.
type Task struct {
	k       *Kernel
	tid     int32
	as      *mm.AddressSpace
	fdTable *FDTable

	mu sync.Mutex

	// +checklocks:mu
	exited bool
}

// NewTask returns a task running in as. The task becomes the address
// space's owner; it fails with EBUSY if another context already is.
func (k *Kernel) NewTask(as *mm.AddressSpace) (*Task, error) {
	t := &Task{
		k:       k,
		tid:     k.lastTID.Add(1),
		as:      as,
		fdTable: NewFDTable(k.maxFDs),
	}
	if err := as.Attach(t); err != nil {
		return nil, err
	}
	log.Debugf("%v: started in address space %d", t, as.ID())
	return t, nil
}

// String implements fmt.Stringer.
func (t *Task) String() string {
	return fmt.Sprintf("task %d", t.tid)
}

// ThreadID returns the task's ID.
func (t *Task) ThreadID() int32 {
	return t.tid
}

// Kernel returns the kernel the task runs in.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// AddressSpace returns the task's address space.
func (t *Task) AddressSpace() *mm.AddressSpace {
	return t.as
}

// FDTable returns the task's descriptor table.
func (t *Task) FDTable() *FDTable {
	return t.fdTable
}

// Exited returns true once Exit has been called.
func (t *Task) Exited() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exited
}

// Exit closes the task's descriptors, detaches it from its address space and
// releases the address space. Exiting twice is a no-op.
func (t *Task) Exit() error {
	t.mu.Lock()
	if t.exited {
		t.mu.Unlock()
		return nil
	}
	t.exited = true
	t.mu.Unlock()

	t.fdTable.RemoveAll()
	if err := t.as.Detach(t); err != nil {
		return fmt.Errorf("detaching %v: %w", t, err)
	}
	if err := t.as.Release(); err != nil {
		return err
	}
	log.Debugf("%v: exited", t)
	return nil
}

// checkRunning fails with ESRCH once the task has exited.
func (t *Task) checkRunning() error {
	if t.Exited() {
		return linuxerr.ESRCH
	}
	return nil
}
