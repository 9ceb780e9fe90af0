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

// Package ring0 provides the machine the kernel runs on: CPUs executing
// supervisor code, an MMU that enforces page table permissions, and the trap
// path that routes page faults through the fault classifier.
//
// Supervisor access to user pages is gated by a per-CPU user-access flag, as
// with SMAP: with the flag clear, any supervisor access to a user page
// faults. Only the holder of the kernel's UserAccess capability can set the
// flag.
package ring0

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/wenhaozhao/redox-os-kernel/pkg/fault"
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/layout"
	"github.com/wenhaozhao/redox-os-kernel/pkg/log"
	"github.com/wenhaozhao/redox-os-kernel/pkg/physmem"
	"github.com/wenhaozhao/redox-os-kernel/pkg/sync"
)

// KernelOpts are the options for New.
type KernelOpts struct {
	// Layout is the validated image layout. Required.
	Layout *layout.Descriptor

	// Memory is physical memory. Required.
	Memory *physmem.Memory

	// TData is the initial content of the tdata section, the template every
	// CPU's thread-local block starts from. It may be shorter than the
	// section; the rest is zero.
	TData []byte

	// Data is the initial content of the data section.
	Data []byte

	// Console receives fatal reports. Defaults to os.Stderr.
	Console io.Writer

	// OnHalt, if set, is called on the halting CPU after the fatal report
	// has been written and before the CPU stops.
	OnHalt func(c *CPU, f *fault.FatalFault)
}

// Kernel is the global kernel state shared by all CPUs.
type Kernel struct {
	layout     *layout.Descriptor
	classifier fault.Classifier
	memory     *physmem.Memory

	// imageFrames back the kernel half: one frame per image page, from the
	// start of text to __end.
	imageFrames []uintptr

	consoleMu sync.Mutex
	console   io.Writer

	onHalt func(c *CPU, f *fault.FatalFault)

	// userAccessClaimed is set once the UserAccess capability is taken.
	userAccessClaimed atomic.Bool

	// nextCPU numbers CPUs.
	nextCPU atomic.Int32
}

// New creates the kernel and loads its image.
func New(opts KernelOpts) (*Kernel, error) {
	if opts.Layout == nil || opts.Memory == nil {
		return nil, fmt.Errorf("kernel requires a layout and physical memory")
	}
	d := opts.Layout
	k := &Kernel{
		layout:     d,
		classifier: fault.NewClassifier(d),
		memory:     opts.Memory,
		console:    opts.Console,
		onHalt:     opts.OnHalt,
	}
	if k.console == nil {
		k.console = os.Stderr
	}
	pages := d.Image().Length() / hostarch.PageSize
	for i := uint64(0); i < pages; i++ {
		pa, err := k.memory.Allocate()
		if err != nil {
			k.Release()
			return nil, fmt.Errorf("loading %d page image: %w", pages, err)
		}
		k.imageFrames = append(k.imageFrames, pa)
	}
	if err := k.load(layout.TData, opts.TData); err != nil {
		k.Release()
		return nil, err
	}
	if err := k.load(layout.Data, opts.Data); err != nil {
		k.Release()
		return nil, err
	}
	log.Infof("ring0: %v image %v, user-copy %v, %d bytes of thread-local storage per CPU",
		d.Arch(), d.Image(), d.UserCopyRange(), d.ThreadLocalSize())
	return k, nil
}

// load copies content into the named region of the image.
func (k *Kernel) load(name string, content []byte) error {
	r, _ := k.layout.Region(name)
	if uint64(len(content)) > r.Size() {
		return fmt.Errorf("%d bytes of %s content do not fit the %d byte region", len(content), name, r.Size())
	}
	addr := r.Start
	for len(content) > 0 {
		pa, _ := k.imagePhysical(addr)
		n := copy(k.memory.Bytes(pa, int(hostarch.PageSize-addr.PageOffset())), content)
		content = content[n:]
		addr += hostarch.Addr(n)
	}
	return nil
}

// imagePhysical returns the physical address backing the image address
// addr.
func (k *Kernel) imagePhysical(addr hostarch.Addr) (uintptr, bool) {
	image := k.layout.Image()
	if !image.Contains(addr) || k.imageFrames == nil {
		return 0, false
	}
	page := uint64(addr-image.Start) / hostarch.PageSize
	return k.imageFrames[page] + uintptr(addr.PageOffset()), true
}

// Release returns the image frames to physical memory. The kernel must not
// be used afterwards.
func (k *Kernel) Release() {
	for _, pa := range k.imageFrames {
		k.memory.Free(pa)
	}
	k.imageFrames = nil
}

// Layout returns the image layout.
func (k *Kernel) Layout() *layout.Descriptor {
	return k.layout
}

// Arch returns the architecture.
func (k *Kernel) Arch() *layout.Arch {
	return k.layout.Arch()
}

// Classifier returns the fault classifier used on every trap.
func (k *Kernel) Classifier() fault.Classifier {
	return k.classifier
}

// Memory returns physical memory.
func (k *Kernel) Memory() *physmem.Memory {
	return k.memory
}

// TextPC returns the address of the instruction at offset bytes into the
// part of text outside the user-copy range, wrapping at its end. Text before
// the user-copy range is used if there is any, otherwise text after it. It is
// how ordinary kernel code identifies itself to the MMU.
func (k *Kernel) TextPC(offset uint64) hostarch.Addr {
	text := k.layout.Text()
	uc := k.layout.UserCopyRange()
	if before := uint64(uc.Start - text.Start); before != 0 {
		return text.Start + hostarch.Addr(offset%before)
	}
	// The layout guarantees the user-copy range does not cover all of text.
	return uc.End + hostarch.Addr(offset%uint64(text.End-uc.End))
}

// writeConsole writes a fatal report.
func (k *Kernel) writeConsole(b []byte) {
	k.consoleMu.Lock()
	defer k.consoleMu.Unlock()
	// Nothing is left to report a console failure to.
	_, _ = k.console.Write(b)
}

// Boot starts n CPUs, each on its own locked OS thread with its own
// thread-local block, and runs fn on each. It returns once every CPU has
// finished. The first error cancels the context passed to the others.
//
// A CPU that halts on a fatal fault stops the machine: Boot returns the
// *fault.FatalFault.
func (k *Kernel) Boot(ctx context.Context, n int, fn func(ctx context.Context, c *CPU) error) error {
	if n < 1 {
		return fmt.Errorf("cannot boot %d CPUs", n)
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() (err error) {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			c, err := k.NewCPU()
			if err != nil {
				return err
			}
			defer c.Shutdown()
			defer func() {
				if r := recover(); r != nil {
					f, ok := r.(*fault.FatalFault)
					if !ok {
						panic(r)
					}
					err = f
				}
			}()
			log.Debugf("ring0: CPU %d online", c.ID())
			return fn(ctx, c)
		})
	}
	return g.Wait()
}
