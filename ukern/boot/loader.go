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

// Package boot loads the kernel image onto a simulated machine and runs the
// boot-time checks on every CPU.
package boot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/wenhaozhao/redox-os-kernel/pkg/abi/linux"
	"github.com/wenhaozhao/redox-os-kernel/pkg/cleanup"
	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
	"github.com/wenhaozhao/redox-os-kernel/pkg/fault"
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/kernel"
	"github.com/wenhaozhao/redox-os-kernel/pkg/layout"
	"github.com/wenhaozhao/redox-os-kernel/pkg/log"
	"github.com/wenhaozhao/redox-os-kernel/pkg/mm"
	"github.com/wenhaozhao/redox-os-kernel/pkg/physmem"
	"github.com/wenhaozhao/redox-os-kernel/pkg/ring0"
	"github.com/wenhaozhao/redox-os-kernel/pkg/usermem"
	"github.com/wenhaozhao/redox-os-kernel/ukern/config"
)

// User mappings of the boot task.
const (
	userData      = hostarch.Addr(0x10000)
	userDataPages = 2
	userReadOnly  = hostarch.Addr(0x40000)
)

// Args are the arguments for New().
type Args struct {
	// Conf is the configuration. Required.
	Conf *config.Config

	// Console receives fatal reports. Defaults to os.Stderr.
	Console io.Writer

	// Wild makes CPU 0 dereference a wild kernel pointer once its checks
	// have passed, halting the machine.
	Wild bool
}

// Loader keeps state needed to boot the machine.
type Loader struct {
	conf    *config.Config
	wild    bool
	layout  *layout.Descriptor
	machine *ring0.Kernel
	engine  *usermem.Engine
	kernel  *kernel.Kernel

	faults atomic.Uint64
}

// Report summarizes a boot.
type Report struct {
	// CPUs is the number of CPUs that completed their checks.
	CPUs int

	// Faults is the number of recoverable faults taken across all CPUs.
	Faults uint64

	// Copy are the user-copy engine counters.
	Copy usermem.Stats
}

// New initializes a new machine and loads the kernel image.
func New(args Args) (*Loader, error) {
	conf := args.Conf
	if conf == nil {
		return nil, fmt.Errorf("no configuration")
	}
	arch, err := layout.ArchByName(conf.Arch)
	if err != nil {
		return nil, err
	}
	d, err := layout.NewLinked(arch, layout.DefaultSections(arch))
	if err != nil {
		return nil, fmt.Errorf("linking %v image: %w", arch, err)
	}
	log.Infof("Layout: %v, text %v, user-copy %v", arch, d.Text().Range(), d.UserCopyRange())

	mem, err := physmem.New(conf.Memory)
	if err != nil {
		return nil, fmt.Errorf("creating physical memory: %w", err)
	}
	machine, err := ring0.New(ring0.KernelOpts{
		Layout:  d,
		Memory:  mem,
		TData:   ring0.DefaultTData(arch),
		Data:    ring0.DefaultData(arch),
		Console: args.Console,
		OnHalt: func(c *ring0.CPU, f *fault.FatalFault) {
			log.Warningf("CPU %d halted: %v", c.ID(), f)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("loading kernel: %w", err)
	}
	cu := cleanup.Make(machine.Release)
	defer cu.Clean()

	ua, err := machine.ClaimUserAccess()
	if err != nil {
		return nil, err
	}
	engine, err := usermem.New(ua, usermem.Opts{
		MaxCopyBytes:     conf.MaxCopyBytes,
		SkipPrecheck:     conf.SkipPrecheck,
		FaultLogInterval: conf.FaultLogInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("creating user-copy engine: %w", err)
	}

	enableStrace(conf)
	k, err := kernel.New(engine, kernel.Opts{
		PipeSize: conf.PipeSize,
		MaxFDs:   int32(conf.MaxFDs),
		Strace:   conf.Strace,
	})
	if err != nil {
		return nil, err
	}

	cu.Release()
	return &Loader{
		conf:    conf,
		wild:    args.Wild,
		layout:  d,
		machine: machine,
		engine:  engine,
		kernel:  k,
	}, nil
}

// Destroy releases the machine's memory.
func (l *Loader) Destroy() {
	l.machine.Release()
}

// Run boots the configured number of CPUs and runs the boot checks on each.
// A CPU halting on a fatal fault stops the machine: the *fault.FatalFault is
// returned along with the partial report.
func (l *Loader) Run(ctx context.Context) (Report, error) {
	var done atomic.Int32
	err := l.machine.Boot(ctx, l.conf.CPUs, func(ctx context.Context, c *ring0.CPU) error {
		defer func() { l.faults.Add(c.Faults()) }()
		if err := l.runCPU(ctx, c); err != nil {
			return fmt.Errorf("CPU %d: %w", c.ID(), err)
		}
		done.Add(1)
		return nil
	})
	r := Report{
		CPUs:   int(done.Load()),
		Faults: l.faults.Load(),
		Copy:   l.engine.Stats(),
	}
	var ff *fault.FatalFault
	if errors.As(err, &ff) {
		log.Warningf("Machine halted: %s", ff.Report())
	}
	return r, err
}

func (l *Loader) runCPU(ctx context.Context, c *ring0.CPU) error {
	if err := c.SelfTest(); err != nil {
		return err
	}
	as, err := l.newAddressSpace()
	if err != nil {
		return err
	}
	t, err := l.kernel.NewTask(as)
	if err != nil {
		as.Release()
		return err
	}
	defer t.Exit()

	if err := l.pipeRoundTrip(ctx, c, t); err != nil {
		return err
	}
	if err := l.badPointers(ctx, c, t); err != nil {
		return err
	}
	log.Infof("CPU %d: boot checks passed, %d recoverable faults", c.ID(), c.Faults())

	if l.wild && c.ID() == 0 {
		l.dereferenceWild(c)
	}
	return nil
}

func (l *Loader) newAddressSpace() (*mm.AddressSpace, error) {
	as, err := mm.New(l.layout.Arch(), l.machine.Memory())
	if err != nil {
		return nil, err
	}
	data := hostarch.AddrRange{Start: userData, End: userData + userDataPages*hostarch.PageSize}
	if err := as.Map(data, hostarch.ReadWrite); err != nil {
		as.Release()
		return nil, err
	}
	ro := hostarch.AddrRange{Start: userReadOnly, End: userReadOnly + hostarch.PageSize}
	if err := as.Map(ro, hostarch.Read); err != nil {
		as.Release()
		return nil, err
	}
	return as, nil
}

// syscall makes a system call and logs failures.
func (l *Loader) syscall(ctx context.Context, c *ring0.CPU, t *kernel.Task, nr uintptr, args ...uintptr) (uintptr, error) {
	var sa kernel.SyscallArguments
	copy(sa[:], args)
	rval, err := l.kernel.Syscall(ctx, c, t, nr, sa)
	if err != nil {
		log.Debugf("CPU %d: %s failed: %v", c.ID(), linux.SyscallNames[nr], err)
	}
	return rval, err
}

// pipeRoundTrip writes a message through a pipe from user memory back to
// user memory.
func (l *Loader) pipeRoundTrip(ctx context.Context, c *ring0.CPU, t *kernel.Task) error {
	prev := c.SwitchAddressSpace(t.AddressSpace())
	defer c.SwitchAddressSpace(prev)

	var (
		fdsAddr = userData
		srcAddr = userData + 0x100
		dstAddr = userData + hostarch.PageSize
	)
	if _, err := l.syscall(ctx, c, t, linux.SYS_PIPE2, uintptr(fdsAddr), linux.O_NONBLOCK); err != nil {
		return fmt.Errorf("pipe2: %w", err)
	}
	fdsSlice, err := l.engine.ReadOnly(c, fdsAddr, 8)
	if err != nil {
		return err
	}
	var fds [2]int32
	if err := fdsSlice.ReadExact(&fds); err != nil {
		return err
	}

	msg := []byte(fmt.Sprintf("hello from CPU %d", c.ID()))
	if err := l.engine.CopyToUser(c, srcAddr, msg); err != nil {
		return err
	}
	n, err := l.syscall(ctx, c, t, linux.SYS_WRITE, uintptr(fds[1]), uintptr(srcAddr), uintptr(len(msg)))
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if int(n) != len(msg) {
		return fmt.Errorf("write: wrote %d bytes, wanted %d", n, len(msg))
	}
	n, err = l.syscall(ctx, c, t, linux.SYS_READ, uintptr(fds[0]), uintptr(dstAddr), hostarch.PageSize)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	got, err := l.engine.CopyFromUser(c, dstAddr, uint64(n))
	if err != nil {
		return err
	}
	if !bytes.Equal(got, msg) {
		return fmt.Errorf("pipe returned %q, wanted %q", got, msg)
	}
	for _, fd := range fds {
		if _, err := l.syscall(ctx, c, t, linux.SYS_CLOSE, uintptr(fd)); err != nil {
			return fmt.Errorf("close(%d): %w", fd, err)
		}
	}
	return nil
}

// badPointers checks that system calls given pointers user code may not
// access fail with EFAULT instead of halting.
func (l *Loader) badPointers(ctx context.Context, c *ring0.CPU, t *kernel.Task) error {
	rfds, wfds := userData, userData+8
	if _, err := l.syscall(ctx, c, t, linux.SYS_PIPE2, uintptr(rfds), 0); err != nil {
		return fmt.Errorf("pipe2: %w", err)
	}
	kernelText := uintptr(l.layout.Text().Start)
	for _, tc := range []struct {
		name string
		nr   uintptr
		args []uintptr
	}{
		{"pipe2 to read-only memory", linux.SYS_PIPE2, []uintptr{uintptr(userReadOnly), 0}},
		{"pipe2 to kernel text", linux.SYS_PIPE2, []uintptr{kernelText, 0}},
		{"pipe2 to unmapped memory", linux.SYS_PIPE2, []uintptr{uintptr(wfds) + userDataPages*hostarch.PageSize, 0}},
		{"fstat to null", linux.SYS_FSTAT, []uintptr{0, 0}},
		{"write from kernel text", linux.SYS_WRITE, []uintptr{1, kernelText, 16}},
		{"write from null", linux.SYS_WRITE, []uintptr{1, 0, 16}},
	} {
		_, err := l.syscall(ctx, c, t, tc.nr, tc.args...)
		if got := linuxerr.ToUnix(err); got != unix.EFAULT {
			return fmt.Errorf("%s: got %v, wanted EFAULT", tc.name, err)
		}
	}
	return nil
}

// dereferenceWild loads through a kernel pointer past the end of the image
// from ordinary kernel code, as a stray pointer would. It does not return.
func (l *Loader) dereferenceWild(c *ring0.CPU) {
	addr := l.layout.Image().End
	log.Warningf("CPU %d: dereferencing wild kernel pointer %v", c.ID(), addr)
	c.EnterSyscall(linux.SYS_READ, 0, uintptr(addr), 8)
	c.Load(l.machine.TextPC(0x40), addr, make([]byte, 8))
	panic(fmt.Sprintf("load from %v did not halt CPU %d", addr, c.ID()))
}
