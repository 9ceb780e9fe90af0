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

// Package usermemtest builds a booted kernel with one CPU and a small user
// address space for tests of code that copies to and from user memory.
package usermemtest

import (
	"io"
	"testing"

	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/layout"
	"github.com/wenhaozhao/redox-os-kernel/pkg/mm"
	"github.com/wenhaozhao/redox-os-kernel/pkg/physmem"
	"github.com/wenhaozhao/redox-os-kernel/pkg/ring0"
	"github.com/wenhaozhao/redox-os-kernel/pkg/usermem"
)

const (
	// DataStart begins DataPages read-write pages. The page at DataEnd is
	// unmapped.
	DataStart = hostarch.Addr(0x10000)
	DataPages = 4
	DataEnd   = DataStart + DataPages*hostarch.PageSize

	// ReadOnlyPage is mapped read-only.
	ReadOnlyPage = hostarch.Addr(0x40000)

	memorySize = 8 << 20
)

// Env is a kernel with one CPU running in a fresh address space.
type Env struct {
	Kernel *ring0.Kernel
	CPU    *ring0.CPU
	AS     *mm.AddressSpace
	Engine *usermem.Engine
}

// New returns an Env for arch. Resources are released when t completes.
func New(t testing.TB, arch *layout.Arch, opts usermem.Opts) *Env {
	t.Helper()
	d, err := layout.NewLinked(arch, layout.DefaultSections(arch))
	if err != nil {
		t.Fatalf("layout.NewLinked failed: %v", err)
	}
	mem, err := physmem.New(memorySize)
	if err != nil {
		t.Fatalf("physmem.New failed: %v", err)
	}
	k, err := ring0.New(ring0.KernelOpts{Layout: d, Memory: mem, Console: io.Discard})
	if err != nil {
		t.Fatalf("ring0.New failed: %v", err)
	}
	c, err := k.NewCPU()
	if err != nil {
		t.Fatalf("NewCPU failed: %v", err)
	}
	ua, err := k.ClaimUserAccess()
	if err != nil {
		t.Fatalf("ClaimUserAccess failed: %v", err)
	}
	e, err := usermem.New(ua, opts)
	if err != nil {
		t.Fatalf("usermem.New failed: %v", err)
	}
	t.Cleanup(func() {
		c.Shutdown()
		k.Release()
	})
	env := &Env{Kernel: k, CPU: c, Engine: e, AS: NewAddressSpace(t, k)}
	c.SwitchAddressSpace(env.AS)
	return env
}

// NewAddressSpace returns an address space of k with the DataStart and
// ReadOnlyPage mappings. It is released when t completes.
func NewAddressSpace(t testing.TB, k *ring0.Kernel) *mm.AddressSpace {
	t.Helper()
	as, err := mm.New(k.Arch(), k.Memory())
	if err != nil {
		t.Fatalf("mm.New failed: %v", err)
	}
	if err := as.Map(hostarch.AddrRange{Start: DataStart, End: DataEnd}, hostarch.ReadWrite); err != nil {
		t.Fatalf("Map(data) failed: %v", err)
	}
	if err := as.Map(hostarch.AddrRange{Start: ReadOnlyPage, End: ReadOnlyPage + hostarch.PageSize}, hostarch.Read); err != nil {
		t.Fatalf("Map(read-only) failed: %v", err)
	}
	t.Cleanup(func() {
		// The owner may still be attached if the test failed early.
		if owner := as.Owner(); owner != nil {
			as.Detach(owner)
		}
		as.Release()
	})
	return as
}

// Write copies data to addr in the active address space.
func (env *Env) Write(t testing.TB, addr hostarch.Addr, data []byte) {
	t.Helper()
	if err := env.Engine.CopyToUser(env.CPU, addr, data); err != nil {
		t.Fatalf("CopyToUser(%#x, %d bytes) failed: %v", addr, len(data), err)
	}
}

// Read returns n bytes at addr in the active address space.
func (env *Env) Read(t testing.TB, addr hostarch.Addr, n uint64) []byte {
	t.Helper()
	buf, err := env.Engine.CopyFromUser(env.CPU, addr, n)
	if err != nil {
		t.Fatalf("CopyFromUser(%#x, %d) failed: %v", addr, n, err)
	}
	return buf
}

// ReadOnly returns a read-only user slice, failing t on error.
func (env *Env) ReadOnly(t testing.TB, addr hostarch.Addr, n uint64) usermem.UserSliceRo {
	t.Helper()
	s, err := env.Engine.ReadOnly(env.CPU, addr, n)
	if err != nil {
		t.Fatalf("ReadOnly(%#x, %d) failed: %v", addr, n, err)
	}
	return s
}

// WriteOnly returns a write-only user slice, failing t on error.
func (env *Env) WriteOnly(t testing.TB, addr hostarch.Addr, n uint64) usermem.UserSliceWo {
	t.Helper()
	s, err := env.Engine.WriteOnly(env.CPU, addr, n)
	if err != nil {
		t.Fatalf("WriteOnly(%#x, %d) failed: %v", addr, n, err)
	}
	return s
}
