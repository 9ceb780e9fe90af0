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

package usermem

import (
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/ring0"
)

// SwapUint32 atomically stores new at the user address addr and returns the
// previous value.
func (e *Engine) SwapUint32(c *ring0.CPU, addr hostarch.Addr, new uint32) (uint32, error) {
	if cerr := e.check(c, opAtomic, addr, 4, hostarch.ReadWrite); cerr != nil {
		return 0, cerr
	}
	e.beforeTransfer()
	old, err := e.copier.SwapUint32(c, addr, new)
	return old, e.transferred(c, opAtomic, addr, 0, err)
}

// CompareAndSwapUint32 atomically replaces old with new at the user address
// addr if the word there equals old. It returns the value found.
func (e *Engine) CompareAndSwapUint32(c *ring0.CPU, addr hostarch.Addr, old, new uint32) (uint32, error) {
	if cerr := e.check(c, opAtomic, addr, 4, hostarch.ReadWrite); cerr != nil {
		return 0, cerr
	}
	e.beforeTransfer()
	prev, err := e.copier.CompareAndSwapUint32(c, addr, old, new)
	return prev, e.transferred(c, opAtomic, addr, 0, err)
}

// LoadUint32 atomically loads the word at the user address addr.
func (e *Engine) LoadUint32(c *ring0.CPU, addr hostarch.Addr) (uint32, error) {
	if cerr := e.check(c, opAtomic, addr, 4, hostarch.Read); cerr != nil {
		return 0, cerr
	}
	e.beforeTransfer()
	val, err := e.copier.LoadUint32(c, addr)
	return val, e.transferred(c, opAtomic, addr, 0, err)
}
