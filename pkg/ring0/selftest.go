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

package ring0

import (
	"fmt"

	"github.com/wenhaozhao/redox-os-kernel/pkg/layout"
)

// allOnes returns one machine word of 0xff bytes.
func allOnes(arch *layout.Arch) []byte {
	w := make([]byte, arch.WordSize)
	for i := range w {
		w[i] = 0xff
	}
	return w
}

// DefaultTData returns the tdata content SelfTest expects: a single word
// with every bit set.
func DefaultTData(arch *layout.Arch) []byte {
	return allOnes(arch)
}

// DefaultData returns the data content SelfTest expects: a single word with
// every bit set.
func DefaultData(arch *layout.Arch) []byte {
	return allOnes(arch)
}

// wordMask returns the all-ones value of a machine word.
func wordMask(arch *layout.Arch) uint64 {
	return ^uint64(0) >> (64 - 8*arch.WordSize)
}

// SelfTest checks, on c, that the image was loaded with DefaultTData and
// DefaultData: the first tbss word is zero and private to the CPU, the
// first tdata word starts all ones, bss reads as zero and data as nonzero.
func (c *CPU) SelfTest() error {
	arch := c.kernel.Arch()
	mask := wordMask(arch)
	tls := c.tls

	if len(tls.TBSS()) >= arch.WordSize {
		off := len(tls.TData())
		if got := tls.Word(off); got != 0 {
			return fmt.Errorf("CPU %d: tbss word is %#x, wanted 0", c.id, got)
		}
		tls.SetWord(off, tls.Word(off)+1)
		if got := tls.Word(off); got != 1 {
			return fmt.Errorf("CPU %d: tbss word is %#x after increment, wanted 1", c.id, got)
		}
	}
	if len(tls.TData()) >= arch.WordSize {
		if got := tls.Word(0); got != mask {
			return fmt.Errorf("CPU %d: tdata word is %#x, wanted %#x", c.id, got, mask)
		}
		tls.SetWord(0, tls.Word(0)-1)
		if got := tls.Word(0); got != mask-1 {
			return fmt.Errorf("CPU %d: tdata word is %#x after decrement, wanted %#x", c.id, got, mask-1)
		}
	}

	pc := c.kernel.TextPC(0)
	word := make([]byte, arch.WordSize)
	if bss, _ := c.kernel.layout.Region(layout.BSS); bss.Size() >= uint64(arch.WordSize) {
		if _, faulted := c.Load(pc, bss.Start, word); faulted {
			return fmt.Errorf("CPU %d: load from bss at %v faulted", c.id, bss.Start)
		}
		if v := wordValue(word); v != 0 {
			return fmt.Errorf("CPU %d: bss word at %v is %#x, wanted 0", c.id, bss.Start, v)
		}
	}
	if data, _ := c.kernel.layout.Region(layout.Data); data.Size() >= uint64(arch.WordSize) {
		if _, faulted := c.Load(pc, data.Start, word); faulted {
			return fmt.Errorf("CPU %d: load from data at %v faulted", c.id, data.Start)
		}
		if v := wordValue(word); v == 0 {
			return fmt.Errorf("CPU %d: data word at %v is 0, wanted nonzero", c.id, data.Start)
		}
	}
	return nil
}
