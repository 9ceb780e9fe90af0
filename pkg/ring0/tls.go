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

	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/layout"
)

// TLSBlock is one CPU's thread-local storage: a private copy of the tdata
// template followed by zeroed tbss space, padding included.
type TLSBlock struct {
	data      []byte
	tdataSize int
	wordSize  int
}

func newTLSBlock(k *Kernel) *TLSBlock {
	d := k.layout
	tdata, _ := d.Region(layout.TData)
	b := &TLSBlock{
		data:      make([]byte, d.ThreadLocalSize()),
		tdataSize: int(tdata.Size()),
		wordSize:  d.Arch().WordSize,
	}
	for off := uint64(0); off < tdata.Size(); off += hostarch.PageSize {
		pa, _ := k.imagePhysical(tdata.Start + hostarch.Addr(off))
		copy(b.data[off:], k.memory.Bytes(pa, hostarch.PageSize))
	}
	return b
}

// Size returns the size of the block.
func (b *TLSBlock) Size() int {
	return len(b.data)
}

// TData returns the initialized part of the block.
func (b *TLSBlock) TData() []byte {
	return b.data[:b.tdataSize]
}

// TBSS returns the zero-initialized part of the block.
func (b *TLSBlock) TBSS() []byte {
	return b.data[b.tdataSize:]
}

func (b *TLSBlock) word(off int) []byte {
	if off < 0 || off%b.wordSize != 0 || off+b.wordSize > len(b.data) {
		panic(fmt.Sprintf("thread-local word at offset %d out of range of %d byte block", off, len(b.data)))
	}
	return b.data[off : off+b.wordSize]
}

// Word returns the machine word at offset off into the block.
func (b *TLSBlock) Word(off int) uint64 {
	return wordValue(b.word(off))
}

// wordValue decodes a 4 or 8 byte machine word.
func wordValue(w []byte) uint64 {
	if len(w) == 4 {
		return uint64(hostarch.ByteOrder.Uint32(w))
	}
	return hostarch.ByteOrder.Uint64(w)
}

// SetWord stores v, truncated to the machine word size, at offset off.
func (b *TLSBlock) SetWord(off int, v uint64) {
	w := b.word(off)
	if b.wordSize == 4 {
		hostarch.ByteOrder.PutUint32(w, uint32(v))
		return
	}
	hostarch.ByteOrder.PutUint64(w, v)
}
