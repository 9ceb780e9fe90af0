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
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/mm"
	"github.com/wenhaozhao/redox-os-kernel/pkg/ring0"
)

// userSlice is a user buffer passed to a system call, bound to the CPU
// serving the call.
type userSlice struct {
	e      *Engine
	c      *ring0.CPU
	addr   hostarch.Addr
	length uint64
}

func (e *Engine) newSlice(c *ring0.CPU, addr hostarch.Addr, length uint64) (userSlice, error) {
	ar, ok := addr.ToRange(length)
	if !ok || ar.End > e.kernel.Arch().UserTop {
		return userSlice{}, newCopyError("user slice", BadAddress, addr, 0, &mm.RangeError{Kind: mm.Wrapped, Addr: addr})
	}
	return userSlice{e: e, c: c, addr: addr, length: length}, nil
}

// Addr returns the start of the slice.
func (s userSlice) Addr() hostarch.Addr {
	return s.addr
}

// Len returns the length of the slice.
func (s userSlice) Len() uint64 {
	return s.length
}

// IsEmpty returns true if the slice has length zero.
func (s userSlice) IsEmpty() bool {
	return s.length == 0
}

func (s userSlice) splitAt(n uint64) (userSlice, userSlice, bool) {
	if n > s.length {
		return userSlice{}, userSlice{}, false
	}
	first, rest := s, s
	first.length = n
	rest.addr += hostarch.Addr(n)
	rest.length -= n
	return first, rest, true
}

func (s userSlice) inChunks(n uint64) []userSlice {
	if n == 0 {
		panic("zero chunk size")
	}
	var chunks []userSlice
	for rest := s; !rest.IsEmpty(); {
		size := n
		if size > rest.length {
			size = rest.length
		}
		chunk, tail, _ := rest.splitAt(size)
		chunks = append(chunks, chunk)
		rest = tail
	}
	return chunks
}

// UserSliceRo is a user buffer the kernel reads.
type UserSliceRo struct {
	userSlice
}

// ReadOnly returns a view of the length bytes at addr for reading. It fails
// with a *CopyError if the range wraps or leaves the user half.
func (e *Engine) ReadOnly(c *ring0.CPU, addr hostarch.Addr, length uint64) (UserSliceRo, error) {
	s, err := e.newSlice(c, addr, length)
	return UserSliceRo{s}, err
}

// SplitAt splits s at n. ok is false if n > s.Len().
func (s UserSliceRo) SplitAt(n uint64) (first, rest UserSliceRo, ok bool) {
	f, r, ok := s.splitAt(n)
	return UserSliceRo{f}, UserSliceRo{r}, ok
}

// Limit returns the first n bytes of s. ok is false if n > s.Len().
func (s UserSliceRo) Limit(n uint64) (UserSliceRo, bool) {
	f, _, ok := s.SplitAt(n)
	return f, ok
}

// Advance returns s without its first n bytes. ok is false if n > s.Len().
func (s UserSliceRo) Advance(n uint64) (UserSliceRo, bool) {
	_, r, ok := s.SplitAt(n)
	return r, ok
}

// InChunks splits s into consecutive slices of at most n bytes.
func (s UserSliceRo) InChunks(n uint64) []UserSliceRo {
	var chunks []UserSliceRo
	for _, c := range s.inChunks(n) {
		chunks = append(chunks, UserSliceRo{c})
	}
	return chunks
}

// CopyToSlice fills dst, which must have the length of s.
func (s UserSliceRo) CopyToSlice(dst []byte) error {
	if uint64(len(dst)) != s.length {
		return linuxerr.EINVAL
	}
	_, err := s.e.CopyIn(s.c, s.addr, dst)
	return err
}

// CopyCommonBytesToSlice copies min(len(dst), s.Len()) bytes into dst and
// returns the count.
func (s UserSliceRo) CopyCommonBytesToSlice(dst []byte) (int, error) {
	if uint64(len(dst)) > s.length {
		dst = dst[:s.length]
	}
	return s.e.CopyIn(s.c, s.addr, dst)
}

// ReadUint32 reads a 32-bit value from the start of s.
func (s UserSliceRo) ReadUint32() (uint32, error) {
	var buf [4]byte
	if s.length < uint64(len(buf)) {
		return 0, linuxerr.EINVAL
	}
	if _, err := s.e.CopyIn(s.c, s.addr, buf[:]); err != nil {
		return 0, err
	}
	return hostarch.ByteOrder.Uint32(buf[:]), nil
}

// ReadWord reads a machine word from the start of s.
func (s UserSliceRo) ReadWord() (uint64, error) {
	var buf [8]byte
	w := buf[:s.e.kernel.Arch().WordSize]
	if s.length < uint64(len(w)) {
		return 0, linuxerr.EINVAL
	}
	if _, err := s.e.CopyIn(s.c, s.addr, w); err != nil {
		return 0, err
	}
	if len(w) == 4 {
		return uint64(hostarch.ByteOrder.Uint32(w)), nil
	}
	return hostarch.ByteOrder.Uint64(w), nil
}

// ReadExact decodes the fixed-size value pointed to by v from the start of
// s. s must be at least as long as the encoding of v.
func (s UserSliceRo) ReadExact(v any) error {
	size := binary.Size(v)
	if size < 0 {
		panic(fmt.Sprintf("ReadExact of %T, which has no fixed size", v))
	}
	if s.length < uint64(size) {
		return linuxerr.EINVAL
	}
	buf := make([]byte, size)
	if _, err := s.e.CopyIn(s.c, s.addr, buf); err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(buf), hostarch.ByteOrder, v)
}

// ReadString reads s as a path of at most max bytes. It fails with
// ENAMETOOLONG if s is longer and EINVAL if the bytes are not UTF-8.
func (s UserSliceRo) ReadString(max uint64) (string, error) {
	if s.length > max {
		return "", linuxerr.ENAMETOOLONG
	}
	buf, err := s.e.CopyFromUser(s.c, s.addr, s.length)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", linuxerr.EINVAL
	}
	return string(buf), nil
}

// UserSliceWo is a user buffer the kernel writes.
type UserSliceWo struct {
	userSlice
}

// WriteOnly returns a view of the length bytes at addr for writing. It
// fails with a *CopyError if the range wraps or leaves the user half.
func (e *Engine) WriteOnly(c *ring0.CPU, addr hostarch.Addr, length uint64) (UserSliceWo, error) {
	s, err := e.newSlice(c, addr, length)
	return UserSliceWo{s}, err
}

// SplitAt splits s at n. ok is false if n > s.Len().
func (s UserSliceWo) SplitAt(n uint64) (first, rest UserSliceWo, ok bool) {
	f, r, ok := s.splitAt(n)
	return UserSliceWo{f}, UserSliceWo{r}, ok
}

// Limit returns the first n bytes of s. ok is false if n > s.Len().
func (s UserSliceWo) Limit(n uint64) (UserSliceWo, bool) {
	f, _, ok := s.SplitAt(n)
	return f, ok
}

// Advance returns s without its first n bytes. ok is false if n > s.Len().
func (s UserSliceWo) Advance(n uint64) (UserSliceWo, bool) {
	_, r, ok := s.SplitAt(n)
	return r, ok
}

// InChunks splits s into consecutive slices of at most n bytes.
func (s UserSliceWo) InChunks(n uint64) []UserSliceWo {
	var chunks []UserSliceWo
	for _, c := range s.inChunks(n) {
		chunks = append(chunks, UserSliceWo{c})
	}
	return chunks
}

// CopyFromSlice writes src, which must have the length of s.
func (s UserSliceWo) CopyFromSlice(src []byte) error {
	if uint64(len(src)) != s.length {
		return linuxerr.EINVAL
	}
	_, err := s.e.CopyOut(s.c, s.addr, src)
	return err
}

// CopyCommonBytesFromSlice writes min(len(src), s.Len()) bytes of src and
// returns the count.
func (s UserSliceWo) CopyCommonBytesFromSlice(src []byte) (int, error) {
	if uint64(len(src)) > s.length {
		src = src[:s.length]
	}
	return s.e.CopyOut(s.c, s.addr, src)
}

// WriteWord writes a machine word to the start of s.
func (s UserSliceWo) WriteWord(v uint64) error {
	var buf [8]byte
	w := buf[:s.e.kernel.Arch().WordSize]
	if s.length < uint64(len(w)) {
		return linuxerr.EINVAL
	}
	if len(w) == 4 {
		hostarch.ByteOrder.PutUint32(w, uint32(v))
	} else {
		hostarch.ByteOrder.PutUint64(w, v)
	}
	_, err := s.e.CopyOut(s.c, s.addr, w)
	return err
}

// CopyExactly encodes the fixed-size value v to the start of s and returns
// the encoded size. s must be at least that long.
func (s UserSliceWo) CopyExactly(v any) (int, error) {
	buf, err := binary.Append(nil, hostarch.ByteOrder, v)
	if err != nil {
		return 0, err
	}
	if s.length < uint64(len(buf)) {
		return 0, linuxerr.EINVAL
	}
	return s.e.CopyOut(s.c, s.addr, buf)
}

// Zero writes zeroes over all of s.
func (s UserSliceWo) Zero() error {
	_, err := s.e.ZeroOut(s.c, s.addr, s.length)
	return err
}
