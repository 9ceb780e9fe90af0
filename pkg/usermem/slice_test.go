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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/layout"
)

type timeSpec struct {
	Sec  int64
	Nsec int64
}

func TestSliceBounds(t *testing.T) {
	h := newHarness(t)
	if _, err := h.e.ReadOnly(h.c, h.k.Arch().UserTop-8, 16); !errors.Is(err, ErrBadAddress) {
		t.Errorf("ReadOnly across the user half: got %v, wanted ErrBadAddress", err)
	}
	if _, err := h.e.WriteOnly(h.c, ^hostarch.Addr(0), 2); !errors.Is(err, ErrBadAddress) {
		t.Errorf("WriteOnly wrapping: got %v, wanted ErrBadAddress", err)
	}

	s, err := h.e.ReadOnly(h.c, rwStart, 100)
	if err != nil {
		t.Fatalf("ReadOnly failed: %v", err)
	}
	first, rest, ok := s.SplitAt(40)
	if !ok || first.Addr() != rwStart || first.Len() != 40 || rest.Addr() != rwStart+40 || rest.Len() != 60 {
		t.Errorf("SplitAt(40): got (%v+%d, %v+%d, %v)", first.Addr(), first.Len(), rest.Addr(), rest.Len(), ok)
	}
	if _, _, ok := s.SplitAt(101); ok {
		t.Errorf("SplitAt(101) on a 100 byte slice: got ok")
	}
	if l, ok := s.Limit(10); !ok || l.Len() != 10 {
		t.Errorf("Limit(10): got (%d, %v)", l.Len(), ok)
	}
	if a, ok := s.Advance(100); !ok || !a.IsEmpty() {
		t.Errorf("Advance(100): got (%d, %v), wanted empty", a.Len(), ok)
	}
	var lens []uint64
	for _, c := range s.InChunks(32) {
		lens = append(lens, c.Len())
	}
	if diff := cmp.Diff([]uint64{32, 32, 32, 4}, lens); diff != "" {
		t.Errorf("InChunks(32) lengths mismatch (-want +got):\n%s", diff)
	}
}

func TestSliceCopies(t *testing.T) {
	h := newHarness(t)
	w, err := h.e.WriteOnly(h.c, rwStart, 8)
	if err != nil {
		t.Fatalf("WriteOnly failed: %v", err)
	}
	if err := w.CopyFromSlice([]byte("too long for it")); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("CopyFromSlice with mismatched length: got %v, wanted EINVAL", err)
	}
	if n, err := w.CopyCommonBytesFromSlice([]byte("abcdefghijkl")); n != 8 || err != nil {
		t.Errorf("CopyCommonBytesFromSlice: got (%d, %v), wanted (8, nil)", n, err)
	}

	r, err := h.e.ReadOnly(h.c, rwStart, 4)
	if err != nil {
		t.Fatalf("ReadOnly failed: %v", err)
	}
	buf := make([]byte, 16)
	if n, err := r.CopyCommonBytesToSlice(buf); n != 4 || err != nil || string(buf[:4]) != "abcd" {
		t.Errorf("CopyCommonBytesToSlice: got (%d, %v, %q), wanted (4, nil, \"abcd\")", n, err, buf[:4])
	}
	if err := r.CopyToSlice(buf); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("CopyToSlice with mismatched length: got %v, wanted EINVAL", err)
	}
	if err := r.CopyToSlice(buf[:4]); err != nil {
		t.Errorf("CopyToSlice: got %v", err)
	}

	z, _ := h.e.WriteOnly(h.c, rwStart+2, 4)
	if err := z.Zero(); err != nil {
		t.Fatalf("Zero failed: %v", err)
	}
	all, _ := h.e.ReadOnly(h.c, rwStart, 8)
	got := make([]byte, 8)
	if err := all.CopyToSlice(got); err != nil {
		t.Fatalf("CopyToSlice failed: %v", err)
	}
	if diff := cmp.Diff([]byte("ab\x00\x00\x00\x00gh"), got); diff != "" {
		t.Errorf("after Zero (-want +got):\n%s", diff)
	}
}

func TestSliceWords(t *testing.T) {
	for _, tc := range []struct {
		arch *layout.Arch
		want uint64
	}{
		{layout.X86_64, 0x1122334455667788},
		{layout.I686, 0x55667788},
	} {
		t.Run(tc.arch.Name, func(t *testing.T) {
			h := newHarnessOpts(t, tc.arch, Opts{})
			w, _ := h.e.WriteOnly(h.c, rwStart, 8)
			if err := w.WriteWord(0x1122334455667788); err != nil {
				t.Fatalf("WriteWord failed: %v", err)
			}
			r, _ := h.e.ReadOnly(h.c, rwStart, 8)
			if got, err := r.ReadWord(); got != tc.want || err != nil {
				t.Errorf("ReadWord: got (%#x, %v), wanted (%#x, nil)", got, err, tc.want)
			}
			if got, err := r.ReadUint32(); got != 0x55667788 || err != nil {
				t.Errorf("ReadUint32: got (%#x, %v), wanted (0x55667788, nil)", got, err)
			}
			short, _ := r.Limit(2)
			if _, err := short.ReadUint32(); !linuxerr.Equals(linuxerr.EINVAL, err) {
				t.Errorf("ReadUint32 of 2 bytes: got %v, wanted EINVAL", err)
			}
		})
	}
}

func TestSliceStructs(t *testing.T) {
	h := newHarness(t)
	times := []timeSpec{{Sec: 1, Nsec: 2}, {Sec: 3, Nsec: 4}}
	w, _ := h.e.WriteOnly(h.c, rwStart, 32)
	if n, err := w.CopyExactly(times); n != 32 || err != nil {
		t.Fatalf("CopyExactly: got (%d, %v), wanted (32, nil)", n, err)
	}
	small, _ := h.e.WriteOnly(h.c, rwStart, 8)
	if _, err := small.CopyExactly(times[0]); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("CopyExactly into a short slice: got %v, wanted EINVAL", err)
	}

	r, _ := h.e.ReadOnly(h.c, rwStart, 32)
	var first timeSpec
	if err := r.ReadExact(&first); err != nil {
		t.Fatalf("ReadExact failed: %v", err)
	}
	second, ok := r.Advance(16)
	if !ok {
		t.Fatalf("Advance(16) failed")
	}
	var next timeSpec
	if err := second.ReadExact(&next); err != nil {
		t.Fatalf("ReadExact failed: %v", err)
	}
	if diff := cmp.Diff(times, []timeSpec{first, next}); diff != "" {
		t.Errorf("ReadExact mismatch (-want +got):\n%s", diff)
	}
	if err := r.ReadExact(&[5]timeSpec{}); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("ReadExact past the slice: got %v, wanted EINVAL", err)
	}
}

func TestSliceReadString(t *testing.T) {
	h := newHarness(t)
	path := "/scheme/pipe/write"
	if err := h.e.CopyToUser(h.c, rwStart, []byte(path+"\xff")); err != nil {
		t.Fatalf("CopyToUser failed: %v", err)
	}
	s, _ := h.e.ReadOnly(h.c, rwStart, uint64(len(path)))
	if got, err := s.ReadString(4096); got != path || err != nil {
		t.Errorf("ReadString: got (%q, %v), wanted (%q, nil)", got, err, path)
	}
	if _, err := s.ReadString(4); !linuxerr.Equals(linuxerr.ENAMETOOLONG, err) {
		t.Errorf("ReadString over max: got %v, wanted ENAMETOOLONG", err)
	}
	bad, _ := h.e.ReadOnly(h.c, rwStart, uint64(len(path)+1))
	if _, err := bad.ReadString(4096); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("ReadString of invalid UTF-8: got %v, wanted EINVAL", err)
	}
	unmapped, _ := h.e.ReadOnly(h.c, rwEnd, 4)
	if _, err := unmapped.ReadString(4096); !errors.Is(err, ErrBadAddress) {
		t.Errorf("ReadString of unmapped memory: got %v, wanted ErrBadAddress", err)
	}
}
