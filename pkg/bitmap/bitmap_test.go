// Copyright 2021 The gVisor Authors.
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

package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFirstZeroSkipsSetBits(t *testing.T) {
	b := New(130)
	for i := uint32(0); i < 70; i++ {
		b.Add(i)
	}
	got, err := b.FirstZero(0)
	if err != nil || got != 70 {
		t.Fatalf("FirstZero(0): got (%v, %v), wanted (70, nil)", got, err)
	}
	b.Remove(3)
	if got, err := b.FirstZero(0); err != nil || got != 3 {
		t.Errorf("FirstZero(0) after Remove(3): got (%v, %v), wanted (3, nil)", got, err)
	}
	if got, err := b.FirstZero(4); err != nil || got != 70 {
		t.Errorf("FirstZero(4): got (%v, %v), wanted (70, nil)", got, err)
	}
}

func TestFirstZeroRespectsSize(t *testing.T) {
	b := New(3)
	b.Add(0)
	b.Add(1)
	b.Add(2)
	if got, err := b.FirstZero(0); err == nil {
		t.Errorf("FirstZero on a full bitmap: got %v, wanted error", got)
	}
	if _, err := b.FirstZero(3); err == nil {
		t.Errorf("FirstZero(3) past size: got nil error")
	}
}

func TestAddRemoveCounts(t *testing.T) {
	b := New(256)
	for _, i := range []uint32{1, 64, 65, 200, 64} {
		b.Add(i)
	}
	if got, want := b.GetNumOnes(), uint32(4); got != want {
		t.Errorf("GetNumOnes: got %d, wanted %d", got, want)
	}
	if diff := cmp.Diff([]uint32{1, 64, 65, 200}, b.ToSlice()); diff != "" {
		t.Errorf("ToSlice mismatch (-want +got):\n%s", diff)
	}
	b.Remove(65)
	b.Remove(65)
	if b.IsSet(65) {
		t.Errorf("IsSet(65) after Remove: got true")
	}
	if got, want := b.GetNumOnes(), uint32(3); got != want {
		t.Errorf("GetNumOnes after Remove: got %d, wanted %d", got, want)
	}
}
