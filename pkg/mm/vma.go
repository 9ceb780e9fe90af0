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

package mm

import (
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
)

// vma is a mapped range with uniform permissions.
type vma struct {
	ar    hostarch.AddrRange
	perms hostarch.AccessType
}

func vmaLess(a, b vma) bool {
	return a.ar.Start < b.ar.Start
}

// subtract returns the parts of v outside ar, keeping v's permissions.
func (v vma) subtract(ar hostarch.AddrRange) []vma {
	var rest []vma
	if v.ar.Start < ar.Start {
		rest = append(rest, vma{ar: hostarch.AddrRange{Start: v.ar.Start, End: min(v.ar.End, ar.Start)}, perms: v.perms})
	}
	if v.ar.End > ar.End {
		rest = append(rest, vma{ar: hostarch.AddrRange{Start: max(v.ar.Start, ar.End), End: v.ar.End}, perms: v.perms})
	}
	return rest
}

// covers returns true if vs, ordered and disjoint, cover all of ar.
func covers(vs []vma, ar hostarch.AddrRange) bool {
	next := ar.Start
	for _, v := range vs {
		if v.ar.Start > next {
			return false
		}
		if v.ar.End > next {
			next = v.ar.End
		}
	}
	return next >= ar.End
}

// findLocked returns the vma containing addr.
//
// +checklocksread:as.mu
func (as *AddressSpace) findLocked(addr hostarch.Addr) (vma, bool) {
	var found vma
	ok := false
	as.vmas.DescendLessOrEqual(vma{ar: hostarch.AddrRange{Start: addr}}, func(v vma) bool {
		found, ok = v, v.ar.Contains(addr)
		return false
	})
	return found, ok
}

// intersectingLocked returns the vmas overlapping ar in address order.
//
// +checklocksread:as.mu
func (as *AddressSpace) intersectingLocked(ar hostarch.AddrRange) []vma {
	var vs []vma
	as.vmas.DescendLessOrEqual(vma{ar: hostarch.AddrRange{Start: ar.Start}}, func(v vma) bool {
		if v.ar.Overlaps(ar) {
			vs = append(vs, v)
		}
		return false
	})
	as.vmas.AscendRange(vma{ar: hostarch.AddrRange{Start: ar.Start + 1}}, vma{ar: hostarch.AddrRange{Start: ar.End}}, func(v vma) bool {
		vs = append(vs, v)
		return true
	})
	return vs
}

// overlapsLocked returns true if any vma overlaps ar.
//
// +checklocksread:as.mu
func (as *AddressSpace) overlapsLocked(ar hostarch.AddrRange) bool {
	return len(as.intersectingLocked(ar)) > 0
}
