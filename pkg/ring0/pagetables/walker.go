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

package pagetables

// visitor is the callback of a walk over leaf entries.
type visitor interface {
	// visit is called for each leaf entry in the range. Returning false
	// stops the walk.
	visit(start uintptr, pte *PTE) bool

	// requiresAlloc indicates that missing tables should be allocated.
	// Walks that do not allocate skip missing subtrees.
	requiresAlloc() bool
}

// walker walks page tables.
type walker struct {
	// pageTables are the tables to walk.
	pageTables *PageTables

	// visitor is the callback.
	visitor visitor
}

// addrEnd calculates the end of the address range for the given size covering
// addr, or the end of the range if that comes earlier. size is a power of two.
func addrEnd(addr, end, size uintptr) uintptr {
	next := (addr + size) &^ (size - 1)
	if next < addr || next > end {
		return end
	}
	return next
}

// iterateRange iterates over all appropriate levels of page tables for the
// given range. The only error is a failed table allocation; entries visited
// before it stay set.
func (w *walker) iterateRange(start, end uintptr) error {
	if start >= end {
		return nil
	}
	_, _, err := w.walkLevel(w.pageTables.root, w.pageTables.geometry.Levels-1, start, end)
	return err
}

// walkLevel iterates over the entries of one table in the given range.
//
// Returns:
//   - ok: whether the walk should continue.
//   - clearEntries: number of entries of this table left clear.
//   - err: a table allocation failure.
func (w *walker) walkLevel(entries *PTEs, level int, start, end uintptr) (bool, int, error) {
	g := w.pageTables.geometry
	size := uintptr(1) << g.shift(level)
	clearEntries := 0
	for start < end {
		nextBoundary := addrEnd(start, end, size)
		entry := &entries.entries[g.index(start, level)]

		if level == 0 {
			if !entry.Valid() && !w.visitor.requiresAlloc() {
				clearEntries++
				start = nextBoundary
				continue
			}
			// At this point, we are guaranteed that start%size == 0.
			if !w.visitor.visit(start&^(size-1), entry) {
				return false, clearEntries, nil
			}
			if !entry.Valid() {
				clearEntries++
			}
			start = nextBoundary
			continue
		}

		var next *PTEs
		if !entry.Valid() {
			if !w.visitor.requiresAlloc() {
				// Skip over this entry.
				clearEntries++
				start = nextBoundary
				continue
			}

			// Allocate a new table.
			var err error
			if next, err = w.pageTables.Allocator.NewPTEs(); err != nil {
				return false, clearEntries, err
			}
			entry.setPageTable(w.pageTables, next)
		} else {
			next = w.pageTables.Allocator.LookupPTEs(entry.Address())
		}

		// Map the next level, since this is valid.
		ok, clearNext, err := w.walkLevel(next, level-1, start, nextBoundary)
		if err != nil || !ok {
			return ok, clearEntries, err
		}

		// Check if we no longer need this table.
		if clearNext == next.Len() {
			entry.Clear()
			w.pageTables.Allocator.FreePTEs(next)
			clearEntries++
		}

		start = nextBoundary
	}
	return true, clearEntries, nil
}
