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

package kernel

import (
	"bytes"
	"context"
	"fmt"

	"github.com/wenhaozhao/redox-os-kernel/pkg/abi/linux"
	"github.com/wenhaozhao/redox-os-kernel/pkg/bitmap"
	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
	"github.com/wenhaozhao/redox-os-kernel/pkg/sync"
	"github.com/wenhaozhao/redox-os-kernel/pkg/usermem"
)

// FileDescription is an open file as seen by the system calls.
type FileDescription interface {
	// Read reads into dst and returns the number of bytes read.
	Read(ctx context.Context, dst usermem.UserSliceWo) (int64, error)

	// Write writes from src and returns the number of bytes written.
	Write(ctx context.Context, src usermem.UserSliceRo) (int64, error)

	// Stat returns the attributes of the file.
	Stat(ctx context.Context) (linux.Stat, error)

	// Release is called when the last descriptor referring to the file is
	// closed.
	Release()
}

// FDFlags define flags for an individual descriptor.
type FDFlags struct {
	// CloseOnExec indicates the descriptor should be closed on exec.
	CloseOnExec bool
}

// ToLinuxFileFlags converts a kernel.FDFlags object to a Linux file flags representation.
func (f FDFlags) ToLinuxFileFlags() (mask uint) {
	if f.CloseOnExec {
		mask |= linux.O_CLOEXEC
	}
	return
}

// descriptor holds the details about a file descriptor, namely a pointer to
// the file itself and the descriptor flags.
type descriptor struct {
	file  FileDescription
	flags FDFlags
}

// FDTable is used to manage File references and flags.
type FDTable struct {
	mu sync.Mutex

	// descriptorTable holds the open descriptors.
	//
	// +checklocks:mu
	descriptorTable map[int32]descriptor

	// fdBitmap tracks which fds are in use so the lowest free one is found
	// without scanning the map.
	//
	// +checklocks:mu
	fdBitmap bitmap.Bitmap
}

// NewFDTable returns an empty table holding at most max descriptors.
func NewFDTable(max int32) *FDTable {
	if max <= 0 {
		panic(fmt.Sprintf("invalid descriptor limit %d", max))
	}
	return &FDTable{
		descriptorTable: make(map[int32]descriptor),
		fdBitmap:        bitmap.New(uint32(max)),
	}
}

// Size returns the number of file descriptor slots currently allocated.
func (f *FDTable) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.descriptorTable)
}

// String is a stringer for FDTable.
func (f *FDTable) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b bytes.Buffer
	for _, fd := range f.fdBitmap.ToSlice() {
		d := f.descriptorTable[int32(fd)]
		fmt.Fprintf(&b, "\tfd:%d => %v\n", fd, d.file)
	}
	return b.String()
}

// NewFDs allocates new FDs guaranteed to be the lowest number available
// greater than or equal to the fd parameter. All files will share the set
// flags. Success is guaranteed to be all or none.
func (f *FDTable) NewFDs(fd int32, files []FileDescription, flags FDFlags) ([]int32, error) {
	if fd < 0 {
		// Don't accept negative FDs.
		return nil, linuxerr.EINVAL
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var fds []int32
	for len(fds) < len(files) {
		next, err := f.fdBitmap.FirstZero(uint32(fd))
		if err != nil {
			break
		}
		f.set(int32(next), files[len(fds)], flags)
		fds = append(fds, int32(next))
		fd = int32(next) + 1
	}

	// Failure? Unwind existing FDs.
	if len(fds) < len(files) {
		for _, i := range fds {
			f.clear(i)
		}
		return nil, linuxerr.EMFILE
	}
	return fds, nil
}

// +checklocks:f.mu
func (f *FDTable) set(fd int32, file FileDescription, flags FDFlags) {
	f.descriptorTable[fd] = descriptor{file: file, flags: flags}
	f.fdBitmap.Add(uint32(fd))
}

// +checklocks:f.mu
func (f *FDTable) clear(fd int32) {
	delete(f.descriptorTable, fd)
	f.fdBitmap.Remove(uint32(fd))
}

// Get returns the file and the flags for the FD or nil if no file is
// defined for the given fd.
func (f *FDTable) Get(fd int32) (FileDescription, FDFlags) {
	if fd < 0 {
		return nil, FDFlags{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.descriptorTable[fd]
	if !ok {
		return nil, FDFlags{}
	}
	return d.file, d.flags
}

// GetFDs returns a sorted list of valid fds.
func (f *FDTable) GetFDs() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var fds []int32
	for _, fd := range f.fdBitmap.ToSlice() {
		fds = append(fds, int32(fd))
	}
	return fds
}

// Remove removes an FD from the table and returns the file it referred to,
// or nil if fd was not open. The caller releases the file.
func (f *FDTable) Remove(fd int32) FileDescription {
	if fd < 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.descriptorTable[fd]
	if !ok {
		return nil
	}
	f.clear(fd)
	return d.file
}

// RemoveAll closes every descriptor, releasing its file.
func (f *FDTable) RemoveAll() {
	f.mu.Lock()
	var files []FileDescription
	for _, fd := range f.fdBitmap.ToSlice() {
		files = append(files, f.descriptorTable[int32(fd)].file)
		f.clear(int32(fd))
	}
	f.mu.Unlock()

	// Files are released without the table lock held.
	for _, file := range files {
		file.Release()
	}
}
