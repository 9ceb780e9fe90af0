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

// Package linux contains the constants and types of the system call ABI the
// kernel exposes.
package linux

// Constants for open(2) and pipe2(2).
const (
	O_NONBLOCK = 00004000
	O_CLOEXEC  = 02000000
)

// Values for mode_t.
const (
	FileTypeMask        = 0170000
	ModeRegular         = 0100000
	ModeDirectory       = 040000
	ModeCharacterDevice = 020000
	ModeNamedPipe       = 010000

	PermissionsMask = 0777
)

// FileMode is the type of a file mode, as found in Stat.Mode.
type FileMode uint32

// FileType returns the file type bits of m.
func (m FileMode) FileType() FileMode {
	return m & FileTypeMask
}

// Permissions returns the permission bits of m.
func (m FileMode) Permissions() FileMode {
	return m & PermissionsMask
}

// String returns the ls-style rendering of the type and permissions of m,
// e.g. "prw-rw-rw-".
func (m FileMode) String() string {
	b := []byte("?---------")
	switch m.FileType() {
	case ModeRegular:
		b[0] = '-'
	case ModeDirectory:
		b[0] = 'd'
	case ModeCharacterDevice:
		b[0] = 'c'
	case ModeNamedPipe:
		b[0] = 'p'
	}
	const rwx = "rwx"
	for i := 0; i < 9; i++ {
		if m&(1<<(8-i)) != 0 {
			b[1+i] = rwx[i%3]
		}
	}
	return string(b)
}
