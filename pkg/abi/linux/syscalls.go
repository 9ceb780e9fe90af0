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

package linux

// System call numbers.
const (
	SYS_READ  = 0
	SYS_WRITE = 1
	SYS_CLOSE = 3
	SYS_FSTAT = 5
	SYS_PIPE2 = 293
)

// SyscallNames maps system call numbers to names.
var SyscallNames = map[uintptr]string{
	SYS_READ:  "read",
	SYS_WRITE: "write",
	SYS_CLOSE: "close",
	SYS_FSTAT: "fstat",
	SYS_PIPE2: "pipe2",
}

// PIPE_BUF is the number of bytes a pipe guarantees to write atomically.
const PIPE_BUF = 4096
