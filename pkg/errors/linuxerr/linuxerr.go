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

// Package linuxerr contains syscall error codes exported as an error interface
// pointers. This allows for fast comparison and return operations comperable
// to unix.Errno constants.
package linuxerr

import (
	goerrors "errors"

	"github.com/wenhaozhao/redox-os-kernel/pkg/errors"
	"golang.org/x/sys/unix"
)

// The following errors are semantically identical to Errno of type unix.Errno
// or sycall.Errno. However, since the type are distinct ( these are
// *errors.Error), they are not directly comperable. The Errno method returns
// an Errno number such that the error can be compared to unix.Errno.
var (
	EPERM        = errors.New(unix.EPERM, "operation not permitted")
	ESRCH        = errors.New(unix.ESRCH, "no such process")
	EINTR        = errors.New(unix.EINTR, "interrupted system call")
	EBADF        = errors.New(unix.EBADF, "bad file number")
	EAGAIN       = errors.New(unix.EAGAIN, "try again")
	ENOMEM       = errors.New(unix.ENOMEM, "out of memory")
	EACCES       = errors.New(unix.EACCES, "permission denied")
	EFAULT       = errors.New(unix.EFAULT, "bad address")
	EBUSY        = errors.New(unix.EBUSY, "device or resource busy")
	EEXIST       = errors.New(unix.EEXIST, "file exists")
	EINVAL       = errors.New(unix.EINVAL, "invalid argument")
	EMFILE       = errors.New(unix.EMFILE, "too many open files")
	EPIPE        = errors.New(unix.EPIPE, "broken pipe")
	ENAMETOOLONG = errors.New(unix.ENAMETOOLONG, "file name too long")
	ENOSYS       = errors.New(unix.ENOSYS, "invalid system call number")
)

var errnoMap = map[unix.Errno]*errors.Error{
	unix.EPERM:        EPERM,
	unix.ESRCH:        ESRCH,
	unix.EINTR:        EINTR,
	unix.EBADF:        EBADF,
	unix.EAGAIN:       EAGAIN,
	unix.ENOMEM:       ENOMEM,
	unix.EACCES:       EACCES,
	unix.EFAULT:       EFAULT,
	unix.EBUSY:        EBUSY,
	unix.EEXIST:       EEXIST,
	unix.EINVAL:       EINVAL,
	unix.EMFILE:       EMFILE,
	unix.EPIPE:        EPIPE,
	unix.ENAMETOOLONG: ENAMETOOLONG,
	unix.ENOSYS:       ENOSYS,
}

// ErrorFromUnix returns the *errors.Error for the given unix.Errno, or a new
// *errors.Error wrapping it if it has no predefined value.
func ErrorFromUnix(err unix.Errno) *errors.Error {
	if err == 0 {
		return nil
	}
	if e, ok := errnoMap[err]; ok {
		return e
	}
	return errors.New(err, err.Error())
}

// errnoer is implemented by typed errors that know their errno.
type errnoer interface {
	Errno() unix.Errno
}

// ToUnix converts any error to the unix.Errno reported at the syscall
// boundary. Errors that do not carry an errno are reported as EINVAL.
func ToUnix(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var e errnoer
	if goerrors.As(err, &e) {
		return e.Errno()
	}
	var errno unix.Errno
	if goerrors.As(err, &errno) {
		return errno
	}
	return unix.EINVAL
}

// Equals compars a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	if err == nil {
		return e == nil
	}
	return ToUnix(err) == e.Errno()
}
