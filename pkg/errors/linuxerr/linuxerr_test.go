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

package linuxerr

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func TestErrorFromUnix(t *testing.T) {
	if got := ErrorFromUnix(unix.EFAULT); got != EFAULT {
		t.Errorf("ErrorFromUnix(EFAULT): got %v, wanted %v", got, EFAULT)
	}
	if got := ErrorFromUnix(0); got != nil {
		t.Errorf("ErrorFromUnix(0): got %v, wanted nil", got)
	}
	if got := ErrorFromUnix(unix.ENOTTY); got.Errno() != unix.ENOTTY {
		t.Errorf("ErrorFromUnix(ENOTTY).Errno(): got %v, wanted %v", got.Errno(), unix.ENOTTY)
	}
}

func TestToUnix(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want unix.Errno
	}{
		{nil, 0},
		{EPIPE, unix.EPIPE},
		{fmt.Errorf("wrapped: %w", EAGAIN), unix.EAGAIN},
		{unix.ENOENT, unix.ENOENT},
		{fmt.Errorf("opaque"), unix.EINVAL},
	} {
		if got := ToUnix(tc.err); got != tc.want {
			t.Errorf("ToUnix(%v): got %v, wanted %v", tc.err, got, tc.want)
		}
	}
	if !Equals(EBADF, fmt.Errorf("x: %w", EBADF)) {
		t.Errorf("Equals(EBADF, wrapped EBADF): got false")
	}
}
