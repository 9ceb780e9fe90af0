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

package pipe

import (
	"context"

	"github.com/wenhaozhao/redox-os-kernel/pkg/abi/linux"
	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
	"github.com/wenhaozhao/redox-os-kernel/pkg/log"
	"github.com/wenhaozhao/redox-os-kernel/pkg/sync"
	"github.com/wenhaozhao/redox-os-kernel/pkg/usermem"
	"github.com/wenhaozhao/redox-os-kernel/pkg/waiter"
)

// end holds the state common to both ends of a pipe.
type end struct {
	*Pipe

	nonblocking bool
	release     sync.Once
}

// Nonblocking returns true if the end was opened with O_NONBLOCK.
func (e *end) Nonblocking() bool {
	return e.nonblocking
}

// Stat returns the attributes of the pipe.
func (e *end) Stat(context.Context) (linux.Stat, error) {
	return e.stat(), nil
}

// waitFor runs op until it stops returning EAGAIN, blocking on mask
// notifications in between unless the end is non-blocking.
func (e *end) waitFor(ctx context.Context, mask waiter.EventMask, op func() (int64, error)) (int64, error) {
	if e.nonblocking {
		return op()
	}
	w, ch := waiter.NewChannelEntry(mask)
	e.EventRegister(w)
	defer e.EventUnregister(w)
	for {
		n, err := op()
		if err != linuxerr.EAGAIN {
			return n, err
		}
		if err := waiter.Wait(ctx, ch); err != nil {
			return 0, err
		}
	}
}

// Reader is the read end of a pipe.
type Reader struct {
	end
}

// Read moves queued bytes into dst. It returns 0 at end of file, once the
// queue is empty and the write end is closed. An empty queue with a live
// writer blocks, or fails with EAGAIN if the end is non-blocking.
func (r *Reader) Read(ctx context.Context, dst usermem.UserSliceWo) (int64, error) {
	if dst.IsEmpty() {
		return 0, nil
	}
	return r.waitFor(ctx, waiter.EventIn|waiter.EventHUp, func() (int64, error) {
		return r.read(dst)
	})
}

// Write implements FileDescription.Write.
func (*Reader) Write(context.Context, usermem.UserSliceRo) (int64, error) {
	return 0, linuxerr.EBADF
}

// Readiness implements waiter.Waitable.Readiness.
func (r *Reader) Readiness(mask waiter.EventMask) waiter.EventMask {
	var ready waiter.EventMask
	if r.Queued() > 0 {
		ready |= waiter.EventIn
	}
	if !r.HasWriters() {
		ready |= waiter.EventHUp
	}
	return ready & (mask | waiter.EventHUp)
}

// Release closes the read end. Blocked writers wake up and fail with EPIPE.
func (r *Reader) Release() {
	r.release.Do(func() {
		r.readers.Add(-1)
		r.Notify(waiter.EventOut | waiter.EventErr)
		log.Debugf("%v: read end closed", r.Pipe)
	})
}

// Writer is the write end of a pipe.
type Writer struct {
	end
}

// Read implements FileDescription.Read.
func (*Writer) Read(context.Context, usermem.UserSliceWo) (int64, error) {
	return 0, linuxerr.EBADF
}

// Write moves bytes from src into the pipe and returns as soon as any were
// written. It fails with EPIPE once the read end is closed. A full queue
// blocks, or fails with EAGAIN if the end is non-blocking.
func (w *Writer) Write(ctx context.Context, src usermem.UserSliceRo) (int64, error) {
	if src.IsEmpty() {
		return 0, nil
	}
	return w.waitFor(ctx, waiter.EventOut|waiter.EventErr, func() (int64, error) {
		return w.write(src)
	})
}

// Readiness implements waiter.Waitable.Readiness.
func (w *Writer) Readiness(mask waiter.EventMask) waiter.EventMask {
	var ready waiter.EventMask
	if w.Queued() < w.max {
		ready |= waiter.EventOut
	}
	if !w.HasReaders() {
		ready |= waiter.EventErr
	}
	return ready & (mask | waiter.EventErr)
}

// Release closes the write end. Blocked readers wake up and see end of
// file.
func (w *Writer) Release() {
	w.release.Do(func() {
		w.writers.Add(-1)
		w.Notify(waiter.EventIn | waiter.EventHUp)
		log.Debugf("%v: write end closed", w.Pipe)
	})
}
