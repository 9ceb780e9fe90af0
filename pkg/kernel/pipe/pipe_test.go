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
	"bytes"
	"context"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/wenhaozhao/redox-os-kernel/pkg/abi/linux"
	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/layout"
	"github.com/wenhaozhao/redox-os-kernel/pkg/ring0"
	"github.com/wenhaozhao/redox-os-kernel/pkg/usermem"
	"github.com/wenhaozhao/redox-os-kernel/pkg/usermem/usermemtest"
	"github.com/wenhaozhao/redox-os-kernel/pkg/waiter"
)

const (
	srcAddr = usermemtest.DataStart
	dstAddr = usermemtest.DataStart + 2*hostarch.PageSize
)

func newEnv(t *testing.T) *usermemtest.Env {
	return usermemtest.New(t, layout.X86_64, usermem.Opts{})
}

// secondCPU returns another CPU of env's kernel running in env.AS.
func secondCPU(t *testing.T, env *usermemtest.Env) *ring0.CPU {
	t.Helper()
	c, err := env.Kernel.NewCPU()
	if err != nil {
		t.Fatalf("NewCPU failed: %v", err)
	}
	c.SwitchAddressSpace(env.AS)
	t.Cleanup(c.Shutdown)
	return c
}

func TestPipeRW(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	r, w := NewConnectedPipe(DefaultPipeSize, false)
	defer r.Release()
	defer w.Release()

	msg := []byte("here's some bytes")
	wantN := int64(len(msg))
	env.Write(t, srcAddr, msg)
	n, err := w.Write(ctx, env.ReadOnly(t, srcAddr, uint64(len(msg))))
	if n != wantN || err != nil {
		t.Fatalf("Write: got (%d, %v), wanted (%d, nil)", n, err, wantN)
	}

	n, err = r.Read(ctx, env.WriteOnly(t, dstAddr, 100))
	if n != wantN || err != nil {
		t.Fatalf("Read: got (%d, %v), wanted (%d, nil)", n, err, wantN)
	}
	if got := env.Read(t, dstAddr, uint64(n)); !bytes.Equal(got, msg) {
		t.Errorf("Read: got %q, wanted %q", got, msg)
	}
	if got := r.Queued(); got != 0 {
		t.Errorf("Queued after draining: got %d, wanted 0", got)
	}
}

func TestPipeShortRead(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	r, w := NewConnectedPipe(DefaultPipeSize, true)
	defer r.Release()
	defer w.Release()

	env.Write(t, srcAddr, []byte("abcdef"))
	if _, err := w.Write(ctx, env.ReadOnly(t, srcAddr, 6)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	for _, want := range []string{"abcd", "ef"} {
		n, err := r.Read(ctx, env.WriteOnly(t, dstAddr, 4))
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if got := string(env.Read(t, dstAddr, uint64(n))); got != want {
			t.Errorf("Read: got %q, wanted %q", got, want)
		}
	}
}

func TestPipeReadWouldBlock(t *testing.T) {
	env := newEnv(t)
	r, w := NewConnectedPipe(DefaultPipeSize, true)
	defer r.Release()
	defer w.Release()

	n, err := r.Read(context.Background(), env.WriteOnly(t, dstAddr, 1))
	if n != 0 || err != linuxerr.EAGAIN {
		t.Fatalf("Read: got (%d, %v), wanted (0, EAGAIN)", n, err)
	}
}

func TestPipeReadEOF(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	r, w := NewConnectedPipe(DefaultPipeSize, false)
	defer r.Release()

	env.Write(t, srcAddr, []byte("tail"))
	if _, err := w.Write(ctx, env.ReadOnly(t, srcAddr, 4)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	w.Release()

	// Queued bytes are still delivered after the writer is gone.
	if n, err := r.Read(ctx, env.WriteOnly(t, dstAddr, 16)); n != 4 || err != nil {
		t.Fatalf("Read: got (%d, %v), wanted (4, nil)", n, err)
	}
	if n, err := r.Read(ctx, env.WriteOnly(t, dstAddr, 16)); n != 0 || err != nil {
		t.Fatalf("Read at EOF: got (%d, %v), wanted (0, nil)", n, err)
	}
}

func TestPipeWriteNoReader(t *testing.T) {
	env := newEnv(t)
	r, w := NewConnectedPipe(DefaultPipeSize, false)
	defer w.Release()
	r.Release()
	// Releasing twice drops a single reference.
	r.Release()

	n, err := w.Write(context.Background(), env.ReadOnly(t, srcAddr, 8))
	if n != 0 || err != linuxerr.EPIPE {
		t.Fatalf("Write: got (%d, %v), wanted (0, EPIPE)", n, err)
	}
}

func TestPipeWriteUntilFull(t *testing.T) {
	const capacity = 1000

	env := newEnv(t)
	ctx := context.Background()
	r, w := NewConnectedPipe(capacity, true)
	defer r.Release()
	defer w.Release()

	src := env.ReadOnly(t, srcAddr, capacity+500)
	n, err := w.Write(ctx, src)
	if n != capacity || err != nil {
		t.Fatalf("Write: got (%d, %v), wanted (%d, nil)", n, err, capacity)
	}
	n, err = w.Write(ctx, src)
	if n != 0 || err != linuxerr.EAGAIN {
		t.Fatalf("Write to full pipe: got (%d, %v), wanted (0, EAGAIN)", n, err)
	}
	if got := w.Readiness(waiter.EventOut); got != 0 {
		t.Errorf("Readiness(EventOut) when full: got %v, wanted 0", got)
	}
	if _, err := r.Read(ctx, env.WriteOnly(t, dstAddr, 10)); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := w.Readiness(waiter.EventOut); got != waiter.EventOut {
		t.Errorf("Readiness(EventOut) after a read: got %v, wanted %v", got, waiter.EventOut)
	}
}

func TestPipeWriteStopsAtFault(t *testing.T) {
	for _, tc := range []struct {
		name  string
		opts  usermem.Opts
		wantN int64
	}{
		// The pre-check rejects the whole second chunk.
		{name: "precheck", opts: usermem.Opts{}, wantN: writeChunkSize},
		// The second chunk faults midway; its prefix is kept.
		{name: "fault path", opts: usermem.Opts{SkipPrecheck: true}, wantN: 700},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := usermemtest.New(t, layout.X86_64, tc.opts)
			ctx := context.Background()
			r, w := NewConnectedPipe(DefaultPipeSize, true)
			defer r.Release()
			defer w.Release()

			// The last 700 bytes of the data mapping, then unmapped memory.
			start := usermemtest.DataEnd - 700
			n, err := w.Write(ctx, env.ReadOnly(t, start, 1000))
			if n != tc.wantN || err != nil {
				t.Fatalf("Write: got (%d, %v), wanted (%d, nil)", n, err, tc.wantN)
			}
			if got := r.Queued(); int64(got) != tc.wantN {
				t.Errorf("Queued: got %d, wanted %d", got, tc.wantN)
			}

			// Without progress the fault is returned.
			n, err = w.Write(ctx, env.ReadOnly(t, usermemtest.DataEnd, 16))
			if n != 0 || linuxerr.ToUnix(err) != unix.EFAULT {
				t.Errorf("Write from unmapped memory: got (%d, %v), wanted (0, EFAULT)", n, err)
			}
		})
	}
}

func TestPipeReadToReadOnlyMemory(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	r, w := NewConnectedPipe(DefaultPipeSize, true)
	defer r.Release()
	defer w.Release()

	if _, err := w.Write(ctx, env.ReadOnly(t, srcAddr, 32)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	n, err := r.Read(ctx, env.WriteOnly(t, usermemtest.ReadOnlyPage, 32))
	if n != 0 || linuxerr.ToUnix(err) != unix.EFAULT {
		t.Fatalf("Read: got (%d, %v), wanted (0, EFAULT)", n, err)
	}
	// Nothing was consumed.
	if got := r.Queued(); got != 32 {
		t.Errorf("Queued: got %d, wanted 32", got)
	}
}

func TestPipeReadBlocksUntilWrite(t *testing.T) {
	env := newEnv(t)
	reader := secondCPU(t, env)
	ctx := context.Background()
	r, w := NewConnectedPipe(DefaultPipeSize, false)
	defer r.Release()
	defer w.Release()

	dst, err := env.Engine.WriteOnly(reader, dstAddr, 64)
	if err != nil {
		t.Fatalf("WriteOnly failed: %v", err)
	}
	type result struct {
		n   int64
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := r.Read(ctx, dst)
		done <- result{n, err}
	}()

	msg := []byte("wake up")
	env.Write(t, srcAddr, msg)
	if _, err := w.Write(ctx, env.ReadOnly(t, srcAddr, uint64(len(msg)))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	res := <-done
	if res.n != int64(len(msg)) || res.err != nil {
		t.Fatalf("Read: got (%d, %v), wanted (%d, nil)", res.n, res.err, len(msg))
	}
	if got := env.Read(t, dstAddr, uint64(res.n)); !bytes.Equal(got, msg) {
		t.Errorf("Read: got %q, wanted %q", got, msg)
	}
}

func TestPipeBlockedWriterSeesEPIPE(t *testing.T) {
	env := newEnv(t)
	writer := secondCPU(t, env)
	r, w := NewConnectedPipe(16, false)
	defer w.Release()

	src, err := env.Engine.ReadOnly(writer, srcAddr, 32)
	if err != nil {
		t.Fatalf("ReadOnly failed: %v", err)
	}
	if n, err := w.Write(context.Background(), src); n != 16 || err != nil {
		t.Fatalf("Write: got (%d, %v), wanted (16, nil)", n, err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := w.Write(context.Background(), src)
		done <- err
	}()
	r.Release()
	if err := <-done; err != linuxerr.EPIPE {
		t.Errorf("blocked Write: got %v, wanted EPIPE", err)
	}
}

func TestPipeReadInterrupted(t *testing.T) {
	env := newEnv(t)
	r, w := NewConnectedPipe(DefaultPipeSize, false)
	defer r.Release()
	defer w.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if n, err := r.Read(ctx, env.WriteOnly(t, dstAddr, 8)); n != 0 || err != linuxerr.EINTR {
		t.Fatalf("Read: got (%d, %v), wanted (0, EINTR)", n, err)
	}
}

func TestPipeWrongEnd(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	r, w := NewConnectedPipe(DefaultPipeSize, false)
	defer r.Release()
	defer w.Release()

	if _, err := r.Write(ctx, env.ReadOnly(t, srcAddr, 1)); err != linuxerr.EBADF {
		t.Errorf("Reader.Write: got %v, wanted EBADF", err)
	}
	if _, err := w.Read(ctx, env.WriteOnly(t, dstAddr, 1)); err != linuxerr.EBADF {
		t.Errorf("Writer.Read: got %v, wanted EBADF", err)
	}
}

func TestPipeStat(t *testing.T) {
	r, w := NewConnectedPipe(DefaultPipeSize, false)
	defer r.Release()
	defer w.Release()

	rs, err := r.Stat(context.Background())
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	ws, _ := w.Stat(context.Background())
	if rs != ws {
		t.Errorf("ends disagree: reader %+v, writer %+v", rs, ws)
	}
	if got, want := linux.FileMode(rs.Mode).String(), "prw-rw-rw-"; got != want {
		t.Errorf("mode: got %q, wanted %q", got, want)
	}
	if got, want := r.Pipe.String(), "pipe:["; len(got) <= len(want) || got[:len(want)] != want {
		t.Errorf("String: got %q, wanted prefix %q", got, want)
	}
}

func TestPipeReadiness(t *testing.T) {
	env := newEnv(t)
	r, w := NewConnectedPipe(DefaultPipeSize, true)
	defer r.Release()

	all := waiter.EventIn | waiter.EventOut
	if got := r.Readiness(all); got != 0 {
		t.Errorf("empty reader readiness: got %v, wanted 0", got)
	}
	if got := w.Readiness(all); got != waiter.EventOut {
		t.Errorf("writer readiness: got %v, wanted %v", got, waiter.EventOut)
	}
	if _, err := w.Write(context.Background(), env.ReadOnly(t, srcAddr, 1)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	w.Release()
	if got, want := r.Readiness(all), waiter.EventIn|waiter.EventHUp; got != want {
		t.Errorf("reader readiness after close: got %v, wanted %v", got, want)
	}
}
