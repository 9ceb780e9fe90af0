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

// Package pipe provides an in-memory implementation of a unidirectional
// pipe whose ends move data directly between the queue and user memory.
package pipe

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/wenhaozhao/redox-os-kernel/pkg/abi/linux"
	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
	"github.com/wenhaozhao/redox-os-kernel/pkg/log"
	"github.com/wenhaozhao/redox-os-kernel/pkg/sync"
	"github.com/wenhaozhao/redox-os-kernel/pkg/usermem"
	"github.com/wenhaozhao/redox-os-kernel/pkg/waiter"
)

// DefaultPipeSize is the size of a pipe in bytes.
const DefaultPipeSize = 65536

// writeChunkSize is the size of the kernel buffer a write stages user data
// through.
const writeChunkSize = 512

var lastIno atomic.Uint64

// Pipe is a buffered byte queue shared between a reader and a writer.
type Pipe struct {
	waiter.Queue

	ino uint64

	// max is the capacity of the queue in bytes. Writers get EAGAIN once it
	// is reached.
	max int

	// The number of open read and write ends.
	readers atomic.Int32
	writers atomic.Int32

	mu sync.Mutex

	// +checklocks:mu
	data bytes.Buffer
}

// NewConnectedPipe returns the read and write ends of a new pipe holding at
// most sizeBytes. Both ends are non-blocking if nonblocking is set.
func NewConnectedPipe(sizeBytes int, nonblocking bool) (*Reader, *Writer) {
	if sizeBytes <= 0 {
		panic(fmt.Sprintf("invalid pipe size %d", sizeBytes))
	}
	p := &Pipe{
		ino: lastIno.Add(1),
		max: sizeBytes,
	}
	p.readers.Store(1)
	p.writers.Store(1)
	log.Debugf("pipe:[%d] created, %d bytes", p.ino, sizeBytes)
	return &Reader{end{Pipe: p, nonblocking: nonblocking}}, &Writer{end{Pipe: p, nonblocking: nonblocking}}
}

// String returns the name of the pipe as shown in /proc.
func (p *Pipe) String() string {
	return fmt.Sprintf("pipe:[%d]", p.ino)
}

// Queued returns the number of bytes waiting to be read.
func (p *Pipe) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.Len()
}

// HasReaders returns true if the read end is open.
func (p *Pipe) HasReaders() bool {
	return p.readers.Load() > 0
}

// HasWriters returns true if the write end is open.
func (p *Pipe) HasWriters() bool {
	return p.writers.Load() > 0
}

// read moves queued bytes to dst. It returns EAGAIN if the queue is empty
// and a writer remains.
func (p *Pipe) read(dst usermem.UserSliceWo) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data.Len() == 0 {
		if !p.HasWriters() {
			return 0, nil
		}
		return 0, linuxerr.EAGAIN
	}
	n, err := dst.CopyCommonBytesFromSlice(p.data.Bytes())
	p.data.Next(n)
	if n > 0 {
		p.Notify(waiter.EventOut)
		return int64(n), nil
	}
	return 0, err
}

// write moves bytes from src into the queue, staging them through a
// writeChunkSize buffer. A fault after some progress ends the write short;
// the bytes already copied stay queued.
func (p *Pipe) write(src usermem.UserSliceRo) (int64, error) {
	if !p.HasReaders() {
		return 0, linuxerr.EPIPE
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	avail := p.max - p.data.Len()
	if avail == 0 {
		return 0, linuxerr.EAGAIN
	}
	if uint64(avail) < src.Len() {
		src, _ = src.Limit(uint64(avail))
	}
	var (
		tmp  [writeChunkSize]byte
		done int64
	)
	for _, chunk := range src.InChunks(writeChunkSize) {
		n, err := chunk.CopyCommonBytesToSlice(tmp[:])
		p.data.Write(tmp[:n])
		done += int64(n)
		if err != nil {
			if done == 0 {
				return 0, err
			}
			break
		}
	}
	if done > 0 {
		p.Notify(waiter.EventIn)
	}
	return done, nil
}

// stat returns the attributes shared by both ends.
func (p *Pipe) stat() linux.Stat {
	return linux.Stat{
		Ino:     p.ino,
		Nlink:   1,
		Mode:    linux.ModeNamedPipe | 0666,
		Blksize: linux.PIPE_BUF,
	}
}
