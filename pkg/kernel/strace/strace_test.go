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

package strace

import (
	"strings"
	"testing"

	"github.com/wenhaozhao/redox-os-kernel/pkg/abi/linux"
	"github.com/wenhaozhao/redox-os-kernel/pkg/errors/linuxerr"
	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/layout"
	"github.com/wenhaozhao/redox-os-kernel/pkg/usermem"
	"github.com/wenhaozhao/redox-os-kernel/pkg/usermem/usermemtest"
)

const bufAddr = usermemtest.DataStart

func newTracer(t *testing.T) (*usermemtest.Env, Tracer) {
	env := usermemtest.New(t, layout.X86_64, usermem.Opts{})
	return env, New(env.Engine, env.CPU)
}

func TestFormatCall(t *testing.T) {
	env, tr := newTracer(t)
	env.Write(t, bufAddr, []byte("hello\n"))
	long := strings.Repeat("x", int(LogMaximumSize)+10)
	env.Write(t, bufAddr+0x100, []byte(long))

	for _, tc := range []struct {
		name string
		nr   uintptr
		args [6]uintptr
		want string
	}{
		{
			name: "write",
			nr:   linux.SYS_WRITE,
			args: [6]uintptr{1, uintptr(bufAddr), 6},
			want: `write(1, "hello\n", 6)`,
		},
		{
			name: "truncated",
			nr:   linux.SYS_WRITE,
			args: [6]uintptr{1, uintptr(bufAddr + 0x100), uintptr(len(long))},
			want: `write(1, "` + long[:LogMaximumSize] + `"..., 74)`,
		},
		{
			name: "bad buffer",
			nr:   linux.SYS_WRITE,
			args: [6]uintptr{1, uintptr(usermemtest.DataEnd), 4},
			want: "write(1, 0x14000 (bad address), 4)",
		},
		{
			name: "read before execution",
			nr:   linux.SYS_READ,
			args: [6]uintptr{3, uintptr(bufAddr), 16},
			want: "read(3, 0x10000, 16)",
		},
		{
			name: "negative fd",
			nr:   linux.SYS_CLOSE,
			args: [6]uintptr{^uintptr(0)},
			want: "close(-1)",
		},
		{
			name: "pipe2 flags",
			nr:   linux.SYS_PIPE2,
			args: [6]uintptr{uintptr(bufAddr), linux.O_CLOEXEC | linux.O_NONBLOCK | 0x1},
			want: "pipe2(0x10000, O_CLOEXEC|O_NONBLOCK|0x1)",
		},
		{
			name: "unknown",
			nr:   9999,
			args: [6]uintptr{1, 2},
			want: "sys_9999(0x1, 0x2, 0x0, 0x0, 0x0, 0x0)",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tr.FormatCall(tc.nr, tc.args); got != tc.want {
				t.Errorf("FormatCall: got %q, wanted %q", got, tc.want)
			}
		})
	}
	if env.CPU.Halted() {
		t.Errorf("CPU halted while formatting")
	}
}

func TestFormatReturn(t *testing.T) {
	env, tr := newTracer(t)
	env.Write(t, bufAddr, []byte("abcdef"))

	args := [6]uintptr{3, uintptr(bufAddr), 16}
	if got, want := tr.FormatReturn(linux.SYS_READ, args, 4, nil), `read(3, "abcd", 16) = 4`; got != want {
		t.Errorf("FormatReturn(read): got %q, wanted %q", got, want)
	}
	if got, want := tr.FormatReturn(linux.SYS_READ, args, 0, linuxerr.EAGAIN), "read(3, 0x10000, 16) = -1 EAGAIN (try again)"; got != want {
		t.Errorf("FormatReturn(read error): got %q, wanted %q", got, want)
	}

	st := linux.Stat{Ino: 7, Nlink: 1, Mode: linux.ModeNamedPipe | 0600, Blksize: 4096}
	s, err := env.Engine.WriteOnly(env.CPU, bufAddr+hostarch.PageSize, linux.SizeOfStat)
	if err != nil {
		t.Fatalf("WriteOnly failed: %v", err)
	}
	if _, err := s.CopyExactly(&st); err != nil {
		t.Fatalf("CopyExactly failed: %v", err)
	}
	got := tr.FormatReturn(linux.SYS_FSTAT, [6]uintptr{3, uintptr(bufAddr + hostarch.PageSize)}, 0, nil)
	want := "fstat(3, 0x11000 {ino=7, mode=prw-------, nlink=1, size=0, blksize=4096}) = 0"
	if got != want {
		t.Errorf("FormatReturn(fstat): got %q, wanted %q", got, want)
	}
}

func TestLookup(t *testing.T) {
	if name, ok := Lookup(linux.SYS_PIPE2); !ok || name != "pipe2" {
		t.Errorf("Lookup(SYS_PIPE2): got (%q, %v), wanted (pipe2, true)", name, ok)
	}
	if _, ok := Lookup(9999); ok {
		t.Errorf("Lookup(9999): got ok")
	}
	if got := PipeFlagSet.Parse(0); got != "0" {
		t.Errorf("Parse(0): got %q, wanted 0", got)
	}
}
