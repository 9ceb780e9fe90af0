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

package cmd

import (
	"context"
	"errors"
	"flag"

	"github.com/google/subcommands"

	"github.com/wenhaozhao/redox-os-kernel/pkg/fault"
	"github.com/wenhaozhao/redox-os-kernel/ukern/boot"
	"github.com/wenhaozhao/redox-os-kernel/ukern/cmd/util"
	"github.com/wenhaozhao/redox-os-kernel/ukern/config"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	// wild makes CPU 0 dereference a wild kernel pointer after its checks.
	wild bool
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "Boot the machine and run the boot checks on every CPU."
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [options] - Load the kernel image, bring up --cpus CPUs and check
thread-local storage, pipes and user copies on each of them.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&b.wild, "wild", false, "dereference a wild kernel pointer on CPU 0, halting the machine.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	l, err := boot.New(boot.Args{Conf: conf, Wild: b.wild})
	if err != nil {
		return util.Errorf("creating loader: %v", err)
	}
	defer l.Destroy()

	r, err := l.Run(ctx)
	var ff *fault.FatalFault
	if errors.As(err, &ff) {
		return util.Errorf("machine halted after %d CPUs: %v", r.CPUs, ff)
	}
	if err != nil {
		return util.Errorf("boot failed: %v", err)
	}
	util.Infof("Booted %d CPUs: %d copies, %d bytes, %d rejected, %d faulted, %d recoverable faults",
		r.CPUs, r.Copy.Copies, r.Copy.Bytes, r.Copy.Rejected, r.Copy.Faults, r.Faults)
	return subcommands.ExitSuccess
}
