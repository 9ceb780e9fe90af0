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
	"debug/elf"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/wenhaozhao/redox-os-kernel/pkg/layout"
	"github.com/wenhaozhao/redox-os-kernel/pkg/log"
	"github.com/wenhaozhao/redox-os-kernel/ukern/cmd/util"
)

// Image implements subcommands.Command for the "image" command.
type Image struct {
	output       string
	allowDiscard bool
}

// Name implements subcommands.Command.Name.
func (*Image) Name() string {
	return "image"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Image) Synopsis() string {
	return "Validate the layout of a linked kernel image."
}

// Usage implements subcommands.Command.Usage.
func (*Image) Usage() string {
	return `image [options] <path> - Read the boundary symbols of an ELF kernel image,
validate its layout and print it.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Image) SetFlags(f *flag.FlagSet) {
	f.StringVar(&i.output, "o", "table", fmt.Sprintf("Output format (%s).", layoutFormats()))
	f.BoolVar(&i.allowDiscard, "allow-discarded", false, "Only warn about sections the linker should have discarded.")
}

// Execute implements subcommands.Command.Execute.
func (i *Image) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	out, ok := layoutOutputs[i.output]
	if !ok {
		return util.Errorf("Unsupported output format %q", i.output)
	}
	d, err := loadImage(f.Arg(0), i.allowDiscard)
	if err != nil {
		return util.Errorf("%v", err)
	}
	if err := out(os.Stdout, d); err != nil {
		return util.Errorf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// loadImage resolves the layout of the image at path.
func loadImage(path string, allowDiscard bool) (*layout.Descriptor, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	if err := layout.CheckDiscarded(f); err != nil {
		if !allowDiscard {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		log.Warningf("%s: %v", path, err)
	}
	d, err := layout.FromELF(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Infof("Image %s: %v, %v", path, d.Arch(), d.Image())
	return d, nil
}
