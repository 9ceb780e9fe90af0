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

// Package cmd holds implementations of the ukern commands.
package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"

	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/layout"
	"github.com/wenhaozhao/redox-os-kernel/ukern/cmd/util"
	"github.com/wenhaozhao/redox-os-kernel/ukern/config"
)

// LayoutInfo is the machine readable form of a kernel layout.
type LayoutInfo struct {
	Arch         string          `json:"arch" yaml:"arch"`
	KernelOffset hostarch.Addr   `json:"kernel_offset" yaml:"kernel_offset"`
	UserTop      hostarch.Addr   `json:"user_top" yaml:"user_top"`
	UserCopy     AddrRange       `json:"user_copy" yaml:"user_copy"`
	Regions      []layout.Region `json:"regions" yaml:"regions"`
}

// AddrRange is a half-open address range.
type AddrRange struct {
	Start hostarch.Addr `json:"start" yaml:"start"`
	End   hostarch.Addr `json:"end" yaml:"end"`
}

func newLayoutInfo(d *layout.Descriptor) LayoutInfo {
	uc := d.UserCopyRange()
	return LayoutInfo{
		Arch:         d.Arch().Name,
		KernelOffset: d.Arch().KernelOffset,
		UserTop:      d.Arch().UserTop,
		UserCopy:     AddrRange{Start: uc.Start, End: uc.End},
		Regions:      d.Regions(),
	}
}

type layoutOutputFunc func(io.Writer, *layout.Descriptor) error

// layoutOutputs maps output format names to output functions.
var layoutOutputs = map[string]layoutOutputFunc{
	"table":   outputLayoutTable,
	"json":    outputLayoutJSON,
	"yaml":    outputLayoutYAML,
	"symbols": outputLayoutSymbols,
}

func layoutFormats() string {
	var names []string
	for name := range layoutOutputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	output string
	arch   string
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "Print the kernel image layout of an architecture."
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [options] - Print the regions of the kernel image as laid out for an
architecture, with the default section sizes.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.output, "o", "table", fmt.Sprintf("Output format (%s).", layoutFormats()))
	f.StringVar(&l.arch, "target", "", "The architecture (e.g. i686), or \"all\". Defaults to --arch.")
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	out, ok := layoutOutputs[l.output]
	if !ok {
		return util.Errorf("Unsupported output format %q", l.output)
	}
	conf := args[0].(*config.Config)

	arches, err := targetArches(l.arch, conf.Arch)
	if err != nil {
		return util.Errorf("%v", err)
	}
	for _, arch := range arches {
		d, err := layout.NewLinked(arch, layout.DefaultSections(arch))
		if err != nil {
			return util.Errorf("Error linking %v image: %v", arch, err)
		}
		if err := out(os.Stdout, d); err != nil {
			return util.Errorf("Error writing output: %v", err)
		}
	}
	return subcommands.ExitSuccess
}

// targetArches resolves the --target flag, falling back to def.
func targetArches(name, def string) ([]*layout.Arch, error) {
	if name == "" {
		name = def
	}
	if name == "all" {
		return layout.Arches(), nil
	}
	arch, err := layout.ArchByName(name)
	if err != nil {
		return nil, err
	}
	return []*layout.Arch{arch}, nil
}

// outputLayoutTable writes the layout as a table, one region per row.
func outputLayoutTable(w io.Writer, d *layout.Descriptor) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s image, user-copy %v\n", d.Arch(), d.UserCopyRange())
	fmt.Fprintln(tw, "REGION\tSTART\tEND\tSIZE\tALIGN\tCLASS")
	for _, r := range d.Regions() {
		fmt.Fprintf(tw, "%s\t%#x\t%#x\t%#x\t%#x\t%v\n", r.Name, uint64(r.Start), uint64(r.End), r.Size(), r.Align, r.Class)
	}
	return tw.Flush()
}

// outputLayoutJSON writes the layout as indented JSON.
func outputLayoutJSON(w io.Writer, d *layout.Descriptor) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(newLayoutInfo(d))
}

// outputLayoutYAML writes the layout as a YAML document.
func outputLayoutYAML(w io.Writer, d *layout.Descriptor) error {
	e := yaml.NewEncoder(w)
	e.SetIndent(2)
	if err := e.Encode(newLayoutInfo(d)); err != nil {
		return err
	}
	return e.Close()
}

// outputLayoutSymbols writes the boundary symbols in nm format, for loading
// into a debugger.
func outputLayoutSymbols(w io.Writer, d *layout.Descriptor) error {
	width := 2 * d.Arch().WordSize
	for _, s := range d.Symbols() {
		if _, err := fmt.Fprintf(w, "%0*x A %s\n", width, uint64(s.Addr), s.Name); err != nil {
			return err
		}
	}
	return nil
}
