// Copyright 2020 The gVisor Authors.
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

package config

import (
	"flag"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/wenhaozhao/redox-os-kernel/pkg/kernel"
	"github.com/wenhaozhao/redox-os-kernel/pkg/kernel/pipe"
	"github.com/wenhaozhao/redox-os-kernel/pkg/usermem"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "TOML file to load the configuration from. Flags set on the command line override it.")

	// Machine flags.
	flagSet.String("arch", "x86_64", "architecture the kernel image is laid out for: x86_64 (default), i686.")
	flagSet.Int("cpus", 1, "number of CPUs to boot.")
	flagSet.Uint64("memory", 64<<20, "size of physical memory in bytes.")

	// User-copy flags.
	flagSet.Uint64("max-copy-bytes", usermem.DefaultMaxCopyBytes, "maximum length of a single copy to or from user memory.")
	flagSet.Bool("skip-precheck", false, "skip the address space check before user copies and rely on the fault path alone.")
	flagSet.Duration("fault-log-interval", usermem.DefaultFaultLogInterval, "minimum interval between logged recoverable faults.")

	// System call flags.
	flagSet.Int("pipe-size", pipe.DefaultPipeSize, "capacity of a pipe in bytes.")
	flagSet.Int("max-fds", kernel.DefaultMaxFDs, "size of a task's descriptor table.")

	// Debugging flags.
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default), json, json-k8s, or logrus.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("debug-log", "", "additional location for logs.")
	flagSet.String("debug-log-format", "text", "log format: text (default), json, json-k8s, or logrus.")
	flagSet.Bool("strace", false, "enable strace.")
	flagSet.Uint("strace-log-size", 1024, "default size (in bytes) to log data argument blobs.")
}

// NewFromFlags creates a new Config with values coming from the given
// FlagSet. If the "config" flag names a file, it is decoded over the flag
// defaults and flags set explicitly are applied last.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	obj := reflect.ValueOf(conf).Elem()
	fields := flagFields(obj.Type())

	for name, i := range fields {
		obj.Field(i).Set(flagValue(flagSet, name))
	}

	if conf.ConfigFile != "" {
		md, err := toml.DecodeFile(conf.ConfigFile, conf)
		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", conf.ConfigFile, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("config file %q: unknown keys: %s", conf.ConfigFile, strings.Join(keys, ", "))
		}
		flagSet.Visit(func(fl *flag.Flag) {
			if i, ok := fields[fl.Name]; ok {
				obj.Field(i).Set(flagValue(flagSet, fl.Name))
			}
		})
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
// Values equal to the flag default are omitted.
func (c *Config) ToFlags() []string {
	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	var rv []string
	for name, i := range flagFields(obj.Type()) {
		fl := flagSet.Lookup(name)
		val := fmt.Sprintf("%v", obj.Field(i).Interface())
		if val == fl.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", name, val))
	}
	sort.Strings(rv)
	return rv
}

// flagFields maps flag names to the index of the Config field they set.
func flagFields(st reflect.Type) map[string]int {
	fields := make(map[string]int)
	for i := 0; i < st.NumField(); i++ {
		if name, ok := st.Field(i).Tag.Lookup("flag"); ok {
			fields[name] = i
		}
	}
	return fields
}

func flagValue(flagSet *flag.FlagSet, name string) reflect.Value {
	fl := flagSet.Lookup(name)
	if fl == nil {
		panic(fmt.Sprintf("Flag %q not found", name))
	}
	return reflect.ValueOf(fl.Value.(flag.Getter).Get())
}
