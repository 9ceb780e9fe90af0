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

// Package config provides basic infrastructure to set configuration settings
// for ukern. The configuration is set by flags to the command line, and may
// be preloaded from a TOML file named by the "config" flag. Flags set on the
// command line take precedence over the file.
package config

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/wenhaozhao/redox-os-kernel/pkg/hostarch"
	"github.com/wenhaozhao/redox-os-kernel/pkg/layout"
	"github.com/wenhaozhao/redox-os-kernel/pkg/log"
	"github.com/wenhaozhao/redox-os-kernel/pkg/physmem"
)

// MaxCPUs is the largest number of CPUs a machine can boot.
const MaxCPUs = 64

// Config holds configuration that is not part of the kernel image.
//
// Fields tagged with "flag" are registered by RegisterFlags and filled by
// NewFromFlags. Fields tagged with "toml" may also be set from the
// configuration file.
type Config struct {
	// ConfigFile is the TOML file the configuration is preloaded from.
	ConfigFile string `flag:"config" toml:"-"`

	// Arch is the architecture the image is laid out for.
	Arch string `flag:"arch" toml:"arch"`

	// CPUs is the number of CPUs to boot.
	CPUs int `flag:"cpus" toml:"cpus"`

	// Memory is the size of physical memory in bytes.
	Memory uint64 `flag:"memory" toml:"memory"`

	// MaxCopyBytes caps the length of a single user copy.
	MaxCopyBytes uint64 `flag:"max-copy-bytes" toml:"max_copy_bytes"`

	// SkipPrecheck disables the address space check made before every user
	// copy, leaving the fault path as the only guard.
	SkipPrecheck bool `flag:"skip-precheck" toml:"skip_precheck"`

	// FaultLogInterval is the minimum interval between logged recoverable
	// faults.
	FaultLogInterval time.Duration `flag:"fault-log-interval" toml:"fault_log_interval"`

	// PipeSize is the capacity of a pipe in bytes.
	PipeSize int `flag:"pipe-size" toml:"pipe_size"`

	// MaxFDs is the size of a task's descriptor table.
	MaxFDs int `flag:"max-fds" toml:"max_fds"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// DebugLog is the path to log debug information to, if not empty.
	DebugLog string `flag:"debug-log" toml:"debug_log"`

	// DebugLogFormat is the log format for debug.
	DebugLogFormat string `flag:"debug-log-format" toml:"debug_log_format"`

	// Strace indicates that strace should be enabled.
	Strace bool `flag:"strace" toml:"strace"`

	// StraceLogSize is the max size of data blobs to display.
	StraceLogSize uint `flag:"strace-log-size" toml:"strace_log_size"`
}

// logFormats are the accepted values of LogFormat and DebugLogFormat.
var logFormats = []string{"text", "json", "json-k8s", "logrus"}

func (c *Config) validate() error {
	if _, err := layout.ArchByName(c.Arch); err != nil {
		return err
	}
	if c.CPUs < 1 || c.CPUs > MaxCPUs {
		return fmt.Errorf("cpus must be in [1, %d], got: %d", MaxCPUs, c.CPUs)
	}
	if c.Memory%hostarch.PageSize != 0 {
		return fmt.Errorf("memory must be a multiple of %d bytes, got: %d", hostarch.PageSize, c.Memory)
	}
	if c.Memory < physmem.MinFrames*hostarch.PageSize {
		return fmt.Errorf("memory must be at least %d bytes, got: %d", physmem.MinFrames*hostarch.PageSize, c.Memory)
	}
	if c.MaxCopyBytes == 0 {
		return fmt.Errorf("max-copy-bytes must be positive")
	}
	if c.FaultLogInterval < 0 {
		return fmt.Errorf("fault-log-interval must not be negative, got: %v", c.FaultLogInterval)
	}
	if c.PipeSize <= 0 {
		return fmt.Errorf("pipe-size must be positive, got: %d", c.PipeSize)
	}
	if c.MaxFDs <= 0 || c.MaxFDs > math.MaxInt32 {
		return fmt.Errorf("max-fds must be in [1, %d], got: %d", math.MaxInt32, c.MaxFDs)
	}
	for _, f := range []string{c.LogFormat, c.DebugLogFormat} {
		if !validLogFormat(f) {
			return fmt.Errorf("invalid log format %q, must be one of: %s", f, strings.Join(logFormats, ", "))
		}
	}
	return nil
}

func validLogFormat(f string) bool {
	for _, v := range logFormats {
		if f == v {
			return true
		}
	}
	return false
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	var lines []string
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("\t%s: %v", name, obj.Field(i).Interface()))
	}
	sort.Strings(lines)
	for _, l := range lines {
		log.Infof("%s", l)
	}
}
