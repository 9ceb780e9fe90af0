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
	"fmt"
	"strings"

	"github.com/wenhaozhao/redox-os-kernel/pkg/abi/linux"
)

// FlagSet is a slice of flags with their names, in printing order.
type FlagSet []struct {
	Flag uint64
	Name string
}

// Parse returns the names of the flags set in val joined by '|'. Unknown
// bits are appended in hex.
func (s FlagSet) Parse(val uint64) string {
	var parts []string
	for _, f := range s {
		if val&f.Flag == f.Flag {
			parts = append(parts, f.Name)
			val &^= f.Flag
		}
	}
	if val != 0 {
		parts = append(parts, fmt.Sprintf("%#x", val))
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}

// PipeFlagSet is the set of pipe2(2) flags.
var PipeFlagSet = FlagSet{
	{
		Flag: linux.O_CLOEXEC,
		Name: "O_CLOEXEC",
	},
	{
		Flag: linux.O_NONBLOCK,
		Name: "O_NONBLOCK",
	},
}
