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

// Package hostarch contains architecture-independent types and constants
// describing the simulated machine's virtual and physical address spaces.
package hostarch

import (
	"encoding/binary"
)

const (
	// PageShift is the binary log of the page size. Both supported kernel
	// layouts use 4K pages.
	PageShift = 12

	// PageSize is the page size in bytes.
	PageSize = 1 << PageShift
)

// ByteOrder is the byte order of every supported architecture.
var ByteOrder = binary.LittleEndian
