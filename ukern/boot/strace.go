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

package boot

import (
	"github.com/wenhaozhao/redox-os-kernel/pkg/kernel/strace"
	"github.com/wenhaozhao/redox-os-kernel/pkg/log"
	"github.com/wenhaozhao/redox-os-kernel/ukern/config"
)

func enableStrace(conf *config.Config) {
	if !conf.Strace {
		return
	}
	max := conf.StraceLogSize
	if max == 0 {
		max = 1024
	}
	strace.LogMaximumSize = uint64(max)
	log.Infof("Strace enabled, logging up to %d bytes of each buffer", max)
}
