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

package ring0

import (
	"errors"
	"fmt"
)

// ErrUserAccessClaimed is returned by ClaimUserAccess after the first call.
var ErrUserAccessClaimed = errors.New("user access capability already claimed")

// UserAccess is the capability to set the user-access flag. A kernel hands
// it out exactly once, to the user-copy routines.
type UserAccess struct {
	kernel *Kernel
}

// ClaimUserAccess returns the kernel's UserAccess capability. Only the first
// call succeeds.
func (k *Kernel) ClaimUserAccess() (*UserAccess, error) {
	if !k.userAccessClaimed.CompareAndSwap(false, true) {
		return nil, ErrUserAccessClaimed
	}
	return &UserAccess{kernel: k}, nil
}

// Kernel returns the kernel the capability belongs to.
func (u *UserAccess) Kernel() *Kernel {
	return u.kernel
}

// Enable sets the user-access flag on c, permitting supervisor accesses to
// user pages until Disable.
func (u *UserAccess) Enable(c *CPU) {
	if c.kernel != u.kernel {
		panic(fmt.Sprintf("user access for another kernel used on CPU %d", c.id))
	}
	c.userAccess = true
}

// Disable clears the user-access flag on c.
func (u *UserAccess) Disable(c *CPU) {
	c.userAccess = false
}
