// Copyright 2026 The gVisor Authors.
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

package emulated

import (
	"unsafe"

	"gvisor.dev/vtop/pkg/hostarch"
)

// addressOf returns the address of the first byte of b.
//
// Preconditions: len(b) > 0, and b is kept reachable for as long as the
// address is in use.
func addressOf(b []byte) hostarch.Addr {
	return hostarch.Addr(uintptr(unsafe.Pointer(unsafe.SliceData(b))))
}

// callerBytes returns size bytes of the caller's memory at addr.
//
// Preconditions: the memory is pinned Go memory or mapped by the caller.
func callerBytes(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
