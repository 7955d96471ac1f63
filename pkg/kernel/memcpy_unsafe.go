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

package kernel

import (
	"fmt"
	"runtime"
	"unsafe"

	"gvisor.dev/vtop/pkg/hostarch"
)

// Memcpy copies len(dst) bytes of kernel virtual memory at src into dst,
// using the kernel's memcpy.
func (k *Kernel) Memcpy(dst []byte, src hostarch.Addr) error {
	if len(dst) == 0 {
		return nil
	}
	if err := k.checkInitialized(); err != nil {
		return err
	}
	fn, err := k.memcpy()
	if err != nil {
		return err
	}

	// The kernel writes through a raw address, so dst must not move.
	var pinner runtime.Pinner
	pinner.Pin(&dst[0])
	defer pinner.Unpin()

	if _, err := k.platform.Invoke(fn, uintptr(unsafe.Pointer(&dst[0])), uintptr(src), uintptr(len(dst))); err != nil {
		return fmt.Errorf("%w: memcpy from %v (%d bytes): %w", ErrExecutionFailed, src, len(dst), err)
	}
	return nil
}
