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

// Package physmem provides backing stores for emulated physical memory.
//
// Two stores are provided: Sparse, an in-memory store populated page by page,
// and File, a read-only raw physical memory dump. Both hand out transient
// Views of physical ranges, mirroring how a kernel maps physical pages into
// virtual memory for the duration of a single access.
package physmem

import (
	"errors"
	"fmt"
	"io"

	"gvisor.dev/vtop/pkg/hostarch"
)

var (
	// ErrOutOfRange is returned for accesses beyond the end of a store.
	ErrOutOfRange = errors.New("physical range out of bounds")

	// ErrReleased is returned when a View is released twice.
	ErrReleased = errors.New("view already released")
)

// Store is a source of physical memory contents.
type Store interface {
	// ReadAt reads physical memory at the given physical address.
	io.ReaderAt

	// View returns a transient window onto length bytes of physical memory
	// starting at pa. The View must be released.
	View(pa hostarch.PhysAddr, length uint64) (View, error)

	// Size returns the exclusive upper bound of the store's physical
	// address space.
	Size() uint64

	// Close releases the store.
	Close() error
}

// View is a window onto a physical memory range.
type View interface {
	// Bytes returns the contents of the range. The slice is valid until
	// Release is called.
	Bytes() []byte

	// Release invalidates the view.
	Release() error
}

// checkRange validates that [pa, pa+length) lies within [0, size).
func checkRange(pa hostarch.PhysAddr, length, size uint64) error {
	end := uint64(pa) + length
	if length == 0 || end < uint64(pa) || end > size {
		return fmt.Errorf("%w: [%v, %#x) in store of size %#x", ErrOutOfRange, pa, end, size)
	}
	return nil
}
