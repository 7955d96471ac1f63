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

	"gvisor.dev/vtop/pkg/binary"
	"gvisor.dev/vtop/pkg/hostarch"
)

// ReadPhysical fills dst with physical memory starting at pa.
//
// The range is mapped, copied with the kernel's memcpy and unmapped again.
// The mapping is released exactly once whether or not the copy succeeds.
func (k *Kernel) ReadPhysical(pa hostarch.PhysAddr, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	if err := k.checkInitialized(); err != nil {
		return err
	}
	size := uint64(len(dst))
	addr, err := k.platform.MapPhysical(pa, size)
	if err != nil {
		k.warn.Warningf("Mapping %d bytes at %v failed: %v", size, pa, err)
		return fmt.Errorf("%w: %v (%d bytes): %w", ErrMappingFailed, pa, size, err)
	}
	if addr == 0 {
		return fmt.Errorf("%w: %v (%d bytes): null mapping", ErrMappingFailed, pa, size)
	}
	defer func() {
		if err := k.platform.Unmap(addr, size); err != nil {
			k.warn.Warningf("Unmapping %v at %v failed: %v", pa, addr, err)
		}
	}()
	return k.Memcpy(dst, addr)
}

// ReadPhysicalUint64 returns the little-endian quadword at pa.
func (k *Kernel) ReadPhysicalUint64(pa hostarch.PhysAddr) (uint64, error) {
	var v uint64
	if err := k.ReadPhysicalValue(pa, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// ReadPhysicalValue decodes the little-endian value at pa into data, which
// must be a pointer to a fixed-size unsigned integer, array or struct of
// them.
func (k *Kernel) ReadPhysicalValue(pa hostarch.PhysAddr, data any) error {
	buf := make([]byte, binary.Size(data))
	if err := k.ReadPhysical(pa, buf); err != nil {
		return err
	}
	binary.Unmarshal(buf, binary.LittleEndian, data)
	return nil
}

// GetPhysicalAddress asks the kernel to translate va in the current
// process. It returns zero if the kernel has no translation.
func (k *Kernel) GetPhysicalAddress(va hostarch.Addr) (hostarch.PhysAddr, error) {
	if err := k.checkInitialized(); err != nil {
		return 0, err
	}
	fn, err := k.getPhysicalAddress()
	if err != nil {
		return 0, err
	}
	pa, err := k.platform.Invoke(fn, uintptr(va))
	if err != nil {
		return 0, fmt.Errorf("%w: %s(%v): %w", ErrExecutionFailed, GetPhysicalAddressExport, va, err)
	}
	return hostarch.PhysAddr(pa), nil
}
