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
	"gvisor.dev/vtop/pkg/log"
)

// ProcessObject returns the kernel address of pid's process object.
func (k *Kernel) ProcessObject(pid uint32) (hostarch.Addr, error) {
	if err := k.checkInitialized(); err != nil {
		return 0, err
	}
	obj, err := k.platform.LookupProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("%w: pid %d: %w", ErrProcessLookupFailed, pid, err)
	}
	if obj == 0 {
		return 0, fmt.Errorf("%w: pid %d: null process object", ErrProcessLookupFailed, pid)
	}
	return obj, nil
}

// ResolveDTB returns the directory table base of pid, read from its process
// object in kernel virtual memory.
//
// The value is returned as stored; callers mask off the low control bits.
func (k *Kernel) ResolveDTB(pid uint32) (hostarch.PhysAddr, error) {
	obj, err := k.ProcessObject(pid)
	if err != nil {
		return 0, err
	}
	field := k.layout.DirectoryTableBase
	src := obj + hostarch.Addr(field.Offset)
	buf := make([]byte, field.Size)
	if err := k.Memcpy(buf, src); err != nil {
		return 0, err
	}

	var dtb uint64
	switch field.Size {
	case 4:
		var v uint32
		binary.Unmarshal(buf, binary.LittleEndian, &v)
		dtb = uint64(v)
	case 8:
		binary.Unmarshal(buf, binary.LittleEndian, &dtb)
	default:
		return 0, fmt.Errorf("layout %q: invalid directory table base size %d", k.layout.Name, field.Size)
	}
	if dtb == 0 {
		return 0, fmt.Errorf("%w for pid %d", ErrZeroDirectoryTableBase, pid)
	}
	log.Debugf("Process object of pid %d at %v, directory table base %#x", pid, obj, dtb)
	return hostarch.PhysAddr(dtb), nil
}
