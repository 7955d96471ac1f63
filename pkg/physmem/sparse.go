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

package physmem

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/btree"
	"gvisor.dev/vtop/pkg/hostarch"
	"gvisor.dev/vtop/pkg/sync"
)

// page is a populated frame of a Sparse store.
type page struct {
	frame uint64
	data  *[hostarch.PageSize]byte
}

func pageLess(a, b page) bool {
	return a.frame < b.frame
}

// Sparse is an in-memory physical address space. Only frames that have been
// written consume memory; all other memory reads as zero.
//
// Sparse is safe for concurrent use.
type Sparse struct {
	mu    sync.RWMutex
	pages *btree.BTreeG[page]
}

// NewSparse returns an empty Sparse store spanning the full physical address
// width.
func NewSparse() *Sparse {
	return &Sparse{pages: btree.NewG(8, pageLess)}
}

// Size implements Store.Size.
func (s *Sparse) Size() uint64 {
	return 1 << hostarch.PhysicalAddressBits
}

// Pages returns the number of populated frames.
func (s *Sparse) Pages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pages.Len()
}

// Write copies data into physical memory at pa, populating frames as
// needed.
func (s *Sparse) Write(pa hostarch.PhysAddr, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := checkRange(pa, uint64(len(data)), s.Size()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(data) > 0 {
		p, ok := s.pages.Get(page{frame: hostarch.FrameOf(pa)})
		if !ok {
			p = page{frame: hostarch.FrameOf(pa), data: new([hostarch.PageSize]byte)}
			s.pages.ReplaceOrInsert(p)
		}
		n := copy(p.data[pa.PageOffset():], data)
		data = data[n:]
		pa += hostarch.PhysAddr(n)
	}
	return nil
}

// WriteUint64 stores v little-endian at pa.
func (s *Sparse) WriteUint64(pa hostarch.PhysAddr, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return s.Write(pa, buf[:])
}

// ReadUint64 loads the little-endian value at pa.
func (s *Sparse) ReadUint64(pa hostarch.PhysAddr) (uint64, error) {
	var buf [8]byte
	if _, err := s.ReadAt(buf[:], int64(pa)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// ReadAt implements io.ReaderAt.ReadAt.
func (s *Sparse) ReadAt(dst []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrOutOfRange, off)
	}
	if len(dst) == 0 {
		return 0, nil
	}
	pa := hostarch.PhysAddr(off)
	if uint64(pa) >= s.Size() {
		return 0, io.EOF
	}
	if err := checkRange(pa, uint64(len(dst)), s.Size()); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	done := 0
	for done < len(dst) {
		chunk := dst[done:]
		if rem := hostarch.PageSize - pa.PageOffset(); uint64(len(chunk)) > rem {
			chunk = chunk[:rem]
		}
		if p, ok := s.pages.Get(page{frame: hostarch.FrameOf(pa)}); ok {
			copy(chunk, p.data[pa.PageOffset():])
		} else {
			clear(chunk)
		}
		done += len(chunk)
		pa += hostarch.PhysAddr(len(chunk))
	}
	return done, nil
}

// View implements Store.View. The returned view is a snapshot; later writes
// to the store are not reflected in it.
func (s *Sparse) View(pa hostarch.PhysAddr, length uint64) (View, error) {
	if err := checkRange(pa, length, s.Size()); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := s.ReadAt(buf, int64(pa)); err != nil {
		return nil, err
	}
	return &copyView{data: buf}, nil
}

// Close implements Store.Close.
func (s *Sparse) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages.Clear(false)
	return nil
}

// copyView is a View over a private copy of physical memory.
type copyView struct {
	data []byte
}

// Bytes implements View.Bytes.
func (v *copyView) Bytes() []byte {
	return v.data
}

// Release implements View.Release.
func (v *copyView) Release() error {
	if v.data == nil {
		return ErrReleased
	}
	v.data = nil
	return nil
}
