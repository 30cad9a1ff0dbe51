// Copyright 2024 The memidx Authors
// This file is part of memidx.
//
// memidx is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// memidx is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with memidx. If not, see <http://www.gnu.org/licenses/>.

// Package extentalloc provides a pagealloc.ExtentSource backed by
// anonymous mmap regions instead of heap slices, so extents are real,
// page-aligned, independently-unmappable memory: a non-heap
// implementation of the alloc_func/free_func pair matras expects its
// host to inject.
package extentalloc

import (
	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// MmapSource allocates every extent as its own anonymous mmap region
// of a fixed size.
type MmapSource struct {
	size int
}

// New returns an MmapSource that hands out extents of exactly size
// bytes. size should match the ExtentSize passed to pagealloc.Config.
func New(size int) *MmapSource {
	return &MmapSource{size: size}
}

// Alloc satisfies pagealloc.ExtentSource.
func (s *MmapSource) Alloc() ([]byte, error) {
	m, err := mmap.MapRegion(nil, s.size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, errors.Wrap(err, "extentalloc: mmap")
	}
	return []byte(m), nil
}

// Free satisfies pagealloc.ExtentSource. b must be a slice previously
// returned by Alloc, unmodified in length.
func (s *MmapSource) Free(b []byte) {
	m := mmap.MMap(b)
	_ = m.Unmap()
}
