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

package pagealloc

// heapSource is the simplest possible ExtentSource, backing every
// extent with a plain heap slice. Used wherever a test only needs a
// working allocator, not a specific memory backing.
type heapSource struct {
	size  int
	count int
}

func newHeapSource(size int) *heapSource {
	return &heapSource{size: size}
}

func (s *heapSource) Alloc() ([]byte, error) {
	s.count++
	return make([]byte, s.size), nil
}

func (s *heapSource) Free([]byte) {
	s.count--
}
