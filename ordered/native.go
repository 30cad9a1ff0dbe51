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

package ordered

import (
	"encoding/binary"

	"golang.org/x/exp/constraints"

	"github.com/coredbio/memidx/pagealloc"
)

// nativeComparator gives any golang.org/x/exp/constraints.Ordered type
// a ready-made Comparator, so callers indexing plain scalars don't
// need to write boilerplate of their own (erigon-lib's kv packages do
// the analogous thing for fixed-width keys via encoding/binary).
type nativeComparator[T constraints.Ordered] struct{}

func (nativeComparator[T]) Compare(a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (c nativeComparator[T]) CompareKey(a, k T) int { return c.Compare(a, k) }

// uint32Codec/uint64Codec are concrete fixed-width codecs for the two
// native integer widths BlockId-adjacent and hash-adjacent code in
// this module most commonly indexes by.
type uint32Codec struct{}

func (uint32Codec) Size() int                   { return 4 }
func (uint32Codec) Encode(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }
func (uint32Codec) Decode(src []byte) uint32    { return binary.LittleEndian.Uint32(src) }

type uint64Codec struct{}

func (uint64Codec) Size() int                   { return 8 }
func (uint64Codec) Encode(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) }
func (uint64Codec) Decode(src []byte) uint64    { return binary.LittleEndian.Uint64(src) }

type int64Codec struct{}

func (int64Codec) Size() int                  { return 8 }
func (int64Codec) Encode(dst []byte, v int64) { binary.LittleEndian.PutUint64(dst, uint64(v)) }
func (int64Codec) Decode(src []byte) int64    { return int64(binary.LittleEndian.Uint64(src)) }

// NewNative builds an Index over any constraints.Ordered scalar type
// T, given a Codec describing T's fixed-width wire encoding. Ordering
// is derived automatically from T's native <, > operators via
// nativeComparator, so callers indexing a native scalar type never
// need to write their own Comparator -- only the Codec, since Go has
// no generic way to learn a type's byte width or endianness-sensitive
// layout on its own. NewUint32/NewUint64/NewInt64 are thin instances
// of this for the three widths this module's own code most often
// indexes by (BlockId- and hash-adjacent code).
func NewNative[T constraints.Ordered](alloc *pagealloc.Allocator, codec Codec[T], mode CardinalityMode) (*Index[T, T], error) {
	return New[T, T](alloc, nativeComparator[T]{}, codec, mode)
}

// NewUint32 builds an Index over plain uint32 values in natural order,
// e.g. BlockId-valued secondary indexes.
func NewUint32(alloc *pagealloc.Allocator, mode CardinalityMode) (*Index[uint32, uint32], error) {
	return NewNative[uint32](alloc, uint32Codec{}, mode)
}

// NewUint64 builds an Index over plain uint64 values in natural order.
func NewUint64(alloc *pagealloc.Allocator, mode CardinalityMode) (*Index[uint64, uint64], error) {
	return NewNative[uint64](alloc, uint64Codec{}, mode)
}

// NewInt64 builds an Index over plain int64 values in natural order.
func NewInt64(alloc *pagealloc.Allocator, mode CardinalityMode) (*Index[int64, int64], error) {
	return NewNative[int64](alloc, int64Codec{}, mode)
}
