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

// Package hashindex implements a linear-probing incremental hash
// table atop pagealloc.Allocator: clusters of 5 slots, a home+overflow
// probe-chain discipline, and one-cluster-at-a-time growth.
//
// It is a port of tarantool's "light" hash table; see small/light.h
// in the tarantool source tree. The C version's SIMD-flavored
// masked-subtraction slot scan is replaced with a plain per-slot loop
// per cluster (see cluster.go); the 64-byte cluster layout itself is
// kept bit-exact.
package hashindex

import (
	"math/bits"

	"github.com/pkg/errors"

	xmath "github.com/coredbio/memidx/common/math"
	"github.com/coredbio/memidx/pagealloc"
)

// SlotID identifies a stored record: clusterIndex*5 + positionInCluster.
type SlotID uint32

// NilSlotID is the reserved "not found / end" value.
const NilSlotID SlotID = 0xFFFFFFFF

// String renders id for log lines and test failure messages.
func (id SlotID) String() string {
	if id == NilSlotID {
		return "nil"
	}
	return xmath.FormatID(uint32(id))
}

// ErrOutOfMemory is returned when growing the table fails because the
// backing allocator is out of memory; the table is left unchanged.
var ErrOutOfMemory = errors.New("hashindex: out of memory")

// Comparator supplies the equality tests the table cannot provide
// itself: like light, the table never hashes or compares values
// internally; the caller supplies the hash with every operation.
type Comparator[V any, K any] interface {
	// Encode/Decode convert a value to/from the 8-byte slot payload
	// (LIGHT_DATA_TYPE "must be less than 8 bytes").
	Encode(v V) uint64
	Decode(raw uint64) V
	// Equal compares two decoded values for light_equal.
	Equal(a, b V) bool
	// EqualKey compares a decoded value against a projection key for
	// light_equal_key (find_key).
	EqualKey(v V, k K) bool
}

// Table is a hash index: O(1)-expected insert/find/erase of opaque
// values under caller-supplied hashing.
type Table[V any, K any] struct {
	alloc     *pagealloc.Allocator
	cmp       Comparator[V, K]
	count     uint32
	tableSize uint32 // clusters
	coverMask uint32
}

// New creates an empty table. alloc must be configured with a block
// size of at least clusterBytes (64) and handed to this table
// exclusively; clusters are addressed by BlockId directly (cluster
// index == BlockId), since light_grow allocates exactly one new
// cluster per grow step, matching pagealloc's per-call Alloc. Any
// per-caller state the equality tests need (light's "arg") lives in
// the Comparator value itself.
func New[V any, K any](alloc *pagealloc.Allocator, cmp Comparator[V, K]) *Table[V, K] {
	return &Table[V, K]{alloc: alloc, cmp: cmp}
}

// Count returns the number of live records, invariant H2.
func (t *Table[V, K]) Count() uint32 { return t.count }

// TableSize returns the logical table size in clusters.
func (t *Table[V, K]) TableSize() uint32 { return t.tableSize }

func (t *Table[V, K]) clusterRO(idx uint32) cluster {
	return decodeCluster(t.alloc.Get(pagealloc.HeadVersion, pagealloc.BlockId(idx)))
}

func (t *Table[V, K]) clusterRW(idx uint32) (cluster, []byte, error) {
	buf, err := t.alloc.Touch(pagealloc.BlockId(idx))
	if err != nil {
		return cluster{}, nil, err
	}
	return decodeCluster(buf), buf, nil
}

// home implements light_slot / invariant H4: the folding of a
// high-order hash projection into [0, table_size) via the current
// power-of-two cover.
func home(hash, tableSize, coverMask uint32) uint32 {
	if tableSize == 0 {
		return 0
	}
	highHash := hash / clustersPerSlot
	res := highHash & coverMask
	if res >= tableSize && coverMask > 0 {
		top := uint32(bits.Len32(coverMask)) - 1
		res ^= uint32(1) << top
	}
	return res
}

func nextSlot(idx, tableSize uint32) uint32 {
	idx++
	if idx >= tableSize {
		idx = 0
	}
	return idx
}

func prevSlot(idx, tableSize uint32) uint32 {
	if idx == 0 {
		idx = tableSize
	}
	return idx - 1
}

// Find locates a record with the given hash and full value (light_find).
func (t *Table[V, K]) Find(hash uint32, value V) SlotID {
	return t.search(hash, func(c *cluster, pos int) bool {
		return t.cmp.Equal(t.cmp.Decode(c.data[pos]), value)
	})
}

// FindKey locates a record with the given hash and key projection
// (light_find_key).
func (t *Table[V, K]) FindKey(hash uint32, key K) SlotID {
	return t.search(hash, func(c *cluster, pos int) bool {
		return t.cmp.EqualKey(t.cmp.Decode(c.data[pos]), key)
	})
}

func (t *Table[V, K]) search(hash uint32, match func(c *cluster, pos int) bool) SlotID {
	if t.tableSize == 0 {
		return NilSlotID
	}
	idx := home(hash, t.tableSize, t.coverMask)
	for {
		c := t.clusterRO(idx)
		for pos := 0; pos < clustersPerSlot; pos++ {
			if !c.occupied(pos) || c.hash[pos] != hash {
				continue
			}
			if match(&c, pos) {
				return SlotID(idx*clustersPerSlot + uint32(pos))
			}
		}
		if !c.overflowed() {
			return NilSlotID
		}
		idx = nextSlot(idx, t.tableSize)
	}
}

// Insert adds a record with the given hash and value, growing the
// table if the load factor is reached (light_insert). Returns the
// assigned slot id.
func (t *Table[V, K]) Insert(hash uint32, value V) (SlotID, error) {
	if err := t.ensureCapacity(); err != nil {
		return NilSlotID, err
	}
	idx := home(hash, t.tableSize, t.coverMask)
	c, buf, err := t.clusterRW(idx)
	if err != nil {
		return NilSlotID, err
	}
	chain := false
	for c.full() {
		c.setOverflow(true)
		encodeCluster(buf, c)
		chain = true
		idx = nextSlot(idx, t.tableSize)
		c, buf, err = t.clusterRW(idx)
		if err != nil {
			return NilSlotID, err
		}
	}
	pos := c.firstFree()
	c.set(pos, hash, t.cmp.Encode(value), chain)
	encodeCluster(buf, c)
	t.count++
	return SlotID(idx*clustersPerSlot + uint32(pos)), nil
}

func (c *cluster) full() bool {
	for i := 0; i < clustersPerSlot; i++ {
		if !c.occupied(i) {
			return false
		}
	}
	return true
}

func (c *cluster) firstFree() int {
	for i := 0; i < clustersPerSlot; i++ {
		if !c.occupied(i) {
			return i
		}
	}
	return -1
}

// Replace finds a record by hash/value and swaps in a new value,
// returning the old value and whether a record was found
// (light_replace).
func (t *Table[V, K]) Replace(hash uint32, value V) (old V, slot SlotID, found bool) {
	if t.tableSize == 0 {
		return old, NilSlotID, false
	}
	idx := home(hash, t.tableSize, t.coverMask)
	for {
		c, buf, err := t.clusterRW(idx)
		if err != nil {
			// Touch fails only when the cluster's extent is shared
			// with a read view and copying it runs out of memory;
			// treat that as "not found" rather than panicking here.
			return old, NilSlotID, false
		}
		for pos := 0; pos < clustersPerSlot; pos++ {
			if !c.occupied(pos) || c.hash[pos] != hash {
				continue
			}
			if t.cmp.Equal(t.cmp.Decode(c.data[pos]), value) {
				old = t.cmp.Decode(c.data[pos])
				c.data[pos] = t.cmp.Encode(value)
				encodeCluster(buf, c)
				return old, SlotID(idx*clustersPerSlot + uint32(pos)), true
			}
		}
		if !c.overflowed() {
			return old, NilSlotID, false
		}
		idx = nextSlot(idx, t.tableSize)
	}
}

// Erase removes the record at slot, restoring overflow-bit bookkeeping
// along the probe chain it was reached through (light_delete).
func (t *Table[V, K]) Erase(slot SlotID) {
	idx := uint32(slot) / clustersPerSlot
	pos := int(uint32(slot) % clustersPerSlot)

	c, buf, err := t.clusterRW(idx)
	if err != nil {
		panic(programmingError("Erase: touch of cluster %d failed: %v", idx, err))
	}
	wasChain := c.chained(pos)
	c.clear(pos)
	encodeCluster(buf, c)
	t.count--

	if !wasChain {
		return
	}
	if t.clusterRO(idx).hasHomeHere() {
		return
	}
	t.clearOverflowBackward(idx)
}

// Get returns the value stored at slot (light_get). slot must be a
// currently occupied position (programming error otherwise, see
// PosValid).
func (t *Table[V, K]) Get(slot SlotID) V {
	idx := uint32(slot) / clustersPerSlot
	pos := int(uint32(slot) % clustersPerSlot)
	c := t.clusterRO(idx)
	return t.cmp.Decode(c.data[pos])
}

// PosValid reports whether slot currently holds a live record
// (light_pos_valid).
func (t *Table[V, K]) PosValid(slot SlotID) bool {
	if slot == NilSlotID || t.tableSize == 0 {
		return false
	}
	idx := uint32(slot) / clustersPerSlot
	if idx >= t.tableSize {
		return false
	}
	pos := int(uint32(slot) % clustersPerSlot)
	c := t.clusterRO(idx)
	return c.occupied(pos)
}
