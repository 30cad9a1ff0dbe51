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

package hashindex_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coredbio/memidx/hashindex"
	"github.com/coredbio/memidx/pagealloc"
)

type int64Cmp struct{}

func (int64Cmp) Encode(v int64) uint64    { return uint64(v) }
func (int64Cmp) Decode(raw uint64) int64  { return int64(raw) }
func (int64Cmp) Equal(a, b int64) bool    { return a == b }
func (int64Cmp) EqualKey(v int64, k int64) bool { return v == k }

type heapSource struct{ size int }

func (h heapSource) Alloc() ([]byte, error) { return make([]byte, h.size), nil }
func (h heapSource) Free([]byte)            {}

func newAlloc(t *testing.T) *pagealloc.Allocator {
	t.Helper()
	a, err := pagealloc.New(pagealloc.Config{ExtentSize: 4096, BlockSize: 64, Source: heapSource{4096}})
	require.NoError(t, err)
	return a
}

func hashOf(k int64) uint32 {
	// k*1024 deliberately collides modulo the table's cover so the
	// probe-chain/overflow-bit logic is exercised, not just the
	// happy path.
	return uint32(k) * 1024
}

func TestSlotIDString(t *testing.T) {
	require.Equal(t, "nil", hashindex.NilSlotID.String())
	require.Equal(t, "0x2a", hashindex.SlotID(42).String())
}

func TestHashIndexCollidingHashes(t *testing.T) {
	tbl := hashindex.New[int64, int64](newAlloc(t), int64Cmp{})

	slots := make(map[int64]hashindex.SlotID)
	for k := int64(0); k < 32; k++ {
		s, err := tbl.Insert(hashOf(k), k)
		require.NoError(t, err)
		slots[k] = s
	}
	require.NoError(t, tbl.SelfCheck())

	for k := int64(0); k < 32; k++ {
		s := tbl.Find(hashOf(k), k)
		require.True(t, tbl.PosValid(s))
		require.Equal(t, k, tbl.Get(s))
	}

	for k := int64(1); k < 32; k += 2 {
		tbl.Erase(slots[k])
	}
	require.NoError(t, tbl.SelfCheck())
	require.EqualValues(t, 16, tbl.Count())

	seen := map[int64]bool{}
	it := tbl.IteratorBegin()
	for {
		slot, ok := it.Next()
		if !ok {
			break
		}
		v := tbl.Get(slot)
		require.False(t, seen[v], "visited %d twice", v)
		seen[v] = true
	}
	require.Len(t, seen, 16)
	for k := int64(0); k < 32; k += 2 {
		require.True(t, seen[k], "missing even key %d", k)
	}
}

func TestHashIndexGrowBoundary(t *testing.T) {
	tbl := hashindex.New[int64, int64](newAlloc(t), int64Cmp{})
	require.NoError(t, tbl.SelfCheck())

	n := tbl.TableSize()*5 + 1
	if n < 64 {
		n = 64
	}
	for k := int64(0); k < int64(n); k++ {
		_, err := tbl.Insert(hashOf(k*7+3), k)
		require.NoError(t, err)
		require.NoError(t, tbl.SelfCheck())
	}
	require.EqualValues(t, n, tbl.Count())
	for k := int64(0); k < int64(n); k++ {
		s := tbl.Find(hashOf(k*7+3), k)
		require.True(t, tbl.PosValid(s))
	}
}

func TestHashIndexReplace(t *testing.T) {
	tbl := hashindex.New[int64, int64](newAlloc(t), int64Cmp{})
	_, err := tbl.Insert(hashOf(5), 5)
	require.NoError(t, err)
	old, slot, found := tbl.Replace(hashOf(5), 5)
	require.True(t, found)
	require.Equal(t, int64(5), old)
	require.Equal(t, int64(5), tbl.Get(slot))
	require.EqualValues(t, 1, tbl.Count())
}

func TestHashIndexFindKey(t *testing.T) {
	tbl := hashindex.New[int64, int64](newAlloc(t), int64Cmp{})
	_, err := tbl.Insert(hashOf(9), 9)
	require.NoError(t, err)
	s := tbl.FindKey(hashOf(9), int64(9))
	require.True(t, tbl.PosValid(s))
	require.Equal(t, hashindex.NilSlotID, tbl.FindKey(hashOf(9), int64(10)))
}
