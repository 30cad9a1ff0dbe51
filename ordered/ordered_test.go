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

package ordered_test

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/google/btree"
	"github.com/stretchr/testify/require"

	"github.com/coredbio/memidx/ordered"
	"github.com/coredbio/memidx/pagealloc"
)

type heapSource struct{ size int }

func (h heapSource) Alloc() ([]byte, error) { return make([]byte, h.size), nil }
func (h heapSource) Free([]byte)            {}

// newAlloc uses a small block size so a handful of insertions is
// enough to exercise leaf/inner splits, sizing the fixture to force
// the interesting code paths rather than relying on production-sized
// defaults.
func newAlloc(t *testing.T) *pagealloc.Allocator {
	t.Helper()
	a, err := pagealloc.New(pagealloc.Config{ExtentSize: 4096, BlockSize: 64, Source: heapSource{4096}})
	require.NoError(t, err)
	return a
}

func mustInsert(t *testing.T, ix *ordered.Index[int64, int64], v int64) {
	t.Helper()
	_, replaced, err := ix.Insert(v)
	require.NoError(t, err)
	require.False(t, replaced)
}

func collect(ix *ordered.Index[int64, int64]) []int64 {
	var out []int64
	it := ix.First()
	for v, ok := it.Peek(); ok; v, ok = it.Peek() {
		out = append(out, v)
		it.Next()
	}
	return out
}

func TestOrderedIndexInsertFindSorted(t *testing.T) {
	ix, err := ordered.NewInt64(newAlloc(t), ordered.NoCardinality)
	require.NoError(t, err)

	vals := []int64{50, 10, 90, 30, 70, 20, 60, 80, 40, 5, 95, 15, 25, 35, 45}
	for _, v := range vals {
		mustInsert(t, ix, v)
	}
	require.NoError(t, ix.SelfCheck())
	require.EqualValues(t, len(vals), ix.Size())

	for _, v := range vals {
		got, ok := ix.Find(v)
		require.True(t, ok)
		require.Equal(t, v, got)
	}
	_, ok := ix.Find(int64(999))
	require.False(t, ok)

	sorted := append([]int64{}, vals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	require.Equal(t, sorted, collect(ix))
}

func TestOrderedIndexInsertEqualReplaces(t *testing.T) {
	ix, err := ordered.NewInt64(newAlloc(t), ordered.NoCardinality)
	require.NoError(t, err)

	for i := int64(0); i < 50; i++ {
		mustInsert(t, ix, i)
	}
	old, replaced, err := ix.Insert(int64(25))
	require.NoError(t, err)
	require.True(t, replaced)
	require.EqualValues(t, 25, old)
	require.EqualValues(t, 50, ix.Size())
	require.NoError(t, ix.SelfCheck())
}

func TestOrderedIndexManyInsertsTriggerSplits(t *testing.T) {
	ix, err := ordered.NewInt64(newAlloc(t), ordered.NoCardinality)
	require.NoError(t, err)

	const n = 500
	for i := int64(0); i < n; i++ {
		mustInsert(t, ix, i)
		require.NoError(t, ix.SelfCheck())
	}
	require.EqualValues(t, n, ix.Size())

	got := collect(ix)
	require.Len(t, got, n)
	for i, v := range got {
		require.EqualValues(t, i, v)
	}
}

func TestOrderedIndexDeleteRebalances(t *testing.T) {
	ix, err := ordered.NewInt64(newAlloc(t), ordered.NoCardinality)
	require.NoError(t, err)

	const n = 300
	for i := int64(0); i < n; i++ {
		mustInsert(t, ix, i)
	}
	require.NoError(t, ix.SelfCheck())

	for i := int64(0); i < n; i += 2 {
		v, ok, err := ix.Delete(i)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, i, v)
		require.NoError(t, ix.SelfCheck())
	}
	require.EqualValues(t, n/2, ix.Size())

	for i := int64(0); i < n; i++ {
		_, ok := ix.Find(i)
		require.Equal(t, i%2 == 1, ok)
	}
}

func TestOrderedIndexDeleteValueRequiresIdenticalBits(t *testing.T) {
	// Elements compare equal when their low 8 bits agree, but carry
	// tag bits above them: Delete goes by the comparator, DeleteValue
	// additionally demands the stored bytes match.
	ix, err := ordered.New[int64, int64](newAlloc(t), maskedCmp{}, nativeInt64Codec{}, ordered.NoCardinality)
	require.NoError(t, err)

	tagged := int64(0x100 | 7)
	_, _, err = ix.Insert(tagged)
	require.NoError(t, err)

	_, ok, err := ix.DeleteValue(int64(7))
	require.NoError(t, err)
	require.False(t, ok, "DeleteValue must not delete a comparator-equal but bit-different element")
	require.EqualValues(t, 1, ix.Size())

	old, ok, err := ix.DeleteValue(tagged)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tagged, old)
	require.EqualValues(t, 0, ix.Size())
}

type maskedCmp struct{}

func (maskedCmp) Compare(a, b int64) int {
	a, b = a&0xFF, b&0xFF
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
func (c maskedCmp) CompareKey(a, k int64) int { return c.Compare(a, k) }

func TestOrderedIndexBoundsAndView(t *testing.T) {
	ix, err := ordered.NewInt64(newAlloc(t), ordered.NoCardinality)
	require.NoError(t, err)
	for _, v := range []int64{10, 20, 30, 40} {
		mustInsert(t, ix, v)
	}

	lb, exact := ix.LowerBound(int64(20))
	require.True(t, exact)
	v, ok := lb.Peek()
	require.True(t, ok)
	require.Equal(t, int64(20), v)

	lb, exact = ix.LowerBound(int64(25))
	require.False(t, exact)
	v, ok = lb.Peek()
	require.True(t, ok)
	require.Equal(t, int64(30), v)

	ub, exact := ix.UpperBound(int64(20))
	require.True(t, exact)
	v, ok = ub.Peek()
	require.True(t, ok)
	require.Equal(t, int64(30), v)

	vw, err := ix.View()
	require.NoError(t, err)
	defer vw.Close()

	mustInsert(t, ix, int64(25))
	require.EqualValues(t, 4, vw.Size())
	_, found := vw.Find(int64(25))
	require.False(t, found)
	_, found = ix.Find(int64(25))
	require.True(t, found)

	it := vw.First()
	var seen []int64
	for {
		val, ok := it.Next()
		if !ok {
			break
		}
		seen = append(seen, val)
	}
	require.Equal(t, []int64{10, 20, 30, 40}, seen)
}

func TestOrderedIndexRankSelectPerChildCards(t *testing.T) {
	// Per-child cards widen each inner entry by 8 bytes; the 64-byte
	// test block cannot hold 3 of those, so this mode gets the
	// 128-byte fixture (New rejects the tight one outright).
	ix, err := ordered.NewInt64(newScenarioAlloc(t), ordered.PerChildCards)
	require.NoError(t, err)
	const n = 200
	for i := int64(0); i < n; i++ {
		mustInsert(t, ix, i*2)
	}
	require.NoError(t, ix.SelfCheck())

	for i := int64(0); i < n; i++ {
		rank, found, err := ix.Rank(i * 2)
		require.NoError(t, err)
		require.True(t, found)
		require.EqualValues(t, i, rank)

		v, err := ix.Select(uint64(i))
		require.NoError(t, err)
		require.Equal(t, i*2, v)
	}

	// Rank of an absent key counts the elements below it.
	rank, found, err := ix.Rank(int64(5))
	require.NoError(t, err)
	require.False(t, found)
	require.EqualValues(t, 3, rank)
}

func TestOrderedIndexRankSelectBlockTotal(t *testing.T) {
	ix, err := ordered.NewInt64(newAlloc(t), ordered.BlockTotal)
	require.NoError(t, err)
	const n = 200
	for i := int64(0); i < n; i++ {
		mustInsert(t, ix, i)
	}
	require.NoError(t, ix.SelfCheck())
	v, err := ix.Select(0)
	require.NoError(t, err)
	require.EqualValues(t, 0, v)
	v, err = ix.Select(n - 1)
	require.NoError(t, err)
	require.EqualValues(t, n-1, v)
	_, err = ix.Select(n)
	require.Error(t, err)
}

func TestOrderedIndexNoCardinalityRejectsRank(t *testing.T) {
	ix, err := ordered.NewInt64(newAlloc(t), ordered.NoCardinality)
	require.NoError(t, err)
	mustInsert(t, ix, int64(1))
	_, _, err = ix.Rank(int64(1))
	require.ErrorIs(t, err, ordered.ErrNoCardinality)
	_, err = ix.IteratorAt(0)
	require.ErrorIs(t, err, ordered.ErrNoCardinality)
}

func TestOrderedIndexRejectsBlockTooSmallForMode(t *testing.T) {
	// 64-byte blocks hold NoCardinality/BlockTotal inner blocks, but
	// not the wider PerChildCards entries; New must refuse rather
	// than overflow the block.
	_, err := ordered.NewInt64(newAlloc(t), ordered.PerChildCards)
	require.Error(t, err)
	var perr *ordered.ProgrammingError
	require.ErrorAs(t, err, &perr)
}

func TestOrderedIndexBuildFromSortedSlice(t *testing.T) {
	elems := make([]int64, 400)
	for i := range elems {
		elems[i] = int64(i)
	}
	ix, err := ordered.Build[int64, int64](newScenarioAlloc(t), nativeInt64Cmp{}, nativeInt64Codec{}, ordered.PerChildCards, elems)
	require.NoError(t, err)
	require.NoError(t, ix.SelfCheck())
	require.EqualValues(t, len(elems), ix.Size())
	for _, v := range elems {
		got, ok := ix.Find(v)
		require.True(t, ok)
		require.Equal(t, v, got)
	}
}

func TestOrderedIndexBuildEmptyThenInsert(t *testing.T) {
	ix, err := ordered.Build[int64, int64](newAlloc(t), nativeInt64Cmp{}, nativeInt64Codec{}, ordered.NoCardinality, nil)
	require.NoError(t, err)
	require.NoError(t, ix.SelfCheck())
	require.EqualValues(t, 0, ix.Size())
	require.False(t, ix.First().Valid())

	_, _, err = ix.Insert(int64(42))
	require.NoError(t, err)
	require.NoError(t, ix.SelfCheck())
	require.EqualValues(t, 1, ix.Size())
}

func TestOrderedIndexMemUsed(t *testing.T) {
	ix, err := ordered.NewInt64(newAlloc(t), ordered.NoCardinality)
	require.NoError(t, err)
	require.EqualValues(t, 0, ix.MemUsed())
	for i := int64(0); i < 100; i++ {
		mustInsert(t, ix, i)
	}
	require.NotZero(t, ix.MemUsed())
	require.Zero(t, ix.MemUsed()%64)
}

type nativeInt64Cmp struct{}

func (nativeInt64Cmp) Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
func (c nativeInt64Cmp) CompareKey(a, k int64) int { return c.Compare(a, k) }

type nativeInt64Codec struct{}

func (nativeInt64Codec) Size() int { return 8 }
func (nativeInt64Codec) Encode(dst []byte, v int64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}
func (nativeInt64Codec) Decode(src []byte) int64 {
	var v int64
	for i := 0; i < 8; i++ {
		v |= int64(src[i]) << (8 * i)
	}
	return v
}

// TestOrderedIndexAgainstBTreeOracle cross-checks a randomized mix of
// inserts and deletes against google/btree as an independently
// implemented oracle for tree-shaped structures.
func TestOrderedIndexAgainstBTreeOracle(t *testing.T) {
	ix, err := ordered.NewInt64(newAlloc(t), ordered.NoCardinality)
	require.NoError(t, err)
	oracle := btree.NewG[int64](32, func(a, b int64) bool { return a < b })

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		v := int64(rng.Intn(500))
		if rng.Intn(3) == 0 {
			_, ok, err := ix.Delete(v)
			require.NoError(t, err)
			_, oracleHad := oracle.Delete(v)
			require.Equal(t, oracleHad, ok)
		} else {
			_, replaced, err := ix.Insert(v)
			require.NoError(t, err)
			_, oracleHad := oracle.ReplaceOrInsert(v)
			require.Equal(t, oracleHad, replaced)
		}
		if i%50 == 0 {
			require.NoError(t, ix.SelfCheck())
		}
	}
	require.NoError(t, ix.SelfCheck())
	require.EqualValues(t, oracle.Len(), ix.Size())

	var want []int64
	oracle.Ascend(func(v int64) bool {
		want = append(want, v)
		return true
	})
	require.Equal(t, want, collect(ix))
}
