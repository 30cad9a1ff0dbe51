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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coredbio/memidx/ordered"
)

// TestOrderedIndexIteratorNextPrevRoundTrip walks forward to the end
// with Next(), then all the way back to the first element with
// Prev(), across several leaves, checking the two walks retrace the
// same sequence in reverse. This exercises the leaf-boundary crossing
// in Prev() that a pure Next()-only or Prev()-only test would miss.
func TestOrderedIndexIteratorNextPrevRoundTrip(t *testing.T) {
	ix, err := ordered.NewInt64(newAlloc(t), ordered.NoCardinality)
	require.NoError(t, err)

	const n = 200
	for i := int64(0); i < n; i++ {
		mustInsert(t, ix, i)
	}
	require.NoError(t, ix.SelfCheck())

	it := ix.First()
	var forward []int64
	if v, ok := it.Peek(); ok {
		forward = append(forward, v)
	}
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		forward = append(forward, v)
	}
	require.Len(t, forward, n)
	require.False(t, it.Valid())

	var backward []int64
	for {
		v, ok := it.Prev()
		if !ok {
			break
		}
		backward = append(backward, v)
	}
	require.Len(t, backward, n)

	for i, v := range backward {
		require.Equal(t, forward[n-1-i], v, "mismatch at reverse position %d", i)
	}
}

// TestOrderedIndexIteratorInvalidSymmetry pins the contractual
// wrap-around: Next on an invalid iterator restarts at the first
// element, Prev on an invalid iterator restarts at the last.
func TestOrderedIndexIteratorInvalidSymmetry(t *testing.T) {
	ix, err := ordered.NewInt64(newAlloc(t), ordered.NoCardinality)
	require.NoError(t, err)
	for i := int64(0); i < 40; i++ {
		mustInsert(t, ix, i)
	}

	it := ix.Last()
	_, ok := it.Next()
	require.False(t, ok, "advancing past the last element invalidates")
	v, ok := it.Next()
	require.True(t, ok)
	require.EqualValues(t, 0, v, "Next on an invalid iterator restarts at First")

	it = ix.First()
	_, ok = it.Prev()
	require.False(t, ok, "stepping before the first element invalidates")
	v, ok = it.Prev()
	require.True(t, ok)
	require.EqualValues(t, 39, v, "Prev on an invalid iterator restarts at Last")
}

// TestOrderedIndexIteratorLastThenPrev exercises Last() combined with
// repeated Prev() calls, independent of ever having called Next().
func TestOrderedIndexIteratorLastThenPrev(t *testing.T) {
	ix, err := ordered.NewInt64(newAlloc(t), ordered.NoCardinality)
	require.NoError(t, err)

	const n = 150
	for i := int64(0); i < n; i++ {
		mustInsert(t, ix, i)
	}

	it := ix.Last()
	v, ok := it.Peek()
	require.True(t, ok)
	require.EqualValues(t, n-1, v)

	for want := int64(n - 2); want >= 0; want-- {
		v, ok := it.Prev()
		require.True(t, ok)
		require.Equal(t, want, v)
	}
	_, ok = it.Prev()
	require.False(t, ok)
}

// TestOrderedIndexIteratorLastTracksTrailingInserts pins the lazy
// position contract: a Last() iterator taken before trailing inserts
// into the last leaf resolves, on first dereference, to the element
// that is last by then.
func TestOrderedIndexIteratorLastTracksTrailingInserts(t *testing.T) {
	ix, err := ordered.NewInt64(newAlloc(t), ordered.NoCardinality)
	require.NoError(t, err)
	mustInsert(t, ix, int64(1))
	mustInsert(t, ix, int64(2))

	it := ix.Last()
	mustInsert(t, ix, int64(3)) // lands in the same (only) leaf

	v, ok := it.Peek()
	require.True(t, ok)
	require.EqualValues(t, 3, v)
}

// TestOrderedIndexIteratorSurvivesLeafMerge deletes enough elements
// to merge the leaf a live iterator points into, then checks the
// iterator resynchronises through the parked garbage block instead of
// reading freed memory.
func TestOrderedIndexIteratorSurvivesLeafMerge(t *testing.T) {
	ix, err := ordered.NewInt64(newAlloc(t), ordered.NoCardinality)
	require.NoError(t, err)

	const n = 60
	for i := int64(0); i < n; i++ {
		mustInsert(t, ix, i)
	}
	require.NoError(t, ix.SelfCheck())

	it := ix.First()
	for i := 0; i < n/2; i++ {
		it.Next()
	}

	// Delete a dense band around the iterator's position so its leaf
	// merges away.
	for i := int64(n/4) + 1; i < int64(3*n/4); i++ {
		_, _, err := ix.Delete(i)
		require.NoError(t, err)
	}
	require.NoError(t, ix.SelfCheck())

	// The iterator must still produce live elements (possibly
	// skipping or repeating around the edit) and terminate.
	steps := 0
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		_, found := ix.Find(v)
		require.True(t, found, "iterator returned a deleted element %d", v)
		steps++
		require.Less(t, steps, n*2, "iterator failed to terminate")
	}
}

// TestOrderedIndexIteratorEmptyPrev covers the zero-element edge case:
// an iterator over an empty tree must report Prev() as exhausted
// rather than reading out of bounds.
func TestOrderedIndexIteratorEmptyPrev(t *testing.T) {
	ix, err := ordered.NewInt64(newAlloc(t), ordered.NoCardinality)
	require.NoError(t, err)

	it := ix.First()
	require.False(t, it.Valid())
	_, ok := it.Prev()
	require.False(t, ok)
}
