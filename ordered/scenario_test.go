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
	"github.com/coredbio/memidx/pagealloc"
)

// The tests below drive whole-lifecycle scenarios at a fixed sizing,
// int64 elements in 128-byte blocks carved from 2048-byte extents,
// checking the structural invariants after every single mutation.

func newScenarioAlloc(t *testing.T) *pagealloc.Allocator {
	t.Helper()
	a, err := pagealloc.New(pagealloc.Config{ExtentSize: 2048, BlockSize: 128, Source: heapSource{2048}})
	require.NoError(t, err)
	return a
}

func TestScenarioInsertAscendingThousand(t *testing.T) {
	ix, err := ordered.NewInt64(newScenarioAlloc(t), ordered.NoCardinality)
	require.NoError(t, err)

	for i := int64(0); i < 1000; i++ {
		mustInsert(t, ix, i)
		require.NoError(t, ix.SelfCheck())
	}
	require.EqualValues(t, 1000, ix.Size())

	forward := collect(ix)
	require.Len(t, forward, 1000)
	for i, v := range forward {
		require.EqualValues(t, i, v)
	}

	var backward []int64
	it := ix.Last()
	for v, ok := it.Peek(); ok; v, ok = it.Prev() {
		backward = append(backward, v)
	}
	require.Len(t, backward, 1000)
	for i, v := range backward {
		require.EqualValues(t, 999-i, v)
	}
}

func TestScenarioInsertThenDeleteAll(t *testing.T) {
	ix, err := ordered.NewInt64(newScenarioAlloc(t), ordered.NoCardinality)
	require.NoError(t, err)

	for i := int64(0); i < 1000; i++ {
		mustInsert(t, ix, i)
		require.NoError(t, ix.SelfCheck())
	}
	for i := int64(999); i >= 0; i-- {
		v, ok, err := ix.Delete(i)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, i, v)
		require.NoError(t, ix.SelfCheck())
	}
	require.EqualValues(t, 0, ix.Size())
	require.False(t, ix.First().Valid())
}

func TestScenarioRankSelectPermutation(t *testing.T) {
	ix, err := ordered.NewInt64(newScenarioAlloc(t), ordered.PerChildCards)
	require.NoError(t, err)

	for _, v := range []int64{7, 3, 9, 1, 5, 8, 2, 6, 4, 0} {
		mustInsert(t, ix, v)
	}
	require.NoError(t, ix.SelfCheck())

	v, offset, found, err := ix.FindWithOffset(int64(5))
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 5, v)
	require.EqualValues(t, 5, offset)

	it, err := ix.IteratorAt(3)
	require.NoError(t, err)
	got, ok := it.Peek()
	require.True(t, ok)
	require.EqualValues(t, 3, got)

	lb, exact := ix.LowerBound(int64(4))
	require.True(t, exact)
	got, ok = lb.Peek()
	require.True(t, ok)
	require.EqualValues(t, 4, got)

	ub, exact := ix.UpperBound(int64(4))
	require.True(t, exact)
	got, ok = ub.Peek()
	require.True(t, ok)
	require.EqualValues(t, 5, got)
}

func TestScenarioViewSurvivesDeletes(t *testing.T) {
	alloc := newScenarioAlloc(t)
	ix, err := ordered.NewInt64(alloc, ordered.NoCardinality)
	require.NoError(t, err)

	for i := int64(0); i < 1000; i++ {
		mustInsert(t, ix, i)
	}
	baseline := alloc.ExtentCount()

	vw, err := ix.View()
	require.NoError(t, err)

	for i := int64(0); i < 500; i++ {
		_, ok, err := ix.Delete(i)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, ix.SelfCheck())

	require.EqualValues(t, 1000, vw.Size())
	first, ok := vw.Min()
	require.True(t, ok)
	require.EqualValues(t, 0, first)
	last, ok := vw.Max()
	require.True(t, ok)
	require.EqualValues(t, 999, last)

	count := uint64(0)
	it := vw.First()
	for want := int64(0); ; want++ {
		v, ok := it.Next()
		if !ok {
			break
		}
		require.Equal(t, want, v)
		count++
	}
	require.Equal(t, vw.Size(), count)

	vw.Close()
	require.Equal(t, baseline, alloc.ExtentCount(),
		"closing the view must free every extent the head had to copy-on-write around it")
	require.NoError(t, alloc.SelfCheck())
}
