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
	"sort"

	xmath "github.com/coredbio/memidx/common/math"
	"github.com/coredbio/memidx/pagealloc"
)

// SortForBuild orders elems in place per cmp, the preparation step
// Build requires before laying out leaves directly: bulk-loading a
// sorted run lets Build fill leaves evenly instead of paying the
// insert-by-insert rebalance cost of Insert in a loop. It plays the
// role qsort_arg plays for the original's build benchmarks.
func SortForBuild[T any](elems []T, cmp Comparator[T, T]) {
	sort.SliceStable(elems, func(i, j int) bool {
		return cmp.Compare(elems[i], elems[j]) < 0
	})
}

// Build constructs a new Index from a pre-sorted slice. Each level is
// laid out left to right with every block filled to the level's
// average, producing a tight, balanced tree (bps_tree_build). elems
// must already be sorted per cmp (see SortForBuild); Build does not
// re-check this. On OOM every block allocated so far is returned to
// the allocator and the error reported.
func Build[T any, K any](alloc *pagealloc.Allocator, cmp Comparator[T, K], codec Codec[T], mode CardinalityMode, elems []T) (*Index[T, K], error) {
	ix, err := New[T, K](alloc, cmp, codec, mode)
	if err != nil {
		return nil, err
	}
	if len(elems) == 0 {
		return ix, nil
	}

	// A fresh tree has an empty freelist, so every block comes
	// straight off the top of the allocator; on failure they unwind
	// with Dealloc in reverse order.
	allocated := 0
	fail := func(err error) (*Index[T, K], error) {
		for ; allocated > 0; allocated-- {
			ix.alloc.Dealloc()
		}
		return nil, err
	}
	newBlock := func() (pagealloc.BlockId, []byte, error) {
		id, err := ix.allocBlock()
		if err != nil {
			return nilID, nil, err
		}
		allocated++
		buf, err := ix.alloc.Touch(id)
		if err != nil {
			return nilID, nil, err
		}
		return id, buf, nil
	}

	// Leaf level.
	nLeaves := xmath.CeilDiv(len(elems), ix.lmax)
	counts := evenSplit(len(elems), nLeaves)
	level := make([]innerEntry[T], 0, nLeaves)
	prevID := nilID
	var prevBuf []byte
	off := 0
	for _, n := range counts {
		id, buf, err := newBlock()
		if err != nil {
			return fail(err)
		}
		for i := 0; i < n; i++ {
			ix.setLeafElem(buf, i, elems[off+i])
		}
		encodeLeafHeader(buf, leafView{count: uint16(n), prev: prevID, next: nilID})
		if prevBuf != nil {
			pv := decodeLeaf(prevBuf)
			pv.next = id
			encodeLeafHeader(prevBuf, pv)
		} else {
			ix.firstLeaf = id
		}
		level = append(level, innerEntry[T]{sep: elems[off+n-1], child: id, card: uint64(n)})
		prevID, prevBuf = id, buf
		off += n
	}
	ix.lastLeaf = prevID
	ix.leafCount = uint32(nLeaves)
	ix.size = uint64(len(elems))

	// Inner levels, bottom up, until one block holds everything.
	depth := 1
	for len(level) > 1 {
		nBlocks := xmath.CeilDiv(len(level), ix.imax)
		counts := evenSplit(len(level), nBlocks)
		next := make([]innerEntry[T], 0, nBlocks)
		off := 0
		for _, n := range counts {
			id, buf, err := newBlock()
			if err != nil {
				return fail(err)
			}
			part := level[off : off+n]
			ix.writeInner(buf, part)
			var total uint64
			for _, e := range part {
				total += e.card
			}
			next = append(next, innerEntry[T]{sep: part[n-1].sep, child: id, card: total})
			off += n
		}
		ix.innerCount += uint32(nBlocks)
		level = next
		depth++
	}
	ix.root = level[0].child
	ix.depth = depth
	return ix, nil
}
