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

import "github.com/coredbio/memidx/pagealloc"

// View is a frozen snapshot of the index as of the moment View was
// created: a root block id plus the allocator read-view that keeps
// its whole reachable block graph alive (bps_tree_view, backed by
// pagealloc's CreateReadView/DestroyReadView). It stays valid across
// any mutation of the live tree and is invalidated only by its own
// Close.
type View[T any, K any] struct {
	ix      *Index[T, K]
	version pagealloc.VersionID
	root    pagealloc.BlockId
	depth   int
	first   pagealloc.BlockId
	last    pagealloc.BlockId
	size    uint64
}

// View snapshots the index's current state. The caller must call
// Close when done to release the underlying read-view.
func (ix *Index[T, K]) View() (*View[T, K], error) {
	v, err := ix.alloc.CreateReadView()
	if err != nil {
		return nil, err
	}
	return &View[T, K]{
		ix:      ix,
		version: v,
		root:    ix.root,
		depth:   ix.depth,
		first:   ix.firstLeaf,
		last:    ix.lastLeaf,
		size:    ix.size,
	}, nil
}

// Close releases the view's read-view, allowing the allocator to
// reclaim any extents no longer shared with the head or another view.
func (vw *View[T, K]) Close() {
	vw.ix.alloc.DestroyReadView(vw.version)
}

// Size returns the number of elements the view saw at creation time.
func (vw *View[T, K]) Size() uint64 { return vw.size }

// Find looks up key within the frozen snapshot.
func (vw *View[T, K]) Find(key K) (T, bool) {
	var zero T
	if vw.root == nilID {
		return zero, false
	}
	ix := vw.ix
	id := vw.root
	for level := vw.depth; level > 1; level-- {
		buf, hv := ix.innerBuf(vw.version, id)
		i := ix.innerChildFor(buf, int(hv.count), key)
		id = ix.layout.child(buf, i)
	}
	buf, lv := ix.leafBuf(vw.version, id)
	i := ix.leafLowerBound(buf, int(lv.count), key)
	if i < int(lv.count) && ix.cmp.CompareKey(ix.leafElem(buf, i), key) == 0 {
		return ix.leafElem(buf, i), true
	}
	return zero, false
}

// Min returns the smallest element the view saw at creation time.
func (vw *View[T, K]) Min() (T, bool) {
	var zero T
	if vw.first == nilID {
		return zero, false
	}
	buf, lv := vw.ix.leafBuf(vw.version, vw.first)
	if lv.count == 0 {
		return zero, false
	}
	return vw.ix.leafElem(buf, 0), true
}

// Max returns the largest element the view saw at creation time.
func (vw *View[T, K]) Max() (T, bool) {
	var zero T
	if vw.last == nilID {
		return zero, false
	}
	buf, lv := vw.ix.leafBuf(vw.version, vw.last)
	if lv.count == 0 {
		return zero, false
	}
	return vw.ix.leafElem(buf, int(lv.count)-1), true
}

// First returns an iterator over the view starting at its smallest
// element. The iterator reads through the view's pinned version, so
// it is unaffected by subsequent mutation of the live head.
func (vw *View[T, K]) First() *ViewIterator[T, K] {
	return &ViewIterator[T, K]{vw: vw, leaf: vw.first, pos: 0}
}

// ViewIterator is First's counterpart to Iterator: it never needs
// garbage-block resync, because the version it reads never mutates
// out from under it (pagealloc keeps every block reachable from a
// live version exactly as it was when the view was created).
type ViewIterator[T any, K any] struct {
	vw   *View[T, K]
	leaf pagealloc.BlockId
	pos  int
}

// Next returns the element at the current position and advances.
func (it *ViewIterator[T, K]) Next() (T, bool) {
	var zero T
	if it.leaf == nilID {
		return zero, false
	}
	ix := it.vw.ix
	buf, lv := ix.leafBuf(it.vw.version, it.leaf)
	if it.pos >= int(lv.count) {
		it.leaf = lv.next
		it.pos = 0
		if it.leaf == nilID {
			return zero, false
		}
		buf, _ = ix.leafBuf(it.vw.version, it.leaf)
	}
	v := ix.leafElem(buf, it.pos)
	it.pos++
	return v, true
}
