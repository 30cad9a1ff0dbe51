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

// posLast marks an iterator position that resolves to "the last
// element of this leaf" on first dereference, so a Last() iterator
// keeps tracking the tail across trailing inserts into the last leaf,
// the lazy pos = -1 convention bps_tree_iterator_last uses.
const posLast = -1

// Iterator walks elements in sorted order via the leaf doubly-linked
// list. An iterator whose leaf id is nil is invalid: Next on an
// invalid iterator restarts at First, Prev restarts at Last, the
// symmetry bps_tree_iterator_next/prev keep so wrap-around scans
// write themselves.
//
// A stale iterator whose leaf was merged away follows the parked
// garbage block's former prev/next ids to resynchronise onto a live
// leaf rather than reading freed memory; across unrelated mutations
// it may skip or revisit a few elements neighboring the edit, never
// crash.
type Iterator[T any, K any] struct {
	ix   *Index[T, K]
	leaf pagealloc.BlockId
	pos  int
}

// First returns an iterator positioned at the smallest element,
// invalid when the tree is empty.
func (ix *Index[T, K]) First() *Iterator[T, K] {
	return &Iterator[T, K]{ix: ix, leaf: ix.firstLeaf, pos: 0}
}

// Last returns an iterator positioned at the largest element. The
// position is resolved lazily, so the iterator stays on the tail even
// if more elements are appended before the first dereference.
func (ix *Index[T, K]) Last() *Iterator[T, K] {
	return &Iterator[T, K]{ix: ix, leaf: ix.lastLeaf, pos: posLast}
}

// resync follows formerNext pointers out of any garbage block the
// iterator is parked on, landing at the start of the first live leaf
// downstream (or invalidating itself).
func (it *Iterator[T, K]) resync() {
	for it.leaf != nilID {
		buf := it.ix.alloc.Get(head, it.leaf)
		if blockTagOf(buf) != tagGarbage {
			return
		}
		gv := decodeGarbage(buf)
		it.leaf = gv.formerNext
		it.pos = 0
	}
}

// resyncBackward is resync in the other direction, landing on the
// last element of the first live leaf upstream.
func (it *Iterator[T, K]) resyncBackward() {
	for it.leaf != nilID {
		buf := it.ix.alloc.Get(head, it.leaf)
		if blockTagOf(buf) != tagGarbage {
			_, lv := it.ix.leafBuf(head, it.leaf)
			it.pos = int(lv.count) - 1
			return
		}
		gv := decodeGarbage(buf)
		it.leaf = gv.formerPrev
	}
}

// normalize resolves the lazy last-element position and skips past
// garbage.
func (it *Iterator[T, K]) normalize() {
	it.resync()
	if it.leaf == nilID {
		return
	}
	if it.pos == posLast {
		_, lv := it.ix.leafBuf(head, it.leaf)
		it.pos = int(lv.count) - 1
	}
}

// Valid reports whether the iterator currently denotes a live
// element.
func (it *Iterator[T, K]) Valid() bool {
	it.normalize()
	if it.leaf == nilID {
		return false
	}
	_, lv := it.ix.leafBuf(head, it.leaf)
	return it.pos >= 0 && it.pos < int(lv.count)
}

// Peek returns the element at the current position without advancing.
func (it *Iterator[T, K]) Peek() (T, bool) {
	var zero T
	if !it.Valid() {
		return zero, false
	}
	buf, _ := it.ix.leafBuf(head, it.leaf)
	return it.ix.leafElem(buf, it.pos), true
}

// Next advances the iterator and returns the element it lands on;
// advancing past the last element invalidates it. Next on an invalid
// iterator restarts at the first element.
func (it *Iterator[T, K]) Next() (T, bool) {
	var zero T
	if it.ix.size == 0 {
		it.leaf = nilID
		return zero, false
	}
	if !it.Valid() {
		it.leaf = it.ix.firstLeaf
		it.pos = 0
		return it.Peek()
	}
	_, lv := it.ix.leafBuf(head, it.leaf)
	it.pos++
	if it.pos >= int(lv.count) {
		it.leaf = lv.next
		it.pos = 0
		if it.leaf == nilID {
			return zero, false
		}
	}
	return it.Peek()
}

// Prev moves one element back; moving past the first element
// invalidates the iterator. Prev on an invalid iterator restarts at
// the last element.
func (it *Iterator[T, K]) Prev() (T, bool) {
	var zero T
	if it.ix.size == 0 {
		it.leaf = nilID
		return zero, false
	}
	it.normalize()
	if it.leaf == nilID {
		it.leaf = it.ix.lastLeaf
		it.pos = posLast
		return it.Peek()
	}
	it.pos--
	if it.pos < 0 {
		_, lv := it.ix.leafBuf(head, it.leaf)
		it.leaf = lv.prev
		it.resyncBackward()
		if it.leaf == nilID {
			return zero, false
		}
	}
	return it.Peek()
}
