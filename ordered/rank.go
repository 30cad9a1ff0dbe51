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
	"github.com/pkg/errors"
)

// ErrNoCardinality is returned by the rank/select family when the
// index was created with NoCardinality: these operations need the
// per-subtree counts that the other two modes maintain.
var ErrNoCardinality = errors.New("ordered: rank/select requires a CardinalityMode other than NoCardinality")

// Rank returns the number of elements strictly less than key (the
// 0-based position an element matching key holds in sorted order)
// plus whether an exact match exists at that position.
func (ix *Index[T, K]) Rank(key K) (uint64, bool, error) {
	if ix.mode == NoCardinality {
		return 0, false, ErrNoCardinality
	}
	if ix.root == nilID {
		return 0, false, nil
	}
	var rank uint64
	id := ix.root
	for level := ix.depth; level > 1; level-- {
		buf, hv := ix.innerBuf(head, id)
		i := ix.innerChildFor(buf, int(hv.count), key)
		for j := 0; j < i; j++ {
			rank += ix.subtreeCard(buf, j, level-1)
		}
		id = ix.layout.child(buf, i)
	}
	buf, lv := ix.leafBuf(head, id)
	i := ix.leafLowerBound(buf, int(lv.count), key)
	rank += uint64(i)
	found := i < int(lv.count) && ix.cmp.CompareKey(ix.leafElem(buf, i), key) == 0
	return rank, found, nil
}

// Select returns the element at 0-based rank n in sorted order.
func (ix *Index[T, K]) Select(n uint64) (T, error) {
	var zero T
	it, err := ix.IteratorAt(n)
	if err != nil {
		return zero, err
	}
	v, ok := it.Peek()
	if !ok {
		return zero, errors.Errorf("ordered: Select: rank %d out of range (size %d)", n, ix.size)
	}
	return v, nil
}

// IteratorAt returns an iterator positioned at the element of rank
// offset, invalid when offset >= Size
// (bps_tree_iterator_at_offset).
func (ix *Index[T, K]) IteratorAt(offset uint64) (*Iterator[T, K], error) {
	if ix.mode == NoCardinality {
		return nil, ErrNoCardinality
	}
	if offset >= ix.size {
		return &Iterator[T, K]{ix: ix, leaf: nilID}, nil
	}
	n := offset
	id := ix.root
	for level := ix.depth; level > 1; level-- {
		buf, hv := ix.innerBuf(head, id)
		i := 0
		for ; i < int(hv.count)-1; i++ {
			c := ix.subtreeCard(buf, i, level-1)
			if n < c {
				break
			}
			n -= c
		}
		id = ix.layout.child(buf, i)
	}
	return &Iterator[T, K]{ix: ix, leaf: id, pos: int(n)}, nil
}

// FindWithOffset combines Find and Rank: the matching element (if
// any) plus its 0-based position in sorted order
// (bps_tree_find_get_offset).
func (ix *Index[T, K]) FindWithOffset(key K) (T, uint64, bool, error) {
	var zero T
	rank, found, err := ix.Rank(key)
	if err != nil {
		return zero, 0, false, err
	}
	if !found {
		return zero, rank, false, nil
	}
	v, _ := ix.Find(key)
	return v, rank, true, nil
}
