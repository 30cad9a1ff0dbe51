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

// Insert adds v in sorted position. If an element comparing equal to
// v already exists it is byte-replaced and the old element returned
// with replaced=true; the size does not change
// (bps_tree_insert_or_replace). Otherwise v is inserted, shedding
// overflow into siblings before splitting, per the B+*-tree fullness
// law. On ErrOutOfMemory the tree is unchanged.
func (ix *Index[T, K]) Insert(v T) (T, bool, error) {
	var zero T
	if err := ix.reserveForMutation(); err != nil {
		return zero, false, err
	}

	if ix.root == nilID {
		id, err := ix.allocBlock()
		if err != nil {
			return zero, false, err
		}
		buf, err := ix.alloc.Touch(id)
		if err != nil {
			return zero, false, err
		}
		encodeLeafHeader(buf, leafView{count: 1, prev: nilID, next: nilID})
		ix.setLeafElem(buf, 0, v)
		ix.root = id
		ix.firstLeaf = id
		ix.lastLeaf = id
		ix.depth = 1
		ix.size = 1
		ix.leafCount = 1
		return zero, false, nil
	}

	path, leafID := ix.descendElem(v)
	buf, lv := ix.leafBuf(head, leafID)
	count := int(lv.count)
	pos := ix.leafElemLowerBound(buf, count, v)

	if pos < count && ix.cmp.Compare(ix.leafElem(buf, pos), v) == 0 {
		wbuf, err := ix.alloc.Touch(leafID)
		if err != nil {
			return zero, false, err
		}
		old := ix.leafElem(wbuf, pos)
		ix.setLeafElem(wbuf, pos, v)
		// The replacement compares equal but its bytes may differ;
		// refresh the separator copies when it is the subtree max.
		if pos == count-1 {
			if err := ix.fixAncestorSeps(path, v); err != nil {
				return zero, false, err
			}
		}
		return old, true, nil
	}

	if err := ix.bumpPathCards(path, +1); err != nil {
		return zero, false, err
	}

	if count < ix.lmax {
		wbuf, err := ix.alloc.Touch(leafID)
		if err != nil {
			return zero, false, err
		}
		wlv := decodeLeaf(wbuf)
		ix.shiftLeafRight(wbuf, pos, count)
		ix.setLeafElem(wbuf, pos, v)
		wlv.count++
		encodeLeafHeader(wbuf, wlv)
		ix.size++
		if pos == count {
			if err := ix.fixAncestorSeps(path, v); err != nil {
				return zero, false, err
			}
		}
		return zero, false, nil
	}

	if err := ix.insertLeafOverflow(path, leafID, pos, v); err != nil {
		return zero, false, err
	}
	ix.size++
	return zero, false, nil
}

// insertLeafOverflow handles inserting v at pos into a full leaf: try
// shedding into an immediate sibling, then a sibling two away, and
// only then split, pulling every full neighbor into the rearrangement
// so all touched blocks land at 2/3 capacity or better
// (bps_tree_process_insert_into_leaf).
func (ix *Index[T, K]) insertLeafOverflow(path []pathEntry, leafID pagealloc.BlockId, pos int, v T) error {
	if len(path) == 0 {
		// The root leaf has no siblings: split it in two under a new
		// root.
		refs := []childRef{{idx: 0, id: leafID, n: ix.lmax}}
		elems := ix.gatherLeafRun(refs, 0, pos, &v)
		newID, err := ix.newLeafAfter(leafID)
		if err != nil {
			return err
		}
		entries, err := ix.writeLeafRun([]pagealloc.BlockId{leafID, newID}, elems)
		if err != nil {
			return err
		}
		return ix.growRoot(entries[0], entries[1])
	}

	parent := path[len(path)-1]
	pbuf, phv := ix.innerBuf(head, parent.id)
	pc := int(phv.count)
	p := parent.index

	cur := childRef{idx: p, id: leafID, n: ix.lmax}
	var l, r, ll, rr *childRef
	if p > 0 {
		t := ix.leafRef(pbuf, p-1)
		l = &t
	}
	if p < pc-1 {
		t := ix.leafRef(pbuf, p+1)
		r = &t
	}
	if p > 1 {
		t := ix.leafRef(pbuf, p-2)
		ll = &t
	}
	if p < pc-2 {
		t := ix.leafRef(pbuf, p+2)
		rr = &t
	}

	// An immediate sibling with room absorbs the overflow without any
	// new block; prefer the less-full one.
	if l != nil && l.n < ix.lmax && (r == nil || r.n >= l.n) {
		refs := []childRef{*l, cur}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, 1, pos, &v), -1, -1)
	}
	if r != nil && r.n < ix.lmax {
		refs := []childRef{cur, *r}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, 0, pos, &v), -1, -1)
	}

	// Both immediate siblings full (or absent); a sibling two away
	// with room still avoids a split.
	if l != nil && ll != nil && ll.n < ix.lmax {
		refs := []childRef{*ll, *l, cur}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, 2, pos, &v), -1, -1)
	}
	if r != nil && rr != nil && rr.n < ix.lmax {
		refs := []childRef{cur, *r, *rr}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, 0, pos, &v), -1, -1)
	}

	// Split. The new leaf goes right after the overflowing one, and
	// every full neighbor in reach joins the rearrangement so the
	// result is as even as possible.
	switch {
	case l != nil && r != nil:
		refs := []childRef{*l, cur, *r}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, 1, pos, &v), 1, -1)
	case l != nil && ll != nil:
		refs := []childRef{*ll, *l, cur}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, 2, pos, &v), 2, -1)
	case r != nil && rr != nil:
		refs := []childRef{cur, *r, *rr}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, 0, pos, &v), 0, -1)
	case l != nil:
		refs := []childRef{*l, cur}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, 1, pos, &v), 1, -1)
	case r != nil:
		refs := []childRef{cur, *r}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, 0, pos, &v), 0, -1)
	default:
		refs := []childRef{cur}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, 0, pos, &v), 0, -1)
	}
}

// insertInnerEntry inserts e at position idx within the inner block
// id (at the given level; path holds id's ancestors). Overflow is
// handled with the same window logic as the leaf level.
func (ix *Index[T, K]) insertInnerEntry(path []pathEntry, id pagealloc.BlockId, level, idx int, e innerEntry[T]) error {
	_, hv := ix.innerBuf(head, id)
	n := int(hv.count)
	if n < ix.imax {
		wbuf, err := ix.alloc.Touch(id)
		if err != nil {
			return err
		}
		whv := decodeInner(wbuf)
		ix.shiftInnerRight(wbuf, idx, n)
		ix.setInnerSep(wbuf, idx, e.sep)
		ix.layout.setChild(wbuf, idx, e.child)
		if ix.mode == PerChildCards {
			ix.layout.setChildCard(wbuf, idx, e.card)
		}
		whv.count++
		encodeInnerHeader(wbuf, whv)
		return ix.fixAncestorSeps(path, ix.innerSep(wbuf, n))
	}
	return ix.innerOverflow(path, id, level, idx, e)
}

// innerOverflow is insertLeafOverflow one level up.
func (ix *Index[T, K]) innerOverflow(path []pathEntry, id pagealloc.BlockId, level, idx int, e innerEntry[T]) error {
	if len(path) == 0 {
		refs := []childRef{{idx: 0, id: id, n: ix.imax}}
		entries := ix.gatherInnerRun(refs, 0, idx, &e, level)
		newID, err := ix.newInnerBlock()
		if err != nil {
			return err
		}
		out, err := ix.writeInnerRun([]pagealloc.BlockId{id, newID}, entries)
		if err != nil {
			return err
		}
		return ix.growRoot(out[0], out[1])
	}

	parent := path[len(path)-1]
	pbuf, phv := ix.innerBuf(head, parent.id)
	pc := int(phv.count)
	p := parent.index

	cur := childRef{idx: p, id: id, n: ix.imax}
	var l, r, ll, rr *childRef
	if p > 0 {
		t := ix.innerRef(pbuf, p-1)
		l = &t
	}
	if p < pc-1 {
		t := ix.innerRef(pbuf, p+1)
		r = &t
	}
	if p > 1 {
		t := ix.innerRef(pbuf, p-2)
		ll = &t
	}
	if p < pc-2 {
		t := ix.innerRef(pbuf, p+2)
		rr = &t
	}

	if l != nil && l.n < ix.imax && (r == nil || r.n >= l.n) {
		refs := []childRef{*l, cur}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, 1, idx, &e, level), -1, -1, level)
	}
	if r != nil && r.n < ix.imax {
		refs := []childRef{cur, *r}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, 0, idx, &e, level), -1, -1, level)
	}
	if l != nil && ll != nil && ll.n < ix.imax {
		refs := []childRef{*ll, *l, cur}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, 2, idx, &e, level), -1, -1, level)
	}
	if r != nil && rr != nil && rr.n < ix.imax {
		refs := []childRef{cur, *r, *rr}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, 0, idx, &e, level), -1, -1, level)
	}

	switch {
	case l != nil && r != nil:
		refs := []childRef{*l, cur, *r}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, 1, idx, &e, level), 1, -1, level)
	case l != nil && ll != nil:
		refs := []childRef{*ll, *l, cur}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, 2, idx, &e, level), 2, -1, level)
	case r != nil && rr != nil:
		refs := []childRef{cur, *r, *rr}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, 0, idx, &e, level), 0, -1, level)
	case l != nil:
		refs := []childRef{*l, cur}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, 1, idx, &e, level), 1, -1, level)
	case r != nil:
		refs := []childRef{cur, *r}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, 0, idx, &e, level), 0, -1, level)
	default:
		refs := []childRef{cur}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, 0, idx, &e, level), 0, -1, level)
	}
}

// growRoot wraps two sibling subtrees under a fresh inner root,
// growing the tree by one level.
func (ix *Index[T, K]) growRoot(left, right innerEntry[T]) error {
	id, err := ix.newInnerBlock()
	if err != nil {
		return err
	}
	buf, err := ix.alloc.Touch(id)
	if err != nil {
		return err
	}
	ix.writeInner(buf, []innerEntry[T]{left, right})
	ix.root = id
	ix.depth++
	return nil
}
