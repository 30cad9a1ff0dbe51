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
	"bytes"

	"github.com/coredbio/memidx/pagealloc"
)

// Delete removes the first element comparing equal to v, returning it
// (bps_tree_delete). On ErrOutOfMemory the tree is unchanged.
func (ix *Index[T, K]) Delete(v T) (T, bool, error) {
	return ix.deleteImpl(v, false)
}

// DeleteValue removes the element comparing equal to v only if its
// stored bytes are identical to v's encoding; a comparator-equal but
// bit-different element is left in place (bps_tree_delete_value,
// whose BPS_TREE_IS_IDENTICAL guard this bytes.Equal reproduces).
func (ix *Index[T, K]) DeleteValue(v T) (T, bool, error) {
	return ix.deleteImpl(v, true)
}

func (ix *Index[T, K]) deleteImpl(v T, requireIdentical bool) (T, bool, error) {
	var zero T
	if ix.root == nilID {
		return zero, false, nil
	}
	path, leafID := ix.descendElem(v)
	buf, lv := ix.leafBuf(head, leafID)
	count := int(lv.count)
	pos := ix.leafElemLowerBound(buf, count, v)
	if pos >= count || ix.cmp.Compare(ix.leafElem(buf, pos), v) != 0 {
		return zero, false, nil
	}
	if requireIdentical {
		enc := make([]byte, ix.elemSize)
		ix.codec.Encode(enc, v)
		off := leafElemOff(ix.elemSize, pos)
		if !bytes.Equal(buf[off:off+ix.elemSize], enc) {
			return zero, false, nil
		}
	}
	old := ix.leafElem(buf, pos)

	if err := ix.reserveForMutation(); err != nil {
		return zero, false, err
	}
	if err := ix.bumpPathCards(path, -1); err != nil {
		return zero, false, err
	}

	wbuf, err := ix.alloc.Touch(leafID)
	if err != nil {
		return zero, false, err
	}
	wlv := decodeLeaf(wbuf)
	ix.shiftLeafLeft(wbuf, pos, int(wlv.count))
	wlv.count--
	encodeLeafHeader(wbuf, wlv)
	ix.size--
	newCount := int(wlv.count)

	if len(path) == 0 {
		// Root leaf: no fullness floor; an emptied tree releases its
		// last block and reverts to the no-allocation state.
		if newCount == 0 {
			ix.firstLeaf = nilID
			ix.lastLeaf = nilID
			ix.root = nilID
			ix.depth = 0
			ix.leafCount--
			ix.garbageCount++
			gbuf, err := ix.alloc.Touch(leafID)
			if err != nil {
				return zero, false, err
			}
			encodeGarbage(gbuf, garbageView{next: ix.freeHead, formerPrev: nilID, formerNext: nilID})
			ix.freeHead = leafID
		}
		return old, true, nil
	}

	if newCount >= ix.minLeaf() {
		if pos == newCount {
			// Removed the leaf max; push the new max up.
			if err := ix.fixAncestorSeps(path, ix.leafElem(wbuf, newCount-1)); err != nil {
				return zero, false, err
			}
		}
		return old, true, nil
	}
	if err := ix.leafUnderflow(path, leafID, newCount); err != nil {
		return zero, false, err
	}
	return old, true, nil
}

// leafUnderflow restores the 2/3 floor after a deletion left the leaf
// under it: borrow from the fuller immediate sibling, then from a
// sibling two away, and as a last resort empty the leaf into its
// neighbors and remove it from the parent
// (bps_tree_process_delete_leaf). When the leaf's only sibling cannot
// absorb it, the underflow is tolerated: the parent then has exactly
// two children too large to merge, the shape SelfCheck exempts.
func (ix *Index[T, K]) leafUnderflow(path []pathEntry, leafID pagealloc.BlockId, count int) error {
	parent := path[len(path)-1]
	pbuf, phv := ix.innerBuf(head, parent.id)
	pc := int(phv.count)
	p := parent.index

	cur := childRef{idx: p, id: leafID, n: count}
	min := ix.minLeaf()
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

	// Borrow from the fuller immediate sibling.
	if l != nil && l.n > min && (r == nil || l.n >= r.n) {
		refs := []childRef{*l, cur}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, -1, 0, nil), -1, -1)
	}
	if r != nil && r.n > min {
		refs := []childRef{cur, *r}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, -1, 0, nil), -1, -1)
	}

	// Borrow across a minimum-full immediate sibling from two away.
	if l != nil && ll != nil && ll.n > min {
		refs := []childRef{*ll, *l, cur}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, -1, 0, nil), -1, -1)
	}
	if r != nil && rr != nil && rr.n > min {
		refs := []childRef{cur, *r, *rr}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, -1, 0, nil), -1, -1)
	}

	// No borrow possible: empty this leaf into its neighbors and drop
	// it from the parent.
	switch {
	case l != nil && r != nil:
		refs := []childRef{*l, cur, *r}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, -1, 0, nil), -1, 1)
	case l != nil && ll != nil:
		refs := []childRef{*ll, *l, cur}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, -1, 0, nil), -1, 2)
	case r != nil && rr != nil:
		refs := []childRef{cur, *r, *rr}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, -1, 0, nil), -1, 0)
	case l != nil:
		if l.n+cur.n > ix.lmax {
			// Cannot merge; tolerated underflow (2-child parent).
			return ix.fixCurSep(path, leafID, count)
		}
		refs := []childRef{*l, cur}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, -1, 0, nil), -1, 1)
	case r != nil:
		if r.n+cur.n > ix.lmax {
			return ix.fixCurSep(path, leafID, count)
		}
		refs := []childRef{cur, *r}
		return ix.spreadLeafWindow(path, refs, ix.gatherLeafRun(refs, -1, 0, nil), -1, 0)
	default:
		// A non-root block always has at least one sibling.
		return ix.fixCurSep(path, leafID, count)
	}
}

// fixCurSep refreshes the leaf's own separator (its max may have been
// the deleted element) and propagates it upward.
func (ix *Index[T, K]) fixCurSep(path []pathEntry, leafID pagealloc.BlockId, count int) error {
	buf, _ := ix.leafBuf(head, leafID)
	return ix.fixAncestorSeps(path, ix.leafElem(buf, count-1))
}

// removeInnerEntry removes the entry at idx from the inner block id
// (at the given level; path holds id's ancestors), rebalancing or
// collapsing the root as needed (bps_tree_process_delete_inner).
func (ix *Index[T, K]) removeInnerEntry(path []pathEntry, id pagealloc.BlockId, level, idx int) error {
	wbuf, err := ix.alloc.Touch(id)
	if err != nil {
		return err
	}
	hv := decodeInner(wbuf)
	n := int(hv.count)
	ix.removeInnerChildAt(wbuf, n, idx)
	n--

	if len(path) == 0 {
		if n == 1 {
			// A single-child root adds a level for nothing; its child
			// becomes the new root.
			ix.root = ix.layout.child(wbuf, 0)
			ix.depth--
			return ix.disposeInner(id)
		}
		return nil
	}
	if n >= ix.minInner() {
		return ix.fixAncestorSeps(path, ix.innerSep(wbuf, n-1))
	}
	return ix.innerUnderflow(path, id, level, n)
}

// innerUnderflow is leafUnderflow one level up.
func (ix *Index[T, K]) innerUnderflow(path []pathEntry, id pagealloc.BlockId, level, count int) error {
	parent := path[len(path)-1]
	pbuf, phv := ix.innerBuf(head, parent.id)
	pc := int(phv.count)
	p := parent.index

	cur := childRef{idx: p, id: id, n: count}
	min := ix.minInner()
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

	if l != nil && l.n > min && (r == nil || l.n >= r.n) {
		refs := []childRef{*l, cur}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, -1, 0, nil, level), -1, -1, level)
	}
	if r != nil && r.n > min {
		refs := []childRef{cur, *r}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, -1, 0, nil, level), -1, -1, level)
	}
	if l != nil && ll != nil && ll.n > min {
		refs := []childRef{*ll, *l, cur}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, -1, 0, nil, level), -1, -1, level)
	}
	if r != nil && rr != nil && rr.n > min {
		refs := []childRef{cur, *r, *rr}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, -1, 0, nil, level), -1, -1, level)
	}

	switch {
	case l != nil && r != nil:
		refs := []childRef{*l, cur, *r}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, -1, 0, nil, level), -1, 1, level)
	case l != nil && ll != nil:
		refs := []childRef{*ll, *l, cur}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, -1, 0, nil, level), -1, 2, level)
	case r != nil && rr != nil:
		refs := []childRef{cur, *r, *rr}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, -1, 0, nil, level), -1, 0, level)
	case l != nil:
		if l.n+cur.n > ix.imax {
			return ix.fixCurInnerSep(path, id, count)
		}
		refs := []childRef{*l, cur}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, -1, 0, nil, level), -1, 1, level)
	case r != nil:
		if r.n+cur.n > ix.imax {
			return ix.fixCurInnerSep(path, id, count)
		}
		refs := []childRef{cur, *r}
		return ix.spreadInnerWindow(path, refs, ix.gatherInnerRun(refs, -1, 0, nil, level), -1, 0, level)
	default:
		return ix.fixCurInnerSep(path, id, count)
	}
}

func (ix *Index[T, K]) fixCurInnerSep(path []pathEntry, id pagealloc.BlockId, count int) error {
	buf, _ := ix.innerBuf(head, id)
	return ix.fixAncestorSeps(path, ix.innerSep(buf, count-1))
}
