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

// The window machinery below is the shared core of overflow and
// underflow handling. A window is a run of adjacent children of one
// parent (up to two siblings either side of the block being mutated,
// the same reach bps_tree's insert/delete decision trees have). The
// caller gathers the window's payload into a flat slice, optionally
// adds a freshly created block right after the overflowing one or
// drops the underflowing one, and the spread functions write the
// payload back evenly and rewrite the parent's entries. bps_tree does
// the same rearrangements with minimal in-place element moves
// (bps_tree_move_elems_to_{left,right}_*); gathering and rewriting
// produces identical block contents without the C-style pointer
// choreography.

// childRef names one child of an inner block: its position in the
// parent, its block id, and its current payload count (elements for a
// leaf, entries for an inner block).
type childRef struct {
	idx int
	id  pagealloc.BlockId
	n   int
}

func (ix *Index[T, K]) leafRef(pbuf []byte, i int) childRef {
	id := ix.layout.child(pbuf, i)
	_, lv := ix.leafBuf(head, id)
	return childRef{idx: i, id: id, n: int(lv.count)}
}

func (ix *Index[T, K]) innerRef(pbuf []byte, i int) childRef {
	id := ix.layout.child(pbuf, i)
	_, hv := ix.innerBuf(head, id)
	return childRef{idx: i, id: id, n: int(hv.count)}
}

// innerEntry is one (separator, child, subtree cardinality) triple of
// an inner block, decoded for rearrangement.
type innerEntry[T any] struct {
	sep   T
	child pagealloc.BlockId
	card  uint64
}

// subtreeCard returns child i's subtree element count: directly in
// PerChildCards mode, via the child's own header in BlockTotal mode
// (childLevel 1 means the child is a leaf), and zero when no
// cardinality metadata is kept.
func (ix *Index[T, K]) subtreeCard(buf []byte, i int, childLevel int) uint64 {
	switch ix.mode {
	case PerChildCards:
		return ix.layout.childCard(buf, i)
	case BlockTotal:
		childID := ix.layout.child(buf, i)
		if childLevel == 1 {
			_, lv := ix.leafBuf(head, childID)
			return uint64(lv.count)
		}
		_, hv := ix.innerBuf(head, childID)
		return hv.blockCard
	default:
		return 0
	}
}

// gatherInner decodes every entry of an inner block at the given
// level.
func (ix *Index[T, K]) gatherInner(id pagealloc.BlockId, level int) []innerEntry[T] {
	buf, hv := ix.innerBuf(head, id)
	n := int(hv.count)
	out := make([]innerEntry[T], n)
	for i := range out {
		out[i] = innerEntry[T]{
			sep:   ix.innerSep(buf, i),
			child: ix.layout.child(buf, i),
			card:  ix.subtreeCard(buf, i, level-1),
		}
	}
	return out
}

// writeInner lays out entries into an inner block's buffer, setting
// the tag, count and (in BlockTotal mode meaningfully) the block's
// total subtree cardinality.
func (ix *Index[T, K]) writeInner(buf []byte, entries []innerEntry[T]) {
	var total uint64
	for i, e := range entries {
		ix.setInnerSep(buf, i, e.sep)
		ix.layout.setChild(buf, i, e.child)
		if ix.mode == PerChildCards {
			ix.layout.setChildCard(buf, i, e.card)
		}
		total += e.card
	}
	encodeInnerHeader(buf, innerView{count: uint16(len(entries)), blockCard: total})
}

// gatherLeafRun concatenates the elements of the window's leaves in
// chain order; when v is non-nil it is spliced in at insertPos within
// the insertRef-th block's elements.
func (ix *Index[T, K]) gatherLeafRun(refs []childRef, insertRef, insertPos int, v *T) []T {
	total := 0
	for _, ref := range refs {
		total += ref.n
	}
	if v != nil {
		total++
	}
	out := make([]T, 0, total)
	for j, ref := range refs {
		buf, _ := ix.leafBuf(head, ref.id)
		for i := 0; i < ref.n; i++ {
			if v != nil && j == insertRef && i == insertPos {
				out = append(out, *v)
			}
			out = append(out, ix.leafElem(buf, i))
		}
		if v != nil && j == insertRef && insertPos == ref.n {
			out = append(out, *v)
		}
	}
	return out
}

// gatherInnerRun is gatherLeafRun over inner entries.
func (ix *Index[T, K]) gatherInnerRun(refs []childRef, insertRef, insertPos int, e *innerEntry[T], level int) []innerEntry[T] {
	total := 0
	for _, ref := range refs {
		total += ref.n
	}
	if e != nil {
		total++
	}
	out := make([]innerEntry[T], 0, total)
	for j, ref := range refs {
		ents := ix.gatherInner(ref.id, level)
		for i, en := range ents {
			if e != nil && j == insertRef && i == insertPos {
				out = append(out, *e)
			}
			out = append(out, en)
		}
		if e != nil && j == insertRef && insertPos == len(ents) {
			out = append(out, *e)
		}
	}
	return out
}

// writeLeafRun distributes elems evenly across ids in chain order and
// returns the parent-entry triple for each block.
func (ix *Index[T, K]) writeLeafRun(ids []pagealloc.BlockId, elems []T) ([]innerEntry[T], error) {
	counts := evenSplit(len(elems), len(ids))
	out := make([]innerEntry[T], len(ids))
	off := 0
	for j, id := range ids {
		buf, err := ix.alloc.Touch(id)
		if err != nil {
			return nil, err
		}
		lv := decodeLeaf(buf)
		for i := 0; i < counts[j]; i++ {
			ix.setLeafElem(buf, i, elems[off+i])
		}
		lv.count = uint16(counts[j])
		encodeLeafHeader(buf, lv)
		out[j] = innerEntry[T]{sep: elems[off+counts[j]-1], child: id, card: uint64(counts[j])}
		off += counts[j]
	}
	return out, nil
}

// writeInnerRun distributes entries evenly across ids and returns the
// parent-entry triple for each block.
func (ix *Index[T, K]) writeInnerRun(ids []pagealloc.BlockId, entries []innerEntry[T]) ([]innerEntry[T], error) {
	counts := evenSplit(len(entries), len(ids))
	out := make([]innerEntry[T], len(ids))
	off := 0
	for j, id := range ids {
		buf, err := ix.alloc.Touch(id)
		if err != nil {
			return nil, err
		}
		part := entries[off : off+counts[j]]
		ix.writeInner(buf, part)
		var sum uint64
		for _, e := range part {
			sum += e.card
		}
		out[j] = innerEntry[T]{sep: part[len(part)-1].sep, child: id, card: sum}
		off += counts[j]
	}
	return out, nil
}

// refreshParentMaxUp re-reads the last separator of the path's
// deepest block and pushes it up through the remaining ancestors.
// Writing an unchanged value is harmless, so window code calls this
// unconditionally after an in-place rearrangement.
func (ix *Index[T, K]) refreshParentMaxUp(path []pathEntry) error {
	parent := path[len(path)-1]
	buf, hv := ix.innerBuf(head, parent.id)
	m := ix.innerSep(buf, int(hv.count)-1)
	return ix.fixAncestorSeps(path[:len(path)-1], m)
}

// spreadLeafWindow writes elems back over the window's leaves. When
// newAfter >= 0 a fresh leaf is created right after refs[newAfter]
// (an overflow split); when drop >= 0, refs[drop] is emptied into its
// neighbors and disposed (an underflow merge). Exactly one of the
// structural knobs may be set; both may be -1 for a pure
// redistribution. Parent entries are rewritten to match, and the
// structural change, if any, recurses into the parent.
func (ix *Index[T, K]) spreadLeafWindow(path []pathEntry, refs []childRef, elems []T, newAfter, drop int) error {
	parent := path[len(path)-1]

	type slot struct {
		id  pagealloc.BlockId
		idx int // position in parent, -1 for the freshly created block
	}
	var newID pagealloc.BlockId = nilID
	if newAfter >= 0 {
		var err error
		newID, err = ix.newLeafAfter(refs[newAfter].id)
		if err != nil {
			return err
		}
	}
	slots := make([]slot, 0, len(refs)+1)
	for j, ref := range refs {
		if j != drop {
			slots = append(slots, slot{id: ref.id, idx: ref.idx})
		}
		if j == newAfter {
			slots = append(slots, slot{id: newID, idx: -1})
		}
	}
	if drop >= 0 {
		if err := ix.unlinkAndDisposeLeaf(refs[drop].id); err != nil {
			return err
		}
	}

	ids := make([]pagealloc.BlockId, len(slots))
	for j := range slots {
		ids[j] = slots[j].id
	}
	entries, err := ix.writeLeafRun(ids, elems)
	if err != nil {
		return err
	}

	pbuf, err := ix.alloc.Touch(parent.id)
	if err != nil {
		return err
	}
	var newEntry innerEntry[T]
	for j, s := range slots {
		if s.idx < 0 {
			newEntry = entries[j]
			continue
		}
		ix.setInnerSep(pbuf, s.idx, entries[j].sep)
		if ix.mode == PerChildCards {
			ix.layout.setChildCard(pbuf, s.idx, entries[j].card)
		}
	}
	if newAfter >= 0 {
		return ix.insertInnerEntry(path[:len(path)-1], parent.id, 2, refs[newAfter].idx+1, newEntry)
	}
	if drop >= 0 {
		return ix.removeInnerEntry(path[:len(path)-1], parent.id, 2, refs[drop].idx)
	}
	return ix.refreshParentMaxUp(path)
}

// spreadInnerWindow is spreadLeafWindow one level up: the window's
// blocks are inner blocks at the given level, their payload is entry
// triples, and there is no sibling chain to maintain.
func (ix *Index[T, K]) spreadInnerWindow(path []pathEntry, refs []childRef, entries []innerEntry[T], newAfter, drop, level int) error {
	parent := path[len(path)-1]

	type slot struct {
		id  pagealloc.BlockId
		idx int
	}
	var newID pagealloc.BlockId = nilID
	if newAfter >= 0 {
		var err error
		newID, err = ix.newInnerBlock()
		if err != nil {
			return err
		}
	}
	slots := make([]slot, 0, len(refs)+1)
	for j, ref := range refs {
		if j != drop {
			slots = append(slots, slot{id: ref.id, idx: ref.idx})
		}
		if j == newAfter {
			slots = append(slots, slot{id: newID, idx: -1})
		}
	}
	if drop >= 0 {
		if err := ix.disposeInner(refs[drop].id); err != nil {
			return err
		}
	}

	ids := make([]pagealloc.BlockId, len(slots))
	for j := range slots {
		ids[j] = slots[j].id
	}
	out, err := ix.writeInnerRun(ids, entries)
	if err != nil {
		return err
	}

	pbuf, err := ix.alloc.Touch(parent.id)
	if err != nil {
		return err
	}
	var newEntry innerEntry[T]
	for j, s := range slots {
		if s.idx < 0 {
			newEntry = out[j]
			continue
		}
		ix.setInnerSep(pbuf, s.idx, out[j].sep)
		if ix.mode == PerChildCards {
			ix.layout.setChildCard(pbuf, s.idx, out[j].card)
		}
	}
	if newAfter >= 0 {
		return ix.insertInnerEntry(path[:len(path)-1], parent.id, level+1, refs[newAfter].idx+1, newEntry)
	}
	if drop >= 0 {
		return ix.removeInnerEntry(path[:len(path)-1], parent.id, level+1, refs[drop].idx)
	}
	return ix.refreshParentMaxUp(path)
}
