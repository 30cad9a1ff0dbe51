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

	"github.com/coredbio/memidx/pagealloc"
)

// SelfCheck walks the whole tree verifying invariants O1-O4 the way
// bps_tree_debug_check does, returning a descriptive error for the
// first violation instead of tarantool's bitmask:
//
//   - O1: every inner separator equals its child subtree's max.
//   - O2: every block outside the root holds at least 2/3 of its
//     capacity. The root is exempt, and so are the two children of a
//     2-entry parent, which must instead be too large to merge into
//     one block (the shape the delete path's tolerated underflow
//     leaves behind).
//   - O3: the leaf chain visits exactly the leaves the tree structure
//     reaches, in order, with prev/next agreeing in both directions
//     and first/last bookkeeping matching.
//   - O4: stored cardinality metadata (either flavor) matches actual
//     subtree sizes.
//
// The walk also cross-checks Size and the leaf/inner/garbage block
// counters.
func (ix *Index[T, K]) SelfCheck() error {
	if ix.root == nilID {
		if ix.size != 0 || ix.depth != 0 {
			return errors.Errorf("ordered: SelfCheck: empty tree with size=%d depth=%d", ix.size, ix.depth)
		}
		if ix.firstLeaf != nilID || ix.lastLeaf != nilID {
			return errors.New("ordered: SelfCheck: empty tree with non-nil first/last leaf")
		}
		if ix.leafCount != 0 || ix.innerCount != 0 {
			return errors.Errorf("ordered: SelfCheck: empty tree with leafCount=%d innerCount=%d", ix.leafCount, ix.innerCount)
		}
		return ix.checkFreelist()
	}

	st := &checkState{}
	total, _, err := ix.checkBlock(ix.root, ix.depth, false, st)
	if err != nil {
		return err
	}
	if total != ix.size {
		return errors.Errorf("ordered: SelfCheck: tree holds %d elements, Size() reports %d", total, ix.size)
	}
	if st.leafN != ix.leafCount || st.innerN != ix.innerCount {
		return errors.Errorf("ordered: SelfCheck: walked %d leaves / %d inners, counters say %d / %d",
			st.leafN, st.innerN, ix.leafCount, ix.innerCount)
	}
	if err := ix.checkLeafChain(st.leaves); err != nil {
		return err
	}
	return ix.checkFreelist()
}

type checkState struct {
	leaves []pagealloc.BlockId
	leafN  uint32
	innerN uint32
}

// checkBlock returns the subtree's element count and max element.
// checkFullness carries bps_tree's rule downward: the root is never
// checked, and a 2-entry block turns the check off for its children.
func (ix *Index[T, K]) checkBlock(id pagealloc.BlockId, level int, checkFullness bool, st *checkState) (uint64, T, error) {
	var zero T
	buf := ix.alloc.Get(head, id)

	if level == 1 {
		if blockTagOf(buf) != tagLeaf {
			return 0, zero, errors.Errorf("ordered: SelfCheck: block %s at leaf level has tag %d", id, buf[0])
		}
		lv := decodeLeaf(buf)
		n := int(lv.count)
		st.leafN++
		st.leaves = append(st.leaves, id)
		if n < 1 || n > ix.lmax {
			return 0, zero, errors.Errorf("ordered: SelfCheck: leaf %s holds %d elements (LMAX %d)", id, n, ix.lmax)
		}
		if checkFullness && n < ix.minLeaf() {
			return 0, zero, errors.Errorf("ordered: SelfCheck: O2: leaf %s holds %d < %d", id, n, ix.minLeaf())
		}
		for i := 1; i < n; i++ {
			if ix.cmp.Compare(ix.leafElem(buf, i-1), ix.leafElem(buf, i)) >= 0 {
				return 0, zero, errors.Errorf("ordered: SelfCheck: leaf %s out of order at position %d", id, i)
			}
		}
		return uint64(n), ix.leafElem(buf, n-1), nil
	}

	if blockTagOf(buf) != tagInner {
		return 0, zero, errors.Errorf("ordered: SelfCheck: block %s at level %d has tag %d", id, level, buf[0])
	}
	hv := decodeInner(buf)
	n := int(hv.count)
	st.innerN++
	if n < 2 || n > ix.imax {
		return 0, zero, errors.Errorf("ordered: SelfCheck: inner %s holds %d entries (IMAX %d)", id, n, ix.imax)
	}
	if checkFullness && n < ix.minInner() {
		return 0, zero, errors.Errorf("ordered: SelfCheck: O2: inner %s holds %d < %d", id, n, ix.minInner())
	}
	for i := 1; i < n; i++ {
		if ix.cmp.Compare(ix.innerSep(buf, i-1), ix.innerSep(buf, i)) >= 0 {
			return 0, zero, errors.Errorf("ordered: SelfCheck: inner %s separators out of order at %d", id, i)
		}
	}
	if n == 2 {
		// Two children that would fit in one block should have been
		// merged; tolerated underflow is only legal past that point.
		capacity := ix.imax
		if level == 2 {
			capacity = ix.lmax
		}
		if ix.childPayload(buf, 0, level)+ix.childPayload(buf, 1, level) <= capacity {
			return 0, zero, errors.Errorf("ordered: SelfCheck: O2: inner %s has 2 mergeable children", id)
		}
	}

	checkNext := n > 2
	var total uint64
	var maxElem T
	for i := 0; i < n; i++ {
		childID := ix.layout.child(buf, i)
		childCount, childMax, err := ix.checkBlock(childID, level-1, checkNext, st)
		if err != nil {
			return 0, zero, err
		}
		if ix.cmp.Compare(ix.innerSep(buf, i), childMax) != 0 {
			return 0, zero, errors.Errorf("ordered: SelfCheck: O1: inner %s separator %d does not equal child %s's max", id, i, childID)
		}
		if ix.mode == PerChildCards {
			if got := ix.layout.childCard(buf, i); got != childCount {
				return 0, zero, errors.Errorf("ordered: SelfCheck: O4: inner %s child %d card=%d, actual=%d", id, i, got, childCount)
			}
		}
		total += childCount
		maxElem = childMax
	}
	if ix.mode == BlockTotal && hv.blockCard != total {
		return 0, zero, errors.Errorf("ordered: SelfCheck: O4: inner %s blockCard=%d, actual=%d", id, hv.blockCard, total)
	}
	return total, maxElem, nil
}

// childPayload reads child i's own entry/element count from its
// header (level is the parent's level).
func (ix *Index[T, K]) childPayload(buf []byte, i, level int) int {
	childID := ix.layout.child(buf, i)
	if level == 2 {
		_, lv := ix.leafBuf(head, childID)
		return int(lv.count)
	}
	_, hv := ix.innerBuf(head, childID)
	return int(hv.count)
}

// checkLeafChain verifies O3 against the leaves the structural walk
// visited, in visit order.
func (ix *Index[T, K]) checkLeafChain(walked []pagealloc.BlockId) error {
	var chain []pagealloc.BlockId
	for id := ix.firstLeaf; id != nilID; {
		chain = append(chain, id)
		_, lv := ix.leafBuf(head, id)
		id = lv.next
		if len(chain) > len(walked) {
			return errors.New("ordered: SelfCheck: O3: leaf chain longer than the tree's leaf set")
		}
	}
	if len(chain) != len(walked) {
		return errors.Errorf("ordered: SelfCheck: O3: leaf chain visits %d leaves, tree has %d", len(chain), len(walked))
	}
	for i := range chain {
		if chain[i] != walked[i] {
			return errors.Errorf("ordered: SelfCheck: O3: leaf chain diverges from tree order at position %d", i)
		}
	}
	if chain[len(chain)-1] != ix.lastLeaf {
		return errors.New("ordered: SelfCheck: O3: leaf chain does not end at lastLeaf")
	}
	for i := len(chain) - 1; i > 0; i-- {
		_, lv := ix.leafBuf(head, chain[i])
		if lv.prev != chain[i-1] {
			return errors.Errorf("ordered: SelfCheck: O3: leaf %s.prev does not match forward walk", chain[i])
		}
	}
	_, first := ix.leafBuf(head, chain[0])
	if first.prev != nilID {
		return errors.New("ordered: SelfCheck: O3: first leaf has a prev sibling")
	}
	return nil
}

// checkFreelist walks the garbage chain, verifying tags and the
// garbage counter.
func (ix *Index[T, K]) checkFreelist() error {
	var n uint32
	for id := ix.freeHead; id != nilID; {
		buf := ix.alloc.Get(head, id)
		if blockTagOf(buf) != tagGarbage {
			return errors.Errorf("ordered: SelfCheck: freelist block %s is not tagged garbage", id)
		}
		id = decodeGarbage(buf).next
		n++
		if n > ix.garbageCount {
			break
		}
	}
	if n != ix.garbageCount {
		return errors.Errorf("ordered: SelfCheck: freelist holds %d blocks, counter says %d", n, ix.garbageCount)
	}
	return nil
}
