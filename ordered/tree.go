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

const head = pagealloc.HeadVersion

// Index is an ordered index: a generic B+*-tree of T, keyed for
// lookup by K, atop a pagealloc.Allocator. The empty tree owns no
// blocks at all, matching bps_tree's root_id = -1 state; the first
// Insert (or Build) allocates the root leaf.
type Index[T any, K any] struct {
	alloc *pagealloc.Allocator
	cmp   Comparator[T, K]
	codec Codec[T]
	mode  CardinalityMode

	elemSize int
	lmax     int
	imax     int
	layout   innerLayout

	root      pagealloc.BlockId // nilID while the tree is empty
	depth     int               // 0 empty, 1 root-is-leaf, and so on
	firstLeaf pagealloc.BlockId
	lastLeaf  pagealloc.BlockId
	size      uint64

	leafCount    uint32
	innerCount   uint32
	garbageCount uint32

	// freeHead chains garbage blocks through their next field;
	// allocBlock pops from here before asking the allocator for a
	// brand new block, since pagealloc only grows/shrinks from the
	// head and has no general-purpose per-block free
	// (bps_tree_garbage_push/pop).
	freeHead pagealloc.BlockId
}

// New creates an empty Index. No block is allocated until the first
// insertion. alloc's configured block size bounds LMAX/IMAX; mode
// selects what cardinality metadata, if any, inner blocks maintain.
func New[T any, K any](alloc *pagealloc.Allocator, cmp Comparator[T, K], codec Codec[T], mode CardinalityMode) (*Index[T, K], error) {
	if alloc == nil || cmp == nil || codec == nil {
		return nil, programmingError("ordered: New: alloc, cmp and codec must all be non-nil")
	}
	elemSize := codec.Size()
	if elemSize <= 0 {
		return nil, programmingError("ordered: New: Codec.Size() must be positive, got %d", elemSize)
	}
	blockSize := int(alloc.BlockSize())
	lmax, imax := deriveCapacities(blockSize, elemSize, mode)
	if leafHeaderSize+lmax*elemSize > blockSize {
		return nil, programmingError("ordered: New: block size %d cannot hold %d elements of %d bytes", blockSize, lmax, elemSize)
	}
	perChild := 4 + elemSize
	if mode == PerChildCards {
		perChild += 8
	}
	if innerHeaderSize+imax*perChild > blockSize || blockSize < garbageHeaderSize {
		return nil, programmingError("ordered: New: block size %d too small for inner/garbage headers", blockSize)
	}

	return &Index[T, K]{
		alloc:     alloc,
		cmp:       cmp,
		codec:     codec,
		mode:      mode,
		elemSize:  elemSize,
		lmax:      lmax,
		imax:      imax,
		layout:    newInnerLayout(elemSize, mode, imax),
		root:      nilID,
		firstLeaf: nilID,
		lastLeaf:  nilID,
		freeHead:  nilID,
	}, nil
}

// Size returns the number of elements currently stored.
func (ix *Index[T, K]) Size() uint64 { return ix.size }

// MemUsed reports the bytes of block storage the tree occupies,
// including garbage-parked blocks awaiting reuse (bps_tree_mem_used).
func (ix *Index[T, K]) MemUsed() uint64 {
	return uint64(ix.leafCount+ix.innerCount+ix.garbageCount) * uint64(ix.alloc.BlockSize())
}

// LMAX and IMAX expose the derived per-level capacities, mostly useful
// for tests and SelfCheck.
func (ix *Index[T, K]) LMAX() int { return ix.lmax }
func (ix *Index[T, K]) IMAX() int { return ix.imax }

// minLeaf/minInner are the 2/3-capacity floor invariant O2 asks for
// outside the root, with the exact integer rounding bps_tree uses.
func (ix *Index[T, K]) minLeaf() int  { return ix.lmax * 2 / 3 }
func (ix *Index[T, K]) minInner() int { return ix.imax * 2 / 3 }

// reserveForMutation pre-charges the allocator with enough spare
// extents that no Touch/Alloc issued by a single insert or delete can
// fail, making every mutation all-or-nothing, the same
// matras_touch_reserve discipline bps_tree_insert applies before it
// mutates anything. The bound is deliberately loose: at most six
// blocks per level join a rebalance window, and a touch can copy at
// most one extent per page-table level.
func (ix *Index[T, K]) reserveForMutation() error {
	if err := ix.alloc.TouchReserve(6*(ix.depth+2) + 6); err != nil {
		return errors.Wrap(ErrOutOfMemory, err.Error())
	}
	return nil
}

// allocBlock hands back a block id for a new leaf or inner block,
// preferring to recycle a parked garbage block over growing the
// allocator (bps_tree_create_leaf/bps_tree_create_inner).
func (ix *Index[T, K]) allocBlock() (pagealloc.BlockId, error) {
	if ix.freeHead != nilID {
		id := ix.freeHead
		gv := decodeGarbage(ix.alloc.Get(head, id))
		ix.freeHead = gv.next
		ix.garbageCount--
		return id, nil
	}
	id, err := ix.alloc.Alloc()
	if err != nil {
		return nilID, errors.Wrap(ErrOutOfMemory, err.Error())
	}
	return id, nil
}

// newLeafAfter creates an empty leaf and links it into the sibling
// chain immediately after afterID.
func (ix *Index[T, K]) newLeafAfter(afterID pagealloc.BlockId) (pagealloc.BlockId, error) {
	id, err := ix.allocBlock()
	if err != nil {
		return nilID, err
	}
	abuf, err := ix.alloc.Touch(afterID)
	if err != nil {
		return nilID, err
	}
	av := decodeLeaf(abuf)
	oldNext := av.next
	av.next = id
	encodeLeafHeader(abuf, av)

	nbuf, err := ix.alloc.Touch(id)
	if err != nil {
		return nilID, err
	}
	encodeLeafHeader(nbuf, leafView{count: 0, prev: afterID, next: oldNext})

	if oldNext != nilID {
		xbuf, err := ix.alloc.Touch(oldNext)
		if err != nil {
			return nilID, err
		}
		xv := decodeLeaf(xbuf)
		xv.prev = id
		encodeLeafHeader(xbuf, xv)
	} else {
		ix.lastLeaf = id
	}
	ix.leafCount++
	return id, nil
}

// newInnerBlock creates a block for inner use; its header is written
// by the first writeInner against it.
func (ix *Index[T, K]) newInnerBlock() (pagealloc.BlockId, error) {
	id, err := ix.allocBlock()
	if err != nil {
		return nilID, err
	}
	ix.innerCount++
	return id, nil
}

// unlinkAndDisposeLeaf removes a leaf from the sibling chain and parks
// it on the freelist, preserving its former prev/next ids so a stale
// Iterator can resynchronise instead of reading recycled memory.
func (ix *Index[T, K]) unlinkAndDisposeLeaf(id pagealloc.BlockId) error {
	_, lv := ix.leafBuf(head, id)
	if lv.prev != nilID {
		pbuf, err := ix.alloc.Touch(lv.prev)
		if err != nil {
			return err
		}
		pv := decodeLeaf(pbuf)
		pv.next = lv.next
		encodeLeafHeader(pbuf, pv)
	} else {
		ix.firstLeaf = lv.next
	}
	if lv.next != nilID {
		nbuf, err := ix.alloc.Touch(lv.next)
		if err != nil {
			return err
		}
		nv := decodeLeaf(nbuf)
		nv.prev = lv.prev
		encodeLeafHeader(nbuf, nv)
	} else {
		ix.lastLeaf = lv.prev
	}
	wbuf, err := ix.alloc.Touch(id)
	if err != nil {
		return err
	}
	encodeGarbage(wbuf, garbageView{next: ix.freeHead, formerPrev: lv.prev, formerNext: lv.next})
	ix.freeHead = id
	ix.leafCount--
	ix.garbageCount++
	return nil
}

// disposeInner parks an inner block on the freelist.
func (ix *Index[T, K]) disposeInner(id pagealloc.BlockId) error {
	wbuf, err := ix.alloc.Touch(id)
	if err != nil {
		return err
	}
	encodeGarbage(wbuf, garbageView{next: ix.freeHead, formerPrev: nilID, formerNext: nilID})
	ix.freeHead = id
	ix.innerCount--
	ix.garbageCount++
	return nil
}

func (ix *Index[T, K]) leafBuf(v pagealloc.VersionID, id pagealloc.BlockId) ([]byte, leafView) {
	buf := ix.alloc.Get(v, id)
	return buf, decodeLeaf(buf)
}

func (ix *Index[T, K]) leafElem(buf []byte, i int) T {
	off := leafElemOff(ix.elemSize, i)
	return ix.codec.Decode(buf[off : off+ix.elemSize])
}

func (ix *Index[T, K]) setLeafElem(buf []byte, i int, v T) {
	off := leafElemOff(ix.elemSize, i)
	ix.codec.Encode(buf[off:off+ix.elemSize], v)
}

func (ix *Index[T, K]) innerBuf(v pagealloc.VersionID, id pagealloc.BlockId) ([]byte, innerView) {
	buf := ix.alloc.Get(v, id)
	return buf, decodeInner(buf)
}

func (ix *Index[T, K]) innerSep(buf []byte, i int) T {
	off := ix.layout.sepAt(i)
	return ix.codec.Decode(buf[off : off+ix.elemSize])
}

func (ix *Index[T, K]) setInnerSep(buf []byte, i int, v T) {
	off := ix.layout.sepAt(i)
	ix.codec.Encode(buf[off:off+ix.elemSize], v)
}

// leafLowerBound returns the first index i in [0,count) such that
// compareKey(elem[i], key) >= 0, bps_tree's find_bound.
func (ix *Index[T, K]) leafLowerBound(buf []byte, count int, key K) int {
	lo, hi := 0, count
	for lo < hi {
		mid := (lo + hi) / 2
		if ix.cmp.CompareKey(ix.leafElem(buf, mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// leafElemLowerBound is leafLowerBound against a full element instead
// of a key projection.
func (ix *Index[T, K]) leafElemLowerBound(buf []byte, count int, v T) int {
	lo, hi := 0, count
	for lo < hi {
		mid := (lo + hi) / 2
		if ix.cmp.Compare(ix.leafElem(buf, mid), v) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// innerChildFor picks the child to descend into for key: the first
// child whose separator (its subtree max, invariant O1) is not less
// than key, or the last child when key exceeds every separator.
func (ix *Index[T, K]) innerChildFor(buf []byte, count int, key K) int {
	lo, hi := 0, count-1
	for lo < hi {
		mid := (lo + hi) / 2
		if ix.cmp.CompareKey(ix.innerSep(buf, mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (ix *Index[T, K]) innerChildForElem(buf []byte, count int, v T) int {
	lo, hi := 0, count-1
	for lo < hi {
		mid := (lo + hi) / 2
		if ix.cmp.Compare(ix.innerSep(buf, mid), v) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (ix *Index[T, K]) shiftLeafRight(buf []byte, from, count int) {
	for i := count; i > from; i-- {
		copy(buf[leafElemOff(ix.elemSize, i):], buf[leafElemOff(ix.elemSize, i-1):leafElemOff(ix.elemSize, i)])
	}
}

func (ix *Index[T, K]) shiftLeafLeft(buf []byte, from, count int) {
	for i := from; i < count-1; i++ {
		copy(buf[leafElemOff(ix.elemSize, i):], buf[leafElemOff(ix.elemSize, i+1):leafElemOff(ix.elemSize, i+2)])
	}
}

// shiftInnerRight opens up one free (separator, child) slot at index
// by moving every entry at position >= index up by one.
func (ix *Index[T, K]) shiftInnerRight(buf []byte, index, count int) {
	for i := count; i > index; i-- {
		copy(buf[ix.layout.sepAt(i):], buf[ix.layout.sepAt(i-1):ix.layout.sepAt(i)])
		ix.layout.setChild(buf, i, ix.layout.child(buf, i-1))
		if ix.mode == PerChildCards {
			ix.layout.setChildCard(buf, i, ix.layout.childCard(buf, i-1))
		}
	}
}

// removeInnerChildAt deletes the entry at index (its separator and
// child) from an inner block in place, shifting every later entry
// down by one and re-encoding the header.
func (ix *Index[T, K]) removeInnerChildAt(buf []byte, count, index int) {
	for i := index; i < count-1; i++ {
		copy(buf[ix.layout.sepAt(i):], buf[ix.layout.sepAt(i+1):ix.layout.sepAt(i+2)])
		ix.layout.setChild(buf, i, ix.layout.child(buf, i+1))
		if ix.mode == PerChildCards {
			ix.layout.setChildCard(buf, i, ix.layout.childCard(buf, i+1))
		}
	}
	hv := decodeInner(buf)
	hv.count--
	encodeInnerHeader(buf, hv)
}

// pathEntry records one step of a root-to-leaf descent: the inner
// block visited and the child index taken out of it.
type pathEntry struct {
	id    pagealloc.BlockId
	index int
}

// descendElem walks from the root to the leaf that contains (or would
// contain) v, recording the inner-block path so mutators can walk
// back up.
func (ix *Index[T, K]) descendElem(v T) ([]pathEntry, pagealloc.BlockId) {
	path := make([]pathEntry, 0, ix.depth)
	id := ix.root
	for level := ix.depth; level > 1; level-- {
		buf, hv := ix.innerBuf(head, id)
		i := ix.innerChildForElem(buf, int(hv.count), v)
		path = append(path, pathEntry{id: id, index: i})
		id = ix.layout.child(buf, i)
	}
	return path, id
}

func (ix *Index[T, K]) descendKey(key K) pagealloc.BlockId {
	id := ix.root
	for level := ix.depth; level > 1; level-- {
		buf, hv := ix.innerBuf(head, id)
		i := ix.innerChildFor(buf, int(hv.count), key)
		id = ix.layout.child(buf, i)
	}
	return id
}

// fixAncestorSeps overwrites, for each recorded ancestor from the
// bottom up, the separator of the child the path went through with m
// (the new max of that subtree), stopping at the first ancestor where
// that child is not the last one; above that point the subtree max is
// unchanged. This is the walk bps_tree does through its per-level
// max_elem_copy pointers.
func (ix *Index[T, K]) fixAncestorSeps(path []pathEntry, m T) error {
	for i := len(path) - 1; i >= 0; i-- {
		buf, err := ix.alloc.Touch(path[i].id)
		if err != nil {
			return err
		}
		hv := decodeInner(buf)
		ix.setInnerSep(buf, path[i].index, m)
		if path[i].index != int(hv.count)-1 {
			break
		}
	}
	return nil
}

// bumpPathCards adjusts every inner block's cardinality metadata
// along the recorded path by delta. Mutators call this before any
// structural rearrangement, so that the window machinery can read
// already-correct subtree counts when it recomputes parent entries.
func (ix *Index[T, K]) bumpPathCards(path []pathEntry, delta int64) error {
	if ix.mode == NoCardinality {
		return nil
	}
	for _, pe := range path {
		buf, err := ix.alloc.Touch(pe.id)
		if err != nil {
			return err
		}
		if ix.mode == BlockTotal {
			hv := decodeInner(buf)
			hv.blockCard = uint64(int64(hv.blockCard) + delta)
			encodeInnerHeader(buf, hv)
		} else {
			cur := ix.layout.childCard(buf, pe.index)
			ix.layout.setChildCard(buf, pe.index, uint64(int64(cur)+delta))
		}
	}
	return nil
}

// Find returns the first element exactly matching key, per CompareKey
// (bps_tree_find).
func (ix *Index[T, K]) Find(key K) (T, bool) {
	var zero T
	if ix.root == nilID {
		return zero, false
	}
	id := ix.descendKey(key)
	buf, lv := ix.leafBuf(head, id)
	i := ix.leafLowerBound(buf, int(lv.count), key)
	if i < int(lv.count) && ix.cmp.CompareKey(ix.leafElem(buf, i), key) == 0 {
		return ix.leafElem(buf, i), true
	}
	return zero, false
}

// LowerBound returns an iterator positioned at the first element not
// less than key, plus whether that element compares equal to key.
func (ix *Index[T, K]) LowerBound(key K) (*Iterator[T, K], bool) {
	if ix.root == nilID {
		return &Iterator[T, K]{ix: ix, leaf: nilID}, false
	}
	id := ix.descendKey(key)
	buf, lv := ix.leafBuf(head, id)
	i := ix.leafLowerBound(buf, int(lv.count), key)
	if i >= int(lv.count) {
		// key exceeds the tree max; the descent ends at the last leaf.
		return &Iterator[T, K]{ix: ix, leaf: nilID}, false
	}
	exact := ix.cmp.CompareKey(ix.leafElem(buf, i), key) == 0
	return &Iterator[T, K]{ix: ix, leaf: id, pos: i}, exact
}

// UpperBound returns an iterator positioned at the first element
// strictly greater than key, plus whether an element equal to key
// exists in the tree.
func (ix *Index[T, K]) UpperBound(key K) (*Iterator[T, K], bool) {
	it, exact := ix.LowerBound(key)
	if exact {
		for {
			v, ok := it.Peek()
			if !ok || ix.cmp.CompareKey(v, key) != 0 {
				break
			}
			it.Next()
		}
	}
	return it, exact
}

// Max returns the tree's largest element, read off the last leaf.
func (ix *Index[T, K]) Max() (T, bool) {
	var zero T
	if ix.lastLeaf == nilID {
		return zero, false
	}
	buf, lv := ix.leafBuf(head, ix.lastLeaf)
	if lv.count == 0 {
		return zero, false
	}
	return ix.leafElem(buf, int(lv.count)-1), true
}

// Min returns the tree's smallest element, read off the first leaf.
func (ix *Index[T, K]) Min() (T, bool) {
	var zero T
	if ix.firstLeaf == nilID {
		return zero, false
	}
	buf, lv := ix.leafBuf(head, ix.firstLeaf)
	if lv.count == 0 {
		return zero, false
	}
	return ix.leafElem(buf, 0), true
}

// Random returns a uniformly-ish sampled live element, chosen by
// descending from the root and picking a child index at each level
// from seed (bps_tree_random). The C version reduces its caller's
// integer into a child index with plain modulus at every level, which
// biases toward earlier children whenever a level's child count does
// not evenly divide the remaining entropy; this reseeds with a
// splitmix64 step between levels instead.
func (ix *Index[T, K]) Random(seed uint64) (T, bool) {
	var zero T
	if ix.size == 0 {
		return zero, false
	}
	s := seed
	id := ix.root
	for level := ix.depth; level > 1; level-- {
		buf, hv := ix.innerBuf(head, id)
		s = splitmix64(s)
		i := int(s % uint64(hv.count))
		id = ix.layout.child(buf, i)
	}
	buf, lv := ix.leafBuf(head, id)
	s = splitmix64(s)
	return ix.leafElem(buf, int(s%uint64(lv.count))), true
}

// splitmix64 is the standard fixed-increment splitmix generator, used
// only to decorrelate Random's per-level child choice from a
// caller-supplied seed; it has no relation to the tree's data layout.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

// evenSplit distributes total over k shares as evenly as possible,
// larger shares first. Every rebalance window writes its blocks with
// these shares; the 2/3 floor (invariant O2) follows from the window
// sizes the callers choose.
func evenSplit(total, k int) []int {
	counts := make([]int, k)
	base, extra := total/k, total%k
	for i := range counts {
		counts[i] = base
		if i < extra {
			counts[i]++
		}
	}
	return counts
}
