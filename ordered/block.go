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
	"encoding/binary"

	"github.com/coredbio/memidx/pagealloc"
)

// Block headers. Every inner block stores one separator per child,
// including the last -- a storage micro-optimization bps_tree applies
// only to the root (its final separator lives in the tree header's
// max_elem) is generalized away here in exchange for O(1) splits and
// merges; the tree's max element is instead read directly off the
// last leaf (see tree.go, Max).
const (
	leafHeaderSize  = 12 // tag(1) pad(1) count(2) prev(4) next(4)
	innerHeaderSize = 12 // tag(1) pad(1) childCount(2) blockCard(8)
)

const (
	leafOffCount = 2
	leafOffPrev  = 4
	leafOffNext  = 8

	innerOffCount     = 2
	innerOffBlockCard = 4
)

func blockTagOf(buf []byte) blockTag { return blockTag(buf[0]) }

// leafView is a decoded leaf block header; elements are read/written
// directly against the backing buffer via elemSize offsets.
type leafView struct {
	count uint16
	prev  pagealloc.BlockId
	next  pagealloc.BlockId
}

func decodeLeaf(buf []byte) leafView {
	return leafView{
		count: binary.LittleEndian.Uint16(buf[leafOffCount:]),
		prev:  pagealloc.BlockId(binary.LittleEndian.Uint32(buf[leafOffPrev:])),
		next:  pagealloc.BlockId(binary.LittleEndian.Uint32(buf[leafOffNext:])),
	}
}

func encodeLeafHeader(buf []byte, v leafView) {
	buf[0] = byte(tagLeaf)
	binary.LittleEndian.PutUint16(buf[leafOffCount:], v.count)
	binary.LittleEndian.PutUint32(buf[leafOffPrev:], uint32(v.prev))
	binary.LittleEndian.PutUint32(buf[leafOffNext:], uint32(v.next))
}

func leafElemOff(elemSize, i int) int { return leafHeaderSize + i*elemSize }

// innerView is a decoded inner block header. blockCard is only
// meaningful in BlockTotal mode.
type innerView struct {
	count     uint16
	blockCard uint64
}

func decodeInner(buf []byte) innerView {
	return innerView{
		count:     binary.LittleEndian.Uint16(buf[innerOffCount:]),
		blockCard: binary.LittleEndian.Uint64(buf[innerOffBlockCard:]),
	}
}

func encodeInnerHeader(buf []byte, v innerView) {
	buf[0] = byte(tagInner)
	binary.LittleEndian.PutUint16(buf[innerOffCount:], v.count)
	binary.LittleEndian.PutUint64(buf[innerOffBlockCard:], v.blockCard)
}

// innerLayout precomputes byte offsets for an inner block's parallel
// arrays (separators, children, optional per-child cardinalities),
// given the tree's element size, cardinality mode and IMAX.
type innerLayout struct {
	elemSize int
	mode     CardinalityMode
	sepOff   int
	childOff int
	cardOff  int
}

func newInnerLayout(elemSize int, mode CardinalityMode, imax int) innerLayout {
	l := innerLayout{elemSize: elemSize, mode: mode}
	l.sepOff = innerHeaderSize
	l.childOff = l.sepOff + imax*elemSize
	l.cardOff = l.childOff + imax*4
	return l
}

func (l innerLayout) sepAt(i int) int   { return l.sepOff + i*l.elemSize }
func (l innerLayout) childAt(i int) int { return l.childOff + i*4 }
func (l innerLayout) cardAt(i int) int  { return l.cardOff + i*8 }

func (l innerLayout) child(buf []byte, i int) pagealloc.BlockId {
	return pagealloc.BlockId(binary.LittleEndian.Uint32(buf[l.childAt(i):]))
}

func (l innerLayout) setChild(buf []byte, i int, id pagealloc.BlockId) {
	binary.LittleEndian.PutUint32(buf[l.childAt(i):], uint32(id))
}

func (l innerLayout) childCard(buf []byte, i int) uint64 {
	if l.mode != PerChildCards {
		return 0
	}
	return binary.LittleEndian.Uint64(buf[l.cardAt(i):])
}

func (l innerLayout) setChildCard(buf []byte, i int, n uint64) {
	if l.mode != PerChildCards {
		return
	}
	binary.LittleEndian.PutUint64(buf[l.cardAt(i):], n)
}

// garbageView is a freed leaf/inner block parked on the freelist.
// formerPrev/formerNext are only meaningful for a former leaf and let
// a stale iterator resynchronise onto a live sibling.
const (
	garbageOffNext       = 4
	garbageOffFormerPrev = 8
	garbageOffFormerNext = 12
	garbageHeaderSize    = 16
)

type garbageView struct {
	next       pagealloc.BlockId
	formerPrev pagealloc.BlockId
	formerNext pagealloc.BlockId
}

func decodeGarbage(buf []byte) garbageView {
	return garbageView{
		next:       pagealloc.BlockId(binary.LittleEndian.Uint32(buf[garbageOffNext:])),
		formerPrev: pagealloc.BlockId(binary.LittleEndian.Uint32(buf[garbageOffFormerPrev:])),
		formerNext: pagealloc.BlockId(binary.LittleEndian.Uint32(buf[garbageOffFormerNext:])),
	}
}

func encodeGarbage(buf []byte, v garbageView) {
	buf[0] = byte(tagGarbage)
	binary.LittleEndian.PutUint32(buf[garbageOffNext:], uint32(v.next))
	binary.LittleEndian.PutUint32(buf[garbageOffFormerPrev:], uint32(v.formerPrev))
	binary.LittleEndian.PutUint32(buf[garbageOffFormerNext:], uint32(v.formerNext))
}

// deriveCapacities computes LMAX and IMAX so that a full leaf or
// inner block fits within blockSize bytes, the same role
// BPS_TREE_MAX_COUNT_IN_LEAF / BPS_TREE_MAX_COUNT_IN_INNER play in
// bps_tree's macro expansion.
func deriveCapacities(blockSize, elemSize int, mode CardinalityMode) (lmax, imax int) {
	lmax = (blockSize - leafHeaderSize) / elemSize
	if lmax < 3 {
		lmax = 3
	}
	perChild := 4 + elemSize
	if mode == PerChildCards {
		perChild += 8
	}
	imax = (blockSize - innerHeaderSize) / perChild
	if imax < 3 {
		imax = 3
	}
	return lmax, imax
}
