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

package pagealloc

import "github.com/pkg/errors"

const headBit = uint8(1) << HeadVersion

// Alloc grows the head by one block and returns its id. On failure
// the allocator is left exactly as it was before the call (matras's
// "rollback the partial extent chain" contract).
func (a *Allocator) Alloc() (BlockId, error) {
	id := a.blockCounts[0]
	n1 := id >> a.shift1
	n2 := (id & a.mask1) >> a.shift2

	root := a.roots[0]
	allocatedRoot := false
	if root == nil {
		var err error
		root, err = a.newNode(false)
		if err != nil {
			return NilBlockID, errors.Wrap(err, "pagealloc: alloc root extent")
		}
		a.roots[0] = root
		allocatedRoot = true
	}

	l2 := root.children[n1]
	allocatedL2 := false
	if l2 == nil {
		var err error
		l2, err = a.newNode(false)
		if err != nil {
			if allocatedRoot {
				a.freeNode(root)
				a.roots[0] = nil
			}
			return NilBlockID, errors.Wrap(err, "pagealloc: alloc level-2 extent")
		}
		root.children[n1] = l2
		allocatedL2 = true
	}

	if leaf := l2.children[n2]; leaf == nil {
		newLeaf, err := a.newNode(true)
		if err != nil {
			if allocatedL2 {
				a.freeNode(l2)
				root.children[n1] = nil
			}
			if allocatedRoot {
				a.freeNode(root)
				a.roots[0] = nil
			}
			return NilBlockID, errors.Wrap(err, "pagealloc: alloc leaf extent")
		}
		l2.children[n2] = newLeaf
	}

	a.blockCounts[0]++
	return BlockId(id), nil
}

// AllocRange allocates n contiguous new block ids in one call,
// amortizing extent growth over the whole range instead of paying
// per-block bookkeeping (matras_alloc_range). The range must evenly
// divide an extent's block capacity and the current head block count
// must be a multiple of n; together these pin the whole range inside
// the one leaf extent the initial Alloc materializes, the same
// contract matras_alloc_range asserts.
func (a *Allocator) AllocRange(n uint32) (BlockId, error) {
	if n == 0 || n > a.blocksPerExtent || a.blocksPerExtent%n != 0 {
		return NilBlockID, programmingError("AllocRange: n=%d must evenly divide the extent block capacity %d", n, a.blocksPerExtent)
	}
	if a.blockCounts[0]%n != 0 {
		return NilBlockID, programmingError("AllocRange: block count %d is not aligned to range size %d", a.blockCounts[0], n)
	}
	first, err := a.Alloc()
	if err != nil {
		return NilBlockID, err
	}
	a.blockCounts[0] += n - 1
	return first, nil
}

// Dealloc shrinks the head by one block, freeing any extent left
// empty at any level. The caller must have already called Touch on
// the block being removed so the path to it is head-exclusive;
// Dealloc does not do this itself, same as matras_dealloc.
func (a *Allocator) Dealloc() {
	if a.blockCounts[0] == 0 {
		panic(programmingError("Dealloc: head has no blocks"))
	}
	newCount := a.blockCounts[0] - 1
	a.blockCounts[0] = newCount

	n1 := newCount >> a.shift1
	rem := newCount & a.mask1
	n2 := rem >> a.shift2
	n3 := rem & a.mask2

	if n3 != 0 {
		return
	}
	root := a.roots[0]
	l2 := root.children[n1]
	leaf := l2.children[n2]
	a.freeNode(leaf)
	l2.children[n2] = nil

	if n2 != 0 {
		return
	}
	a.freeNode(l2)
	root.children[n1] = nil

	if n1 != 0 {
		return
	}
	a.freeNode(root)
	a.roots[0] = nil
}

// DeallocRange is the inverse of AllocRange (matras_dealloc_range).
func (a *Allocator) DeallocRange(n uint32) {
	if n == 0 || n > a.blockCounts[0] {
		panic(programmingError("DeallocRange: n=%d out of range", n))
	}
	for i := uint32(0); i < n; i++ {
		a.Dealloc()
	}
}

// NeedsTouch reports whether Touch(id) would have to copy-on-write,
// i.e. whether the block's extent is shared with any snapshot.
func (a *Allocator) NeedsTouch(id BlockId) bool {
	n1, n2, _ := a.split(uint32(id))
	leaf := a.roots[0].children[n1].children[n2]
	return leaf.owners != headBit
}

// Get returns the block's current bytes as seen by version v. The
// returned slice aliases the allocator's storage and is only stable
// until the next Touch of the same block under version v.
func (a *Allocator) Get(v VersionID, id BlockId) []byte {
	n1, n2, n3 := a.split(uint32(id))
	root := a.roots[v]
	l2 := root.children[n1]
	leaf := l2.children[n2]
	off := n3 * a.blockSize
	return leaf.raw[off : off+a.blockSize]
}

// Touch returns a writable view of block id for the head, copying
// the extent chain down to the leaf if any extent along the path is
// still shared with a live snapshot. matras_touch duplicates in the
// same order, root extent first, then level-2, then the leaf, which
// keeps every snapshot's path intact without walking it.
func (a *Allocator) Touch(id BlockId) ([]byte, error) {
	n1, n2, n3 := a.split(uint32(id))

	root := a.roots[0]
	l2 := root.children[n1]
	leaf := l2.children[n2]

	if leaf.owners == headBit {
		off := n3 * a.blockSize
		return leaf.raw[off : off+a.blockSize], nil
	}

	if root.owners != headBit {
		newRoot, err := a.cloneNode(root)
		if err != nil {
			return nil, errors.Wrap(err, "pagealloc: touch root extent")
		}
		root.owners &^= headBit
		a.roots[0] = newRoot
		root = newRoot
		l2 = root.children[n1]
	}

	if l2.owners != headBit {
		newL2, err := a.cloneNode(l2)
		if err != nil {
			return nil, errors.Wrap(err, "pagealloc: touch level-2 extent")
		}
		l2.owners &^= headBit
		root.children[n1] = newL2
		l2 = newL2
		leaf = l2.children[n2]
	}

	newLeaf, err := a.cloneNode(leaf)
	if err != nil {
		return nil, errors.Wrap(err, "pagealloc: touch leaf extent")
	}
	leaf.owners &^= headBit
	l2.children[n2] = newLeaf

	off := n3 * a.blockSize
	return newLeaf.raw[off : off+a.blockSize], nil
}

// TouchReserve pre-charges the allocator so that it holds at least n
// spare extents, which later Touch/Alloc calls take before asking the
// ExtentSource, letting a multi-block mutation (e.g. a tree-node
// split) avoid partial-failure rollback (matras_touch_reserve). The
// reserve is counted in extents, not calls: one Touch or Alloc takes
// up to three (root, level-2, leaf) and many take none, so n extents
// cover fewer than n calls when every call needs a fresh path.
func (a *Allocator) TouchReserve(n int) error {
	for len(a.reserve) < n {
		raw, err := a.source.Alloc()
		if err != nil {
			return errors.Wrap(ErrOutOfMemory, err.Error())
		}
		if uint32(len(raw)) != a.extentSize {
			return programmingError("ExtentSource.Alloc returned %d bytes, want %d", len(raw), a.extentSize)
		}
		a.reserve = append(a.reserve, raw)
	}
	return nil
}

// ReserveCount returns the number of spare extents currently held by
// TouchReserve.
func (a *Allocator) ReserveCount() int {
	return len(a.reserve)
}
