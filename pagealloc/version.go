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

// CreateReadView freezes the head's current state into a new, named
// version: a read-only snapshot that keeps seeing exactly the blocks
// live at this instant, however the head mutates afterwards. Returns
// ErrNoVersionsAvailable if VersionCount-1 snapshots already exist
// (matras_create_read_view).
func (a *Allocator) CreateReadView() (VersionID, error) {
	var v VersionID = 0
	found := false
	for i := VersionID(1); i < VersionCount; i++ {
		if a.verOccMask&(1<<i) == 0 {
			v = i
			found = true
			break
		}
	}
	if !found {
		return 0, ErrNoVersionsAvailable
	}

	a.verOccMask |= 1 << v
	a.roots[v] = a.roots[0]
	a.blockCounts[v] = a.blockCounts[0]

	root := a.roots[0]
	count := a.blockCounts[0]
	if root == nil || count == 0 {
		return v, nil
	}
	bit := uint8(1) << v
	root.owners |= bit
	for j := uint32(0); j < count; j += a.blocksPerExtent {
		n1 := j >> a.shift1
		l2 := root.children[n1]
		if l2 == nil {
			continue
		}
		l2.owners |= bit
		n2 := (j & a.mask1) >> a.shift2
		if leaf := l2.children[n2]; leaf != nil {
			leaf.owners |= bit
		}
	}
	return v, nil
}

// DestroyReadView releases a snapshot taken by CreateReadView,
// freeing any extent that becomes unreferenced by every remaining
// live version (matras_destroy_read_view).
func (a *Allocator) DestroyReadView(v VersionID) {
	if v == HeadVersion {
		panic(programmingError("DestroyReadView: cannot destroy the head version"))
	}
	bit := uint8(1) << v
	if a.verOccMask&bit == 0 {
		panic(programmingError("DestroyReadView: version %d is not live", v))
	}

	root := a.roots[v]
	count := a.blockCounts[v]
	if root != nil && count > 0 {
		for j := uint32(0); j < count; j += a.blocksPerExtent {
			n1 := j >> a.shift1
			l2 := root.children[n1]
			if l2 == nil {
				continue
			}
			n2 := (j & a.mask1) >> a.shift2
			leaf := l2.children[n2]
			if leaf == nil {
				continue
			}
			leaf.owners &^= bit
			if leaf.owners == 0 {
				a.freeNode(leaf)
				l2.children[n2] = nil
			}
		}
		for j := uint32(0); j < count; j += a.blocksPerExtent * a.recordsPerExtent {
			n1 := j >> a.shift1
			l2 := root.children[n1]
			if l2 == nil {
				continue
			}
			l2.owners &^= bit
			if l2.owners == 0 {
				a.freeNode(l2)
				root.children[n1] = nil
			}
		}
		root.owners &^= bit
		if root.owners == 0 {
			a.freeNode(root)
		}
	}

	a.roots[v] = nil
	a.blockCounts[v] = 0
	a.verOccMask &^= bit
}
