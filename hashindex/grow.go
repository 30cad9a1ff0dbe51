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

package hashindex

import (
	"github.com/pkg/errors"

	"github.com/coredbio/memidx/pagealloc"
)

// ensureCapacity grows the table by one cluster when every slot of
// the current table is spoken for: count >= tableSize * slots per
// cluster, the same trigger light_insert uses.
func (t *Table[V, K]) ensureCapacity() error {
	if t.tableSize == 0 {
		id, err := t.alloc.Alloc()
		if err != nil {
			return errors.Wrap(ErrOutOfMemory, err.Error())
		}
		if id != 0 {
			panic(programmingError("first cluster landed on block %d; the table needs a fresh allocator to itself", uint32(id)))
		}
		buf, err := t.alloc.Touch(id)
		if err != nil {
			return err
		}
		encodeCluster(buf, cluster{})
		t.tableSize = 1
		return nil
	}
	if t.count >= t.tableSize*clustersPerSlot {
		return t.grow()
	}
	return nil
}

// grow appends one cluster, splitting an existing cluster per
// light_grow: the new cluster's home-eligible slots are carved out of
// the cluster that used to own them under the old cover, and any
// slot further down that cluster's overflow chain whose home now
// resolves to the new cluster is relocated too.
func (t *Table[V, K]) grow() error {
	var toOverflow bool
	if t.tableSize > 1 {
		last := t.clusterRO(t.tableSize - 1)
		toOverflow = last.overflowed()
	}

	id, err := t.alloc.Alloc()
	if err != nil {
		return errors.Wrap(ErrOutOfMemory, err.Error())
	}
	toIdx := uint32(id)
	if toIdx != t.tableSize {
		// Cluster indexes are block ids; interleaving another index's
		// allocations on the same allocator breaks that equality.
		panic(programmingError("grow: allocator returned block %d, want cluster %d; the table needs the allocator to itself", toIdx, t.tableSize))
	}

	if t.coverMask < t.tableSize {
		t.coverMask = (t.coverMask << 1) | 1
	}
	t.tableSize++

	splitIdx := toIdx & (t.coverMask >> 1)
	splitC, splitBuf, err := t.clusterRW(splitIdx)
	if err != nil {
		return err
	}
	var toC cluster
	for pos := 0; pos < clustersPerSlot; pos++ {
		if !splitC.occupied(pos) {
			continue
		}
		if home(splitC.hash[pos], t.tableSize, t.coverMask) != toIdx {
			continue
		}
		toC.set(pos, splitC.hash[pos], splitC.data[pos], false)
		splitC.clear(pos)
	}
	toC.setOverflow(toOverflow)
	encodeCluster(splitBuf, splitC)
	toBuf, err := t.alloc.Touch(pagealloc.BlockId(toIdx))
	if err != nil {
		return err
	}
	encodeCluster(toBuf, toC)
	if splitC.hasHomeHere() {
		// nothing left on the chain up to splitIdx needs clearing.
	} else {
		t.clearOverflowBackward(splitIdx)
	}

	// Re-walk the chain starting past splitIdx: slots that reached a
	// later cluster only by overflowing through splitIdx, but whose
	// home now resolves to the new cluster, must relocate there.
	probeIdx := splitIdx
	for {
		cur := t.clusterRO(probeIdx)
		if !cur.overflowed() {
			break
		}
		probeIdx = nextSlot(probeIdx, t.tableSize)
		if probeIdx == toIdx {
			break
		}
		curC, curBuf, err := t.clusterRW(probeIdx)
		if err != nil {
			return err
		}
		moved := false
		for pos := 0; pos < clustersPerSlot; pos++ {
			if !curC.occupied(pos) || !curC.chained(pos) {
				continue
			}
			if home(curC.hash[pos], t.tableSize, t.coverMask) != toIdx {
				continue
			}
			h, v := curC.hash[pos], curC.data[pos]
			curC.clear(pos)
			moved = true
			if err := t.relocateInto(toIdx, h, v); err != nil {
				return err
			}
		}
		if moved {
			encodeCluster(curBuf, curC)
			if !curC.hasHomeHere() {
				t.clearOverflowBackward(probeIdx)
			}
		}
	}
	return nil
}

// relocateInto inserts (hash, value) starting its probe at startIdx,
// which the caller has already established is its home cluster under
// the current cover.
func (t *Table[V, K]) relocateInto(startIdx uint32, hash uint32, value uint64) error {
	idx := startIdx
	c, buf, err := t.clusterRW(idx)
	if err != nil {
		return err
	}
	chain := false
	for c.full() {
		c.setOverflow(true)
		encodeCluster(buf, c)
		chain = true
		idx = nextSlot(idx, t.tableSize)
		c, buf, err = t.clusterRW(idx)
		if err != nil {
			return err
		}
	}
	pos := c.firstFree()
	c.set(pos, hash, value, chain)
	encodeCluster(buf, c)
	return nil
}

// clearOverflowBackward walks backward from fromIdx clearing overflow
// bits that no longer have any occupied slot depending on them,
// shared by Erase and grow's chain re-walk (light_delete's tail
// cleanup).
func (t *Table[V, K]) clearOverflowBackward(fromIdx uint32) {
	cur := fromIdx
	for {
		// prev's overflow bit is still needed while cur holds a chained
		// slot or passes a chain on to later clusters.
		c := t.clusterRO(cur)
		if c.overflowed() {
			return
		}
		for pos := 0; pos < clustersPerSlot; pos++ {
			if c.occupied(pos) && c.chained(pos) {
				return
			}
		}
		prev := prevSlot(cur, t.tableSize)
		pc, pbuf, err := t.clusterRW(prev)
		if err != nil {
			return
		}
		if !pc.overflowed() {
			return
		}
		pc.setOverflow(false)
		encodeCluster(pbuf, pc)
		cur = prev
	}
}
