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

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/pkg/errors"
)

// Stats is a point-in-time snapshot of allocator bookkeeping. Callers
// may inspect but must not mutate the returned value's backing state
// (it is a copy, so mutation is harmless but pointless).
type Stats struct {
	ExtentCount  uint32
	BlockCounts  [VersionCount]uint32
	LiveVersions uint8
}

// Stats returns a snapshot of the allocator's current bookkeeping,
// used by pstats to populate Prometheus gauges.
func (a *Allocator) Stats() Stats {
	return Stats{
		ExtentCount:  a.liveExtents,
		BlockCounts:  a.blockCounts,
		LiveVersions: a.verOccMask,
	}
}

// SelfCheck walks every live version's page table and verifies
// invariant I1 ("the owner set of every extent reachable from a live
// version's table contains that version") and cross-checks the total
// count of distinct reachable extents against ExtentCount. It
// corresponds to matras_debug_selfcheck, returning a descriptive error
// instead of matras's bitmask of failed checks.
func (a *Allocator) SelfCheck() error {
	seen := roaring.New()
	for v := VersionID(0); v < VersionCount; v++ {
		if a.verOccMask&(1<<v) == 0 {
			continue
		}
		bit := uint8(1) << v
		root := a.roots[v]
		count := a.blockCounts[v]
		if count == 0 {
			continue
		}
		if root == nil {
			return errors.Errorf("pagealloc: selfcheck: version %d has block count %d but a nil root", v, count)
		}
		if root.owners&bit == 0 {
			return errors.Errorf("pagealloc: selfcheck(I1): root extent reachable from version %d but owners=%#x does not include it", v, root.owners)
		}
		seen.Add(root.debugID)
		for j := uint32(0); j < count; j += a.blocksPerExtent {
			n1 := j >> a.shift1
			l2 := root.children[n1]
			if l2 == nil {
				return errors.Errorf("pagealloc: selfcheck: version %d missing level-2 extent at n1=%d (block count %d)", v, n1, count)
			}
			if l2.owners&bit == 0 {
				return errors.Errorf("pagealloc: selfcheck(I1): level-2 extent at n1=%d reachable from version %d but owners=%#x does not include it", n1, v, l2.owners)
			}
			seen.Add(l2.debugID)
			n2 := (j & a.mask1) >> a.shift2
			leaf := l2.children[n2]
			if leaf == nil {
				return errors.Errorf("pagealloc: selfcheck: version %d missing leaf extent at n1=%d n2=%d", v, n1, n2)
			}
			if leaf.owners&bit == 0 {
				return errors.Errorf("pagealloc: selfcheck(I1): leaf extent at n1=%d n2=%d reachable from version %d but owners=%#x does not include it", n1, n2, v, leaf.owners)
			}
			seen.Add(leaf.debugID)
		}
	}
	if got, want := seen.GetCardinality(), uint64(a.liveExtents); got != want {
		return errors.Errorf("pagealloc: selfcheck: reachable extent count %d does not match ExtentCount %d", got, want)
	}
	return nil
}

func (s Stats) String() string {
	return fmt.Sprintf("Stats{ExtentCount:%d LiveVersions:%#02x BlockCounts:%v}", s.ExtentCount, s.LiveVersions, s.BlockCounts)
}
