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
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/pkg/errors"
)

// SelfCheck walks every cluster and verifies the table's structural
// invariants (light_selfcheck): probe chains reach every occupied
// slot from its home, stored hints match hash low bits, the occupied
// popcount matches count, and the cover mask is a sane power-of-two
// cover of the table. Returns a descriptive error on the first
// violation found rather than tarantool's bitmask of failed checks.
func (t *Table[V, K]) SelfCheck() error {
	occ := roaring.New()
	var total uint32
	for idx := uint32(0); idx < t.tableSize; idx++ {
		c := t.clusterRO(idx)
		for pos := 0; pos < clustersPerSlot; pos++ {
			if !c.occupied(pos) {
				continue
			}
			total++
			occ.Add(idx*clustersPerSlot + uint32(pos))

			hint := (c.flags >> slotShift(pos)) & 0xF
			if want := c.hash[pos] & 0xF; hint != want {
				return errors.Errorf("hashindex: selfcheck(H3): slot %d hint %#x != hash low bits %#x", idx*clustersPerSlot+uint32(pos), hint, want)
			}

			h := home(c.hash[pos], t.tableSize, t.coverMask)
			wantChain := h != idx
			if wantChain != c.chained(pos) {
				return errors.Errorf("hashindex: selfcheck(H1): slot %d home=%d cluster=%d chain=%v", idx*clustersPerSlot+uint32(pos), h, idx, c.chained(pos))
			}
			for cur := h; cur != idx; cur = nextSlot(cur, t.tableSize) {
				if !t.clusterRO(cur).overflowed() {
					return errors.Errorf("hashindex: selfcheck(H1): probe chain from home %d breaks before reaching cluster %d", h, idx)
				}
			}
		}
	}
	if got, want := occ.GetCardinality(), uint64(t.count); got != want {
		return errors.Errorf("hashindex: selfcheck(H2): popcount(occupied)=%d != count=%d", got, want)
	}
	if total != t.count {
		return errors.Errorf("hashindex: selfcheck(H2): scanned occupied slots=%d != count=%d", total, t.count)
	}
	if t.tableSize > 0 {
		cover := t.coverMask + 1
		if t.coverMask&cover != 0 {
			return errors.Errorf("hashindex: selfcheck(H4): cover_mask+1=%d is not a power of two", cover)
		}
		if cover < t.tableSize {
			return errors.Errorf("hashindex: selfcheck(H4): cover %d < table_size %d", cover, t.tableSize)
		}
		if cover/2 >= t.tableSize {
			return errors.Errorf("hashindex: selfcheck(H4): cover/2 %d >= table_size %d", cover/2, t.tableSize)
		}
	}
	return nil
}
