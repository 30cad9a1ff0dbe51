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

// Package ordered implements a generic B+*-tree atop pagealloc: point
// lookup, ordered scan in both directions, bulk build, snapshot views,
// and optional per-subtree cardinality metadata for O(log n)
// rank/select.
//
// It is a port of tarantool's bps_tree; see salad/bps_tree.h in the
// tarantool source tree. bps_tree.h
// instantiates one tree per macro-expansion (block size, element type,
// comparator all fixed at preprocessor time); this port turns that
// into a Go generic type parameterized by the element type T, the key
// type K used for keyed lookups, a Comparator, and a Codec describing
// how T is packed into a block's backing bytes.
//
// An overflowing block first tries to shed elements into an immediate
// sibling, then into a sibling two away, and only splits when every
// reachable neighbor is full, rearranging so that every touched block
// lands at two thirds capacity or better. Deletion mirrors that:
// borrow from a sibling, then from two away, and only then empty the
// block into its neighbors and remove it from the parent. Keeping
// blocks at least 2/3 full is the property that distinguishes a
// B+*-tree from a plain B+-tree, and SelfCheck verifies it the same
// way bps_tree_debug_check does: the root is exempt, and so are the
// two children of a 2-entry parent, which instead must be too large to
// merge into one block.
package ordered

import (
	"github.com/pkg/errors"

	"github.com/coredbio/memidx/pagealloc"
)

// Comparator supplies the tri-valued strict weak order the tree never
// assumes for itself, BPS_TREE_COMPARE and BPS_TREE_COMPARE_KEY in
// bps_tree terms. Compare and CompareKey must agree on T-to-T
// reductions.
type Comparator[T any, K any] interface {
	Compare(a, b T) int
	CompareKey(a T, k K) int
}

// Codec describes how an element is packed into a block's backing
// byte slice. Size must be constant for a given Codec instance (T is
// "plain-data-copyable"; the tree moves it with byte-copies).
type Codec[T any] interface {
	Size() int
	Encode(dst []byte, v T)
	Decode(src []byte) T
}

// CardinalityMode selects what, if anything, an inner block stores
// about its children's subtree sizes, bps_tree's BPS_INNER_CHILD_CARDS
// / BPS_INNER_CARD compile-time switches turned into a run-time knob.
type CardinalityMode int

const (
	// NoCardinality maintains no cardinality metadata; only
	// iterator-based scan is supported, no rank/select.
	NoCardinality CardinalityMode = iota
	// PerChildCards stores, in every inner block, the exact element
	// count of every child subtree: O(1) lookup per level on the
	// way down, higher write cost (every block on the insert/delete
	// path updates one counter).
	PerChildCards
	// BlockTotal stores only each inner block's own total element
	// count; computing a child's contribution requires touching
	// that child directly, giving slower rank at lower write cost.
	BlockTotal
)

// ErrOutOfMemory is returned (possibly wrapped) when allocating or
// touching a block fails. Insert/Delete pre-charge the allocator via
// TouchReserve before mutating anything, so on this error the tree is
// unchanged.
var ErrOutOfMemory = errors.New("ordered: out of memory")

// blockTag distinguishes a block's role, bps_tree's bps_block_type.
type blockTag uint8

const (
	tagLeaf blockTag = iota + 1
	tagInner
	tagGarbage
)

// nilID is the shared NIL/end sentinel.
const nilID = pagealloc.NilBlockID
