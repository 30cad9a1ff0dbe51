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

// Package pagealloc implements a 3-level paged block allocator: stable
// 32-bit block identifiers, O(1) id-to-address translation, and
// per-extent copy-on-write so a writable head and any number of frozen
// read-views can share the same address space cheaply.
//
// It is a port of tarantool's matras ("Memory Address TRanslation
// Allocator"); see small/matras.c and small/matras.h in the tarantool
// source tree. The C implementation
// steals the low bits of extent pointers to store an owner-version
// bitmap; this port promotes that pair into an explicit struct field
// instead, since Go slices are not taggable pointers.
package pagealloc

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"github.com/go-stack/stack"
	"github.com/pkg/errors"

	xmath "github.com/coredbio/memidx/common/math"
)

// BlockId is a stable 32-bit identifier for a block. It survives
// copy-on-write: the same id always resolves to "the current contents
// of that block" for whichever version resolves it.
type BlockId uint32

// NilBlockID is the reserved value denoting NIL / end-of-sequence.
const NilBlockID BlockId = 0xFFFFFFFF

// String renders id for log lines and test failure messages.
func (id BlockId) String() string {
	if id == NilBlockID {
		return "nil"
	}
	return xmath.FormatID(uint32(id))
}

// VersionID names a live read-view. VersionID 0 is always the
// writable head.
type VersionID uint8

// HeadVersion is the single writable version.
const HeadVersion VersionID = 0

// VersionCount bounds the number of concurrent versions (the head
// plus VersionCount-1 snapshots), matching MATRAS_VERSION_COUNT in the
// source. The owner-set bitmap is a uint8, so this cannot exceed 8.
const VersionCount = 8

const wordSize = 8 // conceptual pointer width used for the fan-out math, see matras_create

// ExtentSource is the caller-supplied pair of callbacks through which
// the allocator obtains and releases fixed-size extents, matras's
// injected alloc_func/free_func pair. Alloc must return a slice of
// exactly the configured extent size, or an error; Free releases a
// slice previously returned by Alloc.
type ExtentSource interface {
	Alloc() ([]byte, error)
	Free([]byte)
}

// ErrOutOfMemory is returned (possibly wrapped) when the extent
// source fails to produce a new extent.
var ErrOutOfMemory = errors.New("pagealloc: out of memory")

// ErrNoVersionsAvailable is returned when CreateReadView is called
// while VersionCount-1 snapshots are already live.
var ErrNoVersionsAvailable = errors.New("pagealloc: no versions available")

// ProgrammingError panics carry a captured call stack so a misused
// BlockId/VersionID is easy to trace back to its call site; they are
// only ever raised in debug-assertion paths.
type ProgrammingError struct {
	Msg   string
	Stack stack.CallStack
}

func (e *ProgrammingError) Error() string {
	return fmt.Sprintf("pagealloc: programming error: %s\n%s", e.Msg, e.Stack)
}

func programmingError(format string, args ...interface{}) error {
	return &ProgrammingError{Msg: fmt.Sprintf(format, args...), Stack: stack.Trace().TrimRuntime()}
}

// Config configures a new Allocator. ExtentSize and BlockSize must be
// powers of two, BlockSize <= ExtentSize, and ExtentSize must exceed
// the conceptual pointer width used for the page-table fan-out.
type Config struct {
	ExtentSize datasize.ByteSize
	BlockSize  datasize.ByteSize
	Source     ExtentSource
}

// DefaultConfig picks an extent size proportional to total system
// memory (capped at a sane upper bound) and a 4 KiB block size, the
// same memory-aware default-sizing approach erigon uses elsewhere via
// github.com/pbnjay/memory. Callers needing deterministic sizes for
// tests should build a Config explicitly instead.
func DefaultConfig(source ExtentSource) Config {
	const minExtent = 64 * 1024
	const maxExtent = 4 * 1024 * 1024
	extent := uint64(minExtent)
	if total := totalSystemMemory(); total > 0 {
		candidate := total / 4096
		for extent < candidate && extent < maxExtent {
			extent <<= 1
		}
	}
	if extent > maxExtent {
		extent = maxExtent
	}
	return Config{
		ExtentSize: datasize.ByteSize(extent),
		BlockSize:  4096,
		Source:     source,
	}
}

// extentNode is one node of the 3-level page table. Internal nodes
// (level 1 and level 2, in matras terms "extent1"/"extent2") carry
// children, a fan-out array of pointers to the next level; leaf nodes
// (level 3, "extent3") carry raw, the actual block storage obtained
// from the ExtentSource. Every node, internal or leaf, is backed by
// one ExtentSource.Alloc() call, so ExtentCount/Stats accounts for the
// whole page-table tree, not just leaf storage (see matras_extents_count).
//
// owners is the single source of truth for the owner-set bitmap
// (invariant I1). The C source denormalizes this bitmap into every
// incoming pointer word and must keep every copy in sync on COW; here
// a shared Go pointer to the same *extentNode makes that unnecessary.
type extentNode struct {
	owners   uint8
	raw      []byte
	children []*extentNode // nil for leaf (level-3) nodes
	debugID  uint32
}

func (n *extentNode) isLeaf() bool { return n.children == nil }

// Allocator is a 3-level paged block allocator with copy-on-write
// read-views. See the package doc.
type Allocator struct {
	source ExtentSource

	extentSize uint32
	blockSize  uint32

	shift1, shift2 uint32
	mask1, mask2   uint32
	log2Capacity   uint32

	recordsPerExtent uint32
	blocksPerExtent  uint32

	roots       [VersionCount]*extentNode
	blockCounts [VersionCount]uint32
	verOccMask  uint8 // bit 0 (head) is always set

	reserve     [][]byte
	liveExtents uint32
	nextDebugID uint32
}

// New creates an empty allocator. No memory is allocated until the
// first Alloc call, matching matras_create.
func New(cfg Config) (*Allocator, error) {
	E := uint32(cfg.ExtentSize)
	B := uint32(cfg.BlockSize)
	if !xmath.IsPowerOfTwo(E) {
		return nil, programmingError("extent size %d is not a power of two", E)
	}
	if !xmath.IsPowerOfTwo(B) {
		return nil, programmingError("block size %d is not a power of two", B)
	}
	if B > E {
		return nil, programmingError("block size %d exceeds extent size %d", B, E)
	}
	if E <= wordSize {
		return nil, programmingError("extent size %d must exceed word size %d", E, wordSize)
	}
	if cfg.Source == nil {
		return nil, programmingError("Config.Source must not be nil")
	}

	log1 := xmath.Log2(E)
	log2v := xmath.Log2(B)
	log3 := xmath.Log2(wordSize)

	a := &Allocator{
		source:           cfg.Source,
		extentSize:       E,
		blockSize:        B,
		shift1:           log1*2 - log2v - log3,
		shift2:           log1 - log2v,
		log2Capacity:     log1*3 - log2v - log3*2,
		recordsPerExtent: E / wordSize,
		blocksPerExtent:  E / B,
		verOccMask:       1,
	}
	a.mask1 = (uint32(1) << a.shift1) - 1
	a.mask2 = (uint32(1) << a.shift2) - 1
	return a, nil
}

// split decomposes a BlockId into its three page-table indices, the
// same shift/mask slicing matras_create derives from the extent and
// block sizes.
func (a *Allocator) split(id uint32) (n1, n2, n3 uint32) {
	n1 = id >> a.shift1
	n2 = (id & a.mask1) >> a.shift2
	n3 = id & a.mask2
	return
}

func (a *Allocator) takeRaw() ([]byte, error) {
	if n := len(a.reserve); n > 0 {
		raw := a.reserve[n-1]
		a.reserve = a.reserve[:n-1]
		return raw, nil
	}
	raw, err := a.source.Alloc()
	if err != nil {
		return nil, errors.Wrap(ErrOutOfMemory, err.Error())
	}
	if uint32(len(raw)) != a.extentSize {
		return nil, programmingError("ExtentSource.Alloc returned %d bytes, want %d", len(raw), a.extentSize)
	}
	return raw, nil
}

func (a *Allocator) newNode(leaf bool) (*extentNode, error) {
	raw, err := a.takeRaw()
	if err != nil {
		return nil, err
	}
	a.liveExtents++
	a.nextDebugID++
	n := &extentNode{owners: 1, raw: raw, debugID: a.nextDebugID}
	if !leaf {
		n.children = make([]*extentNode, a.recordsPerExtent)
	}
	return n, nil
}

func (a *Allocator) cloneNode(old *extentNode) (*extentNode, error) {
	raw, err := a.takeRaw()
	if err != nil {
		return nil, err
	}
	copy(raw, old.raw)
	a.liveExtents++
	a.nextDebugID++
	n := &extentNode{owners: 1, raw: raw, debugID: a.nextDebugID}
	if !old.isLeaf() {
		n.children = make([]*extentNode, len(old.children))
		copy(n.children, old.children)
	}
	return n, nil
}

func (a *Allocator) freeNode(n *extentNode) {
	a.source.Free(n.raw)
	a.liveExtents--
}

// BlockCount returns the number of blocks allocated as of version v.
func (a *Allocator) BlockCount(v VersionID) uint32 {
	return a.blockCounts[v]
}

// BlockSize returns the configured block size in bytes, so a layer
// built atop the allocator (ordered.Index, hashindex.Table) can size
// its own on-disk layout without duplicating Config.
func (a *Allocator) BlockSize() uint32 {
	return a.blockSize
}

// ExtentCount returns the number of live extents across every level
// and every live version, matching matras_extents_count's accounting
// but maintained incrementally rather than recomputed on demand.
func (a *Allocator) ExtentCount() uint32 {
	return a.liveExtents
}

// LiveVersions returns the bitmap of currently live versions; bit 0
// (the head) is always set.
func (a *Allocator) LiveVersions() uint8 {
	return a.verOccMask
}

// Destroy frees every extent reachable from every live version
// (matras_destroy).
func (a *Allocator) Destroy() {
	visited := make(map[*extentNode]struct{})
	for v := VersionID(0); v < VersionCount; v++ {
		if a.verOccMask&(1<<v) == 0 {
			continue
		}
		root := a.roots[v]
		count := a.blockCounts[v]
		if root == nil || count == 0 {
			continue
		}
		visited[root] = struct{}{}
		for j := uint32(0); j < count; j += a.blocksPerExtent {
			n1 := j >> a.shift1
			l2 := root.children[n1]
			if l2 == nil {
				continue
			}
			visited[l2] = struct{}{}
			n2 := (j & a.mask1) >> a.shift2
			if leaf := l2.children[n2]; leaf != nil {
				visited[leaf] = struct{}{}
			}
		}
	}
	for node := range visited {
		a.source.Free(node.raw)
	}
	for _, raw := range a.reserve {
		a.source.Free(raw)
	}
	a.reserve = nil
	for v := range a.roots {
		a.roots[v] = nil
		a.blockCounts[v] = 0
	}
	a.verOccMask = 1
	a.liveExtents = 0
}
