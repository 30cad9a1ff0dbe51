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

// Package kv is a naming and introspection directory for the indexes a
// host engine builds atop pagealloc, ordered and hashindex. It holds
// no data of its own: an OrderedIndex or HashIndex is a generic type
// parameterized per call site, so a single Go map cannot hold a
// heterogeneous set of live instances the way a table registry in a
// byte-oriented KV engine can. What it can do, and what the host
// engine actually needs, is name each index the engine builds, record
// its Kind and doc string, and let call sites describing the schema
// of a whole database introspect it by name, the same role
// erigon-lib's kv/tables.go constant-plus-doc-comment directory plays
// for MDBX table names, minus the byte-oriented table config that has
// no meaning against an in-process B+*-tree or hash table.
package kv

import (
	"fmt"
	"sort"
	"sync"

	"github.com/coredbio/memidx/ordered"
)

// SchemaVersion identifies the shape of this package's Descriptor
// type, bumped when a field is added or changes meaning, the same
// role erigon-lib's DBSchemaVersion plays for its table layout.
var SchemaVersion = struct{ Major, Minor, Patch uint32 }{Major: 1, Minor: 0, Patch: 0}

// Kind distinguishes which of the two index families a Descriptor
// names.
type Kind uint8

const (
	// KindOrdered names an OrderedIndex (package ordered).
	KindOrdered Kind = iota + 1
	// KindHash names a HashIndex (package hashindex).
	KindHash
)

func (k Kind) String() string {
	switch k {
	case KindOrdered:
		return "ordered"
	case KindHash:
		return "hash"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Descriptor documents one named index a host engine has built. It
// carries no live reference to the index itself (see package doc);
// callers that need the live handle keep it separately, typed, and
// use Descriptor only for logging, metrics labels, and schema dumps.
type Descriptor struct {
	Name string
	Kind Kind
	// Doc is a short key/value description in the same style as
	// erigon-lib's table comments, e.g. "key - account address,
	// value - account balance".
	Doc string
	// Cardinality is meaningful only for KindOrdered; it records
	// which rank/select mode the index was built with, for
	// introspection (dumped alongside Name/Kind, never consulted by
	// the tree itself).
	Cardinality ordered.CardinalityMode
}

// Registry is a name -> Descriptor directory, built up as a host
// engine constructs its indexes and consulted later for schema dumps
// or metrics labeling. A Registry is safe for concurrent read/write
// from multiple goroutines even though the single-writer indexes it
// describes are not: registration typically happens once at startup,
// well before any index sees concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Descriptor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

// Register records d under d.Name, overwriting any prior entry with
// the same name. It panics if d.Name is empty, the same defensive
// posture erigon-lib's init()-time table registration takes against a
// malformed schema.
func (r *Registry) Register(d Descriptor) {
	if d.Name == "" {
		panic("kv: Descriptor.Name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[d.Name] = d
}

// Lookup returns the Descriptor registered under name, if any.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Names returns every registered name in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ByKind returns every Descriptor of the given Kind, sorted by name.
func (r *Registry) ByKind(k Kind) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0)
	for _, n := range r.sortedNamesLocked() {
		if d := r.byName[n]; d.Kind == k {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
