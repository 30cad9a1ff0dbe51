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

package kv_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coredbio/memidx/kv"
	"github.com/coredbio/memidx/ordered"
)

func TestRegistryRegisterLookup(t *testing.T) {
	r := kv.NewRegistry()
	r.Register(kv.Descriptor{
		Name:        "AccountsByAddress",
		Kind:        kv.KindOrdered,
		Doc:         "key - address, value - account",
		Cardinality: ordered.PerChildCards,
	})
	r.Register(kv.Descriptor{
		Name: "AccountsByHash",
		Kind: kv.KindHash,
		Doc:  "key - address hash, value - account",
	})

	d, ok := r.Lookup("AccountsByAddress")
	require.True(t, ok)
	require.Equal(t, kv.KindOrdered, d.Kind)
	require.Equal(t, ordered.PerChildCards, d.Cardinality)

	_, ok = r.Lookup("NoSuchIndex")
	require.False(t, ok)

	require.Equal(t, []string{"AccountsByAddress", "AccountsByHash"}, r.Names())

	orderedDescs := r.ByKind(kv.KindOrdered)
	require.Len(t, orderedDescs, 1)
	require.Equal(t, "AccountsByAddress", orderedDescs[0].Name)
}

func TestRegistryRegisterEmptyNamePanics(t *testing.T) {
	r := kv.NewRegistry()
	require.Panics(t, func() {
		r.Register(kv.Descriptor{Kind: kv.KindHash})
	})
}
