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

// Package hashutil provides a default hasher for hashindex.Table
// callers. The table never hashes internally, same as light: this is
// a convenience for callers and test data generators, not something
// Table itself depends on.
package hashutil

import "github.com/spaolacci/murmur3"

// Sum32 hashes b with murmur3 using seed as the murmur seed, giving
// callers a ready default when they have no domain-specific hash of
// their own.
func Sum32(b []byte, seed uint32) uint32 {
	return murmur3.Sum32WithSeed(b, seed)
}
