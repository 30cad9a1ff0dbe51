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

// Package math holds small numeric helpers shared by the allocator and
// index packages: overflow-checked arithmetic and id formatting.
package math

import (
	"fmt"
	"math/bits"
	"strconv"
)

// Integer limit values.
const (
	MaxInt8   = 1<<7 - 1
	MinInt8   = -1 << 7
	MaxInt16  = 1<<15 - 1
	MinInt16  = -1 << 15
	MaxInt32  = 1<<31 - 1
	MinInt32  = -1 << 31
	MaxInt64  = 1<<63 - 1
	MinInt64  = -1 << 63
	MaxUint8  = 1<<8 - 1
	MaxUint16 = 1<<16 - 1
	MaxUint32 = 1<<32 - 1
	MaxUint64 = 1<<64 - 1
)

// SafeMul returns x*y and whether the multiplication overflowed uint64.
func SafeMul(x, y uint64) (uint64, bool) {
	hi, lo := bits.Mul64(x, y)
	return lo, hi != 0
}

// SafeAdd returns x+y and whether the addition overflowed uint64.
func SafeAdd(x, y uint64) (uint64, bool) {
	sum, carryOut := bits.Add64(x, y, 0)
	return sum, carryOut != 0
}

// CeilDiv returns ceil(x/y), or 0 if y is 0.
func CeilDiv(x, y int) int {
	if y == 0 {
		return 0
	}
	return (x + y - 1) / y
}

// IsPowerOfTwo reports whether v is a power of two.
func IsPowerOfTwo(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}

// Log2 returns the exact binary logarithm of v, which must be a power of two.
func Log2(v uint32) uint32 {
	if !IsPowerOfTwo(v) {
		panic(fmt.Sprintf("math.Log2: %d is not a power of two", v))
	}
	return uint32(bits.TrailingZeros32(v))
}

// FormatID renders a 32-bit stable identifier (a BlockId or a hash-table
// slot id) as 0x-prefixed hex for log lines and test failure messages.
func FormatID(id uint32) string {
	return fmt.Sprintf("%#x", id)
}

// ParseID parses the inverse of FormatID: a decimal or 0x-prefixed hex
// 32-bit identifier.
func ParseID(s string) (uint32, bool) {
	if s == "" {
		return 0, true
	}
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 32)
		return uint32(v), err == nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err == nil
}
