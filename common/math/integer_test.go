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

package math_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	xmath "github.com/coredbio/memidx/common/math"
)

func TestSafeMulOverflow(t *testing.T) {
	v, overflow := xmath.SafeMul(2, 3)
	require.False(t, overflow)
	require.EqualValues(t, 6, v)

	_, overflow = xmath.SafeMul(xmath.MaxUint64, 2)
	require.True(t, overflow)
}

func TestSafeAddOverflow(t *testing.T) {
	v, overflow := xmath.SafeAdd(2, 3)
	require.False(t, overflow)
	require.EqualValues(t, 5, v)

	_, overflow = xmath.SafeAdd(xmath.MaxUint64, 1)
	require.True(t, overflow)
}

func TestCeilDiv(t *testing.T) {
	require.Equal(t, 4, xmath.CeilDiv(10, 3))
	require.Equal(t, 3, xmath.CeilDiv(9, 3))
	require.Equal(t, 0, xmath.CeilDiv(5, 0))
}

func TestIsPowerOfTwoAndLog2(t *testing.T) {
	require.True(t, xmath.IsPowerOfTwo(1024))
	require.False(t, xmath.IsPowerOfTwo(100))
	require.Equal(t, uint32(10), xmath.Log2(1024))
	require.Panics(t, func() { xmath.Log2(100) })
}

func TestFormatIDRoundTrip(t *testing.T) {
	s := xmath.FormatID(0xFFFFFFFF)
	v, ok := xmath.ParseID(s)
	require.True(t, ok)
	require.EqualValues(t, 0xFFFFFFFF, v)

	v, ok = xmath.ParseID("12345")
	require.True(t, ok)
	require.EqualValues(t, 12345, v)

	_, ok = xmath.ParseID("not-a-number")
	require.False(t, ok)
}
