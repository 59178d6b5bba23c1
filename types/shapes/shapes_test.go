// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, []int{6, 2, 1}, shape1.Strides())

	empty := Make(dtypes.Float32, 0, 3)
	require.True(t, empty.IsEmpty())
	require.Equal(t, 0, empty.Size())
	require.Panics(t, func() { _ = Make(dtypes.Float32, -1) })
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 2, shape.Dim(-1))
	require.Equal(t, 4, shape.Dim(-3))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
	require.Equal(t, []int{4, 7, 2}, shape.WithDim(1, 7).Dimensions)
	require.Equal(t, []int{4, 3, 2}, shape.Dimensions, "WithDim must not change the original")
}

func TestChecks(t *testing.T) {
	shape := Make(dtypes.Int64, 5, 2)
	require.NoError(t, shape.CheckDims(5, UncheckedAxis))
	require.Error(t, shape.CheckDims(5))
	require.Error(t, shape.CheckDims(4, 2))
	require.NoError(t, CheckRank(shape, 2))
	require.Error(t, CheckSameDims(shape, Make(dtypes.Int64, 2, 5)))
	require.NoError(t, CheckSameDims(shape, Make(dtypes.Float32, 5, 2)))
	require.Panics(t, func() { AssertDims(shape, 1, 1) })
}

func TestRoundTo(t *testing.T) {
	require.Equal(t, 1.0, RoundTo(dtypes.Bool, -3))
	require.Equal(t, -2.0, RoundTo(dtypes.Int32, -2.7))
	require.Equal(t, float64(float32(0.1)), RoundTo(dtypes.Float32, 0.1))
	require.InDelta(t, 0.1, RoundTo(dtypes.Float16, 0.1), Epsilon(dtypes.Float16))
	require.NotEqual(t, 0.1, RoundTo(dtypes.Float16, 0.1))
	require.True(t, math.IsNaN(RoundTo(dtypes.Float16, math.NaN())))
	require.Equal(t, 0.0, RoundTo(dtypes.Int64, math.NaN()))
}

func TestPromoteDTypes(t *testing.T) {
	require.Equal(t, dtypes.Float32, PromoteDTypes(dtypes.Int64, dtypes.Float32))
	require.Equal(t, dtypes.Float64, PromoteDTypes(dtypes.Float64, dtypes.Float16))
	require.Equal(t, dtypes.Float64, PromoteDTypes(dtypes.Int32, dtypes.Int64))
	require.Equal(t, dtypes.Float32, PromoteDTypes(dtypes.BFloat16, dtypes.Float16))
}
