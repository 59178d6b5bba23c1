// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromValue(t *testing.T) {
	tensor := FromValue([][]float32{{1, 2}, {3, 5}, {7, 11}})
	assert.Equal(t, dtypes.Float32, tensor.DType())
	assert.Equal(t, []int{3, 2}, tensor.Shape().Dimensions)
	assert.Equal(t, 5.0, tensor.At(1, 1))
	assert.Equal(t, [][]float32{{1, 2}, {3, 5}, {7, 11}}, tensor.Value())

	scalar := FromValue(int64(7))
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, int64(7), scalar.Value())
	assert.Same(t, scalar, FromValue(scalar))

	empty := FromValue([]float64{})
	assert.Equal(t, 0, empty.Size())
	assert.Equal(t, []int{0}, empty.Shape().Dimensions)

	bools := FromValue([]bool{true, false})
	assert.Equal(t, dtypes.Bool, bools.DType())
	assert.Equal(t, []float64{1, 0}, bools.Flat())

	assert.Panics(t, func() { FromValue([][]int{{1, 2}, {3}}) })
	assert.Panics(t, func() { FromValue("text") })
}

func TestRounding(t *testing.T) {
	x := FromScalar(dtypes.Float16, 1.0001)
	assert.Equal(t, float64(float16.Fromfloat32(1.0001).Float32()), x.Float64())
	assert.Equal(t, float16.Fromfloat32(1.0001), x.Value())

	i := FromFloat64s(dtypes.Int32, []float64{1.7, -2.2}, 2)
	assert.Equal(t, []int32{1, -2}, i.Value())

	f := FromValue([]float64{0.1}).ConvertDType(dtypes.Float32)
	assert.Equal(t, float64(float32(0.1)), f.Flat()[0])
}

func TestFlatIsCopy(t *testing.T) {
	tensor := FromFlatAndDimensions([]float64{1, 2, 3, 4}, 2, 2)
	flat := tensor.Flat()
	flat[0] = 100
	assert.Equal(t, 1.0, tensor.At(0, 0))
	clone := tensor.Clone()
	assert.True(t, Equal(tensor, clone))
}

func TestString(t *testing.T) {
	assert.Equal(t, "(Int32)[2 2] [[1, 2], [3, 4]]", FromFlatAndDimensions([]int32{1, 2, 3, 4}, 2, 2).String())
	assert.Equal(t, "Float64(0.5)", FromScalar(dtypes.Float64, 0.5).String())
}

func TestBinaryOps(t *testing.T) {
	a := FromValue([][]float64{{1, 2, 3}, {4, 5, 6}})
	b := FromValue([]float64{10, 20, 30})
	sum := Add(a, b)
	assert.Equal(t, [][]float64{{11, 22, 33}, {14, 25, 36}}, sum.Value())

	scaled := Mul(a, FromScalar(dtypes.Float64, 2))
	assert.Equal(t, [][]float64{{2, 4, 6}, {8, 10, 12}}, scaled.Value())

	col := FromValue([][]float64{{1}, {2}})
	assert.Equal(t, [][]float64{{0, 1, 2}, {2, 3, 4}}, Sub(a, col).Value())

	// Int32 + Float32 promotes to Float32.
	mixed := Add(FromValue([]int32{1, 2}), FromValue([]float32{0.5, 0.5}))
	assert.Equal(t, dtypes.Float32, mixed.DType())

	assert.Equal(t, []float64{1, 5}, Minimum(FromValue([]float64{1, 7}), FromValue([]float64{3, 5})).Flat())
	assert.True(t, math.IsNaN(Maximum(FromValue([]float64{math.NaN()}), FromValue([]float64{1})).Flat()[0]))

	gt := Greater(FromValue([]float64{0.2, 0.7}), FromScalar(dtypes.Float64, 0.5))
	assert.Equal(t, []bool{false, true}, gt.Value())

	require.Panics(t, func() { Add(FromValue([]float64{1, 2}), FromValue([]float64{1, 2, 3})) })
}

func TestReductions(t *testing.T) {
	a := FromValue([][]float64{{1, 2, 3}, {4, 5, 6}})
	assert.Equal(t, []float64{5, 7, 9}, ReduceSum(a, 0).Value())
	assert.Equal(t, []float64{6, 15}, ReduceSum(a, -1).Value())
	assert.Equal(t, []float64{2.5, 3.5, 4.5}, ReduceMean(a, 0).Value())
	assert.Equal(t, []float64{1, 4}, ReduceMin(a, 1).Value())
	assert.Equal(t, []float64{4, 5, 6}, ReduceMax(a, 0).Value())
	assert.Equal(t, 21.0, ReduceAllSum(a).Float64())

	emptyMax := ReduceMax(Zeros(dtypes.Float64, 0, 2), 0)
	assert.Equal(t, []float64{math.Inf(-1), math.Inf(-1)}, emptyMax.Flat())

	assert.Equal(t, []int64{2, 0}, ArgMax(FromValue([][]float64{{0.1, 0.2, 0.7}, {0.5, 0.5, 0}}), 1).Value())
}

func TestShapeOps(t *testing.T) {
	a := FromValue([][]float64{{1, 2}, {3, 4}})
	b := FromValue([][]float64{{5, 6}})
	cat := Concatenate(a, b)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}, {5, 6}}, cat.Value())
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, Flatten(cat).Value())
	assert.Equal(t, [][]float64{{3, 4}, {5, 6}}, Slice(cat, 1, 3).Value())
	assert.Equal(t, [][]float64{{5, 6}, {1, 2}}, Gather(cat, []int{2, 0}).Value())

	stacked := Stack(FromScalar(dtypes.Float64, 1), FromScalar(dtypes.Float64, 2))
	assert.Equal(t, []float64{1, 2}, stacked.Value())

	// Concatenation with empty tensors.
	withEmpty := Concatenate(Zeros(dtypes.Float64, 0, 2), a)
	assert.True(t, Equal(a, withEmpty))

	padded := PadTo(a, -1, 3, 3)
	assert.Equal(t, [][]float64{{1, 2, -1}, {3, 4, -1}, {-1, -1, -1}}, padded.Value())
	assert.True(t, Equal(a, TrimTo(padded, 2, 2)))
	assert.Equal(t, []int{0, 3}, TrimTo(padded, 0, 3).Shape().Dimensions)

	require.Panics(t, func() { Reshape(a, 3) })
	require.Panics(t, func() { Concatenate(a, FromValue([]float64{1, 2})) })
}

func TestInDelta(t *testing.T) {
	a := FromValue([]float64{1, math.NaN(), math.Inf(1)})
	b := FromValue([]float64{1 + 1e-9, math.NaN(), math.Inf(1)})
	assert.True(t, InDelta(a, b, 1e-6))
	assert.False(t, Equal(a, b))
	assert.False(t, InDelta(a, FromValue([]float32{1, 0, 0}), 1e-6))
	assert.True(t, HasNaN(a))
}
