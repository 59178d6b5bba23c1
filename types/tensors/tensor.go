// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a host-only `Tensor`, a dense multi-dimensional array used as the
// numeric boundary of the metrics packages.
//
// Tensors are multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large dimensions), defined
// by their shape (a data type and its axes dimensions) and their actual content, stored in row-major order.
//
// Values are held internally as float64 and rounded to the precision of the Tensor's DType whenever a
// tensor is created, so a Float16 tensor only ever holds values representable in float16.
//
// Tensors are immutable by convention: every operation returns a new Tensor, and no method changes the
// receiver. This is what allows metric states to be snapshot and restored by just keeping the pointers.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - Full(dtype, value, dimensions...) / Zeros(dtype, dimensions...): filled with the given value.
//
//   - FromFlatAndDimensions[T Number](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions, and set the flattened values with the given data. Example:
//
//     t := FromFlatAndDimensions([]int32{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
//   - FromValue(value any): works with the scalar supported Go types as well as with any arbitrary
//     multidimensional slice of them. Slices of rank > 1 must be regular, that is
//     all the sub-slices must have the same shape. Example:
//
//     t := FromValue([][]float32{{1,2}, {3, 5}, {7, 11}})
package tensors

import (
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/types/shapes"
	"golang.org/x/exp/constraints"
)

// Number represents the Go numeric types that can be used to build a Tensor from flat data.
type Number interface {
	constraints.Integer | constraints.Float
}

// Tensor represents a multidimensional array, defined by its shape (a dtypes.DType and its axes' dimensions),
// and its content stored as a flat (1D) row-major array of values.
type Tensor struct {
	shape shapes.Shape
	flat  []float64
}

// newTensor creates a Tensor taking ownership of flat, which is rounded in place to the dtype precision.
func newTensor(shape shapes.Shape, flat []float64) *Tensor {
	if !shapes.IsSupported(shape.DType) {
		exceptions.Panicf("tensors: dtype %s not supported for host tensors", shape.DType)
	}
	if len(flat) != shape.Size() {
		exceptions.Panicf("tensors: shape %s requires %d elements, got %d", shape, shape.Size(), len(flat))
	}
	if shape.DType != dtypes.Float64 {
		for ii, v := range flat {
			flat[ii] = shapes.RoundTo(shape.DType, v)
		}
	}
	return &Tensor{shape: shape, flat: flat}
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) *Tensor {
	return newTensor(shape.Clone(), make([]float64, shape.Size()))
}

// Zeros returns a Tensor of the given dtype and dimensions filled with zeros.
func Zeros(dtype dtypes.DType, dimensions ...int) *Tensor {
	return FromShape(shapes.Make(dtype, dimensions...))
}

// Full returns a Tensor of the given dtype and dimensions filled with value.
func Full(dtype dtypes.DType, value float64, dimensions ...int) *Tensor {
	shape := shapes.Make(dtype, dimensions...)
	flat := make([]float64, shape.Size())
	for ii := range flat {
		flat[ii] = value
	}
	return newTensor(shape, flat)
}

// FromScalar returns a scalar Tensor of the given dtype.
func FromScalar(dtype dtypes.DType, value float64) *Tensor {
	return newTensor(shapes.Scalar(dtype), []float64{value})
}

// FromFlatAndDimensions creates a Tensor with the given dimensions, filled with the flattened values
// given in data. The dtype is taken from T.
func FromFlatAndDimensions[T Number](data []T, dimensions ...int) *Tensor {
	var zero T
	dtype := dtypeForValue(zero)
	shape := shapes.Make(dtype, dimensions...)
	flat := make([]float64, len(data))
	for ii, v := range data {
		flat[ii] = float64(v)
	}
	return newTensor(shape, flat)
}

// FromFloat64s creates a Tensor of the given dtype and dimensions from flat float64 values.
// The values are copied.
func FromFloat64s(dtype dtypes.DType, flat []float64, dimensions ...int) *Tensor {
	shape := shapes.Make(dtype, dimensions...)
	return newTensor(shape, append([]float64(nil), flat...))
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size is the number of elements of the tensor.
func (t *Tensor) Size() int { return len(t.flat) }

// IsScalar returns whether the tensor has rank 0.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// ConstFlatData calls accessFn with the flat data of the tensor. The slice is owned by the tensor and
// must not be changed.
func (t *Tensor) ConstFlatData(accessFn func(flat []float64)) {
	accessFn(t.flat)
}

// Flat returns a copy of the flat (row-major) values of the tensor.
func (t *Tensor) Flat() []float64 {
	return append([]float64(nil), t.flat...)
}

// At returns the value at the given indices, one per axis.
func (t *Tensor) At(indices ...int) float64 {
	if len(indices) != t.Rank() {
		exceptions.Panicf("Tensor.At(%v): tensor has rank %d", indices, t.Rank())
	}
	strides := t.shape.Strides()
	offset := 0
	for axis, idx := range indices {
		if idx < 0 || idx >= t.shape.Dimensions[axis] {
			exceptions.Panicf("Tensor.At(%v): index out-of-bounds for shape %s", indices, t.shape)
		}
		offset += idx * strides[axis]
	}
	return t.flat[offset]
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: t.shape.Clone(), flat: t.Flat()}
}

// ToScalar returns the value of a tensor with exactly one element, converted to T.
func ToScalar[T Number](t *Tensor) T {
	if t.Size() != 1 {
		exceptions.Panicf("ToScalar(%s): tensor has %d elements", t.shape, t.Size())
	}
	return T(t.flat[0])
}

// Float64 returns the value of a tensor with exactly one element as a float64.
func (t *Tensor) Float64() float64 {
	return ToScalar[float64](t)
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil>"
	}
	if t.IsScalar() {
		return fmt.Sprintf("%s(%s)", t.DType(), formatValue(t.DType(), t.flat[0]))
	}
	var sb strings.Builder
	sb.WriteString(t.shape.String())
	sb.WriteString(" ")
	t.writeNested(&sb, 0, 0)
	return sb.String()
}

func (t *Tensor) writeNested(sb *strings.Builder, axis, offset int) {
	strides := t.shape.Strides()
	sb.WriteString("[")
	for ii := range t.shape.Dimensions[axis] {
		if ii > 0 {
			sb.WriteString(", ")
		}
		pos := offset + ii*strides[axis]
		if axis == t.Rank()-1 {
			sb.WriteString(formatValue(t.DType(), t.flat[pos]))
		} else {
			t.writeNested(sb, axis+1, pos)
		}
	}
	sb.WriteString("]")
}

func formatValue(dtype dtypes.DType, v float64) string {
	switch {
	case dtype == dtypes.Bool:
		return fmt.Sprintf("%v", v != 0)
	case shapes.IsInt(dtype) && !math.IsInf(v, 0):
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.4g", v)
}
