// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/types/shapes"
)

// broadcastShapes returns the dimensions of the result of an elementwise operation on a and b, following
// the usual right-aligned broadcasting rules: axes must match or one of them must be 1 (or missing).
func broadcastShapes(a, b shapes.Shape) []int {
	rank := max(a.Rank(), b.Rank())
	dims := make([]int, rank)
	for ii := range rank {
		dimA, dimB := 1, 1
		if axis := ii - (rank - a.Rank()); axis >= 0 {
			dimA = a.Dimensions[axis]
		}
		if axis := ii - (rank - b.Rank()); axis >= 0 {
			dimB = b.Dimensions[axis]
		}
		switch {
		case dimA == dimB:
			dims[ii] = dimA
		case dimA == 1:
			dims[ii] = dimB
		case dimB == 1:
			dims[ii] = dimA
		default:
			exceptions.Panicf("tensors: shapes %s and %s cannot be broadcast together", a, b)
		}
	}
	return dims
}

// broadcastStrides returns strides of shape s as seen from an output of dims: broadcast axes get stride 0.
func broadcastStrides(s shapes.Shape, dims []int) []int {
	strides := make([]int, len(dims))
	own := s.Strides()
	offset := len(dims) - s.Rank()
	for axis := range s.Rank() {
		if s.Dimensions[axis] != 1 {
			strides[axis+offset] = own[axis]
		}
	}
	return strides
}

// BinaryOp applies fn elementwise on a and b with broadcasting. The result dtype is given by
// shapes.PromoteDTypes.
func BinaryOp(a, b *Tensor, fn func(x, y float64) float64) *Tensor {
	return binaryOpWithDType(a, b, shapes.PromoteDTypes(a.DType(), b.DType()), fn)
}

func binaryOpWithDType(a, b *Tensor, dtype dtypes.DType, fn func(x, y float64) float64) *Tensor {
	if a.shape.EqualDimensions(b.shape) {
		flat := make([]float64, len(a.flat))
		for ii := range flat {
			flat[ii] = fn(a.flat[ii], b.flat[ii])
		}
		return newTensor(shapes.Make(dtype, a.shape.Dimensions...), flat)
	}
	dims := broadcastShapes(a.shape, b.shape)
	outShape := shapes.Make(dtype, dims...)
	stridesA := broadcastStrides(a.shape, dims)
	stridesB := broadcastStrides(b.shape, dims)
	flat := make([]float64, outShape.Size())
	indices := make([]int, len(dims))
	for ii := range flat {
		offA, offB := 0, 0
		for axis, idx := range indices {
			offA += idx * stridesA[axis]
			offB += idx * stridesB[axis]
		}
		flat[ii] = fn(a.flat[offA], b.flat[offB])
		// Increment multi-dimensional index, last axis first.
		for axis := len(dims) - 1; axis >= 0; axis-- {
			indices[axis]++
			if indices[axis] < dims[axis] {
				break
			}
			indices[axis] = 0
		}
	}
	return newTensor(outShape, flat)
}

// Add returns a + b elementwise, with broadcasting.
func Add(a, b *Tensor) *Tensor { return BinaryOp(a, b, func(x, y float64) float64 { return x + y }) }

// Sub returns a - b elementwise, with broadcasting.
func Sub(a, b *Tensor) *Tensor { return BinaryOp(a, b, func(x, y float64) float64 { return x - y }) }

// Mul returns a * b elementwise, with broadcasting.
func Mul(a, b *Tensor) *Tensor { return BinaryOp(a, b, func(x, y float64) float64 { return x * y }) }

// Div returns a / b elementwise, with broadcasting. Division by zero follows IEEE rules (Inf or NaN).
func Div(a, b *Tensor) *Tensor { return BinaryOp(a, b, func(x, y float64) float64 { return x / y }) }

// Minimum returns the elementwise minimum of a and b, with broadcasting.
// NaN values are propagated.
func Minimum(a, b *Tensor) *Tensor {
	return BinaryOp(a, b, func(x, y float64) float64 {
		if math.IsNaN(x) || math.IsNaN(y) {
			return math.NaN()
		}
		return min(x, y)
	})
}

// Maximum returns the elementwise maximum of a and b, with broadcasting.
// NaN values are propagated.
func Maximum(a, b *Tensor) *Tensor {
	return BinaryOp(a, b, func(x, y float64) float64 {
		if math.IsNaN(x) || math.IsNaN(y) {
			return math.NaN()
		}
		return max(x, y)
	})
}

// Greater returns a Bool tensor with a > b elementwise, with broadcasting.
func Greater(a, b *Tensor) *Tensor {
	return binaryOpWithDType(a, b, dtypes.Bool, func(x, y float64) float64 {
		if x > y {
			return 1
		}
		return 0
	})
}

// EqualElements returns a Bool tensor with a == b elementwise, with broadcasting.
func EqualElements(a, b *Tensor) *Tensor {
	return binaryOpWithDType(a, b, dtypes.Bool, func(x, y float64) float64 {
		if x == y {
			return 1
		}
		return 0
	})
}

// Map applies fn to each element of t, returning a new tensor of the same shape and dtype.
func Map(t *Tensor, fn func(x float64) float64) *Tensor {
	flat := make([]float64, len(t.flat))
	for ii, v := range t.flat {
		flat[ii] = fn(v)
	}
	return newTensor(t.shape.Clone(), flat)
}

// Scale returns t multiplied by the scalar factor.
func Scale(t *Tensor, factor float64) *Tensor {
	return Map(t, func(x float64) float64 { return x * factor })
}

// Sqrt returns the elementwise square root of t.
func Sqrt(t *Tensor) *Tensor { return Map(t, math.Sqrt) }

// Abs returns the elementwise absolute value of t.
func Abs(t *Tensor) *Tensor { return Map(t, math.Abs) }

// Square returns t*t elementwise.
func Square(t *Tensor) *Tensor { return Map(t, func(x float64) float64 { return x * x }) }

// Sigmoid returns 1/(1+exp(-t)) elementwise.
func Sigmoid(t *Tensor) *Tensor {
	return Map(t, func(x float64) float64 { return 1 / (1 + math.Exp(-x)) })
}

// Clip returns t with its values clamped to [lower, upper].
func Clip(t *Tensor, lower, upper float64) *Tensor {
	return Map(t, func(x float64) float64 {
		if math.IsNaN(x) {
			return x
		}
		return min(max(x, lower), upper)
	})
}

// reduceAxis reduces t over axis using fn, starting each reduction from init.
func reduceAxis(t *Tensor, axis int, init float64, fn func(acc, x float64) float64) *Tensor {
	if axis < 0 {
		axis += t.Rank()
	}
	if axis < 0 || axis >= t.Rank() {
		exceptions.Panicf("tensors: reduce axis %d out-of-bounds for shape %s", axis, t.shape)
	}
	outDims := slices.Delete(slices.Clone(t.shape.Dimensions), axis, axis+1)
	outShape := shapes.Make(t.DType(), outDims...)
	outer := 1
	for _, dim := range t.shape.Dimensions[:axis] {
		outer *= dim
	}
	inner := 1
	for _, dim := range t.shape.Dimensions[axis+1:] {
		inner *= dim
	}
	dim := t.shape.Dimensions[axis]
	flat := make([]float64, outShape.Size())
	for ii := range flat {
		flat[ii] = init
	}
	for o := range outer {
		for d := range dim {
			base := (o*dim + d) * inner
			for i := range inner {
				flat[o*inner+i] = fn(flat[o*inner+i], t.flat[base+i])
			}
		}
	}
	return newTensor(outShape, flat)
}

// ReduceSum sums t over the given axis.
func ReduceSum(t *Tensor, axis int) *Tensor {
	return reduceAxis(t, axis, 0, func(acc, x float64) float64 { return acc + x })
}

// ReduceMax takes the maximum of t over the given axis. Reducing an empty axis yields -Inf.
func ReduceMax(t *Tensor, axis int) *Tensor {
	return reduceAxis(t, axis, math.Inf(-1), func(acc, x float64) float64 {
		if math.IsNaN(acc) || math.IsNaN(x) {
			return math.NaN()
		}
		return max(acc, x)
	})
}

// ReduceMin takes the minimum of t over the given axis. Reducing an empty axis yields +Inf.
func ReduceMin(t *Tensor, axis int) *Tensor {
	return reduceAxis(t, axis, math.Inf(1), func(acc, x float64) float64 {
		if math.IsNaN(acc) || math.IsNaN(x) {
			return math.NaN()
		}
		return min(acc, x)
	})
}

// ReduceMean takes the mean of t over the given axis. The result has a float dtype.
func ReduceMean(t *Tensor, axis int) *Tensor {
	if axis < 0 {
		axis += t.Rank()
	}
	sum := ReduceSum(t.ConvertDType(floatDType(t.DType())), axis)
	return Scale(sum, 1/float64(t.shape.Dim(axis)))
}

// ReduceAllSum sums all elements of t, returning a scalar.
func ReduceAllSum(t *Tensor) *Tensor {
	var sum float64
	for _, v := range t.flat {
		sum += v
	}
	return FromScalar(t.DType(), sum)
}

// ArgMax returns the Int64 indices of the maximum values over the given axis. Ties resolve to the
// first occurrence.
func ArgMax(t *Tensor, axis int) *Tensor {
	if axis < 0 {
		axis += t.Rank()
	}
	if axis < 0 || axis >= t.Rank() {
		exceptions.Panicf("tensors.ArgMax: axis %d out-of-bounds for shape %s", axis, t.shape)
	}
	outDims := slices.Delete(slices.Clone(t.shape.Dimensions), axis, axis+1)
	outer := 1
	for _, dim := range t.shape.Dimensions[:axis] {
		outer *= dim
	}
	inner := 1
	for _, dim := range t.shape.Dimensions[axis+1:] {
		inner *= dim
	}
	dim := t.shape.Dimensions[axis]
	flat := make([]float64, outer*inner)
	for o := range outer {
		for i := range inner {
			best, bestIdx := math.Inf(-1), 0
			for d := range dim {
				v := t.flat[(o*dim+d)*inner+i]
				if v > best {
					best, bestIdx = v, d
				}
			}
			flat[o*inner+i] = float64(bestIdx)
		}
	}
	return newTensor(shapes.Make(dtypes.Int64, outDims...), flat)
}

// floatDType returns dtype if it is a float, or Float64 otherwise.
func floatDType(dtype dtypes.DType) dtypes.DType {
	if shapes.IsFloat(dtype) {
		return dtype
	}
	return dtypes.Float64
}

// Reshape returns a tensor with the same values and new dimensions. The total size must be preserved.
func Reshape(t *Tensor, dimensions ...int) *Tensor {
	shape := shapes.Make(t.DType(), dimensions...)
	if shape.Size() != t.Size() {
		exceptions.Panicf("tensors.Reshape(%s, %v): sizes don't match", t.shape, dimensions)
	}
	return &Tensor{shape: shape, flat: t.Flat()}
}

// Flatten returns a rank-1 version of t.
func Flatten(t *Tensor) *Tensor {
	return Reshape(t, t.Size())
}

// Concatenate concatenates the tensors along axis 0. All tensors must have the same rank (>= 1) and the
// same dimensions on the other axes. The result dtype is the promotion of all dtypes.
func Concatenate(ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		exceptions.Panicf("tensors.Concatenate requires at least one tensor")
	}
	first := ts[0]
	if first.Rank() == 0 {
		exceptions.Panicf("tensors.Concatenate: cannot concatenate scalars, use Stack")
	}
	dtype := first.DType()
	total := 0
	for _, t := range ts {
		if t.Rank() != first.Rank() || !slices.Equal(t.shape.Dimensions[1:], first.shape.Dimensions[1:]) {
			exceptions.Panicf("tensors.Concatenate: incompatible shapes %s and %s", first.shape, t.shape)
		}
		dtype = shapes.PromoteDTypes(dtype, t.DType())
		total += t.shape.Dimensions[0]
	}
	dims := slices.Clone(first.shape.Dimensions)
	dims[0] = total
	flat := make([]float64, 0, shapes.Make(dtype, dims...).Size())
	for _, t := range ts {
		flat = append(flat, t.flat...)
	}
	return newTensor(shapes.Make(dtype, dims...), flat)
}

// Stack stacks tensors of the same dimensions into a new leading axis.
func Stack(ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		exceptions.Panicf("tensors.Stack requires at least one tensor")
	}
	expanded := make([]*Tensor, len(ts))
	for ii, t := range ts {
		if !t.shape.EqualDimensions(ts[0].shape) {
			exceptions.Panicf("tensors.Stack: incompatible shapes %s and %s", ts[0].shape, t.shape)
		}
		expanded[ii] = Reshape(t, append([]int{1}, t.shape.Dimensions...)...)
	}
	return Concatenate(expanded...)
}

// Slice returns rows [start, end) of t along axis 0.
func Slice(t *Tensor, start, end int) *Tensor {
	if t.Rank() == 0 || start < 0 || end > t.shape.Dimensions[0] || start > end {
		exceptions.Panicf("tensors.Slice(%d, %d) out-of-bounds for shape %s", start, end, t.shape)
	}
	rowSize := 1
	for _, dim := range t.shape.Dimensions[1:] {
		rowSize *= dim
	}
	dims := slices.Clone(t.shape.Dimensions)
	dims[0] = end - start
	return newTensor(shapes.Make(t.DType(), dims...), slices.Clone(t.flat[start*rowSize:end*rowSize]))
}

// Gather returns the rows of t (along axis 0) selected by indices, in order.
func Gather(t *Tensor, indices []int) *Tensor {
	if t.Rank() == 0 {
		exceptions.Panicf("tensors.Gather: cannot gather from a scalar")
	}
	rowSize := 1
	for _, dim := range t.shape.Dimensions[1:] {
		rowSize *= dim
	}
	dims := slices.Clone(t.shape.Dimensions)
	dims[0] = len(indices)
	flat := make([]float64, 0, len(indices)*rowSize)
	for _, idx := range indices {
		if idx < 0 || idx >= t.shape.Dimensions[0] {
			exceptions.Panicf("tensors.Gather: index %d out-of-bounds for shape %s", idx, t.shape)
		}
		flat = append(flat, t.flat[idx*rowSize:(idx+1)*rowSize]...)
	}
	return newTensor(shapes.Make(t.DType(), dims...), flat)
}

// PadTo returns t padded with value up to the given dimensions. Each dimension must be >= the
// current one, and the rank must match. Existing values keep their multi-dimensional positions.
func PadTo(t *Tensor, value float64, dimensions ...int) *Tensor {
	if len(dimensions) != t.Rank() {
		exceptions.Panicf("tensors.PadTo(%v): rank mismatch with %s", dimensions, t.shape)
	}
	out := Full(t.DType(), value, dimensions...)
	if t.Size() == 0 {
		return out
	}
	outStrides := out.shape.Strides()
	strides := t.shape.Strides()
	for ii, v := range t.flat {
		offset, rest := 0, ii
		for axis := range t.Rank() {
			idx := rest / strides[axis]
			rest %= strides[axis]
			if idx >= dimensions[axis] {
				exceptions.Panicf("tensors.PadTo(%v): cannot shrink %s", dimensions, t.shape)
			}
			offset += idx * outStrides[axis]
		}
		out.flat[offset] = v
	}
	return out
}

// TrimTo returns the leading sub-block of t with the given dimensions: the inverse of PadTo.
func TrimTo(t *Tensor, dimensions ...int) *Tensor {
	if len(dimensions) != t.Rank() {
		exceptions.Panicf("tensors.TrimTo(%v): rank mismatch with %s", dimensions, t.shape)
	}
	shape := shapes.Make(t.DType(), dimensions...)
	flat := make([]float64, shape.Size())
	strides := shape.Strides()
	inStrides := t.shape.Strides()
	for ii := range flat {
		offset, rest := 0, ii
		for axis := range shape.Rank() {
			idx := rest / strides[axis]
			rest %= strides[axis]
			if idx >= t.shape.Dimensions[axis] {
				exceptions.Panicf("tensors.TrimTo(%v): cannot grow %s", dimensions, t.shape)
			}
			offset += idx * inStrides[axis]
		}
		flat[ii] = t.flat[offset]
	}
	return newTensor(shape, flat)
}

// Equal returns whether a and b have the same shape and exactly the same values. NaNs in the same
// positions are considered equal.
func Equal(a, b *Tensor) bool {
	return InDelta(a, b, 0)
}

// InDelta returns whether a and b have the same shape and values within delta of each other.
// NaNs in the same positions are considered equal, as are infinities of the same sign.
func InDelta(a, b *Tensor, delta float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !a.shape.Equal(b.shape) {
		return false
	}
	for ii, x := range a.flat {
		y := b.flat[ii]
		switch {
		case math.IsNaN(x) || math.IsNaN(y):
			if !(math.IsNaN(x) && math.IsNaN(y)) {
				return false
			}
		case x == y:
		case math.Abs(x-y) > delta:
			return false
		}
	}
	return true
}

// HasNaN returns whether any element of t is NaN.
func HasNaN(t *Tensor) bool {
	return slices.ContainsFunc(t.flat, math.IsNaN)
}
