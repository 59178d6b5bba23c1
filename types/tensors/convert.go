// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/streammetrics/types/shapes"
	"github.com/x448/float16"
)

var (
	float16Type  = reflect.TypeOf(float16.Float16(0))
	bfloat16Type = reflect.TypeOf(bfloat16.BFloat16(0))
)

// dtypeForType returns the DType that holds values of the Go type t, or dtypes.InvalidDType.
func dtypeForType(t reflect.Type) dtypes.DType {
	switch t {
	case float16Type:
		return dtypes.Float16
	case bfloat16Type:
		return dtypes.BFloat16
	}
	switch t.Kind() {
	case reflect.Bool:
		return dtypes.Bool
	case reflect.Int, reflect.Int64:
		return dtypes.Int64
	case reflect.Int32:
		return dtypes.Int32
	case reflect.Int16:
		return dtypes.Int16
	case reflect.Int8:
		return dtypes.Int8
	case reflect.Uint, reflect.Uint64:
		return dtypes.Uint64
	case reflect.Uint32:
		return dtypes.Uint32
	case reflect.Uint16:
		return dtypes.Uint16
	case reflect.Uint8:
		return dtypes.Uint8
	case reflect.Float32:
		return dtypes.Float32
	case reflect.Float64:
		return dtypes.Float64
	}
	return dtypes.InvalidDType
}

func dtypeForValue(v any) dtypes.DType {
	dtype := dtypeForType(reflect.TypeOf(v))
	if dtype == dtypes.InvalidDType {
		exceptions.Panicf("tensors: Go type %T not supported", v)
	}
	return dtype
}

// goTypeForDType is the Go type used by Tensor.Value for the given dtype.
func goTypeForDType(dtype dtypes.DType) reflect.Type {
	switch dtype {
	case dtypes.Bool:
		return reflect.TypeOf(false)
	case dtypes.Int8:
		return reflect.TypeOf(int8(0))
	case dtypes.Int16:
		return reflect.TypeOf(int16(0))
	case dtypes.Int32:
		return reflect.TypeOf(int32(0))
	case dtypes.Int64:
		return reflect.TypeOf(int64(0))
	case dtypes.Uint8:
		return reflect.TypeOf(uint8(0))
	case dtypes.Uint16:
		return reflect.TypeOf(uint16(0))
	case dtypes.Uint32:
		return reflect.TypeOf(uint32(0))
	case dtypes.Uint64:
		return reflect.TypeOf(uint64(0))
	case dtypes.Float16:
		return float16Type
	case dtypes.BFloat16:
		return bfloat16Type
	case dtypes.Float32:
		return reflect.TypeOf(float32(0))
	}
	return reflect.TypeOf(float64(0))
}

func toFloat64(v reflect.Value) float64 {
	switch v.Type() {
	case float16Type:
		return float64(v.Interface().(float16.Float16).Float32())
	case bfloat16Type:
		return float64(v.Interface().(bfloat16.BFloat16).Float32())
	}
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return 1
		}
		return 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint())
	}
	return v.Float()
}

func fromFloat64(dtype dtypes.DType, f float64) reflect.Value {
	goType := goTypeForDType(dtype)
	switch dtype {
	case dtypes.Float16:
		return reflect.ValueOf(float16.Fromfloat32(float32(f)))
	case dtypes.BFloat16:
		return reflect.ValueOf(bfloat16.FromFloat32(float32(f)))
	case dtypes.Bool:
		return reflect.ValueOf(f != 0)
	}
	return reflect.ValueOf(f).Convert(goType)
}

// FromValue returns a Tensor created from a Go scalar or an arbitrarily nested slice of one of the
// supported Go types (bool, integers, float32, float64, float16.Float16, bfloat16.BFloat16).
// If value is already a *Tensor it is returned as is.
//
// Nested slices must be regular (all sub-slices of the same length), it panics otherwise.
func FromValue(value any) *Tensor {
	if t, ok := value.(*Tensor); ok {
		return t
	}
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		exceptions.Panicf("tensors.FromValue(nil) not supported")
	}
	var dims []int
	elemType := v.Type()
	probe := v
	for elemType.Kind() == reflect.Slice || elemType.Kind() == reflect.Array {
		dims = append(dims, probe.Len())
		elemType = elemType.Elem()
		if probe.Len() > 0 {
			probe = probe.Index(0)
		}
	}
	dtype := dtypeForType(elemType)
	if dtype == dtypes.InvalidDType {
		exceptions.Panicf("tensors.FromValue(%T): element type %s not supported", value, elemType)
	}
	shape := shapes.Make(dtype, dims...)
	flat := make([]float64, 0, shape.Size())
	var walk func(v reflect.Value, axis int)
	walk = func(v reflect.Value, axis int) {
		if axis == len(dims) {
			flat = append(flat, toFloat64(v))
			return
		}
		if v.Len() != dims[axis] {
			exceptions.Panicf("tensors.FromValue(%T): irregular slice, axis %d has lengths %d and %d",
				value, axis, dims[axis], v.Len())
		}
		for ii := range v.Len() {
			walk(v.Index(ii), axis+1)
		}
	}
	walk(v, 0)
	return newTensor(shape, flat)
}

// Value returns the tensor as a Go value: a scalar for rank 0 tensors, or a nested slice otherwise.
// The Go element type matches the DType (e.g.: Float32 -> float32, Int64 -> int64, Float16 -> float16.Float16).
func (t *Tensor) Value() any {
	if t.IsScalar() {
		return fromFloat64(t.DType(), t.flat[0]).Interface()
	}
	goType := goTypeForDType(t.DType())
	sliceTypes := make([]reflect.Type, t.Rank())
	for axis := t.Rank() - 1; axis >= 0; axis-- {
		goType = reflect.SliceOf(goType)
		sliceTypes[axis] = goType
	}
	strides := t.shape.Strides()
	var build func(axis, offset int) reflect.Value
	build = func(axis, offset int) reflect.Value {
		dim := t.shape.Dimensions[axis]
		s := reflect.MakeSlice(sliceTypes[axis], dim, dim)
		for ii := range dim {
			pos := offset + ii*strides[axis]
			if axis == t.Rank()-1 {
				s.Index(ii).Set(fromFloat64(t.DType(), t.flat[pos]))
			} else {
				s.Index(ii).Set(build(axis+1, pos))
			}
		}
		return s
	}
	return build(0, 0).Interface()
}

// ConvertDType returns a copy of the tensor converted to dtype, rounding values to the new precision.
func (t *Tensor) ConvertDType(dtype dtypes.DType) *Tensor {
	return newTensor(shapes.Make(dtype, t.shape.Dimensions...), t.Flat())
}
