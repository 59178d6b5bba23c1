// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// IsFloat returns whether dtype is one of the floating point dtypes handled by host tensors.
func IsFloat(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64:
		return true
	}
	return false
}

// IsInt returns whether dtype is one of the integer dtypes handled by host tensors.
func IsInt(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
		dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64:
		return true
	}
	return false
}

// IsSupported returns whether host tensors can hold values of the given dtype.
func IsSupported(dtype dtypes.DType) bool {
	return dtype == dtypes.Bool || IsFloat(dtype) || IsInt(dtype)
}

// Epsilon returns the machine epsilon for the floating point dtype: the difference between 1.0
// and the next representable value. Integer and boolean dtypes return the float64 epsilon.
func Epsilon(dtype dtypes.DType) float64 {
	switch dtype {
	case dtypes.Float16:
		return 0x1p-10
	case dtypes.BFloat16:
		return 0x1p-7
	case dtypes.Float32:
		return 0x1p-23
	}
	return 0x1p-52
}

// RoundTo returns value rounded to what can be represented by dtype. Integer dtypes truncate
// towards zero, Bool maps any non-zero value to 1.
func RoundTo(dtype dtypes.DType, value float64) float64 {
	if math.IsNaN(value) {
		if IsFloat(dtype) {
			return value
		}
		return 0
	}
	switch dtype {
	case dtypes.Float64:
		return value
	case dtypes.Float32:
		return float64(float32(value))
	case dtypes.Float16:
		return float64(float16.Fromfloat32(float32(value)).Float32())
	case dtypes.BFloat16:
		return float64(bfloat16.FromFloat32(float32(value)).Float32())
	case dtypes.Bool:
		if value != 0 {
			return 1
		}
		return 0
	}
	if math.IsInf(value, 0) {
		return value
	}
	return math.Trunc(value)
}

// PromoteDTypes returns the dtype used when combining values of dtypes a and b: the wider float
// wins over any integer, and Float64 is used for mixed integer dtypes.
func PromoteDTypes(a, b dtypes.DType) dtypes.DType {
	if a == b {
		return a
	}
	rank := func(dtype dtypes.DType) int {
		switch dtype {
		case dtypes.Float64:
			return 4
		case dtypes.Float32:
			return 3
		case dtypes.BFloat16, dtypes.Float16:
			return 2
		}
		return 1
	}
	ra, rb := rank(a), rank(b)
	switch {
	case ra > rb:
		return a
	case rb > ra:
		return b
	case ra == 1:
		return dtypes.Float64
	}
	// Float16 vs BFloat16: neither holds the other, use Float32.
	return dtypes.Float32
}
