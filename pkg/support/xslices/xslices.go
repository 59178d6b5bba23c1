// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provide missing functionality to the slices package.
package xslices

import (
	"cmp"
	"flag"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Number is any Go integer or float type.
type Number interface {
	constraints.Integer | constraints.Float
}

// SortedKeys returns the sorted keys of a map in the form of a slice.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}

// Iota returns a slice of incremental values, starting with start and of length len.
// Eg: Iota(3.0, 2) -> []float64{3.0, 4.0}
func Iota[T Number](start T, len int) (slice []T) {
	slice = make([]T, len)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return
}

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// Split partitions the slice into n contiguous parts whose lengths differ by at most one. The first
// parts get the extra elements. Parts may be empty if n > len(slice).
func Split[T any](slice []T, n int) [][]T {
	parts := make([][]T, n)
	base, extra := len(slice)/n, len(slice)%n
	start := 0
	for ii := range parts {
		size := base
		if ii < extra {
			size++
		}
		parts[ii] = slice[start : start+size]
		start += size
	}
	return parts
}

// Flag creates a flag for a comma-separated list of T with the given name, usage and default value.
// Elements are trimmed of spaces and converted with parserFn.
func Flag[T any](name string, defaultValue []T, usage string, parserFn func(valueStr string) (T, error)) *[]T {
	f := &sliceFlag[T]{values: defaultValue, parserFn: parserFn}
	flag.Var(f, name, usage)
	return &f.values
}

// sliceFlag implements flag.Value for a list of T.
type sliceFlag[T any] struct {
	values   []T
	parserFn func(valueStr string) (T, error)
}

func (f *sliceFlag[T]) String() string {
	return strings.Join(Map(f.values, func(v T) string { return fmt.Sprint(v) }), ",")
}

func (f *sliceFlag[T]) Set(listStr string) error {
	if strings.TrimSpace(listStr) == "" {
		f.values = []T{}
		return nil
	}
	parts := strings.Split(listStr, ",")
	values := make([]T, len(parts))
	for ii, part := range parts {
		var err error
		if values[ii], err = f.parserFn(strings.TrimSpace(part)); err != nil {
			return errors.WithMessagef(err, "element #%d (%q)", ii, part)
		}
	}
	f.values = values
	return nil
}
