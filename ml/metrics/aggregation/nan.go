// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package aggregation

import (
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/pkg/errors"
)

type nanMode int

const (
	nanWarn nanMode = iota
	nanError
	nanIgnore
	nanReplace
)

// NaNStrategy defines what aggregation metrics do with NaN values (or NaN weights) in their inputs.
type NaNStrategy struct {
	mode        nanMode
	replacement float64
}

var (
	// NaNWarn drops NaN values and issues a metrics.WarnNaNDropped warning. It is the default.
	NaNWarn = NaNStrategy{mode: nanWarn}

	// NaNError fails the update with metrics.ErrValidation.
	NaNError = NaNStrategy{mode: nanError}

	// NaNIgnore silently drops NaN values.
	NaNIgnore = NaNStrategy{mode: nanIgnore}
)

// NaNReplace replaces NaN values (and NaN weights) by value.
func NaNReplace(value float64) NaNStrategy {
	return NaNStrategy{mode: nanReplace, replacement: value}
}

func (s NaNStrategy) String() string {
	switch s.mode {
	case nanWarn:
		return "warn"
	case nanError:
		return "error"
	case nanIgnore:
		return "ignore"
	}
	return fmt.Sprintf("replace(%g)", s.replacement)
}

// ParseNaNStrategy parses "warn", "error", "ignore", or a number for NaNReplace.
func ParseNaNStrategy(name string) (NaNStrategy, error) {
	switch name {
	case "", "warn":
		return NaNWarn, nil
	case "error":
		return NaNError, nil
	case "ignore":
		return NaNIgnore, nil
	}
	value, err := strconv.ParseFloat(name, 64)
	if err != nil {
		return NaNStrategy{}, errors.Wrapf(metrics.ErrConfiguration,
			"unknown NaN strategy %q, valid values are \"warn\", \"error\", \"ignore\" or a number", name)
	}
	return NaNReplace(value), nil
}

// apply filters (or replaces) the NaN values and NaN weights. weights may be nil, otherwise it has the same
// length as values. The slices are modified in place.
func (s NaNStrategy) apply(b *metrics.Base, values, weights []float64) ([]float64, []float64, error) {
	return s.applyRows(b, values, 1, weights)
}

// applyRows is like apply, but values are organized in rows of width values, with one weight per row.
// A row with any NaN value (or a NaN weight) is dropped as a whole.
func (s NaNStrategy) applyRows(b *metrics.Base, values []float64, width int, weights []float64) ([]float64, []float64, error) {
	numRows := len(values) / width
	isNaN := func(row int) bool {
		if weights != nil && math.IsNaN(weights[row]) {
			return true
		}
		return slices.ContainsFunc(values[row*width:(row+1)*width], math.IsNaN)
	}
	numNaN := 0
	for row := range numRows {
		if isNaN(row) {
			numNaN++
		}
	}
	if numNaN == 0 {
		return values, weights, nil
	}

	switch s.mode {
	case nanError:
		return nil, nil, metrics.Validationf("%d NaN values in the inputs", numNaN)
	case nanReplace:
		for ii, v := range values {
			if math.IsNaN(v) {
				values[ii] = s.replacement
			}
		}
		for ii, w := range weights {
			if math.IsNaN(w) {
				weights[ii] = s.replacement
			}
		}
		return values, weights, nil
	case nanWarn:
		b.Warnf(metrics.WarnNaNDropped, "dropped %d NaN values from the inputs", numNaN)
	}
	kept := 0
	for row := range numRows {
		if isNaN(row) {
			continue
		}
		copy(values[kept*width:(kept+1)*width], values[row*width:(row+1)*width])
		if weights != nil {
			weights[kept] = weights[row]
		}
		kept++
	}
	values = values[:kept*width]
	if weights != nil {
		weights = weights[:kept]
	}
	return values, weights, nil
}
