// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package regression implements streaming regression metrics: Pearson correlation, mean squared and
// mean absolute errors, and the normalized root mean squared error.
//
// Inputs are "preds" and "target" with the same shape: [batch] for single output metrics, or
// [batch, numOutputs]. Multi-output metrics return one value per output.
package regression

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/types/shapes"
	"github.com/gomlx/streammetrics/types/tensors"
)

// regressionInputs are the validated inputs of a regression metric.
type regressionInputs struct {
	preds, target [][]float64
	weights       []float64
}

// parseInputs validates preds, target and, if acceptWeights, optional weights (one per row).
func parseInputs(inputs []*tensors.Tensor, numOutputs int, acceptWeights bool) (*regressionInputs, error) {
	maxInputs := 2
	if acceptWeights {
		maxInputs = 3
	}
	if err := metrics.CheckNumInputs(inputs, 2, maxInputs); err != nil {
		return nil, err
	}
	preds, target := inputs[0], inputs[1]
	if err := shapes.CheckSameDims(preds, target); err != nil {
		return nil, metrics.Validationf("preds and target: %v", err)
	}
	switch {
	case preds.Rank() == 1 && numOutputs == 1:
	case preds.Rank() == 2 && preds.Shape().Dim(1) == numOutputs:
	case numOutputs == 1:
		return nil, metrics.Validationf("expected preds and target with shape [batch] or [batch, 1], got shape %s",
			preds.Shape())
	default:
		return nil, metrics.Validationf("expected preds and target with shape [batch, %d], got shape %s",
			numOutputs, preds.Shape())
	}
	parsed := &regressionInputs{preds: toRows(preds, numOutputs), target: toRows(target, numOutputs)}
	if len(inputs) == 3 {
		weights := inputs[2]
		if weights.Rank() != 1 || weights.Size() != len(parsed.preds) {
			return nil, metrics.Validationf("expected weights with shape [%d], got shape %s",
				len(parsed.preds), weights.Shape())
		}
		parsed.weights = weights.Flat()
	}
	return parsed, nil
}

func toRows(t *tensors.Tensor, numOutputs int) [][]float64 {
	flat := t.Flat()
	rows := make([][]float64, len(flat)/numOutputs)
	for r := range rows {
		rows[r] = flat[r*numOutputs : (r+1)*numOutputs]
	}
	return rows
}

func vector(dtype dtypes.DType, values []float64) *tensors.Tensor {
	return tensors.FromFloat64s(dtype, values, len(values))
}

// result returns values as a scalar for single output metrics, or as a vector.
func result(dtype dtypes.DType, values []float64) *tensors.Tensor {
	if len(values) == 1 {
		return tensors.FromScalar(dtype, values[0])
	}
	return vector(dtype, values)
}

func checkNumOutputs(name string, numOutputs int) error {
	if numOutputs < 1 {
		return metrics.Configurationf("%s: expected a positive number of outputs, got %d", name, numOutputs)
	}
	return nil
}
