// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package regression

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/pkg/errors"
)

// errorSum is the common implementation of MeanSquaredError and MeanAbsoluteError: it sums a per-element
// error, per output, and counts the number of rows.
type errorSum struct {
	*metrics.Base
	numOutputs int
	errorFn    func(pred, target float64) float64
	finalFn    func(mean float64) float64

	sumError, total *metrics.StateField
}

func (m *errorSum) init(name string, numOutputs int, opts []metrics.Option) error {
	if err := checkNumOutputs(name, numOutputs); err != nil {
		return err
	}
	m.numOutputs = numOutputs
	m.Base = metrics.NewBase(m, name, append([]metrics.Option{
		metrics.WithMetricType(metrics.LossMetricType),
		metrics.WithDifferentiable(true),
	}, opts...)...)
	var err error
	if m.sumError, err = m.AddState("sum_error", tensors.Zeros(dtypes.Float64, numOutputs), metrics.ReduceSum); err != nil {
		return err
	}
	if m.total, err = m.AddState("total", tensors.FromScalar(dtypes.Int64, 0), metrics.ReduceSum); err != nil {
		return err
	}
	return nil
}

// UpdateState implements metrics.Impl.
func (m *errorSum) UpdateState(inputs ...*tensors.Tensor) error {
	parsed, err := parseInputs(inputs, m.numOutputs, false)
	if err != nil {
		return err
	}
	sums := make([]float64, m.numOutputs)
	for r, row := range parsed.preds {
		for ii, pred := range row {
			sums[ii] += m.errorFn(pred, parsed.target[r][ii])
		}
	}
	m.sumError.Set(tensors.Add(m.sumError.Value(), vector(dtypes.Float64, sums)))
	m.total.Set(tensors.Add(m.total.Value(), tensors.FromScalar(dtypes.Int64, float64(len(parsed.preds)))))
	return nil
}

// ComputeState implements metrics.Impl.
func (m *errorSum) ComputeState() (*tensors.Tensor, error) {
	total := m.total.Value().Float64()
	if total == 0 {
		return nil, errors.Wrap(metrics.ErrEmptyState, "no samples seen")
	}
	means := m.sumError.Value().Flat()
	for ii := range means {
		means[ii] = m.finalFn(means[ii] / total)
	}
	return result(dtypes.Float64, means), nil
}

// MeanSquaredError is the mean of the squared differences between preds and target, per output.
// If not squared, it returns the root mean squared error instead.
//
// Compute fails with metrics.ErrEmptyState if no samples were seen.
type MeanSquaredError struct {
	errorSum
}

// NewMeanSquaredError returns a MeanSquaredError metric.
func NewMeanSquaredError(squared bool, numOutputs int, opts ...metrics.Option) (*MeanSquaredError, error) {
	m := &MeanSquaredError{}
	m.errorFn = func(pred, target float64) float64 { return (pred - target) * (pred - target) }
	m.finalFn = func(mean float64) float64 { return mean }
	name := "mse"
	if !squared {
		m.finalFn = math.Sqrt
		name = "rmse"
	}
	if err := m.init(name, numOutputs, opts); err != nil {
		return nil, err
	}
	return m, nil
}

// MeanAbsoluteError is the mean of the absolute differences between preds and target, per output.
//
// Compute fails with metrics.ErrEmptyState if no samples were seen.
type MeanAbsoluteError struct {
	errorSum
}

// NewMeanAbsoluteError returns a MeanAbsoluteError metric.
func NewMeanAbsoluteError(numOutputs int, opts ...metrics.Option) (*MeanAbsoluteError, error) {
	m := &MeanAbsoluteError{}
	m.errorFn = func(pred, target float64) float64 { return math.Abs(pred - target) }
	m.finalFn = func(mean float64) float64 { return mean }
	if err := m.init("mae", numOutputs, opts); err != nil {
		return nil, err
	}
	return m, nil
}
