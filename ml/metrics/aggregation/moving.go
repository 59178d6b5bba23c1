// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package aggregation

import (
	"math"

	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/types/tensors"
)

// MovingAverage keeps an exponential moving average of the per-batch mean of the values.
//
// Each new batch has weight newExampleWeight, and the previous average decays by 1-newExampleWeight. It
// doesn't have a set prior: it starts as a normal average until there are enough batches (1/newExampleWeight),
// and then it becomes an exponential moving average.
//
// Its default call mode is metrics.CallRunning: Call returns the moving average including the batch.
// When distributed, the averages of the workers are combined weighted by the number of batches they saw,
// capped at 1/newExampleWeight.
type MovingAverage struct {
	aggregator
	newExampleWeight float64
	mean, count      *metrics.StateField
}

// NewMovingAverage creates a MovingAverage metric. A typical value of newExampleWeight is 0.01, the
// smaller the value, the slower the moving average moves.
func NewMovingAverage(newExampleWeight float64, nan NaNStrategy, opts ...metrics.Option) (*MovingAverage, error) {
	if !(newExampleWeight > 0 && newExampleWeight <= 1) {
		return nil, metrics.Configurationf("MovingAverage: newExampleWeight must be in (0, 1], got %g", newExampleWeight)
	}
	m := &MovingAverage{aggregator: aggregator{nan: nan}, newExampleWeight: newExampleWeight}
	m.Base = newBase(m, "moving_average", append([]metrics.Option{metrics.WithCallMode(metrics.CallRunning)}, opts...))
	var err error
	if m.mean, err = m.AddState("mean", scalar(0), metrics.ReduceNone); err != nil {
		return nil, err
	}
	if m.count, err = m.AddState("count", scalar(0), metrics.ReduceNone); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateState implements metrics.Impl. Batches with no (non-NaN) values are skipped.
func (m *MovingAverage) UpdateState(inputs ...*tensors.Tensor) error {
	values, _, err := m.inputValues(inputs, false)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	var result float64
	for _, v := range values {
		result += v
	}
	result /= float64(len(values))

	count := m.count.Value().Float64() + 1
	weight := max(m.newExampleWeight, 1/count)
	mean := m.mean.Value().Float64()*(1-weight) + result*weight
	m.mean.Set(scalar(mean))
	m.count.Set(scalar(count))
	return nil
}

// ComputeState implements metrics.Impl. With no batches, the result is NaN.
func (m *MovingAverage) ComputeState() (*tensors.Tensor, error) {
	means, counts := m.mean.Values(), m.count.Values()
	var total, weight float64
	for worker := range counts {
		w := min(counts[worker].Float64(), 1/m.newExampleWeight)
		total += w * means[worker].Float64()
		weight += w
	}
	if weight == 0 {
		return scalar(math.NaN()), nil
	}
	return scalar(total / weight), nil
}
