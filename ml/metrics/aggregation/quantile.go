// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package aggregation

import (
	"fmt"
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/ml/metrics/online"
	"github.com/gomlx/streammetrics/types/tensors"
)

// Quantile keeps an approximate quantile of the values, in constant memory, using the P^2 algorithm
// (see online.P2Quantile).
//
// When distributed, the estimators of the workers are merged at compute time (see online.MergeP2Quantiles),
// which is approximate. With no values the result is NaN.
type Quantile struct {
	aggregator
	p                         float64
	markers, positions, count *metrics.StateField
}

// NewQuantile returns a Quantile metric for the quantile p (0.5 for the median).
func NewQuantile(p float64, nan NaNStrategy, opts ...metrics.Option) (*Quantile, error) {
	if _, err := online.NewP2Quantile(p); err != nil {
		return nil, metrics.Configurationf("%v", err)
	}
	m := &Quantile{aggregator: aggregator{nan: nan}, p: p}
	name := fmt.Sprintf("quantile_%g", p)
	if p == 0.5 {
		name = "median"
	}
	m.Base = newBase(m, name, opts)
	var err error
	if m.markers, err = m.AddState("markers", tensors.Zeros(dtypes.Float64, 5), metrics.ReduceNone); err != nil {
		return nil, err
	}
	if m.positions, err = m.AddState("positions", tensors.Zeros(dtypes.Int64, 5), metrics.ReduceNone); err != nil {
		return nil, err
	}
	if m.count, err = m.AddState("count", tensors.FromScalar(dtypes.Int64, 0), metrics.ReduceNone); err != nil {
		return nil, err
	}
	return m, nil
}

// estimator rebuilds the P^2 estimator from the state of the given worker.
func (m *Quantile) estimator(worker int) (*online.P2Quantile, error) {
	var markers [5]float64
	var positions [5]int64
	copy(markers[:], m.markers.Values()[worker].Flat())
	for ii, pos := range m.positions.Values()[worker].Flat() {
		positions[ii] = int64(pos)
	}
	count := int64(m.count.Values()[worker].Float64())
	return online.P2QuantileFromState(m.p, markers, positions, count)
}

// UpdateState implements metrics.Impl.
func (m *Quantile) UpdateState(inputs ...*tensors.Tensor) error {
	values, _, err := m.inputValues(inputs, false)
	if err != nil {
		return err
	}
	q, err := m.estimator(0)
	if err != nil {
		return err
	}
	for _, v := range values {
		if math.IsInf(v, 0) {
			return metrics.Validationf("infinite value %g in inputs", v)
		}
		q.Add(v)
	}
	markers, positions, count := q.State()
	m.markers.Set(tensors.FromFloat64s(dtypes.Float64, markers[:], 5))
	m.positions.Set(tensors.FromFlatAndDimensions(positions[:], 5))
	m.count.Set(tensors.FromScalar(dtypes.Int64, float64(count)))
	return nil
}

// ComputeState implements metrics.Impl.
func (m *Quantile) ComputeState() (*tensors.Tensor, error) {
	parts := make([]*online.P2Quantile, len(m.count.Values()))
	for worker := range parts {
		var err error
		if parts[worker], err = m.estimator(worker); err != nil {
			return nil, err
		}
	}
	merged, err := online.MergeP2Quantiles(parts...)
	if err != nil {
		return nil, err
	}
	return scalar(merged.Value()), nil
}
