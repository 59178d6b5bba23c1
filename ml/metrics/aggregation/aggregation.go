// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package aggregation implements simple aggregation metrics over streams of values: Sum, Mean, Min, Max,
// CatValues, plus the streaming statistics RunningMoments, Quantile and MovingAverage.
//
// All of them take a "value" input of any shape (flattened), and Mean also takes optional "weight"s,
// broadcast to the shape of the values. NaN values are handled according to a NaNStrategy.
//
// Values are accumulated in float64.
package aggregation

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/types/tensors"
)

// aggregator holds what is common to all aggregation metrics.
type aggregator struct {
	*metrics.Base
	nan NaNStrategy
}

func newBase(impl metrics.Impl, name string, opts []metrics.Option) *metrics.Base {
	return metrics.NewBase(impl, name, append([]metrics.Option{metrics.WithInputs("value")}, opts...)...)
}

// inputValues returns the flattened values and weights (nil if not given), with NaNs handled.
func (a *aggregator) inputValues(inputs []*tensors.Tensor, acceptWeights bool) (values, weights []float64, err error) {
	maxInputs := 1
	if acceptWeights {
		maxInputs = 2
	}
	if err = metrics.CheckNumInputs(inputs, 1, maxInputs); err != nil {
		return
	}
	values = inputs[0].Flat()
	if len(inputs) == 2 {
		// Broadcast weights to the shape of the values.
		w := tensors.Add(tensors.Zeros(dtypes.Float64, inputs[0].Shape().Dimensions...), inputs[1].ConvertDType(dtypes.Float64))
		if !w.Shape().EqualDimensions(inputs[0].Shape()) {
			return nil, nil, metrics.Validationf("weights shape %s doesn't broadcast to values shape %s",
				inputs[1].Shape(), inputs[0].Shape())
		}
		weights = w.Flat()
	}
	return a.nan.apply(a.Base, values, weights)
}

func scalar(value float64) *tensors.Tensor {
	return tensors.FromScalar(dtypes.Float64, value)
}

// Sum of all values. The empty sum is 0.
type Sum struct {
	aggregator
	sum *metrics.StateField
}

// NewSum returns a Sum metric.
func NewSum(nan NaNStrategy, opts ...metrics.Option) (*Sum, error) {
	m := &Sum{aggregator: aggregator{nan: nan}}
	m.Base = newBase(m, "sum", opts)
	var err error
	if m.sum, err = m.AddState("sum_value", scalar(0), metrics.ReduceSum); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateState implements metrics.Impl.
func (m *Sum) UpdateState(inputs ...*tensors.Tensor) error {
	values, _, err := m.inputValues(inputs, false)
	if err != nil {
		return err
	}
	var total float64
	for _, v := range values {
		total += v
	}
	m.sum.Set(tensors.Add(m.sum.Value(), scalar(total)))
	return nil
}

// ComputeState implements metrics.Impl.
func (m *Sum) ComputeState() (*tensors.Tensor, error) {
	return m.sum.Value(), nil
}

// Mean is the (optionally weighted) mean of all values. The mean of nothing (or of zero total weight) is NaN.
type Mean struct {
	aggregator
	total, weight *metrics.StateField
}

// NewMean returns a Mean metric. Its inputs are "value" and an optional "weight".
func NewMean(nan NaNStrategy, opts ...metrics.Option) (*Mean, error) {
	m := &Mean{aggregator: aggregator{nan: nan}}
	m.Base = metrics.NewBase(m, "mean", append([]metrics.Option{metrics.WithInputs("value", "weight")}, opts...)...)
	var err error
	if m.total, err = m.AddState("mean_value", scalar(0), metrics.ReduceSum); err != nil {
		return nil, err
	}
	if m.weight, err = m.AddState("weight", scalar(0), metrics.ReduceSum); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateState implements metrics.Impl.
func (m *Mean) UpdateState(inputs ...*tensors.Tensor) error {
	values, weights, err := m.inputValues(inputs, true)
	if err != nil {
		return err
	}
	var total, weight float64
	for ii, v := range values {
		w := 1.0
		if weights != nil {
			w = weights[ii]
		}
		total += v * w
		weight += w
	}
	m.total.Set(tensors.Add(m.total.Value(), scalar(total)))
	m.weight.Set(tensors.Add(m.weight.Value(), scalar(weight)))
	return nil
}

// ComputeState implements metrics.Impl.
func (m *Mean) ComputeState() (*tensors.Tensor, error) {
	return tensors.Div(m.total.Value(), m.weight.Value()), nil
}

// Min of all values. The minimum of nothing is +Inf.
type Min struct {
	aggregator
	minValue *metrics.StateField
}

// NewMin returns a Min metric.
func NewMin(nan NaNStrategy, opts ...metrics.Option) (*Min, error) {
	m := &Min{aggregator: aggregator{nan: nan}}
	m.Base = newBase(m, "min", opts)
	var err error
	if m.minValue, err = m.AddState("min_value", scalar(math.Inf(1)), metrics.ReduceMin); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateState implements metrics.Impl.
func (m *Min) UpdateState(inputs ...*tensors.Tensor) error {
	values, _, err := m.inputValues(inputs, false)
	if err != nil {
		return err
	}
	batchMin := math.Inf(1)
	for _, v := range values {
		batchMin = min(batchMin, v)
	}
	m.minValue.Set(tensors.Minimum(m.minValue.Value(), scalar(batchMin)))
	return nil
}

// ComputeState implements metrics.Impl.
func (m *Min) ComputeState() (*tensors.Tensor, error) {
	return m.minValue.Value(), nil
}

// Max of all values. The maximum of nothing is -Inf.
type Max struct {
	aggregator
	maxValue *metrics.StateField
}

// NewMax returns a Max metric.
func NewMax(nan NaNStrategy, opts ...metrics.Option) (*Max, error) {
	m := &Max{aggregator: aggregator{nan: nan}}
	m.Base = newBase(m, "max", opts)
	var err error
	if m.maxValue, err = m.AddState("max_value", scalar(math.Inf(-1)), metrics.ReduceMax); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateState implements metrics.Impl.
func (m *Max) UpdateState(inputs ...*tensors.Tensor) error {
	values, _, err := m.inputValues(inputs, false)
	if err != nil {
		return err
	}
	batchMax := math.Inf(-1)
	for _, v := range values {
		batchMax = max(batchMax, v)
	}
	m.maxValue.Set(tensors.Maximum(m.maxValue.Value(), scalar(batchMax)))
	return nil
}

// ComputeState implements metrics.Impl.
func (m *Max) ComputeState() (*tensors.Tensor, error) {
	return m.maxValue.Value(), nil
}

// CatValues concatenates all values seen (flattened), in order. When distributed, values are ordered by
// worker rank. With no values it returns an empty tensor of shape [0].
type CatValues struct {
	aggregator
	values *metrics.StateField
}

// NewCatValues returns a CatValues metric.
func NewCatValues(nan NaNStrategy, opts ...metrics.Option) (*CatValues, error) {
	m := &CatValues{aggregator: aggregator{nan: nan}}
	m.Base = newBase(m, "cat", opts)
	var err error
	if m.values, err = m.AddListState("value", metrics.ReduceCat); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateState implements metrics.Impl.
func (m *CatValues) UpdateState(inputs ...*tensors.Tensor) error {
	values, _, err := m.inputValues(inputs, false)
	if err != nil {
		return err
	}
	if len(values) > 0 {
		m.values.Append(tensors.FromFloat64s(dtypes.Float64, values, len(values)))
	}
	return nil
}

// ComputeState implements metrics.Impl.
func (m *CatValues) ComputeState() (*tensors.Tensor, error) {
	if all := m.values.Concatenated(); all != nil {
		return all, nil
	}
	return tensors.Zeros(dtypes.Float64, 0), nil
}
