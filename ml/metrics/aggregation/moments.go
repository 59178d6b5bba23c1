// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package aggregation

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/ml/metrics/online"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/pkg/errors"
)

// Statistic selects what RunningMoments computes.
type Statistic int

// Statistics computed by RunningMoments, per output.
const (
	StatMean Statistic = iota
	StatVariance
	StatStd
	StatRange
)

func (s Statistic) String() string {
	switch s {
	case StatMean:
		return "mean"
	case StatVariance:
		return "variance"
	case StatStd:
		return "std"
	case StatRange:
		return "range"
	}
	return fmt.Sprintf("Statistic(%d)", int(s))
}

// ParseStatistic converts a name as returned by Statistic.String back to a Statistic.
func ParseStatistic(name string) (Statistic, error) {
	for s := StatMean; s <= StatRange; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, errors.Wrapf(metrics.ErrConfiguration, "unknown statistic %q", name)
}

// MomentsConfig configures a RunningMoments metric.
type MomentsConfig struct {
	// NumOutputs is the number of values per sample: values are shaped [batch, NumOutputs], or [batch] if
	// NumOutputs is 1. Defaults to 1.
	NumOutputs int

	// Statistic to compute. Defaults to StatMean.
	Statistic Statistic

	// DDoF is the "delta degrees of freedom" for StatVariance and StatStd: the sum of squared deviations is
	// divided by (count - DDoF).
	DDoF float64

	NaN NaNStrategy
}

// RunningMoments keeps the running count, mean, sum of squared deviations, min and max per output, and
// computes one of their statistics.
//
// Batches are folded in with the parallel variance formula, and the states are not reduced on sync:
// the per-worker moments are merged pairwise at compute time. With no values, all statistics are NaN.
type RunningMoments struct {
	aggregator
	cfg MomentsConfig

	count, mean, m2, minV, maxV *metrics.StateField
}

// NewRunningMoments returns a RunningMoments metric. Its inputs are "value" and an optional "weight" per row.
func NewRunningMoments(cfg MomentsConfig, opts ...metrics.Option) (*RunningMoments, error) {
	if cfg.NumOutputs == 0 {
		cfg.NumOutputs = 1
	}
	if cfg.NumOutputs < 0 {
		return nil, metrics.Configurationf("RunningMoments: NumOutputs must be positive, got %d", cfg.NumOutputs)
	}
	if cfg.Statistic < StatMean || cfg.Statistic > StatRange {
		return nil, metrics.Configurationf("RunningMoments: invalid statistic %s", cfg.Statistic)
	}
	if cfg.DDoF < 0 {
		return nil, metrics.Configurationf("RunningMoments: DDoF must be >= 0, got %g", cfg.DDoF)
	}
	m := &RunningMoments{aggregator: aggregator{nan: cfg.NaN}, cfg: cfg}
	m.Base = metrics.NewBase(m, "running_"+cfg.Statistic.String(),
		append([]metrics.Option{metrics.WithInputs("value", "weight")}, opts...)...)

	empty := online.NewMoments(cfg.NumOutputs)
	for _, field := range []struct {
		name   string
		target **metrics.StateField
		values []float64
	}{
		{"count", &m.count, empty.Count()},
		{"mean", &m.mean, empty.RawMean()},
		{"m2", &m.m2, empty.M2()},
		{"min_value", &m.minV, empty.Min()},
		{"max_value", &m.maxV, empty.Max()},
	} {
		var err error
		*field.target, err = m.AddState(field.name, vector(field.values), metrics.ReduceNone)
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

func vector(values []float64) *tensors.Tensor {
	return tensors.FromFloat64s(dtypes.Float64, values, len(values))
}

// workerMoments returns the moments stored in the state of the given worker.
func (m *RunningMoments) workerMoments(worker int) (*online.Moments, error) {
	return online.MomentsFromState(
		m.count.Values()[worker].Flat(), m.mean.Values()[worker].Flat(), m.m2.Values()[worker].Flat(),
		m.minV.Values()[worker].Flat(), m.maxV.Values()[worker].Flat())
}

// UpdateState implements metrics.Impl.
func (m *RunningMoments) UpdateState(inputs ...*tensors.Tensor) error {
	if err := metrics.CheckNumInputs(inputs, 1, 2); err != nil {
		return err
	}
	values := inputs[0]
	numOutputs := m.cfg.NumOutputs
	switch {
	case values.Rank() == 2 && values.Shape().Dim(1) == numOutputs:
	case numOutputs == 1 && values.Rank() <= 1:
		values = tensors.Reshape(values, values.Size(), 1)
	default:
		return metrics.Validationf("values shape %s doesn't match %d outputs", values.Shape(), numOutputs)
	}
	numRows := values.Shape().Dim(0)
	var weights []float64
	if len(inputs) == 2 {
		if inputs[1].Size() != numRows || inputs[1].Rank() > 1 {
			return metrics.Validationf("weights shape %s doesn't match %d rows", inputs[1].Shape(), numRows)
		}
		weights = inputs[1].Flat()
	}
	flat, weights, err := m.nan.applyRows(m.Base, values.Flat(), numOutputs, weights)
	if err != nil {
		return err
	}
	rows := make([][]float64, len(flat)/numOutputs)
	for r := range rows {
		rows[r] = flat[r*numOutputs : (r+1)*numOutputs]
	}

	moments, err := m.workerMoments(0)
	if err != nil {
		return err
	}
	if err := moments.UpdateBatch(rows, weights); err != nil {
		return metrics.Validationf("%v", err)
	}
	m.count.Set(vector(moments.Count()))
	m.mean.Set(vector(moments.RawMean()))
	m.m2.Set(vector(moments.M2()))
	m.minV.Set(vector(moments.Min()))
	m.maxV.Set(vector(moments.Max()))
	return nil
}

// mergedMoments merges the moments of all workers (only the local one if not synced).
func (m *RunningMoments) mergedMoments() (*online.Moments, error) {
	numWorkers := len(m.count.Values())
	parts := make([]*online.Moments, numWorkers)
	for worker := range numWorkers {
		var err error
		parts[worker], err = m.workerMoments(worker)
		if err != nil {
			return nil, err
		}
	}
	return online.MergeAll(parts), nil
}

// ComputeState implements metrics.Impl.
func (m *RunningMoments) ComputeState() (*tensors.Tensor, error) {
	moments, err := m.mergedMoments()
	if err != nil {
		return nil, err
	}
	var result []float64
	switch m.cfg.Statistic {
	case StatMean:
		result = moments.Mean()
	case StatVariance:
		result = moments.Variance(m.cfg.DDoF)
	case StatStd:
		result = moments.Std(m.cfg.DDoF)
	case StatRange:
		result = moments.Range()
	}
	if m.cfg.NumOutputs == 1 {
		return scalar(result[0]), nil
	}
	return vector(result), nil
}

// Moments returns the moments accumulated by all workers, merged. Like Compute, it is a collective
// operation when distributed.
func (m *RunningMoments) Moments() (*online.Moments, error) {
	var moments *online.Moments
	err := m.SyncContext(func() error {
		var err error
		moments, err = m.mergedMoments()
		return err
	})
	return moments, err
}
