// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package regression

import (
	"fmt"
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/ml/metrics/online"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/pkg/errors"
)

// Normalization is the denominator used by NormalizedRootMeanSquaredError, computed over the target.
type Normalization int

// Normalizations supported by NormalizedRootMeanSquaredError.
const (
	NormMean Normalization = iota
	NormRange
	NormStd
	NormL2
)

func (n Normalization) String() string {
	switch n {
	case NormMean:
		return "mean"
	case NormRange:
		return "range"
	case NormStd:
		return "std"
	case NormL2:
		return "l2"
	}
	return fmt.Sprintf("Normalization(%d)", int(n))
}

// ParseNormalization converts a name ("mean", "range", "std" or "l2") to a Normalization.
func ParseNormalization(name string) (Normalization, error) {
	for n := NormMean; n <= NormL2; n++ {
		if n.String() == name {
			return n, nil
		}
	}
	return 0, errors.Wrapf(metrics.ErrConfiguration,
		"normalization should be either \"mean\", \"range\", \"std\" or \"l2\", got %q", name)
}

// NormalizedRootMeanSquaredError (NRMSE, also known as scatter index) is the root mean squared error divided
// by a statistic of the target: its mean, range, (population) standard deviation or L2 norm.
//
// The squared errors and counts are summed across workers. The running statistics of the target (count, mean,
// sum of squared deviations, min and max) are not reduced on sync: they are merged pairwise at compute
// time, with the parallel variance formula.
//
// With no samples the result is NaN.
type NormalizedRootMeanSquaredError struct {
	*metrics.Base
	normalization Normalization
	numOutputs    int

	sumSquaredError, total                       *metrics.StateField
	targetCount, meanVal, varVal, minVal, maxVal *metrics.StateField
}

// NewNormalizedRootMeanSquaredError returns a NormalizedRootMeanSquaredError metric.
func NewNormalizedRootMeanSquaredError(normalization Normalization, numOutputs int, opts ...metrics.Option) (*NormalizedRootMeanSquaredError, error) {
	if normalization < NormMean || normalization > NormL2 {
		return nil, metrics.Configurationf("NormalizedRootMeanSquaredError: invalid normalization %s", normalization)
	}
	if err := checkNumOutputs("NormalizedRootMeanSquaredError", numOutputs); err != nil {
		return nil, err
	}
	m := &NormalizedRootMeanSquaredError{normalization: normalization, numOutputs: numOutputs}
	m.Base = metrics.NewBase(m, "nrmse", append([]metrics.Option{
		metrics.WithMetricType(metrics.LossMetricType),
		metrics.WithDifferentiable(true),
	}, opts...)...)

	empty := online.NewMoments(numOutputs)
	for _, field := range []struct {
		name      string
		target    **metrics.StateField
		value     *tensors.Tensor
		reduction metrics.Reduction
	}{
		{"sum_squared_error", &m.sumSquaredError, tensors.Zeros(dtypes.Float64, numOutputs), metrics.ReduceSum},
		{"total", &m.total, tensors.FromScalar(dtypes.Int64, 0), metrics.ReduceSum},
		{"target_count", &m.targetCount, vector(dtypes.Float64, empty.Count()), metrics.ReduceNone},
		{"mean_val", &m.meanVal, vector(dtypes.Float64, empty.RawMean()), metrics.ReduceNone},
		{"var_val", &m.varVal, vector(dtypes.Float64, empty.M2()), metrics.ReduceNone},
		{"min_val", &m.minVal, vector(dtypes.Float64, empty.Min()), metrics.ReduceNone},
		{"max_val", &m.maxVal, vector(dtypes.Float64, empty.Max()), metrics.ReduceNone},
	} {
		var err error
		if *field.target, err = m.AddState(field.name, field.value, field.reduction); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// targetMoments returns the moments of the target kept by the given worker.
func (m *NormalizedRootMeanSquaredError) targetMoments(worker int) (*online.Moments, error) {
	return online.MomentsFromState(
		m.targetCount.Values()[worker].Flat(), m.meanVal.Values()[worker].Flat(), m.varVal.Values()[worker].Flat(),
		m.minVal.Values()[worker].Flat(), m.maxVal.Values()[worker].Flat())
}

// UpdateState implements metrics.Impl.
func (m *NormalizedRootMeanSquaredError) UpdateState(inputs ...*tensors.Tensor) error {
	parsed, err := parseInputs(inputs, m.numOutputs, false)
	if err != nil {
		return err
	}
	sums := make([]float64, m.numOutputs)
	for r, row := range parsed.preds {
		for ii, pred := range row {
			diff := pred - parsed.target[r][ii]
			sums[ii] += diff * diff
		}
	}
	moments, err := m.targetMoments(0)
	if err != nil {
		return err
	}
	if err := moments.UpdateBatch(parsed.target, nil); err != nil {
		return metrics.Validationf("%v", err)
	}
	m.sumSquaredError.Set(tensors.Add(m.sumSquaredError.Value(), vector(dtypes.Float64, sums)))
	m.total.Set(tensors.Add(m.total.Value(), tensors.FromScalar(dtypes.Int64, float64(len(parsed.preds)))))
	m.targetCount.Set(vector(dtypes.Float64, moments.Count()))
	m.meanVal.Set(vector(dtypes.Float64, moments.RawMean()))
	m.varVal.Set(vector(dtypes.Float64, moments.M2()))
	m.minVal.Set(vector(dtypes.Float64, moments.Min()))
	m.maxVal.Set(vector(dtypes.Float64, moments.Max()))
	return nil
}

// denominator merges the target moments of all workers and returns the normalization, per output.
func (m *NormalizedRootMeanSquaredError) denominator() ([]float64, error) {
	numWorkers := len(m.targetCount.Values())
	parts := make([]*online.Moments, numWorkers)
	for worker := range numWorkers {
		var err error
		if parts[worker], err = m.targetMoments(worker); err != nil {
			return nil, err
		}
	}
	moments := online.MergeAll(parts)
	switch m.normalization {
	case NormMean:
		return moments.Mean(), nil
	case NormRange:
		return moments.Range(), nil
	case NormStd:
		return moments.Std(0), nil
	}
	// L2 norm: sum(x^2) = M2 + n * mean^2.
	mean, m2, count := moments.Mean(), moments.M2(), moments.Count()
	norms := make([]float64, len(mean))
	for ii := range norms {
		norms[ii] = math.Sqrt(m2[ii] + count[ii]*mean[ii]*mean[ii])
	}
	return norms, nil
}

// ComputeState implements metrics.Impl.
func (m *NormalizedRootMeanSquaredError) ComputeState() (*tensors.Tensor, error) {
	denom, err := m.denominator()
	if err != nil {
		return nil, err
	}
	total := m.total.Value().Float64()
	sse := m.sumSquaredError.Value().Flat()
	values := make([]float64, m.numOutputs)
	var zeroDenoms int
	for ii := range values {
		if denom[ii] == 0 {
			zeroDenoms++
		}
		values[ii] = math.Sqrt(sse[ii]/total) / denom[ii]
	}
	if zeroDenoms > 0 {
		m.Warnf(metrics.WarnNumericalInstability, "normalization %s of the target is 0 for %d of %d output(s)",
			m.normalization, zeroDenoms, m.numOutputs)
	}
	return result(dtypes.Float64, values), nil
}
