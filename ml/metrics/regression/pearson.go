// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package regression

import (
	"math"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/ml/metrics/online"
	"github.com/gomlx/streammetrics/types/shapes"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/pkg/errors"
)

// PearsonCorrCoef computes the Pearson correlation coefficient between preds and target, per output,
// optionally weighted by a third "weights" input (one weight per row).
//
// It keeps the running means, sums of squared deviations and sum of cross deviations (see
// online.CoMoments). These states are not reduced on sync: the statistics of each worker are merged
// pairwise, in rank order, at compute time.
//
// The states are kept in the configured dtype. If the variance of preds or target is smaller than the
// square root of the dtype's machine epsilon, a metrics.WarnNumericalInstability warning is issued, and
// the (clamped) correlation is still returned. With no samples the result is NaN.
type PearsonCorrCoef struct {
	*metrics.Base
	numOutputs int
	dtype      dtypes.DType

	meanX, meanY, varX, varY, corrXY, nTotal *metrics.StateField
}

// PearsonConfig configures a PearsonCorrCoef.
type PearsonConfig struct {
	// NumOutputs is the number of outputs: inputs are shaped [batch, NumOutputs], or [batch] if it is 1.
	// Defaults to 1.
	NumOutputs int

	// DType of the statistics kept, it must be a float. Defaults to Float32.
	DType dtypes.DType
}

// NewPearsonCorrCoef returns a PearsonCorrCoef metric.
func NewPearsonCorrCoef(cfg PearsonConfig, opts ...metrics.Option) (*PearsonCorrCoef, error) {
	if cfg.NumOutputs == 0 {
		cfg.NumOutputs = 1
	}
	if err := checkNumOutputs("PearsonCorrCoef", cfg.NumOutputs); err != nil {
		return nil, err
	}
	if cfg.DType == dtypes.InvalidDType {
		cfg.DType = dtypes.Float32
	}
	if !shapes.IsFloat(cfg.DType) {
		return nil, metrics.Configurationf("PearsonCorrCoef: dtype must be a float, got %s", cfg.DType)
	}
	m := &PearsonCorrCoef{numOutputs: cfg.NumOutputs, dtype: cfg.DType}
	m.Base = metrics.NewBase(m, "pearson_corrcoef",
		append([]metrics.Option{
			metrics.WithInputs("preds", "target", "weights"),
			metrics.WithShortName("pcc"),
			metrics.WithHigherIsBetter(true),
			metrics.WithDifferentiable(true),
		}, opts...)...)
	zeros := tensors.Zeros(cfg.DType, cfg.NumOutputs)
	for _, field := range []struct {
		name   string
		target **metrics.StateField
	}{
		{"mean_x", &m.meanX}, {"mean_y", &m.meanY},
		{"var_x", &m.varX}, {"var_y", &m.varY},
		{"corr_xy", &m.corrXY}, {"n_total", &m.nTotal},
	} {
		var err error
		if *field.target, err = m.AddState(field.name, zeros, metrics.ReduceNone); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// workerCoMoments returns the statistics kept by the given worker.
func (m *PearsonCorrCoef) workerCoMoments(worker int) *online.CoMoments {
	return &online.CoMoments{
		N:     m.nTotal.Values()[worker].Flat(),
		MeanX: m.meanX.Values()[worker].Flat(),
		MeanY: m.meanY.Values()[worker].Flat(),
		VarX:  m.varX.Values()[worker].Flat(),
		VarY:  m.varY.Values()[worker].Flat(),
		CovXY: m.corrXY.Values()[worker].Flat(),
	}
}

// UpdateState implements metrics.Impl.
func (m *PearsonCorrCoef) UpdateState(inputs ...*tensors.Tensor) error {
	parsed, err := parseInputs(inputs, m.numOutputs, true)
	if err != nil {
		return err
	}
	c := m.workerCoMoments(0)
	if err := c.UpdateBatch(parsed.preds, parsed.target, parsed.weights); err != nil {
		return metrics.Validationf("%v", err)
	}
	m.nTotal.Set(vector(m.dtype, c.N))
	m.meanX.Set(vector(m.dtype, c.MeanX))
	m.meanY.Set(vector(m.dtype, c.MeanY))
	m.varX.Set(vector(m.dtype, c.VarX))
	m.varY.Set(vector(m.dtype, c.VarY))
	m.corrXY.Set(vector(m.dtype, c.CovXY))
	return nil
}

// ComputeState implements metrics.Impl.
func (m *PearsonCorrCoef) ComputeState() (*tensors.Tensor, error) {
	numWorkers := len(m.nTotal.Values())
	parts := make([]*online.CoMoments, numWorkers)
	for worker := range numWorkers {
		parts[worker] = m.workerCoMoments(worker)
	}
	merged := online.MergeAllCoMoments(parts)
	if slices.Max(merged.N) == 0 {
		return result(m.dtype, slices.Repeat([]float64{math.NaN()}, m.numOutputs)), nil
	}
	corr, unstable := merged.Corr(shapes.Epsilon(m.dtype))
	if unstable {
		m.Warnf(metrics.WarnNumericalInstability,
			"the variance of predictions or target is close to zero, this can cause instability in the Pearson "+
				"correlation coefficient: consider re-scaling the inputs or using a larger dtype (currently %s)", m.dtype)
	}
	return result(m.dtype, corr), nil
}

// PearsonCorrCoefOf computes the Pearson correlation coefficient of preds and target in one go. weights is
// optional (nil). preds of shape [batch, numOutputs] return one value per output.
func PearsonCorrCoefOf(preds, target, weights *tensors.Tensor) (*tensors.Tensor, error) {
	if preds == nil || target == nil {
		return nil, errors.Wrap(metrics.ErrValidation, "PearsonCorrCoefOf: preds and target must be given")
	}
	numOutputs := 1
	if preds.Rank() == 2 {
		numOutputs = preds.Shape().Dim(1)
	}
	dtype := preds.DType()
	if !shapes.IsFloat(dtype) {
		dtype = dtypes.Float32
	}
	m, err := NewPearsonCorrCoef(PearsonConfig{NumOutputs: numOutputs, DType: dtype})
	if err != nil {
		return nil, err
	}
	inputs := []*tensors.Tensor{preds, target}
	if weights != nil {
		inputs = append(inputs, weights)
	}
	if err := m.Update(inputs...); err != nil {
		return nil, err
	}
	return m.Compute()
}
