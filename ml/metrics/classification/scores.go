// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classification

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/types/tensors"
)

// ratioFn returns the numerator and denominator of a score, given the counts of one class.
type ratioFn func(tp, fp, tn, fn float64) (num, den float64)

// Score is a metric formed as a ratio of the confusion counts, reduced over classes according to
// Config.Average. Ratios with a zero denominator are Config.ZeroDivision.
//
// The result is a Float64 scalar, or shaped [numClasses] for AverageNone (except for Binary).
type Score struct {
	statScores
	ratio ratioFn

	// zeroDivisions counted during the last ComputeState.
	zeroDivisions int
}

func newScore(name string, ratio ratioFn, cfg Config, opts []metrics.Option) (*Score, error) {
	m := &Score{ratio: ratio}
	opts = append([]metrics.Option{metrics.WithHigherIsBetter(true)}, opts...)
	if err := m.init(m, name, cfg, opts); err != nil {
		return nil, err
	}
	return m, nil
}

// NewAccuracy returns the accuracy: (tp+tn)/(tp+fp+tn+fn) for Binary and Multilabel, and
// tp/(tp+fn) for Multiclass, where the micro average is the fraction of correct predictions.
func NewAccuracy(cfg Config, opts ...metrics.Option) (*Score, error) {
	ratio := func(tp, fp, tn, fn float64) (float64, float64) { return tp + tn, tp + fp + tn + fn }
	if cfg.Task == Multiclass {
		ratio = func(tp, _, _, fn float64) (float64, float64) { return tp, tp + fn }
	}
	return newScore("accuracy", ratio,
		cfg, append([]metrics.Option{metrics.WithShortName("acc"), metrics.WithMetricType(metrics.AccuracyMetricType)}, opts...))
}

// NewPrecision returns the precision, tp/(tp+fp).
func NewPrecision(cfg Config, opts ...metrics.Option) (*Score, error) {
	return newScore("precision", func(tp, fp, _, _ float64) (float64, float64) { return tp, tp + fp }, cfg,
		append([]metrics.Option{metrics.WithShortName("prec")}, opts...))
}

// NewRecall returns the recall (or sensitivity), tp/(tp+fn).
func NewRecall(cfg Config, opts ...metrics.Option) (*Score, error) {
	return newScore("recall", func(tp, _, _, fn float64) (float64, float64) { return tp, tp + fn }, cfg, opts)
}

// NewSpecificity returns the specificity, tn/(tn+fp).
func NewSpecificity(cfg Config, opts ...metrics.Option) (*Score, error) {
	return newScore("specificity", func(_, fp, tn, _ float64) (float64, float64) { return tn, tn + fp }, cfg,
		append([]metrics.Option{metrics.WithShortName("spec")}, opts...))
}

// NewFBeta returns the F-beta score, (1+β²)·tp/((1+β²)·tp + β²·fn + fp), with β = Config.Beta.
func NewFBeta(cfg Config, opts ...metrics.Option) (*Score, error) {
	beta := cfg.Beta
	if beta == 0 {
		beta = 1
	}
	beta2 := beta * beta
	return newScore("fbeta", func(tp, fp, _, fn float64) (float64, float64) {
		return (1 + beta2) * tp, (1+beta2)*tp + beta2*fn + fp
	}, cfg, opts)
}

// NewF1 returns the F1 score, the harmonic mean of precision and recall. Config.Beta is ignored.
func NewF1(cfg Config, opts ...metrics.Option) (*Score, error) {
	cfg.Beta = 1
	return NewFBeta(cfg, append([]metrics.Option{metrics.WithName("f1")}, opts...)...)
}

// ComputeState implements metrics.Impl. Ratios with a zero denominator take the configured ZeroDivision
// value, and issue one metrics.WarnNumericalInstability warning per compute.
func (m *Score) ComputeState() (*tensors.Tensor, error) {
	m.zeroDivisions = 0
	result, err := m.reduce(m.counts())
	if err == nil && m.zeroDivisions > 0 {
		m.Warnf(metrics.WarnNumericalInstability,
			"%d ratio(s) with a zero denominator (no support or no predictions), using zero_division=%g",
			m.zeroDivisions, m.cfg.ZeroDivision)
	}
	return result, err
}

// reduce the counts according to the task and the average policy.
func (m *Score) reduce(c *counts) (*tensors.Tensor, error) {
	if m.cfg.Task == Binary {
		return tensors.FromScalar(dtypes.Float64, m.score(c.tp[0], c.fp[0], c.tn[0], c.fn[0])), nil
	}
	switch m.cfg.Average {
	case AverageMicro:
		s := c.sum()
		return tensors.FromScalar(dtypes.Float64, m.score(s.tp[0], s.fp[0], s.tn[0], s.fn[0])), nil

	case AverageNone:
		scores := make([]float64, len(c.tp))
		for class := range scores {
			scores[class] = m.score(c.tp[class], c.fp[class], c.tn[class], c.fn[class])
		}
		return tensors.FromFloat64s(dtypes.Float64, scores, len(scores)), nil

	case AverageMacro:
		var total, numClasses float64
		for class := range c.tp {
			if c.tp[class]+c.fp[class]+c.fn[class] == 0 {
				continue
			}
			total += m.score(c.tp[class], c.fp[class], c.tn[class], c.fn[class])
			numClasses++
		}
		if numClasses == 0 {
			m.zeroDivisions++
			return tensors.FromScalar(dtypes.Float64, m.cfg.ZeroDivision), nil
		}
		return tensors.FromScalar(dtypes.Float64, total/numClasses), nil

	case AverageWeighted:
		var total, totalSupport float64
		for class := range c.tp {
			support := c.tp[class] + c.fn[class]
			total += support * m.score(c.tp[class], c.fp[class], c.tn[class], c.fn[class])
			totalSupport += support
		}
		if totalSupport == 0 {
			m.zeroDivisions++
			return tensors.FromScalar(dtypes.Float64, m.cfg.ZeroDivision), nil
		}
		return tensors.FromScalar(dtypes.Float64, total/totalSupport), nil
	}
	return nil, metrics.Configurationf("unsupported average %s", m.cfg.Average)
}

// score of one class, or of the summed counts.
func (m *Score) score(tp, fp, tn, fn float64) float64 {
	num, den := m.ratio(tp, fp, tn, fn)
	if den == 0 {
		m.zeroDivisions++
		return m.cfg.ZeroDivision
	}
	return num / den
}
