// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classification

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/types/tensors"
)

// counts of true/false positives/negatives, one per class (or label). Binary has a single class.
type counts struct {
	tp, fp, tn, fn []float64
}

func newCounts(numClasses int) *counts {
	return &counts{
		tp: make([]float64, numClasses), fp: make([]float64, numClasses),
		tn: make([]float64, numClasses), fn: make([]float64, numClasses),
	}
}

// countEntries counts the formatted entries of a batch.
//
// For Multiclass each entry is a positive for its predicted class and a negative for all the others:
// a mistake counts as a false positive of the predicted class and a false negative of the target class.
func countEntries(cfg *Config, e *entries) *counts {
	c := newCounts(cfg.numClasses())
	if cfg.Task == Multiclass {
		for ii, pred := range e.preds {
			target := e.target[ii]
			if pred == target {
				c.tp[pred]++
			} else {
				c.fp[pred]++
				c.fn[target]++
			}
		}
		n := float64(len(e.preds))
		for class := range c.tn {
			c.tn[class] = n - c.tp[class] - c.fp[class] - c.fn[class]
		}
		return c
	}
	for ii, pred := range e.preds {
		label, target := e.labels[ii], e.target[ii]
		switch {
		case pred == 1 && target == 1:
			c.tp[label]++
		case pred == 1:
			c.fp[label]++
		case target == 1:
			c.fn[label]++
		default:
			c.tn[label]++
		}
	}
	return c
}

// sum returns the counts summed over all classes, as a single class.
func (c *counts) sum() *counts {
	s := newCounts(1)
	for class := range c.tp {
		s.tp[0] += c.tp[class]
		s.fp[0] += c.fp[class]
		s.tn[0] += c.tn[class]
		s.fn[0] += c.fn[class]
	}
	return s
}

// statScores is the common implementation of all metrics reduced from the confusion counts: it keeps
// the "tp", "fp", "tn" and "fn" Int64 counters, scalars for Binary or shaped [numClasses] otherwise,
// summed across batches and across workers.
type statScores struct {
	*metrics.Base
	cfg Config

	tp, fp, tn, fn *metrics.StateField
}

func (m *statScores) init(impl metrics.Impl, name string, cfg Config, opts []metrics.Option) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	m.cfg = cfg
	m.Base = metrics.NewBase(impl, name, opts...)
	zeros := m.countsTensor(make([]float64, cfg.numClasses()))
	for _, field := range []struct {
		name   string
		target **metrics.StateField
	}{
		{"tp", &m.tp}, {"fp", &m.fp}, {"tn", &m.tn}, {"fn", &m.fn},
	} {
		var err error
		if *field.target, err = m.AddState(field.name, zeros, metrics.ReduceSum); err != nil {
			return err
		}
	}
	return nil
}

// Config returns the configuration of the metric, with defaults filled in.
func (m *statScores) Config() Config { return m.cfg }

// countsTensor converts per-class counts to the shape of the state.
func (m *statScores) countsTensor(values []float64) *tensors.Tensor {
	if m.cfg.Task == Binary {
		return tensors.FromScalar(dtypes.Int64, values[0])
	}
	return tensors.FromFloat64s(dtypes.Int64, values, len(values))
}

// UpdateState implements metrics.Impl. It takes preds and target.
func (m *statScores) UpdateState(inputs ...*tensors.Tensor) error {
	if err := metrics.CheckNumInputs(inputs, 2, 2); err != nil {
		return err
	}
	e, err := formatInputs(&m.cfg, inputs[0], inputs[1])
	if err != nil {
		return err
	}
	batch := countEntries(&m.cfg, e)
	m.tp.Set(tensors.Add(m.tp.Value(), m.countsTensor(batch.tp)))
	m.fp.Set(tensors.Add(m.fp.Value(), m.countsTensor(batch.fp)))
	m.tn.Set(tensors.Add(m.tn.Value(), m.countsTensor(batch.tn)))
	m.fn.Set(tensors.Add(m.fn.Value(), m.countsTensor(batch.fn)))
	return nil
}

// counts returns the current counts.
func (m *statScores) counts() *counts {
	return &counts{tp: m.tp.Value().Flat(), fp: m.fp.Value().Flat(), tn: m.tn.Value().Flat(), fn: m.fn.Value().Flat()}
}

// StatScores returns the raw counts: tp, fp, tn, fn and support (tp+fn), as an Int64 tensor shaped [5].
// With AverageMicro (or for Binary) the counts are summed over the classes, otherwise they are returned
// per class, shaped [numClasses, 5].
type StatScores struct {
	statScores
}

// NewStatScores returns a StatScores metric.
func NewStatScores(cfg Config, opts ...metrics.Option) (*StatScores, error) {
	m := &StatScores{}
	if err := m.init(m, "stat_scores", cfg, opts); err != nil {
		return nil, err
	}
	return m, nil
}

// ComputeState implements metrics.Impl.
func (m *StatScores) ComputeState() (*tensors.Tensor, error) {
	c := m.counts()
	perClass := m.cfg.Task != Binary && m.cfg.Average != AverageMicro
	if !perClass {
		c = c.sum()
	}
	numClasses := len(c.tp)
	flat := make([]float64, 0, 5*numClasses)
	for class := range numClasses {
		flat = append(flat, c.tp[class], c.fp[class], c.tn[class], c.fn[class], c.tp[class]+c.fn[class])
	}
	if !perClass {
		return tensors.FromFloat64s(dtypes.Int64, flat, 5), nil
	}
	return tensors.FromFloat64s(dtypes.Int64, flat, numClasses, 5), nil
}
