// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classification

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/pkg/errors"
)

// Normalize selects how a ConfusionMatrix is normalized.
type Normalize int

const (
	// NormalizeNone returns the raw Int64 counts.
	NormalizeNone Normalize = iota

	// NormalizeTrue normalizes over the targets: each row sums to 1.
	NormalizeTrue

	// NormalizePred normalizes over the predictions: each column sums to 1.
	NormalizePred

	// NormalizeAll normalizes over all entries.
	NormalizeAll
)

func (n Normalize) String() string {
	switch n {
	case NormalizeNone:
		return "none"
	case NormalizeTrue:
		return "true"
	case NormalizePred:
		return "pred"
	case NormalizeAll:
		return "all"
	}
	return fmt.Sprintf("Normalize(%d)", int(n))
}

// ParseNormalize converts "none", "true", "pred" or "all" to a Normalize.
func ParseNormalize(name string) (Normalize, error) {
	for n := NormalizeNone; n <= NormalizeAll; n++ {
		if n.String() == name {
			return n, nil
		}
	}
	return 0, errors.Wrapf(metrics.ErrConfiguration,
		"normalize should be either \"none\", \"true\", \"pred\" or \"all\", got %q", name)
}

// ConfusionMatrix counts targets (rows) against predictions (columns).
//
// It is shaped [2, 2] for Binary, [NumClasses, NumClasses] for Multiclass, and [NumLabels, 2, 2] for
// Multilabel (one binary matrix per label). The counts are summed across batches and workers.
type ConfusionMatrix struct {
	*metrics.Base
	cfg       Config
	normalize Normalize
	confmat   *metrics.StateField
}

// NewConfusionMatrix returns a ConfusionMatrix metric. Config.Average, ZeroDivision and Beta are not used.
func NewConfusionMatrix(cfg Config, normalize Normalize, opts ...metrics.Option) (*ConfusionMatrix, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if normalize < NormalizeNone || normalize > NormalizeAll {
		return nil, metrics.Configurationf("unsupported normalize %s", normalize)
	}
	m := &ConfusionMatrix{cfg: cfg, normalize: normalize}
	m.Base = metrics.NewBase(m, "confusion_matrix", append([]metrics.Option{metrics.WithShortName("cm")}, opts...)...)
	var err error
	if m.confmat, err = m.AddState("confmat", tensors.Zeros(dtypes.Int64, m.dims()...), metrics.ReduceSum); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ConfusionMatrix) dims() []int {
	switch m.cfg.Task {
	case Multiclass:
		return []int{m.cfg.NumClasses, m.cfg.NumClasses}
	case Multilabel:
		return []int{m.cfg.NumLabels, 2, 2}
	}
	return []int{2, 2}
}

// UpdateState implements metrics.Impl. It takes preds and target.
func (m *ConfusionMatrix) UpdateState(inputs ...*tensors.Tensor) error {
	if err := metrics.CheckNumInputs(inputs, 2, 2); err != nil {
		return err
	}
	e, err := formatInputs(&m.cfg, inputs[0], inputs[1])
	if err != nil {
		return err
	}
	dims := m.dims()
	numCols := dims[len(dims)-1]
	batch := make([]float64, m.confmat.Value().Size())
	for ii, pred := range e.preds {
		offset := 0
		if m.cfg.Task == Multilabel {
			offset = e.labels[ii] * 4
		}
		batch[offset+e.target[ii]*numCols+pred]++
	}
	m.confmat.Set(tensors.Add(m.confmat.Value(), tensors.FromFloat64s(dtypes.Int64, batch, dims...)))
	return nil
}

// ComputeState implements metrics.Impl.
func (m *ConfusionMatrix) ComputeState() (*tensors.Tensor, error) {
	confmat := m.confmat.Value()
	if m.normalize == NormalizeNone {
		return confmat.Clone(), nil
	}
	dims := m.dims()
	numRows, numCols := dims[len(dims)-2], dims[len(dims)-1]
	flat := confmat.Flat()
	for offset := 0; offset < len(flat); offset += numRows * numCols {
		normalizeMatrix(flat[offset:offset+numRows*numCols], numRows, numCols, m.normalize)
	}
	return tensors.FromFloat64s(dtypes.Float64, flat, dims...), nil
}

// normalizeMatrix normalizes one [numRows, numCols] matrix in place. Rows, columns or matrices with no
// counts are left as 0.
func normalizeMatrix(matrix []float64, numRows, numCols int, normalize Normalize) {
	divide := func(indices func(yield func(int) bool)) {
		var total float64
		for idx := range indices {
			total += matrix[idx]
		}
		if total == 0 {
			return
		}
		for idx := range indices {
			matrix[idx] /= total
		}
	}
	switch normalize {
	case NormalizeTrue:
		for row := range numRows {
			divide(func(yield func(int) bool) {
				for col := range numCols {
					if !yield(row*numCols + col) {
						return
					}
				}
			})
		}
	case NormalizePred:
		for col := range numCols {
			divide(func(yield func(int) bool) {
				for row := range numRows {
					if !yield(row*numCols + col) {
						return
					}
				}
			})
		}
	case NormalizeAll:
		divide(func(yield func(int) bool) {
			for idx := range matrix {
				if !yield(idx) {
					return
				}
			}
		})
	}
}
