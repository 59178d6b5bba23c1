// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classification

import (
	"math"
	"slices"

	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/types/shapes"
	"github.com/gomlx/streammetrics/types/tensors"
)

// entries are the formatted inputs of a batch, after dropping ignored targets.
//
// For Binary and Multilabel, preds and target are 0/1 and labels holds the label index of each entry (0 for
// Binary). For Multiclass, preds and target hold class indices, and labels is not used.
type entries struct {
	preds, target, labels []int
}

// formatInputs validates and formats preds and target according to the task.
func formatInputs(cfg *Config, preds, target *tensors.Tensor) (*entries, error) {
	switch cfg.Task {
	case Binary, Multilabel:
		if err := shapes.CheckSameDims(preds, target); err != nil {
			return nil, metrics.Validationf("preds and target: %v", err)
		}
		numLabels := 1
		if cfg.Task == Multilabel {
			if preds.Rank() != 2 || preds.Shape().Dim(1) != cfg.NumLabels {
				return nil, metrics.Validationf("expected preds and target shaped [batch, %d], got %s",
					cfg.NumLabels, preds.Shape())
			}
			numLabels = cfg.NumLabels
		}
		predValues, err := binarize(cfg, preds)
		if err != nil {
			return nil, err
		}
		return collect(cfg, predValues, target, 2, func(ii int) int { return ii % numLabels })

	case Multiclass:
		var predValues []float64
		switch {
		case preds.Rank() == target.Rank()+1 && preds.Rank() >= 2:
			if preds.Shape().Dim(1) != cfg.NumClasses {
				return nil, metrics.Validationf("expected preds with %d classes on axis 1, got shape %s",
					cfg.NumClasses, preds.Shape())
			}
			labels := tensors.ArgMax(preds, 1)
			if !labels.Shape().EqualDimensions(target.Shape()) {
				return nil, metrics.Validationf("preds shape %s doesn't match target shape %s", preds.Shape(), target.Shape())
			}
			predValues = labels.Flat()
		case preds.Shape().EqualDimensions(target.Shape()):
			predValues = preds.Flat()
			if err := checkLabels(predValues, cfg.NumClasses, "preds"); err != nil {
				return nil, err
			}
		default:
			return nil, metrics.Validationf("preds shape %s doesn't match target shape %s", preds.Shape(), target.Shape())
		}
		return collect(cfg, predValues, target, cfg.NumClasses, func(int) int { return 0 })
	}
	return nil, metrics.Configurationf("unsupported task %s", cfg.Task)
}

// binarize thresholds float predictions (applying a sigmoid first if they are not all in [0, 1]), or checks
// that integer predictions are 0/1.
func binarize(cfg *Config, preds *tensors.Tensor) ([]float64, error) {
	values := preds.Flat()
	if !shapes.IsFloat(preds.DType()) {
		return values, checkLabels(values, 2, "preds")
	}
	isLogits := slices.ContainsFunc(values, func(v float64) bool { return v < 0 || v > 1 })
	for ii, v := range values {
		if isLogits {
			v = 1 / (1 + math.Exp(-v))
		}
		if v > cfg.Threshold {
			values[ii] = 1
		} else {
			values[ii] = 0
		}
	}
	return values, nil
}

// checkLabels checks that values are integers in [0, numClasses).
func checkLabels(values []float64, numClasses int, name string) error {
	for _, v := range values {
		if v != math.Trunc(v) || v < 0 || v >= float64(numClasses) {
			return metrics.Validationf("%s has value %g, expected integers in [0, %d)", name, v, numClasses)
		}
	}
	return nil
}

// collect builds the entries, dropping those whose target is the ignore index, and validating the others.
func collect(cfg *Config, predValues []float64, target *tensors.Tensor, numClasses int, label func(ii int) int) (*entries, error) {
	targetValues := target.Flat()
	e := &entries{
		preds:  make([]int, 0, len(predValues)),
		target: make([]int, 0, len(predValues)),
		labels: make([]int, 0, len(predValues)),
	}
	for ii, t := range targetValues {
		if cfg.IgnoreIndex != nil && t == float64(*cfg.IgnoreIndex) {
			continue
		}
		if t != math.Trunc(t) || t < 0 || t >= float64(numClasses) {
			return nil, metrics.Validationf("target has value %g, expected integers in [0, %d)", t, numClasses)
		}
		e.preds = append(e.preds, int(predValues[ii]))
		e.target = append(e.target, int(t))
		e.labels = append(e.labels, label(ii))
	}
	return e, nil
}
