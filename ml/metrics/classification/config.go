// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package classification implements the confusion-matrix family of metrics: StatScores and the
// metrics reduced from its counts (Accuracy, Precision, Recall, FBeta/F1 and Specificity), plus a full
// ConfusionMatrix.
//
// All of them accumulate integer counters (true/false positives/negatives) summed across batches and
// across workers, and only form ratios in Compute, according to an Average policy.
//
// Use New to create a metric of a given Kind from a Config: it replaces the dispatch on the task (binary,
// multiclass or multilabel) by an explicit switch.
package classification

import (
	"fmt"

	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/pkg/errors"
)

// Task is the type of classification problem.
type Task int

const (
	// Binary classification: preds are probabilities (or logits, if outside [0, 1]) or 0/1 labels,
	// and target is 0/1, both of any (same) shape.
	Binary Task = iota

	// Multiclass classification: preds are scores shaped [batch, NumClasses] (argmax is taken), or labels
	// shaped [batch] like the target, with values in [0, NumClasses).
	Multiclass

	// Multilabel classification: preds and target are shaped [batch, NumLabels], preds are probabilities
	// (or logits) or 0/1 labels, and target is 0/1.
	Multilabel
)

func (t Task) String() string {
	switch t {
	case Binary:
		return "binary"
	case Multiclass:
		return "multiclass"
	case Multilabel:
		return "multilabel"
	}
	return fmt.Sprintf("Task(%d)", int(t))
}

// ParseTask converts "binary", "multiclass" or "multilabel" to a Task.
func ParseTask(name string) (Task, error) {
	for t := Binary; t <= Multilabel; t++ {
		if t.String() == name {
			return t, nil
		}
	}
	return 0, errors.Wrapf(metrics.ErrConfiguration,
		"task should be either \"binary\", \"multiclass\" or \"multilabel\", got %q", name)
}

// Average is how per-class (or per-label) scores are reduced. It is ignored for the Binary task.
type Average int

const (
	// AverageMicro sums the counts over all classes before forming the ratio.
	AverageMicro Average = iota

	// AverageMacro computes the ratio per class and takes the unweighted mean. Classes that never appear,
	// neither in preds nor in the target, are left out of the mean.
	AverageMacro

	// AverageWeighted computes the ratio per class and takes the mean weighted by each class support
	// (the number of true instances).
	AverageWeighted

	// AverageNone returns the per-class ratios.
	AverageNone
)

func (a Average) String() string {
	switch a {
	case AverageMicro:
		return "micro"
	case AverageMacro:
		return "macro"
	case AverageWeighted:
		return "weighted"
	case AverageNone:
		return "none"
	}
	return fmt.Sprintf("Average(%d)", int(a))
}

// ParseAverage converts "micro", "macro", "weighted" or "none" to an Average.
func ParseAverage(name string) (Average, error) {
	for a := AverageMicro; a <= AverageNone; a++ {
		if a.String() == name {
			return a, nil
		}
	}
	return 0, errors.Wrapf(metrics.ErrConfiguration,
		"average should be either \"micro\", \"macro\", \"weighted\" or \"none\", got %q", name)
}

// Config of a classification metric.
type Config struct {
	Task Task

	// NumClasses is required for Multiclass, and must be >= 2.
	NumClasses int

	// NumLabels is required for Multilabel.
	NumLabels int

	// Threshold above which a probability is taken as positive, for Binary and Multilabel. Defaults to 0.5.
	Threshold float64

	Average Average

	// IgnoreIndex, if set, is a target value whose entries are left out of the counts.
	IgnoreIndex *int

	// ZeroDivision is the value returned by ratios whose denominator is 0. Defaults to 0.
	ZeroDivision float64

	// Beta is the weight of recall for FBeta. Defaults to 1 (F1).
	Beta float64
}

// IgnoreIndex returns a pointer to index, to be used in Config.IgnoreIndex.
func IgnoreIndex(index int) *int {
	return &index
}

// numClasses returns the number of counters kept: 1 for Binary.
func (cfg *Config) numClasses() int {
	switch cfg.Task {
	case Multiclass:
		return cfg.NumClasses
	case Multilabel:
		return cfg.NumLabels
	}
	return 1
}

// validate checks the configuration and fills in the defaults.
func (cfg *Config) validate() error {
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.5
	}
	if cfg.Beta == 0 {
		cfg.Beta = 1
	}
	switch {
	case cfg.Task < Binary || cfg.Task > Multilabel:
		return metrics.Configurationf("unsupported task %s", cfg.Task)
	case cfg.Task == Multiclass && cfg.NumClasses < 2:
		return metrics.Configurationf("multiclass task requires NumClasses >= 2, got %d", cfg.NumClasses)
	case cfg.Task == Multilabel && cfg.NumLabels < 1:
		return metrics.Configurationf("multilabel task requires NumLabels >= 1, got %d", cfg.NumLabels)
	case cfg.Task != Multiclass && cfg.NumClasses != 0:
		return metrics.Configurationf("NumClasses=%d given for a %s task", cfg.NumClasses, cfg.Task)
	case cfg.Task != Multilabel && cfg.NumLabels != 0:
		return metrics.Configurationf("NumLabels=%d given for a %s task", cfg.NumLabels, cfg.Task)
	case cfg.Threshold < 0 || cfg.Threshold > 1:
		return metrics.Configurationf("threshold must be in [0, 1], got %g", cfg.Threshold)
	case cfg.Average < AverageMicro || cfg.Average > AverageNone:
		return metrics.Configurationf("unsupported average %s", cfg.Average)
	case cfg.Beta < 0:
		return metrics.Configurationf("beta must be positive, got %g", cfg.Beta)
	}
	return nil
}
