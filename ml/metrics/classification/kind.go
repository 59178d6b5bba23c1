// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classification

import (
	"fmt"

	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/pkg/errors"
)

// Kind of classification metric, used by New.
type Kind int

const (
	KindStatScores Kind = iota
	KindAccuracy
	KindPrecision
	KindRecall
	KindFBeta
	KindF1
	KindSpecificity
	KindConfusionMatrix
)

var kindNames = []string{"stat_scores", "accuracy", "precision", "recall", "fbeta", "f1", "specificity", "confusion_matrix"}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind converts a metric name (e.g. "accuracy", "f1") to a Kind.
func ParseKind(name string) (Kind, error) {
	for k, kindName := range kindNames {
		if kindName == name {
			return Kind(k), nil
		}
	}
	return 0, errors.Wrapf(metrics.ErrConfiguration, "unknown classification metric %q, valid values are %q",
		name, kindNames)
}

// New creates a classification metric of the given kind. A ConfusionMatrix created this way is not
// normalized.
func New(kind Kind, cfg Config, opts ...metrics.Option) (metrics.Interface, error) {
	switch kind {
	case KindStatScores:
		return asInterface(NewStatScores(cfg, opts...))
	case KindAccuracy:
		return asInterface(NewAccuracy(cfg, opts...))
	case KindPrecision:
		return asInterface(NewPrecision(cfg, opts...))
	case KindRecall:
		return asInterface(NewRecall(cfg, opts...))
	case KindFBeta:
		return asInterface(NewFBeta(cfg, opts...))
	case KindF1:
		return asInterface(NewF1(cfg, opts...))
	case KindSpecificity:
		return asInterface(NewSpecificity(cfg, opts...))
	case KindConfusionMatrix:
		return asInterface(NewConfusionMatrix(cfg, NormalizeNone, opts...))
	}
	return nil, metrics.Configurationf("unsupported classification metric %s", kind)
}

// asInterface avoids returning a non-nil interface holding a nil pointer.
func asInterface[T metrics.Interface](m T, err error) (metrics.Interface, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}
