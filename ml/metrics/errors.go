// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/pkg/errors"
)

// Sentinel errors returned (wrapped with context) by metrics. Check them with errors.Is.
var (
	// ErrConfiguration is returned when a metric is constructed with invalid options or state declarations.
	ErrConfiguration = errors.New("invalid metric configuration")

	// ErrValidation is returned by Update when the inputs are invalid (shape, dtype or value range).
	// The metric state is left untouched.
	ErrValidation = errors.New("invalid metric inputs")

	// ErrEmptyState is returned by Compute for metrics that have no defined result before any update.
	ErrEmptyState = errors.New("metric has no accumulated state")

	// ErrAlreadySynced is returned when syncing (or updating) a metric that is already synced.
	ErrAlreadySynced = errors.New("metric state is already synced")

	// ErrNotSynced is returned by Unsync when the metric was not synced.
	ErrNotSynced = errors.New("metric state is not synced")
)

// Configurationf returns an ErrConfiguration wrapped with the formatted message.
func Configurationf(format string, args ...any) error {
	return errors.Wrapf(ErrConfiguration, format, args...)
}

// Validationf returns an ErrValidation wrapped with the formatted message.
func Validationf(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

// CheckNumInputs returns an ErrValidation if the number of inputs is not in [minInputs, maxInputs].
func CheckNumInputs(inputs []*tensors.Tensor, minInputs, maxInputs int) error {
	if len(inputs) < minInputs || len(inputs) > maxInputs {
		if minInputs == maxInputs {
			return Validationf("expected %d inputs, got %d", minInputs, len(inputs))
		}
		return Validationf("expected between %d and %d inputs, got %d", minInputs, maxInputs, len(inputs))
	}
	return nil
}
