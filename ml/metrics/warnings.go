// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"fmt"

	"k8s.io/klog/v2"
)

// WarningKind enumerates the non-fatal conditions a metric may report.
type WarningKind int

const (
	// WarnDistributedUnavailable is issued once per metric when a Gatherer was configured but is not active,
	// and syncing degrades to a no-op.
	WarnDistributedUnavailable WarningKind = iota

	// WarnNumericalInstability is issued when a denominator (variance, support) is close to zero.
	// The result is still returned, clamped where meaningful.
	WarnNumericalInstability

	// WarnComputeBeforeUpdate is issued when Compute is called before any Update.
	WarnComputeBeforeUpdate

	// WarnNaNDropped is issued when NaN inputs were dropped by a metric configured to warn on them.
	WarnNaNDropped
)

func (k WarningKind) String() string {
	switch k {
	case WarnDistributedUnavailable:
		return "DistributedUnavailable"
	case WarnNumericalInstability:
		return "NumericalInstability"
	case WarnComputeBeforeUpdate:
		return "ComputeBeforeUpdate"
	case WarnNaNDropped:
		return "NaNDropped"
	}
	return fmt.Sprintf("WarningKind(%d)", int(k))
}

// Warning is a non-fatal condition reported by a metric.
type Warning struct {
	Kind    WarningKind
	Metric  string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("metric %q: %s: %s", w.Metric, w.Kind, w.Message)
}

// WarningHandler receives the warnings issued by a metric. See WithWarningHandler.
type WarningHandler func(w Warning)

// LogWarning is the default WarningHandler: it logs the warning with klog.
func LogWarning(w Warning) {
	klog.Warningf("%s", w)
}

// Warnf issues a warning of the given kind through the metric's WarningHandler.
func (b *Base) Warnf(kind WarningKind, format string, args ...any) {
	handler := b.warningHandler
	if handler == nil {
		handler = LogWarning
	}
	handler(Warning{Kind: kind, Metric: b.name, Message: fmt.Sprintf(format, args...)})
}
