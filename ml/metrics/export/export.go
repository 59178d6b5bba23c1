// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package export publishes computed metrics as Prometheus gauges.
package export

import (
	"io"
	"strconv"

	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const (
	// MetricLabel holds the result key, e.g. "val_acc".
	MetricLabel = "metric"

	// IndexLabel holds the flat index of each value of non-scalar results, and is empty for scalars.
	IndexLabel = "index"
)

// Publisher holds one gauge per metric value.
type Publisher struct {
	gauge *prometheus.GaugeVec
}

// NewPublisher creates a gauge vector named "<namespace>_<name>" and registers it with reg. If reg is nil,
// the gauge is not registered: use Collector to register it later.
func NewPublisher(namespace, name string, reg prometheus.Registerer) (*Publisher, error) {
	p := &Publisher{
		gauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      "Value of the evaluation metrics, by metric and by flat index for non-scalar metrics.",
		}, []string{MetricLabel, IndexLabel}),
	}
	if reg != nil {
		if err := reg.Register(p.gauge); err != nil {
			return nil, errors.Wrapf(err, "failed to register gauge %s_%s", namespace, name)
		}
	}
	return p, nil
}

// Collector returns the underlying gauge vector.
func (p *Publisher) Collector() prometheus.Collector { return p.gauge }

// Publish sets the gauges with the values of the results, as returned by collection.Collection.Compute.
// Gauges of previous results are left as they were.
func (p *Publisher) Publish(results map[string]*tensors.Tensor) {
	for key, value := range results {
		if value == nil {
			continue
		}
		if value.IsScalar() {
			p.gauge.WithLabelValues(key, "").Set(value.Float64())
			continue
		}
		for ii, v := range value.Flat() {
			p.gauge.WithLabelValues(key, strconv.Itoa(ii)).Set(v)
		}
	}
}

// Reset drops all gauges.
func (p *Publisher) Reset() {
	p.gauge.Reset()
}

// WriteText writes everything gathered by g in the Prometheus text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return errors.Wrap(err, "failed to gather metrics")
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return errors.Wrapf(err, "failed to write metric family %q", family.GetName())
		}
	}
	return nil
}
