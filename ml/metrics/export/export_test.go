// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package export

import (
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered returns the gauge values by "metric/index" label.
func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, family := range families {
		for _, m := range family.GetMetric() {
			labels := make(map[string]string)
			for _, label := range m.GetLabel() {
				labels[label.GetName()] = label.GetValue()
			}
			values[labels[MetricLabel]+"/"+labels[IndexLabel]] = m.GetGauge().GetValue()
		}
	}
	return values
}

func TestPublisher(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPublisher("streammetrics", "eval", reg)
	require.NoError(t, err)

	p.Publish(map[string]*tensors.Tensor{
		"val_acc":    tensors.FromScalar(dtypes.Float64, 0.75),
		"val_recall": tensors.FromValue([]float64{1, 0.5}),
		"missing":    nil,
	})
	assert.Equal(t, map[string]float64{"val_acc/": 0.75, "val_recall/0": 1, "val_recall/1": 0.5}, gathered(t, reg))

	p.Publish(map[string]*tensors.Tensor{"val_acc": tensors.FromScalar(dtypes.Float32, 0.5)})
	assert.Equal(t, 0.5, gathered(t, reg)["val_acc/"])

	var sb strings.Builder
	require.NoError(t, WriteText(&sb, reg))
	assert.Contains(t, sb.String(), `streammetrics_eval{index="1",metric="val_recall"} 0.5`)

	p.Reset()
	assert.Empty(t, gathered(t, reg))

	// Registering the same gauge twice fails.
	_, err = NewPublisher("streammetrics", "eval", reg)
	assert.Error(t, err)
	p2, err := NewPublisher("streammetrics", "eval", nil)
	require.NoError(t, err)
	assert.NotNil(t, p2.Collector())
}
