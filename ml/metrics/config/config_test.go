// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/ml/metrics/collection"
	"github.com/gomlx/streammetrics/ml/metrics/regression"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64s(values ...float64) *tensors.Tensor { return tensors.FromValue(values) }

func TestLoadAndBuild(t *testing.T) {
	spec, err := Load("testdata/collection.yaml")
	require.NoError(t, err)
	assert.Equal(t, "val_", spec.Prefix)
	require.Len(t, spec.Metrics, 5)
	assert.Equal(t, "pearson", spec.Metrics[1].Name)

	c, err := Build(spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"val_acc", "val_pearson", "val_loss", "val_mrr", "val_median"}, c.Keys())

	require.NoError(t, c.UpdateBatch(collection.Batch{
		"preds":           f64s(0, 1, 2, 2),
		"target":          f64s(0, 1, 2, 1),
		"value":           f64s(1, 2, 3),
		"ranking_indexes": tensors.FromValue([]int{0, 0, 1}),
		"ranking_preds":   f64s(0.3, 0.6, 0.2),
		"ranking_target":  tensors.FromValue([]int{1, 0, 0}),
	}))
	results, err := c.Compute()
	require.NoError(t, err)
	// Recall per class is [1, 0.5, 1].
	assert.InDelta(t, 2.5/3, results["val_acc"].Float64(), 1e-12)
	assert.InDelta(t, 0.5, results["val_loss"].Float64(), 1e-12)
	// Query 0 scores 1/2, query 1 has no relevant document and scores 0.
	assert.InDelta(t, 0.25, results["val_mrr"].Float64(), 1e-12)
	assert.InDelta(t, 2.0, results["val_median"].Float64(), 1e-12)
	assert.Equal(t, "Float64", results["val_pearson"].DType().String())

	// Collections built from a spec can be cloned.
	clone, err := c.Clone("test_")
	require.NoError(t, err)
	assert.Equal(t, "test_acc", clone.Keys()[0])
}

func TestParseErrors(t *testing.T) {
	for name, data := range map[string]string{
		"invalid yaml": "metrics: [",
		"no metrics":   "prefix: x",
		"no type":      "metrics: [{name: acc}]",
	} {
		_, err := Parse([]byte(data))
		assert.ErrorIs(t, err, metrics.ErrConfiguration, name)
	}
	_, err := Load("testdata/missing.yaml")
	assert.Error(t, err)

	for name, data := range map[string]string{
		"unknown type":    "metrics: [{type: auroc}]",
		"duplicate":       "metrics: [{type: mse}, {type: mse}]",
		"bad task":        "metrics: [{type: accuracy, params: {task: ranking}}]",
		"bad params":      "metrics: [{type: pearson, params: {num_outputs: many}}]",
		"bad dtype":       "metrics: [{type: pearson, params: {dtype: text}}]",
		"bad nan":         "metrics: [{type: sum, params: {nan: skip}}]",
		"bad p":           "metrics: [{type: quantile, params: {p: 1.5}}]",
		"bad empty":       "metrics: [{type: hit_rate, params: {empty_target: drop}}]",
		"bad num_classes": "metrics: [{type: f1, params: {task: multiclass, num_classes: 1}}]",
	} {
		spec, err := Parse([]byte(data))
		require.NoError(t, err, name)
		_, err = Build(spec)
		assert.ErrorIs(t, err, metrics.ErrConfiguration, name)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("r2", func(params Params, opts ...metrics.Option) (metrics.Interface, error) {
		return asInterface(regression.NewMeanSquaredError(true, 1, opts...))
	}))
	assert.ErrorIs(t, r.Register("r2", nil), metrics.ErrConfiguration)
	assert.Equal(t, []string{"r2"}, r.Types())

	c := must.M1(r.Build(must.M1(Parse([]byte("metrics: [{type: r2}]")))))
	require.NoError(t, c.Update(f64s(1, 2), f64s(1, 4)))
	assert.InDelta(t, 2.0, must.M1(c.Compute())["r2"].Float64(), 1e-12)

	types := DefaultRegistry().Types()
	for _, typeName := range []string{"sum", "running_moments", "nrmse", "confusion_matrix", "hit_rate", "f1"} {
		assert.Contains(t, types, typeName)
	}
}
