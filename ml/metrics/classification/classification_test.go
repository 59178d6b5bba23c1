// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classification

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/ml/metrics/distributed"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compute(t *testing.T, m metrics.Interface, preds, target any) *tensors.Tensor {
	t.Helper()
	require.NoError(t, m.Update(tensors.FromValue(preds), tensors.FromValue(target)))
	return must.M1(m.Compute())
}

func TestBinaryAllNegative(t *testing.T) {
	preds, target := []int{0, 0, 0, 0}, []int{0, 0, 0, 0}
	assert.Equal(t, 0.0, compute(t, must.M1(NewPrecision(Config{})), preds, target).Float64())
	assert.Equal(t, 0.0, compute(t, must.M1(NewRecall(Config{})), preds, target).Float64())
	assert.Equal(t, 1.0, compute(t, must.M1(NewAccuracy(Config{})), preds, target).Float64())
	assert.Equal(t, 0.5, compute(t, must.M1(NewPrecision(Config{ZeroDivision: 0.5})), preds, target).Float64())
}

func TestZeroDivisionWarning(t *testing.T) {
	var warnings []metrics.Warning
	handler := metrics.WithWarningHandler(func(w metrics.Warning) { warnings = append(warnings, w) })
	preds, target := []int{0, 0, 0, 0}, []int{0, 0, 0, 0}

	precision := must.M1(NewPrecision(Config{}, handler))
	assert.Equal(t, 0.0, compute(t, precision, preds, target).Float64())
	require.Len(t, warnings, 1)
	assert.Equal(t, metrics.WarnNumericalInstability, warnings[0].Kind)
	assert.Equal(t, "precision", warnings[0].Metric)

	// Well-defined ratios don't warn.
	warnings = nil
	accuracy := must.M1(NewAccuracy(Config{}, handler))
	assert.Equal(t, 1.0, compute(t, accuracy, preds, target).Float64())
	assert.Empty(t, warnings)

	// Per class: classes 1 and 2 have no support, still a single warning per compute.
	recall := must.M1(NewRecall(Config{Task: Multiclass, NumClasses: 3, Average: AverageNone}, handler))
	assert.Equal(t, []float64{1, 0, 0}, compute(t, recall, []int{0, 0}, []int{0, 0}).Flat())
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "2 ratio(s)")
}

func TestBinary(t *testing.T) {
	target := []int{0, 1, 0, 0, 1}
	for name, preds := range map[string][]float64{
		"probabilities": {0.1, 0.9, 0.6, 0.3, 0.8},
		"logits":        {-2, 3, 0.5, -1, 2},
	} {
		t.Run(name, func(t *testing.T) {
			scores := compute(t, must.M1(NewStatScores(Config{})), preds, target)
			assert.Equal(t, []float64{2, 1, 2, 0, 2}, scores.Flat())
			assert.InDelta(t, 0.8, compute(t, must.M1(NewAccuracy(Config{})), preds, target).Float64(), 1e-12)
			assert.InDelta(t, 2.0/3.0, compute(t, must.M1(NewPrecision(Config{})), preds, target).Float64(), 1e-12)
			assert.InDelta(t, 1.0, compute(t, must.M1(NewRecall(Config{})), preds, target).Float64(), 1e-12)
			assert.InDelta(t, 2.0/3.0, compute(t, must.M1(NewSpecificity(Config{})), preds, target).Float64(), 1e-12)
			assert.InDelta(t, 0.8, compute(t, must.M1(NewF1(Config{})), preds, target).Float64(), 1e-12)
			// F2 = 5*tp / (5*tp + 4*fn + fp) = 10/11.
			assert.InDelta(t, 10.0/11.0, compute(t, must.M1(NewFBeta(Config{Beta: 2})), preds, target).Float64(), 1e-12)
		})
	}

	// A higher threshold turns the 0.6 prediction into a negative.
	acc := must.M1(NewAccuracy(Config{Threshold: 0.7}))
	assert.InDelta(t, 1.0, compute(t, acc, []float64{0.1, 0.9, 0.6, 0.3, 0.8}, target).Float64(), 1e-12)
}

func TestMulticlassAverages(t *testing.T) {
	// Class 3 never appears.
	preds := []int{0, 1, 2, 2, 1, 0}
	target := []int{0, 2, 2, 1, 1, 1}
	cfg := func(average Average) Config {
		return Config{Task: Multiclass, NumClasses: 4, Average: average}
	}

	scores := compute(t, must.M1(NewStatScores(cfg(AverageNone))), preds, target)
	assert.Equal(t, []int{4, 5}, scores.Shape().Dimensions)
	assert.Equal(t, []float64{
		1, 1, 4, 0, 1,
		1, 1, 2, 2, 3,
		1, 1, 3, 1, 2,
		0, 0, 6, 0, 0,
	}, scores.Flat())
	assert.Equal(t, []float64{3, 3, 15, 3, 6}, compute(t, must.M1(NewStatScores(cfg(AverageMicro))), preds, target).Flat())

	recall := func(average Average) *tensors.Tensor {
		return compute(t, must.M1(NewRecall(cfg(average))), preds, target)
	}
	assert.InDelta(t, 0.5, recall(AverageMicro).Float64(), 1e-12)
	assert.InDelta(t, 11.0/18.0, recall(AverageMacro).Float64(), 1e-12)
	assert.InDelta(t, 0.5, recall(AverageWeighted).Float64(), 1e-12)
	assert.InDeltaSlice(t, []float64{1, 1.0 / 3.0, 0.5, 0}, recall(AverageNone).Flat(), 1e-12)

	assert.InDelta(t, 0.5, compute(t, must.M1(NewPrecision(cfg(AverageMacro))), preds, target).Float64(), 1e-12)
	assert.InDelta(t, 0.5, compute(t, must.M1(NewAccuracy(cfg(AverageMicro))), preds, target).Float64(), 1e-12)

	// Scores shaped [batch, numClasses] are reduced with argmax.
	acc := must.M1(NewAccuracy(Config{Task: Multiclass, NumClasses: 3}))
	result := compute(t, acc, [][]float64{{0.9, 0.05, 0.05}, {0.1, 0.2, 0.7}, {0.3, 0.4, 0.3}}, []int{0, 1, 1})
	assert.InDelta(t, 2.0/3.0, result.Float64(), 1e-12)
}

func TestMultilabel(t *testing.T) {
	preds := [][]int{{1, 0}, {1, 1}, {0, 1}}
	target := [][]int{{1, 0}, {0, 1}, {0, 0}}
	cfg := Config{Task: Multilabel, NumLabels: 2}
	assert.InDelta(t, 4.0/6.0, compute(t, must.M1(NewAccuracy(cfg)), preds, target).Float64(), 1e-12)
	cfg.Average = AverageNone
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, compute(t, must.M1(NewPrecision(cfg)), preds, target).Flat(), 1e-12)

	cm := compute(t, must.M1(NewConfusionMatrix(cfg, NormalizeNone)), preds, target)
	assert.Equal(t, []int{2, 2, 2}, cm.Shape().Dimensions)
	assert.Equal(t, []float64{1, 1, 0, 1, 1, 1, 0, 1}, cm.Flat())

	m := must.M1(NewAccuracy(cfg))
	err := m.Update(tensors.FromValue([][]int{{1, 0, 1}}), tensors.FromValue([][]int{{1, 0, 1}}))
	require.ErrorIs(t, err, metrics.ErrValidation)
}

func TestIgnoreIndex(t *testing.T) {
	preds, target := []int{1, 1, 0, 0}, []int{1, -1, 0, 1}
	acc := must.M1(NewAccuracy(Config{IgnoreIndex: IgnoreIndex(-1)}))
	assert.InDelta(t, 2.0/3.0, compute(t, acc, preds, target).Float64(), 1e-12)

	acc = must.M1(NewAccuracy(Config{}))
	require.ErrorIs(t, acc.Update(tensors.FromValue(preds), tensors.FromValue(target)), metrics.ErrValidation)
	assert.Equal(t, 0, acc.UpdateCount())
}

func TestConfusionMatrix(t *testing.T) {
	preds := []int{0, 1, 2, 2, 1, 0}
	target := []int{0, 2, 2, 1, 1, 1}
	cfg := Config{Task: Multiclass, NumClasses: 3}
	cm := compute(t, must.M1(NewConfusionMatrix(cfg, NormalizeNone)), preds, target)
	assert.Equal(t, []float64{1, 0, 0, 1, 1, 1, 0, 1, 1}, cm.Flat())

	cm = compute(t, must.M1(NewConfusionMatrix(cfg, NormalizeTrue)), preds, target)
	assert.InDeltaSlice(t, []float64{1, 0, 0, 1.0 / 3, 1.0 / 3, 1.0 / 3, 0, 0.5, 0.5}, cm.Flat(), 1e-12)
	cm = compute(t, must.M1(NewConfusionMatrix(cfg, NormalizePred)), preds, target)
	assert.InDeltaSlice(t, []float64{0.5, 0, 0, 0.5, 0.5, 0.5, 0, 0.5, 0.5}, cm.Flat(), 1e-12)
	cm = compute(t, must.M1(NewConfusionMatrix(cfg, NormalizeAll)), preds, target)
	assert.InDelta(t, 1.0, tensors.ReduceAllSum(cm).Float64(), 1e-12)

	binary := compute(t, must.M1(NewConfusionMatrix(Config{}, NormalizeNone)),
		[]float64{0.1, 0.9, 0.6, 0.3, 0.8}, []int{0, 1, 0, 0, 1})
	assert.Equal(t, []float64{2, 1, 0, 2}, binary.Flat())

	// Empty matrix normalizes to zeros.
	empty := must.M1(must.M1(NewConfusionMatrix(cfg, NormalizeTrue)).Compute())
	assert.Equal(t, make([]float64, 9), empty.Flat())
}

func TestDistributed(t *testing.T) {
	const numClasses, numSamples = 5, 203
	rng := rand.New(rand.NewPCG(7, 11))
	preds, target := make([]int, numSamples), make([]int, numSamples)
	for ii := range preds {
		target[ii] = rng.IntN(numClasses)
		preds[ii] = target[ii]
		if rng.Float64() < 0.4 {
			preds[ii] = rng.IntN(numClasses)
		}
	}

	for _, kind := range []Kind{KindAccuracy, KindPrecision, KindF1, KindStatScores, KindConfusionMatrix} {
		cfg := Config{Task: Multiclass, NumClasses: numClasses, Average: AverageMacro}
		want := compute(t, must.M1(New(kind, cfg)), preds, target).Flat()
		for _, worldSize := range []int{1, 2, 4} {
			results := make([][]float64, worldSize)
			require.NoError(t, distributed.Run(context.Background(), worldSize, func(_ context.Context, g distributed.Gatherer) error {
				m, err := New(kind, cfg, metrics.WithGatherer(g))
				if err != nil {
					return err
				}
				for start := g.Rank() * 16; start < numSamples; start += worldSize * 16 {
					end := min(start+16, numSamples)
					if err := m.Update(tensors.FromValue(preds[start:end]), tensors.FromValue(target[start:end])); err != nil {
						return err
					}
				}
				result, err := m.Compute()
				if err != nil {
					return err
				}
				results[g.Rank()] = result.Flat()
				return nil
			}))
			for _, result := range results {
				assert.InDeltaSlice(t, want, result, 1e-12, "%s with %d workers", kind, worldSize)
			}
		}
	}
}

func TestCall(t *testing.T) {
	acc := must.M1(NewAccuracy(Config{}))
	batch := must.M1(acc.Call(tensors.FromValue([]int{1, 1}), tensors.FromValue([]int{1, 0})))
	assert.InDelta(t, 0.5, batch.Float64(), 1e-12)
	batch = must.M1(acc.Call(tensors.FromValue([]int{1, 0}), tensors.FromValue([]int{1, 0})))
	assert.InDelta(t, 1.0, batch.Float64(), 1e-12)
	assert.InDelta(t, 0.75, must.M1(acc.Compute()).Float64(), 1e-12)
}

func TestConfigErrors(t *testing.T) {
	for name, cfg := range map[string]Config{
		"multiclass without classes": {Task: Multiclass, NumClasses: 1},
		"multilabel without labels":  {Task: Multilabel},
		"binary with classes":        {NumClasses: 3},
		"threshold":                  {Threshold: 1.5},
		"average":                    {Average: Average(17)},
		"beta":                       {Beta: -1},
		"task":                       {Task: Task(5)},
	} {
		_, err := NewAccuracy(cfg)
		assert.ErrorIs(t, err, metrics.ErrConfiguration, name)
	}
	_, err := New(Kind(99), Config{})
	assert.ErrorIs(t, err, metrics.ErrConfiguration)
	_, err = NewConfusionMatrix(Config{}, Normalize(9))
	assert.ErrorIs(t, err, metrics.ErrConfiguration)

	for _, name := range []string{"accuracy", "f1", "confusion_matrix"} {
		kind, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, name, kind.String())
	}
	_, err = ParseKind("auroc")
	assert.ErrorIs(t, err, metrics.ErrConfiguration)
	average, err := ParseAverage("weighted")
	require.NoError(t, err)
	assert.Equal(t, AverageWeighted, average)
	_, err = ParseTask("regression")
	assert.ErrorIs(t, err, metrics.ErrConfiguration)

	// Multiclass targets out of range.
	m := must.M1(NewRecall(Config{Task: Multiclass, NumClasses: 3}))
	require.ErrorIs(t, m.Update(tensors.FromValue([]int{0, 1}), tensors.FromValue([]int{0, 3})), metrics.ErrValidation)
	require.ErrorIs(t, m.Update(tensors.FromValue([]int{0, 1})), metrics.ErrValidation)
}
