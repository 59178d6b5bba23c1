// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package aggregation

import (
	"context"
	"math"
	"slices"
	"sync"
	"testing"

	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/ml/metrics/distributed"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func f64s(values ...float64) *tensors.Tensor {
	return tensors.FromValue(values)
}

// warnings records the warnings issued by metrics.
type warnings struct {
	mu   sync.Mutex
	list []metrics.Warning
}

func (w *warnings) handler(warning metrics.Warning) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.list = append(w.list, warning)
}

func (w *warnings) kinds() []metrics.WarningKind {
	w.mu.Lock()
	defer w.mu.Unlock()
	var kinds []metrics.WarningKind
	for _, warning := range w.list {
		kinds = append(kinds, warning.Kind)
	}
	return kinds
}

func compute(t *testing.T, m metrics.Interface) float64 {
	t.Helper()
	return must.M1(m.Compute()).Float64()
}

func TestBasicAggregations(t *testing.T) {
	w := &warnings{}
	opt := metrics.WithWarningHandler(w.handler)
	sum := must.M1(NewSum(NaNWarn, opt))
	mean := must.M1(NewMean(NaNWarn, opt))
	minM := must.M1(NewMin(NaNWarn, opt))
	maxM := must.M1(NewMax(NaNWarn, opt))

	// Empty values.
	assert.Equal(t, 0.0, compute(t, sum))
	assert.True(t, math.IsNaN(compute(t, mean)))
	assert.True(t, math.IsInf(compute(t, minM), 1))
	assert.True(t, math.IsInf(compute(t, maxM), -1))
	assert.Len(t, w.kinds(), 4)

	batches := []*tensors.Tensor{f64s(1, 2, 3), tensors.FromValue([][]int32{{4, -5}, {6, 7}}), f64s()}
	for _, batch := range batches {
		for _, m := range []metrics.Interface{sum, mean, minM, maxM} {
			require.NoError(t, m.Update(batch))
		}
	}
	assert.Equal(t, 18.0, compute(t, sum))
	assert.InDelta(t, 18.0/7, compute(t, mean), 1e-12)
	assert.Equal(t, -5.0, compute(t, minM))
	assert.Equal(t, 7.0, compute(t, maxM))
	assert.Equal(t, 3, sum.UpdateCount())

	// Too many inputs.
	require.ErrorIs(t, sum.Update(f64s(1), f64s(1)), metrics.ErrValidation)
	assert.Equal(t, 18.0, compute(t, sum))
}

func TestWeightedMean(t *testing.T) {
	mean := must.M1(NewMean(NaNError))
	values := []float64{1, 2, 3, 4}
	weights := []float64{0.5, 1, 0, 2}
	require.NoError(t, mean.Update(f64s(values[:2]...), f64s(weights[:2]...)))
	require.NoError(t, mean.Update(f64s(values[2:]...), f64s(weights[2:]...)))
	assert.InDelta(t, stat.Mean(values, weights), compute(t, mean), 1e-12)

	// Scalar weights are broadcast.
	require.NoError(t, mean.Update(f64s(10, 10), tensors.FromValue(0.5)))
	assert.InDelta(t, (1*0.5+2+4*2+10)/4.5, compute(t, mean), 1e-12)

	// Weights that don't broadcast.
	err := mean.Update(f64s(1, 2), f64s(1, 2, 3))
	require.ErrorIs(t, err, metrics.ErrValidation)
	err = mean.Update(f64s(1, 2), tensors.FromValue([][]float64{{1, 2}, {3, 4}}))
	require.ErrorIs(t, err, metrics.ErrValidation)
}

func TestNaNStrategies(t *testing.T) {
	withNaN := f64s(1, math.NaN(), 3)
	testCases := []struct {
		strategy NaNStrategy
		wantSum  float64
		wantErr  bool
		wantWarn bool
	}{
		{NaNWarn, 4, false, true},
		{NaNIgnore, 4, false, false},
		{NaNReplace(10), 14, false, false},
		{NaNError, 0, true, false},
	}
	for _, tc := range testCases {
		t.Run(tc.strategy.String(), func(t *testing.T) {
			w := &warnings{}
			sum := must.M1(NewSum(tc.strategy, metrics.WithWarningHandler(w.handler)))
			err := sum.Update(withNaN)
			if tc.wantErr {
				require.ErrorIs(t, err, metrics.ErrValidation)
				assert.Equal(t, 0, sum.UpdateCount())
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.wantSum, sum.Field("sum_value").Value().Float64())
			if tc.wantWarn {
				assert.Equal(t, []metrics.WarningKind{metrics.WarnNaNDropped}, w.kinds())
			} else {
				assert.Empty(t, w.kinds())
			}
		})
	}

	// NaN weights drop the value too.
	mean := must.M1(NewMean(NaNIgnore))
	require.NoError(t, mean.Update(f64s(1, 100, 3), f64s(1, math.NaN(), 1)))
	assert.Equal(t, 2.0, compute(t, mean))

	for name, want := range map[string]string{"": "warn", "error": "error", "ignore": "ignore", "0": "replace(0)"} {
		s, err := ParseNaNStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, want, s.String())
	}
	_, err := ParseNaNStrategy("drop")
	require.ErrorIs(t, err, metrics.ErrConfiguration)
}

func TestCatValues(t *testing.T) {
	cat := must.M1(NewCatValues(NaNIgnore))
	assert.Equal(t, []int{0}, must.M1(cat.Compute()).Shape().Dimensions)
	require.NoError(t, cat.Update(f64s(1, 2)))
	require.NoError(t, cat.Update(f64s(math.NaN())))
	require.NoError(t, cat.Update(tensors.FromValue([][]float64{{3}, {4}})))
	assert.Equal(t, []float64{1, 2, 3, 4}, must.M1(cat.Compute()).Flat())

	// Call returns only the batch, and keeps accumulating.
	batch, err := cat.Call(f64s(5))
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, batch.Flat())
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, must.M1(cat.Compute()).Flat())
}

// shard returns every worldSize-th row starting at rank.
func shard[T any](rows []T, rank, worldSize int) []T {
	var part []T
	for ii := rank; ii < len(rows); ii += worldSize {
		part = append(part, rows[ii])
	}
	return part
}

func TestRunningMoments(t *testing.T) {
	colA := []float64{1, 5, 2, 8, 3, 3, 7, 0, 1, 4, 4.5}
	colB := []float64{-2, 5, 1e3, 7, 3, 4, 9, 1, 1, 0, -1}
	rows := make([][]float64, len(colA))
	for ii := range rows {
		rows[ii] = []float64{colA[ii], colB[ii]}
	}

	for _, tc := range []struct {
		statistic Statistic
		want      []float64
	}{
		{StatMean, []float64{stat.Mean(colA, nil), stat.Mean(colB, nil)}},
		{StatVariance, []float64{stat.Variance(colA, nil), stat.Variance(colB, nil)}},
		{StatStd, []float64{stat.StdDev(colA, nil), stat.StdDev(colB, nil)}},
		{StatRange, []float64{8, 1002}},
	} {
		cfg := MomentsConfig{NumOutputs: 2, Statistic: tc.statistic, DDoF: 1}
		single := must.M1(NewRunningMoments(cfg))
		for start := 0; start < len(rows); start += 4 {
			require.NoError(t, single.Update(tensors.FromValue(rows[start:min(start+4, len(rows))])))
		}
		assert.InDeltaSlice(t, tc.want, must.M1(single.Compute()).Flat(), 1e-9, "%s", tc.statistic)

		for _, worldSize := range []int{1, 2, 4} {
			results := make([][]float64, worldSize)
			require.NoError(t, distributed.Run(context.Background(), worldSize, func(_ context.Context, g distributed.Gatherer) error {
				m, err := NewRunningMoments(cfg, metrics.WithGatherer(g))
				if err != nil {
					return err
				}
				if err := m.Update(tensors.FromValue(shard(rows, g.Rank(), worldSize))); err != nil {
					return err
				}
				result, err := m.Compute()
				if err != nil {
					return err
				}
				results[g.Rank()] = result.Flat()
				return nil
			}))
			for _, result := range results {
				assert.InDeltaSlice(t, tc.want, result, 1e-9, "%s with %d workers", tc.statistic, worldSize)
			}
		}
	}
}

func TestRunningMomentsEdgeCases(t *testing.T) {
	_, err := NewRunningMoments(MomentsConfig{NumOutputs: -1})
	require.ErrorIs(t, err, metrics.ErrConfiguration)
	_, err = ParseStatistic("median")
	require.ErrorIs(t, err, metrics.ErrConfiguration)
	assert.Equal(t, StatStd, must.M1(ParseStatistic("std")))

	m := must.M1(NewRunningMoments(MomentsConfig{Statistic: StatVariance, NaN: NaNIgnore},
		metrics.WithWarningHandler(func(metrics.Warning) {})))
	assert.True(t, math.IsNaN(compute(t, m)))

	// Rank-1 values for a single output, weighted, with a NaN row dropped.
	require.NoError(t, m.Update(f64s(1, 2, math.NaN(), 4), f64s(1, 2, 1, 1)))
	mean, variance := stat.PopMeanVariance([]float64{1, 2, 4}, []float64{1, 2, 1})
	assert.InDelta(t, variance, compute(t, m), 1e-12)
	moments := must.M1(m.Moments())
	assert.InDelta(t, mean, moments.Mean()[0], 1e-12)
	assert.Equal(t, []float64{4}, moments.Count())

	// Wrong number of outputs.
	require.ErrorIs(t, m.Update(tensors.FromValue([][]float64{{1, 2}})), metrics.ErrValidation)
	require.ErrorIs(t, m.Update(f64s(1, 2), f64s(1)), metrics.ErrValidation)
	assert.Equal(t, []float64{4}, must.M1(m.Moments()).Count())
}

func TestQuantile(t *testing.T) {
	values := make([]float64, 2001)
	for ii := range values {
		values[ii] = float64((ii * 7919) % 2001)
	}
	median := must.M1(NewQuantile(0.5, NaNWarn))
	assert.Equal(t, "median", median.Name())
	for start := 0; start < len(values); start += 100 {
		require.NoError(t, median.Update(f64s(values[start:min(start+100, len(values))]...)))
	}
	assert.InDelta(t, 1000, compute(t, median), 20)

	for _, worldSize := range []int{2, 4} {
		results := make([]float64, worldSize)
		require.NoError(t, distributed.Run(context.Background(), worldSize, func(_ context.Context, g distributed.Gatherer) error {
			m, err := NewQuantile(0.5, NaNWarn, metrics.WithGatherer(g))
			if err != nil {
				return err
			}
			if err := m.Update(f64s(shard(values, g.Rank(), worldSize)...)); err != nil {
				return err
			}
			result, err := m.Compute()
			if err != nil {
				return err
			}
			results[g.Rank()] = result.Float64()
			return nil
		}))
		assert.InDelta(t, 1000, results[0], 40, "%d workers", worldSize)
		// All workers see the same result.
		assert.Equal(t, 1, len(slices.Compact(results)))
	}

	small := must.M1(NewQuantile(0.5, NaNWarn))
	require.NoError(t, small.Update(f64s(3, 1, 2)))
	assert.Equal(t, 2.0, compute(t, small))
	require.ErrorIs(t, small.Update(f64s(math.Inf(1))), metrics.ErrValidation)

	_, err := NewQuantile(1.5, NaNWarn)
	require.ErrorIs(t, err, metrics.ErrConfiguration)
}

func TestMovingAverage(t *testing.T) {
	m := must.M1(NewMovingAverage(0.5, NaNWarn))
	// First batch: plain average.
	require.NoError(t, m.Update(f64s(0, 2)))
	assert.Equal(t, 1.0, compute(t, m))
	require.NoError(t, m.Update(f64s(3)))
	assert.Equal(t, 2.0, compute(t, m))
	// From now on new batches have weight 0.5.
	result, err := m.Call(f64s(5))
	require.NoError(t, err)
	assert.Equal(t, 3.5, result.Float64())
	assert.Equal(t, 3.5, compute(t, m))

	m.Reset()
	require.NoError(t, m.Update(f64s()))
	assert.True(t, math.IsNaN(compute(t, m)))

	_, err = NewMovingAverage(0, NaNWarn)
	require.ErrorIs(t, err, metrics.ErrConfiguration)
}
