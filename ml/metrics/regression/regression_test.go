// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package regression

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/ml/metrics/distributed"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

func f64s(values ...float64) *tensors.Tensor {
	return tensors.FromValue(values)
}

// column returns column c of rows.
func column(rows [][]float64, c int) []float64 {
	values := make([]float64, len(rows))
	for r, row := range rows {
		values[r] = row[c]
	}
	return values
}

// shard returns every worldSize-th row starting at rank.
func shard[T any](rows []T, rank, worldSize int) []T {
	var part []T
	for ii := rank; ii < len(rows); ii += worldSize {
		part = append(part, rows[ii])
	}
	return part
}

// correlatedRows returns n rows of 2 preds and 2 targets, with different correlations and scales.
func correlatedRows(n int) (preds, target [][]float64) {
	rng := rand.New(rand.NewPCG(17, 19))
	for range n {
		x0, x1 := rng.NormFloat64()*3+100, rng.NormFloat64()
		preds = append(preds, []float64{x0, x1})
		target = append(target, []float64{0.5*x0 + rng.NormFloat64(), -x1 + 0.1*rng.NormFloat64()})
	}
	return
}

func TestPearsonCorrCoefOf(t *testing.T) {
	preds := f64s(2.5, 0.0, 2, 8)
	target := f64s(3, -0.5, 2, 7)
	corr, err := PearsonCorrCoefOf(preds, target, nil)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float64, corr.DType())
	assert.InDelta(t, 0.9849, corr.Float64(), 1e-4)

	// Float32 statistics.
	corr, err = PearsonCorrCoefOf(tensors.FromValue([]float32{2.5, 0.0, 2, 8}), tensors.FromValue([]float32{3, -0.5, 2, 7}), nil)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float32, corr.DType())
	assert.InDelta(t, 0.9849, corr.Float64(), 1e-4)

	// Weighted.
	weights := []float64{2.5, 1, 0.5, 3}
	corr, err = PearsonCorrCoefOf(preds, target, f64s(weights...))
	require.NoError(t, err)
	assert.InDelta(t, stat.Correlation(preds.Flat(), target.Flat(), weights), corr.Float64(), 1e-12)

	// Multi-output.
	p, y := correlatedRows(50)
	corr, err = PearsonCorrCoefOf(tensors.FromValue(p), tensors.FromValue(y), nil)
	require.NoError(t, err)
	for c := range 2 {
		assert.InDelta(t, stat.Correlation(column(p, c), column(y, c), nil), corr.At(c), 1e-9)
	}

	_, err = PearsonCorrCoefOf(preds, f64s(1, 2, 3), nil)
	require.ErrorIs(t, err, metrics.ErrValidation)
}

func TestPearsonCorrCoefStreaming(t *testing.T) {
	preds, target := correlatedRows(203)
	want := []float64{
		stat.Correlation(column(preds, 0), column(target, 0), nil),
		stat.Correlation(column(preds, 1), column(target, 1), nil),
	}
	cfg := PearsonConfig{NumOutputs: 2, DType: dtypes.Float64}

	// Batches of different sizes, including single rows.
	m := must.M1(NewPearsonCorrCoef(cfg))
	for start, size := 0, 1; start < len(preds); start, size = start+size, size+7 {
		end := min(start+size, len(preds))
		require.NoError(t, m.Update(tensors.FromValue(preds[start:end]), tensors.FromValue(target[start:end])))
	}
	assert.InDeltaSlice(t, want, must.M1(m.Compute()).Flat(), 1e-9)

	// Sharded across workers.
	for _, worldSize := range []int{1, 2, 4} {
		results := make([][]float64, worldSize)
		require.NoError(t, distributed.Run(context.Background(), worldSize, func(_ context.Context, g distributed.Gatherer) error {
			m, err := NewPearsonCorrCoef(cfg, metrics.WithGatherer(g))
			if err != nil {
				return err
			}
			p, y := shard(preds, g.Rank(), worldSize), shard(target, g.Rank(), worldSize)
			for start := 0; start < len(p); start += 10 {
				end := min(start+10, len(p))
				if err := m.Update(tensors.FromValue(p[start:end]), tensors.FromValue(y[start:end])); err != nil {
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
			assert.InDeltaSlice(t, want, result, 1e-9, "%d workers", worldSize)
		}
	}
}

func TestPearsonCorrCoefCall(t *testing.T) {
	m := must.M1(NewPearsonCorrCoef(PearsonConfig{DType: dtypes.Float64}))
	require.NoError(t, m.Update(f64s(1, 2, 3), f64s(3, 2, 1)))
	batch, err := m.Call(f64s(1, 2, 3), f64s(1, 2, 3))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, batch.Float64(), 1e-12)
	all := must.M1(m.Compute()).Float64()
	assert.InDelta(t, stat.Correlation([]float64{1, 2, 3, 1, 2, 3}, []float64{3, 2, 1, 1, 2, 3}, nil), all, 1e-12)
	assert.Equal(t, 2, m.UpdateCount())
}

func TestPearsonCorrCoefEdgeCases(t *testing.T) {
	var warnings []metrics.WarningKind
	handler := metrics.WithWarningHandler(func(w metrics.Warning) { warnings = append(warnings, w.Kind) })

	// Empty: NaN.
	m := must.M1(NewPearsonCorrCoef(PearsonConfig{}, handler))
	assert.True(t, math.IsNaN(must.M1(m.Compute()).Float64()))
	assert.Equal(t, []metrics.WarningKind{metrics.WarnComputeBeforeUpdate}, warnings)

	// Shape mismatch leaves the state untouched.
	require.NoError(t, m.Update(f64s(1, 2), f64s(2, 1)))
	before := must.M1(m.StateDict())
	require.ErrorIs(t, m.Update(f64s(1, 2, 3), f64s(1, 2)), metrics.ErrValidation)
	require.ErrorIs(t, m.Update(tensors.FromValue([][]float64{{1, 2}}), tensors.FromValue([][]float64{{1, 2}})), metrics.ErrValidation)
	require.ErrorIs(t, m.Update(f64s(1, 2), f64s(1, 2), f64s(1)), metrics.ErrValidation)
	after := must.M1(m.StateDict())
	for name, value := range before {
		assert.True(t, tensors.Equal(value, after[name]), "state %q changed", name)
	}
	assert.InDelta(t, -1.0, must.M1(m.Compute()).Float64(), 1e-6)

	// Near constant inputs in float16.
	warnings = nil
	m16 := must.M1(NewPearsonCorrCoef(PearsonConfig{DType: dtypes.Float16}, handler))
	x := tensors.FromValue([]float64{1, 1.01, 1, 1.01})
	require.NoError(t, m16.Update(x, f64s(1, 2, 3, 4)))
	corr := must.M1(m16.Compute()).Float64()
	assert.Equal(t, []metrics.WarningKind{metrics.WarnNumericalInstability}, warnings)
	assert.True(t, math.IsNaN(corr) || (corr >= -1 && corr <= 1))

	_, err := NewPearsonCorrCoef(PearsonConfig{DType: dtypes.Int32})
	require.ErrorIs(t, err, metrics.ErrConfiguration)
	_, err = NewPearsonCorrCoef(PearsonConfig{NumOutputs: -2})
	require.ErrorIs(t, err, metrics.ErrConfiguration)
}

func TestMeanErrors(t *testing.T) {
	preds := [][]float64{{1, 2}, {3, 4}, {5, 6}}
	target := [][]float64{{1, 4}, {2, 4}, {9, 3}}
	mse := must.M1(NewMeanSquaredError(true, 2))
	rmse := must.M1(NewMeanSquaredError(false, 2))
	mae := must.M1(NewMeanAbsoluteError(2))
	for _, m := range []metrics.Interface{mse, rmse, mae} {
		_, err := m.Compute()
		require.ErrorIs(t, err, metrics.ErrEmptyState)
		require.NoError(t, m.Update(tensors.FromValue(preds[:1]), tensors.FromValue(target[:1])))
		require.NoError(t, m.Update(tensors.FromValue(preds[1:]), tensors.FromValue(target[1:])))
	}
	wantMSE := []float64{(0 + 1 + 16) / 3.0, (4 + 0 + 9) / 3.0}
	assert.InDeltaSlice(t, wantMSE, must.M1(mse.Compute()).Flat(), 1e-12)
	assert.InDeltaSlice(t, []float64{math.Sqrt(wantMSE[0]), math.Sqrt(wantMSE[1])}, must.M1(rmse.Compute()).Flat(), 1e-12)
	assert.InDeltaSlice(t, []float64{5 / 3.0, 5 / 3.0}, must.M1(mae.Compute()).Flat(), 1e-12)
	assert.Equal(t, "rmse", rmse.Name())
	assert.Equal(t, metrics.LossMetricType, mae.MetricType())

	// Single output returns a scalar, and batch-local Call.
	single := must.M1(NewMeanSquaredError(true, 1))
	require.NoError(t, single.Update(f64s(1, 2), f64s(1, 4)))
	batch := must.M1(single.Call(f64s(0), f64s(1)))
	assert.True(t, batch.IsScalar())
	assert.Equal(t, 1.0, batch.Float64())
	assert.InDelta(t, 5/3.0, must.M1(single.Compute()).Float64(), 1e-12)

	_, err := NewMeanAbsoluteError(0)
	require.ErrorIs(t, err, metrics.ErrConfiguration)
}

// nrmseOracle computes the NRMSE of a single output directly.
func nrmseOracle(preds, target []float64, normalization Normalization) float64 {
	var sse float64
	for ii := range preds {
		sse += (preds[ii] - target[ii]) * (preds[ii] - target[ii])
	}
	rmse := math.Sqrt(sse / float64(len(preds)))
	switch normalization {
	case NormMean:
		return rmse / stat.Mean(target, nil)
	case NormRange:
		return rmse / (floats.Max(target) - floats.Min(target))
	case NormStd:
		_, variance := stat.PopMeanVariance(target, nil)
		return rmse / math.Sqrt(variance)
	}
	return rmse / floats.Norm(target, 2)
}

func TestNormalizedRootMeanSquaredError(t *testing.T) {
	preds, target := correlatedRows(37)
	for _, normalization := range []Normalization{NormMean, NormRange, NormStd, NormL2} {
		want := []float64{
			nrmseOracle(column(preds, 0), column(target, 0), normalization),
			nrmseOracle(column(preds, 1), column(target, 1), normalization),
		}
		for _, worldSize := range []int{1, 2, 4} {
			results := make([][]float64, worldSize)
			require.NoError(t, distributed.Run(context.Background(), worldSize, func(_ context.Context, g distributed.Gatherer) error {
				m, err := NewNormalizedRootMeanSquaredError(normalization, 2, metrics.WithGatherer(g))
				if err != nil {
					return err
				}
				p, y := shard(preds, g.Rank(), worldSize), shard(target, g.Rank(), worldSize)
				for start := 0; start < len(p); start += 4 {
					end := min(start+4, len(p))
					if err := m.Update(tensors.FromValue(p[start:end]), tensors.FromValue(y[start:end])); err != nil {
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
				assert.InDeltaSlice(t, want, result, 1e-9, "%s with %d workers", normalization, worldSize)
			}
		}
	}

	m := must.M1(NewNormalizedRootMeanSquaredError(NormStd, 1, metrics.WithWarningHandler(func(metrics.Warning) {})))
	assert.True(t, math.IsNaN(must.M1(m.Compute()).Float64()))

	// Constant target: the range is 0 and the result is +Inf, with a warning.
	var warnings []metrics.Warning
	m = must.M1(NewNormalizedRootMeanSquaredError(NormRange, 1,
		metrics.WithWarningHandler(func(w metrics.Warning) { warnings = append(warnings, w) })))
	require.NoError(t, m.Update(f64s(1, 2), f64s(3, 3)))
	assert.True(t, math.IsInf(must.M1(m.Compute()).Float64(), 1))
	require.Len(t, warnings, 1)
	assert.Equal(t, metrics.WarnNumericalInstability, warnings[0].Kind)

	n, err := ParseNormalization("l2")
	require.NoError(t, err)
	assert.Equal(t, NormL2, n)
	_, err = ParseNormalization("max")
	require.ErrorIs(t, err, metrics.ErrConfiguration)
	_, err = NewNormalizedRootMeanSquaredError(Normalization(7), 1)
	require.ErrorIs(t, err, metrics.ErrConfiguration)
}
