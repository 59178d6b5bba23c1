// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package online implements streaming statistics: estimators that are updated incrementally, one sample or
// one batch at a time, and that can be merged pairwise without revisiting the raw data.
//
// Merging two estimators and finalizing gives the same result (up to floating point error) as computing
// the statistic over the union of their samples, so they can be computed in parallel on different
// workers and merged at the end.
package online

import (
	"math"
	"slices"

	"github.com/pkg/errors"
)

// Moments holds the running count, mean, sum of squared deviations (M2), min and max of a stream of
// samples with numOutputs values each. Counts may be fractional when samples are weighted.
type Moments struct {
	count, mean, m2, min, max []float64
}

// NewMoments returns empty Moments for samples with numOutputs values.
func NewMoments(numOutputs int) *Moments {
	m := &Moments{
		count: make([]float64, numOutputs),
		mean:  make([]float64, numOutputs),
		m2:    make([]float64, numOutputs),
		min:   make([]float64, numOutputs),
		max:   make([]float64, numOutputs),
	}
	for ii := range numOutputs {
		m.min[ii] = math.Inf(1)
		m.max[ii] = math.Inf(-1)
	}
	return m
}

// MomentsFromState builds Moments from previously saved statistics. All slices must have the same length,
// and are copied.
func MomentsFromState(count, mean, m2, min, max []float64) (*Moments, error) {
	n := len(count)
	if len(mean) != n || len(m2) != n || len(min) != n || len(max) != n {
		return nil, errors.Errorf("online.MomentsFromState: statistics have different lengths (%d, %d, %d, %d, %d)",
			len(count), len(mean), len(m2), len(min), len(max))
	}
	return &Moments{
		count: slices.Clone(count), mean: slices.Clone(mean), m2: slices.Clone(m2),
		min: slices.Clone(min), max: slices.Clone(max),
	}, nil
}

// NumOutputs is the number of values per sample.
func (m *Moments) NumOutputs() int { return len(m.count) }

// Count returns the (weighted) number of samples seen, per output.
func (m *Moments) Count() []float64 { return slices.Clone(m.count) }

// M2 returns the sum of squared deviations from the mean, per output.
func (m *Moments) M2() []float64 { return slices.Clone(m.m2) }

// Mean returns the running mean per output, NaN for outputs with no samples.
func (m *Moments) Mean() []float64 {
	mean := slices.Clone(m.mean)
	for ii, n := range m.count {
		if n == 0 {
			mean[ii] = math.NaN()
		}
	}
	return mean
}

// Min returns the minimum per output, +Inf for outputs with no samples.
func (m *Moments) Min() []float64 { return slices.Clone(m.min) }

// Max returns the maximum per output, -Inf for outputs with no samples.
func (m *Moments) Max() []float64 { return slices.Clone(m.max) }

// RawMean returns the running mean per output, 0 for outputs with no samples. Use it to save the state.
func (m *Moments) RawMean() []float64 { return slices.Clone(m.mean) }

// Variance returns M2/(count-ddof) per output: ddof=0 for the population variance, ddof=1 for the sample
// variance. It is NaN where count <= ddof.
func (m *Moments) Variance(ddof float64) []float64 {
	variance := make([]float64, len(m.count))
	for ii, n := range m.count {
		if n-ddof <= 0 {
			variance[ii] = math.NaN()
			continue
		}
		variance[ii] = m.m2[ii] / (n - ddof)
	}
	return variance
}

// Std returns the square root of Variance(ddof).
func (m *Moments) Std(ddof float64) []float64 {
	std := m.Variance(ddof)
	for ii, v := range std {
		std[ii] = math.Sqrt(v)
	}
	return std
}

// Range returns max-min per output, NaN for outputs with no samples.
func (m *Moments) Range() []float64 {
	r := make([]float64, len(m.count))
	for ii, n := range m.count {
		if n == 0 {
			r[ii] = math.NaN()
			continue
		}
		r[ii] = m.max[ii] - m.min[ii]
	}
	return r
}

// Add updates the moments with one sample (Welford's update). It is equivalent to UpdateBatch with a
// single row.
func (m *Moments) Add(sample ...float64) {
	if len(sample) != len(m.count) {
		panic(errors.Errorf("online.Moments.Add: sample has %d values, expected %d", len(sample), len(m.count)))
	}
	for ii, x := range sample {
		m.count[ii]++
		delta := x - m.mean[ii]
		m.mean[ii] += delta / m.count[ii]
		m.m2[ii] += delta * (x - m.mean[ii])
		m.min[ii] = min(m.min[ii], x)
		m.max[ii] = max(m.max[ii], x)
	}
}

// UpdateBatch updates the moments with a batch of rows (samples), each with NumOutputs values. Weights are
// optional (nil), one per row.
//
// The batch's own mean and M2 are computed first (two passes over the batch) and then merged into the
// running statistics with Merge.
func (m *Moments) UpdateBatch(rows [][]float64, weights []float64) error {
	batch, err := BatchMoments(len(m.count), rows, weights)
	if err != nil {
		return err
	}
	m.Merge(batch)
	return nil
}

// BatchMoments computes the Moments of a batch of rows, with optional weights (one per row).
// Rows with zero weight don't count for min and max.
func BatchMoments(numOutputs int, rows [][]float64, weights []float64) (*Moments, error) {
	if weights != nil && len(weights) != len(rows) {
		return nil, errors.Errorf("online.BatchMoments: %d weights for %d rows", len(weights), len(rows))
	}
	m := NewMoments(numOutputs)
	weight := func(row int) float64 {
		if weights == nil {
			return 1
		}
		return weights[row]
	}
	for r, row := range rows {
		if len(row) != numOutputs {
			return nil, errors.Errorf("online.BatchMoments: row %d has %d values, expected %d", r, len(row), numOutputs)
		}
		w := weight(r)
		if w < 0 {
			return nil, errors.Errorf("online.BatchMoments: negative weight %g for row %d", w, r)
		}
		for ii, x := range row {
			m.count[ii] += w
			m.mean[ii] += w * x
			if w > 0 {
				m.min[ii] = min(m.min[ii], x)
				m.max[ii] = max(m.max[ii], x)
			}
		}
	}
	for ii, n := range m.count {
		if n > 0 {
			m.mean[ii] /= n
		}
	}
	for r, row := range rows {
		w := weight(r)
		for ii, x := range row {
			d := x - m.mean[ii]
			m.m2[ii] += w * d * d
		}
	}
	return m, nil
}

// Merge folds other into m, using the parallel algorithm of Chan et al.:
//
//	n = n_a + n_b
//	mean = mean_a + (mean_b - mean_a) * n_b / n
//	M2 = M2_a + M2_b + (mean_b - mean_a)^2 * n_a * n_b / n
func (m *Moments) Merge(other *Moments) {
	if len(other.count) != len(m.count) {
		panic(errors.Errorf("online.Moments.Merge: merging %d outputs into %d outputs", len(other.count), len(m.count)))
	}
	for ii := range m.count {
		nA, nB := m.count[ii], other.count[ii]
		m.min[ii] = min(m.min[ii], other.min[ii])
		m.max[ii] = max(m.max[ii], other.max[ii])
		if nB == 0 {
			continue
		}
		if nA == 0 {
			m.count[ii], m.mean[ii], m.m2[ii] = nB, other.mean[ii], other.m2[ii]
			continue
		}
		n := nA + nB
		delta := other.mean[ii] - m.mean[ii]
		m.mean[ii] += delta * nB / n
		m.m2[ii] += other.m2[ii] + delta*delta*nA*nB/n
		m.count[ii] = n
	}
}

// Clone returns a deep copy.
func (m *Moments) Clone() *Moments {
	return &Moments{
		count: slices.Clone(m.count), mean: slices.Clone(m.mean), m2: slices.Clone(m.m2),
		min: slices.Clone(m.min), max: slices.Clone(m.max),
	}
}

// MergeAll merges parts pairwise, left to right, into a new Moments. parts is not modified.
// It returns nil if parts is empty.
func MergeAll(parts []*Moments) *Moments {
	if len(parts) == 0 {
		return nil
	}
	merged := parts[0].Clone()
	for _, part := range parts[1:] {
		merged.Merge(part)
	}
	return merged
}
