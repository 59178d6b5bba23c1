// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package online

import (
	"math"
	"slices"

	"github.com/pkg/errors"
)

// CoMoments holds the running statistics needed for the Pearson correlation between two streams x and y,
// for numOutputs pairs of values per sample: the (weighted) count N, the means of x and y, their sums of
// squared deviations (VarX, VarY) and the sum of cross deviations (CovXY).
//
// VarX, VarY and CovXY are sums, not normalized by N: they cancel out in the correlation.
type CoMoments struct {
	N, MeanX, MeanY, VarX, VarY, CovXY []float64
}

// NewCoMoments returns empty CoMoments for numOutputs pairs of values per sample.
func NewCoMoments(numOutputs int) *CoMoments {
	return &CoMoments{
		N:     make([]float64, numOutputs),
		MeanX: make([]float64, numOutputs),
		MeanY: make([]float64, numOutputs),
		VarX:  make([]float64, numOutputs),
		VarY:  make([]float64, numOutputs),
		CovXY: make([]float64, numOutputs),
	}
}

// NumOutputs is the number of (x, y) pairs per sample.
func (c *CoMoments) NumOutputs() int { return len(c.N) }

// Validate checks that all statistics have the same length.
func (c *CoMoments) Validate() error {
	n := len(c.N)
	if len(c.MeanX) != n || len(c.MeanY) != n || len(c.VarX) != n || len(c.VarY) != n || len(c.CovXY) != n {
		return errors.Errorf("online.CoMoments: statistics have different lengths")
	}
	return nil
}

// Clone returns a deep copy.
func (c *CoMoments) Clone() *CoMoments {
	return &CoMoments{
		N: slices.Clone(c.N), MeanX: slices.Clone(c.MeanX), MeanY: slices.Clone(c.MeanY),
		VarX: slices.Clone(c.VarX), VarY: slices.Clone(c.VarY), CovXY: slices.Clone(c.CovXY),
	}
}

// Add updates the statistics with a single (unweighted) sample, given as pairs (x[i], y[i]) for each output.
//
// This is the single sample recurrence, and it matches UpdateBatch with a batch of one row.
func (c *CoMoments) Add(x, y []float64) {
	if len(x) != len(c.N) || len(y) != len(c.N) {
		panic(errors.Errorf("online.CoMoments.Add: got %d x values and %d y values, expected %d",
			len(x), len(y), len(c.N)))
	}
	for ii := range c.N {
		c.N[ii]++
		dx := x[ii] - c.MeanX[ii]
		dy := y[ii] - c.MeanY[ii]
		c.MeanX[ii] += dx / c.N[ii]
		c.MeanY[ii] += dy / c.N[ii]
		c.VarX[ii] += dx * (x[ii] - c.MeanX[ii])
		c.VarY[ii] += dy * (y[ii] - c.MeanY[ii])
		c.CovXY[ii] += (x[ii] - c.MeanX[ii]) * dy
	}
}

// UpdateBatch updates the statistics with a batch of rows of x and y (each row with NumOutputs values),
// and optional weights (one per row):
//
//	n_obs = sum(w)
//	new_mean_x = (n * mean_x + sum(w*x)) / (n + n_obs)
//	var_x += sum(w * (x - new_mean_x) * (x - mean_x))
//	cov_xy += sum(w * (x - new_mean_x) * (y - mean_y))
//	n += n_obs
//
// and similarly for y.
func (c *CoMoments) UpdateBatch(x, y [][]float64, weights []float64) error {
	if len(x) != len(y) {
		return errors.Errorf("online.CoMoments.UpdateBatch: x has %d rows and y has %d", len(x), len(y))
	}
	if weights != nil && len(weights) != len(x) {
		return errors.Errorf("online.CoMoments.UpdateBatch: %d weights for %d rows", len(weights), len(x))
	}
	numOutputs := len(c.N)
	for r := range x {
		if len(x[r]) != numOutputs || len(y[r]) != numOutputs {
			return errors.Errorf("online.CoMoments.UpdateBatch: row %d has %d x values and %d y values, expected %d",
				r, len(x[r]), len(y[r]), numOutputs)
		}
	}
	weight := func(row int) float64 {
		if weights == nil {
			return 1
		}
		return weights[row]
	}

	for ii := range numOutputs {
		var nObs, sumX, sumY float64
		for r := range x {
			w := weight(r)
			nObs += w
			sumX += w * x[r][ii]
			sumY += w * y[r][ii]
		}
		if nObs == 0 {
			continue
		}
		n := c.N[ii] + nObs
		oldMeanX, oldMeanY := c.MeanX[ii], c.MeanY[ii]
		newMeanX := (c.N[ii]*oldMeanX + sumX) / n
		newMeanY := (c.N[ii]*oldMeanY + sumY) / n
		for r := range x {
			w := weight(r)
			xv, yv := x[r][ii], y[r][ii]
			c.VarX[ii] += w * (xv - newMeanX) * (xv - oldMeanX)
			c.VarY[ii] += w * (yv - newMeanY) * (yv - oldMeanY)
			c.CovXY[ii] += w * (xv - newMeanX) * (yv - oldMeanY)
		}
		c.MeanX[ii], c.MeanY[ii], c.N[ii] = newMeanX, newMeanY, n
	}
	return nil
}

// Merge folds other into c with the parallel (two-pass) covariance algorithm: the merged mean is the
// weighted average of the means, and each of VarX, VarY and CovXY is corrected by the cross terms
// n_k * (mean_k - mean) * (other_mean_k - mean) of both partitions.
func (c *CoMoments) Merge(other *CoMoments) {
	if len(other.N) != len(c.N) {
		panic(errors.Errorf("online.CoMoments.Merge: merging %d outputs into %d outputs", len(other.N), len(c.N)))
	}
	for ii := range c.N {
		n1, n2 := c.N[ii], other.N[ii]
		if n2 == 0 {
			continue
		}
		if n1 == 0 {
			c.N[ii], c.MeanX[ii], c.MeanY[ii] = n2, other.MeanX[ii], other.MeanY[ii]
			c.VarX[ii], c.VarY[ii], c.CovXY[ii] = other.VarX[ii], other.VarY[ii], other.CovXY[ii]
			continue
		}
		n := n1 + n2
		meanX := (n1*c.MeanX[ii] + n2*other.MeanX[ii]) / n
		meanY := (n1*c.MeanY[ii] + n2*other.MeanY[ii]) / n
		dx1, dy1 := c.MeanX[ii]-meanX, c.MeanY[ii]-meanY
		dx2, dy2 := other.MeanX[ii]-meanX, other.MeanY[ii]-meanY
		c.VarX[ii] += other.VarX[ii] + n1*dx1*dx1 + n2*dx2*dx2
		c.VarY[ii] += other.VarY[ii] + n1*dy1*dy1 + n2*dy2*dy2
		c.CovXY[ii] += other.CovXY[ii] + n1*dx1*dy1 + n2*dx2*dy2
		c.MeanX[ii], c.MeanY[ii], c.N[ii] = meanX, meanY, n
	}
}

// MergeAllCoMoments merges parts pairwise, left to right, into a new CoMoments. It returns nil if parts
// is empty.
func MergeAllCoMoments(parts []*CoMoments) *CoMoments {
	if len(parts) == 0 {
		return nil
	}
	merged := parts[0].Clone()
	for _, part := range parts[1:] {
		merged.Merge(part)
	}
	return merged
}

// Corr returns the Pearson correlation per output, CovXY/sqrt(VarX*VarY), clamped to [-1, 1].
//
// unstable is true if any VarX or VarY is smaller than sqrt(eps), where eps is the machine epsilon of
// the dtype the statistics are kept in: the ratio is then dominated by rounding errors. Outputs with
// no samples (or constant values) are NaN.
func (c *CoMoments) Corr(eps float64) (corr []float64, unstable bool) {
	bound := math.Sqrt(eps)
	corr = make([]float64, len(c.N))
	for ii := range c.N {
		if c.VarX[ii] < bound || c.VarY[ii] < bound {
			unstable = true
		}
		r := c.CovXY[ii] / math.Sqrt(c.VarX[ii]*c.VarY[ii])
		if !math.IsNaN(r) {
			r = min(max(r, -1), 1)
		}
		corr[ii] = r
	}
	return corr, unstable
}
