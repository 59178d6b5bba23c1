// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package online

import (
	"math"
	"slices"

	"github.com/pkg/errors"
)

// P2Quantile keeps an approximate quantile of a stream of values in constant memory, using the P^2
// algorithm, described in the paper https://dl.acm.org/doi/abs/10.1145/4372.4378,
// and in a more friendly way in the post in: https://www.baeldung.com/cs/streaming-median
//
// It keeps 5 markers (min, the p/2, p and (1+p)/2 quantiles, and max) and their positions (1-based ranks).
// Until 5 values are seen, the markers simply hold the values, and the quantile is exact.
type P2Quantile struct {
	p        float64
	count    int64
	markers  [5]float64
	counters [5]int64
}

// NewP2Quantile creates an estimator for the quantile p, with 0 < p < 1 (0.5 for the median).
func NewP2Quantile(p float64) (*P2Quantile, error) {
	if !(p > 0 && p < 1) {
		return nil, errors.Errorf("online.NewP2Quantile: quantile must be in (0, 1), got %g", p)
	}
	return &P2Quantile{p: p}, nil
}

// P2QuantileFromState recreates an estimator from the values returned by State.
func P2QuantileFromState(p float64, markers [5]float64, counters [5]int64, count int64) (*P2Quantile, error) {
	q, err := NewP2Quantile(p)
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, errors.Errorf("online.P2QuantileFromState: negative count %d", count)
	}
	q.markers, q.counters, q.count = markers, counters, count
	return q, nil
}

// State returns the markers, their positions and the number of values seen, enough to recreate the
// estimator with P2QuantileFromState.
func (q *P2Quantile) State() (markers [5]float64, counters [5]int64, count int64) {
	return q.markers, q.counters, q.count
}

// Quantile returns the quantile p being estimated.
func (q *P2Quantile) Quantile() float64 { return q.p }

// Count returns the number of values seen.
func (q *P2Quantile) Count() int64 { return q.count }

// idealRanks returns the desired (1-based, fractional) ranks of the markers for n values.
func (q *P2Quantile) idealRanks(n int64) [5]float64 {
	increments := [5]float64{0, q.p / 2, q.p, (1 + q.p) / 2, 1}
	var ranks [5]float64
	for i := range 5 {
		ranks[i] = 1 + increments[i]*float64(n-1)
	}
	return ranks
}

// Add a value to the estimator. NaN values are ignored.
func (q *P2Quantile) Add(x float64) {
	if math.IsNaN(x) {
		return
	}
	if q.count < 5 {
		q.markers[q.count] = x
		q.count++
		if q.count == 5 {
			slices.Sort(q.markers[:])
			for i := range 5 {
				q.counters[i] = int64(i + 1)
			}
		}
		return
	}
	q.count++

	// Update the first and last markers, and the positions of the markers above x.
	switch {
	case x < q.markers[0]:
		q.markers[0] = x
	case x > q.markers[4]:
		q.markers[4] = x
	}
	for i := 1; i < 5; i++ {
		if x < q.markers[i] || i == 4 {
			q.counters[i]++
		}
	}
	q.adjustMarkers()
}

// adjustMarkers moves inner markers at most one position toward their ideal ranks.
func (q *P2Quantile) adjustMarkers() {
	idealCounters := q.idealRanks(q.count)
	for i := 1; i < 4; i++ {
		d := idealCounters[i] - float64(q.counters[i])
		if d >= 1 && q.counters[i+1]-q.counters[i] > 1 {
			d = 1
		} else if d <= -1 && q.counters[i-1]-q.counters[i] < -1 {
			d = -1
		} else {
			// The difference is not large enough, or there is no margin to adjust.
			continue
		}

		nPrevious := float64(q.counters[i-1])
		nCurrent := float64(q.counters[i])
		nNext := float64(q.counters[i+1])
		qPrevious, qCurrent, qNext := q.markers[i-1], q.markers[i], q.markers[i+1]

		// Attempt parabolic interpolation.
		qNew := qCurrent + d/(nNext-nPrevious)*
			((nCurrent-nPrevious+d)*(qNext-qCurrent)/(nNext-nCurrent)+
				(nNext-nCurrent-d)*(qCurrent-qPrevious)/(nCurrent-nPrevious))
		if !(qPrevious < qNew && qNew < qNext) {
			// Linear interpolation toward the neighbor marker.
			if d > 0 {
				qNew = qCurrent + (qNext-qCurrent)/(nNext-nCurrent)
			} else {
				qNew = qCurrent - (qPrevious-qCurrent)/(nPrevious-nCurrent)
			}
		}
		q.markers[i] = qNew
		q.counters[i] += int64(d)
	}
}

// Value returns the estimated quantile, or NaN if no values were seen. With fewer than 5 values it is
// the exact quantile, linearly interpolated.
func (q *P2Quantile) Value() float64 {
	switch {
	case q.count == 0:
		return math.NaN()
	case q.count < 5:
		values := slices.Clone(q.markers[:q.count])
		slices.Sort(values)
		pos := q.p * float64(len(values)-1)
		lower := int(math.Floor(pos))
		upper := min(lower+1, len(values)-1)
		return values[lower] + (pos-float64(lower))*(values[upper]-values[lower])
	}
	return q.markers[2]
}

// rank returns the approximate number of values <= x, interpolating linearly between markers.
func (q *P2Quantile) rank(x float64) float64 {
	if q.count < 5 {
		var r float64
		for _, v := range q.markers[:q.count] {
			if v <= x {
				r++
			}
		}
		return r
	}
	if x < q.markers[0] {
		return 0
	}
	if x >= q.markers[4] {
		return float64(q.count)
	}
	for i := range 4 {
		if x < q.markers[i+1] {
			width := q.markers[i+1] - q.markers[i]
			n0, n1 := float64(q.counters[i]), float64(q.counters[i+1])
			if width <= 0 {
				return n1
			}
			return n0 + (x-q.markers[i])/width*(n1-n0)
		}
	}
	return float64(q.count)
}

// MergeP2Quantiles merges estimators of the same quantile (e.g. from different workers) into a new one.
//
// If all parts still hold their raw values (fewer than 5 each) the values are simply replayed.
// Otherwise the merge is approximate: the rank functions of the parts (piecewise-linear between their
// markers) are added up, and the new markers are placed where the combined rank function reaches the
// ideal ranks. Parts are not modified.
func MergeP2Quantiles(parts ...*P2Quantile) (*P2Quantile, error) {
	if len(parts) == 0 {
		return nil, errors.New("online.MergeP2Quantiles: no parts to merge")
	}
	p := parts[0].p
	merged := &P2Quantile{p: p}
	allRaw := true
	var candidates []float64
	for _, part := range parts {
		if part.p != p {
			return nil, errors.Errorf("online.MergeP2Quantiles: cannot merge quantiles %g and %g", p, part.p)
		}
		merged.count += part.count
		if part.count >= 5 {
			allRaw = false
			candidates = append(candidates, part.markers[:]...)
		} else {
			candidates = append(candidates, part.markers[:part.count]...)
		}
	}
	if allRaw {
		merged.count = 0
		for _, part := range parts {
			for _, x := range part.markers[:part.count] {
				merged.Add(x)
			}
		}
		return merged, nil
	}

	slices.Sort(candidates)
	candidates = slices.Compact(candidates)
	totalRank := func(x float64) float64 {
		var r float64
		for _, part := range parts {
			r += part.rank(x)
		}
		return r
	}
	ranks := make([]float64, len(candidates))
	for ii, c := range candidates {
		ranks[ii] = totalRank(c)
	}
	inverse := func(r float64) float64 {
		idx, _ := slices.BinarySearch(ranks, r)
		if idx == 0 {
			return candidates[0]
		}
		if idx >= len(ranks) {
			return candidates[len(candidates)-1]
		}
		r0, r1 := ranks[idx-1], ranks[idx]
		if r1 <= r0 {
			return candidates[idx]
		}
		return candidates[idx-1] + (r-r0)/(r1-r0)*(candidates[idx]-candidates[idx-1])
	}

	ideal := merged.idealRanks(merged.count)
	merged.markers[0] = candidates[0]
	merged.markers[4] = candidates[len(candidates)-1]
	merged.counters[0] = 1
	merged.counters[4] = merged.count
	for i := 1; i < 4; i++ {
		merged.markers[i] = inverse(ideal[i])
		counter := int64(math.Round(ideal[i]))
		// Positions must stay strictly increasing.
		counter = max(counter, merged.counters[i-1]+1)
		counter = min(counter, merged.count-int64(4-i))
		merged.counters[i] = counter
	}
	for i := 1; i < 5; i++ {
		merged.markers[i] = max(merged.markers[i], merged.markers[i-1])
	}
	return merged, nil
}
