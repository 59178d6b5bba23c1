// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package distributed defines the collective used to synchronize metric states across workers:
//
//   - Gatherer: the all-gather primitive, provided by the execution environment.
//   - GatherAll: gathers tensors of different shapes (e.g. batches of different sizes) on top of a Gatherer.
//   - Local: the Gatherer of a single process run, which is never active.
//   - Group: an in-process collective of K workers (goroutines), and Run to launch one goroutine per rank.
package distributed

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/types/shapes"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/pkg/errors"
)

// Gatherer is the collective communication primitive used to sync metrics.
//
// AllGather is a blocking collective: every worker of the group must call it, in the same order, or the
// program deadlocks. Implementations may require all workers to contribute tensors of the same shape:
// use GatherAll to gather tensors of arbitrary shapes.
type Gatherer interface {
	// IsActive returns whether there is a distributed group to gather from. If false, metrics don't sync.
	IsActive() bool

	// Rank of this worker, from 0 to WorldSize()-1.
	Rank() int

	// WorldSize is the number of workers in the group.
	WorldSize() int

	// AllGather returns the values contributed by every worker, ordered by rank.
	AllGather(value *tensors.Tensor) ([]*tensors.Tensor, error)
}

type localGatherer struct{}

// Local returns the Gatherer for a single process: it is not active, and AllGather returns the value itself.
func Local() Gatherer { return localGatherer{} }

func (localGatherer) IsActive() bool { return false }
func (localGatherer) Rank() int      { return 0 }
func (localGatherer) WorldSize() int { return 1 }
func (localGatherer) AllGather(value *tensors.Tensor) ([]*tensors.Tensor, error) {
	return []*tensors.Tensor{value}, nil
}

// GatherAll gathers tensors whose shapes (and dtypes) may differ across workers:
//
//  1. The dtype and rank of every worker are exchanged, then their dimensions.
//  2. Each tensor is padded to the maximum dimension of each axis, and the padded tensors are gathered.
//  3. Each gathered tensor is trimmed back to the shape of the worker that contributed it.
//
// Empty tensors (with a 0 dimension) are accepted with any rank: if their rank differs from the
// non-empty ones they are returned as empty tensors with the shape of the others and 0 rows. This allows
// workers that saw no data to take part in the gather.
func GatherAll(g Gatherer, value *tensors.Tensor) ([]*tensors.Tensor, error) {
	if !g.IsActive() {
		return []*tensors.Tensor{value}, nil
	}
	var results []*tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		results = gatherAll(g, value)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "distributed.GatherAll(%s) on rank %d", value.Shape(), g.Rank())
	}
	return results, nil
}

// gatherAll implements GatherAll, and panics on errors.
func gatherAll(g Gatherer, value *tensors.Tensor) []*tensors.Tensor {
	// Exchange dtypes and ranks.
	header := tensors.FromFloat64s(dtypes.Int64, []float64{float64(value.DType()), float64(value.Rank())}, 2)
	headers := mustGather(g, header)
	numWorkers := len(headers)
	workerDTypes := make([]dtypes.DType, numWorkers)
	workerRanks := make([]int, numWorkers)
	maxRank := 0
	for ii, h := range headers {
		workerDTypes[ii] = dtypes.DType(h.At(0))
		workerRanks[ii] = int(h.At(1))
		maxRank = max(maxRank, workerRanks[ii])
	}

	// Exchange dimensions, padded to maxRank.
	dimsFlat := make([]float64, maxRank)
	for axis, dim := range value.Shape().Dimensions {
		dimsFlat[axis] = float64(dim)
	}
	allDims := mustGather(g, tensors.FromFloat64s(dtypes.Int64, dimsFlat, maxRank))
	workerShapes := make([]shapes.Shape, numWorkers)
	for ii := range numWorkers {
		dims := make([]int, workerRanks[ii])
		for axis := range dims {
			dims[axis] = int(allDims[ii].At(axis))
		}
		workerShapes[ii] = shapes.Make(workerDTypes[ii], dims...)
	}

	// The reference rank and dtype are the ones of the first non-empty worker.
	refRank, refDType := -1, value.DType()
	for _, s := range workerShapes {
		if !s.IsEmpty() {
			refRank, refDType = s.Rank(), s.DType
			break
		}
	}
	if refRank < 0 {
		// Everyone is empty: there is nothing to gather.
		results := make([]*tensors.Tensor, numWorkers)
		for ii, s := range workerShapes {
			results[ii] = tensors.FromShape(s)
		}
		return results
	}
	paddedDims := make([]int, refRank)
	for _, s := range workerShapes {
		if s.Rank() != refRank {
			if s.IsEmpty() {
				continue
			}
			exceptions.Panicf("cannot gather tensors of different ranks: %v", workerShapes)
		}
		for axis, dim := range s.Dimensions {
			paddedDims[axis] = max(paddedDims[axis], dim)
		}
	}

	// Gather padded values, always as Float64, so dtypes don't need to match.
	var padded *tensors.Tensor
	if value.Rank() == refRank {
		padded = tensors.PadTo(value.ConvertDType(dtypes.Float64), 0, paddedDims...)
	} else {
		padded = tensors.Zeros(dtypes.Float64, paddedDims...)
	}
	gathered := mustGather(g, padded)

	results := make([]*tensors.Tensor, numWorkers)
	for ii, s := range workerShapes {
		if s.Rank() != refRank {
			// Empty worker with a mismatched rank.
			emptyDims := append([]int{0}, paddedDims[1:]...)
			results[ii] = tensors.Zeros(refDType, emptyDims...)
			continue
		}
		results[ii] = tensors.TrimTo(gathered[ii], s.Dimensions...).ConvertDType(s.DType)
	}
	return results
}

func mustGather(g Gatherer, value *tensors.Tensor) []*tensors.Tensor {
	values, err := g.AllGather(value)
	if err != nil {
		panic(err)
	}
	if len(values) != g.WorldSize() {
		exceptions.Panicf("AllGather returned %d values for a world size of %d", len(values), g.WorldSize())
	}
	return values
}
