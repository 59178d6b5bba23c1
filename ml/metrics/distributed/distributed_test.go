// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"context"
	"sync"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal(t *testing.T) {
	g := Local()
	assert.False(t, g.IsActive())
	value := tensors.FromValue([]float64{1, 2})
	values, err := GatherAll(g, value)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Same(t, value, values[0])
}

func TestGroupAllGather(t *testing.T) {
	for _, worldSize := range []int{1, 2, 4} {
		var mu sync.Mutex
		gathered := make([][]*tensors.Tensor, worldSize)
		err := Run(context.Background(), worldSize, func(ctx context.Context, g Gatherer) error {
			values, err := g.AllGather(tensors.FromScalar(dtypes.Int32, float64(10*g.Rank())))
			if err != nil {
				return err
			}
			mu.Lock()
			gathered[g.Rank()] = values
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
		for rank := range worldSize {
			require.Len(t, gathered[rank], worldSize)
			for ii, v := range gathered[rank] {
				assert.Equal(t, int32(10*ii), v.Value())
			}
		}
	}
}

func TestGatherAllUneven(t *testing.T) {
	// Rank r contributes r rows of 2 columns: rank 0 contributes an empty tensor.
	const worldSize = 4
	results := make([][]*tensors.Tensor, worldSize)
	err := Run(context.Background(), worldSize, func(ctx context.Context, g Gatherer) error {
		rows := g.Rank()
		flat := make([]float32, 2*rows)
		for ii := range flat {
			flat[ii] = float32(g.Rank()*100 + ii)
		}
		values, err := GatherAll(g, tensors.FromFlatAndDimensions(flat, rows, 2))
		results[g.Rank()] = values
		return err
	})
	require.NoError(t, err)
	for rank := range worldSize {
		require.Len(t, results[rank], worldSize)
		for ii, v := range results[rank] {
			assert.Equal(t, dtypes.Float32, v.DType())
			assert.Equal(t, []int{ii, 2}, v.Shape().Dimensions)
			if ii > 0 {
				assert.Equal(t, float64(ii*100), v.At(0, 0))
				assert.Equal(t, float64(ii*100+2*ii-1), v.At(ii-1, 1))
			}
		}
	}
}

func TestGatherAllEmptyWithDifferentRank(t *testing.T) {
	results := make([][]*tensors.Tensor, 2)
	err := Run(context.Background(), 2, func(ctx context.Context, g Gatherer) error {
		var value *tensors.Tensor
		if g.Rank() == 0 {
			value = tensors.Zeros(dtypes.Float64, 0)
		} else {
			value = tensors.FromValue([][]int64{{1, 2, 3}})
		}
		values, err := GatherAll(g, value)
		results[g.Rank()] = values
		return err
	})
	require.NoError(t, err)
	for _, values := range results {
		assert.Equal(t, []int{0, 3}, values[0].Shape().Dimensions)
		assert.Equal(t, dtypes.Int64, values[0].DType())
		assert.Equal(t, [][]int64{{1, 2, 3}}, values[1].Value())
	}
}

func TestRunAbortsOnError(t *testing.T) {
	failure := errors.New("rank 1 failed")
	err := Run(context.Background(), 3, func(ctx context.Context, g Gatherer) error {
		if g.Rank() == 1 {
			return failure
		}
		// The other workers would block forever without the abort.
		_, err := g.AllGather(tensors.FromScalar(dtypes.Float64, 1))
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, failure)
}

func TestAllGatherShapeMismatch(t *testing.T) {
	err := Run(context.Background(), 2, func(ctx context.Context, g Gatherer) error {
		_, err := g.AllGather(tensors.Zeros(dtypes.Float64, g.Rank()+1))
		return err
	})
	require.Error(t, err)
}

func TestNewGroup(t *testing.T) {
	_, err := NewGroup(0)
	require.Error(t, err)
	grp, err := NewGroup(2)
	require.NoError(t, err)
	assert.Equal(t, 2, grp.WorldSize())
	assert.Panics(t, func() { grp.Member(2) })
}
