// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"context"

	"github.com/gomlx/streammetrics/pkg/support/xsync"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Group is an in-process collective for a fixed number of workers, each one running on its own
// goroutine. Each worker uses its own Member (see Group.Member) as its Gatherer.
//
// It is used to run K workers in one process (tests, the metrics_report demo), exactly as K processes
// would run with a real collective communication library.
type Group struct {
	worldSize int
	barrier   *xsync.Barrier
	slots     []*tensors.Tensor
}

// NewGroup creates a Group for worldSize workers.
func NewGroup(worldSize int) (*Group, error) {
	if worldSize < 1 {
		return nil, errors.Errorf("distributed.NewGroup: invalid world size %d", worldSize)
	}
	return &Group{
		worldSize: worldSize,
		barrier:   xsync.NewBarrier(worldSize),
		slots:     make([]*tensors.Tensor, worldSize),
	}, nil
}

// WorldSize returns the number of workers in the group.
func (grp *Group) WorldSize() int { return grp.worldSize }

// Member returns the Gatherer for the worker with the given rank.
func (grp *Group) Member(rank int) Gatherer {
	if rank < 0 || rank >= grp.worldSize {
		panic(errors.Errorf("distributed.Group.Member(%d): rank out of range for world size %d", rank, grp.worldSize))
	}
	return &member{group: grp, rank: rank}
}

// Abort releases every worker blocked in AllGather, and makes any further AllGather fail with err.
// It is used when a worker fails, so the others don't deadlock waiting for it.
func (grp *Group) Abort(err error) {
	grp.barrier.Abort(err)
}

type member struct {
	group *Group
	rank  int
}

func (m *member) IsActive() bool { return true }
func (m *member) Rank() int      { return m.rank }
func (m *member) WorldSize() int { return m.group.worldSize }

// AllGather publishes value in the member's slot, waits for all members, reads all slots and waits again,
// so no slot is overwritten before everyone has read it.
func (m *member) AllGather(value *tensors.Tensor) ([]*tensors.Tensor, error) {
	grp := m.group
	grp.slots[m.rank] = value
	if err := grp.barrier.Wait(); err != nil {
		return nil, errors.WithMessagef(err, "AllGather aborted on rank %d", m.rank)
	}
	values := make([]*tensors.Tensor, grp.worldSize)
	copy(values, grp.slots)
	for rank, v := range values {
		if v == nil || !v.Shape().Equal(value.Shape()) {
			// Keep in lockstep with the others before failing.
			_ = grp.barrier.Wait()
			return nil, errors.Errorf("AllGather on rank %d: rank %d contributed shape %v, expected %s",
				m.rank, rank, shapeOf(v), value.Shape())
		}
	}
	if err := grp.barrier.Wait(); err != nil {
		return nil, errors.WithMessagef(err, "AllGather aborted on rank %d", m.rank)
	}
	return values, nil
}

func shapeOf(t *tensors.Tensor) any {
	if t == nil {
		return nil
	}
	return t.Shape()
}

// WorkerFn is the function run by each worker of Run, with the worker's Gatherer.
type WorkerFn func(ctx context.Context, g Gatherer) error

// Run creates a Group of worldSize workers and runs fn once per rank, each on its own goroutine.
//
// If any worker returns an error (or ctx is cancelled) the group is aborted, releasing the workers
// blocked in AllGather, and the first error is returned.
func Run(ctx context.Context, worldSize int, fn WorkerFn) error {
	grp, err := NewGroup(worldSize)
	if err != nil {
		return err
	}
	eg, egCtx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(egCtx, func() {
		grp.Abort(context.Cause(egCtx))
	})
	defer stop()
	for rank := range worldSize {
		eg.Go(func() error {
			klog.V(2).Infof("distributed.Run: starting worker %d/%d", rank, worldSize)
			if err := fn(egCtx, grp.Member(rank)); err != nil {
				return errors.WithMessagef(err, "worker %d", rank)
			}
			return nil
		})
	}
	return eg.Wait()
}
