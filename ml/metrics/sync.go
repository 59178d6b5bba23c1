// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/ml/metrics/distributed"
	"github.com/gomlx/streammetrics/types/shapes"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// defaultListDType is the dtype of the empty tensor contributed by an empty list field to a gather.
// GatherAll replaces it by the dtype of the workers that have values.
const defaultListDType = dtypes.Float64

// Synced returns whether the metric currently holds the state synced across workers.
func (b *Base) Synced() bool { return b.synced }

// Sync replaces the local value of every state field by the values gathered from all workers, reduced
// by the field's Reduction. The local values are saved, and restored by Unsync.
//
// If no Gatherer is configured, or it is not active, the fields keep their local values (a warning is
// issued once if a Gatherer was configured but is not active). It returns an error wrapping
// ErrAlreadySynced if called twice without Unsync.
//
// Sync is a collective operation: all workers must call it.
func (b *Base) Sync() error {
	if b.synced {
		return errors.Wrapf(ErrAlreadySynced, "metric %q", b.name)
	}
	snapshots := b.snapshotFields()
	if b.gatherer != nil && !b.gatherer.IsActive() && !b.distributedWarned {
		b.distributedWarned = true
		b.Warnf(WarnDistributedUnavailable, "distributed group is not active, metric computed on local state only")
	}
	if b.gatherer != nil && b.gatherer.IsActive() {
		klog.V(2).Infof("metric %q: syncing %d state fields on rank %d/%d",
			b.name, len(b.fields), b.gatherer.Rank(), b.gatherer.WorldSize())
		for _, f := range b.fields {
			if err := b.syncField(f); err != nil {
				b.restoreFields(snapshots)
				return err
			}
		}
	}
	for _, f := range b.fields {
		f.synced = true
	}
	b.synced = true
	b.syncCache = snapshots
	b.cached = nil
	return nil
}

// Unsync restores the local state saved by Sync. It returns an error wrapping ErrNotSynced if the
// metric is not synced.
func (b *Base) Unsync() error {
	if !b.synced {
		return errors.Wrapf(ErrNotSynced, "metric %q", b.name)
	}
	b.restoreFields(b.syncCache)
	b.syncCache = nil
	b.synced = false
	b.cached = nil
	return nil
}

// SyncContext syncs the metric, calls fn and restores the local state, even if fn fails.
// If the metric is already synced, it simply calls fn.
func (b *Base) SyncContext(fn func() error) error {
	if b.synced {
		return fn()
	}
	if err := b.Sync(); err != nil {
		return err
	}
	err := fn()
	if unsyncErr := b.Unsync(); unsyncErr != nil && err == nil {
		err = unsyncErr
	}
	return err
}

// syncField gathers and reduces one field.
func (b *Base) syncField(f *StateField) error {
	local := f.value
	if f.kind == ListState {
		local = f.Concatenated()
		if local == nil {
			// Empty lists take part in the gather as an empty tensor.
			local = tensors.Zeros(defaultListDType, 0)
		}
	}
	gathered, err := distributed.GatherAll(b.gatherer, local)
	if err != nil {
		return errors.WithMessagef(err, "metric %q: failed to gather state %q", b.name, f.name)
	}
	err = exceptions.TryCatch[error](func() {
		if f.kind == ListState {
			f.list = reduceList(f.reduction, gathered)
			return
		}
		if f.reduction == ReduceNone {
			f.gathered = gathered
			return
		}
		f.value = reduceGathered(f.reduction, gathered)
	})
	if err != nil {
		return errors.WithMessagef(err, "metric %q: failed to reduce state %q with %s", b.name, f.name, f.reduction)
	}
	return nil
}

// reduceList reduces the gathered values of a list field: cat yields a single element list (or an empty
// list if every worker was empty), none yields the per-worker list, elementwise reductions a single
// element list with the reduced value.
func reduceList(reduction Reduction, gathered []*tensors.Tensor) []*tensors.Tensor {
	switch reduction {
	case ReduceNone:
		return gathered
	case ReduceCat:
		nonEmpty := make([]*tensors.Tensor, 0, len(gathered))
		for _, t := range gathered {
			if t.Size() > 0 {
				nonEmpty = append(nonEmpty, t)
			}
		}
		if len(nonEmpty) == 0 {
			return nil
		}
		return []*tensors.Tensor{catValues(nonEmpty)}
	}
	return []*tensors.Tensor{reduceGathered(reduction, gathered)}
}

// reduceGathered applies an elementwise (or cat) reduction to the gathered values of a tensor field.
func reduceGathered(reduction Reduction, gathered []*tensors.Tensor) *tensors.Tensor {
	if reduction == ReduceCat {
		return catValues(gathered)
	}
	result := gathered[0]
	for _, value := range gathered[1:] {
		switch reduction {
		case ReduceSum, ReduceMean:
			result = tensors.Add(result, value)
		case ReduceMin:
			result = tensors.Minimum(result, value)
		case ReduceMax:
			result = tensors.Maximum(result, value)
		default:
			exceptions.Panicf("unknown reduction %s", reduction)
		}
	}
	if reduction == ReduceMean {
		result = tensors.Scale(result.ConvertDType(floatDType(result)), 1/float64(len(gathered)))
	}
	return result
}

func floatDType(t *tensors.Tensor) dtypes.DType {
	if shapes.IsFloat(t.DType()) {
		return t.DType()
	}
	return dtypes.Float64
}
