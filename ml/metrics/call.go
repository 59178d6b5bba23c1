// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/pkg/errors"
)

// CallMode defines how Call computes the per-batch result.
type CallMode int

const (
	// CallBatchLocal returns the metric computed on the batch alone, while still accumulating the batch
	// into the global state. This is the default.
	CallBatchLocal CallMode = iota

	// CallRunning returns Compute() right after updating with the batch, that is, the metric over
	// everything accumulated so far. Use it for metrics whose Compute is cheap enough to call after every
	// update.
	CallRunning
)

func (m CallMode) String() string {
	if m == CallRunning {
		return "running"
	}
	return "batch-local"
}

// Call updates the metric's state with the inputs and returns a result according to the CallMode.
//
// With CallBatchLocal (default) the global state is snapshot, the batch is computed on a fresh state
// and the global state is restored with the batch folded in. If every state field has a reduction that
// can merge two states (sum, cat, min or max), the batch state is merged into the global one. Otherwise,
// the global state is updated first and then saved while the batch is computed from scratch.
//
// On error, the metric's state is left as it was before the call.
func (b *Base) Call(inputs ...*tensors.Tensor) (*tensors.Tensor, error) {
	if b.synced {
		return nil, errors.Wrapf(ErrAlreadySynced, "metric %q: Call on a synced metric, call Unsync first", b.name)
	}
	switch b.callMode {
	case CallRunning:
		if err := b.Update(inputs...); err != nil {
			return nil, err
		}
		return b.Compute()
	case CallBatchLocal:
		if b.canMergeStates() {
			return b.callReduceState(inputs)
		}
		return b.callFullState(inputs)
	}
	return nil, Configurationf("metric %q: unknown call mode %d", b.name, b.callMode)
}

func (b *Base) canMergeStates() bool {
	for _, f := range b.fields {
		if !f.reduction.mergeable() {
			return false
		}
	}
	return true
}

// globalState is everything Call needs to save while it computes a batch-local result.
type globalState struct {
	fields      []fieldSnapshot
	updateCount int
	cached      *tensors.Tensor
}

func (b *Base) saveGlobal() globalState {
	return globalState{fields: b.snapshotFields(), updateCount: b.updateCount, cached: b.cached}
}

func (b *Base) restoreGlobal(g globalState) {
	b.restoreFields(g.fields)
	b.updateCount = g.updateCount
	b.cached = g.cached
}

// resetForBatch resets the non-persistent fields, without touching the global counters.
func (b *Base) resetForBatch() {
	for _, f := range b.fields {
		if !f.persistent {
			f.reset()
		}
	}
	b.cached = nil
}

// computeBatch computes the current (batch-local) state, synced only if WithSyncOnCall was set.
func (b *Base) computeBatch() (*tensors.Tensor, error) {
	if b.syncOnCall {
		var result *tensors.Tensor
		err := b.SyncContext(func() error {
			var err error
			result, err = b.computeState()
			return err
		})
		return result, err
	}
	return b.computeState()
}

// callFullState updates the global state, then computes the batch on a fresh state and restores.
func (b *Base) callFullState(inputs []*tensors.Tensor) (*tensors.Tensor, error) {
	if err := b.Update(inputs...); err != nil {
		return nil, err
	}
	global := b.saveGlobal()
	defer b.restoreGlobal(global)

	b.resetForBatch()
	if err := b.updateLocal(inputs); err != nil {
		return nil, err
	}
	return b.computeBatch()
}

// callReduceState computes the batch on a fresh state, and then merges the batch state into the
// global state using each field's reduction.
func (b *Base) callReduceState(inputs []*tensors.Tensor) (*tensors.Tensor, error) {
	global := b.saveGlobal()
	b.resetForBatch()
	if err := b.updateLocal(inputs); err != nil {
		b.restoreGlobal(global)
		return nil, err
	}
	result, err := b.computeBatch()
	if err != nil {
		// The batch is still valid: fold it in, as Update would have.
		if mergeErr := b.mergeGlobal(global); mergeErr != nil {
			b.restoreGlobal(global)
			return nil, mergeErr
		}
		return nil, err
	}
	if err := b.mergeGlobal(global); err != nil {
		b.restoreGlobal(global)
		return nil, err
	}
	return result, nil
}

// mergeGlobal folds the global snapshot into the current (batch) state. If the global state had no
// updates the batch state is kept as is, so non-zero defaults are not counted twice.
func (b *Base) mergeGlobal(global globalState) error {
	if global.updateCount > 0 {
		err := exceptions.TryCatch[error](func() {
			for ii, f := range b.fields {
				if f.persistent {
					continue
				}
				g := global.fields[ii]
				if f.kind == ListState {
					f.list = append(append([]*tensors.Tensor(nil), g.list...), f.list...)
					continue
				}
				f.value = mergeValues(f.reduction, g.value, f.value)
			}
		})
		if err != nil {
			return errors.WithMessagef(err, "metric %q: failed to merge batch state", b.name)
		}
	}
	b.updateCount = global.updateCount + 1
	b.cached = nil
	return nil
}

// mergeValues merges two values with a mergeable reduction.
func mergeValues(reduction Reduction, a, b *tensors.Tensor) *tensors.Tensor {
	switch reduction {
	case ReduceSum:
		return tensors.Add(a, b)
	case ReduceMin:
		return tensors.Minimum(a, b)
	case ReduceMax:
		return tensors.Maximum(a, b)
	case ReduceCat:
		return catValues([]*tensors.Tensor{a, b})
	}
	exceptions.Panicf("reduction %s cannot merge states", reduction)
	return nil
}

// catValues concatenates values along the first axis. Scalars are stacked.
func catValues(values []*tensors.Tensor) *tensors.Tensor {
	if len(values) == 0 {
		return nil
	}
	if values[0].IsScalar() {
		return tensors.Stack(values...)
	}
	return tensors.Concatenate(values...)
}
