// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"fmt"
	"slices"

	"github.com/gomlx/streammetrics/types/tensors"
)

// Reduction is the rule used to merge the per-worker values of a StateField during Sync.
// It is only applied during distributed synchronization, never on local updates.
type Reduction int

const (
	// ReduceSum sums the per-worker values elementwise.
	ReduceSum Reduction = iota

	// ReduceCat concatenates the per-worker values along the first axis, in ascending worker rank order.
	ReduceCat

	// ReduceNone keeps the per-worker values, accessible with StateField.Values (or StateField.List for
	// list fields), and leaves the merge to the metric's ComputeState.
	ReduceNone

	// ReduceMean averages the per-worker values elementwise.
	ReduceMean

	// ReduceMin takes the elementwise minimum of the per-worker values.
	ReduceMin

	// ReduceMax takes the elementwise maximum of the per-worker values.
	ReduceMax
)

var reductionNames = []string{"sum", "cat", "none", "mean", "min", "max"}

func (r Reduction) String() string {
	if r < 0 || int(r) >= len(reductionNames) {
		return fmt.Sprintf("Reduction(%d)", int(r))
	}
	return reductionNames[r]
}

// ParseReduction converts a name as returned by Reduction.String back to a Reduction.
func ParseReduction(name string) (Reduction, error) {
	idx := slices.Index(reductionNames, name)
	if idx < 0 {
		return 0, Configurationf("unknown reduction %q, valid values are %v", name, reductionNames)
	}
	return Reduction(idx), nil
}

// mergeable returns whether a batch-local value can be folded into the global value with the reduction
// itself, which is what the reduce-state Call strategy requires.
func (r Reduction) mergeable() bool {
	return r == ReduceSum || r == ReduceCat || r == ReduceMin || r == ReduceMax
}

// StateKind is the kind of value held by a StateField.
type StateKind int

const (
	// TensorState holds a single fixed-shape tensor (a scalar included).
	TensorState StateKind = iota

	// ListState holds a growable list of tensors, empty by default.
	ListState
)

func (k StateKind) String() string {
	if k == ListState {
		return "list"
	}
	return "tensor"
}

// StateField is a named piece of metric state, with a default value and the Reduction used to merge it
// across workers.
//
// Tensors stored in a StateField are never mutated: updates replace the pointer, which is what makes
// snapshots (for Sync and Call) as cheap as copying pointers.
type StateField struct {
	name         string
	kind         StateKind
	defaultValue *tensors.Tensor
	reduction    Reduction
	persistent   bool

	value    *tensors.Tensor
	list     []*tensors.Tensor
	gathered []*tensors.Tensor
	synced   bool
}

// Name of the field, unique within its metric.
func (f *StateField) Name() string { return f.name }

// Kind of the field.
func (f *StateField) Kind() StateKind { return f.kind }

// Reduction used to merge the field across workers.
func (f *StateField) Reduction() Reduction { return f.reduction }

// Persistent returns whether the field survives Reset.
func (f *StateField) Persistent() bool { return f.persistent }

// Default value of a TensorState field. It is nil for ListState fields.
func (f *StateField) Default() *tensors.Tensor { return f.defaultValue }

// Synced returns whether the field currently holds synchronized (gathered) values.
func (f *StateField) Synced() bool { return f.synced }

// Value returns the current value of a TensorState field.
//
// During a sync with ReduceNone, Value keeps returning the local value: use Values to access the
// per-worker values.
func (f *StateField) Value() *tensors.Tensor {
	return f.value
}

// Set replaces the value of a TensorState field. It panics for ListState fields.
func (f *StateField) Set(value *tensors.Tensor) {
	if f.kind != TensorState {
		panic(fmt.Sprintf("StateField(%q).Set called on a %s field, use Append", f.name, f.kind))
	}
	f.value = value
}

// Append adds a value to a ListState field. It panics for TensorState fields.
func (f *StateField) Append(value *tensors.Tensor) {
	if f.kind != ListState {
		panic(fmt.Sprintf("StateField(%q).Append called on a %s field, use Set", f.name, f.kind))
	}
	f.list = append(f.list, value)
}

// List returns the values of a ListState field. After a sync with ReduceCat it has exactly one element
// (the concatenation of all workers' values); after a sync with ReduceNone it has one element per worker.
// The returned slice must not be modified.
func (f *StateField) List() []*tensors.Tensor {
	return f.list
}

// Concatenated returns the values of a ListState field concatenated along the first axis, or nil if the
// list is empty.
func (f *StateField) Concatenated() *tensors.Tensor {
	return concatList(f.list)
}

// Values returns the per-worker values of a TensorState field after a sync with ReduceNone, in rank order.
// Otherwise, it returns a list with the single current value.
func (f *StateField) Values() []*tensors.Tensor {
	if f.synced && f.gathered != nil {
		return f.gathered
	}
	return []*tensors.Tensor{f.value}
}

// reset sets the field back to its default. List fields get a fresh buffer, so no previously returned
// slice is aliased.
func (f *StateField) reset() {
	f.value = f.defaultValue
	f.list = nil
	f.gathered = nil
	f.synced = false
}

// fieldSnapshot holds the pointers of a StateField, enough to restore it since tensors are immutable.
type fieldSnapshot struct {
	value    *tensors.Tensor
	list     []*tensors.Tensor
	gathered []*tensors.Tensor
	synced   bool
}

func (f *StateField) snapshot() fieldSnapshot {
	return fieldSnapshot{
		value:    f.value,
		list:     slices.Clip(f.list),
		gathered: f.gathered,
		synced:   f.synced,
	}
}

func (f *StateField) restore(s fieldSnapshot) {
	f.value = s.value
	f.list = s.list
	f.gathered = s.gathered
	f.synced = s.synced
}

func concatList(list []*tensors.Tensor) *tensors.Tensor {
	switch len(list) {
	case 0:
		return nil
	case 1:
		return list[0]
	}
	return tensors.Concatenate(list...)
}

// StateOption configures a StateField in Base.AddState.
type StateOption func(f *StateField)

// Persistent marks the field to survive Reset.
func Persistent() StateOption {
	return func(f *StateField) { f.persistent = true }
}
