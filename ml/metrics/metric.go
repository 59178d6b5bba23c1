// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics implements stateful metrics that accumulate statistics over a stream of batches, and
// that can be synchronized across distributed workers before being computed.
//
// Every metric embeds a *Base, which owns the metric's StateField registry and implements the protocol:
//
//   - Update(inputs...): validates the inputs and folds them into the local state. On error the state is
//     left exactly as it was before the call.
//   - Compute(): syncs the state across workers (if a distributed.Gatherer is configured), computes the
//     result, and restores the local state, so later updates only accumulate local data.
//   - Call(inputs...): updates the state with a batch, and returns the metric for that batch alone.
//   - Reset(): sets all non-persistent fields back to their defaults.
//
// Concrete metrics implement Impl (UpdateState and ComputeState) and only deal with their own state.
//
// Metrics are not safe for concurrent use: calls to one metric must be serialized by the caller. When
// distributed, every worker must call Compute (or Sync) for the same logical step, since gathering the
// state is a collective operation.
package metrics

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/streammetrics/ml/metrics/distributed"
	"github.com/gomlx/streammetrics/types/shapes"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Interface implemented by all metrics, through Base.
type Interface interface {
	// Name of the metric.
	Name() string

	// ShortName is a shortened version of the name (preferably a few characters) to display in progress bars or
	// similar UIs.
	ShortName() string

	// ScopeName is a combination of name and something unique, used to key the metric's state when exported.
	ScopeName() string

	// MetricType is a key for metrics that share the same quantity or semantics. Eg.:
	// "Batch-Accuracy" and "Accuracy" would both have the same "accuracy" metric type, and for instance,
	// can be displayed on the same plot, sharing the Y-axis.
	MetricType() string

	// Inputs are the names of the inputs taken by Update, in order. It is used by collections to select
	// the inputs of each metric from a batch of named tensors.
	Inputs() []string

	// PrettyPrint is used to pretty-print a metric value, usually in a short form.
	PrettyPrint(value *tensors.Tensor) string

	// Update accumulates the inputs into the metric's state.
	Update(inputs ...*tensors.Tensor) error

	// Compute returns the metric over everything accumulated since the last reset, across all workers.
	Compute() (*tensors.Tensor, error)

	// Call updates the state with the inputs, and returns the metric computed for this batch only.
	Call(inputs ...*tensors.Tensor) (*tensors.Tensor, error)

	// Reset the metric's state when starting a new evaluation.
	Reset()

	// Sync replaces the local state with the state gathered (and reduced) from all workers.
	Sync() error

	// Unsync restores the local state saved by Sync.
	Unsync() error

	// SetGatherer configures the collective used by Sync.
	SetGatherer(g distributed.Gatherer)

	// UpdateCount is the number of successful updates since the last reset.
	UpdateCount() int
}

// Impl is implemented by concrete metrics, and called by Base.
type Impl interface {
	// UpdateState validates inputs and updates the metric's state fields. It may return an error
	// (preferably wrapping ErrValidation) or panic with an error: in both cases Base restores all state
	// fields to their values before the call.
	UpdateState(inputs ...*tensors.Tensor) error

	// ComputeState computes the metric from the current state fields. When synced, fields hold the
	// values reduced across workers.
	ComputeState() (*tensors.Tensor, error)
}

const (
	// LossMetricType is the type of loss metrics.
	// Used to aggregate metrics of the same type in the same plot.
	LossMetricType = "loss"

	// AccuracyMetricType is the type of accuracy metrics.
	AccuracyMetricType = "accuracy"
)

// DefaultInputs are the names of the inputs taken by most metrics.
var DefaultInputs = []string{"preds", "target"}

// PrettyPrintFn is a function to convert a metric value to a string.
type PrettyPrintFn func(value *tensors.Tensor) string

// reservedNames can't be used for state fields, since they would clash with the metric's own methods
// when the state is exported (e.g. in a StateDict).
var reservedNames = map[string]bool{
	"update": true, "compute": true, "reset": true, "call": true, "sync": true, "unsync": true,
	"name": true, "inputs": true, "state_dict": true, "update_count": true,
}

var validFieldName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Base implements the state registry and the update/compute/sync protocol shared by all metrics.
// Concrete metrics embed a *Base created with NewBase.
type Base struct {
	impl Impl

	name, shortName, metricType, scopeName string
	inputs                                 []string
	prettyPrintFn                          PrettyPrintFn
	differentiable, higherIsBetter         bool

	gatherer          distributed.Gatherer
	warningHandler    WarningHandler
	callMode          CallMode
	syncOnCall        bool
	distributedWarned bool

	fields       []*StateField
	fieldsByName map[string]*StateField

	updateCount int
	cached      *tensors.Tensor

	synced    bool
	syncCache []fieldSnapshot
}

// Option configures a metric. Options are applied in order, after the metric's own defaults.
type Option func(b *Base)

// WithName overrides the metric's name.
func WithName(name string) Option {
	return func(b *Base) { b.name = name }
}

// WithShortName sets the metric's short name. It defaults to the name.
func WithShortName(shortName string) Option {
	return func(b *Base) { b.shortName = shortName }
}

// WithMetricType sets the metric's type. It defaults to the name.
func WithMetricType(metricType string) Option {
	return func(b *Base) { b.metricType = metricType }
}

// WithInputs sets the names of the inputs taken by Update, used by collections.
func WithInputs(names ...string) Option {
	return func(b *Base) { b.inputs = names }
}

// WithPrettyPrint sets the function used by PrettyPrint.
func WithPrettyPrint(fn PrettyPrintFn) Option {
	return func(b *Base) { b.prettyPrintFn = fn }
}

// WithGatherer sets the collective used to sync the metric across workers. Without one (or if it is
// not active) the metric runs as a single process.
func WithGatherer(g distributed.Gatherer) Option {
	return func(b *Base) { b.gatherer = g }
}

// WithWarningHandler sets the handler for non-fatal warnings. The default logs them with klog.
func WithWarningHandler(handler WarningHandler) Option {
	return func(b *Base) { b.warningHandler = handler }
}

// WithCallMode sets how Call computes its per-batch result. Default is CallBatchLocal.
func WithCallMode(mode CallMode) Option {
	return func(b *Base) { b.callMode = mode }
}

// WithSyncOnCall makes Call sync the batch-local state across workers before computing the batch result.
// Every worker must then call Call in lockstep.
func WithSyncOnCall(sync bool) Option {
	return func(b *Base) { b.syncOnCall = sync }
}

// WithDifferentiable marks the metric as differentiable. It is metadata only.
func WithDifferentiable(differentiable bool) Option {
	return func(b *Base) { b.differentiable = differentiable }
}

// WithHigherIsBetter marks whether larger values of the metric are better.
func WithHigherIsBetter(higherIsBetter bool) Option {
	return func(b *Base) { b.higherIsBetter = higherIsBetter }
}

// NewBase creates the Base of a metric. impl is the concrete metric, usually the struct embedding the
// returned Base.
func NewBase(impl Impl, name string, options ...Option) *Base {
	b := &Base{
		impl:         impl,
		name:         name,
		inputs:       DefaultInputs,
		fieldsByName: make(map[string]*StateField),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// AddState registers a TensorState field with the given default value and reduction.
//
// It returns an error wrapping ErrConfiguration if the name is invalid, reserved or already used, or if
// the default value is nil.
func (b *Base) AddState(name string, defaultValue *tensors.Tensor, reduction Reduction, opts ...StateOption) (*StateField, error) {
	if defaultValue == nil {
		return nil, Configurationf("metric %q: state %q must have a non-nil default value", b.name, name)
	}
	return b.addField(&StateField{
		name:         name,
		kind:         TensorState,
		defaultValue: defaultValue,
		reduction:    reduction,
	}, opts)
}

// AddListState registers a ListState field, empty by default, with the given reduction.
func (b *Base) AddListState(name string, reduction Reduction, opts ...StateOption) (*StateField, error) {
	return b.addField(&StateField{
		name:      name,
		kind:      ListState,
		reduction: reduction,
	}, opts)
}

func (b *Base) addField(f *StateField, opts []StateOption) (*StateField, error) {
	switch {
	case !validFieldName.MatchString(f.name):
		return nil, Configurationf("metric %q: invalid state name %q", b.name, f.name)
	case reservedNames[strings.ToLower(f.name)]:
		return nil, Configurationf("metric %q: state name %q is reserved", b.name, f.name)
	case b.fieldsByName[f.name] != nil:
		return nil, Configurationf("metric %q: state %q already declared", b.name, f.name)
	case f.reduction < ReduceSum || f.reduction > ReduceMax:
		return nil, Configurationf("metric %q: state %q has invalid reduction %s", b.name, f.name, f.reduction)
	}
	for _, opt := range opts {
		opt(f)
	}
	f.reset()
	b.fields = append(b.fields, f)
	b.fieldsByName[f.name] = f
	return f, nil
}

// Field returns the state field with the given name, or nil if not declared.
func (b *Base) Field(name string) *StateField {
	return b.fieldsByName[name]
}

// Fields returns the state fields in declaration order.
func (b *Base) Fields() []*StateField {
	return b.fields
}

// Name of the metric.
func (b *Base) Name() string { return b.name }

// ShortName of the metric, defaults to the name.
func (b *Base) ShortName() string {
	if b.shortName == "" {
		return b.name
	}
	return b.shortName
}

// MetricType of the metric, defaults to the name.
func (b *Base) MetricType() string {
	if b.metricType == "" {
		return b.name
	}
	return b.metricType
}

// ScopeName returns a unique name for the metric's state.
func (b *Base) ScopeName() string {
	if b.scopeName == "" {
		b.scopeName = fmt.Sprintf("%s_uuid_%s", b.name, uuid.NewString())
	}
	return b.scopeName
}

// Inputs returns the names of the inputs taken by Update.
func (b *Base) Inputs() []string { return b.inputs }

// IsDifferentiable returns whether the metric is marked as differentiable.
func (b *Base) IsDifferentiable() bool { return b.differentiable }

// HigherIsBetter returns whether larger values of the metric are better.
func (b *Base) HigherIsBetter() bool { return b.higherIsBetter }

// UpdateCount is the number of successful updates since the last reset.
func (b *Base) UpdateCount() int { return b.updateCount }

// Gatherer returns the configured collective, or nil.
func (b *Base) Gatherer() distributed.Gatherer { return b.gatherer }

// SetGatherer configures the collective used by Sync.
func (b *Base) SetGatherer(g distributed.Gatherer) {
	b.gatherer = g
	b.distributedWarned = false
}

// PrettyPrint formats a value computed by the metric.
func (b *Base) PrettyPrint(value *tensors.Tensor) string {
	if b.prettyPrintFn != nil {
		return b.prettyPrintFn(value)
	}
	if value == nil {
		return "<nil>"
	}
	dtype := value.DType()
	if shapes.IsFloat(dtype) && value.IsScalar() {
		v := value.Value()
		if dtype == dtypes.Float16 {
			v = v.(float16.Float16).Float32()
		} else if dtype == dtypes.BFloat16 {
			v = v.(bfloat16.BFloat16).Float32()
		}
		return fmt.Sprintf("%.3g", v)
	}
	return fmt.Sprintf("%v", value.Value())
}

// Update validates the inputs and accumulates them into the local state.
//
// If the metric's UpdateState fails (returns an error or panics), every state field is restored to its
// value before the call and the error is returned.
func (b *Base) Update(inputs ...*tensors.Tensor) error {
	if b.synced {
		return errors.Wrapf(ErrAlreadySynced, "metric %q: Update called on a synced metric, call Unsync first", b.name)
	}
	if err := b.updateLocal(inputs); err != nil {
		return err
	}
	b.updateCount++
	b.cached = nil
	return nil
}

// updateLocal calls the metric's UpdateState and restores the fields if it fails.
func (b *Base) updateLocal(inputs []*tensors.Tensor) error {
	for ii, input := range inputs {
		if input == nil {
			return Validationf("metric %q: input #%d is nil", b.name, ii)
		}
	}
	snapshots := b.snapshotFields()
	var err error
	panicErr := exceptions.TryCatch[error](func() { err = b.impl.UpdateState(inputs...) })
	if panicErr != nil {
		err = errors.Wrapf(ErrValidation, "%v", panicErr)
	}
	if err != nil {
		b.restoreFields(snapshots)
		return errors.WithMessagef(err, "metric %q: update failed", b.name)
	}
	return nil
}

// Compute returns the metric over everything accumulated since the last reset. If a Gatherer is
// configured, the state of all workers is synced for the computation and restored afterward.
//
// The result is cached until the next Update or Reset, so calling Compute repeatedly returns the
// same value. A cached result doesn't take part in the gather: when distributed, either all workers
// update (or reset) between two calls to Compute or none does. Otherwise the workers that recompute
// block waiting for the ones that returned their cached result.
func (b *Base) Compute() (*tensors.Tensor, error) {
	if b.updateCount == 0 {
		b.Warnf(WarnComputeBeforeUpdate, "Compute called before any Update, returning the metric's empty value")
	}
	if b.cached != nil {
		return b.cached, nil
	}
	var result *tensors.Tensor
	err := b.SyncContext(func() error {
		var err error
		result, err = b.computeState()
		return err
	})
	if err != nil {
		return nil, err
	}
	b.cached = result
	return result, nil
}

// computeState calls the metric's ComputeState, converting panics to errors.
func (b *Base) computeState() (result *tensors.Tensor, err error) {
	panicErr := exceptions.TryCatch[error](func() { result, err = b.impl.ComputeState() })
	if panicErr != nil {
		err = panicErr
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "metric %q: compute failed", b.name)
	}
	return result, nil
}

// Reset sets every non-persistent state field back to its default, and clears the update count.
// Persistent fields are left untouched. If the metric was synced, the local state is restored first.
func (b *Base) Reset() {
	if b.synced {
		b.restoreFields(b.syncCache)
		b.synced = false
		b.syncCache = nil
	}
	for _, f := range b.fields {
		if !f.persistent {
			f.reset()
		}
	}
	b.updateCount = 0
	b.cached = nil
}

func (b *Base) snapshotFields() []fieldSnapshot {
	snapshots := make([]fieldSnapshot, len(b.fields))
	for ii, f := range b.fields {
		snapshots[ii] = f.snapshot()
	}
	return snapshots
}

func (b *Base) restoreFields(snapshots []fieldSnapshot) {
	for ii, f := range b.fields {
		f.restore(snapshots[ii])
	}
}

// StateDict returns the value of every state field, keyed by name. List fields are concatenated, and
// omitted if empty. When distributed, the values are the ones synced across workers, except for
// ReduceNone fields, which keep their local value since merging them is specific to each metric.
func (b *Base) StateDict() (map[string]*tensors.Tensor, error) {
	dict := make(map[string]*tensors.Tensor, len(b.fields))
	err := b.SyncContext(func() error {
		for _, f := range b.fields {
			if f.kind == ListState {
				if t := f.Concatenated(); t != nil {
					dict[f.name] = t
				}
				continue
			}
			dict[f.name] = f.value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dict, nil
}

// LoadStateDict sets the state fields from the values in dict, as returned by StateDict. Fields missing
// in dict are reset to their defaults. It fails with ErrValidation on unknown names, or if a value of an
// elementwise reduced field (sum, mean, min, max) doesn't have the shape of the field's default.
// On error no field is changed.
func (b *Base) LoadStateDict(dict map[string]*tensors.Tensor) error {
	if b.synced {
		return errors.Wrapf(ErrAlreadySynced, "metric %q: LoadStateDict called on a synced metric", b.name)
	}
	for name, value := range dict {
		f := b.fieldsByName[name]
		if f == nil {
			return Validationf("metric %q: unknown state %q", b.name, name)
		}
		if value == nil {
			return Validationf("metric %q: nil value for state %q", b.name, name)
		}
		elementwise := f.reduction != ReduceCat && f.reduction != ReduceNone
		if f.kind == TensorState && elementwise && !value.Shape().EqualDimensions(f.defaultValue.Shape()) {
			return Validationf("metric %q: state %q has shape %s, loaded value has shape %s",
				b.name, f.name, f.defaultValue.Shape(), value.Shape())
		}
	}
	for _, f := range b.fields {
		f.reset()
		value, found := dict[f.name]
		if !found {
			continue
		}
		if f.kind == ListState {
			f.list = []*tensors.Tensor{value}
		} else {
			f.value = value
		}
	}
	b.updateCount = 0
	if len(dict) > 0 {
		// Loaded state counts as one update.
		b.updateCount = 1
	}
	b.cached = nil
	return nil
}
