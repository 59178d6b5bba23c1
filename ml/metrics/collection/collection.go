// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package collection groups several metrics that are updated with the same batches and computed together.
//
// Metrics in a Collection are independent: if one fails to update (e.g. its inputs are invalid for it),
// the others are still updated, and the failure is reported in an *Error keyed by metric name.
package collection

import (
	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/ml/metrics/distributed"
	"github.com/gomlx/streammetrics/pkg/support/sets"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Factory creates a new metric. Collections built from factories can be cloned.
type Factory func() (metrics.Interface, error)

// Batch of named inputs, see Collection.UpdateBatch.
type Batch map[string]*tensors.Tensor

type child struct {
	metric      metrics.Interface
	factory     Factory
	inputPrefix string
}

// Collection is an ordered set of named metrics.
type Collection struct {
	prefix, postfix string
	names           *sets.Ordered[string]
	children        map[string]*child
	gatherer        distributed.Gatherer
}

// Option configures a Collection.
type Option func(c *Collection)

// WithPrefix prepends prefix to the keys of the results.
func WithPrefix(prefix string) Option {
	return func(c *Collection) { c.prefix = prefix }
}

// WithPostfix appends postfix to the keys of the results.
func WithPostfix(postfix string) Option {
	return func(c *Collection) { c.postfix = postfix }
}

// New returns an empty Collection.
func New(opts ...Option) *Collection {
	c := &Collection{names: sets.Make[string](), children: make(map[string]*child)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add a metric under the given name. It fails with metrics.ErrConfiguration if the name is already used.
//
// Collections with metrics added this way can't be cloned, see AddFactory.
func (c *Collection) Add(name string, m metrics.Interface) error {
	if m == nil {
		return metrics.Configurationf("collection: nil metric for %q", name)
	}
	return c.add(name, &child{metric: m})
}

// AddFactory creates a metric with factory and adds it under the given name.
func (c *Collection) AddFactory(name string, factory Factory) error {
	m, err := factory()
	if err != nil {
		return errors.WithMessagef(err, "collection: creating metric %q", name)
	}
	return c.add(name, &child{metric: m, factory: factory})
}

func (c *Collection) add(name string, ch *child) error {
	if name == "" {
		return metrics.Configurationf("collection: empty metric name")
	}
	if !c.names.Insert(name) {
		return metrics.Configurationf("collection: metric %q already added", name)
	}
	if c.gatherer != nil {
		ch.metric.SetGatherer(c.gatherer)
	}
	c.children[name] = ch
	return nil
}

// WithInputPrefix makes UpdateBatch select the inputs of the named metric from the batch keys prefixed
// with prefix. E.g., with prefix "ranking_", a metric taking "preds" reads "ranking_preds".
func (c *Collection) WithInputPrefix(name, prefix string) error {
	ch, found := c.children[name]
	if !found {
		return metrics.Configurationf("collection: unknown metric %q", name)
	}
	ch.inputPrefix = prefix
	return nil
}

// Names of the metrics, in insertion order.
func (c *Collection) Names() []string { return c.names.Keys() }

// Keys of the results returned by Compute and Call, in insertion order.
func (c *Collection) Keys() []string {
	keys := c.names.Keys()
	for ii, name := range keys {
		keys[ii] = c.key(name)
	}
	return keys
}

func (c *Collection) key(name string) string { return c.prefix + name + c.postfix }

// Metric returns the named metric, or nil if there is none.
func (c *Collection) Metric(name string) metrics.Interface {
	if ch, found := c.children[name]; found {
		return ch.metric
	}
	return nil
}

// Len returns the number of metrics.
func (c *Collection) Len() int { return c.names.Len() }

// forEach calls fn for each metric in order, and aggregates the failures.
func (c *Collection) forEach(op string, fn func(name string, ch *child) error) error {
	f := &failures{op: op}
	for _, name := range c.names.Keys() {
		err := fn(name, c.children[name])
		if err != nil {
			klog.V(1).Infof("collection.%s: metric %q failed: %v", op, name, err)
		}
		f.add(name, err)
	}
	return f.err()
}

// positional returns the leading inputs taken by m.
func positional(m metrics.Interface, inputs []*tensors.Tensor) []*tensors.Tensor {
	return inputs[:min(len(inputs), len(m.Inputs()))]
}

// Update each metric with the leading positional inputs it takes (e.g. a metric taking "preds" and "target"
// gets the first two).
func (c *Collection) Update(inputs ...*tensors.Tensor) error {
	return c.forEach("Update", func(_ string, ch *child) error {
		return ch.metric.Update(positional(ch.metric, inputs)...)
	})
}

// selectInputs returns the inputs of the child from the batch, in the order of its Inputs. Trailing
// inputs missing from the batch are optional, but the first one is required.
func (ch *child) selectInputs(batch Batch) ([]*tensors.Tensor, error) {
	var inputs []*tensors.Tensor
	for _, name := range ch.metric.Inputs() {
		t, found := batch[ch.inputPrefix+name]
		if !found {
			break
		}
		inputs = append(inputs, t)
	}
	if len(inputs) == 0 {
		return nil, errors.Wrapf(metrics.ErrValidation, "batch is missing input %q", ch.inputPrefix+ch.metric.Inputs()[0])
	}
	return inputs, nil
}

// UpdateBatch updates each metric with the inputs it takes, selected by name from the batch.
func (c *Collection) UpdateBatch(batch Batch) error {
	return c.forEach("UpdateBatch", func(_ string, ch *child) error {
		inputs, err := ch.selectInputs(batch)
		if err != nil {
			return err
		}
		return ch.metric.Update(inputs...)
	})
}

// Compute all metrics. Results are keyed by Keys. Metrics that fail are missing from the results,
// and reported in the returned *Error.
func (c *Collection) Compute() (map[string]*tensors.Tensor, error) {
	results := make(map[string]*tensors.Tensor, c.Len())
	err := c.forEach("Compute", func(name string, ch *child) error {
		value, err := ch.metric.Compute()
		if err == nil {
			results[c.key(name)] = value
		}
		return err
	})
	return results, err
}

// Call each metric with the leading positional inputs it takes, and returns the results for this batch.
func (c *Collection) Call(inputs ...*tensors.Tensor) (map[string]*tensors.Tensor, error) {
	results := make(map[string]*tensors.Tensor, c.Len())
	err := c.forEach("Call", func(name string, ch *child) error {
		value, err := ch.metric.Call(positional(ch.metric, inputs)...)
		if err == nil {
			results[c.key(name)] = value
		}
		return err
	})
	return results, err
}

// CallBatch is like Call, but selects the inputs of each metric by name, like UpdateBatch.
func (c *Collection) CallBatch(batch Batch) (map[string]*tensors.Tensor, error) {
	results := make(map[string]*tensors.Tensor, c.Len())
	err := c.forEach("CallBatch", func(name string, ch *child) error {
		inputs, err := ch.selectInputs(batch)
		if err != nil {
			return err
		}
		value, err := ch.metric.Call(inputs...)
		if err == nil {
			results[c.key(name)] = value
		}
		return err
	})
	return results, err
}

// Reset all metrics.
func (c *Collection) Reset() {
	for _, name := range c.names.Keys() {
		c.children[name].metric.Reset()
	}
}

// Sync the state of all metrics across workers. All workers must call it, with the same metrics in the
// same order.
func (c *Collection) Sync() error {
	return c.forEach("Sync", func(_ string, ch *child) error { return ch.metric.Sync() })
}

// Unsync restores the local state of all metrics.
func (c *Collection) Unsync() error {
	return c.forEach("Unsync", func(_ string, ch *child) error { return ch.metric.Unsync() })
}

// SetGatherer configures the collective of all metrics, including the ones added later.
func (c *Collection) SetGatherer(g distributed.Gatherer) {
	c.gatherer = g
	for _, name := range c.names.Keys() {
		c.children[name].metric.SetGatherer(g)
	}
}

// Clone returns a new collection with fresh metrics created by the same factories, and the given result
// prefix. Input prefixes and the gatherer are kept.
//
// It fails with metrics.ErrConfiguration if any metric was added without a factory.
func (c *Collection) Clone(prefix string) (*Collection, error) {
	clone := New(WithPrefix(prefix), WithPostfix(c.postfix))
	clone.gatherer = c.gatherer
	for _, name := range c.names.Keys() {
		ch := c.children[name]
		if ch.factory == nil {
			return nil, metrics.Configurationf("collection.Clone: metric %q was not added with a factory", name)
		}
		if err := clone.AddFactory(name, ch.factory); err != nil {
			return nil, err
		}
		clone.children[name].inputPrefix = ch.inputPrefix
	}
	return clone, nil
}
