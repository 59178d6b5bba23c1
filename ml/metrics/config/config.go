// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config builds metric collections from YAML files, e.g.:
//
//	prefix: val_
//	metrics:
//	  - name: acc
//	    type: accuracy
//	    params: {task: multiclass, num_classes: 3, average: macro}
//	  - name: mrr
//	    type: reciprocal_rank
//	    input_prefix: ranking_
//	    params: {empty_target: neg}
//
// Metric types are looked up in a Registry. DefaultRegistry knows all the metrics of this module, and
// new types can be registered.
package config

import (
	"maps"
	"os"
	"slices"
	"sync"

	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/ml/metrics/collection"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Spec of a collection.
type Spec struct {
	Prefix  string       `yaml:"prefix"`
	Postfix string       `yaml:"postfix"`
	Metrics []MetricSpec `yaml:"metrics"`
}

// MetricSpec configures one metric of a collection.
type MetricSpec struct {
	// Name of the metric in the collection. Defaults to Type.
	Name string `yaml:"name"`

	// Type of the metric, as registered in the Registry.
	Type string `yaml:"type"`

	// InputPrefix, see collection.Collection.WithInputPrefix.
	InputPrefix string `yaml:"input_prefix"`

	// Params are decoded by the metric type's Builder.
	Params yaml.Node `yaml:"params"`
}

// Parse a YAML collection spec.
func Parse(data []byte) (*Spec, error) {
	spec := &Spec{}
	if err := yaml.Unmarshal(data, spec); err != nil {
		return nil, errors.Wrap(metrics.ErrConfiguration, err.Error())
	}
	if len(spec.Metrics) == 0 {
		return nil, errors.Wrap(metrics.ErrConfiguration, "collection spec has no metrics")
	}
	for ii := range spec.Metrics {
		m := &spec.Metrics[ii]
		if m.Type == "" {
			return nil, errors.Wrapf(metrics.ErrConfiguration, "metric #%d has no type", ii)
		}
		if m.Name == "" {
			m.Name = m.Type
		}
	}
	return spec, nil
}

// Load and parse a YAML collection spec from a file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read collection spec from %q", path)
	}
	spec, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "collection spec %q", path)
	}
	return spec, nil
}

// Params gives builders access to the parameters of a metric.
type Params struct {
	node *yaml.Node
}

// Decode the parameters into v, usually a pointer to a struct with yaml tags. Missing parameters leave
// the fields of v untouched.
func (p Params) Decode(v any) error {
	if p.node == nil || p.node.Kind == 0 {
		return nil
	}
	if err := p.node.Decode(v); err != nil {
		return errors.Wrap(metrics.ErrConfiguration, err.Error())
	}
	return nil
}

// Builder creates a metric from its parameters.
type Builder func(params Params, opts ...metrics.Option) (metrics.Interface, error)

// Registry maps metric type names to Builders. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register a metric type. It fails with metrics.ErrConfiguration if the type is already registered.
func (r *Registry) Register(typeName string, builder Builder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.builders[typeName]; found {
		return errors.Wrapf(metrics.ErrConfiguration, "metric type %q already registered", typeName)
	}
	r.builders[typeName] = builder
	return nil
}

// Types returns the registered metric types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.builders))
}

func (r *Registry) builder(typeName string) (Builder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, found := r.builders[typeName]
	if !found {
		return nil, errors.Wrapf(metrics.ErrConfiguration, "unknown metric type %q, registered types are %q",
			typeName, slices.Sorted(maps.Keys(r.builders)))
	}
	return b, nil
}

// Build a collection from the spec. The options (e.g. metrics.WithGatherer) are given to every metric.
//
// Metrics are added with factories, so the collection can be cloned.
func (r *Registry) Build(spec *Spec, opts ...metrics.Option) (*collection.Collection, error) {
	c := collection.New(collection.WithPrefix(spec.Prefix), collection.WithPostfix(spec.Postfix))
	for _, m := range spec.Metrics {
		builder, err := r.builder(m.Type)
		if err != nil {
			return nil, err
		}
		params := Params{node: &m.Params}
		err = c.AddFactory(m.Name, func() (metrics.Interface, error) { return builder(params, opts...) })
		if err != nil {
			return nil, err
		}
		if m.InputPrefix != "" {
			if err := c.WithInputPrefix(m.Name, m.InputPrefix); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the registry with all the metrics of this module, see RegisterAll.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		if err := RegisterAll(defaultRegistry); err != nil {
			panic(err)
		}
	})
	return defaultRegistry
}

// Build a collection from a spec using DefaultRegistry.
func Build(spec *Spec, opts ...metrics.Option) (*collection.Collection, error) {
	return DefaultRegistry().Build(spec, opts...)
}
