// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package retrieval implements information retrieval metrics: ReciprocalRank, PrecisionAtK, RecallAtK
// and HitRate.
//
// They take three inputs of the same shape (flattened): "indexes", the query each entry belongs to;
// "preds", the scores of the documents; and "target", whether the document is relevant (0/1). Entries
// are grouped by query, each query is scored on its documents sorted by decreasing score, and the
// result is the mean over the queries.
//
// Since a query may span batches (and workers), all entries are kept in list states concatenated on
// sync in worker rank order, and grouped only at compute time.
package retrieval

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/types/shapes"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/pkg/errors"
)

// DefaultIgnoreIndex is the target value of entries left out, if Config.IgnoreIndex is not set.
const DefaultIgnoreIndex = -100

// EmptyTargetAction is what to do with queries that have no relevant document.
type EmptyTargetAction int

const (
	// EmptyTargetSkip leaves those queries out of the mean. If all queries are skipped the result is 0.
	EmptyTargetSkip EmptyTargetAction = iota

	// EmptyTargetNeg scores those queries as 0.
	EmptyTargetNeg

	// EmptyTargetPos scores those queries as 1.
	EmptyTargetPos

	// EmptyTargetError makes Compute fail.
	EmptyTargetError
)

func (a EmptyTargetAction) String() string {
	switch a {
	case EmptyTargetSkip:
		return "skip"
	case EmptyTargetNeg:
		return "neg"
	case EmptyTargetPos:
		return "pos"
	case EmptyTargetError:
		return "error"
	}
	return fmt.Sprintf("EmptyTargetAction(%d)", int(a))
}

// ParseEmptyTargetAction converts "skip", "neg", "pos" or "error" to an EmptyTargetAction.
func ParseEmptyTargetAction(name string) (EmptyTargetAction, error) {
	for a := EmptyTargetSkip; a <= EmptyTargetError; a++ {
		if a.String() == name {
			return a, nil
		}
	}
	return 0, errors.Wrapf(metrics.ErrConfiguration,
		"empty target action should be either \"skip\", \"neg\", \"pos\" or \"error\", got %q", name)
}

// Config of a retrieval metric.
type Config struct {
	EmptyTarget EmptyTargetAction

	// IgnoreIndex is the target value of entries to leave out. Defaults to DefaultIgnoreIndex.
	IgnoreIndex *int

	// TopK is the number of top documents considered by PrecisionAtK, RecallAtK and HitRate.
	// If 0, all the documents of the query are considered.
	TopK int
}

// IgnoreIndex returns a pointer to index, to be used in Config.IgnoreIndex.
func IgnoreIndex(index int) *int {
	return &index
}

func (cfg *Config) validate() error {
	if cfg.IgnoreIndex == nil {
		cfg.IgnoreIndex = IgnoreIndex(DefaultIgnoreIndex)
	}
	switch {
	case cfg.EmptyTarget < EmptyTargetSkip || cfg.EmptyTarget > EmptyTargetError:
		return metrics.Configurationf("unsupported empty target action %s", cfg.EmptyTarget)
	case cfg.TopK < 0:
		return metrics.Configurationf("TopK must be >= 0, got %d", cfg.TopK)
	}
	return nil
}

// scoreFn scores one query, given the relevance (0/1) of its documents sorted by decreasing score.
// The query has at least one relevant document.
type scoreFn func(relevance []float64, topK int) float64

// Metric is a retrieval metric: the mean over all queries of a per-query score.
type Metric struct {
	*metrics.Base
	cfg   Config
	score scoreFn

	indexes, preds, target *metrics.StateField
}

func newMetric(name, shortName string, score scoreFn, cfg Config, opts []metrics.Option) (*Metric, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &Metric{cfg: cfg, score: score}
	m.Base = metrics.NewBase(m, name, append([]metrics.Option{
		metrics.WithInputs("indexes", "preds", "target"),
		metrics.WithShortName(shortName),
		metrics.WithHigherIsBetter(true),
	}, opts...)...)
	for _, field := range []struct {
		name   string
		target **metrics.StateField
	}{
		{"indexes", &m.indexes}, {"preds", &m.preds}, {"target", &m.target},
	} {
		var err error
		if *field.target, err = m.AddListState(field.name, metrics.ReduceCat); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewReciprocalRank returns the mean reciprocal rank: the inverse of the position of the first relevant
// document. Config.TopK is not used.
func NewReciprocalRank(cfg Config, opts ...metrics.Option) (*Metric, error) {
	return newMetric("reciprocal_rank", "mrr", reciprocalRank, cfg, opts)
}

// NewPrecisionAtK returns the mean precision at k: the fraction of the top k documents that are relevant.
func NewPrecisionAtK(cfg Config, opts ...metrics.Option) (*Metric, error) {
	return newMetric("precision_at_k", "p@k", precisionAtK, cfg, opts)
}

// NewRecallAtK returns the mean recall at k: the fraction of the relevant documents in the top k.
func NewRecallAtK(cfg Config, opts ...metrics.Option) (*Metric, error) {
	return newMetric("recall_at_k", "r@k", recallAtK, cfg, opts)
}

// NewHitRate returns the fraction of queries with at least one relevant document in the top k.
func NewHitRate(cfg Config, opts ...metrics.Option) (*Metric, error) {
	return newMetric("hit_rate", "hr", hitRate, cfg, opts)
}

func reciprocalRank(relevance []float64, _ int) float64 {
	position := slices.Index(relevance, 1)
	if position < 0 {
		return 0
	}
	return 1 / float64(position+1)
}

func precisionAtK(relevance []float64, topK int) float64 {
	if topK == 0 {
		topK = len(relevance)
	}
	return sumFirst(relevance, topK) / float64(topK)
}

func recallAtK(relevance []float64, topK int) float64 {
	if topK == 0 {
		topK = len(relevance)
	}
	return sumFirst(relevance, topK) / sumFirst(relevance, len(relevance))
}

func hitRate(relevance []float64, topK int) float64 {
	if topK == 0 {
		topK = len(relevance)
	}
	if sumFirst(relevance, topK) > 0 {
		return 1
	}
	return 0
}

func sumFirst(values []float64, n int) (sum float64) {
	for _, v := range values[:min(n, len(values))] {
		sum += v
	}
	return
}

// UpdateState implements metrics.Impl. It takes indexes, preds and target.
func (m *Metric) UpdateState(inputs ...*tensors.Tensor) error {
	if err := metrics.CheckNumInputs(inputs, 3, 3); err != nil {
		return err
	}
	indexes, preds, target := inputs[0], inputs[1], inputs[2]
	if err := shapes.CheckSameDims(indexes, preds); err != nil {
		return metrics.Validationf("indexes and preds: %v", err)
	}
	if err := shapes.CheckSameDims(preds, target); err != nil {
		return metrics.Validationf("preds and target: %v", err)
	}
	if !shapes.IsInt(indexes.DType()) {
		return metrics.Validationf("indexes must be integers, got %s", indexes.DType())
	}
	if target.DType() != dtypes.Bool && !shapes.IsInt(target.DType()) {
		return metrics.Validationf("target must be booleans or integers, got %s", target.DType())
	}
	indexValues, predValues, targetValues := indexes.Flat(), preds.Flat(), target.Flat()
	ignore := float64(*m.cfg.IgnoreIndex)
	keep := make([]int, 0, len(targetValues))
	for ii, t := range targetValues {
		if t == ignore {
			continue
		}
		if t != 0 && t != 1 {
			return metrics.Validationf("target has value %g, expected 0 or 1", t)
		}
		if math.IsNaN(predValues[ii]) {
			return metrics.Validationf("preds has NaN values")
		}
		keep = append(keep, ii)
	}
	if len(keep) == 0 {
		return nil
	}
	m.indexes.Append(gather(dtypes.Int64, indexValues, keep))
	m.preds.Append(gather(dtypes.Float64, predValues, keep))
	m.target.Append(gather(dtypes.Int64, targetValues, keep))
	return nil
}

func gather(dtype dtypes.DType, values []float64, indices []int) *tensors.Tensor {
	flat := make([]float64, len(indices))
	for ii, idx := range indices {
		flat[ii] = values[idx]
	}
	return tensors.FromFloat64s(dtype, flat, len(flat))
}

// query holds the entries of one query, in the order they were seen.
type query struct {
	preds, target []float64
}

// groupQueries groups entries by index, in order of first appearance.
func groupQueries(indexes, preds, target []float64) []*query {
	var queries []*query
	byIndex := make(map[float64]*query)
	for ii, idx := range indexes {
		q, found := byIndex[idx]
		if !found {
			q = &query{}
			byIndex[idx] = q
			queries = append(queries, q)
		}
		q.preds = append(q.preds, preds[ii])
		q.target = append(q.target, target[ii])
	}
	return queries
}

// ComputeState implements metrics.Impl.
func (m *Metric) ComputeState() (*tensors.Tensor, error) {
	indexes := m.indexes.Concatenated()
	if indexes == nil {
		return tensors.FromScalar(dtypes.Float64, 0), nil
	}
	queries := groupQueries(indexes.Flat(), m.preds.Concatenated().Flat(), m.target.Concatenated().Flat())
	var total float64
	var count int
	for _, q := range queries {
		if sumFirst(q.target, len(q.target)) == 0 {
			switch m.cfg.EmptyTarget {
			case EmptyTargetError:
				return nil, errors.Wrapf(metrics.ErrValidation, "%s: a query has no relevant document", m.Name())
			case EmptyTargetPos:
				total++
				count++
			case EmptyTargetNeg:
				count++
			}
			continue
		}
		total += m.score(relevanceByScore(q), m.cfg.TopK)
		count++
	}
	if count == 0 {
		return tensors.FromScalar(dtypes.Float64, 0), nil
	}
	return tensors.FromScalar(dtypes.Float64, total/float64(count)), nil
}

// relevanceByScore returns the target of the query's documents sorted by decreasing score. Ties keep
// the order in which documents were seen.
func relevanceByScore(q *query) []float64 {
	order := make([]int, len(q.preds))
	for ii := range order {
		order[ii] = ii
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(q.preds[b], q.preds[a]) })
	relevance := make([]float64, len(order))
	for ii, idx := range order {
		relevance[ii] = q.target[idx]
	}
	return relevance
}

// ReciprocalRankOf returns the reciprocal rank of a single query: the inverse of the position of the
// first relevant document when sorted by decreasing preds, or 0 if there is no relevant document.
func ReciprocalRankOf(preds, target *tensors.Tensor) (float64, error) {
	if err := shapes.CheckSameDims(preds, target); err != nil {
		return 0, metrics.Validationf("preds and target: %v", err)
	}
	q := &query{preds: preds.Flat(), target: target.Flat()}
	for ii, t := range q.target {
		if t != 0 {
			q.target[ii] = 1
		}
	}
	return reciprocalRank(relevanceByScore(q), 0), nil
}
