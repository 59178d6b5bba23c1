// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/ml/metrics/aggregation"
	"github.com/gomlx/streammetrics/ml/metrics/classification"
	"github.com/gomlx/streammetrics/ml/metrics/regression"
	"github.com/gomlx/streammetrics/ml/metrics/retrieval"
	"github.com/pkg/errors"
)

// RegisterAll registers all the metrics of this module:
//
//   - aggregation: "sum", "mean", "min", "max", "cat", "running_moments", "quantile", "median",
//     "moving_average".
//   - regression: "pearson", "mse", "rmse", "mae", "nrmse".
//   - classification: "stat_scores", "accuracy", "precision", "recall", "fbeta", "f1", "specificity",
//     "confusion_matrix".
//   - retrieval: "reciprocal_rank", "precision_at_k", "recall_at_k", "hit_rate".
func RegisterAll(r *Registry) error {
	builders := map[string]Builder{
		"sum":             aggregationBuilder(aggregation.NewSum),
		"mean":            aggregationBuilder(aggregation.NewMean),
		"min":             aggregationBuilder(aggregation.NewMin),
		"max":             aggregationBuilder(aggregation.NewMax),
		"cat":             aggregationBuilder(aggregation.NewCatValues),
		"running_moments": buildRunningMoments,
		"quantile":        buildQuantile,
		"median":          buildQuantile,
		"moving_average":  buildMovingAverage,
		"pearson":         buildPearson,
		"mse":             meanErrorBuilder("mse"),
		"rmse":            meanErrorBuilder("rmse"),
		"mae":             meanErrorBuilder("mae"),
		"nrmse":           buildNRMSE,
		"reciprocal_rank": retrievalBuilder(retrieval.NewReciprocalRank),
		"precision_at_k":  retrievalBuilder(retrieval.NewPrecisionAtK),
		"recall_at_k":     retrievalBuilder(retrieval.NewRecallAtK),
		"hit_rate":        retrievalBuilder(retrieval.NewHitRate),
	}
	for kind := classification.KindStatScores; kind <= classification.KindConfusionMatrix; kind++ {
		builders[kind.String()] = classificationBuilder(kind)
	}
	for typeName, builder := range builders {
		if err := r.Register(typeName, builder); err != nil {
			return err
		}
	}
	return nil
}

// asInterface avoids returning a non-nil interface holding a nil pointer.
func asInterface[T metrics.Interface](m T, err error) (metrics.Interface, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}

type nanParams struct {
	NaN string `yaml:"nan"`
}

func (p nanParams) strategy() (aggregation.NaNStrategy, error) {
	return aggregation.ParseNaNStrategy(p.NaN)
}

func aggregationBuilder[T metrics.Interface](newFn func(aggregation.NaNStrategy, ...metrics.Option) (T, error)) Builder {
	return func(params Params, opts ...metrics.Option) (metrics.Interface, error) {
		var p nanParams
		if err := params.Decode(&p); err != nil {
			return nil, err
		}
		nan, err := p.strategy()
		if err != nil {
			return nil, err
		}
		return asInterface(newFn(nan, opts...))
	}
}

func buildRunningMoments(params Params, opts ...metrics.Option) (metrics.Interface, error) {
	var p struct {
		nanParams  `yaml:",inline"`
		NumOutputs int     `yaml:"num_outputs"`
		Statistic  string  `yaml:"statistic"`
		DDoF       float64 `yaml:"ddof"`
	}
	if err := params.Decode(&p); err != nil {
		return nil, err
	}
	cfg := aggregation.MomentsConfig{NumOutputs: p.NumOutputs, DDoF: p.DDoF}
	var err error
	if p.Statistic != "" {
		if cfg.Statistic, err = aggregation.ParseStatistic(p.Statistic); err != nil {
			return nil, err
		}
	}
	if cfg.NaN, err = p.strategy(); err != nil {
		return nil, err
	}
	return asInterface(aggregation.NewRunningMoments(cfg, opts...))
}

func buildQuantile(params Params, opts ...metrics.Option) (metrics.Interface, error) {
	p := struct {
		nanParams `yaml:",inline"`
		P         float64 `yaml:"p"`
	}{P: 0.5}
	if err := params.Decode(&p); err != nil {
		return nil, err
	}
	nan, err := p.strategy()
	if err != nil {
		return nil, err
	}
	return asInterface(aggregation.NewQuantile(p.P, nan, opts...))
}

func buildMovingAverage(params Params, opts ...metrics.Option) (metrics.Interface, error) {
	p := struct {
		nanParams        `yaml:",inline"`
		NewExampleWeight float64 `yaml:"new_example_weight"`
	}{NewExampleWeight: 0.01}
	if err := params.Decode(&p); err != nil {
		return nil, err
	}
	nan, err := p.strategy()
	if err != nil {
		return nil, err
	}
	return asInterface(aggregation.NewMovingAverage(p.NewExampleWeight, nan, opts...))
}

func buildPearson(params Params, opts ...metrics.Option) (metrics.Interface, error) {
	var p struct {
		NumOutputs int    `yaml:"num_outputs"`
		DType      string `yaml:"dtype"`
	}
	if err := params.Decode(&p); err != nil {
		return nil, err
	}
	cfg := regression.PearsonConfig{NumOutputs: p.NumOutputs}
	if p.DType != "" {
		var err error
		if cfg.DType, err = parseDType(p.DType); err != nil {
			return nil, err
		}
	}
	return asInterface(regression.NewPearsonCorrCoef(cfg, opts...))
}

// parseDType accepts the dtype names ("Float32") and their aliases ("float32", "f32").
func parseDType(name string) (dtypes.DType, error) {
	if dtype, err := dtypes.DTypeString(name); err == nil {
		return dtype, nil
	}
	if dtype, found := dtypes.MapOfNames[name]; found {
		return dtype, nil
	}
	return dtypes.InvalidDType, errors.Wrapf(metrics.ErrConfiguration, "unknown dtype %q", name)
}

// meanErrorBuilder builds "mse", "rmse" or "mae".
func meanErrorBuilder(kind string) Builder {
	return func(params Params, opts ...metrics.Option) (metrics.Interface, error) {
		p := struct {
			NumOutputs int `yaml:"num_outputs"`
		}{NumOutputs: 1}
		if err := params.Decode(&p); err != nil {
			return nil, err
		}
		switch kind {
		case "rmse":
			return asInterface(regression.NewMeanSquaredError(false, p.NumOutputs, opts...))
		case "mae":
			return asInterface(regression.NewMeanAbsoluteError(p.NumOutputs, opts...))
		}
		return asInterface(regression.NewMeanSquaredError(true, p.NumOutputs, opts...))
	}
}

func buildNRMSE(params Params, opts ...metrics.Option) (metrics.Interface, error) {
	p := struct {
		Normalization string `yaml:"normalization"`
		NumOutputs    int    `yaml:"num_outputs"`
	}{Normalization: "mean", NumOutputs: 1}
	if err := params.Decode(&p); err != nil {
		return nil, err
	}
	normalization, err := regression.ParseNormalization(p.Normalization)
	if err != nil {
		return nil, err
	}
	return asInterface(regression.NewNormalizedRootMeanSquaredError(normalization, p.NumOutputs, opts...))
}

func classificationBuilder(kind classification.Kind) Builder {
	return func(params Params, opts ...metrics.Option) (metrics.Interface, error) {
		var p struct {
			Task         string  `yaml:"task"`
			NumClasses   int     `yaml:"num_classes"`
			NumLabels    int     `yaml:"num_labels"`
			Threshold    float64 `yaml:"threshold"`
			Average      string  `yaml:"average"`
			IgnoreIndex  *int    `yaml:"ignore_index"`
			ZeroDivision float64 `yaml:"zero_division"`
			Beta         float64 `yaml:"beta"`
			Normalize    string  `yaml:"normalize"`
		}
		if err := params.Decode(&p); err != nil {
			return nil, err
		}
		cfg := classification.Config{
			NumClasses:   p.NumClasses,
			NumLabels:    p.NumLabels,
			Threshold:    p.Threshold,
			IgnoreIndex:  p.IgnoreIndex,
			ZeroDivision: p.ZeroDivision,
			Beta:         p.Beta,
		}
		var err error
		if p.Task != "" {
			if cfg.Task, err = classification.ParseTask(p.Task); err != nil {
				return nil, err
			}
		}
		if p.Average != "" {
			if cfg.Average, err = classification.ParseAverage(p.Average); err != nil {
				return nil, err
			}
		}
		if kind == classification.KindConfusionMatrix && p.Normalize != "" {
			normalize, err := classification.ParseNormalize(p.Normalize)
			if err != nil {
				return nil, err
			}
			return asInterface(classification.NewConfusionMatrix(cfg, normalize, opts...))
		}
		return classification.New(kind, cfg, opts...)
	}
}

func retrievalBuilder(newFn func(retrieval.Config, ...metrics.Option) (*retrieval.Metric, error)) Builder {
	return func(params Params, opts ...metrics.Option) (metrics.Interface, error) {
		var p struct {
			EmptyTarget string `yaml:"empty_target"`
			IgnoreIndex *int   `yaml:"ignore_index"`
			TopK        int    `yaml:"top_k"`
		}
		if err := params.Decode(&p); err != nil {
			return nil, err
		}
		cfg := retrieval.Config{IgnoreIndex: p.IgnoreIndex, TopK: p.TopK}
		if p.EmptyTarget != "" {
			var err error
			if cfg.EmptyTarget, err = retrieval.ParseEmptyTargetAction(p.EmptyTarget); err != nil {
				return nil, err
			}
		}
		return asInterface(newFn(cfg, opts...))
	}
}
