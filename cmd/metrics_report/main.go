// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// metrics_report evaluates a collection of metrics, described in a YAML file, over the rows of a CSV file.
//
// The rows are split in -workers contiguous shards, each one evaluated by an in-process worker with its own
// metric state, exactly like separate processes would. The state of all workers is synced when computing,
// so all workers get the same results, and the first one prints them.
//
// Example:
//
//	metrics_report -config eval.yaml -data predictions.csv -workers 4 -batch 256
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/gomlx/streammetrics/ml/metrics"
	"github.com/gomlx/streammetrics/ml/metrics/collection"
	"github.com/gomlx/streammetrics/ml/metrics/config"
	"github.com/gomlx/streammetrics/ml/metrics/distributed"
	"github.com/gomlx/streammetrics/ml/metrics/export"
	"github.com/gomlx/streammetrics/pkg/support/fsutil"
	"github.com/gomlx/streammetrics/pkg/support/sets"
	"github.com/gomlx/streammetrics/pkg/support/xslices"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagConfig     = flag.String("config", "", "YAML file with the collection of metrics to evaluate.")
	flagData       = flag.String("data", "", "CSV file with a header. Columns \"preds\" and \"target\" are required, all columns are given to the metrics as inputs of the same name.")
	flagWorkers    = flag.Int("workers", 1, "Number of in-process workers, each one evaluating a contiguous shard of the rows.")
	flagBatchSize  = flag.Int("batch", 128, "Number of rows per batch.")
	flagPrometheus = flag.Bool("prometheus", false, "Also print the results in the Prometheus text exposition format.")
	flagProgress   = flag.Bool("progress", true, "Display a progress bar.")
	flagOnly       = xslices.Flag("only", nil, "Comma-separated list of result keys to print. Empty prints all.",
		func(key string) (string, error) {
			if key == "" {
				return "", errors.New("empty key")
			}
			return key, nil
		})
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagConfig == "" || *flagData == "" {
		klog.Exitf("Both -config and -data must be given. See 'metrics_report -help'.")
	}
	if *flagWorkers < 1 || *flagBatchSize < 1 {
		klog.Exitf("-workers and -batch must be >= 1, got %d and %d", *flagWorkers, *flagBatchSize)
	}
	spec := must.M1(config.Load(must.M1(fsutil.ExistingFile(*flagConfig))))
	data := must.M1(loadCSVFile(must.M1(fsutil.ExistingFile(*flagData))))

	r := &runner{spec: spec, data: data, numWorkers: *flagWorkers, batchSize: *flagBatchSize}
	if *flagProgress {
		r.bar = progressbar.NewOptions(r.numBatches(),
			progressbar.OptionSetDescription("evaluating"),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("batches"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish())
	}
	rep, err := r.run(context.Background())
	if err != nil {
		klog.Exitf("Evaluation failed: %+v", err)
	}
	rep.keep(*flagOnly)
	fmt.Println(renderReport(rep))

	if *flagPrometheus {
		reg := prometheus.NewRegistry()
		publisher := must.M1(export.NewPublisher("streammetrics", "report", reg))
		publisher.Publish(rep.results)
		must.M(export.WriteText(os.Stdout, reg))
	}
}

// report of an evaluation.
type report struct {
	numRows, numWorkers, numBatches int

	// keys of the results in the order of the collection.
	keys    []string
	results map[string]*tensors.Tensor

	// failures of individual metrics, by metric name.
	failures map[string]error
}

// keep only the given result keys, in the order of the collection. Unknown keys are logged. Empty
// keeps everything.
func (rep *report) keep(keys []string) {
	if len(keys) == 0 {
		return
	}
	wanted := sets.MakeWith(keys...)
	rep.keys = slices.DeleteFunc(rep.keys, func(key string) bool { return !wanted.Has(key) })
	for _, key := range keys {
		if _, found := rep.results[key]; !found {
			klog.Warningf("-only: no result with key %q", key)
		}
	}
	for key := range rep.results {
		if !wanted.Has(key) {
			delete(rep.results, key)
		}
	}
}

type runner struct {
	spec                  *config.Spec
	data                  *dataset
	numWorkers, batchSize int
	bar                   *progressbar.ProgressBar
}

// shards returns the rows of each worker.
func (r *runner) shards() [][]int {
	return xslices.Split(xslices.Iota(0, r.data.numRows), r.numWorkers)
}

// numBatches over all workers.
func (r *runner) numBatches() (n int) {
	for _, shard := range r.shards() {
		n += (len(shard) + r.batchSize - 1) / r.batchSize
	}
	return
}

// run evaluates the collection with numWorkers workers, and returns the report of the first one.
func (r *runner) run(ctx context.Context) (*report, error) {
	shards := r.shards()
	rep := &report{
		numRows:    r.data.numRows,
		numWorkers: r.numWorkers,
		numBatches: r.numBatches(),
		failures:   make(map[string]error),
	}
	var mu sync.Mutex
	err := distributed.Run(ctx, r.numWorkers, func(ctx context.Context, g distributed.Gatherer) error {
		c, err := config.Build(r.spec, metrics.WithGatherer(g))
		if err != nil {
			return err
		}
		rows := shards[g.Rank()]
		for start := 0; start < len(rows); start += r.batchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			batch := r.data.batch(rows[start:min(start+r.batchSize, len(rows))])
			if err := c.UpdateBatch(batch); err != nil {
				klog.V(1).Infof("worker %d, rows %d: %v", g.Rank(), rows[start], err)
			}
			if r.bar != nil {
				_ = r.bar.Add(1)
			}
		}
		results, err := c.Compute()
		if g.Rank() != 0 {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		rep.keys, rep.results = c.Keys(), results
		var collErr *collection.Error
		if errors.As(err, &collErr) {
			for _, failure := range collErr.Failures {
				rep.failures[failure.Metric] = failure.Err
			}
		} else if err != nil {
			return err
		}
		return nil
	})
	if r.bar != nil {
		_ = r.bar.Finish()
	}
	if err != nil {
		return nil, err
	}
	return rep, nil
}
