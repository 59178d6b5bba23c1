// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"math"
	"os"
	"slices"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/streammetrics/ml/metrics/collection"
	"github.com/gomlx/streammetrics/types/tensors"
	"github.com/pkg/errors"
)

// requiredColumns must be present in the CSV file.
var requiredColumns = []string{"preds", "target"}

// dataset holds the columns of the CSV file. Each column becomes an input of the same name.
type dataset struct {
	numRows int
	names   []string
	columns map[string][]float64

	// integral columns are fed as Int64, the others as Float64.
	integral map[string]bool
}

// loadCSV reads a CSV file with a header, whose columns are all numeric.
func loadCSV(r io.Reader) (*dataset, error) {
	df := dataframe.ReadCSV(r, dataframe.HasHeader(true), dataframe.DetectTypes(false),
		dataframe.DefaultType(series.Float))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to parse CSV")
	}
	d := &dataset{
		numRows:  df.Nrow(),
		names:    df.Names(),
		columns:  make(map[string][]float64, df.Ncol()),
		integral: make(map[string]bool, df.Ncol()),
	}
	for _, name := range requiredColumns {
		if !slices.Contains(d.names, name) {
			return nil, errors.Errorf("CSV is missing column %q, it has columns %q", name, d.names)
		}
	}
	for _, name := range d.names {
		values := df.Col(name).Float()
		if slices.ContainsFunc(values, math.IsNaN) && slices.Contains(requiredColumns, name) {
			return nil, errors.Errorf("column %q has missing or non-numeric values", name)
		}
		d.columns[name] = values
		d.integral[name] = !slices.ContainsFunc(values, func(v float64) bool { return v != math.Trunc(v) })
	}
	return d, nil
}

func loadCSVFile(path string) (*dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open data file %q", path)
	}
	defer func() { _ = f.Close() }()
	d, err := loadCSV(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "data file %q", path)
	}
	return d, nil
}

// batch returns the given rows as a batch of named inputs.
func (d *dataset) batch(rows []int) collection.Batch {
	b := make(collection.Batch, len(d.names))
	for _, name := range d.names {
		column := d.columns[name]
		values := make([]float64, len(rows))
		for ii, row := range rows {
			values[ii] = column[row]
		}
		dtype := dtypes.Float64
		if d.integral[name] {
			dtype = dtypes.Int64
		}
		b[name] = tensors.FromFloat64s(dtype, values, len(values))
	}
	return b
}
