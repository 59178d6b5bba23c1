// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package collection

import (
	"fmt"
	"strings"
)

// Failure of one metric of a collection.
type Failure struct {
	Metric string
	Err    error
}

// Error aggregates the failures of the metrics of a collection in one operation. The other metrics
// completed the operation normally.
//
// errors.Is and errors.As look into each of the failures.
type Error struct {
	Op       string
	Failures []Failure
}

// Error implements error.
func (e *Error) Error() string {
	parts := make([]string, len(e.Failures))
	for ii, f := range e.Failures {
		parts[ii] = fmt.Sprintf("%s: %v", f.Metric, f.Err)
	}
	return fmt.Sprintf("collection.%s failed for %d metric(s): %s", e.Op, len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap returns the errors of the failed metrics.
func (e *Error) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for ii, f := range e.Failures {
		errs[ii] = f.Err
	}
	return errs
}

// Failed returns the error of the named metric, or nil if it didn't fail.
func (e *Error) Failed(metric string) error {
	for _, f := range e.Failures {
		if f.Metric == metric {
			return f.Err
		}
	}
	return nil
}

// failures accumulates the failures of an operation.
type failures struct {
	op   string
	list []Failure
}

func (f *failures) add(metric string, err error) {
	if err != nil {
		f.list = append(f.list, Failure{Metric: metric, Err: err})
	}
}

// err returns nil if there were no failures.
func (f *failures) err() error {
	if len(f.list) == 0 {
		return nil
	}
	return &Error{Op: f.op, Failures: f.list}
}
