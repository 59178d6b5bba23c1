// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/streammetrics/pkg/support/xslices"
	"github.com/gomlx/streammetrics/types/tensors"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case withHeader && row == lgtable.HeaderRow:
				return headerRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

// formatValue prints scalars with 4 decimal places, and lists the values of other tensors.
func formatValue(value *tensors.Tensor) string {
	if value.IsScalar() {
		return fmt.Sprintf("%.4f", value.Float64())
	}
	return fmt.Sprintf("%s %v", value.Shape(), xslices.Map(value.Flat(), func(v float64) string {
		return fmt.Sprintf("%.4g", v)
	}))
}

// renderReport renders the summary and the results tables.
func renderReport(rep *report) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Summary"))
	sb.WriteString("\n")
	summary := newPlainTable(false)
	summary.Row("rows", humanize.Comma(int64(rep.numRows)))
	summary.Row("workers", humanize.Comma(int64(rep.numWorkers)))
	summary.Row("batches", humanize.Comma(int64(rep.numBatches)))
	sb.WriteString(summary.Render())
	sb.WriteString("\n")

	sb.WriteString(titleStyle.Render("Metrics"))
	sb.WriteString("\n")
	results := newPlainTable(true)
	results.Headers("Metric", "Value")
	for _, key := range rep.keys {
		if value, found := rep.results[key]; found {
			results.Row(key, formatValue(value))
		}
	}
	for _, name := range xslices.SortedKeys(rep.failures) {
		results.Row(name, fmt.Sprintf("failed: %v", rep.failures[name]))
	}
	sb.WriteString(results.Render())
	return sb.String()
}
