// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/symbolic/pkg/core/tensors"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

// newPlainTable returns a table with alternating row styles. Columns are aligned with alignments,
// the last one repeated for the remaining columns.
func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}

func dimsString(t *tensors.Tensor) string {
	if t == nil {
		return ""
	}
	if t.IsScalar() {
		return "scalar"
	}
	parts := make([]string, 0, t.Rank())
	for _, dim := range t.Dimensions() {
		parts = append(parts, humanize.Comma(int64(dim)))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// valueString shows scalars and small tensors in full, and larger ones by their MAV (mean absolute
// value), RMS (root-mean-square) and MaxAV (max absolute value).
func valueString(t *tensors.Tensor) string {
	if t == nil {
		return "<absent>"
	}
	if t.Size() <= tensors.MaxSizeToPrint {
		return t.String()
	}
	var sumAbs, sumSquares, maxAbs float64
	for _, v := range t.Flat() {
		sumAbs += math.Abs(v)
		sumSquares += v * v
		maxAbs = max(maxAbs, math.Abs(v))
	}
	n := float64(t.Size())
	return fmt.Sprintf("MAV=%.3g RMS=%.3g MaxAV=%.3g", sumAbs/n, math.Sqrt(sumSquares/n), maxAbs)
}
