// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/symbolic/pkg/core/tensors"
	"github.com/gomlx/symbolic/pkg/module/checkpoints"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newInspectCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <checkpoint file|dir>",
		Short: "Prints the cells stored in a checkpoint, or in the latest checkpoint of a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, rootOpts, args[0])
		},
	}
}

// inspectReport is the output of the inspect command in JSON.
type inspectReport struct {
	File   string              `json:"file"`
	Header *checkpoints.Header `json:"header"`
	Values map[string]any      `json:"values"`
}

func runInspect(cmd *cobra.Command, opts *rootOptions, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "failed to access %q", path)
	}
	if fi.IsDir() {
		handler, err := checkpoints.Load().Dir(path).Done()
		if err != nil {
			return err
		}
		list, err := handler.List()
		if err != nil {
			return err
		}
		path = list[len(list)-1]
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open checkpoint %q", path)
	}
	defer func() { _ = f.Close() }()
	header, cells, err := checkpoints.DecodeCells(f)
	if err != nil {
		return errors.WithMessagef(err, "reading %q", path)
	}

	if opts.format == formatJSON {
		report := inspectReport{File: path, Header: header, Values: make(map[string]any, len(cells))}
		for cellPath, value := range cells {
			if value == nil {
				report.Values[cellPath] = nil
			} else {
				report.Values[cellPath] = value.Value()
			}
		}
		return writeJSON(cmd.OutOrStdout(), &report)
	}
	printCheckpoint(cmd.OutOrStdout(), path, header, cells)
	return nil
}

func printCheckpoint(w io.Writer, path string, header *checkpoints.Header, cells map[string]*tensors.Tensor) {
	var numValues, numElements, numBytes int
	for _, value := range cells {
		if value == nil {
			continue
		}
		numValues++
		numElements += value.Size()
		numBytes += value.BinarySize()
	}

	_, _ = fmt.Fprintln(w, titleStyle.Render("Summary"))
	summary := newPlainTable(lipgloss.Right, lipgloss.Left)
	summary.Row("checkpoint", path)
	summary.Row("module", header.Module)
	summary.Row("instance", header.InstanceID)
	summary.Row("# cells", humanize.Comma(int64(len(header.Cells))))
	summary.Row("# with values", humanize.Comma(int64(numValues)))
	summary.Row("# elements", humanize.Comma(int64(numElements)))
	summary.Row("# bytes", humanize.Bytes(uint64(numBytes)))
	_, _ = fmt.Fprintln(w, summary.Render())

	_, _ = fmt.Fprintln(w, titleStyle.Render("Cells"))
	table := newPlainTable(lipgloss.Left, lipgloss.Right, lipgloss.Right, lipgloss.Left)
	table.Headers("Path", "Dims", "Bytes", "Value")
	for _, cellHeader := range header.Cells {
		value := cells[cellHeader.Path]
		table.Row(cellHeader.Path, dimsString(value), humanize.Bytes(uint64(cellHeader.Length)), valueString(value))
	}
	_, _ = fmt.Fprintln(w, table.Render())
}
