// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"io"
	"slices"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Output formats.
const (
	formatText = "text"
	formatJSON = "json"
)

var validFormats = []string{formatText, formatJSON}

// rootOptions are the flags shared by all commands.
type rootOptions struct {
	format string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "modulectl",
		Short:        "Declares modules in HCL, runs scenarios on their instances and inspects their state.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.format) {
				return errors.Errorf("invalid format %q: must be one of %v", opts.format, validFormats)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.format, "format", formatText, "output format (text|json)")
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newInspectCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode output")
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
