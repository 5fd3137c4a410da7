// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/symbolic/pkg/module/checkpoints/sqlstore"
	"github.com/gomlx/symbolic/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type historyOptions struct {
	*rootOptions

	db    string
	prune int
}

func newHistoryCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &historyOptions{rootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "history [name]",
		Short: "Lists the snapshots stored in a SQLite database, optionally only those of the given name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) > 0 {
				name = args[0]
			}
			return runHistory(cmd, opts, name)
		},
	}
	cmd.Flags().StringVar(&opts.db, "db", "", "SQLite database with the snapshots")
	cmd.Flags().IntVar(&opts.prune, "prune", -1, "before listing, remove the oldest snapshots of name, keeping this many")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func runHistory(cmd *cobra.Command, opts *historyOptions, name string) error {
	exists, err := fsutil.FileExists(opts.db)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Errorf("snapshots database %q doesn't exist", opts.db)
	}
	store, err := sqlstore.Open(opts.db)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if opts.prune >= 0 {
		if name == "" {
			return errors.New("--prune requires the name of the snapshots")
		}
		removed, err := store.Prune(cmd.Context(), name, opts.prune)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%d snapshot(s) of %q removed\n", removed, name)
	}

	entries, err := store.List(cmd.Context(), name)
	if err != nil {
		return err
	}
	if opts.format == formatJSON {
		if entries == nil {
			entries = []sqlstore.Entry{}
		}
		return writeJSON(cmd.OutOrStdout(), entries)
	}
	table := newPlainTable(lipgloss.Right, lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Left,
		lipgloss.Right, lipgloss.Right)
	table.Headers("Seq", "Name", "Module", "Instance", "Created", "Cells", "Size")
	for _, entry := range entries {
		table.Row(fmt.Sprint(entry.Seq), entry.Name, entry.Module, entry.InstanceID.String(),
			humanize.Time(entry.CreatedAt), humanize.Comma(int64(entry.NumCells)), humanize.Bytes(uint64(entry.Size)))
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), table.Render())
	return nil
}
