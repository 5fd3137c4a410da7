// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/symbolic/pkg/module"
	"github.com/gomlx/symbolic/pkg/module/checkpoints"
	"github.com/gomlx/symbolic/pkg/module/checkpoints/sqlstore"
	"github.com/gomlx/symbolic/pkg/module/hcldecl"
	"github.com/gomlx/symbolic/pkg/module/scenario"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

type runOptions struct {
	*rootOptions

	module       string
	scenarioPath string
	values       []string
	checkpoint   string
	keep         int
	db           string
	snapshotName string
	resume       bool
	progress     bool
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "run <file.hcl|dir>",
		Short: "Makes an instance of a module declared in HCL, optionally runs a scenario, and prints its state",
		Long: "Makes an instance of a module declared in HCL (a file or a directory of .hcl files), " +
			"initialized with the \"initial\" values of its members and the --set values. " +
			"It then runs the --scenario steps, prints the state and saves it to --checkpoint and --db, if given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts, args[0])
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.module, "module", "", "name of the module to instantiate, required if more than one is declared")
	flags.StringVar(&opts.scenarioPath, "scenario", "", "YAML scenario to run")
	flags.StringArrayVar(&opts.values, "set", nil, "initial value of a member, as path=value (value in YAML), can be repeated")
	flags.StringVar(&opts.checkpoint, "checkpoint", "", "directory where to save a checkpoint of the final state")
	flags.IntVar(&opts.keep, "keep", 1, "number of checkpoints to keep in --checkpoint, -1 keeps all")
	flags.StringVar(&opts.db, "db", "", "SQLite database where to store a snapshot of the final state")
	flags.StringVar(&opts.snapshotName, "name", "", "name of the snapshot in --db, defaults to the module name")
	flags.BoolVar(&opts.resume, "resume", false, "start from the latest checkpoint (or snapshot in --db), if there is one")
	flags.BoolVar(&opts.progress, "progress", true, "display a progress bar while running the scenario (text format only)")
	return cmd
}

// runReport is the output of the run command in JSON.
type runReport struct {
	Module string           `json:"module"`
	Result *scenario.Result `json:"result,omitempty"`
	State  []cellReport     `json:"state"`
}

type cellReport struct {
	Path    string   `json:"path"`
	Aliases []string `json:"aliases,omitempty"`
	Dims    []int    `json:"dims,omitempty"`
	Value   any      `json:"value"`
}

func runRun(cmd *cobra.Command, opts *runOptions, declPath string) error {
	decl, err := loadDeclaration(declPath, opts.module)
	if err != nil {
		return err
	}
	values, err := parseValues(opts.values)
	if err != nil {
		return err
	}
	var sc *scenario.Scenario
	if opts.scenarioPath != "" {
		if sc, err = scenario.Load(opts.scenarioPath); err != nil {
			return err
		}
	}
	if opts.snapshotName == "" {
		opts.snapshotName = decl.Module.Name()
	}

	var store *sqlstore.Store
	if opts.db != "" {
		if store, err = sqlstore.Open(opts.db); err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
	}

	inst, err := resumeInstance(cmd, opts, decl, store)
	if err != nil {
		return err
	}
	if inst == nil {
		if inst, err = decl.Make(values); err != nil {
			return err
		}
	} else {
		for path, value := range values {
			if err := inst.Set(path, value); err != nil {
				return err
			}
		}
	}

	report := runReport{Module: decl.Module.Name()}
	if sc != nil {
		var runOpts []scenario.Option
		var bar *progressbar.ProgressBar
		if opts.progress && opts.format == formatText {
			bar = progressbar.NewOptions(sc.NumCalls(),
				progressbar.OptionSetDescription(sc.Name),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetTheme(progressbar.ThemeASCII),
				progressbar.OptionShowCount(),
				progressbar.OptionSetItsString("calls"),
			)
			runOpts = append(runOpts, scenario.WithCallCallback(func(string) { _ = bar.Add(1) }))
		}
		report.Result, err = scenario.Run(inst, sc, runOpts...)
		if bar != nil {
			_ = bar.Finish()
			_, _ = fmt.Fprintln(cmd.ErrOrStderr())
		}
		if err != nil {
			return err
		}
	}

	if opts.checkpoint != "" {
		handler, err := checkpoints.Build(inst).Dir(opts.checkpoint).Keep(opts.keep).Done()
		if err != nil {
			return err
		}
		if err := handler.Save(); err != nil {
			return err
		}
	}
	if store != nil {
		entry, err := store.Put(cmd.Context(), opts.snapshotName, inst)
		if err != nil {
			return err
		}
		klog.V(1).Infof("stored snapshot #%d %q (%s)", entry.Seq, entry.Name, humanize.Bytes(uint64(entry.Size)))
	}

	for _, info := range inst.Cells() {
		cell := cellReport{Path: info.Path, Aliases: info.Aliases}
		if info.Value != nil {
			cell.Dims = info.Value.Dimensions()
			cell.Value = info.Value.Value()
		}
		report.State = append(report.State, cell)
	}
	if opts.format == formatJSON {
		return writeJSON(cmd.OutOrStdout(), &report)
	}
	printState(cmd.OutOrStdout(), inst)
	return nil
}

// loadDeclaration loads the HCL declarations from a file or a directory and selects the module name.
func loadDeclaration(path, name string) (*hcldecl.Declared, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to access %q", path)
	}
	var f *hcldecl.File
	if fi.IsDir() {
		f, err = hcldecl.LoadDir(path)
	} else {
		f, err = hcldecl.LoadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return f.Lookup(name)
}

// parseValues parses the "path=value" flags, with value in YAML (e.g. "3" or "[1, 2]").
func parseValues(flags []string) (map[string]any, error) {
	values := make(map[string]any, len(flags))
	for _, flag := range flags {
		path, text, found := strings.Cut(flag, "=")
		path = strings.TrimSpace(path)
		if !found || path == "" {
			return nil, errors.Errorf("invalid --set %q, expected path=value", flag)
		}
		var value any
		if err := yaml.Unmarshal([]byte(text), &value); err != nil {
			return nil, errors.Wrapf(err, "invalid value in --set %q", flag)
		}
		values[path] = value
	}
	return values, nil
}

// resumeInstance returns the latest saved state of the module, or nil if it is not resuming or
// there is nothing saved yet.
func resumeInstance(cmd *cobra.Command, opts *runOptions, decl *hcldecl.Declared, store *sqlstore.Store) (
	*module.Instance, error) {
	if !opts.resume {
		return nil, nil
	}
	if opts.checkpoint != "" {
		handler, err := checkpoints.Build(nil).Dir(opts.checkpoint).Done()
		if err != nil {
			return nil, err
		}
		inst, err := handler.LoadLatest(decl.Module)
		if err == nil || !errors.Is(err, checkpoints.ErrNoCheckpoints) {
			return inst, err
		}
	}
	if store != nil {
		inst, err := store.Latest(cmd.Context(), opts.snapshotName, decl.Module)
		if err == nil || !errors.Is(err, sqlstore.ErrNotFound) {
			return inst, err
		}
	}
	klog.Infof("nothing to resume from, starting %q from its initial values", decl.Module.Name())
	return nil, nil
}

func printState(w io.Writer, inst *module.Instance) {
	_, _ = fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Instance of %q", inst.Module().Name())))
	table := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Right, lipgloss.Left)
	table.Headers("Path", "Aliases", "Dims", "Value")
	for _, info := range inst.Cells() {
		table.Row(info.Path, strings.Join(info.Aliases, ", "), dimsString(info.Value), valueString(info.Value))
	}
	_, _ = fmt.Fprintln(w, table.Render())
}
