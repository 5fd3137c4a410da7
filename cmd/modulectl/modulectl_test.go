// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/symbolic/pkg/module/checkpoints/sqlstore"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs modulectl with args, returning stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestRunGolden(t *testing.T) {
	out, err := execute(t, "run", "testdata/accumulator.hcl", "--scenario", "testdata/accumulate.yaml",
		"--format", "json")
	require.NoError(t, err)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "run_accumulate", []byte(out))
}

func TestRunText(t *testing.T) {
	out, err := execute(t, "run", "testdata", "--set", "state=5", "--set", "inner.counter=[1, 2]")
	require.NoError(t, err)
	assert.Contains(t, out, `Instance of "accumulator"`)
	assert.Contains(t, out, "inner.counter")
	assert.Contains(t, out, "[2]")

	_, err = execute(t, "run", "testdata/accumulator.hcl", "--set", "state")
	assert.ErrorContains(t, err, "expected path=value")
	_, err = execute(t, "run", "testdata/accumulator.hcl", "--set", "missing=1")
	assert.Error(t, err)
	_, err = execute(t, "run", "testdata/missing.hcl")
	assert.Error(t, err)
	_, err = execute(t, "run", "testdata/accumulator.hcl", "--format", "xml")
	assert.ErrorContains(t, err, "invalid format")
}

type stateReport struct {
	State []struct {
		Path  string `json:"path"`
		Value any    `json:"value"`
	} `json:"state"`
}

func stateOf(t *testing.T, out string) map[string]any {
	t.Helper()
	var report stateReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	state := make(map[string]any)
	for _, cell := range report.State {
		state[cell.Path] = cell.Value
	}
	return state
}

func TestCheckpointResumeAndInspect(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ckpt")
	out, err := execute(t, "run", "testdata/accumulator.hcl", "--scenario", "testdata/accumulate.yaml",
		"--checkpoint", dir, "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, 20.0, stateOf(t, out)["state"])

	// Resuming starts from the saved state, and saves a new checkpoint.
	out, err = execute(t, "run", "testdata/accumulator.hcl", "--checkpoint", dir, "--resume", "--keep", "2",
		"--format", "json")
	require.NoError(t, err)
	assert.Equal(t, 20.0, stateOf(t, out)["state"])
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	out, err = execute(t, "inspect", dir, "--format", "json")
	require.NoError(t, err)
	var report inspectReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "accumulator", report.Header.Module)
	assert.Equal(t, "checkpoint-n0000001.ckpt", filepath.Base(report.File))
	assert.Equal(t, map[string]any{"state": 20.0, "inner.counter": nil}, report.Values)

	out, err = execute(t, "inspect", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Summary")
	assert.Contains(t, out, "inner.counter")
	assert.Contains(t, out, "<absent>")

	_, err = execute(t, "inspect", t.TempDir())
	assert.Error(t, err)
}

func TestSnapshotsHistory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "snapshots.db")
	for range 3 {
		_, err := execute(t, "run", "testdata/accumulator.hcl", "--scenario", "testdata/accumulate.yaml",
			"--db", db, "--name", "acc", "--format", "json")
		require.NoError(t, err)
	}

	// Resuming from the latest snapshot, with a new value for "state".
	out, err := execute(t, "run", "testdata/accumulator.hcl", "--db", db, "--name", "acc", "--resume",
		"--set", "state=22", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, 22.0, stateOf(t, out)["state"])

	out, err = execute(t, "history", "--db", db, "acc", "--format", "json")
	require.NoError(t, err)
	var entries []sqlstore.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 4)
	for _, entry := range entries {
		assert.Equal(t, "acc", entry.Name)
		assert.Equal(t, "accumulator", entry.Module)
		assert.Equal(t, 2, entry.NumCells)
	}

	out, err = execute(t, "history", "--db", db, "acc", "--prune", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "acc")
	out, err = execute(t, "history", "--db", db, "--format", "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Len(t, entries, 1)

	_, err = execute(t, "history", "--db", db, "--prune", "1")
	assert.Error(t, err)
	_, err = execute(t, "history")
	assert.ErrorContains(t, err, "db")
	_, err = execute(t, "history", "--db", filepath.Join(t.TempDir(), "missing.db"))
	assert.ErrorContains(t, err, "doesn't exist")
}
