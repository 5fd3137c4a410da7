// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package module

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/symbolic/pkg/core/graph"
	"github.com/gomlx/symbolic/pkg/core/tensors"
	"github.com/google/uuid"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// Instance is a compiled Module: it holds the storage of the member Variables, and the compiled
// methods that read and update it. It is created by Module.Make.
//
// An Instance of a nested Module, returned by Sub, is a view of the same storage: values set or
// updated through one view are seen by all others.
type Instance struct {
	st     *state
	module *Module

	// prefix of the paths of this view, with a trailing PathSeparator. Empty for the root view.
	prefix string
}

// CellInfo describes one storage cell of an Instance.
type CellInfo struct {
	// Path is the canonical path of the cell, relative to the Instance.
	Path string

	// Aliases are the other paths that resolve to the same cell.
	Aliases []string

	// Variable is the member Variable stored in the cell.
	Variable *graph.Node

	// Value is the current value, or nil if the cell holds no value.
	Value *tensors.Tensor
}

// ID uniquely identifies the Instance, and is shared by all its nested views.
func (inst *Instance) ID() uuid.UUID { return inst.st.id }

// Module returns the symbolic Module this Instance (or view) was compiled from.
func (inst *Instance) Module() *Module { return inst.module }

// Root returns the view of the whole Instance.
func (inst *Instance) Root() *Instance {
	return &Instance{st: inst.st, module: inst.st.root}
}

// Path of this view in the root Instance, empty for the root.
func (inst *Instance) Path() string { return strings.TrimSuffix(inst.prefix, PathSeparator) }

func (inst *Instance) lookup(path string, kinds ...Kind) (*entry, error) {
	full := inst.prefix + norm.NFC.String(strings.TrimSpace(path))
	e, found := inst.st.entries[full]
	if !found {
		return nil, errors.Wrapf(ErrNotFound, "%q in module %q", path, inst.module.name)
	}
	if len(kinds) == 0 {
		return e, nil
	}
	for _, kind := range kinds {
		if e.kind == kind {
			return e, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "%q in module %q is a %s, not a %s", path, inst.module.name, e.kind, kinds[0])
}

// Get returns the current value of the member at path, or nil if it holds no value.
//
// The returned tensor is shared with the storage, and must not be modified.
func (inst *Instance) Get(path string) (*tensors.Tensor, error) {
	e, err := inst.lookup(path, KindMember)
	if err != nil {
		return nil, err
	}
	return e.cell.value, nil
}

// Value returns the current value of the member at path as a Go value (see tensors.Tensor.Value),
// or nil if it holds no value.
func (inst *Instance) Value(path string) (any, error) {
	t, err := inst.Get(path)
	if err != nil || t == nil {
		return nil, err
	}
	return t.Value(), nil
}

// Set the value of the member at path. The value is converted with tensors.FromValue, and nil
// leaves the member with no value.
func (inst *Instance) Set(path string, value any) error {
	e, err := inst.lookup(path, KindMember)
	if err != nil {
		return err
	}
	if value == nil {
		e.cell.value = nil
		return nil
	}
	t, err := tensors.FromValue(value)
	if err != nil {
		return errors.WithMessagef(err, "setting %q", path)
	}
	e.cell.value = t
	return nil
}

// MustGet is like Get, but panics on error.
func (inst *Instance) MustGet(path string) *tensors.Tensor { return must.M1(inst.Get(path)) }

// MustSet is like Set, but panics on error.
func (inst *Instance) MustSet(path string, value any) { must.M(inst.Set(path, value)) }

// Sub returns the view of the nested Module at path. It shares the storage with inst.
func (inst *Instance) Sub(path string) (*Instance, error) {
	e, err := inst.lookup(path, KindSubmodule)
	if err != nil {
		return nil, err
	}
	return &Instance{st: inst.st, module: e.submodule, prefix: e.path + PathSeparator}, nil
}

// MustSub is like Sub, but panics on error.
func (inst *Instance) MustSub(path string) *Instance { return must.M1(inst.Sub(path)) }

// Method returns the compiled method at path.
func (inst *Instance) Method(path string) (*BoundMethod, error) {
	e, err := inst.lookup(path, KindMethod)
	if err != nil {
		return nil, err
	}
	return e.method, nil
}

// Call executes the method at path with the given required inputs, see BoundMethod.Exec.
func (inst *Instance) Call(path string, args ...any) ([]*tensors.Tensor, error) {
	bm, err := inst.Method(path)
	if err != nil {
		return nil, err
	}
	return bm.Exec(args...)
}

// Hook calls the hook registered at path, with the view of the Module that registered it.
func (inst *Instance) Hook(path string, args ...any) (any, error) {
	e, err := inst.lookup(path, KindHook)
	if err != nil {
		return nil, err
	}
	view := &Instance{st: inst.st, module: e.owner, prefix: e.prefix}
	return e.hook(e.owner, view, args...)
}

// Attribute returns whatever path resolves to: the value (*tensors.Tensor) of a member, a
// *BoundMethod, an *Instance view of a nested Module, the *graph.Node of an expression, a
// declared plain value, or a func(args ...any) (any, error) calling a hook.
func (inst *Instance) Attribute(path string) (any, error) {
	e, err := inst.lookup(path)
	if err != nil {
		return nil, err
	}
	switch e.kind {
	case KindMember:
		return e.cell.value, nil
	case KindMethod:
		return e.method, nil
	case KindSubmodule:
		return inst.Sub(path)
	case KindExpression:
		return e.variable, nil
	case KindValue:
		return e.value, nil
	case KindHook:
		return func(args ...any) (any, error) { return inst.Hook(path, args...) }, nil
	}
	return nil, errors.Errorf("invalid attribute %q", path)
}

// Names returns all paths under this view, relative to it, in traversal order.
func (inst *Instance) Names() []string {
	var names []string
	for _, path := range inst.st.order {
		if strings.HasPrefix(path, inst.prefix) {
			names = append(names, path[len(inst.prefix):])
		}
	}
	return names
}

// Cells returns the storage cells reachable from this view, in traversal order.
func (inst *Instance) Cells() []CellInfo {
	var infos []CellInfo
	for _, c := range inst.st.cells {
		var paths []string
		for _, path := range c.paths {
			if strings.HasPrefix(path, inst.prefix) {
				paths = append(paths, path[len(inst.prefix):])
			}
		}
		if len(paths) == 0 {
			continue
		}
		infos = append(infos, CellInfo{Path: paths[0], Aliases: paths[1:], Variable: c.variable, Value: c.value})
	}
	return infos
}

// Snapshot returns copies of the values of all cells reachable from this view, keyed by their
// canonical path. Cells with no value map to nil.
func (inst *Instance) Snapshot() map[string]*tensors.Tensor {
	snapshot := make(map[string]*tensors.Tensor)
	for _, info := range inst.Cells() {
		if info.Value != nil {
			snapshot[info.Path] = info.Value.Clone()
		} else {
			snapshot[info.Path] = nil
		}
	}
	return snapshot
}

// Restore sets the values of the cells in snapshot (keyed by any of their paths), as returned by
// Snapshot. If any path is not a member, nothing is changed.
func (inst *Instance) Restore(snapshot map[string]*tensors.Tensor) error {
	cells := make([]*cell, 0, len(snapshot))
	values := make([]*tensors.Tensor, 0, len(snapshot))
	for path, value := range snapshot {
		e, err := inst.lookup(path, KindMember)
		if err != nil {
			return errors.WithMessage(err, "Instance.Restore()")
		}
		cells = append(cells, e.cell)
		values = append(values, value)
	}
	for ii, c := range cells {
		c.value = values[ii]
	}
	return nil
}

// String returns a listing of the cells and their values.
func (inst *Instance) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Instance %s of module %q", inst.st.id, inst.module.name)
	if inst.prefix != "" {
		fmt.Fprintf(&sb, " at %q", inst.Path())
	}
	cells := inst.Cells()
	size := 0
	for _, info := range cells {
		if info.Value != nil {
			size += info.Value.Size()
		}
	}
	fmt.Fprintf(&sb, " (%d cells, %s values):\n", len(cells), humanize.Comma(int64(size)))
	for _, info := range cells {
		if info.Value == nil {
			fmt.Fprintf(&sb, "\t%s: <no value>\n", info.Path)
		} else {
			fmt.Fprintf(&sb, "\t%s: %s\n", info.Path, info.Value)
		}
	}
	return sb.String()
}
