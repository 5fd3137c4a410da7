// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package module

import (
	"strings"

	"github.com/gomlx/symbolic/pkg/core/graph"
	"github.com/gomlx/symbolic/pkg/core/tensors"
	"github.com/gomlx/symbolic/pkg/support/sets"
	"github.com/gomlx/symbolic/pkg/support/xslices"
	"github.com/google/uuid"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// cell is the storage of one member Variable in an Instance.
type cell struct {
	variable *graph.Node

	// paths under which the cell is reachable, in traversal order. The first is the canonical one.
	paths []string

	// value is nil while the member holds no value.
	value *tensors.Tensor
}

// entry is what a path resolves to in an Instance.
type entry struct {
	kind Kind
	path string

	// owner is the Module where the entry was declared, and prefix the path of the owner (with a
	// trailing PathSeparator, or empty for the root).
	owner  *Module
	prefix string

	cell      *cell
	method    *BoundMethod
	submodule *Module
	variable  *graph.Node
	value     any
	hook      HookFn
}

// state is shared by an Instance and all its nested views.
type state struct {
	id      uuid.UUID
	root    *Module
	cells   []*cell
	entries map[string]*entry

	// order lists every path in traversal order.
	order []string
}

// maker holds the intermediary state of Make.
type maker struct {
	st           *state
	cellsByVar   map[*graph.Node]*cell
	visiting     map[*Module]bool
	methods      []*entry
	pendingDecls map[*entry]*Method
	nestedInits  []*entry
}

// Make compiles the Module into a new Instance with its own storage.
//
// It walks the Module tree depth-first in declaration order: each member Variable gets one storage
// cell, reachable by all the paths it was declared under (a Variable declared in more than one nested
// Module is aliased, not copied). Every Method is then compiled: inputs that are members are
// optional, other inputs are required arguments, and members the Method reads without listing them
// as inputs become implicit reads of their current value.
//
// Keys of values are matched first against the full path of a member (e.g. "inner.counter"), and
// then against the name of the member Variable, if only one member has that name. Two keys matching
// the same member (e.g. "counter" and "inner.counter") fail with ErrNameCollision. Values are
// converted with tensors.FromValue, and a nil value leaves the member with no value. All cells not
// given an initial value hold no value.
//
// After storage is allocated, the initializers (see SetInitializer) of nested Modules are called
// depth-first with no arguments, and then the initializer of the root Module is called with args and
// the values that didn't match any member. If the root Module has no initializer, unmatched values or
// any args fail with ErrUnknownInitialValue.
//
// Errors wrap one of ErrNameCollision, ErrModuleCycle, ErrUnboundInput, ErrInvalidUpdate or
// ErrUnknownInitialValue, and failures to compile a method are returned as a *CompilationError.
func (m *Module) Make(values map[string]any, args ...any) (*Instance, error) {
	mk, err := m.compile()
	if err != nil {
		return nil, err
	}
	inst := &Instance{st: mk.st, module: m}
	unmatched, err := mk.assignValues(values)
	if err != nil {
		return nil, errors.WithMessagef(err, "module %q: Make()", m.name)
	}
	return mk.initialize(inst, args, unmatched)
}

// Reload compiles the Module like Make, but instead of initial values and initializers, the new
// Instance takes the given id and the cells values (keyed by path, as returned by
// Instance.Snapshot). It is used to restore saved Instances.
func (m *Module) Reload(id uuid.UUID, cells map[string]*tensors.Tensor) (*Instance, error) {
	mk, err := m.compile()
	if err != nil {
		return nil, err
	}
	mk.st.id = id
	inst := &Instance{st: mk.st, module: m}
	if err := inst.Restore(cells); err != nil {
		return nil, errors.WithMessagef(err, "module %q: Reload()", m.name)
	}
	klog.V(1).Infof("module %q: reloaded instance %s with %d cells", m.name, id, len(mk.st.cells))
	return inst, nil
}

func newMaker(m *Module) *maker {
	return &maker{
		st: &state{
			id:      uuid.New(),
			root:    m,
			entries: make(map[string]*entry),
		},
		cellsByVar:   make(map[*graph.Node]*cell),
		visiting:     make(map[*Module]bool),
		pendingDecls: make(map[*entry]*Method),
	}
}

func (m *Module) compile() (*maker, error) {
	mk := newMaker(m)
	if err := mk.walk(m, ""); err != nil {
		return nil, errors.WithMessagef(err, "module %q: Make()", m.name)
	}
	for _, e := range mk.methods {
		bm, err := mk.bind(e, mk.pendingDecls[e])
		if err != nil {
			return nil, err
		}
		e.method = bm
	}
	return mk, nil
}

// MemberPaths resolves key the same way Make resolves the keys of its initial values, and returns
// every path of the member cell it matches, the canonical one first. It returns nil if key matches
// no member. Methods are not compiled.
func (m *Module) MemberPaths(key string) ([]string, error) {
	mk := newMaker(m)
	if err := mk.walk(m, ""); err != nil {
		return nil, errors.WithMessagef(err, "module %q: MemberPaths()", m.name)
	}
	c, err := mk.resolveValueKey(key)
	if err != nil || c == nil {
		return nil, err
	}
	return append([]string(nil), c.paths...), nil
}

// MustMake is like Make, but panics on error.
func (m *Module) MustMake(values map[string]any, args ...any) *Instance {
	return must.M1(m.Make(values, args...))
}

func (mk *maker) register(path string, e *entry) error {
	if previous, found := mk.st.entries[path]; found {
		if previous.kind == KindMember && e.kind == KindMember && previous.cell == e.cell {
			return nil
		}
		return errors.Wrapf(ErrNameCollision, "path %q declared as a %s in module %q and as a %s in module %q",
			path, previous.kind, previous.owner.name, e.kind, e.owner.name)
	}
	mk.st.entries[path] = e
	mk.st.order = append(mk.st.order, path)
	return nil
}

func (mk *maker) walk(m *Module, prefix string) error {
	if mk.visiting[m] {
		return errors.Wrapf(ErrModuleCycle, "module %q is nested in itself at %q", m.name,
			strings.TrimSuffix(prefix, PathSeparator))
	}
	mk.visiting[m] = true
	defer delete(mk.visiting, m)

	for _, name := range m.order {
		d := m.decls[name]
		path := prefix + name
		e := &entry{kind: d.Kind, path: path, owner: m, prefix: prefix}
		switch d.Kind {
		case KindMember:
			c, found := mk.cellsByVar[d.Variable]
			if !found {
				c = &cell{variable: d.Variable}
				mk.cellsByVar[d.Variable] = c
				mk.st.cells = append(mk.st.cells, c)
			}
			e.cell = c
			e.variable = d.Variable
			if _, dup := mk.st.entries[path]; !dup {
				c.paths = append(c.paths, path)
			}
		case KindExpression:
			e.variable = d.Variable
		case KindMethod:
			mk.methods = append(mk.methods, e)
			mk.pendingDecls[e] = d.Method
		case KindSubmodule:
			e.submodule = d.Submodule
		case KindValue:
			e.value = d.Value
		case KindHook:
			e.hook = d.Hook
		}
		if err := mk.register(path, e); err != nil {
			return err
		}
		if d.Kind == KindSubmodule {
			if err := mk.walk(d.Submodule, path+PathSeparator); err != nil {
				return err
			}
			if d.Submodule.initializer != nil {
				mk.nestedInits = append(mk.nestedInits, e)
			}
		}
	}
	return nil
}

// bind compiles the Method declared at entry e into a BoundMethod.
func (mk *maker) bind(e *entry, method *Method) (*BoundMethod, error) {
	path := e.path
	fail := func(err error) (*BoundMethod, error) {
		return nil, &CompilationError{Method: path, Err: err}
	}
	bm := &BoundMethod{name: path, st: mk.st, byName: make(map[string]int)}

	// Inputs: members are optional, anything else is required.
	inputs := sets.Make[*graph.Node]()
	for ii, input := range method.inputs {
		if input == nil {
			return fail(errors.Errorf("input #%d is nil", ii))
		}
		if !input.IsVariable() {
			return fail(errors.Errorf("input #%d (%s) is not a Variable", ii, input))
		}
		if inputs.Has(input) {
			return fail(errors.Errorf("input #%d (%s) given more than once", ii, input))
		}
		inputs.Insert(input)
		if c, isMember := mk.cellsByVar[input]; isMember {
			bm.optional = append(bm.optional, boundInput{variable: input, cell: c})
		} else {
			bm.required = append(bm.required, boundInput{variable: input})
		}
	}

	// Updates can only target members.
	updates := make([]graph.Update, 0, len(method.updates))
	for _, update := range method.updates {
		c, isMember := mk.cellsByVar[update.Target]
		if !isMember {
			return fail(errors.Wrapf(ErrInvalidUpdate, "%s is not a member Variable", update.Target))
		}
		if update.Value == nil {
			return fail(errors.Errorf("update of %s has no value", update.Target))
		}
		updates = append(updates, update)
		bm.updated = append(bm.updated, c)
	}

	// Variables read by the method that are not inputs: members become implicit reads of their
	// current value, anything else is unbound.
	var implicit, unbound sets.Ordered[*graph.Node]
	visited := sets.Make[*graph.Node]()
	var visit func(node *graph.Node)
	visit = func(node *graph.Node) {
		if visited.Has(node) {
			return
		}
		visited.Insert(node)
		if node.IsVariable() {
			if inputs.Has(node) {
				return
			}
			if _, isMember := mk.cellsByVar[node]; isMember {
				implicit.Insert(node)
			} else {
				unbound.Insert(node)
			}
			return
		}
		for _, input := range node.Inputs() {
			visit(input)
		}
	}
	for ii, output := range method.outputs {
		if output == nil {
			return fail(errors.Errorf("output #%d is nil", ii))
		}
		visit(output)
	}
	for _, update := range updates {
		visit(update.Value)
	}
	if unbound.Len() > 0 {
		names := xslices.Map(unbound.Elements(), (*graph.Node).String)
		return fail(errors.Wrapf(ErrUnboundInput, "%s is neither an input nor a member Variable",
			strings.Join(names, ", ")))
	}
	for _, v := range implicit.Elements() {
		bm.implicit = append(bm.implicit, boundInput{variable: v, cell: mk.cellsByVar[v]})
	}

	// The engine takes the required inputs first, then the optional ones, then the implicit reads.
	engineInputs := make([]*graph.Node, 0, len(bm.required)+len(bm.optional)+len(bm.implicit))
	for _, group := range [][]boundInput{bm.required, bm.optional, bm.implicit} {
		for _, in := range group {
			engineInputs = append(engineInputs, in.variable)
		}
	}
	exec, err := graph.Compile(path, engineInputs, method.outputs, updates)
	if err != nil {
		return fail(err)
	}
	bm.exec = exec

	for ii, in := range append(append([]boundInput(nil), bm.required...), bm.optional...) {
		name := in.variable.Name()
		if name == "" {
			continue
		}
		if _, dup := bm.byName[name]; dup {
			bm.byName[name] = -1
			continue
		}
		bm.byName[name] = ii
	}
	klog.V(2).Infof("module: bound method %q: %d required inputs, %d optional inputs, %d implicit reads, %d updates",
		path, len(bm.required), len(bm.optional), len(bm.implicit), len(bm.updated))
	return bm, nil
}

// assignValues stores the initial values and returns the ones that didn't match any member.
func (mk *maker) assignValues(values map[string]any) (map[string]any, error) {
	unmatched := make(map[string]any)
	assigned := make(map[*cell]string, len(values))
	for _, key := range xslices.SortedKeys(values) {
		value := values[key]
		c, err := mk.resolveValueKey(key)
		if err != nil {
			return nil, err
		}
		if c == nil {
			unmatched[key] = value
			continue
		}
		if previous, found := assigned[c]; found {
			return nil, errors.Wrapf(ErrNameCollision, "initial values %q and %q both set member %q",
				previous, key, c.paths[0])
		}
		assigned[c] = key
		if value == nil {
			c.value = nil
			continue
		}
		t, err := tensors.FromValue(value)
		if err != nil {
			return nil, errors.WithMessagef(err, "initial value for %q", key)
		}
		c.value = t
	}
	return unmatched, nil
}

func (mk *maker) resolveValueKey(key string) (*cell, error) {
	if e, found := mk.st.entries[key]; found && e.kind == KindMember {
		return e.cell, nil
	}
	var match *cell
	for _, c := range mk.st.cells {
		if c.variable.Name() != key {
			continue
		}
		if match != nil {
			return nil, errors.Wrapf(ErrNameCollision, "initial value %q matches members %q and %q, use the full path",
				key, match.paths[0], c.paths[0])
		}
		match = c
	}
	return match, nil
}

func (mk *maker) initialize(inst *Instance, args []any, unmatched map[string]any) (*Instance, error) {
	for _, e := range mk.nestedInits {
		path := e.path
		view := &Instance{st: mk.st, module: e.submodule, prefix: path + PathSeparator}
		if err := e.submodule.initializer(e.submodule, view, nil, nil); err != nil {
			return nil, errors.WithMessagef(err, "module %q: initializer of %q", mk.st.root.name, path)
		}
	}
	root := mk.st.root
	if root.initializer == nil {
		if len(unmatched) > 0 {
			return nil, errors.Wrapf(ErrUnknownInitialValue, "module %q: no member matches %q",
				root.name, xslices.SortedKeys(unmatched))
		}
		if len(args) > 0 {
			return nil, errors.Wrapf(ErrUnknownInitialValue, "module %q: %d positional argument(s) given, but there "+
				"is no initializer to take them", root.name, len(args))
		}
	} else if err := root.initializer(root, inst, args, unmatched); err != nil {
		return nil, errors.WithMessagef(err, "module %q: initializer", root.name)
	}
	klog.V(1).Infof("module %q: made instance %s with %d cells and %d methods", root.name, mk.st.id,
		len(mk.st.cells), len(mk.methods))
	return inst, nil
}
