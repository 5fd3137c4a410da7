// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package module implements stateful symbolic Modules: containers of symbolic Variables, Methods and
// nested Modules that are compiled (see Module.Make) into an Instance, whose methods execute compiled
// computations that read and update shared storage.
//
// It works in two phases:
//
//  1. Declaration: a Module is assembled with explicit verbs. DeclareMember turns a fresh
//     graph.Variable into a member (a storage cell once compiled), DeclareExpression only names an
//     expression, DeclareMethod declares a Method (inputs, outputs and updates), DeclareSubmodule nests
//     another Module, DeclareValue stores a plain Go value and RegisterHook attaches a Go function to
//     every Instance.
//  2. Compilation: Module.Make walks the tree, allocates one storage cell per member Variable,
//     compiles every Method with the expression engine (package graph) and returns an Instance.
//
// Example: an accumulator with two methods sharing the same state.
//
//	state, x := graph.Variable(""), graph.Variable("x")
//	acc := module.New("accumulator")
//	acc.MustDeclareMember("state", state)
//	acc.MustDeclareMethod("add", module.NewMethod(x).WithUpdate(state, graph.Add(state, x)))
//	acc.MustDeclareMethod("sub", module.NewMethod(x).WithUpdate(state, graph.Sub(state, x)))
//
//	inst := must.M1(acc.Make(map[string]any{"state": 0}))
//	inst.Call("add", 2)           // state == 2
//	inst.MustSet("state", 39.99)
//	inst.Call("add", 0.01)        // state == 40
//	inst.Call("sub", 20)          // state == 20
//
// Members of nested Modules are addressed by their path, joined with PathSeparator:
// `inst.Get("inner.counter")` and `inst.MustSub("inner").Get("counter")` refer to the same cell.
//
// Instances are not safe for concurrent use: calls to methods of the same Instance (or of any of its
// nested views) must be serialized by the caller.
package module

import (
	"fmt"
	"strings"

	"github.com/gomlx/symbolic/pkg/core/graph"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// PathSeparator joins the names of nested Modules and their attributes.
const PathSeparator = "."

// Kind of declaration bound to a name in a Module.
type Kind int

const (
	KindInvalid Kind = iota
	KindMember
	KindExpression
	KindMethod
	KindSubmodule
	KindValue
	KindHook
)

var kindNames = [...]string{
	KindInvalid:    "invalid",
	KindMember:     "member",
	KindExpression: "expression",
	KindMethod:     "method",
	KindSubmodule:  "submodule",
	KindValue:      "value",
	KindHook:       "hook",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// HookFn is a Go function attached to every Instance of the Module it was registered on.
// It is called with the symbolic Module and the Instance (the view of that Module), plus any
// arguments given to Instance.Hook.
type HookFn func(m *Module, inst *Instance, args ...any) (any, error)

// InitializerFn customizes the initialization of a new Instance, see Module.SetInitializer.
//
// It receives the positional arguments given to Make, and the initial values that didn't match any
// member. Returning an error aborts Make.
type InitializerFn func(m *Module, inst *Instance, args []any, values map[string]any) error

// Declaration is what is bound to a name in a Module. Only the fields for its Kind are set.
type Declaration struct {
	Name string
	Kind Kind

	// Variable for KindMember and KindExpression.
	Variable *graph.Node

	// Method for KindMethod.
	Method *Method

	// Submodule for KindSubmodule.
	Submodule *Module

	// Value for KindValue.
	Value any

	// Hook for KindHook.
	Hook HookFn
}

// Module is a declaration-time container of member Variables, expressions, Methods, nested Modules,
// plain values and hooks. Create it with New, and compile it into an Instance with Make.
//
// A Module can be compiled any number of times, and each Instance has its own independent storage.
type Module struct {
	name        string
	order       []string
	decls       map[string]*Declaration
	initializer InitializerFn
}

// New creates an empty Module. The name is only used for logging and error messages.
func New(name string) *Module {
	return &Module{name: name, decls: make(map[string]*Declaration)}
}

// Name of the Module given at creation.
func (m *Module) Name() string { return m.name }

func normalizeName(name string) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return "", errors.New("empty name")
	}
	if strings.Contains(name, PathSeparator) {
		return "", errors.Errorf("name %q contains the path separator %q", name, PathSeparator)
	}
	return name, nil
}

// declare binds the declaration to its name, following the conflict policy:
//
//   - A name bound to a different kind can't be re-declared.
//   - A member can only be re-declared with the same Variable (a no-op).
//   - Any other declaration of the same kind replaces the previous one.
func (m *Module) declare(d *Declaration) error {
	name, err := normalizeName(d.Name)
	if err != nil {
		return errors.WithMessagef(err, "module %q: cannot declare %s", m.name, d.Kind)
	}
	d.Name = name
	previous, found := m.decls[name]
	if !found {
		m.order = append(m.order, name)
		m.decls[name] = d
		return nil
	}
	if previous.Kind != d.Kind {
		return errors.Wrapf(ErrConflict, "module %q: %q is already declared as a %s, cannot re-declare it as a %s",
			m.name, name, previous.Kind, d.Kind)
	}
	if d.Kind == KindMember && previous.Variable != d.Variable {
		return errors.Wrapf(ErrConflict, "module %q: member %q is already bound to Variable %s", m.name, name,
			previous.Variable)
	}
	m.decls[name] = d
	return nil
}

// DeclareMember declares the Variable v as a member: once compiled, each Instance holds a storage cell
// for it, shared by all methods (and nested views) of the Instance.
//
// The Variable must be a fresh graph.Variable (not the result of an expression). If it has no name, it
// takes the given name.
func (m *Module) DeclareMember(name string, v *graph.Node) error {
	if !v.IsVariable() {
		return errors.Errorf("module %q: member %q must be a graph.Variable, got %s (use DeclareExpression for "+
			"derived values)", m.name, name, v)
	}
	err := m.declare(&Declaration{Name: name, Kind: KindMember, Variable: v})
	if err != nil {
		return err
	}
	if v.Name() == "" {
		v.SetName(m.decls[norm.NFC.String(strings.TrimSpace(name))].Name)
	}
	return nil
}

// DeclareExpression names an expression in the Module. It is never materialized as storage: it's just a
// reference, available with Get (e.g. to build Methods).
func (m *Module) DeclareExpression(name string, v *graph.Node) error {
	if v == nil {
		return errors.Errorf("module %q: expression %q is nil", m.name, name)
	}
	return m.declare(&Declaration{Name: name, Kind: KindExpression, Variable: v})
}

// DeclareMethod declares a Method, compiled into a BoundMethod of each Instance.
func (m *Module) DeclareMethod(name string, method *Method) error {
	if method == nil {
		return errors.Errorf("module %q: method %q is nil", m.name, name)
	}
	return m.declare(&Declaration{Name: name, Kind: KindMethod, Method: method})
}

// DeclareSubmodule nests the Module sub under the given name. Its members, methods and hooks are
// reachable from the Instances of m under the path "name.<...>".
func (m *Module) DeclareSubmodule(name string, sub *Module) error {
	if sub == nil {
		return errors.Errorf("module %q: submodule %q is nil", m.name, name)
	}
	if sub == m {
		return errors.Wrapf(ErrModuleCycle, "module %q: cannot declare itself as submodule %q", m.name, name)
	}
	return m.declare(&Declaration{Name: name, Kind: KindSubmodule, Submodule: sub})
}

// DeclareValue stores a plain Go value in the Module, as is.
func (m *Module) DeclareValue(name string, value any) error {
	return m.declare(&Declaration{Name: name, Kind: KindValue, Value: value})
}

// RegisterHook attaches fn to every Instance of the Module, see Instance.Hook.
func (m *Module) RegisterHook(name string, fn HookFn) error {
	if fn == nil {
		return errors.Errorf("module %q: hook %q is nil", m.name, name)
	}
	return m.declare(&Declaration{Name: name, Kind: KindHook, Hook: fn})
}

// SetInitializer sets a function called at the end of Make, with the Instance already built.
// See Make for the arguments it receives. Setting it to nil removes it.
func (m *Module) SetInitializer(fn InitializerFn) {
	m.initializer = fn
}

// MustDeclareMember is like DeclareMember, but panics on error.
func (m *Module) MustDeclareMember(name string, v *graph.Node) { must.M(m.DeclareMember(name, v)) }

// MustDeclareExpression is like DeclareExpression, but panics on error.
func (m *Module) MustDeclareExpression(name string, v *graph.Node) { must.M(m.DeclareExpression(name, v)) }

// MustDeclareMethod is like DeclareMethod, but panics on error.
func (m *Module) MustDeclareMethod(name string, method *Method) { must.M(m.DeclareMethod(name, method)) }

// MustDeclareSubmodule is like DeclareSubmodule, but panics on error.
func (m *Module) MustDeclareSubmodule(name string, sub *Module) { must.M(m.DeclareSubmodule(name, sub)) }

// MustDeclareValue is like DeclareValue, but panics on error.
func (m *Module) MustDeclareValue(name string, value any) { must.M(m.DeclareValue(name, value)) }

// MustRegisterHook is like RegisterHook, but panics on error.
func (m *Module) MustRegisterHook(name string, fn HookFn) { must.M(m.RegisterHook(name, fn)) }

// Get returns a copy of the declaration bound to name.
func (m *Module) Get(name string) (Declaration, bool) {
	d, found := m.decls[norm.NFC.String(strings.TrimSpace(name))]
	if !found {
		return Declaration{}, false
	}
	return *d, true
}

// Member returns the member Variable declared with the given name, or nil if there isn't one.
func (m *Module) Member(name string) *graph.Node {
	d, found := m.Get(name)
	if !found || d.Kind != KindMember {
		return nil
	}
	return d.Variable
}

// Expression returns the member or expression declared with the given name, or nil if there isn't one.
func (m *Module) Expression(name string) *graph.Node {
	d, found := m.Get(name)
	if !found || (d.Kind != KindMember && d.Kind != KindExpression) {
		return nil
	}
	return d.Variable
}

// Submodule returns the nested Module declared with the given name, or nil if there isn't one.
func (m *Module) Submodule(name string) *Module {
	d, found := m.Get(name)
	if !found || d.Kind != KindSubmodule {
		return nil
	}
	return d.Submodule
}

// Names returns the declared names, in declaration order.
func (m *Module) Names() []string {
	return append([]string(nil), m.order...)
}

// String returns a multi-line description of the Module tree.
func (m *Module) String() string {
	var sb strings.Builder
	m.writeTo(&sb, "", map[*Module]bool{})
	return sb.String()
}

func (m *Module) writeTo(sb *strings.Builder, indent string, visiting map[*Module]bool) {
	fmt.Fprintf(sb, "%sModule %q:\n", indent, m.name)
	if visiting[m] {
		fmt.Fprintf(sb, "%s\t(cycle)\n", indent)
		return
	}
	visiting[m] = true
	defer delete(visiting, m)
	for _, name := range m.order {
		d := m.decls[name]
		switch d.Kind {
		case KindMember, KindExpression:
			fmt.Fprintf(sb, "%s\t%s %s: %s\n", indent, d.Kind, name, d.Variable)
		case KindMethod:
			fmt.Fprintf(sb, "%s\tmethod %s: %s\n", indent, name, d.Method)
		case KindSubmodule:
			fmt.Fprintf(sb, "%s\tsubmodule %s:\n", indent, name)
			d.Submodule.writeTo(sb, indent+"\t", visiting)
		case KindValue:
			fmt.Fprintf(sb, "%s\tvalue %s: %v\n", indent, name, d.Value)
		case KindHook:
			fmt.Fprintf(sb, "%s\thook %s\n", indent, name)
		}
	}
}
