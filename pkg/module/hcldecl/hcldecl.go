// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hcldecl declares module.Module trees from HCL files.
//
// Each top-level "module" block declares one Module. Example:
//
//	module "accumulator" {
//	  member "state" { initial = 0 }
//	  expression "double" { value = state * 2 }
//	  method "add" {
//	    inputs  = [x]
//	    updates = { state = state + x }
//	  }
//	  method "peek" { outputs = [double] }
//	  module "inner" {
//	    member "counter" {}
//	  }
//	}
//
// Expressions are written with the HCL arithmetic: numbers (and lists of numbers), references to
// members, declared expressions, method inputs and members of nested modules ("inner.counter"),
// the operators "+ - * /", unary "-", parentheses and the functions listed in Functions.
//
// Names used in the "inputs" of a method that are not members become fresh Variables, the external
// inputs of the method. The "initial" values of the members are collected in Declared.Defaults,
// keyed by path, ready to be given to module.Module.Make.
package hcldecl

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/symbolic/pkg/core/graph"
	"github.com/gomlx/symbolic/pkg/module"
	"github.com/gomlx/symbolic/pkg/support/fsutil"
	"github.com/gomlx/symbolic/pkg/support/xslices"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FileExtension of the files loaded by LoadDir.
const FileExtension = ".hcl"

// File holds the Modules declared in one or more HCL files.
type File struct {
	Modules map[string]*Declared
}

// Declared is a Module declared in HCL, along with the initial values of its members.
type Declared struct {
	Module *module.Module

	// Defaults maps member paths (relative to Module) to their "initial" values.
	Defaults map[string]any

	// Filename where the Module was declared.
	Filename string
}

// Make creates an Instance of the declared Module, initialized with Defaults, overridden by values.
//
// Keys of values are resolved like in module.Module.Make, so a member can be overridden either by
// its path or by its name.
func (d *Declared) Make(values map[string]any, args ...any) (*module.Instance, error) {
	merged := make(map[string]any, len(d.Defaults)+len(values))
	for path, value := range d.Defaults {
		merged[path] = value
	}
	for key, value := range values {
		paths, err := d.Module.MemberPaths(key)
		if err != nil {
			return nil, err
		}
		for _, path := range paths {
			if _, given := values[path]; !given {
				delete(merged, path)
			}
		}
		merged[key] = value
	}
	return d.Module.Make(merged, args...)
}

// Names of the declared Modules, sorted.
func (f *File) Names() []string {
	return xslices.SortedKeys(f.Modules)
}

// Lookup returns the Module declared with name. If name is empty and only one Module was declared,
// that one is returned.
func (f *File) Lookup(name string) (*Declared, error) {
	if name == "" {
		if len(f.Modules) != 1 {
			return nil, errors.Errorf("%d modules declared %v, select one by name", len(f.Modules), f.Names())
		}
		for _, d := range f.Modules {
			return d, nil
		}
	}
	d, found := f.Modules[name]
	if !found {
		return nil, errors.Wrapf(module.ErrNotFound, "module %q not declared, declared modules: %v", name, f.Names())
	}
	return d, nil
}

// HCL schema, decoded with gohcl.
type (
	fileRoot struct {
		Modules []*moduleBlock `hcl:"module,block"`
	}

	moduleBlock struct {
		Name        string             `hcl:"name,label"`
		Values      []*valueBlock      `hcl:"value,block"`
		Members     []*memberBlock     `hcl:"member,block"`
		Modules     []*moduleBlock     `hcl:"module,block"`
		Expressions []*expressionBlock `hcl:"expression,block"`
		Methods     []*methodBlock     `hcl:"method,block"`
		DefRange    hcl.Range          `hcl:",def_range"`
	}

	valueBlock struct {
		Name     string         `hcl:"name,label"`
		Value    hcl.Expression `hcl:"value"`
		DefRange hcl.Range      `hcl:",def_range"`
	}

	memberBlock struct {
		Name     string         `hcl:"name,label"`
		Initial  hcl.Expression `hcl:"initial,optional"`
		DefRange hcl.Range      `hcl:",def_range"`
	}

	expressionBlock struct {
		Name     string         `hcl:"name,label"`
		Value    hcl.Expression `hcl:"value"`
		DefRange hcl.Range      `hcl:",def_range"`
	}

	methodBlock struct {
		Name     string         `hcl:"name,label"`
		Inputs   hcl.Expression `hcl:"inputs,optional"`
		Outputs  hcl.Expression `hcl:"outputs,optional"`
		Updates  hcl.Expression `hcl:"updates,optional"`
		DefRange hcl.Range      `hcl:",def_range"`
	}
)

// Parse the HCL source src. The filename is used in the diagnostics.
func Parse(src []byte, filename string) (*File, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diags
	}
	return decode(hclFile, filename)
}

// LoadFile parses the HCL file at path.
func LoadFile(path string) (*File, error) {
	path, err := fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return nil, err
	}
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, diags
	}
	return decode(hclFile, path)
}

// LoadDir parses every ".hcl" file under dir (recursively). Module names must be unique across files.
func LoadDir(dir string) (*File, error) {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		return nil, err
	}
	if fi, err := os.Stat(dir); err != nil {
		return nil, errors.Wrapf(err, "hcldecl.LoadDir(%q)", dir)
	} else if !fi.IsDir() {
		return nil, errors.Errorf("hcldecl.LoadDir(%q): not a directory", dir)
	}
	paths, err := fsutil.FindFilesByExtension(dir, FileExtension)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("hcldecl.LoadDir(%q): no %s files found", dir, FileExtension)
	}
	merged := &File{Modules: make(map[string]*Declared)}
	for _, path := range paths {
		f, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		for name, d := range f.Modules {
			if prev, found := merged.Modules[name]; found {
				return nil, errors.Wrapf(module.ErrNameCollision, "module %q declared in %q and in %q",
					name, prev.Filename, filepath.Clean(path))
			}
			merged.Modules[name] = d
		}
	}
	return merged, nil
}

func decode(hclFile *hcl.File, filename string) (*File, error) {
	var root fileRoot
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
		return nil, diags
	}
	f := &File{Modules: make(map[string]*Declared, len(root.Modules))}
	for _, block := range root.Modules {
		if _, found := f.Modules[block.Name]; found {
			return nil, hcl.Diagnostics{errorf(block.DefRange, "Duplicate module",
				"Module %q is declared more than once.", block.Name)}
		}
		d := &Declared{Defaults: make(map[string]any), Filename: filename}
		m, diags := buildModule(block, "", d.Defaults)
		if diags.HasErrors() {
			return nil, diags
		}
		d.Module = m
		f.Modules[block.Name] = d
		klog.V(1).Infof("hcldecl: declared module %q from %q", block.Name, filename)
	}
	return f, nil
}

func errorf(rng hcl.Range, summary, format string, args ...any) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   fmt.Sprintf(format, args...),
		Subject:  rng.Ptr(),
	}
}

// declError converts an error from the module builder verbs to a diagnostic.
func declError(rng hcl.Range, err error) hcl.Diagnostics {
	return hcl.Diagnostics{errorf(rng, "Invalid declaration", "%v", err)}
}

// buildModule declares the Module of block. Nested modules are declared before expressions and
// methods, so these can refer to their members. The initial values are added to defaults,
// with the paths prefixed by prefix.
func buildModule(block *moduleBlock, prefix string, defaults map[string]any) (*module.Module, hcl.Diagnostics) {
	m := module.New(block.Name)
	for _, vb := range block.Values {
		v, diags := staticValue(vb.Value)
		if diags.HasErrors() {
			return nil, diags
		}
		if err := m.DeclareValue(vb.Name, v); err != nil {
			return nil, declError(vb.DefRange, err)
		}
	}
	for _, mb := range block.Members {
		if err := m.DeclareMember(mb.Name, graph.Variable(mb.Name)); err != nil {
			return nil, declError(mb.DefRange, err)
		}
		if isAbsent(mb.Initial) {
			continue
		}
		v, diags := staticValue(mb.Initial)
		if diags.HasErrors() {
			return nil, diags
		}
		defaults[prefix+mb.Name] = v
	}
	for _, sb := range block.Modules {
		sub, diags := buildModule(sb, prefix+sb.Name+module.PathSeparator, defaults)
		if diags.HasErrors() {
			return nil, diags
		}
		if err := m.DeclareSubmodule(sb.Name, sub); err != nil {
			return nil, declError(sb.DefRange, err)
		}
	}

	s := &scope{module: m}
	for _, eb := range block.Expressions {
		node, diags := s.lower(eb.Value)
		if diags.HasErrors() {
			return nil, diags
		}
		if err := m.DeclareExpression(eb.Name, node); err != nil {
			return nil, declError(eb.DefRange, err)
		}
	}
	for _, mb := range block.Methods {
		method, diags := buildMethod(m, mb)
		if diags.HasErrors() {
			return nil, diags
		}
		if err := m.DeclareMethod(mb.Name, method); err != nil {
			return nil, declError(mb.DefRange, err)
		}
	}
	return m, nil
}

func buildMethod(m *module.Module, mb *methodBlock) (*module.Method, hcl.Diagnostics) {
	s := &scope{module: m, locals: make(map[string]*graph.Node)}
	var inputs []*graph.Node
	if !isAbsent(mb.Inputs) {
		exprs, diags := hcl.ExprList(mb.Inputs)
		if diags.HasErrors() {
			return nil, diags
		}
		for _, expr := range exprs {
			name, diags := referenceName(expr)
			if diags.HasErrors() {
				return nil, diags
			}
			if _, found := s.locals[name]; found {
				return nil, hcl.Diagnostics{errorf(expr.Range(), "Duplicate input",
					"Input %q of method %q is listed more than once.", name, mb.Name)}
			}
			input := s.member(name)
			if input == nil {
				if strings.Contains(name, module.PathSeparator) {
					return nil, hcl.Diagnostics{errorf(expr.Range(), "Unknown member",
						"Input %q of method %q is not a member of a nested module.", name, mb.Name)}
				}
				input = graph.Variable(name)
			}
			s.locals[name] = input
			inputs = append(inputs, input)
		}
	}
	method := module.NewMethod(inputs...)

	if !isAbsent(mb.Outputs) {
		exprs, diags := hcl.ExprList(mb.Outputs)
		if diags.HasErrors() {
			return nil, diags
		}
		outputs := make([]*graph.Node, 0, len(exprs))
		for _, expr := range exprs {
			node, diags := s.lower(expr)
			if diags.HasErrors() {
				return nil, diags
			}
			outputs = append(outputs, node)
		}
		method = method.WithOutputs(outputs...)
	}

	if !isAbsent(mb.Updates) {
		pairs, diags := hcl.ExprMap(mb.Updates)
		if diags.HasErrors() {
			return nil, diags
		}
		for _, pair := range pairs {
			name, diags := keyName(pair.Key)
			if diags.HasErrors() {
				return nil, diags
			}
			target := s.member(name)
			if target == nil {
				return nil, hcl.Diagnostics{errorf(pair.Key.Range(), "Invalid update target",
					"Method %q updates %q, which is not a member.", mb.Name, name)}
			}
			value, diags := s.lower(pair.Value)
			if diags.HasErrors() {
				return nil, diags
			}
			method = method.WithUpdate(target, value)
		}
	}
	return method, nil
}
