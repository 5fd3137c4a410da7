// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hcldecl

import (
	"strings"

	"github.com/gomlx/symbolic/pkg/core/graph"
	"github.com/gomlx/symbolic/pkg/core/tensors"
	"github.com/gomlx/symbolic/pkg/module"
	"github.com/gomlx/symbolic/pkg/support/xslices"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
)

// Function that can be called in HCL expressions.
type Function struct {
	NumArgs int
	Build   func(args ...*graph.Node) *graph.Node
}

// Functions available in HCL expressions.
var Functions = map[string]Function{
	"exp":    {1, func(args ...*graph.Node) *graph.Node { return graph.Exp(args[0]) }},
	"log":    {1, func(args ...*graph.Node) *graph.Node { return graph.Log(args[0]) }},
	"sqrt":   {1, func(args ...*graph.Node) *graph.Node { return graph.Sqrt(args[0]) }},
	"abs":    {1, func(args ...*graph.Node) *graph.Node { return graph.Abs(args[0]) }},
	"square": {1, func(args ...*graph.Node) *graph.Node { return graph.Square(args[0]) }},
	"sum":    {1, func(args ...*graph.Node) *graph.Node { return graph.ReduceSum(args[0]) }},
	"max":    {2, func(args ...*graph.Node) *graph.Node { return graph.Max(args[0], args[1]) }},
	"min":    {2, func(args ...*graph.Node) *graph.Node { return graph.Min(args[0], args[1]) }},
}

var binaryOps = map[*hclsyntax.Operation]func(x, y *graph.Node) *graph.Node{
	hclsyntax.OpAdd:      graph.Add,
	hclsyntax.OpSubtract: graph.Sub,
	hclsyntax.OpMultiply: graph.Mul,
	hclsyntax.OpDivide:   graph.Div,
}

// scope resolves the references of the expressions declared in a Module.
type scope struct {
	module *module.Module

	// locals are the inputs of the method being declared, they shadow the declarations of module.
	locals map[string]*graph.Node
}

// walk follows the nested modules of a dotted name, returning the last module and the last name part.
func (s *scope) walk(name string) (*module.Module, string) {
	parts := strings.Split(name, module.PathSeparator)
	m := s.module
	for _, part := range parts[:len(parts)-1] {
		m = m.Submodule(part)
		if m == nil {
			return nil, ""
		}
	}
	return m, parts[len(parts)-1]
}

// member returns the member Variable named name (possibly in a nested module), or nil.
func (s *scope) member(name string) *graph.Node {
	m, last := s.walk(name)
	if m == nil {
		return nil
	}
	return m.Member(last)
}

// resolve returns the node referred to by name: a method input, a member or a declared expression.
func (s *scope) resolve(name string) *graph.Node {
	if node, found := s.locals[name]; found {
		return node
	}
	m, last := s.walk(name)
	if m == nil {
		return nil
	}
	return m.Expression(last)
}

// lower converts an HCL expression to a graph node.
func (s *scope) lower(expr hcl.Expression) (*graph.Node, hcl.Diagnostics) {
	switch e := expr.(type) {
	case *hclsyntax.LiteralValueExpr:
		if !e.Val.Type().Equals(cty.Number) {
			return nil, hcl.Diagnostics{errorf(e.Range(), "Invalid literal",
				"Only numbers are supported in expressions, got %s.", e.Val.Type().FriendlyName())}
		}
		f, _ := e.Val.AsBigFloat().Float64()
		return graph.Scalar(f), nil

	case *hclsyntax.ScopeTraversalExpr:
		name, diags := traversalName(e.Traversal)
		if diags.HasErrors() {
			return nil, diags
		}
		node := s.resolve(name)
		if node == nil {
			return nil, hcl.Diagnostics{errorf(e.Range(), "Unknown reference",
				"%q is not a member, an expression or an input of module %q.", name, s.module.Name())}
		}
		return node, nil

	case *hclsyntax.ParenthesesExpr:
		return s.lower(e.Expression)

	case *hclsyntax.UnaryOpExpr:
		if e.Op != hclsyntax.OpNegate {
			return nil, hcl.Diagnostics{errorf(e.Range(), "Unsupported operator",
				"Only arithmetic negation is supported as a unary operator.")}
		}
		x, diags := s.lower(e.Val)
		if diags.HasErrors() {
			return nil, diags
		}
		return graph.Neg(x), nil

	case *hclsyntax.BinaryOpExpr:
		op, found := binaryOps[e.Op]
		if !found {
			return nil, hcl.Diagnostics{errorf(e.Range(), "Unsupported operator",
				"Only the operators + - * / are supported.")}
		}
		x, diags := s.lower(e.LHS)
		if diags.HasErrors() {
			return nil, diags
		}
		y, diags := s.lower(e.RHS)
		if diags.HasErrors() {
			return nil, diags
		}
		return op(x, y), nil

	case *hclsyntax.FunctionCallExpr:
		fn, found := Functions[e.Name]
		if !found {
			return nil, hcl.Diagnostics{errorf(e.NameRange, "Unknown function",
				"There is no function named %q, available functions: %v.", e.Name, xslices.SortedKeys(Functions))}
		}
		if e.ExpandFinal || len(e.Args) != fn.NumArgs {
			return nil, hcl.Diagnostics{errorf(e.Range(), "Invalid arguments",
				"Function %q takes %d argument(s), got %d.", e.Name, fn.NumArgs, len(e.Args))}
		}
		args := make([]*graph.Node, 0, len(e.Args))
		for _, argExpr := range e.Args {
			arg, diags := s.lower(argExpr)
			if diags.HasErrors() {
				return nil, diags
			}
			args = append(args, arg)
		}
		return fn.Build(args...), nil
	}

	// Anything else must be a constant, e.g. a list of numbers.
	if len(expr.Variables()) > 0 {
		return nil, hcl.Diagnostics{errorf(expr.Range(), "Unsupported expression",
			"Only arithmetic expressions are supported.")}
	}
	value, diags := staticValue(expr)
	if diags.HasErrors() {
		return nil, diags
	}
	if _, err := tensors.FromValue(value); err != nil {
		return nil, hcl.Diagnostics{errorf(expr.Range(), "Invalid constant", "%v", err)}
	}
	return graph.Const(value), nil
}

// traversalName joins the attribute names of a traversal, e.g. "inner.counter".
func traversalName(traversal hcl.Traversal) (string, hcl.Diagnostics) {
	parts := make([]string, 0, len(traversal))
	for _, step := range traversal {
		switch t := step.(type) {
		case hcl.TraverseRoot:
			parts = append(parts, t.Name)
		case hcl.TraverseAttr:
			parts = append(parts, t.Name)
		default:
			return "", hcl.Diagnostics{errorf(step.SourceRange(), "Unsupported reference",
				"Only dotted names are supported in references.")}
		}
	}
	return strings.Join(parts, module.PathSeparator), nil
}

// referenceName returns the name of an expression that must be a reference.
func referenceName(expr hcl.Expression) (string, hcl.Diagnostics) {
	traversal, diags := hcl.AbsTraversalForExpr(expr)
	if diags.HasErrors() {
		return "", diags
	}
	return traversalName(traversal)
}

// keyName returns the name used as key in an object, either a reference or a quoted string.
func keyName(expr hcl.Expression) (string, hcl.Diagnostics) {
	if traversal, diags := hcl.AbsTraversalForExpr(expr); !diags.HasErrors() {
		return traversalName(traversal)
	}
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return "", diags
	}
	if v.IsNull() || !v.IsKnown() || !v.Type().Equals(cty.String) {
		return "", hcl.Diagnostics{errorf(expr.Range(), "Invalid key", "Keys must be member names.")}
	}
	return v.AsString(), nil
}

// isAbsent reports whether an optional attribute was not set.
func isAbsent(expr hcl.Expression) bool {
	if expr == nil {
		return true
	}
	if len(expr.Variables()) > 0 {
		return false
	}
	v, diags := expr.Value(nil)
	return !diags.HasErrors() && v.IsNull()
}

// staticValue evaluates an expression without references to a Go value (float64 or nested []any).
func staticValue(expr hcl.Expression) (any, hcl.Diagnostics) {
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	value, err := ctyToGo(v)
	if err != nil {
		return nil, hcl.Diagnostics{errorf(expr.Range(), "Invalid value", "%v", err)}
	}
	return value, nil
}

func ctyToGo(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, errors.New("value is not known")
	}
	ty := v.Type()
	switch {
	case ty.Equals(cty.Number):
		f, _ := v.AsBigFloat().Float64()
		return f, nil
	case ty.IsListType() || ty.IsTupleType():
		values := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			value, err := ctyToGo(elem)
			if err != nil {
				return nil, err
			}
			if value == nil {
				return nil, errors.New("null element in list")
			}
			values = append(values, value)
		}
		return values, nil
	}
	return nil, errors.Errorf("unsupported value of type %s, only numbers and lists of numbers", ty.FriendlyName())
}
