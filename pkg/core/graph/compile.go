// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symbolic/pkg/core/tensors"
	"github.com/gomlx/symbolic/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrUnboundVariable is returned (wrapped) by Compile when an output or update expression depends on
// a Variable that is not one of the inputs.
var ErrUnboundVariable = errors.New("unbound variable")

// Update describes the new value of a Variable computed by an Executable.
type Update struct {
	// Target is the Variable being updated.
	Target *Node

	// Value is the expression of the new value.
	Value *Node
}

// Executable is a compiled computation: it evaluates a set of outputs and updates given the values of
// its input Variables.
//
// All outputs and updates are computed from the same input values (a consistent snapshot): updates
// are returned, not applied, so it is up to the caller to store them.
//
// An Executable is immutable and safe for concurrent use.
type Executable struct {
	name    string
	inputs  []*Node
	outputs []*Node
	updates []Update

	// program holds every non-input node needed, in topological order.
	program []*Node

	// slots maps each node (inputs included) to its position in the execution values.
	slots map[*Node]int
}

// Compile the outputs and updates expressions, given the list of input Variables.
//
// Inputs must be distinct Variables. Every Variable that outputs or update values depend on must be
// listed in inputs, otherwise it fails with an error wrapping ErrUnboundVariable. Update targets
// must be distinct Variables, but they don't need to be inputs.
//
// The name is only used for error messages and logging.
func Compile(name string, inputs, outputs []*Node, updates []Update) (*Executable, error) {
	var e *Executable
	err := exceptions.TryCatch[error](func() {
		e = compile(name, inputs, outputs, updates)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "graph.Compile(%q)", name)
	}
	if klog.V(2).Enabled() {
		klog.Infof("graph.Compile(%q): %d inputs, %d outputs, %d updates, %d ops",
			name, len(inputs), len(outputs), len(updates), len(e.program))
	}
	return e, nil
}

func compile(name string, inputs, outputs []*Node, updates []Update) *Executable {
	e := &Executable{
		name:    name,
		inputs:  append([]*Node(nil), inputs...),
		outputs: append([]*Node(nil), outputs...),
		updates: append([]Update(nil), updates...),
		slots:   make(map[*Node]int),
	}

	for ii, input := range inputs {
		if !input.IsVariable() {
			exceptions.Panicf("input #%d (%s) is not a Variable", ii, input)
		}
		if _, found := e.slots[input]; found {
			exceptions.Panicf("input #%d (%s) given more than once", ii, input)
		}
		e.slots[input] = ii
	}

	targets := sets.Make[*Node]()
	for ii, update := range updates {
		if !update.Target.IsVariable() {
			exceptions.Panicf("update #%d: target %s is not a Variable", ii, update.Target)
		}
		if update.Value == nil {
			exceptions.Panicf("update #%d: value for %s is nil", ii, update.Target)
		}
		if targets.Has(update.Target) {
			exceptions.Panicf("update #%d: Variable %s updated more than once", ii, update.Target)
		}
		targets.Insert(update.Target)
	}

	var unbound sets.Ordered[*Node]
	visited := sets.Make[*Node]()
	var visit func(node *Node)
	visit = func(node *Node) {
		if visited.Has(node) {
			return
		}
		visited.Insert(node)
		if _, isInput := e.slots[node]; isInput {
			return
		}
		if node.IsVariable() {
			unbound.Insert(node)
			return
		}
		for _, input := range node.inputNodes {
			visit(input)
		}
		e.slots[node] = len(e.slots)
		e.program = append(e.program, node)
	}
	for ii, output := range outputs {
		if output == nil {
			exceptions.Panicf("output #%d is nil", ii)
		}
		visit(output)
	}
	for _, update := range updates {
		visit(update.Value)
	}

	if unbound.Len() > 0 {
		names := make([]string, 0, unbound.Len())
		for _, node := range unbound.Elements() {
			names = append(names, node.String())
		}
		panic(errors.Wrapf(ErrUnboundVariable, "%s not given as input(s)", strings.Join(names, ", ")))
	}
	return e
}

// Name given at compilation.
func (e *Executable) Name() string { return e.name }

// Inputs returns the input Variables, in the order their values must be given to Run.
func (e *Executable) Inputs() []*Node { return append([]*Node(nil), e.inputs...) }

// NumOutputs returns the number of outputs returned by Run.
func (e *Executable) NumOutputs() int { return len(e.outputs) }

// Updates returns the compiled updates, in the order their values are returned by Run.
func (e *Executable) Updates() []Update { return append([]Update(nil), e.updates...) }

// NumOps returns the number of nodes evaluated per execution (constants included).
func (e *Executable) NumOps() int { return len(e.program) }

// Run executes the computation with the given input values, one per input Variable.
//
// It returns the values of the outputs and of the updates (in the order given to Compile).
// Run doesn't modify its inputs: updates are just returned.
func (e *Executable) Run(inputs []*tensors.Tensor) (outputs, updates []*tensors.Tensor, err error) {
	if len(inputs) != len(e.inputs) {
		return nil, nil, errors.Errorf("Executable(%q).Run: expected %d inputs, got %d",
			e.name, len(e.inputs), len(inputs))
	}
	values := make([]*tensors.Tensor, len(e.slots))
	for ii, input := range inputs {
		if input == nil {
			return nil, nil, errors.Errorf("Executable(%q).Run: input #%d (%s) is nil", e.name, ii, e.inputs[ii])
		}
		values[ii] = input
	}
	for _, node := range e.program {
		args := make([]*tensors.Tensor, len(node.inputNodes))
		for ii, input := range node.inputNodes {
			args[ii] = values[e.slots[input]]
		}
		value, err := evalNode(node, args)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "Executable(%q).Run: evaluating %s", e.name, node)
		}
		values[e.slots[node]] = value
	}

	result := func(node *Node) *tensors.Tensor {
		value := values[e.slots[node]]
		if node.IsLeaf() {
			// Leaves are shared with the caller (or the constant): return a copy.
			value = value.Clone()
		}
		return value
	}
	outputs = make([]*tensors.Tensor, len(e.outputs))
	for ii, output := range e.outputs {
		outputs[ii] = result(output)
	}
	updates = make([]*tensors.Tensor, len(e.updates))
	for ii, update := range e.updates {
		updates[ii] = result(update.Value)
	}
	return outputs, updates, nil
}

// String returns a listing of the compiled program, useful for debugging.
func (e *Executable) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Executable %q:\n", e.name)
	for ii, input := range e.inputs {
		fmt.Fprintf(&sb, "\tinput #%d: %s\n", ii, input)
	}
	for ii, output := range e.outputs {
		fmt.Fprintf(&sb, "\toutput #%d: %s\n", ii, output)
	}
	for _, update := range e.updates {
		fmt.Fprintf(&sb, "\tupdate %s <- %s\n", update.Target, update.Value)
	}
	return sb.String()
}
