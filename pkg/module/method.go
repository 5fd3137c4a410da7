// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package module

import (
	"fmt"
	"strings"

	"github.com/gomlx/symbolic/pkg/core/graph"
)

// Method is the declaration of a computation over a Module's members: a list of inputs, a list of
// outputs and a list of updates of member Variables.
//
// Inputs that are member Variables are optional when calling the compiled method (they default to the
// member's current value); any other input is a required argument.
//
// All outputs and updates are computed from the values before the call, and only then updates are
// written.
//
// A Method is immutable: WithOutputs and WithUpdate return modified copies.
type Method struct {
	inputs  []*graph.Node
	outputs []*graph.Node
	updates []graph.Update
}

// NewMethod creates a Method with the given inputs, and no outputs or updates.
func NewMethod(inputs ...*graph.Node) *Method {
	return &Method{inputs: append([]*graph.Node(nil), inputs...)}
}

func (m *Method) clone() *Method {
	return &Method{
		inputs:  append([]*graph.Node(nil), m.inputs...),
		outputs: append([]*graph.Node(nil), m.outputs...),
		updates: append([]graph.Update(nil), m.updates...),
	}
}

// WithOutputs returns a copy of the method with the given outputs (replacing any previous ones).
func (m *Method) WithOutputs(outputs ...*graph.Node) *Method {
	newM := m.clone()
	newM.outputs = append([]*graph.Node(nil), outputs...)
	return newM
}

// WithUpdate returns a copy of the method that also updates target with value.
// If target was already updated, its update expression is replaced.
func (m *Method) WithUpdate(target, value *graph.Node) *Method {
	newM := m.clone()
	for ii, update := range newM.updates {
		if update.Target == target {
			newM.updates[ii].Value = value
			return newM
		}
	}
	newM.updates = append(newM.updates, graph.Update{Target: target, Value: value})
	return newM
}

// Inputs returns a copy of the method's inputs.
func (m *Method) Inputs() []*graph.Node { return append([]*graph.Node(nil), m.inputs...) }

// Outputs returns a copy of the method's outputs.
func (m *Method) Outputs() []*graph.Node { return append([]*graph.Node(nil), m.outputs...) }

// Updates returns a copy of the method's updates, in declaration order.
func (m *Method) Updates() []graph.Update { return append([]graph.Update(nil), m.updates...) }

// String implements fmt.Stringer.
func (m *Method) String() string {
	var parts []string
	for _, update := range m.updates {
		parts = append(parts, fmt.Sprintf("%s <- %s", update.Target, update.Value))
	}
	return fmt.Sprintf("Method(inputs=%v, outputs=%v, updates=[%s])", m.inputs, m.outputs, strings.Join(parts, "; "))
}
