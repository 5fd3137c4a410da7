// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symbolic/pkg/core/tensors"
)

// NodeType enumerates the kinds of nodes.
type NodeType int

const (
	NodeTypeInvalid NodeType = iota
	NodeTypeVariable
	NodeTypeConstant
	NodeTypeAdd
	NodeTypeSub
	NodeTypeMul
	NodeTypeDiv
	NodeTypeMax
	NodeTypeMin
	NodeTypeNeg
	NodeTypeAbs
	NodeTypeExp
	NodeTypeLog
	NodeTypeSqrt
	NodeTypeSquare
	NodeTypeReduceSum
)

var nodeTypeNames = [...]string{
	NodeTypeInvalid:   "Invalid",
	NodeTypeVariable:  "Variable",
	NodeTypeConstant:  "Constant",
	NodeTypeAdd:       "Add",
	NodeTypeSub:       "Sub",
	NodeTypeMul:       "Mul",
	NodeTypeDiv:       "Div",
	NodeTypeMax:       "Max",
	NodeTypeMin:       "Min",
	NodeTypeNeg:       "Neg",
	NodeTypeAbs:       "Abs",
	NodeTypeExp:       "Exp",
	NodeTypeLog:       "Log",
	NodeTypeSqrt:      "Sqrt",
	NodeTypeSquare:    "Square",
	NodeTypeReduceSum: "ReduceSum",
}

// String implements fmt.Stringer.
func (t NodeType) String() string {
	if t < 0 || int(t) >= len(nodeTypeNames) {
		return fmt.Sprintf("NodeType(%d)", int(t))
	}
	return nodeTypeNames[t]
}

// Node represents a symbolic value: a Variable, a constant or the result of an operation.
//
// Nodes are immutable, except for the name, which can be set once on a Variable that was created
// without one (see SetName).
//
// Always use it by reference (pointer), its identity is its pointer.
type Node struct {
	id       NodeId
	nodeType NodeType
	name     string

	// inputNodes are the edges of the computation graph.
	inputNodes []*Node

	// value for NodeTypeConstant.
	value *tensors.Tensor
}

// Id is the unique id of this node.
func (n *Node) Id() NodeId {
	return n.id
}

// Type of the node.
func (n *Node) Type() NodeType {
	if n == nil {
		return NodeTypeInvalid
	}
	return n.nodeType
}

// Name of the node. Only Variables have names, and they may be empty.
func (n *Node) Name() string {
	if n == nil {
		return ""
	}
	return n.name
}

// SetName sets the name of a Variable. It panics if the node is not a Variable, or if the Variable
// already has a different name.
func (n *Node) SetName(name string) {
	n.AssertValid()
	if n.nodeType != NodeTypeVariable {
		exceptions.Panicf("SetName(%q): node %s is not a Variable", name, n)
	}
	if n.name != "" && n.name != name {
		exceptions.Panicf("SetName(%q): Variable already named %q", name, n.name)
	}
	n.name = name
}

// IsVariable returns whether the node is a free Variable (a leaf fed at execution time), as opposed to a
// constant or the result of an operation.
func (n *Node) IsVariable() bool {
	return n != nil && n.nodeType == NodeTypeVariable
}

// IsLeaf returns whether the node has no inputs: Variables and constants.
func (n *Node) IsLeaf() bool {
	return n != nil && len(n.inputNodes) == 0
}

// Inputs returns the input nodes of an operation. The returned slice must not be modified.
func (n *Node) Inputs() []*Node {
	if n == nil {
		return nil
	}
	return n.inputNodes
}

// ConstantValue returns the value of a constant node, or nil for other node types.
func (n *Node) ConstantValue() *tensors.Tensor {
	if n == nil || n.nodeType != NodeTypeConstant {
		return nil
	}
	return n.value
}

// AssertValid panics if n is nil.
func (n *Node) AssertValid() {
	if n == nil {
		exceptions.Panicf("graph.Node is nil")
	}
}

// String implements fmt.Stringer. It prints the expression rooted at the node.
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	switch n.nodeType {
	case NodeTypeVariable:
		if n.name == "" {
			return fmt.Sprintf("#%d", n.id)
		}
		return n.name
	case NodeTypeConstant:
		return n.value.String()
	case NodeTypeAdd, NodeTypeSub, NodeTypeMul, NodeTypeDiv:
		op := map[NodeType]string{NodeTypeAdd: "+", NodeTypeSub: "-", NodeTypeMul: "*", NodeTypeDiv: "/"}[n.nodeType]
		return fmt.Sprintf("(%s %s %s)", n.inputNodes[0], op, n.inputNodes[1])
	case NodeTypeNeg:
		return fmt.Sprintf("-%s", n.inputNodes[0])
	default:
		parts := make([]string, len(n.inputNodes))
		for ii, input := range n.inputNodes {
			parts[ii] = input.String()
		}
		return fmt.Sprintf("%s(%s)", n.nodeType, strings.Join(parts, ", "))
	}
}
