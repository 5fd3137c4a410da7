// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/symbolic/pkg/core/tensors"
)

// Variable creates a new free Variable: a leaf node whose value is given when executing.
// The name can be empty and set later with Node.SetName.
func Variable(name string) *Node {
	return &Node{id: newNodeId(), nodeType: NodeTypeVariable, name: name}
}

// Const creates a constant node from any value accepted by tensors.FromValue.
// It panics if the value cannot be converted.
func Const(value any) *Node {
	t, err := tensors.FromValue(value)
	if err != nil {
		panic(err)
	}
	return &Node{id: newNodeId(), nodeType: NodeTypeConstant, value: t.Clone()}
}

// Scalar creates a scalar constant.
func Scalar(value float64) *Node {
	return Const(value)
}

func newOp(nodeType NodeType, inputs ...*Node) *Node {
	for ii, input := range inputs {
		if input == nil {
			exceptions.Panicf("%s: input #%d is nil", nodeType, ii)
		}
	}
	return &Node{id: newNodeId(), nodeType: nodeType, inputNodes: inputs}
}

// Add returns the element-wise sum x + y.
func Add(x, y *Node) *Node { return newOp(NodeTypeAdd, x, y) }

// Sub returns the element-wise difference x - y.
func Sub(x, y *Node) *Node { return newOp(NodeTypeSub, x, y) }

// Mul returns the element-wise product x * y.
func Mul(x, y *Node) *Node { return newOp(NodeTypeMul, x, y) }

// Div returns the element-wise quotient x / y.
func Div(x, y *Node) *Node { return newOp(NodeTypeDiv, x, y) }

// Max returns the element-wise maximum.
func Max(x, y *Node) *Node { return newOp(NodeTypeMax, x, y) }

// Min returns the element-wise minimum.
func Min(x, y *Node) *Node { return newOp(NodeTypeMin, x, y) }

// Neg returns -x.
func Neg(x *Node) *Node { return newOp(NodeTypeNeg, x) }

// Abs returns |x|.
func Abs(x *Node) *Node { return newOp(NodeTypeAbs, x) }

// Exp returns e^x.
func Exp(x *Node) *Node { return newOp(NodeTypeExp, x) }

// Log returns the natural logarithm of x.
func Log(x *Node) *Node { return newOp(NodeTypeLog, x) }

// Sqrt returns the square root of x.
func Sqrt(x *Node) *Node { return newOp(NodeTypeSqrt, x) }

// Square returns x*x.
func Square(x *Node) *Node { return newOp(NodeTypeSquare, x) }

// ReduceSum returns the scalar sum of all elements of x.
func ReduceSum(x *Node) *Node { return newOp(NodeTypeReduceSum, x) }

// AddScalar returns x + value.
func AddScalar(x *Node, value float64) *Node { return Add(x, Scalar(value)) }

// MulScalar returns x * value.
func MulScalar(x *Node, value float64) *Node { return Mul(x, Scalar(value)) }
