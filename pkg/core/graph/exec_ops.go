// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"math"

	"github.com/gomlx/symbolic/pkg/core/tensors"
	"github.com/pkg/errors"
)

func evalNode(node *Node, args []*tensors.Tensor) (*tensors.Tensor, error) {
	switch node.nodeType {
	case NodeTypeConstant:
		return node.value, nil
	case NodeTypeAdd:
		return execBinary(args[0], args[1], func(x, y float64) float64 { return x + y })
	case NodeTypeSub:
		return execBinary(args[0], args[1], func(x, y float64) float64 { return x - y })
	case NodeTypeMul:
		return execBinary(args[0], args[1], func(x, y float64) float64 { return x * y })
	case NodeTypeDiv:
		return execBinary(args[0], args[1], func(x, y float64) float64 { return x / y })
	case NodeTypeMax:
		return execBinary(args[0], args[1], math.Max)
	case NodeTypeMin:
		return execBinary(args[0], args[1], math.Min)
	case NodeTypeNeg:
		return execUnary(args[0], func(x float64) float64 { return -x }), nil
	case NodeTypeAbs:
		return execUnary(args[0], math.Abs), nil
	case NodeTypeExp:
		return execUnary(args[0], math.Exp), nil
	case NodeTypeLog:
		return execUnary(args[0], math.Log), nil
	case NodeTypeSqrt:
		return execUnary(args[0], math.Sqrt), nil
	case NodeTypeSquare:
		return execUnary(args[0], func(x float64) float64 { return x * x }), nil
	case NodeTypeReduceSum:
		var sum float64
		for _, v := range args[0].Flat() {
			sum += v
		}
		return tensors.FromScalar(sum), nil
	default:
		return nil, errors.Errorf("node type %s cannot be executed", node.nodeType)
	}
}

func execUnary(x *tensors.Tensor, fn func(float64) float64) *tensors.Tensor {
	flat := make([]float64, x.Size())
	for ii, v := range x.Flat() {
		flat[ii] = fn(v)
	}
	return tensors.FromFlatDataAndDimensions(flat, x.Dimensions()...)
}

// execBinary applies fn element-wise. Operands must have the same dimensions, or one of them must be a scalar.
func execBinary(x, y *tensors.Tensor, fn func(x, y float64) float64) (*tensors.Tensor, error) {
	switch {
	case x.SameDimensions(y):
		flat := make([]float64, x.Size())
		yFlat := y.Flat()
		for ii, v := range x.Flat() {
			flat[ii] = fn(v, yFlat[ii])
		}
		return tensors.FromFlatDataAndDimensions(flat, x.Dimensions()...), nil
	case y.IsScalar():
		yValue := y.Flat()[0]
		return execUnary(x, func(v float64) float64 { return fn(v, yValue) }), nil
	case x.IsScalar():
		xValue := x.Flat()[0]
		return execUnary(y, func(v float64) float64 { return fn(xValue, v) }), nil
	default:
		return nil, errors.Errorf("incompatible dimensions %v and %v", x.Dimensions(), y.Dimensions())
	}
}
