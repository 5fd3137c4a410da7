// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"math"
	"testing"

	. "github.com/gomlx/symbolic/pkg/core/graph"
	"github.com/gomlx/symbolic/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runOne compiles a single output expression over the given inputs and executes it.
func runOne(t *testing.T, inputs []*Node, values []any, output *Node) *tensors.Tensor {
	t.Helper()
	e, err := Compile(t.Name(), inputs, []*Node{output}, nil)
	require.NoError(t, err)
	inputValues := make([]*tensors.Tensor, len(values))
	for ii, v := range values {
		inputValues[ii] = tensors.FromAnyValue(v)
	}
	outputs, updates, err := e.Run(inputValues)
	require.NoError(t, err)
	require.Empty(t, updates)
	require.Len(t, outputs, 1)
	return outputs[0]
}

func TestOps(t *testing.T) {
	x, y := Variable("x"), Variable("y")
	testCases := []struct {
		name   string
		output *Node
		x, y   any
		want   any
	}{
		{"Add", Add(x, y), 1.0, 2.0, 3.0},
		{"Sub", Sub(x, y), 1.0, 2.0, -1.0},
		{"Mul", Mul(x, y), []float64{1, 2}, 3.0, []float64{3, 6}},
		{"Div", Div(x, y), 1.0, []float64{2, 4}, []float64{0.5, 0.25}},
		{"Max", Max(x, y), []float64{1, 5}, []float64{4, 2}, []float64{4, 5}},
		{"Min", Min(x, y), []float64{1, 5}, []float64{4, 2}, []float64{1, 2}},
		{"Neg", Neg(x), 2.0, 0.0, -2.0},
		{"Abs", Abs(x), []float64{-1, 2}, 0.0, []float64{1, 2}},
		{"Exp", Exp(x), 0.0, 0.0, 1.0},
		{"Log", Log(x), 1.0, 0.0, 0.0},
		{"Sqrt", Sqrt(x), 9.0, 0.0, 3.0},
		{"Square", Square(x), []float64{-3}, 0.0, []float64{9}},
		{"ReduceSum", ReduceSum(x), [][]float64{{1, 2}, {3, 4}}, 0.0, 10.0},
		{"AddScalar", AddScalar(x, 0.5), 1.0, 0.0, 1.5},
		{"MulScalar", MulScalar(x, 2), [][]float64{{1}, {2}}, 0.0, [][]float64{{2}, {4}}},
		{"Const", Add(Const([]float64{1, 2}), x), 1.0, 0.0, []float64{2, 3}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := runOne(t, []*Node{x, y}, []any{tc.x, tc.y}, tc.output)
			want := tensors.FromAnyValue(tc.want)
			require.Truef(t, want.InDelta(got, 1e-9), "%s: got %s, want %s", tc.output, got, want)
		})
	}
}

func TestIncompatibleDimensions(t *testing.T) {
	x, y := Variable("x"), Variable("y")
	e, err := Compile("bad", []*Node{x, y}, []*Node{Add(x, y)}, nil)
	require.NoError(t, err)
	_, _, err = e.Run([]*tensors.Tensor{
		tensors.FromAnyValue([]float64{1, 2}),
		tensors.FromAnyValue([]float64{1, 2, 3}),
	})
	require.ErrorContains(t, err, "incompatible dimensions")
}

func TestCompileErrors(t *testing.T) {
	x, y := Variable("x"), Variable("y")

	_, err := Compile("unbound", []*Node{x}, []*Node{Add(x, y)}, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnboundVariable), "got %+v", err)
	require.ErrorContains(t, err, "y")

	_, err = Compile("dup-input", []*Node{x, x}, []*Node{x}, nil)
	require.ErrorContains(t, err, "more than once")

	_, err = Compile("non-variable-input", []*Node{Add(x, y)}, nil, nil)
	require.ErrorContains(t, err, "not a Variable")

	_, err = Compile("dup-update", []*Node{x}, nil, []Update{{Target: x, Value: x}, {Target: x, Value: Neg(x)}})
	require.ErrorContains(t, err, "updated more than once")

	_, err = Compile("non-variable-target", []*Node{x}, nil, []Update{{Target: Neg(x), Value: x}})
	require.ErrorContains(t, err, "not a Variable")

	require.Panics(t, func() { _ = Add(x, nil) })
}

func TestUpdatesFromSnapshot(t *testing.T) {
	// Swapping two variables only works if both updates read the values before the call.
	a, b := Variable("a"), Variable("b")
	e, err := Compile("swap", []*Node{a, b}, []*Node{Add(a, b)}, []Update{{Target: a, Value: b}, {Target: b, Value: a}})
	require.NoError(t, err)
	outputs, updates, err := e.Run([]*tensors.Tensor{tensors.FromScalar(1), tensors.FromScalar(2)})
	require.NoError(t, err)
	assert.Equal(t, 3.0, outputs[0].Scalar())
	assert.Equal(t, 2.0, updates[0].Scalar())
	assert.Equal(t, 1.0, updates[1].Scalar())
}

func TestSharedSubexpression(t *testing.T) {
	x := Variable("x")
	shared := Exp(x)
	sum := Add(shared, shared)
	e, err := Compile("shared", []*Node{x}, []*Node{sum, shared}, nil)
	require.NoError(t, err)
	// Only Exp and Add are evaluated: the shared node is evaluated once.
	assert.Equal(t, 2, e.NumOps())
	outputs, _, err := e.Run([]*tensors.Tensor{tensors.FromScalar(0)})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, outputs[0].Scalar(), 1e-12)
	assert.InDelta(t, 1.0, outputs[1].Scalar(), 1e-12)
}

func TestRunErrors(t *testing.T) {
	x := Variable("x")
	e, err := Compile("identity", []*Node{x}, []*Node{x}, nil)
	require.NoError(t, err)
	_, _, err = e.Run(nil)
	require.ErrorContains(t, err, "expected 1 inputs")
	_, _, err = e.Run([]*tensors.Tensor{nil})
	require.ErrorContains(t, err, "is nil")

	// Outputs that are inputs are copies.
	input := tensors.FromScalar(math.Pi)
	outputs, _, err := e.Run([]*tensors.Tensor{input})
	require.NoError(t, err)
	require.NotSame(t, input, outputs[0])
	require.True(t, input.Equal(outputs[0]))
}

func TestNames(t *testing.T) {
	v := Variable("")
	assert.True(t, v.IsVariable())
	assert.True(t, v.IsLeaf())
	v.SetName("state")
	assert.Equal(t, "state", v.Name())
	v.SetName("state") // Same name is a no-op.
	assert.Panics(t, func() { v.SetName("other") })
	assert.Panics(t, func() { Add(v, v).SetName("sum") })

	assert.Equal(t, "(state + 1)", AddScalar(v, 1).String())
	assert.Equal(t, "Exp(state)", Exp(v).String())
	assert.False(t, Const(1).IsVariable())
	assert.Equal(t, NodeTypeAdd, Add(v, v).Type())
	assert.Equal(t, "ReduceSum", NodeTypeReduceSum.String())
}
