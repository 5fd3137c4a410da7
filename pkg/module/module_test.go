// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package module_test

import (
	"testing"

	"github.com/gomlx/symbolic/pkg/core/graph"
	"github.com/gomlx/symbolic/pkg/core/tensors"
	. "github.com/gomlx/symbolic/pkg/module"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newAccumulator returns a Module with a "state" member, and methods "add" and "sub" that
// update it with a required input "x".
func newAccumulator() *Module {
	state, x := graph.Variable(""), graph.Variable("x")
	acc := New("accumulator")
	acc.MustDeclareMember("state", state)
	acc.MustDeclareMethod("add", NewMethod(x).WithUpdate(state, graph.Add(state, x)))
	acc.MustDeclareMethod("sub", NewMethod(x).WithUpdate(state, graph.Sub(state, x)))
	return acc
}

func scalarAt(t *testing.T, inst *Instance, path string) float64 {
	t.Helper()
	value, err := inst.Get(path)
	require.NoError(t, err)
	require.NotNilf(t, value, "%q has no value", path)
	return value.Scalar()
}

func TestAccumulator(t *testing.T) {
	acc := newAccumulator()
	inst, err := acc.Make(map[string]any{"state": 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, scalarAt(t, inst, "state"))

	outputs, err := inst.Call("add", 2)
	require.NoError(t, err)
	assert.Empty(t, outputs)
	assert.Equal(t, 2.0, scalarAt(t, inst, "state"))

	inst.MustSet("state", 39.99)
	_, err = inst.Call("add", 0.01)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, scalarAt(t, inst, "state"), 1e-9)

	_, err = inst.Call("sub", 20)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, scalarAt(t, inst, "state"), 1e-9)

	// The member Variable took the name it was declared with.
	assert.Equal(t, "state", acc.Member("state").Name())
	assert.Equal(t, []string{"state", "add", "sub"}, inst.Names())
}

func TestAbsentValue(t *testing.T) {
	inst, err := newAccumulator().Make(nil)
	require.NoError(t, err)
	value, err := inst.Get("state")
	require.NoError(t, err)
	assert.Nil(t, value)

	_, err = inst.Call("add", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoValue), "got %+v", err)

	require.NoError(t, inst.Set("state", 1))
	require.NoError(t, inst.Set("state", nil))
	got, err := inst.Value("state")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIndependentInstances(t *testing.T) {
	acc := newAccumulator()
	first := acc.MustMake(map[string]any{"state": 1})
	second := acc.MustMake(map[string]any{"state": 1})
	assert.NotEqual(t, first.ID(), second.ID())

	_, err := first.Call("add", 10)
	require.NoError(t, err)
	assert.Equal(t, 11.0, scalarAt(t, first, "state"))
	assert.Equal(t, 1.0, scalarAt(t, second, "state"))
}

func TestOutputsAndUpdatesReadTheSameSnapshot(t *testing.T) {
	a, b := graph.Variable("a"), graph.Variable("b")
	m := New("pair")
	m.MustDeclareMember("a", a)
	m.MustDeclareMember("b", b)
	m.MustDeclareMethod("swap", NewMethod().
		WithOutputs(a, graph.Add(a, b)).
		WithUpdate(a, b).
		WithUpdate(b, a))
	inst := m.MustMake(map[string]any{"a": 1, "b": 2})

	bm, err := inst.Method("swap")
	require.NoError(t, err)
	outputs := bm.Call()
	require.Len(t, outputs, 2)
	assert.Equal(t, 1.0, outputs[0].Scalar())
	assert.Equal(t, 3.0, outputs[1].Scalar())
	assert.Equal(t, 2.0, scalarAt(t, inst, "a"))
	assert.Equal(t, 1.0, scalarAt(t, inst, "b"))
}

func TestMemberInputs(t *testing.T) {
	state := graph.Variable("state")
	m := New("doubler")
	m.MustDeclareMember("state", state)
	m.MustDeclareMethod("double", NewMethod(state).WithOutputs(graph.MulScalar(state, 2)))
	inst := m.MustMake(map[string]any{"state": 3})

	bm, err := inst.Method("double")
	require.NoError(t, err)
	assert.Empty(t, bm.RequiredInputs())
	assert.Equal(t, []string{"state"}, bm.Inputs())

	// Member inputs default to the current value.
	assert.Equal(t, 6.0, bm.Call1().Scalar())

	// Given a value, it's used and stored.
	outputs, err := bm.ExecWithMap(map[string]any{"state": 5})
	require.NoError(t, err)
	assert.Equal(t, 10.0, outputs[0].Scalar())
	assert.Equal(t, 5.0, scalarAt(t, inst, "state"))
}

func TestFailedCallLeavesStorageUnchanged(t *testing.T) {
	state, x := graph.Variable("state"), graph.Variable("x")
	m := New("vector")
	m.MustDeclareMember("state", state)
	m.MustDeclareMethod("add", NewMethod(x, state).WithUpdate(state, graph.Add(state, x)))
	inst := m.MustMake(map[string]any{"state": []float64{1, 2}})

	_, err := inst.Call("add", []float64{1, 2, 3})
	require.ErrorContains(t, err, "incompatible dimensions")
	assert.Equal(t, []float64{1, 2}, inst.MustGet("state").Value())

	// Overridden member inputs are not stored either.
	bm, err := inst.Method("add")
	require.NoError(t, err)
	_, err = bm.ExecWithMap(map[string]any{"x": []float64{1, 2, 3}, "state": []float64{0, 0}})
	require.Error(t, err)
	assert.Equal(t, []float64{1, 2}, inst.MustGet("state").Value())

	_, err = bm.ExecWithMap(map[string]any{"x": 1.0})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, inst.MustGet("state").Value())
}

func TestExecErrors(t *testing.T) {
	x, y := graph.Variable("x"), graph.Variable("y")
	m := New("two")
	m.MustDeclareMethod("both", NewMethod(x, y).WithOutputs(x, y))
	inst := m.MustMake(nil)
	bm, err := inst.Method("both")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, bm.RequiredInputs())

	_, err = bm.Exec(1)
	require.ErrorContains(t, err, "takes 2 argument(s)")
	_, err = bm.ExecWithMap(map[string]any{"x": 1})
	require.ErrorContains(t, err, "missing required input y")
	_, err = bm.ExecWithMap(map[string]any{"x": 1, "y": 2, "z": 3})
	require.ErrorContains(t, err, "no input named \"z\"")
	_, err = bm.Exec1(1, 2)
	require.ErrorContains(t, err, "Exec1 requires exactly one")
	_, err = bm.Exec("not a number", 2)
	require.Error(t, err)

	outputs, err := bm.ExecWithMap(map[string]any{"x": 1, "y": 2})
	require.NoError(t, err)
	assert.Equal(t, 1.0, outputs[0].Scalar())
	assert.Equal(t, 2.0, outputs[1].Scalar())

	_, err = inst.Method("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = inst.Get("both")
	assert.True(t, errors.Is(err, ErrNotFound))
}

// newNested returns an outer Module with a nested "inner" Module, whose member "counter" is also
// updated by a method of the outer Module.
func newNested() (outer, inner *Module) {
	counter := graph.Variable("counter")
	inner = New("inner")
	inner.MustDeclareMember("counter", counter)
	inner.MustDeclareMethod("inc", NewMethod().WithUpdate(counter, graph.AddScalar(counter, 1)))

	outer = New("outer")
	outer.MustDeclareSubmodule("inner", inner)
	outer.MustDeclareMethod("bump", NewMethod().
		WithOutputs(counter).
		WithUpdate(counter, graph.AddScalar(counter, 10)))
	return
}

func TestNestedModules(t *testing.T) {
	outer, _ := newNested()
	inst, err := outer.Make(map[string]any{"inner.counter": 0})
	require.NoError(t, err)

	_, err = inst.Call("inner.inc")
	require.NoError(t, err)
	assert.Equal(t, 1.0, scalarAt(t, inst, "inner.counter"))

	outputs, err := inst.Call("bump")
	require.NoError(t, err)
	assert.Equal(t, 1.0, outputs[0].Scalar())

	view, err := inst.Sub("inner")
	require.NoError(t, err)
	assert.Equal(t, "inner", view.Path())
	assert.Equal(t, inst.ID(), view.ID())
	assert.Equal(t, 11.0, scalarAt(t, view, "counter"))

	// Writes through the view are seen by the root.
	_, err = view.Call("inc")
	require.NoError(t, err)
	view.MustSet("counter", 100)
	assert.Equal(t, 100.0, scalarAt(t, inst, "inner.counter"))
	assert.Equal(t, []string{"counter", "inc"}, view.Names())

	// Initial values can be given by the Variable name, when unambiguous.
	inst2 := outer.MustMake(map[string]any{"counter": 5})
	assert.Equal(t, 5.0, scalarAt(t, inst2, "inner.counter"))
}

func TestSharedMember(t *testing.T) {
	shared := graph.Variable("")
	first, second := New("first"), New("second")
	first.MustDeclareMember("s", shared)
	second.MustDeclareMember("s", shared)
	second.MustDeclareMethod("inc", NewMethod().WithUpdate(shared, graph.AddScalar(shared, 1)))
	root := New("root")
	root.MustDeclareSubmodule("a", first)
	root.MustDeclareSubmodule("b", second)

	inst := root.MustMake(map[string]any{"a.s": 3})
	cells := inst.Cells()
	require.Len(t, cells, 1)
	assert.Equal(t, "a.s", cells[0].Path)
	assert.Equal(t, []string{"b.s"}, cells[0].Aliases)
	assert.Equal(t, 3.0, scalarAt(t, inst, "b.s"))

	_, err := inst.Call("b.inc")
	require.NoError(t, err)
	assert.Equal(t, 4.0, scalarAt(t, inst, "a.s"))

	viewB := inst.MustSub("b")
	cells = viewB.Cells()
	require.Len(t, cells, 1)
	assert.Equal(t, "s", cells[0].Path)
	assert.Empty(t, cells[0].Aliases)
}

func TestDeclarationConflicts(t *testing.T) {
	v, other := graph.Variable("v"), graph.Variable("other")
	m := New("conflicts")
	require.NoError(t, m.DeclareMember("v", v))

	testCases := []struct {
		name    string
		declare func() error
		wantErr error
	}{
		{"same member again", func() error { return m.DeclareMember("v", v) }, nil},
		{"member with different Variable", func() error { return m.DeclareMember("v", other) }, ErrConflict},
		{"member as expression", func() error { return m.DeclareExpression("v", graph.Neg(v)) }, ErrConflict},
		{"member as value", func() error { return m.DeclareValue("v", 1) }, ErrConflict},
		{"new method", func() error { return m.DeclareMethod("neg", NewMethod().WithOutputs(graph.Neg(v))) }, nil},
		{"replaced method", func() error { return m.DeclareMethod("neg", NewMethod().WithOutputs(v)) }, nil},
		{"method as submodule", func() error { return m.DeclareSubmodule("neg", New("sub")) }, ErrConflict},
		{"itself as submodule", func() error { return m.DeclareSubmodule("self", m) }, ErrModuleCycle},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.declare()
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr), "got %+v", err)
		})
	}

	assert.Error(t, m.DeclareValue("  ", 1))
	assert.Error(t, m.DeclareMember("inner.x", graph.Variable("x")))
	assert.Error(t, m.DeclareSubmodule("a.b", New("sub")))
	assert.Error(t, m.DeclareMember("derived", graph.Neg(v)))
	assert.Error(t, m.RegisterHook("hook", nil))

	// Replacing keeps the original declaration order.
	assert.Equal(t, []string{"v", "neg"}, m.Names())
	d, found := m.Get("neg")
	require.True(t, found)
	assert.Equal(t, KindMethod, d.Kind)
	assert.Equal(t, []*graph.Node{v}, d.Method.Outputs())

	// Names are compared in Unicode normal form.
	require.NoError(t, m.DeclareValue("caf\u00e9", 1))
	require.NoError(t, m.DeclareValue("cafe\u0301", 2))
	d, found = m.Get("caf\u00e9")
	require.True(t, found)
	assert.Equal(t, 2, d.Value)
}

func TestMakeErrors(t *testing.T) {
	t.Run("same member set twice", func(t *testing.T) {
		outer, _ := newNested()
		_, err := outer.Make(map[string]any{"counter": 42, "inner.counter": 1})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNameCollision), "got %+v", err)

		paths, err := outer.MemberPaths("counter")
		require.NoError(t, err)
		assert.Equal(t, []string{"inner.counter"}, paths)
		paths, err = outer.MemberPaths("bump")
		require.NoError(t, err)
		assert.Nil(t, paths)
	})

	t.Run("ambiguous initial value", func(t *testing.T) {
		first, second := New("first"), New("second")
		first.MustDeclareMember("w", graph.Variable("w"))
		second.MustDeclareMember("w", graph.Variable("w"))
		root := New("root")
		root.MustDeclareSubmodule("first", first)
		root.MustDeclareSubmodule("second", second)
		_, err := root.Make(map[string]any{"w": 1})
		assert.True(t, errors.Is(err, ErrNameCollision), "got %+v", err)
		_, err = root.Make(map[string]any{"first.w": 1, "second.w": 2})
		assert.NoError(t, err)
	})

	t.Run("cycle", func(t *testing.T) {
		a, b := New("a"), New("b")
		a.MustDeclareSubmodule("b", b)
		b.MustDeclareSubmodule("a", a)
		_, err := a.Make(nil)
		assert.True(t, errors.Is(err, ErrModuleCycle), "got %+v", err)
		assert.NotPanics(t, func() { _ = a.String() })
	})

	t.Run("unbound input", func(t *testing.T) {
		x, y := graph.Variable("x"), graph.Variable("y")
		m := New("unbound")
		m.MustDeclareMethod("sum", NewMethod(x).WithOutputs(graph.Add(x, y)))
		_, err := m.Make(nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnboundInput), "got %+v", err)
		var compErr *CompilationError
		require.True(t, errors.As(err, &compErr))
		assert.Equal(t, "sum", compErr.Method)
		assert.Contains(t, err.Error(), "y")
	})

	t.Run("invalid update", func(t *testing.T) {
		x := graph.Variable("x")
		m := New("invalid")
		m.MustDeclareMethod("set", NewMethod(x).WithUpdate(x, graph.AddScalar(x, 1)))
		_, err := m.Make(nil)
		assert.True(t, errors.Is(err, ErrInvalidUpdate), "got %+v", err)
	})

	t.Run("unknown initial value", func(t *testing.T) {
		_, err := newAccumulator().Make(map[string]any{"missing": 1})
		assert.True(t, errors.Is(err, ErrUnknownInitialValue), "got %+v", err)
		_, err = newAccumulator().Make(nil, 1)
		assert.True(t, errors.Is(err, ErrUnknownInitialValue), "got %+v", err)
	})

	t.Run("bad initial value", func(t *testing.T) {
		_, err := newAccumulator().Make(map[string]any{"state": "zero"})
		assert.Error(t, err)
	})
}

func TestInitializers(t *testing.T) {
	outer, inner := newNested()
	state := graph.Variable("state")
	outer.MustDeclareMember("state", state)

	var order []string
	inner.SetInitializer(func(m *Module, inst *Instance, args []any, values map[string]any) error {
		order = append(order, "inner")
		assert.Empty(t, args)
		assert.Empty(t, values)
		return inst.Set("counter", 100)
	})
	var gotArgs []any
	var gotValues map[string]any
	outer.SetInitializer(func(m *Module, inst *Instance, args []any, values map[string]any) error {
		order = append(order, "outer")
		gotArgs, gotValues = args, values
		counter, err := inst.Get("inner.counter")
		if err != nil {
			return err
		}
		return inst.Set("state", counter.Scalar()*values["scale"].(float64))
	})

	inst, err := outer.Make(map[string]any{"scale": 2.0}, "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"inner", "outer"}, order)
	assert.Equal(t, []any{"hello"}, gotArgs)
	assert.Equal(t, map[string]any{"scale": 2.0}, gotValues)
	assert.Equal(t, 200.0, scalarAt(t, inst, "state"))

	outer.SetInitializer(func(*Module, *Instance, []any, map[string]any) error {
		return errors.New("refused")
	})
	_, err = outer.Make(nil)
	require.ErrorContains(t, err, "refused")
}

func TestHooks(t *testing.T) {
	outer, inner := newNested()
	inner.MustRegisterHook("describe", func(m *Module, inst *Instance, args ...any) (any, error) {
		counter, err := inst.Value("counter")
		if err != nil {
			return nil, err
		}
		return []any{m.Name(), inst.Path(), counter, len(args)}, nil
	})
	outer.MustDeclareValue("version", "v1")

	inst := outer.MustMake(map[string]any{"inner.counter": 7})
	got, err := inst.Hook("inner.describe", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []any{"inner", "inner", 7.0, 2}, got)

	attr, err := inst.Attribute("inner.describe")
	require.NoError(t, err)
	hook, ok := attr.(func(args ...any) (any, error))
	require.True(t, ok)
	got, err = hook()
	require.NoError(t, err)
	assert.Equal(t, []any{"inner", "inner", 7.0, 0}, got)

	attr, err = inst.Attribute("version")
	require.NoError(t, err)
	assert.Equal(t, "v1", attr)
	attr, err = inst.Attribute("inner")
	require.NoError(t, err)
	assert.IsType(t, &Instance{}, attr)

	_, err = inst.Hook("inner.counter")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSnapshotRestore(t *testing.T) {
	outer, _ := newNested()
	outer.MustDeclareMember("state", graph.Variable("state"))
	inst := outer.MustMake(map[string]any{"inner.counter": 1})

	snapshot := inst.Snapshot()
	assert.Equal(t, 2, len(snapshot))
	assert.Nil(t, snapshot["state"])
	_, err := inst.Call("bump")
	require.NoError(t, err)
	inst.MustSet("state", 3)

	require.NoError(t, inst.Restore(snapshot))
	assert.Equal(t, 1.0, scalarAt(t, inst, "inner.counter"))
	value, err := inst.Get("state")
	require.NoError(t, err)
	assert.Nil(t, value)

	err = inst.Restore(map[string]*tensors.Tensor{"state": tensors.FromScalar(1), "bump": nil})
	require.Error(t, err)
	value, err = inst.Get("state")
	require.NoError(t, err)
	assert.Nil(t, value, "a failed Restore changes nothing")
	assert.Contains(t, inst.String(), "(2 cells, 1 values)")
	assert.Contains(t, inst.String(), "state: <no value>")
}
