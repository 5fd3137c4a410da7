// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package module

import (
	"fmt"

	"github.com/gomlx/symbolic/pkg/core/graph"
	"github.com/gomlx/symbolic/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type boundInput struct {
	variable *graph.Node
	cell     *cell
}

// BoundMethod is a Method compiled for one Instance: executing it reads and writes the Instance
// storage.
//
// Required inputs are given as arguments to Exec (in declaration order) or by name with ExecWithMap.
// Optional inputs (the inputs that are members) default to their member's current value, and if given
// (with ExecWithMap) the value is stored in the member once the call succeeds.
//
// Outputs and updates are all computed from the values before the call. Updates are only written if
// the whole call succeeds: a failed call leaves the storage untouched.
type BoundMethod struct {
	name string
	st   *state
	exec *graph.Executable

	required, optional, implicit []boundInput
	updated                      []*cell

	// byName maps input names to their index in required followed by optional, or -1 if ambiguous.
	byName map[string]int
}

// Name returns the path of the method in the Instance.
func (bm *BoundMethod) Name() string { return bm.name }

// Inputs returns the names of all inputs: the required ones first, then the optional ones.
func (bm *BoundMethod) Inputs() []string {
	names := make([]string, 0, len(bm.required)+len(bm.optional))
	for _, in := range bm.required {
		names = append(names, in.variable.String())
	}
	for _, in := range bm.optional {
		names = append(names, in.variable.String())
	}
	return names
}

// RequiredInputs returns the names of the required inputs, in the order Exec takes them.
func (bm *BoundMethod) RequiredInputs() []string {
	names := make([]string, 0, len(bm.required))
	for _, in := range bm.required {
		names = append(names, in.variable.String())
	}
	return names
}

// NumOutputs returns the number of outputs returned by Exec.
func (bm *BoundMethod) NumOutputs() int { return bm.exec.NumOutputs() }

// String implements fmt.Stringer.
func (bm *BoundMethod) String() string {
	return fmt.Sprintf("BoundMethod(%q, inputs=%v, %d outputs, %d updates)", bm.name, bm.Inputs(),
		bm.NumOutputs(), len(bm.updated))
}

// Exec executes the method with the values of the required inputs, in order.
// Values are converted with tensors.FromValue.
//
// It returns the outputs of the method.
func (bm *BoundMethod) Exec(args ...any) ([]*tensors.Tensor, error) {
	if len(args) != len(bm.required) {
		return nil, errors.Errorf("method %q takes %d argument(s) %v, got %d", bm.name, len(bm.required),
			bm.RequiredInputs(), len(args))
	}
	required := make([]*tensors.Tensor, len(args))
	for ii, arg := range args {
		t, err := tensors.FromValue(arg)
		if err != nil {
			return nil, errors.WithMessagef(err, "method %q: argument #%d (%s)", bm.name, ii,
				bm.required[ii].variable)
		}
		required[ii] = t
	}
	return bm.run(required, nil)
}

// ExecWithMap executes the method with inputs given by name: all required inputs must be given,
// optional ones are used (and stored in their member once the call succeeds) only if given.
func (bm *BoundMethod) ExecWithMap(params map[string]any) ([]*tensors.Tensor, error) {
	required := make([]*tensors.Tensor, len(bm.required))
	overrides := make(map[int]*tensors.Tensor)
	for name, value := range params {
		idx, found := bm.byName[name]
		if !found {
			return nil, errors.Errorf("method %q has no input named %q, inputs are %v", bm.name, name, bm.Inputs())
		}
		if idx < 0 {
			return nil, errors.Errorf("method %q has more than one input named %q", bm.name, name)
		}
		t, err := tensors.FromValue(value)
		if err != nil {
			return nil, errors.WithMessagef(err, "method %q: input %q", bm.name, name)
		}
		if idx < len(bm.required) {
			required[idx] = t
		} else {
			overrides[idx-len(bm.required)] = t
		}
	}
	for ii, t := range required {
		if t == nil {
			return nil, errors.Errorf("method %q: missing required input %s", bm.name, bm.required[ii].variable)
		}
	}
	return bm.run(required, overrides)
}

func (bm *BoundMethod) run(required []*tensors.Tensor, overrides map[int]*tensors.Tensor) ([]*tensors.Tensor, error) {
	inputs := make([]*tensors.Tensor, 0, len(required)+len(bm.optional)+len(bm.implicit))
	inputs = append(inputs, required...)
	for ii, in := range bm.optional {
		if t, found := overrides[ii]; found {
			inputs = append(inputs, t)
			continue
		}
		if in.cell.value == nil {
			return nil, errors.Wrapf(ErrNoValue, "method %q: input %q", bm.name, in.cell.paths[0])
		}
		inputs = append(inputs, in.cell.value)
	}
	for _, in := range bm.implicit {
		if in.cell.value == nil {
			return nil, errors.Wrapf(ErrNoValue, "method %q reads %q", bm.name, in.cell.paths[0])
		}
		inputs = append(inputs, in.cell.value)
	}

	outputs, updates, err := bm.exec.Run(inputs)
	if err != nil {
		return nil, errors.WithMessagef(err, "method %q", bm.name)
	}

	// Only now, with the call successful, storage is written.
	for ii, t := range overrides {
		bm.optional[ii].cell.value = t
	}
	for ii, c := range bm.updated {
		c.value = updates[ii]
	}
	if klog.V(3).Enabled() {
		klog.Infof("module: method %q executed: %d outputs, %d updates", bm.name, len(outputs), len(updates))
	}
	return outputs, nil
}

// Exec1 executes a method that returns exactly one output.
func (bm *BoundMethod) Exec1(args ...any) (*tensors.Tensor, error) {
	if bm.NumOutputs() != 1 {
		return nil, errors.Errorf("method %q returns %d outputs, Exec1 requires exactly one", bm.name, bm.NumOutputs())
	}
	outputs, err := bm.Exec(args...)
	if err != nil {
		return nil, err
	}
	return outputs[0], nil
}

// Call is like Exec, but panics on error.
func (bm *BoundMethod) Call(args ...any) []*tensors.Tensor {
	return must.M1(bm.Exec(args...))
}

// Call1 is like Exec1, but panics on error.
func (bm *BoundMethod) Call1(args ...any) *tensors.Tensor {
	return must.M1(bm.Exec1(args...))
}
