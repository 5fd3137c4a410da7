// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scenario

import (
	"github.com/gomlx/symbolic/pkg/core/tensors"
	"github.com/gomlx/symbolic/pkg/module"
	"github.com/gomlx/symbolic/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrMismatch is returned (wrapped) when an "expect" step or the expected outputs of a call fail.
var ErrMismatch = errors.New("scenario expectation failed")

// Result of running a Scenario.
type Result struct {
	Scenario string   `json:"scenario"`
	Trace    []Record `json:"trace"`
}

// Record of one executed step. Values are plain Go values (see tensors.Tensor.Value), nil for
// members with no value.
type Record struct {
	// Step number, starting from 1.
	Step int    `json:"step"`
	Kind string `json:"kind"`

	// Method and Outputs (of the last repetition) of a call.
	Method  string `json:"method,omitempty"`
	Outputs []any  `json:"outputs,omitempty"`

	// Values set, or the actual values checked by an expect.
	Values map[string]any `json:"values,omitempty"`
}

// Option for Run.
type Option func(r *runner)

// WithStepCallback sets a function called after each step executed successfully.
func WithStepCallback(fn func(rec Record)) Option {
	return func(r *runner) { r.callback = fn }
}

// WithCallCallback sets a function called after each successful execution of a method, including
// each repetition. The number of executions of a Scenario is given by Scenario.NumCalls.
func WithCallCallback(fn func(method string)) Option {
	return func(r *runner) { r.callCallback = fn }
}

// WithTolerance overrides the tolerance of the Scenario.
func WithTolerance(tolerance float64) Option {
	return func(r *runner) { r.tolerance = tolerance }
}

type runner struct {
	inst      *module.Instance
	sc        *Scenario
	tolerance    float64
	callback     func(rec Record)
	callCallback func(method string)
}

// Run executes the steps of sc against inst.
//
// It stops at the first step that fails, returning the Result with the trace of the steps
// executed so far, along with the error. Failed expectations return an error wrapping ErrMismatch.
func Run(inst *module.Instance, sc *Scenario, opts ...Option) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	r := &runner{inst: inst, sc: sc, tolerance: DefaultTolerance}
	if sc.Tolerance > 0 {
		r.tolerance = sc.Tolerance
	}
	for _, opt := range opts {
		opt(r)
	}

	result := &Result{Scenario: sc.Name, Trace: make([]Record, 0, len(sc.Steps))}
	for ii := range sc.Steps {
		step := &sc.Steps[ii]
		rec := Record{Step: ii + 1, Kind: step.Kind()}
		var err error
		switch rec.Kind {
		case KindCall:
			err = r.call(step, &rec)
		case KindSet:
			err = r.set(step, &rec)
		case KindExpect:
			err = r.expect(step, &rec)
		}
		if err != nil {
			return result, errors.WithMessagef(err, "scenario %q, step #%d (%s)", sc.Name, rec.Step, rec.Kind)
		}
		result.Trace = append(result.Trace, rec)
		klog.V(2).Infof("scenario %q: step #%d (%s) done", sc.Name, rec.Step, rec.Kind)
		if r.callback != nil {
			r.callback(rec)
		}
	}
	return result, nil
}

func (r *runner) call(step *Step, rec *Record) error {
	rec.Method = step.Call
	bm, err := r.inst.Method(step.Call)
	if err != nil {
		return err
	}
	var outputs []*tensors.Tensor
	for range max(step.Repeat, 1) {
		if step.Inputs != nil {
			outputs, err = bm.ExecWithMap(step.Inputs)
		} else {
			outputs, err = bm.Exec(step.Args...)
		}
		if err != nil {
			return err
		}
		if r.callCallback != nil {
			r.callCallback(step.Call)
		}
	}
	rec.Outputs = xslices.Map(outputs, valueOf)
	if step.Outputs == nil {
		return nil
	}
	if len(step.Outputs) != len(outputs) {
		return errors.Wrapf(ErrMismatch, "method %q returned %d outputs, expected %d", step.Call, len(outputs),
			len(step.Outputs))
	}
	for ii, want := range step.Outputs {
		if err := r.compare(want, outputs[ii]); err != nil {
			return errors.WithMessagef(err, "method %q output #%d", step.Call, ii)
		}
	}
	return nil
}

func (r *runner) set(step *Step, rec *Record) error {
	rec.Values = make(map[string]any, len(step.Set))
	for _, path := range xslices.SortedKeys(step.Set) {
		if err := r.inst.Set(path, step.Set[path]); err != nil {
			return err
		}
		value, err := r.inst.Value(path)
		if err != nil {
			return err
		}
		rec.Values[path] = value
	}
	return nil
}

func (r *runner) expect(step *Step, rec *Record) error {
	rec.Values = make(map[string]any, len(step.Expect))
	for _, path := range xslices.SortedKeys(step.Expect) {
		got, err := r.inst.Get(path)
		if err != nil {
			return err
		}
		rec.Values[path] = valueOf(got)
		if err := r.compare(step.Expect[path], got); err != nil {
			return errors.WithMessagef(err, "member %q", path)
		}
	}
	return nil
}

// compare want, as given in the scenario, with the value got.
func (r *runner) compare(want any, got *tensors.Tensor) error {
	if want == nil {
		if got != nil {
			return errors.Wrapf(ErrMismatch, "got %s, expected no value", got)
		}
		return nil
	}
	wantT, err := tensors.FromValue(want)
	if err != nil {
		return errors.WithMessage(err, "invalid expected value")
	}
	if got == nil {
		return errors.Wrapf(ErrMismatch, "got no value, expected %s", wantT)
	}
	if !got.InDelta(wantT, r.tolerance) {
		return errors.Wrapf(ErrMismatch, "got %s, expected %s (tolerance %g)", got, wantT, r.tolerance)
	}
	return nil
}

func valueOf(t *tensors.Tensor) any {
	if t == nil {
		return nil
	}
	return t.Value()
}
