// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scenario runs scripted sequences of calls against a module.Instance.
//
// A Scenario is written in YAML, as a list of steps. Each step is one of:
//
//   - call: executes a method, with positional "args" or named "inputs". The optional "outputs"
//     are compared to the values returned, and "repeat" executes the call more than once.
//   - set: sets the values of members, by path. A null value leaves the member with no value.
//   - expect: compares the values of members, by path, with the given ones. A null value expects
//     the member to hold no value.
//
// Example:
//
//	name: accumulate
//	steps:
//	  - call: add
//	    args: [2]
//	  - set: { state: 39.99 }
//	  - call: add
//	    args: [0.01]
//	  - expect: { state: 40.0 }
//
// Run executes the steps in order and returns a Result with the trace of every step.
package scenario

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultTolerance used when comparing values, if the Scenario doesn't set one.
const DefaultTolerance = 1e-9

// Scenario is a named list of steps.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Tolerance for the comparisons of "expect" and "outputs". If 0, DefaultTolerance is used.
	Tolerance float64 `yaml:"tolerance,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step of a Scenario. Exactly one of Call, Set or Expect must be given.
type Step struct {
	// Call is the path of the method to execute.
	Call string `yaml:"call,omitempty"`

	// Args are the positional required inputs of Call.
	Args []any `yaml:"args,omitempty"`

	// Inputs are the inputs of Call by name, including optional member inputs.
	Inputs map[string]any `yaml:"inputs,omitempty"`

	// Outputs, if given, are the expected outputs of Call.
	Outputs []any `yaml:"outputs,omitempty"`

	// Repeat executes Call this many times. Defaults to 1.
	Repeat int `yaml:"repeat,omitempty"`

	Set    map[string]any `yaml:"set,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Kind of the step: "call", "set" or "expect".
func (s *Step) Kind() string {
	switch {
	case s.Call != "":
		return KindCall
	case s.Set != nil:
		return KindSet
	case s.Expect != nil:
		return KindExpect
	}
	return ""
}

// Step kinds.
const (
	KindCall   = "call"
	KindSet    = "set"
	KindExpect = "expect"
)

// Load reads and parses the scenario YAML file at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read scenario file %q", path)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "scenario file %q", path)
	}
	return sc, nil
}

// Parse a scenario in YAML. Unknown fields are rejected.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, errors.Wrap(err, "failed to parse scenario YAML")
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks that the scenario is well-formed. It doesn't check it against any Module.
func (sc *Scenario) Validate() error {
	if sc.Name == "" {
		return errors.New("invalid scenario: name is required")
	}
	if len(sc.Steps) == 0 {
		return errors.Errorf("invalid scenario %q: no steps", sc.Name)
	}
	if sc.Tolerance < 0 {
		return errors.Errorf("invalid scenario %q: negative tolerance %g", sc.Name, sc.Tolerance)
	}
	for ii := range sc.Steps {
		step := &sc.Steps[ii]
		given := 0
		if step.Call != "" {
			given++
		}
		if step.Set != nil {
			given++
		}
		if step.Expect != nil {
			given++
		}
		if given != 1 {
			return errors.Errorf("invalid scenario %q: step #%d must have exactly one of call, set or expect",
				sc.Name, ii+1)
		}
		if step.Call == "" && (step.Args != nil || step.Inputs != nil || step.Outputs != nil || step.Repeat != 0) {
			return errors.Errorf("invalid scenario %q: step #%d: args, inputs, outputs and repeat are only "+
				"valid with call", sc.Name, ii+1)
		}
		if step.Args != nil && step.Inputs != nil {
			return errors.Errorf("invalid scenario %q: step #%d: give either args or inputs, not both", sc.Name, ii+1)
		}
		if step.Repeat < 0 {
			return errors.Errorf("invalid scenario %q: step #%d: negative repeat %d", sc.Name, ii+1, step.Repeat)
		}
	}
	return nil
}

// NumCalls returns the number of method executions of the scenario, counting repetitions.
func (sc *Scenario) NumCalls() int {
	n := 0
	for _, step := range sc.Steps {
		if step.Call != "" {
			n += max(step.Repeat, 1)
		}
	}
	return n
}
