// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package module

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConflict is returned when a name is re-declared with an incompatible declaration.
	ErrConflict = errors.New("conflicting declaration")

	// ErrNameCollision is returned by Make when two different things resolve to the same path, or when
	// two initial values are given for the same member.
	ErrNameCollision = errors.New("name collision")

	// ErrUnboundInput is returned by Make when a Method depends on a Variable that is neither a member
	// nor one of its inputs.
	ErrUnboundInput = errors.New("unbound input")

	// ErrInvalidUpdate is returned by Make when a Method updates something that is not a member Variable.
	ErrInvalidUpdate = errors.New("invalid update")

	// ErrUnknownInitialValue is returned by Make when an initial value doesn't match any member Variable
	// and there is no initializer to forward it to.
	ErrUnknownInitialValue = errors.New("unknown initial value")

	// ErrModuleCycle is returned by Make when a Module contains itself.
	ErrModuleCycle = errors.New("module contains itself")

	// ErrNotFound is returned when a name doesn't resolve to anything (or to the wrong kind of thing).
	ErrNotFound = errors.New("not found")

	// ErrNoValue is returned when a method call needs the value of a member that holds no value.
	ErrNoValue = errors.New("member has no value")
)

// CompilationError wraps any failure binding a Method during Make.
type CompilationError struct {
	// Method is the path of the method that failed to compile.
	Method string

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *CompilationError) Error() string {
	return fmt.Sprintf("failed to compile method %q: %v", e.Method, e.Err)
}

// Unwrap returns the underlying error, so errors.Is works with the sentinel errors above.
func (e *CompilationError) Unwrap() error { return e.Err }
