// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph is the expression engine used by modules: it builds symbolic expressions and compiles
// them into executables that evaluate them.
//
// The main elements in the package are:
//
//   - Node represents a symbolic value. It is either a Variable (a free, named leaf whose value is
//     only known when executing), a constant, or the result of an operation ("op" for short, e.g.:
//     Add, Sub, Mul, Exp, etc.).
//
//   - Executable is the result of Compile: given the list of input Variables, the outputs and the
//     updates (pairs of a target Variable and the expression of its new value), it evaluates every
//     node once, in topological order, from one consistent set of input values.
//
// Nodes are not owned by any graph object: a Node is identified by its pointer (and its unique
// NodeId), and the "graph" of a computation is whatever is reachable from its outputs. This
// allows the same Variable to be shared by any number of expressions and executables.
//
// # Error Handling
//
// Building nodes "throws" errors with panic (see github.com/gomlx/exceptions), to keep expression
// building code readable: x := Add(Mul(a, b), c). Compile and Executable.Run return errors.
//
// Values have no static shape: shapes are checked at execution time. Binary ops accept operands of
// the same dimensions or where one of them is a scalar.
package graph

import (
	"sync/atomic"
)

// NodeId is a process-wide unique identifier of a Node, increasing in creation order.
type NodeId int64

var lastNodeId atomic.Int64

func newNodeId() NodeId {
	return NodeId(lastNodeId.Add(1))
}
