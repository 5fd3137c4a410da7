// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, a dense multidimensional array of float64 values.
//
// Tensors are the values stored in an Instance's storage cells, fed to compiled methods and returned by them.
// They range from scalars (no dimensions) to arbitrarily large dimensions, and are defined by their dimensions
// and their flat (row-major) content.
//
// There are various ways to construct a Tensor:
//
//   - FromScalar(value float64): a scalar tensor.
//
//   - FromFlatDataAndDimensions(data []float64, dimensions ...int): creates a Tensor with the given
//     dimensions, with the flat data given. Example:
//
//     t := FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2) // Tensor with [[1,2], [3,4]]
//
//   - FromValue(value any): converts Go numbers and (regular) multidimensional slices of them, returning
//     an error if the value is not supported.
//
//   - FromAnyValue(value any): same as FromValue, but it panics on error. If `value` is already a
//     tensor, it is a no-op, and it returns the tensor itself.
//
// Tensors are not safe for concurrent mutation, and the Instance that owns them serializes access.
package tensors

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// MaxSizeToPrint is the maximum number of elements printed by Tensor.String before eliding.
const MaxSizeToPrint = 8

// MaxSize is the largest number of elements of a Tensor: its binary size (see Tensor.BinarySize)
// must fit an int.
const MaxSize = math.MaxInt / 8

// SizeOf returns the number of elements of a Tensor with the given dimensions. It returns an error if
// a dimension is not positive, or if the size exceeds MaxSize.
func SizeOf(dimensions ...int) (int, error) {
	size := 1
	for axis, dim := range dimensions {
		if dim <= 0 {
			return 0, errors.Errorf("invalid dimension %d for axis %d", dim, axis)
		}
		if size > MaxSize/dim {
			return 0, errors.Errorf("dimensions %v exceed the maximum size %d", dimensions, MaxSize)
		}
		size *= dim
	}
	return size, nil
}

// Tensor is a dense multidimensional array of float64.
type Tensor struct {
	dimensions []int
	flat       []float64
}

// FromScalar returns a scalar tensor with the given value.
func FromScalar(value float64) *Tensor {
	return &Tensor{flat: []float64{value}}
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, using data as its row-major content.
//
// The data slice is owned by the tensor after this call.
// It panics if the number of elements doesn't match the dimensions.
func FromFlatDataAndDimensions(data []float64, dimensions ...int) *Tensor {
	size, err := SizeOf(dimensions...)
	if err != nil {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: %v", err)
	}
	if len(data) != size {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: dimensions %v require %d values, got %d",
			dimensions, size, len(data))
	}
	return &Tensor{dimensions: append([]int(nil), dimensions...), flat: data}
}

// Zeros returns a tensor of the given dimensions filled with zeros.
func Zeros(dimensions ...int) *Tensor {
	size, err := SizeOf(dimensions...)
	if err != nil {
		exceptions.Panicf("tensors.Zeros: %v", err)
	}
	return FromFlatDataAndDimensions(make([]float64, size), dimensions...)
}

// FromAnyValue is like FromValue, but panics on error.
func FromAnyValue(value any) *Tensor {
	t, err := FromValue(value)
	if err != nil {
		panic(err)
	}
	return t
}

// FromValue converts a Go value to a Tensor.
//
// Accepted values are *Tensor (returned as is), any Go number (int*, uint*, float*) or a regular
// multidimensional slice or array of them (all sub-slices of the same axis must have the same length).
func FromValue(value any) (*Tensor, error) {
	if value == nil {
		return nil, errors.New("tensors.FromValue: cannot convert nil")
	}
	if t, ok := value.(*Tensor); ok {
		return t, nil
	}
	switch v := value.(type) {
	case float64:
		return FromScalar(v), nil
	case []float64:
		if len(v) == 0 {
			return nil, errors.New("tensors.FromValue: empty slices are not supported")
		}
		return FromFlatDataAndDimensions(append([]float64(nil), v...), len(v)), nil
	}

	rv := reflect.ValueOf(value)
	dims, err := dimensionsOf(rv)
	if err != nil {
		return nil, errors.WithMessagef(err, "tensors.FromValue(%T)", value)
	}
	flat := make([]float64, 0, sizeOf(dims))
	flat, err = appendFlat(flat, rv, dims)
	if err != nil {
		return nil, errors.WithMessagef(err, "tensors.FromValue(%T)", value)
	}
	return &Tensor{dimensions: dims, flat: flat}, nil
}

func sizeOf(dims []int) int {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	return size
}

// dimensionsOf follows the first element of every nested slice to find the dimensions.
func dimensionsOf(rv reflect.Value) ([]int, error) {
	var dims []int
	for {
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			if rv.Len() == 0 {
				return nil, errors.New("empty slices are not supported")
			}
			dims = append(dims, rv.Len())
			rv = rv.Index(0)
		case reflect.Interface, reflect.Pointer:
			if rv.IsNil() {
				return nil, errors.New("nil element")
			}
			rv = rv.Elem()
		default:
			if _, ok := scalarOf(rv); !ok {
				return nil, errors.Errorf("unsupported element type %s", rv.Type())
			}
			return dims, nil
		}
	}
}

func appendFlat(flat []float64, rv reflect.Value, dims []int) ([]float64, error) {
	for rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, errors.New("nil element")
		}
		rv = rv.Elem()
	}
	if len(dims) == 0 {
		v, ok := scalarOf(rv)
		if !ok {
			return nil, errors.Errorf("unsupported element type %s", rv.Type())
		}
		return append(flat, v), nil
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, errors.Errorf("irregular value: expected a slice of length %d, got %s", dims[0], rv.Type())
	}
	if rv.Len() != dims[0] {
		return nil, errors.Errorf("irregular slice: expected length %d, got %d", dims[0], rv.Len())
	}
	var err error
	for ii := range rv.Len() {
		flat, err = appendFlat(flat, rv.Index(ii), dims[1:])
		if err != nil {
			return nil, err
		}
	}
	return flat, nil
}

func scalarOf(rv reflect.Value) (float64, bool) {
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	default:
		return 0, false
	}
}

// Dimensions returns a copy of the tensor's dimensions. A scalar has none.
func (t *Tensor) Dimensions() []int {
	return append([]int(nil), t.dimensions...)
}

// Rank is the number of axes.
func (t *Tensor) Rank() int { return len(t.dimensions) }

// Size is the number of elements.
func (t *Tensor) Size() int { return len(t.flat) }

// Memory used by the values, in bytes.
func (t *Tensor) Memory() uintptr { return uintptr(len(t.flat)) * 8 }

// IsScalar returns whether the tensor has no dimensions.
func (t *Tensor) IsScalar() bool { return len(t.dimensions) == 0 }

// SameDimensions returns whether both tensors have the same dimensions.
func (t *Tensor) SameDimensions(other *Tensor) bool {
	if len(t.dimensions) != len(other.dimensions) {
		return false
	}
	for axis, dim := range t.dimensions {
		if other.dimensions[axis] != dim {
			return false
		}
	}
	return true
}

// Flat returns the underlying row-major data. It must not be modified, use Clone first.
func (t *Tensor) Flat() []float64 { return t.flat }

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		dimensions: append([]int(nil), t.dimensions...),
		flat:       append([]float64(nil), t.flat...),
	}
}

// Scalar returns the value of a scalar tensor. It panics if the tensor is not a scalar.
func (t *Tensor) Scalar() float64 {
	if !t.IsScalar() {
		exceptions.Panicf("Tensor.Scalar() called on tensor of dimensions %v", t.dimensions)
	}
	return t.flat[0]
}

// Value returns a Go value for the tensor: a float64 for scalars, otherwise a (multidimensional) slice
// of float64, e.g. [][]float64 for a rank-2 tensor.
func (t *Tensor) Value() any {
	if t.IsScalar() {
		return t.flat[0]
	}
	sliceType := reflect.TypeOf(float64(0))
	for range t.dimensions {
		sliceType = reflect.SliceOf(sliceType)
	}
	pos := 0
	return buildSlices(sliceType, t.dimensions, t.flat, &pos).Interface()
}

func buildSlices(sliceType reflect.Type, dims []int, flat []float64, pos *int) reflect.Value {
	result := reflect.MakeSlice(sliceType, dims[0], dims[0])
	if len(dims) == 1 {
		for ii := range dims[0] {
			result.Index(ii).SetFloat(flat[*pos])
			*pos++
		}
		return result
	}
	for ii := range dims[0] {
		result.Index(ii).Set(buildSlices(sliceType.Elem(), dims[1:], flat, pos))
	}
	return result
}

// Equal returns whether both tensors have the same dimensions and values.
// NaN values are considered equal to each other.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == nil || other == nil {
		return t == other
	}
	if !t.SameDimensions(other) {
		return false
	}
	for ii, v := range t.flat {
		o := other.flat[ii]
		if v != o && !(math.IsNaN(v) && math.IsNaN(o)) {
			return false
		}
	}
	return true
}

// InDelta returns whether both tensors have the same dimensions and every value differs by at most delta.
func (t *Tensor) InDelta(other *Tensor, delta float64) bool {
	if t == nil || other == nil {
		return t == other
	}
	if !t.SameDimensions(other) {
		return false
	}
	for ii, v := range t.flat {
		if math.Abs(v-other.flat[ii]) > delta {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer. Large tensors are elided after MaxSizeToPrint values.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil>"
	}
	if t.IsScalar() {
		return fmt.Sprintf("%g", t.flat[0])
	}
	var sb strings.Builder
	dims := make([]string, len(t.dimensions))
	for ii, dim := range t.dimensions {
		dims[ii] = fmt.Sprintf("%d", dim)
	}
	fmt.Fprintf(&sb, "(%s)[", strings.Join(dims, " x "))
	for ii, v := range t.flat {
		if ii == MaxSizeToPrint {
			fmt.Fprintf(&sb, " ...(%d more)", len(t.flat)-ii)
			break
		}
		if ii > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%g", v)
	}
	sb.WriteString("]")
	return sb.String()
}

// GoStr returns the tensor formatted as a Go literal, e.g. `[][]float64{{1, 2}, {3, 4}}`.
func (t *Tensor) GoStr() string {
	if t == nil {
		return "nil"
	}
	if t.IsScalar() {
		return fmt.Sprintf("float64(%g)", t.flat[0])
	}
	return fmt.Sprintf("%s%s", strings.Repeat("[]", t.Rank())+"float64", goStrRecursive(t.dimensions, t.flat))
}

func goStrRecursive(dims []int, flat []float64) string {
	parts := make([]string, dims[0])
	step := len(flat) / dims[0]
	for ii := range dims[0] {
		chunk := flat[ii*step : (ii+1)*step]
		if len(dims) == 1 {
			parts[ii] = fmt.Sprintf("%g", chunk[0])
		} else {
			parts[ii] = goStrRecursive(dims[1:], chunk)
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
