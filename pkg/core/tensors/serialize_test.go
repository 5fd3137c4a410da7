// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinary(t *testing.T) {
	for _, tensor := range []*Tensor{
		FromScalar(math.Inf(-1)),
		FromAnyValue([]float64{1, math.NaN(), -0.5}),
		FromAnyValue([][]float64{{1, 2}, {3, 4}, {5, 6}}),
	} {
		var buf bytes.Buffer
		n, err := tensor.WriteBinary(&buf)
		require.NoError(t, err)
		assert.Equal(t, tensor.BinarySize(), n)

		got, err := ReadBinary(&buf, tensor.Dimensions()...)
		require.NoError(t, err)
		assert.Truef(t, tensor.Equal(got), "got %s, want %s", got, tensor)
		assert.Zero(t, buf.Len())
	}

	_, err := ReadBinary(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)
	_, err = ReadBinary(bytes.NewReader(nil), 0)
	assert.Error(t, err)

	// Dimensions much larger than the data fail on the read, and overflowing ones before reading.
	_, err = ReadBinary(bytes.NewReader(make([]byte, 16)), 1<<46)
	assert.Error(t, err)
	_, err = ReadBinary(bytes.NewReader(nil), 1<<61, 8)
	assert.Error(t, err)
}

func TestSizeOf(t *testing.T) {
	size, err := SizeOf()
	require.NoError(t, err)
	assert.Equal(t, 1, size)
	size, err = SizeOf(3, 2)
	require.NoError(t, err)
	assert.Equal(t, 6, size)
	n, err := BinarySizeOf(3, 2)
	require.NoError(t, err)
	assert.Equal(t, 48, n)

	for _, dims := range [][]int{{0}, {2, -1}, {1 << 61, 8}, {MaxSize, 2}, {1 << 32, 1 << 32}} {
		_, err := SizeOf(dims...)
		assert.Errorf(t, err, "dimensions %v", dims)
	}
	_, err = BinarySizeOf(1<<61, 8)
	assert.Error(t, err)
	assert.Panics(t, func() { Zeros(1<<61, 8) })
	assert.Panics(t, func() { FromFlatDataAndDimensions(nil, 1<<61, 8) })
}
