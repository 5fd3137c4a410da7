// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// BinarySize returns the number of bytes written by WriteBinary.
func (t *Tensor) BinarySize() int { return 8 * len(t.flat) }

// WriteBinary writes the tensor values (not its dimensions) as little-endian float64s.
// It returns the number of bytes written.
func (t *Tensor) WriteBinary(w io.Writer) (int, error) {
	buf := make([]byte, t.BinarySize())
	for ii, v := range t.flat {
		binary.LittleEndian.PutUint64(buf[ii*8:], math.Float64bits(v))
	}
	n, err := w.Write(buf)
	if err != nil {
		return n, errors.Wrapf(err, "failed to write tensor %v data", t.dimensions)
	}
	return n, nil
}

// readChunkSize is the number of bytes read at a time by ReadBinary.
const readChunkSize = 64 * 1024

// BinarySizeOf returns the number of bytes WriteBinary writes for a tensor with the given dimensions.
func BinarySizeOf(dimensions ...int) (int, error) {
	size, err := SizeOf(dimensions...)
	if err != nil {
		return 0, errors.WithMessage(err, "tensors.BinarySizeOf")
	}
	return 8 * size, nil
}

// ReadBinary reads a tensor with the given dimensions, written with Tensor.WriteBinary.
//
// Memory is allocated as the data is read, so dimensions larger than the data available fail with a
// read error.
func ReadBinary(r io.Reader, dimensions ...int) (*Tensor, error) {
	size, err := SizeOf(dimensions...)
	if err != nil {
		return nil, errors.WithMessage(err, "tensors.ReadBinary")
	}
	flat := make([]float64, 0, min(size, readChunkSize/8))
	buf := make([]byte, min(8*size, readChunkSize))
	for len(flat) < size {
		chunk := buf[:min(len(buf), 8*(size-len(flat)))]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, errors.Wrapf(err, "tensors.ReadBinary: failed to read %d bytes of tensor %v data",
				8*size, dimensions)
		}
		for ii := 0; ii < len(chunk); ii += 8 {
			flat = append(flat, math.Float64frombits(binary.LittleEndian.Uint64(chunk[ii:])))
		}
	}
	return &Tensor{dimensions: append([]int(nil), dimensions...), flat: flat}, nil
}
