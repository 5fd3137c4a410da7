// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/gomlx/symbolic/pkg/core/tensors"
	"github.com/gomlx/symbolic/pkg/module"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// Magic starts every encoded checkpoint.
	Magic = "SYMCKPT1"

	// FormatVersion of the JSON header written by Encode.
	FormatVersion = 1

	// maxHeaderLen protects Decode from reading absurd header lengths of corrupted files.
	maxHeaderLen = 64 << 20
)

// ErrBadFormat is returned (wrapped) when decoding something that is not a valid checkpoint.
var ErrBadFormat = errors.New("invalid checkpoint format")

// Header is the metadata of an encoded checkpoint.
type Header struct {
	Version    int          `json:"version"`
	InstanceID string       `json:"instance_id"`
	Module     string       `json:"module"`
	Cells      []CellHeader `json:"cells"`
}

// CellHeader describes where the value of one cell is stored in the (uncompressed) data blob.
type CellHeader struct {
	Path string `json:"path"`

	// Dims of the value: empty for scalars.
	Dims []int `json:"dims,omitempty"`

	// Offset and Length in bytes in the uncompressed data blob.
	Offset int `json:"offset"`
	Length int `json:"length"`

	// Absent is set for cells holding no value.
	Absent bool `json:"absent,omitempty"`
}

// Format:
//
//	--------------------------------------------------------------------
//	| "SYMCKPT1" | uint32 LE header length | JSON Header | gzip(data)  |
//	--------------------------------------------------------------------
//
// Data holds the values of the present cells, in the order of Header.Cells, each as little-endian
// float64s.

// Encode writes the full state of inst (all cells reachable from it, including nested Modules)
// to w.
func Encode(w io.Writer, inst *module.Instance) error {
	header := Header{
		Version:    FormatVersion,
		InstanceID: inst.ID().String(),
		Module:     inst.Module().Name(),
	}
	var data bytes.Buffer
	zw := gzip.NewWriter(&data)
	offset := 0
	for _, info := range inst.Cells() {
		cellHeader := CellHeader{Path: info.Path, Offset: offset}
		if info.Value == nil {
			cellHeader.Absent = true
			header.Cells = append(header.Cells, cellHeader)
			continue
		}
		cellHeader.Dims = info.Value.Dimensions()
		n, err := info.Value.WriteBinary(zw)
		if err != nil {
			return errors.WithMessagef(err, "checkpoints.Encode: cell %q", info.Path)
		}
		cellHeader.Length = n
		offset += n
		header.Cells = append(header.Cells, cellHeader)
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "checkpoints.Encode: failed to compress data")
	}

	headerJSON, err := json.Marshal(&header)
	if err != nil {
		return errors.Wrap(err, "checkpoints.Encode: failed to encode header")
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(headerJSON)))
	for _, part := range [][]byte{[]byte(Magic), lenBuf[:], headerJSON, data.Bytes()} {
		if _, err := w.Write(part); err != nil {
			return errors.Wrap(err, "checkpoints.Encode: failed to write")
		}
	}
	klog.V(2).Infof("checkpoints.Encode: instance %s, %d cells, %d bytes of data (%d compressed)",
		header.InstanceID, len(header.Cells), offset, data.Len())
	return nil
}

// Marshal returns the encoding of inst, see Encode.
func Marshal(inst *module.Instance) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, inst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadHeader reads only the magic and the header of an encoded checkpoint. On success, r is
// positioned at the start of the compressed data.
func ReadHeader(r io.Reader) (*Header, error) {
	var magic [len(Magic)]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, errors.Wrapf(ErrBadFormat, "failed to read magic: %v", err)
	}
	if string(magic[:]) != Magic {
		return nil, errors.Wrapf(ErrBadFormat, "magic %q doesn't match %q", magic[:], Magic)
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, errors.Wrapf(ErrBadFormat, "failed to read header length: %v", err)
	}
	headerLen := binary.LittleEndian.Uint32(lenBuf[:])
	if headerLen > maxHeaderLen {
		return nil, errors.Wrapf(ErrBadFormat, "header length %d is too large", headerLen)
	}
	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, errors.Wrapf(ErrBadFormat, "failed to read header: %v", err)
	}
	header := &Header{}
	if err := json.Unmarshal(headerJSON, header); err != nil {
		return nil, errors.Wrapf(ErrBadFormat, "failed to parse header: %v", err)
	}
	if header.Version != FormatVersion {
		return nil, errors.Wrapf(ErrBadFormat, "unsupported version %d (expected %d)", header.Version, FormatVersion)
	}
	return header, nil
}

// DecodeCells reads an encoded checkpoint without needing its Module: it returns the header and
// the values of the cells keyed by path (nil for cells with no value).
func DecodeCells(r io.Reader) (*Header, map[string]*tensors.Tensor, error) {
	header, err := ReadHeader(r)
	if err != nil {
		return nil, nil, err
	}
	cells := make(map[string]*tensors.Tensor, len(header.Cells))
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrBadFormat, "failed to read compressed data: %v", err)
	}
	defer func() { _ = zr.Close() }()
	pos := 0
	for _, cellHeader := range header.Cells {
		if _, dup := cells[cellHeader.Path]; dup {
			return nil, nil, errors.Wrapf(ErrBadFormat, "cell %q stored more than once", cellHeader.Path)
		}
		if cellHeader.Absent {
			cells[cellHeader.Path] = nil
			continue
		}
		if cellHeader.Offset != pos {
			return nil, nil, errors.Wrapf(ErrBadFormat, "cell %q at offset %d is out-of-order, expected offset %d",
				cellHeader.Path, cellHeader.Offset, pos)
		}
		length, err := tensors.BinarySizeOf(cellHeader.Dims...)
		if err != nil {
			return nil, nil, errors.Wrapf(ErrBadFormat, "cell %q: %v", cellHeader.Path, err)
		}
		if length != cellHeader.Length {
			return nil, nil, errors.Wrapf(ErrBadFormat, "cell %q: length %d doesn't match dimensions %v",
				cellHeader.Path, cellHeader.Length, cellHeader.Dims)
		}
		value, err := tensors.ReadBinary(zr, cellHeader.Dims...)
		if err != nil {
			return nil, nil, errors.Wrapf(ErrBadFormat, "cell %q: %v", cellHeader.Path, err)
		}
		pos += cellHeader.Length
		cells[cellHeader.Path] = value
	}
	return header, cells, nil
}

// Decode reads an encoded checkpoint and restores it as a new Instance of m: the Module is
// compiled (without initial values or initializers, see module.Module.Reload), and the new
// Instance takes the id and cell values stored in the checkpoint.
//
// Every stored cell must exist in m. Cells of m not in the checkpoint hold no value.
func Decode(r io.Reader, m *module.Module) (*module.Instance, error) {
	header, cells, err := DecodeCells(r)
	if err != nil {
		return nil, errors.WithMessage(err, "checkpoints.Decode")
	}
	id, err := uuid.Parse(header.InstanceID)
	if err != nil {
		return nil, errors.Wrapf(ErrBadFormat, "checkpoints.Decode: invalid instance id %q", header.InstanceID)
	}
	if header.Module != m.Name() {
		klog.Warningf("checkpoints.Decode: checkpoint was saved from module %q, restoring into module %q",
			header.Module, m.Name())
	}
	inst, err := m.Reload(id, cells)
	if err != nil {
		return nil, errors.WithMessage(err, "checkpoints.Decode")
	}
	return inst, nil
}

// Unmarshal is like Decode, reading from data.
func Unmarshal(data []byte, m *module.Module) (*module.Instance, error) {
	return Decode(bytes.NewReader(data), m)
}
