// Copyright 2024 The Katana Authors
// This file is part of Katana.
//
// Katana is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Katana is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Katana. If not, see <http://www.gnu.org/licenses/>.

// Package types holds the domain value types stored through C1/C2/C3:
// blocks, transactions, classes, state updates, receipts and traces. Every
// type round-trips through a length-prefixed canonical binary encoding for
// storage (the same EncodeForStorage/DecodeForStorage idiom the teacher
// uses for chain data) and a JSON encoding for the RPC surface.
package types

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/katana-sequencer/katana/katanalib/common"
)

// encBuf is a small append-only byte writer shared by every EncodeForStorage
// method; it keeps the hand-rolled binary codec consistent across types
// without pulling in a reflection-based serialisation library for a wire
// format this simple (a flat, versionless, length-prefixed record).
type encBuf struct{ b []byte }

func (e *encBuf) byte(v byte) { e.b = append(e.b, v) }

func (e *encBuf) u64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
}

func (e *encBuf) u32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
}

func (e *encBuf) felt(f common.Felt) { b := f.Bytes(); e.b = append(e.b, b[:]...) }

func (e *encBuf) bytes(v []byte) {
	e.u32(uint32(len(v)))
	e.b = append(e.b, v...)
}

func (e *encBuf) string(s string) { e.bytes([]byte(s)) }

// dec is the matching reader half; it returns io.ErrUnexpectedEOF on any
// truncated record, the same failure mode Erigon's own DecodeForStorage
// helpers surface on corrupt pages.
type dec struct {
	b   []byte
	off int
}

func newDec(b []byte) *dec { return &dec{b: b} }

func (d *dec) need(n int) error {
	if d.off+n > len(d.b) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (d *dec) byte() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.b[d.off]
	d.off++
	return v, nil
}

func (d *dec) u64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.b[d.off : d.off+8])
	d.off += 8
	return v, nil
}

func (d *dec) u32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.b[d.off : d.off+4])
	d.off += 4
	return v, nil
}

func (d *dec) felt() (common.Felt, error) {
	if err := d.need(common.FeltBytes); err != nil {
		return common.Felt{}, err
	}
	f := common.FeltFromBytes(d.b[d.off : d.off+common.FeltBytes])
	d.off += common.FeltBytes
	return f, nil
}

func (d *dec) bytes() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	v := make([]byte, n)
	copy(v, d.b[d.off:d.off+int(n)])
	d.off += int(n)
	return v, nil
}

func (d *dec) string() (string, error) {
	b, err := d.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *dec) done() error {
	if d.off != len(d.b) {
		return fmt.Errorf("trailing bytes after decode: %d unread", len(d.b)-d.off)
	}
	return nil
}
