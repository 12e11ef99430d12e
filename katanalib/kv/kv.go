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

// Package kv is the transactional ordered key-value layer (component C1):
// a thin interface over a memory-mapped, page-based store, with RW
// transactions serialised and RO transactions as uncorrelated MVCC
// snapshots. The production backend is github.com/erigontech/mdbx-go; see
// mdbx.go.
package kv

import "context"

// Cursor iterates a table in key order. Dup-sort tables additionally honor
// SeekBySubKey/NextDup/NextNoDup; on a non-dup-sort table those behave like
// Seek/Next.
type Cursor interface {
	First() (k, v []byte, err error)
	Last() (k, v []byte, err error)
	Seek(k []byte) (foundK, v []byte, err error)
	Next() (k, v []byte, err error)
	Prev() (k, v []byte, err error)
	SeekBySubKey(k, subKey []byte) (v []byte, err error)
	NextDup() (k, v []byte, err error)
	NextNoDup() (k, v []byte, err error)
	Close()
}

// RwCursor additionally allows mutation while positioned.
type RwCursor interface {
	Cursor
	Put(k, v []byte) error
	Delete(k []byte) error
	DeleteCurrent() error
}

// Tx is a read-only snapshot transaction.
type Tx interface {
	Get(table string, k []byte) (v []byte, err error)
	Has(table string, k []byte) (bool, error)
	Cursor(table string) (Cursor, error)
	ForEach(table string, from []byte, walker func(k, v []byte) error) error
	Rollback()
}

// RwTx is a read-write transaction. At most one RwTx is live at a time per
// Env (enforced by the backend); Commit is all-or-nothing.
type RwTx interface {
	Tx
	Put(table string, k, v []byte) error
	Delete(table string, k []byte) error
	RwCursor(table string) (RwCursor, error)
	Commit() error
}

// Label identifies which MDBX environment a table set belongs to: the main
// chaindata DB, the isolated tx pool DB, or a temporary/diagnostics DB. Each
// label gets its own Env and the TableCfg TablesCfgByLabel picks for it
// (DiagnosticsDB shares ChainDB's table set).
type Label uint8

const (
	ChainDB Label = iota
	TxPoolDB
	DiagnosticsDB
)

func (l Label) String() string {
	switch l {
	case ChainDB:
		return "chaindata"
	case TxPoolDB:
		return "txpool"
	case DiagnosticsDB:
		return "diagnostics"
	default:
		return "unknown"
	}
}

// Env owns a single memory-mapped database directory and hands out
// transactions against it.
type Env interface {
	BeginRo(ctx context.Context) (Tx, error)
	BeginRw(ctx context.Context) (RwTx, error)
	// Update runs fn inside a single RW transaction, committing on success
	// and rolling back (and returning the error) otherwise.
	Update(ctx context.Context, fn func(tx RwTx) error) error
	// View runs fn inside a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error
	Stats() (map[string]TableStats, error)
	Close() error
}

// TableStats mirrors the operational counters Erigon exposes per MDBX
// table: entry count, tree depth, and page-kind breakdown.
type TableStats struct {
	Entries       uint64
	Depth         uint32
	BranchPages   uint64
	LeafPages     uint64
	OverflowPages uint64
	FreePages     uint64
}
