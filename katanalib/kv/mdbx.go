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

package kv

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/erigontech/mdbx-go/mdbx"
)

// Default geometry, per spec.md §4.1: 16KiB pages, 1GiB initial size,
// growable to 10GiB.
const (
	DefaultPageSize   = 16 * 1024
	DefaultSizeNow    = 1 << 30
	DefaultSizeUpper  = 10 << 30
	DefaultGrowthStep = 2 << 20
)

// mdbxEnv implements Env over a single MDBX environment.
type mdbxEnv struct {
	env   *mdbx.Env
	label Label
	dbis  map[string]mdbx.DBI

	// MDBX allows only one live write transaction; writeMu serialises
	// BeginRw the same way Erigon's kv/mdbx package does.
	writeMu sync.Mutex
}

// OpenEnv opens (creating if absent) an MDBX environment at path for the
// given label, registering every table TablesByLabel(label) names.
func OpenEnv(path string, label Label) (Env, error) {
	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("mdbx.NewEnv: %w", err)
	}
	tables := TablesByLabel(label)
	if err := env.SetOption(mdbx.OptMaxDB, uint64(len(tables)+8)); err != nil {
		return nil, fmt.Errorf("mdbx SetOption MaxDB: %w", err)
	}
	if err := env.SetGeometry(-1, DefaultSizeNow, DefaultSizeUpper, DefaultGrowthStep, -1, DefaultPageSize); err != nil {
		return nil, fmt.Errorf("mdbx SetGeometry: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", path, err)
	}
	flags := uint(mdbx.NoSubdir) &^ mdbx.NoSubdir // directory-layout environment
	if err := env.Open(path, flags, 0o644); err != nil {
		return nil, fmt.Errorf("mdbx Open %s: %w", path, err)
	}

	e := &mdbxEnv{env: env, label: label, dbis: make(map[string]mdbx.DBI, len(tables))}
	cfg := TablesCfgByLabel(label)
	err = env.Update(func(txn *mdbx.Txn) error {
		for _, name := range tables {
			flags := mdbx.Create
			if cfg[name].Flags&DupSort != 0 {
				flags |= mdbx.DupSort
			}
			dbi, err := txn.OpenDBI(name, flags, nil, nil)
			if err != nil {
				return fmt.Errorf("open table %s: %w", name, err)
			}
			e.dbis[name] = dbi
		}
		return nil
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	return e, nil
}

func (e *mdbxEnv) dbi(table string) (mdbx.DBI, error) {
	dbi, ok := e.dbis[table]
	if !ok {
		return 0, fmt.Errorf("unknown table %q for label %s", table, e.label)
	}
	return dbi, nil
}

func (e *mdbxEnv) BeginRo(_ context.Context) (Tx, error) {
	txn, err := e.env.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		return nil, err
	}
	return &mdbxTx{env: e, txn: txn}, nil
}

func (e *mdbxEnv) BeginRw(_ context.Context) (RwTx, error) {
	e.writeMu.Lock()
	txn, err := e.env.BeginTxn(nil, 0)
	if err != nil {
		e.writeMu.Unlock()
		return nil, err
	}
	return &mdbxRwTx{mdbxTx: mdbxTx{env: e, txn: txn}, unlock: e.writeMu.Unlock}, nil
}

func (e *mdbxEnv) Update(ctx context.Context, fn func(tx RwTx) error) error {
	tx, err := e.BeginRw(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (e *mdbxEnv) View(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := e.BeginRo(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

func (e *mdbxEnv) Stats() (map[string]TableStats, error) {
	out := make(map[string]TableStats, len(e.dbis))
	err := e.View(context.Background(), func(tx Tx) error {
		mtx := tx.(*mdbxTx)
		for name, dbi := range e.dbis {
			st, err := mtx.txn.StatDBI(dbi)
			if err != nil {
				return err
			}
			out[name] = TableStats{
				Entries:       st.Entries,
				Depth:         st.Depth,
				BranchPages:   st.BranchPages,
				LeafPages:     st.LeafPages,
				OverflowPages: st.OverflowPages,
			}
		}
		return nil
	})
	return out, err
}

func (e *mdbxEnv) Close() error {
	e.env.Close()
	return nil
}

type mdbxTx struct {
	env *mdbxEnv
	txn *mdbx.Txn
}

func (t *mdbxTx) Get(table string, k []byte) ([]byte, error) {
	dbi, err := t.env.dbi(table)
	if err != nil {
		return nil, err
	}
	v, err := t.txn.Get(dbi, k)
	if err != nil {
		if mdbx.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

func (t *mdbxTx) Has(table string, k []byte) (bool, error) {
	v, err := t.Get(table, k)
	return v != nil, err
}

func (t *mdbxTx) Cursor(table string) (Cursor, error) {
	dbi, err := t.env.dbi(table)
	if err != nil {
		return nil, err
	}
	c, err := t.txn.OpenCursor(dbi)
	if err != nil {
		return nil, err
	}
	return &mdbxCursor{c: c}, nil
}

func (t *mdbxTx) ForEach(table string, from []byte, walker func(k, v []byte) error) error {
	c, err := t.Cursor(table)
	if err != nil {
		return err
	}
	defer c.Close()
	var k, v []byte
	if len(from) == 0 {
		k, v, err = c.First()
	} else {
		k, v, err = c.Seek(from)
	}
	for ; err == nil && k != nil; k, v, err = c.Next() {
		if werr := walker(k, v); werr != nil {
			return werr
		}
	}
	if err == ErrNotFound {
		return nil
	}
	return err
}

func (t *mdbxTx) Rollback() { t.txn.Abort() }

type mdbxRwTx struct {
	mdbxTx
	unlock func()
}

func (t *mdbxRwTx) Put(table string, k, v []byte) error {
	dbi, err := t.env.dbi(table)
	if err != nil {
		return err
	}
	return t.txn.Put(dbi, k, v, 0)
}

func (t *mdbxRwTx) Delete(table string, k []byte) error {
	dbi, err := t.env.dbi(table)
	if err != nil {
		return err
	}
	return t.txn.Del(dbi, k, nil)
}

func (t *mdbxRwTx) RwCursor(table string) (RwCursor, error) {
	dbi, err := t.env.dbi(table)
	if err != nil {
		return nil, err
	}
	c, err := t.txn.OpenCursor(dbi)
	if err != nil {
		return nil, err
	}
	return &mdbxCursor{c: c}, nil
}

func (t *mdbxRwTx) Commit() error {
	defer t.unlock()
	_, err := t.txn.Commit()
	return err
}

func (t *mdbxRwTx) Rollback() {
	defer t.unlock()
	t.txn.Abort()
}

// ErrNotFound is returned by Cursor navigation once iteration is exhausted.
var ErrNotFound = mdbx.ErrNotFound

type mdbxCursor struct{ c *mdbx.Cursor }

func (c *mdbxCursor) First() ([]byte, []byte, error) { return c.c.Get(nil, nil, mdbx.First) }
func (c *mdbxCursor) Last() ([]byte, []byte, error)   { return c.c.Get(nil, nil, mdbx.Last) }
func (c *mdbxCursor) Seek(k []byte) ([]byte, []byte, error) {
	return c.c.Get(k, nil, mdbx.SetRange)
}
func (c *mdbxCursor) Next() ([]byte, []byte, error) { return c.c.Get(nil, nil, mdbx.Next) }
func (c *mdbxCursor) Prev() ([]byte, []byte, error) { return c.c.Get(nil, nil, mdbx.Prev) }
func (c *mdbxCursor) SeekBySubKey(k, subKey []byte) ([]byte, error) {
	_, v, err := c.c.Get(k, subKey, mdbx.GetBothRange)
	return v, err
}
func (c *mdbxCursor) NextDup() ([]byte, []byte, error)   { return c.c.Get(nil, nil, mdbx.NextDup) }
func (c *mdbxCursor) NextNoDup() ([]byte, []byte, error) { return c.c.Get(nil, nil, mdbx.NextNoDup) }
func (c *mdbxCursor) Close()                             { c.c.Close() }
func (c *mdbxCursor) Put(k, v []byte) error { return c.c.Put(k, v, 0) }

func (c *mdbxCursor) Delete(k []byte) error {
	if _, _, err := c.c.Get(k, nil, mdbx.Set); err != nil {
		return err
	}
	return c.c.Del(0)
}

func (c *mdbxCursor) DeleteCurrent() error { return c.c.Del(0) }
