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

// Package kvtest is a pure-Go, in-memory kv.Env for unit tests, the same
// role Erigon's own in-memory "memdb" plays in its kv test suite: exercise
// every table/cursor contract without paying for a real memory-mapped
// MDBX environment per test.
package kvtest

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/katana-sequencer/katana/katanalib/kv"
)

type memEnv struct {
	mu     sync.Mutex
	tables map[string]map[string][]byte
	label  kv.Label
}

// NewMemEnv returns a fresh in-memory Env pre-populated with every table
// TablesByLabel(label) names, and registers it for cleanup against t.
func NewMemEnv(t *testing.T, label kv.Label) kv.Env {
	e := &memEnv{tables: make(map[string]map[string][]byte), label: label}
	for _, name := range kv.TablesByLabel(label) {
		e.tables[name] = make(map[string][]byte)
	}
	if t != nil {
		t.Cleanup(func() { _ = e.Close() })
	}
	return e
}

func (e *memEnv) BeginRo(_ context.Context) (kv.Tx, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &memTx{snapshot: e.snapshotLocked()}, nil
}

func (e *memEnv) BeginRw(_ context.Context) (kv.RwTx, error) {
	e.mu.Lock() // released on Commit/Rollback
	return &memTx{env: e, snapshot: e.snapshotLocked(), writable: true}, nil
}

func (e *memEnv) snapshotLocked() map[string]map[string][]byte {
	out := make(map[string]map[string][]byte, len(e.tables))
	for name, tbl := range e.tables {
		cp := make(map[string][]byte, len(tbl))
		for k, v := range tbl {
			cp[k] = v
		}
		out[name] = cp
	}
	return out
}

func (e *memEnv) Update(ctx context.Context, fn func(tx kv.RwTx) error) error {
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

func (e *memEnv) View(ctx context.Context, fn func(tx kv.Tx) error) error {
	tx, err := e.BeginRo(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

func (e *memEnv) Stats() (map[string]kv.TableStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]kv.TableStats, len(e.tables))
	for name, tbl := range e.tables {
		out[name] = kv.TableStats{Entries: uint64(len(tbl))}
	}
	return out, nil
}

func (e *memEnv) Close() error { return nil }

type memTx struct {
	env      *memEnv
	snapshot map[string]map[string][]byte
	writable bool
	done     bool
}

func (t *memTx) table(name string) map[string][]byte {
	tbl, ok := t.snapshot[name]
	if !ok {
		tbl = make(map[string][]byte)
		t.snapshot[name] = tbl
	}
	return tbl
}

func (t *memTx) Get(table string, k []byte) ([]byte, error) {
	v, ok := t.table(table)[string(k)]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (t *memTx) Has(table string, k []byte) (bool, error) {
	_, ok := t.table(table)[string(k)]
	return ok, nil
}

func (t *memTx) Cursor(table string) (kv.Cursor, error) {
	return newMemCursor(t.table(table)), nil
}

func (t *memTx) ForEach(table string, from []byte, walker func(k, v []byte) error) error {
	c := newMemCursor(t.table(table))
	var k, v []byte
	var err error
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
	return err
}

func (t *memTx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	if t.writable {
		t.env.mu.Unlock()
	}
}

func (t *memTx) Put(table string, k, v []byte) error {
	cp := make([]byte, len(v))
	copy(cp, v)
	t.table(table)[string(k)] = cp
	return nil
}

func (t *memTx) Delete(table string, k []byte) error {
	delete(t.table(table), string(k))
	return nil
}

func (t *memTx) RwCursor(table string) (kv.RwCursor, error) {
	return newMemCursor(t.table(table)), nil
}

func (t *memTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.env.mu.Unlock()
	t.env.tables = t.snapshot
	return nil
}

// memCursor walks a point-in-time sorted snapshot of one table's keys; it
// does not observe puts/deletes made through other cursors opened against
// the same transaction, same as a real MDBX cursor's page-local view.
type memCursor struct {
	keys []string
	vals map[string][]byte
	pos  int
}

func newMemCursor(tbl map[string][]byte) *memCursor {
	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &memCursor{keys: keys, vals: tbl, pos: -1}
}

func (c *memCursor) at(i int) ([]byte, []byte, error) {
	if i < 0 || i >= len(c.keys) {
		return nil, nil, nil
	}
	k := c.keys[i]
	return []byte(k), c.vals[k], nil
}

func (c *memCursor) First() ([]byte, []byte, error) { c.pos = 0; return c.at(c.pos) }
func (c *memCursor) Last() ([]byte, []byte, error)  { c.pos = len(c.keys) - 1; return c.at(c.pos) }

func (c *memCursor) Seek(k []byte) ([]byte, []byte, error) {
	i := sort.SearchStrings(c.keys, string(k))
	c.pos = i
	return c.at(i)
}

func (c *memCursor) Next() ([]byte, []byte, error) { c.pos++; return c.at(c.pos) }
func (c *memCursor) Prev() ([]byte, []byte, error) { c.pos--; return c.at(c.pos) }

func (c *memCursor) SeekBySubKey(k, _ []byte) ([]byte, error) {
	_, v, err := c.Seek(k)
	return v, err
}
func (c *memCursor) NextDup() ([]byte, []byte, error)   { return c.Next() }
func (c *memCursor) NextNoDup() ([]byte, []byte, error) { return c.Next() }
func (c *memCursor) Close()                             {}

func (c *memCursor) Put(k, v []byte) error {
	cp := make([]byte, len(v))
	copy(cp, v)
	c.vals[string(k)] = cp
	i := sort.SearchStrings(c.keys, string(k))
	if i >= len(c.keys) || c.keys[i] != string(k) {
		c.keys = append(c.keys, "")
		copy(c.keys[i+1:], c.keys[i:])
		c.keys[i] = string(k)
	}
	return nil
}

func (c *memCursor) Delete(k []byte) error {
	delete(c.vals, string(k))
	i := sort.SearchStrings(c.keys, string(k))
	if i < len(c.keys) && c.keys[i] == string(k) {
		c.keys = append(c.keys[:i], c.keys[i+1:]...)
	}
	return nil
}

func (c *memCursor) DeleteCurrent() error {
	if c.pos < 0 || c.pos >= len(c.keys) {
		return nil
	}
	return c.Delete([]byte(c.keys[c.pos]))
}
