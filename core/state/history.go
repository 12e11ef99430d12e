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

package state

import (
	"encoding/binary"

	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/katanalib/kv"
)

// The NonceChanges/ClassChanges/StorageChanges tables are specified
// (spec.md §4.1) as "block number -> address [,key], dup-sort"; a dup-sort
// table's value for a given primary key is a set, queried by sub-key. We
// flatten that into a single composite key (block number ++ address [++
// storage key]) so a plain key-value Get/Has also serves as the dup-sort
// membership test, the same trick SeekBySubKey performs against the real
// MDBX dup-sort page layout. Unlike the current-value ContractInfo /
// ContractStorage tables, the value stored here is a snapshot of what the
// field became at that block, so "StateProvider::historical(n)" (spec.md
// §4.3) never needs more than one backward scan plus one Get to answer:
// this mirrors Erigon's own split between a fast "latest" table and a
// separate append-only history domain (see history_reader_v3.go's
// GetAsOf), just without Erigon's inverted-index acceleration structure.

func changeKeyAddr(block uint64, address common.Address) []byte {
	k := make([]byte, 8+common.FeltBytes)
	binary.BigEndian.PutUint64(k[:8], block)
	addr := address.Bytes()
	copy(k[8:], addr[:])
	return k
}

func changeKeyStorage(block uint64, address common.Address, key common.StorageKey) []byte {
	k := make([]byte, 8+2*common.FeltBytes)
	binary.BigEndian.PutUint64(k[:8], block)
	addr := address.Bytes()
	copy(k[8:], addr[:])
	sk := key.Bytes()
	copy(k[8+common.FeltBytes:], sk[:])
	return k
}

func recordNonceChange(tx kv.RwTx, block uint64, address common.Address, nonce uint64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], nonce)
	return tx.Put(kv.NonceChanges, changeKeyAddr(block, address), v[:])
}

func recordClassChange(tx kv.RwTx, block uint64, address common.Address, classHash common.ClassHash) error {
	b := classHash.Bytes()
	return tx.Put(kv.ClassChanges, changeKeyAddr(block, address), b[:])
}

func recordStorageChange(tx kv.RwTx, block uint64, address common.Address, key common.StorageKey, value common.Felt) error {
	b := value.Bytes()
	return tx.Put(kv.StorageChanges, changeKeyStorage(block, address, key), b[:])
}

// findLastNonceChange returns the nonce address had as of the largest
// block b' <= atBlock at which it changed. ok is false if address's nonce
// never changed at or before atBlock.
func findLastNonceChange(tx kv.Tx, address common.Address, atBlock uint64) (uint64, bool, error) {
	for b := atBlock; ; b-- {
		v, err := tx.Get(kv.NonceChanges, changeKeyAddr(b, address))
		if err != nil {
			return 0, false, err
		}
		if v != nil {
			return binary.BigEndian.Uint64(v), true, nil
		}
		if b == 0 {
			return 0, false, nil
		}
	}
}

// findLastClassChange is the ClassChanges analogue of findLastNonceChange.
func findLastClassChange(tx kv.Tx, address common.Address, atBlock uint64) (common.ClassHash, bool, error) {
	for b := atBlock; ; b-- {
		v, err := tx.Get(kv.ClassChanges, changeKeyAddr(b, address))
		if err != nil {
			return common.ClassHash{}, false, err
		}
		if v != nil {
			return common.ClassHashFromFelt(common.FeltFromBytes(v)), true, nil
		}
		if b == 0 {
			return common.ClassHash{}, false, nil
		}
	}
}

// findLastStorageChange is the StorageChanges analogue, for one (address,key).
func findLastStorageChange(tx kv.Tx, address common.Address, key common.StorageKey, atBlock uint64) (common.Felt, bool, error) {
	for b := atBlock; ; b-- {
		v, err := tx.Get(kv.StorageChanges, changeKeyStorage(b, address, key))
		if err != nil {
			return common.Felt{}, false, err
		}
		if v != nil {
			return common.FeltFromBytes(v), true, nil
		}
		if b == 0 {
			return common.Felt{}, false, nil
		}
	}
}
