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
	"github.com/katana-sequencer/katana/core/trie"
	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/katanalib/kv"
)

// trieSet is the concrete TrieWriter/TrieReader: the contracts and classes
// tries plus however many per-contract storage tries a block touches, all
// opened against the same priorBlock revision so Insert calls made through
// it continue from the previous block's committed state.
type trieSet struct {
	tx        kv.RwTx
	prior     *uint64
	contracts *trie.Trie
	classes   *trie.Trie
	storage   map[common.Address]*trie.Trie
}

func newTrieSet(tx kv.RwTx, prior *uint64) (*trieSet, error) {
	contracts, err := trie.Open(tx, trie.TrieContracts, kv.TrieNodesContracts, trie.PedersenHash, prior)
	if err != nil {
		return nil, err
	}
	classes, err := trie.Open(tx, trie.TrieClasses, kv.TrieNodesClasses, trie.PoseidonHash, prior)
	if err != nil {
		return nil, err
	}
	return &trieSet{tx: tx, prior: prior, contracts: contracts, classes: classes, storage: make(map[common.Address]*trie.Trie)}, nil
}

func (ts *trieSet) storageTrie(address common.Address) (*trie.Trie, error) {
	if t, ok := ts.storage[address]; ok {
		return t, nil
	}
	addr := address.Bytes()
	t, err := trie.OpenSub(ts.tx, trie.TrieStorage, kv.TrieNodesStorage, trie.PedersenHash, addr[:], ts.prior)
	if err != nil {
		return nil, err
	}
	ts.storage[address] = t
	return t, nil
}

func (ts *trieSet) UpdateStorage(address common.Address, key common.StorageKey, value common.Felt) error {
	t, err := ts.storageTrie(address)
	if err != nil {
		return err
	}
	return t.Insert(key.Felt, value)
}

func (ts *trieSet) StorageRoot(address common.Address) (common.Felt, error) {
	t, err := ts.storageTrie(address)
	if err != nil {
		return common.Felt{}, err
	}
	return t.Root()
}

// UpdateContract sets the contracts-trie leaf for address: spec.md §3's
// leaf = Pedersen(Pedersen(Pedersen(class_hash, storage_root), nonce), 0).
func (ts *trieSet) UpdateContract(address common.Address, classHash common.ClassHash, storageRoot common.Felt, nonce uint64) error {
	leaf := common.Pedersen(common.Pedersen(common.Pedersen(classHash.Felt, storageRoot), common.FeltFromUint64(nonce)), common.FeltFromUint64(0))
	return ts.contracts.Insert(address.Felt, leaf)
}

// UpdateClass sets the classes-trie leaf for classHash: spec.md §3's
// leaf = Poseidon(CONTRACT_CLASS_LEAF_V0, compiled_class_hash).
func (ts *trieSet) UpdateClass(classHash common.ClassHash, compiledHash common.CompiledClassHash) error {
	leaf := common.Poseidon(common.ContractClassLeafV0, compiledHash.Felt)
	return ts.classes.Insert(classHash.Felt, leaf)
}

func (ts *trieSet) ContractsRoot() (common.Felt, error) { return ts.contracts.Root() }
func (ts *trieSet) ClassesRoot() (common.Felt, error)   { return ts.classes.Root() }

// StateRoot is spec.md §3's Poseidon(STARKNET_STATE_V0, contracts_root, classes_root).
func (ts *trieSet) StateRoot() (common.Felt, error) {
	cr, err := ts.ContractsRoot()
	if err != nil {
		return common.Felt{}, err
	}
	kr, err := ts.ClassesRoot()
	if err != nil {
		return common.Felt{}, err
	}
	return common.Poseidon(common.StarknetStateV0, cr, kr), nil
}

// CommitTries stamps a new committed revision, blockNumber, across every
// trie this set touched: every contract's storage trie first (so the
// contracts-trie leaves they feed into are themselves already durable),
// then the contracts and classes tries.
func (ts *trieSet) CommitTries(blockNumber uint64) error {
	for _, t := range ts.storage {
		if _, err := t.Commit(blockNumber); err != nil {
			return err
		}
	}
	if _, err := ts.contracts.Commit(blockNumber); err != nil {
		return err
	}
	if _, err := ts.classes.Commit(blockNumber); err != nil {
		return err
	}
	return nil
}
