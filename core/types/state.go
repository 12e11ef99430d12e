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

package types

import "github.com/katana-sequencer/katana/katanalib/common"

// ContractInfo is the ContractInfo table's value: a contract's current
// class and nonce.
type ContractInfo struct {
	ClassHash common.ClassHash
	Nonce     uint64
}

// StorageEntry is one (key, value) pair written during a block.
type StorageEntry struct {
	Key   common.StorageKey
	Value common.Felt
}

// StateUpdates bundles one block's state deltas; content-addressable by
// the resulting state root (spec.md §3).
type StateUpdates struct {
	NonceUpdates   map[common.Address]uint64
	StorageUpdates map[common.Address][]StorageEntry
	DeployedContracts map[common.Address]common.ClassHash
	ReplacedClasses   map[common.Address]common.ClassHash
	DeclaredClasses   map[common.ClassHash]common.CompiledClassHash
}

// NewStateUpdates returns an empty, ready-to-fill StateUpdates.
func NewStateUpdates() *StateUpdates {
	return &StateUpdates{
		NonceUpdates:      make(map[common.Address]uint64),
		StorageUpdates:    make(map[common.Address][]StorageEntry),
		DeployedContracts: make(map[common.Address]common.ClassHash),
		ReplacedClasses:   make(map[common.Address]common.ClassHash),
		DeclaredClasses:   make(map[common.ClassHash]common.CompiledClassHash),
	}
}

// StateUpdatesWithClasses pairs a block's state deltas with the full class
// bodies of any class declared in that block (the provider needs both to
// populate Classes/CompiledClasses alongside CompiledClassHashes).
type StateUpdatesWithClasses struct {
	StateUpdates *StateUpdates
	Classes      map[common.ClassHash]ContractClass
	CasmClasses  map[common.CompiledClassHash]CasmClass
}
