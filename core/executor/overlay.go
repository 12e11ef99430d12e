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

package executor

import (
	"github.com/katana-sequencer/katana/core/state"
	"github.com/katana-sequencer/katana/katanalib/common"
)

// journalEntry undoes exactly one prior mutation when replayed.
type journalEntry func(*overlayState)

// overlayState is the read-your-writes view one block's worth of
// transactions execute against: reads fall through to base for anything
// not yet touched this block, writes land in the overlay maps, and a
// snapshot/revert journal lets a failed transaction's writes be undone
// without disturbing earlier transactions' — the same snapshot/revert
// shape Ethereum-style clients give their intra-block state object, kept
// here as plain maps since nothing in the retrieval pack's subset ships
// a ready-made one for this domain.
type overlayState struct {
	base state.StateProvider

	nonce             map[common.Address]uint64
	classHash         map[common.Address]common.ClassHash
	storage           map[common.Address]map[common.StorageKey]common.Felt
	compiledClassHash map[common.ClassHash]common.CompiledClassHash

	journal []journalEntry
}

func newOverlayState(base state.StateProvider) *overlayState {
	return &overlayState{
		base:              base,
		nonce:             make(map[common.Address]uint64),
		classHash:         make(map[common.Address]common.ClassHash),
		storage:           make(map[common.Address]map[common.StorageKey]common.Felt),
		compiledClassHash: make(map[common.ClassHash]common.CompiledClassHash),
	}
}

// Snapshot returns a marker that Revert can later roll back to.
func (o *overlayState) Snapshot() int { return len(o.journal) }

// Revert undoes every mutation recorded since id, most recent first.
func (o *overlayState) Revert(id int) {
	for i := len(o.journal) - 1; i >= id; i-- {
		o.journal[i](o)
	}
	o.journal = o.journal[:id]
}

func (o *overlayState) Nonce(address common.Address) (uint64, error) {
	if n, ok := o.nonce[address]; ok {
		return n, nil
	}
	return o.base.Nonce(address)
}

func (o *overlayState) ClassHashAt(address common.Address) (common.ClassHash, error) {
	if ch, ok := o.classHash[address]; ok {
		return ch, nil
	}
	return o.base.ClassHashAt(address)
}

func (o *overlayState) StorageAt(address common.Address, key common.StorageKey) (common.Felt, error) {
	if m, ok := o.storage[address]; ok {
		if v, ok := m[key]; ok {
			return v, nil
		}
	}
	return o.base.StorageAt(address, key)
}

func (o *overlayState) CompiledClassHash(classHash common.ClassHash) (common.CompiledClassHash, error) {
	if ch, ok := o.compiledClassHash[classHash]; ok {
		return ch, nil
	}
	return o.base.CompiledClassHash(classHash)
}

func (o *overlayState) SetNonce(address common.Address, nonce uint64) error {
	old, had := o.nonce[address]
	o.journal = append(o.journal, func(s *overlayState) {
		if had {
			s.nonce[address] = old
		} else {
			delete(s.nonce, address)
		}
	})
	o.nonce[address] = nonce
	return nil
}

func (o *overlayState) SetClassHash(address common.Address, classHash common.ClassHash) error {
	old, had := o.classHash[address]
	o.journal = append(o.journal, func(s *overlayState) {
		if had {
			s.classHash[address] = old
		} else {
			delete(s.classHash, address)
		}
	})
	o.classHash[address] = classHash
	return nil
}

func (o *overlayState) SetStorage(address common.Address, key common.StorageKey, value common.Felt) error {
	m, ok := o.storage[address]
	if !ok {
		m = make(map[common.StorageKey]common.Felt)
		o.storage[address] = m
	}
	old, had := m[key]
	o.journal = append(o.journal, func(s *overlayState) {
		sm := s.storage[address]
		if had {
			sm[key] = old
		} else {
			delete(sm, key)
		}
	})
	m[key] = value
	return nil
}

func (o *overlayState) SetCompiledClassHash(classHash common.ClassHash, compiledHash common.CompiledClassHash) error {
	old, had := o.compiledClassHash[classHash]
	o.journal = append(o.journal, func(s *overlayState) {
		if had {
			s.compiledClassHash[classHash] = old
		} else {
			delete(s.compiledClassHash, classHash)
		}
	})
	o.compiledClassHash[classHash] = compiledHash
	return nil
}
