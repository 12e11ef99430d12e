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
	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/katanalib/kv"
)

// kvStateProvider is the concrete StateProvider KVProvider.Latest/Historical
// hand back. A "latest" provider reads ContractInfo/ContractStorage
// directly; a "historical" one walks the NonceChanges/ClassChanges/
// StorageChanges tables backward from blockNumber via history.go's
// findLast* helpers. Either way it holds one RO transaction open for its
// whole lifetime, so every call sees the same consistent snapshot.
type kvStateProvider struct {
	tx          kv.Tx
	historical  bool
	blockNumber uint64
}

func (s *kvStateProvider) Nonce(address common.Address) (uint64, error) {
	if s.historical {
		n, ok, err := findLastNonceChange(s.tx, address, s.blockNumber)
		if err != nil || !ok {
			return 0, err
		}
		return n, nil
	}
	v, err := s.tx.Get(kv.ContractInfo, addressKey(address))
	if err != nil || v == nil {
		return 0, err
	}
	info, err := types.DecodeContractInfoForStorage(v)
	if err != nil {
		return 0, err
	}
	return info.Nonce, nil
}

func (s *kvStateProvider) ClassHashAt(address common.Address) (common.ClassHash, error) {
	if s.historical {
		ch, ok, err := findLastClassChange(s.tx, address, s.blockNumber)
		if err != nil || !ok {
			return common.ClassHash{}, err
		}
		return ch, nil
	}
	v, err := s.tx.Get(kv.ContractInfo, addressKey(address))
	if err != nil || v == nil {
		return common.ClassHash{}, err
	}
	info, err := types.DecodeContractInfoForStorage(v)
	if err != nil {
		return common.ClassHash{}, err
	}
	return info.ClassHash, nil
}

func (s *kvStateProvider) StorageAt(address common.Address, key common.StorageKey) (common.Felt, error) {
	if s.historical {
		v, ok, err := findLastStorageChange(s.tx, address, key, s.blockNumber)
		if err != nil || !ok {
			return common.Felt{}, err
		}
		return v, nil
	}
	v, err := s.tx.Get(kv.ContractStorage, contractStorageKey(address, key))
	if err != nil || v == nil {
		return common.Felt{}, err
	}
	return common.FeltFromBytes(v), nil
}

// CompiledClassHash is a property of the class itself, not of any
// revision: once declared, a class's compiled hash never changes, so
// both latest and historical providers read the same table.
func (s *kvStateProvider) CompiledClassHash(classHash common.ClassHash) (common.CompiledClassHash, error) {
	v, err := s.tx.Get(kv.CompiledClassHashes, feltKey(classHash.Felt))
	if err != nil || v == nil {
		return common.CompiledClassHash{}, err
	}
	return common.CompiledClassHashFromFelt(common.FeltFromBytes(v)), nil
}
