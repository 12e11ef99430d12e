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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/katanalib/kv"
	"github.com/katana-sequencer/katana/katanalib/kv/kvtest"
)

func sealedBlock(number uint64, parent common.BlockHash) *types.SealedBlockWithStatus {
	return &types.SealedBlockWithStatus{
		Header: types.Header{
			ParentHash:      parent,
			Number:          number,
			Timestamp:       1700000000 + number,
			SequencerAddr:   common.AddressFromFelt(common.FeltFromUint64(0x5EA)),
			ProtocolVersion: "0.13.0",
		},
		Status: types.StatusAcceptedOnL2,
	}
}

func TestInsertBlockAndLatestReads(t *testing.T) {
	env := kvtest.NewMemEnv(t, kv.ChainDB)
	defer env.Close()
	provider := NewKVProvider(env)

	addr := common.AddressFromFelt(common.FeltFromUint64(0xA11CE))
	classHash := common.ClassHashFromFelt(common.FeltFromUint64(0xC1A55))
	compiledHash := common.CompiledClassHashFromFelt(common.FeltFromUint64(0xCA5D))
	key := common.StorageKeyFromFelt(common.FeltFromUint64(7))

	block0 := sealedBlock(0, common.BlockHash{})
	updates0 := &types.StateUpdatesWithClasses{
		StateUpdates: types.NewStateUpdates(),
		Classes:      map[common.ClassHash]types.ContractClass{classHash: {Kind: types.ClassSierra}},
		CasmClasses:  map[common.CompiledClassHash]types.CasmClass{compiledHash: {}},
	}
	updates0.StateUpdates.DeployedContracts[addr] = classHash
	updates0.StateUpdates.DeclaredClasses[classHash] = compiledHash
	updates0.StateUpdates.NonceUpdates[addr] = 1
	updates0.StateUpdates.StorageUpdates[addr] = []types.StorageEntry{{Key: key, Value: common.FeltFromUint64(100)}}

	require.NoError(t, provider.InsertBlockWithStatesAndReceipts(block0, updates0, nil, nil, true))
	require.False(t, block0.Header.StateRoot.IsZero())

	latest, err := provider.Latest()
	require.NoError(t, err)
	nonce, err := latest.Nonce(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)

	gotClass, err := latest.ClassHashAt(addr)
	require.NoError(t, err)
	require.Equal(t, classHash, gotClass)

	gotValue, err := latest.StorageAt(addr, key)
	require.NoError(t, err)
	require.Equal(t, common.FeltFromUint64(100), gotValue)

	gotCompiled, err := latest.CompiledClassHash(classHash)
	require.NoError(t, err)
	require.Equal(t, compiledHash, gotCompiled)

	storedHeader, err := provider.HeaderByNumber(0)
	require.NoError(t, err)
	require.Equal(t, block0.Header, storedHeader)
}

func TestHistoricalReadsSurviveLaterBlocks(t *testing.T) {
	env := kvtest.NewMemEnv(t, kv.ChainDB)
	defer env.Close()
	provider := NewKVProvider(env)

	addr := common.AddressFromFelt(common.FeltFromUint64(0xB0B))
	classHash := common.ClassHashFromFelt(common.FeltFromUint64(0xC1A55))
	key := common.StorageKeyFromFelt(common.FeltFromUint64(1))

	block0 := sealedBlock(0, common.BlockHash{})
	updates0 := &types.StateUpdatesWithClasses{StateUpdates: types.NewStateUpdates()}
	updates0.StateUpdates.DeployedContracts[addr] = classHash
	updates0.StateUpdates.NonceUpdates[addr] = 0
	updates0.StateUpdates.StorageUpdates[addr] = []types.StorageEntry{{Key: key, Value: common.FeltFromUint64(1)}}
	require.NoError(t, provider.InsertBlockWithStatesAndReceipts(block0, updates0, nil, nil, true))

	block1 := sealedBlock(1, block0.Header.Hash())
	updates1 := &types.StateUpdatesWithClasses{StateUpdates: types.NewStateUpdates()}
	updates1.StateUpdates.NonceUpdates[addr] = 5
	updates1.StateUpdates.StorageUpdates[addr] = []types.StorageEntry{{Key: key, Value: common.FeltFromUint64(999)}}
	require.NoError(t, provider.InsertBlockWithStatesAndReceipts(block1, updates1, nil, nil, true))

	latest, err := provider.Latest()
	require.NoError(t, err)
	n, err := latest.Nonce(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(5), n)
	v, err := latest.StorageAt(addr, key)
	require.NoError(t, err)
	require.Equal(t, common.FeltFromUint64(999), v)

	hist, err := provider.Historical(types.BlockByNumber(0))
	require.NoError(t, err)
	n0, err := hist.Nonce(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(0), n0)
	v0, err := hist.StorageAt(addr, key)
	require.NoError(t, err)
	require.Equal(t, common.FeltFromUint64(1), v0)

	require.NotEqual(t, block0.Header.StateRoot, block1.Header.StateRoot, "state root must change once storage changes")
}
