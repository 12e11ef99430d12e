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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katana-sequencer/katana/core/state"
	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/katanalib/kv"
	"github.com/katana-sequencer/katana/katanalib/kv/kvtest"
)

func seedBalance(t *testing.T, provider state.Provider, address common.Address, amount uint64) {
	t.Helper()
	updates := &types.StateUpdatesWithClasses{StateUpdates: types.NewStateUpdates()}
	updates.StateUpdates.StorageUpdates[address] = []types.StorageEntry{
		{Key: balanceKey(address), Value: common.FeltFromUint64(amount)},
	}
	block := &types.SealedBlockWithStatus{
		Header: types.Header{Number: 0, ProtocolVersion: "0.13.0"},
		Status: types.StatusAcceptedOnL2,
	}
	require.NoError(t, provider.InsertBlockWithStatesAndReceipts(block, updates, nil, nil, true))
}

func TestExecuteBlockTransfer(t *testing.T) {
	env := kvtest.NewMemEnv(t, kv.ChainDB)
	defer env.Close()
	provider := state.NewKVProvider(env)

	sender := common.AddressFromFelt(common.FeltFromUint64(0xA11CE))
	recipient := common.AddressFromFelt(common.FeltFromUint64(0xB0B))
	sequencer := common.AddressFromFelt(common.FeltFromUint64(0x5E9))
	seedBalance(t, provider, sender, 1_000_000)

	base, err := provider.Latest()
	require.NoError(t, err)

	tx := types.Transaction{
		Kind:          types.TxInvokeV1,
		SenderAddress: sender,
		Nonce:         0,
		MaxFee:        1_000,
		Calldata:      []common.Felt{recipient.Felt, common.FeltFromUint64(500)},
	}
	txs := []types.TxWithHash{{Hash: tx.Hash(), Tx: tx}}

	exec := New(NewNativeVM(), BlockLimits{CairoSteps: 1_000_000})
	blockEnv := BlockEnv{Number: 1, SequencerAddr: sequencer, L1GasPrices: types.GasPrices{Wei: 1, Native: 1}}
	flags := ExecutionFlags{AccountValidation: true, Fee: true, NonceCheck: true}

	results, updates, stats, processed, err := exec.ExecuteBlock(blockEnv, flags, base, txs)
	require.NoError(t, err)
	require.Equal(t, 1, processed)
	require.Len(t, results, 1)
	require.Equal(t, ResultSuccess, results[0].Kind)
	require.Equal(t, types.ExecutionSucceeded, results[0].Receipt.Status)
	require.Greater(t, results[0].Receipt.ActualFee, uint64(0))
	require.LessOrEqual(t, results[0].Receipt.ActualFee, uint64(1_000))
	require.Equal(t, uint64(100), stats.CairoStepsUsed)
	require.NotNil(t, results[0].Trace.ValidateInvocation)
	require.NotNil(t, results[0].Trace.ExecuteInvocation)
	require.NotNil(t, results[0].Trace.FeeTransferInvocation)

	require.Equal(t, uint64(1), updates.StateUpdates.NonceUpdates[sender])

	senderEntries := updates.StateUpdates.StorageUpdates[sender]
	require.NotEmpty(t, senderEntries)
	found := false
	for _, e := range senderEntries {
		if e.Key == balanceKey(sender) {
			found = true
			want := 1_000_000 - 500 - results[0].Receipt.ActualFee
			require.Equal(t, common.FeltFromUint64(want), e.Value)
		}
	}
	require.True(t, found)

	recipientEntries := updates.StateUpdates.StorageUpdates[recipient]
	require.Len(t, recipientEntries, 1)
	require.Equal(t, common.FeltFromUint64(500), recipientEntries[0].Value)
}

func TestExecuteBlockInvalidNonce(t *testing.T) {
	env := kvtest.NewMemEnv(t, kv.ChainDB)
	defer env.Close()
	provider := state.NewKVProvider(env)

	sender := common.AddressFromFelt(common.FeltFromUint64(0xA11CE))
	seedBalance(t, provider, sender, 1_000_000)
	base, err := provider.Latest()
	require.NoError(t, err)

	tx := types.Transaction{
		Kind:          types.TxInvokeV1,
		SenderAddress: sender,
		Nonce:         5, // sender's actual nonce is 0
		MaxFee:        1_000,
		Calldata:      []common.Felt{common.FeltFromUint64(0xB0B), common.FeltFromUint64(1)},
	}
	txs := []types.TxWithHash{{Hash: tx.Hash(), Tx: tx}}

	exec := New(NewNativeVM(), BlockLimits{CairoSteps: 1_000_000})
	blockEnv := BlockEnv{Number: 1, SequencerAddr: common.AddressFromFelt(common.FeltFromUint64(1))}
	flags := ExecutionFlags{NonceCheck: true}

	results, updates, _, processed, err := exec.ExecuteBlock(blockEnv, flags, base, txs)
	require.NoError(t, err)
	require.Equal(t, 1, processed)
	require.Len(t, results, 1)
	require.Equal(t, ResultFailed, results[0].Kind)
	require.ErrorIs(t, results[0].Err, ErrInvalidNonce)
	require.Empty(t, updates.StateUpdates.NonceUpdates)
}

func TestExecuteBlockStopsAtResourceCeiling(t *testing.T) {
	env := kvtest.NewMemEnv(t, kv.ChainDB)
	defer env.Close()
	provider := state.NewKVProvider(env)

	sender := common.AddressFromFelt(common.FeltFromUint64(0xA11CE))
	seedBalance(t, provider, sender, 1_000_000)
	base, err := provider.Latest()
	require.NoError(t, err)

	tx := types.Transaction{
		Kind:          types.TxInvokeV1,
		SenderAddress: sender,
		Nonce:         0,
		MaxFee:        1_000,
		Calldata:      []common.Felt{common.FeltFromUint64(0xB0B), common.FeltFromUint64(1)},
	}
	txs := []types.TxWithHash{{Hash: tx.Hash(), Tx: tx}}

	exec := New(NewNativeVM(), BlockLimits{CairoSteps: 50}) // below NativeVM's fixed 100-step cost
	blockEnv := BlockEnv{Number: 1, SequencerAddr: common.AddressFromFelt(common.FeltFromUint64(1))}

	results, _, stats, processed, err := exec.ExecuteBlock(blockEnv, ExecutionFlags{}, base, txs)
	require.ErrorIs(t, err, ErrBlockFull)
	require.Equal(t, 0, processed)
	require.Empty(t, results)
	require.Equal(t, uint64(0), stats.CairoStepsUsed)
}
