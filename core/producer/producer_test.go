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

package producer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katana-sequencer/katana/core/executor"
	"github.com/katana-sequencer/katana/core/state"
	"github.com/katana-sequencer/katana/core/txpool"
	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/katanalib/kv"
	"github.com/katana-sequencer/katana/katanalib/kv/kvtest"
)

// permissiveValidator admits every transaction as immediately executable
// (it reports the tx's own nonce as the sender's current nonce), so tests
// can focus on the producer's scheduling behavior rather than pool
// admission rules.
type permissiveValidator struct{}

func (permissiveValidator) Validate(tx types.Transaction) (uint64, error) { return tx.Nonce, nil }

func newTestProvider(t *testing.T) state.Provider {
	t.Helper()
	env := kvtest.NewMemEnv(t, kv.ChainDB)
	t.Cleanup(func() { env.Close() })
	return state.NewKVProvider(env)
}

func sampleTx(sender common.Address, nonce uint64) types.Transaction {
	return types.Transaction{
		Kind:          types.TxInvokeV1,
		SenderAddress: sender,
		Nonce:         nonce,
		MaxFee:        1_000,
		Calldata:      []common.Felt{common.AddressFromFelt(common.FeltFromUint64(0xB0B)).Felt, common.FeltFromUint64(1)},
	}
}

func TestProducerInstantModeSealsOnePerTx(t *testing.T) {
	provider := newTestProvider(t)
	pool := txpool.New(permissiveValidator{})
	exec := executor.New(executor.NewNativeVM(), executor.BlockLimits{CairoSteps: 1_000_000})

	cfg := Config{
		Mode:          ModeInstant,
		SequencerAddr: common.AddressFromFelt(common.FeltFromUint64(0x5E9)),
	}
	p, err := New(cfg, provider, pool, exec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	sender := common.AddressFromFelt(common.FeltFromUint64(0xA11CE))
	_, err = pool.Add(sampleTx(sender, 0))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err := provider.LatestBlockNumber()
		return err == nil && n == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestProducerOnDemandMineSealsAccumulatedBatch(t *testing.T) {
	provider := newTestProvider(t)
	pool := txpool.New(permissiveValidator{})
	exec := executor.New(executor.NewNativeVM(), executor.BlockLimits{CairoSteps: 1_000_000})

	cfg := Config{
		Mode:          ModeOnDemand,
		SequencerAddr: common.AddressFromFelt(common.FeltFromUint64(0x5E9)),
	}
	p, err := New(cfg, provider, pool, exec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	senderA := common.AddressFromFelt(common.FeltFromUint64(0xA11CE))
	senderB := common.AddressFromFelt(common.FeltFromUint64(0xCAFE))
	_, err = pool.Add(sampleTx(senderA, 0))
	require.NoError(t, err)
	_, err = pool.Add(sampleTx(senderB, 0))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return pool.PendingLen() == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Mine(ctx))

	n, err := provider.LatestBlockNumber()
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)

	head, err := provider.HeaderByNumber(0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), head.Number)

	cancel()
	<-done
}

func TestProducerMineWrongModeRejected(t *testing.T) {
	provider := newTestProvider(t)
	pool := txpool.New(permissiveValidator{})
	exec := executor.New(executor.NewNativeVM(), executor.BlockLimits{CairoSteps: 1_000_000})

	cfg := Config{Mode: ModeInstant}
	p, err := New(cfg, provider, pool, exec)
	require.NoError(t, err)

	require.ErrorIs(t, p.Mine(context.Background()), ErrWrongMode)
}

func TestProducerTimestampOverrides(t *testing.T) {
	provider := newTestProvider(t)
	pool := txpool.New(permissiveValidator{})
	exec := executor.New(executor.NewNativeVM(), executor.BlockLimits{CairoSteps: 1_000_000})

	cfg := Config{Mode: ModeOnDemand}
	p, err := New(cfg, provider, pool, exec)
	require.NoError(t, err)

	p.SetNextBlockTimestamp(1000)
	require.Equal(t, uint64(1000), p.timestamp)
	p.IncreaseNextBlockTimestamp(50)
	require.Equal(t, uint64(1050), p.timestamp)
}
