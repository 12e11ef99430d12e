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

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katana-sequencer/katana/core/state"
	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/katanalib/kv"
	"github.com/katana-sequencer/katana/katanalib/kv/kvtest"
)

// fakeGateway serves a fixed chain of blocks and classes out of memory, and
// can be configured to fail the first N calls to exercise retry paths.
type fakeGateway struct {
	mu       sync.Mutex
	blocks   map[uint64]FetchedBlock
	classes  map[common.ClassHash]struct {
		class types.ContractClass
		casm  types.CasmClass
	}
	tip       uint64
	failFirst int
	calls     int
}

func (g *fakeGateway) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return g.tip, nil
}

func (g *fakeGateway) BlockByNumber(ctx context.Context, number uint64) (FetchedBlock, error) {
	g.mu.Lock()
	g.calls++
	if g.calls <= g.failFirst {
		g.mu.Unlock()
		return FetchedBlock{}, errors.New("simulated transport failure")
	}
	g.mu.Unlock()
	b, ok := g.blocks[number]
	if !ok {
		return FetchedBlock{}, errors.New("no such block")
	}
	return b, nil
}

func (g *fakeGateway) Class(ctx context.Context, classHash common.ClassHash) (types.ContractClass, types.CasmClass, error) {
	c, ok := g.classes[classHash]
	if !ok {
		return types.ContractClass{}, types.CasmClass{}, errors.New("no such class")
	}
	return c.class, c.casm, nil
}

func newTestEnvAndProvider(t *testing.T) (kv.Env, state.Provider) {
	t.Helper()
	env := kvtest.NewMemEnv(t, kv.ChainDB)
	return env, state.NewKVProvider(env)
}

// seedFetchedBlocks mints n valid, root-filled blocks against a throwaway
// provider (mirroring how a real sequencer would have produced them), so
// the Blocks stage's filledRoots=false commit path has real roots to check
// against rather than zero values.
func seedFetchedBlocks(t *testing.T, n int) []FetchedBlock {
	t.Helper()
	_, seed := newTestEnvAndProvider(t)
	out := make([]FetchedBlock, n)
	for i := 0; i < n; i++ {
		number := uint64(i)
		var parent common.BlockHash
		if i > 0 {
			parent = out[i-1].Block.Header.Hash()
		}
		block := &types.SealedBlockWithStatus{
			Header: types.Header{ParentHash: parent, Number: number, ProtocolVersion: "0.13.0"},
			Body:   types.Body{},
			Status: types.StatusAcceptedOnL2,
		}
		updates := &types.StateUpdatesWithClasses{StateUpdates: types.NewStateUpdates()}
		require.NoError(t, seed.InsertBlockWithStatesAndReceipts(block, updates, nil, nil, true))
		out[i] = FetchedBlock{Block: block, Updates: updates}
	}
	return out
}

func TestBlocksStageFetchesAndCommitsInOrder(t *testing.T) {
	env, provider := newTestEnvAndProvider(t)

	seeded := seedFetchedBlocks(t, 3)
	gw := &fakeGateway{blocks: map[uint64]FetchedBlock{}, tip: 2}
	for _, fb := range seeded {
		gw.blocks[fb.Block.Header.Number] = fb
	}

	stage := NewBlocksStage(gw, provider, env, 2)
	require.NoError(t, stage.RunOnce(context.Background(), gw.tip))

	n, err := provider.LatestBlockNumber()
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)

	cp, err := checkpoint(context.Background(), env, blocksStageName)
	require.NoError(t, err)
	require.Equal(t, uint64(3), cp)
}

func TestBlocksStageRetriesTransportFailures(t *testing.T) {
	env, provider := newTestEnvAndProvider(t)
	seeded := seedFetchedBlocks(t, 1)
	gw := &fakeGateway{
		blocks:    map[uint64]FetchedBlock{0: seeded[0]},
		tip:       0,
		failFirst: 2,
	}
	stage := NewBlocksStage(gw, provider, env, 1)
	require.NoError(t, stage.RunOnce(context.Background(), 0))

	n, err := provider.LatestBlockNumber()
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)
}

func TestClassesStageBackfillsDeclaredClass(t *testing.T) {
	env, provider := newTestEnvAndProvider(t)

	classHash := common.ClassHashFromFelt(common.FeltFromUint64(0xC1A55))
	compiledHash := common.CompiledClassHashFromFelt(common.FeltFromUint64(0xCA5D))
	declareTx := types.Transaction{
		Kind:              types.TxDeclareV2,
		ClassHash:         classHash,
		CompiledClassHash: compiledHash,
	}
	twh := types.TxWithHash{Hash: declareTx.Hash(), Tx: declareTx}
	block := &types.SealedBlockWithStatus{
		Header: types.Header{Number: 0, ProtocolVersion: "0.13.0"},
		Body:   types.Body{Transactions: []types.TxWithHash{twh}},
		Status: types.StatusAcceptedOnL2,
	}
	require.NoError(t, provider.InsertBlockWithStatesAndReceipts(
		block,
		&types.StateUpdatesWithClasses{StateUpdates: types.NewStateUpdates()},
		[]types.Receipt{{}},
		[]types.TxExecInfo{{}},
		true,
	))
	require.NoError(t, advanceCheckpoint(context.Background(), env, blocksStageName, 1))

	gw := &fakeGateway{classes: map[common.ClassHash]struct {
		class types.ContractClass
		casm  types.CasmClass
	}{
		classHash: {class: types.ContractClass{Kind: types.ClassSierra}, casm: types.CasmClass{}},
	}}

	stage := NewClassesStage(gw, provider, env)
	require.NoError(t, stage.RunOnce(context.Background()))

	_, err := provider.ClassByHash(classHash)
	require.NoError(t, err)

	cp, err := checkpoint(context.Background(), env, classesStageName)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cp)
}
