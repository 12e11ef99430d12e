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

package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/subscription"
)

func asciiFelt(s string) common.Felt { return common.FeltFromBytes([]byte(s)) }

func newTestIndexer(t *testing.T) (*Indexer, common.Address) {
	t.Helper()
	bus := subscription.New()
	exec, err := Open(":memory:", bus)
	require.NoError(t, err)
	t.Cleanup(func() { exec.Close() })

	worldAddr := common.AddressFromFelt(common.FeltFromUint64(1))
	udcAddr := common.AddressFromFelt(common.FeltFromUint64(2))
	registry := NewRegistry(worldAddr, udcAddr)
	ix := New(exec, registry)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = ix.Run(ctx) }()

	return ix, worldAddr
}

// TestIndexerModelRegisterAndSetRecord uses spec.md §8 Scenario D's events:
// register a model and set a record in the same block, then confirm the
// block head advances and the model sits in the schema cache with one key
// member. It does not read the entity's values back.
func TestIndexerModelRegisterAndSetRecord(t *testing.T) {
	ix, worldAddr := newTestIndexer(t)

	modelRegistered := types.Event{
		FromAddress: worldAddr,
		Keys:        []common.Felt{SelModelRegistered.Felt},
		Data: []common.Felt{
			asciiFelt("game"), asciiFelt("Position"), common.FeltFromUint64(3),
			asciiFelt("id"), asciiFelt("Felt"), common.FeltFromUint64(1),
			asciiFelt("x"), asciiFelt("u32"), common.FeltFromUint64(0),
			asciiFelt("y"), asciiFelt("u32"), common.FeltFromUint64(0),
		},
	}
	setRecord := types.Event{
		FromAddress: worldAddr,
		Keys:        []common.Felt{SelStoreSetRecord.Felt},
		Data: []common.Felt{
			asciiFelt("game"), asciiFelt("Position"), common.FeltFromUint64(1),
			common.FeltFromUint64(0x1),
			common.FeltFromUint64(3), common.FeltFromUint64(4),
		},
	}

	be := BlockEvents{
		Header: types.Header{Number: 1},
		Receipts: []types.Receipt{
			{Events: []types.Event{modelRegistered, setRecord}},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ix.ProcessBlock(ctx, be))

	head, ok := ix.Head()
	require.True(t, ok)
	require.Equal(t, uint64(1), head)

	model, ok := ix.schema.Get("game", "Position")
	require.True(t, ok)
	require.Equal(t, "game-Position", model.QualifiedName())
	require.Len(t, model.KeyMembers(), 1)
}

// TestIndexerIdempotentReplay reproduces spec.md §8 invariant 5: replaying
// the same block twice must not double-apply its writes.
func TestIndexerIdempotentReplay(t *testing.T) {
	ix, worldAddr := newTestIndexer(t)

	modelRegistered := types.Event{
		FromAddress: worldAddr,
		Keys:        []common.Felt{SelModelRegistered.Felt},
		Data: []common.Felt{
			asciiFelt("ns"), asciiFelt("Counter"), common.FeltFromUint64(1),
			asciiFelt("id"), asciiFelt("Felt"), common.FeltFromUint64(1),
		},
	}
	be := BlockEvents{
		Header:   types.Header{Number: 1},
		Receipts: []types.Receipt{{Events: []types.Event{modelRegistered}}},
	}

	ctx := context.Background()
	require.NoError(t, ix.ProcessBlock(ctx, be))
	require.NoError(t, ix.ProcessBlock(ctx, be))

	var count int
	row := ix.executor.db.QueryRow(`SELECT COUNT(*) FROM models WHERE namespace = 'ns' AND name = 'Counter'`)
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)
}

func TestERC20TransferUpdatesTokenBalances(t *testing.T) {
	bus := subscription.New()
	exec, err := Open(":memory:", bus)
	require.NoError(t, err)
	defer exec.Close()

	erc20 := common.AddressFromFelt(common.FeltFromUint64(10))
	worldAddr := common.AddressFromFelt(common.FeltFromUint64(1))
	udcAddr := common.AddressFromFelt(common.FeltFromUint64(2))
	registry := NewRegistry(worldAddr, udcAddr)
	registry.Register(erc20, ContractERC20)
	ix := New(exec, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ix.Run(ctx) }()

	from := common.AddressFromFelt(common.FeltFromUint64(100))
	to := common.AddressFromFelt(common.FeltFromUint64(200))
	transfer := types.Event{
		FromAddress: erc20,
		Keys:        []common.Felt{SelTransferV0.Felt, from.Felt, to.Felt},
		Data:        []common.Felt{common.FeltFromUint64(1000)},
	}

	be := BlockEvents{
		Header:   types.Header{Number: 1},
		Receipts: []types.Receipt{{Events: []types.Event{transfer}}},
	}

	submitCtx, cancelSubmit := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelSubmit()
	require.NoError(t, ix.ProcessBlock(submitCtx, be))

	var balance string
	row := exec.db.QueryRow(`SELECT balance FROM tokens WHERE contract = ? AND account = ?`, erc20.String(), to.String())
	require.NoError(t, row.Scan(&balance))
	require.Equal(t, "1000", balance)
}
