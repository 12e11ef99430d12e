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
	"fmt"

	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/subscription"
)

// BlockEvents is one committed block's worth of input the Indexer
// consumes: produced either by BlockProducer (C6) directly or by the
// Pipeline's chain-tip follower (C7), per spec.md §4.9's "stream of
// (Block, [TxWithHash], [Receipt])".
type BlockEvents struct {
	Header   types.Header
	Txs      []types.TxWithHash
	Receipts []types.Receipt
}

// Indexer drives BlockEvents through a Processor and into a WriteExecutor,
// enforcing spec.md §5's ordering guarantee: events are processed in
// (block_number, tx_index, event_index) lexicographic order, the only
// total order exposed to subscribers.
type Indexer struct {
	schema    *SchemaCache
	registry  *Registry
	processor *Processor
	executor  *WriteExecutor
}

// New builds an Indexer backed by executor, classifying events against a
// fresh schema cache and the given contract registry.
func New(executor *WriteExecutor, registry *Registry) *Indexer {
	schema := NewSchemaCache()
	return &Indexer{
		schema:    schema,
		registry:  registry,
		processor: NewProcessor(schema, registry),
		executor:  executor,
	}
}

// ProcessBlock walks be's receipts' events in order, routes each through
// the Processor, lazily creates any newly-registered model's generated
// table, and submits the whole block as one write-executor job.
func (ix *Indexer) ProcessBlock(ctx context.Context, be BlockEvents) error {
	var batches []eventBatch
	for txIdx, r := range be.Receipts {
		for evIdx, ev := range r.Events {
			raw := fromEvent(ev, be.Header.Number, txIdx, evIdx)
			batch, err := ix.processor.Process(raw)
			if err != nil {
				return fmt.Errorf("indexer: block %d tx %d event %d: %w", be.Header.Number, txIdx, evIdx, err)
			}
			if model, ok := modelFromBatch(raw); ok {
				if err := ix.executor.EnsureModelTable(model); err != nil {
					return err
				}
			}
			batches = append(batches, batch)
		}
	}
	return ix.executor.Submit(ctx, be.Header.Number, batches)
}

// modelFromBatch reports whether raw was a ModelRegistered/ModelUpgraded
// event and, if so, returns the model just registered so its generated
// table can be created before the same block's StoreSetRecord events try
// to write into it.
func modelFromBatch(raw RawEvent) (Model, bool) {
	sel := raw.Selector()
	if sel != SelModelRegistered && sel != SelModelUpgraded {
		return Model{}, false
	}
	model, err := decodeModelRegistration(raw)
	if err != nil {
		return Model{}, false
	}
	return model, true
}

// Run drives the Indexer's WriteExecutor goroutine until ctx is
// cancelled; callers feed it blocks separately via ProcessBlock (typically
// from the same task-group goroutine that owns the chain-tip follower).
func (ix *Indexer) Run(ctx context.Context) error {
	return ix.executor.Run(ctx)
}

// Head returns the last committed block number.
func (ix *Indexer) Head() (uint64, bool) { return ix.executor.Head() }

// RegisterContract tells the indexer a deployed address's ERC-*/UDC kind,
// e.g. after observing a UDC ContractDeployed event and inspecting its
// class, or from static genesis configuration.
func (ix *Indexer) RegisterContract(addr common.Address, kind ContractKind) {
	ix.registry.Register(addr, kind)
}

// Bus-typed convenience so callers don't need to import subscription just
// to type a Bus reference when wiring an Indexer end to end.
type Bus = subscription.Bus
