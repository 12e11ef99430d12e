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

	"go.uber.org/zap"

	"github.com/katana-sequencer/katana/core/state"
	"github.com/katana-sequencer/katana/katanalib/kv"
	"github.com/katana-sequencer/katana/katanalib/log"
)

const blocksStageName = "Blocks"

// BlocksStage fetches blocks (checkpoint, tip] in parallel batches, orders
// them, and commits each through state.Provider in order (spec.md §4.7).
// A state.ErrRootMismatch on any block aborts the stage without advancing
// the checkpoint, so the next run retries from the same point.
type BlocksStage struct {
	gateway   Gateway
	provider  state.Provider
	env       kv.Env
	batchSize int
	log       *zap.Logger
}

func NewBlocksStage(gateway Gateway, provider state.Provider, env kv.Env, batchSize int) *BlocksStage {
	return &BlocksStage{gateway: gateway, provider: provider, env: env, batchSize: batchSize, log: log.Named("blocks-stage")}
}

// RunOnce fetches and commits every block up to and including tip, advancing
// the Blocks checkpoint after each individual commit.
func (s *BlocksStage) RunOnce(ctx context.Context, tip uint64) error {
	next, err := checkpoint(ctx, s.env, blocksStageName)
	if err != nil {
		return err
	}
	for next <= tip {
		n := s.batchSize
		if remaining := tip - next + 1; uint64(n) > remaining {
			n = int(remaining)
		}
		batch, err := fetchBatch(ctx, s.gateway, next, n)
		if err != nil {
			return err
		}
		for _, fb := range batch {
			if err := s.provider.InsertBlockWithStatesAndReceipts(fb.Block, fb.Updates, fb.Receipts, fb.Traces, false); err != nil {
				if errors.Is(err, state.ErrRootMismatch) {
					s.log.Error("root mismatch, aborting blocks stage without advancing checkpoint",
						zap.Uint64("block", fb.Block.Header.Number), zap.Error(err))
				}
				return err
			}
			next = fb.Block.Header.Number + 1
			if err := advanceCheckpoint(ctx, s.env, blocksStageName, next); err != nil {
				return err
			}
		}
	}
	return nil
}
