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
	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/katanalib/kv"
	"github.com/katana-sequencer/katana/katanalib/log"
)

const classesStageName = "Classes"

// ClassesStage backfills the class/CASM body for every Declare transaction
// in a newly-committed block that isn't already present locally (spec.md
// §4.7). It trails the Blocks stage's own checkpoint rather than the
// gateway's tip directly, so it never tries to scan a block that hasn't
// committed yet.
type ClassesStage struct {
	gateway  Gateway
	provider state.Provider
	env      kv.Env
	log      *zap.Logger
}

func NewClassesStage(gateway Gateway, provider state.Provider, env kv.Env) *ClassesStage {
	return &ClassesStage{gateway: gateway, provider: provider, env: env, log: log.Named("classes-stage")}
}

func (s *ClassesStage) RunOnce(ctx context.Context) error {
	next, err := checkpoint(ctx, s.env, classesStageName)
	if err != nil {
		return err
	}
	blocksCheckpoint, err := checkpoint(ctx, s.env, blocksStageName)
	if err != nil {
		return err
	}
	// blocksCheckpoint is "next block to fetch"; every block strictly
	// below it has committed and is safe to scan.
	for next < blocksCheckpoint {
		body, err := s.provider.BodyByNumber(next)
		if err != nil {
			return err
		}
		if err := s.backfill(ctx, body); err != nil {
			return err
		}
		next++
		if err := advanceCheckpoint(ctx, s.env, classesStageName, next); err != nil {
			return err
		}
	}
	return nil
}

func (s *ClassesStage) backfill(ctx context.Context, body types.Body) error {
	for _, twh := range body.Transactions {
		switch twh.Tx.Kind {
		case types.TxDeclareV1, types.TxDeclareV2, types.TxDeclareV3:
		default:
			continue
		}
		if err := s.ensureClass(ctx, twh.Tx.ClassHash, twh.Tx.CompiledClassHash); err != nil {
			return err
		}
	}
	return nil
}

func (s *ClassesStage) ensureClass(ctx context.Context, classHash common.ClassHash, compiledHash common.CompiledClassHash) error {
	if _, err := s.provider.ClassByHash(classHash); err == nil {
		return nil
	} else if !errors.Is(err, state.ErrNotFound) {
		return err
	}

	var class types.ContractClass
	var casm types.CasmClass
	if err := retryWithBackoff(ctx, s.log, func() error {
		var err error
		class, casm, err = s.gateway.Class(ctx, classHash)
		return err
	}); err != nil {
		return &transportErr{err: err}
	}
	return s.provider.InsertClassBodies(
		map[common.ClassHash]types.ContractClass{classHash: class},
		map[common.CompiledClassHash]types.CasmClass{compiledHash: casm},
	)
}
