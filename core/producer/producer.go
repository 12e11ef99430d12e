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

// Package producer is component C6: the three-mode block-producer state
// machine (spec.md §4.6). It drains core/txpool into core/executor and
// commits the result through core/state, the same "driver owns one
// pending unit of work and commits it atomically through the provider"
// shape as the teacher's stage-sync Sync object, narrowed from a chain of
// stages to a single produce-and-commit step repeated on one of three
// triggers.
package producer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/katana-sequencer/katana/core/executor"
	"github.com/katana-sequencer/katana/core/state"
	"github.com/katana-sequencer/katana/core/txpool"
	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/katanalib/log"
	"github.com/katana-sequencer/katana/katanalib/metrics"
)

// Mode selects which of the three scheduling rules closes a block
// (spec.md §4.6).
type Mode uint8

const (
	ModeInstant Mode = iota
	ModeInterval
	ModeOnDemand
)

func (m Mode) String() string {
	switch m {
	case ModeInstant:
		return "instant"
	case ModeInterval:
		return "interval"
	case ModeOnDemand:
		return "on_demand"
	default:
		return "unknown"
	}
}

// ErrWrongMode is returned by Mine when the producer isn't running in
// ModeOnDemand.
var ErrWrongMode = errors.New("producer: mine() only valid in on-demand mode")

// Config is the fixed, non-reconfigurable shape of the producer: its
// mode, block environment template, and the executor flags every
// produced block runs under. The resource ceiling itself lives on the
// injected *executor.Executor, not here.
type Config struct {
	Mode            Mode
	Interval        time.Duration // ModeInterval only
	SequencerAddr   common.Address
	L1GasPrices     types.GasPrices
	ProtocolVersion string
	Flags           executor.ExecutionFlags
}

// Producer drains txpool.Pool into executor.Executor and commits sealed
// blocks through state.Provider.
type Producer struct {
	cfg      Config
	provider state.Provider
	pool     *txpool.Pool
	exec     *executor.Executor
	log      *zap.Logger

	// pendingMu is the read-write lease spec.md §5 describes: RPC reads
	// of the "pending" tag take the read side, the producer's own close
	// step takes the write side.
	pendingMu sync.RWMutex
	nextNum   uint64
	timestamp uint64
	txs       []types.TxWithHash
	updates   *types.StateUpdatesWithClasses
	base      state.StateProvider

	mineCh chan chan error
}

// New constructs a Producer. Call Run to start its drive loop.
func New(cfg Config, provider state.Provider, pool *txpool.Pool, exec *executor.Executor) (*Producer, error) {
	next, err := nextBlockNumber(provider)
	if err != nil {
		return nil, err
	}
	p := &Producer{
		cfg:       cfg,
		provider:  provider,
		pool:      pool,
		exec:      exec,
		log:       log.Named("producer"),
		nextNum:   next,
		timestamp: uint64(timeNowUnix()),
		mineCh:    make(chan chan error),
	}
	return p, nil
}

func nextBlockNumber(provider state.Provider) (uint64, error) {
	n, err := provider.LatestBlockNumber()
	if errors.Is(err, state.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

var timeNowUnix = func() int64 { return time.Now().Unix() }

// Run is the producer's long-lived drive loop: it never sleeps
// unconditionally and always selects against ctx (spec.md §5).
func (p *Producer) Run(ctx context.Context) error {
	listener := p.pool.AddListener(ctx)

	switch p.cfg.Mode {
	case ModeInstant:
		return p.runInstant(ctx, listener)
	case ModeInterval:
		return p.runInterval(ctx, listener)
	case ModeOnDemand:
		return p.runOnDemand(ctx, listener)
	default:
		return fmt.Errorf("producer: unknown mode %d", p.cfg.Mode)
	}
}

func (p *Producer) runInstant(ctx context.Context, listener <-chan common.TxHash) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-listener:
			for {
				twh, ok := p.pool.TakeOne()
				if !ok {
					break
				}
				if err := p.closeBlock(ctx, []types.TxWithHash{twh}); err != nil {
					return err
				}
			}
		}
	}
}

func (p *Producer) runInterval(ctx context.Context, listener <-chan common.TxHash) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-listener:
			p.drainIntoPending()
		case <-ticker.C:
			if err := p.sealPending(ctx); err != nil {
				return err
			}
		}
	}
}

func (p *Producer) runOnDemand(ctx context.Context, listener <-chan common.TxHash) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-listener:
			p.drainIntoPending()
		case resp := <-p.mineCh:
			resp <- p.sealPending(ctx)
		}
	}
}

// Mine requests an immediate block close; only valid in ModeOnDemand.
func (p *Producer) Mine(ctx context.Context) error {
	if p.cfg.Mode != ModeOnDemand {
		return ErrWrongMode
	}
	resp := make(chan error, 1)
	select {
	case p.mineCh <- resp:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drainIntoPending pulls every currently-pending transaction into the
// in-progress pending block and re-executes the accumulated batch, so
// "pending" reads observe them immediately (Interval/OnDemand only).
func (p *Producer) drainIntoPending() {
	drained := p.pool.TakeAll()
	if len(drained) == 0 {
		return
	}
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if p.base == nil {
		base, err := p.provider.Latest()
		if err != nil {
			p.log.Error("open pending base state", zap.Error(err))
			return
		}
		p.base = base
	}
	p.txs = append(p.txs, drained...)
	p.reexecuteLocked()
}

// reexecuteLocked replays p.txs against p.base from scratch. The executor
// is deterministic and a dev-mode pending batch is small, so a fresh
// ExecuteBlock call per arrival is simpler and cheaper to reason about
// than threading incremental state through the executor's overlay.
func (p *Producer) reexecuteLocked() {
	env := p.envLocked()
	_, updates, _, executedFrom, err := p.exec.ExecuteBlock(env, p.cfg.Flags, p.base, p.txs)
	if err != nil && !errors.Is(err, executor.ErrBlockFull) {
		p.log.Error("re-execute pending block", zap.Error(err))
		return
	}
	if errors.Is(err, executor.ErrBlockFull) {
		// Anything past the ceiling rolls back out of the pending batch
		// and returns to the pool for the next block.
		overflow := p.txs[executedFrom:]
		p.txs = p.txs[:executedFrom]
		for _, twh := range overflow {
			p.requeue(twh.Tx)
		}
	}
	p.updates = updates
}

func (p *Producer) envLocked() executor.BlockEnv {
	return executor.BlockEnv{
		Number:          p.nextNum,
		Timestamp:       p.timestamp,
		SequencerAddr:   p.cfg.SequencerAddr,
		L1GasPrices:     p.cfg.L1GasPrices,
		ProtocolVersion: p.cfg.ProtocolVersion,
	}
}

// closeBlock is ModeInstant's direct path: execute exactly txs, seal, and
// commit, with no persistent pending-executor state in between.
func (p *Producer) closeBlock(ctx context.Context, txs []types.TxWithHash) error {
	base, err := p.provider.Latest()
	if err != nil {
		return err
	}
	p.pendingMu.Lock()
	p.base = base
	p.txs = txs
	env := p.envLocked()
	p.pendingMu.Unlock()

	results, updates, _, executedFrom, err := p.exec.ExecuteBlock(env, p.cfg.Flags, base, txs)
	if err != nil && !errors.Is(err, executor.ErrBlockFull) {
		return err
	}
	for _, twh := range txs[executedFrom:] {
		p.requeue(twh.Tx)
	}
	return p.commit(ctx, txs[:executedFrom], results, updates, env)
}

// sealPending closes the Interval/OnDemand in-progress block: whatever
// has accumulated in p.txs/p.updates becomes the sealed block, and a
// fresh pending executor opens for the next one.
func (p *Producer) sealPending(ctx context.Context) error {
	p.pendingMu.Lock()
	txs := p.txs
	env := p.envLocked()
	if p.base == nil {
		base, err := p.provider.Latest()
		if err != nil {
			p.pendingMu.Unlock()
			return err
		}
		p.base = base
	}
	base := p.base
	p.pendingMu.Unlock()

	if len(txs) == 0 {
		return nil
	}

	// Re-derive per-transaction results/receipts for exactly the
	// transactions being sealed (drainIntoPending already validated the
	// whole batch fits the resource ceiling).
	results, updates, _, executedFrom, err := p.exec.ExecuteBlock(env, p.cfg.Flags, base, txs)
	if err != nil && !errors.Is(err, executor.ErrBlockFull) {
		return err
	}
	if err := p.commit(ctx, txs[:executedFrom], results, updates, env); err != nil {
		return err
	}

	p.pendingMu.Lock()
	p.txs = nil
	p.updates = nil
	p.base = nil
	p.pendingMu.Unlock()
	return nil
}

// commit builds the sealed header/body from the executor's results,
// commits it through state.Provider and advances the producer's cursor.
// It does not touch the pool: the block's transactions were already taken
// out of it when they were drained for execution.
func (p *Producer) commit(ctx context.Context, txs []types.TxWithHash, results []executor.ExecutionResult, updates *types.StateUpdatesWithClasses, env executor.BlockEnv) error {
	start := time.Now()

	var included []types.TxWithHash
	var receipts []types.Receipt
	var traces []types.TxExecInfo
	for i, r := range results {
		if i >= len(txs) {
			break
		}
		if r.Kind != executor.ResultSuccess {
			continue // validation/nonce/fee rejection: dropped, not requeued
		}
		included = append(included, txs[i])
		receipts = append(receipts, r.Receipt)
		traces = append(traces, r.Trace)
	}

	sealed := &types.SealedBlockWithStatus{
		Header: types.Header{
			Number:          env.Number,
			Timestamp:       env.Timestamp,
			SequencerAddr:   env.SequencerAddr,
			L1GasPrices:     env.L1GasPrices,
			ProtocolVersion: env.ProtocolVersion,
		},
		Body: types.Body{
			Transactions: included,
			Receipts:     receipts,
			Traces:       traces,
		},
		Status: types.StatusAcceptedOnL2,
	}
	if env.Number > 0 {
		parent, err := p.provider.HeaderByNumber(env.Number - 1)
		if err != nil {
			return err
		}
		sealed.Header.ParentHash = parent.Hash()
	}

	if err := p.provider.InsertBlockWithStatesAndReceipts(sealed, updates, receipts, traces, true); err != nil {
		return err
	}

	p.pendingMu.Lock()
	p.nextNum = env.Number + 1
	p.pendingMu.Unlock()

	metrics.BlockProductionSeconds.Observe(time.Since(start).Seconds())
	metrics.BlocksProduced.WithLabelValues(p.cfg.Mode.String()).Inc()
	p.log.Info("produced block",
		zap.Uint64("number", env.Number),
		zap.Int("txs", len(included)),
		zap.String("mode", p.cfg.Mode.String()),
	)
	return nil
}

// requeue best-effort re-submits a transaction bumped off the end of a
// full block back into the pool, for the producer to pick up next round.
func (p *Producer) requeue(tx types.Transaction) {
	if _, err := p.pool.Add(tx); err != nil {
		var dep *txpool.ErrDependent
		if !errors.As(err, &dep) && !errors.Is(err, txpool.ErrAlreadyKnown) {
			p.log.Warn("requeue transaction", zap.Error(err))
		}
	}
}

// PendingState resolves the "pending" block_id tag (spec.md §9 Open
// Question 2: pending state wins over falling back to latest). In
// ModeInstant there is no persistent pending block, so it degrades to
// Latest(), matching the data model's "Pending block exists only in
// Interval/OnDemand modes".
func (p *Producer) PendingState() (state.StateProvider, error) {
	p.pendingMu.RLock()
	base, updates := p.base, p.updates
	p.pendingMu.RUnlock()
	if base == nil || updates == nil {
		return p.provider.Latest()
	}
	return &pendingStateProvider{base: base, updates: updates}, nil
}

// SetNextBlockTimestamp implements dev_setNextBlockTimestamp.
func (p *Producer) SetNextBlockTimestamp(ts uint64) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	p.timestamp = ts
}

// IncreaseNextBlockTimestamp implements dev_increaseNextBlockTimestamp.
func (p *Producer) IncreaseNextBlockTimestamp(delta uint64) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	p.timestamp += delta
}

// pendingStateProvider answers point-in-time reads against the
// in-progress block's accumulated deltas, falling back to the sealed
// base snapshot for anything not yet touched this block.
type pendingStateProvider struct {
	base    state.StateProvider
	updates *types.StateUpdatesWithClasses
}

func (s *pendingStateProvider) Nonce(address common.Address) (uint64, error) {
	if n, ok := s.updates.StateUpdates.NonceUpdates[address]; ok {
		return n, nil
	}
	return s.base.Nonce(address)
}

func (s *pendingStateProvider) ClassHashAt(address common.Address) (common.ClassHash, error) {
	if ch, ok := s.updates.StateUpdates.DeployedContracts[address]; ok {
		return ch, nil
	}
	if ch, ok := s.updates.StateUpdates.ReplacedClasses[address]; ok {
		return ch, nil
	}
	return s.base.ClassHashAt(address)
}

func (s *pendingStateProvider) StorageAt(address common.Address, key common.StorageKey) (common.Felt, error) {
	if entries, ok := s.updates.StateUpdates.StorageUpdates[address]; ok {
		for _, e := range entries {
			if e.Key == key {
				return e.Value, nil
			}
		}
	}
	return s.base.StorageAt(address, key)
}

func (s *pendingStateProvider) CompiledClassHash(classHash common.ClassHash) (common.CompiledClassHash, error) {
	if ch, ok := s.updates.StateUpdates.DeclaredClasses[classHash]; ok {
		return ch, nil
	}
	return s.base.CompiledClassHash(classHash)
}
