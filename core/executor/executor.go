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

// Package executor is component C4: it drives an ordered list of
// transactions against a state.StateProvider/state.StateWriter pair,
// producing per-transaction receipts and traces plus the block's
// cumulative state delta. The concrete Cairo interpretation is injected
// through the VM interface so this package never depends on any one VM
// implementation, the same separation the teacher draws between its
// block-processing loop and the pluggable EVM interpreter underneath it.
package executor

import (
	"errors"
	"fmt"

	"github.com/katana-sequencer/katana/core/state"
	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
)

var (
	// ErrInvalidNonce is returned when nonce_check is on and the sender's
	// current nonce doesn't equal the transaction's (spec.md §4.4 step 1).
	ErrInvalidNonce = errors.New("executor: invalid nonce")
	// ErrValidationFailed wraps a hard __validate__ revert (step 2): no
	// state changes from the failed transaction are kept.
	ErrValidationFailed = errors.New("executor: account validation failed")
	// ErrInsufficientFunds is returned when fee is on and the sender's
	// balance can't cover max_fee (step 3).
	ErrInsufficientFunds = errors.New("executor: insufficient funds for max fee")
	// ErrBlockFull is returned by ExecuteBlock when including the next
	// transaction would exceed BlockLimits.CairoSteps (step 6): the
	// block closes without mutating state for that transaction, and the
	// caller (the block producer) is responsible for returning it to
	// the pool.
	ErrBlockFull = errors.New("executor: block resource ceiling reached")
)

// BlockEnv is the block-level environment every transaction in a batch
// executes against (spec.md §4.4 "Inputs").
type BlockEnv struct {
	Number          uint64
	Timestamp       uint64
	SequencerAddr   common.Address
	L1GasPrices     types.GasPrices
	ProtocolVersion string
}

// ExecutionFlags toggles the three optional per-transaction checks
// spec.md §4.4 names; all three default off (a permissive executor),
// matching how the block producer's Instant/Interval/OnDemand modes can
// run with account_validation/fee disabled in dev mode.
type ExecutionFlags struct {
	AccountValidation bool
	Fee               bool
	NonceCheck        bool
}

// BlockLimits is the per-block resource ceiling the executor enforces
// (spec.md §4.4 step 6).
type BlockLimits struct {
	CairoSteps uint64
}

// ResultKind tags an ExecutionResult the way spec.md's
// ExecutionResult ∈ {Success{receipt, trace}, Failed{error}} does.
type ResultKind uint8

const (
	ResultSuccess ResultKind = iota
	ResultFailed
)

// ExecutionResult is one transaction's outcome. A ResultFailed carries no
// receipt/trace: the transaction was rejected before any state-changing
// step ran (invalid nonce, failed validation, insufficient funds), as
// opposed to a VM-level revert, which is still a ResultSuccess with
// Receipt.Status == types.ExecutionReverted.
type ExecutionResult struct {
	Kind    ResultKind
	Receipt types.Receipt
	Trace   types.TxExecInfo
	Err     error
}

// Stats accumulates the resources a batch of transactions consumed.
type Stats struct {
	L1GasUsed      uint64
	CairoStepsUsed uint64
}

// Executor drives transactions through a VM against one block's state.
type Executor struct {
	vm     VM
	limits BlockLimits
}

func New(vm VM, limits BlockLimits) *Executor {
	return &Executor{vm: vm, limits: limits}
}

// ExecuteBlock runs txs in order against base (spec.md §4.6: "within a
// block, transactions appear in the exact order the producer pulled them
// from the pool"). It returns one ExecutionResult per transaction that
// was actually run, the block's cumulative StateUpdatesWithClasses, and
// resource stats. If the resource ceiling is hit partway through, it
// returns ErrBlockFull along with the index of the first transaction that
// didn't run — the caller must return txs[rejectedFrom:] to the pool.
func (e *Executor) ExecuteBlock(env BlockEnv, flags ExecutionFlags, base state.StateProvider, txs []types.TxWithHash) ([]ExecutionResult, *types.StateUpdatesWithClasses, Stats, int, error) {
	overlay := newOverlayState(base)
	updates := &types.StateUpdatesWithClasses{
		StateUpdates: types.NewStateUpdates(),
		Classes:      make(map[common.ClassHash]types.ContractClass),
		CasmClasses:  make(map[common.CompiledClassHash]types.CasmClass),
	}
	var stats Stats
	results := make([]ExecutionResult, 0, len(txs))

	for i, twh := range txs {
		tx := twh.Tx
		snap := overlay.Snapshot()

		if flags.NonceCheck {
			current, err := overlay.Nonce(tx.SenderAddress)
			if err != nil {
				return results, updates, stats, i, err
			}
			if current != tx.Nonce {
				overlay.Revert(snap)
				results = append(results, ExecutionResult{Kind: ResultFailed, Err: fmt.Errorf("%w: want %d have %d", ErrInvalidNonce, tx.Nonce, current)})
				continue
			}
		}

		var validateTrace *types.CallInfo
		if flags.AccountValidation {
			vt, err := e.vm.Validate(overlay, overlay, env, tx)
			if err != nil {
				overlay.Revert(snap)
				results = append(results, ExecutionResult{Kind: ResultFailed, Err: fmt.Errorf("%w: %w", ErrValidationFailed, err)})
				continue
			}
			validateTrace = vt
		}

		maxFee, err := types.MaxFee(tx)
		if err != nil {
			overlay.Revert(snap)
			results = append(results, ExecutionResult{Kind: ResultFailed, Err: err})
			continue
		}

		if flags.Fee {
			ok, err := e.vm.FeeAvailable(overlay, env, tx, maxFee)
			if err != nil {
				return results, updates, stats, i, err
			}
			if !ok {
				overlay.Revert(snap)
				results = append(results, ExecutionResult{Kind: ResultFailed, Err: ErrInsufficientFunds})
				continue
			}
		}

		out, execErr := e.vm.Execute(overlay, overlay, env, tx)

		if stats.CairoStepsUsed+out.Resources.CairoSteps > e.limits.CairoSteps {
			overlay.Revert(snap)
			return results, updates, stats, i, ErrBlockFull
		}

		status := types.ExecutionSucceeded
		revertReason := ""
		actualFee := out.Resources.L1GasUsed*env.L1GasPrices.Wei + out.Resources.CairoSteps
		if execErr != nil {
			status = types.ExecutionReverted
			revertReason = execErr.Error()
			actualFee = maxFee
		}
		if actualFee > maxFee {
			actualFee = maxFee
		}

		var feeTrace *types.CallInfo
		if flags.Fee {
			ft, err := e.vm.SettleFee(overlay, overlay, env, tx, maxFee, actualFee)
			if err != nil {
				return results, updates, stats, i, err
			}
			feeTrace = ft
		}

		if newNonce, err := overlay.Nonce(tx.SenderAddress); err != nil {
			return results, updates, stats, i, err
		} else if newNonce == tx.Nonce {
			if err := overlay.SetNonce(tx.SenderAddress, tx.Nonce+1); err != nil {
				return results, updates, stats, i, err
			}
		}

		if execErr == nil {
			for addr, ch := range out.Effects.Deployed {
				updates.StateUpdates.DeployedContracts[addr] = ch
			}
			for addr, ch := range out.Effects.Replaced {
				updates.StateUpdates.ReplacedClasses[addr] = ch
			}
			for ch, cch := range out.Effects.Declared {
				updates.StateUpdates.DeclaredClasses[ch] = cch
			}
			for ch, body := range out.Effects.DeclaredClassBodies {
				updates.Classes[ch] = body
			}
			for cch, body := range out.Effects.DeclaredCasmBodies {
				updates.CasmClasses[cch] = body
			}
		}

		stats.CairoStepsUsed += out.Resources.CairoSteps
		stats.L1GasUsed += out.Resources.L1GasUsed

		results = append(results, ExecutionResult{
			Kind: ResultSuccess,
			Receipt: types.Receipt{
				Status:       status,
				RevertReason: revertReason,
				ActualFee:    actualFee,
				FeeUnit:      "STRK",
				Events:       out.Events,
				Messages:     out.Messages,
				Resources:    out.Resources,
			},
			Trace: types.TxExecInfo{
				ValidateInvocation:    validateTrace,
				ExecuteInvocation:     out.Call,
				FeeTransferInvocation: feeTrace,
			},
		})
	}

	for addr, nonce := range overlay.nonce {
		updates.StateUpdates.NonceUpdates[addr] = nonce
	}
	for addr, m := range overlay.storage {
		entries := make([]types.StorageEntry, 0, len(m))
		for k, v := range m {
			entries = append(entries, types.StorageEntry{Key: k, Value: v})
		}
		updates.StateUpdates.StorageUpdates[addr] = entries
	}

	return results, updates, stats, len(txs), nil
}
