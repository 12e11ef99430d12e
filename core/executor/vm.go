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
	"github.com/katana-sequencer/katana/core/state"
	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
)

// TxEffects carries the bookkeeping facts VM.Execute reports beyond the
// state.StateWriter calls it already made while running: which addresses
// were newly deployed vs. had their class replaced, and which classes were
// declared (with their full bodies). A plain StateWriter.SetClassHash
// can't distinguish "deploy" from "replace", and declare's class/CASM
// bodies have nowhere else to live, so VM.Execute returns them explicitly
// and Executor folds them into the block's StateUpdatesWithClasses.
type TxEffects struct {
	Deployed            map[common.Address]common.ClassHash
	Replaced            map[common.Address]common.ClassHash
	Declared            map[common.ClassHash]common.CompiledClassHash
	DeclaredClassBodies map[common.ClassHash]types.ContractClass
	DeclaredCasmBodies  map[common.CompiledClassHash]types.CasmClass
}

func newTxEffects() TxEffects {
	return TxEffects{
		Deployed:            make(map[common.Address]common.ClassHash),
		Replaced:            make(map[common.Address]common.ClassHash),
		Declared:            make(map[common.ClassHash]common.CompiledClassHash),
		DeclaredClassBodies: make(map[common.ClassHash]types.ContractClass),
		DeclaredCasmBodies:  make(map[common.CompiledClassHash]types.CasmClass),
	}
}

// ExecuteOutput is everything VM.Execute reports about running one
// transaction's entry point.
type ExecuteOutput struct {
	Call      *types.CallInfo
	Effects   TxEffects
	Resources types.ResourceUsage
	Events    []types.Event
	Messages  []types.L2ToL1Message
}

// VM is the narrow, replaceable collaborator Executor drives: everything
// that actually requires interpreting Cairo bytecode lives behind this
// interface, mirroring the separation the teacher draws between its own
// block-processing loop and the pluggable interpreter underneath it.
// w and r are always the same overlayState value (passed as both
// state.StateWriter and state.StateProvider because the interface split
// belongs to package state, not to any one implementation).
type VM interface {
	// Validate invokes the sender account's __validate__ entry point
	// (spec.md §4.4 step 2). A non-nil error is a hard revert: Executor
	// discards every write Validate made before returning ResultFailed.
	Validate(w state.StateWriter, r state.StateProvider, env BlockEnv, tx types.Transaction) (*types.CallInfo, error)

	// FeeAvailable reports whether the sender can cover maxFee without
	// mutating any state (step 3).
	FeeAvailable(r state.StateProvider, env BlockEnv, tx types.Transaction, maxFee uint64) (bool, error)

	// Execute invokes tx's requested entry point (step 4). A non-nil
	// error means the invocation reverted; Executor still keeps the
	// transaction (receipt status ExecutionReverted) but folds none of
	// out.Effects into the block's state updates.
	Execute(w state.StateWriter, r state.StateProvider, env BlockEnv, tx types.Transaction) (ExecuteOutput, error)

	// SettleFee deducts actualFee from the sender and credits it to
	// env.SequencerAddr (step 5), returning the fee-transfer call trace.
	SettleFee(w state.StateWriter, r state.StateProvider, env BlockEnv, tx types.Transaction, maxFee, actualFee uint64) (*types.CallInfo, error)
}
