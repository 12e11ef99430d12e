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
	"errors"
	"math/big"

	"github.com/katana-sequencer/katana/core/state"
	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
)

// ErrInsufficientBalance is returned by NativeVM's built-in transfer when
// the sender's balance can't cover the transfer amount.
var ErrInsufficientBalance = errors.New("nativevm: insufficient balance")

// TransferSelector is the one entry point NativeVM actually interprets: an
// invoke with at least two calldata felts [to, amount] moves amount from
// the sender's balance slot to to's.
var TransferSelector = common.SelectorFromFelt(common.PedersenArray(common.FeltFromBytes([]byte("transfer"))))

var transferEventKey = common.PedersenArray(common.FeltFromBytes([]byte("Transfer")))

// balanceSlotSeed domain-separates NativeVM's single built-in balance table
// from any other storage a real class might use at the same address.
var balanceSlotSeed = common.FeltFromBytes([]byte("nativevm.balance"))

func balanceKey(address common.Address) common.StorageKey {
	return common.StorageKeyFromFelt(common.Pedersen(balanceSlotSeed, address.Felt))
}

// BalanceKey exports balanceKey for callers outside this package that need
// to pre-seed NativeVM's single built-in balance table directly — the
// dev-mode genesis account seeder (internal/genesis) in particular.
func BalanceKey(address common.Address) common.StorageKey { return balanceKey(address) }

// contractAddress derives a deploy_account/DEPLOY contract address the way
// spec.md's glossary describes: a hash of the class hash and the salt. A
// real Starknet address also folds in constructor-calldata and the
// deployer address; NativeVM's simplified derivation is enough to keep
// deployed addresses distinct and deterministic across a block.
func contractAddress(classHash common.ClassHash, salt common.Felt) common.Address {
	return common.AddressFromFelt(common.Pedersen(classHash.Felt, salt))
}

// NativeVM is the executor's reference VM: it doesn't interpret Cairo
// bytecode (nothing in the retrieval pack models that), but it implements
// the handful of entry points a development sequencer needs to exercise
// the executor's orchestration end to end — balance transfers, account
// deployment, class declaration, and L1 message delivery — against a
// single built-in balance table. Swapping in a real Cairo interpreter
// means implementing this same VM interface; Executor doesn't change.
type NativeVM struct{}

func NewNativeVM() *NativeVM { return &NativeVM{} }

func (NativeVM) Validate(w state.StateWriter, r state.StateProvider, env BlockEnv, tx types.Transaction) (*types.CallInfo, error) {
	return &types.CallInfo{
		ContractAddress: tx.SenderAddress,
		Selector:        common.SelectorFromFelt(common.PedersenArray(common.FeltFromBytes([]byte("__validate__")))),
		Calldata:        tx.Calldata,
	}, nil
}

func (NativeVM) FeeAvailable(r state.StateProvider, env BlockEnv, tx types.Transaction, maxFee uint64) (bool, error) {
	if tx.Kind == types.TxL1Handler {
		return true, nil // L1 messages carry no fee, per spec.md §4.4.
	}
	balance, err := r.StorageAt(tx.SenderAddress, balanceKey(tx.SenderAddress))
	if err != nil {
		return false, err
	}
	return balance.Big().Cmp(new(big.Int).SetUint64(maxFee)) >= 0, nil
}

func (NativeVM) Execute(w state.StateWriter, r state.StateProvider, env BlockEnv, tx types.Transaction) (ExecuteOutput, error) {
	effects := newTxEffects()
	call := &types.CallInfo{ContractAddress: tx.SenderAddress, Calldata: tx.Calldata}
	resources := types.ResourceUsage{CairoSteps: 100}

	switch tx.Kind {
	case types.TxInvokeV1, types.TxInvokeV3:
		call.Selector = TransferSelector
		if len(tx.Calldata) < 2 {
			return ExecuteOutput{Call: call, Effects: effects, Resources: resources}, nil
		}
		to := common.AddressFromFelt(tx.Calldata[0])
		amount := tx.Calldata[1]
		event, err := transfer(w, r, tx.SenderAddress, to, amount)
		if err != nil {
			return ExecuteOutput{Call: call, Effects: effects, Resources: resources}, err
		}
		call.StorageWrites = []types.StorageEntry{
			{Key: balanceKey(tx.SenderAddress)},
			{Key: balanceKey(to)},
		}
		return ExecuteOutput{Call: call, Effects: effects, Resources: resources, Events: []types.Event{event}}, nil

	case types.TxL1Handler:
		call.Selector = tx.EntryPointSelector
		if len(tx.Calldata) < 2 {
			return ExecuteOutput{Call: call, Effects: effects, Resources: resources}, nil
		}
		to := common.AddressFromFelt(tx.Calldata[0])
		amount := tx.Calldata[1]
		current, err := r.StorageAt(to, balanceKey(to))
		if err != nil {
			return ExecuteOutput{Call: call, Effects: effects, Resources: resources}, err
		}
		if err := w.SetStorage(to, balanceKey(to), current.Add(amount)); err != nil {
			return ExecuteOutput{Call: call, Effects: effects, Resources: resources}, err
		}
		return ExecuteOutput{Call: call, Effects: effects, Resources: resources}, nil

	case types.TxDeployAccountV1, types.TxDeployAccountV3:
		addr := contractAddress(tx.ClassHash, tx.ContractAddressSalt)
		if err := w.SetClassHash(addr, tx.ClassHash); err != nil {
			return ExecuteOutput{Call: call, Effects: effects, Resources: resources}, err
		}
		effects.Deployed[addr] = tx.ClassHash
		call.ContractAddress = addr
		return ExecuteOutput{Call: call, Effects: effects, Resources: resources}, nil

	case types.TxDeclareV1, types.TxDeclareV2, types.TxDeclareV3:
		if err := w.SetCompiledClassHash(tx.ClassHash, tx.CompiledClassHash); err != nil {
			return ExecuteOutput{Call: call, Effects: effects, Resources: resources}, err
		}
		effects.Declared[tx.ClassHash] = tx.CompiledClassHash
		// Class/CASM bodies arrive through the submission API (the RPC
		// add_declare_transaction handler) already keyed by hash, not
		// through Execute, since Transaction carries only the hashes.
		return ExecuteOutput{Call: call, Effects: effects, Resources: resources}, nil

	default:
		return ExecuteOutput{Call: call, Effects: effects, Resources: resources}, nil
	}
}

func transfer(w state.StateWriter, r state.StateProvider, from, to common.Address, amount common.Felt) (types.Event, error) {
	fromBalance, err := r.StorageAt(from, balanceKey(from))
	if err != nil {
		return types.Event{}, err
	}
	if fromBalance.Big().Cmp(amount.Big()) < 0 {
		return types.Event{}, ErrInsufficientBalance
	}
	newFrom := common.FeltFromBig(new(big.Int).Sub(fromBalance.Big(), amount.Big()))
	if err := w.SetStorage(from, balanceKey(from), newFrom); err != nil {
		return types.Event{}, err
	}
	toBalance, err := r.StorageAt(to, balanceKey(to))
	if err != nil {
		return types.Event{}, err
	}
	if err := w.SetStorage(to, balanceKey(to), toBalance.Add(amount)); err != nil {
		return types.Event{}, err
	}
	return types.Event{
		FromAddress: from,
		Keys:        []common.Felt{transferEventKey},
		Data:        []common.Felt{to.Felt, amount},
	}, nil
}

func (NativeVM) SettleFee(w state.StateWriter, r state.StateProvider, env BlockEnv, tx types.Transaction, maxFee, actualFee uint64) (*types.CallInfo, error) {
	if tx.Kind == types.TxL1Handler || actualFee == 0 {
		return nil, nil
	}
	fee := common.FeltFromUint64(actualFee)
	senderBalance, err := r.StorageAt(tx.SenderAddress, balanceKey(tx.SenderAddress))
	if err != nil {
		return nil, err
	}
	if senderBalance.Big().Cmp(fee.Big()) < 0 {
		fee = senderBalance // charge whatever remains rather than going negative
	}
	newSender := common.FeltFromBig(new(big.Int).Sub(senderBalance.Big(), fee.Big()))
	if err := w.SetStorage(tx.SenderAddress, balanceKey(tx.SenderAddress), newSender); err != nil {
		return nil, err
	}
	sequencerBalance, err := r.StorageAt(env.SequencerAddr, balanceKey(env.SequencerAddr))
	if err != nil {
		return nil, err
	}
	if err := w.SetStorage(env.SequencerAddr, balanceKey(env.SequencerAddr), sequencerBalance.Add(fee)); err != nil {
		return nil, err
	}
	return &types.CallInfo{
		ContractAddress: tx.SenderAddress,
		Selector:        TransferSelector,
		Calldata:        []common.Felt{env.SequencerAddr.Felt, fee},
	}, nil
}
