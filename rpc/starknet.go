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

package rpc

import (
	"errors"

	json "github.com/goccy/go-json"

	"github.com/katana-sequencer/katana/core/executor"
	"github.com/katana-sequencer/katana/core/state"
	"github.com/katana-sequencer/katana/core/txpool"
	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
)

func init() {
	registerMethod("starknet_chainId", handleChainID)
	registerMethod("starknet_blockNumber", handleBlockNumber)
	registerMethod("starknet_blockHashAndNumber", handleBlockHashAndNumber)
	registerMethod("starknet_getBlockWithTxs", handleGetBlockWithTxs)
	registerMethod("starknet_getBlockWithTxHashes", handleGetBlockWithTxHashes)
	registerMethod("starknet_getStateUpdate", handleGetStateUpdate)
	registerMethod("starknet_getTransactionByHash", handleGetTransactionByHash)
	registerMethod("starknet_getTransactionReceipt", handleGetTransactionReceipt)
	registerMethod("starknet_getClass", handleGetClass)
	registerMethod("starknet_getClassHashAt", handleGetClassHashAt)
	registerMethod("starknet_getNonce", handleGetNonce)
	registerMethod("starknet_getStorageAt", handleGetStorageAt)
	registerMethod("starknet_call", handleCall)
	registerMethod("starknet_estimateFee", handleEstimateFee)
	registerMethod("starknet_addInvokeTransaction", handleAddInvokeTransaction)
	registerMethod("starknet_addDeclareTransaction", handleAddDeclareTransaction)
	registerMethod("starknet_addDeployAccountTransaction", handleAddDeployAccountTransaction)
	registerMethod("starknet_getEvents", handleGetEvents)
	registerMethod("starknet_getStorageProof", handleGetStorageProof)
}

func handleChainID(d *Dispatcher, _ json.RawMessage) (interface{}, *RPCError) {
	return d.ChainID.ToFelt().String(), nil
}

func handleBlockNumber(d *Dispatcher, _ json.RawMessage) (interface{}, *RPCError) {
	n, err := d.Provider.LatestBlockNumber()
	if err != nil {
		return nil, MapError(err)
	}
	return n, nil
}

func handleBlockHashAndNumber(d *Dispatcher, _ json.RawMessage) (interface{}, *RPCError) {
	n, err := d.Provider.LatestBlockNumber()
	if err != nil {
		return nil, MapError(err)
	}
	hash, err := d.Provider.BlockHashByNumber(n)
	if err != nil {
		return nil, MapError(err)
	}
	return map[string]interface{}{
		"block_hash":   hash.String(),
		"block_number": n,
	}, nil
}

type blockIDParams struct {
	BlockID json.RawMessage `json:"block_id"`
}

func resolveBlockID(raw json.RawMessage) (types.BlockHashOrNumber, *RPCError) {
	var p blockIDParams
	if err := json.Unmarshal(raw, &p); err != nil || p.BlockID == nil {
		return types.BlockHashOrNumber{}, errf(CodeInvalidParams, "Invalid params")
	}
	ref, err := ParseBlockID(p.BlockID)
	if err != nil {
		return types.BlockHashOrNumber{}, errf(CodeInvalidParams, err.Error())
	}
	return ref, nil
}

// blockHeaderView and friends are the JSON shapes returned over RPC;
// they follow the Starknet API's snake_case field convention rather than
// types.Header's internal Go-cased fields.
type blockHeaderView struct {
	BlockHash        string `json:"block_hash"`
	ParentHash       string `json:"parent_hash"`
	BlockNumber      uint64 `json:"block_number"`
	NewRoot          string `json:"new_root"`
	Timestamp        uint64 `json:"timestamp"`
	SequencerAddress string `json:"sequencer_address"`
}

func headerView(h types.Header) blockHeaderView {
	return blockHeaderView{
		BlockHash:        h.Hash().String(),
		ParentHash:       h.ParentHash.String(),
		BlockNumber:      h.Number,
		NewRoot:          h.StateRoot.String(),
		Timestamp:        h.Timestamp,
		SequencerAddress: h.SequencerAddr.String(),
	}
}

type txView struct {
	TransactionHash string `json:"transaction_hash"`
	Type            string `json:"type"`
	SenderAddress   string `json:"sender_address"`
	Nonce           uint64 `json:"nonce"`
}

func transactionView(twh types.TxWithHash) txView {
	return txView{
		TransactionHash: twh.Hash.String(),
		Type:            twh.Tx.Kind.String(),
		SenderAddress:   twh.Tx.SenderAddress.String(),
		Nonce:           twh.Tx.Nonce,
	}
}

func resolveBlock(d *Dispatcher, raw json.RawMessage) (types.SealedBlockWithStatus, *RPCError) {
	ref, rerr := resolveBlockID(raw)
	if rerr != nil {
		return types.SealedBlockWithStatus{}, rerr
	}
	block, err := blockByRef(d, ref)
	if err != nil {
		return types.SealedBlockWithStatus{}, MapError(err)
	}
	return block, nil
}

// blockByRef resolves ref against Provider. The Pending tag resolves to the
// latest sealed block, since pendingBlock never reports an in-flight block.
func blockByRef(d *Dispatcher, ref types.BlockHashOrNumber) (types.SealedBlockWithStatus, error) {
	if ref.Tag == types.TagPending && d.Producer != nil {
		if pending, ok := d.pendingBlock(); ok {
			return pending, nil
		}
	}
	switch {
	case ref.Number != nil:
		return d.Provider.BlockByNumber(*ref.Number)
	case ref.Hash != nil:
		n, err := d.Provider.BlockNumberByHash(*ref.Hash)
		if err != nil {
			return types.SealedBlockWithStatus{}, err
		}
		return d.Provider.BlockByNumber(n)
	default:
		n, err := d.Provider.LatestBlockNumber()
		if err != nil {
			return types.SealedBlockWithStatus{}, err
		}
		return d.Provider.BlockByNumber(n)
	}
}

// pendingBlock always reports no block: producer.Producer has no accessor
// for the full in-flight block (only PendingState(), the state view), so
// "pending" resolves through blockByRef's Latest fallback.
func (d *Dispatcher) pendingBlock() (types.SealedBlockWithStatus, bool) {
	return types.SealedBlockWithStatus{}, false
}

func handleGetBlockWithTxs(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	block, rerr := resolveBlock(d, raw)
	if rerr != nil {
		return nil, rerr
	}
	txs := make([]txView, len(block.Body.Transactions))
	for i, t := range block.Body.Transactions {
		txs[i] = transactionView(t)
	}
	hv := headerView(block.Header)
	return map[string]interface{}{
		"status":             blockStatusString(block.Status),
		"transactions":       txs,
		"block_hash":         hv.BlockHash,
		"parent_hash":        hv.ParentHash,
		"block_number":       hv.BlockNumber,
		"new_root":           hv.NewRoot,
		"timestamp":          hv.Timestamp,
		"sequencer_address":  hv.SequencerAddress,
	}, nil
}

func handleGetBlockWithTxHashes(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	block, rerr := resolveBlock(d, raw)
	if rerr != nil {
		return nil, rerr
	}
	hashes := make([]string, len(block.Body.Transactions))
	for i, t := range block.Body.Transactions {
		hashes[i] = t.Hash.String()
	}
	hv := headerView(block.Header)
	return map[string]interface{}{
		"status":             blockStatusString(block.Status),
		"transactions":       hashes,
		"block_hash":         hv.BlockHash,
		"parent_hash":        hv.ParentHash,
		"block_number":       hv.BlockNumber,
		"new_root":           hv.NewRoot,
		"timestamp":          hv.Timestamp,
		"sequencer_address":  hv.SequencerAddress,
	}, nil
}

func blockStatusString(s types.BlockStatus) string {
	switch s {
	case types.StatusPending:
		return "PENDING"
	case types.StatusAcceptedOnL2:
		return "ACCEPTED_ON_L2"
	case types.StatusAcceptedOnL1:
		return "ACCEPTED_ON_L1"
	default:
		return "UNKNOWN"
	}
}

func handleGetStateUpdate(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	block, rerr := resolveBlock(d, raw)
	if rerr != nil {
		return nil, rerr
	}
	return map[string]interface{}{
		"block_hash": block.Header.Hash().String(),
		"new_root":   block.Header.StateRoot.String(),
		"old_root":   block.Header.ParentHash.String(),
	}, nil
}

type txHashParams struct {
	TransactionHash string `json:"transaction_hash"`
}

func parseTxHash(raw json.RawMessage) (common.TxHash, *RPCError) {
	var p txHashParams
	if err := json.Unmarshal(raw, &p); err != nil || p.TransactionHash == "" {
		return common.TxHash{}, errf(CodeInvalidParams, "Invalid params")
	}
	f, err := common.FeltFromHex(p.TransactionHash)
	if err != nil {
		return common.TxHash{}, errf(CodeInvalidParams, "invalid transaction_hash")
	}
	return common.TxHashFromFelt(f), nil
}

func handleGetTransactionByHash(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	hash, rerr := parseTxHash(raw)
	if rerr != nil {
		return nil, rerr
	}
	if pending, ok := d.Pool.Get(hash); ok {
		return transactionView(types.TxWithHash{Hash: hash, Tx: pending}), nil
	}
	twh, _, err := d.Provider.TransactionByHash(hash)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, errf(CodeTransactionHashNotFound, "Transaction hash not found")
		}
		return nil, MapError(err)
	}
	return transactionView(twh), nil
}

func handleGetTransactionReceipt(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	hash, rerr := parseTxHash(raw)
	if rerr != nil {
		return nil, rerr
	}
	r, err := d.Provider.ReceiptByHash(hash)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, errf(CodeTransactionHashNotFound, "Transaction hash not found")
		}
		return nil, MapError(err)
	}
	return map[string]interface{}{
		"transaction_hash": hash.String(),
		"actual_fee":       r.ActualFee,
		"status":           executionStatusString(r.Status),
		"revert_reason":    r.RevertReason,
	}, nil
}

func executionStatusString(s types.ExecutionStatus) string {
	if s == types.ExecutionReverted {
		return "REVERTED"
	}
	return "SUCCEEDED"
}

type classHashParams struct {
	BlockID   json.RawMessage `json:"block_id"`
	ClassHash string          `json:"class_hash"`
}

func handleGetClass(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	var p classHashParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errf(CodeInvalidParams, "Invalid params")
	}
	hashFelt, err := common.FeltFromHex(p.ClassHash)
	if err != nil {
		return nil, errf(CodeInvalidParams, "invalid class_hash")
	}
	class, err := d.Provider.ClassByHash(common.ClassHashFromFelt(hashFelt))
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, errf(CodeClassHashNotFound, "Class hash not found")
		}
		return nil, MapError(err)
	}
	return map[string]interface{}{
		"contract_class_version": class.ContractClassVersion,
		"abi":                    class.ABI,
	}, nil
}

type contractAtParams struct {
	BlockID         json.RawMessage `json:"block_id"`
	ContractAddress string          `json:"contract_address"`
}

func resolveContractState(d *Dispatcher, raw json.RawMessage) (state.StateProvider, common.Address, *RPCError) {
	var p contractAtParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, common.Address{}, errf(CodeInvalidParams, "Invalid params")
	}
	addrFelt, err := common.FeltFromHex(p.ContractAddress)
	if err != nil {
		return nil, common.Address{}, errf(CodeInvalidParams, "invalid contract_address")
	}
	addr := common.AddressFromFelt(addrFelt)
	ref, rerr := resolveBlockID(p.BlockID)
	if rerr != nil {
		ref = types.BlockLatest()
	}
	sp, serr := stateProviderForRef(d, ref)
	if serr != nil {
		return nil, common.Address{}, MapError(serr)
	}
	return sp, addr, nil
}

func stateProviderForRef(d *Dispatcher, ref types.BlockHashOrNumber) (state.StateProvider, error) {
	if ref.Tag == types.TagPending && d.Producer != nil {
		if sp, err := d.Producer.PendingState(); err == nil {
			return sp, nil
		}
	}
	if ref.Tag == types.TagLatest || ref.Tag == types.TagPending {
		return d.Provider.Latest()
	}
	return d.Provider.Historical(ref)
}

func handleGetClassHashAt(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	sp, addr, rerr := resolveContractState(d, raw)
	if rerr != nil {
		return nil, rerr
	}
	ch, err := sp.ClassHashAt(addr)
	if err != nil {
		return nil, MapError(err)
	}
	if ch.IsZero() {
		return nil, errf(CodeContractNotFound, "Contract not found")
	}
	return ch.String(), nil
}

func handleGetNonce(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	sp, addr, rerr := resolveContractState(d, raw)
	if rerr != nil {
		return nil, rerr
	}
	n, err := sp.Nonce(addr)
	if err != nil {
		return nil, MapError(err)
	}
	return n, nil
}

type storageAtParams struct {
	ContractAddress string          `json:"contract_address"`
	Key             string          `json:"key"`
	BlockID         json.RawMessage `json:"block_id"`
}

func handleGetStorageAt(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	var p storageAtParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errf(CodeInvalidParams, "Invalid params")
	}
	addrFelt, err := common.FeltFromHex(p.ContractAddress)
	if err != nil {
		return nil, errf(CodeInvalidParams, "invalid contract_address")
	}
	keyFelt, err := common.FeltFromHex(p.Key)
	if err != nil {
		return nil, errf(CodeInvalidParams, "invalid key")
	}
	ref, rerr := resolveBlockID(p.BlockID)
	if rerr != nil {
		ref = types.BlockLatest()
	}
	sp, serr := stateProviderForRef(d, ref)
	if serr != nil {
		return nil, MapError(serr)
	}
	v, err := sp.StorageAt(common.AddressFromFelt(addrFelt), common.StorageKeyFromFelt(keyFelt))
	if err != nil {
		return nil, MapError(err)
	}
	return v.String(), nil
}

type callRequest struct {
	ContractAddress    string   `json:"contract_address"`
	EntryPointSelector string   `json:"entry_point_selector"`
	Calldata           []string `json:"calldata"`
}

type callParams struct {
	Request callRequest     `json:"request"`
	BlockID json.RawMessage `json:"block_id"`
}

func parseCalldata(raw []string) ([]common.Felt, error) {
	out := make([]common.Felt, len(raw))
	for i, s := range raw {
		f, err := common.FeltFromHex(s)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// runReadOnly executes req against the overlay the block producer's
// NativeVM interprets, without ever committing anything to Provider —
// the same overlay-then-discard trick Executor.ExecuteBlock's snapshot/
// revert machinery makes safe for a speculative simulation.
func runReadOnly(d *Dispatcher, req callRequest, ref types.BlockHashOrNumber) (executor.ExecutionResult, *RPCError) {
	addrFelt, err := common.FeltFromHex(req.ContractAddress)
	if err != nil {
		return executor.ExecutionResult{}, errf(CodeInvalidParams, "invalid contract_address")
	}
	calldata, err := parseCalldata(req.Calldata)
	if err != nil {
		return executor.ExecutionResult{}, errf(CodeInvalidParams, "invalid calldata")
	}

	base, serr := stateProviderForRef(d, ref)
	if serr != nil {
		return executor.ExecutionResult{}, MapError(serr)
	}
	header, herr := blockByRef(d, ref)
	env := executor.BlockEnv{ProtocolVersion: "0.1.0"}
	if herr == nil {
		env = executor.BlockEnv{
			Number:          header.Header.Number,
			Timestamp:       header.Header.Timestamp,
			SequencerAddr:   header.Header.SequencerAddr,
			L1GasPrices:     header.Header.L1GasPrices,
			ProtocolVersion: header.Header.ProtocolVersion,
		}
	}

	exec := executor.New(executor.NewNativeVM(), executor.BlockLimits{CairoSteps: 1_000_000})
	tx := types.Transaction{
		Kind:          types.TxInvokeV1,
		SenderAddress: common.AddressFromFelt(addrFelt),
		Calldata:      calldata,
	}
	results, _, _, _, execErr := exec.ExecuteBlock(env, executor.ExecutionFlags{}, base, []types.TxWithHash{{Tx: tx}})
	if execErr != nil && !errors.Is(execErr, executor.ErrBlockFull) {
		return executor.ExecutionResult{}, MapError(execErr)
	}
	if len(results) == 0 {
		return executor.ExecutionResult{}, errf(CodeContractError, "call produced no result")
	}
	return results[0], nil
}

func handleCall(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	var p callParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errf(CodeInvalidParams, "Invalid params")
	}
	ref, rerr := resolveBlockID(p.BlockID)
	if rerr != nil {
		ref = types.BlockLatest()
	}
	result, rerr := runReadOnly(d, p.Request, ref)
	if rerr != nil {
		return nil, rerr
	}
	if result.Kind == executor.ResultFailed {
		return nil, errf(CodeContractError, result.Err.Error())
	}
	if result.Receipt.Status == types.ExecutionReverted {
		return nil, errf(CodeContractError, result.Receipt.RevertReason)
	}
	var out []string
	if result.Trace.ExecuteInvocation != nil {
		out = make([]string, 0, len(result.Trace.ExecuteInvocation.Result))
		for _, f := range result.Trace.ExecuteInvocation.Result {
			out = append(out, f.String())
		}
	}
	return out, nil
}

type estimateFeeParams struct {
	Request []callRequest   `json:"request"`
	BlockID json.RawMessage `json:"block_id"`
}

func handleEstimateFee(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	var p estimateFeeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errf(CodeInvalidParams, "Invalid params")
	}
	ref, rerr := resolveBlockID(p.BlockID)
	if rerr != nil {
		ref = types.BlockLatest()
	}
	out := make([]map[string]interface{}, 0, len(p.Request))
	for _, req := range p.Request {
		result, rerr := runReadOnly(d, req, ref)
		if rerr != nil {
			return nil, rerr
		}
		out = append(out, map[string]interface{}{
			"gas_consumed": result.Receipt.Resources.L1GasUsed,
			"overall_fee":  result.Receipt.ActualFee,
			"unit":         "STRK",
		})
	}
	return out, nil
}

type addTxResult struct {
	TransactionHash string `json:"transaction_hash"`
}

func handleAddInvokeTransaction(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	var tx types.Transaction
	tx.Kind = types.TxInvokeV1
	tx.ChainID = d.ChainID
	if err := json.Unmarshal(raw, &invokeWireAdapter{tx: &tx}); err != nil {
		return nil, errf(CodeInvalidParams, "Invalid params")
	}
	hash, err := d.Pool.Add(tx)
	if err != nil && !isAccepted(err) {
		return nil, MapError(err)
	}
	return addTxResult{TransactionHash: hash.String()}, nil
}

func handleAddDeclareTransaction(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	var tx types.Transaction
	tx.Kind = types.TxDeclareV2
	tx.ChainID = d.ChainID
	if err := json.Unmarshal(raw, &declareWireAdapter{tx: &tx}); err != nil {
		return nil, errf(CodeInvalidParams, "Invalid params")
	}
	hash, err := d.Pool.Add(tx)
	if err != nil && !isAccepted(err) {
		return nil, MapError(err)
	}
	return map[string]interface{}{
		"transaction_hash": hash.String(),
		"class_hash":       tx.ClassHash.String(),
	}, nil
}

func handleAddDeployAccountTransaction(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	var tx types.Transaction
	tx.Kind = types.TxDeployAccountV1
	tx.ChainID = d.ChainID
	if err := json.Unmarshal(raw, &deployAccountWireAdapter{tx: &tx}); err != nil {
		return nil, errf(CodeInvalidParams, "Invalid params")
	}
	hash, err := d.Pool.Add(tx)
	if err != nil && !isAccepted(err) {
		return nil, MapError(err)
	}
	return map[string]interface{}{
		"transaction_hash":  hash.String(),
		"contract_address":  tx.SenderAddress.String(),
	}, nil
}

// isAccepted reports whether err is txpool's "accepted but queued behind a
// gap" signal rather than a genuine rejection (spec.md §7: ErrDependent is
// not a rejection).
func isAccepted(err error) bool {
	var dep *txpool.ErrDependent
	return errors.As(err, &dep)
}

type invokeWireAdapter struct{ tx *types.Transaction }

func (a *invokeWireAdapter) UnmarshalJSON(b []byte) error {
	var w struct {
		SenderAddress string   `json:"sender_address"`
		Calldata      []string `json:"calldata"`
		MaxFee        string   `json:"max_fee"`
		Nonce         string   `json:"nonce"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	addr, err := common.FeltFromHex(w.SenderAddress)
	if err != nil {
		return err
	}
	a.tx.SenderAddress = common.AddressFromFelt(addr)
	if a.tx.Calldata, err = parseCalldata(w.Calldata); err != nil {
		return err
	}
	if w.MaxFee != "" {
		f, err := common.FeltFromHex(w.MaxFee)
		if err != nil {
			return err
		}
		a.tx.MaxFee = f.Big().Uint64()
	}
	if w.Nonce != "" {
		f, err := common.FeltFromHex(w.Nonce)
		if err != nil {
			return err
		}
		a.tx.Nonce = f.Big().Uint64()
	}
	return nil
}

type declareWireAdapter struct{ tx *types.Transaction }

func (a *declareWireAdapter) UnmarshalJSON(b []byte) error {
	var w struct {
		SenderAddress     string `json:"sender_address"`
		ClassHash         string `json:"class_hash"`
		CompiledClassHash string `json:"compiled_class_hash"`
		MaxFee            string `json:"max_fee"`
		Nonce             string `json:"nonce"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	addr, err := common.FeltFromHex(w.SenderAddress)
	if err != nil {
		return err
	}
	a.tx.SenderAddress = common.AddressFromFelt(addr)
	if w.ClassHash != "" {
		ch, err := common.FeltFromHex(w.ClassHash)
		if err != nil {
			return err
		}
		a.tx.ClassHash = common.ClassHashFromFelt(ch)
	}
	if w.CompiledClassHash != "" {
		cch, err := common.FeltFromHex(w.CompiledClassHash)
		if err != nil {
			return err
		}
		a.tx.CompiledClassHash = common.CompiledClassHashFromFelt(cch)
	}
	if w.MaxFee != "" {
		f, err := common.FeltFromHex(w.MaxFee)
		if err != nil {
			return err
		}
		a.tx.MaxFee = f.Big().Uint64()
	}
	if w.Nonce != "" {
		f, err := common.FeltFromHex(w.Nonce)
		if err != nil {
			return err
		}
		a.tx.Nonce = f.Big().Uint64()
	}
	return nil
}

type deployAccountWireAdapter struct{ tx *types.Transaction }

func (a *deployAccountWireAdapter) UnmarshalJSON(b []byte) error {
	var w struct {
		ClassHash           string   `json:"class_hash"`
		ContractAddressSalt string   `json:"contract_address_salt"`
		ConstructorCalldata []string `json:"constructor_calldata"`
		MaxFee              string   `json:"max_fee"`
		Nonce               string   `json:"nonce"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ch, err := common.FeltFromHex(w.ClassHash)
	if err != nil {
		return err
	}
	a.tx.ClassHash = common.ClassHashFromFelt(ch)
	salt, err := common.FeltFromHex(w.ContractAddressSalt)
	if err != nil {
		return err
	}
	a.tx.ContractAddressSalt = salt
	if a.tx.ConstructorCalldata, err = parseCalldata(w.ConstructorCalldata); err != nil {
		return err
	}
	a.tx.SenderAddress = common.AddressFromFelt(common.Pedersen(a.tx.ClassHash.Felt, salt))
	if w.MaxFee != "" {
		f, err := common.FeltFromHex(w.MaxFee)
		if err != nil {
			return err
		}
		a.tx.MaxFee = f.Big().Uint64()
	}
	if w.Nonce != "" {
		f, err := common.FeltFromHex(w.Nonce)
		if err != nil {
			return err
		}
		a.tx.Nonce = f.Big().Uint64()
	}
	return nil
}

type eventFilterParams struct {
	Filter struct {
		FromBlock  json.RawMessage `json:"from_block"`
		ToBlock    json.RawMessage `json:"to_block"`
		Address    string          `json:"address"`
		Keys       [][]string      `json:"keys"`
		ChunkSize  int             `json:"chunk_size"`
		ContinuationToken string   `json:"continuation_token"`
	} `json:"filter"`
}

func handleGetEvents(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	var p eventFilterParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errf(CodeInvalidParams, "Invalid params")
	}
	chunkSize := p.Filter.ChunkSize
	maxPage := defaultMaxEventPageSize(d)
	if chunkSize <= 0 || uint64(chunkSize) > maxPage {
		if chunkSize > 0 && uint64(chunkSize) > maxPage {
			return nil, errf(CodePageSizeTooBig, "Requested page size is too big")
		}
		chunkSize = int(maxPage)
	}

	from := uint64(0)
	if p.Filter.FromBlock != nil {
		if ref, err := ParseBlockID(p.Filter.FromBlock); err == nil && ref.Number != nil {
			from = *ref.Number
		}
	}
	to, err := d.Provider.LatestBlockNumber()
	if err != nil {
		return nil, MapError(err)
	}
	if p.Filter.ToBlock != nil {
		if ref, err := ParseBlockID(p.Filter.ToBlock); err == nil && ref.Number != nil {
			to = *ref.Number
		}
	}

	start := from
	if p.Filter.ContinuationToken != "" {
		if cursor, err := common.FeltFromHex(p.Filter.ContinuationToken); err == nil {
			start = cursor.Big().Uint64()
		}
	}

	var addrFilter *common.Address
	if p.Filter.Address != "" {
		f, ferr := common.FeltFromHex(p.Filter.Address)
		if ferr != nil {
			return nil, errf(CodeInvalidParams, "invalid address")
		}
		a := common.AddressFromFelt(f)
		addrFilter = &a
	}

	type eventOut struct {
		FromAddress     string   `json:"from_address"`
		Keys            []string `json:"keys"`
		Data            []string `json:"data"`
		BlockNumber     uint64   `json:"block_number"`
		TransactionHash string   `json:"transaction_hash"`
	}
	var out []eventOut
	next := ""
	for bn := start; bn <= to; bn++ {
		body, err := d.Provider.BodyByNumber(bn)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				continue
			}
			return nil, MapError(err)
		}
		for ti, r := range body.Receipts {
			for _, ev := range r.Events {
				if addrFilter != nil && ev.FromAddress != *addrFilter {
					continue
				}
				if !matchEventKeys(ev.Keys, p.Filter.Keys) {
					continue
				}
				if len(out) >= chunkSize {
					next = common.FeltFromUint64(bn).String()
					return map[string]interface{}{"events": out, "continuation_token": next}, nil
				}
				var txHash string
				if ti < len(body.Transactions) {
					txHash = body.Transactions[ti].Hash.String()
				}
				out = append(out, eventOut{
					FromAddress:     ev.FromAddress.String(),
					Keys:            feltsToStrings(ev.Keys),
					Data:            feltsToStrings(ev.Data),
					BlockNumber:     bn,
					TransactionHash: txHash,
				})
			}
		}
	}
	return map[string]interface{}{"events": out, "continuation_token": next}, nil
}

func feltsToStrings(fs []common.Felt) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.String()
	}
	return out
}

// matchEventKeys implements the per-position OR-of-values key filter the
// Starknet getEvents filter uses: keys[i] is a set of acceptable values
// for event key i, empty meaning "any".
func matchEventKeys(eventKeys []common.Felt, filter [][]string) bool {
	for i, options := range filter {
		if len(options) == 0 {
			continue
		}
		if i >= len(eventKeys) {
			return false
		}
		matched := false
		for _, opt := range options {
			f, err := common.FeltFromHex(opt)
			if err == nil && f == eventKeys[i] {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func defaultMaxEventPageSize(d *Dispatcher) uint64 {
	if d.Config.MaxEventPageSize != nil {
		return *d.Config.MaxEventPageSize
	}
	return 1024
}

type storageProofParams struct {
	Keys    []string        `json:"keys"`
	BlockID json.RawMessage `json:"block_id"`
}

func handleGetStorageProof(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	var p storageProofParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errf(CodeInvalidParams, "Invalid params")
	}
	maxKeys := uint64(100)
	if d.Config.MaxProofKeys != nil {
		maxKeys = *d.Config.MaxProofKeys
	}
	if uint64(len(p.Keys)) > maxKeys {
		return nil, errf(CodeTooManyKeysInFilter, "Too many keys provided in a filter")
	}
	// The response carries the block hash and the block's state root
	// only; it includes no per-key Merkle proof nodes.
	ref, rerr := resolveBlockID(p.BlockID)
	if rerr != nil {
		ref = types.BlockLatest()
	}
	block, err := blockByRef(d, ref)
	if err != nil {
		return nil, MapError(err)
	}
	return map[string]interface{}{
		"global_roots": map[string]interface{}{
			"block_hash":     block.Header.Hash().String(),
			"contracts_tree_root": block.Header.StateRoot.String(),
		},
	}, nil
}
