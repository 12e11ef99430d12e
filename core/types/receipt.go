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

package types

import "github.com/katana-sequencer/katana/katanalib/common"

// ExecutionStatus is a receipt's terminal status.
type ExecutionStatus uint8

const (
	ExecutionSucceeded ExecutionStatus = iota
	ExecutionReverted
)

// Event is a single emitted Starknet event.
type Event struct {
	FromAddress common.Address
	Keys        []common.Felt
	Data        []common.Felt
}

// L2ToL1Message is an outgoing message queued for L1 consumption.
type L2ToL1Message struct {
	FromAddress common.Address
	ToAddress   common.Felt // L1 address, stored as a felt for uniform encoding
	Payload     []common.Felt
}

// ResourceUsage is the per-transaction resource accounting the executor
// reports (used for fee settlement and block resource-ceiling checks).
type ResourceUsage struct {
	L1GasUsed   uint64
	L1DataGasUsed uint64
	CairoSteps  uint64
}

// Receipt is the per-transaction execution outcome stored in the Receipts
// table.
type Receipt struct {
	Status        ExecutionStatus
	RevertReason  string
	ActualFee     uint64
	FeeUnit       string
	Events        []Event
	Messages      []L2ToL1Message
	Resources     ResourceUsage
}

// L1Message is an inbound L1->L2 message, keyed by its message hash in the
// L1Messages table (supplemented from original_source/, see DESIGN.md).
type L1Message struct {
	FromAddress   common.Felt // L1 address
	ToAddress     common.Address
	Selector      common.Selector
	Payload       []common.Felt
	Nonce         uint64
	L1BlockNumber uint64
}

// CallInfo is one frame of an execution trace: an entry-point invocation,
// its children, and everything it touched.
type CallInfo struct {
	ContractAddress common.Address
	Selector        common.Selector
	Calldata        []common.Felt
	Result          []common.Felt
	Events          []Event
	Messages        []L2ToL1Message
	StorageReads    []common.StorageKey
	StorageWrites   []StorageEntry
	Children        []CallInfo
}

// TxExecInfo is the full validate/execute/fee-transfer trace for one
// transaction, stored in the Traces table.
type TxExecInfo struct {
	ValidateInvocation    *CallInfo
	ExecuteInvocation     *CallInfo
	FeeTransferInvocation *CallInfo
}
