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
	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
)

// ContractKind is the routing axis spec.md §4.9's table keys processors by,
// alongside the event selector.
type ContractKind uint8

const (
	ContractUnknown ContractKind = iota
	ContractWorld
	ContractERC20
	ContractERC721
	ContractERC1155
	ContractUDC
)

// Selectors, computed once from the event names spec.md §4.9 names
// bit-exact (common.SelectorFromName gives every name a stable, distinct
// field-element selector — see katanalib/common/hash.go).
var (
	SelModelRegistered = common.SelectorFromName("ModelRegistered")
	SelEventRegistered = common.SelectorFromName("EventRegistered")
	SelModelUpgraded   = common.SelectorFromName("ModelUpgraded")
	SelEventUpgraded   = common.SelectorFromName("EventUpgraded")
	SelStoreSetRecord  = common.SelectorFromName("StoreSetRecord")
	SelStoreDelRecord  = common.SelectorFromName("StoreDelRecord")
	SelStoreUpdateRecord = common.SelectorFromName("StoreUpdateRecord")
	SelStoreUpdateMember = common.SelectorFromName("StoreUpdateMember")
	SelMetadataUpdate    = common.SelectorFromName("MetadataUpdate")
	SelEventEmitted      = common.SelectorFromName("EventEmitted")

	SelTransferV0        = common.SelectorFromName("Transfer")
	SelTransferV1        = common.SelectorFromName("transfer")
	SelBatchMetadataUpdate = common.SelectorFromName("BatchMetadataUpdate")
	SelTransferSingle      = common.SelectorFromName("TransferSingle")
	SelTransferBatch       = common.SelectorFromName("TransferBatch")

	SelContractDeployed = common.SelectorFromName("ContractDeployed")
)

// RawEvent is one emitted Starknet event as it arrives from a receipt,
// positioned precisely enough to compute spec.md §3's event id.
type RawEvent struct {
	FromAddress common.Address
	Keys        []common.Felt
	Data        []common.Felt
	BlockNumber uint64
	TxIndex     uint32
	EventIndex  uint32
}

// EventID packs (block_number, tx_index, event_index) into a single felt
// uniquely identifying this event (spec.md glossary: "Event id:
// block_number · tx_index · event_index"), used as the idempotence key
// (spec.md §4.9). Resolved here (an Open Question the distilled spec
// leaves silent on the exact packing) as a fixed-width composite: tx_index
// and event_index each get 20 bits, leaving block_number the high bits —
// ample headroom for a development-grade sequencer.
func (e RawEvent) EventID() common.Felt {
	packed := (e.BlockNumber << 40) | (uint64(e.TxIndex) << 20) | uint64(e.EventIndex)
	return common.FeltFromUint64(packed)
}

// Selector returns the event's selector, conventionally the first key
// (Starknet events index their selector as keys[0]).
func (e RawEvent) Selector() common.Selector {
	if len(e.Keys) == 0 {
		return common.Selector{}
	}
	return common.SelectorFromFelt(e.Keys[0])
}

func fromEvent(ev types.Event, blockNumber uint64, txIndex, eventIndex int) RawEvent {
	return RawEvent{
		FromAddress: ev.FromAddress,
		Keys:        ev.Keys,
		Data:        ev.Data,
		BlockNumber: blockNumber,
		TxIndex:     uint32(txIndex),
		EventIndex:  uint32(eventIndex),
	}
}
