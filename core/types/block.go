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

// GasPrices carries both the wei- and native-token-denominated L1 gas
// price, since fee-v3 resource bounds can be paid in either.
type GasPrices struct {
	Wei    uint64
	Native uint64
}

// Header is the sealed or in-progress metadata of a block.
type Header struct {
	ParentHash      common.BlockHash
	Number          uint64
	Timestamp       uint64
	SequencerAddr   common.Address
	L1GasPrices     GasPrices
	StateRoot       common.Felt
	TransactionsRoot common.Felt
	EventsRoot      common.Felt
	ReceiptsRoot    common.Felt
	ProtocolVersion string
}

// EmptyTreeRoot is the defined empty-commitment constant returned as the
// transactions/events/receipts root of an empty block. It is not the root
// core/trie reports for a trie with zero leaves (that root is zero).
var EmptyTreeRoot = common.Poseidon(common.FeltFromUint64(0))

// Hash seals the header: a Pedersen/Poseidon chain over every field, per
// spec.md §3 ("a block is sealed when its hash is computed over a
// Pedersen/Poseidon chain of header fields").
func (h Header) Hash() common.BlockHash {
	f := common.Poseidon(
		h.ParentHash.Felt,
		common.FeltFromUint64(h.Number),
		common.FeltFromUint64(h.Timestamp),
		h.SequencerAddr.Felt,
		common.FeltFromUint64(h.L1GasPrices.Wei),
		common.FeltFromUint64(h.L1GasPrices.Native),
		h.StateRoot,
		h.TransactionsRoot,
		h.EventsRoot,
		h.ReceiptsRoot,
		common.FeltFromBytes([]byte(h.ProtocolVersion)),
	)
	return common.BlockHashFromFelt(f)
}

// Body is the ordered list of transactions sealed into a block, alongside
// their receipts and execution traces (indices line up 1:1).
type Body struct {
	Transactions []TxWithHash
	Receipts     []Receipt
	Traces       []TxExecInfo
}

// BlockStatus distinguishes locally-pending blocks from sealed ones.
type BlockStatus uint8

const (
	StatusPending BlockStatus = iota
	StatusAcceptedOnL2
	StatusAcceptedOnL1
)

// SealedBlockWithStatus is a fully-formed block ready for C3 to persist.
type SealedBlockWithStatus struct {
	Header Header
	Body   Body
	Status BlockStatus
}

// BlockHashOrNumber selects a historical or tagged block revision.
type BlockHashOrNumber struct {
	Tag    BlockTag // Latest or Pending, if Number/Hash unset
	Number *uint64
	Hash   *common.BlockHash
}

type BlockTag uint8

const (
	TagNone BlockTag = iota
	TagLatest
	TagPending
)

func BlockByNumber(n uint64) BlockHashOrNumber { return BlockHashOrNumber{Number: &n} }
func BlockByHash(h common.BlockHash) BlockHashOrNumber { return BlockHashOrNumber{Hash: &h} }
func BlockLatest() BlockHashOrNumber  { return BlockHashOrNumber{Tag: TagLatest} }
func BlockPending() BlockHashOrNumber { return BlockHashOrNumber{Tag: TagPending} }
