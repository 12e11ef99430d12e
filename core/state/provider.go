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

// Package state is the typed read/write façade (component C3) over the raw
// key-value store (C1) and the trie layer (C2): blocks, transactions,
// receipts, traces, classes and per-revision contract state. Executor, Pool
// and Producer only ever talk to the small set of interfaces defined here,
// never to kv or trie directly, per spec.md §9's polymorphism guidance.
package state

import (
	"errors"

	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
)

// ErrNotFound is returned by any read that addresses a block, transaction
// or class that does not exist at the requested revision, including a
// Historical revision past the chain head. Contract-state reads of an
// address with no deployed contract return zero values, not ErrNotFound.
// RPC maps it to the Starknet BlockNotFound/TransactionHashNotFound/
// ClassHashNotFound family (spec.md §6 error table).
var ErrNotFound = errors.New("state: not found")

// BlockReader is the read side of the canonical chain: headers, bodies,
// transactions, receipts and traces, addressed by number or hash.
type BlockReader interface {
	LatestBlockNumber() (uint64, error)
	HeaderByNumber(number uint64) (types.Header, error)
	HeaderByHash(hash common.BlockHash) (types.Header, error)
	BlockHashByNumber(number uint64) (common.BlockHash, error)
	BlockNumberByHash(hash common.BlockHash) (uint64, error)
	BodyByNumber(number uint64) (types.Body, error)
	BlockByNumber(number uint64) (types.SealedBlockWithStatus, error)
	TransactionByHash(hash common.TxHash) (types.TxWithHash, uint64, error)
	ReceiptByHash(hash common.TxHash) (types.Receipt, error)
	TraceByHash(hash common.TxHash) (types.TxExecInfo, error)
	ClassByHash(classHash common.ClassHash) (types.ContractClass, error)
	CasmClassByHash(compiledHash common.CompiledClassHash) (types.CasmClass, error)
}

// StateProvider answers point-in-time contract-state questions at whatever
// revision it was obtained for (latest, pending, or a historical block).
type StateProvider interface {
	Nonce(address common.Address) (uint64, error)
	ClassHashAt(address common.Address) (common.ClassHash, error)
	StorageAt(address common.Address, key common.StorageKey) (common.Felt, error)
	CompiledClassHash(classHash common.ClassHash) (common.CompiledClassHash, error)
}

// StateWriter accumulates the deltas one block (or one in-progress pending
// block) produces; Provider.InsertBlockWithStatesAndReceipts is the only
// thing that actually commits a StateWriter's effect to C1/C2, via
// *types.StateUpdatesWithClasses built up from the values written here.
type StateWriter interface {
	SetNonce(address common.Address, nonce uint64) error
	SetClassHash(address common.Address, classHash common.ClassHash) error
	SetStorage(address common.Address, key common.StorageKey, value common.Felt) error
	SetCompiledClassHash(classHash common.ClassHash, compiledHash common.CompiledClassHash) error
}

// TrieReader exposes the three commitment roots C2 maintains.
type TrieReader interface {
	ContractsRoot() (common.Felt, error)
	ClassesRoot() (common.Felt, error)
	StorageRoot(address common.Address) (common.Felt, error)
	StateRoot() (common.Felt, error)
}

// TrieWriter applies one block's accumulated state delta to the three tries
// and stamps a new committed revision.
type TrieWriter interface {
	TrieReader
	UpdateContract(address common.Address, classHash common.ClassHash, storageRoot common.Felt, nonce uint64) error
	UpdateStorage(address common.Address, key common.StorageKey, value common.Felt) error
	UpdateClass(classHash common.ClassHash, compiledHash common.CompiledClassHash) error
	CommitTries(blockNumber uint64) error
}

// Provider is the full C3 façade: BlockReader plus the constructors for a
// StateProvider at any revision, plus the one writer entrypoint.
type Provider interface {
	BlockReader

	Latest() (StateProvider, error)
	Historical(ref types.BlockHashOrNumber) (StateProvider, error)

	// InsertBlockWithStatesAndReceipts is C3's sole writer operation
	// (spec.md §4.3): within one C1 RW transaction it appends the block,
	// applies updates' deltas, drives C2 to compute the new roots, checks
	// them against block.Header's declared roots (or fills them in when
	// filledRoots is true, for a locally produced block — block is taken
	// by pointer so the caller observes the final header), and updates
	// the history tables.
	InsertBlockWithStatesAndReceipts(
		block *types.SealedBlockWithStatus,
		updates *types.StateUpdatesWithClasses,
		receipts []types.Receipt,
		traces []types.TxExecInfo,
		filledRoots bool,
	) error

	// InsertClassBodies persists class/CASM bodies fetched independently
	// of the block that declared them — the Pipeline's Classes stage
	// (spec.md §4.7) backfills a class body some time after the block
	// carrying its declaration already committed, so this writer touches
	// only the Classes/CompiledClasses tables, never the block/header or
	// trie roots.
	InsertClassBodies(
		classes map[common.ClassHash]types.ContractClass,
		casmClasses map[common.CompiledClassHash]types.CasmClass,
	) error

	// RecordL1Message persists an inbound L1->L2 message keyed by its
	// message hash, deduplicating repeated deliveries (supplemented from
	// original_source/'s messaging inbox, see DESIGN.md).
	RecordL1Message(hash common.Felt, msg types.L1Message) error

	// L1MessageByHash looks up a previously recorded inbound message.
	L1MessageByHash(hash common.Felt) (types.L1Message, bool, error)
}

// ErrRootMismatch is returned by InsertBlockWithStatesAndReceipts when the
// roots C2 computes from updates disagree with the header's declared
// roots for a fetched (not locally produced) block.
var ErrRootMismatch = errors.New("state: computed root does not match header")
