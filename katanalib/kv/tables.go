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

package kv

import (
	"fmt"
	"sort"
)

// DBSchemaVersion is bumped whenever a table's physical layout changes.
var DBSchemaVersion = struct{ Major, Minor, Patch uint32 }{Major: 1, Minor: 0, Patch: 0}

// Table names. Keys and values are the length-prefixed canonical encodings
// of the semantic types from spec.md §3; see core/types/encoding.go.
const (
	// Canonical chain.
	Headers          = "Headers"          // block_num_u64 -> Header
	BlockHashes      = "BlockHashes"      // block_num_u64 -> block hash
	BlockNumbers     = "BlockNumbers"     // block hash -> block_num_u64
	BlockBodyIndices = "BlockBodyIndices" // block_num_u64 -> (tx_start_u64, tx_count_u64)

	Transactions = "Transactions" // tx_num_u64 -> TxWithHash
	TxHashes     = "TxHashes"     // tx_num_u64 -> tx hash
	TxNumbers    = "TxNumbers"    // tx hash -> tx_num_u64
	TxBlocks     = "TxBlocks"     // tx_num_u64 -> block_num_u64

	Receipts = "Receipts" // tx_num_u64 -> Receipt
	Traces   = "Traces"   // tx_num_u64 -> TxExecInfo

	BlockStatuses = "BlockStatuses" // block_num_u64 -> status byte (pending/accepted_l2/accepted_l1)

	// Classes.
	CompiledClassHashes = "CompiledClassHashes" // class hash -> compiled class hash
	Classes             = "Classes"             // class hash -> ContractClass
	CompiledClasses     = "CompiledClasses"     // compiled class hash -> CASM
	ClassDeclarations   = "ClassDeclarations"   // block_num_u64 -> class hash (dup-sort)

	// State.
	ContractInfo    = "ContractInfo"    // address -> (class_hash, nonce)
	ContractStorage = "ContractStorage" // address -> (key, value) (dup-sort by key)

	NonceChanges   = "NonceChanges"   // block_num_u64 -> address (dup-sort)
	ClassChanges   = "ClassChanges"   // block_num_u64 -> address (dup-sort)
	StorageChanges = "StorageChanges" // block_num_u64 -> (address, key) (dup-sort)

	// Trie nodes, one table per trie kind; key = trie id (1 byte) + node key.
	TrieNodesContracts = "TrieNodesContracts"
	TrieNodesClasses   = "TrieNodesClasses"
	TrieNodesStorage   = "TrieNodesStorage"

	// L1<->L2 messaging (spec.md §6, supplemented from original_source/).
	L1Messages   = "L1Messages"   // message hash -> L1HandlerTransaction
	L2L1Messages = "L2L1Messages" // tx_num_u64 + index -> L2ToL1Message

	// Sequencer/sync bookkeeping.
	SyncStageProgress = "SyncStageProgress" // stage name -> checkpoint (block_num_u64)
	HeadBlockKey      = "HeadBlockKey"      // singleton -> block_num_u64
	ChainMeta         = "ChainMeta"         // singleton keys -> manifest fields (chain id, genesis hash)
	Sequence          = "Sequence"          // table name -> next sequence value (u64)
)

// Keys used with the ChainMeta / HeadBlockKey singleton tables.
var (
	GenesisHashKey = []byte("genesisHash")
	ChainIDKey     = []byte("chainId")
	IndexerHeadKey = []byte("indexerHead")
	HeadKey        = []byte("head")
)

// TxPool-only tables; live in a separate Env (Label TxPoolDB) the way
// Erigon's tx pool uses its own txpool.db environment.
const (
	PoolPending = "PoolPending" // tx hash -> sender+tx (pending set)
	PoolQueued  = "PoolQueued"  // tx hash -> sender+tx (queued/dependent set)
	PoolInfo    = "PoolInfo"    // option key -> option value
)

// TableFlags mirror the underlying MDBX flags a table is opened with.
type TableFlags uint

const (
	Default TableFlags = 0x00
	DupSort TableFlags = 0x04
)

type TableCfgItem struct {
	Flags TableFlags
}

type TableCfg map[string]TableCfgItem

// ChaindataTables lists every table that must exist in the ChainDB
// environment. OpenEnv creates only the tables listed here; on the MDBX
// backend a read or write against any other table name fails with an
// "unknown table" error.
var ChaindataTables = []string{
	Headers, BlockHashes, BlockNumbers, BlockBodyIndices,
	Transactions, TxHashes, TxNumbers, TxBlocks,
	Receipts, Traces, BlockStatuses,
	CompiledClassHashes, Classes, CompiledClasses, ClassDeclarations,
	ContractInfo, ContractStorage,
	NonceChanges, ClassChanges, StorageChanges,
	TrieNodesContracts, TrieNodesClasses, TrieNodesStorage,
	L1Messages, L2L1Messages,
	SyncStageProgress, HeadBlockKey, ChainMeta, Sequence,
}

var ChaindataTablesCfg = TableCfg{
	ClassDeclarations: {Flags: DupSort},
	ContractStorage:   {Flags: DupSort},
	NonceChanges:      {Flags: DupSort},
	ClassChanges:      {Flags: DupSort},
	StorageChanges:    {Flags: DupSort},
}

var TxPoolTables = []string{PoolPending, PoolQueued, PoolInfo}
var TxpoolTablesCfg = TableCfg{}

func TablesCfgByLabel(label Label) TableCfg {
	switch label {
	case ChainDB, DiagnosticsDB:
		return ChaindataTablesCfg
	case TxPoolDB:
		return TxpoolTablesCfg
	default:
		panic(fmt.Sprintf("unexpected label: %s", label))
	}
}

func TablesByLabel(label Label) []string {
	switch label {
	case ChainDB, DiagnosticsDB:
		return ChaindataTables
	case TxPoolDB:
		return TxPoolTables
	default:
		panic(fmt.Sprintf("unexpected label: %s", label))
	}
}

func init() { reinit() }

func reinit() {
	sort.SliceStable(ChaindataTables, func(i, j int) bool { return ChaindataTables[i] < ChaindataTables[j] })
	for _, name := range ChaindataTables {
		if _, ok := ChaindataTablesCfg[name]; !ok {
			ChaindataTablesCfg[name] = TableCfgItem{}
		}
	}
	for _, name := range TxPoolTables {
		if _, ok := TxpoolTablesCfg[name]; !ok {
			TxpoolTablesCfg[name] = TableCfgItem{}
		}
	}
}
