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

// Package genesis builds the dev-mode chain's block zero: a deterministic
// set of prefunded accounts derived from the profile manifest's
// world.seed, and the StateUpdates that seed them. Supplemented from
// original_source/'s accounts.rs (see DESIGN.md and SPEC_FULL.md §6).
package genesis

import (
	"github.com/katana-sequencer/katana/core/executor"
	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
)

// DefaultAccountCount and DefaultBalance mirror original_source/'s
// development defaults: ten funded accounts at 10^18 wei-equivalent
// units, enough headroom for the fee amounts NativeVM charges.
const (
	DefaultAccountCount = 10
	DefaultBalance      = 1_000_000_000_000_000_000
)

// Account is one deterministically-derived dev account. NativeVM has no
// real signature scheme to check (spec.md's executor is a development
// stand-in, §9), so PrivateKey/PublicKey are derived felts for display and
// for `dev_accountBalance`/integration-test bookkeeping, not a usable
// STARK-curve keypair.
type Account struct {
	Index      int
	PrivateKey common.Felt
	PublicKey  common.Felt
	Address    common.Address
	Balance    uint64
}

var (
	privateKeyDomain = common.FeltFromBytes([]byte("katana.genesis.private_key"))
	publicKeyDomain  = common.FeltFromBytes([]byte("katana.genesis.public_key"))
	addressDomain    = common.FeltFromBytes([]byte("katana.genesis.address"))
)

// DeriveAccounts returns count accounts deterministically derived from
// seed: the same (seed, index) pair always yields the same account,
// across processes and across Go/Rust (to the extent a Keccak-sponge
// felt hash can stand in for the original's Pedersen-over-STARK-curve
// scheme — see DESIGN.md's note on the hash-primitive tradeoff).
func DeriveAccounts(seed string, count int, balance uint64) []Account {
	if count <= 0 {
		count = DefaultAccountCount
	}
	if balance == 0 {
		balance = DefaultBalance
	}
	seedFelt := common.FeltFromBytes([]byte(seed))
	accounts := make([]Account, count)
	for i := 0; i < count; i++ {
		idx := common.FeltFromUint64(uint64(i))
		priv := common.Poseidon(privateKeyDomain, seedFelt, idx)
		pub := common.Poseidon(publicKeyDomain, priv)
		addr := common.AddressFromFelt(common.Poseidon(addressDomain, pub))
		accounts[i] = Account{
			Index:      i,
			PrivateKey: priv,
			PublicKey:  pub,
			Address:    addr,
			Balance:    balance,
		}
	}
	return accounts
}

// StateUpdates builds the StateUpdatesWithClasses that prefunds accounts
// in C1's ContractStorage table, ready to pass to
// Provider.InsertBlockWithStatesAndReceipts for block zero. Balances are
// seeded directly into NativeVM's built-in balance slot
// (executor.BalanceKey) so dev transfers and fee settlement see them
// immediately without a constructor call.
func StateUpdates(accounts []Account) *types.StateUpdatesWithClasses {
	su := types.NewStateUpdates()
	for _, acc := range accounts {
		su.StorageUpdates[acc.Address] = []types.StorageEntry{{
			Key:   executor.BalanceKey(acc.Address),
			Value: common.FeltFromUint64(acc.Balance),
		}}
		su.NonceUpdates[acc.Address] = 0
	}
	return &types.StateUpdatesWithClasses{
		StateUpdates: su,
		Classes:      make(map[common.ClassHash]types.ContractClass),
		CasmClasses:  make(map[common.CompiledClassHash]types.CasmClass),
	}
}

// Block builds the unsealed genesis header (block zero, no parent, no
// transactions); the caller fills in roots by passing filledRoots=true to
// InsertBlockWithStatesAndReceipts.
func Block(sequencerAddr common.Address, protocolVersion string, timestamp uint64) *types.SealedBlockWithStatus {
	return &types.SealedBlockWithStatus{
		Header: types.Header{
			ParentHash:      common.BlockHash{},
			Number:          0,
			Timestamp:       timestamp,
			SequencerAddr:   sequencerAddr,
			ProtocolVersion: protocolVersion,
		},
		Body:   types.Body{},
		Status: types.StatusAcceptedOnL2,
	}
}

// ByAddress indexes accounts by address for O(1) dev_accountBalance
// lookups.
func ByAddress(accounts []Account) map[common.Address]Account {
	out := make(map[common.Address]Account, len(accounts))
	for _, a := range accounts {
		out[a.Address] = a
	}
	return out
}
