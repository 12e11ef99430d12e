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

package common

// Address, ClassHash, Selector, StorageKey and TxHash are all field elements
// under the hood but kept as distinct Go types so the compiler catches
// cross-domain mixups (passing a class hash where an address is expected).

type Address struct{ Felt }
type ClassHash struct{ Felt }
type CompiledClassHash struct{ Felt }
type Selector struct{ Felt }
type StorageKey struct{ Felt }
type TxHash struct{ Felt }
type BlockHash struct{ Felt }
type EventHash struct{ Felt }

func AddressFromFelt(f Felt) Address                     { return Address{f} }
func ClassHashFromFelt(f Felt) ClassHash                 { return ClassHash{f} }
func CompiledClassHashFromFelt(f Felt) CompiledClassHash { return CompiledClassHash{f} }
func SelectorFromFelt(f Felt) Selector                   { return Selector{f} }
func StorageKeyFromFelt(f Felt) StorageKey               { return StorageKey{f} }
func TxHashFromFelt(f Felt) TxHash                       { return TxHash{f} }
func BlockHashFromFelt(f Felt) BlockHash                 { return BlockHash{f} }

// ChainID identifies the network a transaction/block belongs to (e.g.
// "SN_SEPOLIA"); hashed as the ASCII bytes packed into a Felt.
type ChainID string

// ToFelt packs the chain id's ASCII bytes big-endian into a Felt, the way
// Starknet chain ids are folded into the field for hashing.
func (c ChainID) ToFelt() Felt {
	return FeltFromBytes([]byte(c))
}

const (
	ChainIDMainnet ChainID = "SN_MAIN"
	ChainIDSepolia ChainID = "SN_SEPOLIA"
)
