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

import (
	"fmt"

	"github.com/katana-sequencer/katana/katanalib/common"
)

// TxKind tags which transaction variant a Transaction carries.
type TxKind uint8

const (
	TxInvokeV1 TxKind = iota
	TxInvokeV3
	TxDeclareV1
	TxDeclareV2
	TxDeclareV3
	TxDeployAccountV1
	TxDeployAccountV3
	TxL1Handler
)

func (k TxKind) String() string {
	switch k {
	case TxInvokeV1:
		return "INVOKE_V1"
	case TxInvokeV3:
		return "INVOKE_V3"
	case TxDeclareV1:
		return "DECLARE_V1"
	case TxDeclareV2:
		return "DECLARE_V2"
	case TxDeclareV3:
		return "DECLARE_V3"
	case TxDeployAccountV1:
		return "DEPLOY_ACCOUNT_V1"
	case TxDeployAccountV3:
		return "DEPLOY_ACCOUNT_V3"
	case TxL1Handler:
		return "L1_HANDLER"
	default:
		return "UNKNOWN"
	}
}

// ResourceBounds is the v3 fee model: separate L1/L2 gas bounds, each with a
// max amount and a max price per unit.
type ResourceBounds struct {
	MaxAmount       uint64
	MaxPricePerUnit uint64
}

type V3ResourceBounds struct {
	L1Gas ResourceBounds
	L2Gas ResourceBounds
}

// Transaction is a tagged variant over every Starknet transaction kind this
// system accepts. Exactly the fields relevant to Kind are populated; this
// mirrors the teacher's own tagged-union approach to multi-shape records
// rather than modeling each variant as a distinct Go type hierarchy (see
// DESIGN.md's note on §9's "Polymorphism" guidance).
type Transaction struct {
	Kind    TxKind
	ChainID common.ChainID
	Nonce   uint64

	SenderAddress common.Address

	// v1/v2 fee model.
	MaxFee uint64

	// v3 fee model.
	ResourceBounds V3ResourceBounds
	Tip            uint64

	Signature []common.Felt
	Calldata  []common.Felt

	// Declare-only.
	ClassHash         common.ClassHash
	CompiledClassHash common.CompiledClassHash

	// DeployAccount-only.
	ContractAddressSalt common.Felt
	ConstructorCalldata []common.Felt

	// L1Handler-only.
	L1MessageNonce uint64
	EntryPointSelector common.Selector

	QueryMode bool
}

// versionFelt renders the hash-template version slot, folding QueryMode
// into bit 2^128 of the felt as spec.md §6 describes.
func (t Transaction) versionFelt(version uint64) common.Felt {
	v := common.FeltFromUint64(version)
	if t.QueryMode {
		v = v.Add(queryModeOffset)
	}
	return v
}

// Hash computes the deterministic transaction hash per spec.md §6: a
// Pedersen chain for v1/v2 variants and L1Handler, Poseidon for v3.
func (t Transaction) Hash() common.TxHash {
	chain := t.ChainID.ToFelt()
	switch t.Kind {
	case TxInvokeV1:
		h := common.PedersenArray(
			feltsFromASCII("invoke"),
			t.versionFelt(1),
			t.SenderAddress.Felt,
			common.FeltFromUint64(0),
			common.PedersenArray(t.Calldata...),
			common.FeltFromUint64(t.MaxFee),
			chain,
			common.FeltFromUint64(t.Nonce),
		)
		return common.TxHash{Felt: h}
	case TxDeclareV1:
		h := common.PedersenArray(
			feltsFromASCII("declare"),
			t.versionFelt(1),
			t.SenderAddress.Felt,
			common.FeltFromUint64(0),
			common.PedersenArray(t.ClassHash.Felt),
			common.FeltFromUint64(t.MaxFee),
			chain,
			common.FeltFromUint64(t.Nonce),
		)
		return common.TxHash{Felt: h}
	case TxDeclareV2:
		h := common.PedersenArray(
			feltsFromASCII("declare"),
			t.versionFelt(2),
			t.SenderAddress.Felt,
			common.FeltFromUint64(0),
			common.PedersenArray(t.ClassHash.Felt),
			common.FeltFromUint64(t.MaxFee),
			chain,
			common.FeltFromUint64(t.Nonce),
			t.CompiledClassHash.Felt,
		)
		return common.TxHash{Felt: h}
	case TxDeployAccountV1:
		h := common.PedersenArray(
			feltsFromASCII("deploy_account"),
			t.versionFelt(1),
			t.SenderAddress.Felt,
			common.FeltFromUint64(0),
			common.PedersenArray(append([]common.Felt{t.ClassHash.Felt, t.ContractAddressSalt}, t.ConstructorCalldata...)...),
			common.FeltFromUint64(t.MaxFee),
			chain,
			common.FeltFromUint64(t.Nonce),
		)
		return common.TxHash{Felt: h}
	case TxInvokeV3, TxDeclareV3, TxDeployAccountV3:
		h := common.Poseidon(
			feltsFromASCII(t.Kind.String()),
			t.versionFelt(3),
			t.SenderAddress.Felt,
			resourceBoundsFelt(t.ResourceBounds, t.Tip),
			common.PedersenArray(t.Calldata...),
			chain,
			common.FeltFromUint64(t.Nonce),
		)
		return common.TxHash{Felt: h}
	case TxL1Handler:
		h := common.PedersenArray(
			feltsFromASCII("l1_handler"),
			t.versionFelt(0),
			t.SenderAddress.Felt,
			t.EntryPointSelector.Felt,
			common.PedersenArray(t.Calldata...),
			common.FeltFromUint64(0),
			chain,
			common.FeltFromUint64(t.Nonce),
		)
		return common.TxHash{Felt: h}
	default:
		panic(fmt.Sprintf("unknown transaction kind %d", t.Kind))
	}
}

func feltsFromASCII(s string) common.Felt { return common.FeltFromBytes([]byte(s)) }

// queryModeOffset is 2^128, OR'd (here: added, since bit 128 of the version
// felt is always zero for versions 0-3) into the version felt for
// simulate-only calls.
var queryModeOffset = common.MustFeltFromHex("0x100000000000000000000000000000000")

func resourceBoundsFelt(b V3ResourceBounds, tip uint64) common.Felt {
	return common.Poseidon(
		common.FeltFromUint64(b.L1Gas.MaxAmount),
		common.FeltFromUint64(b.L1Gas.MaxPricePerUnit),
		common.FeltFromUint64(b.L2Gas.MaxAmount),
		common.FeltFromUint64(b.L2Gas.MaxPricePerUnit),
		common.FeltFromUint64(tip),
	)
}

// TxWithHash pairs a Transaction with its precomputed hash, the shape
// stored in the Transactions table (so readers never recompute a hash on
// the hot path).
type TxWithHash struct {
	Hash common.TxHash
	Tx   Transaction
}

// EncodeForStorage renders the (hash, tx) pair stored in the Transactions
// table: the precomputed hash followed by Transaction's own encoding.
func (t TxWithHash) EncodeForStorage() []byte {
	e := &encBuf{}
	e.felt(t.Hash.Felt)
	e.b = append(e.b, t.Tx.EncodeForStorage()...)
	return e.b
}

// DecodeTxWithHashForStorage is the inverse of TxWithHash.EncodeForStorage.
func DecodeTxWithHashForStorage(b []byte) (TxWithHash, error) {
	d := newDec(b)
	hash, err := d.felt()
	if err != nil {
		return TxWithHash{}, err
	}
	tx, err := DecodeTransactionForStorage(d.b[d.off:])
	if err != nil {
		return TxWithHash{}, err
	}
	return TxWithHash{Hash: common.TxHashFromFelt(hash), Tx: tx}, nil
}

// EncodeForStorage renders the canonical length-prefixed binary record.
func (t Transaction) EncodeForStorage() []byte {
	e := &encBuf{}
	e.byte(byte(t.Kind))
	e.string(string(t.ChainID))
	e.u64(t.Nonce)
	e.felt(t.SenderAddress.Felt)
	e.u64(t.MaxFee)
	e.u64(t.ResourceBounds.L1Gas.MaxAmount)
	e.u64(t.ResourceBounds.L1Gas.MaxPricePerUnit)
	e.u64(t.ResourceBounds.L2Gas.MaxAmount)
	e.u64(t.ResourceBounds.L2Gas.MaxPricePerUnit)
	e.u64(t.Tip)
	e.u32(uint32(len(t.Signature)))
	for _, s := range t.Signature {
		e.felt(s)
	}
	e.u32(uint32(len(t.Calldata)))
	for _, c := range t.Calldata {
		e.felt(c)
	}
	e.felt(t.ClassHash.Felt)
	e.felt(t.CompiledClassHash.Felt)
	e.felt(t.ContractAddressSalt)
	e.u32(uint32(len(t.ConstructorCalldata)))
	for _, c := range t.ConstructorCalldata {
		e.felt(c)
	}
	e.u64(t.L1MessageNonce)
	e.felt(t.EntryPointSelector.Felt)
	if t.QueryMode {
		e.byte(1)
	} else {
		e.byte(0)
	}
	return e.b
}

// DecodeTransactionForStorage is the inverse of EncodeForStorage.
func DecodeTransactionForStorage(b []byte) (Transaction, error) {
	d := newDec(b)
	var t Transaction
	kind, err := d.byte()
	if err != nil {
		return t, err
	}
	t.Kind = TxKind(kind)
	chainID, err := d.string()
	if err != nil {
		return t, err
	}
	t.ChainID = common.ChainID(chainID)
	if t.Nonce, err = d.u64(); err != nil {
		return t, err
	}
	sender, err := d.felt()
	if err != nil {
		return t, err
	}
	t.SenderAddress = common.AddressFromFelt(sender)
	if t.MaxFee, err = d.u64(); err != nil {
		return t, err
	}
	if t.ResourceBounds.L1Gas.MaxAmount, err = d.u64(); err != nil {
		return t, err
	}
	if t.ResourceBounds.L1Gas.MaxPricePerUnit, err = d.u64(); err != nil {
		return t, err
	}
	if t.ResourceBounds.L2Gas.MaxAmount, err = d.u64(); err != nil {
		return t, err
	}
	if t.ResourceBounds.L2Gas.MaxPricePerUnit, err = d.u64(); err != nil {
		return t, err
	}
	if t.Tip, err = d.u64(); err != nil {
		return t, err
	}
	sigN, err := d.u32()
	if err != nil {
		return t, err
	}
	t.Signature = make([]common.Felt, sigN)
	for i := range t.Signature {
		if t.Signature[i], err = d.felt(); err != nil {
			return t, err
		}
	}
	callN, err := d.u32()
	if err != nil {
		return t, err
	}
	t.Calldata = make([]common.Felt, callN)
	for i := range t.Calldata {
		if t.Calldata[i], err = d.felt(); err != nil {
			return t, err
		}
	}
	classHash, err := d.felt()
	if err != nil {
		return t, err
	}
	t.ClassHash = common.ClassHashFromFelt(classHash)
	compiledHash, err := d.felt()
	if err != nil {
		return t, err
	}
	t.CompiledClassHash = common.CompiledClassHashFromFelt(compiledHash)
	if t.ContractAddressSalt, err = d.felt(); err != nil {
		return t, err
	}
	ctorN, err := d.u32()
	if err != nil {
		return t, err
	}
	t.ConstructorCalldata = make([]common.Felt, ctorN)
	for i := range t.ConstructorCalldata {
		if t.ConstructorCalldata[i], err = d.felt(); err != nil {
			return t, err
		}
	}
	if t.L1MessageNonce, err = d.u64(); err != nil {
		return t, err
	}
	selector, err := d.felt()
	if err != nil {
		return t, err
	}
	t.EntryPointSelector = common.SelectorFromFelt(selector)
	queryByte, err := d.byte()
	if err != nil {
		return t, err
	}
	t.QueryMode = queryByte != 0
	return t, d.done()
}
