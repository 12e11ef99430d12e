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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katana-sequencer/katana/katanalib/common"
)

func TestTransactionHashDeterministic(t *testing.T) {
	tx := Transaction{
		Kind:          TxInvokeV1,
		ChainID:       common.ChainIDSepolia,
		Nonce:         0,
		SenderAddress: common.AddressFromFelt(common.FeltFromUint64(1)),
		MaxFee:        0x1000,
		Calldata: []common.Felt{
			common.FeltFromUint64(2), common.FeltFromUint64(0xdead),
			common.FeltFromUint64(0xbeef), common.FeltFromUint64(1), common.FeltFromUint64(7),
		},
	}
	h1 := tx.Hash()
	h2 := tx.Hash()
	require.Equal(t, h1, h2, "hash must be a pure function of transaction content")
}

func TestTransactionHashDistinctAcrossKinds(t *testing.T) {
	base := Transaction{
		ChainID:       common.ChainIDSepolia,
		SenderAddress: common.AddressFromFelt(common.FeltFromUint64(42)),
		MaxFee:        1,
	}
	invoke := base
	invoke.Kind = TxInvokeV1
	declare := base
	declare.Kind = TxDeclareV1

	require.NotEqual(t, invoke.Hash(), declare.Hash(), "different variants must hash differently even with shared fields")
}

func TestTransactionQueryModeChangesHash(t *testing.T) {
	tx := Transaction{
		Kind:          TxInvokeV1,
		ChainID:       common.ChainIDMainnet,
		SenderAddress: common.AddressFromFelt(common.FeltFromUint64(7)),
	}
	plain := tx
	queried := tx
	queried.QueryMode = true

	require.NotEqual(t, plain.Hash(), queried.Hash())
}

func TestTransactionEncodeForStorageRoundTrip(t *testing.T) {
	cases := []Transaction{
		{
			Kind:          TxInvokeV1,
			ChainID:       common.ChainIDSepolia,
			Nonce:         3,
			SenderAddress: common.AddressFromFelt(common.FeltFromUint64(9)),
			MaxFee:        500,
			Signature:     []common.Felt{common.FeltFromUint64(1), common.FeltFromUint64(2)},
			Calldata:      []common.Felt{common.FeltFromUint64(10)},
		},
		{
			Kind:                TxDeployAccountV3,
			ChainID:             common.ChainIDMainnet,
			Nonce:               0,
			SenderAddress:       common.AddressFromFelt(common.FeltFromUint64(55)),
			ResourceBounds:      V3ResourceBounds{L1Gas: ResourceBounds{MaxAmount: 100, MaxPricePerUnit: 2}},
			ContractAddressSalt: common.FeltFromUint64(77),
			ConstructorCalldata: []common.Felt{common.FeltFromUint64(1)},
			ClassHash:           common.ClassHashFromFelt(common.FeltFromUint64(123)),
		},
		{
			Kind:               TxL1Handler,
			ChainID:            common.ChainIDSepolia,
			SenderAddress:      common.AddressFromFelt(common.FeltFromUint64(1)),
			EntryPointSelector: common.SelectorFromFelt(common.FeltFromUint64(999)),
			L1MessageNonce:     12,
			Calldata:           []common.Felt{common.FeltFromUint64(1), common.FeltFromUint64(2)},
		},
	}

	for i, tx := range cases {
		encoded := tx.EncodeForStorage()
		decoded, err := DecodeTransactionForStorage(encoded)
		require.NoErrorf(t, err, "case %d", i)
		require.Equal(t, tx, decoded, "case %d", i)
	}
}
