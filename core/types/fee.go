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

	"github.com/holiman/uint256"
)

// MaxFee renders a transaction's fee ceiling as a flat uint64, the single
// number the pool's validator and the executor both compare balances
// against. v1/v2 transactions already carry one (MaxFee); v3's resource-
// bounds model needs its two bounds multiplied out and summed, done with
// overflow-checked arithmetic in the style of the teacher's own
// EIP-4844 gas math (FakeExponential's MulOverflow/AddOverflow chain)
// rather than plain uint64 multiplication, which would silently wrap
// instead of failing closed on a malicious or malformed bound.
func MaxFee(tx Transaction) (uint64, error) {
	switch tx.Kind {
	case TxInvokeV3, TxDeclareV3, TxDeployAccountV3:
		l1, err := resourceBoundCost(tx.ResourceBounds.L1Gas)
		if err != nil {
			return 0, err
		}
		l2, err := resourceBoundCost(tx.ResourceBounds.L2Gas)
		if err != nil {
			return 0, err
		}
		total := new(uint256.Int)
		if _, overflow := total.AddOverflow(l1, l2); overflow {
			return 0, fmt.Errorf("types: resource bound sum overflows")
		}
		if !total.IsUint64() {
			return 0, fmt.Errorf("types: resource bound sum exceeds uint64")
		}
		return total.Uint64(), nil
	default:
		return tx.MaxFee, nil
	}
}

func resourceBoundCost(b ResourceBounds) (*uint256.Int, error) {
	amount := uint256.NewInt(b.MaxAmount)
	price := uint256.NewInt(b.MaxPricePerUnit)
	cost := new(uint256.Int)
	if _, overflow := cost.MulOverflow(amount, price); overflow {
		return nil, fmt.Errorf("types: resource bound amount*price overflows")
	}
	return cost, nil
}
