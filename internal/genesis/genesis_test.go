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

package genesis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveAccountsDeterministic(t *testing.T) {
	a := DeriveAccounts("my-seed", 5, 100)
	b := DeriveAccounts("my-seed", 5, 100)
	require.Len(t, a, 5)
	for i := range a {
		require.Equal(t, a[i].Address, b[i].Address)
		require.Equal(t, a[i].PrivateKey, b[i].PrivateKey)
	}
}

func TestDeriveAccountsDifferentSeedsDiverge(t *testing.T) {
	a := DeriveAccounts("seed-one", 1, 100)
	b := DeriveAccounts("seed-two", 1, 100)
	require.NotEqual(t, a[0].Address, b[0].Address)
}

func TestStateUpdatesSeedsBalances(t *testing.T) {
	accounts := DeriveAccounts("seed", 2, 500)
	updates := StateUpdates(accounts)
	for _, acc := range accounts {
		entries, ok := updates.StateUpdates.StorageUpdates[acc.Address]
		require.True(t, ok)
		require.Len(t, entries, 1)
		require.Equal(t, uint64(500), entries[0].Value.Big().Uint64())
	}
}

func TestByAddress(t *testing.T) {
	accounts := DeriveAccounts("seed", 3, 10)
	idx := ByAddress(accounts)
	require.Len(t, idx, 3)
	for _, acc := range accounts {
		require.Equal(t, acc, idx[acc.Address])
	}
}
