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

package trie

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/katanalib/kv"
	"github.com/katana-sequencer/katana/katanalib/kv/kvtest"
)

func TestTrieCommitAndReopen(t *testing.T) {
	env := kvtest.NewMemEnv(t, kv.ChainDB)
	defer env.Close()

	var root1 common.Felt
	err := env.Update(nil, func(tx kv.RwTx) error {
		tr, err := Open(tx, TrieClasses, "TrieNodesClasses", PoseidonHash, nil)
		require.NoError(t, err)
		require.NoError(t, tr.Insert(common.FeltFromUint64(1), common.FeltFromUint64(100)))
		require.NoError(t, tr.Insert(common.FeltFromUint64(2), common.FeltFromUint64(200)))
		root1, err = tr.Commit(1)
		return err
	})
	require.NoError(t, err)
	require.False(t, root1.IsZero())

	// Reopening at block 1 must reproduce the same root without any new
	// inserts.
	err = env.View(nil, func(tx kv.Tx) error {
		block := uint64(1)
		tr, err := Open(tx, TrieClasses, "TrieNodesClasses", PoseidonHash, &block)
		require.NoError(t, err)
		got, err := tr.Root()
		require.NoError(t, err)
		require.Equal(t, root1, got)
		return nil
	})
	require.NoError(t, err)
}

func TestTrieHistoricalRootImmutable(t *testing.T) {
	env := kvtest.NewMemEnv(t, kv.ChainDB)
	defer env.Close()

	var rootAtBlock1 common.Felt
	err := env.Update(nil, func(tx kv.RwTx) error {
		tr, err := Open(tx, TrieContracts, "TrieNodesContracts", PedersenHash, nil)
		require.NoError(t, err)
		require.NoError(t, tr.Insert(common.FeltFromUint64(5), common.FeltFromUint64(50)))
		rootAtBlock1, err = tr.Commit(1)
		return err
	})
	require.NoError(t, err)

	err = env.Update(nil, func(tx kv.RwTx) error {
		block := uint64(1)
		tr, err := Open(tx, TrieContracts, "TrieNodesContracts", PedersenHash, &block)
		require.NoError(t, err)
		require.NoError(t, tr.Insert(common.FeltFromUint64(5), common.FeltFromUint64(999)))
		_, err = tr.Commit(2)
		return err
	})
	require.NoError(t, err)

	err = env.View(nil, func(tx kv.Tx) error {
		block := uint64(1)
		tr, err := Open(tx, TrieContracts, "TrieNodesContracts", PedersenHash, &block)
		require.NoError(t, err)
		got, err := tr.Root()
		require.NoError(t, err)
		require.Equal(t, rootAtBlock1, got, "historical root at block 1 must survive a later commit")
		return nil
	})
	require.NoError(t, err)
}

func TestMultiProofVerifies(t *testing.T) {
	env := kvtest.NewMemEnv(t, kv.ChainDB)
	defer env.Close()

	keys := []common.Felt{common.FeltFromUint64(1), common.FeltFromUint64(2), common.FeltFromUint64(1000)}
	values := map[common.Felt]common.Felt{
		keys[0]: common.FeltFromUint64(11),
		keys[1]: common.FeltFromUint64(22),
		keys[2]: common.FeltFromUint64(33),
	}

	err := env.Update(nil, func(tx kv.RwTx) error {
		tr, err := Open(tx, TrieStorage, "TrieNodesStorage", PedersenHash, nil)
		require.NoError(t, err)
		for _, k := range keys {
			require.NoError(t, tr.Insert(k, values[k]))
		}
		_, err = tr.Commit(1)
		if err != nil {
			return err
		}

		proof, err := tr.Prove(keys)
		require.NoError(t, err)
		for _, k := range keys {
			ok, err := VerifyMultiProof(PedersenHash, proof, k, values[k])
			require.NoError(t, err)
			require.True(t, ok, "proof for key %s must verify", k)
		}
		return nil
	})
	require.NoError(t, err)
}
