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

func TestHeaderHashChangesWithParent(t *testing.T) {
	h := Header{Number: 1, TransactionsRoot: EmptyTreeRoot, EventsRoot: EmptyTreeRoot, ReceiptsRoot: EmptyTreeRoot}
	h2 := h
	h2.ParentHash = common.BlockHashFromFelt(common.FeltFromUint64(1))

	require.NotEqual(t, h.Hash(), h2.Hash())
}

func TestHeaderHashStableForIdenticalFields(t *testing.T) {
	h := Header{
		Number:          5,
		Timestamp:       100,
		SequencerAddr:   common.AddressFromFelt(common.FeltFromUint64(1)),
		ProtocolVersion: "0.13.1",
	}
	require.Equal(t, h.Hash(), h.Hash())
}

func TestEmptyTreeRootIsConstant(t *testing.T) {
	require.Equal(t, EmptyTreeRoot, common.Poseidon(common.FeltFromUint64(0)))
}
