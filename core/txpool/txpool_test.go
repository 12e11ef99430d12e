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

package txpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
)

// fakeValidator always reports currentNonce and never rejects, so tests
// can focus purely on the pending/queued ordering logic.
type fakeValidator struct{ current uint64 }

func (f fakeValidator) Validate(tx types.Transaction) (uint64, error) { return f.current, nil }

func tx(sender byte, nonce uint64) types.Transaction {
	return types.Transaction{
		Kind:          types.TxInvokeV1,
		ChainID:       common.ChainIDSepolia,
		Nonce:         nonce,
		SenderAddress: common.AddressFromFelt(common.FeltFromBytes([]byte{sender})),
		MaxFee:        1,
	}
}

func TestPoolNonceGapQueuesThenPromotes(t *testing.T) {
	p := New(fakeValidator{current: 3})

	t4 := tx(0x01, 4)
	_, err := p.Add(t4)
	var dep *ErrDependent
	require.ErrorAs(t, err, &dep)
	require.Equal(t, uint64(3), dep.Current)
	require.Equal(t, 0, p.PendingLen())
	require.Equal(t, 1, p.QueuedLen())

	t3 := tx(0x01, 3)
	_, err = p.Add(t3)
	require.NoError(t, err)
	require.Equal(t, 2, p.PendingLen())
	require.Equal(t, 0, p.QueuedLen())

	drained := p.TakeAll()
	require.Len(t, drained, 2)
	require.Equal(t, uint64(3), drained[0].Tx.Nonce)
	require.Equal(t, uint64(4), drained[1].Tx.Nonce)
}

func TestPoolOutOfOrderSubmissionPreservesFIFO(t *testing.T) {
	p := New(fakeValidator{current: 3})
	h5 := tx(0x02, 5)
	h4 := tx(0x02, 4)
	h3 := tx(0x02, 3)

	_, err := p.Add(h5)
	require.Error(t, err)
	_, err = p.Add(h4)
	require.Error(t, err)
	_, err = p.Add(h3)
	require.NoError(t, err)

	drained := p.TakeAll()
	require.Len(t, drained, 3)
	require.Equal(t, uint64(3), drained[0].Tx.Nonce)
	require.Equal(t, uint64(4), drained[1].Tx.Nonce)
	require.Equal(t, uint64(5), drained[2].Tx.Nonce)
}

func TestPoolRemove(t *testing.T) {
	p := New(fakeValidator{current: 0})
	t0 := tx(0x03, 0)
	hash, err := p.Add(t0)
	require.NoError(t, err)
	require.Equal(t, 1, p.PendingLen())

	p.Remove(hash)
	require.Equal(t, 0, p.PendingLen())
	_, ok := p.Get(hash)
	require.False(t, ok)
}

func TestPoolAlreadyKnown(t *testing.T) {
	p := New(fakeValidator{current: 0})
	t0 := tx(0x04, 0)
	_, err := p.Add(t0)
	require.NoError(t, err)
	_, err = p.Add(t0)
	require.ErrorIs(t, err, ErrAlreadyKnown)
}

func TestPoolListenerNotifiedOnPromotion(t *testing.T) {
	p := New(fakeValidator{current: 0})
	ch := p.AddListener(context.Background())
	_, err := p.Add(tx(0x05, 0))
	require.NoError(t, err)
	select {
	case h := <-ch:
		require.NotEqual(t, common.TxHash{}, h)
	default:
		t.Fatal("expected a listener notification")
	}
}
