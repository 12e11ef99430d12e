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

// Package txpool is component C5: a validated, ordered pending-transaction
// container. Submitted transactions land in one of two partitions — a
// FIFO-by-arrival "pending" set of transactions executable right now, and
// a "queued" set of transactions blocked on an earlier nonce — mirroring
// the split Erigon's own tx pool draws between its "pending"/"queued"
// subpools, narrowed down to the two states this single-sequencer system
// actually needs (no base-fee/gapless-nonce priority queue, since there is
// exactly one block producer and no competing miners).
package txpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/katana-sequencer/katana/core/state"
	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/katanalib/log"
	"github.com/katana-sequencer/katana/katanalib/metrics"
)

// Validation errors, returned by Add and mapped by the RPC layer to a
// specific Starknet error code (spec.md §4.5/§6).
var (
	ErrNonAccount        = errors.New("txpool: sender is not a deployed account")
	ErrAlreadyKnown      = errors.New("txpool: transaction already known")
	ErrInsufficientFunds = errors.New("txpool: insufficient funds for max fee")
	ErrIntrinsicFeeTooLow = errors.New("txpool: max fee below the intrinsic minimum")
)

// ErrInvalidNonce reports a nonce strictly behind the account's current
// on-chain nonce: the transaction can never become executable and is
// rejected outright (as opposed to ErrDependent, which only delays it).
type ErrInvalidNonce struct{ Current, Tx uint64 }

func (e *ErrInvalidNonce) Error() string {
	return fmt.Sprintf("txpool: invalid nonce: current %d, tx %d", e.Current, e.Tx)
}

// ErrDependent is not a rejection: it reports that tx was accepted into
// the queued (not yet executable) partition because its nonce is ahead of
// the sender's current nonce.
type ErrDependent struct{ Current, TxNonce uint64 }

func (e *ErrDependent) Error() string {
	return fmt.Sprintf("txpool: parked pending nonce %d (current %d)", e.TxNonce, e.Current)
}

// IntrinsicMinFee is the minimum max_fee accepted for any transaction,
// regardless of what FeeAvailable would require: a floor against
// transactions too cheap to even pay for __validate__ invocation.
const IntrinsicMinFee = 1

// Validator pluggable-validates a transaction against chain state before
// it is admitted to the pool. The default "stateful" validator
// (NewStatefulValidator) reads a Latest() snapshot per spec.md §4.5.
type Validator interface {
	// Validate returns (currentNonce, err). err is one of ErrNonAccount,
	// ErrInsufficientFunds, ErrIntrinsicFeeTooLow, *ErrInvalidNonce, or
	// nil. It never returns *ErrDependent: ordering tx.Nonce against
	// currentNonce to decide pending-vs-queued is the pool's job, not
	// the validator's.
	Validate(tx types.Transaction) (currentNonce uint64, err error)
}

// StatefulValidator is the default Validator: every Validate call opens a
// fresh Latest() state snapshot and checks account existence, nonce
// non-regression, and fee affordability against it.
type StatefulValidator struct {
	provider state.Provider
}

func NewStatefulValidator(provider state.Provider) *StatefulValidator {
	return &StatefulValidator{provider: provider}
}

func (v *StatefulValidator) Validate(tx types.Transaction) (uint64, error) {
	maxFee, err := types.MaxFee(tx)
	if err != nil {
		return 0, err
	}
	if tx.Kind != types.TxL1Handler && maxFee < IntrinsicMinFee {
		return 0, ErrIntrinsicFeeTooLow
	}

	sp, err := v.provider.Latest()
	if err != nil {
		return 0, err
	}
	current, err := sp.Nonce(tx.SenderAddress)
	if err != nil {
		return 0, err
	}

	if tx.Kind != types.TxDeployAccountV1 && tx.Kind != types.TxDeployAccountV3 {
		classHash, err := sp.ClassHashAt(tx.SenderAddress)
		if err != nil {
			return 0, err
		}
		if classHash.IsZero() {
			return 0, ErrNonAccount
		}
	}

	if tx.Nonce < current {
		return 0, &ErrInvalidNonce{Current: current, Tx: tx.Nonce}
	}

	if tx.Kind != types.TxL1Handler {
		balance, err := sp.StorageAt(tx.SenderAddress, balanceKeyOf(tx.SenderAddress))
		if err != nil {
			return 0, err
		}
		if balance.Big().Cmp(feltUint64(maxFee).Big()) < 0 {
			return 0, ErrInsufficientFunds
		}
	}

	return current, nil
}

// balanceKeyOf/feltUint64 mirror executor/nativevm.go's built-in balance
// slot convention, so the pool's affordability pre-check and the
// executor's actual fee charge agree on where a sender's balance lives.
func balanceKeyOf(address common.Address) common.StorageKey {
	seed := common.FeltFromBytes([]byte("nativevm.balance"))
	return common.StorageKeyFromFelt(common.Pedersen(seed, address.Felt))
}

func feltUint64(v uint64) common.Felt { return common.FeltFromUint64(v) }

// entry is one pool-resident transaction plus its precomputed hash.
type entry struct {
	hash common.TxHash
	tx   types.Transaction
}

// Pool holds submitted transactions awaiting inclusion, split into a
// pending (immediately executable) and a queued (nonce-gapped) partition.
// One RWMutex (mu) guards both partitions, so a write to either partition
// blocks reads of the other; only the listener list has its own lock.
type Pool struct {
	validator Validator

	mu      sync.RWMutex
	byHash  map[common.TxHash]*entry
	pending []common.TxHash                    // FIFO order
	queued  map[common.Address]map[uint64]common.TxHash // sender -> nonce -> hash

	listenersMu sync.Mutex
	listeners   []chan common.TxHash
}

func New(validator Validator) *Pool {
	return &Pool{
		validator: validator,
		byHash:    make(map[common.TxHash]*entry),
		queued:    make(map[common.Address]map[uint64]common.TxHash),
	}
}

// Add validates and admits tx. It returns a nil error when tx is executable
// now and lands in pending, and a *ErrDependent (check with errors.As) when
// tx was accepted but parked in queued behind a nonce gap; ErrDependent is
// reported to the RPC caller as informational, not a failure, per spec.md §4.5.
func (p *Pool) Add(tx types.Transaction) (common.TxHash, error) {
	hash := tx.Hash()

	p.mu.Lock()
	if _, ok := p.byHash[hash]; ok {
		p.mu.Unlock()
		return hash, ErrAlreadyKnown
	}
	p.mu.Unlock()

	current, err := p.validator.Validate(tx)
	if err != nil {
		return hash, err
	}

	e := &entry{hash: hash, tx: tx}

	p.mu.Lock()
	p.byHash[hash] = e
	if tx.Nonce == current {
		start := len(p.pending)
		p.pending = append(p.pending, hash)
		p.promoteLocked(tx.SenderAddress, tx.Nonce+1)
		executable := append([]common.TxHash(nil), p.pending[start:]...)
		p.mu.Unlock()
		for _, h := range executable {
			p.notify(h)
		}
		metrics.TxPoolSize.WithLabelValues("pending").Set(float64(len(p.pending)))
		return hash, nil
	}

	// tx.Nonce > current: park it in queued.
	m, ok := p.queued[tx.SenderAddress]
	if !ok {
		m = make(map[uint64]common.TxHash)
		p.queued[tx.SenderAddress] = m
	}
	m[tx.Nonce] = hash
	p.mu.Unlock()
	metrics.TxPoolSize.WithLabelValues("queued").Set(float64(p.queuedLen()))
	return hash, &ErrDependent{Current: current, TxNonce: tx.Nonce}
}

// promoteLocked moves every queued transaction for sender whose nonce
// forms a contiguous run starting at nextNonce into pending. Called with
// mu held for writing. This is how a nonce gap fills: submitting nonce 4
// after 5 was already queued promotes both (spec.md §8 boundary case).
func (p *Pool) promoteLocked(sender common.Address, nextNonce uint64) {
	m, ok := p.queued[sender]
	if !ok {
		return
	}
	for {
		hash, ok := m[nextNonce]
		if !ok {
			break
		}
		delete(m, nextNonce)
		p.pending = append(p.pending, hash)
		nextNonce++
	}
	if len(m) == 0 {
		delete(p.queued, sender)
	}
}

func (p *Pool) queuedLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, m := range p.queued {
		n += len(m)
	}
	return n
}

// Get returns the pending-or-queued transaction for hash.
func (p *Pool) Get(hash common.TxHash) (types.Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.byHash[hash]
	if !ok {
		return types.Transaction{}, false
	}
	return e.tx, true
}

// Remove drops hash from whichever partition holds it (used once a
// transaction is included in a sealed block).
func (p *Pool) Remove(hash common.TxHash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)
	for i, h := range p.pending {
		if h == hash {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			break
		}
	}
	if m, ok := p.queued[e.tx.SenderAddress]; ok {
		delete(m, e.tx.Nonce)
		if len(m) == 0 {
			delete(p.queued, e.tx.SenderAddress)
		}
	}
}

// TakeOne drains and returns the single oldest pending transaction, for
// the block producer's Instant mode (spec.md §4.6: "exactly one
// transaction has been executed" closes a block).
func (p *Pool) TakeOne() (types.TxWithHash, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return types.TxWithHash{}, false
	}
	hash := p.pending[0]
	p.pending = p.pending[1:]
	e := p.byHash[hash]
	delete(p.byHash, hash)
	metrics.TxPoolSize.WithLabelValues("pending").Set(float64(len(p.pending)))
	return types.TxWithHash{Hash: e.hash, Tx: e.tx}, true
}

// TakeAll drains and returns every pending transaction, in FIFO arrival
// order, removing them from the pool. The block producer calls this to
// fill a block; anything it doesn't end up including (e.g. ErrBlockFull)
// must be re-submitted via Add, not silently dropped.
func (p *Pool) TakeAll() []types.TxWithHash {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.TxWithHash, 0, len(p.pending))
	for _, h := range p.pending {
		e := p.byHash[h]
		out = append(out, types.TxWithHash{Hash: e.hash, Tx: e.tx})
		delete(p.byHash, h)
	}
	p.pending = p.pending[:0]
	metrics.TxPoolSize.WithLabelValues("pending").Set(0)
	return out
}

// AddListener returns a channel of hashes that became newly executable
// (promoted into pending, including on first Add). The block producer
// subscribes to wake its drain loop instead of polling. A notification that
// finds the listener's buffered channel (256 slots) full is dropped for that
// listener rather than blocking Add; the listener itself stays registered
// until ctx is done.
func (p *Pool) AddListener(ctx context.Context) <-chan common.TxHash {
	ch := make(chan common.TxHash, 256)
	p.listenersMu.Lock()
	p.listeners = append(p.listeners, ch)
	p.listenersMu.Unlock()
	go func() {
		<-ctx.Done()
		p.listenersMu.Lock()
		defer p.listenersMu.Unlock()
		for i, l := range p.listeners {
			if l == ch {
				p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (p *Pool) notify(hash common.TxHash) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	for _, l := range p.listeners {
		select {
		case l <- hash:
		default:
			log.Named("txpool").Warn("listener channel full, dropping notification")
		}
	}
}

// PendingLen/QueuedLen back the dev/diagnostic RPC surface and metrics.
func (p *Pool) PendingLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pending)
}

func (p *Pool) QueuedLen() int { return p.queuedLen() }
