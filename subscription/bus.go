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

// Package subscription is the in-process typed publish/subscribe bus
// (component C10): RPC's WebSocket subscriptions and the indexer's gRPC
// streaming surface both drain from the same Topic values the Indexer (C9)
// publishes into. Grounded on core/txpool.Pool's
// own AddListener/notify pair (a buffered, drop-on-full channel per
// listener) generalized from one hard-coded type (common.TxHash) to any
// payload type plus a per-subscriber filter predicate, per spec.md §4.10.
package subscription

import "sync"

// listenerBuffer is the per-subscriber channel depth; a subscriber that
// falls this far behind is dropped rather than allowed to block Publish,
// mirroring txpool.Pool's listener channels (spec.md §4.10 backpressure
// rule: "a subscriber with a full channel is dropped after a single
// failed send; no publishing path blocks").
const listenerBuffer = 256

// Topic is a typed publish/subscribe channel for one payload type T, with
// per-subscriber filtering. Zero value is not usable; use NewTopic.
type Topic[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber[T]
}

type subscriber[T any] struct {
	ch     chan T
	filter func(T) bool
}

// NewTopic constructs an empty Topic.
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: make(map[uint64]*subscriber[T])}
}

// Subscribe registers a new subscriber whose filter predicate decides which
// published values it receives (nil matches everything). It returns the
// subscription id (used by UpdateSubscription/unsubscribe), the channel to
// range over, and a cancel function that unregisters the subscriber and
// closes its channel.
func (t *Topic[T]) Subscribe(filter func(T) bool) (id uint64, ch <-chan T, cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id = t.nextID
	sub := &subscriber[T]{ch: make(chan T, listenerBuffer), filter: filter}
	t.subs[id] = sub
	return id, sub.ch, func() { t.unsubscribe(id) }
}

// UpdateFilter replaces an existing subscriber's filter predicate in place
// (backs the gRPC UpdateSubscription RPC, spec.md §6).
func (t *Topic[T]) UpdateFilter(id uint64, filter func(T) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub, ok := t.subs[id]
	if !ok {
		return false
	}
	sub.filter = filter
	return true
}

func (t *Topic[T]) unsubscribe(id uint64) {
	t.mu.Lock()
	sub, ok := t.subs[id]
	if ok {
		delete(t.subs, id)
	}
	t.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish fans v out to every subscriber whose filter matches it. A
// subscriber whose channel is full is dropped outright (spec.md §4.10);
// Publish itself never blocks.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, sub := range t.subs {
		if sub.filter != nil && !sub.filter(v) {
			continue
		}
		select {
		case sub.ch <- v:
		default:
			delete(t.subs, id)
			close(sub.ch)
		}
	}
}

// SubscriberCount reports the live subscriber count, fed into
// katanalib/metrics.SubscriptionClients by callers.
func (t *Topic[T]) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
