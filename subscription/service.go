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

package subscription

import (
	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/katanalib/metrics"
)

// Bus aggregates the three typed topics spec.md §6's gRPC surface streams:
// entities, event messages, and token balances. The indexer (C9) publishes
// into it; the RPC dispatcher's WebSocket layer and the gRPC server (C8)
// both subscribe from it.
type Bus struct {
	Entities      *Topic[EntityUpdate]
	Events        *Topic[EventUpdate]
	TokenBalances *Topic[TokenBalanceUpdate]
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{
		Entities:      NewTopic[EntityUpdate](),
		Events:        NewTopic[EventUpdate](),
		TokenBalances: NewTopic[TokenBalanceUpdate](),
	}
}

// PublishEntity fans an entity change out to every matching subscriber and
// refreshes the subscription-client gauge.
func (b *Bus) PublishEntity(u EntityUpdate) {
	b.Entities.Publish(u)
	metrics.SubscriptionClients.WithLabelValues("entities").Set(float64(b.Entities.SubscriberCount()))
}

// PublishEvent fans an event-message out to every matching subscriber.
func (b *Bus) PublishEvent(u EventUpdate) {
	b.Events.Publish(u)
	metrics.SubscriptionClients.WithLabelValues("events").Set(float64(b.Events.SubscriberCount()))
}

// PublishTokenBalance fans a token-balance change out to every matching
// subscriber.
func (b *Bus) PublishTokenBalance(u TokenBalanceUpdate) {
	b.TokenBalances.Publish(u)
	metrics.SubscriptionClients.WithLabelValues("token_balances").Set(float64(b.TokenBalances.SubscriberCount()))
}

// SubscribeEntities registers a subscriber matching any of clauses (an
// empty slice subscribes to everything); matches the OR-of-clauses
// semantics spec.md §6's SubscribeEntities(EntityKeysClause[]) implies.
func (b *Bus) SubscribeEntities(clauses []EntityKeysClause) (id uint64, ch <-chan EntityUpdate, cancel func()) {
	return b.Entities.Subscribe(func(u EntityUpdate) bool {
		if len(clauses) == 0 {
			return true
		}
		for _, c := range clauses {
			if c.Match(u) {
				return true
			}
		}
		return false
	})
}

// SubscribeEvents registers a subscriber for one EventKeysClause.
func (b *Bus) SubscribeEvents(clause EventKeysClause) (id uint64, ch <-chan EventUpdate, cancel func()) {
	return b.Events.Subscribe(clause.Match)
}

// SubscribeTokenBalances registers a subscriber for a contract-address set.
func (b *Bus) SubscribeTokenBalances(contracts []string) (id uint64, ch <-chan TokenBalanceUpdate, cancel func()) {
	var filter ContractAddressFilter
	for _, s := range contracts {
		var a common.Address
		if f, err := common.FeltFromHex(s); err == nil {
			a = common.AddressFromFelt(f)
		}
		filter.Contracts = append(filter.Contracts, a)
	}
	return b.TokenBalances.Subscribe(filter.Match)
}
