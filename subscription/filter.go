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
	"strings"

	"github.com/katana-sequencer/katana/katanalib/common"
)

// EntityUpdate is published whenever the indexer (C9) writes or deletes an
// entity row (spec.md §3 "Indexer entity").
type EntityUpdate struct {
	EntityID  common.Felt
	Namespace string
	Model     string
	Keys      []common.Felt
	Values    map[string]common.Felt
	Deleted   bool
}

// EventUpdate is published for a non-persisted EventEmitted entity
// variant, keyed by selector rather than a model (spec.md §3).
type EventUpdate struct {
	EventID     common.Felt
	FromAddress common.Address
	Keys        []common.Felt
	Data        []common.Felt
}

// TokenBalanceUpdate is published whenever an ERC-20/721/1155 processor
// (spec.md §4.9) changes a tracked balance.
type TokenBalanceUpdate struct {
	Contract common.Address
	Account  common.Address
	TokenID  *common.Felt // nil for ERC-20 (fungible, no token id)
	Balance  common.Felt
}

// KeyPattern is one positional constraint in a Keys clause: either an exact
// felt match at this position (FixedLen) or a wildcard that also matches a
// longer key tuple from this position on (VariableLen), per spec.md §4.10.
type KeyPattern struct {
	Value      *common.Felt // nil means "any value"
	VariableLen bool
}

// EntityKeysClause is one of the three filter shapes spec.md §4.10 and §6's
// SubscribeEntities define: match by explicit entity id set, by a
// positional key pattern sequence, or by a (namespace, name) wildcard model
// pattern (e.g. "ns-*", "*-name", "*-*").
type EntityKeysClause struct {
	HashedKeys []common.Felt
	Keys       []KeyPattern
	Namespace  string // wildcard pattern against EntityUpdate.Namespace
	ModelName  string // wildcard pattern against EntityUpdate.Model
}

// Match reports whether u satisfies the clause. An EntityKeysClause with
// every field zero matches everything (the "subscribe to all" case).
func (c EntityKeysClause) Match(u EntityUpdate) bool {
	if len(c.HashedKeys) > 0 {
		return containsFelt(c.HashedKeys, u.EntityID)
	}
	if len(c.Keys) > 0 {
		return matchKeys(c.Keys, u.Keys)
	}
	if c.Namespace != "" || c.ModelName != "" {
		return matchWildcard(c.Namespace, u.Namespace) && matchWildcard(c.ModelName, u.Model)
	}
	return true
}

// EventKeysClause mirrors EntityKeysClause for the event-message stream
// (spec.md §6 SubscribeEvents); events have no model, only keys.
type EventKeysClause struct {
	Keys []KeyPattern
}

func (c EventKeysClause) Match(u EventUpdate) bool {
	if len(c.Keys) == 0 {
		return true
	}
	return matchKeys(c.Keys, u.Keys)
}

// ContractAddressFilter backs SubscribeTokenBalances: an empty set matches
// every contract (spec.md §6).
type ContractAddressFilter struct {
	Contracts []common.Address
}

func (f ContractAddressFilter) Match(u TokenBalanceUpdate) bool {
	if len(f.Contracts) == 0 {
		return true
	}
	for _, c := range f.Contracts {
		if c.Felt == u.Contract.Felt {
			return true
		}
	}
	return false
}

func containsFelt(set []common.Felt, v common.Felt) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// matchKeys implements the FixedLen/VariableLen positional matching rule:
// every pattern position up to a VariableLen entry must match exactly; a
// VariableLen entry matches the remainder of keys regardless of length; a
// pattern longer than keys (with no VariableLen hit) never matches.
func matchKeys(patterns []KeyPattern, keys []common.Felt) bool {
	for i, p := range patterns {
		if p.VariableLen {
			return true
		}
		if i >= len(keys) {
			return false
		}
		if p.Value != nil && *p.Value != keys[i] {
			return false
		}
	}
	return len(keys) == len(patterns)
}

// matchWildcard implements the "ns-*" / "*-name" / "*-*" glob patterns
// spec.md §4.10 names: "*" matches any string, "" (empty pattern) also
// matches anything, anything else requires a case-insensitive match
// (strings.EqualFold).
func matchWildcard(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	return strings.EqualFold(pattern, value)
}
