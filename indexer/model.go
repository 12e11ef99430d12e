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

// Package indexer is the event-to-SQL materialiser (component C9): event
// processors route World/ERC-20/ERC-721/ERC-1155/UDC events to typed SQL
// writes, a model schema cache deserialises raw felt payloads into named
// columns, and a single write-executor goroutine serialises one SQL
// transaction per block, fanning results out through the subscription bus
// (C10) on commit. Grounded on modernc.org/sqlite (already present in the
// teacher's go.mod, used there for diagnostics/downloader metadata) as the
// embedded indexer database, and on the "one RW transaction at a time"
// discipline katanalib/kv/mdbx.go enforces for C1, generalized here from
// "one KV RW tx" to "one SQL tx, enqueued."
package indexer

import (
	"fmt"
	"sync"

	"github.com/katana-sequencer/katana/katanalib/common"
)

// Member is one typed field of a registered model, carrying the is_key bit
// spec.md §3 requires ("an ordered list of typed members with an is_key
// bit per member").
type Member struct {
	Name     string
	TypeName string
	IsKey    bool
}

// Model is a registered schema: a (namespace, name) pair plus its ordered
// member list, as declared by a ModelRegistered/ModelUpgraded event.
type Model struct {
	Namespace string
	Name      string
	Members   []Member
}

// QualifiedName is the "ns-Name" form spec.md's gRPC examples query by
// (Scenario D: `model="game-Position"`).
func (m Model) QualifiedName() string { return m.Namespace + "-" + m.Name }

// KeyMembers returns the members flagged is_key, in declaration order —
// the tuple hashed to produce an entity's id (spec.md §3).
func (m Model) KeyMembers() []Member {
	var out []Member
	for _, mem := range m.Members {
		if mem.IsKey {
			out = append(out, mem)
		}
	}
	return out
}

// ValueMembers returns the non-key members, in declaration order.
func (m Model) ValueMembers() []Member {
	var out []Member
	for _, mem := range m.Members {
		if !mem.IsKey {
			out = append(out, mem)
		}
	}
	return out
}

// TableName is the per-model generated SQL table name, sanitised to a
// stable lowercase identifier.
func (m Model) TableName() string {
	return fmt.Sprintf("model_%s_%s", sanitiseIdent(m.Namespace), sanitiseIdent(m.Name))
}

func sanitiseIdent(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// SchemaCache holds every model registered so far, keyed by qualified
// name, so a StoreSetRecord event's raw felt payload can be deserialised
// against the right column layout (spec.md §4.9 "Model schema cache").
type SchemaCache struct {
	mu     sync.RWMutex
	models map[string]Model
}

// NewSchemaCache returns an empty cache.
func NewSchemaCache() *SchemaCache {
	return &SchemaCache{models: make(map[string]Model)}
}

// Register stores (or replaces, on a ModelUpgraded event) a model's schema.
func (c *SchemaCache) Register(m Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[m.QualifiedName()] = m
}

// Get returns the schema for (namespace, name), if registered.
func (c *SchemaCache) Get(namespace, name string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[namespace+"-"+name]
	return m, ok
}

// EntityID computes the Poseidon-of-keys identifier spec.md §3 defines:
// "entity_id = Poseidon(keys)".
func EntityID(keys []common.Felt) common.Felt {
	return common.Poseidon(keys...)
}
