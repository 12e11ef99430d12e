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

package indexer

import (
	"database/sql"
	"fmt"
)

// baseSchema creates every fixed table the indexer needs regardless of
// which models get registered at runtime; per-model tables are created
// lazily by ensureModelTable. CREATE TABLE/INDEX IF NOT EXISTS throughout,
// the same idempotent-migration style used across the retrieval pack's
// embedded-sqlite storage layers.
const baseSchema = `
CREATE TABLE IF NOT EXISTS indexer_head (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	block_number INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_events (
	event_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS models (
	namespace TEXT NOT NULL,
	name TEXT NOT NULL,
	members_json TEXT NOT NULL,
	registered_at_block INTEGER NOT NULL,
	PRIMARY KEY (namespace, name)
);

CREATE TABLE IF NOT EXISTS entities (
	entity_id TEXT PRIMARY KEY,
	namespace TEXT NOT NULL,
	model TEXT NOT NULL,
	keys_json TEXT NOT NULL,
	values_json TEXT NOT NULL,
	updated_at_block INTEGER NOT NULL,
	deleted INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_entities_model ON entities (namespace, model);

CREATE TABLE IF NOT EXISTS event_messages (
	event_id TEXT PRIMARY KEY,
	selector TEXT NOT NULL,
	from_address TEXT NOT NULL,
	keys_json TEXT NOT NULL,
	data_json TEXT NOT NULL,
	block_number INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_messages_selector ON event_messages (selector);

CREATE TABLE IF NOT EXISTS contracts (
	address TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	class_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
	contract TEXT NOT NULL,
	account TEXT NOT NULL,
	token_id TEXT NOT NULL DEFAULT '',
	balance TEXT NOT NULL,
	PRIMARY KEY (contract, account, token_id)
);
`

// openSchema runs baseSchema against db. Safe to call on every startup.
func openSchema(db *sql.DB) error {
	if _, err := db.Exec(baseSchema); err != nil {
		return fmt.Errorf("indexer: create base schema: %w", err)
	}
	return nil
}

// ensureModelTable creates (or extends) the per-model generated table
// whose columns mirror the schema, per spec.md §4.9: "writing per-model
// SQL tables whose columns mirror the schema." Columns are all TEXT
// (hex-felt) storage; type-specific rendering happens at read time.
func ensureModelTable(db *sql.DB, m Model) error {
	cols := "entity_id TEXT PRIMARY KEY"
	for _, mem := range m.Members {
		cols += fmt.Sprintf(", %s TEXT", sanitiseIdent(mem.Name))
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", m.TableName(), cols)
	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("indexer: create model table %s: %w", m.TableName(), err)
	}
	return nil
}
