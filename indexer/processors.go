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
	"encoding/json"
	"fmt"

	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/subscription"
)

// Statement is one SQL write the write executor applies inside a block's
// transaction.
type Statement struct {
	Query string
	Args  []interface{}
}

// eventBatch is everything one RawEvent produces: the SQL writes, plus the
// subscription-bus fan-out they warrant once committed. Kept together so
// the write executor can skip a whole already-processed event atomically
// (spec.md §4.9 idempotence).
type eventBatch struct {
	eventID    common.Felt
	statements []Statement
	entities   []subscription.EntityUpdate
	events     []subscription.EventUpdate
	tokens     []subscription.TokenBalanceUpdate
}

// Registry tracks which contract addresses are World/ERC20/ERC721/ERC1155/
// UDC instances, so an incoming event can be routed by (contract-type,
// selector) per spec.md §4.9's table. Contracts are registered explicitly
// (by the node's genesis/config, or on observing a UDC ContractDeployed
// event) rather than inferred from bytecode, since this codebase has no
// Cairo class introspection (that lives behind core/executor.VM, out of
// the indexer's reach by design).
type Registry struct {
	kinds map[common.Address]ContractKind
}

// NewRegistry returns a Registry with just the world and UDC singleton
// addresses known; ERC-20/721/1155 token contracts are added only through
// Register (processUDC records a deployment but does not register it).
func NewRegistry(world, udc common.Address) *Registry {
	r := &Registry{kinds: make(map[common.Address]ContractKind)}
	r.kinds[world] = ContractWorld
	r.kinds[udc] = ContractUDC
	return r
}

func (r *Registry) Register(addr common.Address, kind ContractKind) { r.kinds[addr] = kind }

func (r *Registry) KindOf(addr common.Address) ContractKind {
	if k, ok := r.kinds[addr]; ok {
		return k
	}
	return ContractUnknown
}

// Processor routes RawEvents into eventBatches, consulting and updating a
// SchemaCache and a contract Registry as it goes.
type Processor struct {
	schema   *SchemaCache
	registry *Registry
}

// NewProcessor builds a Processor over schema/registry, both owned by the
// caller (typically the Indexer) and shared across every ProcessBlock call.
func NewProcessor(schema *SchemaCache, registry *Registry) *Processor {
	return &Processor{schema: schema, registry: registry}
}

// Process classifies ev by its emitting contract's registered kind and its
// selector, returning the SQL writes and subscription fan-out it produces.
// An event from an unregistered contract or with an unrecognised selector
// yields an empty, non-nil batch (still dedup-tracked, never an error —
// spec.md names no "unknown event" failure mode).
func (p *Processor) Process(ev RawEvent) (eventBatch, error) {
	batch := eventBatch{eventID: ev.EventID()}
	kind := p.registry.KindOf(ev.FromAddress)
	sel := ev.Selector()

	switch kind {
	case ContractWorld:
		return p.processWorld(ev, sel, batch)
	case ContractERC20:
		return p.processERC20(ev, sel, batch)
	case ContractERC721:
		return p.processERC721(ev, sel, batch)
	case ContractERC1155:
		return p.processERC1155(ev, sel, batch)
	case ContractUDC:
		return p.processUDC(ev, sel, batch)
	default:
		return batch, nil
	}
}

func (p *Processor) processWorld(ev RawEvent, sel common.Selector, batch eventBatch) (eventBatch, error) {
	switch sel {
	case SelModelRegistered, SelModelUpgraded:
		model, err := decodeModelRegistration(ev)
		if err != nil {
			return batch, err
		}
		p.schema.Register(model)
		membersJSON, err := json.Marshal(model.Members)
		if err != nil {
			return batch, fmt.Errorf("indexer: marshal model members: %w", err)
		}
		batch.statements = append(batch.statements, Statement{
			Query: `INSERT INTO models(namespace, name, members_json, registered_at_block) VALUES (?, ?, ?, ?)
				ON CONFLICT(namespace, name) DO UPDATE SET members_json = excluded.members_json, registered_at_block = excluded.registered_at_block`,
			Args: []interface{}{model.Namespace, model.Name, string(membersJSON), ev.BlockNumber},
		})
		return batch, nil

	case SelEventRegistered, SelEventUpgraded, SelMetadataUpdate:
		// Administrative events with no queryable entity shape in this
		// codebase's scope; still dedup-tracked via the event id.
		return batch, nil

	case SelStoreSetRecord, SelStoreUpdateRecord, SelStoreUpdateMember:
		return p.processStoreSetRecord(ev, batch)

	case SelStoreDelRecord:
		return p.processStoreDelRecord(ev, batch)

	case SelEventEmitted:
		batch.statements = append(batch.statements, Statement{
			Query: `INSERT INTO event_messages(event_id, selector, from_address, keys_json, data_json, block_number) VALUES (?, ?, ?, ?, ?, ?)`,
			Args:  []interface{}{batch.eventID.String(), sel.String(), ev.FromAddress.String(), feltsJSON(ev.Keys), feltsJSON(ev.Data), ev.BlockNumber},
		})
		batch.events = append(batch.events, subscription.EventUpdate{
			EventID:     batch.eventID,
			FromAddress: ev.FromAddress,
			Keys:        ev.Keys,
			Data:        ev.Data,
		})
		return batch, nil

	default:
		return batch, nil
	}
}

// decodeModelRegistration unpacks a ModelRegistered/ModelUpgraded event's
// data into a Model. Layout (left implicit by the distilled spec and
// chosen here): data = [namespace, name,
// member_count, (member_name, type_name, is_key)*member_count], each
// string folded into a felt via common.FeltFromBytes/the reverse decode
// below.
func decodeModelRegistration(ev RawEvent) (Model, error) {
	if len(ev.Data) < 3 {
		return Model{}, fmt.Errorf("indexer: ModelRegistered event too short")
	}
	namespace := feltToASCII(ev.Data[0])
	name := feltToASCII(ev.Data[1])
	count := ev.Data[2].Big().Uint64()
	members := make([]Member, 0, count)
	off := 3
	for i := uint64(0); i < count; i++ {
		if off+3 > len(ev.Data) {
			return Model{}, fmt.Errorf("indexer: ModelRegistered event truncated at member %d", i)
		}
		members = append(members, Member{
			Name:     feltToASCII(ev.Data[off]),
			TypeName: feltToASCII(ev.Data[off+1]),
			IsKey:    !ev.Data[off+2].IsZero(),
		})
		off += 3
	}
	return Model{Namespace: namespace, Name: name, Members: members}, nil
}

func feltToASCII(f common.Felt) string {
	b := f.Big().Bytes()
	return string(b)
}

func feltsJSON(fs []common.Felt) string {
	strs := make([]string, len(fs))
	for i, f := range fs {
		strs[i] = f.String()
	}
	b, _ := json.Marshal(strs)
	return string(b)
}

// processStoreSetRecord decodes a StoreSetRecord/StoreUpdateRecord/
// StoreUpdateMember payload (data = [namespace, name, key_count, keys...,
// value_count, values...]) against the registered schema, upserting both
// the generic `entities` row and the per-model generated table (spec.md
// §4.9 "deserialises them into the typed model before writing per-model
// SQL tables whose columns mirror the schema").
func (p *Processor) processStoreSetRecord(ev RawEvent, batch eventBatch) (eventBatch, error) {
	if len(ev.Data) < 3 {
		return batch, fmt.Errorf("indexer: StoreSetRecord event too short")
	}
	namespace := feltToASCII(ev.Data[0])
	name := feltToASCII(ev.Data[1])
	keyCount := int(ev.Data[2].Big().Uint64())
	off := 3
	if off+keyCount > len(ev.Data) {
		return batch, fmt.Errorf("indexer: StoreSetRecord event truncated keys")
	}
	keys := append([]common.Felt(nil), ev.Data[off:off+keyCount]...)
	off += keyCount

	model, ok := p.schema.Get(namespace, name)
	if !ok {
		return batch, fmt.Errorf("indexer: StoreSetRecord for unregistered model %s-%s", namespace, name)
	}

	values := make(map[string]common.Felt, len(model.ValueMembers()))
	for _, mem := range model.ValueMembers() {
		if off >= len(ev.Data) {
			break
		}
		values[mem.Name] = ev.Data[off]
		off++
	}

	entityID := EntityID(keys)
	valuesJSON, err := json.Marshal(stringifyValues(values))
	if err != nil {
		return batch, fmt.Errorf("indexer: marshal entity values: %w", err)
	}
	batch.statements = append(batch.statements, Statement{
		Query: `INSERT INTO entities(entity_id, namespace, model, keys_json, values_json, updated_at_block, deleted)
			VALUES (?, ?, ?, ?, ?, ?, 0)
			ON CONFLICT(entity_id) DO UPDATE SET values_json = excluded.values_json, updated_at_block = excluded.updated_at_block, deleted = 0`,
		Args: []interface{}{entityID.String(), namespace, name, feltsJSON(keys), string(valuesJSON), ev.BlockNumber},
	})

	if err := p.upsertModelTable(&batch, model, entityID, values); err != nil {
		return batch, err
	}

	batch.entities = append(batch.entities, subscription.EntityUpdate{
		EntityID:  entityID,
		Namespace: namespace,
		Model:     name,
		Keys:      keys,
		Values:    values,
	})
	return batch, nil
}

func (p *Processor) upsertModelTable(batch *eventBatch, model Model, entityID common.Felt, values map[string]common.Felt) error {
	cols := []string{"entity_id"}
	placeholders := []string{"?"}
	args := []interface{}{entityID.String()}
	updates := ""
	for _, mem := range model.ValueMembers() {
		cols = append(cols, sanitiseIdent(mem.Name))
		placeholders = append(placeholders, "?")
		v, ok := values[mem.Name]
		if !ok {
			args = append(args, nil)
		} else {
			args = append(args, v.String())
		}
		if updates != "" {
			updates += ", "
		}
		updates += fmt.Sprintf("%s = excluded.%s", sanitiseIdent(mem.Name), sanitiseIdent(mem.Name))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(entity_id) DO UPDATE SET %s",
		model.TableName(), joinCols(cols), joinCols(placeholders), updates)
	if updates == "" {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(entity_id) DO NOTHING",
			model.TableName(), joinCols(cols), joinCols(placeholders))
	}
	batch.statements = append(batch.statements, Statement{Query: query, Args: args})
	return nil
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func stringifyValues(values map[string]common.Felt) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v.String()
	}
	return out
}

func (p *Processor) processStoreDelRecord(ev RawEvent, batch eventBatch) (eventBatch, error) {
	if len(ev.Data) < 3 {
		return batch, fmt.Errorf("indexer: StoreDelRecord event too short")
	}
	namespace := feltToASCII(ev.Data[0])
	name := feltToASCII(ev.Data[1])
	keyCount := int(ev.Data[2].Big().Uint64())
	if 3+keyCount > len(ev.Data) {
		return batch, fmt.Errorf("indexer: StoreDelRecord event truncated")
	}
	keys := append([]common.Felt(nil), ev.Data[3:3+keyCount]...)
	entityID := EntityID(keys)
	batch.statements = append(batch.statements, Statement{
		Query: `UPDATE entities SET deleted = 1, updated_at_block = ? WHERE entity_id = ?`,
		Args:  []interface{}{ev.BlockNumber, entityID.String()},
	})
	batch.entities = append(batch.entities, subscription.EntityUpdate{
		EntityID:  entityID,
		Namespace: namespace,
		Model:     name,
		Keys:      keys,
		Deleted:   true,
	})
	return batch, nil
}

// processERC20 handles both key layouts spec.md §4.9 names: v0 (from/to in
// keys, amount in data) and v1 (from/to/amount all in data).
func (p *Processor) processERC20(ev RawEvent, sel common.Selector, batch eventBatch) (eventBatch, error) {
	if sel != SelTransferV0 && sel != SelTransferV1 {
		return batch, nil
	}
	from, to, amount, ok := decodeTransfer(ev)
	if !ok {
		return batch, fmt.Errorf("indexer: malformed ERC-20 Transfer event")
	}
	return p.applyFungibleTransfer(ev, batch, from, to, amount)
}

func (p *Processor) applyFungibleTransfer(ev RawEvent, batch eventBatch, from, to common.Address, amount common.Felt) (eventBatch, error) {
	contract := ev.FromAddress.String()
	batch.statements = append(batch.statements,
		Statement{
			Query: `INSERT INTO tokens(contract, account, token_id, balance) VALUES (?, ?, '', ?)
				ON CONFLICT(contract, account, token_id) DO UPDATE SET balance = CAST((CAST(balance AS INTEGER) - ?) AS TEXT)`,
			Args: []interface{}{contract, from.String(), "0", amount.Big().String()},
		},
		Statement{
			Query: `INSERT INTO tokens(contract, account, token_id, balance) VALUES (?, ?, '', ?)
				ON CONFLICT(contract, account, token_id) DO UPDATE SET balance = CAST((CAST(balance AS INTEGER) + ?) AS TEXT)`,
			Args: []interface{}{contract, to.String(), amount.Big().String(), amount.Big().String()},
		},
	)
	batch.tokens = append(batch.tokens,
		subscription.TokenBalanceUpdate{Contract: ev.FromAddress, Account: from},
		subscription.TokenBalanceUpdate{Contract: ev.FromAddress, Account: to},
	)
	return batch, nil
}

// decodeTransfer reads a Transfer event in either key layout: v0 carries
// (from, to) as keys[0:2] and the amount as data[0]; v1 carries all three
// in data. The field order is chosen here: spec.md names both layouts but
// not their exact field order.
func decodeTransfer(ev RawEvent) (from, to common.Address, amount common.Felt, ok bool) {
	if len(ev.Keys) >= 3 && len(ev.Data) >= 1 {
		return common.AddressFromFelt(ev.Keys[1]), common.AddressFromFelt(ev.Keys[2]), ev.Data[0], true
	}
	if len(ev.Data) >= 3 {
		return common.AddressFromFelt(ev.Data[0]), common.AddressFromFelt(ev.Data[1]), ev.Data[2], true
	}
	return common.Address{}, common.Address{}, common.Felt{}, false
}

func (p *Processor) processERC721(ev RawEvent, sel common.Selector, batch eventBatch) (eventBatch, error) {
	switch sel {
	case SelTransferV0, SelTransferV1:
		from, to, tokenID, ok := decodeNFTTransfer(ev)
		if !ok {
			return batch, fmt.Errorf("indexer: malformed ERC-721 Transfer event")
		}
		contract := ev.FromAddress.String()
		batch.statements = append(batch.statements,
			Statement{
				Query: `DELETE FROM tokens WHERE contract = ? AND account = ? AND token_id = ?`,
				Args:  []interface{}{contract, from.String(), tokenID.String()},
			},
			Statement{
				Query: `INSERT INTO tokens(contract, account, token_id, balance) VALUES (?, ?, ?, '1')
					ON CONFLICT(contract, account, token_id) DO UPDATE SET balance = '1'`,
				Args: []interface{}{contract, to.String(), tokenID.String()},
			},
		)
		batch.tokens = append(batch.tokens, subscription.TokenBalanceUpdate{
			Contract: ev.FromAddress, Account: to, TokenID: &tokenID, Balance: common.FeltFromUint64(1),
		})
		return batch, nil
	case SelMetadataUpdate, SelBatchMetadataUpdate:
		return batch, nil
	default:
		return batch, nil
	}
}

func decodeNFTTransfer(ev RawEvent) (from, to common.Address, tokenID common.Felt, ok bool) {
	if len(ev.Keys) >= 3 && len(ev.Data) >= 1 {
		return common.AddressFromFelt(ev.Keys[1]), common.AddressFromFelt(ev.Keys[2]), ev.Data[0], true
	}
	if len(ev.Data) >= 3 {
		return common.AddressFromFelt(ev.Data[0]), common.AddressFromFelt(ev.Data[1]), ev.Data[2], true
	}
	return common.Address{}, common.Address{}, common.Felt{}, false
}

func (p *Processor) processERC1155(ev RawEvent, sel common.Selector, batch eventBatch) (eventBatch, error) {
	switch sel {
	case SelTransferSingle:
		if len(ev.Data) < 4 {
			return batch, fmt.Errorf("indexer: malformed ERC-1155 TransferSingle event")
		}
		from := common.AddressFromFelt(ev.Data[0])
		to := common.AddressFromFelt(ev.Data[1])
		tokenID := ev.Data[2]
		amount := ev.Data[3]
		batch.tokens = append(batch.tokens,
			subscription.TokenBalanceUpdate{Contract: ev.FromAddress, Account: from, TokenID: &tokenID},
			subscription.TokenBalanceUpdate{Contract: ev.FromAddress, Account: to, TokenID: &tokenID, Balance: amount},
		)
		batch.statements = append(batch.statements, Statement{
			Query: `INSERT INTO tokens(contract, account, token_id, balance) VALUES (?, ?, ?, ?)
				ON CONFLICT(contract, account, token_id) DO UPDATE SET balance = CAST((CAST(balance AS INTEGER) + ?) AS TEXT)`,
			Args: []interface{}{ev.FromAddress.String(), to.String(), tokenID.String(), amount.Big().String(), amount.Big().String()},
		})
		return batch, nil
	case SelTransferBatch, SelMetadataUpdate:
		return batch, nil
	default:
		return batch, nil
	}
}

// processUDC handles ContractDeployed: recording the deployed address so
// later events from it can be routed once its kind is known (set via
// Registry.Register by the node's genesis/config layer; the UDC event
// itself does not declare an ERC-* kind).
func (p *Processor) processUDC(ev RawEvent, sel common.Selector, batch eventBatch) (eventBatch, error) {
	if sel != SelContractDeployed {
		return batch, nil
	}
	if len(ev.Data) < 2 {
		return batch, fmt.Errorf("indexer: malformed ContractDeployed event")
	}
	address := common.AddressFromFelt(ev.Data[0])
	classHash := ev.Data[1]
	batch.statements = append(batch.statements, Statement{
		Query: `INSERT INTO contracts(address, kind, class_hash) VALUES (?, 'unknown', ?)
			ON CONFLICT(address) DO UPDATE SET class_hash = excluded.class_hash`,
		Args: []interface{}{address.String(), classHash.String()},
	})
	return batch, nil
}
