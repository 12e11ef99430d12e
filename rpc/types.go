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

// Package rpc is component C8: it binds the JSON-RPC 2.0 method names
// spec.md §6 lists (bit-exact) to Provider/Pool/Producer calls, served
// over net/http with a gorilla/websocket upgrade for subscriptions, the
// same explicit-binding-over-reflection style Erigon's own RPC daemon
// uses for its namespace services.
package rpc

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/katana-sequencer/katana/core/types"
	"github.com/katana-sequencer/katana/katanalib/common"
)

// protocolVersion is the literal "jsonrpc" field every envelope carries.
const protocolVersion = "2.0"

// Request is one JSON-RPC 2.0 call envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one JSON-RPC 2.0 reply envelope: exactly one of Result/Error
// is set, matching the spec's discriminated-union reply shape.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

func newResult(id json.RawMessage, result interface{}) Response {
	return Response{JSONRPC: protocolVersion, ID: id, Result: result}
}

func newError(id json.RawMessage, err *RPCError) Response {
	return Response{JSONRPC: protocolVersion, ID: id, Error: err}
}

// blockIDWire is the three overlapping shapes starknet_* methods' block_id
// parameter can take: a tag string, or one of two single-field objects.
type blockIDWire struct {
	BlockNumber *uint64 `json:"block_number,omitempty"`
	BlockHash   *string `json:"block_hash,omitempty"`
}

// ParseBlockID decodes raw into a types.BlockHashOrNumber, accepting the
// three forms spec.md §6 names: `"latest"`, `"pending"`, `{"block_number":N}`,
// `{"block_hash":H}`.
func ParseBlockID(raw json.RawMessage) (types.BlockHashOrNumber, error) {
	var tag string
	if err := json.Unmarshal(raw, &tag); err == nil {
		switch tag {
		case "latest":
			return types.BlockLatest(), nil
		case "pending":
			return types.BlockPending(), nil
		default:
			return types.BlockHashOrNumber{}, fmt.Errorf("rpc: unknown block tag %q", tag)
		}
	}
	var w blockIDWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return types.BlockHashOrNumber{}, fmt.Errorf("rpc: invalid block_id: %w", err)
	}
	if w.BlockNumber != nil {
		return types.BlockByNumber(*w.BlockNumber), nil
	}
	if w.BlockHash != nil {
		f, err := common.FeltFromHex(*w.BlockHash)
		if err != nil {
			return types.BlockHashOrNumber{}, fmt.Errorf("rpc: invalid block_hash: %w", err)
		}
		return types.BlockByHash(common.BlockHashFromFelt(f)), nil
	}
	return types.BlockHashOrNumber{}, fmt.Errorf("rpc: block_id has neither block_number nor block_hash")
}
