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

package rpc

import (
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/subscription"
)

// upgrader has no origin check of its own: CORS on the "/" POST endpoint
// already gates browser access, and NewRouter's cors.Handler middleware
// runs ahead of this route too.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsRequest is one subscribe/unsubscribe control frame a client sends over
// the socket; it reuses the plain JSON-RPC 2.0 envelope so the same
// Request/Response types and error codes serve both transports.
type wsRequest = Request

// subscribeEntitiesParams mirrors the gRPC SubscribeEntities request (see
// SubscribeEntities in subscription/grpc.go) in
// JSON-RPC param form: a list of clauses, OR'd together.
type subscribeEntitiesParams struct {
	Clauses []entityClauseWire `json:"clauses"`
}

type entityClauseWire struct {
	HashedKeys []string `json:"hashed_keys"`
	Namespace  string   `json:"namespace"`
	ModelName  string   `json:"model_name"`
}

func (w entityClauseWire) toClause() subscription.EntityKeysClause {
	c := subscription.EntityKeysClause{Namespace: w.Namespace, ModelName: w.ModelName}
	for _, k := range w.HashedKeys {
		if f, err := common.FeltFromHex(k); err == nil {
			c.HashedKeys = append(c.HashedKeys, f)
		}
	}
	return c
}

type subscribeEventsParams struct {
	Keys []string `json:"keys"`
}

func (p subscribeEventsParams) toClause() subscription.EventKeysClause {
	var patterns []subscription.KeyPattern
	for _, k := range p.Keys {
		if k == "*" {
			patterns = append(patterns, subscription.KeyPattern{VariableLen: true})
			continue
		}
		f, err := common.FeltFromHex(k)
		if err != nil {
			continue
		}
		patterns = append(patterns, subscription.KeyPattern{Value: &f})
	}
	return subscription.EventKeysClause{Keys: patterns}
}

type subscribeTokenBalancesParams struct {
	Contracts []string `json:"contract_addresses"`
}

type unsubscribeParams struct {
	SubscriptionID uint64 `json:"subscription_id"`
}

// wsConn serializes writes to one client's socket (gorilla/websocket
// forbids concurrent writers) and tracks live subscription cancel funcs
// for unsubscribe and teardown-on-close.
type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	cancel map[uint64]func()
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) addSubscription(id uint64, cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel[id] = cancel
}

func (c *wsConn) removeSubscription(id uint64) (func(), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.cancel[id]
	if ok {
		delete(c.cancel, id)
	}
	return cancel, ok
}

func (c *wsConn) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cancel := range c.cancel {
		cancel()
	}
	c.cancel = nil
}

// handleWebSocket upgrades the HTTP connection and serves the subscription
// control protocol: each inbound frame is a JSON-RPC request naming
// subscribe_entities/subscribe_events/subscribe_token_balances/unsubscribe;
// each accepted subscription streams its matching updates back as
// unsolicited JSON-RPC notifications (method set to the topic name,
// params carrying the subscription id and payload), the same
// notification-over-the-same-socket convention Starknet's
// starknet_subscribeEvents family uses.
func (d *Dispatcher) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	ws := &wsConn{conn: conn, cancel: make(map[uint64]func())}
	defer func() {
		ws.closeAll()
		conn.Close()
	}()

	stopPing := make(chan struct{})
	defer close(stopPing)
	go keepAlive(ws, stopPing)

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		resp := d.dispatchWS(ws, req)
		if werr := ws.writeJSON(resp); werr != nil {
			return
		}
	}
}

func (d *Dispatcher) dispatchWS(ws *wsConn, req Request) Response {
	switch req.Method {
	case "starknet_subscribeEntities", "subscribe_entities":
		var p subscribeEntitiesParams
		_ = json.Unmarshal(req.Params, &p)
		clauses := make([]subscription.EntityKeysClause, len(p.Clauses))
		for i, c := range p.Clauses {
			clauses[i] = c.toClause()
		}
		id, ch, cancel := d.Bus.SubscribeEntities(clauses)
		ws.addSubscription(id, cancel)
		go pump(ws, id, "entity_update", ch)
		return newResult(req.ID, id)

	case "starknet_subscribeEvents", "subscribe_events":
		var p subscribeEventsParams
		_ = json.Unmarshal(req.Params, &p)
		id, ch, cancel := d.Bus.SubscribeEvents(p.toClause())
		ws.addSubscription(id, cancel)
		go pump(ws, id, "event_update", ch)
		return newResult(req.ID, id)

	case "starknet_subscribeTokenBalances", "subscribe_token_balances":
		var p subscribeTokenBalancesParams
		_ = json.Unmarshal(req.Params, &p)
		id, ch, cancel := d.Bus.SubscribeTokenBalances(p.Contracts)
		ws.addSubscription(id, cancel)
		go pump(ws, id, "token_balance_update", ch)
		return newResult(req.ID, id)

	case "starknet_unsubscribe", "unsubscribe":
		var p unsubscribeParams
		_ = json.Unmarshal(req.Params, &p)
		cancel, ok := ws.removeSubscription(p.SubscriptionID)
		if !ok {
			return newError(req.ID, errf(CodeInvalidParams, "unknown subscription_id"))
		}
		cancel()
		return newResult(req.ID, true)

	default:
		return newError(req.ID, errf(CodeMethodNotFound, "Method not found"))
	}
}

// pump relays updates from ch to the client as notifications until ch is
// closed (by the bus dropping a slow subscriber, per spec.md §4.10's
// backpressure rule, or by an explicit unsubscribe).
func pump[T any](ws *wsConn, id uint64, method string, ch <-chan T) {
	for v := range ch {
		notification := map[string]interface{}{
			"jsonrpc": protocolVersion,
			"method":  method,
			"params": map[string]interface{}{
				"subscription_id": id,
				"result":          v,
			},
		}
		if err := ws.writeJSON(notification); err != nil {
			return
		}
	}
}

// pingInterval keeps idle subscription sockets from being reclaimed by
// intermediate proxies; gorilla/websocket requires the caller to drive
// ping/pong itself.
const pingInterval = 30 * time.Second

func keepAlive(ws *wsConn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ws.mu.Lock()
			err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			ws.mu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
