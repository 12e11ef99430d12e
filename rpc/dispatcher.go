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
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/katana-sequencer/katana/core/producer"
	"github.com/katana-sequencer/katana/core/state"
	"github.com/katana-sequencer/katana/core/txpool"
	"github.com/katana-sequencer/katana/internal/genesis"
	"github.com/katana-sequencer/katana/katanalib/common"
	"github.com/katana-sequencer/katana/katanalib/config"
	"github.com/katana-sequencer/katana/katanalib/log"
	"github.com/katana-sequencer/katana/subscription"
)

// HandlerFunc answers one JSON-RPC method call.
type HandlerFunc func(d *Dispatcher, params json.RawMessage) (interface{}, *RPCError)

// methodRegistry is populated by starknet.go's and dev.go's init()
// functions; Erigon's own RPC daemon binds methods explicitly by name
// rather than by reflection over a namespace struct, and this repository
// follows the same style.
var methodRegistry = map[string]HandlerFunc{}

func registerMethod(name string, h HandlerFunc) { methodRegistry[name] = h }

// Dispatcher is component C8: it owns no state of its own beyond what it
// needs to route a call to the right collaborator.
type Dispatcher struct {
	Provider  state.Provider
	Pool      *txpool.Pool
	Producer  *producer.Producer
	Bus       *subscription.Bus
	ChainID   common.ChainID
	Accounts  map[common.Address]genesis.Account
	Config    config.RPCConfig
	DevMode   bool

	log *zap.Logger
}

// New builds a Dispatcher ready to be handed to NewRouter.
func New(cfg config.RPCConfig, chainID common.ChainID, provider state.Provider, pool *txpool.Pool, prod *producer.Producer, bus *subscription.Bus, accounts []genesis.Account) *Dispatcher {
	return &Dispatcher{
		Provider: provider,
		Pool:     pool,
		Producer: prod,
		Bus:      bus,
		ChainID:  chainID,
		Accounts: genesis.ByAddress(accounts),
		Config:   cfg,
		DevMode:  cfg.HasModule(config.RPCModuleDev),
		log:      log.Named("rpc"),
	}
}

func (d *Dispatcher) maxRequestBodySize() int64 {
	if d.Config.MaxRequestBodySize != nil {
		return int64(*d.Config.MaxRequestBodySize)
	}
	return 10 << 20 // 10 MiB default ceiling
}

// NewRouter builds the HTTP handler: JSON-RPC POST at "/", a WebSocket
// subscription endpoint at "/ws", and the HTTP-GET rewriter middleware
// spec.md §4.8 describes for `dev_accountBalance`. CORS runs ahead of every
// route; the request body-size limit applies to the POST handler.
func NewRouter(d *Dispatcher) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second)) // spec.md §5's default RPC request timeout
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOriginsOrWildcard(d.Config.CORSOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Post("/", d.handleHTTP)
	r.Get("/ws", d.handleWebSocket)
	if d.DevMode {
		r.Get("/account_balance", d.handleAccountBalanceRewrite)
	}
	return r
}

func corsOriginsOrWildcard(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// handleHTTP is the plain JSON-RPC 2.0 entrypoint: one request object (or
// a batch array) in, one response (or response array) out.
func (d *Dispatcher) handleHTTP(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, d.maxRequestBodySize())
	defer body.Close()

	var raw json.RawMessage
	dec := json.NewDecoder(body)
	if err := dec.Decode(&raw); err != nil {
		writeJSON(w, newError(nil, errf(CodeParseError, "Parse error")))
		return
	}

	if isBatch(raw) {
		var reqs []Request
		if err := json.Unmarshal(raw, &reqs); err != nil {
			writeJSON(w, newError(nil, errf(CodeParseError, "Parse error")))
			return
		}
		resps := make([]Response, len(reqs))
		for i, req := range reqs {
			resps[i] = d.dispatchOne(req)
		}
		writeJSON(w, resps)
		return
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSON(w, newError(nil, errf(CodeParseError, "Parse error")))
		return
	}
	writeJSON(w, d.dispatchOne(req))
}

func isBatch(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

func (d *Dispatcher) dispatchOne(req Request) Response {
	if !d.DevMode && isDevMethod(req.Method) {
		return newError(req.ID, errf(CodeMethodNotFound, "Method not found"))
	}
	h, ok := methodRegistry[req.Method]
	if !ok {
		return newError(req.ID, errf(CodeMethodNotFound, "Method not found"))
	}
	result, rerr := h(d, req.Params)
	if rerr != nil {
		return newError(req.ID, rerr)
	}
	return newResult(req.ID, result)
}

func isDevMethod(method string) bool {
	return len(method) > 4 && method[:4] == "dev_"
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		log.Named("rpc").Error("encode response", zap.Error(err))
	}
}
