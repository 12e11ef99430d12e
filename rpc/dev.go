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
	"context"
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/katana-sequencer/katana/core/executor"
	"github.com/katana-sequencer/katana/core/producer"
	"github.com/katana-sequencer/katana/katanalib/common"
)

func init() {
	registerMethod("dev_setNextBlockTimestamp", handleSetNextBlockTimestamp)
	registerMethod("dev_increaseNextBlockTimestamp", handleIncreaseNextBlockTimestamp)
	registerMethod("dev_mine", handleMine)
	registerMethod("dev_accountBalance", handleAccountBalance)
}

func requireProducer(d *Dispatcher) (*producer.Producer, *RPCError) {
	if d.Producer == nil {
		return nil, errf(CodeUnexpectedError, "dev namespace requires a running block producer")
	}
	return d.Producer, nil
}

type timestampParams struct {
	Timestamp uint64 `json:"timestamp"`
}

func handleSetNextBlockTimestamp(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	prod, rerr := requireProducer(d)
	if rerr != nil {
		return nil, rerr
	}
	var p timestampParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errf(CodeInvalidParams, "Invalid params")
	}
	prod.SetNextBlockTimestamp(p.Timestamp)
	return nil, nil
}

type deltaParams struct {
	Delta uint64 `json:"delta"`
}

func handleIncreaseNextBlockTimestamp(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	prod, rerr := requireProducer(d)
	if rerr != nil {
		return nil, rerr
	}
	var p deltaParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errf(CodeInvalidParams, "Invalid params")
	}
	prod.IncreaseNextBlockTimestamp(p.Delta)
	return nil, nil
}

func handleMine(d *Dispatcher, _ json.RawMessage) (interface{}, *RPCError) {
	prod, rerr := requireProducer(d)
	if rerr != nil {
		return nil, rerr
	}
	// dev_mine runs Mine under context.Background(), so neither the
	// router's chimw.Timeout middleware nor a client disconnect cancels it.
	if err := prod.Mine(context.Background()); err != nil {
		if errors.Is(err, producer.ErrWrongMode) {
			return nil, errf(CodeUnexpectedError, "dev_mine requires on-demand block production mode")
		}
		return nil, MapError(err)
	}
	return nil, nil
}

type accountBalanceParams struct {
	ContractAddress string `json:"contract_address"`
	Unit            string `json:"unit"`
}

// balanceUnits are the fee-unit names spec.md §6's `?unit=…` query parameter
// accepts, mirroring the Starknet "wei" (L1 gas token) / "fri" (native
// token) pair named in spec.md §3's GasPrices{Wei, Native}. NativeVM
// (core/executor/nativevm.go) models a single built-in balance table per
// account rather than two distinct fee-token ledgers — a development-mode
// simplification recorded in DESIGN.md — so both recognized units resolve
// to that same slot; an unrecognized unit is still a client error rather
// than silently ignored.
var balanceUnits = map[string]bool{
	"":    true, // default, same as "wei"
	"wei": true,
	"fri": true,
}

func handleAccountBalance(d *Dispatcher, raw json.RawMessage) (interface{}, *RPCError) {
	var p accountBalanceParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errf(CodeInvalidParams, "Invalid params")
	}
	if !balanceUnits[p.Unit] {
		return nil, errf(CodeInvalidParams, "invalid unit: must be \"wei\" or \"fri\"")
	}
	addrFelt, err := common.FeltFromHex(p.ContractAddress)
	if err != nil {
		return nil, errf(CodeInvalidParams, "invalid contract_address")
	}
	acc, ok := d.Accounts[common.AddressFromFelt(addrFelt)]
	if !ok {
		return nil, errf(CodeContractNotFound, "Contract not found")
	}
	sp, serr := d.Provider.Latest()
	if serr != nil {
		return nil, MapError(serr)
	}
	balance, berr := sp.StorageAt(acc.Address, executor.BalanceKey(acc.Address))
	if berr != nil {
		return nil, MapError(berr)
	}
	return balance.String(), nil
}

// handleAccountBalanceRewrite is the HTTP-GET rewriter spec.md §4.8
// describes: a plain `GET /account_balance?contract_address=0x...&unit=...`
// call, for use from a browser address bar or curl without hand-assembling
// a JSON-RPC envelope, rewritten into the same dev_accountBalance handler
// the JSON-RPC POST path dispatches to. Per spec.md §4.8 ("strip the
// JSON-RPC envelope from the response body"), the body is the bare result
// or error value, never wrapped in a {"jsonrpc":...} envelope.
func (d *Dispatcher) handleAccountBalanceRewrite(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("contract_address")
	if addr == "" {
		writeJSON(w, errf(CodeInvalidParams, "missing contract_address query parameter"))
		return
	}
	params, err := json.Marshal(accountBalanceParams{
		ContractAddress: addr,
		Unit:            r.URL.Query().Get("unit"),
	})
	if err != nil {
		writeJSON(w, errf(CodeInternal, "Internal error"))
		return
	}
	result, rerr := handleAccountBalance(d, params)
	if rerr != nil {
		writeJSON(w, rerr)
		return
	}
	writeJSON(w, result)
}
