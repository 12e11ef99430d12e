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
	"errors"

	"github.com/katana-sequencer/katana/core/executor"
	"github.com/katana-sequencer/katana/core/state"
	"github.com/katana-sequencer/katana/core/txpool"
)

// RPCError is a JSON-RPC 2.0 error object. Codes follow the Starknet
// JSON-RPC error-code table spec.md §7 points to ("follows the Starknet
// error code table"). The dev namespace handlers use these same codes
// (CodeUnexpectedError, CodeInvalidParams, CodeContractNotFound); they
// return no 500-class errors.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// Standard JSON-RPC 2.0 envelope errors.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
)

// Starknet JSON-RPC error codes (spec.md §7's "Starknet error code table").
const (
	CodeFailedToReceiveTx           = 1
	CodeContractNotFound            = 20
	CodeBlockNotFound               = 24
	CodeInvalidTransactionIndex     = 25
	CodeClassHashNotFound           = 28
	CodeTransactionHashNotFound     = 29
	CodePageSizeTooBig              = 31
	CodeNoBlocks                    = 32
	CodeInvalidContinuationToken    = 33
	CodeTooManyKeysInFilter         = 34
	CodeContractError               = 40
	CodeTransactionExecutionError   = 41
	CodeClassAlreadyDeclared        = 51
	CodeInvalidTransactionNonce     = 52
	CodeInsufficientMaxFee          = 53
	CodeInsufficientAccountBalance  = 54
	CodeValidationFailure           = 55
	CodeCompilationFailed           = 56
	CodeContractClassSizeTooLarge   = 57
	CodeNonAccount                  = 58
	CodeDuplicateTransaction        = 59
	CodeCompiledClassHashMismatch   = 60
	CodeUnsupportedTxVersion        = 61
	CodeUnsupportedContractClassVer = 62
	CodeUnexpectedError             = 63
)

func errf(code int, msg string) *RPCError { return &RPCError{Code: code, Message: msg} }

// MapError classifies err, raised by C3/C4/C5, into the Starknet error
// code spec.md §7's error table assigns its kind, the way Erigon's RPC
// layer uses errors.Is/errors.As at the JSON-RPC boundary to pick a
// response code rather than leaking internal error kinds to the client.
func MapError(err error) *RPCError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, state.ErrNotFound):
		return errf(CodeBlockNotFound, "Block not found")
	case errors.Is(err, txpool.ErrAlreadyKnown):
		return errf(CodeDuplicateTransaction, "A transaction with the same hash already exists in the mempool")
	case errors.Is(err, txpool.ErrNonAccount):
		return errf(CodeNonAccount, "Sender address is not an account contract")
	case errors.Is(err, txpool.ErrInsufficientFunds):
		return errf(CodeInsufficientAccountBalance, "Account balance is smaller than the transaction's max_fee")
	case errors.Is(err, txpool.ErrIntrinsicFeeTooLow):
		return errf(CodeInsufficientMaxFee, "The transaction's max_fee is too low")
	case isInvalidNonce(err):
		return errf(CodeInvalidTransactionNonce, "Invalid transaction nonce")
	case errors.Is(err, executor.ErrValidationFailed):
		return errf(CodeValidationFailure, "Account validation failed")
	case errors.Is(err, executor.ErrInsufficientFunds):
		return errf(CodeInsufficientAccountBalance, "Account balance is smaller than the transaction's max_fee")
	default:
		return errf(CodeUnexpectedError, err.Error())
	}
}

func isInvalidNonce(err error) bool {
	var dep *txpool.ErrDependent
	if errors.As(err, &dep) {
		return false // accepted, just queued — not a client-visible error
	}
	var inv *txpool.ErrInvalidNonce
	return errors.As(err, &inv) || errors.Is(err, executor.ErrInvalidNonce)
}
