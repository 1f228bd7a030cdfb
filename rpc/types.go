// Package rpc exposes the rescue ledger via a JSON-RPC 2.0 endpoint and a
// small set of read-only REST routes.
package rpc

import (
	"encoding/json"

	"github.com/tolelom/rescuechain/core"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData carries the stable rejection reason, e.g. "MissionAlreadyCompleted".
type ErrorData struct {
	Reason string `json:"reason"`
}

// Standard JSON-RPC error codes plus server-defined ones.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000
	CodeRejected       = -32001
	CodeUnavailable    = -32002
)

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

// failResponse maps a ledger error to a response. Rejections carry their
// reason so clients never parse messages.
func failResponse(id any, err error) Response {
	if !core.IsRejection(err) {
		return errResponse(id, CodeInternalError, err.Error())
	}
	resp := errResponse(id, CodeRejected, err.Error())
	resp.Error.Data = &ErrorData{Reason: core.Reason(err)}
	return resp
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
