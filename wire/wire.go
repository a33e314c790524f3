// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the Spyglass diagnostics wire format: one JSON
// object per line of the byte stream, in both directions.
//
// A request is {"method": "<name>", "params": {...}}. A response is
// {"success": bool, "data": <any>|null, "error": string|null}, with
// data set and error absent on success, and the reverse on failure.
// Every request produces exactly one response line; nothing in this
// package terminates a connection.
//
// The package is shared by the embedded transport server and the
// client connection layer, so the two sides can never disagree on
// framing.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ProtocolVersion is the semver version of the request/response
// protocol. Servers report it from the built-in ping method; clients
// compare it against their own expectation after connecting and warn
// (but proceed) on mismatch. Bump the minor version for additive
// changes, the major version for anything that breaks older clients.
const ProtocolVersion = "1.0.0"

// MethodPing is the built-in liveness and version probe. It is
// handled by the transport server itself, never by the embedder's
// handler table.
const MethodPing = "ping"

// MaxLineLength is the maximum accepted length of a single request or
// response line, including the trailing newline. 1 MB is generous for
// diagnostic payloads; an oversized line is reported as a protocol
// error, never a crash.
const MaxLineLength = 1024 * 1024

// Request is a single diagnostic call. Params carries arbitrary
// method-specific arguments; key order is not part of the contract.
type Request struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// Response is the reply to exactly one Request.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// PingResult is the data payload of the built-in ping method. Clients
// use it to validate liveness and protocol compatibility after
// (re)connecting.
type PingResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ProcessName     string `json:"processName"`
	PID             int    `json:"pid"`
	StartTime       string `json:"startTime"`
}

// DecodeRequest parses one request line. The trailing newline, if
// present, is ignored. Returns an error for malformed JSON or a
// missing method field; the caller converts it to an "Invalid JSON"
// failure response.
func DecodeRequest(line []byte) (Request, error) {
	var request Request
	if err := json.Unmarshal(bytes.TrimSuffix(line, []byte("\n")), &request); err != nil {
		return Request{}, err
	}
	if request.Method == "" {
		return Request{}, fmt.Errorf("missing %q field", "method")
	}
	return request, nil
}

// EncodeRequest renders a request as a single newline-terminated line.
func EncodeRequest(request Request) ([]byte, error) {
	encoded, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return append(encoded, '\n'), nil
}

// DecodeResponse parses one response line.
func DecodeResponse(line []byte) (Response, error) {
	var response Response
	if err := json.Unmarshal(bytes.TrimSuffix(line, []byte("\n")), &response); err != nil {
		return Response{}, err
	}
	return response, nil
}

// Success builds a success response carrying data. Returns an error if
// the payload cannot be JSON-encoded (a channel-valued field, a NaN);
// the caller degrades to FallbackFailure so the request still receives
// its one response line.
func Success(data any) (Response, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return Response{}, err
	}
	return Response{Success: true, Data: encoded}, nil
}

// Failure builds a failure response with the given error message.
func Failure(message string) Response {
	return Response{Success: false, Error: message}
}

// InvalidJSON builds the failure response for an unparseable request.
func InvalidJSON(err error) Response {
	return Failure(fmt.Sprintf("Invalid JSON: %v", err))
}

// UnknownMethod builds the failure response for a method name absent
// from the handler table.
func UnknownMethod(method string) Response {
	return Failure(fmt.Sprintf("Unknown method: %s", method))
}

// HandlerError builds the failure response for a fault raised while a
// handler was processing a request.
func HandlerError(detail any) Response {
	return Failure(fmt.Sprintf("Handler error: %v", detail))
}

// Encode renders a response as a single newline-terminated line. If
// the response itself cannot be marshaled, Encode degrades to a
// hand-built failure line rather than returning an error: the framing
// guarantee (exactly one line per request) holds even for payloads
// JSON cannot represent.
func Encode(response Response) []byte {
	encoded, err := json.Marshal(response)
	if err != nil {
		return FallbackFailure(fmt.Sprintf("Failed to encode response: %v", err))
	}
	return append(encoded, '\n')
}

// FallbackFailure builds a failure line without going through the JSON
// encoder. The message is escaped by hand so the output is always
// valid JSON regardless of its content.
func FallbackFailure(message string) []byte {
	return []byte(fmt.Sprintf("{\"success\":false,\"data\":null,\"error\":\"%s\"}\n", EscapeString(message)))
}

// EscapeString escapes s for inclusion inside a JSON string literal.
// Handles the characters json.Marshal would escape: quote, backslash,
// and control characters. Invalid UTF-8 bytes are replaced.
func EscapeString(s string) string {
	var builder strings.Builder
	for _, r := range s {
		switch r {
		case '"':
			builder.WriteString(`\"`)
		case '\\':
			builder.WriteString(`\\`)
		case '\n':
			builder.WriteString(`\n`)
		case '\r':
			builder.WriteString(`\r`)
		case '\t':
			builder.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&builder, `\u%04x`, r)
			} else if r == utf8.RuneError {
				builder.WriteString(`�`)
			} else {
				builder.WriteRune(r)
			}
		}
	}
	return builder.String()
}
