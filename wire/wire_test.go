// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	line, err := EncodeRequest(Request{
		Method: "tree/inspect",
		Params: map[string]any{"depth": 3, "root": "window"},
	})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if !strings.HasSuffix(string(line), "\n") {
		t.Error("encoded request is not newline-terminated")
	}
	if strings.Count(string(line), "\n") != 1 {
		t.Error("encoded request spans more than one line")
	}

	decoded, err := DecodeRequest(line)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if decoded.Method != "tree/inspect" {
		t.Errorf("method = %q, want %q", decoded.Method, "tree/inspect")
	}
	if decoded.Params["root"] != "window" {
		t.Errorf("params[root] = %v, want window", decoded.Params["root"])
	}
}

func TestDecodeRequestMalformed(t *testing.T) {
	if _, err := DecodeRequest([]byte(`{"method": "ping"`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
	if _, err := DecodeRequest([]byte(`not json at all`)); err == nil {
		t.Error("expected error for non-JSON input")
	}
}

func TestDecodeRequestMissingMethod(t *testing.T) {
	if _, err := DecodeRequest([]byte(`{"params": {"a": 1}}`)); err == nil {
		t.Error("expected error for request without a method field")
	}
}

func TestSuccessResponse(t *testing.T) {
	response, err := Success(map[string]any{"value": 42})
	if err != nil {
		t.Fatalf("Success: %v", err)
	}
	if !response.Success {
		t.Error("expected success=true")
	}
	if response.Error != "" {
		t.Errorf("expected no error, got %q", response.Error)
	}

	line := Encode(response)
	decoded, err := DecodeResponse(line)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	var data map[string]any
	if err := json.Unmarshal(decoded.Data, &data); err != nil {
		t.Fatalf("unmarshaling data: %v", err)
	}
	if data["value"] != float64(42) {
		t.Errorf("data[value] = %v, want 42", data["value"])
	}
}

func TestSuccessUnserializablePayload(t *testing.T) {
	if _, err := Success(map[string]any{"ch": make(chan int)}); err == nil {
		t.Error("expected error for channel-valued payload")
	}
	if _, err := Success(math.NaN()); err == nil {
		t.Error("expected error for NaN payload")
	}
}

func TestFailureConstructors(t *testing.T) {
	response := UnknownMethod("not_a_real_method")
	if response.Success {
		t.Error("expected success=false")
	}
	if response.Error != "Unknown method: not_a_real_method" {
		t.Errorf("error = %q", response.Error)
	}

	response = HandlerError("boom")
	if response.Error != "Handler error: boom" {
		t.Errorf("error = %q", response.Error)
	}
}

func TestFallbackFailureIsValidJSON(t *testing.T) {
	messages := []string{
		"plain message",
		`message with "quotes" and \backslashes\`,
		"message with\nnewline and\ttab",
		"control char \x01 inside",
	}
	for _, message := range messages {
		line := FallbackFailure(message)
		if !strings.HasSuffix(string(line), "\n") {
			t.Errorf("fallback line for %q not newline-terminated", message)
		}
		var response Response
		if err := json.Unmarshal(line, &response); err != nil {
			t.Errorf("fallback line for %q is not valid JSON: %v\nline: %s", message, err, line)
			continue
		}
		if response.Success {
			t.Errorf("fallback line for %q has success=true", message)
		}
	}
}

func TestEncodeAlwaysOneLine(t *testing.T) {
	// A response whose Data was built by Success is always encodable,
	// but Encode must degrade rather than fail if handed garbage raw
	// JSON. Raw messages are emitted verbatim, so invalid bytes would
	// produce an encode error.
	response := Response{Success: true, Data: json.RawMessage(`{truncated`)}
	line := Encode(response)
	var decoded Response
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("degraded line is not valid JSON: %v\nline: %s", err, line)
	}
	if decoded.Success {
		t.Error("degraded line should report failure")
	}
	if !strings.Contains(decoded.Error, "Failed to encode response") {
		t.Errorf("degraded error = %q", decoded.Error)
	}
}

func TestEscapeString(t *testing.T) {
	cases := map[string]string{
		`plain`:        `plain`,
		`a"b`:          `a\"b`,
		`a\b`:          `a\\b`,
		"a\nb":         `a\nb`,
		"a\x02b":       `ab`,
		"unicode → ok": "unicode → ok",
	}
	for input, want := range cases {
		if got := EscapeString(input); got != want {
			t.Errorf("EscapeString(%q) = %q, want %q", input, got, want)
		}
	}
}
