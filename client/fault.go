// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"
)

// ErrNoTarget is returned by the pool when target resolution finds no
// live inspectable process.
var ErrNoTarget = errors.New("no live targets found")

// ErrAmbiguousTarget is returned by the pool when target resolution
// finds more than one live process and the caller did not name one.
var ErrAmbiguousTarget = errors.New("multiple live targets found, specify a target id")

// FaultKind classifies a transport failure. The kind determines both
// the retry decision (only a broken established channel is retried)
// and the diagnostic hint attached to the error message.
type FaultKind int

const (
	// KindDisconnected means an established channel broke mid-use:
	// the peer closed it, or a read/write hit a torn socket.
	KindDisconnected FaultKind = iota

	// KindConnectTimeout means the connect phase did not complete
	// within the dial timeout.
	KindConnectTimeout

	// KindProtocolViolation means the peer answered with bytes that
	// do not decode as a response line.
	KindProtocolViolation
)

func (k FaultKind) String() string {
	switch k {
	case KindDisconnected:
		return "disconnected"
	case KindConnectTimeout:
		return "connect timeout"
	case KindProtocolViolation:
		return "protocol violation"
	default:
		return fmt.Sprintf("FaultKind(%d)", int(k))
	}
}

// TransportError reports a failure to deliver a request to a target
// or to read its response. It is distinct from *ServerError: the
// request never produced a server-side verdict.
type TransportError struct {
	Kind   FaultKind
	Target int
	Err    error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case KindDisconnected:
		return fmt.Sprintf("target %d disconnected (is the application still running?): %v", e.Target, e.Err)
	case KindConnectTimeout:
		return fmt.Sprintf("target %d did not accept a connection within the timeout (is the application hung?): %v", e.Target, e.Err)
	case KindProtocolViolation:
		return fmt.Sprintf("target %d sent an unintelligible response: %v", e.Target, e.Err)
	default:
		return fmt.Sprintf("target %d transport failure: %v", e.Target, e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerError is returned when the target answered with success=false.
// The channel delivered the request and the response intact; the
// failure is the handler's verdict, so the call is never retried.
type ServerError struct {
	Method  string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error on %q: %s", e.Method, e.Message)
}
