// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides small networking helpers shared by the
// transport server and the client connection layer.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsDisconnect reports whether err is a disconnection-class transport
// fault: EOF, a closed connection, broken pipe, or connection reset.
// These occur when the peer process exits or tears down its end of the
// channel while a read or write is in flight.
//
// The client retry policy is a pure decision over this classification:
// disconnects trigger exactly one reconnect-and-resend, everything
// else surfaces immediately. The server's request loop treats them as
// a normal peer departure rather than an error worth logging.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
