// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
)

func TestIsDisconnect(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"unexpected-eof", io.ErrUnexpectedEOF, true},
		{"closed", net.ErrClosed, true},
		{"wrapped-eof", fmt.Errorf("reading response: %w", io.EOF), true},
		{"epipe", &net.OpError{Op: "write", Err: syscall.EPIPE}, true},
		{"econnreset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"econnrefused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, false},
		{"plain", errors.New("something else"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDisconnect(tc.err); got != tc.want {
				t.Errorf("IsDisconnect(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
