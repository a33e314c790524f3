// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package client connects to the diagnostics channels that inspectable
// processes publish through the registry. A Connection carries the
// request/response exchange with a single target; a Pool hands out
// connections keyed by target process ID and evicts targets that have
// exited.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/spyglass-foundation/spyglass/lib/netutil"
	"github.com/spyglass-foundation/spyglass/registry"
	"github.com/spyglass-foundation/spyglass/wire"
)

// DefaultDialTimeout is the maximum time to wait for a target to
// accept a connection. A healthy target accepts immediately; a target
// that is alive but not servicing its accept loop is reported as
// hung.
const DefaultDialTimeout = 5 * time.Second

// Connection is a lazily established channel to one target process.
// The channel is opened on first use and validated with a ping before
// it carries caller traffic.
//
// A Connection serializes its callers: at most one request is in
// flight at a time, and each request's response is read before the
// next request is written. Concurrent Send calls queue on an internal
// mutex.
//
// If an established channel breaks mid-request, Send reconnects and
// retries the request exactly once. A request that fails twice, or
// that fails during the connect phase on the retry, is reported to
// the caller. Handlers may therefore observe a duplicate delivery of
// a request whose first response was lost.
type Connection struct {
	targetID    int
	socketPath  string
	logger      *slog.Logger
	dialTimeout time.Duration

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	validated bool
	lastUsed  time.Time
}

// NewConnection creates an unconnected channel to the target described
// by d. The socket is not dialed until the first Send.
func NewConnection(reg *registry.Registry, d registry.Descriptor, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		targetID:    d.ID,
		socketPath:  reg.SocketPath(d.ChannelName),
		logger:      logger.With("target", d.ID),
		dialTimeout: DefaultDialTimeout,
	}
}

// SetDialTimeout overrides the connect-phase timeout for channels not
// yet established. Useful for configurations tuned to heavily loaded
// targets.
func (c *Connection) SetDialTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timeout > 0 {
		c.dialTimeout = timeout
	}
}

// TargetID returns the process ID of the target this connection
// serves.
func (c *Connection) TargetID() int {
	return c.targetID
}

// LastUsed returns when the connection last carried a request, or the
// zero time if it never has. Callers pruning idle connections read
// this.
func (c *Connection) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

// Send delivers one request to the target and returns the payload
// from its response.
//
// A success=false response becomes a *ServerError. Failures to reach
// the target or to read an intelligible response become a
// *TransportError. If ctx is canceled while the request is in flight,
// the context error is returned and the channel is dropped; the next
// Send reconnects.
func (c *Connection) Send(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	line, err := wire.EncodeRequest(wire.Request{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encoding request %q: %w", method, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUsed = time.Now()

	response, err := c.attempt(ctx, line)
	if transport := asDisconnect(err); transport != nil && ctx.Err() == nil {
		// The established channel broke. The target may have
		// restarted its endpoint or dropped an idle connection;
		// reconnect and retry the request once.
		c.logger.Debug("retrying after transport fault", "method", method, "error", err)
		response, err = c.attempt(ctx, line)
	}
	if err != nil {
		return nil, err
	}

	if !response.Success {
		return nil, &ServerError{Method: method, Message: response.Error}
	}
	return response.Data, nil
}

// Close drops the channel. The next Send reconnects. Safe to call on
// a never-connected or already-closed connection.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop()
}

// attempt makes one full delivery attempt: connect if needed, then
// exchange the request line for a response. The caller holds c.mu.
func (c *Connection) attempt(ctx context.Context, line []byte) (wire.Response, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return wire.Response{}, err
	}
	return c.exchange(ctx, line)
}

// ensureConnected dials the target socket and validates the channel
// with a ping. No-op when the channel is already up. The caller holds
// c.mu.
func (c *Connection) ensureConnected(ctx context.Context) error {
	if c.conn != nil && c.validated {
		return nil
	}

	if c.conn == nil {
		dialer := net.Dialer{Timeout: c.dialTimeout}
		conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if os.IsTimeout(err) {
				return &TransportError{Kind: KindConnectTimeout, Target: c.targetID, Err: err}
			}
			// Refused or missing socket: the endpoint is gone.
			return &TransportError{Kind: KindDisconnected, Target: c.targetID, Err: err}
		}
		c.conn = conn
		c.reader = bufio.NewReader(conn)
	}

	if err := c.validate(ctx); err != nil {
		c.drop()
		return err
	}
	c.validated = true
	return nil
}

// validate pings the freshly dialed channel. A target that accepts
// the connection but cannot answer a ping is not worth handing caller
// traffic. A protocol version mismatch is logged, not fatal: the wire
// format is line-delimited JSON in every version, so a best-effort
// exchange is still useful.
func (c *Connection) validate(ctx context.Context) error {
	line, err := wire.EncodeRequest(wire.Request{Method: wire.MethodPing})
	if err != nil {
		return fmt.Errorf("encoding validation ping: %w", err)
	}
	response, err := c.exchange(ctx, line)
	if err != nil {
		return err
	}
	if !response.Success {
		return &TransportError{
			Kind:   KindProtocolViolation,
			Target: c.targetID,
			Err:    fmt.Errorf("validation ping rejected: %s", response.Error),
		}
	}

	var result wire.PingResult
	if err := json.Unmarshal(response.Data, &result); err != nil {
		return &TransportError{
			Kind:   KindProtocolViolation,
			Target: c.targetID,
			Err:    fmt.Errorf("decoding ping result: %w", err),
		}
	}
	if result.ProtocolVersion != wire.ProtocolVersion {
		c.logger.Warn("protocol version mismatch",
			"local", wire.ProtocolVersion,
			"remote", result.ProtocolVersion,
			"process", result.ProcessName)
	}
	return nil
}

// exchange writes one request line and reads one response line. Any
// failure drops the channel: a half-completed exchange leaves the
// stream in an unknown framing state, so the connection cannot be
// reused. The caller holds c.mu.
func (c *Connection) exchange(ctx context.Context, line []byte) (wire.Response, error) {
	// Unix socket reads do not take a context, so a watcher closes
	// the connection when ctx is canceled to unblock them.
	done := make(chan struct{})
	watcherStopped := make(chan struct{})
	conn := c.conn
	go func() {
		defer close(watcherStopped)
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer func() {
		close(done)
		<-watcherStopped
	}()

	if _, err := conn.Write(line); err != nil {
		return wire.Response{}, c.faulted(ctx, "writing request", err)
	}

	raw, err := c.readResponseLine()
	if err != nil {
		if errors.Is(err, errResponseTooLong) {
			c.drop()
			return wire.Response{}, &TransportError{
				Kind:   KindProtocolViolation,
				Target: c.targetID,
				Err:    err,
			}
		}
		return wire.Response{}, c.faulted(ctx, "reading response", err)
	}

	response, err := wire.DecodeResponse(raw)
	if err != nil {
		c.drop()
		return wire.Response{}, &TransportError{
			Kind:   KindProtocolViolation,
			Target: c.targetID,
			Err:    err,
		}
	}
	return response, nil
}

var errResponseTooLong = fmt.Errorf("response line exceeds %d bytes", wire.MaxLineLength)

// readResponseLine reads one newline-terminated line, enforcing the
// protocol line cap while reading so a misbehaving peer cannot force
// unbounded buffering. The caller holds c.mu.
func (c *Connection) readResponseLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := c.reader.ReadSlice('\n')
		line = append(line, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			if len(line) > wire.MaxLineLength {
				return nil, errResponseTooLong
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(line) > wire.MaxLineLength {
			return nil, errResponseTooLong
		}
		return line, nil
	}
}

// faulted drops the channel and classifies a mid-exchange I/O error.
// Context cancellation takes precedence: the watcher closes the
// socket, which surfaces as a disconnect that must not be retried.
func (c *Connection) faulted(ctx context.Context, operation string, err error) error {
	c.drop()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// Any mid-exchange failure on a local socket means the channel is
	// gone. Errors outside the usual peer-closed family are logged so
	// a genuinely novel failure mode is visible.
	if !netutil.IsDisconnect(err) {
		c.logger.Debug("unexpected transport error", "operation", operation, "error", err)
	}
	return &TransportError{
		Kind:   KindDisconnected,
		Target: c.targetID,
		Err:    fmt.Errorf("%s: %w", operation, err),
	}
}

// drop closes and forgets the channel. The caller holds c.mu.
func (c *Connection) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
	c.validated = false
}

// asDisconnect returns err as a *TransportError if it reports a broken
// established channel, the only fault kind eligible for a retry.
func asDisconnect(err error) *TransportError {
	var transport *TransportError
	if errors.As(err, &transport) && transport.Kind == KindDisconnected {
		return transport
	}
	return nil
}
