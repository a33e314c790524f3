// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package server implements the transport server embedded in the
// target application. It accepts any number of client connections
// over the host process's lifetime, runs a request loop per
// connection, and dispatches requests to an externally supplied
// handler table. The server advertises itself through the discovery
// registry so independently-started clients can find it.
//
// The server is an explicit object with an explicit Start/Stop
// lifecycle owned by its embedder; multiple independent instances can
// coexist in one process (tests do this routinely). Nothing in this
// package is fatal to the host application except the inability to
// bind the listening socket at startup.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/spyglass-foundation/spyglass/lib/clock"
	"github.com/spyglass-foundation/spyglass/registry"
	"github.com/spyglass-foundation/spyglass/wire"
)

// Handler processes one diagnostic request. Params carries the
// request's decoded parameters. Return a value to include in the
// success response, or an error for a failure response. Handlers run
// on the connection's own goroutine; state they touch must be
// internally synchronized by the embedder.
//
// A handler may run twice for one logical request: clients resend
// exactly once after a transport failure, and the failure may have
// struck after the handler executed but before the response was
// flushed. Handlers that mutate state must tolerate that.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// acceptRetryDelay is how long the accept loop backs off after a
// non-shutdown accept error before trying again.
const acceptRetryDelay = time.Second

// Server serves the Spyglass wire protocol on a unix socket.
// Register handlers with Handle before calling Start.
type Server struct {
	registry    *registry.Registry
	processName string
	channelName string
	targetID    int
	handlers    map[string]Handler
	logger      *slog.Logger
	clock       clock.Clock

	mu        sync.Mutex
	listener  net.Listener
	cancel    context.CancelFunc
	startTime time.Time

	// loops tracks the accept loop and every per-connection request
	// loop, so Stop can wait for outstanding work deterministically
	// instead of leaking background goroutines.
	loops sync.WaitGroup
}

// New creates a server for the calling process. channelName overrides
// the channel naming convention; leave it empty to derive the name
// from the process id, which lets clients connect without a registry
// read when they already know the target.
func New(reg *registry.Registry, processName, channelName string, logger *slog.Logger) *Server {
	targetID := os.Getpid()
	if channelName == "" {
		channelName = registry.ChannelName(targetID)
	}
	return &Server{
		registry:    reg,
		processName: processName,
		channelName: channelName,
		targetID:    targetID,
		handlers:    make(map[string]Handler),
		logger:      logger,
		clock:       clock.Real(),
	}
}

// Handle registers a handler for the given method name. Panics on a
// duplicate registration or on an attempt to shadow the built-in ping
// method; both are embedder programming errors.
func (s *Server) Handle(method string, handler Handler) {
	if method == wire.MethodPing {
		panic(fmt.Sprintf("server: method %q is handled by the transport layer", wire.MethodPing))
	}
	if _, exists := s.handlers[method]; exists {
		panic(fmt.Sprintf("server: duplicate handler for method %q", method))
	}
	s.handlers[method] = handler
}

// TargetID returns the id this server advertises under.
func (s *Server) TargetID() int {
	return s.targetID
}

// ChannelName returns the channel this server listens on.
func (s *Server) ChannelName() string {
	return s.channelName
}

// SocketPath returns the unix socket path derived from the channel
// name.
func (s *Server) SocketPath() string {
	return s.registry.SocketPath(s.channelName)
}

// Start binds the listening socket, publishes the discovery
// descriptor, and spawns the background accept loop. It returns
// immediately; request handling happens on background goroutines
// until Stop is called or ctx is cancelled.
//
// Failure to bind the socket is the only fatal condition. Failure to
// publish the descriptor is logged and ignored: a client that knows
// the target id can still derive the channel name and connect.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("server already started on %s", s.channelName)
	}

	socketPath := s.registry.SocketPath(s.channelName)
	if err := os.MkdirAll(s.registry.Dir(), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	serveCtx, cancel := context.WithCancel(ctx)
	s.listener = listener
	s.cancel = cancel
	s.startTime = s.clock.Now()

	if err := s.registry.Publish(registry.Descriptor{
		ID:              s.targetID,
		ChannelName:     s.channelName,
		ProcessName:     s.processName,
		StartTime:       s.startTime.UTC(),
		ProtocolVersion: wire.ProtocolVersion,
	}); err != nil {
		s.logger.Warn("publishing discovery descriptor failed",
			"target", s.targetID,
			"error", err,
		)
	}

	s.loops.Add(1)
	go s.acceptLoop(serveCtx, listener)

	s.logger.Info("diagnostics server listening",
		"socket", socketPath,
		"target", s.targetID,
		"protocol_version", wire.ProtocolVersion,
	)
	return nil
}

// Stop cancels the accept loop and all in-flight request loops, waits
// for them to finish, removes the discovery descriptor, and releases
// the listening socket. Safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	listener := s.listener
	cancel := s.cancel
	s.listener = nil
	s.cancel = nil
	s.mu.Unlock()

	if listener == nil {
		return
	}

	cancel()
	listener.Close()
	s.loops.Wait()

	if err := s.registry.Remove(s.targetID); err != nil {
		s.logger.Warn("removing discovery descriptor failed",
			"target", s.targetID,
			"error", err,
		)
	}
	os.Remove(s.registry.SocketPath(s.channelName))

	s.logger.Info("diagnostics server stopped", "target", s.targetID)
}

// acceptLoop accepts connections until shutdown, spawning an
// independent request loop per connection. Non-shutdown accept errors
// are logged and retried after a fixed backoff rather than
// terminating the loop.
func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	defer s.loops.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "error", err)
			s.clock.Sleep(acceptRetryDelay)
			continue
		}

		s.loops.Add(1)
		go func() {
			defer s.loops.Done()
			s.serveConnection(ctx, conn)
		}()
	}
}
