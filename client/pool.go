// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spyglass-foundation/spyglass/registry"
)

// Pool hands out connections keyed by target process ID. Each target
// gets at most one Connection, created on first use; concurrent
// callers asking for the same target share the instance and queue on
// its in-flight mutex.
type Pool struct {
	reg         *registry.Registry
	logger      *slog.Logger
	dialTimeout time.Duration

	mu          sync.Mutex
	connections map[int]*Connection
}

// NewPool creates a pool over the given registry.
func NewPool(reg *registry.Registry, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		reg:         reg,
		logger:      logger,
		dialTimeout: DefaultDialTimeout,
		connections: make(map[int]*Connection),
	}
}

// SetDialTimeout sets the connect-phase timeout applied to
// connections the pool creates from now on. Existing connections are
// unaffected.
func (p *Pool) SetDialTimeout(timeout time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if timeout > 0 {
		p.dialTimeout = timeout
	}
}

// DiscoverTargets lists the live targets the registry knows about,
// sorted by process ID. Scanning garbage-collects descriptors left
// behind by dead processes as a side effect.
func (p *Pool) DiscoverTargets() ([]registry.Descriptor, error) {
	return p.reg.Scan()
}

// ResolveTarget maps a caller-supplied target to a concrete process
// ID. A non-zero target is returned as-is. Zero means "the obvious
// target": it resolves only when exactly one live target exists.
func (p *Pool) ResolveTarget(target int) (int, error) {
	if target != 0 {
		return target, nil
	}
	live, err := p.reg.Scan()
	if err != nil {
		return 0, fmt.Errorf("scanning registry: %w", err)
	}
	switch len(live) {
	case 0:
		return 0, ErrNoTarget
	case 1:
		return live[0].ID, nil
	default:
		return 0, ErrAmbiguousTarget
	}
}

// GetConnection returns the pool's connection to the given target,
// creating it if this is the first request for that target. The
// lookup-or-create is atomic: two concurrent callers get the same
// instance.
func (p *Pool) GetConnection(target int) (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.connections[target]; ok {
		return conn, nil
	}

	live, err := p.reg.Scan()
	if err != nil {
		return nil, fmt.Errorf("scanning registry: %w", err)
	}
	for _, d := range live {
		if d.ID == target {
			conn := NewConnection(p.reg, d, p.logger)
			conn.SetDialTimeout(p.dialTimeout)
			p.connections[target] = conn
			return conn, nil
		}
	}

	// Not advertised, but descriptor publication is best-effort: a
	// live target whose publish failed (or whose descriptor was
	// removed) is still reachable through the channel naming
	// convention, which derives the socket from the id alone.
	if registry.ProcessAlive(target) {
		p.logger.Debug("target missing from registry, deriving channel from id", "target", target)
		conn := NewConnection(p.reg, registry.Descriptor{
			ID:          target,
			ChannelName: registry.ChannelName(target),
		}, p.logger)
		conn.SetDialTimeout(p.dialTimeout)
		p.connections[target] = conn
		return conn, nil
	}

	return nil, fmt.Errorf("target %d: %w", target, ErrNoTarget)
}

// Request resolves the target, obtains its connection, and sends one
// request. Target 0 auto-resolves when exactly one live target exists.
//
// After a transport fault, the target's liveness is checked: a dead
// target is evicted from the pool so a later request for the same ID
// fails fast at discovery instead of re-dialing a dead socket.
func (p *Pool) Request(ctx context.Context, target int, method string, params map[string]any) (json.RawMessage, error) {
	id, err := p.ResolveTarget(target)
	if err != nil {
		return nil, err
	}

	conn, err := p.GetConnection(id)
	if err != nil {
		return nil, err
	}

	data, err := conn.Send(ctx, method, params)
	var transport *TransportError
	if errors.As(err, &transport) && !registry.ProcessAlive(id) {
		p.logger.Info("evicting dead target after transport fault", "target", id)
		p.Evict(id)
	}
	return data, err
}

// Evict removes the target's connection from the pool and closes it.
// No-op when the pool holds no connection for the target.
func (p *Pool) Evict(target int) {
	p.mu.Lock()
	conn, ok := p.connections[target]
	delete(p.connections, target)
	p.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// EvictDead drops every pooled connection whose target process has
// exited, returning the evicted target IDs.
func (p *Pool) EvictDead() []int {
	p.mu.Lock()
	var dead []int
	for id, conn := range p.connections {
		if !registry.ProcessAlive(id) {
			conn.Close()
			delete(p.connections, id)
			dead = append(dead, id)
		}
	}
	p.mu.Unlock()
	return dead
}

// Close drops every pooled connection. The pool remains usable; the
// next request reconnects.
func (p *Pool) Close() {
	p.mu.Lock()
	connections := p.connections
	p.connections = make(map[int]*Connection)
	p.mu.Unlock()
	for _, conn := range connections {
		conn.Close()
	}
}
