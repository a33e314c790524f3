// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

// Spyglass-mock-target is a stand-in for a real application embedding
// the Spyglass diagnostics server. It advertises itself in the
// registry, answers ping, and exposes a few deliberately simple
// methods so the CLI and integration tests have something live to
// talk to:
//
//   - echo: returns the request parameters unchanged
//   - state-read: returns a fake application state snapshot
//   - slow: sleeps for the requested number of milliseconds before
//     answering, for exercising client timeouts
//   - fail: always returns a handler error
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spyglass-foundation/spyglass/lib/version"
	"github.com/spyglass-foundation/spyglass/registry"
	"github.com/spyglass-foundation/spyglass/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		registryDir string
		processName string
		channelName string
		showVersion bool
	)
	flag.StringVar(&registryDir, "registry-dir", "", "registry directory (default: the platform registry)")
	flag.StringVar(&processName, "process-name", "spyglass-mock-target", "display name advertised in the registry")
	flag.StringVar(&channelName, "channel-name", "", "channel name (default: derived from pid)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("spyglass-mock-target %s\n", version.Full())
		return nil
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(registryDir, logger)
	s := server.New(reg, processName, channelName, logger)

	s.Handle("echo", func(ctx context.Context, params map[string]any) (any, error) {
		return params, nil
	})
	s.Handle("state-read", func(ctx context.Context, params map[string]any) (any, error) {
		return map[string]any{
			"screen":  "home",
			"widgets": 42,
			"uptime":  time.Since(startTime).Round(time.Second).String(),
		}, nil
	})
	s.Handle("slow", func(ctx context.Context, params map[string]any) (any, error) {
		millis, ok := params["millis"].(float64)
		if !ok {
			return nil, fmt.Errorf("missing numeric parameter %q", "millis")
		}
		select {
		case <-time.After(time.Duration(millis) * time.Millisecond):
			return map[string]any{"slept": millis}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	s.Handle("fail", func(ctx context.Context, params map[string]any) (any, error) {
		return nil, fmt.Errorf("mock failure")
	})

	if err := s.Start(ctx); err != nil {
		return err
	}
	logger.Info("mock target running",
		"target", s.TargetID(),
		"socket", s.SocketPath(),
		"registry", reg.Dir())

	<-ctx.Done()
	s.Stop()
	return nil
}

var startTime = time.Now()
