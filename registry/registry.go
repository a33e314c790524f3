// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry implements file-based target discovery.
//
// Every running application that embeds the Spyglass server advertises
// itself by writing a descriptor file into a well-known shared
// directory, one file per target id. Clients enumerate the directory
// to find live targets without any prior coordination. There is no
// cross-process locking: each descriptor is an independently atomic
// file (written to a temp name and renamed into place), and liveness
// is verified per read.
//
// A descriptor that outlives its process — the host crashed before
// removing it — is garbage-collected by the next reader that notices
// the process is gone.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// Descriptor is a target's advertisement record. Created by the
// embedded server at startup, deleted at clean shutdown, and owned by
// the server process; clients treat it as read-only.
type Descriptor struct {
	// ID identifies the target. By convention this is the target's
	// process id, which makes the channel name derivable without a
	// registry read.
	ID int `json:"id"`

	// ChannelName names the local byte stream the target listens on.
	// The socket path is derived from it via Registry.SocketPath.
	ChannelName string `json:"channelName"`

	// ProcessName is the target's display name for humans.
	ProcessName string `json:"processName"`

	// StartTime is when the target's server started, ISO-8601.
	StartTime time.Time `json:"startTime"`

	// ProtocolVersion is the semver wire protocol version the target
	// speaks.
	ProtocolVersion string `json:"protocolVersion"`
}

// descriptorSuffix is the filename suffix for descriptor files.
// Anything else in the directory (sockets, temp files) is ignored by
// Scan.
const descriptorSuffix = ".json"

// DefaultDir returns the platform default registry directory. Prefers
// XDG_RUNTIME_DIR (cleared on logout, per-user permissions); falls
// back to a per-user directory under the system temp dir. Paths stay
// short because channel sockets live in the same directory and unix
// socket paths are limited to 108 bytes.
func DefaultDir() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "spyglass")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("spyglass-%d", os.Getuid()))
}

// ChannelName returns the deterministic channel name for a target id.
// Clients that already know the id can derive the channel without
// reading the registry.
func ChannelName(id int) string {
	return fmt.Sprintf("spyglass-%d", id)
}

// Registry reads and writes descriptor files in one shared directory.
type Registry struct {
	dir    string
	logger *slog.Logger
}

// New creates a Registry over the given directory. An empty dir
// selects DefaultDir.
func New(dir string, logger *slog.Logger) *Registry {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Registry{dir: dir, logger: logger}
}

// Dir returns the registry directory.
func (r *Registry) Dir() string {
	return r.dir
}

// SocketPath returns the unix socket path for a channel name.
func (r *Registry) SocketPath(channelName string) string {
	return filepath.Join(r.dir, channelName+".sock")
}

func (r *Registry) descriptorPath(id int) string {
	return filepath.Join(r.dir, fmt.Sprintf("%d%s", id, descriptorSuffix))
}

// Publish atomically creates or replaces the descriptor for d.ID. The
// file appears complete or not at all: it is written to a temp name in
// the same directory and renamed into place, so concurrent Scan calls
// never observe a partial write.
func (r *Registry) Publish(d Descriptor) error {
	if d.ID <= 0 {
		return fmt.Errorf("descriptor id must be positive, got %d", d.ID)
	}
	if d.ChannelName == "" {
		return fmt.Errorf("descriptor for target %d has no channel name", d.ID)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("creating registry directory %s: %w", r.dir, err)
	}

	encoded, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding descriptor for target %d: %w", d.ID, err)
	}

	tmp, err := os.CreateTemp(r.dir, ".descriptor-*")
	if err != nil {
		return fmt.Errorf("creating temp descriptor: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing descriptor for target %d: %w", d.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp descriptor: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting descriptor permissions: %w", err)
	}
	if err := os.Rename(tmpName, r.descriptorPath(d.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publishing descriptor for target %d: %w", d.ID, err)
	}
	return nil
}

// Remove deletes the descriptor for the given target id. Removing a
// descriptor that does not exist is not an error.
func (r *Registry) Remove(id int) error {
	if err := os.Remove(r.descriptorPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing descriptor for target %d: %w", id, err)
	}
	return nil
}

// Scan enumerates descriptor files and returns the verified-live
// descriptors, sorted by id. Corrupt or partially-written files are
// skipped. Descriptors whose process is no longer running are deleted
// (read-triggered garbage collection) along with their orphaned
// socket, and excluded from the result.
func (r *Registry) Scan() ([]Descriptor, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading registry directory %s: %w", r.dir, err)
	}

	var live []Descriptor
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, descriptorSuffix) || strings.HasPrefix(name, ".") {
			continue
		}

		path := filepath.Join(r.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			// Raced with a writer or a concurrent GC; skip.
			continue
		}

		var descriptor Descriptor
		if err := json.Unmarshal(data, &descriptor); err != nil || descriptor.ID <= 0 {
			r.logger.Debug("skipping corrupt descriptor", "file", name, "error", err)
			continue
		}

		if !ProcessAlive(descriptor.ID) {
			r.logger.Info("garbage collecting stale descriptor",
				"target", descriptor.ID,
				"process", descriptor.ProcessName,
			)
			os.Remove(path)
			if descriptor.ChannelName != "" {
				os.Remove(r.SocketPath(descriptor.ChannelName))
			}
			continue
		}

		live = append(live, descriptor)
	}

	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })
	return live, nil
}

// ProcessAlive reports whether the process with the given pid is
// running. Signal 0 performs the existence check without delivering
// anything; EPERM means the process exists but belongs to another
// user, which still counts as alive.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// os.FindProcess on Unix always succeeds (it just wraps the pid).
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
