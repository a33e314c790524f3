// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spyglass-foundation/spyglass/wire"
)

// deadPID is far beyond the kernel's default pid_max, so no process
// ever has it.
const deadPID = 1 << 30

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func liveDescriptor(id int) Descriptor {
	return Descriptor{
		ID:              id,
		ChannelName:     ChannelName(id),
		ProcessName:     "test-app",
		StartTime:       time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC),
		ProtocolVersion: wire.ProtocolVersion,
	}
}

func TestPublishScanRemove(t *testing.T) {
	r := New(t.TempDir(), testLogger())

	descriptor := liveDescriptor(os.Getpid())
	if err := r.Publish(descriptor); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	live, err := r.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("Scan returned %d descriptors, want 1", len(live))
	}
	if live[0] != descriptor {
		t.Errorf("Scan returned %+v, want %+v", live[0], descriptor)
	}

	if err := r.Remove(descriptor.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	live, err = r.Scan()
	if err != nil {
		t.Fatalf("Scan after Remove: %v", err)
	}
	if len(live) != 0 {
		t.Errorf("Scan after Remove returned %d descriptors, want 0", len(live))
	}

	// Removing again is not an error.
	if err := r.Remove(descriptor.ID); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}

func TestPublishReplaces(t *testing.T) {
	r := New(t.TempDir(), testLogger())

	descriptor := liveDescriptor(os.Getpid())
	descriptor.ProcessName = "before"
	if err := r.Publish(descriptor); err != nil {
		t.Fatalf("first Publish: %v", err)
	}
	descriptor.ProcessName = "after"
	if err := r.Publish(descriptor); err != nil {
		t.Fatalf("second Publish: %v", err)
	}

	live, err := r.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("Scan returned %d descriptors, want 1", len(live))
	}
	if live[0].ProcessName != "after" {
		t.Errorf("ProcessName = %q, want %q", live[0].ProcessName, "after")
	}
}

func TestPublishRejectsInvalid(t *testing.T) {
	r := New(t.TempDir(), testLogger())
	if err := r.Publish(Descriptor{ID: 0, ChannelName: "x"}); err == nil {
		t.Error("expected error for zero id")
	}
	if err := r.Publish(Descriptor{ID: 1}); err == nil {
		t.Error("expected error for empty channel name")
	}
}

func TestScanSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, testLogger())

	if err := r.Publish(liveDescriptor(os.Getpid())); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// A truncated write and a non-JSON file.
	if err := os.WriteFile(filepath.Join(dir, "12345.json"), []byte(`{"id": 123`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "67890.json"), []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	live, err := r.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(live) != 1 || live[0].ID != os.Getpid() {
		t.Errorf("Scan = %+v, want only the live descriptor", live)
	}
}

func TestScanGarbageCollectsStale(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, testLogger())

	if err := r.Publish(liveDescriptor(os.Getpid())); err != nil {
		t.Fatalf("Publish live: %v", err)
	}
	stale := liveDescriptor(deadPID)
	if err := r.Publish(stale); err != nil {
		t.Fatalf("Publish stale: %v", err)
	}
	// Orphaned socket file left behind by the dead process.
	stalePath := r.SocketPath(stale.ChannelName)
	if err := os.WriteFile(stalePath, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	live, err := r.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(live) != 1 || live[0].ID != os.Getpid() {
		t.Fatalf("Scan = %+v, want only the live descriptor", live)
	}

	if _, err := os.Stat(filepath.Join(dir, "1073741824.json")); !os.IsNotExist(err) {
		t.Error("stale descriptor file was not deleted")
	}
	if _, err := os.Stat(stalePath); !os.IsNotExist(err) {
		t.Error("orphaned socket file was not deleted")
	}
}

func TestScanMissingDirectory(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "does-not-exist"), testLogger())
	live, err := r.Scan()
	if err != nil {
		t.Fatalf("Scan on missing directory: %v", err)
	}
	if len(live) != 0 {
		t.Errorf("Scan = %+v, want empty", live)
	}
}

func TestScanSortsByID(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, testLogger())

	// Two descriptors for the same live process under different ids
	// is not a real-world state, so fake liveness by using our own pid
	// for one and pid 1 (init, always running) for the other.
	first := liveDescriptor(1)
	if err := r.Publish(first); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	second := liveDescriptor(os.Getpid())
	if err := r.Publish(second); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	live, err := r.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("Scan returned %d descriptors, want 2", len(live))
	}
	if live[0].ID != 1 || live[1].ID != os.Getpid() {
		t.Errorf("Scan order = [%d, %d], want ascending", live[0].ID, live[1].ID)
	}
}

func TestDescriptorWireFormat(t *testing.T) {
	encoded, err := json.Marshal(liveDescriptor(4242))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, key := range []string{`"id"`, `"channelName"`, `"processName"`, `"startTime"`, `"protocolVersion"`} {
		if !strings.Contains(string(encoded), key) {
			t.Errorf("descriptor JSON missing %s: %s", key, encoded)
		}
	}
	// startTime must be ISO-8601.
	if !strings.Contains(string(encoded), "2026-02-01T09:30:00Z") {
		t.Errorf("startTime not ISO-8601: %s", encoded)
	}
}

func TestChannelName(t *testing.T) {
	if got := ChannelName(987); got != "spyglass-987" {
		t.Errorf("ChannelName(987) = %q", got)
	}
}

func TestProcessAlive(t *testing.T) {
	if !ProcessAlive(os.Getpid()) {
		t.Error("our own process should be alive")
	}
	if ProcessAlive(deadPID) {
		t.Error("impossible pid should not be alive")
	}
	if ProcessAlive(0) || ProcessAlive(-1) {
		t.Error("non-positive pids should not be alive")
	}
}
