// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Spyglass packages.
package testutil
