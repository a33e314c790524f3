// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseParams converts repeated "key=value" pairs into a request
// parameter map. Values that parse as JSON keep their JSON type
// (numbers, booleans, null, arrays, objects); anything else is passed
// through as a string, so `--param name=main-window` does not require
// quoting.
func ParseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", pair)
		}
		var typed any
		if err := json.Unmarshal([]byte(value), &typed); err == nil {
			params[key] = typed
		} else {
			params[key] = value
		}
	}
	return params, nil
}
