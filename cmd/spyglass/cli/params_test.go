// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"reflect"
	"testing"
)

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]any
		wantErr bool
	}{
		{name: "empty", pairs: nil, want: nil},
		{
			name:  "string value",
			pairs: []string{"name=main-window"},
			want:  map[string]any{"name": "main-window"},
		},
		{
			name:  "typed values",
			pairs: []string{"depth=3", "recursive=true", "filter=null"},
			want:  map[string]any{"depth": float64(3), "recursive": true, "filter": nil},
		},
		{
			name:  "json object value",
			pairs: []string{`bounds={"w":800,"h":600}`},
			want:  map[string]any{"bounds": map[string]any{"w": float64(800), "h": float64(600)}},
		},
		{
			name:  "value containing equals",
			pairs: []string{"query=a=b"},
			want:  map[string]any{"query": "a=b"},
		},
		{name: "missing separator", pairs: []string{"depth"}, wantErr: true},
		{name: "empty key", pairs: []string{"=3"}, wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ParseParams(test.pairs)
			if test.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseParams: %v", err)
			}
			if !reflect.DeepEqual(got, test.want) {
				t.Errorf("got %v, want %v", got, test.want)
			}
		})
	}
}
