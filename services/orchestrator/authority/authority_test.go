// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package authority

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "authority.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultOrderRanks(t *testing.T) {
	order := NewDefaultOrder()

	if got := order.Rank("official_documentation"); got != 0 {
		t.Errorf("official_documentation rank = %d, want 0", got)
	}
	if order.Rank("internal_wiki") >= order.Rank("chat_log") {
		t.Error("internal_wiki should outrank chat_log")
	}
	unknown := order.Rank("carrier_pigeon")
	for _, known := range order.Types() {
		if order.Rank(known) >= unknown {
			t.Errorf("known type %q must outrank unknown types", known)
		}
	}
}

func TestLoadOrder(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "authority_order:\n  - press_release\n  - web\n")

	order, err := LoadOrder(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := order.Rank("press_release"); got != 0 {
		t.Errorf("press_release rank = %d, want 0", got)
	}
	if got := order.Rank("official_documentation"); got != 2 {
		t.Errorf("types absent from the file must rank last, got %d", got)
	}
}

func TestLoadOrderErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		path string
	}{
		{name: "missing file", path: filepath.Join(dir, "nope.yaml")},
		{name: "malformed yaml", path: writeConfig(t, dir, "authority_order: [unclosed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadOrder(tt.path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestReloadFailureKeepsPreviousOrder(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "authority_order:\n  - press_release\n")
	order, err := LoadOrder(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := os.WriteFile(path, []byte("authority_order: []\n"), 0o600); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}
	if err := order.Reload(path); err == nil {
		t.Fatal("expected reload of an empty list to fail")
	}
	if got := order.Rank("press_release"); got != 0 {
		t.Errorf("previous order must survive a failed reload, rank = %d", got)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "authority_order:\n  - web\n")

	order, err := LoadOrder(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	watcher, err := NewWatcher(order, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer watcher.Close()

	if err := os.WriteFile(path, []byte("authority_order:\n  - press_release\n  - web\n"), 0o600); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for order.Rank("press_release") != 0 {
		select {
		case <-deadline:
			t.Fatal("watcher did not reload the order in time")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "authority_order:\n  - web\n")
	order, err := LoadOrder(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	watcher, err := NewWatcher(order, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := watcher.Close(); err != nil {
		t.Errorf("first close: %v", err)
	}
	if err := watcher.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
