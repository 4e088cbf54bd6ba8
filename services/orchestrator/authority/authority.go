// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package authority holds the configured precedence of source types used
// when equally relevant evidence disagrees.
//
// The ordering is configuration, not code: deployments rank their own
// source taxonomy in a YAML file and can change it without a restart.
package authority

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultOrder applies when no configuration file is provided.
var DefaultOrder = []string{
	"official_documentation",
	"internal_wiki",
	"web",
	"chat_log",
}

// orderFile is the YAML shape of the configuration.
type orderFile struct {
	AuthorityOrder []string `yaml:"authority_order"`
}

// Order is a thread-safe view of the source-type precedence list.
//
// # Thread Safety
//
// Rank and Types may be called concurrently with Reload; a reload swaps the
// whole index under a write lock.
type Order struct {
	mu    sync.RWMutex
	types []string
	index map[string]int
}

// NewOrder builds an Order from an explicit list.
func NewOrder(types []string) *Order {
	o := &Order{}
	o.set(types)
	return o
}

// NewDefaultOrder builds an Order with the built-in precedence.
func NewDefaultOrder() *Order {
	return NewOrder(DefaultOrder)
}

// LoadOrder reads the precedence list from a YAML file.
func LoadOrder(path string) (*Order, error) {
	o := NewDefaultOrder()
	if err := o.Reload(path); err != nil {
		return nil, err
	}
	return o, nil
}

// Reload replaces the precedence list from the file. On failure the
// previous list stays in effect.
func (o *Order) Reload(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read the authority config %s: %w", path, err)
	}
	var parsed orderFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("failed to parse the authority config %s: %w", path, err)
	}
	if len(parsed.AuthorityOrder) == 0 {
		return fmt.Errorf("authority config %s lists no source types", path)
	}
	o.set(parsed.AuthorityOrder)
	slog.Info("Loaded source authority order", "path", path, "types", parsed.AuthorityOrder)
	return nil
}

func (o *Order) set(types []string) {
	index := make(map[string]int, len(types))
	for i, t := range types {
		index[t] = i
	}
	o.mu.Lock()
	o.types = append([]string(nil), types...)
	o.index = index
	o.mu.Unlock()
}

// Rank returns the precedence position of a source type. Unknown types rank
// after every configured one, so they never outrank configured sources.
func (o *Order) Rank(sourceType string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if rank, ok := o.index[sourceType]; ok {
		return rank
	}
	return len(o.types)
}

// Types returns a copy of the configured precedence list.
func (o *Order) Types() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.types...)
}
