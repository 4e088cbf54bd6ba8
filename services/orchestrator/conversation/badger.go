// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
	"github.com/dgraph-io/badger/v4"
)

// sessionKeyPrefix namespaces session records inside the shared database.
const sessionKeyPrefix = "session/"

// BadgerConfig holds configuration for the embedded session database.
type BadgerConfig struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string

	// InMemory disables disk persistence. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. If nil, that output
	// is discarded.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults: durable, synchronous
// writes at the given path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:       path,
		SyncWrites: true,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerPersistence stores conversation state in an embedded BadgerDB.
//
// # Description
//
// Each session is one key (session/<id>) holding the JSON-encoded
// ConversationState. BadgerDB gives local, low-latency durability without an
// external database dependency.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB handles its own locking.
type BadgerPersistence struct {
	db *badger.DB
}

var _ Persistence = (*BadgerPersistence)(nil)

// OpenBadgerPersistence opens the session database, creating the directory
// if needed. The caller must Close() it on shutdown.
func OpenBadgerPersistence(cfg BadgerConfig) (*BadgerPersistence, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerPersistence{db: db}, nil
}

// Close closes the underlying database.
func (p *BadgerPersistence) Close() error {
	return p.db.Close()
}

func sessionKey(sessionId string) []byte {
	return []byte(sessionKeyPrefix + sessionId)
}

// SaveState writes one session record.
func (p *BadgerPersistence) SaveState(ctx context.Context, state *datatypes.ConversationState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", state.SessionId, err)
	}
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(state.SessionId), encoded)
	})
}

// LoadState reads one session record. A missing session returns
// ErrSessionNotFound.
func (p *BadgerPersistence) LoadState(ctx context.Context, sessionId string) (*datatypes.ConversationState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var state datatypes.ConversationState
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sessionId))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionId, err)
	}
	return &state, nil
}

// DeleteState removes one session record. Deleting an absent session is a
// no-op.
func (p *BadgerPersistence) DeleteState(ctx context.Context, sessionId string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(sessionId))
	})
}

// ListStates returns every persisted session.
func (p *BadgerPersistence) ListStates(ctx context.Context) ([]*datatypes.ConversationState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var states []*datatypes.ConversationState
	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var state datatypes.ConversationState
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &state)
			})
			if err != nil {
				slog.Warn("Skipping undecodable session record",
					"key", string(it.Item().Key()), "error", err)
				continue
			}
			states = append(states, &state)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return states, nil
}
