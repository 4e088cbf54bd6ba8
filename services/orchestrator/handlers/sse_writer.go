// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EventWriter defines the contract for writing progress events to a client.
//
// # Description
//
// EventWriter abstracts event serialization and delivery so the query
// handler can target SSE and WebSocket transports with the same logic.
// Implementations handle the wire format internally.
//
// Each non-thinking event is automatically assigned:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: event timestamp
//   - Hash: SHA-256 hash of event content for integrity
//   - PrevHash: Hash of the previous chained event
//
// Thinking events get Id and CreatedAt but are excluded from the hash
// chain: they are legitimately droppable, and a dropped frame must not
// break chain verification for the frames that matter.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
type EventWriter interface {
	// WriteEvent writes a single event to the client.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteThinking writes a droppable progress frame.
	WriteThinking(content string) error

	// WriteToken writes one answer fragment. Fragments concatenated in
	// index order reproduce the complete answer content exactly.
	WriteToken(index int, content string) error

	// WriteSources writes the citation list once evidence is final.
	WriteSources(citations []datatypes.SourceCitation) error

	// WriteComplete writes the success terminal frame. Must be the last
	// frame of the stream.
	WriteComplete(sessionId string, answer *datatypes.FinalAnswer) error

	// WriteError writes the failure terminal frame. Must be the last frame
	// of the stream. The failure carries only the closed error code and a
	// client-safe message.
	WriteError(sessionId string, failure *datatypes.AgentFailure) error

	// WriteKeepAlive sends a transport-level ping that clients ignore.
	// Does not update the hash chain.
	WriteKeepAlive() error
}

// =============================================================================
// SSE Implementation
// =============================================================================

// sseWriter implements EventWriter for HTTP SSE responses.
//
// # Description
//
// Wraps an http.ResponseWriter to emit SSE-formatted events:
//
//	event: {type}
//	data: {json}
//
// The writer maintains a hash chain over non-thinking events so a client
// can detect dropped or reordered frames.
//
// # Thread Safety
//
// Thread-safe via mutex. Multiple goroutines can write events concurrently.
//
// # Limitations
//
//   - Requires an http.Flusher-compatible ResponseWriter
//   - Cannot be reused across requests
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

var _ EventWriter = (*sseWriter)(nil)

// NewSSEWriter creates an EventWriter for the given ResponseWriter.
//
// # Description
//
// The caller must set SSE headers via SetSSEHeaders before creating the
// writer.
//
// # Outputs
//
//   - EventWriter: Ready to write events.
//   - error: Non-nil if the ResponseWriter does not support flushing.
func NewSSEWriter(w http.ResponseWriter) (EventWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{
		writer:  w,
		flusher: flusher,
	}, nil
}

// WriteEvent writes a single SSE event to the response.
//
// # Description
//
// Populates event metadata, serializes to JSON, and writes in SSE format.
// Flushes immediately after writing. Thinking events skip the hash chain.
func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	if event.Type != datatypes.StreamEventThinking {
		event.PrevHash = w.prevHash
		event.Hash = computeEventHash(event)
		w.prevHash = event.Hash
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// computeEventHash computes the SHA-256 hash of event content.
//
// # Description
//
// Hashes the metadata and content fields, with citations JSON-serialized
// for consistent hashing. Called before the Hash field is set.
func computeEventHash(event datatypes.StreamEvent) string {
	citationsJSON := ""
	if len(event.Citations) > 0 {
		if data, err := json.Marshal(event.Citations); err == nil {
			citationsJSON = string(data)
		}
	}
	answerContent := ""
	if event.Answer != nil {
		answerContent = event.Answer.Content
	}
	failureCode := ""
	if event.Failure != nil {
		failureCode = string(event.Failure.ErrorCode)
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%d|%s|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt.UnixMilli(),
		event.Index,
		event.PrevHash,
		event.Content,
		answerContent,
		failureCode,
		event.SessionId,
		citationsJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// WriteThinking writes a droppable progress frame.
func (w *sseWriter) WriteThinking(content string) error {
	return w.WriteEvent(datatypes.ThinkingEvent(content))
}

// WriteToken writes one answer fragment.
func (w *sseWriter) WriteToken(index int, content string) error {
	return w.WriteEvent(datatypes.TokenEvent(index, content))
}

// WriteSources writes the citation list.
func (w *sseWriter) WriteSources(citations []datatypes.SourceCitation) error {
	return w.WriteEvent(datatypes.SourcesEvent(citations))
}

// WriteComplete writes the success terminal frame.
func (w *sseWriter) WriteComplete(sessionId string, answer *datatypes.FinalAnswer) error {
	return w.WriteEvent(datatypes.CompleteEvent(sessionId, answer))
}

// WriteError writes the failure terminal frame.
func (w *sseWriter) WriteError(sessionId string, failure *datatypes.AgentFailure) error {
	return w.WriteEvent(datatypes.ErrorEvent(sessionId, failure))
}

// WriteKeepAlive sends a comment line to keep the connection alive.
//
// # Description
//
// Writes an SSE comment (": ping") that clients ignore but which resets
// load balancer idle timers during long retrieval or synthesis phases.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// # Description
//
// Sets the required headers for Server-Sent Events:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
