// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// =============================================================================
// Stream Events
// =============================================================================

// StreamEventType discriminates the progress event union.
type StreamEventType string

const (
	// StreamEventThinking carries a progress description. Droppable under
	// backpressure; clients must not rely on receiving every one.
	StreamEventThinking StreamEventType = "thinking"

	// StreamEventToken carries an answer fragment. Concatenating every token
	// event in order reproduces the complete event's content exactly.
	StreamEventToken StreamEventType = "token"

	// StreamEventSources carries the citation list once evidence is final.
	StreamEventSources StreamEventType = "sources"

	// StreamEventComplete is the success terminal event.
	StreamEventComplete StreamEventType = "complete"

	// StreamEventError is the failure terminal event.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one frame of the progress stream, shared by the SSE and
// WebSocket transports.
//
// # Description
//
// Exactly one terminal event (complete or error) is emitted per request,
// always last. Events carry a hash chained over the previous event's hash
// so clients can detect dropped or reordered frames; thinking events are
// excluded from the chain because they are legitimately droppable.
type StreamEvent struct {
	Type      StreamEventType  `json:"type"`
	Id        string           `json:"id,omitempty"`
	Index     int              `json:"index,omitempty"`
	Content   string           `json:"content,omitempty"`
	Citations []SourceCitation `json:"citations,omitempty"`
	Answer    *FinalAnswer     `json:"answer,omitempty"`
	Failure   *AgentFailure    `json:"failure,omitempty"`
	SessionId string           `json:"session_id,omitempty"`
	Hash      string           `json:"hash,omitempty"`
	PrevHash  string           `json:"prev_hash,omitempty"`
	CreatedAt time.Time        `json:"created_at,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e *StreamEvent) Terminal() bool {
	return e.Type == StreamEventComplete || e.Type == StreamEventError
}

// ThinkingEvent builds a droppable progress frame.
func ThinkingEvent(content string) StreamEvent {
	return StreamEvent{Type: StreamEventThinking, Content: content, CreatedAt: time.Now().UTC()}
}

// TokenEvent builds an answer-fragment frame.
func TokenEvent(index int, content string) StreamEvent {
	return StreamEvent{Type: StreamEventToken, Index: index, Content: content, CreatedAt: time.Now().UTC()}
}

// SourcesEvent builds the citation frame.
func SourcesEvent(citations []SourceCitation) StreamEvent {
	return StreamEvent{Type: StreamEventSources, Citations: citations, CreatedAt: time.Now().UTC()}
}

// CompleteEvent builds the success terminal frame.
func CompleteEvent(sessionId string, answer *FinalAnswer) StreamEvent {
	return StreamEvent{Type: StreamEventComplete, SessionId: sessionId, Answer: answer, CreatedAt: time.Now().UTC()}
}

// ErrorEvent builds the failure terminal frame.
func ErrorEvent(sessionId string, failure *AgentFailure) StreamEvent {
	return StreamEvent{Type: StreamEventError, SessionId: sessionId, Failure: failure, CreatedAt: time.Now().UTC()}
}
