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

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// =============================================================================
// Query Request
// =============================================================================

// QueryRequest is the payload for POST /v1/query.
//
// SessionId is optional; the handler mints one when absent so every request
// belongs to a session. Persona is free-form on the wire and normalized via
// NormalizePersona.
type QueryRequest struct {
	Text      string `json:"text" validate:"required,min=1,max=8192"`
	Persona   string `json:"persona" validate:"omitempty,max=64"`
	Stream    bool   `json:"stream"`
	SessionId string `json:"session_id" validate:"omitempty,max=128"`
}

// Validate applies the struct's validation tags.
func (r *QueryRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid query request: %w", err)
	}
	return nil
}

// =============================================================================
// Query Response
// =============================================================================

// QueryResponse is the synchronous (non-streaming) response shape.
type QueryResponse struct {
	SessionId        string       `json:"session_id"`
	Answer           *FinalAnswer `json:"answer"`
	Plan             *Plan        `json:"plan,omitempty"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
}

// ErrorResponse is the client-safe error payload. Message is sanitized
// before it gets here; internals never ride along.
type ErrorResponse struct {
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	SessionId string    `json:"session_id,omitempty"`
}

// =============================================================================
// Index Status
// =============================================================================

// IndexStatusResponse reports whether the evidence store has anything in it.
// Served read-only so operators and the CLI can tell an empty index apart
// from a retrieval problem.
type IndexStatusResponse struct {
	HasContent bool      `json:"has_content"`
	ChunkCount int64     `json:"chunk_count"`
	ClassName  string    `json:"class_name"`
	CheckedAt  time.Time `json:"checked_at"`
}

// =============================================================================
// Session Administration
// =============================================================================

// SessionSummary is one row in the GET /v1/sessions listing.
type SessionSummary struct {
	SessionId    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionHistoryResponse is the GET /v1/sessions/:id/history payload.
type SessionHistoryResponse struct {
	SessionId string    `json:"session_id"`
	History   []Message `json:"history"`
}
