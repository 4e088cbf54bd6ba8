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
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode is the closed set of failure categories agents may report.
//
// The set is deliberately closed: callers switch on these values to decide
// retry behavior and client-facing messaging, so new codes require a
// corresponding routing decision in the executor.
type ErrorCode string

const (
	// ErrCodeSafetyRejection indicates the safety filter blocked the content.
	ErrCodeSafetyRejection ErrorCode = "safety-rejection"

	// ErrCodeSourceNotFound indicates a referenced source does not exist.
	ErrCodeSourceNotFound ErrorCode = "source-not-found"

	// ErrCodeSourceAuthFailure indicates credentials for a source were rejected.
	ErrCodeSourceAuthFailure ErrorCode = "source-auth-failure"

	// ErrCodeUnsupportedInputFormat indicates input that no parser can handle.
	ErrCodeUnsupportedInputFormat ErrorCode = "unsupported-input-format"

	// ErrCodeNoRelevantEvidence indicates retrieval found nothing above threshold.
	ErrCodeNoRelevantEvidence ErrorCode = "no-relevant-evidence"

	// ErrCodeGroundingFailure indicates synthesis could not be grounded in evidence.
	ErrCodeGroundingFailure ErrorCode = "grounding-failure"

	// ErrCodeTimeout indicates a capability call exceeded its deadline.
	ErrCodeTimeout ErrorCode = "timeout"

	// ErrCodeRecursionLimitExceeded indicates the replanning ceiling was hit.
	ErrCodeRecursionLimitExceeded ErrorCode = "recursion-limit-exceeded"

	// ErrCodeInternal indicates an unexpected infrastructure failure.
	ErrCodeInternal ErrorCode = "internal"
)

// Valid reports whether the code is a member of the closed set.
func (c ErrorCode) Valid() bool {
	switch c {
	case ErrCodeSafetyRejection, ErrCodeSourceNotFound, ErrCodeSourceAuthFailure,
		ErrCodeUnsupportedInputFormat, ErrCodeNoRelevantEvidence,
		ErrCodeGroundingFailure, ErrCodeTimeout,
		ErrCodeRecursionLimitExceeded, ErrCodeInternal:
		return true
	}
	return false
}

// =============================================================================
// AgentFailure
// =============================================================================

// AgentFailure is the structured failure report every capability returns
// instead of a bare error.
//
// # Description
//
// AgentFailure carries enough context for the executor to decide between
// retrying, replanning, and failing the request, and for handlers to build
// a client-safe error payload without leaking internals.
//
// # Fields
//
//   - OriginId: Identifier of the component that produced the failure
//     (e.g. "memory.retriever", "tailor.synthesizer").
//   - ErrorCode: One of the closed ErrorCode values.
//   - Message: Human-readable description. Never shown verbatim to clients.
//   - Recoverable: Whether a retry of the same operation could succeed.
//   - Details: Optional structured context (chunk ids, limits, attempt counts).
//   - Timestamp: When the failure occurred.
type AgentFailure struct {
	OriginId    string         `json:"origin_id"`
	ErrorCode   ErrorCode      `json:"error_code"`
	Message     string         `json:"message"`
	Recoverable bool           `json:"recoverable"`
	Details     map[string]any `json:"details,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewAgentFailure builds a failure report stamped with the current time.
func NewAgentFailure(originId string, code ErrorCode, message string, recoverable bool) *AgentFailure {
	return &AgentFailure{
		OriginId:    originId,
		ErrorCode:   code,
		Message:     message,
		Recoverable: recoverable,
		Timestamp:   time.Now().UTC(),
	}
}

// WithDetails attaches structured context and returns the same failure.
func (f *AgentFailure) WithDetails(details map[string]any) *AgentFailure {
	f.Details = details
	return f
}

// =============================================================================
// AgentFailureError
// =============================================================================

// AgentFailureError adapts an AgentFailure to the error interface so failures
// can travel through ordinary error returns and errors.As.
type AgentFailureError struct {
	Failure *AgentFailure
}

func (e *AgentFailureError) Error() string {
	return fmt.Sprintf("%s [%s]: %s", e.Failure.OriginId, e.Failure.ErrorCode, e.Failure.Message)
}

// NewAgentFailureError wraps a failure report as an error.
func NewAgentFailureError(failure *AgentFailure) *AgentFailureError {
	return &AgentFailureError{Failure: failure}
}

// AsAgentFailure extracts the failure report from an error chain.
//
// Returns nil and false when the error does not carry an AgentFailure, in
// which case the caller should treat it as an unclassified internal error.
func AsAgentFailure(err error) (*AgentFailure, bool) {
	var afe *AgentFailureError
	if errors.As(err, &afe) {
		return afe.Failure, true
	}
	return nil, false
}

// FailureFromError normalizes any error into an AgentFailure.
//
// Errors that already carry a failure report pass through unchanged.
// Context deadline errors become recoverable timeout failures. Everything
// else becomes a non-recoverable internal failure attributed to originId.
func FailureFromError(originId string, err error) *AgentFailure {
	if failure, ok := AsAgentFailure(err); ok {
		return failure
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewAgentFailure(originId, ErrCodeTimeout, err.Error(), true)
	}
	return NewAgentFailure(originId, ErrCodeInternal, err.Error(), false)
}
