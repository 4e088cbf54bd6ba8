// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package capabilities defines the contracts between the executor and the
// downstream agents it dispatches plan steps to.
//
// # Description
//
// Every capability is an interface so the executor can be exercised with
// deterministic doubles in tests and so agent implementations can be swapped
// without touching the state machine. Implementations report problems as
// AgentFailure values (wrapped in AgentFailureError); a bare error from a
// capability is treated as non-recoverable internal breakage.
package capabilities

import (
	"context"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
)

// =============================================================================
// Retrieval
// =============================================================================

// RetrievalQuery is the parameter set for one evidence lookup.
type RetrievalQuery struct {
	Text              string
	TopK              int
	MinRelevanceScore float64
	Filters           map[string]string
}

// Retriever fetches evidence chunks for a sub-question.
//
// An empty result above the threshold is a successful outcome, not a
// failure; the executor decides whether to degrade or replan.
type Retriever interface {
	Query(ctx context.Context, query RetrievalQuery) ([]datatypes.RetrievedContext, error)
}

// =============================================================================
// Synthesis
// =============================================================================

// SynthesisRequest carries everything the synthesizer needs for one attempt.
type SynthesisRequest struct {
	Query           string
	Evidence        []datatypes.RetrievedContext
	Persona         datatypes.Persona
	FormattingHints map[string]string
}

// Synthesizer produces a cited answer from evidence.
type Synthesizer interface {
	Generate(ctx context.Context, req SynthesisRequest) (*datatypes.FinalAnswer, error)
}

// =============================================================================
// Safety
// =============================================================================

// SafetyCheckType distinguishes the two filter passes.
type SafetyCheckType string

const (
	// SafetyCheckInput screens the user's request before planning begins.
	SafetyCheckInput SafetyCheckType = "input"

	// SafetyCheckOutput screens the final answer before release.
	SafetyCheckOutput SafetyCheckType = "output"
)

// SafetyVerdict is the filter's decision on one piece of content.
//
// When IsSafe is false on an input check, the request halts before any
// planning. On an output check, SanitizedContent (when non-empty) replaces
// the answer text instead of failing the request.
type SafetyVerdict struct {
	IsSafe           bool   `json:"is_safe"`
	SanitizedContent string `json:"sanitized_content,omitempty"`
	RiskCategory     string `json:"risk_category,omitempty"`
	Reasoning        string `json:"reasoning,omitempty"`
}

// SafetyFilter screens content at the request boundary.
type SafetyFilter interface {
	Enforce(ctx context.Context, content string, checkType SafetyCheckType) (*SafetyVerdict, error)
}
