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

import "strings"

// =============================================================================
// Personas
// =============================================================================

// Persona selects the voice the synthesizer writes in.
type Persona string

const (
	PersonaTechnical Persona = "Technical"
	PersonaExecutive Persona = "Executive"
	PersonaGeneral   Persona = "General"
)

// NormalizePersona maps arbitrary client input onto a known persona,
// defaulting to General.
func NormalizePersona(raw string) Persona {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "technical":
		return PersonaTechnical
	case "executive":
		return PersonaExecutive
	default:
		return PersonaGeneral
	}
}

// =============================================================================
// FinalAnswer
// =============================================================================

// InsufficientInfoContent is the degraded-path answer used when no evidence
// clears the relevance threshold. It is a successful terminal response, not
// an error, and always ships with zero citations.
const InsufficientInfoContent = "I don't have enough information in the knowledge base to answer that question."

// FinalAnswer is the synthesizer's product: a cited answer plus the
// presentation metadata the client renders alongside it.
type FinalAnswer struct {
	Content    string           `json:"content"`
	Citations  []SourceCitation `json:"citations"`
	Tone       string           `json:"tone"`
	Confidence float64          `json:"confidence"`
	FollowUps  []string         `json:"follow_ups,omitempty"`
}

// IsInsufficiencyStatement reports whether the answer is an honest
// "I don't know". Such answers are accepted without grounding checks,
// since there are no claims to ground.
func (a *FinalAnswer) IsInsufficiencyStatement() bool {
	if len(a.Citations) > 0 {
		return false
	}
	lowered := strings.ToLower(a.Content)
	for _, marker := range []string{
		"don't have enough information",
		"do not have enough information",
		"not enough information",
		"don't know",
		"do not know",
		"cannot answer",
		"unable to answer",
	} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// InsufficientAnswer builds the canonical degraded-path answer.
func InsufficientAnswer() *FinalAnswer {
	return &FinalAnswer{
		Content:    InsufficientInfoContent,
		Citations:  []SourceCitation{},
		Tone:       "neutral",
		Confidence: 0.0,
	}
}
