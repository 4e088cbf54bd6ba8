// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verifier checks that a synthesized answer is grounded in the
// evidence it claims to cite.
//
// The verifier is pure: same answer and evidence always produce the same
// verdict, with no I/O and no model calls. That property is what makes the
// executor's replanning loop testable.
package verifier

import (
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
)

// RejectReason is the closed set of grounds for rejecting an answer.
type RejectReason string

const (
	// RejectUncitedClaim: the answer asserts content but carries no citations.
	RejectUncitedClaim RejectReason = "uncited_claim"

	// RejectLowRelevanceOnly: every cited chunk sits below the acceptance
	// relevance bar.
	RejectLowRelevanceOnly RejectReason = "low_relevance_evidence_only"

	// RejectCitationMismatch: a citation references a chunk that is not in
	// the evidence set.
	RejectCitationMismatch RejectReason = "citation_evidence_mismatch"
)

// MinCitedRelevance is the relevance floor a cited chunk must clear for the
// answer to count as meaningfully grounded.
const MinCitedRelevance = 0.5

// Verdict is the verifier's decision.
type Verdict struct {
	Accepted bool
	Reason   RejectReason
	Detail   string
}

// Accept is the verdict for a grounded answer.
func Accept() Verdict {
	return Verdict{Accepted: true}
}

// Verifier evaluates answers against evidence.
type Verifier struct{}

// New builds a Verifier.
func New() *Verifier {
	return &Verifier{}
}

// Verify checks the grounding of an answer.
//
// # Description
//
// Decision order:
//
//  1. An honest insufficiency statement is accepted unconditionally; there
//     are no claims to ground.
//  2. Any citation pointing outside the evidence set rejects with
//     citation_evidence_mismatch.
//  3. No citations at all rejects with uncited_claim.
//  4. Citations all below the relevance bar reject with
//     low_relevance_evidence_only.
//
// An accepted verdict therefore guarantees every citation resolves to a
// supplied evidence chunk.
func (v *Verifier) Verify(answer *datatypes.FinalAnswer, evidence []datatypes.RetrievedContext) Verdict {
	if answer.IsInsufficiencyStatement() {
		return Accept()
	}

	byChunk := make(map[string]float64, len(evidence))
	for _, chunk := range evidence {
		byChunk[chunk.ChunkId] = chunk.RelevanceScore
	}

	for _, citation := range answer.Citations {
		if _, ok := byChunk[citation.ChunkId]; !ok {
			return Verdict{
				Accepted: false,
				Reason:   RejectCitationMismatch,
				Detail:   "citation references chunk " + citation.ChunkId + " which is not in the evidence set",
			}
		}
	}

	if len(answer.Citations) == 0 {
		return Verdict{
			Accepted: false,
			Reason:   RejectUncitedClaim,
			Detail:   "answer asserts content without citing any evidence",
		}
	}

	anyRelevant := false
	for _, citation := range answer.Citations {
		if byChunk[citation.ChunkId] >= MinCitedRelevance {
			anyRelevant = true
			break
		}
	}
	if !anyRelevant {
		return Verdict{
			Accepted: false,
			Reason:   RejectLowRelevanceOnly,
			Detail:   "no cited chunk clears the relevance bar",
		}
	}

	return Accept()
}
