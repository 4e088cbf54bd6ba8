// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tailor implements the synthesis agent: it turns ordered evidence
// into a persona-voiced, citation-marked answer.
package tailor

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianAnswers/services/llm"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/capabilities"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.answers.tailor")

// OriginID identifies this agent in failure reports.
const OriginID = "tailor.synthesizer"

// citationMarker matches the bracketed context indexes the model emits.
var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

const (
	synthesisTemperature = float32(0.2)
	synthesisMaxTokens   = 2048
	snippetMaxLen        = 150
	confidenceFloor      = 0.35
	confidenceCeiling    = 0.98
	maxFollowUps         = 3
)

// Synthesizer generates cited answers via the configured LLM backend.
//
// # Thread Safety
//
// Safe for concurrent use as long as the LLM client is.
type Synthesizer struct {
	llmClient llm.LLMClient
	ranker    AuthorityRanker
}

var _ capabilities.Synthesizer = (*Synthesizer)(nil)

// NewSynthesizer builds a Synthesizer over an LLM client and the authority
// ordering used for conflict resolution.
func NewSynthesizer(llmClient llm.LLMClient, ranker AuthorityRanker) *Synthesizer {
	return &Synthesizer{llmClient: llmClient, ranker: ranker}
}

// Generate implements capabilities.Synthesizer.
//
// Evidence is deduplicated and ordered before prompting, so the model's
// "prefer earlier entries" instruction applies the conflict policy. With no
// evidence at all the canonical insufficiency answer is returned without
// calling the model.
func (s *Synthesizer) Generate(ctx context.Context, req capabilities.SynthesisRequest) (*datatypes.FinalAnswer, error) {
	ctx, span := tracer.Start(ctx, "tailor.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.Int("synthesis.evidence_count", len(req.Evidence)),
		attribute.String("synthesis.persona", string(req.Persona)),
	)

	evidence := OrderEvidence(datatypes.DedupEvidence(req.Evidence), s.ranker)
	if len(evidence) == 0 {
		slog.Info("Synthesizing with no evidence, returning insufficiency answer")
		return datatypes.InsufficientAnswer(), nil
	}

	temp := synthesisTemperature
	maxTokens := synthesisMaxTokens
	params := llm.GenerationParams{
		System:      buildSystemPrompt(req.Persona, req.FormattingHints),
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	}

	raw, err := s.llmClient.Generate(ctx, buildUserPrompt(req.Query, evidence), params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, datatypes.NewAgentFailureError(
			datatypes.FailureFromError(OriginID, err))
	}

	content := strings.TrimSpace(raw)
	if content == "" {
		return nil, datatypes.NewAgentFailureError(
			datatypes.NewAgentFailure(OriginID, datatypes.ErrCodeGroundingFailure,
				"model returned an empty answer", true))
	}

	citations := extractCitations(content, evidence)
	answer := &datatypes.FinalAnswer{
		Content:    content,
		Citations:  citations,
		Tone:       toneFor(req.Persona),
		Confidence: calculateConfidence(citations, evidence),
		FollowUps:  suggestFollowUps(req.Query, req.Persona),
	}

	span.SetAttributes(attribute.Int("synthesis.citation_count", len(citations)))
	return answer, nil
}

// extractCitations maps bracketed markers back to evidence chunks.
//
// Indexes are 1-based per the prompt contract. Out-of-range markers are
// skipped here; the verifier decides whether the remaining grounding is
// acceptable. Each chunk is cited at most once regardless of how many times
// its marker appears.
func extractCitations(content string, evidence []datatypes.RetrievedContext) []datatypes.SourceCitation {
	seen := make(map[int]bool)
	var citations []datatypes.SourceCitation
	for _, match := range citationMarker.FindAllStringSubmatch(content, -1) {
		idx, err := strconv.Atoi(match[1])
		if err != nil || idx < 1 || idx > len(evidence) || seen[idx] {
			continue
		}
		seen[idx] = true
		chunk := evidence[idx-1]
		snippet := chunk.Content
		if len(snippet) > snippetMaxLen {
			snippet = snippet[:snippetMaxLen] + "..."
		}
		citations = append(citations, datatypes.SourceCitation{
			SourceId:    chunk.SourceId,
			ChunkId:     chunk.ChunkId,
			TextSnippet: snippet,
			Url:         chunk.SourceUrl,
		})
	}
	return citations
}

// calculateConfidence derives a deterministic confidence from the relevance
// of the cited chunks: the mean score clamped to [0.35, 0.98], rounded to
// two decimals. Uncited answers score the floor.
func calculateConfidence(citations []datatypes.SourceCitation, evidence []datatypes.RetrievedContext) float64 {
	if len(citations) == 0 {
		return confidenceFloor
	}
	byChunk := make(map[string]float64, len(evidence))
	for _, chunk := range evidence {
		byChunk[chunk.ChunkId] = chunk.RelevanceScore
	}
	var sum float64
	for _, citation := range citations {
		sum += byChunk[citation.ChunkId]
	}
	mean := sum / float64(len(citations))
	clamped := math.Min(math.Max(mean, confidenceFloor), confidenceCeiling)
	return math.Round(clamped*100) / 100
}

// toneFor reports the presentation tone label for a persona.
func toneFor(persona datatypes.Persona) string {
	switch persona {
	case datatypes.PersonaTechnical:
		return "precise"
	case datatypes.PersonaExecutive:
		return "concise"
	default:
		return "conversational"
	}
}

// suggestFollowUps produces up to three rule-based follow-up questions.
// Deliberately not model-generated: follow-ups must be deterministic.
func suggestFollowUps(query string, persona datatypes.Persona) []string {
	lowered := strings.ToLower(query)
	var followUps []string
	if strings.Contains(lowered, "compare") || strings.Contains(lowered, " vs") || strings.Contains(lowered, "versus") {
		followUps = append(followUps, "Would you like a side-by-side comparison table?")
	}
	if persona == datatypes.PersonaTechnical {
		followUps = append(followUps, "Should I go deeper into the underlying mechanisms?")
	}
	if strings.Contains(lowered, "cost") || strings.Contains(lowered, "price") || strings.Contains(lowered, "budget") {
		followUps = append(followUps, "Do you want a cost breakdown by line item?")
	}
	if len(followUps) < maxFollowUps {
		followUps = append(followUps, "Is there a related topic you'd like me to look into?")
	}
	if len(followUps) > maxFollowUps {
		followUps = followUps[:maxFollowUps]
	}
	return followUps
}
