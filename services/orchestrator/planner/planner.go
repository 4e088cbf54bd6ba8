// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner decomposes a request into the smallest execution plan
// that covers it.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianAnswers/services/llm"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.answers.planner")

// OriginID identifies this component in failure reports.
const OriginID = "planner"

// MaxTopics caps how many parallel retrieval steps one request may fan out
// into.
const MaxTopics = 5

const topicPromptTemplate = `Decompose the question below into the minimal list of distinct topics that must be looked up to answer it. Most questions are a single topic. Respond with ONLY a JSON array of strings, nothing else.

Question: %s`

// jsonArray finds the first JSON array in a model response that may carry
// prose around it.
var jsonArray = regexp.MustCompile(`\[[^\[\]]*\]`)

// comparisonSplitter separates "X vs Y" style questions when the model is
// unavailable.
var comparisonSplitter = regexp.MustCompile(`(?i)\s+(?:vs\.?|versus)\s+|\s+compared?\s+(?:to|with)\s+`)

// leadingCompareVerb strips the "compare" verb off the first fragment of a
// comparison question.
var leadingCompareVerb = regexp.MustCompile(`(?i)^(compare|comparing)\s+`)

// Planner builds execution plans, using the LLM for topic extraction with a
// heuristic fallback.
type Planner struct {
	llmClient llm.LLMClient
}

// New builds a Planner. The LLM client may be nil, in which case only the
// heuristic decomposition runs.
func New(llmClient llm.LLMClient) *Planner {
	return &Planner{llmClient: llmClient}
}

// Plan decomposes the request into retrieve steps (one per topic, mutually
// independent), a synthesize step gated on all of them, and a verify step
// gated on synthesis.
//
// # Description
//
// Topic extraction failures never fail the request: the planner degrades to
// a single-topic plan around the raw request text. A request with no
// answerable text at all is the planner's only error, reported as a
// non-recoverable unsupported-input failure.
//
// Prior state does not change the plan shape today; it is accepted so
// follow-up-aware planning can use history without an interface change.
func (p *Planner) Plan(ctx context.Context, request string, prior *datatypes.ConversationState) (*datatypes.Plan, error) {
	ctx, span := tracer.Start(ctx, "planner.Plan")
	defer span.End()

	trimmed := strings.TrimSpace(request)
	if trimmed == "" {
		return nil, datatypes.NewAgentFailureError(
			datatypes.NewAgentFailure(OriginID, datatypes.ErrCodeUnsupportedInputFormat,
				"request contains no answerable text", false))
	}

	topics := p.extractTopics(ctx, trimmed)
	span.SetAttributes(attribute.Int("planner.topic_count", len(topics)))

	plan := &datatypes.Plan{
		PlanId: uuid.NewString(),
		Query:  trimmed,
	}

	var retrieveIds []string
	for i, topic := range topics {
		stepId := fmt.Sprintf("retrieve-%d", i+1)
		retrieveIds = append(retrieveIds, stepId)
		plan.Steps = append(plan.Steps, &datatypes.PlanStep{
			StepId:      stepId,
			Description: topic,
			Capability:  datatypes.CapabilityRetrieve,
			Status:      datatypes.StepPending,
		})
	}
	plan.Steps = append(plan.Steps, &datatypes.PlanStep{
		StepId:      "synthesize",
		Description: "Compose a cited answer from the retrieved evidence",
		Capability:  datatypes.CapabilitySynthesize,
		DependsOn:   retrieveIds,
		Status:      datatypes.StepPending,
	})
	plan.Steps = append(plan.Steps, &datatypes.PlanStep{
		StepId:      "verify",
		Description: "Check that every claim is grounded in the evidence",
		Capability:  datatypes.CapabilityVerify,
		DependsOn:   []string{"synthesize"},
		Status:      datatypes.StepPending,
	})

	if err := plan.Validate(); err != nil {
		return nil, datatypes.NewAgentFailureError(
			datatypes.NewAgentFailure(OriginID, datatypes.ErrCodeInternal, err.Error(), false))
	}

	slog.Debug("Built execution plan", "plan_id", plan.PlanId, "steps", len(plan.Steps))
	return plan, nil
}

// extractTopics asks the model for a topic list and falls back to the
// comparison heuristic, then to the whole request as one topic.
func (p *Planner) extractTopics(ctx context.Context, request string) []string {
	if p.llmClient != nil {
		if topics := p.extractTopicsLLM(ctx, request); len(topics) > 0 {
			return topics
		}
	}
	if topics := splitComparison(request); len(topics) > 1 {
		return topics
	}
	return []string{request}
}

func (p *Planner) extractTopicsLLM(ctx context.Context, request string) []string {
	temp := float32(0.3)
	maxTokens := 256
	params := llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	}

	raw, err := p.llmClient.Generate(ctx, fmt.Sprintf(topicPromptTemplate, request), params)
	if err != nil {
		slog.Warn("Topic extraction call failed, falling back to heuristics", "error", err)
		return nil
	}

	arrayText := jsonArray.FindString(raw)
	if arrayText == "" {
		slog.Warn("Topic extraction returned no JSON array, falling back to heuristics")
		return nil
	}

	var topics []string
	if err := json.Unmarshal([]byte(arrayText), &topics); err != nil {
		slog.Warn("Topic extraction returned malformed JSON, falling back to heuristics", "error", err)
		return nil
	}

	cleaned := topics[:0]
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic != "" {
			cleaned = append(cleaned, topic)
		}
	}
	if len(cleaned) > MaxTopics {
		cleaned = cleaned[:MaxTopics]
	}
	return cleaned
}

// splitComparison decomposes "X vs Y" questions into per-subject topics.
func splitComparison(request string) []string {
	parts := comparisonSplitter.Split(request, -1)
	if len(parts) < 2 {
		return nil
	}
	var topics []string
	for _, part := range parts {
		part = strings.TrimSpace(strings.Trim(part, "?.!,"))
		part = leadingCompareVerb.ReplaceAllString(part, "")
		part = strings.TrimSpace(part)
		if part != "" {
			topics = append(topics, part)
		}
	}
	if len(topics) > MaxTopics {
		topics = topics[:MaxTopics]
	}
	return topics
}
