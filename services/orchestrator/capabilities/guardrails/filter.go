// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guardrails implements the safety filter over the policy engine's
// embedded pattern set.
package guardrails

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/capabilities"
	"github.com/AleutianAI/AleutianAnswers/services/policy_engine"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.answers.guardrails")

// OriginID identifies this agent in failure reports.
const OriginID = "guardrails.filter"

// Filter screens request and answer content against the embedded safety
// policy.
//
// # Thread Safety
//
// Safe for concurrent use; the policy engine is read-only after
// construction.
type Filter struct {
	engine *policy_engine.PolicyEngine
}

var _ capabilities.SafetyFilter = (*Filter)(nil)

// NewFilter builds a Filter backed by the embedded safety patterns.
func NewFilter() (*Filter, error) {
	engine, err := policy_engine.NewPolicyEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize the policy engine: %w", err)
	}
	return &Filter{engine: engine}, nil
}

// Enforce implements capabilities.SafetyFilter.
//
// Input checks block on any block-action match. Output checks block only on
// block-action matches; sanitize-action matches (PII) produce a safe verdict
// carrying redacted content for the caller to substitute.
func (f *Filter) Enforce(ctx context.Context, content string, checkType capabilities.SafetyCheckType) (*capabilities.SafetyVerdict, error) {
	_, span := tracer.Start(ctx, "guardrails.Enforce")
	defer span.End()
	span.SetAttributes(attribute.String("guardrails.check_type", string(checkType)))

	findings := f.engine.ScanContent(content)
	if len(findings) == 0 {
		return &capabilities.SafetyVerdict{IsSafe: true}, nil
	}

	var blocking *policy_engine.ScanFinding
	sanitizeNeeded := false
	for i := range findings {
		switch findings[i].Action {
		case policy_engine.ActionBlock:
			if blocking == nil {
				blocking = &findings[i]
			}
		case policy_engine.ActionSanitize:
			sanitizeNeeded = true
		}
	}

	if blocking != nil {
		slog.Warn("Safety filter blocked content",
			"check_type", checkType,
			"risk_class", blocking.RiskClassName,
			"pattern_id", blocking.PatternId)
		span.SetAttributes(attribute.String("guardrails.risk_class", blocking.RiskClassName))
		return &capabilities.SafetyVerdict{
			IsSafe:       false,
			RiskCategory: blocking.RiskClassName,
			Reasoning:    blocking.PatternDescription,
		}, nil
	}

	// Only sanitize-action findings remain. On the output pass we redact and
	// let the answer through; on the input pass PII in a question is the
	// user's own content and passes untouched.
	if checkType == capabilities.SafetyCheckOutput && sanitizeNeeded {
		slog.Info("Safety filter sanitized answer content", "findings", len(findings))
		return &capabilities.SafetyVerdict{
			IsSafe:           true,
			SanitizedContent: f.engine.Sanitize(content),
			RiskCategory:     findings[0].RiskClassName,
			Reasoning:        "sensitive spans redacted",
		}, nil
	}

	return &capabilities.SafetyVerdict{IsSafe: true}, nil
}
