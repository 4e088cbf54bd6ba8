// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package policy_engine

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// RiskAction tells the guardrails filter what to do with a match.
type RiskAction string

const (
	// ActionBlock refuses the request (input) or withholds the answer (output).
	ActionBlock RiskAction = "block"

	// ActionSanitize redacts the matched spans and lets the content through.
	ActionSanitize RiskAction = "sanitize"
)

type SafetyPolicyFile struct {
	RiskClasses []RiskClass `yaml:"risk_classes"`
}

type RiskClass struct {
	Name             string           `yaml:"name"`
	Description      string           `yaml:"description"`
	Severity         int              `yaml:"severity"`
	Action           RiskAction       `yaml:"action"`
	Patterns         []Pattern        `yaml:"patterns"`
	CompiledPatterns []*regexp.Regexp `yaml:"-"`
}

type Pattern struct {
	Id              string          `yaml:"id"`
	Description     string          `yaml:"description"`
	Regex           string          `yaml:"regex"`
	Confidence      ConfidenceLevel `yaml:"confidence"`
	compiledPattern *regexp.Regexp  `yaml:"-"`
}

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incomingConfidence := ConfidenceLevel(s)
	switch incomingConfidence {
	case High, Medium, Low:
		*c = incomingConfidence
		return nil
	default:
		return fmt.Errorf("invalid value for Confidence: %q", incomingConfidence)
	}
}

func (a *RiskAction) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incomingAction := RiskAction(s)
	switch incomingAction {
	case ActionBlock, ActionSanitize:
		*a = incomingAction
		return nil
	default:
		return fmt.Errorf("invalid value for Action: %q", incomingAction)
	}
}

func (p *SafetyPolicyFile) CompileRegexes() error {
	for i := range p.RiskClasses {
		for j := range p.RiskClasses[i].Patterns {
			pattern := &p.RiskClasses[i].Patterns[j]
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile the regex %s: %w", pattern.Regex, err)
			}
			p.RiskClasses[i].CompiledPatterns = append(p.RiskClasses[i].CompiledPatterns, re)
			pattern.compiledPattern = re
		}
	}
	return nil
}

func (p *SafetyPolicyFile) SortBySeverity() {
	sort.Slice(p.RiskClasses, func(i, j int) bool {
		return p.RiskClasses[i].Severity > p.RiskClasses[j].Severity
	})
}

// ScanFinding records one pattern hit inside screened content.
type ScanFinding struct {
	LineNumber         int             `json:"line_number"`
	MatchedContent     string          `json:"matched_content"`
	RiskClassName      string          `json:"risk_class_name"`
	Action             RiskAction      `json:"action"`
	PatternId          string          `json:"pattern_id"`
	PatternDescription string          `json:"pattern_description"`
	Confidence         ConfidenceLevel `json:"confidence"`
}
