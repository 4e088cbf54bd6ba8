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
	"strings"

	"github.com/AleutianAI/AleutianAnswers/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

// PolicyEngine serves as the main entry point for safety screening operations.
// It holds the compiled rule set and provides methods to scan content against it.
type PolicyEngine struct {
	RiskClasses []RiskClass
}

// NewPolicyEngine initializes a new instance of the PolicyEngine.
//
// It automatically loads the screening rules embedded in the binary via the
// enforcement package, and performs the following operations:
// 1. Unmarshals the embedded YAML data.
// 2. Compiles all regex patterns.
// 3. Sorts risk classes by severity.
//
// Returns an error if the embedded YAML is malformed or contains invalid regex.
func NewPolicyEngine() (*PolicyEngine, error) {
	var policyFile SafetyPolicyFile
	if err := yaml.Unmarshal(enforcement.SafetyPatterns, &policyFile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded policy file: %w", err)
	}

	// Compile the regex patterns for performance and sort by severity
	if err := policyFile.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a regex %w", err)
	}

	policyFile.SortBySeverity()

	engine := &PolicyEngine{RiskClasses: policyFile.RiskClasses}
	return engine, nil
}

// ClassifyRisk performs a quick check on a byte slice and returns the name of
// the *first* risk class that matches, walking classes from highest severity
// down. The boolean is false when nothing matches.
//
// This is optimized for the request hot path rather than detailed auditing.
func (e *PolicyEngine) ClassifyRisk(data []byte) (string, bool) {
	for _, riskClass := range e.RiskClasses {
		for _, re := range riskClass.CompiledPatterns {
			if re.Match(data) {
				return riskClass.Name, true
			}
		}
	}
	return "", false
}

// ScanContent performs a comprehensive audit of a string.
//
// It splits the content into lines and checks every line against every pattern
// in the engine, capturing line numbers and the specific text that triggered
// each match. Intended for the output screening pass where the caller needs to
// decide between blocking and sanitizing.
func (e *PolicyEngine) ScanContent(content string) []ScanFinding {
	var findings []ScanFinding
	lines := strings.Split(content, "\n")
	for lineNum, line := range lines {
		for _, riskClass := range e.RiskClasses {
			for _, pattern := range riskClass.Patterns {
				match := pattern.compiledPattern.FindString(line)
				if match != "" {
					finding := ScanFinding{
						LineNumber:         lineNum + 1,
						MatchedContent:     strings.TrimSpace(match),
						RiskClassName:      riskClass.Name,
						Action:             riskClass.Action,
						PatternId:          pattern.Id,
						PatternDescription: pattern.Description,
						Confidence:         pattern.Confidence,
					}
					findings = append(findings, finding)
				}
			}
		}
	}
	return findings
}

// Sanitize redacts every span matched by a sanitize-action class and returns
// the cleaned content. Block-action classes are left alone; the caller is
// expected to have already refused the content if one of those matched.
func (e *PolicyEngine) Sanitize(content string) string {
	sanitized := content
	for _, riskClass := range e.RiskClasses {
		if riskClass.Action != ActionSanitize {
			continue
		}
		for _, re := range riskClass.CompiledPatterns {
			sanitized = re.ReplaceAllString(sanitized, "[REDACTED]")
		}
	}
	return sanitized
}
