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

import "fmt"

// =============================================================================
// Capabilities
// =============================================================================

// Capability identifies which agent a plan step is dispatched to.
type Capability string

const (
	// CapabilityRetrieve fetches evidence from the memory store.
	CapabilityRetrieve Capability = "retrieve"

	// CapabilitySynthesize produces a cited answer from evidence.
	CapabilitySynthesize Capability = "synthesize"

	// CapabilityVerify checks the answer's grounding against evidence.
	CapabilityVerify Capability = "verify"
)

// =============================================================================
// Step Status
// =============================================================================

// StepStatus is the lifecycle state of a plan step.
//
// Transitions only move forward: pending -> in_progress -> completed|failed.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// rank orders statuses for monotonicity checks. Terminal states share a rank
// so completed->failed and failed->completed are both rejected.
func (s StepStatus) rank() int {
	switch s {
	case StepPending:
		return 0
	case StepInProgress:
		return 1
	case StepCompleted, StepFailed:
		return 2
	}
	return -1
}

// =============================================================================
// PlanStep
// =============================================================================

// PlanStep is a single unit of work in an execution plan.
//
// # Thread Safety
//
// PlanStep is not safe for concurrent mutation. The executor is the sole
// writer; concurrent step dispatch publishes status updates through the
// executor's own synchronization, never directly.
type PlanStep struct {
	StepId      string     `json:"step_id"`
	Description string     `json:"description"`
	Capability  Capability `json:"capability"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Status      StepStatus `json:"status"`
}

// SetStatus advances the step status, rejecting any backward transition.
func (s *PlanStep) SetStatus(next StepStatus) error {
	if next.rank() < 0 {
		return fmt.Errorf("unknown step status %q", next)
	}
	if next.rank() <= s.Status.rank() && next != s.Status {
		return fmt.Errorf("step %s: illegal status transition %s -> %s", s.StepId, s.Status, next)
	}
	s.Status = next
	return nil
}

// Terminal reports whether the step has finished, successfully or not.
func (s *PlanStep) Terminal() bool {
	return s.Status == StepCompleted || s.Status == StepFailed
}

// =============================================================================
// Plan
// =============================================================================

// Plan is the ordered set of steps the executor runs for one request cycle.
type Plan struct {
	PlanId string      `json:"plan_id"`
	Query  string      `json:"query"`
	Steps  []*PlanStep `json:"steps"`
}

// Step returns the step with the given id, or nil.
func (p *Plan) Step(stepId string) *PlanStep {
	for _, step := range p.Steps {
		if step.StepId == stepId {
			return step
		}
	}
	return nil
}

// ReadySteps returns pending steps whose dependencies have all completed.
//
// A step with a failed dependency is never ready; the executor fails it
// explicitly rather than letting it dangle.
func (p *Plan) ReadySteps() []*PlanStep {
	var ready []*PlanStep
	for _, step := range p.Steps {
		if step.Status != StepPending {
			continue
		}
		eligible := true
		for _, dep := range step.DependsOn {
			depStep := p.Step(dep)
			if depStep == nil || depStep.Status != StepCompleted {
				eligible = false
				break
			}
		}
		if eligible {
			ready = append(ready, step)
		}
	}
	return ready
}

// StepsFor returns every step targeting the given capability.
func (p *Plan) StepsFor(capability Capability) []*PlanStep {
	var out []*PlanStep
	for _, step := range p.Steps {
		if step.Capability == capability {
			out = append(out, step)
		}
	}
	return out
}

// Done reports whether every step has reached a terminal status.
func (p *Plan) Done() bool {
	for _, step := range p.Steps {
		if !step.Terminal() {
			return false
		}
	}
	return true
}

// Validate checks that step ids are unique and dependencies resolve to
// earlier declared steps (which also rules out cycles).
func (p *Plan) Validate() error {
	seen := make(map[string]bool, len(p.Steps))
	for _, step := range p.Steps {
		if step.StepId == "" {
			return fmt.Errorf("plan %s: step with empty id", p.PlanId)
		}
		if seen[step.StepId] {
			return fmt.Errorf("plan %s: duplicate step id %s", p.PlanId, step.StepId)
		}
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("plan %s: step %s depends on %s which is not declared before it", p.PlanId, step.StepId, dep)
			}
		}
		seen[step.StepId] = true
	}
	return nil
}
