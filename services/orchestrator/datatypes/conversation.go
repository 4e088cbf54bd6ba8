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

import "time"

// =============================================================================
// Messages
// =============================================================================

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn entry in a session's history. History is append-only;
// messages are never edited or removed once recorded.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// ConversationState
// =============================================================================

// ConversationState is the per-session record the executor reads and writes.
//
// # Description
//
// Holds everything that survives across requests on a session: the full
// message history, the plan currently being executed (nil between requests),
// and the evidence accumulated for the current plan cycle. Evidence is
// replaced wholesale at the start of each retrieval cycle; it never grows
// across unrelated requests.
//
// # Thread Safety
//
// ConversationState itself is a plain value. All mutation goes through the
// conversation.Store, which serializes access per session key. The executor
// is the only component that writes CurrentPlan and AccumulatedEvidence.
type ConversationState struct {
	SessionId           string             `json:"session_id"`
	History             []Message          `json:"history"`
	CurrentPlan         *Plan              `json:"current_plan,omitempty"`
	AccumulatedEvidence []RetrievedContext `json:"accumulated_evidence,omitempty"`
	UserPreferences     map[string]any     `json:"user_preferences,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// NewConversationState builds an empty state for a session key.
func NewConversationState(sessionId string) *ConversationState {
	now := time.Now().UTC()
	return &ConversationState{
		SessionId: sessionId,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddMessage appends a turn to the history.
func (s *ConversationState) AddMessage(role Role, content string) {
	now := time.Now().UTC()
	s.History = append(s.History, Message{Role: role, Content: content, Timestamp: now})
	s.UpdatedAt = now
}

// ReplaceEvidence swaps in the evidence set for the current plan cycle.
func (s *ConversationState) ReplaceEvidence(evidence []RetrievedContext) {
	s.AccumulatedEvidence = evidence
	s.UpdatedAt = time.Now().UTC()
}

// ClearRequestState drops the plan and evidence once a request finishes.
// History is untouched.
func (s *ConversationState) ClearRequestState() {
	s.CurrentPlan = nil
	s.AccumulatedEvidence = nil
	s.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy safe to hand to readers while the executor
// keeps mutating the original.
func (s *ConversationState) Clone() *ConversationState {
	out := &ConversationState{
		SessionId: s.SessionId,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	out.History = append([]Message(nil), s.History...)
	out.AccumulatedEvidence = append([]RetrievedContext(nil), s.AccumulatedEvidence...)
	if s.UserPreferences != nil {
		out.UserPreferences = make(map[string]any, len(s.UserPreferences))
		for k, v := range s.UserPreferences {
			out.UserPreferences[k] = v
		}
	}
	if s.CurrentPlan != nil {
		plan := &Plan{PlanId: s.CurrentPlan.PlanId, Query: s.CurrentPlan.Query}
		for _, step := range s.CurrentPlan.Steps {
			copied := *step
			copied.DependsOn = append([]string(nil), step.DependsOn...)
			plan.Steps = append(plan.Steps, &copied)
		}
		out.CurrentPlan = plan
	}
	return out
}
