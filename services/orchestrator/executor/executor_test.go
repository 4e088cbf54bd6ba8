// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/capabilities"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/planner"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/verifier"
)

// =============================================================================
// Deterministic Doubles
// =============================================================================

// stubRetriever serves canned evidence per call and records every query it
// receives, so tests can assert on broadening behavior.
type stubRetriever struct {
	mu      sync.Mutex
	rounds  [][]datatypes.RetrievedContext
	errs    []error
	queries []capabilities.RetrievalQuery
}

func (s *stubRetriever) Query(ctx context.Context, query capabilities.RetrievalQuery) ([]datatypes.RetrievedContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := len(s.queries)
	s.queries = append(s.queries, query)

	if call < len(s.errs) && s.errs[call] != nil {
		return nil, s.errs[call]
	}
	if call < len(s.rounds) {
		return s.rounds[call], nil
	}
	if len(s.rounds) > 0 {
		return s.rounds[len(s.rounds)-1], nil
	}
	return nil, nil
}

func (s *stubRetriever) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

// stubSynthesizer returns a scripted sequence of answers, repeating the
// last one once the script runs out.
type stubSynthesizer struct {
	mu      sync.Mutex
	answers []*datatypes.FinalAnswer
	errs    []error
	calls   int
}

func (s *stubSynthesizer) Generate(ctx context.Context, req capabilities.SynthesisRequest) (*datatypes.FinalAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := s.calls
	s.calls++

	if call < len(s.errs) && s.errs[call] != nil {
		return nil, s.errs[call]
	}
	if call < len(s.answers) {
		return cloneAnswer(s.answers[call]), nil
	}
	if len(s.answers) > 0 {
		return cloneAnswer(s.answers[len(s.answers)-1]), nil
	}
	return nil, context.Canceled
}

func cloneAnswer(a *datatypes.FinalAnswer) *datatypes.FinalAnswer {
	copied := *a
	copied.Citations = append([]datatypes.SourceCitation(nil), a.Citations...)
	return &copied
}

func (s *stubSynthesizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubSafety scripts the two screening passes.
type stubSafety struct {
	rejectInput    bool
	rejectOutput   bool
	sanitizeOutput string
}

func (s *stubSafety) Enforce(ctx context.Context, content string, checkType capabilities.SafetyCheckType) (*capabilities.SafetyVerdict, error) {
	if checkType == capabilities.SafetyCheckInput && s.rejectInput {
		return &capabilities.SafetyVerdict{IsSafe: false, RiskCategory: "prohibited_topic"}, nil
	}
	if checkType == capabilities.SafetyCheckOutput {
		if s.rejectOutput {
			return &capabilities.SafetyVerdict{IsSafe: false, RiskCategory: "pii"}, nil
		}
		if s.sanitizeOutput != "" {
			return &capabilities.SafetyVerdict{IsSafe: true, SanitizedContent: s.sanitizeOutput}, nil
		}
	}
	return &capabilities.SafetyVerdict{IsSafe: true}, nil
}

// countingPlanner wraps the real planner and counts invocations.
type countingPlanner struct {
	inner *planner.Planner
	calls int
}

func (p *countingPlanner) Plan(ctx context.Context, request string, prior *datatypes.ConversationState) (*datatypes.Plan, error) {
	p.calls++
	return p.inner.Plan(ctx, request, prior)
}

type captureRecorder struct {
	records []RunRecord
}

func (r *captureRecorder) RecordRun(record RunRecord) {
	r.records = append(r.records, record)
}

// =============================================================================
// Helpers
// =============================================================================

func chunk(id, content string, relevance float64) datatypes.RetrievedContext {
	return datatypes.RetrievedContext{
		ChunkId:        id,
		Content:        content,
		SourceId:       "doc-" + id,
		RelevanceScore: relevance,
	}
}

func citedAnswer(content string, chunkIds ...string) *datatypes.FinalAnswer {
	answer := &datatypes.FinalAnswer{
		Content:    content,
		Tone:       "neutral",
		Confidence: 0.8,
	}
	for _, id := range chunkIds {
		answer.Citations = append(answer.Citations, datatypes.SourceCitation{
			SourceId:    "doc-" + id,
			ChunkId:     id,
			TextSnippet: content,
		})
	}
	return answer
}

type testDeps struct {
	retriever   *stubRetriever
	synthesizer *stubSynthesizer
	safety      *stubSafety
	planner     *countingPlanner
	recorder    *captureRecorder
}

func newTestExecutor(cfg Config, deps testDeps) (*Executor, testDeps) {
	if deps.retriever == nil {
		deps.retriever = &stubRetriever{}
	}
	if deps.synthesizer == nil {
		deps.synthesizer = &stubSynthesizer{}
	}
	if deps.safety == nil {
		deps.safety = &stubSafety{}
	}
	if deps.planner == nil {
		deps.planner = &countingPlanner{inner: planner.New(nil)}
	}
	if deps.recorder == nil {
		deps.recorder = &captureRecorder{}
	}

	exec := New(cfg, deps.planner, deps.retriever, deps.synthesizer,
		deps.safety, verifier.New(), deps.recorder)
	exec.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return exec, deps
}

// =============================================================================
// Terminal Outcomes
// =============================================================================

func TestRunEmptyStoreDegradesToInsufficiency(t *testing.T) {
	exec, deps := newTestExecutor(Config{}, testDeps{})
	state := datatypes.NewConversationState("s-1")

	result := exec.Run(context.Background(), state, "When does Project Alpha launch?", datatypes.PersonaGeneral, nil)

	if result.Failure != nil {
		t.Fatalf("expected success, got failure %v", result.Failure)
	}
	if result.Answer == nil {
		t.Fatal("expected an answer")
	}
	if len(result.Answer.Citations) != 0 {
		t.Errorf("degraded answer must carry zero citations, got %d", len(result.Answer.Citations))
	}
	if !result.Answer.IsInsufficiencyStatement() {
		t.Errorf("expected an insufficiency statement, got %q", result.Answer.Content)
	}
	if result.Cycles != 1 {
		t.Errorf("expected 1 cycle, got %d", result.Cycles)
	}
	if deps.synthesizer.callCount() != 0 {
		t.Errorf("synthesizer should not run on empty evidence, ran %d times", deps.synthesizer.callCount())
	}
	if !result.Plan.Done() {
		t.Error("degraded fallback should complete every plan step")
	}
}

func TestRunGroundedAnswerFirstCycle(t *testing.T) {
	evidence := chunk("c1", "Project Alpha launches in May.", 0.92)
	exec, deps := newTestExecutor(Config{}, testDeps{
		retriever:   &stubRetriever{rounds: [][]datatypes.RetrievedContext{{evidence}}},
		synthesizer: &stubSynthesizer{answers: []*datatypes.FinalAnswer{citedAnswer("Project Alpha launches in May [1].", "c1")}},
	})
	state := datatypes.NewConversationState("s-2")

	result := exec.Run(context.Background(), state, "When does Project Alpha launch?", datatypes.PersonaGeneral, nil)

	if result.Failure != nil {
		t.Fatalf("expected success, got failure %v", result.Failure)
	}
	if !strings.Contains(result.Answer.Content, "May") {
		t.Errorf("answer should mention the launch month, got %q", result.Answer.Content)
	}
	if len(result.Answer.Citations) != 1 {
		t.Fatalf("expected exactly one citation, got %d", len(result.Answer.Citations))
	}
	if result.Answer.Citations[0].ChunkId != "c1" {
		t.Errorf("citation should resolve to the evidence chunk, got %q", result.Answer.Citations[0].ChunkId)
	}
	if result.Cycles != 1 {
		t.Errorf("expected 1 cycle, got %d", result.Cycles)
	}

	// Success commits history: the user turn and the assistant turn.
	if len(state.History) != 2 {
		t.Fatalf("expected 2 history messages, got %d", len(state.History))
	}
	if state.History[1].Role != datatypes.RoleAssistant {
		t.Errorf("second message should be the assistant turn, got %s", state.History[1].Role)
	}
	if state.CurrentPlan != nil {
		t.Error("request-scoped plan should be cleared after success")
	}

	record := deps.recorder.records[0]
	if !record.Success || record.Citations != 1 || record.Cycles != 1 {
		t.Errorf("unexpected audit record %+v", record)
	}
}

func TestRunPersistentlyUngroundedHitsCeiling(t *testing.T) {
	evidence := chunk("c1", "Project Alpha launches in May.", 0.92)
	exec, deps := newTestExecutor(Config{MaxCycles: 3}, testDeps{
		retriever:   &stubRetriever{rounds: [][]datatypes.RetrievedContext{{evidence}}},
		synthesizer: &stubSynthesizer{answers: []*datatypes.FinalAnswer{citedAnswer("An uncited assertion.")}},
	})
	state := datatypes.NewConversationState("s-3")

	result := exec.Run(context.Background(), state, "When does Project Alpha launch?", datatypes.PersonaGeneral, nil)

	if result.Failure == nil {
		t.Fatal("expected a failure")
	}
	if result.Failure.ErrorCode != datatypes.ErrCodeRecursionLimitExceeded {
		t.Errorf("expected recursion-limit-exceeded, got %s", result.Failure.ErrorCode)
	}
	if result.Failure.Recoverable {
		t.Error("ceiling failure must not be recoverable")
	}
	if got := result.Failure.Details["max_cycles"]; got != 3 {
		t.Errorf("expected max_cycles detail 3, got %v", got)
	}
	if result.Cycles != 3 {
		t.Errorf("expected the full 3 cycles, got %d", result.Cycles)
	}
	// No assistant message on failure; only the user turn.
	if len(state.History) != 1 {
		t.Errorf("failed run must not append an assistant message, history has %d entries", len(state.History))
	}
	if deps.recorder.records[0].Success {
		t.Error("audit record should mark the run failed")
	}
}

func TestRunRetrievalTimeoutFailsWithoutVerification(t *testing.T) {
	retriever := &stubRetriever{errs: []error{context.DeadlineExceeded, context.DeadlineExceeded}}
	synth := &stubSynthesizer{}
	exec, _ := newTestExecutor(Config{MaxRetries: 1}, testDeps{
		retriever:   retriever,
		synthesizer: synth,
	})
	state := datatypes.NewConversationState("s-4")

	result := exec.Run(context.Background(), state, "When does Project Alpha launch?", datatypes.PersonaGeneral, nil)

	if result.Failure == nil {
		t.Fatal("expected a failure")
	}
	if result.Failure.ErrorCode != datatypes.ErrCodeTimeout {
		t.Errorf("expected timeout, got %s", result.Failure.ErrorCode)
	}
	if got := retriever.callCount(); got != 2 {
		t.Errorf("recoverable failure earns exactly one retry, saw %d attempts", got)
	}
	if synth.callCount() != 0 {
		t.Error("synthesis must not run after terminal retrieval failure")
	}
}

// =============================================================================
// Rejection Routing
// =============================================================================

func TestCitationMismatchTriggersResynthesisOnSameEvidence(t *testing.T) {
	evidence := chunk("c1", "Project Alpha launches in May.", 0.92)
	exec, deps := newTestExecutor(Config{}, testDeps{
		retriever: &stubRetriever{rounds: [][]datatypes.RetrievedContext{{evidence}}},
		synthesizer: &stubSynthesizer{answers: []*datatypes.FinalAnswer{
			citedAnswer("Launches in May [1].", "ghost-chunk"),
			citedAnswer("Launches in May [1].", "c1"),
		}},
	})
	state := datatypes.NewConversationState("s-5")

	result := exec.Run(context.Background(), state, "When does Project Alpha launch?", datatypes.PersonaGeneral, nil)

	if result.Failure != nil {
		t.Fatalf("expected success after re-synthesis, got %v", result.Failure)
	}
	if result.Cycles != 2 {
		t.Errorf("expected 2 cycles, got %d", result.Cycles)
	}
	if got := deps.retriever.callCount(); got != 1 {
		t.Errorf("re-synthesis must reuse the evidence set, retrieval ran %d times", got)
	}
	if got := deps.synthesizer.callCount(); got != 2 {
		t.Errorf("expected 2 synthesis attempts, got %d", got)
	}
}

func TestUncitedClaimGetsOneResynthesisThenReplans(t *testing.T) {
	evidence := chunk("c1", "Project Alpha launches in May.", 0.92)
	exec, deps := newTestExecutor(Config{}, testDeps{
		retriever: &stubRetriever{rounds: [][]datatypes.RetrievedContext{{evidence}}},
		synthesizer: &stubSynthesizer{answers: []*datatypes.FinalAnswer{
			citedAnswer("An uncited assertion."),
			citedAnswer("Still uncited."),
			citedAnswer("Launches in May [1].", "c1"),
		}},
	})
	state := datatypes.NewConversationState("s-6")

	result := exec.Run(context.Background(), state, "When does Project Alpha launch?", datatypes.PersonaGeneral, nil)

	if result.Failure != nil {
		t.Fatalf("expected eventual success, got %v", result.Failure)
	}
	// Attempt 1 rejected, attempt 2 is the single re-synthesis (same
	// evidence), attempt 3 follows a full replan with fresh retrieval.
	if got := deps.synthesizer.callCount(); got != 3 {
		t.Errorf("expected 3 synthesis attempts, got %d", got)
	}
	if got := deps.retriever.callCount(); got != 2 {
		t.Errorf("expected retrieval on first pass and after replan only, got %d", got)
	}
	if got := deps.planner.calls; got != 2 {
		t.Errorf("expected exactly one replan after the burned re-synthesis, planner ran %d times", got)
	}
}

func TestLowRelevanceRejectionBroadensRetrieval(t *testing.T) {
	weak := chunk("c1", "Tangentially related text.", 0.3)
	strong := chunk("c2", "Project Alpha launches in May.", 0.9)
	exec, deps := newTestExecutor(Config{TopK: 5, MinRelevance: 0.8}, testDeps{
		retriever: &stubRetriever{rounds: [][]datatypes.RetrievedContext{{weak}, {strong}}},
		synthesizer: &stubSynthesizer{answers: []*datatypes.FinalAnswer{
			citedAnswer("Probably May [1].", "c1"),
			citedAnswer("Launches in May [1].", "c2"),
		}},
	})
	state := datatypes.NewConversationState("s-7")

	result := exec.Run(context.Background(), state, "When does Project Alpha launch?", datatypes.PersonaGeneral, nil)

	if result.Failure != nil {
		t.Fatalf("expected success after broadening, got %v", result.Failure)
	}
	queries := deps.retriever.queries
	if len(queries) != 2 {
		t.Fatalf("expected 2 retrieval rounds, got %d", len(queries))
	}
	if queries[0].TopK != 5 || queries[1].TopK != 10 {
		t.Errorf("expected TopK to double 5 -> 10, got %d -> %d", queries[0].TopK, queries[1].TopK)
	}
	wantFloor := 0.8 * 0.75
	if math.Abs(queries[1].MinRelevanceScore-wantFloor) > 1e-9 {
		t.Errorf("expected relevance floor %v, got %v", wantFloor, queries[1].MinRelevanceScore)
	}
}

// =============================================================================
// Safety Screening
// =============================================================================

func TestUnsafeInputHaltsBeforePlanning(t *testing.T) {
	exec, deps := newTestExecutor(Config{}, testDeps{
		safety: &stubSafety{rejectInput: true},
	})
	state := datatypes.NewConversationState("s-8")

	result := exec.Run(context.Background(), state, "something prohibited", datatypes.PersonaGeneral, nil)

	if result.Failure == nil || result.Failure.ErrorCode != datatypes.ErrCodeSafetyRejection {
		t.Fatalf("expected safety-rejection, got %+v", result.Failure)
	}
	if deps.planner.calls != 0 {
		t.Error("planning must not run for an unsafe request")
	}
	if deps.retriever.callCount() != 0 {
		t.Error("retrieval must not run for an unsafe request")
	}
}

func TestUnsafeOutputWithholdsAcceptedAnswer(t *testing.T) {
	evidence := chunk("c1", "Project Alpha launches in May.", 0.92)
	exec, _ := newTestExecutor(Config{}, testDeps{
		retriever:   &stubRetriever{rounds: [][]datatypes.RetrievedContext{{evidence}}},
		synthesizer: &stubSynthesizer{answers: []*datatypes.FinalAnswer{citedAnswer("Launches in May [1].", "c1")}},
		safety:      &stubSafety{rejectOutput: true},
	})
	state := datatypes.NewConversationState("s-9")

	result := exec.Run(context.Background(), state, "When does Project Alpha launch?", datatypes.PersonaGeneral, nil)

	if result.Failure == nil || result.Failure.ErrorCode != datatypes.ErrCodeSafetyRejection {
		t.Fatalf("expected safety-rejection on output, got %+v", result.Failure)
	}
}

func TestSanitizedOutputReplacesAnswerContent(t *testing.T) {
	evidence := chunk("c1", "Project Alpha launches in May.", 0.92)
	exec, _ := newTestExecutor(Config{}, testDeps{
		retriever:   &stubRetriever{rounds: [][]datatypes.RetrievedContext{{evidence}}},
		synthesizer: &stubSynthesizer{answers: []*datatypes.FinalAnswer{citedAnswer("Launches in May, call 555-0100 [1].", "c1")}},
		safety:      &stubSafety{sanitizeOutput: "Launches in May [1]."},
	})
	state := datatypes.NewConversationState("s-10")

	result := exec.Run(context.Background(), state, "When does Project Alpha launch?", datatypes.PersonaGeneral, nil)

	if result.Failure != nil {
		t.Fatalf("expected success, got %v", result.Failure)
	}
	if result.Answer.Content != "Launches in May [1]." {
		t.Errorf("sanitized content should replace the answer, got %q", result.Answer.Content)
	}
}

// =============================================================================
// Retry and Cancellation
// =============================================================================

func TestRecoverableRetrievalFailureRetriesOnce(t *testing.T) {
	evidence := chunk("c1", "Project Alpha launches in May.", 0.92)
	transient := datatypes.NewAgentFailureError(
		datatypes.NewAgentFailure("memory.retriever", datatypes.ErrCodeSourceAuthFailure,
			"credentials expired", true))
	retriever := &stubRetriever{
		errs:   []error{transient},
		rounds: [][]datatypes.RetrievedContext{nil, {evidence}},
	}
	exec, deps := newTestExecutor(Config{}, testDeps{
		retriever:   retriever,
		synthesizer: &stubSynthesizer{answers: []*datatypes.FinalAnswer{citedAnswer("Launches in May [1].", "c1")}},
	})
	state := datatypes.NewConversationState("s-11")

	result := exec.Run(context.Background(), state, "When does Project Alpha launch?", datatypes.PersonaGeneral, nil)

	if result.Failure != nil {
		t.Fatalf("expected success after retry, got %v", result.Failure)
	}
	if got := retriever.callCount(); got != 2 {
		t.Errorf("expected 2 retrieval attempts, got %d", got)
	}
	if deps.synthesizer.callCount() != 1 {
		t.Errorf("expected a single synthesis pass, got %d", deps.synthesizer.callCount())
	}
}

func TestNonRecoverableFailureDoesNotRetry(t *testing.T) {
	permanent := datatypes.NewAgentFailureError(
		datatypes.NewAgentFailure("memory.retriever", datatypes.ErrCodeSourceNotFound,
			"collection missing", false))
	retriever := &stubRetriever{errs: []error{permanent, permanent}}
	exec, _ := newTestExecutor(Config{}, testDeps{retriever: retriever})
	state := datatypes.NewConversationState("s-12")

	result := exec.Run(context.Background(), state, "When does Project Alpha launch?", datatypes.PersonaGeneral, nil)

	if result.Failure == nil || result.Failure.ErrorCode != datatypes.ErrCodeSourceNotFound {
		t.Fatalf("expected source-not-found, got %+v", result.Failure)
	}
	if got := retriever.callCount(); got != 1 {
		t.Errorf("non-recoverable failure must not retry, saw %d attempts", got)
	}
}

func TestCancelledContextFailsRun(t *testing.T) {
	exec, _ := newTestExecutor(Config{}, testDeps{})
	state := datatypes.NewConversationState("s-13")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := exec.Run(ctx, state, "When does Project Alpha launch?", datatypes.PersonaGeneral, nil)

	if result.Failure == nil {
		t.Fatal("expected a failure on a cancelled context")
	}
	if len(state.History) != 1 {
		t.Errorf("cancelled run must not append an assistant message, history has %d entries", len(state.History))
	}
}

// =============================================================================
// Progress Events
// =============================================================================

func TestRunEmitsOnlyThinkingEvents(t *testing.T) {
	evidence := chunk("c1", "Project Alpha launches in May.", 0.92)
	exec, _ := newTestExecutor(Config{}, testDeps{
		retriever:   &stubRetriever{rounds: [][]datatypes.RetrievedContext{{evidence}}},
		synthesizer: &stubSynthesizer{answers: []*datatypes.FinalAnswer{citedAnswer("Launches in May [1].", "c1")}},
	})
	state := datatypes.NewConversationState("s-14")

	var events []datatypes.StreamEvent
	exec.Run(context.Background(), state, "When does Project Alpha launch?", datatypes.PersonaGeneral,
		func(event datatypes.StreamEvent) { events = append(events, event) })

	if len(events) == 0 {
		t.Fatal("expected progress events")
	}
	for i, event := range events {
		if event.Type != datatypes.StreamEventThinking {
			t.Errorf("event %d: executor must emit thinking only, got %s", i, event.Type)
		}
	}
}

// =============================================================================
// Backoff
// =============================================================================

func TestBackoffDelayGrowsExponentially(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt := 1; attempt <= 4; attempt++ {
		floor := base << (attempt - 1)
		ceiling := floor + floor/2
		for i := 0; i < 50; i++ {
			delay := backoffDelay(base, attempt)
			if delay < floor || delay > ceiling {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, delay, floor, ceiling)
			}
		}
	}
}
