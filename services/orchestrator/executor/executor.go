// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor runs the plan -> dispatch -> verify loop that turns a
// request into a grounded answer.
//
// # Description
//
// The loop is an explicit state machine rather than recursive calls: the
// cycle counter is ordinary state, the ceiling is enforced in exactly one
// place, and every transition is observable. One Executor instance serves
// many concurrent requests; all per-request state lives in the run.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/capabilities"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/verifier"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("aleutian.answers.executor")

// OriginID identifies the executor itself in failure reports.
const OriginID = "executor"

// =============================================================================
// States
// =============================================================================

// State is one phase of the execution loop.
type State string

const (
	StatePlanning    State = "PLANNING"
	StateDispatching State = "DISPATCHING"
	StateVerifying   State = "VERIFYING"
	StateAccepted    State = "ACCEPTED"
	StateReplanning  State = "REPLANNING"
	StateFailed      State = "FAILED"
)

// =============================================================================
// Collaborator Contracts
// =============================================================================

// Planner builds execution plans. Implemented by the planner package.
type Planner interface {
	Plan(ctx context.Context, request string, prior *datatypes.ConversationState) (*datatypes.Plan, error)
}

// Verifier judges answer grounding. Implemented by the verifier package.
type Verifier interface {
	Verify(answer *datatypes.FinalAnswer, evidence []datatypes.RetrievedContext) verifier.Verdict
}

// Recorder receives a record of each finished run. Implemented by the audit
// package; a nil Recorder disables auditing.
type Recorder interface {
	RecordRun(record RunRecord)
}

// RunRecord summarizes one finished execution for the audit sink.
type RunRecord struct {
	RequestId string
	SessionId string
	Success   bool
	ErrorCode datatypes.ErrorCode
	Cycles    int
	Duration  time.Duration
	Evidence  int
	Citations int
}

// EmitFunc receives progress events during a run. May be nil. The emitter
// must not block; droppable delivery is the stream layer's concern.
type EmitFunc func(event datatypes.StreamEvent)

// =============================================================================
// Configuration
// =============================================================================

// Config bounds a run. Zero values take the defaults below.
type Config struct {
	// MaxCycles is the hard ceiling on plan/verify cycles per request.
	MaxCycles int

	// StepTimeout bounds each capability call.
	StepTimeout time.Duration

	// MaxRetries is how many extra attempts a recoverable failure earns.
	MaxRetries int

	// RetryBaseDelay seeds the exponential backoff.
	RetryBaseDelay time.Duration

	// TopK and MinRelevance parameterize retrieval on the first cycle.
	// Re-retrieval cycles broaden from these values.
	TopK         int
	MinRelevance float64
}

func (c Config) withDefaults() Config {
	if c.MaxCycles <= 0 {
		c.MaxCycles = 5
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 1
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 250 * time.Millisecond
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.MinRelevance <= 0 {
		c.MinRelevance = 0.7
	}
	return c
}

// =============================================================================
// Executor
// =============================================================================

// Executor owns the execution loop and is the sole mutator of the
// ConversationState handed to Run.
//
// # Thread Safety
//
// Safe for concurrent Run calls on distinct states. Callers must never pass
// the same ConversationState into two concurrent runs; the conversation
// store's per-session lease guarantees that.
type Executor struct {
	cfg         Config
	planner     Planner
	retriever   capabilities.Retriever
	synthesizer capabilities.Synthesizer
	safety      capabilities.SafetyFilter
	verify      Verifier
	recorder    Recorder
	sleep       sleeper
}

// New wires an Executor. recorder may be nil.
func New(cfg Config, planner Planner, retriever capabilities.Retriever,
	synthesizer capabilities.Synthesizer, safety capabilities.SafetyFilter,
	verify Verifier, recorder Recorder) *Executor {
	return &Executor{
		cfg:         cfg.withDefaults(),
		planner:     planner,
		retriever:   retriever,
		synthesizer: synthesizer,
		safety:      safety,
		verify:      verify,
		recorder:    recorder,
		sleep:       realSleep,
	}
}

// Result is the terminal outcome of a run. Exactly one of Answer and
// Failure is set.
type Result struct {
	Answer   *datatypes.FinalAnswer
	Failure  *datatypes.AgentFailure
	Plan     *datatypes.Plan
	Cycles   int
	Duration time.Duration
}

// run carries the mutable state of one request through the loop.
type run struct {
	requestId string
	request   string
	persona   datatypes.Persona
	state     *datatypes.ConversationState
	emit      EmitFunc

	machineState State
	plan         *datatypes.Plan
	evidence     []datatypes.RetrievedContext
	answer       *datatypes.FinalAnswer
	failure      *datatypes.AgentFailure
	cycle        int

	// retrieval broadening for low-relevance replans
	topK         int
	minRelevance float64

	// set when a rejection only needs a fresh synthesis pass
	resynthesizeOnly bool
	// uncited_claim earns one re-synthesis before a full replan
	resynthesisUsed bool
}

func (r *run) emitThinking(format string, args ...any) {
	if r.emit != nil {
		r.emit(datatypes.ThinkingEvent(fmt.Sprintf(format, args...)))
	}
}

// Run executes one request to a terminal outcome.
//
// # Description
//
// The caller owns persistence: on success the mutated state (new history
// entries, cleared request fields) should be committed; on failure or
// cancellation the state copy is discarded, so no partial progress survives.
//
// # Inputs
//
//   - ctx: Cancellation and deadline for the whole request.
//   - state: The session's conversation state. Mutated in place.
//   - request: The user's question text.
//   - persona: Normalized persona for synthesis.
//   - emit: Optional progress event sink.
//
// # Outputs
//
//   - *Result: Terminal outcome; never nil. Result.Failure is non-nil on
//     any failure, including cancellation.
func (e *Executor) Run(ctx context.Context, state *datatypes.ConversationState,
	request string, persona datatypes.Persona, emit EmitFunc) *Result {

	ctx, span := tracer.Start(ctx, "executor.Run")
	defer span.End()

	started := time.Now()
	r := &run{
		requestId:    uuid.NewString(),
		request:      request,
		persona:      persona,
		state:        state,
		emit:         emit,
		machineState: StatePlanning,
		topK:         e.cfg.TopK,
		minRelevance: e.cfg.MinRelevance,
	}
	span.SetAttributes(attribute.String("executor.request_id", r.requestId))

	state.AddMessage(datatypes.RoleUser, request)

	// Input screening happens before any planning; an unsafe request never
	// reaches the capability agents.
	if failure := e.screenInput(ctx, r); failure != nil {
		r.failure = failure
		r.machineState = StateFailed
	} else {
		e.loop(ctx, r)
	}

	result := &Result{
		Answer:   r.answer,
		Failure:  r.failure,
		Plan:     r.plan,
		Cycles:   r.cycle,
		Duration: time.Since(started),
	}

	if result.Failure == nil && result.Answer != nil {
		state.AddMessage(datatypes.RoleAssistant, result.Answer.Content)
		state.ClearRequestState()
		span.SetAttributes(attribute.Int("executor.cycles", r.cycle))
	} else {
		span.SetStatus(codes.Error, string(result.Failure.ErrorCode))
	}

	if e.recorder != nil {
		record := RunRecord{
			RequestId: r.requestId,
			SessionId: state.SessionId,
			Success:   result.Failure == nil,
			Cycles:    r.cycle,
			Duration:  result.Duration,
			Evidence:  len(r.evidence),
		}
		if result.Failure != nil {
			record.ErrorCode = result.Failure.ErrorCode
		}
		if result.Answer != nil {
			record.Citations = len(result.Answer.Citations)
		}
		e.recorder.RecordRun(record)
	}

	return result
}

// loop drives the state machine until a terminal state.
func (e *Executor) loop(ctx context.Context, r *run) {
	for r.cycle = 1; r.cycle <= e.cfg.MaxCycles; r.cycle++ {
		if ctx.Err() != nil {
			r.failure = datatypes.FailureFromError(OriginID, ctx.Err())
			r.machineState = StateFailed
			return
		}

		if !e.runCycle(ctx, r) {
			return
		}
		// runCycle returned true: the verifier rejected and routing set up
		// the next cycle. Continue with the counter as the only recursion
		// bookkeeping.
	}

	// The post-increment leaves the counter one past the ceiling; the run
	// consumed exactly MaxCycles cycles.
	r.cycle = e.cfg.MaxCycles
	r.machineState = StateFailed
	r.failure = datatypes.NewAgentFailure(OriginID, datatypes.ErrCodeRecursionLimitExceeded,
		fmt.Sprintf("no grounded answer after %d cycles", e.cfg.MaxCycles), false).
		WithDetails(map[string]any{"max_cycles": e.cfg.MaxCycles})
	slog.Warn("Recursion ceiling reached", "request_id", r.requestId, "cycles", e.cfg.MaxCycles)
}

// runCycle executes one full pass. Returns true when the loop should run
// another cycle, false on any terminal outcome (r.machineState then holds
// ACCEPTED or FAILED).
func (e *Executor) runCycle(ctx context.Context, r *run) bool {
	// ----- PLANNING -----
	if r.machineState == StatePlanning {
		r.emitThinking("Planning how to answer...")
		plan, err := e.planner.Plan(ctx, r.request, r.state)
		if err != nil {
			r.failure = datatypes.FailureFromError(OriginID, err)
			r.machineState = StateFailed
			return false
		}
		r.plan = plan
		r.state.CurrentPlan = plan
	}

	// ----- DISPATCHING -----
	r.machineState = StateDispatching
	if !r.resynthesizeOnly {
		if failure := e.dispatchRetrieves(ctx, r); failure != nil {
			r.failure = failure
			r.machineState = StateFailed
			return false
		}
		r.state.ReplaceEvidence(r.evidence)

		// Degraded fallback: nothing cleared the relevance bar. An honest
		// insufficiency answer is a successful terminal state.
		if len(r.evidence) == 0 {
			r.emitThinking("No relevant evidence found; answering honestly.")
			r.answer = datatypes.InsufficientAnswer()
			e.completeRemainingSteps(r.plan)
			r.machineState = StateAccepted
			return false
		}
	}
	r.resynthesizeOnly = false

	if failure := e.dispatchSynthesis(ctx, r); failure != nil {
		r.failure = failure
		r.machineState = StateFailed
		return false
	}

	// ----- VERIFYING -----
	r.machineState = StateVerifying
	r.emitThinking("Verifying the answer against its sources...")
	verifyStep := r.plan.Step("verify")
	if verifyStep != nil {
		_ = verifyStep.SetStatus(datatypes.StepInProgress)
	}

	verdict := e.verify.Verify(r.answer, r.evidence)
	if verdict.Accepted {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordAccept()
		}
		if verifyStep != nil {
			_ = verifyStep.SetStatus(datatypes.StepCompleted)
		}
		if failure := e.screenOutput(ctx, r); failure != nil {
			r.failure = failure
			r.machineState = StateFailed
			return false
		}
		r.machineState = StateAccepted
		return false
	}

	if verifyStep != nil {
		_ = verifyStep.SetStatus(datatypes.StepFailed)
	}
	slog.Info("Verifier rejected the answer",
		"request_id", r.requestId,
		"reason", verdict.Reason,
		"cycle", r.cycle)

	// ----- REPLANNING -----
	r.machineState = StateReplanning
	e.routeRejection(r, verdict)
	return true
}

// routeRejection prepares the next cycle according to the rejection reason.
func (e *Executor) routeRejection(r *run, verdict verifier.Verdict) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordReplan(string(verdict.Reason))
	}
	switch verdict.Reason {
	case verifier.RejectCitationMismatch:
		// Same evidence, fresh synthesis: the evidence was fine, the
		// citations were not.
		r.emitThinking("Citations did not line up with the evidence; rewriting.")
		r.plan = resetForResynthesis(r.plan)
		r.state.CurrentPlan = r.plan
		r.resynthesizeOnly = true
		r.machineState = StateDispatching

	case verifier.RejectUncitedClaim:
		if !r.resynthesisUsed {
			r.emitThinking("The draft lacked citations; rewriting with explicit grounding.")
			r.resynthesisUsed = true
			r.plan = resetForResynthesis(r.plan)
			r.state.CurrentPlan = r.plan
			r.resynthesizeOnly = true
			r.machineState = StateDispatching
		} else {
			r.emitThinking("Still ungrounded; replanning from scratch.")
			r.machineState = StatePlanning
		}

	case verifier.RejectLowRelevanceOnly:
		// Broaden retrieval: more candidates, lower floor.
		r.emitThinking("Evidence was weak; searching more broadly.")
		r.topK *= 2
		r.minRelevance *= 0.75
		r.machineState = StatePlanning

	default:
		r.machineState = StatePlanning
	}
}

// screenInput applies the safety filter to the request.
func (e *Executor) screenInput(ctx context.Context, r *run) *datatypes.AgentFailure {
	verdict, err := e.safety.Enforce(ctx, r.request, capabilities.SafetyCheckInput)
	if err != nil {
		return datatypes.FailureFromError("guardrails.filter", err)
	}
	if !verdict.IsSafe {
		return datatypes.NewAgentFailure("guardrails.filter", datatypes.ErrCodeSafetyRejection,
			"request rejected by safety screening", false).
			WithDetails(map[string]any{"risk_category": verdict.RiskCategory})
	}
	return nil
}

// screenOutput applies the safety filter to the accepted answer, possibly
// substituting sanitized content.
func (e *Executor) screenOutput(ctx context.Context, r *run) *datatypes.AgentFailure {
	verdict, err := e.safety.Enforce(ctx, r.answer.Content, capabilities.SafetyCheckOutput)
	if err != nil {
		return datatypes.FailureFromError("guardrails.filter", err)
	}
	if !verdict.IsSafe {
		return datatypes.NewAgentFailure("guardrails.filter", datatypes.ErrCodeSafetyRejection,
			"answer withheld by safety screening", false).
			WithDetails(map[string]any{"risk_category": verdict.RiskCategory})
	}
	if verdict.SanitizedContent != "" {
		r.answer.Content = verdict.SanitizedContent
	}
	return nil
}

// dispatchRetrieves runs every retrieve step, independent ones
// concurrently, and accumulates deduplicated evidence in plan order.
func (e *Executor) dispatchRetrieves(ctx context.Context, r *run) *datatypes.AgentFailure {
	retrieveSteps := r.plan.StepsFor(datatypes.CapabilityRetrieve)
	if len(retrieveSteps) == 0 {
		return nil
	}

	r.emitThinking("Retrieving evidence across %d topics...", len(retrieveSteps))

	results := make([][]datatypes.RetrievedContext, len(retrieveSteps))
	failures := make([]*datatypes.AgentFailure, len(retrieveSteps))

	g, gctx := errgroup.WithContext(ctx)
	for i, step := range retrieveSteps {
		_ = step.SetStatus(datatypes.StepInProgress)
		g.Go(func() error {
			failure := e.callWithRetry(gctx, "memory.retriever", func(stepCtx context.Context) error {
				chunks, err := e.retriever.Query(stepCtx, capabilities.RetrievalQuery{
					Text:              step.Description,
					TopK:              r.topK,
					MinRelevanceScore: r.minRelevance,
				})
				if err != nil {
					return err
				}
				results[i] = chunks
				return nil
			})
			if failure != nil {
				failures[i] = failure
				_ = step.SetStatus(datatypes.StepFailed)
				// Returning the failure cancels the sibling retrieves; a
				// terminally failed step fails the request either way.
				return datatypes.NewAgentFailureError(failure)
			}
			_ = step.SetStatus(datatypes.StepCompleted)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, failure := range failures {
			if failure != nil {
				return failure
			}
		}
		return datatypes.FailureFromError(OriginID, err)
	}

	var merged []datatypes.RetrievedContext
	for _, chunks := range results {
		merged = append(merged, chunks...)
	}
	r.evidence = datatypes.DedupEvidence(merged)
	return nil
}

// dispatchSynthesis runs the synthesize step under the retry policy.
func (e *Executor) dispatchSynthesis(ctx context.Context, r *run) *datatypes.AgentFailure {
	step := r.plan.Step("synthesize")
	if step != nil {
		_ = step.SetStatus(datatypes.StepInProgress)
	}
	r.emitThinking("Synthesizing an answer from %d evidence chunks...", len(r.evidence))

	var answer *datatypes.FinalAnswer
	failure := e.callWithRetry(ctx, "tailor.synthesizer", func(stepCtx context.Context) error {
		generated, err := e.synthesizer.Generate(stepCtx, capabilities.SynthesisRequest{
			Query:    r.request,
			Evidence: r.evidence,
			Persona:  r.persona,
		})
		if err != nil {
			return err
		}
		answer = generated
		return nil
	})
	if failure != nil {
		if step != nil {
			_ = step.SetStatus(datatypes.StepFailed)
		}
		return failure
	}
	if step != nil {
		_ = step.SetStatus(datatypes.StepCompleted)
	}
	r.answer = answer
	return nil
}

// completeRemainingSteps marks non-terminal steps completed when the
// degraded fallback short-circuits the rest of the plan.
func (e *Executor) completeRemainingSteps(plan *datatypes.Plan) {
	for _, step := range plan.Steps {
		if !step.Terminal() {
			_ = step.SetStatus(datatypes.StepCompleted)
		}
	}
}

// resetForResynthesis builds a fresh plan instance for a re-synthesis
// cycle: retrieve steps carried over as completed, synthesize and verify
// pending again. A new instance keeps per-step status monotonic.
func resetForResynthesis(plan *datatypes.Plan) *datatypes.Plan {
	fresh := &datatypes.Plan{PlanId: plan.PlanId, Query: plan.Query}
	for _, step := range plan.Steps {
		copied := *step
		copied.DependsOn = append([]string(nil), step.DependsOn...)
		switch step.Capability {
		case datatypes.CapabilityRetrieve:
			copied.Status = datatypes.StepCompleted
		default:
			copied.Status = datatypes.StepPending
		}
		fresh.Steps = append(fresh.Steps, &copied)
	}
	return fresh
}
