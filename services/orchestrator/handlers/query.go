// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/executor"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/observability"
)

var queryTracer = otel.Tracer("aleutian.answers.handlers")

// thinkingBufferSize bounds in-flight thinking events per stream. When the
// buffer is full new thinking events are dropped; they are the only
// droppable frame type.
const thinkingBufferSize = 32

// keepAliveInterval is how often an idle stream gets a transport ping.
const keepAliveInterval = 15 * time.Second

// tokenChunkSize is how many runes each token frame carries when streaming
// the verified answer.
const tokenChunkSize = 24

// QueryDeps carries the collaborators of the query endpoints.
type QueryDeps struct {
	Executor *executor.Executor
	Store    *conversation.Store
	Metrics  *observability.OrchestratorMetrics

	// Archive is called in the background after each successful commit.
	// May be nil.
	Archive func(ctx context.Context, state *datatypes.ConversationState)
}

// HandleQuery answers POST /v1/query.
//
// # Description
//
// Validates the request, leases the session, runs the execution loop, and
// responds either synchronously (JSON) or as an SSE stream when the request
// asks for one. A session with a request already in flight is rejected with
// 409 rather than queued.
//
// The session lease discipline is what makes cancellation safe: the loop
// mutates a private copy of the conversation state, and only a successful
// run commits it.
func HandleQuery(deps QueryDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := queryTracer.Start(c.Request.Context(), "HandleQuery")
		defer span.End()

		var request datatypes.QueryRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				ErrorCode: datatypes.ErrCodeUnsupportedInputFormat,
				Message:   "Invalid request body",
			})
			return
		}
		if err := request.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				ErrorCode: datatypes.ErrCodeUnsupportedInputFormat,
				Message:   "Request validation failed: " + err.Error(),
			})
			return
		}

		sessionId := request.SessionId
		if sessionId == "" {
			sessionId = uuid.NewString()
			slog.Info("No session id provided, creating a new one", "session_id", sessionId)
		}
		span.SetAttributes(
			attribute.String("session_id", sessionId),
			attribute.Bool("stream", request.Stream),
		)

		state, err := deps.Store.Acquire(sessionId)
		if err != nil {
			if errors.Is(err, conversation.ErrSessionBusy) {
				c.JSON(http.StatusConflict, datatypes.ErrorResponse{
					ErrorCode: datatypes.ErrCodeInternal,
					Message:   "Session already has a request in flight",
					SessionId: sessionId,
				})
				return
			}
			span.RecordError(err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
				ErrorCode: datatypes.ErrCodeInternal,
				Message:   "Failed to open session",
				SessionId: sessionId,
			})
			return
		}

		persona := datatypes.NormalizePersona(request.Persona)

		if request.Stream {
			streamQuery(ctx, c, deps, state, request.Text, persona)
			return
		}
		syncQuery(ctx, c, deps, state, request.Text, persona)
	}
}

// syncQuery runs the loop and responds with a single JSON payload.
func syncQuery(ctx context.Context, c *gin.Context, deps QueryDeps,
	state *datatypes.ConversationState, text string, persona datatypes.Persona) {

	sessionId := state.SessionId
	started := time.Now()
	result := deps.Executor.Run(ctx, state, text, persona, nil)
	recordOutcome(deps.Metrics, observability.EndpointQuerySync, result, started)

	if result.Failure != nil {
		deps.Store.Release(sessionId)
		c.JSON(statusForErrorCode(result.Failure.ErrorCode), datatypes.ErrorResponse{
			ErrorCode: result.Failure.ErrorCode,
			Message:   result.Failure.Message,
			SessionId: sessionId,
		})
		return
	}

	commitState(c.Request.Context(), deps, state)
	c.JSON(http.StatusOK, datatypes.QueryResponse{
		SessionId:        sessionId,
		Answer:           result.Answer,
		Plan:             result.Plan,
		ProcessingTimeMs: result.Duration.Milliseconds(),
	})
}

// streamQuery runs the loop while relaying progress over SSE.
//
// # Description
//
// Thinking events flow live through a bounded buffer and are dropped when
// the client cannot keep up. Tokens are streamed only after verification,
// chunked from the final content, so their concatenation always equals the
// complete event's content. Exactly one terminal frame ends the stream.
func streamQuery(ctx context.Context, c *gin.Context, deps QueryDeps,
	state *datatypes.ConversationState, text string, persona datatypes.Persona) {

	sessionId := state.SessionId
	endpoint := observability.EndpointQueryStream

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		deps.Store.Release(sessionId)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			ErrorCode: datatypes.ErrCodeInternal,
			Message:   "Streaming not supported by this connection",
			SessionId: sessionId,
		})
		return
	}

	if m := deps.Metrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	started := time.Now()
	result := runWithProgress(ctx, deps, writer, state, text, persona, endpoint)
	recordOutcome(deps.Metrics, endpoint, result, started)

	if ctx.Err() != nil {
		// The client went away; nothing to write and nothing to commit.
		deps.Store.Release(sessionId)
		if m := deps.Metrics; m != nil {
			m.RecordClientDisconnect(endpoint)
		}
		slog.Info("Client disconnected during stream", "session_id", sessionId)
		return
	}

	if result.Failure != nil {
		deps.Store.Release(sessionId)
		if err := writer.WriteError(sessionId, result.Failure); err != nil {
			slog.Warn("Failed to write error frame", "session_id", sessionId, "error", err)
		}
		return
	}

	if err := streamAnswer(writer, deps.Metrics, endpoint, started, sessionId, result.Answer); err != nil {
		// Mid-stream write failure: the client is gone, the answer was never
		// terminally delivered, so the turn does not commit.
		deps.Store.Release(sessionId)
		if m := deps.Metrics; m != nil {
			m.RecordClientDisconnect(endpoint)
		}
		slog.Warn("Stream aborted mid-answer", "session_id", sessionId, "error", err)
		return
	}

	commitState(c.Request.Context(), deps, state)
}

// runWithProgress executes the loop with a live thinking relay and
// keep-alive pings.
func runWithProgress(ctx context.Context, deps QueryDeps, writer EventWriter,
	state *datatypes.ConversationState, text string, persona datatypes.Persona,
	endpoint observability.Endpoint) *executor.Result {

	thinking := make(chan datatypes.StreamEvent, thinkingBufferSize)
	emit := func(event datatypes.StreamEvent) {
		select {
		case thinking <- event:
		default:
			if m := deps.Metrics; m != nil {
				m.RecordDroppedThinking(endpoint)
			}
		}
	}

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case event, ok := <-thinking:
				if !ok {
					return
				}
				if err := writer.WriteEvent(event); err != nil {
					slog.Debug("Dropping thinking frame, write failed", "error", err)
				}
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					slog.Debug("Keep-alive write failed", "error", err)
				}
			}
		}
	}()

	result := deps.Executor.Run(ctx, state, text, persona, emit)
	close(thinking)
	<-relayDone
	return result
}

// streamAnswer delivers sources, tokens, and the terminal complete frame.
func streamAnswer(writer EventWriter, metrics *observability.OrchestratorMetrics,
	endpoint observability.Endpoint, started time.Time,
	sessionId string, answer *datatypes.FinalAnswer) error {

	if err := writer.WriteSources(answer.Citations); err != nil {
		return err
	}

	// Tokens are mirrored into locked memory and hashed so the delivered
	// sequence provably reassembles to the verified content.
	acc, err := NewTokenAccumulator()
	if err != nil {
		slog.Warn("Secure accumulator unavailable, streaming without mirror", "error", err)
	}

	firstToken := true
	for index, chunk := range chunkContent(answer.Content, tokenChunkSize) {
		if acc != nil {
			if werr := acc.Write(chunk); werr != nil {
				slog.Warn("Accumulator write failed", "error", werr)
				acc.Destroy()
				acc = nil
			}
		}
		if err := writer.WriteToken(index, chunk); err != nil {
			if acc != nil {
				acc.Destroy()
			}
			return err
		}
		if firstToken {
			if metrics != nil {
				metrics.RecordTimeToFirstToken(endpoint, time.Since(started).Seconds())
			}
			firstToken = false
		}
	}

	if acc != nil {
		mirrored, hash, ferr := acc.Finalize()
		if ferr != nil {
			slog.Warn("Accumulator finalize failed", "session_id", sessionId, "error", ferr)
		} else if mirrored != answer.Content {
			slog.Error("Token stream mirror diverged from verified content",
				"session_id", sessionId, "hash", hash)
		}
	}

	return writer.WriteComplete(sessionId, answer)
}

// chunkContent splits content into rune-safe fragments whose concatenation
// is exactly the input.
func chunkContent(content string, size int) []string {
	if content == "" {
		return nil
	}
	runes := []rune(content)
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// commitState commits the session and kicks off background archival.
func commitState(ctx context.Context, deps QueryDeps, state *datatypes.ConversationState) {
	if err := deps.Store.Commit(ctx, state); err != nil {
		slog.Error("Failed to commit session state",
			"session_id", state.SessionId, "error", err)
		return
	}
	if deps.Archive != nil {
		snapshot := state.Clone()
		go deps.Archive(context.WithoutCancel(ctx), snapshot)
	}
}

// recordOutcome updates request metrics for one finished run.
func recordOutcome(metrics *observability.OrchestratorMetrics,
	endpoint observability.Endpoint, result *executor.Result, started time.Time) {

	if metrics == nil {
		return
	}
	success := result.Failure == nil
	metrics.RecordRequest(endpoint, success)
	metrics.RecordCycles(result.Cycles, success)
	metrics.RecordDuration(endpoint, time.Since(started).Seconds(), success)
	if !success {
		metrics.RecordError(endpoint, string(result.Failure.ErrorCode))
	}
}

// statusForErrorCode maps the closed error codes onto HTTP statuses.
func statusForErrorCode(code datatypes.ErrorCode) int {
	switch code {
	case datatypes.ErrCodeSafetyRejection:
		return http.StatusForbidden
	case datatypes.ErrCodeUnsupportedInputFormat:
		return http.StatusBadRequest
	case datatypes.ErrCodeSourceNotFound,
		datatypes.ErrCodeSourceAuthFailure,
		datatypes.ErrCodeGroundingFailure:
		return http.StatusBadGateway
	case datatypes.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case datatypes.ErrCodeRecursionLimitExceeded:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
