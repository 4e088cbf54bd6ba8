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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/observability"
)

// WSQueryRequest is one question sent over an open WebSocket connection.
type WSQueryRequest struct {
	Text    string `json:"text"`
	Persona string `json:"persona,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024 * 1024,
	WriteBufferSize: 1024 * 1024,
}

// wsEventWriter implements EventWriter over a WebSocket connection. Each
// event is one JSON text message, hash-chained the same way as SSE frames.
type wsEventWriter struct {
	conn     *websocket.Conn
	prevHash string
	mu       sync.Mutex
}

var _ EventWriter = (*wsEventWriter)(nil)

func (w *wsEventWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Type != datatypes.StreamEventThinking {
		event.PrevHash = w.prevHash
		event.Hash = computeEventHash(event)
		w.prevHash = event.Hash
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsEventWriter) WriteThinking(content string) error {
	return w.WriteEvent(datatypes.ThinkingEvent(content))
}

func (w *wsEventWriter) WriteToken(index int, content string) error {
	return w.WriteEvent(datatypes.TokenEvent(index, content))
}

func (w *wsEventWriter) WriteSources(citations []datatypes.SourceCitation) error {
	return w.WriteEvent(datatypes.SourcesEvent(citations))
}

func (w *wsEventWriter) WriteComplete(sessionId string, answer *datatypes.FinalAnswer) error {
	return w.WriteEvent(datatypes.CompleteEvent(sessionId, answer))
}

func (w *wsEventWriter) WriteError(sessionId string, failure *datatypes.AgentFailure) error {
	return w.WriteEvent(datatypes.ErrorEvent(sessionId, failure))
}

func (w *wsEventWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// HandleQueryWebSocket answers GET /v1/query/ws.
//
// # Description
//
// Upgrades the connection, mints a session for its lifetime, and answers
// each incoming question with the same event stream the SSE endpoint
// produces. Questions on one connection are answered strictly in order;
// the per-session lease enforces that even if a client pipelines sends.
func HandleQueryWebSocket(deps QueryDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		sessionId := uuid.NewString()
		slog.Info("New websocket session started", "session_id", sessionId)

		writer := &wsEventWriter{conn: ws}
		if err := ws.WriteJSON(map[string]any{
			"action":     "session_created",
			"session_id": sessionId,
		}); err != nil {
			return
		}

		endpoint := observability.EndpointQueryWS
		if m := deps.Metrics; m != nil {
			m.StreamStarted(endpoint)
			defer m.StreamEnded(endpoint)
		}

		for {
			var request WSQueryRequest
			if err := ws.ReadJSON(&request); err != nil {
				slog.Info("Websocket client disconnected", "session_id", sessionId, "error", err.Error())
				return
			}

			if err := answerOverWebSocket(c, deps, writer, sessionId, request); err != nil {
				return
			}
		}
	}
}

// answerOverWebSocket runs one question to a terminal frame. Returns an
// error only when the connection is unusable.
func answerOverWebSocket(c *gin.Context, deps QueryDeps, writer EventWriter,
	sessionId string, request WSQueryRequest) error {

	ctx := c.Request.Context()
	endpoint := observability.EndpointQueryWS

	queryReq := datatypes.QueryRequest{Text: request.Text}
	if err := queryReq.Validate(); err != nil {
		return writer.WriteError(sessionId, datatypes.NewAgentFailure(
			"handlers.websocket", datatypes.ErrCodeUnsupportedInputFormat,
			"Request validation failed: "+err.Error(), false))
	}

	state, err := deps.Store.Acquire(sessionId)
	if err != nil {
		return writer.WriteError(sessionId, datatypes.NewAgentFailure(
			"handlers.websocket", datatypes.ErrCodeInternal,
			"Session already has a request in flight", false))
	}

	persona := datatypes.NormalizePersona(request.Persona)
	started := time.Now()
	result := runWithProgress(ctx, deps, writer, state, request.Text, persona, endpoint)
	recordOutcome(deps.Metrics, endpoint, result, started)

	if result.Failure != nil {
		deps.Store.Release(sessionId)
		return writer.WriteError(sessionId, result.Failure)
	}

	if err := streamAnswer(writer, deps.Metrics, endpoint, started, sessionId, result.Answer); err != nil {
		deps.Store.Release(sessionId)
		return err
	}

	commitState(ctx, deps, state)
	return nil
}
