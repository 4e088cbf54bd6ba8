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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
)

// HandleListSessions answers GET /v1/sessions.
func HandleListSessions(store *conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": store.List()})
	}
}

// HandleSessionHistory answers GET /v1/sessions/:id/history.
func HandleSessionHistory(store *conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId := c.Param("id")
		history, err := store.History(sessionId)
		if err != nil {
			if errors.Is(err, conversation.ErrSessionNotFound) {
				c.JSON(http.StatusNotFound, datatypes.ErrorResponse{
					ErrorCode: datatypes.ErrCodeSourceNotFound,
					Message:   "Session not found",
					SessionId: sessionId,
				})
				return
			}
			slog.Error("Failed to load session history", "session_id", sessionId, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
				ErrorCode: datatypes.ErrCodeInternal,
				Message:   "Failed to load session history",
				SessionId: sessionId,
			})
			return
		}

		c.JSON(http.StatusOK, datatypes.SessionHistoryResponse{
			SessionId: sessionId,
			History:   history,
		})
	}
}

// HandleDeleteSession answers DELETE /v1/sessions/:id.
//
// # Description
//
// A session with a request in flight cannot be deleted; the client gets a
// conflict and should retry after the request settles.
func HandleDeleteSession(store *conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId := c.Param("id")
		err := store.Delete(c.Request.Context(), sessionId)
		switch {
		case errors.Is(err, conversation.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{
				ErrorCode: datatypes.ErrCodeSourceNotFound,
				Message:   "Session not found",
				SessionId: sessionId,
			})
		case errors.Is(err, conversation.ErrSessionBusy):
			c.JSON(http.StatusConflict, datatypes.ErrorResponse{
				ErrorCode: datatypes.ErrCodeInternal,
				Message:   "Session has a request in flight",
				SessionId: sessionId,
			})
		case err != nil:
			slog.Error("Failed to delete session", "session_id", sessionId, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
				ErrorCode: datatypes.ErrCodeInternal,
				Message:   "Failed to delete session",
				SessionId: sessionId,
			})
		default:
			slog.Info("Deleted session", "session_id", sessionId)
			c.JSON(http.StatusOK, gin.H{"deleted": sessionId})
		}
	}
}
