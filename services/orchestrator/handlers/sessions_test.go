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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
)

func sessionRouter(store *conversation.Store) *gin.Engine {
	router := gin.New()
	router.GET("/v1/sessions", HandleListSessions(store))
	router.GET("/v1/sessions/:id/history", HandleSessionHistory(store))
	router.DELETE("/v1/sessions/:id", HandleDeleteSession(store))
	return router
}

// seedSession runs one committed turn so the store has visible state.
func seedSession(t *testing.T, store *conversation.Store, sessionId string) {
	t.Helper()
	state, err := store.Acquire(sessionId)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	state.AddMessage(datatypes.RoleUser, "When does Project Alpha launch?")
	state.AddMessage(datatypes.RoleAssistant, "Project Alpha launches in May.")
	if err := store.Commit(context.Background(), state); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestHandleListSessions(t *testing.T) {
	store := conversation.NewStore(nil)
	seedSession(t, store, "s1")
	seedSession(t, store, "s2")
	router := sessionRouter(store)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var response struct {
		Sessions []datatypes.SessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(response.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(response.Sessions))
	}
	for _, summary := range response.Sessions {
		if summary.MessageCount != 2 {
			t.Errorf("session %s message count = %d, want 2",
				summary.SessionId, summary.MessageCount)
		}
	}
}

func TestHandleSessionHistory(t *testing.T) {
	store := conversation.NewStore(nil)
	seedSession(t, store, "s1")
	router := sessionRouter(store)

	t.Run("known session", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/history", nil))

		if recorder.Code != http.StatusOK {
			t.Fatalf("status = %d", recorder.Code)
		}
		var response datatypes.SessionHistoryResponse
		if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if response.SessionId != "s1" || len(response.History) != 2 {
			t.Errorf("got session %q with %d messages", response.SessionId, len(response.History))
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/sessions/ghost/history", nil))

		if recorder.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", recorder.Code)
		}
	})
}

func TestHandleDeleteSession(t *testing.T) {
	t.Run("deletes a settled session", func(t *testing.T) {
		store := conversation.NewStore(nil)
		seedSession(t, store, "s1")
		router := sessionRouter(store)

		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/v1/sessions/s1", nil))

		if recorder.Code != http.StatusOK {
			t.Fatalf("status = %d", recorder.Code)
		}
		if _, err := store.History("s1"); err == nil {
			t.Error("session still readable after delete")
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		store := conversation.NewStore(nil)
		router := sessionRouter(store)

		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/v1/sessions/ghost", nil))

		if recorder.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", recorder.Code)
		}
	})

	t.Run("leased session conflicts", func(t *testing.T) {
		store := conversation.NewStore(nil)
		seedSession(t, store, "s1")
		if _, err := store.Acquire("s1"); err != nil {
			t.Fatalf("acquire: %v", err)
		}
		defer store.Release("s1")
		router := sessionRouter(store)

		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/v1/sessions/s1", nil))

		if recorder.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", recorder.Code)
		}
		if _, err := store.History("s1"); err != nil {
			t.Error("conflicting delete must leave the session intact")
		}
	})
}
