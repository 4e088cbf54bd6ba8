// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/capabilities"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/executor"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/planner"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/verifier"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Doubles
// =============================================================================

type emptyRetriever struct{}

func (emptyRetriever) Query(ctx context.Context, query capabilities.RetrievalQuery) ([]datatypes.RetrievedContext, error) {
	return nil, nil
}

type unusedSynthesizer struct{}

func (unusedSynthesizer) Generate(ctx context.Context, req capabilities.SynthesisRequest) (*datatypes.FinalAnswer, error) {
	return datatypes.InsufficientAnswer(), nil
}

type allowAllSafety struct{}

func (allowAllSafety) Enforce(ctx context.Context, content string, checkType capabilities.SafetyCheckType) (*capabilities.SafetyVerdict, error) {
	return &capabilities.SafetyVerdict{IsSafe: true}, nil
}

type emptyIndexChecker struct{}

func (emptyIndexChecker) HasContent(ctx context.Context) (bool, int64, error) {
	return false, 0, nil
}

func testOptions() Options {
	store := conversation.NewStore(nil)
	exec := executor.New(
		executor.Config{MaxCycles: 2, StepTimeout: 5 * time.Second},
		planner.New(nil),
		emptyRetriever{},
		unusedSynthesizer{},
		allowAllSafety{},
		verifier.New(),
		nil,
	)
	return Options{
		QueryDeps:   handlers.QueryDeps{Executor: exec, Store: store},
		Store:       store,
		IndexStatus: emptyIndexChecker{},
	}
}

func newRouter(opts Options) *gin.Engine {
	router := gin.New()
	SetupRoutes(router, opts)
	return router
}

func do(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

// =============================================================================
// Route Registration
// =============================================================================

func TestSetupRoutesRegistersEndpoints(t *testing.T) {
	router := newRouter(testOptions())

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{method: http.MethodGet, path: "/health", want: http.StatusOK},
		{method: http.MethodGet, path: "/metrics", want: http.StatusOK},
		{method: http.MethodPost, path: "/v1/query", body: `{"text":"anything indexed yet?"}`, want: http.StatusOK},
		{method: http.MethodGet, path: "/v1/index/status", want: http.StatusOK},
		{method: http.MethodGet, path: "/v1/sessions", want: http.StatusOK},
		{method: http.MethodGet, path: "/v1/sessions/ghost/history", want: http.StatusNotFound},
		{method: http.MethodDelete, path: "/v1/sessions/ghost", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			recorder := do(router, tt.method, tt.path, tt.body, nil)
			if recorder.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s",
					recorder.Code, tt.want, recorder.Body.String())
			}
		})
	}
}

func TestSetupRoutesUnknownPath(t *testing.T) {
	router := newRouter(testOptions())
	if recorder := do(router, http.MethodGet, "/v1/nope", "", nil); recorder.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", recorder.Code)
	}
}

// =============================================================================
// Auth
// =============================================================================

func TestSetupRoutesAuthGuardsV1Only(t *testing.T) {
	opts := testOptions()
	opts.APIKey = "secret-key"
	router := newRouter(opts)

	t.Run("health stays open", func(t *testing.T) {
		if recorder := do(router, http.MethodGet, "/health", "", nil); recorder.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", recorder.Code)
		}
	})

	t.Run("v1 without token", func(t *testing.T) {
		if recorder := do(router, http.MethodGet, "/v1/sessions", "", nil); recorder.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", recorder.Code)
		}
	})

	t.Run("v1 with wrong token", func(t *testing.T) {
		headers := map[string]string{"Authorization": "Bearer wrong"}
		if recorder := do(router, http.MethodGet, "/v1/sessions", "", headers); recorder.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", recorder.Code)
		}
	})

	t.Run("v1 with the right token", func(t *testing.T) {
		headers := map[string]string{"Authorization": "Bearer secret-key"}
		if recorder := do(router, http.MethodGet, "/v1/sessions", "", headers); recorder.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", recorder.Code)
		}
	})
}

// =============================================================================
// Rate Limiting
// =============================================================================

func TestSetupRoutesRateLimitAppliesToV1(t *testing.T) {
	opts := testOptions()
	opts.RateLimit = middleware.NewRateLimiter(1, 1)
	router := newRouter(opts)

	first := do(router, http.MethodGet, "/v1/sessions", "", nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d", first.Code)
	}

	second := do(router, http.MethodGet, "/v1/sessions", "", nil)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("rejected request must carry a Retry-After hint")
	}

	// The limiter guards /v1, not the operational endpoints.
	if health := do(router, http.MethodGet, "/health", "", nil); health.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", health.Code)
	}
}
