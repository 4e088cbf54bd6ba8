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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/middleware"
)

// Options carries everything route registration needs.
type Options struct {
	QueryDeps   handlers.QueryDeps
	Store       *conversation.Store
	IndexStatus handlers.IndexStatusChecker

	// APIKey enables bearer auth on /v1 when non-empty.
	APIKey string

	// RateLimit enables per-client limiting on /v1 when non-nil.
	RateLimit *middleware.RateLimiter
}

// SetupRoutes registers every endpoint on the router.
func SetupRoutes(router *gin.Engine, opts Options) {
	router.GET("/health", handlers.HandleHealth())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.APIKey))
	if opts.RateLimit != nil {
		v1.Use(opts.RateLimit.Middleware())
	}
	{
		v1.POST("/query", handlers.HandleQuery(opts.QueryDeps))
		v1.GET("/query/ws", handlers.HandleQueryWebSocket(opts.QueryDeps))
		v1.GET("/index/status", handlers.HandleIndexStatus(opts.IndexStatus))

		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.HandleListSessions(opts.Store))
			sessions.GET("/:id/history", handlers.HandleSessionHistory(opts.Store))
			sessions.DELETE("/:id", handlers.HandleDeleteSession(opts.Store))
		}
	}
}
