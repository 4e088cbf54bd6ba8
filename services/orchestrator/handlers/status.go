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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
)

// IndexStatusChecker reports whether the knowledge base holds any content.
// Implemented by the memory retriever.
type IndexStatusChecker interface {
	HasContent(ctx context.Context) (bool, int64, error)
}

// HandleIndexStatus answers GET /v1/index/status.
//
// # Description
//
// Reports whether the knowledge base has retrievable content. Clients use
// this to warn users that every question will get the insufficiency answer
// until something is ingested.
func HandleIndexStatus(checker IndexStatusChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		hasContent, count, err := checker.HasContent(c.Request.Context())
		if err != nil {
			slog.Error("Index status check failed", "error", err)
			c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{
				ErrorCode: datatypes.ErrCodeSourceNotFound,
				Message:   "Knowledge base is unreachable",
			})
			return
		}

		c.JSON(http.StatusOK, datatypes.IndexStatusResponse{
			HasContent: hasContent,
			ChunkCount: count,
			ClassName:  datatypes.KnowledgeChunkClass,
			CheckedAt:  time.Now().UTC(),
		})
	}
}

// HandleHealth answers GET /health with a liveness payload.
func HandleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "orchestrator",
		})
	}
}
