// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// GenerationParams tunes a single generation call. Nil fields fall back to
// backend defaults.
type GenerationParams struct {
	System      string   `json:"system,omitempty"`
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// TokenHandler receives answer fragments in order during streaming
// generation. Returning an error aborts the stream.
type TokenHandler func(token string) error

// LLMClient is the standard interface for any LLM backend.
type LLMClient interface {
	// Generate produces a complete response for the prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// GenerateStream produces a response incrementally, invoking onToken for
	// each fragment, and returns the full concatenated text.
	GenerateStream(ctx context.Context, prompt string, params GenerationParams, onToken TokenHandler) (string, error)
}

// NewClientFromEnv builds the backend selected by LLM_PROVIDER
// (openai or ollama, default ollama).
func NewClientFromEnv() (LLMClient, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER")))
	switch provider {
	case "openai":
		return NewOpenAIClient()
	case "", "ollama":
		return NewOllamaClient()
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q (expected openai or ollama)", provider)
	}
}
