// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Encapsulates the marshal/unmarshal pattern required to convert Weaviate's
// dynamic response (map[string]models.JSONObject) into a strongly-typed Go
// struct. The target type T must have json tags matching the expected
// response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from the Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if the response is nil or parsing fails.
//
// # Limitations
//
//   - Type mismatches produce zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// KnowledgeChunk Responses
// =============================================================================

// KnowledgeChunkQueryResponse is the shape of a Get query over the
// KnowledgeChunk class.
type KnowledgeChunkQueryResponse struct {
	Get struct {
		KnowledgeChunk []KnowledgeChunkResult `json:"KnowledgeChunk"`
	} `json:"Get"`
}

// KnowledgeChunkResult is one evidence chunk as returned by Weaviate.
type KnowledgeChunkResult struct {
	ChunkId    string `json:"chunk_id"`
	Content    string `json:"content"`
	SourceId   string `json:"source_id"`
	SourceUrl  string `json:"source_url"`
	SourceType string `json:"source_type"`
	IngestedAt string `json:"ingested_at"`
	Additional struct {
		ID        string   `json:"id"`
		Distance  *float32 `json:"distance"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// ToRetrievedContext converts a Weaviate result row into the immutable
// evidence type. Relevance comes from certainty when present, otherwise
// from distance (1 - distance).
func (r *KnowledgeChunkResult) ToRetrievedContext() RetrievedContext {
	score := 0.0
	switch {
	case r.Additional.Certainty != nil:
		score = float64(*r.Additional.Certainty)
	case r.Additional.Distance != nil:
		score = 1.0 - float64(*r.Additional.Distance)
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	chunkId := r.ChunkId
	if chunkId == "" {
		chunkId = r.Additional.ID
	}

	metadata := map[string]any{}
	if r.SourceType != "" {
		metadata["source_type"] = r.SourceType
	}
	if r.IngestedAt != "" {
		if ts, err := strfmt.ParseDateTime(r.IngestedAt); err == nil {
			metadata["ingested_at"] = time.Time(ts)
		}
	}

	return RetrievedContext{
		ChunkId:        chunkId,
		Content:        r.Content,
		SourceId:       r.SourceId,
		SourceUrl:      r.SourceUrl,
		RelevanceScore: score,
		Metadata:       metadata,
	}
}

// KnowledgeChunkAggregateResponse is the shape of an Aggregate count query
// over the KnowledgeChunk class, used by the index status endpoint.
type KnowledgeChunkAggregateResponse struct {
	Aggregate struct {
		KnowledgeChunk []struct {
			Meta struct {
				Count int64 `json:"count"`
			} `json:"meta"`
		} `json:"KnowledgeChunk"`
	} `json:"Aggregate"`
}

// Count returns the aggregated object count, zero when the class is absent.
func (r *KnowledgeChunkAggregateResponse) Count() int64 {
	if len(r.Aggregate.KnowledgeChunk) == 0 {
		return 0
	}
	return r.Aggregate.KnowledgeChunk[0].Meta.Count
}

// =============================================================================
// KnowledgeChunk Properties
// =============================================================================

// KnowledgeChunkProperties is the property set for creating a KnowledgeChunk
// object, used by tests and seeding tools.
type KnowledgeChunkProperties struct {
	ChunkId    string
	Content    string
	SourceId   string
	SourceUrl  string
	SourceType string
	IngestedAt time.Time
}

// ToMap converts the properties to the map format Weaviate's
// WithProperties() requires. The date field uses strfmt so it round-trips
// through Weaviate's RFC3339 date type.
func (p *KnowledgeChunkProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"chunk_id":    p.ChunkId,
		"content":     p.Content,
		"source_id":   p.SourceId,
		"source_url":  p.SourceUrl,
		"source_type": p.SourceType,
		"ingested_at": strfmt.DateTime(p.IngestedAt).String(),
	}
}
