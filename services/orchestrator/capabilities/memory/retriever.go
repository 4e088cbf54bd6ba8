// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory implements the evidence retriever over Weaviate.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/capabilities"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.answers.memory")

// OriginID identifies this agent in failure reports.
const OriginID = "memory.retriever"

// DefaultTopK and DefaultMinRelevance apply when a query leaves them unset.
const (
	DefaultTopK         = 5
	DefaultMinRelevance = 0.7
)

// Retriever fetches evidence chunks from the KnowledgeChunk class using
// semantic (nearText) search.
//
// # Thread Safety
//
// Safe for concurrent use. The Weaviate client pools connections
// internally.
type Retriever struct {
	client *weaviate.Client
}

var _ capabilities.Retriever = (*Retriever)(nil)

// NewRetriever wraps a connected Weaviate client.
func NewRetriever(client *weaviate.Client) *Retriever {
	return &Retriever{client: client}
}

// Query implements capabilities.Retriever.
//
// Results below the relevance floor are discarded here so the executor only
// ever sees evidence it is allowed to cite. Zero surviving results is a
// successful empty return, never an error.
func (r *Retriever) Query(ctx context.Context, query capabilities.RetrievalQuery) ([]datatypes.RetrievedContext, error) {
	ctx, span := tracer.Start(ctx, "memory.Query")
	defer span.End()

	topK := query.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	minScore := query.MinRelevanceScore
	if minScore <= 0 {
		minScore = DefaultMinRelevance
	}
	span.SetAttributes(
		attribute.Int("retrieval.top_k", topK),
		attribute.Float64("retrieval.min_relevance", minScore),
	)

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query.Text})

	fields := []graphql.Field{
		{Name: "chunk_id"},
		{Name: "content"},
		{Name: "source_id"},
		{Name: "source_url"},
		{Name: "source_type"},
		{Name: "ingested_at"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
			{Name: "distance"},
		}},
	}

	builder := r.client.GraphQL().Get().
		WithClassName(datatypes.KnowledgeChunkClass).
		WithNearText(nearText).
		WithFields(fields...).
		WithLimit(topK)

	if where := buildWhereFilter(query.Filters); where != nil {
		builder = builder.WithWhere(where)
	}

	resp, err := builder.Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classifyWeaviateError(err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.KnowledgeChunkQueryResponse](resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, datatypes.NewAgentFailureError(
			datatypes.NewAgentFailure(OriginID, datatypes.ErrCodeInternal,
				fmt.Sprintf("failed to parse retrieval response: %v", err), false))
	}

	evidence := make([]datatypes.RetrievedContext, 0, len(parsed.Get.KnowledgeChunk))
	for i := range parsed.Get.KnowledgeChunk {
		chunk := parsed.Get.KnowledgeChunk[i].ToRetrievedContext()
		if chunk.RelevanceScore < minScore {
			continue
		}
		evidence = append(evidence, chunk)
	}

	slog.Debug("Retrieved evidence chunks",
		"query_len", len(query.Text),
		"returned", len(parsed.Get.KnowledgeChunk),
		"above_threshold", len(evidence))
	span.SetAttributes(attribute.Int("retrieval.result_count", len(evidence)))

	return evidence, nil
}

// HasContent reports whether the KnowledgeChunk class holds any objects,
// along with the count. Backs the read-only index status endpoint.
func (r *Retriever) HasContent(ctx context.Context) (bool, int64, error) {
	ctx, span := tracer.Start(ctx, "memory.HasContent")
	defer span.End()

	resp, err := r.client.GraphQL().Aggregate().
		WithClassName(datatypes.KnowledgeChunkClass).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, 0, fmt.Errorf("failed to aggregate %s: %w", datatypes.KnowledgeChunkClass, err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.KnowledgeChunkAggregateResponse](resp)
	if err != nil {
		return false, 0, fmt.Errorf("failed to parse aggregate response: %w", err)
	}

	count := parsed.Count()
	return count > 0, count, nil
}

// buildWhereFilter converts the generic filter map into a Weaviate where
// clause. Multiple entries combine with AND.
func buildWhereFilter(filterMap map[string]string) *filters.WhereBuilder {
	if len(filterMap) == 0 {
		return nil
	}
	var operands []*filters.WhereBuilder
	for key, value := range filterMap {
		operands = append(operands, filters.Where().
			WithPath([]string{key}).
			WithOperator(filters.Equal).
			WithValueString(value))
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

// classifyWeaviateError maps client errors onto the closed failure codes.
func classifyWeaviateError(err error) error {
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "401") || strings.Contains(lowered, "unauthorized") ||
		strings.Contains(lowered, "403") || strings.Contains(lowered, "forbidden"):
		return datatypes.NewAgentFailureError(
			datatypes.NewAgentFailure(OriginID, datatypes.ErrCodeSourceAuthFailure, msg, false))
	case strings.Contains(lowered, "404") || strings.Contains(lowered, "could not find class"):
		return datatypes.NewAgentFailureError(
			datatypes.NewAgentFailure(OriginID, datatypes.ErrCodeSourceNotFound, msg, false))
	case strings.Contains(lowered, "context deadline exceeded") || strings.Contains(lowered, "timeout"):
		return datatypes.NewAgentFailureError(
			datatypes.NewAgentFailure(OriginID, datatypes.ErrCodeTimeout, msg, true))
	default:
		// Connection-level trouble is worth one retry.
		return datatypes.NewAgentFailureError(
			datatypes.NewAgentFailure(OriginID, datatypes.ErrCodeInternal, msg, true))
	}
}
