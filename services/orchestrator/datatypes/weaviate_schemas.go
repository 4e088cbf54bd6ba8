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
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// KnowledgeChunkClass is the Weaviate class holding retrievable evidence.
const KnowledgeChunkClass = "KnowledgeChunk"

// GetKnowledgeChunkSchema returns the class definition for evidence chunks.
//
// Vectorization is delegated to the cluster's configured module; the
// orchestrator never computes embeddings itself.
func GetKnowledgeChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       KnowledgeChunkClass,
		Description: "A chunk of source material retrievable as answer evidence.",
		Vectorizer:  "text2vec-transformers",
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text presented to the synthesizer.",
				Tokenization: "word",
			},
			{
				Name:            "chunk_id",
				DataType:        []string{"text"},
				Description:     "Stable identifier assigned at ingestion.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "source_id",
				DataType:        []string{"text"},
				Description:     "Identifier of the originating document or page.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "source_url",
				DataType:     []string{"text"},
				Description:  "Resolvable location of the source, when one exists.",
				Tokenization: "field",
			},
			{
				Name:            "source_type",
				DataType:        []string{"text"},
				Description:     "Source category used by authority ordering (e.g. official_documentation, web).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"date"},
				Description:     "When the chunk entered the store.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureKnowledgeChunkSchema creates the KnowledgeChunk class if the cluster
// does not already have it. Existing classes are left untouched.
func EnsureKnowledgeChunkSchema(ctx context.Context, client *weaviate.Client) error {
	exists, err := client.Schema().ClassExistenceChecker().
		WithClassName(KnowledgeChunkClass).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to check for the %s class: %w", KnowledgeChunkClass, err)
	}
	if exists {
		slog.Debug("Weaviate class already present", "class", KnowledgeChunkClass)
		return nil
	}

	if err := client.Schema().ClassCreator().
		WithClass(GetKnowledgeChunkSchema()).
		Do(ctx); err != nil {
		return fmt.Errorf("failed to create the %s class: %w", KnowledgeChunkClass, err)
	}

	slog.Info("Created Weaviate class", "class", KnowledgeChunkClass)
	return nil
}
