// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tailor

import (
	"testing"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/authority"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
)

func typedChunk(id, sourceType string, relevance float64) datatypes.RetrievedContext {
	return datatypes.RetrievedContext{
		ChunkId:        id,
		Content:        "chunk " + id,
		SourceId:       "doc-" + id,
		RelevanceScore: relevance,
		Metadata:       map[string]any{"source_type": sourceType},
	}
}

func orderedIds(evidence []datatypes.RetrievedContext) []string {
	ids := make([]string, len(evidence))
	for i, chunk := range evidence {
		ids[i] = chunk.ChunkId
	}
	return ids
}

func TestOrderEvidence(t *testing.T) {
	ranker := authority.NewDefaultOrder()

	tests := []struct {
		name     string
		evidence []datatypes.RetrievedContext
		want     []string
	}{
		{
			name: "relevance dominates",
			evidence: []datatypes.RetrievedContext{
				typedChunk("a", "chat_log", 0.9),
				typedChunk("b", "official_documentation", 0.6),
			},
			want: []string{"a", "b"},
		},
		{
			name: "authority breaks relevance ties",
			evidence: []datatypes.RetrievedContext{
				typedChunk("a", "chat_log", 0.8),
				typedChunk("b", "official_documentation", 0.8),
				typedChunk("c", "internal_wiki", 0.8),
			},
			want: []string{"b", "c", "a"},
		},
		{
			name: "unknown source type ranks last",
			evidence: []datatypes.RetrievedContext{
				typedChunk("a", "carrier_pigeon", 0.8),
				typedChunk("b", "web", 0.8),
			},
			want: []string{"b", "a"},
		},
		{
			name: "chunk id settles full ties",
			evidence: []datatypes.RetrievedContext{
				typedChunk("z", "web", 0.5),
				typedChunk("a", "web", 0.5),
			},
			want: []string{"a", "z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := orderedIds(OrderEvidence(tt.evidence, ranker))
			if len(got) != len(tt.want) {
				t.Fatalf("order = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("order = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestOrderEvidenceIsDeterministicAndNonMutating(t *testing.T) {
	ranker := authority.NewDefaultOrder()
	evidence := []datatypes.RetrievedContext{
		typedChunk("c", "web", 0.7),
		typedChunk("a", "internal_wiki", 0.7),
		typedChunk("b", "official_documentation", 0.9),
	}
	originalFirst := evidence[0].ChunkId

	first := orderedIds(OrderEvidence(evidence, ranker))
	for i := 0; i < 50; i++ {
		got := orderedIds(OrderEvidence(evidence, ranker))
		for j := range got {
			if got[j] != first[j] {
				t.Fatalf("ordering changed between calls: %v vs %v", got, first)
			}
		}
	}
	if evidence[0].ChunkId != originalFirst {
		t.Error("input slice must not be reordered")
	}
}
