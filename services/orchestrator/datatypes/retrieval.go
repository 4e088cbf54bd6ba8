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

import "strings"

// RetrievedContext is one evidence chunk returned by the memory agent.
//
// Instances are immutable once returned from retrieval: downstream agents
// read them but never modify content or scores. Copies, not references,
// cross package boundaries where mutation would otherwise be possible.
type RetrievedContext struct {
	ChunkId        string         `json:"chunk_id"`
	Content        string         `json:"content"`
	SourceId       string         `json:"source_id"`
	SourceUrl      string         `json:"source_url,omitempty"`
	RelevanceScore float64        `json:"relevance_score"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// SourceType reads the metadata source_type tag, used by conflict
// resolution to apply the configured authority ordering. Empty when the
// chunk carries no type tag.
func (r *RetrievedContext) SourceType() string {
	if r.Metadata == nil {
		return ""
	}
	if t, ok := r.Metadata["source_type"].(string); ok {
		return t
	}
	return ""
}

// DedupEvidence removes duplicate chunks, keeping the first occurrence.
//
// Chunks are duplicates when they share a chunk id, or when their content
// is identical after whitespace and case normalization (re-ingested sources
// produce distinct ids for the same text).
func DedupEvidence(evidence []RetrievedContext) []RetrievedContext {
	seenIds := make(map[string]bool, len(evidence))
	seenContent := make(map[string]bool, len(evidence))
	out := make([]RetrievedContext, 0, len(evidence))
	for _, chunk := range evidence {
		normalized := strings.ToLower(strings.Join(strings.Fields(chunk.Content), " "))
		if seenIds[chunk.ChunkId] || seenContent[normalized] {
			continue
		}
		seenIds[chunk.ChunkId] = true
		seenContent[normalized] = true
		out = append(out, chunk)
	}
	return out
}

// SourceCitation links a span of the final answer back to an evidence chunk.
type SourceCitation struct {
	SourceId    string `json:"source_id"`
	ChunkId     string `json:"chunk_id"`
	TextSnippet string `json:"text_snippet"`
	Url         string `json:"url,omitempty"`
}
