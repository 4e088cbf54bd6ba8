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
	"sort"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
)

// AuthorityRanker orders source types when relevance alone cannot decide
// between conflicting evidence. Lower rank means more authoritative.
// Unknown source types rank last.
type AuthorityRanker interface {
	Rank(sourceType string) int
}

// OrderEvidence sorts evidence into the precedence order the synthesizer
// presents it in.
//
// # Description
//
// The system prompt tells the model to prefer earlier context entries when
// sources disagree, so this ordering IS the conflict-resolution policy:
//
//  1. Higher relevance score wins.
//  2. Equal relevance: the configured authority order over source types wins.
//  3. Still tied: chunk id, purely so the order is stable.
//
// The same inputs always produce the same order; nothing here consults a
// clock or randomness. The input slice is not modified.
func OrderEvidence(evidence []datatypes.RetrievedContext, ranker AuthorityRanker) []datatypes.RetrievedContext {
	ordered := append([]datatypes.RetrievedContext(nil), evidence...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].RelevanceScore != ordered[j].RelevanceScore {
			return ordered[i].RelevanceScore > ordered[j].RelevanceScore
		}
		ri, rj := ranker.Rank(ordered[i].SourceType()), ranker.Rank(ordered[j].SourceType())
		if ri != rj {
			return ri < rj
		}
		return ordered[i].ChunkId < ordered[j].ChunkId
	})
	return ordered
}
