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
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
)

// personaRules maps each persona to its writing guidance.
var personaRules = map[datatypes.Persona]string{
	datatypes.PersonaTechnical: "Write for an engineer. Be precise, include concrete details and terminology from the sources, and do not oversimplify.",
	datatypes.PersonaExecutive: "Write for a time-constrained executive. Lead with the conclusion, keep it under five sentences, and avoid jargon.",
	datatypes.PersonaGeneral:   "Write for a general audience. Use plain language and explain any technical terms you must use.",
}

// buildSystemPrompt assembles the synthesis instructions for a persona.
//
// The citation contract is the load-bearing part: the model must mark every
// factual claim with a bracketed context index, and those indexes are the
// only way citations get built afterward.
func buildSystemPrompt(persona datatypes.Persona, hints map[string]string) string {
	rules, ok := personaRules[persona]
	if !ok {
		rules = personaRules[datatypes.PersonaGeneral]
	}

	var b strings.Builder
	b.WriteString("You are a grounded question-answering assistant.\n")
	b.WriteString("Answer ONLY from the numbered context entries provided. ")
	b.WriteString("Mark every factual claim with the index of its supporting entry, like [1] or [2]. ")
	b.WriteString("Never cite an index that does not appear in the context. ")
	b.WriteString("If the context does not contain the answer, say you do not have enough information and cite nothing.\n")
	b.WriteString("When two context entries disagree, prefer the earlier entry; if the disagreement matters, state both values and name their sources.\n")
	b.WriteString(rules)
	// Sorted so identical requests produce identical prompts.
	keys := make([]string, 0, len(hints))
	for key := range hints {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		b.WriteString(fmt.Sprintf("\nFormatting hint (%s): %s", key, hints[key]))
	}
	return b.String()
}

// buildContextBlock renders ordered evidence as numbered entries.
//
// Format per entry: [i] content (Source: source_id, URL: url-or-N/A)
func buildContextBlock(evidence []datatypes.RetrievedContext) string {
	var b strings.Builder
	for i, chunk := range evidence {
		url := chunk.SourceUrl
		if url == "" {
			url = "N/A"
		}
		b.WriteString(fmt.Sprintf("[%d] %s (Source: %s, URL: %s)\n", i+1, chunk.Content, chunk.SourceId, url))
	}
	return b.String()
}

// buildUserPrompt combines the context block and the question.
func buildUserPrompt(query string, evidence []datatypes.RetrievedContext) string {
	return fmt.Sprintf("Context:\n%s\nQuestion: %s", buildContextBlock(evidence), query)
}
