// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"fmt"

	"github.com/ashuxtim/DocuMind-AI/services/agent"
	"github.com/ashuxtim/DocuMind-AI/services/knowledge"
	"github.com/ashuxtim/DocuMind-AI/services/llm"
)

const relationExtractionPrompt = `You are a Financial Knowledge Graph Extraction Expert.

EXTRACTION RULES:
1. **Temporal Grounding**: EVERY numerical value MUST include its time period in the subject/object
   - BAD: {"subject": "Revenue", "object": "$10M"}
   - GOOD: {"subject": "Q1 2024 Revenue", "object": "$10M"}

2. **Revision Detection**: If text says "restated", "revised", "corrected", "updated":
   - Use predicate: "REVISED_TO" or "SUPERSEDES"
   - Example: {"subject": "Q1 Original Revenue $8M", "predicate": "REVISED_TO", "object": "Q1 Restated Revenue $7M"}

3. **Corroboration Strength**:
   - HIGH: Explicit in same sentence ("Revenue was $10M in Q1")
   - MEDIUM: Implied across sentences
   - LOW: Inferred from context

4. **Entity Naming**: Be specific
   - Use "Apple Q1 2024 Revenue" not "Revenue"
   - Use "CEO as of Jan 2024" not "CEO"

5. **Comparison Relations**: For "increased from X to Y":
   - {"subject": "Q1 Revenue", "predicate": "INCREASED_TO", "object": "Q2 Revenue", "period": "2024"}

6. **Adversarial Detection (CRITICAL):**
   - If a statement explicitly **NEGATES**, **REVISES**, or **SUPERSEDES** a previous fact, you MUST use those exact verbs as the predicate.
   - Example: "The $10M figure was incorrect and restated to $8M."
     -> {"subject": "$10M", "predicate": "REVISED_TO", "object": "$8M", "corroboration": "HIGH"}

OUTPUT FORMAT (JSON List):
[
    {
        "subject": "Entity Name",
        "predicate": "RELATIONSHIP_TYPE",
        "object": "Target Entity/Value",
        "period": "Q1 2024",
        "corroboration": "HIGH"
    }
]`

// GraphBuilder extracts (subject, predicate, object) triples from
// chunk text for the knowledge graph.
type GraphBuilder struct {
	llm llm.Client
}

func NewGraphBuilder(client llm.Client) *GraphBuilder {
	return &GraphBuilder{llm: client}
}

type relationPayload struct {
	Subject       string `json:"subject"`
	Predicate     string `json:"predicate"`
	Object        string `json:"object"`
	Period        string `json:"period"`
	Corroboration string `json:"corroboration"`
}

// ExtractRelations asks the model for temporally grounded triples
// with corroboration strength. Callers treat a failure as a degraded
// chunk, not a failed job: the chunk still lands in the vector index.
func (b *GraphBuilder) ExtractRelations(ctx context.Context, textChunk string) ([]knowledge.Relation, error) {
	prompt := fmt.Sprintf(`Extract structured data from this text.
Focus on attaching TIME PERIODS and detecting CORROBORATION strength.

Text:
%s

Return JSON list only.`, textChunk)

	response, err := b.llm.Generate(ctx, prompt, relationExtractionPrompt, llm.Deterministic())
	if err != nil {
		return nil, fmt.Errorf("relation extraction: %w", err)
	}

	var payload []relationPayload
	if err := agent.DecodeArray(response, &payload); err != nil {
		return nil, fmt.Errorf("relation extraction: %w", err)
	}

	relations := make([]knowledge.Relation, 0, len(payload))
	for _, p := range payload {
		relations = append(relations, knowledge.Relation{
			Subject:       p.Subject,
			Predicate:     p.Predicate,
			Object:        p.Object,
			Corroboration: p.Corroboration,
			Period:        p.Period,
		})
	}
	return relations, nil
}
