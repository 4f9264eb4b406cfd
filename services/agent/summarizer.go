// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ashuxtim/DocuMind-AI/services/llm"
	"github.com/ashuxtim/DocuMind-AI/services/vector"
)

// bookendThreshold is the document size, in chunks, above which the
// summarizer samples chunks instead of reading everything.
const bookendThreshold = 10

const summarySystemPrompt = `You are a Senior Executive Assistant.
Summarize the provided document structure into a concise Executive Brief.

FORMAT:
1. **Executive Overview**: One paragraph summary.
2. **Key Financials/Facts**: Bullet points of important numbers.
3. **Strategic Highlights**: Important decisions or risks.`

// ErrDocumentNotIndexed is returned when no chunks exist for the
// requested document.
var ErrDocumentNotIndexed = fmt.Errorf("document not found in memory")

// Summarizer produces a deterministic executive brief of one ingested
// document.
type Summarizer struct {
	source vector.SourceReader
	llm    llm.Client
}

func NewSummarizer(source vector.SourceReader, client llm.Client) *Summarizer {
	return &Summarizer{source: source, llm: client}
}

// Summarize builds an executive brief for the given document.
//
// # Description
//
// Chunks are fetched in original document order. Short documents are
// summarized in full; long ones are sampled with the bookend strategy
// (intro, outro, and evenly spaced body chunks) so the brief always
// covers the document's start, middle, and end regardless of length.
//
// # Inputs
//   - ctx: Context for cancellation.
//   - filename: The ingested document to summarize.
//
// # Outputs
//   - string: The generated brief.
//   - error: ErrDocumentNotIndexed when no chunks exist, otherwise a
//     store or backend failure.
func (s *Summarizer) Summarize(ctx context.Context, filename string) (string, error) {
	chunks, err := s.source.ChunksBySource(ctx, filename)
	if err != nil {
		return "", fmt.Errorf("fetching chunks for %s: %w", filename, err)
	}
	if len(chunks) == 0 {
		return "", ErrDocumentNotIndexed
	}

	var sb strings.Builder
	for _, idx := range selectBookendIndices(len(chunks)) {
		chunk := chunks[idx]
		section := chunk.Section
		if section == "" {
			section = "Body"
		}
		fmt.Fprintf(&sb, "\n[Section: %s | Page %d]\n%s\n", section, chunk.Page, chunk.Text)
	}

	systemPrompt := fmt.Sprintf("%s\n\n--- DOCUMENT CONTENT ---\n%s", summarySystemPrompt, sb.String())
	summary, err := s.llm.Generate(ctx, "Generate the Executive Brief.", systemPrompt, llm.GenerationParams{})
	if err != nil {
		return "", fmt.Errorf("generating summary for %s: %w", filename, err)
	}
	return summary, nil
}

// selectBookendIndices picks which chunk positions feed the summary:
// all of them for small documents, otherwise the first three, the last
// two, and three evenly spaced body chunks. Indices are unique and
// ascending.
func selectBookendIndices(total int) []int {
	if total <= bookendThreshold {
		indices := make([]int, total)
		for i := range indices {
			indices[i] = i
		}
		return indices
	}

	picked := map[int]struct{}{
		0: {}, 1: {}, 2: {},
		total - 1: {}, total - 2: {},
	}
	step := total / 4
	picked[step] = struct{}{}
	picked[step*2] = struct{}{}
	picked[step*3] = struct{}{}

	indices := make([]int, 0, len(picked))
	for idx := range picked {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}
