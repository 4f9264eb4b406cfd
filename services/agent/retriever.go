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
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ashuxtim/DocuMind-AI/services/llm"
	"github.com/ashuxtim/DocuMind-AI/services/rerank"
	"github.com/ashuxtim/DocuMind-AI/services/vector"
)

var retrieverTracer = otel.Tracer("documind.agent.retriever")

// GraphQuerier is the read-side graph contract the retriever needs.
type GraphQuerier interface {
	QuerySubgraph(ctx context.Context, keywords []string) (string, error)
}

// RetrieverConfig carries the tunable retrieval constants. The rerank
// threshold and fallback size are empirically tuned, not derived, so
// they stay configurable.
type RetrieverConfig struct {
	SingleQueryLimit int     // candidates for an undecomposed question
	MultiQueryBudget int     // total budget split across sub-queries
	MinPerSubQuery   int     // floor per sub-query in multi-query mode
	RerankThreshold  float64 // minimum cross-encoder score
	RerankFallbackK  int     // kept when nothing clears the threshold
	MaxDocuments     int     // post-filter cap
}

// DefaultRetrieverConfig returns the tuned defaults.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		SingleQueryLimit: 10,
		MultiQueryBudget: 10,
		MinPerSubQuery:   3,
		RerankThreshold:  0.35,
		RerankFallbackK:  3,
		MaxDocuments:     7,
	}
}

// Retriever fans sub-queries out to the vector index, deduplicates,
// reranks against the original question, and fuses in graph context.
type Retriever struct {
	searcher vector.Searcher
	graph    GraphQuerier
	reranker rerank.Reranker
	llm      llm.Client
	config   RetrieverConfig
}

func NewRetriever(searcher vector.Searcher, graph GraphQuerier, reranker rerank.Reranker, client llm.Client, config RetrieverConfig) *Retriever {
	return &Retriever{
		searcher: searcher,
		graph:    graph,
		reranker: reranker,
		llm:      client,
		config:   config,
	}
}

// scoredCandidate tracks a candidate through rerank with its
// sub-query provenance.
type scoredCandidate struct {
	vector.Candidate
	FromSubQuery int
	RerankScore  float64
}

// Retrieve populates state.Documents and state.Sources.
//
// # Description
//
// Fetches candidates per sub-query with a balanced limit, deduplicates
// by exact text, reranks the unique set against the original question,
// applies the relevance cutoff with a never-empty fallback, formats
// survivors into self-describing blocks, and prepends graph context
// when any relation matches the question's entities. Rerank failures
// degrade to unranked truncation and graph failures degrade to no
// graph block; neither aborts the stage.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - state: Session state with Question and SubQueries set.
//
// # Outputs
//
//   - error: Non-nil only when the vector index itself is unreachable
//     for every sub-query.
func (r *Retriever) Retrieve(ctx context.Context, state *SessionState) error {
	ctx, span := retrieverTracer.Start(ctx, "Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("sub_queries", len(state.SubQueries)))

	candidates, err := r.fetchCandidates(ctx, state.SubQueries)
	if err != nil {
		return err
	}

	unique := dedupeByText(candidates)
	slog.Debug("Collected unique candidates",
		"total", len(candidates), "unique", len(unique))

	kept := r.rerankAndFilter(ctx, state.Question, unique)

	docs := make([]string, 0, len(kept)+1)
	for _, c := range kept {
		docs = append(docs, formatCandidate(c))
		state.Sources[fmt.Sprintf("%s:Pg%d", c.Source, c.Page)] = struct{}{}
	}

	if graphContext := r.graphContext(ctx, state.Question); graphContext != "" {
		// Graph relations always outrank vector results positionally.
		docs = append([]string{"--- " + graphDocMarker + " ---\n" + graphContext}, docs...)
	}

	state.Documents = docs
	span.SetAttributes(attribute.Int("documents", len(docs)))
	return nil
}

// fetchCandidates queries the vector index per sub-query. With
// multiple sub-queries the per-query limit is max(floor, budget/n) so
// every sub-query contributes; a single query gets the full limit.
func (r *Retriever) fetchCandidates(ctx context.Context, subQueries []string) ([]scoredCandidate, error) {
	var all []scoredCandidate

	if len(subQueries) > 1 {
		perQuery := r.config.MultiQueryBudget / len(subQueries)
		if perQuery < r.config.MinPerSubQuery {
			perQuery = r.config.MinPerSubQuery
		}

		var lastErr error
		failures := 0
		for i, sq := range subQueries {
			results, err := r.searcher.Search(ctx, sq, perQuery)
			if err != nil {
				slog.Warn("Vector search failed for sub-query", "index", i+1, "error", err)
				failures++
				lastErr = err
				continue
			}
			for _, res := range results {
				all = append(all, scoredCandidate{Candidate: res, FromSubQuery: i + 1})
			}
		}
		if failures == len(subQueries) {
			return nil, fmt.Errorf("vector search failed for all sub-queries: %w", lastErr)
		}
		return all, nil
	}

	results, err := r.searcher.Search(ctx, subQueries[0], r.config.SingleQueryLimit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	for _, res := range results {
		all = append(all, scoredCandidate{Candidate: res, FromSubQuery: 1})
	}
	return all, nil
}

func dedupeByText(candidates []scoredCandidate) []scoredCandidate {
	seen := make(map[string]bool, len(candidates))
	unique := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.Text] {
			continue
		}
		seen[c.Text] = true
		unique = append(unique, c)
	}
	return unique
}

// rerankAndFilter scores candidates against the original question and
// applies the threshold / fallback / cap policy. It never returns an
// empty slice when candidates is non-empty.
func (r *Retriever) rerankAndFilter(ctx context.Context, question string, candidates []scoredCandidate) []scoredCandidate {
	if len(candidates) == 0 {
		return nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}

	scores, err := r.reranker.Score(ctx, question, texts)
	if err != nil || len(scores) != len(candidates) {
		slog.Warn("Reranking failed, keeping retrieval order", "error", err)
		if len(candidates) > r.config.MaxDocuments {
			return candidates[:r.config.MaxDocuments]
		}
		return candidates
	}

	for i := range candidates {
		candidates[i].RerankScore = scores[i]
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].RerankScore > candidates[j].RerankScore
	})

	filtered := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.RerankScore > r.config.RerankThreshold {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		// Partial-match scenario: keep the best few rather than none.
		slog.Warn("No candidates above rerank threshold, keeping top fallback set",
			"threshold", r.config.RerankThreshold,
			"best", candidates[0].RerankScore,
		)
		n := r.config.RerankFallbackK
		if n > len(candidates) {
			n = len(candidates)
		}
		filtered = candidates[:n]
	}

	if len(filtered) > r.config.MaxDocuments {
		filtered = filtered[:r.config.MaxDocuments]
	}
	return filtered
}

// formatCandidate renders a candidate as a self-describing block the
// generator and auditor can consume without the original struct.
func formatCandidate(c scoredCandidate) string {
	section := c.Section
	if section == "" {
		section = "General"
	}
	return fmt.Sprintf("[Source: %s | Section: %s | Pg %d | Score: %.2f]\n%s",
		c.Source, section, c.Page, c.RerankScore, c.Text)
}

const entitySystemPrompt = `Extract search keywords for a knowledge graph query.

RULES:
1. Extract proper nouns (companies, people, products)
2. Extract key financial terms (revenue, EBITDA, ratio)
3. Extract time periods (Q1, Q2, 2024, fiscal year)
4. Extract action words (acquired, merged, revised)
5. Ignore stop words (the, is, what, who)

Return ONLY a JSON array of 3-8 keywords.
Example: ["Apple", "iPhone", "Q1 2024", "revenue", "growth"]

JSON array:`

// graphContext extracts entity keywords and queries the graph store.
// Any failure degrades to an empty string.
func (r *Retriever) graphContext(ctx context.Context, question string) string {
	keywords := r.extractQueryEntities(ctx, question)
	if len(keywords) == 0 {
		// Length-based fallback over question tokens.
		for _, word := range strings.Fields(question) {
			if len(word) > 4 {
				keywords = append(keywords, word)
			}
		}
	}
	if len(keywords) == 0 {
		return ""
	}

	graphContext, err := r.graph.QuerySubgraph(ctx, keywords)
	if err != nil {
		slog.Warn("Graph query failed, proceeding without graph context", "error", err)
		return ""
	}
	return graphContext
}

func (r *Retriever) extractQueryEntities(ctx context.Context, question string) []string {
	response, err := r.llm.Generate(ctx, question, entitySystemPrompt, llm.Deterministic())
	if err != nil {
		slog.Warn("Entity extraction model call failed", "error", err)
		return nil
	}
	var entities []string
	if err := DecodeArray(response, &entities); err != nil {
		slog.Warn("Entity extraction output unparseable", "error", err)
		return nil
	}
	return entities
}
