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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashuxtim/DocuMind-AI/services/vector"
)

func newTestRetriever(searcher *mockSearcher, graph *mockGraph, reranker *mockReranker, llmMock *mockLLM) *Retriever {
	return NewRetriever(searcher, graph, reranker, llmMock, DefaultRetrieverConfig())
}

func entityMock() *mockLLM {
	return newMockLLM().on("knowledge graph query", `["Acme", "revenue"]`)
}

func TestRetrieve_SingleQueryUsesFullLimit(t *testing.T) {
	searcher := &mockSearcher{defaultSet: []vector.Candidate{candidate("chunk one", "a.pdf", 1)}}
	r := newTestRetriever(searcher, &mockGraph{}, &mockReranker{}, entityMock())

	state := NewSessionState("Who is the CEO of Acme?", nil)
	state.SubQueries = []string{state.Question}
	require.NoError(t, r.Retrieve(context.Background(), state))

	require.Len(t, searcher.calls, 1)
	assert.Equal(t, 10, searcher.calls[0].limit)
}

func TestRetrieve_MultiQueryBalancedLimit(t *testing.T) {
	searcher := &mockSearcher{defaultSet: nil}
	r := newTestRetriever(searcher, &mockGraph{}, &mockReranker{}, entityMock())

	state := NewSessionState("Compare Q1 and Q2 and Q3 revenue", nil)
	state.SubQueries = []string{"q1?", "q2?", "q3?", "trend?"}
	require.NoError(t, r.Retrieve(context.Background(), state))

	require.Len(t, searcher.calls, 4)
	for _, call := range searcher.calls {
		// max(3, 10/4) = 3 per sub-query
		assert.Equal(t, 3, call.limit)
	}
}

func TestRetrieve_DedupesByExactText(t *testing.T) {
	shared := candidate("identical chunk text", "a.pdf", 1)
	searcher := &mockSearcher{byQuery: map[string][]vector.Candidate{
		"q1?": {shared, candidate("unique one", "a.pdf", 2)},
		"q2?": {shared, candidate("unique two", "b.pdf", 3)},
	}}
	r := newTestRetriever(searcher, &mockGraph{}, &mockReranker{}, entityMock())

	state := NewSessionState("Compare Q1 and Q2", nil)
	state.SubQueries = []string{"q1?", "q2?"}
	require.NoError(t, r.Retrieve(context.Background(), state))

	seen := 0
	for _, doc := range state.Documents {
		if strings.Contains(doc, "identical chunk text") {
			seen++
		}
	}
	assert.Equal(t, 1, seen, "duplicate text must appear once")
	assert.Len(t, state.Documents, 3)
}

func TestRetrieve_ThresholdWithFallback_NeverZero(t *testing.T) {
	// All scores below the 0.35 cutoff: fallback keeps the top 3.
	scores := map[string]float64{}
	var set []vector.Candidate
	for i := 0; i < 5; i++ {
		text := fmt.Sprintf("low relevance chunk %d", i)
		set = append(set, candidate(text, "a.pdf", i+1))
		scores[text] = 0.1 + float64(i)*0.01
	}
	searcher := &mockSearcher{defaultSet: set}
	r := newTestRetriever(searcher, &mockGraph{}, &mockReranker{scores: scores}, entityMock())

	state := NewSessionState("Who leads procurement?", nil)
	state.SubQueries = []string{state.Question}
	require.NoError(t, r.Retrieve(context.Background(), state))

	assert.Len(t, state.Documents, 3)
	// Highest score first after rerank.
	assert.Contains(t, state.Documents[0], "low relevance chunk 4")
}

func TestRetrieve_CapsAtSeven(t *testing.T) {
	var set []vector.Candidate
	scores := map[string]float64{}
	for i := 0; i < 12; i++ {
		text := fmt.Sprintf("relevant chunk %d", i)
		set = append(set, candidate(text, "a.pdf", i+1))
		scores[text] = 0.9
	}
	searcher := &mockSearcher{defaultSet: set}
	r := newTestRetriever(searcher, &mockGraph{}, &mockReranker{scores: scores}, entityMock())

	state := NewSessionState("What is in the report?", nil)
	state.SubQueries = []string{state.Question}
	require.NoError(t, r.Retrieve(context.Background(), state))

	assert.Len(t, state.Documents, 7)
}

func TestRetrieve_RerankFailureDegradesToTruncation(t *testing.T) {
	var set []vector.Candidate
	for i := 0; i < 10; i++ {
		set = append(set, candidate(fmt.Sprintf("chunk %d", i), "a.pdf", i+1))
	}
	searcher := &mockSearcher{defaultSet: set}
	r := newTestRetriever(searcher, &mockGraph{}, &mockReranker{err: errBackendDown}, entityMock())

	state := NewSessionState("What is in the report?", nil)
	state.SubQueries = []string{state.Question}
	require.NoError(t, r.Retrieve(context.Background(), state))

	// Retrieval order preserved, capped at 7.
	assert.Len(t, state.Documents, 7)
	assert.Contains(t, state.Documents[0], "chunk 0")
}

func TestRetrieve_GraphContextPinnedFirst(t *testing.T) {
	searcher := &mockSearcher{defaultSet: []vector.Candidate{candidate("vector chunk", "a.pdf", 1)}}
	graph := &mockGraph{context: "(Acme) -[HAS_REVENUE | HIGH | Q3]-> (186 million)"}
	r := newTestRetriever(searcher, graph, &mockReranker{}, entityMock())

	state := NewSessionState("What is Acme revenue?", nil)
	state.SubQueries = []string{state.Question}
	require.NoError(t, r.Retrieve(context.Background(), state))

	require.NotEmpty(t, state.Documents)
	assert.Contains(t, state.Documents[0], "RELEVANT GRAPH CONNECTIONS")
	assert.Contains(t, state.Documents[0], "HAS_REVENUE")
}

func TestRetrieve_GraphFailureDegrades(t *testing.T) {
	searcher := &mockSearcher{defaultSet: []vector.Candidate{candidate("vector chunk", "a.pdf", 1)}}
	r := newTestRetriever(searcher, &mockGraph{err: errBackendDown}, &mockReranker{}, entityMock())

	state := NewSessionState("What is Acme revenue?", nil)
	state.SubQueries = []string{state.Question}
	require.NoError(t, r.Retrieve(context.Background(), state))

	require.Len(t, state.Documents, 1)
	assert.NotContains(t, state.Documents[0], "RELEVANT GRAPH CONNECTIONS")
}

func TestRetrieve_EntityFallbackToLongTokens(t *testing.T) {
	// Entity extraction unparseable: keywords fall back to tokens
	// longer than four characters.
	llmMock := newMockLLM().on("knowledge graph query", "no entities here")
	searcher := &mockSearcher{defaultSet: []vector.Candidate{candidate("vector chunk", "a.pdf", 1)}}
	graph := &mockGraph{context: "(procurement) -[LED_BY | MEDIUM | UNKNOWN]-> (Dana)"}
	r := newTestRetriever(searcher, graph, &mockReranker{}, llmMock)

	state := NewSessionState("Who leads procurement today?", nil)
	state.SubQueries = []string{state.Question}
	require.NoError(t, r.Retrieve(context.Background(), state))

	assert.Contains(t, state.Documents[0], "RELEVANT GRAPH CONNECTIONS")
}

func TestRetrieve_SourcesRecorded(t *testing.T) {
	searcher := &mockSearcher{defaultSet: []vector.Candidate{
		candidate("chunk one", "report.pdf", 4),
		candidate("chunk two", "report.pdf", 9),
	}}
	r := newTestRetriever(searcher, &mockGraph{}, &mockReranker{}, entityMock())

	state := NewSessionState("What is in the report?", nil)
	state.SubQueries = []string{state.Question}
	require.NoError(t, r.Retrieve(context.Background(), state))

	assert.Contains(t, state.Sources, "report.pdf:Pg4")
	assert.Contains(t, state.Sources, "report.pdf:Pg9")
}

func TestRetrieve_AllSubQueriesFailing(t *testing.T) {
	searcher := &mockSearcher{err: errBackendDown}
	r := newTestRetriever(searcher, &mockGraph{}, &mockReranker{}, entityMock())

	state := NewSessionState("Compare Q1 and Q2", nil)
	state.SubQueries = []string{"q1?", "q2?"}
	err := r.Retrieve(context.Background(), state)
	require.Error(t, err)
}

func TestFormatCandidate(t *testing.T) {
	c := scoredCandidate{Candidate: candidate("Revenue was 186 million.", "q3.pdf", 4), RerankScore: 0.87}
	c.Section = "Financials"
	block := formatCandidate(c)
	assert.Equal(t, "[Source: q3.pdf | Section: Financials | Pg 4 | Score: 0.87]\nRevenue was 186 million.", block)
}
