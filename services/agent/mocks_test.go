// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ashuxtim/DocuMind-AI/services/llm"
	"github.com/ashuxtim/DocuMind-AI/services/vector"
)

// mockLLM routes generation calls by substring match on the system
// prompt, falling back to a default response. Calls are recorded for
// assertions.
type mockLLM struct {
	mu        sync.Mutex
	rules     []mockRule
	fallback  string
	err       error
	callCount int
	prompts   []string
	systems   []string
}

type mockRule struct {
	systemContains string
	response       string
}

func newMockLLM() *mockLLM {
	return &mockLLM{fallback: "mock response"}
}

func (m *mockLLM) on(systemContains, response string) *mockLLM {
	m.rules = append(m.rules, mockRule{systemContains: systemContains, response: response})
	return m
}

func (m *mockLLM) Generate(_ context.Context, prompt, systemPrompt string, _ llm.GenerationParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.prompts = append(m.prompts, prompt)
	m.systems = append(m.systems, systemPrompt)

	if m.err != nil {
		return "", m.err
	}
	for _, rule := range m.rules {
		if strings.Contains(systemPrompt, rule.systemContains) {
			return rule.response, nil
		}
	}
	return m.fallback, nil
}

func (m *mockLLM) ModelName() string { return "mock-model" }

// mockSearcher returns canned candidates per query, or the default set.
type mockSearcher struct {
	byQuery    map[string][]vector.Candidate
	defaultSet []vector.Candidate
	err        error
	calls      []searchCall
}

type searchCall struct {
	query string
	limit int
}

func (m *mockSearcher) Search(_ context.Context, query string, limit int) ([]vector.Candidate, error) {
	m.calls = append(m.calls, searchCall{query: query, limit: limit})
	if m.err != nil {
		return nil, m.err
	}
	if results, ok := m.byQuery[query]; ok {
		return results, nil
	}
	return m.defaultSet, nil
}

// mockGraph returns a fixed subgraph rendering.
type mockGraph struct {
	context string
	err     error
}

func (m *mockGraph) QuerySubgraph(context.Context, []string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.context, nil
}

// mockReranker scores documents by a lookup table, defaulting to 0.5.
type mockReranker struct {
	scores map[string]float64
	err    error
}

func (m *mockReranker) Score(_ context.Context, _ string, docs []string) ([]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]float64, len(docs))
	for i, doc := range docs {
		if s, ok := m.scores[doc]; ok {
			out[i] = s
		} else {
			out[i] = 0.5
		}
	}
	return out, nil
}

var errBackendDown = errors.New("backend unavailable")

func candidate(text, source string, page int) vector.Candidate {
	return vector.Candidate{Text: text, Source: source, Page: page, Section: "General", Score: 0.8}
}
