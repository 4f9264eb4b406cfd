// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_IncrementsRetryCount(t *testing.T) {
	mock := newMockLLM()
	g := NewGenerator(mock, NewMathExecutor(mock))

	state := NewSessionState("Who is the CEO?", nil)
	state.Documents = []string{"The CEO is Dana Reyes."}

	require.NoError(t, g.Generate(context.Background(), state))
	assert.Equal(t, 1, state.RetryCount)
	require.NoError(t, g.Generate(context.Background(), state))
	assert.Equal(t, 2, state.RetryCount)
}

func TestBuildContext_GraphAlwaysFirst(t *testing.T) {
	g := NewGenerator(newMockLLM(), NewMathExecutor(newMockLLM()))

	docs := []string{
		"vector doc one",
		"--- " + graphDocMarker + " ---\n(Acme) -[HAS_REVENUE | HIGH | Q3]-> (186 million)",
		"vector doc two",
	}
	contextText := g.buildContext(docs, "question", "", "")

	assert.True(t, strings.HasPrefix(contextText, "--- "+graphDocMarker))
	assert.Less(t, strings.Index(contextText, graphDocMarker), strings.Index(contextText, "vector doc one"))
}

func TestBuildContext_BudgetDropsTail(t *testing.T) {
	g := NewGenerator(newMockLLM(), NewMathExecutor(newMockLLM()))

	big := strings.Repeat("x", 5000)
	docs := []string{"doc-A " + big, "doc-B " + big, "doc-C " + big}
	contextText := g.buildContext(docs, "q", "", "")

	assert.Contains(t, contextText, "doc-A")
	assert.Contains(t, contextText, "doc-B")
	// Third document would cross the budget and is dropped.
	assert.NotContains(t, contextText, "doc-C")
}

func TestBuildContext_GraphSurvivesFullBudget(t *testing.T) {
	g := NewGenerator(newMockLLM(), NewMathExecutor(newMockLLM()))

	big := strings.Repeat("x", 6000)
	docs := []string{
		"--- " + graphDocMarker + " ---\ngraph facts",
		"doc-A " + big,
		"doc-B " + big,
	}
	contextText := g.buildContext(docs, "q", "", "")

	// Vector docs drop under pressure; graph context never does.
	assert.Contains(t, contextText, "graph facts")
}

func TestBuildContext_Empty(t *testing.T) {
	g := NewGenerator(newMockLLM(), NewMathExecutor(newMockLLM()))
	assert.Equal(t, "No relevant context.", g.buildContext(nil, "q", "", ""))
}

func TestFormatHistory_LastTwoTurns(t *testing.T) {
	history := []Turn{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
		{Role: "user", Content: "third"},
	}

	text := formatHistory(history)
	assert.NotContains(t, text, "first")
	assert.Contains(t, text, "ASSISTANT: second")
	assert.Contains(t, text, "USER: third")
}

func TestFormatHistory_Empty(t *testing.T) {
	assert.Equal(t, "", formatHistory(nil))
}

func TestGenerate_MathSkippedWhenFeedbackPending(t *testing.T) {
	mock := newMockLLM().
		on("data extractor", `{"a": 1, "b": 2}`)
	g := NewGenerator(mock, NewMathExecutor(mock))

	state := NewSessionState("Calculate 1 + 2", nil)
	state.Documents = []string{"a is 1, b is 2"}
	state.AuditFeedback = "previous draft was rejected"

	require.NoError(t, g.Generate(context.Background(), state))

	// No extraction call happened: the only model call is generation.
	assert.Equal(t, 1, mock.callCount)
}

func TestGenerate_FeedbackInjectedIntoSystemPrompt(t *testing.T) {
	mock := newMockLLM()
	g := NewGenerator(mock, NewMathExecutor(mock))

	state := NewSessionState("Who is the CEO?", nil)
	state.Documents = []string{"The CEO is Dana Reyes."}
	state.AuditFeedback = "Name the actual CEO from the document."

	require.NoError(t, g.Generate(context.Background(), state))

	require.NotEmpty(t, mock.systems)
	system := mock.systems[len(mock.systems)-1]
	assert.Contains(t, system, "PREVIOUS ANSWER WAS REJECTED")
	assert.Contains(t, system, "Name the actual CEO from the document.")
	assert.Contains(t, system, "Do NOT apologize")
}
