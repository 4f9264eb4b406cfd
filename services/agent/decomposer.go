// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ashuxtim/DocuMind-AI/services/llm"
)

var decomposerTracer = otel.Tracer("documind.agent.decomposer")

// complexityMarkers flag questions that span multiple facts, time
// periods or calculations and therefore retrieve better as separate
// sub-questions.
var complexityMarkers = []string{
	"and", "trend", "compare", "across", "between", "multiple",
	"calculate", "reconcile", "derive", "q1", "q2", "q3", "q4",
	"first", "second", "third", "then", "after", "before",
}

const decomposeSystemPrompt = `You are a query decomposition expert.
Break complex questions into 2-4 simpler sub-questions.
Each sub-question should be answerable independently.

Return ONLY a JSON array of strings.
Example: ["What is revenue in Q1?", "What is revenue in Q2?", "What is the trend?"]`

// Decomposer splits complex questions into independently answerable
// sub-questions.
type Decomposer struct {
	llm llm.Client
}

func NewDecomposer(client llm.Client) *Decomposer {
	return &Decomposer{llm: client}
}

// isComplex reports whether the question carries any complexity marker.
func isComplex(question string) bool {
	lower := strings.ToLower(question)
	for _, marker := range complexityMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Decompose returns the sub-questions for a question. The result is
// never empty: simple questions, model failures and unparseable
// responses all fall back to the question itself. Decomposition never
// fails the pipeline.
func (d *Decomposer) Decompose(ctx context.Context, question string) []string {
	ctx, span := decomposerTracer.Start(ctx, "Decompose")
	defer span.End()

	if !isComplex(question) {
		slog.Debug("Simple question, skipping decomposition")
		span.SetAttributes(attribute.Bool("decomposed", false))
		return []string{question}
	}

	prompt := "Break this question into simpler sub-questions:\n\n" +
		question + "\n\nJSON array:"

	response, err := d.llm.Generate(ctx, prompt, decomposeSystemPrompt, llm.Deterministic())
	if err != nil {
		slog.Warn("Decomposition model call failed, using original question", "error", err)
		span.RecordError(err)
		return []string{question}
	}

	var subQueries []string
	if err := DecodeArray(response, &subQueries); err != nil {
		slog.Warn("Decomposition output unparseable, using original question", "error", err)
		span.RecordError(err)
		return []string{question}
	}
	if len(subQueries) == 0 {
		return []string{question}
	}

	span.SetAttributes(
		attribute.Bool("decomposed", true),
		attribute.Int("sub_queries", len(subQueries)),
	)
	slog.Info("Decomposed question", "sub_queries", len(subQueries))
	return subQueries
}
