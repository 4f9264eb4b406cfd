// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent implements the question-answering pipeline: query
// decomposition, hybrid retrieval with reranking and graph fusion,
// grounded generation with verified-computation injection, and a
// self-auditing bounded retry loop.
package agent

import "strings"

// Turn is one prior exchange in the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// maxRetries bounds the audit feedback loop. Total generation attempts
// are therefore capped at maxRetries + 1.
const maxRetries = 2

// SessionState carries one request through the pipeline stages. A
// fresh value is created per request and never shared between
// requests.
type SessionState struct {
	// Question is the original user text, immutable for the session.
	Question string

	// History holds prior turns in insertion order; only the most
	// recent two are used downstream.
	History []Turn

	// SubQueries is the decomposition output; never empty (falls back
	// to the question itself).
	SubQueries []string

	// Documents are formatted context entries in rerank order, with
	// graph-derived entries pinned first.
	Documents []string

	// Sources is the set of citation identifiers (document:page).
	Sources map[string]struct{}

	// Generation is the latest draft answer; overwritten on retry.
	Generation string

	// AuditFeedback is empty when the draft was approved. A non-empty
	// value is the rejection reason and drives the retry edge.
	AuditFeedback string

	// RetryCount increments every time the generator runs.
	RetryCount int
}

// NewSessionState initializes state for one question.
func NewSessionState(question string, history []Turn) *SessionState {
	return &SessionState{
		Question: question,
		History:  history,
		Sources:  make(map[string]struct{}),
	}
}

// SourceList returns the citation set as a slice. Order is not
// significant.
func (s *SessionState) SourceList() []string {
	out := make([]string, 0, len(s.Sources))
	for src := range s.Sources {
		out = append(out, src)
	}
	return out
}

// graphDocMarker tags the graph-derived context entry so the generator
// can pin it ahead of vector documents during budgeting.
const graphDocMarker = "RELEVANT GRAPH CONNECTIONS"

func isGraphDoc(doc string) bool {
	return strings.Contains(doc, graphDocMarker)
}
