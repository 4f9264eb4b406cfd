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
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ashuxtim/DocuMind-AI/services/llm"
)

var auditorTracer = otel.Tracer("documind.agent.auditor")

// causalPhrases mark explanatory language; any of these appearing in
// an answer but not in the context is a fabricated explanation.
var causalPhrases = []string{
	"due to", "because of", "as a result of", "caused by",
	"owing to", "on account of", "thanks to", "attributable to",
}

// resolutionMarkers indicate the source text itself resolves a
// contradiction (a revision chain, a correction note).
var resolutionMarkers = []string{
	"revised to", "corrected to", "restated as", "superseded by",
	"amended to", "updated to", "replaced with", "should be",
	"actually is", "the correct value is", "error was", "mistake was",
}

// arithmeticPattern matches literal "a OP b = c" expressions in answer
// text.
var arithmeticPattern = regexp.MustCompile(`(\d+)\s*[-+*/×÷]\s*(\d+)\s*=\s*(\d+)`)

// auditSnippetDocs is how many leading documents form the audit
// context snippet.
const auditSnippetDocs = 3

// Auditor screens drafts for fabricated explanations, invented
// arithmetic, constraint violations, and general hallucination.
type Auditor struct {
	llm         llm.Client
	constraints *ConstraintChecker
}

func NewAuditor(client llm.Client, constraints *ConstraintChecker) *Auditor {
	return &Auditor{llm: client, constraints: constraints}
}

// Audit sets state.AuditFeedback: empty means approved, non-empty is
// the rejection reason. Documents are never mutated.
func (a *Auditor) Audit(ctx context.Context, state *SessionState) {
	ctx, span := auditorTracer.Start(ctx, "Audit")
	defer span.End()

	answer := state.Generation

	// Nothing to fabricate in an admission of ignorance.
	if strings.Contains(answer, "I don't know") || strings.Contains(strings.ToLower(answer), "not found") {
		state.AuditFeedback = ""
		span.SetAttributes(attribute.String("verdict", "approved_short_circuit"))
		return
	}

	contextSnippet := "No context"
	if len(state.Documents) > 0 {
		contextSnippet = strings.Join(firstN(state.Documents, auditSnippetDocs), "\n")
	}

	// Stage 1: fabrication scan.
	if violations := detectFabrications(answer, contextSnippet); len(violations) > 0 {
		slog.Warn("Fabrication detected in draft", "violations", violations)
		span.SetAttributes(attribute.String("verdict", "rejected_fabrication"))
		shown := violations
		if len(shown) > 2 {
			shown = shown[:2]
		}
		state.AuditFeedback = fmt.Sprintf(
			"FABRICATION ERROR: %s. Only use explanations and calculations that explicitly appear in the source text. If the source doesn't explain a discrepancy, state 'The document provides no explanation.'",
			strings.Join(shown, "; "))
		return
	}

	// Stage 2: constraint check.
	predicates := a.constraints.ExtractPredicates(ctx, state.Question, contextSnippet)
	if len(predicates) > 0 {
		consistent, explanation := a.constraints.CheckConsistency(ctx, predicates, contextSnippet)
		if !consistent {
			slog.Warn("Inconsistent constraints detected", "explanation", explanation)
			span.SetAttributes(attribute.String("verdict", "rejected_inconsistent"))
			if sourceExplainsContradiction(contextSnippet) {
				state.AuditFeedback = fmt.Sprintf(
					"CONTRADICTION DETECTED: %s. The source provides an explanation - use the source's resolution.",
					explanation)
			} else {
				state.AuditFeedback = fmt.Sprintf(
					"UNRESOLVED CONTRADICTION: %s. The source does not explain this discrepancy. State this explicitly - DO NOT INVENT an explanation.",
					explanation)
			}
			return
		}

		valid, violation := a.constraints.ValidateAnswer(ctx, answer, predicates)
		if !valid {
			slog.Warn("Draft violates constraint", "violation", violation)
			span.SetAttributes(attribute.String("verdict", "rejected_constraint"))
			state.AuditFeedback = "Answer violates logic constraint: " + violation
			return
		}
	}

	// Stage 3: general hallucination audit.
	state.AuditFeedback = a.modelAudit(ctx, state.Question, answer, contextSnippet)
	if state.AuditFeedback == "" {
		span.SetAttributes(attribute.String("verdict", "approved"))
	} else {
		span.SetAttributes(attribute.String("verdict", "rejected_model_audit"))
	}
}

// detectFabrications flags causal phrases and literal arithmetic in
// the answer that have no textual support in the context snippet.
func detectFabrications(answer, contextText string) []string {
	var violations []string

	answerLower := strings.ToLower(answer)
	contextLower := strings.ToLower(contextText)
	for _, phrase := range causalPhrases {
		if strings.Contains(answerLower, phrase) && !strings.Contains(contextLower, phrase) {
			violations = append(violations, fmt.Sprintf("Fabricated causal link: '%s' not in source", phrase))
		}
	}

	for _, match := range arithmeticPattern.FindAllStringSubmatch(answer, -1) {
		variations := []string{
			fmt.Sprintf("%s-%s=%s", match[1], match[2], match[3]),
			fmt.Sprintf("%s - %s = %s", match[1], match[2], match[3]),
		}
		found := false
		for _, v := range variations {
			if strings.Contains(contextText, v) {
				found = true
				break
			}
		}
		if !found {
			violations = append(violations, fmt.Sprintf(
				"Invented calculation: '%s-%s=%s' not shown in source", match[1], match[2], match[3]))
		}
	}

	return violations
}

func sourceExplainsContradiction(contextText string) bool {
	lower := strings.ToLower(contextText)
	for _, marker := range resolutionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

const auditSystemPrompt = `You are a Strict Quality Control Auditor.
Check the 'Answer' against the 'Context'.

PASS CRITERIA:
1. Does the answer hallucinate numbers not in the text?
2. Does the answer mix up dates (e.g., Q1 vs Q2)?
3. Does the answer fabricate explanations using phrases like "due to" or "because"
   that don't appear in the context?
4. Does the answer invent arithmetic calculations not shown in the text?

If PASS: Return exactly "PASS".
If FAIL: Return a concise description of the error.`

// modelAudit runs the final model judgment. An unreachable audit model
// approves the draft: the structural stages have already run, and
// failing the request on auditor downtime would be worse than serving
// an unaudited answer.
func (a *Auditor) modelAudit(ctx context.Context, question, answer, contextSnippet string) string {
	snippet := contextSnippet
	if len(snippet) > 2000 {
		snippet = snippet[:2000]
	}

	userPrompt := fmt.Sprintf(`--- CONTEXT SNIPPET ---
%s

--- USER QUESTION ---
%s

--- PROPOSED ANSWER ---
%s`, snippet, question, answer)

	result, err := a.llm.Generate(ctx, userPrompt, auditSystemPrompt, llm.Deterministic())
	if err != nil {
		slog.Warn("Audit model call failed, approving draft", "error", err)
		return ""
	}

	if strings.Contains(strings.ToUpper(result), "PASS") {
		return ""
	}
	return result
}
