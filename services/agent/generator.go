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
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ashuxtim/DocuMind-AI/services/llm"
)

var generatorTracer = otel.Tracer("documind.agent.generator")

const (
	// maxContextChars is the hard budget for the composed prompt
	// context. graphReserveChars is held back from vector documents so
	// graph context always fits.
	maxContextChars   = 12000
	graphReserveChars = 500

	// mathContextDocs bounds how many documents feed the computation
	// sandbox; it is wider than the generation context so variable
	// extraction sees values the rerank cutoff may have trimmed.
	mathContextDocs = 15

	// historyTurns is how many trailing conversation turns survive
	// into the prompt.
	historyTurns = 2
)

// Generator composes the budgeted prompt and produces the draft
// answer, injecting a verified computation block when the question
// needs math.
type Generator struct {
	llm  llm.Client
	math *MathExecutor
}

func NewGenerator(client llm.Client, math *MathExecutor) *Generator {
	return &Generator{llm: client, math: math}
}

// Generate runs one generation attempt and increments RetryCount.
//
// # Description
//
// Builds the context under the character budget (graph context pinned
// first, vector documents in rerank order until the budget minus the
// graph reserve is spent, remainder dropped), optionally runs the
// computation sandbox, injects audit feedback as a correction
// instruction on retries, and calls the model once.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - state: Session state after retrieval; Generation and RetryCount
//     are updated in place.
//
// # Outputs
//
//   - error: Non-nil only when the generation model itself fails —
//     that is fatal for the request.
func (g *Generator) Generate(ctx context.Context, state *SessionState) error {
	ctx, span := generatorTracer.Start(ctx, "Generate")
	defer span.End()
	span.SetAttributes(attribute.Int("attempt", state.RetryCount+1))

	// Math runs only on the first attempt: a rejection is tied to the
	// draft's wording, and re-running the sandbox inside the feedback
	// loop would compound latency without new information.
	mathContext := ""
	if state.AuditFeedback == "" && g.math.NeedsMath(state.Question) {
		slog.Info("Math question detected, running sandboxed computation")
		rawContext := strings.Join(firstN(state.Documents, mathContextDocs), "\n\n")
		if result := g.math.Process(ctx, state.Question, rawContext); result != nil {
			mathContext = fmt.Sprintf(`[SYSTEM NOTE: TRUSTED CODE EXECUTION RESULT]
The user asked for a calculation. A sandboxed script verified this result:
CALCULATED VALUE: %s

MANDATORY INSTRUCTION: You must use this calculated value in your answer.
Do not attempt to recalculate it mentally.`, result.Output)
			span.SetAttributes(attribute.Bool("math_injected", true))
		}
	}

	historyText := formatHistory(state.History)
	contextText := g.buildContext(state.Documents, state.Question, mathContext, historyText)

	feedbackInstruction := ""
	if state.AuditFeedback != "" {
		slog.Info("Retrying generation with audit feedback", "feedback", state.AuditFeedback)
		feedbackInstruction = fmt.Sprintf(`PREVIOUS ANSWER WAS REJECTED.
ERROR: %s
INSTRUCTION: Fix the error described above. Do NOT apologize.`, state.AuditFeedback)
	}

	systemPrompt := buildGeneratorSystemPrompt(feedbackInstruction)

	userPrompt := fmt.Sprintf(`--- PREVIOUS CONVERSATION ---
%s

--- CONTEXT ---
%s

%s

--- QUESTION ---
%s`, historyText, contextText, mathContext, state.Question)

	response, err := g.llm.Generate(ctx, userPrompt, systemPrompt, llm.GenerationParams{})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("generation model failed: %w", err)
	}

	state.Generation = response
	state.RetryCount++
	return nil
}

// buildContext assembles graph + vector documents under the budget.
// Graph context is added unconditionally; vector documents fill the
// remainder in rerank order.
func (g *Generator) buildContext(documents []string, question, mathContext, historyText string) string {
	currentChars := len(question) + len(mathContext) + len(historyText)

	var graphText string
	var vectorDocs []string
	for _, doc := range documents {
		if graphText == "" && isGraphDoc(doc) {
			graphText = doc
			continue
		}
		vectorDocs = append(vectorDocs, doc)
	}

	var allowed []string
	for _, doc := range vectorDocs {
		if currentChars+len(doc) >= maxContextChars-graphReserveChars {
			slog.Debug("Context budget reached", "kept_docs", len(allowed), "dropped", len(vectorDocs)-len(allowed))
			break
		}
		allowed = append(allowed, doc)
		currentChars += len(doc)
	}

	if graphText == "" && len(allowed) == 0 {
		return "No relevant context."
	}
	if graphText == "" {
		return strings.Join(allowed, "\n")
	}
	return graphText + "\n\n" + strings.Join(allowed, "\n")
}

func formatHistory(history []Turn) string {
	if len(history) == 0 {
		return ""
	}
	recent := history
	if len(recent) > historyTurns {
		recent = recent[len(recent)-historyTurns:]
	}
	lines := make([]string, len(recent))
	for i, turn := range recent {
		role := turn.Role
		if role == "" {
			role = "user"
		}
		lines[i] = strings.ToUpper(role) + ": " + turn.Content
	}
	return strings.Join(lines, "\n")
}

func buildGeneratorSystemPrompt(feedbackInstruction string) string {
	corrections := "No corrections needed."
	if feedbackInstruction != "" {
		corrections = feedbackInstruction
	}

	return fmt.Sprintf(`You are DocuMind, an expert financial document assistant.

INSTRUCTION PRIORITY (highest to lowest):
1. VERIFIED CALCULATIONS: If you see [SYSTEM NOTE: TRUSTED CODE EXECUTION RESULT], you MUST use that exact value. Do not recalculate mentally.
2. AUDIT CORRECTIONS: %s
3. GRAPH OVERRIDES: If the graph shows "REVISED_TO" or "CONTRADICTS", the FINAL value in the chain is truth.
4. DOCUMENT EVIDENCE: Use the context below for all other facts.

OUTPUT RULES:
- Cite sources as [Source: filename, Page X]
- If the answer is not in context, say "The documents provided do not contain this information"
- If asked to calculate and no code result exists, say "I need to perform a calculation but code execution was not triggered"
- Be concise - no unnecessary preamble

DO NOT:
- Apologize or explain your reasoning process
- Guess numbers not in the text
- Ignore the verified calculation results`, corrections)
}

func firstN(docs []string, n int) []string {
	if len(docs) > n {
		return docs[:n]
	}
	return docs
}
