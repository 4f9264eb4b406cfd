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

var constraintTracer = otel.Tracer("documind.agent.constraints")

var (
	zeroPattern     = regexp.MustCompile(`==\s*0|zero`)
	positivePattern = regexp.MustCompile(`>=\s*[1-9]|>\s*0`)
	forallPattern   = regexp.MustCompile(`forall|all|every`)

	// dependencyPattern naively reads "left = f(right)" definitions out
	// of predicate text for the circular-definition scan.
	dependencyPattern = regexp.MustCompile(`(\w+)\s*=.*?(\w+)`)
)

// ConstraintChecker extracts formal predicates from a question/context
// pair and checks logical consistency and answer compliance.
type ConstraintChecker struct {
	llm llm.Client
}

func NewConstraintChecker(client llm.Client) *ConstraintChecker {
	return &ConstraintChecker{llm: client}
}

const extractPredicatesSystem = `You are a logic extraction expert.
Extract formal constraints from the question and context.

Output a JSON array of constraint strings.
Example:
Question: "Are there records with zero transactions where all records must have ratio >= 20?"
Output: [
    "exists(record) where transactions(record) == 0",
    "forall(record) ratio(record) >= 20",
    "ratio = transactions / records"
]`

// ExtractPredicates returns the formal constraints implied by the
// question and context. Extraction failures yield an empty list.
func (c *ConstraintChecker) ExtractPredicates(ctx context.Context, question, contextText string) []string {
	ctx, span := constraintTracer.Start(ctx, "ExtractPredicates")
	defer span.End()

	bounded := contextText
	if len(bounded) > 500 {
		bounded = bounded[:500]
	}

	prompt := fmt.Sprintf(`Extract constraints:

Question: %s

Context (first 500 chars):
%s

JSON array:`, question, bounded)

	response, err := c.llm.Generate(ctx, prompt, extractPredicatesSystem, llm.Deterministic())
	if err != nil {
		slog.Warn("Predicate extraction model call failed", "error", err)
		span.RecordError(err)
		return nil
	}

	var predicates []string
	if err := DecodeArray(response, &predicates); err != nil {
		slog.Warn("Predicate extraction output unparseable", "error", err)
		span.RecordError(err)
		return nil
	}

	span.SetAttributes(attribute.Int("predicates", len(predicates)))
	return predicates
}

// CheckConsistency checks whether the predicates can all hold at once.
// Three rules apply in order: the hard-coded existential-zero vs
// universal-positive contradiction, the circular-definition scan, and
// a model verdict for two or more predicates.
func (c *ConstraintChecker) CheckConsistency(ctx context.Context, predicates []string, contextText string) (bool, string) {
	ctx, span := constraintTracer.Start(ctx, "CheckConsistency")
	defer span.End()
	span.SetAttributes(attribute.Int("predicates", len(predicates)))

	if len(predicates) == 0 {
		return true, "No constraints to check"
	}

	hasZero := false
	hasPositive := false
	hasUniversal := false
	for _, p := range predicates {
		lower := strings.ToLower(p)
		if zeroPattern.MatchString(lower) {
			hasZero = true
		}
		if positivePattern.MatchString(p) {
			hasPositive = true
		}
		if forallPattern.MatchString(lower) {
			hasUniversal = true
		}
	}
	if hasZero && hasPositive && hasUniversal {
		return false, "CONTRADICTION: Cannot have ∃(zero) AND ∀(>0) simultaneously"
	}

	if hasCircularDependency(predicates) {
		return false, "CIRCULAR DEPENDENCY: Definition depends on itself (e.g., Active Record defined by Ratio which depends on Active Records)"
	}

	if len(predicates) > 1 {
		return c.modelConsistencyCheck(ctx, predicates, contextText)
	}

	return true, "Constraints appear consistent"
}

// hasCircularDependency builds a dependency graph from "left = f(right)"
// patterns in predicate text and looks for a cycle with an iterative
// depth-first search. The traversal keeps an explicit frame stack so
// adversarial predicate sets cannot exhaust call depth.
func hasCircularDependency(predicates []string) bool {
	dependencies := make(map[string][]string)
	for _, pred := range predicates {
		if match := dependencyPattern.FindStringSubmatch(pred); match != nil {
			dependencies[match[1]] = append(dependencies[match[1]], match[2])
		}
	}

	visited := make(map[string]bool)
	for start := range dependencies {
		if visited[start] {
			continue
		}

		type frame struct {
			node string
			next int
		}
		onStack := make(map[string]bool)
		stack := []frame{{node: start}}
		visited[start] = true
		onStack[start] = true

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			neighbors := dependencies[top.node]

			if top.next >= len(neighbors) {
				onStack[top.node] = false
				stack = stack[:len(stack)-1]
				continue
			}

			neighbor := neighbors[top.next]
			top.next++

			if onStack[neighbor] {
				return true
			}
			if !visited[neighbor] {
				visited[neighbor] = true
				onStack[neighbor] = true
				stack = append(stack, frame{node: neighbor})
			}
		}
	}
	return false
}

const consistencySystem = `You are a formal logic checker.
Check if these predicates can ALL be true simultaneously.

Return JSON:
{"consistent": true/false, "explanation": "..."}`

// modelConsistencyCheck delegates the verdict to the model.
// Inconclusive responses count as consistent.
func (c *ConstraintChecker) modelConsistencyCheck(ctx context.Context, predicates []string, contextText string) (bool, string) {
	numbered := make([]string, len(predicates))
	for i, p := range predicates {
		numbered[i] = fmt.Sprintf("%d. %s", i+1, p)
	}
	bounded := contextText
	if len(bounded) > 800 {
		bounded = bounded[:800]
	}

	prompt := fmt.Sprintf(`Check consistency:

Predicates:
%s

Context:
%s

JSON:`, strings.Join(numbered, "\n"), bounded)

	response, err := c.llm.Generate(ctx, prompt, consistencySystem, llm.Deterministic())
	if err != nil {
		slog.Warn("Consistency check model call failed", "error", err)
		return true, "LLM check failed"
	}

	var verdict struct {
		Consistent  bool   `json:"consistent"`
		Explanation string `json:"explanation"`
	}
	if err := DecodeObject(response, &verdict); err != nil {
		return true, "LLM check inconclusive"
	}
	if verdict.Explanation == "" {
		verdict.Explanation = "LLM check"
	}
	return verdict.Consistent, verdict.Explanation
}

const validateAnswerSystem = `Check if this answer violates the constraints.
Return JSON:
{"valid": true/false, "violation": "description or null"}`

// ValidateAnswer checks the draft answer against the predicates via
// the model. Inconclusive responses count as valid.
func (c *ConstraintChecker) ValidateAnswer(ctx context.Context, answer string, predicates []string) (bool, string) {
	ctx, span := constraintTracer.Start(ctx, "ValidateAnswer")
	defer span.End()

	prompt := fmt.Sprintf(`Validate:

Answer: %s

Constraints:
%s

JSON:`, answer, strings.Join(predicates, "\n"))

	response, err := c.llm.Generate(ctx, prompt, validateAnswerSystem, llm.Deterministic())
	if err != nil {
		slog.Warn("Answer validation model call failed", "error", err)
		return true, "Validation inconclusive"
	}

	var verdict struct {
		Valid     bool   `json:"valid"`
		Violation string `json:"violation"`
	}
	if err := DecodeObject(response, &verdict); err != nil {
		return true, "Validation inconclusive"
	}
	if !verdict.Valid {
		return false, verdict.Violation
	}
	return true, "Answer consistent with constraints"
}
