// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ashuxtim/DocuMind-AI/services/llm"
)

var mathTracer = otel.Tracer("documind.agent.mathexec")

// mathKeywords flag questions whose answer should come from executed
// code rather than model arithmetic.
var mathKeywords = []string{
	"calculate", "compute", "sum", "subtract", "add", "divide",
	"multiply", "ratio", "percentage", "total", "average", "mean",
	"count", "difference", "maximum", "minimum", "compare",
	"reconcile", "derive", "net", "adjust", "index",
}

var mathOperators = []string{"+", "-", "×", "÷", "/", "*", "=", "≥", "≤", ">", "<"}

var (
	digitPattern   = regexp.MustCompile(`\d+`)
	formulaPattern = regexp.MustCompile(`[a-zA-Z0-9]+\s*[+\-*/÷×]\s*[a-zA-Z0-9]+`)
)

// MathResult is the trusted output of a sandboxed computation. The
// value is computed, not verified for relevance, unless validation is
// enabled.
type MathResult struct {
	Output    string
	Validated bool
}

// MathExecutor turns numeric questions into generated programs,
// executes them in an isolated subprocess, and returns the printed
// result as the trusted value.
type MathExecutor struct {
	llm             llm.Client
	interpreter     string
	timeout         time.Duration
	validateResults bool
}

// MathExecutorOption customizes a MathExecutor.
type MathExecutorOption func(*MathExecutor)

// WithValidation enables the model sanity check of computed results.
// It is off by default: the check adds a full model round-trip per
// math question.
func WithValidation(enabled bool) MathExecutorOption {
	return func(m *MathExecutor) { m.validateResults = enabled }
}

// WithInterpreter overrides the program interpreter binary.
func WithInterpreter(path string) MathExecutorOption {
	return func(m *MathExecutor) { m.interpreter = path }
}

// WithTimeout overrides the execution wall-clock deadline.
func WithTimeout(d time.Duration) MathExecutorOption {
	return func(m *MathExecutor) { m.timeout = d }
}

func NewMathExecutor(client llm.Client, opts ...MathExecutorOption) *MathExecutor {
	m := &MathExecutor{
		llm:         client,
		interpreter: "python3",
		timeout:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NeedsMath reports whether a question requires computation: at least
// one of {keyword, operator, algebraic pattern} and at least one digit.
func (m *MathExecutor) NeedsMath(question string) bool {
	lower := strings.ToLower(question)

	hasKeyword := false
	for _, kw := range mathKeywords {
		if strings.Contains(lower, kw) {
			hasKeyword = true
			break
		}
	}
	hasOperator := false
	for _, op := range mathOperators {
		if strings.Contains(lower, op) {
			hasOperator = true
			break
		}
	}
	hasFormula := formulaPattern.MatchString(question)
	hasNumbers := digitPattern.MatchString(question)

	return (hasKeyword || hasOperator || hasFormula) && hasNumbers
}

// Process runs the full detect-free pipeline: extract variables,
// generate code, execute. Returns nil on any failure so the generator
// degrades to plain text generation; a nil result is never an error.
func (m *MathExecutor) Process(ctx context.Context, question, contextText string) *MathResult {
	ctx, span := mathTracer.Start(ctx, "Process")
	defer span.End()

	variables := m.extractVariables(ctx, contextText, question)
	if len(variables) == 0 {
		slog.Debug("No numeric variables extracted, skipping computation")
		span.SetAttributes(attribute.Bool("variables_found", false))
		return nil
	}
	span.SetAttributes(attribute.Int("variables", len(variables)))

	code := m.generateCode(ctx, question, variables, contextText)
	if code == "" {
		slog.Warn("Computation code generation failed")
		return nil
	}

	output, err := m.execute(ctx, code)
	if err != nil {
		slog.Warn("Sandbox execution failed", "error", err)
		span.RecordError(err)
		return nil
	}
	span.SetAttributes(attribute.Bool("executed", true))

	result := &MathResult{Output: output}
	if m.validateResults {
		result.Validated = m.validate(ctx, question, code, output, variables)
		if !result.Validated {
			slog.Warn("Computed result failed validation", "output", output)
			return nil
		}
	}

	slog.Info("Sandbox computation succeeded", "output", output)
	return result
}

const extractVariablesSystem = "You are a data extractor. Output ONLY a JSON object."

// extractVariables asks the model to name every numeric fact in the
// context. Parse failures fall back to an empty map.
func (m *MathExecutor) extractVariables(ctx context.Context, contextText, question string) map[string]float64 {
	bounded := contextText
	if len(bounded) > 3000 {
		bounded = bounded[:3000]
	}

	prompt := fmt.Sprintf(`Extract ALL numerical data from this text as variables.

Question: %s

Text:
%s

Instructions:
1. Find every number mentioned
2. Create descriptive variable names (snake_case)
3. Include units in names (e.g., revenue_millions, count_records)
4. Use numeric values only
5. If calculations are shown (e.g., "214 - 37"), extract INTERMEDIATE values
6. Return ONLY a valid JSON object

Example:
Text: "Q1 revenue $50M. Q2 was $60M. Total employees: 500"
Output: {"q1_revenue_millions": 50, "q2_revenue_millions": 60, "total_employees": 500}

JSON object:`, question, bounded)

	response, err := m.llm.Generate(ctx, prompt, extractVariablesSystem, llm.Deterministic())
	if err != nil {
		slog.Warn("Variable extraction model call failed", "error", err)
		return nil
	}

	variables := make(map[string]float64)
	if err := DecodeObject(response, &variables); err != nil {
		slog.Warn("Variable extraction output unparseable", "error", err)
		return nil
	}
	return variables
}

const generateCodeSystem = "You are a Python code generator. Output ONLY valid code."

// generateCode asks the model for a short program computing the answer
// from the extracted variables and prepends the variable definitions.
func (m *MathExecutor) generateCode(ctx context.Context, question string, variables map[string]float64, contextText string) string {
	varsJSON, err := json.MarshalIndent(variables, "", "  ")
	if err != nil {
		return ""
	}
	bounded := contextText
	if len(bounded) > 1000 {
		bounded = bounded[:1000]
	}

	prompt := fmt.Sprintf(`Write Python code to answer this question using provided variables.

Question: %s

Variables available:
%s

Context (for reference):
%s

Requirements:
1. Variables are already defined - DO NOT redefine them
2. Show step-by-step calculation with comments
3. Use intermediate variables
4. Store final answer in: result
5. Print result with label
6. Output ONLY executable Python code

Code:`, question, varsJSON, bounded)

	response, err := m.llm.Generate(ctx, prompt, generateCodeSystem, llm.Deterministic())
	if err != nil {
		slog.Warn("Code generation model call failed", "error", err)
		return ""
	}
	code := stripFences(response)
	if code == "" {
		return ""
	}

	// Deterministic iteration keeps generated scripts reproducible.
	names := make([]string, 0, len(variables))
	for name := range variables {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("# Extracted Variables\n")
	for _, name := range names {
		fmt.Fprintf(&b, "%s = %v\n", name, variables[name])
	}
	b.WriteString("\n# Calculation\n")
	b.WriteString(code)
	b.WriteString("\n")
	return b.String()
}

// execute runs the program in a subprocess with a hard wall-clock
// deadline. The temp script is removed on every path.
func (m *MathExecutor) execute(ctx context.Context, code string) (string, error) {
	tmpFile, err := os.CreateTemp("", "documind-calc-*.py")
	if err != nil {
		return "", fmt.Errorf("failed to create temp script: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.WriteString(code); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to write temp script: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp script: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, m.interpreter, tmpPath)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("execution timed out after %s", m.timeout)
		}
		return "", fmt.Errorf("execution failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	return strings.TrimSpace(stdout.String()), nil
}

// validate sanity-checks the result against the question via the
// model. Inconclusive responses count as valid so validation can only
// narrow, never invent, failures.
func (m *MathExecutor) validate(ctx context.Context, question, code, result string, variables map[string]float64) bool {
	varsJSON, _ := json.Marshal(variables)
	prompt := fmt.Sprintf(`Verify this calculation is correct.

Question: %s
Variables: %s
Code: %s
Result: %s

Check:
1. Is the math correct?
2. Does the result answer the question?
3. Is the result just copying an input (hallucination)?

Return JSON:
{"is_valid": true/false, "confidence": 0.0-1.0, "issues": [], "explanation": "..."}

JSON:`, question, varsJSON, code, result)

	response, err := m.llm.Generate(ctx, prompt, "", llm.Deterministic())
	if err != nil {
		return true
	}

	var verdict struct {
		IsValid bool `json:"is_valid"`
	}
	if err := DecodeObject(response, &verdict); err != nil {
		return true
	}
	return verdict.IsValid
}
