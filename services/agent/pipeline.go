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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var pipelineTracer = otel.Tracer("documind.agent.pipeline")

// Result is the terminal output of one pipeline run.
type Result struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
}

// Confidence levels reported to callers. Degraded means the final
// attempt still carried unresolved audit feedback.
const (
	confidenceClean    = 1.0
	confidenceDegraded = 0.5
)

// Metrics receives pipeline observations. Implementations must be
// safe for concurrent use.
type Metrics interface {
	ObserveStage(stage string, seconds float64)
	QueryCompleted(outcome string)
	RetryTriggered()
	AuditRejected(reason string)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) ObserveStage(string, float64) {}
func (NopMetrics) QueryCompleted(string)        {}
func (NopMetrics) RetryTriggered()              {}
func (NopMetrics) AuditRejected(string)         {}

// Pipeline sequences decompose, retrieve, generate and audit, with a
// bounded retry edge from audit back to generate.
type Pipeline struct {
	decomposer *Decomposer
	retriever  *Retriever
	generator  *Generator
	auditor    *Auditor
	metrics    Metrics
}

func NewPipeline(decomposer *Decomposer, retriever *Retriever, generator *Generator, auditor *Auditor, metrics Metrics) *Pipeline {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Pipeline{
		decomposer: decomposer,
		retriever:  retriever,
		generator:  generator,
		auditor:    auditor,
		metrics:    metrics,
	}
}

// Run answers one question.
//
// # Description
//
// Drives the state machine decompose → retrieve → generate → audit.
// After each audit, the retry edge back to generate fires only while
// feedback is non-empty and fewer than two retries have run, bounding
// total generation attempts to three and guaranteeing termination
// independent of model behavior. Retries reuse the retrieved
// documents; there is no re-retrieval.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - question: The user's question.
//   - history: Prior conversation turns, oldest first.
//
// # Outputs
//
//   - *Result: Answer, citation sources, and confidence (1.0 when the
//     last audit approved, 0.5 when feedback remained unresolved).
//   - error: Non-nil only for fatal failures (retrieval backend down
//     for every sub-query, or the generation model unreachable).
func (p *Pipeline) Run(ctx context.Context, question string, history []Turn) (*Result, error) {
	ctx, span := pipelineTracer.Start(ctx, "Run")
	defer span.End()

	state := NewSessionState(question, history)

	stageStart := time.Now()
	state.SubQueries = p.decomposer.Decompose(ctx, question)
	p.metrics.ObserveStage("decompose", time.Since(stageStart).Seconds())
	span.SetAttributes(attribute.Int("sub_queries", len(state.SubQueries)))

	stageStart = time.Now()
	if err := p.retriever.Retrieve(ctx, state); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		p.metrics.QueryCompleted("retrieval_error")
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	p.metrics.ObserveStage("retrieve", time.Since(stageStart).Seconds())
	span.SetAttributes(attribute.Int("documents", len(state.Documents)))

	for {
		stageStart = time.Now()
		if err := p.generator.Generate(ctx, state); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "generation failed")
			p.metrics.QueryCompleted("generation_error")
			return nil, err
		}
		p.metrics.ObserveStage("generate", time.Since(stageStart).Seconds())

		stageStart = time.Now()
		p.auditor.Audit(ctx, state)
		p.metrics.ObserveStage("audit", time.Since(stageStart).Seconds())

		if state.AuditFeedback == "" {
			break
		}
		p.metrics.AuditRejected(state.AuditFeedback)

		// RetryCount counts generator runs; retries are one fewer.
		if state.RetryCount-1 >= maxRetries {
			slog.Warn("Retry budget exhausted, returning degraded answer",
				"attempts", state.RetryCount,
				"feedback", state.AuditFeedback,
			)
			break
		}
		slog.Info("Audit rejected draft, retrying generation",
			"attempt", state.RetryCount,
			"feedback", state.AuditFeedback,
		)
		p.metrics.RetryTriggered()
	}

	confidence := confidenceClean
	outcome := "clean"
	if state.AuditFeedback != "" {
		confidence = confidenceDegraded
		outcome = "degraded"
	}
	p.metrics.QueryCompleted(outcome)

	span.SetAttributes(
		attribute.Int("attempts", state.RetryCount),
		attribute.Float64("confidence", confidence),
	)
	slog.Info("Pipeline complete",
		"attempts", state.RetryCount,
		"confidence", confidence,
		"sources", len(state.Sources),
	)

	return &Result{
		Answer:     state.Generation,
		Sources:    state.SourceList(),
		Confidence: confidence,
	}, nil
}
