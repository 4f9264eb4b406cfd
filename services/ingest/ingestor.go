// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ashuxtim/DocuMind-AI/services/knowledge"
	"github.com/ashuxtim/DocuMind-AI/services/llm"
	"github.com/ashuxtim/DocuMind-AI/services/vector"
)

var tracer = otel.Tracer("documind.ingest.ingestor")

// Local backends serve one inference at a time, so chunks are
// processed serially. Cloud backends tolerate parallel calls.
const (
	localConcurrency = 1
	cloudConcurrency = 5
)

// StateTracker is the job-state contract the workflow drives. Its
// IsCancelled method backs the cooperative cancellation token.
type StateTracker interface {
	SetProcessing(ctx context.Context, filename, taskID string) error
	SetCompleted(ctx context.Context, filename string) error
	SetFailed(ctx context.Context, filename, errMsg string) error
	SetCancelled(ctx context.Context, filename string) error
	IsCancelled(ctx context.Context, filename string) (bool, error)
}

// Locker hands out the two accelerator lock policies.
type Locker interface {
	AcquireJobInit(ctx context.Context) (func(), error)
	AcquireInference(ctx context.Context) (func(), error)
}

// Metrics receives ingestion outcomes. NopMetrics discards them.
type Metrics interface {
	JobCompleted(status string)
	ChunksIngested(n int)
	ObserveLockWait(lock string, seconds float64)
}

type nopMetrics struct{}

func (nopMetrics) JobCompleted(string)             {}
func (nopMetrics) ChunksIngested(int)              {}
func (nopMetrics) ObserveLockWait(string, float64) {}

// NopMetrics returns a Metrics sink that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }

// Ingestor runs the per-document ingestion workflow: parse, then for
// each chunk a vector add and a lock-guarded graph extraction, fanned
// out under a weighted semaphore.
type Ingestor struct {
	vectors     vector.Store
	graph       knowledge.GraphStore
	builder     *GraphBuilder
	locks       Locker
	state       StateTracker
	metrics     Metrics
	local       bool
	concurrency int64
}

// NewIngestor wires the workflow for the given LLM provider. Local
// providers get serial chunk processing and the per-chunk inference
// lock; cloud providers get parallel chunks and no inference lock.
func NewIngestor(vectors vector.Store, graph knowledge.GraphStore, builder *GraphBuilder,
	locks Locker, state StateTracker, provider string, metrics Metrics) *Ingestor {
	local := llm.IsLocal(provider)
	concurrency := int64(cloudConcurrency)
	if local {
		concurrency = localConcurrency
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	slog.Info("Ingestion mode configured", "provider", provider, "local", local, "concurrency", concurrency)
	return &Ingestor{
		vectors:     vectors,
		graph:       graph,
		builder:     builder,
		locks:       locks,
		state:       state,
		metrics:     metrics,
		local:       local,
		concurrency: concurrency,
	}
}

// ProcessDocument ingests one uploaded document end to end.
//
// # Description
//
// The job-init lock is taken before any accelerator-backed work
// starts; failure to acquire it within the bounded wait fails the job.
// The cancellation token is checked before every chunk and again
// before every graph extraction. If the job was cancelled, every trace
// of the file is wiped (vector entries and graph relations) and the
// job ends in the cancelled state. Chunk-level errors are logged and
// skipped; they never fail the job.
//
// # Inputs
//   - job: file path on shared storage, filename, and task id.
//
// # Outputs
//   - error only for job-level failures (lock timeout, parse failure,
//     empty document). The terminal status is always written to the
//     state store before returning.
func (ing *Ingestor) ProcessDocument(ctx context.Context, job IngestJob) error {
	ctx, span := tracer.Start(ctx, "ProcessDocument")
	defer span.End()
	span.SetAttributes(attribute.String("filename", job.Filename))

	if err := ing.state.SetProcessing(ctx, job.Filename, job.TaskID); err != nil {
		slog.Warn("Failed to record processing state", "filename", job.Filename, "error", err)
	}

	// Lock before initializing anything heavy, so queued jobs do not
	// compete for accelerator memory.
	lockStart := time.Now()
	unlock, err := ing.locks.AcquireJobInit(ctx)
	if err != nil {
		return ing.fail(ctx, job.Filename, err)
	}
	ing.metrics.ObserveLockWait(jobInitLockName, time.Since(lockStart).Seconds())
	defer unlock()

	chunks, err := Parse(job.FilePath)
	if err != nil {
		return ing.fail(ctx, job.Filename, fmt.Errorf("parsing failed: %w", err))
	}
	if len(chunks) == 0 {
		return ing.fail(ctx, job.Filename, errors.New("document produced no chunks"))
	}
	slog.Info("Parsed document", "filename", job.Filename, "chunks", len(chunks))

	cancelled := func() bool {
		c, err := ing.state.IsCancelled(ctx, job.Filename)
		if err != nil {
			slog.Warn("Cancellation check failed", "filename", job.Filename, "error", err)
			return false
		}
		return c
	}

	sem := semaphore.NewWeighted(ing.concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)
			if cancelled() {
				return nil
			}
			ing.processChunk(gctx, i, chunk, job.Filename, cancelled)
			return nil
		})
	}
	_ = g.Wait()

	if cancelled() {
		slog.Info("Job cancelled, running cleanup", "filename", job.Filename)
		if err := ing.Cleanup(ctx, job.Filename); err != nil {
			slog.Warn("Cleanup incomplete", "filename", job.Filename, "error", err)
		}
		if err := ing.state.SetCancelled(ctx, job.Filename); err != nil {
			slog.Warn("Failed to record cancelled state", "filename", job.Filename, "error", err)
		}
		ing.metrics.JobCompleted(StatusCancelled)
		span.SetStatus(codes.Ok, StatusCancelled)
		return nil
	}

	if err := ing.state.SetCompleted(ctx, job.Filename); err != nil {
		slog.Warn("Failed to record completed state", "filename", job.Filename, "error", err)
	}
	ing.metrics.JobCompleted(StatusCompleted)
	ing.metrics.ChunksIngested(len(chunks))
	slog.Info("Finished ingesting document", "filename", job.Filename, "chunks", len(chunks))
	return nil
}

func (ing *Ingestor) fail(ctx context.Context, filename string, err error) error {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if stateErr := ing.state.SetFailed(ctx, filename, err.Error()); stateErr != nil {
		slog.Warn("Failed to record failed state", "filename", filename, "error", stateErr)
	}
	ing.metrics.JobCompleted(StatusFailed)
	slog.Error("Ingestion job failed", "filename", filename, "error", err)
	return err
}

// processChunk indexes one chunk and merges its extracted relations.
// Errors degrade the chunk, never the job.
func (ing *Ingestor) processChunk(ctx context.Context, i int, chunk vector.Chunk, filename string, cancelled func() bool) {
	if _, err := ing.vectors.Add(ctx, []vector.Chunk{chunk}); err != nil {
		slog.Warn("Vector add failed", "filename", filename, "chunk", i, "error", err)
	}

	if cancelled() {
		return
	}

	var relations []knowledge.Relation
	var err error
	if ing.local {
		// Serialize graph extraction on the single local accelerator.
		// The wait is unbounded so every chunk gets covered.
		lockStart := time.Now()
		unlock, lockErr := ing.locks.AcquireInference(ctx)
		ing.metrics.ObserveLockWait(inferenceLockName, time.Since(lockStart).Seconds())
		if lockErr != nil {
			slog.Warn("Inference lock unavailable, skipping graph extraction",
				"filename", filename, "chunk", i, "error", lockErr)
			return
		}
		if !cancelled() {
			relations, err = ing.builder.ExtractRelations(ctx, chunk.Text)
		}
		unlock()
	} else {
		relations, err = ing.builder.ExtractRelations(ctx, chunk.Text)
	}
	if err != nil {
		slog.Warn("Graph extraction failed", "filename", filename, "chunk", i, "error", err)
		return
	}

	if len(relations) == 0 {
		return
	}
	if err := ing.graph.AddRelations(ctx, relations, filename, chunk.Page); err != nil {
		slog.Warn("Graph merge failed", "filename", filename, "chunk", i, "error", err)
	}
}

// Cleanup wipes every trace of a file from the vector index and the
// knowledge graph. Used for cancelled jobs and explicit deletes.
func (ing *Ingestor) Cleanup(ctx context.Context, filename string) error {
	ctx, span := tracer.Start(ctx, "Cleanup")
	defer span.End()

	var errs []error
	if err := ing.vectors.DeleteSource(ctx, filename); err != nil {
		errs = append(errs, fmt.Errorf("vector cleanup: %w", err))
	}
	if err := ing.graph.DeleteDocument(ctx, filename); err != nil {
		errs = append(errs, fmt.Errorf("graph cleanup: %w", err))
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
