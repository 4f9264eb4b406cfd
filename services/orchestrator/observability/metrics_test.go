// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ============================================================================
// Test Helpers: Create isolated metrics for testing
// ============================================================================

// newTestPipelineMetrics creates a PipelineMetrics instance backed by a
// custom registry. This avoids conflicts with the global Prometheus
// registry and allows parallel testing.
func newTestPipelineMetrics(t *testing.T) *PipelineMetrics {
	t.Helper()

	reg := prometheus.NewRegistry()

	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"stage"},
	)

	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "queries_total",
			Help:      "Completed queries by outcome",
		},
		[]string{"outcome"},
	)

	retriesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "retries_total",
			Help:      "Generation retries triggered by audit rejections",
		},
	)

	auditRejections := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "audit_rejections_total",
			Help:      "Audit rejections by reason",
		},
		[]string{"reason"},
	)

	reg.MustRegister(stageDuration, queriesTotal, retriesTotal, auditRejections)

	return &PipelineMetrics{
		StageDurationSeconds: stageDuration,
		QueriesTotal:         queriesTotal,
		RetriesTotal:         retriesTotal,
		AuditRejectionsTotal: auditRejections,
	}
}

func newTestIngestMetrics(t *testing.T) *IngestMetrics {
	t.Helper()

	reg := prometheus.NewRegistry()

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "jobs_total",
			Help:      "Finished ingestion jobs by terminal status",
		},
		[]string{"status"},
	)

	chunksTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Chunks successfully ingested",
		},
	)

	lockWait := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for accelerator locks",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 600},
		},
		[]string{"lock"},
	)

	reg.MustRegister(jobsTotal, chunksTotal, lockWait)

	return &IngestMetrics{JobsTotal: jobsTotal, ChunksTotal: chunksTotal, LockWaitSeconds: lockWait}
}

// ============================================================================
// Pipeline Metrics Tests
// ============================================================================

func TestPipelineMetrics_QueryCompleted(t *testing.T) {
	t.Parallel()
	m := newTestPipelineMetrics(t)

	m.QueryCompleted("clean")
	m.QueryCompleted("clean")
	m.QueryCompleted("degraded")

	if got := testutil.ToFloat64(m.QueriesTotal.WithLabelValues("clean")); got != 2 {
		t.Errorf("clean queries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.QueriesTotal.WithLabelValues("degraded")); got != 1 {
		t.Errorf("degraded queries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.QueriesTotal.WithLabelValues("retrieval_error")); got != 0 {
		t.Errorf("retrieval_error queries = %v, want 0", got)
	}
}

func TestPipelineMetrics_RetriesAndRejections(t *testing.T) {
	t.Parallel()
	m := newTestPipelineMetrics(t)

	m.RetryTriggered()
	m.RetryTriggered()
	m.AuditRejected("unsupported_claim")
	m.AuditRejected("unsupported_claim")
	m.AuditRejected("constraint_violation")

	if got := testutil.ToFloat64(m.RetriesTotal); got != 2 {
		t.Errorf("retries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AuditRejectionsTotal.WithLabelValues("unsupported_claim")); got != 2 {
		t.Errorf("unsupported_claim rejections = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AuditRejectionsTotal.WithLabelValues("constraint_violation")); got != 1 {
		t.Errorf("constraint_violation rejections = %v, want 1", got)
	}
}

func TestPipelineMetrics_ObserveStage(t *testing.T) {
	t.Parallel()
	m := newTestPipelineMetrics(t)

	m.ObserveStage("retrieve", 0.3)
	m.ObserveStage("retrieve", 1.7)
	m.ObserveStage("generate", 4.2)

	if got := testutil.CollectAndCount(m.StageDurationSeconds); got != 2 {
		t.Errorf("stage series = %d, want 2", got)
	}
}

// ============================================================================
// Ingest Metrics Tests
// ============================================================================

func TestIngestMetrics(t *testing.T) {
	t.Parallel()
	m := newTestIngestMetrics(t)

	m.JobCompleted("completed")
	m.JobCompleted("completed")
	m.JobCompleted("failed")
	m.JobCompleted("cancelled")
	m.ChunksIngested(12)
	m.ChunksIngested(3)

	if got := testutil.ToFloat64(m.JobsTotal.WithLabelValues("completed")); got != 2 {
		t.Errorf("completed jobs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.JobsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed jobs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.JobsTotal.WithLabelValues("cancelled")); got != 1 {
		t.Errorf("cancelled jobs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ChunksTotal); got != 15 {
		t.Errorf("chunks = %v, want 15", got)
	}
}

func TestIngestMetrics_LockWait(t *testing.T) {
	t.Parallel()
	m := newTestIngestMetrics(t)

	m.ObserveLockWait("documind_gpu_lock", 0.4)
	m.ObserveLockWait("documind_gpu_lock", 12.0)
	m.ObserveLockWait("gpu_inference_lock", 0.05)

	if got := testutil.CollectAndCount(m.LockWaitSeconds); got != 2 {
		t.Errorf("lock series = %d, want 2", got)
	}
}
