// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the query
// pipeline and the ingestion workflow.
//
// # Description
//
// Metrics are exposed via the /metrics endpoint. Pipeline metrics
// cover stage latency, query outcomes, audit rejections, and retry
// counts; ingestion metrics cover job outcomes and chunk throughput.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "documind"

// PipelineMetrics records query pipeline activity. It satisfies the
// pipeline's Metrics contract.
//
// # Fields
//
//   - StageDurationSeconds: Histogram of per-stage latency
//     (decompose, retrieve, generate, audit).
//   - QueriesTotal: Counter of completed queries by outcome
//     (clean, degraded, retrieval_error, generation_error).
//   - RetriesTotal: Counter of generation retries triggered by audit
//     rejections.
//   - AuditRejectionsTotal: Counter of audit rejections by reason.
type PipelineMetrics struct {
	StageDurationSeconds *prometheus.HistogramVec
	QueriesTotal         *prometheus.CounterVec
	RetriesTotal         prometheus.Counter
	AuditRejectionsTotal *prometheus.CounterVec
}

// NewPipelineMetrics creates and registers the pipeline metrics.
// Register once at startup; duplicate registration panics.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"stage"},
		),
		QueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "queries_total",
				Help:      "Completed queries by outcome",
			},
			[]string{"outcome"},
		),
		RetriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "retries_total",
				Help:      "Generation retries triggered by audit rejections",
			},
		),
		AuditRejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "audit_rejections_total",
				Help:      "Audit rejections by reason",
			},
			[]string{"reason"},
		),
	}
}

func (m *PipelineMetrics) ObserveStage(stage string, seconds float64) {
	m.StageDurationSeconds.WithLabelValues(stage).Observe(seconds)
}

func (m *PipelineMetrics) QueryCompleted(outcome string) {
	m.QueriesTotal.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) RetryTriggered() {
	m.RetriesTotal.Inc()
}

func (m *PipelineMetrics) AuditRejected(reason string) {
	m.AuditRejectionsTotal.WithLabelValues(reason).Inc()
}

// IngestMetrics records ingestion workflow activity. It satisfies the
// ingestion Metrics contract.
type IngestMetrics struct {
	// JobsTotal counts finished ingestion jobs by terminal status
	// (completed, failed, cancelled).
	JobsTotal *prometheus.CounterVec

	// ChunksTotal counts chunks successfully ingested.
	ChunksTotal prometheus.Counter

	// LockWaitSeconds observes how long jobs waited for the
	// accelerator locks, labelled by lock name.
	LockWaitSeconds *prometheus.HistogramVec
}

// NewIngestMetrics creates and registers the ingestion metrics.
func NewIngestMetrics() *IngestMetrics {
	return &IngestMetrics{
		JobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ingest",
				Name:      "jobs_total",
				Help:      "Finished ingestion jobs by terminal status",
			},
			[]string{"status"},
		),
		ChunksTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ingest",
				Name:      "chunks_total",
				Help:      "Chunks successfully ingested",
			},
		),
		LockWaitSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "ingest",
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting for accelerator locks",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 600},
			},
			[]string{"lock"},
		),
	}
}

func (m *IngestMetrics) JobCompleted(status string) {
	m.JobsTotal.WithLabelValues(status).Inc()
}

func (m *IngestMetrics) ChunksIngested(n int) {
	m.ChunksTotal.Add(float64(n))
}

func (m *IngestMetrics) ObserveLockWait(lock string, seconds float64) {
	m.LockWaitSeconds.WithLabelValues(lock).Observe(seconds)
}
