// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ingest implements the document ingestion workflow: parsing,
// chunk fan-out into the vector and graph stores, distributed lock
// coordination, and cooperative job cancellation.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

var stateTracer = otel.Tracer("documind.ingest.state")

// Job lifecycle statuses. A job enters "processing" when the worker
// picks it up and ends in exactly one terminal status.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

const (
	stateKeyPrefix = "documind:file_status:"
	stateTTL       = 24 * time.Hour
)

// JobStatus is the persisted state of one ingestion job, keyed by
// filename.
type JobStatus struct {
	TaskID      string `json:"task_id"`
	Status      string `json:"status"`
	UploadedAt  string `json:"uploaded_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RedisStateStore keeps per-file job state in Redis hashes with a 24h
// TTL, shared between the API process and the ingestion worker. The
// "cancelled" status doubles as the cooperative cancellation token.
type RedisStateStore struct {
	client *redis.Client
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func statusKey(filename string) string {
	return stateKeyPrefix + filename
}

// fieldsToStatus maps a raw Redis hash onto a JobStatus. Missing
// fields stay zero-valued.
func fieldsToStatus(fields map[string]string) JobStatus {
	return JobStatus{
		TaskID:      fields["task_id"],
		Status:      fields["status"],
		UploadedAt:  fields["uploaded_at"],
		CompletedAt: fields["completed_at"],
		Error:       fields["error"],
	}
}

func (s *RedisStateStore) write(ctx context.Context, filename string, fields map[string]any) error {
	key := statusKey(filename)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, stateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing job state for %s: %w", filename, err)
	}
	return nil
}

// SetProcessing records that a worker has picked the job up.
func (s *RedisStateStore) SetProcessing(ctx context.Context, filename, taskID string) error {
	return s.write(ctx, filename, map[string]any{
		"task_id":     taskID,
		"status":      StatusProcessing,
		"uploaded_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *RedisStateStore) SetCompleted(ctx context.Context, filename string) error {
	return s.write(ctx, filename, map[string]any{
		"status":       StatusCompleted,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *RedisStateStore) SetFailed(ctx context.Context, filename, errMsg string) error {
	return s.write(ctx, filename, map[string]any{
		"status":       StatusFailed,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
		"error":        errMsg,
	})
}

// SetCancelled flips the job into the cancelled state. The worker
// polls for this between chunks and runs compensating cleanup.
func (s *RedisStateStore) SetCancelled(ctx context.Context, filename string) error {
	return s.write(ctx, filename, map[string]any{
		"status":       StatusCancelled,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Get returns the job state for a filename, or nil if none is
// recorded (expired or never uploaded).
func (s *RedisStateStore) Get(ctx context.Context, filename string) (*JobStatus, error) {
	ctx, span := stateTracer.Start(ctx, "Get")
	defer span.End()

	fields, err := s.client.HGetAll(ctx, statusKey(filename)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading job state for %s: %w", filename, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	status := fieldsToStatus(fields)
	return &status, nil
}

// All returns the state of every tracked file, keyed by filename.
func (s *RedisStateStore) All(ctx context.Context) (map[string]JobStatus, error) {
	ctx, span := stateTracer.Start(ctx, "All")
	defer span.End()

	statuses := make(map[string]JobStatus)
	iter := s.client.Scan(ctx, 0, stateKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("reading job state %s: %w", key, err)
		}
		if len(fields) == 0 {
			continue
		}
		statuses[key[len(stateKeyPrefix):]] = fieldsToStatus(fields)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning job states: %w", err)
	}
	return statuses, nil
}

func (s *RedisStateStore) Delete(ctx context.Context, filename string) error {
	if err := s.client.Del(ctx, statusKey(filename)).Err(); err != nil {
		return fmt.Errorf("deleting job state for %s: %w", filename, err)
	}
	return nil
}

// IsCancelled backs the cooperative cancellation token: the worker
// calls it before every chunk and before every graph extraction.
func (s *RedisStateStore) IsCancelled(ctx context.Context, filename string) (bool, error) {
	status, err := s.Get(ctx, filename)
	if err != nil {
		return false, err
	}
	return status != nil && status.Status == StatusCancelled, nil
}
