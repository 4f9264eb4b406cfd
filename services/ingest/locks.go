// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Two named lock policies guard the single local accelerator:
//
//   - job-init lock: taken once per job before any heavy component is
//     initialized. Long expiry so a heavy document does not lose the
//     lock mid-process, bounded acquisition wait so backlogged workers
//     queue up gracefully instead of hanging forever.
//   - inference lock: taken around each per-chunk graph extraction
//     call. Short expiry, unbounded wait: every chunk eventually gets
//     its turn, which guarantees full graph coverage even when slow.
const (
	jobInitLockName    = "documind_gpu_lock"
	jobInitLockExpiry  = 30 * time.Minute
	jobInitLockWait    = 10 * time.Minute
	jobInitRetryDelay  = 1 * time.Second
	inferenceLockName  = "gpu_inference_lock"
	inferenceLockTTL   = 5 * time.Minute
	inferenceRetryWait = 500 * time.Millisecond
)

// LockTimeoutError reports that a lock was not acquired within its
// bounded wait. The job fails rather than blocking the queue.
type LockTimeoutError struct {
	LockName string
	Waited   time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("%s not acquired within %s: GPU lock acquisition timed out. Workers are heavily backlogged.",
		e.LockName, e.Waited)
}

// LockCoordinator hands out the two distributed lock policies over a
// shared Redis instance.
type LockCoordinator struct {
	rs *redsync.Redsync
}

func NewLockCoordinator(client *redis.Client) *LockCoordinator {
	return &LockCoordinator{rs: redsync.New(goredis.NewPool(client))}
}

// AcquireJobInit takes the job-scoped lock before a job initializes
// any accelerator-backed component. It waits at most jobInitLockWait;
// on timeout the job must fail with the returned *LockTimeoutError.
// The returned func releases the lock and is safe to defer.
func (c *LockCoordinator) AcquireJobInit(ctx context.Context) (func(), error) {
	mutex := c.rs.NewMutex(jobInitLockName,
		redsync.WithExpiry(jobInitLockExpiry),
		redsync.WithTries(int(jobInitLockWait/jobInitRetryDelay)),
		redsync.WithRetryDelay(jobInitRetryDelay),
	)

	waitCtx, cancel := context.WithTimeout(ctx, jobInitLockWait)
	defer cancel()

	start := time.Now()
	if err := mutex.LockContext(waitCtx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &LockTimeoutError{LockName: jobInitLockName, Waited: time.Since(start)}
	}
	return func() { release(mutex) }, nil
}

// AcquireInference takes the chunk-scoped accelerator lock. It waits
// as long as it takes, the only way out is ctx cancellation. Callers
// skip it entirely for cloud providers.
func (c *LockCoordinator) AcquireInference(ctx context.Context) (func(), error) {
	mutex := c.rs.NewMutex(inferenceLockName,
		redsync.WithExpiry(inferenceLockTTL),
		redsync.WithTries(math.MaxInt32),
		redsync.WithRetryDelay(inferenceRetryWait),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("acquiring %s: %w", inferenceLockName, err)
	}
	return func() { release(mutex) }, nil
}

func release(mutex *redsync.Mutex) {
	// Unlock with a fresh context so a cancelled job still frees the
	// accelerator for the next worker.
	if ok, err := mutex.Unlock(); !ok || err != nil {
		slog.Warn("Lock release failed", "lock", mutex.Name(), "error", err)
	}
}
