// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Worker drains the ingestion queue and runs each job through the
// Ingestor.
type Worker struct {
	queue    *Queue
	ingestor *Ingestor
}

func NewWorker(queue *Queue, ingestor *Ingestor) *Worker {
	return &Worker{queue: queue, ingestor: ingestor}
}

// Run consumes jobs until ctx is cancelled or the queue closes. Jobs
// are processed one at a time; per-job failures are recorded in the
// state store and never stop the worker.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.queue.Subscribe(ctx)
	if err != nil {
		return err
	}
	slog.Info("Ingestion worker started", "topic", IngestTopic)

	for msg := range messages {
		w.handle(ctx, msg)
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, msg *message.Message) {
	job, err := DecodeJob(msg)
	if err != nil {
		// Malformed payloads are acked, redelivery cannot fix them.
		slog.Error("Dropping malformed ingest message", "uuid", msg.UUID, "error", err)
		msg.Ack()
		return
	}

	slog.Info("Processing ingest job", "filename", job.Filename, "task_id", job.TaskID)
	if err := w.ingestor.ProcessDocument(ctx, job); err != nil {
		slog.Error("Ingest job failed", "filename", job.Filename, "error", err)
	}
	// The state store is the source of truth for job outcomes; the
	// message is acked either way so the queue does not redeliver a
	// job whose failure is already recorded.
	msg.Ack()
}
