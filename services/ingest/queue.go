// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// IngestTopic carries ingestion jobs from the API to the worker.
const IngestTopic = "documind.ingest"

// IngestJob is the message payload for one uploaded document.
type IngestJob struct {
	FilePath string `json:"file_path"`
	Filename string `json:"filename"`
	TaskID   string `json:"task_id"`
}

// Queue is the ingestion job transport. The in-process gochannel
// backend lets the API and the worker share a binary in development;
// the message contract stays the same if the pub/sub is swapped for a
// durable broker.
type Queue struct {
	pubSub *gochannel.GoChannel
}

func NewQueue(logger watermill.LoggerAdapter) *Queue {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	return &Queue{
		pubSub: gochannel.NewGoChannel(gochannel.Config{}, logger),
	}
}

// Publish enqueues a job for the worker.
func (q *Queue) Publish(ctx context.Context, job IngestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding ingest job: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := q.pubSub.Publish(IngestTopic, msg); err != nil {
		return fmt.Errorf("publishing ingest job for %s: %w", job.Filename, err)
	}
	return nil
}

// Subscribe returns the worker's job stream. The channel closes when
// ctx is cancelled or the queue shuts down.
func (q *Queue) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	messages, err := q.pubSub.Subscribe(ctx, IngestTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", IngestTopic, err)
	}
	return messages, nil
}

func (q *Queue) Close() error {
	return q.pubSub.Close()
}

// DecodeJob unpacks an IngestJob from a queue message.
func DecodeJob(msg *message.Message) (IngestJob, error) {
	var job IngestJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		return IngestJob{}, fmt.Errorf("decoding ingest job %s: %w", msg.UUID, err)
	}
	if job.Filename == "" {
		return IngestJob{}, fmt.Errorf("ingest job %s has no filename", msg.UUID)
	}
	return job, nil
}
