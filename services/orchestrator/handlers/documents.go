// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ashuxtim/DocuMind-AI/services/ingest"
	"github.com/ashuxtim/DocuMind-AI/services/orchestrator/datatypes"
)

// allowedExtensions lists the formats the parser understands. Anything
// else is rejected at the door rather than failing mid-pipeline.
var allowedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
}

// JobQueue enqueues ingestion jobs for the worker pool.
type JobQueue interface {
	Publish(ctx context.Context, job ingest.IngestJob) error
}

// JobStateStore tracks per-document job state.
type JobStateStore interface {
	SetProcessing(ctx context.Context, filename, taskID string) error
	SetCancelled(ctx context.Context, filename string) error
	Get(ctx context.Context, filename string) (*ingest.JobStatus, error)
	All(ctx context.Context) (map[string]ingest.JobStatus, error)
	Delete(ctx context.Context, filename string) error
}

// Cleaner removes a document's derived data from the vector and graph
// stores.
type Cleaner interface {
	Cleanup(ctx context.Context, filename string) error
}

// UploadDocument accepts a file upload and enqueues it for ingestion.
//
// # Description
//
// Validates the extension against the parser's supported formats,
// rejects re-uploads of a file that already exists on disk, persists
// the upload, marks the job as processing, and publishes an ingestion
// job. Returns 202 immediately; ingestion progress is tracked through
// the status endpoints.
//
// # Inputs
//
//   - queue: destination for the ingestion job.
//   - state: job state store, marked processing before publish.
//   - uploadDir: directory uploads are written into.
//
// # Outputs
//
//   - 202 with datatypes.UploadResponse on success.
//   - 400 for missing files or unsupported formats.
//   - 409 when the filename already exists.
//   - 500 on storage or queue failures.
func UploadDocument(queue JobQueue, state JobStateStore, uploadDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
			return
		}

		filename := filepath.Base(file.Filename)
		ext := strings.ToLower(filepath.Ext(filename))
		if !allowedExtensions[ext] {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("unsupported format %q: supported formats are .txt, .md, .markdown", ext),
			})
			return
		}

		dest := filepath.Join(uploadDir, filename)
		if _, err := os.Stat(dest); err == nil {
			c.JSON(http.StatusConflict, gin.H{
				"error": fmt.Sprintf("document %q already exists: delete it before re-uploading", filename),
			})
			return
		}

		if err := c.SaveUploadedFile(file, dest); err != nil {
			slog.Error("upload save failed", "filename", filename, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
			return
		}

		taskID := uuid.NewString()
		ctx := c.Request.Context()
		if err := state.SetProcessing(ctx, filename, taskID); err != nil {
			slog.Error("state update failed", "filename", filename, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record job state"})
			return
		}
		job := ingest.IngestJob{FilePath: dest, Filename: filename, TaskID: taskID}
		if err := queue.Publish(ctx, job); err != nil {
			slog.Error("job publish failed", "filename", filename, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue ingestion"})
			return
		}

		c.JSON(http.StatusAccepted, datatypes.UploadResponse{
			Message:  "Ingestion started",
			Filename: filename,
			TaskID:   taskID,
			Status:   ingest.StatusProcessing,
		})
	}
}

// ListDocuments returns every uploaded document with its job state.
// Files on disk with no tracked state are reported as completed:
// state entries expire after 24h while uploads persist.
func ListDocuments(state JobStateStore, uploadDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := os.ReadDir(uploadDir)
		if err != nil {
			slog.Error("upload dir listing failed", "dir", uploadDir, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list documents"})
			return
		}
		statuses, err := state.All(c.Request.Context())
		if err != nil {
			slog.Error("state listing failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list job state"})
			return
		}

		docs := make([]datatypes.DocumentInfo, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info := datatypes.DocumentInfo{
				Filename: entry.Name(),
				Status:   ingest.StatusCompleted,
			}
			if fi, err := entry.Info(); err == nil {
				info.Size = fi.Size()
			}
			if st, ok := statuses[entry.Name()]; ok {
				info.Status = st.Status
				info.TaskID = st.TaskID
				info.UploadedAt = st.UploadedAt
				info.CompletedAt = st.CompletedAt
				info.Error = st.Error
			}
			docs = append(docs, info)
		}
		sort.Slice(docs, func(i, j int) bool { return docs[i].UploadedAt > docs[j].UploadedAt })

		c.JSON(http.StatusOK, datatypes.DocumentListResponse{Documents: docs, Total: len(docs)})
	}
}

// GetStatus looks a job up by task ID.
func GetStatus(state JobStateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("taskID")
		statuses, err := state.All(c.Request.Context())
		if err != nil {
			slog.Error("state listing failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read job state"})
			return
		}
		for filename, st := range statuses {
			if st.TaskID == taskID {
				c.JSON(http.StatusOK, datatypes.TaskStatusResponse{
					TaskID:      st.TaskID,
					Filename:    filename,
					Status:      st.Status,
					UploadedAt:  st.UploadedAt,
					CompletedAt: st.CompletedAt,
					Error:       st.Error,
				})
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown task %q", taskID)})
	}
}

// CancelJob requests cooperative cancellation of a running ingestion.
//
// The worker polls job state between chunks, so cancellation takes
// effect at the next chunk boundary followed by compensating cleanup.
// Cancelling an already-finished job is a no-op conflict.
func CancelJob(state JobStateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		filename := c.Param("filename")
		ctx := c.Request.Context()
		st, err := state.Get(ctx, filename)
		if err != nil {
			slog.Error("state read failed", "filename", filename, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read job state"})
			return
		}
		if st == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no job found for %q", filename)})
			return
		}
		if st.Status != ingest.StatusProcessing {
			c.JSON(http.StatusConflict, gin.H{
				"error": fmt.Sprintf("job for %q is %s, not running", filename, st.Status),
			})
			return
		}
		if err := state.SetCancelled(ctx, filename); err != nil {
			slog.Error("cancel request failed", "filename", filename, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to request cancellation"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": fmt.Sprintf("Cancellation requested for %s. Graceful cleanup initiated.", filename),
		})
	}
}

// DeleteDocument removes a document everywhere it lives: vector store,
// knowledge graph, upload directory, and job state. Each step is
// attempted independently and reported separately so a partial failure
// is visible rather than silent.
func DeleteDocument(cleaner Cleaner, state JobStateStore, uploadDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		filename := filepath.Base(c.Param("filename"))
		ctx := c.Request.Context()
		steps := make(map[string]string, 3)

		if err := cleaner.Cleanup(ctx, filename); err != nil {
			slog.Warn("store cleanup failed", "filename", filename, "error", err)
			steps["stores"] = "failed: " + err.Error()
		} else {
			steps["stores"] = "deleted"
		}

		switch err := os.Remove(filepath.Join(uploadDir, filename)); {
		case err == nil:
			steps["file"] = "deleted"
		case os.IsNotExist(err):
			steps["file"] = "not_found"
		default:
			slog.Warn("file removal failed", "filename", filename, "error", err)
			steps["file"] = "failed: " + err.Error()
		}

		if err := state.Delete(ctx, filename); err != nil {
			steps["state"] = "failed: " + err.Error()
		} else {
			steps["state"] = "deleted"
		}

		c.JSON(http.StatusOK, datatypes.DeleteResponse{
			Message: fmt.Sprintf("Deletion of %s processed", filename),
			Steps:   steps,
		})
	}
}
