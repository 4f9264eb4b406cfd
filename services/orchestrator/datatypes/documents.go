// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// UploadResponse confirms that an ingestion job was enqueued.
type UploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
}

// DocumentInfo is one entry in the GET /v1/documents listing. Files on
// disk with no tracked state predate status tracking and are reported
// as completed.
type DocumentInfo struct {
	Filename    string `json:"filename"`
	Status      string `json:"status"`
	TaskID      string `json:"task_id,omitempty"`
	UploadedAt  string `json:"uploaded_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	Error       string `json:"error,omitempty"`
	Size        int64  `json:"size"`
}

// DocumentListResponse wraps the document listing.
type DocumentListResponse struct {
	Documents []DocumentInfo `json:"documents"`
	Total     int            `json:"total"`
}

// TaskStatusResponse is the GET /v1/status/:taskID response.
type TaskStatusResponse struct {
	TaskID      string `json:"task_id"`
	Filename    string `json:"filename"`
	Status      string `json:"status"`
	UploadedAt  string `json:"uploaded_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

// DeleteResponse reports the per-target outcome of a document delete.
type DeleteResponse struct {
	Message string            `json:"message"`
	Steps   map[string]string `json:"steps"`
}
