// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides request and response types for the HTTP
// surface.
//
// This file contains the question answering types. For document
// management types, see documents.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// MaxQuestionBytes bounds a single question. Larger payloads are
// rejected before they reach the pipeline.
const MaxQuestionBytes = 8 * 1024

// MaxHistoryTurns bounds the conversation history a client may send.
// The pipeline only reads the most recent turns anyway.
const MaxHistoryTurns = 50

var queryValidate *validator.Validate

func init() {
	queryValidate = validator.New()
	_ = queryValidate.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxQuestionBytes
	})
}

// HistoryTurn is one prior exchange in the conversation.
type HistoryTurn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// QueryRequest is the POST /v1/query body.
//
// # Fields
//
//   - RequestID: Optional client-supplied UUID v4 for correlation;
//     generated server-side when omitted.
//   - Timestamp: Optional Unix milliseconds; generated when omitted.
//   - Question: Required. The user's question, at most 8KB.
//   - History: Optional prior turns, newest last, at most 50.
type QueryRequest struct {
	RequestID string        `json:"request_id" validate:"omitempty,uuid4"`
	Timestamp int64         `json:"timestamp" validate:"gte=0"`
	Question  string        `json:"question" validate:"required,maxbytes"`
	History   []HistoryTurn `json:"history" validate:"max=50,dive"`
}

// Validate checks the request after JSON binding.
func (r *QueryRequest) Validate() error {
	return queryValidate.Struct(r)
}

// EnsureDefaults populates RequestID and Timestamp when the client
// omitted them, so every request is traceable.
func (r *QueryRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// QueryResponse is the POST /v1/query response.
//
// Confidence is 1.0 when the answer passed the audit cleanly and 0.5
// when it shipped despite unresolved audit feedback.
type QueryResponse struct {
	RequestID        string   `json:"request_id"`
	Answer           string   `json:"answer"`
	Sources          []string `json:"sources"`
	Confidence       float64  `json:"confidence"`
	Model            string   `json:"model"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
}

// SummaryResponse is the POST /v1/summarize/:filename response.
type SummaryResponse struct {
	Filename string `json:"filename"`
	Summary  string `json:"summary"`
}
