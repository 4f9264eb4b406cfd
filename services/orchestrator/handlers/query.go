// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashuxtim/DocuMind-AI/services/agent"
	"github.com/ashuxtim/DocuMind-AI/services/orchestrator/datatypes"
)

// QueryRunner answers one question against the indexed corpus.
type QueryRunner interface {
	Run(ctx context.Context, question string, history []agent.Turn) (*agent.Result, error)
}

// HandleQuery runs the full retrieval and generation pipeline for one
// question and returns the grounded answer.
//
// # Description
//
// Binds and validates the request body, replays the supplied
// conversation history into the pipeline, and maps the result onto the
// wire response. Pipeline failures return 500; the error detail is
// logged rather than echoed to the client.
//
// # Inputs
//
//   - runner: the answer pipeline.
//   - model: model identifier reported in the response.
//
// # Outputs
//
//   - 200 with datatypes.QueryResponse on success.
//   - 400 on malformed or invalid request bodies.
//   - 500 when the pipeline fails.
func HandleQuery(runner QueryRunner, model string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		history := make([]agent.Turn, 0, len(req.History))
		for _, turn := range req.History {
			history = append(history, agent.Turn{Role: turn.Role, Content: turn.Content})
		}

		start := time.Now()
		result, err := runner.Run(c.Request.Context(), req.Question, history)
		if err != nil {
			slog.Error("query pipeline failed", "request_id", req.RequestID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query processing failed"})
			return
		}

		c.JSON(http.StatusOK, datatypes.QueryResponse{
			RequestID:        req.RequestID,
			Answer:           result.Answer,
			Sources:          result.Sources,
			Confidence:       result.Confidence,
			Model:            model,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		})
	}
}
