// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ashuxtim/DocuMind-AI/services/agent"
	"github.com/ashuxtim/DocuMind-AI/services/orchestrator/datatypes"
)

// DocumentSummarizer produces an executive brief for one document.
type DocumentSummarizer interface {
	Summarize(ctx context.Context, filename string) (string, error)
}

// SummarizeDocument generates an executive brief for an indexed
// document. Documents that were never ingested (or whose chunks were
// deleted) return 404.
func SummarizeDocument(summarizer DocumentSummarizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		filename := c.Param("filename")
		summary, err := summarizer.Summarize(c.Request.Context(), filename)
		if err != nil {
			if errors.Is(err, agent.ErrDocumentNotIndexed) {
				c.JSON(http.StatusNotFound, gin.H{
					"error": fmt.Sprintf("document %q is not indexed", filename),
				})
				return
			}
			slog.Error("summarization failed", "filename", filename, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "summarization failed"})
			return
		}
		c.JSON(http.StatusOK, datatypes.SummaryResponse{Filename: filename, Summary: summary})
	}
}
