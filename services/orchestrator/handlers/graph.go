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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ashuxtim/DocuMind-AI/services/knowledge"
)

const defaultGraphLimit = 1000

// GraphVisualizer returns the knowledge graph shaped for rendering.
type GraphVisualizer interface {
	Visualization(ctx context.Context, limit int) (*knowledge.VisualizationData, error)
}

// GetGraph returns the knowledge graph as nodes and links for a
// force-directed rendering. The optional ?limit= caps the number of
// relations returned; the store clamps it to a sane range.
func GetGraph(viz GraphVisualizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultGraphLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
				return
			}
			limit = parsed
		}

		data, err := viz.Visualization(c.Request.Context(), limit)
		if err != nil {
			slog.Error("graph visualization failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read knowledge graph"})
			return
		}
		c.JSON(http.StatusOK, data)
	}
}
