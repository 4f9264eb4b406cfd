// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashuxtim/DocuMind-AI/services/orchestrator/handlers"
)

// Dependencies carries everything the HTTP surface needs. Fields are
// interfaces so tests can swap in fakes without real backends.
type Dependencies struct {
	Runner     handlers.QueryRunner
	Queue      handlers.JobQueue
	State      handlers.JobStateStore
	Cleaner    handlers.Cleaner
	Graph      handlers.GraphVisualizer
	Summarizer handlers.DocumentSummarizer

	// Model is the identifier reported in query responses.
	Model string

	// UploadDir is where document uploads are persisted.
	UploadDir string
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/query", handlers.HandleQuery(deps.Runner, deps.Model))
		v1.POST("/documents", handlers.UploadDocument(deps.Queue, deps.State, deps.UploadDir))
		v1.GET("/documents", handlers.ListDocuments(deps.State, deps.UploadDir))
		v1.GET("/status/:taskID", handlers.GetStatus(deps.State))
		v1.POST("/cancel/:filename", handlers.CancelJob(deps.State))
		v1.DELETE("/document/:filename", handlers.DeleteDocument(deps.Cleaner, deps.State, deps.UploadDir))
		v1.GET("/graph", handlers.GetGraph(deps.Graph))
		v1.POST("/summarize/:filename", handlers.SummarizeDocument(deps.Summarizer))
	}
}
