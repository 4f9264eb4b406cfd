// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command documind starts the DocuMind orchestrator HTTP server.
//
// This is the main entry point for the containerized service. It reads
// configuration from environment variables (a local .env file is
// loaded if present) and starts the server with an in-process
// ingestion worker.
//
// # Environment Variables
//
//   - DOCUMIND_PORT: HTTP server port (default: 8000)
//   - LLM_PROVIDER: LLM backend - ollama, openai, vllm (default: ollama)
//   - WEAVIATE_URL: Weaviate vector DB URL (default: http://localhost:8080)
//   - EMBED_SERVICE_URL: Embedding sidecar URL (default: http://localhost:9000)
//   - RERANKER_URL: Cross-encoder reranker sidecar URL (required)
//   - NEO4J_URI, NEO4J_USER, NEO4J_PASSWORD: Knowledge graph connection
//   - REDIS_URL: Job state and lock backend (default: redis://localhost:6379/0)
//   - UPLOAD_DIR: Document upload directory (default: ./uploads)
//   - OTEL_ENDPOINT: OpenTelemetry collector (default: localhost:4317)
//   - RUN_WORKER: Set to "false" to disable the in-process worker
//   - LOG_DIR: Enables JSON file logging to the given directory
//
// # Usage
//
//	# Build
//	go build -o documind ./cmd/documind
//
//	# Run
//	./documind
//
//	# Or via container
//	podman-compose up orchestrator
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/ashuxtim/DocuMind-AI/pkg/logging"
	"github.com/ashuxtim/DocuMind-AI/services/orchestrator"
)

func main() {
	// Setup structured logging
	logger := logging.New(logging.Config{
		Service: "orchestrator",
		LogDir:  os.Getenv("LOG_DIR"),
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded configuration from .env file")
	}

	cfg := orchestrator.ConfigFromEnv()
	cfg.Port = getEnvInt("DOCUMIND_PORT", 8000)

	slog.Info("Starting DocuMind",
		"port", cfg.Port,
		"provider", cfg.Provider,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := orchestrator.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
