// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator provides the core orchestrator service for DocuMind.
//
// This package contains the main service type that coordinates all
// components: HTTP routing, the query pipeline, document ingestion,
// the vector and graph stores, and observability infrastructure.
//
// # Usage
//
//	cfg := orchestrator.ConfigFromEnv()
//	svc, err := orchestrator.New(context.Background(), cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ashuxtim/DocuMind-AI/services/agent"
	"github.com/ashuxtim/DocuMind-AI/services/ingest"
	"github.com/ashuxtim/DocuMind-AI/services/knowledge"
	"github.com/ashuxtim/DocuMind-AI/services/llm"
	"github.com/ashuxtim/DocuMind-AI/services/orchestrator/observability"
	"github.com/ashuxtim/DocuMind-AI/services/orchestrator/routes"
	"github.com/ashuxtim/DocuMind-AI/services/rerank"
	"github.com/ashuxtim/DocuMind-AI/services/vector"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Description
//
// Service abstracts the orchestrator lifecycle, enabling testing and
// alternative implementations. Only essential lifecycle methods are
// exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	// Cleanup of all backends is automatic on return.
	Run() error

	// Router returns the underlying Gin engine for testing. Callers
	// must not modify the router.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration options.
//
// # Description
//
// Config centralizes all configuration for the orchestrator service.
// Values can be populated from environment variables via
// ConfigFromEnv, or programmatically for testing. Zero values use
// defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 8000
	Port int

	// Provider selects the LLM backend.
	// Valid values: "ollama", "openai", "vllm". Default: LLM_PROVIDER
	// env var, falling back to "ollama".
	Provider string

	// WeaviateURL is the Weaviate vector database URL.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// EmbedServiceURL is the embedding sidecar URL.
	// Default: "http://localhost:9000"
	EmbedServiceURL string

	// Neo4jURI is the Bolt URI of the knowledge graph.
	// Default: "bolt://localhost:7687"
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// RedisURL is the Redis connection URL used for job state and
	// distributed locks. Default: "redis://localhost:6379/0"
	RedisURL string

	// UploadDir is where document uploads are persisted.
	// Default: "./uploads"
	UploadDir string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "localhost:4317"
	OTelEndpoint string

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	GinMode string

	// RunWorker starts an in-process ingestion worker alongside the
	// HTTP server. Disable when running dedicated workers.
	// Default: true
	RunWorker bool
}

// ConfigFromEnv builds a Config from environment variables, leaving
// unset values to be defaulted by New().
func ConfigFromEnv() Config {
	return Config{
		Provider:        llm.ProviderFromEnv(),
		WeaviateURL:     os.Getenv("WEAVIATE_URL"),
		EmbedServiceURL: os.Getenv("EMBED_SERVICE_URL"),
		Neo4jURI:        os.Getenv("NEO4J_URI"),
		Neo4jUser:       os.Getenv("NEO4J_USER"),
		Neo4jPassword:   os.Getenv("NEO4J_PASSWORD"),
		RedisURL:        os.Getenv("REDIS_URL"),
		UploadDir:       os.Getenv("UPLOAD_DIR"),
		OTelEndpoint:    os.Getenv("OTEL_ENDPOINT"),
		GinMode:         os.Getenv("GIN_MODE"),
		RunWorker:       os.Getenv("RUN_WORKER") != "false",
	}
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service is the main implementation that coordinates:
//   - HTTP routing via Gin
//   - The query pipeline (decompose, retrieve, generate, audit)
//   - Document ingestion with distributed locking
//   - Weaviate and Neo4j stores
//   - OpenTelemetry tracing and Prometheus metrics
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after
// New() returns.
type service struct {
	config        Config
	router        *gin.Engine
	llmClient     llm.Client
	redisClient   *redis.Client
	graphStore    *knowledge.Neo4jStore
	queue         *ingest.Queue
	worker        *ingest.Worker
	workerCancel  context.CancelFunc
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new orchestrator Service with the given configuration.
//
// # Description
//
// New initializes all orchestrator components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Connects Redis, Weaviate, and Neo4j
//  4. Creates the LLM client for the configured provider
//  5. Assembles the query pipeline and the ingestion workflow
//  6. Sets up HTTP routes and, optionally, an in-process worker
//
// # Inputs
//
//   - ctx: Used for backend connection checks during startup.
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run orchestrator service
//   - error: Non-nil if initialization fails
//
// # Assumptions
//
//   - Environment variables are set for the LLM provider (API keys,
//     base URLs) and the reranker sidecar (RERANKER_URL)
//   - Backends are reachable at the configured addresses
func New(ctx context.Context, cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	redisOpts, err := redis.ParseURL(s.config.RedisURL)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	s.redisClient = redis.NewClient(redisOpts)

	vectorStore, err := s.initVectorStore(ctx)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	s.graphStore, err = knowledge.NewNeo4jStore(ctx,
		s.config.Neo4jURI, s.config.Neo4jUser, s.config.Neo4jPassword)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize knowledge graph: %w", err)
	}

	s.llmClient, err = newLLMClient(s.config.Provider)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	reranker, err := rerank.NewHTTPReranker()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize reranker: %w", err)
	}

	pipeline := agent.NewPipeline(
		agent.NewDecomposer(s.llmClient),
		agent.NewRetriever(vectorStore, s.graphStore, reranker, s.llmClient, agent.DefaultRetrieverConfig()),
		agent.NewGenerator(s.llmClient, agent.NewMathExecutor(s.llmClient)),
		agent.NewAuditor(s.llmClient, agent.NewConstraintChecker(s.llmClient)),
		observability.NewPipelineMetrics(),
	)
	summarizer := agent.NewSummarizer(vectorStore, s.llmClient)

	state := ingest.NewRedisStateStore(s.redisClient)
	locks := ingest.NewLockCoordinator(s.redisClient)
	s.queue = ingest.NewQueue(nil)
	ingestor := ingest.NewIngestor(vectorStore, s.graphStore, ingest.NewGraphBuilder(s.llmClient),
		locks, state, s.config.Provider, observability.NewIngestMetrics())

	if err := os.MkdirAll(s.config.UploadDir, 0o755); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	s.initRouter(routes.Dependencies{
		Runner:     pipeline,
		Queue:      s.queue,
		State:      state,
		Cleaner:    ingestor,
		Graph:      s.graphStore,
		Summarizer: summarizer,
		Model:      s.llmClient.ModelName(),
		UploadDir:  s.config.UploadDir,
	})

	if s.config.RunWorker {
		s.worker = ingest.NewWorker(s.queue, ingestor)
	}

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
//
// When RunWorker is enabled, an in-process ingestion worker is started
// first and stopped during cleanup.
func (s *service) Run() error {
	defer s.cleanup()

	if s.worker != nil {
		workerCtx, cancel := context.WithCancel(context.Background())
		s.workerCancel = cancel
		go func() {
			if err := s.worker.Run(workerCtx); err != nil {
				slog.Error("ingestion worker stopped", "error", err)
			}
		}()
		slog.Info("In-process ingestion worker started")
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting orchestrator server", "port", s.config.Port, "provider", s.config.Provider)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.Provider == "" {
		cfg.Provider = llm.ProviderFromEnv()
	}
	if cfg.WeaviateURL == "" {
		cfg.WeaviateURL = "http://localhost:8080"
	}
	if cfg.EmbedServiceURL == "" {
		cfg.EmbedServiceURL = "http://localhost:9000"
	}
	if cfg.Neo4jURI == "" {
		cfg.Neo4jURI = "bolt://localhost:7687"
	}
	if cfg.Neo4jUser == "" {
		cfg.Neo4jUser = "neo4j"
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "./uploads"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "localhost:4317"
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up an OTLP trace exporter sending spans to the configured
// collector over insecure gRPC (appropriate for internal networks).
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("documind-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initVectorStore connects to Weaviate and ensures the schema exists.
func (s *service) initVectorStore(ctx context.Context) (*vector.WeaviateStore, error) {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	store := vector.NewWeaviateStore(client, vector.NewHTTPEmbedder(s.config.EmbedServiceURL))
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure Weaviate schema: %w", err)
	}
	slog.Info("Weaviate client initialized", "url", weaviateURL)

	return store, nil
}

// newLLMClient creates the LLM provider client for the given backend.
func newLLMClient(provider string) (llm.Client, error) {
	switch provider {
	case llm.ProviderOpenAI:
		slog.Info("Using OpenAI LLM backend")
		return llm.NewOpenAIClient()
	case llm.ProviderVLLM:
		slog.Info("Using vLLM backend")
		return llm.NewVLLMClient()
	case llm.ProviderOllama:
		slog.Info("Using Ollama LLM backend")
		return llm.NewOllamaClient()
	default:
		slog.Warn("Unknown LLM backend, defaulting to ollama", "backend", provider)
		return llm.NewOllamaClient()
	}
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter(deps routes.Dependencies) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("documind-orchestrator"))

	routes.SetupRoutes(s.router, deps)
}

// cleanup releases all resources held by the service.
//
// # Description
//
// Called when Run() exits or on initialization failure. Stops the
// worker, closes the job queue and backend connections, then shuts
// down the tracer.
func (s *service) cleanup() {
	if s.workerCancel != nil {
		s.workerCancel()
	}

	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			slog.Warn("Queue close error", "error", err)
		}
	}

	if s.graphStore != nil {
		if err := s.graphStore.Close(context.Background()); err != nil {
			slog.Warn("Neo4j close error", "error", err)
		}
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			slog.Warn("Redis close error", "error", err)
		}
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
