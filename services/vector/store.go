// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vector provides the vector index contract and its Weaviate
// implementation. Document chunks are stored in a DocumentChunk class
// with externally supplied embeddings (Vectorizer "none").
package vector

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("documind.vector.store")

const chunkClassName = "DocumentChunk"

// Chunk is a unit of ingested document text.
type Chunk struct {
	Text    string
	Source  string
	Page    int
	Section string
	ChunkID string
}

// Candidate is a retrieved chunk with its similarity score.
type Candidate struct {
	Text    string
	Source  string
	Page    int
	Section string
	Score   float64
}

// Searcher is the read-side contract the query pipeline depends on.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Candidate, error)
}

// Store extends Searcher with the write operations the ingestion
// workflow needs.
type Store interface {
	Searcher
	Add(ctx context.Context, chunks []Chunk) (int, error)
	DeleteSource(ctx context.Context, source string) error
}

// WeaviateStore implements Store against a Weaviate instance.
type WeaviateStore struct {
	client   *weaviate.Client
	embedder Embedder
}

// NewWeaviateStore creates a store over an existing Weaviate client.
//
// # Description
//
// Wires a Weaviate client and an embedder into a Store. Callers should
// invoke EnsureSchema once at startup before any reads or writes.
//
// # Inputs
//
//   - client: Connected Weaviate client.
//   - embedder: Embedder used for both ingestion and query vectors.
//
// # Outputs
//
//   - *WeaviateStore: Ready-to-use store.
func NewWeaviateStore(client *weaviate.Client, embedder Embedder) *WeaviateStore {
	return &WeaviateStore{client: client, embedder: embedder}
}

// chunkClass returns the DocumentChunk class definition.
func chunkClass() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       chunkClassName,
		Description: "A chunk of an ingested document with provenance metadata.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "text",
				DataType:     []string{"text"},
				Description:  "The chunk content.",
				Tokenization: "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "The filename this chunk was extracted from.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "page",
				DataType:        []string{"int"},
				Description:     "Page number within the source document.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "section",
				DataType:        []string{"text"},
				Description:     "Section heading the chunk falls under, if any.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "chunkID",
				DataType:        []string{"text"},
				Description:     "Stable identifier for the chunk within its source.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// EnsureSchema creates the DocumentChunk class if it does not exist.
func (s *WeaviateStore) EnsureSchema(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "EnsureSchema")
	defer span.End()

	_, err := s.client.Schema().ClassGetter().WithClassName(chunkClassName).Do(ctx)
	if err == nil {
		slog.Debug("Weaviate class already exists", "class", chunkClassName)
		return nil
	}

	if err := s.client.Schema().ClassCreator().WithClass(chunkClass()).Do(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "class creation failed")
		return fmt.Errorf("failed to create class %s: %w", chunkClassName, err)
	}
	slog.Info("Created Weaviate class", "class", chunkClassName)
	return nil
}

// chunkQueryResponse is the typed shape of a DocumentChunk GraphQL Get.
type chunkQueryResponse struct {
	Get struct {
		DocumentChunk []struct {
			Text       string `json:"text"`
			Source     string `json:"source"`
			Page       int    `json:"page"`
			Section    string `json:"section"`
			Additional struct {
				Certainty float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"DocumentChunk"`
	} `json:"Get"`
}

// Search embeds the query and returns the top chunks by vector similarity.
//
// # Description
//
// Runs a nearVector search against the DocumentChunk class. Scores are
// Weaviate certainty values in [0, 1], highest first.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - query: The text to search for.
//   - limit: Maximum number of candidates to return.
//
// # Outputs
//
//   - []Candidate: Retrieved chunks with scores, possibly empty.
//   - error: Non-nil if embedding or the Weaviate query fails.
func (s *WeaviateStore) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	ctx, span := tracer.Start(ctx, "Search")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(queryVector)

	// Certainty is always [0,1] regardless of the distance metric.
	fields := []graphql.Field{
		{Name: "text"},
		{Name: "source"},
		{Name: "page"},
		{Name: "section"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(chunkClassName).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weaviate query failed")
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	jsonBytes, err := json.Marshal(result.Data)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("marshal weaviate response: %w", err)
	}
	var typed chunkQueryResponse
	if err := json.Unmarshal(jsonBytes, &typed); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("unmarshal weaviate response: %w", err)
	}

	candidates := make([]Candidate, 0, len(typed.Get.DocumentChunk))
	for _, row := range typed.Get.DocumentChunk {
		candidates = append(candidates, Candidate{
			Text:    row.Text,
			Source:  row.Source,
			Page:    row.Page,
			Section: row.Section,
			Score:   row.Additional.Certainty,
		})
	}

	span.SetAttributes(attribute.Int("candidates", len(candidates)))
	slog.Debug("Vector search complete", "query_len", len(query), "candidates", len(candidates))
	return candidates, nil
}

// Add batch-inserts chunks, embedding all texts in one request.
//
// Object IDs are derived from sha256(source + chunkID) so re-ingesting
// the same file overwrites rather than duplicates.
func (s *WeaviateStore) Add(ctx context.Context, chunks []Chunk) (int, error) {
	ctx, span := tracer.Start(ctx, "Add")
	defer span.End()
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch embedding failed")
		return 0, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedding service returned mismatched vector count")
	}

	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		hash := sha256.Sum256([]byte(chunk.Source + "|" + chunk.ChunkID))
		objUUID, _ := uuid.FromBytes(hash[:16])

		objects[i] = &models.Object{
			Class:  chunkClassName,
			ID:     strfmt.UUID(objUUID.String()),
			Vector: vectors[i],
			Properties: map[string]interface{}{
				"text":    chunk.Text,
				"source":  chunk.Source,
				"page":    chunk.Page,
				"section": chunk.Section,
				"chunkID": chunk.ChunkID,
			},
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch insert failed")
		return 0, fmt.Errorf("failed to save objects to Weaviate: %w", err)
	}

	created := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			created++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "error", errItem.Message)
			}
		}
	}

	slog.Info("Batch insert complete", "requested", len(chunks), "created", created)
	return created, nil
}

// DeleteSource removes every chunk belonging to the given source file.
// Used both for re-ingestion and as compensating cleanup after a
// cancelled ingestion job.
func (s *WeaviateStore) DeleteSource(ctx context.Context, source string) error {
	ctx, span := tracer.Start(ctx, "DeleteSource")
	defer span.End()
	span.SetAttributes(attribute.String("source", source))

	whereFilter := filters.Where().
		WithPath([]string{"source"}).
		WithOperator(filters.Equal).
		WithValueString(source)

	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(chunkClassName).
		WithWhere(whereFilter).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch delete failed")
		return fmt.Errorf("failed to delete chunks for %s: %w", source, err)
	}

	if resp != nil && resp.Results != nil {
		slog.Info("Deleted chunks for source",
			"source", source,
			"matched", resp.Results.Matches,
			"deleted", resp.Results.Successful,
		)
	}
	return nil
}

// SourceReader fetches all chunks of one document in original order.
// The summarization path depends on it.
type SourceReader interface {
	ChunksBySource(ctx context.Context, source string) ([]Chunk, error)
}

// sourceChunksResponse is the typed shape of a filtered chunk Get.
type sourceChunksResponse struct {
	Get struct {
		DocumentChunk []struct {
			Text    string `json:"text"`
			Source  string `json:"source"`
			Page    int    `json:"page"`
			Section string `json:"section"`
			ChunkID string `json:"chunkID"`
		} `json:"DocumentChunk"`
	} `json:"Get"`
}

const maxChunksPerSource = 10000

// ChunksBySource returns every chunk stored for a source file, sorted
// by chunk id so the document reads in its original order. An unknown
// source yields an empty slice.
func (s *WeaviateStore) ChunksBySource(ctx context.Context, source string) ([]Chunk, error) {
	ctx, span := tracer.Start(ctx, "ChunksBySource")
	defer span.End()
	span.SetAttributes(attribute.String("source", source))

	whereFilter := filters.Where().
		WithPath([]string{"source"}).
		WithOperator(filters.Equal).
		WithValueString(source)

	fields := []graphql.Field{
		{Name: "text"},
		{Name: "source"},
		{Name: "page"},
		{Name: "section"},
		{Name: "chunkID"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(chunkClassName).
		WithFields(fields...).
		WithWhere(whereFilter).
		WithLimit(maxChunksPerSource).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weaviate query failed")
		return nil, fmt.Errorf("failed to fetch chunks for %s: %w", source, err)
	}

	jsonBytes, err := json.Marshal(result.Data)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("marshal weaviate response: %w", err)
	}
	var typed sourceChunksResponse
	if err := json.Unmarshal(jsonBytes, &typed); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("unmarshal weaviate response: %w", err)
	}

	chunks := make([]Chunk, 0, len(typed.Get.DocumentChunk))
	for _, row := range typed.Get.DocumentChunk {
		chunks = append(chunks, Chunk{
			Text:    row.Text,
			Source:  row.Source,
			Page:    row.Page,
			Section: row.Section,
			ChunkID: row.ChunkID,
		})
	}
	sort.Slice(chunks, func(a, b int) bool {
		return chunkOrdinal(chunks[a].ChunkID) < chunkOrdinal(chunks[b].ChunkID)
	})

	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	return chunks, nil
}

func chunkOrdinal(id string) int {
	n, err := strconv.Atoi(id)
	if err != nil {
		return 0
	}
	return n
}
