// Package rerank scores retrieval candidates against the original
// question with a cross-encoder. The cross-encoder itself runs as an
// external inference service (same deployment model as the embedding
// service); this package is the client side of that contract.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("documind.rerank")

// Reranker scores each document against the query on the cross-encoder
// scale (higher is more relevant). The returned slice is index-aligned
// with docs.
type Reranker interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

// HTTPReranker calls a text-embeddings-inference style /rerank
// endpoint.
type HTTPReranker struct {
	httpClient *http.Client
	baseURL    string
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// NewHTTPReranker builds a client from RERANKER_URL.
func NewHTTPReranker() (*HTTPReranker, error) {
	baseURL := os.Getenv("RERANKER_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("RERANKER_URL environment variable not set")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing reranker client", "base_url", baseURL)
	return &HTTPReranker{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
	}, nil
}

// Score implements the Reranker interface. The service returns results
// in relevance order tagged with the source index; scores are mapped
// back to input positions here.
func (r *HTTPReranker) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	ctx, span := tracer.Start(ctx, "HTTPReranker.Score")
	defer span.End()
	span.SetAttributes(attribute.Int("rerank.docs", len(docs)))

	if len(docs) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(rerankRequest{Query: query, Texts: docs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+"/rerank", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rerank response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		span.SetStatus(codes.Error, "non-200 from reranker")
		return nil, fmt.Errorf("reranker returned status %d: %s", resp.StatusCode, string(body))
	}

	var results []rerankResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("failed to parse rerank response: %w", err)
	}

	scores := make([]float64, len(docs))
	for _, res := range results {
		if res.Index >= 0 && res.Index < len(scores) {
			scores[res.Index] = res.Score
		}
	}
	return scores, nil
}
