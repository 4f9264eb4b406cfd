package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashuxtim/DocuMind-AI/services/agent"
)

func TestExtractRelations(t *testing.T) {
	llmStub := &stubLLM{response: "```json\n[" +
		`{"subject": "Q1 2024 Revenue", "predicate": "REVISED_TO", "object": "Q1 Restated Revenue $7M", "corroboration": "HIGH", "period": "Q1 2024"},` +
		`{"subject": "Acme Corp", "predicate": "ACQUIRED", "object": "Widgets Inc"}` +
		"]\n```"}
	builder := NewGraphBuilder(llmStub)

	relations, err := builder.ExtractRelations(context.Background(), "The Q1 figure was restated to $7M.")
	require.NoError(t, err)
	require.Len(t, relations, 2)

	assert.Equal(t, "Q1 2024 Revenue", relations[0].Subject)
	assert.Equal(t, "REVISED_TO", relations[0].Predicate)
	assert.Equal(t, "HIGH", relations[0].Corroboration)
	assert.Equal(t, "Q1 2024", relations[0].Period)

	// Missing corroboration/period pass through empty; the graph
	// store applies MEDIUM/UNKNOWN defaults on merge.
	assert.Empty(t, relations[1].Corroboration)
	assert.Empty(t, relations[1].Period)
}

func TestExtractRelations_BackendError(t *testing.T) {
	builder := NewGraphBuilder(&stubLLM{err: errBackendDown})

	_, err := builder.ExtractRelations(context.Background(), "some text")
	require.Error(t, err)
	assert.ErrorIs(t, err, errBackendDown)
}

func TestExtractRelations_MalformedResponse(t *testing.T) {
	builder := NewGraphBuilder(&stubLLM{response: "I could not find any relationships."})

	_, err := builder.ExtractRelations(context.Background(), "some text")
	require.Error(t, err)
	assert.True(t, agent.IsParseError(err))
}

func TestExtractRelations_EmptyList(t *testing.T) {
	builder := NewGraphBuilder(&stubLLM{response: "[]"})

	relations, err := builder.ExtractRelations(context.Background(), "nothing here")
	require.NoError(t, err)
	assert.Empty(t, relations)
}
