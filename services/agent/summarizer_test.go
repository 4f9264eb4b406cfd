package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashuxtim/DocuMind-AI/services/vector"
)

type stubSourceReader struct {
	chunks []vector.Chunk
	err    error
}

func (s *stubSourceReader) ChunksBySource(context.Context, string) ([]vector.Chunk, error) {
	return s.chunks, s.err
}

func TestSelectBookendIndices_SmallDocumentTakesEverything(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, selectBookendIndices(3))
	assert.Len(t, selectBookendIndices(10), 10)
}

func TestSelectBookendIndices_LargeDocumentSamples(t *testing.T) {
	indices := selectBookendIndices(40)

	assert.Contains(t, indices, 0)
	assert.Contains(t, indices, 1)
	assert.Contains(t, indices, 2)
	assert.Contains(t, indices, 38)
	assert.Contains(t, indices, 39)
	assert.Contains(t, indices, 10)
	assert.Contains(t, indices, 20)
	assert.Contains(t, indices, 30)

	for i := 1; i < len(indices); i++ {
		assert.Greater(t, indices[i], indices[i-1], "indices are unique and ascending")
	}
}

func TestSelectBookendIndices_NoDuplicatesNearThreshold(t *testing.T) {
	// With 11 chunks the sampled positions collide; the selection must
	// still be a set.
	indices := selectBookendIndices(11)
	seen := map[int]bool{}
	for _, idx := range indices {
		assert.False(t, seen[idx], "index %d appears twice", idx)
		seen[idx] = true
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 11)
	}
}

func TestSummarize_BuildsOrderedContext(t *testing.T) {
	reader := &stubSourceReader{}
	for i := 0; i < 3; i++ {
		reader.chunks = append(reader.chunks, vector.Chunk{
			Text:    fmt.Sprintf("chunk body %d", i),
			Section: fmt.Sprintf("Part %d", i),
			Page:    i + 1,
			ChunkID: fmt.Sprintf("%d", i),
		})
	}
	llmMock := newMockLLM().on("Senior Executive Assistant", "Executive Brief: all good.")
	s := NewSummarizer(reader, llmMock)

	summary, err := s.Summarize(context.Background(), "report.md")
	require.NoError(t, err)
	assert.Equal(t, "Executive Brief: all good.", summary)

	system := llmMock.systems[0]
	assert.Contains(t, system, "Senior Executive Assistant")
	assert.Contains(t, system, "[Section: Part 0 | Page 1]")
	assert.Contains(t, system, "chunk body 2")
}

func TestSummarize_EmptySectionFallsBackToBody(t *testing.T) {
	reader := &stubSourceReader{chunks: []vector.Chunk{{Text: "content", Page: 1}}}
	llmMock := newMockLLM()
	s := NewSummarizer(reader, llmMock)

	_, err := s.Summarize(context.Background(), "plain.txt")
	require.NoError(t, err)
	assert.Contains(t, llmMock.systems[0], "[Section: Body | Page 1]")
}

func TestSummarize_UnknownDocument(t *testing.T) {
	s := NewSummarizer(&stubSourceReader{}, newMockLLM())

	_, err := s.Summarize(context.Background(), "ghost.md")
	require.ErrorIs(t, err, ErrDocumentNotIndexed)
}

func TestSummarize_StoreFailure(t *testing.T) {
	s := NewSummarizer(&stubSourceReader{err: errBackendDown}, newMockLLM())

	_, err := s.Summarize(context.Background(), "report.md")
	require.ErrorIs(t, err, errBackendDown)
}
