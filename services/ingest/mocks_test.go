package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/ashuxtim/DocuMind-AI/services/knowledge"
	"github.com/ashuxtim/DocuMind-AI/services/llm"
	"github.com/ashuxtim/DocuMind-AI/services/vector"
)

var errBackendDown = errors.New("backend down")

type stubLLM struct {
	response string
	err      error

	mu    sync.Mutex
	calls int
}

func (s *stubLLM) Generate(_ context.Context, _, _ string, _ llm.GenerationParams) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubLLM) ModelName() string { return "stub" }

type mockVectorStore struct {
	mu             sync.Mutex
	added          []vector.Chunk
	deletedSources []string
	addErr         error

	inFlight    int
	maxInFlight int
}

func (m *mockVectorStore) Search(context.Context, string, int) ([]vector.Candidate, error) {
	return nil, nil
}

func (m *mockVectorStore) Add(_ context.Context, chunks []vector.Chunk) (int, error) {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	m.added = append(m.added, chunks...)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()
	if m.addErr != nil {
		return 0, m.addErr
	}
	return len(chunks), nil
}

func (m *mockVectorStore) DeleteSource(_ context.Context, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedSources = append(m.deletedSources, source)
	return nil
}

func (m *mockVectorStore) addedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.added)
}

type mockGraphStore struct {
	mu           sync.Mutex
	relations    []knowledge.Relation
	deletedFiles []string
}

func (m *mockGraphStore) QuerySubgraph(context.Context, []string) (string, error) {
	return "", nil
}

func (m *mockGraphStore) AddRelations(_ context.Context, relations []knowledge.Relation, _ string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relations = append(m.relations, relations...)
	return nil
}

func (m *mockGraphStore) DeleteDocument(_ context.Context, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedFiles = append(m.deletedFiles, filename)
	return nil
}

type mockLocker struct {
	jobInitErr error

	mu             sync.Mutex
	jobInitCalls   int
	jobInitOpen    int
	inferenceCalls int
}

func (m *mockLocker) AcquireJobInit(context.Context) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobInitCalls++
	if m.jobInitErr != nil {
		return nil, m.jobInitErr
	}
	m.jobInitOpen++
	return func() {
		m.mu.Lock()
		m.jobInitOpen--
		m.mu.Unlock()
	}, nil
}

func (m *mockLocker) AcquireInference(context.Context) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inferenceCalls++
	return func() {}, nil
}

// mockState flips to cancelled after cancelAfter IsCancelled calls;
// zero means never cancelled unless cancelled is preset.
type mockState struct {
	mu          sync.Mutex
	cancelled   bool
	cancelAfter int
	checks      int
	statuses    []string
	failureMsg  string
}

func (m *mockState) record(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}

func (m *mockState) SetProcessing(_ context.Context, _, _ string) error {
	m.record(StatusProcessing)
	return nil
}

func (m *mockState) SetCompleted(context.Context, string) error {
	m.record(StatusCompleted)
	return nil
}

func (m *mockState) SetFailed(_ context.Context, _ string, errMsg string) error {
	m.mu.Lock()
	m.failureMsg = errMsg
	m.mu.Unlock()
	m.record(StatusFailed)
	return nil
}

func (m *mockState) SetCancelled(context.Context, string) error {
	m.record(StatusCancelled)
	return nil
}

func (m *mockState) IsCancelled(context.Context, string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	if m.cancelAfter > 0 && m.checks > m.cancelAfter {
		m.cancelled = true
	}
	return m.cancelled, nil
}

func (m *mockState) lastStatus() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.statuses) == 0 {
		return ""
	}
	return m.statuses[len(m.statuses)-1]
}

type mockMetrics struct {
	mu        sync.Mutex
	outcomes  []string
	chunks    int
	lockWaits []string
}

func (m *mockMetrics) JobCompleted(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, status)
}

func (m *mockMetrics) ChunksIngested(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks += n
}

func (m *mockMetrics) ObserveLockWait(lock string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockWaits = append(m.lockWaits, lock)
}
