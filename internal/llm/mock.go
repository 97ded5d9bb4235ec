package llm

import (
	"context"
	"sync"

	"featherine-chat/internal/domain"
)

// MockClient permite tests sin llamar a un LLM real.
type MockClient struct {
	Response string
	Err      error

	mu    sync.Mutex
	calls [][]domain.TranscriptEntry
}

func (m *MockClient) Complete(ctx context.Context, transcript []domain.TranscriptEntry) (string, error) {
	m.mu.Lock()
	copied := make([]domain.TranscriptEntry, len(transcript))
	copy(copied, transcript)
	m.calls = append(m.calls, copied)
	m.mu.Unlock()
	return m.Response, m.Err
}

// Calls devuelve los transcripts recibidos en orden.
func (m *MockClient) Calls() [][]domain.TranscriptEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]domain.TranscriptEntry, len(m.calls))
	copy(out, m.calls)
	return out
}
