package processor

import (
	"context"
	"sync"

	"github.com/streamloft/speech-stream-service/internal/recognition"
)

// MockRecognizer is a scripted Recognizer for local development and tests:
// each Decode call returns the next configured token sequence, sticking at
// the last one once the script runs out. No audio is inspected.
type MockRecognizer struct {
	Script [][]string

	calls int
	mu    sync.Mutex
}

// NewMockRecognizer creates a recognizer that replays the given decodings.
func NewMockRecognizer(script ...[]string) *MockRecognizer {
	return &MockRecognizer{Script: script}
}

// Decode returns the next scripted token sequence.
func (m *MockRecognizer) Decode(_ context.Context, _ []float32) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Script) == 0 {
		return []string{}, nil
	}
	idx := m.calls
	if idx >= len(m.Script) {
		idx = len(m.Script) - 1
	}
	m.calls++
	return m.Script[idx], nil
}

// SetSourceLanguage is a no-op.
func (m *MockRecognizer) SetSourceLanguage(string) error { return nil }

// SetTargetLanguage is a no-op.
func (m *MockRecognizer) SetTargetLanguage(string) error { return nil }

// TokensToString renders tokens with the standard piece convention.
func (m *MockRecognizer) TokensToString(tokens []string) string {
	return recognition.DetokenizePieces(tokens)
}

// Calls reports how many Decode calls were made.
func (m *MockRecognizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
