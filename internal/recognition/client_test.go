package recognition

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streamloft/speech-stream-service/internal/audio"
)

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		Endpoint:      endpoint,
		Timeout:       5 * time.Second,
		MaxRetries:    0,
		MaxConcurrent: 2,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(Config{}, nil); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}

func TestDecodeParsesBackendTokens(t *testing.T) {
	var gotLanguage atomic.Value
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotLanguage.Store(r.FormValue("language"))

		file, _, err := r.FormFile("audio")
		if err != nil {
			http.Error(w, "missing audio", http.StatusBadRequest)
			return
		}
		defer file.Close()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"tokens": []string{"▁hello", "▁world"},
			"text":   "hello world",
		})
	}))
	defer backend.Close()

	client := newTestClient(t, backend.URL)
	if err := client.SetTargetLanguage("en"); err != nil {
		t.Fatalf("SetTargetLanguage failed: %v", err)
	}

	tokens, err := client.Decode(context.Background(), make([]float32, audio.InternalSampleRate/10))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(tokens) != 2 || tokens[0] != "▁hello" {
		t.Errorf("Unexpected tokens: %v", tokens)
	}
	if gotLanguage.Load() != "en" {
		t.Errorf("Expected language field en, got %v", gotLanguage.Load())
	}

	stats := client.GetStats()
	if stats.SuccessRequests != 1 || stats.TotalRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestDecodeSurfacesBackendErrors(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer backend.Close()

	client := newTestClient(t, backend.URL)
	if _, err := client.Decode(context.Background(), make([]float32, 160)); err == nil {
		t.Fatal("Expected error for backend failure")
	}

	stats := client.GetStats()
	if stats.FailedRequests != 1 {
		t.Errorf("Expected one failed request, got %+v", stats)
	}
}

func TestDecodeRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "temporarily down", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"tokens": []string{"▁ok"}})
	}))
	defer backend.Close()

	client, err := NewClient(Config{
		Endpoint:      backend.URL,
		Timeout:       5 * time.Second,
		MaxRetries:    2,
		MaxConcurrent: 1,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	tokens, err := client.Decode(context.Background(), make([]float32, 160))
	if err != nil {
		t.Fatalf("Decode failed after retry: %v", err)
	}
	if len(tokens) != 1 || tokens[0] != "▁ok" {
		t.Errorf("Unexpected tokens: %v", tokens)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 backend calls, got %d", calls.Load())
	}
	if client.GetStats().TotalRetries != 1 {
		t.Errorf("Expected one recorded retry, got %+v", client.GetStats())
	}
}

func TestDecodeRejectsEmptyWindow(t *testing.T) {
	client := newTestClient(t, "http://localhost:1/decode")
	if _, err := client.Decode(context.Background(), nil); err == nil {
		t.Error("Expected error for empty window")
	}
}

func TestDetokenizePieces(t *testing.T) {
	tests := []struct {
		tokens []string
		want   string
	}{
		{nil, ""},
		{[]string{"▁hello"}, "hello"},
		{[]string{"▁hello", "▁wor", "ld"}, "hello world"},
		{[]string{"▁I", "▁am", "▁Sara", "."}, "I am Sara."},
	}
	for _, tt := range tests {
		if got := DetokenizePieces(tt.tokens); got != tt.want {
			t.Errorf("DetokenizePieces(%v) = %q, want %q", tt.tokens, got, tt.want)
		}
	}
}
