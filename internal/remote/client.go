package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamloft/speech-stream-service/internal/audio"
	"github.com/streamloft/speech-stream-service/internal/reconcile"
)

// ClientConfig holds the remote processing server address.
type ClientConfig struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// Proxy satisfies the processing unit contract by forwarding every call
// to a remote pooled server. One proxy instance owns exactly one remote
// session for its whole lifetime.
type Proxy struct {
	baseURL    string
	sessionID  string
	httpClient *http.Client
	logger     *slog.Logger

	mu             sync.Mutex
	chunkSize      float64
	chunkSizeKnown bool
}

// NewProxy creates a proxy bound to a fresh remote session id.
func NewProxy(config ClientConfig, logger *slog.Logger) *Proxy {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	id := uuid.New()
	return &Proxy{
		baseURL:    fmt.Sprintf("http://%s:%d/", config.Host, config.Port),
		sessionID:  hex.EncodeToString(id[:]),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// SessionID returns the remote session identifier owned by this proxy.
func (p *Proxy) SessionID() string {
	return p.sessionID
}

// apiRequest is the payload shape shared by all proxy operations.
// Unused fields are omitted from the encoded body.
type apiRequest struct {
	SessionID string   `json:"session_id"`
	Waveform  string   `json:"waveform,omitempty"`
	Language  string   `json:"language,omitempty"`
	Tokens    []string `json:"tokens,omitempty"`
}

type chunkSizeResponse struct {
	SpeechChunkSize float64 `json:"speech_chunk_size"`
}

type tokensToStringResponse struct {
	TokensAsString string `json:"tokens_as_string"`
}

// call issues one request and decodes the JSON response into out when
// the server returns a body. A 204 response leaves out untouched.
func (p *Proxy) call(ctx context.Context, method, path string, payload apiRequest, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s request returned status %d: %s", path, resp.StatusCode, string(msg))
	}
	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// ProcessChunk forwards raw samples to the remote unit and returns the
// incremental delta it produced.
func (p *Proxy) ProcessChunk(ctx context.Context, samples []float32) (reconcile.Delta, error) {
	payload := apiRequest{
		SessionID: p.sessionID,
		Waveform:  base64.StdEncoding.EncodeToString(audio.Float32Bytes(samples)),
	}

	var delta reconcile.Delta
	if err := p.call(ctx, http.MethodPost, "process_chunk", payload, &delta); err != nil {
		return reconcile.Delta{}, err
	}
	return delta, nil
}

// EndOfStream finalizes the remote unit and returns its last delta.
func (p *Proxy) EndOfStream(ctx context.Context) (reconcile.Delta, error) {
	var delta reconcile.Delta
	err := p.call(ctx, http.MethodPost, "end_of_stream", apiRequest{SessionID: p.sessionID}, &delta)
	if err != nil {
		return reconcile.Delta{}, err
	}
	return delta, nil
}

// SetSourceLanguage switches the remote unit's source language.
func (p *Proxy) SetSourceLanguage(ctx context.Context, lang string) error {
	return p.call(ctx, http.MethodPut, "source_language",
		apiRequest{SessionID: p.sessionID, Language: lang}, nil)
}

// SetTargetLanguage switches the remote unit's target language.
func (p *Proxy) SetTargetLanguage(ctx context.Context, lang string) error {
	return p.call(ctx, http.MethodPut, "target_language",
		apiRequest{SessionID: p.sessionID, Language: lang}, nil)
}

// Clear releases the remote session. The remote side treats clearing an
// unknown session as a no-op, so Clear is idempotent.
func (p *Proxy) Clear(ctx context.Context) error {
	return p.call(ctx, http.MethodPost, "clear", apiRequest{SessionID: p.sessionID}, nil)
}

// TokensToString asks the remote unit to detokenize a token sequence.
func (p *Proxy) TokensToString(ctx context.Context, tokens []string) (string, error) {
	if tokens == nil {
		tokens = []string{}
	}
	var resp tokensToStringResponse
	err := p.call(ctx, http.MethodGet, "tokens_to_string",
		apiRequest{SessionID: p.sessionID, Tokens: tokens}, &resp)
	if err != nil {
		return "", err
	}
	return resp.TokensAsString, nil
}

// SpeechChunkSize fetches the remote unit's chunk size hint. The value
// is fixed for the session lifetime, so it is fetched once and cached.
func (p *Proxy) SpeechChunkSize(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.chunkSizeKnown {
		return p.chunkSize, nil
	}

	var resp chunkSizeResponse
	err := p.call(ctx, http.MethodGet, "speech_chunk_size", apiRequest{SessionID: p.sessionID}, &resp)
	if err != nil {
		return 0, err
	}

	p.chunkSize = resp.SpeechChunkSize
	p.chunkSizeKnown = true

	p.logger.Debug("Cached remote chunk size hint",
		slog.String("session_id", p.sessionID),
		slog.Float64("speech_chunk_size", p.chunkSize),
	)

	return p.chunkSize, nil
}
