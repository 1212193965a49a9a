package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/streamloft/speech-stream-service/internal/audio"
	"github.com/streamloft/speech-stream-service/internal/metrics"
)

// Client provides HTTP access to the recognition backend: it submits an
// audio window and receives the full decoded token sequence for it. One
// client is shared by all local processing units.
type Client struct {
	config     Config
	httpClient *http.Client
	metrics    *metrics.Metrics
	semaphore  chan struct{} // bounds in-flight requests

	sourceLanguage string
	targetLanguage string

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64

	mu sync.RWMutex
}

// Config contains recognition client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// decodeResponse is the backend's answer for one audio window.
type decodeResponse struct {
	Tokens []string `json:"tokens"`
	Text   string   `json:"text"`
}

// ClientStats represents client statistics for monitoring.
type ClientStats struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
	TotalRetries    uint64  `json:"total_retries"`
}

// NewClient creates a new recognition backend client
func NewClient(config Config, m *metrics.Metrics) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		metrics:    m,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Decode submits one audio window (float32 mono at the internal rate) and
// returns the backend's full token sequence for it.
func (c *Client) Decode(ctx context.Context, samples []float32) ([]string, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()

	start := time.Now()
	retries := 0

	wav, err := audio.EncodeWAV(audio.EncodePCM16(samples), audio.InternalSampleRate)
	if err != nil {
		c.recordFailure(retries, start)
		return nil, fmt.Errorf("failed to encode audio window: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			retries++
			c.mu.Lock()
			c.totalRetries++
			c.mu.Unlock()

			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.recordFailure(retries, start)
				return nil, ctx.Err()
			}
		}

		tokens, err := c.doRequest(ctx, wav)
		if err == nil {
			c.mu.Lock()
			c.successRequests++
			c.mu.Unlock()
			c.metrics.RecordRecognitionRequest(true, retries, time.Since(start).Seconds())
			return tokens, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	c.recordFailure(retries, start)
	return nil, fmt.Errorf("recognition request failed after %d attempts: %w",
		c.config.MaxRetries+1, lastErr)
}

// SetSourceLanguage switches the declared input language sent with
// subsequent requests. An empty value lets the backend auto-detect.
func (c *Client) SetSourceLanguage(lang string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sourceLanguage = lang
	return nil
}

// SetTargetLanguage switches the output language sent with subsequent
// requests.
func (c *Client) SetTargetLanguage(lang string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targetLanguage = lang
	return nil
}

// TokensToString renders backend tokens into client-visible text. The
// backend emits sentencepiece-style pieces where "▁" marks a word boundary.
func (c *Client) TokensToString(tokens []string) string {
	return DetokenizePieces(tokens)
}

// GetStats returns current client statistics.
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}
	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
	}
}

// Close releases idle connections held by the underlying transport.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) recordFailure(retries int, start time.Time) {
	c.mu.Lock()
	c.failedRequests++
	c.mu.Unlock()
	c.metrics.RecordRecognitionRequest(false, retries, time.Since(start).Seconds())
}

func (c *Client) doRequest(ctx context.Context, wav []byte) ([]string, error) {
	c.mu.RLock()
	sourceLanguage := c.sourceLanguage
	targetLanguage := c.targetLanguage
	c.mu.RUnlock()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", "window.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	if sourceLanguage != "" {
		if err := writer.WriteField("source_language", sourceLanguage); err != nil {
			return nil, fmt.Errorf("failed to write source language field: %w", err)
		}
	}
	if targetLanguage != "" {
		if err := writer.WriteField("language", targetLanguage); err != nil {
			return nil, fmt.Errorf("failed to write language field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(payload))
	}

	var decoded decodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return decoded.Tokens, nil
}

// DetokenizePieces renders sentencepiece-style tokens: "▁" marks the start
// of a new word and becomes a space, with the leading space stripped.
func DetokenizePieces(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	var b strings.Builder
	for _, tok := range tokens {
		b.WriteString(strings.ReplaceAll(tok, "▁", " "))
	}
	return strings.TrimPrefix(b.String(), " ")
}
