package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/streamloft/speech-stream-service/internal/audio"
	"github.com/streamloft/speech-stream-service/internal/metrics"
	"github.com/streamloft/speech-stream-service/internal/pool"
	"github.com/streamloft/speech-stream-service/internal/processor"
	"github.com/streamloft/speech-stream-service/internal/reconcile"
)

// Handler serves the remote proxy protocol over a unit pool. Routing is
// a fixed operation table keyed by path, each entry declaring the one
// verb it accepts.
type Handler struct {
	pool    *pool.Pool
	logger  *slog.Logger
	metrics *metrics.Metrics
	routes  map[string]route
}

type route struct {
	method string
	handle func(w http.ResponseWriter, r *http.Request, req apiRequest)
}

// NewHandler creates the protocol handler backed by the given pool.
func NewHandler(p *pool.Pool, logger *slog.Logger, m *metrics.Metrics) *Handler {
	h := &Handler{
		pool:    p,
		logger:  logger,
		metrics: m,
	}
	h.routes = map[string]route{
		"speech_chunk_size": {http.MethodGet, h.handleSpeechChunkSize},
		"process_chunk":     {http.MethodPost, h.handleProcessChunk},
		"source_language":   {http.MethodPut, h.handleSourceLanguage},
		"target_language":   {http.MethodPut, h.handleTargetLanguage},
		"end_of_stream":     {http.MethodPost, h.handleEndOfStream},
		"clear":             {http.MethodPost, h.handleClear},
		"tokens_to_string":  {http.MethodGet, h.handleTokensToString},
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	operation := strings.Trim(r.URL.Path, "/")

	rt, known := h.routes[operation]
	if !known {
		h.writeError(w, operation, http.StatusNotFound, "unknown operation")
		return
	}
	if r.Method != rt.method {
		h.writeError(w, operation, http.StatusMethodNotAllowed,
			fmt.Sprintf("operation %s requires %s", operation, rt.method))
		return
	}

	var req apiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, operation, http.StatusBadRequest, "malformed JSON payload")
		return
	}
	if req.SessionID == "" {
		h.writeError(w, operation, http.StatusBadRequest, "missing session_id")
		return
	}

	rt.handle(w, r, req)
}

// checkout resolves the session's lease, translating pool exhaustion
// into a 503. Returns nil after writing the error response.
func (h *Handler) checkout(w http.ResponseWriter, operation, sessionID string) *pool.Lease {
	lease, err := h.pool.Checkout(sessionID)
	if err != nil {
		if errors.Is(err, pool.ErrPoolExhausted) {
			h.writeError(w, operation, http.StatusServiceUnavailable, "no processing units available")
			return nil
		}
		h.writeError(w, operation, http.StatusInternalServerError, err.Error())
		return nil
	}
	return lease
}

func (h *Handler) handleSpeechChunkSize(w http.ResponseWriter, r *http.Request, req apiRequest) {
	lease := h.checkout(w, "speech_chunk_size", req.SessionID)
	if lease == nil {
		return
	}

	var size float64
	err := lease.Do(func(u processor.Unit) error {
		var err error
		size, err = u.SpeechChunkSize(r.Context())
		return err
	})
	if err != nil {
		h.writeError(w, "speech_chunk_size", http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, "speech_chunk_size", http.StatusOK, chunkSizeResponse{SpeechChunkSize: size})
}

func (h *Handler) handleProcessChunk(w http.ResponseWriter, r *http.Request, req apiRequest) {
	raw, err := base64.StdEncoding.DecodeString(req.Waveform)
	if err != nil {
		h.writeError(w, "process_chunk", http.StatusBadRequest, "waveform is not valid base64")
		return
	}
	samples, err := audio.Float32FromBytes(raw)
	if err != nil {
		h.writeError(w, "process_chunk", http.StatusBadRequest, err.Error())
		return
	}

	lease := h.checkout(w, "process_chunk", req.SessionID)
	if lease == nil {
		return
	}

	var delta reconcile.Delta
	err = lease.Do(func(u processor.Unit) error {
		var err error
		delta, err = u.ProcessChunk(r.Context(), samples)
		return err
	})
	if err != nil {
		h.logger.Error("Chunk processing failed",
			slog.String("session_id", req.SessionID),
			slog.String("error", err.Error()),
		)
		h.writeError(w, "process_chunk", http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, "process_chunk", http.StatusOK, delta)
}

func (h *Handler) handleSourceLanguage(w http.ResponseWriter, r *http.Request, req apiRequest) {
	h.handleSetLanguage(w, r, req, "source_language", processor.Unit.SetSourceLanguage)
}

func (h *Handler) handleTargetLanguage(w http.ResponseWriter, r *http.Request, req apiRequest) {
	h.handleSetLanguage(w, r, req, "target_language", processor.Unit.SetTargetLanguage)
}

func (h *Handler) handleSetLanguage(
	w http.ResponseWriter,
	r *http.Request,
	req apiRequest,
	operation string,
	set func(processor.Unit, context.Context, string) error,
) {
	if req.Language == "" {
		h.writeError(w, operation, http.StatusBadRequest, "missing language")
		return
	}

	lease := h.checkout(w, operation, req.SessionID)
	if lease == nil {
		return
	}

	err := lease.Do(func(u processor.Unit) error {
		return set(u, r.Context(), req.Language)
	})
	if err != nil {
		h.writeError(w, operation, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeNoContent(w, operation)
}

func (h *Handler) handleEndOfStream(w http.ResponseWriter, r *http.Request, req apiRequest) {
	lease := h.checkout(w, "end_of_stream", req.SessionID)
	if lease == nil {
		return
	}

	var delta reconcile.Delta
	err := lease.Do(func(u processor.Unit) error {
		var err error
		delta, err = u.EndOfStream(r.Context())
		return err
	})
	if err != nil {
		h.writeError(w, "end_of_stream", http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, "end_of_stream", http.StatusOK, delta)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request, req apiRequest) {
	// Clearing an unknown session is a no-op, matching Clear's
	// idempotence on the unit contract.
	if h.pool.IsActive(req.SessionID) {
		h.pool.Release(req.SessionID)
		h.logger.Info("Remote session closed",
			slog.String("session_id", req.SessionID),
		)
	}
	h.writeNoContent(w, "clear")
}

func (h *Handler) handleTokensToString(w http.ResponseWriter, r *http.Request, req apiRequest) {
	lease := h.checkout(w, "tokens_to_string", req.SessionID)
	if lease == nil {
		return
	}

	var text string
	err := lease.Do(func(u processor.Unit) error {
		var err error
		text, err = u.TokensToString(r.Context(), req.Tokens)
		return err
	})
	if err != nil {
		h.writeError(w, "tokens_to_string", http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, "tokens_to_string", http.StatusOK, tokensToStringResponse{TokensAsString: text})
}

func (h *Handler) writeJSON(w http.ResponseWriter, operation string, code int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to write response",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
	}
	h.metrics.RecordProxyRequest(operation, strconv.Itoa(code))
}

func (h *Handler) writeNoContent(w http.ResponseWriter, operation string) {
	w.WriteHeader(http.StatusNoContent)
	h.metrics.RecordProxyRequest(operation, strconv.Itoa(http.StatusNoContent))
}

func (h *Handler) writeError(w http.ResponseWriter, operation string, code int, message string) {
	h.writeJSON(w, operation, code, map[string]string{"error": message})
}
