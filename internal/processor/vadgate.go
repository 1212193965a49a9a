package processor

import (
	"context"
	"log/slog"

	"github.com/streamloft/speech-stream-service/internal/reconcile"
	"github.com/streamloft/speech-stream-service/internal/vad"
)

// VADGate wraps a Unit and drops audio chunks that carry no voice activity,
// so silence never reaches the recognition backend. Everything else is
// delegated unchanged.
type VADGate struct {
	inner    Unit
	detector *vad.Processor
	logger   *slog.Logger
}

// NewVADGate creates a voice-gated wrapper around inner.
func NewVADGate(inner Unit, detector *vad.Processor, logger *slog.Logger) *VADGate {
	return &VADGate{inner: inner, detector: detector, logger: logger}
}

// ProcessChunk forwards the chunk only when the detector scores it as
// speech; a silent chunk produces an empty delta without touching the inner
// unit's memory.
func (g *VADGate) ProcessChunk(ctx context.Context, samples []float32) (reconcile.Delta, error) {
	result := g.detector.Process(samples)
	if !result.HasVoice {
		g.logger.Debug("Dropped silent chunk",
			slog.Int("samples", len(samples)),
			slog.Float64("probability", result.Probability),
		)
		return reconcile.Delta{}, nil
	}
	return g.inner.ProcessChunk(ctx, samples)
}

// EndOfStream finalizes the inner unit and resets the detector state.
func (g *VADGate) EndOfStream(ctx context.Context) (reconcile.Delta, error) {
	g.detector.Reset()
	return g.inner.EndOfStream(ctx)
}

// SetSourceLanguage delegates to the inner unit.
func (g *VADGate) SetSourceLanguage(ctx context.Context, lang string) error {
	return g.inner.SetSourceLanguage(ctx, lang)
}

// SetTargetLanguage delegates to the inner unit.
func (g *VADGate) SetTargetLanguage(ctx context.Context, lang string) error {
	return g.inner.SetTargetLanguage(ctx, lang)
}

// Clear resets the detector and the inner unit.
func (g *VADGate) Clear(ctx context.Context) error {
	g.detector.Reset()
	return g.inner.Clear(ctx)
}

// TokensToString delegates to the inner unit.
func (g *VADGate) TokensToString(ctx context.Context, tokens []string) (string, error) {
	return g.inner.TokensToString(ctx, tokens)
}

// SpeechChunkSize delegates to the inner unit.
func (g *VADGate) SpeechChunkSize(ctx context.Context) (float64, error) {
	return g.inner.SpeechChunkSize(ctx)
}
