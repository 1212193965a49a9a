package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streamloft/speech-stream-service/internal/audio"
	"github.com/streamloft/speech-stream-service/internal/reconcile"
)

// SlidingWindowConfig tunes a local sliding-window unit.
type SlidingWindowConfig struct {
	// WindowLen bounds the audio history re-fed to the recognizer on every
	// step.
	WindowLen time.Duration

	// MatchingThreshold is passed to the reconciler.
	MatchingThreshold float64

	// SpeechChunkSize is the preferred seconds of audio per chunk,
	// reported to clients that ask.
	SpeechChunkSize float64
}

// SlidingWindowUnit is the local Unit implementation: it keeps a bounded
// window of the most recent audio, re-decodes the whole window on every
// chunk, and reconciles successive decodings into incremental deltas.
//
// A unit is owned by exactly one session at a time and must not be invoked
// concurrently.
type SlidingWindowUnit struct {
	recognizer Recognizer
	reconciler *reconcile.Reconciler
	window     *audio.Window
	config     SlidingWindowConfig
	logger     *slog.Logger

	// textHistory is the token sequence accepted on the previous step,
	// empty before the first output and after a reset.
	textHistory []string
}

// NewSlidingWindow creates a local sliding-window unit on top of the given
// recognition capability.
func NewSlidingWindow(recognizer Recognizer, cfg SlidingWindowConfig, logger *slog.Logger) (*SlidingWindowUnit, error) {
	if cfg.WindowLen <= 0 {
		return nil, fmt.Errorf("window length must be positive, got %v", cfg.WindowLen)
	}
	if cfg.MatchingThreshold <= 0 || cfg.MatchingThreshold > 1 {
		return nil, fmt.Errorf("matching threshold must be in (0, 1], got %f", cfg.MatchingThreshold)
	}
	if cfg.SpeechChunkSize <= 0 {
		return nil, fmt.Errorf("speech chunk size must be positive, got %f", cfg.SpeechChunkSize)
	}

	maxSamples := int(cfg.WindowLen.Seconds() * float64(audio.InternalSampleRate))
	window, err := audio.NewWindow(maxSamples)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio window: %w", err)
	}

	return &SlidingWindowUnit{
		recognizer: recognizer,
		reconciler: reconcile.New(cfg.MatchingThreshold, recognizer.TokensToString),
		window:     window,
		config:     cfg,
		logger:     logger,
	}, nil
}

// ProcessChunk appends samples to the sliding window, re-decodes the whole
// window, and returns the delta against the previous step. The token history
// only advances on a successful decode, so a failed step never corrupts the
// client's transcript.
func (u *SlidingWindowUnit) ProcessChunk(ctx context.Context, samples []float32) (reconcile.Delta, error) {
	u.window.Append(samples)
	return u.decodeWindow(ctx)
}

// EndOfStream runs one final decode over whatever the window still holds,
// then resets the unit for reuse. An empty window yields an empty delta.
func (u *SlidingWindowUnit) EndOfStream(ctx context.Context) (reconcile.Delta, error) {
	if u.window.Len() == 0 {
		u.resetState()
		return reconcile.Delta{}, nil
	}

	delta, err := u.decodeWindow(ctx)
	if err != nil {
		return reconcile.Delta{}, err
	}
	u.resetState()
	return delta, nil
}

// SetSourceLanguage declares the input language on the recognizer.
func (u *SlidingWindowUnit) SetSourceLanguage(_ context.Context, lang string) error {
	return u.recognizer.SetSourceLanguage(lang)
}

// SetTargetLanguage switches the output language on the recognizer.
func (u *SlidingWindowUnit) SetTargetLanguage(_ context.Context, lang string) error {
	return u.recognizer.SetTargetLanguage(lang)
}

// Clear drops the audio window and the token history. Idempotent.
func (u *SlidingWindowUnit) Clear(_ context.Context) error {
	u.resetState()
	return nil
}

// TokensToString renders tokens with the recognizer's tokenization.
func (u *SlidingWindowUnit) TokensToString(_ context.Context, tokens []string) (string, error) {
	return u.recognizer.TokensToString(tokens), nil
}

// SpeechChunkSize reports the configured preferred chunk duration in
// seconds.
func (u *SlidingWindowUnit) SpeechChunkSize(_ context.Context) (float64, error) {
	return u.config.SpeechChunkSize, nil
}

func (u *SlidingWindowUnit) decodeWindow(ctx context.Context) (reconcile.Delta, error) {
	start := time.Now()
	tokens, err := u.recognizer.Decode(ctx, u.window.Samples())
	if err != nil {
		return reconcile.Delta{}, fmt.Errorf("decode failed: %w", err)
	}

	delta := u.reconciler.Apply(u.textHistory, tokens)
	u.textHistory = tokens

	u.logger.Debug("Processed audio window",
		slog.Int("window_samples", u.window.Len()),
		slog.Int("decoded_tokens", len(tokens)),
		slog.Int("new_tokens", len(delta.NewTokens)),
		slog.Int("deleted_tokens", len(delta.DeletedTokens)),
		slog.Duration("computation_time", time.Since(start)),
	)
	return delta, nil
}

func (u *SlidingWindowUnit) resetState() {
	u.window.Reset()
	u.textHistory = nil
}
