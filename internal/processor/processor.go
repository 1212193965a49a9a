package processor

import (
	"context"

	"github.com/streamloft/speech-stream-service/internal/reconcile"
)

// Recognizer is the opaque recognition/translation capability: it maps one
// audio window to the full decoded token sequence for that window. The
// service never looks inside it.
type Recognizer interface {
	// Decode returns the complete token sequence for the given window of
	// float32 mono samples at the internal rate.
	Decode(ctx context.Context, samples []float32) ([]string, error)

	// SetSourceLanguage declares the input language; empty means
	// auto-detect.
	SetSourceLanguage(lang string) error

	// SetTargetLanguage switches the output language.
	SetTargetLanguage(lang string) error

	// TokensToString renders a token sequence into client-visible text.
	TokensToString(tokens []string) string
}

// Unit is one processing unit: the recognition capability plus its private
// rolling memory of audio and previously emitted tokens. Implementations
// are stateful and not safe for concurrent invocation; callers must
// guarantee single-writer access.
type Unit interface {
	// ProcessChunk consumes the newest raw audio, re-decodes the sliding
	// window, and returns the incremental delta against the previous step.
	ProcessChunk(ctx context.Context, samples []float32) (reconcile.Delta, error)

	// EndOfStream finalizes any remaining window audio, returns the final
	// delta, and resets the unit for reuse. It never fails on an empty
	// history.
	EndOfStream(ctx context.Context) (reconcile.Delta, error)

	// SetSourceLanguage declares the input language.
	SetSourceLanguage(ctx context.Context, lang string) error

	// SetTargetLanguage switches the output language.
	SetTargetLanguage(ctx context.Context, lang string) error

	// Clear drops all rolling state. Idempotent; never fails on an empty
	// history.
	Clear(ctx context.Context) error

	// TokensToString renders tokens the way this unit's capability would.
	TokensToString(ctx context.Context, tokens []string) (string, error)

	// SpeechChunkSize reports the preferred seconds of audio per
	// ProcessChunk call.
	SpeechChunkSize(ctx context.Context) (float64, error)
}

// Factory builds a fresh Unit. The streaming server calls it once per
// direct connection; the pool calls it capacity times at startup.
type Factory func() (Unit, error)
