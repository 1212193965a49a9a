package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streamloft/speech-stream-service/internal/audio"
	"github.com/streamloft/speech-stream-service/internal/metrics"
	"github.com/streamloft/speech-stream-service/internal/processor"
	"github.com/streamloft/speech-stream-service/internal/protocol"
	"github.com/streamloft/speech-stream-service/internal/reconcile"
)

// State tracks where a session is in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Session is the per-connection streaming state machine. It buffers raw
// PCM bytes until enough audio has accumulated for a processing step,
// applies control messages in arrival order, and drives its processing
// unit. Sessions are owned by a single connection goroutine and are not
// safe for concurrent use.
type Session struct {
	id      string
	unit    processor.Unit
	logger  *slog.Logger
	metrics *metrics.Metrics

	interval time.Duration

	state            State
	sampleRate       int
	buffer           []byte
	processedSeconds float64
}

// New creates an idle session bound to the given processing unit. Audio
// is assumed to arrive at the internal rate until a control message
// declares otherwise.
func New(id string, unit processor.Unit, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Session {
	return &Session{
		id:         id,
		unit:       unit,
		logger:     logger,
		metrics:    m,
		interval:   interval,
		state:      StateIdle,
		sampleRate: audio.InternalSampleRate,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// ProcessedSeconds returns the total duration of audio submitted to the
// processing unit so far.
func (s *Session) ProcessedSeconds() float64 {
	return s.processedSeconds
}

// bufferedSeconds is the duration of buffered audio at the client's
// declared rate. Two bytes per int16 sample.
func (s *Session) bufferedSeconds() float64 {
	return float64(len(s.buffer)) / 2 / float64(s.sampleRate)
}

// HandleAudio appends a binary frame to the buffer and, once the
// buffered duration reaches the processing interval, runs one
// processing step. Returns the step's delta, or nil when the audio was
// only buffered. Audio after finalization is discarded.
func (s *Session) HandleAudio(ctx context.Context, data []byte) (*reconcile.Delta, error) {
	if s.state == StateFinalized {
		s.logger.Debug("Discarding audio after finalization",
			slog.String("session_id", s.id),
			slog.Int("bytes", len(data)),
		)
		return nil, nil
	}

	s.state = StateStreaming
	s.buffer = append(s.buffer, data...)

	if s.bufferedSeconds() < s.interval.Seconds() {
		return nil, nil
	}
	return s.step(ctx)
}

// ApplyControl applies one parsed control message. Keys are handled in
// a fixed order within a single message; across messages, ordering
// follows arrival. Finalization may emit up to two deltas: the residual
// flush and the unit's end-of-stream output. The returned flag reports
// whether this message finalized the session.
func (s *Session) ApplyControl(ctx context.Context, msg protocol.ControlMessage) ([]reconcile.Delta, bool, error) {
	if s.state == StateFinalized {
		return nil, false, nil
	}

	if msg.SampleRate != nil {
		s.sampleRate = *msg.SampleRate
		s.logger.Debug("Sample rate declared",
			slog.String("session_id", s.id),
			slog.Int("sample_rate", s.sampleRate),
		)
	}

	if msg.TargetLang != "" {
		if err := s.unit.SetTargetLanguage(ctx, msg.TargetLang); err != nil {
			return nil, false, fmt.Errorf("failed to set target language: %w", err)
		}
		s.logger.Debug("Target language set",
			slog.String("session_id", s.id),
			slog.String("target_lang", msg.TargetLang),
		)
	}

	if msg.MetricsMetadata != nil {
		s.logger.Info("Client metrics metadata",
			slog.String("session_id", s.id),
			slog.Any("metadata", msg.MetricsMetadata),
		)
	}

	if msg.EndOfStream {
		deltas, err := s.finalize(ctx)
		return deltas, true, err
	}
	return nil, false, nil
}

// finalize flushes any residual buffered audio through one last step,
// then finalizes the unit. The session is inert afterwards.
func (s *Session) finalize(ctx context.Context) ([]reconcile.Delta, error) {
	var deltas []reconcile.Delta

	if len(s.buffer) > 0 {
		delta, err := s.step(ctx)
		if err != nil {
			s.state = StateFinalized
			return nil, err
		}
		if delta != nil {
			deltas = append(deltas, *delta)
		}
	}

	s.state = StateFinalized

	final, err := s.unit.EndOfStream(ctx)
	if err != nil {
		return deltas, fmt.Errorf("failed to finalize unit: %w", err)
	}
	if final.NewText != "" || final.DeletedText != "" {
		deltas = append(deltas, final)
	}

	s.logger.Info("Session finalized",
		slog.String("session_id", s.id),
		slog.Float64("processed_audio_seconds", s.processedSeconds),
	)
	return deltas, nil
}

// step drains the buffer, converts it to internal-rate samples, and
// runs one processing step on the unit.
func (s *Session) step(ctx context.Context) (*reconcile.Delta, error) {
	data := s.buffer
	s.buffer = nil
	s.processedSeconds += float64(len(data)) / 2 / float64(s.sampleRate)

	samples, err := audio.DecodePCM16(data)
	if err != nil {
		return nil, fmt.Errorf("invalid audio frame: %w", err)
	}
	if s.sampleRate != audio.InternalSampleRate {
		samples, err = audio.Resample(samples, s.sampleRate, audio.InternalSampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to resample audio: %w", err)
		}
	}

	start := time.Now()
	delta, err := s.unit.ProcessChunk(ctx, samples)
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.RecordProcessingFailure()
		return nil, fmt.Errorf("processing step failed: %w", err)
	}

	s.metrics.RecordChunkProcessed(elapsed.Seconds(), len(delta.NewTokens), delta.DeletedText != "")
	s.logger.Info("Processing step completed",
		slog.String("session_id", s.id),
		slog.Float64("total_audio_processed", s.processedSeconds),
		slog.Float64("computation_time", elapsed.Seconds()),
		slog.Int("generated_tokens", len(delta.NewTokens)),
		slog.Int("deleted_tokens", len(delta.DeletedTokens)),
	)
	return &delta, nil
}
