package vad

import (
	"fmt"
	"math"
	"sync"
)

// Processor detects voice activity on normalized float32 audio using signal
// energy and zero-crossing rate, with light exponential smoothing across
// consecutive calls.
type Processor struct {
	threshold float64
	smoothing float64

	lastProbability float64
	totalWindows    uint64
	voiceWindows    uint64

	mu sync.Mutex
}

// Result represents the outcome of one voice activity check.
type Result struct {
	Probability float64 `json:"probability"`
	HasVoice    bool    `json:"has_voice"`
}

// Stats represents cumulative processor statistics for monitoring.
type Stats struct {
	TotalWindows    uint64  `json:"total_windows"`
	VoiceWindows    uint64  `json:"voice_windows"`
	VoicePercentage float64 `json:"voice_percentage"`
}

// NewProcessor creates a voice activity detector with the given decision
// threshold in (0, 1).
func NewProcessor(threshold float64) (*Processor, error) {
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1), got %f", threshold)
	}
	return &Processor{
		threshold: threshold,
		smoothing: 0.1,
	}, nil
}

// Process estimates the probability that samples contain speech. Empty input
// yields zero probability.
func (p *Processor) Process(samples []float32) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	probability := p.smooth(speechProbability(samples))
	p.lastProbability = probability

	p.totalWindows++
	hasVoice := probability >= p.threshold
	if hasVoice {
		p.voiceWindows++
	}
	return Result{Probability: probability, HasVoice: hasVoice}
}

// Reset clears the smoothing state between independent audio streams.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastProbability = 0
}

// GetStats returns cumulative statistics.
func (p *Processor) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	percentage := float64(0)
	if p.totalWindows > 0 {
		percentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}
	return Stats{
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: percentage,
	}
}

func (p *Processor) smooth(raw float64) float64 {
	if p.totalWindows == 0 {
		return raw
	}
	return p.smoothing*p.lastProbability + (1-p.smoothing)*raw
}

// speechProbability combines RMS energy with the zero-crossing rate. Speech
// carries substantially more energy than line noise while keeping a moderate
// crossing rate; pure tones and hiss score low on one of the two axes.
func speechProbability(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sumSquares float64
	crossings := 0
	for i, s := range samples {
		sumSquares += float64(s) * float64(s)
		if i > 0 && (s >= 0) != (samples[i-1] >= 0) {
			crossings++
		}
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))
	crossingRate := float64(crossings) / float64(len(samples))

	// Map RMS to (0, 1); -50 dBFS and below is treated as silence.
	db := 20 * math.Log10(rms+1e-10)
	energyScore := (db + 50) / 50
	energyScore = math.Max(0, math.Min(1, energyScore))

	// Typical voiced speech sits well under a 0.5 crossing rate.
	crossingScore := 1 - math.Min(1, crossingRate*2)

	return energyScore * (0.7 + 0.3*crossingScore)
}
