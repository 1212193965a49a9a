package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// InternalSampleRate is the fixed rate, in Hz, at which processing units
// consume audio. Client audio at any other declared rate is resampled.
const InternalSampleRate = 16000

// DecodePCM16 converts little-endian signed 16-bit mono PCM bytes into
// normalized float32 samples in [-1, 1).
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even, got %d bytes", len(data))
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		raw := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(raw) / 32768.0
	}
	return samples, nil
}

// EncodePCM16 converts normalized float32 samples back to signed 16-bit PCM,
// clipping out-of-range values.
func EncodePCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		scaled := float64(s) * 32768.0
		switch {
		case scaled > math.MaxInt16:
			out[i] = math.MaxInt16
		case scaled < math.MinInt16:
			out[i] = math.MinInt16
		default:
			out[i] = int16(scaled)
		}
	}
	return out
}

// Float32Bytes serializes float32 samples as little-endian bytes, the layout
// used by the remote proxy protocol.
func Float32Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// Float32FromBytes deserializes little-endian float32 samples.
func Float32FromBytes(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("float32 data length must be a multiple of 4, got %d bytes", len(data))
	}

	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples, nil
}

// Resample converts samples from one rate to another using linear
// interpolation. Rates must be positive; equal rates return the input
// unchanged.
func Resample(samples []float32, fromRate, toRate int) ([]float32, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d -> %d", fromRate, toRate)
	}
	if fromRate == toRate || len(samples) == 0 {
		return samples, nil
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(math.Round(float64(len(samples)) * float64(toRate) / float64(fromRate)))
	if outLen == 0 {
		return []float32{}, nil
	}

	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) * ratio
		left := int(pos)
		if left >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(left))
		out[i] = samples[left]*(1-frac) + samples[left+1]*frac
	}
	return out, nil
}
