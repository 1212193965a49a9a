// Package audio handles PCM decoding, resampling, sliding-window buffering,
// and WAV encoding. All processing downstream of the transports works on
// normalized float32 mono samples at the fixed internal rate of 16 kHz.
package audio
