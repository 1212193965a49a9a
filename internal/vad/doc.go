// Package vad provides lightweight voice activity detection based on signal
// energy and zero-crossing rate. It gates audio in front of a processing
// unit so silent windows never reach the recognition backend.
package vad
