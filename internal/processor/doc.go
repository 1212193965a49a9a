// Package processor defines the processing unit contract and its local
// implementation: a sliding-window retranslation unit that re-decodes a
// bounded audio history on every chunk and reconciles successive decodings
// into incremental deltas. An optional VAD gate keeps silence away from the
// recognition backend.
package processor
