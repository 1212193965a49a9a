package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/streamloft/speech-stream-service/internal/reconcile"
)

// ControlMessage is a text frame sent by a streaming client. Multiple fields
// may be present in one message; absent fields are left at their zero value
// and pointer fields distinguish "absent" from "zero".
type ControlMessage struct {
	// SampleRate switches the declared rate of subsequent binary audio
	// frames.
	SampleRate *int `json:"sample_rate,omitempty"`

	// TargetLang requests a language switch on the processing unit.
	TargetLang string `json:"target_lang,omitempty"`

	// MetricsMetadata is opaque client-supplied telemetry context. It is
	// logged and never interpreted.
	MetricsMetadata any `json:"metrics_metadata,omitempty"`

	// EndOfStream requests finalization of the session.
	EndOfStream bool `json:"end_of_stream,omitempty"`
}

// IsEmpty reports whether the message carries no recognized field, which is
// treated the same as a malformed message.
func (m *ControlMessage) IsEmpty() bool {
	return m.SampleRate == nil && m.TargetLang == "" &&
		m.MetricsMetadata == nil && !m.EndOfStream
}

// ParseControlMessage decodes a client text frame. Unknown keys are ignored,
// matching the key-based dispatch of the transport.
func ParseControlMessage(data []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid control message: %w", err)
	}
	if msg.SampleRate != nil && *msg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid control message: sample_rate must be positive, got %d", *msg.SampleRate)
	}
	return &msg, nil
}

// DeltaMessage is the per-step server frame carrying the text-level delta.
type DeltaMessage struct {
	New     string `json:"new"`
	Deleted string `json:"deleted"`
}

// EncodeDelta renders the client-facing JSON for one processing step.
func EncodeDelta(delta reconcile.Delta) ([]byte, error) {
	return json.Marshal(DeltaMessage{New: delta.NewText, Deleted: delta.DeletedText})
}

// EncodeEndOfProcessing renders the final frame sent once after
// finalization.
func EncodeEndOfProcessing() ([]byte, error) {
	return json.Marshal(map[string]bool{"end_of_processing": true})
}
