package protocol

import (
	"encoding/json"
	"testing"

	"github.com/streamloft/speech-stream-service/internal/reconcile"
)

func TestParseControlMessageSingleKeys(t *testing.T) {
	msg, err := ParseControlMessage([]byte(`{"sample_rate": 44100}`))
	if err != nil {
		t.Fatalf("ParseControlMessage failed: %v", err)
	}
	if msg.SampleRate == nil || *msg.SampleRate != 44100 {
		t.Errorf("Expected sample rate 44100, got %v", msg.SampleRate)
	}

	msg, err = ParseControlMessage([]byte(`{"target_lang": "de"}`))
	if err != nil {
		t.Fatalf("ParseControlMessage failed: %v", err)
	}
	if msg.TargetLang != "de" {
		t.Errorf("Expected target language de, got %q", msg.TargetLang)
	}

	msg, err = ParseControlMessage([]byte(`{"end_of_stream": true}`))
	if err != nil {
		t.Fatalf("ParseControlMessage failed: %v", err)
	}
	if !msg.EndOfStream {
		t.Error("Expected end_of_stream to be set")
	}
}

func TestParseControlMessageCombinedKeys(t *testing.T) {
	raw := `{"sample_rate": 16000, "target_lang": "it", "metrics_metadata": {"run": 7}}`

	msg, err := ParseControlMessage([]byte(raw))
	if err != nil {
		t.Fatalf("ParseControlMessage failed: %v", err)
	}
	if msg.SampleRate == nil || *msg.SampleRate != 16000 {
		t.Errorf("Expected sample rate, got %v", msg.SampleRate)
	}
	if msg.TargetLang != "it" {
		t.Errorf("Expected target language it, got %q", msg.TargetLang)
	}
	if msg.MetricsMetadata == nil {
		t.Error("Expected metrics metadata to be preserved")
	}
	if msg.EndOfStream {
		t.Error("end_of_stream must not be set")
	}
}

func TestParseControlMessageRejectsGarbage(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"sample_rate": "fast"}`,
		`{"sample_rate": -8000}`,
		`[1,2,3]`,
	} {
		if _, err := ParseControlMessage([]byte(raw)); err == nil {
			t.Errorf("Expected error for %q", raw)
		}
	}
}

func TestParseControlMessageUnknownKeysIgnored(t *testing.T) {
	msg, err := ParseControlMessage([]byte(`{"volume": 11}`))
	if err != nil {
		t.Fatalf("Unknown keys must not fail parsing: %v", err)
	}
	if !msg.IsEmpty() {
		t.Error("Message with only unknown keys should be empty")
	}
}

func TestEncodeDelta(t *testing.T) {
	data, err := EncodeDelta(reconcile.Delta{
		NewTokens:   []string{"world"},
		NewText:     " world",
		DeletedText: "d.",
	})
	if err != nil {
		t.Fatalf("EncodeDelta failed: %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Encoded delta is not valid JSON: %v", err)
	}
	if decoded["new"] != " world" {
		t.Errorf("Expected new %q, got %q", " world", decoded["new"])
	}
	if decoded["deleted"] != "d." {
		t.Errorf("Expected deleted %q, got %q", "d.", decoded["deleted"])
	}
	if len(decoded) != 2 {
		t.Errorf("Delta frame must carry exactly the new/deleted strings, got %v", decoded)
	}
}

func TestEncodeEndOfProcessing(t *testing.T) {
	data, err := EncodeEndOfProcessing()
	if err != nil {
		t.Fatalf("EncodeEndOfProcessing failed: %v", err)
	}

	var decoded map[string]bool
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if !decoded["end_of_processing"] {
		t.Error("Expected end_of_processing true")
	}
}
