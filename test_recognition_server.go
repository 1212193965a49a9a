package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Mock recognition backend for manual end-to-end testing. It produces a
// deterministic token stream whose length grows with the submitted
// audio, so repeated windows from the same client produce overlapping
// outputs the way a real incremental decoder would.

type DecodeResponse struct {
	Tokens      []string  `json:"tokens"`
	Text        string    `json:"text"`
	Language    string    `json:"language"`
	ProcessedAt time.Time `json:"processed_at"`
}

var phrase = []string{
	"▁the", "▁quick", "▁brown", "▁fox", "▁jumps", "▁over", "▁the", "▁lazy", "▁dog",
	"▁while", "▁the", "▁cat", "▁watches", "▁from", "▁the", "▁window", "▁sill",
}

func decodeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := r.ParseMultipartForm(10 << 20) // 10 MB
	if err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	sourceLanguage := r.FormValue("source_language")
	language := r.FormValue("language")

	file, header, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	// 16kHz int16 mono plus the 44-byte WAV header.
	audioSeconds := float64(len(audioData)-44) / 2 / 16000
	tokenCount := int(audioSeconds * 2) // about two words per second
	if tokenCount < 1 {
		tokenCount = 1
	}
	if tokenCount > len(phrase) {
		tokenCount = len(phrase)
	}
	tokens := phrase[:tokenCount]

	log.Printf("🎤 DECODE REQUEST: file=%s size=%d bytes (%.2fs) source=%q target=%q -> %d tokens",
		header.Filename, len(audioData), audioSeconds, sourceLanguage, language, tokenCount)

	// Simulate processing time
	time.Sleep(100 * time.Millisecond)

	text := strings.TrimPrefix(strings.ReplaceAll(strings.Join(tokens, ""), "▁", " "), " ")
	response := DecodeResponse{
		Tokens:      tokens,
		Text:        text,
		Language:    language,
		ProcessedAt: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)

	log.Printf("✅ DECODE RESPONSE SENT: %q", text)
}

func main() {
	http.HandleFunc("/decode", decodeHandler)

	port := ":9000"
	log.Printf("🚀 Test Recognition Server starting on port %s", port)
	log.Printf("📡 Endpoint: http://localhost%s/decode", port)
	log.Println("💡 Update your config to use: http://localhost:9000/decode")

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
