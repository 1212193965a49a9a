package reconcile

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

// wordDetok renders word-level tokens separated by single spaces.
func wordDetok(tokens []string) string {
	return strings.Join(tokens, " ")
}

// charDetok renders character-level tokens by plain concatenation.
func charDetok(tokens []string) string {
	return strings.Join(tokens, "")
}

func chars(s string) []string {
	tokens := make([]string, 0, len(s))
	for _, r := range s {
		tokens = append(tokens, string(r))
	}
	return tokens
}

func TestFirstWindowEmitsEverything(t *testing.T) {
	r := New(0.1, wordDetok)

	delta := r.Apply(nil, []string{"hello", "world"})

	if delta.NewText != "hello world" {
		t.Errorf("Expected new text %q, got %q", "hello world", delta.NewText)
	}
	if !reflect.DeepEqual(delta.NewTokens, []string{"hello", "world"}) {
		t.Errorf("Expected all tokens as new, got %v", delta.NewTokens)
	}
	if delta.DeletedText != "" || len(delta.DeletedTokens) != 0 {
		t.Errorf("Expected nothing deleted on the first window, got %q / %v",
			delta.DeletedText, delta.DeletedTokens)
	}
}

func TestFirstWindowNilTokensEncodeAsList(t *testing.T) {
	r := New(0.1, wordDetok)

	delta := r.Apply(nil, nil)

	if delta.NewTokens == nil {
		t.Fatal("Expected an empty token list, got nil")
	}
	encoded, err := json.Marshal(delta)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(encoded), `"new_tokens":[]`) {
		t.Errorf("Expected an empty list on the wire, got %s", encoded)
	}
}

func TestEmptyNewDecoding(t *testing.T) {
	r := New(0.1, wordDetok)

	delta := r.Apply([]string{"hello"}, nil)

	// A zero-length new text trivially satisfies any threshold, so the old
	// tail is retracted in full and nothing new is emitted.
	if delta.NewText != "" || len(delta.NewTokens) != 0 {
		t.Errorf("Expected empty new side, got %q / %v", delta.NewText, delta.NewTokens)
	}
	if delta.DeletedText != "hello" {
		t.Errorf("Expected full retraction, got %q", delta.DeletedText)
	}
}

func TestContinuationKeepsSharedPrefix(t *testing.T) {
	r := New(0.1, charDetok)

	delta := r.Apply(chars("hello"), chars("hello world"))

	if delta.DeletedText != "" {
		t.Errorf("Continuation must not retract, got deleted %q", delta.DeletedText)
	}
	if delta.NewText != " world" {
		t.Errorf("Expected appended suffix %q, got %q", " world", delta.NewText)
	}
}

func TestOverlapAboveThreshold(t *testing.T) {
	// Previous window ended with "I am Sara", the re-decoded window starts
	// mid-sentence and continues it.
	r := New(0.1, wordDetok)
	prev := []string{"I", "am", "Sara"}
	next := []string{"am", "Sara.", "Nice", "to", "meet"}

	delta := r.Apply(prev, next)

	if delta.DeletedText != "" {
		t.Errorf("Expected no retraction, got %q", delta.DeletedText)
	}
	if delta.NewText != ". Nice to meet" {
		t.Errorf("Expected new text %q, got %q", ". Nice to meet", delta.NewText)
	}
	if !reflect.DeepEqual(delta.NewTokens, []string{"Nice", "to", "meet"}) {
		t.Errorf("Expected minimal trailing suffix, got %v", delta.NewTokens)
	}
}

func TestDivergenceReplacesEverything(t *testing.T) {
	r := New(0.5, wordDetok)
	prev := []string{"hello", "world"}
	next := []string{"goodbye", "everyone"}

	delta := r.Apply(prev, next)

	if delta.NewText != "goodbye everyone" {
		t.Errorf("Expected full new text, got %q", delta.NewText)
	}
	if !reflect.DeepEqual(delta.NewTokens, next) {
		t.Errorf("Expected all new tokens verbatim, got %v", delta.NewTokens)
	}
	if delta.DeletedText != "" || len(delta.DeletedTokens) != 0 {
		t.Errorf("Divergence must never retract, got %q / %v",
			delta.DeletedText, delta.DeletedTokens)
	}
}

func TestRetractionOfSupersededTail(t *testing.T) {
	r := New(0.1, charDetok)

	delta := r.Apply(chars("I am Sam"), chars("I am Sara. Nice"))

	if delta.DeletedText != "m" {
		t.Errorf("Expected retraction of %q, got %q", "m", delta.DeletedText)
	}
	if delta.NewText != "ra. Nice" {
		t.Errorf("Expected new text %q, got %q", "ra. Nice", delta.NewText)
	}
	if charDetok(delta.DeletedTokens) != "m" {
		t.Errorf("Deleted tokens %v do not render the deleted text", delta.DeletedTokens)
	}
	if charDetok(delta.NewTokens) != "ra. Nice" {
		t.Errorf("New tokens %v do not render the new text", delta.NewTokens)
	}
}

func TestDeltaApplicationRoundTrip(t *testing.T) {
	// Feeding a sequence of windows through the reconciler and applying
	// each delta to a running transcript must reproduce, after every step,
	// the full detokenized output of that step.
	windows := []string{
		"the quick",
		"the quick brown fox",
		"quick brown fox jumps",
		"brown fox jumped over",
		"something entirely different now",
		"different now indeed",
	}

	r := New(0.3, charDetok)
	transcript := ""
	var prev []string
	for _, window := range windows {
		next := chars(window)
		delta := r.Apply(prev, next)

		if delta.DeletedText != "" {
			if !strings.HasSuffix(transcript, delta.DeletedText) {
				t.Fatalf("Delta retracts %q which is not a suffix of %q",
					delta.DeletedText, transcript)
			}
			transcript = transcript[:len(transcript)-len(delta.DeletedText)]
		}
		transcript += delta.NewText

		if !strings.HasSuffix(transcript, window) {
			t.Fatalf("After window %q transcript is %q", window, transcript)
		}
		prev = next
	}
}

func TestMultibyteRetractionSplitsOnCharacters(t *testing.T) {
	r := New(0.1, charDetok)

	delta := r.Apply(chars("です"), chars("でした"))

	if !utf8.ValidString(delta.NewText) || !utf8.ValidString(delta.DeletedText) {
		t.Fatalf("Delta text is not valid UTF-8: new %q deleted %q",
			delta.NewText, delta.DeletedText)
	}
	if delta.DeletedText != "す" {
		t.Errorf("Expected retraction of %q, got %q", "す", delta.DeletedText)
	}
	if delta.NewText != "した" {
		t.Errorf("Expected new text %q, got %q", "した", delta.NewText)
	}
}

func TestThresholdWeighsCharacters(t *testing.T) {
	// The shared prefix covers half the new text counted in characters; a
	// byte count would undervalue the wide characters and report divergence.
	r := New(0.45, charDetok)

	delta := r.Apply(chars("abcあ"), chars("abcいいい"))

	if delta.DeletedText != "あ" {
		t.Errorf("Expected retraction of %q, got %q", "あ", delta.DeletedText)
	}
	if delta.NewText != "いいい" {
		t.Errorf("Expected new text %q, got %q", "いいい", delta.NewText)
	}
}

func TestMultibyteDeltaRoundTrip(t *testing.T) {
	windows := []string{
		"こんにち",
		"こんにちは世界",
		"にちは世界です",
		"café au lait",
		"café au lait s'il",
	}

	r := New(0.3, charDetok)
	transcript := ""
	var prev []string
	for _, window := range windows {
		next := chars(window)
		delta := r.Apply(prev, next)

		if !utf8.ValidString(delta.NewText) || !utf8.ValidString(delta.DeletedText) {
			t.Fatalf("Window %q produced invalid UTF-8: new %q deleted %q",
				window, delta.NewText, delta.DeletedText)
		}
		if delta.DeletedText != "" {
			if !strings.HasSuffix(transcript, delta.DeletedText) {
				t.Fatalf("Delta retracts %q which is not a suffix of %q",
					delta.DeletedText, transcript)
			}
			transcript = transcript[:len(transcript)-len(delta.DeletedText)]
		}
		transcript += delta.NewText

		if !strings.HasSuffix(transcript, window) {
			t.Fatalf("After window %q transcript is %q", window, transcript)
		}
		prev = next
	}
}

func TestTieBreakPrefersEarliestInNewText(t *testing.T) {
	// "ab" occurs twice in the new text; the earlier occurrence must anchor
	// the split so less text is re-emitted.
	match := longestCommonSubstring([]rune("xxab"), []rune("abyab"))
	if match.length != 2 {
		t.Fatalf("Expected match length 2, got %d", match.length)
	}
	if match.newStart != 0 {
		t.Errorf("Expected earliest start in new text, got %d", match.newStart)
	}
	if match.prevStart != 2 {
		t.Errorf("Expected previous start 2, got %d", match.prevStart)
	}
}

func TestLongestCommonSubstringEmptyInputs(t *testing.T) {
	for _, tc := range []struct{ a, b string }{
		{"", ""},
		{"abc", ""},
		{"", "abc"},
	} {
		match := longestCommonSubstring([]rune(tc.a), []rune(tc.b))
		if match.length != 0 {
			t.Errorf("Expected zero match for %q/%q, got %+v", tc.a, tc.b, match)
		}
	}
}

func TestEndingTokensWithoutBreakingBoundary(t *testing.T) {
	r := New(0.1, charDetok)

	// Every suffix of the token list still renders a suffix of the text, so
	// the whole list is the answer.
	tokens := chars("aaa")
	got := r.endingTokensFor("aaa", tokens)
	if !reflect.DeepEqual(got, tokens) {
		t.Errorf("Expected full token list, got %v", got)
	}
}
