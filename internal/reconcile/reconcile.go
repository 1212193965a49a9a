package reconcile

import "strings"

// Delta represents the incremental result of one processing step: tokens and
// text appended to the transcript, plus the trailing tokens and text that
// must be retracted because a later decoding superseded them.
type Delta struct {
	NewTokens     []string `json:"new_tokens"`
	NewText       string   `json:"new_string"`
	DeletedTokens []string `json:"deleted_tokens"`
	DeletedText   string   `json:"deleted_string"`
}

// IsEmpty reports whether the delta carries no change at all.
func (d Delta) IsEmpty() bool {
	return len(d.NewTokens) == 0 && d.NewText == "" &&
		len(d.DeletedTokens) == 0 && d.DeletedText == ""
}

// Detokenizer renders a token sequence into the string a client would see.
// It is supplied by the recognition capability, which owns the tokenization.
type Detokenizer func(tokens []string) string

// Reconciler turns two successive full decodings of overlapping audio
// windows into a minimal (new, deleted) delta, using the longest matching
// substring between the previous and current output.
type Reconciler struct {
	// MatchingThreshold is the minimum fraction of the new text that the
	// longest common substring must cover for the two windows to be
	// considered aligned. Below it, the whole new output is emitted as-is
	// and nothing is retracted.
	MatchingThreshold float64

	// Detok renders token sequences to strings.
	Detok Detokenizer
}

// New creates a reconciler with the given matching threshold and detokenizer.
func New(matchingThreshold float64, detok Detokenizer) *Reconciler {
	return &Reconciler{MatchingThreshold: matchingThreshold, Detok: detok}
}

// Apply computes the delta between the previously accepted token sequence
// and the current window's full decoding. It is total: every input, including
// empty histories and zero overlap, yields a defined result.
func (r *Reconciler) Apply(prevTokens, newTokens []string) Delta {
	if newTokens == nil {
		newTokens = []string{}
	}
	newText := r.Detok(newTokens)
	if len(prevTokens) == 0 {
		return Delta{
			NewTokens:     newTokens,
			NewText:       newText,
			DeletedTokens: []string{},
			DeletedText:   "",
		}
	}

	// Alignment works in characters, not bytes; a match boundary must
	// never split a rune.
	prevRunes := []rune(r.Detok(prevTokens))
	newRunes := []rune(newText)
	match := longestCommonSubstring(prevRunes, newRunes)
	if float64(match.length) < r.MatchingThreshold*float64(len(newRunes)) {
		// The windows diverged too much to align; replacing everything is
		// safer than retracting based on a coincidental short match.
		return Delta{
			NewTokens:     newTokens,
			NewText:       newText,
			DeletedTokens: []string{},
			DeletedText:   "",
		}
	}

	appended := string(newRunes[match.newStart+match.length:])
	retracted := string(prevRunes[match.prevStart+match.length:])

	delta := Delta{
		NewText:       appended,
		DeletedText:   retracted,
		NewTokens:     []string{},
		DeletedTokens: []string{},
	}
	if appended != "" {
		delta.NewTokens = r.endingTokensFor(appended, newTokens)
	}
	if retracted != "" {
		delta.DeletedTokens = r.endingTokensFor(retracted, prevTokens)
	}
	return delta
}

// endingTokensFor derives the trailing token suffix whose rendering still
// ends with text. It grows the suffix one token at a time and stops one step
// before the rendering no longer matches; with no breaking boundary the full
// token list is the suffix. When even the single last token fails to match,
// the full list is returned as well, matching the incremental semantics the
// rest of the pipeline is built around.
func (r *Reconciler) endingTokensFor(text string, tokens []string) []string {
	for i := 1; i < len(tokens); i++ {
		suffix := tokens[len(tokens)-i:]
		if !strings.HasSuffix(text, r.Detok(suffix)) {
			if i == 1 {
				return tokens
			}
			return tokens[len(tokens)-i+1:]
		}
	}
	return tokens
}

// substringMatch locates a common substring: start offsets in both rune
// sequences and its length in runes.
type substringMatch struct {
	prevStart int
	newStart  int
	length    int
}

// longestCommonSubstring finds the longest contiguous run of characters
// shared by prev and next. Ties are broken by the earliest start in next,
// then the earliest start in prev.
func longestCommonSubstring(prev, next []rune) substringMatch {
	if len(prev) == 0 || len(next) == 0 {
		return substringMatch{}
	}

	// lengths[j] holds the length of the common suffix of prev[:i] and
	// next[:j] for the row currently being computed.
	lengths := make([]int, len(next)+1)
	best := substringMatch{}
	for i := 1; i <= len(prev); i++ {
		// Iterate right to left so one row can be updated in place.
		for j := len(next); j >= 1; j-- {
			if prev[i-1] != next[j-1] {
				lengths[j] = 0
				continue
			}
			lengths[j] = lengths[j-1] + 1
			candidate := substringMatch{
				prevStart: i - lengths[j],
				newStart:  j - lengths[j],
				length:    lengths[j],
			}
			if better(candidate, best) {
				best = candidate
			}
		}
	}
	return best
}

func better(a, b substringMatch) bool {
	if a.length != b.length {
		return a.length > b.length
	}
	if a.newStart != b.newStart {
		return a.newStart < b.newStart
	}
	return a.prevStart < b.prevStart
}
