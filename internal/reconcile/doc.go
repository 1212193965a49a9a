// Package reconcile computes incremental deltas between successive decodings
// of overlapping audio windows. It implements the longest-matching-substring
// deduplication with a divergence threshold, so clients receive only the
// appended tail plus the retraction needed to keep their transcript correct.
package reconcile
