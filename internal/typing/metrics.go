// Package typing holds the shared definitions of the race metrics: progress
// as the correctly-typed contiguous prefix of the phrase, and the standard
// five-characters-per-word WPM calculation.
package typing

import (
	"math"
	"time"
)

// PrefixLength returns the length of the longest prefix of phrase that typed
// reproduces exactly. Counting stops at the first mismatch; characters typed
// correctly after an error earn no credit.
func PrefixLength(phrase, typed string) int {
	pr := []rune(phrase)
	tr := []rune(typed)
	n := 0
	for n < len(pr) && n < len(tr) && pr[n] == tr[n] {
		n++
	}
	return n
}

// PrefixProgress converts the matched prefix into the 0-100 race metric,
// flooring so progress only reads 100 on a full match.
func PrefixProgress(phrase, typed string) int {
	pr := []rune(phrase)
	if len(pr) == 0 {
		return 0
	}
	return PrefixLength(phrase, typed) * 100 / len(pr)
}

// PhraseLength returns the phrase length in runes, the unit cursor positions
// and prefix counts are measured in.
func PhraseLength(phrase string) int {
	return len([]rune(phrase))
}

// WPM computes words-per-minute for a completed phrase using the standard
// five-characters-per-word convention.
func WPM(phrase string, elapsed time.Duration) int {
	if elapsed <= 0 {
		return 0
	}
	minutes := elapsed.Minutes()
	words := float64(PhraseLength(phrase)) / 5.0
	return int(math.Round(words / minutes))
}
