package learn

import (
	"github.com/antzucaro/matchr"
)

// PairFunc picks the corrected word a misrecognized word most likely
// became, from the words only present in the corrected text. ok is false
// when no candidate is similar enough.
type PairFunc func(wrong string, candidates []string) (match string, ok bool)

const (
	// Crude pairing: at least this share of characters in common, with
	// lengths within two of each other.
	minSharedCharRatio = 0.6
	maxLenDelta        = 2

	// Phonetic pairing threshold on Jaro-Winkler similarity.
	minJaroWinkler = 0.8
)

// charOverlapPair is the default pairing: shared-character ratio with a
// length-delta guard. Cheap, language-agnostic, good enough for the
// "wrold"→"world" class of slips.
func charOverlapPair(wrong string, candidates []string) (string, bool) {
	best, bestRatio := "", 0.0
	for _, c := range candidates {
		delta := len(wrong) - len(c)
		if delta < 0 {
			delta = -delta
		}
		if delta > maxLenDelta {
			continue
		}
		r := sharedCharRatio(wrong, c)
		if r >= minSharedCharRatio && r > bestRatio {
			best, bestRatio = c, r
		}
	}
	return best, best != ""
}

// phoneticPair refines pairing with Double Metaphone equality, falling
// back to Jaro-Winkler similarity. Catches sound-alike slips the
// character test misses ("phone"→"foam").
func phoneticPair(wrong string, candidates []string) (string, bool) {
	wp, ws := matchr.DoubleMetaphone(wrong)
	best, bestScore := "", 0.0
	for _, c := range candidates {
		cp, cs := matchr.DoubleMetaphone(c)
		if wp != "" && (wp == cp || wp == cs) || ws != "" && (ws == cp || ws == cs) {
			return c, true
		}
		if jw := matchr.JaroWinkler(wrong, c, false); jw >= minJaroWinkler && jw > bestScore {
			best, bestScore = c, jw
		}
	}
	return best, best != ""
}

// sharedCharRatio counts characters common to both words (multiset
// intersection) over the longer word's length.
func sharedCharRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	counts := map[rune]int{}
	for _, r := range a {
		counts[r]++
	}
	shared := 0
	for _, r := range b {
		if counts[r] > 0 {
			counts[r]--
			shared++
		}
	}
	longer := len([]rune(a))
	if n := len([]rune(b)); n > longer {
		longer = n
	}
	return float64(shared) / float64(longer)
}
