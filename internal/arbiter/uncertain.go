package arbiter

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hearkenlabs/hearken/internal/lexicon"
)

// Flag reasons, one per heuristic.
const (
	ReasonShort         = "short"
	ReasonLong          = "long"
	ReasonRepeated      = "repeated"
	ReasonMixedAlnum    = "mixed-alnum"
	ReasonCharRun       = "char-run"
	ReasonRareCluster   = "rare-cluster"
	ReasonLowConfidence = "low-confidence"
)

const (
	shortWordLen       = 2
	longWordLen        = 15
	repeatedOccurrence = 3

	// defaultLowConfidenceCutoff is the overall-confidence level below
	// which every non-stoplisted word is flagged.
	defaultLowConfidenceCutoff = 0.4
)

// shortWordStoplist holds common English words that are never flagged,
// no matter which heuristics they trip.
var shortWordStoplist = map[string]bool{
	"i": true, "a": true, "is": true, "it": true, "to": true,
	"of": true, "in": true, "on": true, "at": true, "be": true,
	"we": true, "he": true, "me": true, "my": true, "up": true,
	"so": true, "no": true, "go": true, "do": true,
}

// rareClusters are letter bigrams essentially absent from English
// orthography. Their presence usually means a recognition slip.
var rareClusters = []string{
	"xz", "qw", "zx", "bx", "fq", "jq", "qx", "vq", "wx", "xj", "zq",
}

// Flag marks one transcript word as worth a human look.
type Flag struct {
	// Word is the normalized form of the flagged word.
	Word string `json:"word"`
	// Index is the word's position in the tokenized transcript.
	Index int `json:"index"`
	// Reasons lists every heuristic the word tripped.
	Reasons []string `json:"reasons"`
}

// Detector scans transcripts for words that look misrecognized.
// Flagging is advisory only; it feeds the word review queue and never
// alters the transcript.
type Detector struct {
	lowConfidenceCutoff float64
}

// DetectorOption configures a [Detector].
type DetectorOption func(*Detector)

// WithLowConfidenceCutoff overrides the overall-confidence level below
// which all non-stoplisted words are flagged.
func WithLowConfidenceCutoff(cutoff float64) DetectorOption {
	return func(d *Detector) {
		d.lowConfidenceCutoff = cutoff
	}
}

// NewDetector creates a Detector with the default cutoff.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{lowConfidenceCutoff: defaultLowConfidenceCutoff}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Scan flags suspicious words in text. overall is the clip's overall
// confidence; below the cutoff it taints every non-stoplisted word.
// Flags come back in transcript order, one per word, with all tripped
// reasons accumulated.
func (d *Detector) Scan(text string, overall float64) []Flag {
	words := lexicon.Tokenize(text)
	if len(words) == 0 {
		return nil
	}

	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[w]++
	}

	lowConfidence := overall < d.lowConfidenceCutoff

	var flags []Flag
	for i, w := range words {
		if shortWordStoplist[w] {
			continue
		}
		var reasons []string
		n := utf8.RuneCountInString(w)
		if n <= shortWordLen {
			reasons = append(reasons, ReasonShort)
		}
		if n > longWordLen {
			reasons = append(reasons, ReasonLong)
		}
		if counts[w] > repeatedOccurrence {
			reasons = append(reasons, ReasonRepeated)
		}
		if mixedAlnum(w) {
			reasons = append(reasons, ReasonMixedAlnum)
		}
		if charRun(w) {
			reasons = append(reasons, ReasonCharRun)
		}
		if cluster := containsRareCluster(w); cluster {
			reasons = append(reasons, ReasonRareCluster)
		}
		if lowConfidence {
			reasons = append(reasons, ReasonLowConfidence)
		}
		if len(reasons) > 0 {
			flags = append(flags, Flag{Word: w, Index: i, Reasons: reasons})
		}
	}
	return flags
}

// mixedAlnum reports whether w mixes digits and letters, like "he11o".
func mixedAlnum(w string) bool {
	hasDigit, hasLetter := false, false
	for _, r := range w {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsLetter(r):
			hasLetter = true
		}
	}
	return hasDigit && hasLetter
}

// charRun reports whether w is a single character repeated, like "aaa".
func charRun(w string) bool {
	if utf8.RuneCountInString(w) <= shortWordLen {
		return false
	}
	var first rune
	for i, r := range w {
		if i == 0 {
			first = r
			continue
		}
		if r != first {
			return false
		}
	}
	return true
}

func containsRareCluster(w string) bool {
	for _, c := range rareClusters {
		if strings.Contains(w, c) {
			return true
		}
	}
	return false
}
