package review

import (
	"strings"
	"time"

	"github.com/hearkenlabs/hearken/internal/lexicon"
	"github.com/hearkenlabs/hearken/pkg/audio"
)

// Kind distinguishes whole-clip items from single-word items.
type Kind string

const (
	KindClip Kind = "clip"
	KindWord Kind = "word"
)

// Status is a review item's lifecycle state. Items in the active
// namespace are always PendingReview; Corrected and Skipped live in the
// archive.
type Status string

const (
	StatusPending   Status = "pending_review"
	StatusCorrected Status = "corrected"
	StatusSkipped   Status = "skipped"
)

// Item is one queued review unit: a low-confidence clip or a single
// flagged word, together with the audio reference a reviewer replays.
type Item struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	Text        string            `json:"text"`
	Confidence  float64           `json:"confidence"`
	Source      string            `json:"source,omitempty"`
	Fingerprint audio.Fingerprint `json:"fingerprint"`
	CreatedAt   time.Time         `json:"created_at"`
	Status      Status            `json:"status"`

	// Word-variant fields.
	Word               string   `json:"word,omitempty"`
	WordIndex          int      `json:"word_index,omitempty"`
	TotalWords         int      `json:"total_words,omitempty"`
	Surrounding        string   `json:"surrounding_context,omitempty"`
	UncertaintyReasons []string `json:"uncertainty_reasons,omitempty"`

	// Outcome fields, set by Transition.
	CorrectedText string    `json:"corrected_text,omitempty"`
	Reviewer      string    `json:"reviewer,omitempty"`
	ResolvedAt    time.Time `json:"resolved_at,omitzero"`
}

// Context returns up to window words on each side of the flagged word,
// with the word itself bracketed for reviewer display. Pure function over
// the stored transcript; empty when the index is out of range.
func (it Item) Context(window int) string {
	words := lexicon.Tokenize(it.Text)
	if it.WordIndex < 0 || it.WordIndex >= len(words) {
		return ""
	}
	if window < 0 {
		window = 0
	}
	lo := it.WordIndex - window
	if lo < 0 {
		lo = 0
	}
	hi := it.WordIndex + window + 1
	if hi > len(words) {
		hi = len(words)
	}
	parts := make([]string, 0, hi-lo)
	for i := lo; i < hi; i++ {
		w := words[i]
		if i == it.WordIndex {
			w = "[" + w + "]"
		}
		parts = append(parts, w)
	}
	return strings.Join(parts, " ")
}
