package lexicon

import (
	"context"
	"fmt"
	"strings"

	"github.com/hearkenlabs/hearken/pkg/provider/emotion"
)

// Compile-time assertions that Lexicon satisfies the emotion contracts.
var (
	_ emotion.Lookup     = (*Lexicon)(nil)
	_ emotion.Aggregator = (*Lexicon)(nil)
)

// Lexicon resolves word emotion profiles from a [ShardStore] and, when a
// profiler is configured, learns profiles for words it has never seen.
type Lexicon struct {
	store    *ShardStore
	profiler emotion.Profiler
}

// Option configures a [Lexicon].
type Option func(*Lexicon)

// WithProfiler sets the word-labelling profiler used by [Lexicon.Learn].
// Without one, Learn is a no-op and unknown words stay unknown.
func WithProfiler(p emotion.Profiler) Option {
	return func(l *Lexicon) {
		l.profiler = p
	}
}

// New creates a Lexicon over store.
func New(store *ShardStore, opts ...Option) *Lexicon {
	l := &Lexicon{store: store}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Known reports whether word has a stored profile.
func (l *Lexicon) Known(word string) bool {
	w := NormalizeWord(word)
	if w == "" {
		return false
	}
	return l.store.Has(w)
}

// KnownRatio returns the fraction of words with stored profiles, or 0 for
// an empty slice. It feeds the estimator's vocabulary signal.
func (l *Lexicon) KnownRatio(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	known := 0
	for _, w := range words {
		if l.Known(w) {
			known++
		}
	}
	return float64(known) / float64(len(words))
}

// Lookup implements emotion.Lookup.
func (l *Lexicon) Lookup(word string) (emotion.Profile, bool) {
	w := NormalizeWord(word)
	if w == "" {
		return nil, false
	}
	return l.store.Get(w)
}

// AggregatePhrase implements emotion.Aggregator: the mean weight per
// emotion label across the phrase's known words.
func (l *Lexicon) AggregatePhrase(text string) emotion.Summary {
	words := Tokenize(text)
	summary := emotion.Summary{
		Emotions:   make(map[string]float64),
		WordsTotal: len(words),
	}

	for _, w := range words {
		profile, ok := l.store.Get(w)
		if !ok {
			continue
		}
		summary.WordsKnown++
		for label, weight := range profile {
			summary.Emotions[label] += weight
		}
	}

	if summary.WordsKnown > 0 {
		for label := range summary.Emotions {
			summary.Emotions[label] /= float64(summary.WordsKnown)
		}
	}
	return summary
}

// Learn asks the profiler for word's emotion profile and stores it.
// Already-known words and blank words return nil without a profiler call.
func (l *Lexicon) Learn(ctx context.Context, word string) error {
	w := NormalizeWord(word)
	if w == "" {
		return nil
	}
	if l.store.Has(w) {
		return nil
	}
	if l.profiler == nil {
		return nil
	}

	profile, err := l.profiler.Profile(ctx, w)
	if err != nil {
		return fmt.Errorf("lexicon: profile %q: %w", w, err)
	}
	if err := l.store.Put(w, profile); err != nil {
		return fmt.Errorf("lexicon: store %q: %w", w, err)
	}
	return nil
}

// Count returns the number of stored words.
func (l *Lexicon) Count() (int, error) {
	return l.store.Count()
}

// NormalizeWord lowercases a word and trims surrounding punctuation.
// Inner characters (hyphens, apostrophes, digits) are kept.
func NormalizeWord(word string) string {
	w := strings.ToLower(strings.TrimSpace(word))
	return strings.Trim(w, ".,!?;:\"'()[]{}")
}

// Tokenize splits text into normalized words, dropping empties.
func Tokenize(text string) []string {
	fields := strings.Fields(text)
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if w := NormalizeWord(f); w != "" {
			words = append(words, w)
		}
	}
	return words
}
