// Package emotion defines the narrow contract to the lexical
// emotion-aggregation pipeline: per-word profile lookup, phrase-level
// aggregation, and LLM-backed profiling of words the lexicon has never
// seen. The emotion taxonomy itself is opaque to this system; profiles
// are carried and aggregated, never interpreted.
package emotion

import "context"

// Profile maps emotion labels to weights for a single word. The label set
// is owned by the lexical pipeline.
type Profile map[string]float64

// Summary is the aggregated emotion estimate for a phrase.
type Summary struct {
	// Emotions holds the mean weight per label across known words.
	Emotions map[string]float64
	// WordsTotal and WordsKnown report lexicon coverage of the phrase.
	WordsTotal int
	WordsKnown int
}

// Lookup resolves a single word's emotion profile.
type Lookup interface {
	Lookup(word string) (Profile, bool)
}

// Aggregator produces a phrase-level emotion summary.
type Aggregator interface {
	AggregatePhrase(text string) Summary
}

// Profiler asks an external word-labelling service for the emotion
// profile of an unknown word.
type Profiler interface {
	Profile(ctx context.Context, word string) (Profile, error)
}
