package arbiter_test

import (
	"math"
	"testing"

	"github.com/hearkenlabs/hearken/internal/arbiter"
)

// vocabFunc adapts a function to the arbiter.Vocabulary interface.
type vocabFunc func(words []string) float64

func (f vocabFunc) KnownRatio(words []string) float64 { return f(words) }

func TestEstimateEmptyText(t *testing.T) {
	t.Parallel()

	e := arbiter.NewEstimator()
	for _, text := range []string{"", "   ", "\t\n"} {
		if got := e.Estimate(text); got != 0 {
			t.Errorf("Estimate(%q) = %v, want 0", text, got)
		}
	}
}

func TestEstimateSignalBlend(t *testing.T) {
	t.Parallel()

	fullVocab := vocabFunc(func([]string) float64 { return 1 })

	tests := []struct {
		name string
		text string
		opts []arbiter.EstimatorOption
		want float64
	}{
		{
			// length 0.2, vocab 0, quality 0.7, grammar 1.0
			name: "two plain words",
			text: "hello world",
			want: 0.2*0.2 + 0.2*0.7 + 0.2*1.0,
		},
		{
			// eleven words saturate the length signal at 1.0
			name: "length saturates at ten words",
			text: "one two three four five six seven eight nine ten eleven",
			want: 0.2*1.0 + 0.2*0.7 + 0.2*1.0,
		},
		{
			name: "filler token weakens grammar",
			text: "um hello world",
			want: 0.2*0.3 + 0.2*0.7 + 0.2*0.8,
		},
		{
			name: "ellipsis counts as filler",
			text: "hello ... world",
			want: 0.2*0.3 + 0.2*0.7 + 0.2*0.8,
		},
		{
			name: "punctuation-wrapped filler counts",
			text: "so, um, what?",
			want: 0.2*0.3 + 0.2*0.7 + 0.2*0.8,
		},
		{
			// six fillers push the grammar signal past zero; it floors
			name: "grammar floors at zero",
			text: "uh um ... inaudible uh um",
			want: 0.2*0.6 + 0.2*0.7,
		},
		{
			name: "full vocabulary lifts score",
			text: "hello world",
			opts: []arbiter.EstimatorOption{arbiter.WithVocabulary(fullVocab)},
			want: 0.2*0.2 + 0.4*1.0 + 0.2*0.7 + 0.2*1.0,
		},
		{
			name: "quality seam replaces placeholder",
			text: "hello world",
			opts: []arbiter.EstimatorOption{
				arbiter.WithQualityFunc(func(string) float64 { return 1 }),
			},
			want: 0.2*0.2 + 0.2*1.0 + 0.2*1.0,
		},
		{
			name: "out-of-range quality clamped",
			text: "hello world",
			opts: []arbiter.EstimatorOption{
				arbiter.WithQualityFunc(func(string) float64 { return 5 }),
			},
			want: 0.2*0.2 + 0.2*1.0 + 0.2*1.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := arbiter.NewEstimator(tt.opts...)
			got := e.Estimate(tt.text)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Estimate(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestEstimateStaysInBounds(t *testing.T) {
	t.Parallel()

	e := arbiter.NewEstimator(
		arbiter.WithVocabulary(vocabFunc(func([]string) float64 { return 1 })),
		arbiter.WithQualityFunc(func(string) float64 { return 1 }),
	)
	got := e.Estimate("one two three four five six seven eight nine ten")
	if math.Abs(got-1.0) > 1e-6 {
		t.Errorf("Estimate(best case) = %v, want 1.0", got)
	}
	if got > 1 {
		t.Errorf("Estimate exceeded 1: %v", got)
	}
}

func TestEstimateNilVocabularyDegrades(t *testing.T) {
	t.Parallel()

	// Without a vocabulary the signal is 0, never a panic.
	e := arbiter.NewEstimator()
	withVocab := arbiter.NewEstimator(
		arbiter.WithVocabulary(vocabFunc(func([]string) float64 { return 1 })),
	)
	bare := e.Estimate("hello world")
	full := withVocab.Estimate("hello world")
	if diff := full - bare; math.Abs(diff-0.4) > 1e-6 {
		t.Errorf("vocabulary signal contribution = %v, want 0.4", diff)
	}
}
