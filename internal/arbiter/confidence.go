package arbiter

import (
	"strings"
)

// Vocabulary is the lexicon seam the estimator uses for its
// vocabulary-hit signal. A nil Vocabulary degrades the signal to 0.
type Vocabulary interface {
	KnownRatio(words []string) float64
}

// QualityFunc scores the acoustic quality of a clip's transcription
// context in [0,1]. The default returns a fixed placeholder until a real
// acoustic estimator replaces it.
type QualityFunc func(text string) float64

// Estimator signal weights. The vocabulary-hit signal dominates.
const (
	lengthWeight     = 0.2
	vocabularyWeight = 0.4
	qualityWeight    = 0.2
	grammarWeight    = 0.2

	fillerPenalty      = 0.2
	placeholderQuality = 0.7

	// fullLengthWords is the word count at which the length signal
	// saturates.
	fullLengthWords = 10
)

// fillerTokens are the disfluency markers that weaken the grammar signal.
var fillerTokens = map[string]bool{
	"uh":        true,
	"um":        true,
	"...":       true,
	"inaudible": true,
}

// Estimator scores transcription text with a weighted blend of heuristic
// signals. It is not a probability; its contract is boundedness in [0,1]
// and monotonic sensitivity to its inputs.
type Estimator struct {
	vocab   Vocabulary
	quality QualityFunc
}

// EstimatorOption configures an [Estimator].
type EstimatorOption func(*Estimator)

// WithVocabulary sets the lexicon used for the vocabulary-hit signal.
func WithVocabulary(v Vocabulary) EstimatorOption {
	return func(e *Estimator) {
		e.vocab = v
	}
}

// WithQualityFunc replaces the placeholder audio-quality signal.
func WithQualityFunc(f QualityFunc) EstimatorOption {
	return func(e *Estimator) {
		if f != nil {
			e.quality = f
		}
	}
}

// NewEstimator creates an Estimator. Without options it scores with a
// zero vocabulary signal and the placeholder quality signal.
func NewEstimator(opts ...EstimatorOption) *Estimator {
	e := &Estimator{
		quality: func(string) float64 { return placeholderQuality },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate scores text in [0,1]. Empty text scores 0.
func (e *Estimator) Estimate(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}

	lengthSignal := float64(len(words)) / fullLengthWords
	if lengthSignal > 1 {
		lengthSignal = 1
	}

	vocabSignal := 0.0
	if e.vocab != nil {
		vocabSignal = clamp01(e.vocab.KnownRatio(words))
	}

	qualitySignal := clamp01(e.quality(text))

	grammarSignal := 1.0 - fillerPenalty*float64(countFillers(words))
	if grammarSignal < 0 {
		grammarSignal = 0
	}

	score := lengthWeight*lengthSignal +
		vocabularyWeight*vocabSignal +
		qualityWeight*qualitySignal +
		grammarWeight*grammarSignal
	return clamp01(score)
}

// countFillers counts tokens matching the filler set. Word fillers are
// compared with surrounding punctuation trimmed; "..." matches as-is.
func countFillers(words []string) int {
	n := 0
	for _, w := range words {
		lw := strings.ToLower(w)
		if fillerTokens[lw] {
			n++
			continue
		}
		if fillerTokens[strings.Trim(lw, ".,!?;:\"'()[]")] {
			n++
		}
	}
	return n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
