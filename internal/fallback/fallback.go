// Package fallback implements the locally trained recognizer that backs
// up the remote speech backends. It learns from corrected review items:
// every correction becomes a training sample (fingerprint, corrected
// text, feature vector), and a trained model answers by exact hash
// recall, acoustic-feature similarity, or an optional offline recognizer.
package fallback

import (
	"errors"

	"github.com/hearkenlabs/hearken/pkg/audio"
)

var (
	// ErrInsufficientData indicates training was requested before the
	// minimum number of samples accumulated.
	ErrInsufficientData = errors.New("fallback: insufficient training data")

	// ErrDuplicateSample indicates a sample with the same fingerprint is
	// already stored.
	ErrDuplicateSample = errors.New("fallback: duplicate sample fingerprint")
)

// Recognition methods, from strongest to weakest.
const (
	MethodHash     = "hash"
	MethodFeatures = "features"
	MethodOffline  = "offline"
)

// Prediction is the fallback model's answer for one clip. A zero
// Prediction means the model has nothing to offer.
type Prediction struct {
	// Text is the predicted transcription, empty when unrecognized.
	Text string `json:"text"`
	// Confidence is the model's score in [0,1].
	Confidence float64 `json:"confidence"`
	// Method names how the prediction was made: "hash", "features", or
	// "offline".
	Method string `json:"method,omitempty"`
}

// Sample is one training example harvested from a corrected review item.
// Audio holds the clip's WAV bytes; the feature vector is extracted at
// training time, not here.
type Sample struct {
	Fingerprint audio.Fingerprint `json:"fingerprint"`
	// Text is the human-corrected transcription the model should learn.
	Text string `json:"text"`
	// Original is the wrong transcription that triggered the review.
	Original string `json:"original,omitempty"`
	// Confidence is the arbiter's score at review time.
	Confidence float64 `json:"confidence"`
	// Audio is the clip artifact (WAV container). Not serialized into the
	// sample index; it is written alongside as a .wav file.
	Audio []byte `json:"-"`
}
