// Package stt defines the speech-to-text backend contract used by the
// transcription arbiter. Backends are opaque request/response services:
// each one receives a buffered audio clip and returns a single normalized
// candidate. Backend-specific response shapes never leak past this
// boundary.
package stt

import (
	"context"
	"errors"
	"strings"
)

// ErrNoSpeech indicates the backend processed the audio but found no
// intelligible speech. It is a valid empty outcome, not a transport
// failure.
var ErrNoSpeech = errors.New("stt: no speech detected")

// Request is a buffered audio clip submitted for recognition. Audio is raw
// 16-bit signed little-endian PCM.
type Request struct {
	Audio      []byte
	SampleRate int
	Channels   int
	// Language is a BCP-47 hint (e.g. "en", "en-US"). Backends may ignore
	// it.
	Language string
}

// Candidate is one backend's answer, normalized at the provider boundary:
// text lowercased and trimmed, confidence clamped to [0,1].
type Candidate struct {
	// Backend is the name of the provider that produced this candidate.
	Backend string
	// Text is the normalized transcription.
	Text string
	// Confidence is the backend's self-reported confidence in [0,1].
	// Backends that report none use a configured default.
	Confidence float64
	// Metadata carries optional backend-specific detail (model name,
	// detected language), for logging only.
	Metadata map[string]string
}

// Provider is a batch speech-to-text backend.
//
// Implementations must be safe for concurrent use: the arbiter fans a
// single clip out to every configured backend at once.
type Provider interface {
	// Name returns the stable identifier used in configuration,
	// candidate attribution, and metrics.
	Name() string

	// Transcribe recognizes speech in the request's audio. It returns
	// ErrNoSpeech (possibly wrapped) when the audio holds no speech, and
	// some other error on transport or format failure. Implementations
	// must honor ctx cancellation.
	Transcribe(ctx context.Context, req Request) (Candidate, error)
}

// Normalize lowercases and trims a backend transcription so every
// candidate compares and diffs consistently downstream.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// ClampConfidence bounds a backend-reported confidence to [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
