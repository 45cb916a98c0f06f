// Package mock provides a scripted stt.Provider for tests and local
// development. It returns a fixed candidate or error and counts calls, so
// tests can assert that short-circuit paths never reach a backend.
package mock

import (
	"context"
	"sync/atomic"

	"github.com/hearkenlabs/hearken/pkg/provider/stt"
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider is a scripted speech-to-text backend.
type Provider struct {
	name       string
	text       string
	confidence float64
	err        error
	calls      atomic.Int64
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithResult sets the candidate text and confidence returned by every call.
func WithResult(text string, confidence float64) Option {
	return func(p *Provider) {
		p.text = text
		p.confidence = confidence
	}
}

// WithError makes every Transcribe call fail with err.
func WithError(err error) Option {
	return func(p *Provider) { p.err = err }
}

// New creates a mock provider with the given name.
func New(name string, opts ...Option) *Provider {
	p := &Provider{name: name, text: "mock transcription", confidence: 0.9}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return p.name }

// Transcribe implements stt.Provider. It records the call and returns the
// scripted result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Candidate, error) {
	p.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return stt.Candidate{}, err
	}
	if p.err != nil {
		return stt.Candidate{}, p.err
	}
	return stt.Candidate{
		Backend:    p.name,
		Text:       stt.Normalize(p.text),
		Confidence: stt.ClampConfidence(p.confidence),
	}, nil
}

// Calls returns how many times Transcribe has been invoked.
func (p *Provider) Calls() int64 { return p.calls.Load() }
