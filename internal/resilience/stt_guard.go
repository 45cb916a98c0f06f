package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/hearkenlabs/hearken/pkg/provider/stt"
)

// STTGuard wraps a speech backend with a [CircuitBreaker]. While the
// breaker is open, Transcribe fails immediately with [ErrCircuitOpen]
// instead of burning the arbitration window on a backend that keeps
// erroring.
//
// ErrNoSpeech and context cancellation never count as failures: the
// first is a valid empty outcome and the second is the caller's doing.
type STTGuard struct {
	inner stt.Provider
	cb    *CircuitBreaker
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTGuard)(nil)

// NewSTTGuard wraps provider with a breaker configured by cfg. An empty
// cfg.Name defaults to the provider's own name.
func NewSTTGuard(provider stt.Provider, cfg CircuitBreakerConfig) *STTGuard {
	if cfg.Name == "" {
		cfg.Name = provider.Name()
	}
	return &STTGuard{
		inner: provider,
		cb:    NewCircuitBreaker(cfg),
	}
}

// Name returns the wrapped provider's name, so candidate attribution and
// configuration-order tie-breaking are unaffected by the guard.
func (g *STTGuard) Name() string {
	return g.inner.Name()
}

// Transcribe forwards to the wrapped backend through the breaker.
func (g *STTGuard) Transcribe(ctx context.Context, req stt.Request) (stt.Candidate, error) {
	var (
		cand stt.Candidate
		terr error
	)
	ran := false
	err := g.cb.Execute(func() error {
		ran = true
		cand, terr = g.inner.Transcribe(ctx, req)
		if terr != nil && !tolerated(terr) {
			return terr
		}
		return nil
	})
	if !ran {
		return stt.Candidate{}, fmt.Errorf("%s: %w", g.inner.Name(), err)
	}
	return cand, terr
}

// State reports the breaker's current state.
func (g *STTGuard) State() State {
	return g.cb.State()
}

// tolerated reports whether err is an outcome the breaker should not
// count against the backend.
func tolerated(err error) bool {
	return errors.Is(err, stt.ErrNoSpeech) || errors.Is(err, context.Canceled)
}
