// Package arbiter decides what a clip says. It fingerprints incoming
// audio, consults the vocabulary override, fans the clip out to every
// configured speech backend concurrently, blends backend confidence with
// a heuristic text estimate, and escalates to the locally trained
// fallback model when the backends disappoint. Alongside the clip
// decision it flags individual words that look misrecognized so they can
// be reviewed separately.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hearkenlabs/hearken/internal/fallback"
	"github.com/hearkenlabs/hearken/internal/observe"
	"github.com/hearkenlabs/hearken/pkg/audio"
	"github.com/hearkenlabs/hearken/pkg/provider/detect"
	"github.com/hearkenlabs/hearken/pkg/provider/stt"
)

var (
	// ErrAllBackendsFailed indicates every backend returned a transport or
	// format error and the fallback model had nothing to offer.
	ErrAllBackendsFailed = errors.New("arbiter: all backends failed")
)

// Result sources that are not backend names.
const (
	SourceOverride = "override"
	SourceFallback = "fallback"
)

// backendWeight and estimateWeight blend a winning candidate's backend
// confidence with the heuristic text estimate into the final score.
const (
	backendWeight  = 0.6
	estimateWeight = 0.4
)

const (
	defaultReviewThreshold     = 0.7
	defaultEscalationThreshold = 0.6
	defaultSampleRate          = 16000
	defaultChannels            = 1
)

// Override is the fingerprint-to-text exact-match cache consulted before
// any backend call.
type Override interface {
	Lookup(fp audio.Fingerprint) (string, bool)
}

// Fallback is the locally trained recognizer consulted when every backend
// fails or the blended confidence drops below the escalation threshold.
type Fallback interface {
	Recognize(ctx context.Context, pcm []byte) (fallback.Prediction, error)
}

// Result is the arbiter's final answer for one clip.
type Result struct {
	// Text is the winning transcription, normalized lowercase. Empty on
	// total failure.
	Text string `json:"text"`
	// Confidence is the final blended score in [0,1].
	Confidence float64 `json:"confidence"`
	// Source names what produced Text: a backend name, "override", or
	// "fallback".
	Source string `json:"source"`
	// NeedsReview is set when Confidence fell below the review threshold.
	NeedsReview bool `json:"needs_review"`
	// Fingerprint is the content digest of the clip's raw audio.
	Fingerprint audio.Fingerprint `json:"fingerprint"`
	// Hints carries acoustic-event hints (laughter, music) when detectors
	// are configured.
	Hints []detect.Hint `json:"hints,omitempty"`
}

// Arbiter turns one audio clip into one transcription decision. Safe for
// concurrent use; thresholds may be swapped at runtime via SetThresholds.
type Arbiter struct {
	backends  []stt.Provider
	override  Override
	fall      Fallback
	estimator *Estimator
	detectors []detect.Detector
	metrics   *observe.Metrics

	sampleRate int
	channels   int
	language   string

	backendTimeout time.Duration

	mu                  sync.RWMutex
	reviewThreshold     float64
	escalationThreshold float64
}

// Option configures an [Arbiter].
type Option func(*Arbiter)

// WithOverride installs the vocabulary override cache.
func WithOverride(o Override) Option {
	return func(a *Arbiter) {
		a.override = o
	}
}

// WithFallback installs the local fallback recognizer.
func WithFallback(f Fallback) Option {
	return func(a *Arbiter) {
		a.fall = f
	}
}

// WithEstimator replaces the default confidence estimator.
func WithEstimator(e *Estimator) Option {
	return func(a *Arbiter) {
		if e != nil {
			a.estimator = e
		}
	}
}

// WithDetectors installs acoustic-event detectors whose hints attach to
// results.
func WithDetectors(ds ...detect.Detector) Option {
	return func(a *Arbiter) {
		a.detectors = append(a.detectors, ds...)
	}
}

// WithThresholds sets the review and escalation thresholds. The
// escalation threshold is expected to be the stricter of the two.
func WithThresholds(review, escalation float64) Option {
	return func(a *Arbiter) {
		a.reviewThreshold = review
		a.escalationThreshold = escalation
	}
}

// WithBackendTimeout bounds each individual backend call. Zero leaves
// only the caller's deadline in effect.
func WithBackendTimeout(d time.Duration) Option {
	return func(a *Arbiter) {
		a.backendTimeout = d
	}
}

// WithAudioFormat declares the PCM format of submitted clips.
func WithAudioFormat(sampleRate, channels int) Option {
	return func(a *Arbiter) {
		a.sampleRate = sampleRate
		a.channels = channels
	}
}

// WithLanguage sets the language hint passed to every backend.
func WithLanguage(lang string) Option {
	return func(a *Arbiter) {
		a.language = lang
	}
}

// WithMetrics replaces the default metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Arbiter) {
		if m != nil {
			a.metrics = m
		}
	}
}

// New creates an Arbiter over the given backends. Backend order is the
// tie-break priority: earlier wins on equal confidence.
func New(backends []stt.Provider, opts ...Option) *Arbiter {
	a := &Arbiter{
		backends:            backends,
		estimator:           NewEstimator(),
		metrics:             observe.DefaultMetrics(),
		sampleRate:          defaultSampleRate,
		channels:            defaultChannels,
		reviewThreshold:     defaultReviewThreshold,
		escalationThreshold: defaultEscalationThreshold,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetThresholds swaps the review and escalation thresholds at runtime.
// Used by watch mode when the config file changes under it.
func (a *Arbiter) SetThresholds(review, escalation float64) error {
	if review < 0 || review > 1 || escalation < 0 || escalation > 1 {
		return fmt.Errorf("arbiter: thresholds must be in [0,1], got review=%v escalation=%v", review, escalation)
	}
	if escalation > review {
		return fmt.Errorf("arbiter: escalation threshold %v exceeds review threshold %v", escalation, review)
	}
	a.mu.Lock()
	a.reviewThreshold = review
	a.escalationThreshold = escalation
	a.mu.Unlock()
	return nil
}

// Thresholds returns the current review and escalation thresholds.
func (a *Arbiter) Thresholds() (review, escalation float64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.reviewThreshold, a.escalationThreshold
}

// Transcribe arbitrates one clip of raw PCM audio.
//
// An override hit answers immediately with confidence 1.0 and no backend
// call. Otherwise all backends run concurrently; the best candidate by
// backend confidence wins, ties broken by configuration order, and its
// final score blends backend confidence with the text estimate. Below
// the escalation threshold, or when no backend produced anything, the
// fallback model gets a chance and its prediction is preferred when it
// is non-empty and more confident.
//
// When every backend fails and the fallback is silent, the result is
// empty with confidence 0 and the error reports stt.ErrNoSpeech if every
// backend heard silence, ErrAllBackendsFailed otherwise.
func (a *Arbiter) Transcribe(ctx context.Context, pcm []byte) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "arbiter.transcribe")
	defer span.End()
	start := time.Now()
	log := observe.Logger(ctx)

	fp := audio.Hash(pcm)

	if a.override != nil {
		if text, ok := a.override.Lookup(fp); ok {
			a.metrics.RecordOverrideHit(ctx)
			a.metrics.RecordTranscribe(ctx, time.Since(start).Seconds(), SourceOverride)
			log.Debug("vocabulary override hit", "fingerprint", fp.String())
			return Result{
				Text:        text,
				Confidence:  1,
				Source:      SourceOverride,
				Fingerprint: fp,
			}, nil
		}
	}

	candidates, backendErrs, hints := a.fanOut(ctx, pcm)

	res := Result{Fingerprint: fp, Hints: hints}
	var final float64
	if best := pickBest(candidates); best != nil {
		final = backendWeight*best.Confidence + estimateWeight*a.estimator.Estimate(best.Text)
		res.Text = best.Text
		res.Source = best.Backend
		log.Debug("backend candidate selected",
			"backend", best.Backend,
			"backend_confidence", best.Confidence,
			"final_confidence", final,
		)
	}

	review, escalation := a.Thresholds()

	if a.fall != nil && (res.Source == "" || final < escalation) {
		pred, err := a.fall.Recognize(ctx, pcm)
		switch {
		case err != nil:
			log.Warn("fallback model failed", "error", err)
		case pred.Text != "" && pred.Confidence > final:
			final = pred.Confidence
			res.Text = pred.Text
			res.Source = SourceFallback
			a.metrics.RecordFallbackHit(ctx, pred.Method)
			log.Debug("fallback prediction preferred",
				"method", pred.Method,
				"confidence", pred.Confidence,
			)
		}
	}

	if res.Source == "" {
		a.metrics.RecordTranscribe(ctx, time.Since(start).Seconds(), "failure")
		return res, totalFailure(backendErrs)
	}

	res.Confidence = clamp01(final)
	res.NeedsReview = res.Confidence < review
	a.metrics.RecordTranscribe(ctx, time.Since(start).Seconds(), res.Source)
	return res, nil
}

// fanOut runs every backend and detector concurrently and collects the
// survivors. Backend failures are recorded, never propagated; detector
// failures only cost their hints.
func (a *Arbiter) fanOut(ctx context.Context, pcm []byte) ([]stt.Candidate, []error, []detect.Hint) {
	log := observe.Logger(ctx)

	slots := make([]*stt.Candidate, len(a.backends))
	errs := make([]error, len(a.backends))
	segs := make([][]detect.Segment, len(a.detectors))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, b := range a.backends {
		eg.Go(func() error {
			bctx := egCtx
			if a.backendTimeout > 0 {
				var cancel context.CancelFunc
				bctx, cancel = context.WithTimeout(egCtx, a.backendTimeout)
				defer cancel()
			}
			cand, err := b.Transcribe(bctx, stt.Request{
				Audio:      pcm,
				SampleRate: a.sampleRate,
				Channels:   a.channels,
				Language:   a.language,
			})
			if err != nil {
				errs[i] = fmt.Errorf("backend %s: %w", b.Name(), err)
				status := "error"
				if errors.Is(err, stt.ErrNoSpeech) {
					status = "no-speech"
				} else {
					a.metrics.RecordBackendError(egCtx, b.Name())
				}
				a.metrics.RecordBackendRequest(egCtx, b.Name(), status)
				log.Warn("backend failed", "backend", b.Name(), "error", err)
				return nil
			}
			a.metrics.RecordBackendRequest(egCtx, b.Name(), "ok")
			slots[i] = &cand
			return nil
		})
	}
	for i, d := range a.detectors {
		eg.Go(func() error {
			out, err := d.Detect(egCtx, pcm, a.sampleRate)
			if err != nil {
				log.Warn("detector failed", "detector", d.Name(), "error", err)
				return nil
			}
			segs[i] = out
			return nil
		})
	}
	// Workers only record; they never return errors.
	_ = eg.Wait()

	candidates := make([]stt.Candidate, 0, len(slots))
	for _, s := range slots {
		if s != nil {
			candidates = append(candidates, *s)
		}
	}
	backendErrs := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			backendErrs = append(backendErrs, err)
		}
	}
	var all []detect.Segment
	for _, s := range segs {
		all = append(all, s...)
	}
	return candidates, backendErrs, detect.Hints(all)
}

// pickBest returns the candidate with the highest backend confidence.
// Candidates arrive in configuration order, so a strict greater-than
// comparison gives earlier backends the tie.
func pickBest(candidates []stt.Candidate) *stt.Candidate {
	var best *stt.Candidate
	for i := range candidates {
		if best == nil || candidates[i].Confidence > best.Confidence {
			best = &candidates[i]
		}
	}
	return best
}

// totalFailure distinguishes "every backend heard silence" from real
// transport or format failures.
func totalFailure(backendErrs []error) error {
	if len(backendErrs) == 0 {
		return ErrAllBackendsFailed
	}
	allNoSpeech := true
	for _, err := range backendErrs {
		if !errors.Is(err, stt.ErrNoSpeech) {
			allNoSpeech = false
			break
		}
	}
	if allNoSpeech {
		return fmt.Errorf("arbiter: %w", stt.ErrNoSpeech)
	}
	return fmt.Errorf("%w: %w", ErrAllBackendsFailed, errors.Join(backendErrs...))
}
