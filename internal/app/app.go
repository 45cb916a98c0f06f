// Package app wires all Hearken subsystems into the service facade the
// CLI calls.
//
// The App struct owns the full lifecycle: New creates and connects every
// subsystem from the config, the facade methods run the transcription and
// review operations, and Shutdown tears everything down.
//
// For testing, inject doubles via functional options (WithBackends,
// WithProfiler, WithOfflineRecognizer, WithSampleDB). When an option is
// not provided, New creates real implementations from the config.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/hearkenlabs/hearken/internal/arbiter"
	"github.com/hearkenlabs/hearken/internal/config"
	"github.com/hearkenlabs/hearken/internal/fallback"
	"github.com/hearkenlabs/hearken/internal/health"
	"github.com/hearkenlabs/hearken/internal/learn"
	"github.com/hearkenlabs/hearken/internal/lexicon"
	"github.com/hearkenlabs/hearken/internal/observe"
	"github.com/hearkenlabs/hearken/internal/resilience"
	"github.com/hearkenlabs/hearken/internal/review"
	"github.com/hearkenlabs/hearken/internal/vocab"
	"github.com/hearkenlabs/hearken/pkg/audio"
	"github.com/hearkenlabs/hearken/pkg/provider/detect"
	"github.com/hearkenlabs/hearken/pkg/provider/emotion"
	"github.com/hearkenlabs/hearken/pkg/provider/emotion/anyllm"
	"github.com/hearkenlabs/hearken/pkg/provider/stt"
	"github.com/hearkenlabs/hearken/pkg/provider/stt/deepgram"
	"github.com/hearkenlabs/hearken/pkg/provider/stt/google"
	"github.com/hearkenlabs/hearken/pkg/provider/stt/openai"
	"github.com/hearkenlabs/hearken/pkg/provider/stt/whisper"
)

// All clip PCM crossing the facade is 16 kHz mono 16-bit; the CLI
// resamples decoded WAV input into this format before submitting.
const (
	pcmSampleRate = 16000
	pcmChannels   = 1
)

// wordContextWindow is how many words of surrounding context a flagged
// word carries into the review queue on each side.
const wordContextWindow = 2

// App owns all subsystem lifetimes and exposes the transcription, review,
// and training operations the CLI surfaces.
type App struct {
	cfg *config.Config

	// Injectable seams - left nil, New builds them from the config.
	registry   *config.Registry
	backends   []stt.Provider
	detectors  []detect.Detector
	profiler   emotion.Profiler
	offline    fallback.OfflineRecognizer
	sampleDB   fallback.DB
	noBackends bool

	// Subsystems - initialised in New, torn down in Shutdown.
	override *vocab.Override
	lex      *lexicon.Lexicon
	clips    *review.Store
	words    *review.Store
	model    *fallback.Model
	arb      *arbiter.Arbiter
	wordScan *arbiter.Detector
	learner  *learn.Learner

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBackends injects speech backends directly, bypassing the registry
// and the config's backend list.
func WithBackends(backends ...stt.Provider) Option {
	return func(a *App) { a.backends = backends }
}

// WithoutBackends skips speech backend and offline recognizer
// construction, so no API keys or model files are needed. Review queue,
// statistics, and training operations stay fully functional; only
// transcription is unavailable. Used by CLI subcommands that never
// transcribe.
func WithoutBackends() Option {
	return func(a *App) { a.noBackends = true }
}

// WithRegistry replaces the default backend registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithDetectors installs acoustic-event detectors whose hints attach to
// transcription results.
func WithDetectors(ds ...detect.Detector) Option {
	return func(a *App) { a.detectors = append(a.detectors, ds...) }
}

// WithProfiler injects the word profiler instead of creating one from the
// lexicon config.
func WithProfiler(p emotion.Profiler) Option {
	return func(a *App) { a.profiler = p }
}

// WithOfflineRecognizer injects the fallback model's offline recognizer
// instead of loading one from the config's model paths.
func WithOfflineRecognizer(r fallback.OfflineRecognizer) Option {
	return func(a *App) { a.offline = r }
}

// WithSampleDB injects the database behind the pgvector sample index
// instead of dialing the configured DSN.
func WithSampleDB(db fallback.DB) Option {
	return func(a *App) { a.sampleDB = db }
}

// New creates an App by wiring all subsystems together: vocabulary
// override, lexicon, review queues, fallback model, speech backends,
// arbiter, and learner. Initialisation is synchronous; a returned App is
// ready to transcribe.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := os.MkdirAll(cfg.Storage.Root, 0o755); err != nil {
		return nil, fmt.Errorf("app: create storage root: %w", err)
	}

	if err := a.initVocabulary(); err != nil {
		return nil, fmt.Errorf("app: init vocabulary: %w", err)
	}
	if err := a.initReviewStores(); err != nil {
		return nil, fmt.Errorf("app: init review stores: %w", err)
	}
	if err := a.initFallback(ctx); err != nil {
		return nil, fmt.Errorf("app: init fallback model: %w", err)
	}
	if err := a.initBackends(ctx); err != nil {
		return nil, fmt.Errorf("app: init backends: %w", err)
	}
	a.initArbiter()
	if err := a.initLearner(); err != nil {
		return nil, fmt.Errorf("app: init learner: %w", err)
	}

	return a, nil
}

// initVocabulary opens the override map and the lexicon, creating the
// profiler from config when none was injected.
func (a *App) initVocabulary() error {
	override, err := vocab.Open(a.cfg.Storage.OverridePath())
	if err != nil {
		return err
	}
	a.override = override

	if a.profiler == nil && a.cfg.Lexicon.Profiler.Provider != "" {
		p, err := newProfiler(a.cfg.Lexicon.Profiler)
		if err != nil {
			return err
		}
		a.profiler = p
	}

	var lexOpts []lexicon.Option
	if a.profiler != nil {
		lexOpts = append(lexOpts, lexicon.WithProfiler(a.profiler))
	}
	a.lex = lexicon.New(lexicon.NewShardStore(a.cfg.LexiconDir()), lexOpts...)
	return nil
}

// initReviewStores opens the clip and word review queues.
func (a *App) initReviewStores() error {
	clips, err := review.NewStore(a.cfg.Storage.ClipReviewsDir())
	if err != nil {
		return fmt.Errorf("clip queue: %w", err)
	}
	words, err := review.NewStore(a.cfg.Storage.WordReviewsDir())
	if err != nil {
		return fmt.Errorf("word queue: %w", err)
	}
	a.clips = clips
	a.words = words
	return nil
}

// initFallback builds the local fallback model with the configured
// offline recognizer and optional pgvector sample index.
func (a *App) initFallback(ctx context.Context) error {
	modelOpts := []fallback.ModelOption{
		fallback.WithSampleRate(pcmSampleRate),
	}
	fc := a.cfg.Fallback
	if fc.SimilarityThreshold > 0 {
		modelOpts = append(modelOpts, fallback.WithSimilarityThreshold(fc.SimilarityThreshold))
	}
	if fc.MinTrainingSamples > 0 {
		modelOpts = append(modelOpts, fallback.WithMinTrainingSamples(fc.MinTrainingSamples))
	}
	if fc.TrainingTimeout > 0 {
		modelOpts = append(modelOpts, fallback.WithTrainingTimeout(fc.TrainingTimeout.Std()))
	}

	if a.offline == nil && !a.noBackends {
		rec, err := a.newOfflineRecognizer(fc.Offline)
		if err != nil {
			return err
		}
		a.offline = rec
	}
	if a.offline != nil {
		modelOpts = append(modelOpts, fallback.WithOfflineRecognizer(a.offline))
	}

	if a.sampleDB == nil && a.cfg.Postgres.DSN != "" {
		pool, err := pgxpool.New(ctx, a.cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("sample index: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("sample index: %w", err)
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		a.sampleDB = pool
	}
	if a.sampleDB != nil {
		idx := fallback.NewPGIndex(a.sampleDB)
		if err := idx.Migrate(ctx); err != nil {
			return err
		}
		modelOpts = append(modelOpts, fallback.WithIndex(idx))
		slog.Info("sample index ready")
	}

	model, err := fallback.NewModel(a.cfg.Storage.SamplesDir(), modelOpts...)
	if err != nil {
		return err
	}
	a.model = model
	return nil
}

// newOfflineRecognizer loads the offline recognizer the config selects.
// Returns nil for kind "none".
func (a *App) newOfflineRecognizer(oc config.OfflineConfig) (fallback.OfflineRecognizer, error) {
	switch oc.Kind {
	case config.OfflineNone, "":
		return nil, nil

	case config.OfflineSherpa:
		rec, err := fallback.NewSherpaRecognizer(fallback.SherpaConfig{
			Encoder:    oc.Encoder,
			Decoder:    oc.Decoder,
			Joiner:     oc.Joiner,
			Tokens:     oc.Tokens,
			NumThreads: oc.NumThreads,
			SampleRate: pcmSampleRate,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rec.Close)
		return rec, nil

	case config.OfflineWhisperNative:
		p, err := whisper.NewNative(oc.ModelPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		return fallback.NewProviderRecognizer(p), nil

	default:
		return nil, fmt.Errorf("unknown offline recognizer kind %q", oc.Kind)
	}
}

// initBackends instantiates the configured speech backends through the
// registry, unless backends were injected directly.
func (a *App) initBackends(ctx context.Context) error {
	if a.backends != nil || a.noBackends {
		return nil
	}
	reg := a.registry
	if reg == nil {
		reg = defaultRegistry(ctx)
	}
	for _, entry := range a.cfg.Backends {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return fmt.Errorf("create backend %q: %w", entry.Name, err)
		}
		if c, ok := p.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
		// A backend that keeps failing opens its breaker and is skipped
		// during fan-out until it recovers.
		a.backends = append(a.backends, resilience.NewSTTGuard(p, resilience.CircuitBreakerConfig{}))
		slog.Info("backend ready", "name", p.Name())
	}
	if len(a.backends) == 0 {
		slog.Warn("no backends configured; only the override and fallback model can answer")
	}
	return nil
}

// initArbiter assembles the arbiter over the backends and the word-level
// uncertainty detector.
func (a *App) initArbiter() {
	arbOpts := []arbiter.Option{
		arbiter.WithOverride(a.override),
		arbiter.WithFallback(a.model),
		arbiter.WithEstimator(arbiter.NewEstimator(arbiter.WithVocabulary(a.lex))),
		arbiter.WithThresholds(a.cfg.Arbiter.ReviewThreshold, a.cfg.Arbiter.EscalationThreshold),
		arbiter.WithAudioFormat(pcmSampleRate, pcmChannels),
	}
	if a.cfg.Arbiter.BackendTimeout > 0 {
		arbOpts = append(arbOpts, arbiter.WithBackendTimeout(a.cfg.Arbiter.BackendTimeout.Std()))
	}
	if len(a.detectors) > 0 {
		arbOpts = append(arbOpts, arbiter.WithDetectors(a.detectors...))
	}
	a.arb = arbiter.New(a.backends, arbOpts...)
	a.wordScan = arbiter.NewDetector()
}

// initLearner builds the correction learner over the review queues and
// derived stores.
func (a *App) initLearner() error {
	cal, err := learn.NewCalibration(a.cfg.Storage.CalibrationPath())
	if err != nil {
		return err
	}
	learner, err := learn.NewLearner(a.clips, a.words,
		learn.NewLog(a.cfg.Storage.CorrectionsPath()), cal,
		learn.WithOverride(a.override),
		learn.WithWordLearner(a.lex),
		learn.WithSampleSink(a.model),
	)
	if err != nil {
		return err
	}
	a.learner = learner
	return nil
}

// TranscribeOutcome couples an arbitration result with the review items
// it spawned.
type TranscribeOutcome struct {
	Result arbiter.Result `json:"result"`

	// ClipID is the review queue id of the enqueued clip, empty when the
	// result needed no review.
	ClipID string `json:"clip_id,omitempty"`

	// WordIDs are the review queue ids of individually flagged words.
	WordIDs []string `json:"word_ids,omitempty"`
}

// TranscribeWithReview arbitrates one clip of raw PCM and feeds the
// review queues: a below-threshold result enqueues the whole clip, and
// uncertain words enqueue individually with surrounding context. The
// arbitration result is returned even when an enqueue fails.
func (a *App) TranscribeWithReview(ctx context.Context, pcm []byte) (TranscribeOutcome, error) {
	res, err := a.arb.Transcribe(ctx, pcm)
	out := TranscribeOutcome{Result: res}
	if err != nil {
		return out, err
	}

	wav := audio.EncodeWAV(pcm, pcmSampleRate, pcmChannels)

	if res.NeedsReview {
		id, err := a.clips.Enqueue(ctx, review.Item{
			Kind:        review.KindClip,
			Text:        res.Text,
			Confidence:  res.Confidence,
			Source:      res.Source,
			Fingerprint: res.Fingerprint,
		}, bytes.NewReader(wav))
		if err != nil {
			return out, fmt.Errorf("app: enqueue clip review: %w", err)
		}
		out.ClipID = id
	}

	// Override text is reviewer-approved; scanning it again would only
	// re-queue what a human already fixed.
	if res.Source == arbiter.SourceOverride {
		return out, nil
	}

	words := lexicon.Tokenize(res.Text)
	for _, flag := range a.wordScan.Scan(res.Text, res.Confidence) {
		item := review.Item{
			Kind:               review.KindWord,
			Text:               res.Text,
			Confidence:         res.Confidence,
			Source:             res.Source,
			Fingerprint:        res.Fingerprint,
			Word:               flag.Word,
			WordIndex:          flag.Index,
			TotalWords:         len(words),
			UncertaintyReasons: flag.Reasons,
		}
		item.Surrounding = item.Context(wordContextWindow)
		id, err := a.words.Enqueue(ctx, item, bytes.NewReader(wav))
		if err != nil {
			// Word flags are advisory; losing one never fails the clip.
			observe.Logger(ctx).Warn("word review enqueue failed",
				"word", flag.Word, "error", err)
			continue
		}
		out.WordIDs = append(out.WordIDs, id)
	}
	return out, nil
}

// ListPendingClips returns the pending clip review items, newest first.
func (a *App) ListPendingClips(ctx context.Context) ([]review.Item, error) {
	return a.clips.ListPending(ctx)
}

// ListPendingWords returns the pending word review items, newest first.
func (a *App) ListPendingWords(ctx context.Context) ([]review.Item, error) {
	return a.words.ListPending(ctx)
}

// SubmitClipCorrection resolves a pending clip with the reviewer's text.
func (a *App) SubmitClipCorrection(ctx context.Context, id, correctedText, reviewer string) error {
	return a.learner.SubmitCorrection(ctx, review.KindClip, id, correctedText, reviewer)
}

// SubmitWordCorrection resolves a pending word with the reviewer's text.
func (a *App) SubmitWordCorrection(ctx context.Context, id, correctedText, reviewer string) error {
	return a.learner.SubmitCorrection(ctx, review.KindWord, id, correctedText, reviewer)
}

// SkipClip archives a pending clip as acceptable-as-is.
func (a *App) SkipClip(ctx context.Context, id, reviewer string) error {
	return a.learner.SubmitSkip(ctx, review.KindClip, id, reviewer)
}

// SkipWord archives a pending word as acceptable-as-is.
func (a *App) SkipWord(ctx context.Context, id, reviewer string) error {
	return a.learner.SubmitSkip(ctx, review.KindWord, id, reviewer)
}

// TrainingStats is the combined learning and local-model report.
type TrainingStats struct {
	Learning   learn.Report  `json:"learning"`
	LocalModel fallback.Info `json:"local_model"`

	// SamplesUntilTrainable is how many more training samples the local
	// model needs before Train can run. Zero means trainable now.
	SamplesUntilTrainable int `json:"samples_until_trainable"`
}

// TrainingStats reports the correction statistics, calibration, and local
// model state, including at most topN misrecognized words (0 means all).
func (a *App) TrainingStats(topN int) TrainingStats {
	info := a.model.Info()
	remaining := info.MinSamples - info.SampleCount
	if remaining < 0 {
		remaining = 0
	}
	return TrainingStats{
		Learning:              a.learner.Report(topN),
		LocalModel:            info,
		SamplesUntilTrainable: remaining,
	}
}

// TrainLocalModel retrains the fallback model on the accumulated samples.
func (a *App) TrainLocalModel(ctx context.Context) error {
	return a.model.Train(ctx)
}

// LocalModelInfo reports the fallback model's state.
func (a *App) LocalModelInfo() fallback.Info {
	return a.model.Info()
}

// RebuildOverride replays the correction journal into the vocabulary
// override map. Recovery path; returns the resulting entry count.
func (a *App) RebuildOverride(ctx context.Context) (int, error) {
	return a.learner.RebuildOverride(ctx)
}

// SetThresholds swaps the arbiter's review and escalation thresholds at
// runtime. Used by watch mode when the config file changes.
func (a *App) SetThresholds(review, escalation float64) error {
	return a.arb.SetThresholds(review, escalation)
}

// HealthChecks returns the readiness probes served on the metrics
// listener in watch mode.
func (a *App) HealthChecks() []health.Checker {
	return []health.Checker{
		{Name: "storage", Check: func(context.Context) error {
			info, err := os.Stat(a.cfg.Storage.Root)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", a.cfg.Storage.Root)
			}
			return nil
		}},
		{Name: "backends", Check: func(context.Context) error {
			if len(a.backends) == 0 {
				return errors.New("no speech backends configured")
			}
			open := 0
			for _, b := range a.backends {
				if g, ok := b.(*resilience.STTGuard); ok && g.State() == resilience.StateOpen {
					open++
				}
			}
			if open == len(a.backends) {
				return errors.New("every backend circuit is open")
			}
			return nil
		}},
	}
}

// Shutdown tears down backends, the offline recognizer, and the sample
// index pool in reverse-init order. It respects the context deadline: if
// ctx expires first, remaining closers are skipped and the context error
// is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}
	})
	return shutdownErr
}

// newProfiler creates the any-llm word profiler the lexicon config names.
func newProfiler(pc config.ProfilerConfig) (emotion.Profiler, error) {
	var opts []anyllmlib.Option
	if pc.APIKeyEnv != "" {
		key := os.Getenv(pc.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("profiler: environment variable %s is empty", pc.APIKeyEnv)
		}
		opts = append(opts, anyllmlib.WithAPIKey(key))
	}
	if pc.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(pc.BaseURL))
	}
	return anyllm.New(pc.Provider, pc.Model, opts...)
}

// defaultRegistry wires the production backend factories. Factories read
// API keys from the environment; the config file only names the variable.
func defaultRegistry(ctx context.Context) *config.Registry {
	reg := config.NewRegistry()

	reg.RegisterSTT("google", func(entry config.BackendConfig) (stt.Provider, error) {
		var opts []google.Option
		if entry.Language != "" {
			opts = append(opts, google.WithLanguage(entry.Language))
		}
		if entry.CredentialsFile != "" {
			opts = append(opts, google.WithCredentialsFile(entry.CredentialsFile))
		}
		return google.New(ctx, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.BackendConfig) (stt.Provider, error) {
		key, err := apiKey(entry, "OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		var opts []openai.Option
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.ServerURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.ServerURL))
		}
		if entry.DefaultConfidence > 0 {
			opts = append(opts, openai.WithDefaultConfidence(entry.DefaultConfidence))
		}
		return openai.New(key, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.BackendConfig) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		if entry.DefaultConfidence > 0 {
			opts = append(opts, whisper.WithDefaultConfidence(entry.DefaultConfidence))
		}
		if entry.RMSThreshold > 0 {
			opts = append(opts, whisper.WithRMSThreshold(entry.RMSThreshold))
		}
		return whisper.New(entry.ServerURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.BackendConfig) (stt.Provider, error) {
		var opts []whisper.NativeOption
		if entry.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(entry.Language))
		}
		if entry.DefaultConfidence > 0 {
			opts = append(opts, whisper.WithNativeConfidence(entry.DefaultConfidence))
		}
		if entry.RMSThreshold > 0 {
			opts = append(opts, whisper.WithNativeRMSThreshold(entry.RMSThreshold))
		}
		return whisper.NewNative(entry.ModelPath, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.BackendConfig) (stt.Provider, error) {
		key, err := apiKey(entry, "DEEPGRAM_API_KEY")
		if err != nil {
			return nil, err
		}
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		if entry.ServerURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.ServerURL))
		}
		return deepgram.New(key, opts...)
	})

	return reg
}

// apiKey resolves a backend's API key from the environment variable the
// config names, falling back to the conventional variable.
func apiKey(entry config.BackendConfig, conventionalEnv string) (string, error) {
	env := entry.APIKeyEnv
	if env == "" {
		env = conventionalEnv
	}
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("environment variable %s is empty", env)
	}
	return key, nil
}
