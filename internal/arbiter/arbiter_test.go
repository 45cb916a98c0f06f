package arbiter_test

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/hearkenlabs/hearken/internal/arbiter"
	"github.com/hearkenlabs/hearken/internal/fallback"
	"github.com/hearkenlabs/hearken/pkg/audio"
	"github.com/hearkenlabs/hearken/pkg/provider/detect"
	detectmock "github.com/hearkenlabs/hearken/pkg/provider/detect/mock"
	"github.com/hearkenlabs/hearken/pkg/provider/stt"
	sttmock "github.com/hearkenlabs/hearken/pkg/provider/stt/mock"
)

// overrideMap is an in-memory arbiter.Override.
type overrideMap map[audio.Fingerprint]string

func (m overrideMap) Lookup(fp audio.Fingerprint) (string, bool) {
	text, ok := m[fp]
	return text, ok
}

// fallbackFunc adapts a function to the arbiter.Fallback interface.
type fallbackFunc func(ctx context.Context, pcm []byte) (fallback.Prediction, error)

func (f fallbackFunc) Recognize(ctx context.Context, pcm []byte) (fallback.Prediction, error) {
	return f(ctx, pcm)
}

func TestTranscribeOverrideShortCircuits(t *testing.T) {
	t.Parallel()

	pcm := []byte("short-circuit clip")
	backend := sttmock.New("google", sttmock.WithResult("wrong answer", 0.99))
	arb := arbiter.New([]stt.Provider{backend},
		arbiter.WithOverride(overrideMap{audio.Hash(pcm): "known phrase"}),
	)

	res, err := arb.Transcribe(context.Background(), pcm)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Text != "known phrase" {
		t.Errorf("Text = %q, want %q", res.Text, "known phrase")
	}
	if res.Confidence != 1 {
		t.Errorf("Confidence = %v, want 1", res.Confidence)
	}
	if res.Source != arbiter.SourceOverride {
		t.Errorf("Source = %q, want %q", res.Source, arbiter.SourceOverride)
	}
	if res.NeedsReview {
		t.Error("NeedsReview = true, want false")
	}
	if res.Fingerprint != audio.Hash(pcm) {
		t.Errorf("Fingerprint = %s, want %s", res.Fingerprint, audio.Hash(pcm))
	}
	if got := backend.Calls(); got != 0 {
		t.Errorf("backend called %d times, want 0", got)
	}
}

func TestTranscribeSelectsHighestBackendConfidence(t *testing.T) {
	t.Parallel()

	// Ten plain words: Estimate = 0.2 + 0.14 + 0.2 = 0.54.
	text := "the quick brown fox jumps over the lazy dog today"
	backends := []stt.Provider{
		sttmock.New("low", sttmock.WithResult("something else", 0.6)),
		sttmock.New("best", sttmock.WithResult(text, 0.95)),
		sttmock.New("mid", sttmock.WithResult("another answer", 0.7)),
	}
	arb := arbiter.New(backends)

	res, err := arb.Transcribe(context.Background(), []byte("clip"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Source != "best" {
		t.Errorf("Source = %q, want %q", res.Source, "best")
	}
	if res.Text != text {
		t.Errorf("Text = %q, want %q", res.Text, text)
	}
	want := 0.6*0.95 + 0.4*0.54
	if math.Abs(res.Confidence-want) > 1e-6 {
		t.Errorf("Confidence = %v, want %v", res.Confidence, want)
	}
	if res.NeedsReview {
		t.Errorf("NeedsReview = true at confidence %v, want false", res.Confidence)
	}
}

func TestTranscribeTieBreaksByConfigurationOrder(t *testing.T) {
	t.Parallel()

	backends := []stt.Provider{
		sttmock.New("first", sttmock.WithResult("first answer", 0.8)),
		sttmock.New("second", sttmock.WithResult("second answer", 0.8)),
	}
	arb := arbiter.New(backends)

	res, err := arb.Transcribe(context.Background(), []byte("clip"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Source != "first" {
		t.Errorf("Source = %q, want %q (tie goes to configuration order)", res.Source, "first")
	}
}

func TestTranscribeReviewThresholdIsStrict(t *testing.T) {
	t.Parallel()

	// Max out every signal so the blended score is exactly 1.0, then set
	// the review threshold to 1.0: equality must not flag.
	estimator := arbiter.NewEstimator(
		arbiter.WithVocabulary(vocabFunc(func([]string) float64 { return 1 })),
		arbiter.WithQualityFunc(func(string) float64 { return 1 }),
	)
	backend := sttmock.New("only",
		sttmock.WithResult("alpha beta gamma delta epsilon zeta eta theta iota kappa", 1.0),
	)
	arb := arbiter.New([]stt.Provider{backend},
		arbiter.WithEstimator(estimator),
		arbiter.WithThresholds(1.0, 0),
	)

	res, err := arb.Transcribe(context.Background(), []byte("clip"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if math.Abs(res.Confidence-1.0) > 1e-9 {
		t.Fatalf("Confidence = %v, want exactly 1.0", res.Confidence)
	}
	if res.NeedsReview {
		t.Error("NeedsReview = true at the threshold boundary, want false")
	}
}

func TestTranscribeFlagsLowConfidenceForReview(t *testing.T) {
	t.Parallel()

	backend := sttmock.New("only", sttmock.WithResult("hello world", 0.5))
	arb := arbiter.New([]stt.Provider{backend})

	res, err := arb.Transcribe(context.Background(), []byte("clip"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if !res.NeedsReview {
		t.Errorf("NeedsReview = false at confidence %v, want true", res.Confidence)
	}
}

func TestTranscribeToleratesPartialBackendFailure(t *testing.T) {
	t.Parallel()

	backends := []stt.Provider{
		sttmock.New("broken", sttmock.WithError(errors.New("connection refused"))),
		sttmock.New("silent", sttmock.WithError(stt.ErrNoSpeech)),
		sttmock.New("working", sttmock.WithResult("it still works fine today yes really it does now", 0.9)),
	}
	arb := arbiter.New(backends)

	res, err := arb.Transcribe(context.Background(), []byte("clip"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Source != "working" {
		t.Errorf("Source = %q, want %q", res.Source, "working")
	}
}

func TestTranscribeTotalFailure(t *testing.T) {
	t.Parallel()

	t.Run("all transport errors", func(t *testing.T) {
		t.Parallel()
		backends := []stt.Provider{
			sttmock.New("a", sttmock.WithError(errors.New("dial tcp: refused"))),
			sttmock.New("b", sttmock.WithError(errors.New("status 500"))),
		}
		arb := arbiter.New(backends)
		res, err := arb.Transcribe(context.Background(), []byte("clip"))
		if !errors.Is(err, arbiter.ErrAllBackendsFailed) {
			t.Fatalf("error = %v, want ErrAllBackendsFailed", err)
		}
		if res.Text != "" || res.Confidence != 0 || res.NeedsReview {
			t.Errorf("Result = %+v, want empty text, zero confidence, no review", res)
		}
		if res.Fingerprint.IsZero() {
			t.Error("Fingerprint is zero, want the clip's digest even on failure")
		}
	})

	t.Run("all no-speech", func(t *testing.T) {
		t.Parallel()
		backends := []stt.Provider{
			sttmock.New("a", sttmock.WithError(stt.ErrNoSpeech)),
			sttmock.New("b", sttmock.WithError(stt.ErrNoSpeech)),
		}
		arb := arbiter.New(backends)
		_, err := arb.Transcribe(context.Background(), []byte("clip"))
		if !errors.Is(err, stt.ErrNoSpeech) {
			t.Fatalf("error = %v, want stt.ErrNoSpeech", err)
		}
		if errors.Is(err, arbiter.ErrAllBackendsFailed) {
			t.Error("all-no-speech reported as ErrAllBackendsFailed, want the two distinguished")
		}
	})

	t.Run("mixed failures report backend failure", func(t *testing.T) {
		t.Parallel()
		backends := []stt.Provider{
			sttmock.New("a", sttmock.WithError(stt.ErrNoSpeech)),
			sttmock.New("b", sttmock.WithError(errors.New("boom"))),
		}
		arb := arbiter.New(backends)
		_, err := arb.Transcribe(context.Background(), []byte("clip"))
		if !errors.Is(err, arbiter.ErrAllBackendsFailed) {
			t.Fatalf("error = %v, want ErrAllBackendsFailed", err)
		}
	})
}

func TestTranscribeEscalatesToFallback(t *testing.T) {
	t.Parallel()

	backend := sttmock.New("weak", sttmock.WithResult("um", 0.2))
	arb := arbiter.New([]stt.Provider{backend},
		arbiter.WithFallback(fallbackFunc(func(context.Context, []byte) (fallback.Prediction, error) {
			return fallback.Prediction{Text: "corrected phrase", Confidence: 0.9, Method: fallback.MethodHash}, nil
		})),
	)

	res, err := arb.Transcribe(context.Background(), []byte("clip"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Source != arbiter.SourceFallback {
		t.Errorf("Source = %q, want %q", res.Source, arbiter.SourceFallback)
	}
	if res.Text != "corrected phrase" {
		t.Errorf("Text = %q, want %q", res.Text, "corrected phrase")
	}
	if math.Abs(res.Confidence-0.9) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.9", res.Confidence)
	}
	if res.NeedsReview {
		t.Error("NeedsReview = true after confident fallback, want false")
	}
}

func TestTranscribeSkipsFallbackAboveEscalation(t *testing.T) {
	t.Parallel()

	var fallbackCalls atomic.Int64
	backend := sttmock.New("strong",
		sttmock.WithResult("the quick brown fox jumps over the lazy dog today", 0.95),
	)
	arb := arbiter.New([]stt.Provider{backend},
		arbiter.WithFallback(fallbackFunc(func(context.Context, []byte) (fallback.Prediction, error) {
			fallbackCalls.Add(1)
			return fallback.Prediction{}, nil
		})),
	)

	if _, err := arb.Transcribe(context.Background(), []byte("clip")); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got := fallbackCalls.Load(); got != 0 {
		t.Errorf("fallback called %d times above the escalation threshold, want 0", got)
	}
}

func TestTranscribeKeepsBackendOverWeakerFallback(t *testing.T) {
	t.Parallel()

	backend := sttmock.New("weak", sttmock.WithResult("hello world", 0.5))
	arb := arbiter.New([]stt.Provider{backend},
		arbiter.WithFallback(fallbackFunc(func(context.Context, []byte) (fallback.Prediction, error) {
			return fallback.Prediction{Text: "worse guess", Confidence: 0.1, Method: fallback.MethodFeatures}, nil
		})),
	)

	res, err := arb.Transcribe(context.Background(), []byte("clip"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Source != "weak" {
		t.Errorf("Source = %q, want the backend to win over a weaker fallback", res.Source)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q, want %q", res.Text, "hello world")
	}
}

func TestTranscribeFallbackRescuesTotalFailure(t *testing.T) {
	t.Parallel()

	backend := sttmock.New("down", sttmock.WithError(errors.New("unreachable")))
	arb := arbiter.New([]stt.Provider{backend},
		arbiter.WithFallback(fallbackFunc(func(context.Context, []byte) (fallback.Prediction, error) {
			return fallback.Prediction{Text: "from memory", Confidence: 1, Method: fallback.MethodHash}, nil
		})),
	)

	res, err := arb.Transcribe(context.Background(), []byte("clip"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v, want fallback rescue", err)
	}
	if res.Source != arbiter.SourceFallback {
		t.Errorf("Source = %q, want %q", res.Source, arbiter.SourceFallback)
	}
}

func TestTranscribeIgnoresFallbackError(t *testing.T) {
	t.Parallel()

	backend := sttmock.New("weak", sttmock.WithResult("hello world", 0.2))
	arb := arbiter.New([]stt.Provider{backend},
		arbiter.WithFallback(fallbackFunc(func(context.Context, []byte) (fallback.Prediction, error) {
			return fallback.Prediction{}, errors.New("model not trained")
		})),
	)

	res, err := arb.Transcribe(context.Background(), []byte("clip"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v, want fallback failure swallowed", err)
	}
	if res.Source != "weak" {
		t.Errorf("Source = %q, want %q", res.Source, "weak")
	}
}

func TestTranscribeAttachesDetectorHints(t *testing.T) {
	t.Parallel()

	backend := sttmock.New("only", sttmock.WithResult("haha that was funny", 0.9))
	laughter := &detectmock.Detector{
		DetectorName: "laughter",
		Segments: []detect.Segment{
			{Kind: "laughter", StartMs: 0, EndMs: 400, Confidence: 0.6},
			{Kind: "laughter", StartMs: 900, EndMs: 1400, Confidence: 0.9, Label: "giggle"},
		},
	}
	music := &detectmock.Detector{DetectorName: "music", Err: errors.New("model missing")}
	arb := arbiter.New([]stt.Provider{backend}, arbiter.WithDetectors(laughter, music))

	res, err := arb.Transcribe(context.Background(), []byte("clip"))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if len(res.Hints) != 1 {
		t.Fatalf("Hints = %v, want one laughter hint", res.Hints)
	}
	hint := res.Hints[0]
	if hint.Kind != "laughter" || hint.Confidence != 0.9 || hint.Label != "giggle" {
		t.Errorf("Hint = %+v, want the strongest laughter segment", hint)
	}
}

func TestSetThresholds(t *testing.T) {
	t.Parallel()

	arb := arbiter.New(nil)
	if err := arb.SetThresholds(0.8, 0.5); err != nil {
		t.Fatalf("SetThresholds(0.8, 0.5) error = %v", err)
	}
	review, escalation := arb.Thresholds()
	if review != 0.8 || escalation != 0.5 {
		t.Errorf("Thresholds() = (%v, %v), want (0.8, 0.5)", review, escalation)
	}

	if err := arb.SetThresholds(0.5, 0.8); err == nil {
		t.Error("SetThresholds(0.5, 0.8) error = nil, want escalation above review rejected")
	}
	if err := arb.SetThresholds(1.5, 0.5); err == nil {
		t.Error("SetThresholds(1.5, 0.5) error = nil, want out-of-range rejected")
	}
}

func TestTranscribeCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backend := sttmock.New("only", sttmock.WithResult("never", 0.9))
	arb := arbiter.New([]stt.Provider{backend})

	_, err := arb.Transcribe(ctx, []byte("clip"))
	if !errors.Is(err, arbiter.ErrAllBackendsFailed) {
		t.Fatalf("error = %v, want ErrAllBackendsFailed from cancelled backends", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled among the causes", err)
	}
}
