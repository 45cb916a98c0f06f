// Package learn closes the feedback loop: reviewer corrections become an
// append-only journal, vocabulary override entries, misrecognition and
// improvement statistics, confidence calibration, and training samples
// for the local fallback model.
package learn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearkenlabs/hearken/internal/fallback"
	"github.com/hearkenlabs/hearken/internal/lexicon"
	"github.com/hearkenlabs/hearken/internal/observe"
	"github.com/hearkenlabs/hearken/internal/review"
	"github.com/hearkenlabs/hearken/internal/vocab"
)

// WordLearner receives words that corrections introduced, so the lexicon
// grows alongside the vocabulary statistics.
type WordLearner interface {
	Learn(ctx context.Context, word string) error
}

// SampleSink receives training samples harvested from corrections.
type SampleSink interface {
	AddSample(ctx context.Context, sample fallback.Sample) error
}

// Learner owns the derived learning state. All statistics updates run
// under one global lock; corrections are human-paced, so contention is
// not a concern but lost updates would be.
type Learner struct {
	clips       *review.Store
	words       *review.Store
	log         *Log
	calibration *Calibration
	override    *vocab.Override
	wordLearner WordLearner
	samples     SampleSink
	pair        PairFunc
	metrics     *observe.Metrics

	mu    sync.Mutex
	stats *wordStats
	now   func() time.Time
}

// LearnerOption configures a [Learner].
type LearnerOption func(*Learner)

// WithOverride installs the vocabulary override map updated on every
// correction.
func WithOverride(o *vocab.Override) LearnerOption {
	return func(l *Learner) { l.override = o }
}

// WithWordLearner installs the lexicon fed with newly corrected words.
func WithWordLearner(wl WordLearner) LearnerOption {
	return func(l *Learner) { l.wordLearner = wl }
}

// WithSampleSink installs the fallback model fed with training samples.
func WithSampleSink(s SampleSink) LearnerOption {
	return func(l *Learner) { l.samples = s }
}

// WithPhoneticPairing switches misrecognition pairing from the
// shared-character test to Double Metaphone plus Jaro-Winkler.
func WithPhoneticPairing() LearnerOption {
	return func(l *Learner) { l.pair = phoneticPair }
}

// WithLearnerMetrics replaces the default metrics sink.
func WithLearnerMetrics(m *observe.Metrics) LearnerOption {
	return func(l *Learner) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithLearnerNow replaces the clock used for record timestamps.
func WithLearnerNow(now func() time.Time) LearnerOption {
	return func(l *Learner) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLearner builds a Learner over the clip and word review stores and
// rebuilds the in-memory statistics from the correction journal.
func NewLearner(clips, words *review.Store, log *Log, calibration *Calibration, opts ...LearnerOption) (*Learner, error) {
	l := &Learner{
		clips:       clips,
		words:       words,
		log:         log,
		calibration: calibration,
		pair:        charOverlapPair,
		metrics:     observe.DefaultMetrics(),
		stats:       newWordStats(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := log.Replay(func(rec Record) error {
		l.stats.apply(rec, l.pair)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("learn: rebuild statistics: %w", err)
	}
	return l, nil
}

// SubmitCorrection resolves a pending review item with the reviewer's
// corrected text and folds the correction into every derived store:
// journal, word statistics, vocabulary override, calibration, fallback
// samples, and the lexicon. Empty corrected text is rejected before
// anything mutates; an unknown or already-resolved id surfaces
// review.ErrItemNotFound.
func (l *Learner) SubmitCorrection(ctx context.Context, kind review.Kind, itemID, correctedText, reviewer string) error {
	corrected := strings.ToLower(strings.TrimSpace(correctedText))
	if corrected == "" {
		return errors.New("learn: corrected text must not be empty")
	}
	store, err := l.storeFor(kind)
	if err != nil {
		return err
	}

	item, err := store.Transition(ctx, itemID, review.Outcome{
		Status:        review.StatusCorrected,
		CorrectedText: corrected,
		Reviewer:      reviewer,
	})
	if err != nil {
		return fmt.Errorf("learn: submit correction: %w", err)
	}

	rec := Record{
		ID:          uuid.NewString(),
		ItemID:      item.ID,
		Kind:        item.Kind,
		Original:    item.Text,
		Corrected:   corrected,
		Fingerprint: item.Fingerprint,
		Confidence:  item.Confidence,
		Reviewer:    reviewer,
		At:          l.now().UTC(),
	}
	if item.Kind == review.KindWord {
		rec.Word = lexicon.NormalizeWord(item.Word)
		rec.CorrectedWord = corrected
		rec.Corrected = replaceWord(item.Text, item.WordIndex, corrected)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.log.Append(rec); err != nil {
		return err
	}
	l.stats.apply(rec, l.pair)
	if l.override != nil {
		if err := l.override.Set(item.Fingerprint, rec.Corrected); err != nil {
			return fmt.Errorf("learn: update override: %w", err)
		}
	}
	// A correction means the original was wrong: the decile gains a miss.
	if err := l.calibration.RecordOutcome(item.Confidence, false); err != nil {
		return fmt.Errorf("learn: record calibration: %w", err)
	}
	l.addSample(ctx, store, item, rec)
	l.offerWords(ctx, rec)
	l.metrics.RecordCorrection(ctx, string(item.Kind))
	slog.Info("correction recorded",
		"item", item.ID,
		"kind", item.Kind,
		"reviewer", reviewer,
	)
	return nil
}

// SubmitSkip resolves a pending item as acceptable-as-is. The skip
// counts as a correct outcome in calibration and feeds no other store.
func (l *Learner) SubmitSkip(ctx context.Context, kind review.Kind, itemID, reviewer string) error {
	store, err := l.storeFor(kind)
	if err != nil {
		return err
	}
	item, err := store.Transition(ctx, itemID, review.Outcome{
		Status:   review.StatusSkipped,
		Reviewer: reviewer,
	})
	if err != nil {
		return fmt.Errorf("learn: submit skip: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.calibration.RecordOutcome(item.Confidence, true); err != nil {
		return fmt.Errorf("learn: record calibration: %w", err)
	}
	l.metrics.RecordSkip(ctx, string(item.Kind))
	return nil
}

// RebuildOverride replays the correction journal into the vocabulary
// override map, later corrections winning. Recovery path for a lost or
// corrupt override file; returns the resulting entry count.
func (l *Learner) RebuildOverride(ctx context.Context) (int, error) {
	if l.override == nil {
		return 0, errors.New("learn: no override store configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var entries []vocab.Entry
	if err := l.log.Replay(func(rec Record) error {
		entries = append(entries, vocab.Entry{Fingerprint: rec.Fingerprint, Text: rec.Corrected})
		return nil
	}); err != nil {
		return 0, fmt.Errorf("learn: rebuild override: %w", err)
	}
	if err := l.override.Rebuild(entries); err != nil {
		return 0, fmt.Errorf("learn: rebuild override: %w", err)
	}
	return l.override.Len(), nil
}

// Report is a snapshot of the learning statistics.
type Report struct {
	TotalCorrections    int                  `json:"total_corrections"`
	UniqueMisrecognized int                  `json:"unique_misrecognized"`
	UniqueImproved      int                  `json:"unique_improved"`
	TopMisrecognized    []MisrecognizedEntry `json:"top_misrecognized"`
	Calibration         []DecileStat         `json:"calibration"`
	CalibrationSamples  int                  `json:"calibration_samples"`
}

// Report snapshots the statistics, including at most topN misrecognized
// words (0 means all).
func (l *Learner) Report(topN int) Report {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Report{
		TotalCorrections:    l.stats.totalCorrections,
		UniqueMisrecognized: len(l.stats.misrecognized),
		UniqueImproved:      len(l.stats.improved),
		TopMisrecognized:    l.stats.topMisrecognized(topN),
		Calibration:         l.calibration.Deciles(),
		CalibrationSamples:  l.calibration.SampleCount(),
	}
}

// AccuracyFor exposes the calibration lookup for downstream consumers.
func (l *Learner) AccuracyFor(confidence float64) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calibration.AccuracyFor(confidence)
}

func (l *Learner) storeFor(kind review.Kind) (*review.Store, error) {
	switch kind {
	case review.KindClip:
		return l.clips, nil
	case review.KindWord:
		return l.words, nil
	default:
		return nil, fmt.Errorf("learn: unknown item kind %q", kind)
	}
}

// addSample harvests a training sample when the audio artifact is still
// retrievable. Failures never block the correction.
func (l *Learner) addSample(ctx context.Context, store *review.Store, item review.Item, rec Record) {
	if l.samples == nil {
		return
	}
	wav, err := store.ReadArtifact(ctx, item.ID)
	if err != nil {
		if errors.Is(err, review.ErrItemNotFound) {
			slog.Debug("no artifact for training sample", "item", item.ID)
		} else {
			slog.Warn("artifact unreadable for training sample", "item", item.ID, "error", err)
		}
		return
	}
	err = l.samples.AddSample(ctx, fallback.Sample{
		Fingerprint: item.Fingerprint,
		Text:        rec.Corrected,
		Original:    rec.Original,
		Confidence:  item.Confidence,
		Audio:       wav,
	})
	switch {
	case errors.Is(err, fallback.ErrDuplicateSample):
		slog.Debug("duplicate training sample", "fingerprint", item.Fingerprint.String())
	case err != nil:
		slog.Warn("training sample rejected", "item", item.ID, "error", err)
	}
}

// offerWords hands newly corrected words to the lexicon. Profiler
// failure is logged and never blocks the correction.
func (l *Learner) offerWords(ctx context.Context, rec Record) {
	if l.wordLearner == nil {
		return
	}
	original, corrected := rec.Original, rec.Corrected
	if rec.Kind == review.KindWord {
		original, corrected = rec.Word, rec.CorrectedWord
	}
	_, added := diffWords(original, corrected)
	for _, w := range added {
		if err := l.wordLearner.Learn(ctx, w); err != nil {
			slog.Warn("lexicon learn failed", "word", w, "error", err)
		}
	}
}

// replaceWord rebuilds a transcript with the word at index replaced.
func replaceWord(text string, index int, replacement string) string {
	words := lexicon.Tokenize(text)
	if index < 0 || index >= len(words) {
		return text
	}
	words[index] = replacement
	return strings.Join(words, " ")
}
