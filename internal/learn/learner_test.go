package learn_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hearkenlabs/hearken/internal/fallback"
	"github.com/hearkenlabs/hearken/internal/learn"
	"github.com/hearkenlabs/hearken/internal/review"
	"github.com/hearkenlabs/hearken/internal/vocab"
	"github.com/hearkenlabs/hearken/pkg/audio"
)

// learnEnv wires a Learner to real file-backed stores in a temp dir.
type learnEnv struct {
	dir      string
	clips    *review.Store
	words    *review.Store
	override *vocab.Override
	learner  *learn.Learner
}

func newLearnEnv(t *testing.T, opts ...learn.LearnerOption) *learnEnv {
	t.Helper()
	dir := t.TempDir()

	clips, err := review.NewStore(filepath.Join(dir, "reviews"))
	if err != nil {
		t.Fatalf("NewStore(clips) error = %v", err)
	}
	words, err := review.NewStore(filepath.Join(dir, "reviews", "words"))
	if err != nil {
		t.Fatalf("NewStore(words) error = %v", err)
	}
	override, err := vocab.Open(filepath.Join(dir, "vocabulary_override.json"))
	if err != nil {
		t.Fatalf("vocab.Open() error = %v", err)
	}
	cal, err := learn.NewCalibration(filepath.Join(dir, "calibration.json"))
	if err != nil {
		t.Fatalf("NewCalibration() error = %v", err)
	}
	log := learn.NewLog(filepath.Join(dir, "corrections.jsonl"))

	opts = append([]learn.LearnerOption{learn.WithOverride(override)}, opts...)
	learner, err := learn.NewLearner(clips, words, log, cal, opts...)
	if err != nil {
		t.Fatalf("NewLearner() error = %v", err)
	}
	return &learnEnv{dir: dir, clips: clips, words: words, override: override, learner: learner}
}

func (e *learnEnv) enqueueClip(t *testing.T, text string, confidence float64) (string, audio.Fingerprint) {
	t.Helper()
	fp := audio.Hash([]byte(text))
	id, err := e.clips.Enqueue(context.Background(), review.Item{
		Kind:        review.KindClip,
		Text:        text,
		Confidence:  confidence,
		Fingerprint: fp,
	}, bytes.NewReader([]byte("wav:"+text)))
	if err != nil {
		t.Fatalf("Enqueue(clip) error = %v", err)
	}
	return id, fp
}

func TestSubmitCorrectionClip(t *testing.T) {
	t.Parallel()

	env := newLearnEnv(t)
	ctx := context.Background()
	id, fp := env.enqueueClip(t, "hello wrold", 0.42)

	if err := env.learner.SubmitCorrection(ctx, review.KindClip, id, "Hello World", "alice"); err != nil {
		t.Fatalf("SubmitCorrection() error = %v", err)
	}

	// Item archived.
	if _, err := env.clips.Get(ctx, id); !errors.Is(err, review.ErrItemNotFound) {
		t.Errorf("Get() after correction error = %v, want ErrItemNotFound", err)
	}
	// Override learned the normalized corrected text.
	if text, ok := env.override.Lookup(fp); !ok || text != "hello world" {
		t.Errorf("override.Lookup() = (%q, %v), want (hello world, true)", text, ok)
	}
	// Statistics updated.
	rep := env.learner.Report(10)
	if rep.TotalCorrections != 1 {
		t.Errorf("TotalCorrections = %d, want 1", rep.TotalCorrections)
	}
	if rep.UniqueMisrecognized != 1 || rep.UniqueImproved != 1 {
		t.Errorf("unique words = (%d, %d), want (1, 1)",
			rep.UniqueMisrecognized, rep.UniqueImproved)
	}
	if len(rep.TopMisrecognized) != 1 {
		t.Fatalf("TopMisrecognized = %v, want one entry", rep.TopMisrecognized)
	}
	top := rep.TopMisrecognized[0]
	if top.Word != "wrold" || top.Count != 1 || top.Corrections["world"] != 1 {
		t.Errorf("top entry = %+v, want wrold corrected to world once", top)
	}
	// Calibration recorded a miss in the 0.4 decile.
	if acc, ok := env.learner.AccuracyFor(0.42); !ok || acc != 0 {
		t.Errorf("AccuracyFor(0.42) = (%v, %v), want (0, true)", acc, ok)
	}
}

func TestSubmitCorrectionRejectsEmptyText(t *testing.T) {
	t.Parallel()

	env := newLearnEnv(t)
	ctx := context.Background()
	id, _ := env.enqueueClip(t, "some text", 0.5)

	if err := env.learner.SubmitCorrection(ctx, review.KindClip, id, "   ", "alice"); err == nil {
		t.Fatal("SubmitCorrection(blank) error = nil, want rejected")
	}
	// Nothing mutated: the item is still pending.
	item, err := env.clips.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Status != review.StatusPending {
		t.Errorf("Status = %q, want still pending", item.Status)
	}
	if got := env.learner.Report(0).TotalCorrections; got != 0 {
		t.Errorf("TotalCorrections = %d, want 0", got)
	}
}

func TestSubmitCorrectionUnknownItem(t *testing.T) {
	t.Parallel()

	env := newLearnEnv(t)
	err := env.learner.SubmitCorrection(context.Background(), review.KindClip,
		"20260101_000000_deadbeef", "text", "alice")
	if !errors.Is(err, review.ErrItemNotFound) {
		t.Fatalf("SubmitCorrection(unknown) error = %v, want ErrItemNotFound", err)
	}
}

func TestSubmitCorrectionUnknownKind(t *testing.T) {
	t.Parallel()

	env := newLearnEnv(t)
	err := env.learner.SubmitCorrection(context.Background(), review.Kind("bogus"), "id", "text", "alice")
	if err == nil {
		t.Fatal("SubmitCorrection(bogus kind) error = nil, want rejected")
	}
}

func TestSubmitWordCorrection(t *testing.T) {
	t.Parallel()

	env := newLearnEnv(t)
	ctx := context.Background()

	fp := audio.Hash([]byte("word-clip"))
	id, err := env.words.Enqueue(ctx, review.Item{
		Kind:        review.KindWord,
		Text:        "the big wrold out there",
		Word:        "wrold",
		WordIndex:   2,
		TotalWords:  5,
		Confidence:  0.35,
		Fingerprint: fp,
	}, bytes.NewReader([]byte("wav")))
	if err != nil {
		t.Fatalf("Enqueue(word) error = %v", err)
	}

	if err := env.learner.SubmitCorrection(ctx, review.KindWord, id, "world", "bob"); err != nil {
		t.Fatalf("SubmitCorrection(word) error = %v", err)
	}

	// The override holds the whole transcript with the word replaced.
	if text, ok := env.override.Lookup(fp); !ok || text != "the big world out there" {
		t.Errorf("override.Lookup() = (%q, %v), want full corrected transcript", text, ok)
	}
	rep := env.learner.Report(10)
	if len(rep.TopMisrecognized) != 1 || rep.TopMisrecognized[0].Word != "wrold" {
		t.Fatalf("TopMisrecognized = %v, want wrold", rep.TopMisrecognized)
	}
	if rep.TopMisrecognized[0].Corrections["world"] != 1 {
		t.Errorf("Corrections = %v, want world paired", rep.TopMisrecognized[0].Corrections)
	}
}

func TestSubmitSkipCountsAsCorrect(t *testing.T) {
	t.Parallel()

	env := newLearnEnv(t)
	ctx := context.Background()
	id, fp := env.enqueueClip(t, "close enough", 0.55)

	if err := env.learner.SubmitSkip(ctx, review.KindClip, id, "carol"); err != nil {
		t.Fatalf("SubmitSkip() error = %v", err)
	}

	if _, err := env.clips.Get(ctx, id); !errors.Is(err, review.ErrItemNotFound) {
		t.Errorf("Get() after skip error = %v, want ErrItemNotFound", err)
	}
	// Skip means the transcription was acceptable: the decile gains a hit.
	if acc, ok := env.learner.AccuracyFor(0.55); !ok || acc != 1.0 {
		t.Errorf("AccuracyFor(0.55) = (%v, %v), want (1.0, true)", acc, ok)
	}
	// Skips teach nothing else.
	if got := env.learner.Report(0).TotalCorrections; got != 0 {
		t.Errorf("TotalCorrections = %d, want 0 after skip", got)
	}
	if _, ok := env.override.Lookup(fp); ok {
		t.Error("override learned from a skip, want untouched")
	}
}

// countingLearner records Learn calls and optionally fails.
type countingLearner struct {
	mu    sync.Mutex
	words []string
	err   error
}

func (c *countingLearner) Learn(ctx context.Context, word string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.words = append(c.words, word)
	return c.err
}

func TestCorrectionOffersNewWordsToLexicon(t *testing.T) {
	t.Parallel()

	wl := &countingLearner{}
	env := newLearnEnv(t, learn.WithWordLearner(wl))
	ctx := context.Background()
	id, _ := env.enqueueClip(t, "hello wrold", 0.4)

	if err := env.learner.SubmitCorrection(ctx, review.KindClip, id, "hello world", "alice"); err != nil {
		t.Fatalf("SubmitCorrection() error = %v", err)
	}
	if len(wl.words) != 1 || wl.words[0] != "world" {
		t.Errorf("Learn called with %v, want [world]", wl.words)
	}
}

func TestLexiconFailureDoesNotBlockCorrection(t *testing.T) {
	t.Parallel()

	wl := &countingLearner{err: errors.New("profiler offline")}
	env := newLearnEnv(t, learn.WithWordLearner(wl))
	ctx := context.Background()
	id, fp := env.enqueueClip(t, "hello wrold", 0.4)

	if err := env.learner.SubmitCorrection(ctx, review.KindClip, id, "hello world", "alice"); err != nil {
		t.Fatalf("SubmitCorrection() error = %v, want lexicon failure swallowed", err)
	}
	if _, ok := env.override.Lookup(fp); !ok {
		t.Error("override missing after lexicon failure, want correction applied")
	}
}

// captureSink records the samples it receives.
type captureSink struct {
	mu      sync.Mutex
	samples []fallback.Sample
	err     error
}

func (c *captureSink) AddSample(ctx context.Context, s fallback.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
	return c.err
}

func TestCorrectionFeedsSampleSink(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	env := newLearnEnv(t, learn.WithSampleSink(sink))
	ctx := context.Background()
	id, fp := env.enqueueClip(t, "hello wrold", 0.42)

	if err := env.learner.SubmitCorrection(ctx, review.KindClip, id, "hello world", "alice"); err != nil {
		t.Fatalf("SubmitCorrection() error = %v", err)
	}
	if len(sink.samples) != 1 {
		t.Fatalf("sink received %d samples, want 1", len(sink.samples))
	}
	s := sink.samples[0]
	if s.Fingerprint != fp || s.Text != "hello world" || s.Original != "hello wrold" {
		t.Errorf("sample = %+v, want corrected clip sample", s)
	}
	if !bytes.Equal(s.Audio, []byte("wav:hello wrold")) {
		t.Errorf("sample audio = %q, want the archived artifact", s.Audio)
	}
}

func TestDuplicateSampleDoesNotBlockCorrection(t *testing.T) {
	t.Parallel()

	sink := &captureSink{err: fallback.ErrDuplicateSample}
	env := newLearnEnv(t, learn.WithSampleSink(sink))
	ctx := context.Background()
	id, _ := env.enqueueClip(t, "hello wrold", 0.42)

	if err := env.learner.SubmitCorrection(ctx, review.KindClip, id, "hello world", "alice"); err != nil {
		t.Fatalf("SubmitCorrection() error = %v, want duplicate sample tolerated", err)
	}
}

func TestStatisticsRebuiltFromJournal(t *testing.T) {
	t.Parallel()

	env := newLearnEnv(t)
	ctx := context.Background()

	for _, tc := range []struct{ text, corrected string }{
		{"hello wrold", "hello world"},
		{"good mrning", "good morning"},
	} {
		id, _ := env.enqueueClip(t, tc.text, 0.4)
		if err := env.learner.SubmitCorrection(ctx, review.KindClip, id, tc.corrected, "alice"); err != nil {
			t.Fatalf("SubmitCorrection(%q) error = %v", tc.text, err)
		}
	}

	// A fresh learner over the same files replays the journal.
	cal, err := learn.NewCalibration(filepath.Join(env.dir, "calibration.json"))
	if err != nil {
		t.Fatalf("NewCalibration(reopen) error = %v", err)
	}
	reopened, err := learn.NewLearner(env.clips, env.words,
		learn.NewLog(filepath.Join(env.dir, "corrections.jsonl")), cal)
	if err != nil {
		t.Fatalf("NewLearner(reopen) error = %v", err)
	}
	rep := reopened.Report(0)
	if rep.TotalCorrections != 2 {
		t.Errorf("TotalCorrections after replay = %d, want 2", rep.TotalCorrections)
	}
	if rep.UniqueMisrecognized != 2 {
		t.Errorf("UniqueMisrecognized after replay = %d, want 2", rep.UniqueMisrecognized)
	}
}

func TestRebuildOverrideFromJournal(t *testing.T) {
	t.Parallel()

	env := newLearnEnv(t)
	ctx := context.Background()
	id, fp := env.enqueueClip(t, "hello wrold", 0.4)
	if err := env.learner.SubmitCorrection(ctx, review.KindClip, id, "hello world", "alice"); err != nil {
		t.Fatalf("SubmitCorrection() error = %v", err)
	}

	// Recovery: a fresh, empty override map refilled from the journal.
	fresh, err := vocab.Open(filepath.Join(env.dir, "rebuilt_override.json"))
	if err != nil {
		t.Fatalf("vocab.Open(fresh) error = %v", err)
	}
	cal, err := learn.NewCalibration(filepath.Join(env.dir, "calibration.json"))
	if err != nil {
		t.Fatalf("NewCalibration() error = %v", err)
	}
	recovered, err := learn.NewLearner(env.clips, env.words,
		learn.NewLog(filepath.Join(env.dir, "corrections.jsonl")), cal,
		learn.WithOverride(fresh))
	if err != nil {
		t.Fatalf("NewLearner() error = %v", err)
	}

	n, err := recovered.RebuildOverride(ctx)
	if err != nil {
		t.Fatalf("RebuildOverride() error = %v", err)
	}
	if n != 1 {
		t.Errorf("RebuildOverride() = %d entries, want 1", n)
	}
	if text, ok := fresh.Lookup(fp); !ok || text != "hello world" {
		t.Errorf("rebuilt Lookup() = (%q, %v), want (hello world, true)", text, ok)
	}
}

func TestPhoneticPairingOption(t *testing.T) {
	t.Parallel()

	env := newLearnEnv(t, learn.WithPhoneticPairing())
	ctx := context.Background()
	// "eight"→"ate" pairs phonetically but not by shared characters.
	id, _ := env.enqueueClip(t, "she eight lunch", 0.3)
	if err := env.learner.SubmitCorrection(ctx, review.KindClip, id, "she ate lunch", "alice"); err != nil {
		t.Fatalf("SubmitCorrection() error = %v", err)
	}
	rep := env.learner.Report(1)
	if len(rep.TopMisrecognized) != 1 {
		t.Fatalf("TopMisrecognized = %v, want one entry", rep.TopMisrecognized)
	}
	if got := rep.TopMisrecognized[0].Corrections["ate"]; got != 1 {
		t.Errorf("phonetic pairing Corrections = %v, want eight→ate",
			rep.TopMisrecognized[0].Corrections)
	}
}

func TestConcurrentCorrectionsBothLand(t *testing.T) {
	t.Parallel()

	env := newLearnEnv(t)
	ctx := context.Background()
	id1, fp1 := env.enqueueClip(t, "toe sandwich", 0.4)
	id2, fp2 := env.enqueueClip(t, "toona melt", 0.4)

	var wg sync.WaitGroup
	errc := make(chan error, 2)
	for _, sub := range []struct{ id, text string }{
		{id1, "tomato sandwich"},
		{id2, "tuna melt"},
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errc <- env.learner.SubmitCorrection(ctx, review.KindClip, sub.id, sub.text, "alice")
		}()
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		if err != nil {
			t.Errorf("SubmitCorrection() error = %v", err)
		}
	}

	rep := env.learner.Report(0)
	if rep.TotalCorrections != 2 {
		t.Errorf("TotalCorrections = %d, want 2", rep.TotalCorrections)
	}
	if rep.UniqueImproved != 2 || rep.UniqueMisrecognized != 2 {
		t.Errorf("unique words = (%d improved, %d misrecognized), want (2, 2)",
			rep.UniqueImproved, rep.UniqueMisrecognized)
	}
	if text, ok := env.override.Lookup(fp1); !ok || text != "tomato sandwich" {
		t.Errorf("override.Lookup(fp1) = (%q, %v), want (tomato sandwich, true)", text, ok)
	}
	if text, ok := env.override.Lookup(fp2); !ok || text != "tuna melt" {
		t.Errorf("override.Lookup(fp2) = (%q, %v), want (tuna melt, true)", text, ok)
	}
}
