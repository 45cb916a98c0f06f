package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hearkenlabs/hearken/internal/observe"
	"github.com/hearkenlabs/hearken/pkg/audio"
	"github.com/hearkenlabs/hearken/pkg/provider/stt"
)

const (
	samplesFile = "samples.json"
	modelFile   = "model.json"

	defaultSimilarityThreshold = 0.7
	defaultMinTrainingSamples  = 5
	defaultTrainingTimeout     = 2 * time.Minute
	defaultModelSampleRate     = 16000

	// featureCap bounds feature-match confidence; only exact hash recall
	// reports full confidence.
	featureCap = 0.9

	// offlineConfidence is the fixed score for offline-recognizer output,
	// which carries no per-clip evidence.
	offlineConfidence = 0.6
)

// OfflineRecognizer decodes a clip without any remote backend. It is the
// model's last-resort method; implementations wrap sherpa-onnx or a local
// whisper build.
type OfflineRecognizer interface {
	Recognize(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

// storedSample is one entry of the on-disk sample index. The clip's WAV
// artifact lives alongside the index as <fingerprint>.wav.
type storedSample struct {
	Fingerprint audio.Fingerprint `json:"fingerprint"`
	Text        string            `json:"text"`
	Original    string            `json:"original,omitempty"`
	Confidence  float64           `json:"confidence"`
	AddedAt     time.Time         `json:"added_at"`
}

// trainedModel is the persisted outcome of one training run. Entries hold
// feature vectors in the scaled space.
type trainedModel struct {
	Version   string       `json:"version"`
	TrainedAt time.Time    `json:"trained_at"`
	Clusters  int          `json:"clusters"`
	Scaler    scaler       `json:"scaler"`
	Entries   []modelEntry `json:"entries"`
}

type modelEntry struct {
	Fingerprint audio.Fingerprint `json:"fingerprint"`
	Text        string            `json:"text"`
	Label       int               `json:"label"`
	Features    []float64         `json:"features"`
}

// Model is the locally trained recognizer. Samples accumulate as
// corrections are submitted; Train bakes them into a queryable model;
// Recognize answers by exact recall, feature similarity, or the optional
// offline recognizer.
type Model struct {
	dir          string
	sampleRate   int
	similarity   float64
	minSamples   int
	trainTimeout time.Duration
	offline      OfflineRecognizer
	index        *PGIndex
	metrics      *observe.Metrics

	mu      sync.RWMutex
	samples []storedSample
	trained *trainedModel
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithSimilarityThreshold sets the minimum cosine similarity for the
// feature method to return a match.
func WithSimilarityThreshold(t float64) ModelOption {
	return func(m *Model) { m.similarity = t }
}

// WithMinTrainingSamples sets the smallest sample count Train accepts.
func WithMinTrainingSamples(n int) ModelOption {
	return func(m *Model) { m.minSamples = n }
}

// WithTrainingTimeout bounds a single training run. Zero disables the
// bound.
func WithTrainingTimeout(d time.Duration) ModelOption {
	return func(m *Model) { m.trainTimeout = d }
}

// WithSampleRate sets the PCM sample rate Recognize assumes for incoming
// clips.
func WithSampleRate(rate int) ModelOption {
	return func(m *Model) { m.sampleRate = rate }
}

// WithOfflineRecognizer enables the offline method.
func WithOfflineRecognizer(r OfflineRecognizer) ModelOption {
	return func(m *Model) { m.offline = r }
}

// WithIndex mirrors feature vectors into a Postgres index and runs
// nearest-neighbor queries server-side.
func WithIndex(idx *PGIndex) ModelOption {
	return func(m *Model) { m.index = idx }
}

// WithMetrics sets the metrics sink. Defaults to the package-level
// instruments.
func WithMetrics(met *observe.Metrics) ModelOption {
	return func(m *Model) { m.metrics = met }
}

// NewModel opens (or creates) the model rooted at dir, loading any
// persisted sample index and trained model.
func NewModel(dir string, opts ...ModelOption) (*Model, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fallback: create model dir: %w", err)
	}
	m := &Model{
		dir:          dir,
		sampleRate:   defaultModelSampleRate,
		similarity:   defaultSimilarityThreshold,
		minSamples:   defaultMinTrainingSamples,
		trainTimeout: defaultTrainingTimeout,
		metrics:      observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) load() error {
	data, err := os.ReadFile(filepath.Join(m.dir, samplesFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("fallback: read sample index: %w", err)
	default:
		if err := json.Unmarshal(data, &m.samples); err != nil {
			return fmt.Errorf("fallback: decode sample index: %w", err)
		}
	}

	data, err = os.ReadFile(filepath.Join(m.dir, modelFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("fallback: read trained model: %w", err)
	}
	var trained trainedModel
	if err := json.Unmarshal(data, &trained); err != nil {
		return fmt.Errorf("fallback: decode trained model: %w", err)
	}
	m.trained = &trained
	return nil
}

// AddSample stores one correction as training material: the clip artifact
// next to the index, plus a feature vector in the Postgres index when one
// is configured. A sample whose fingerprint is already stored is rejected
// with [ErrDuplicateSample].
func (m *Model) AddSample(ctx context.Context, s Sample) error {
	if s.Fingerprint.IsZero() {
		return errors.New("fallback: sample fingerprint is zero")
	}
	text := stt.Normalize(s.Text)
	if text == "" {
		return errors.New("fallback: sample text is empty")
	}

	m.mu.Lock()
	for _, have := range m.samples {
		if have.Fingerprint == s.Fingerprint {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateSample, s.Fingerprint.Prefix(8))
		}
	}

	if len(s.Audio) > 0 {
		if err := os.WriteFile(m.artifactPath(s.Fingerprint), s.Audio, 0o644); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("fallback: write sample artifact: %w", err)
		}
	}
	m.samples = append(m.samples, storedSample{
		Fingerprint: s.Fingerprint,
		Text:        text,
		Original:    stt.Normalize(s.Original),
		Confidence:  s.Confidence,
		AddedAt:     time.Now().UTC(),
	})
	if err := m.saveSamplesLocked(); err != nil {
		m.samples = m.samples[:len(m.samples)-1]
		m.mu.Unlock()
		return err
	}
	count := len(m.samples)
	m.mu.Unlock()

	if m.index != nil && len(s.Audio) > 0 {
		if err := m.indexSample(ctx, s.Fingerprint, text, s.Audio); err != nil {
			observe.Logger(ctx).Warn("sample index insert failed",
				"fingerprint", s.Fingerprint.Prefix(8), "error", err)
		}
	}

	observe.Logger(ctx).Debug("training sample stored",
		"fingerprint", s.Fingerprint.Prefix(8), "text", text, "samples", count)
	return nil
}

func (m *Model) indexSample(ctx context.Context, fp audio.Fingerprint, text string, wav []byte) error {
	pcm, rate, _, err := audio.DecodeWAV(wav)
	if err != nil {
		return err
	}
	return m.index.Add(ctx, fp, text, extractFeatures(pcm, rate))
}

// Train bakes the accumulated samples into a new model: per-sample
// feature vectors extracted in parallel, near-duplicate texts clustered
// under one label, and the result swapped in atomically under a fresh
// version id. The previous model stays in place on any failure, including
// [ErrInsufficientData].
func (m *Model) Train(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "fallback.train")
	defer span.End()
	log := observe.Logger(ctx)
	start := time.Now()

	m.mu.RLock()
	snapshot := slices.Clone(m.samples)
	m.mu.RUnlock()

	if len(snapshot) < m.minSamples {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(snapshot), m.minSamples)
	}

	if m.trainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.trainTimeout)
		defer cancel()
	}

	vectors := make([][]float64, len(snapshot))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, s := range snapshot {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			vec, err := m.sampleFeatures(s.Fingerprint)
			if err != nil {
				log.Warn("feature extraction failed, using zero vector",
					"fingerprint", s.Fingerprint.Prefix(8), "error", err)
				vec = make([]float64, FeatureDim)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("fallback: train: %w", err)
	}

	sc := fitScaler(vectors)
	texts := make([]string, len(snapshot))
	for i, s := range snapshot {
		texts[i] = s.Text
	}
	labels, clusters := clusterTexts(texts)

	trained := &trainedModel{
		Version:   uuid.NewString(),
		TrainedAt: time.Now().UTC(),
		Clusters:  clusters,
		Scaler:    sc,
		Entries:   make([]modelEntry, len(snapshot)),
	}
	for i, s := range snapshot {
		trained.Entries[i] = modelEntry{
			Fingerprint: s.Fingerprint,
			Text:        s.Text,
			Label:       labels[i],
			Features:    sc.transform(vectors[i]),
		}
	}

	if err := m.saveModel(trained); err != nil {
		return err
	}
	m.mu.Lock()
	m.trained = trained
	m.mu.Unlock()

	m.metrics.RecordTraining(ctx, time.Since(start).Seconds())
	log.Info("fallback model trained",
		"samples", len(snapshot),
		"clusters", clusters,
		"version", trained.Version,
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// sampleFeatures extracts the feature vector of one stored artifact.
func (m *Model) sampleFeatures(fp audio.Fingerprint) ([]float64, error) {
	wav, err := os.ReadFile(m.artifactPath(fp))
	if err != nil {
		return nil, err
	}
	pcm, rate, _, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, err
	}
	return extractFeatures(pcm, rate), nil
}

// Recognize answers for one PCM clip, trying methods from strongest to
// weakest: exact fingerprint recall, feature similarity against the
// trained model (or the Postgres index when configured), then the
// optional offline recognizer. A zero Prediction with a nil error is the
// normal cold-start outcome.
func (m *Model) Recognize(ctx context.Context, pcm []byte) (Prediction, error) {
	ctx, span := observe.StartSpan(ctx, "fallback.recognize")
	defer span.End()

	if len(pcm) == 0 {
		return Prediction{}, nil
	}
	fp := audio.Hash(pcm)

	m.mu.RLock()
	samples := m.samples
	trained := m.trained
	m.mu.RUnlock()

	// Exact recall: this clip was corrected before.
	for _, s := range samples {
		if s.Fingerprint == fp {
			return Prediction{Text: s.Text, Confidence: 1.0, Method: MethodHash}, nil
		}
	}

	if pred, ok := m.nearestByFeatures(ctx, trained, pcm); ok {
		return pred, nil
	}

	if m.offline != nil {
		text, err := m.offline.Recognize(ctx, pcm, m.sampleRate)
		if err != nil {
			observe.Logger(ctx).Warn("offline recognizer failed", "error", err)
		} else if text = stt.Normalize(text); text != "" {
			return Prediction{
				Text:       text,
				Confidence: offlineConfidence,
				Method:     MethodOffline,
			}, nil
		}
	}

	return Prediction{}, nil
}

// nearestByFeatures runs the feature-similarity method. The Postgres
// index answers when configured; on index failure or absence the trained
// in-memory model is scanned.
func (m *Model) nearestByFeatures(ctx context.Context, trained *trainedModel, pcm []byte) (Prediction, bool) {
	query := extractFeatures(pcm, m.sampleRate)

	if m.index != nil {
		text, similarity, err := m.index.Nearest(ctx, query)
		if err == nil {
			if text != "" && similarity > m.similarity {
				return Prediction{
					Text:       text,
					Confidence: math.Min(similarity, featureCap),
					Method:     MethodFeatures,
				}, true
			}
			return Prediction{}, false
		}
		observe.Logger(ctx).Warn("sample index query failed, matching in memory", "error", err)
	}

	if trained == nil || len(trained.Entries) == 0 {
		return Prediction{}, false
	}
	scaled := trained.Scaler.transform(query)
	var bestSim float64
	var bestText string
	for i := range trained.Entries {
		if sim := cosineSimilarity(scaled, trained.Entries[i].Features); sim > bestSim {
			bestSim = sim
			bestText = trained.Entries[i].Text
		}
	}
	if bestText == "" || bestSim <= m.similarity {
		return Prediction{}, false
	}
	return Prediction{
		Text:       bestText,
		Confidence: math.Min(bestSim, featureCap),
		Method:     MethodFeatures,
	}, true
}

// Info describes the model's current state for status reporting.
type Info struct {
	SampleCount  int       `json:"sample_count"`
	UniqueTexts  int       `json:"unique_texts"`
	MinSamples   int       `json:"min_samples"`
	Trained      bool      `json:"trained"`
	Version      string    `json:"version,omitempty"`
	TrainedAt    time.Time `json:"trained_at,omitzero"`
	Clusters     int       `json:"clusters,omitempty"`
	OfflineReady bool      `json:"offline_ready"`
	Indexed      bool      `json:"indexed"`
}

// Info reports sample counts and training state.
func (m *Model) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	texts := make(map[string]struct{}, len(m.samples))
	for _, s := range m.samples {
		texts[s.Text] = struct{}{}
	}
	info := Info{
		SampleCount:  len(m.samples),
		UniqueTexts:  len(texts),
		MinSamples:   m.minSamples,
		OfflineReady: m.offline != nil,
		Indexed:      m.index != nil,
	}
	if m.trained != nil {
		info.Trained = true
		info.Version = m.trained.Version
		info.TrainedAt = m.trained.TrainedAt
		info.Clusters = m.trained.Clusters
	}
	return info
}

func (m *Model) artifactPath(fp audio.Fingerprint) string {
	return filepath.Join(m.dir, fp.String()+".wav")
}

func (m *Model) saveSamplesLocked() error {
	if err := writeJSON(filepath.Join(m.dir, samplesFile), m.samples); err != nil {
		return fmt.Errorf("fallback: save sample index: %w", err)
	}
	return nil
}

func (m *Model) saveModel(trained *trainedModel) error {
	if err := writeJSON(filepath.Join(m.dir, modelFile), trained); err != nil {
		return fmt.Errorf("fallback: save trained model: %w", err)
	}
	return nil
}

// writeJSON persists v atomically: full write to a temp file in the same
// directory, then rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
