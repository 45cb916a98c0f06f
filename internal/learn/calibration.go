package learn

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	calibrationDeciles = 10

	// maxCalibrationSamples bounds the outcome memory; buckets are
	// rebuilt from the most recent window on every record.
	maxCalibrationSamples = 1000
)

// CalibrationOutcome is one reviewed prediction: the confidence the
// arbiter reported and whether the transcription turned out correct.
type CalibrationOutcome struct {
	Confidence float64 `json:"confidence"`
	Correct    bool    `json:"correct"`
}

// DecileStat is one calibration histogram bucket.
type DecileStat struct {
	// Low and High bound the decile, e.g. 0.4–0.5.
	Low     float64 `json:"low"`
	High    float64 `json:"high"`
	Correct int     `json:"correct"`
	Total   int     `json:"total"`
	// Accuracy is Correct/Total, 0 when the bucket is empty.
	Accuracy float64 `json:"accuracy"`
}

// Calibration tracks how often predictions at each confidence decile
// turn out correct. Not safe for concurrent use on its own; the Learner
// serializes access under its global lock.
type Calibration struct {
	path    string
	samples []CalibrationOutcome
	buckets [calibrationDeciles]DecileStat
}

// NewCalibration opens (or starts empty) a calibration store persisted
// at path.
func NewCalibration(path string) (*Calibration, error) {
	c := &Calibration{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.rebuild()
			return c, nil
		}
		return nil, fmt.Errorf("learn: read calibration: %w", err)
	}
	var persisted struct {
		Samples []CalibrationOutcome `json:"samples"`
	}
	if err := json.Unmarshal(data, &persisted); err != nil {
		return nil, fmt.Errorf("learn: decode calibration %s: %w", path, err)
	}
	c.samples = persisted.Samples
	c.trim()
	c.rebuild()
	return c, nil
}

// RecordOutcome adds one reviewed outcome, trims to the sample window,
// rebuilds the histogram, and persists.
func (c *Calibration) RecordOutcome(confidence float64, correct bool) error {
	c.samples = append(c.samples, CalibrationOutcome{Confidence: confidence, Correct: correct})
	c.trim()
	c.rebuild()
	return c.save()
}

// AccuracyFor returns the empirical correctness rate observed for
// predictions in confidence's decile. ok is false when the bucket holds
// no outcomes yet.
func (c *Calibration) AccuracyFor(confidence float64) (accuracy float64, ok bool) {
	b := c.buckets[decileIndex(confidence)]
	if b.Total == 0 {
		return 0, false
	}
	return b.Accuracy, true
}

// Deciles returns a copy of the histogram, lowest decile first.
func (c *Calibration) Deciles() []DecileStat {
	out := make([]DecileStat, calibrationDeciles)
	copy(out, c.buckets[:])
	return out
}

// SampleCount returns how many outcomes are in the current window.
func (c *Calibration) SampleCount() int { return len(c.samples) }

func (c *Calibration) trim() {
	if n := len(c.samples); n > maxCalibrationSamples {
		c.samples = append([]CalibrationOutcome(nil), c.samples[n-maxCalibrationSamples:]...)
	}
}

func (c *Calibration) rebuild() {
	for i := range c.buckets {
		c.buckets[i] = DecileStat{
			Low:  float64(i) / calibrationDeciles,
			High: float64(i+1) / calibrationDeciles,
		}
	}
	for _, s := range c.samples {
		b := &c.buckets[decileIndex(s.Confidence)]
		b.Total++
		if s.Correct {
			b.Correct++
		}
	}
	for i := range c.buckets {
		if b := &c.buckets[i]; b.Total > 0 {
			b.Accuracy = float64(b.Correct) / float64(b.Total)
		}
	}
}

func (c *Calibration) save() error {
	payload := struct {
		Samples []CalibrationOutcome `json:"samples"`
		Deciles []DecileStat         `json:"deciles"`
	}{Samples: c.samples, Deciles: c.Deciles()}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("learn: encode calibration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("learn: create calibration dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("learn: write calibration: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("learn: write calibration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("learn: write calibration: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("learn: write calibration: %w", err)
	}
	return nil
}

// decileIndex maps a confidence to its histogram bucket; 1.0 lands in
// the top decile.
func decileIndex(confidence float64) int {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	idx := int(confidence * calibrationDeciles)
	if idx >= calibrationDeciles {
		idx = calibrationDeciles - 1
	}
	return idx
}
