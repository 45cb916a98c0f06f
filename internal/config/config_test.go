package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hearkenlabs/hearken/internal/config"
	"gopkg.in/yaml.v3"
)

func TestLogLevelIsValid(t *testing.T) {
	t.Parallel()
	valid := []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError}
	for _, l := range valid {
		if !l.IsValid() {
			t.Errorf("LogLevel(%q).IsValid() = false, want true", l)
		}
	}
	for _, l := range []config.LogLevel{"", "trace", "INFO"} {
		if l.IsValid() {
			t.Errorf("LogLevel(%q).IsValid() = true, want false", l)
		}
	}
}

func TestLogFormatIsValid(t *testing.T) {
	t.Parallel()
	if !config.LogText.IsValid() || !config.LogJSON.IsValid() {
		t.Error("text and json should be valid log formats")
	}
	if config.LogFormat("xml").IsValid() {
		t.Error(`LogFormat("xml").IsValid() = true, want false`)
	}
}

func TestOfflineKindIsValid(t *testing.T) {
	t.Parallel()
	valid := []config.OfflineKind{config.OfflineNone, config.OfflineSherpa, config.OfflineWhisperNative}
	for _, k := range valid {
		if !k.IsValid() {
			t.Errorf("OfflineKind(%q).IsValid() = false, want true", k)
		}
	}
	if config.OfflineKind("vosk").IsValid() {
		t.Error(`OfflineKind("vosk").IsValid() = true, want false`)
	}
}

func TestDurationUnmarshalYAML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		want    time.Duration
		wantErr bool
	}{
		{name: "seconds string", yaml: `30s`, want: 30 * time.Second},
		{name: "compound string", yaml: `2m30s`, want: 2*time.Minute + 30*time.Second},
		{name: "integer nanoseconds", yaml: `1000000000`, want: time.Second},
		{name: "garbage", yaml: `soon`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var d config.Duration
			err := yaml.Unmarshal([]byte(tt.yaml), &d)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Unmarshal(%q) = %v, want error", tt.yaml, d)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal(%q) returned error: %v", tt.yaml, err)
			}
			if d.Std() != tt.want {
				t.Errorf("Unmarshal(%q) = %v, want %v", tt.yaml, d.Std(), tt.want)
			}
		})
	}
}

func TestStoragePaths(t *testing.T) {
	t.Parallel()
	s := config.StorageConfig{Root: filepath.Join("var", "hearken")}

	if got, want := s.ReviewsDir(), filepath.Join("var", "hearken", "reviews"); got != want {
		t.Errorf("ReviewsDir() = %q, want %q", got, want)
	}
	if got, want := s.CorrectionsPath(), filepath.Join("var", "hearken", "corrections.jsonl"); got != want {
		t.Errorf("CorrectionsPath() = %q, want %q", got, want)
	}
	if got, want := s.OverridePath(), filepath.Join("var", "hearken", "vocabulary_override.json"); got != want {
		t.Errorf("OverridePath() = %q, want %q", got, want)
	}
	if got, want := s.CalibrationPath(), filepath.Join("var", "hearken", "calibration.json"); got != want {
		t.Errorf("CalibrationPath() = %q, want %q", got, want)
	}
	if got, want := s.SamplesDir(), filepath.Join("var", "hearken", "samples"); got != want {
		t.Errorf("SamplesDir() = %q, want %q", got, want)
	}
}

func TestLexiconDirDerivedFromStorageRoot(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Storage.Root = "data"
	if got, want := cfg.LexiconDir(), filepath.Join("data", "lexicon"); got != want {
		t.Errorf("LexiconDir() = %q, want %q", got, want)
	}

	cfg.Lexicon.Dir = filepath.Join("elsewhere", "lexicon")
	if got := cfg.LexiconDir(); got != cfg.Lexicon.Dir {
		t.Errorf("LexiconDir() = %q, want explicit dir %q", got, cfg.Lexicon.Dir)
	}
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	cfg := config.Default()

	if cfg.Arbiter.ReviewThreshold != 0.7 {
		t.Errorf("default review_threshold = %v, want 0.7", cfg.Arbiter.ReviewThreshold)
	}
	if cfg.Arbiter.EscalationThreshold != 0.6 {
		t.Errorf("default escalation_threshold = %v, want 0.6", cfg.Arbiter.EscalationThreshold)
	}
	if cfg.Fallback.SimilarityThreshold != 0.7 {
		t.Errorf("default similarity_threshold = %v, want 0.7", cfg.Fallback.SimilarityThreshold)
	}
	if cfg.Fallback.MinTrainingSamples != 5 {
		t.Errorf("default min_training_samples = %v, want 5", cfg.Fallback.MinTrainingSamples)
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate(Default()) returned error: %v", err)
	}
}
