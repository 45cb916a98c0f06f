package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists the backend names shipped with Hearken. Used by
// [Validate] to warn about likely typos; unknown names are not errors so
// third-party registrations keep working.
var ValidBackendNames = []string{"google", "openai", "whisper", "whisper-native", "deepgram", "mock"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Unknown YAML keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// An empty document means all defaults.
			return cfg, nil
		}
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Logging
	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Log.Format != "" && !cfg.Log.Format.IsValid() {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", cfg.Log.Format))
	}

	// Storage
	if cfg.Storage.Root == "" {
		errs = append(errs, fmt.Errorf("storage.root is required"))
	}

	// Arbiter thresholds
	if cfg.Arbiter.ReviewThreshold < 0 || cfg.Arbiter.ReviewThreshold > 1 {
		errs = append(errs, fmt.Errorf("arbiter.review_threshold %.2f is out of range [0, 1]", cfg.Arbiter.ReviewThreshold))
	}
	if cfg.Arbiter.EscalationThreshold < 0 || cfg.Arbiter.EscalationThreshold > 1 {
		errs = append(errs, fmt.Errorf("arbiter.escalation_threshold %.2f is out of range [0, 1]", cfg.Arbiter.EscalationThreshold))
	}
	if cfg.Arbiter.EscalationThreshold > cfg.Arbiter.ReviewThreshold {
		errs = append(errs, fmt.Errorf("arbiter.escalation_threshold %.2f exceeds arbiter.review_threshold %.2f", cfg.Arbiter.EscalationThreshold, cfg.Arbiter.ReviewThreshold))
	}
	if cfg.Arbiter.BackendTimeout < 0 {
		errs = append(errs, fmt.Errorf("arbiter.backend_timeout must not be negative"))
	}

	// Backends
	if len(cfg.Backends) == 0 {
		slog.Warn("no backends configured; transcription will rely on overrides and the local fallback model only")
	}
	backendNamesSeen := make(map[string]int, len(cfg.Backends))
	for i, b := range cfg.Backends {
		prefix := fmt.Sprintf("backends[%d]", i)
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := backendNamesSeen[b.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of backends[%d]", prefix, b.Name, prev))
		}
		backendNamesSeen[b.Name] = i

		if !slices.Contains(ValidBackendNames, b.Name) {
			slog.Warn("unknown backend name, may be a typo or third-party backend",
				"name", b.Name,
				"known", ValidBackendNames,
			)
		}

		switch b.Name {
		case "whisper":
			if b.ServerURL == "" {
				errs = append(errs, fmt.Errorf("%s.server_url is required for the whisper backend", prefix))
			}
		case "whisper-native":
			if b.ModelPath == "" {
				errs = append(errs, fmt.Errorf("%s.model_path is required for the whisper-native backend", prefix))
			}
		case "openai":
			if b.APIKeyEnv == "" && os.Getenv("OPENAI_API_KEY") == "" {
				slog.Warn("openai backend has no api_key_env and OPENAI_API_KEY is unset; backend construction will fail",
					"backend", prefix,
				)
			}
		}
		if b.DefaultConfidence < 0 || b.DefaultConfidence > 1 {
			errs = append(errs, fmt.Errorf("%s.default_confidence %.2f is out of range [0, 1]", prefix, b.DefaultConfidence))
		}
		if b.RMSThreshold < 0 {
			errs = append(errs, fmt.Errorf("%s.rms_threshold must not be negative", prefix))
		}
	}

	// Fallback
	if cfg.Fallback.SimilarityThreshold < 0 || cfg.Fallback.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("fallback.similarity_threshold %.2f is out of range [0, 1]", cfg.Fallback.SimilarityThreshold))
	}
	if cfg.Fallback.MinTrainingSamples < 1 {
		errs = append(errs, fmt.Errorf("fallback.min_training_samples must be at least 1, got %d", cfg.Fallback.MinTrainingSamples))
	}
	if cfg.Fallback.TrainingTimeout < 0 {
		errs = append(errs, fmt.Errorf("fallback.training_timeout must not be negative"))
	}
	if cfg.Fallback.Offline.Kind != "" && !cfg.Fallback.Offline.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("fallback.offline.kind %q is invalid; valid values: none, sherpa, whisper-native", cfg.Fallback.Offline.Kind))
	}
	switch cfg.Fallback.Offline.Kind {
	case OfflineSherpa:
		for _, missing := range missingSherpaFiles(cfg.Fallback.Offline) {
			errs = append(errs, fmt.Errorf("fallback.offline.%s is required when kind is sherpa", missing))
		}
	case OfflineWhisperNative:
		if cfg.Fallback.Offline.ModelPath == "" {
			errs = append(errs, fmt.Errorf("fallback.offline.model_path is required when kind is whisper-native"))
		}
	}

	// Lexicon profiler
	if cfg.Lexicon.Profiler.Provider != "" && cfg.Lexicon.Profiler.Model == "" {
		errs = append(errs, fmt.Errorf("lexicon.profiler.model is required when lexicon.profiler.provider is set"))
	}

	// Metrics
	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("metrics.listen_addr is required when metrics.enabled is true"))
	}

	return errors.Join(errs...)
}

// missingSherpaFiles returns the names of unset sherpa transducer fields.
func missingSherpaFiles(o OfflineConfig) []string {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"encoder", o.Encoder},
		{"decoder", o.Decoder},
		{"joiner", o.Joiner},
		{"tokens", o.Tokens},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}
