package fallback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/hearkenlabs/hearken/pkg/audio"
	"github.com/hearkenlabs/hearken/pkg/provider/stt"
)

// SherpaConfig locates a sherpa-onnx transducer model on disk.
type SherpaConfig struct {
	// Encoder, Decoder, and Joiner are the transducer ONNX files.
	Encoder string
	Decoder string
	Joiner  string

	// Tokens is the token table shipped with the model.
	Tokens string

	// NumThreads is the decoding thread count. Defaults to 1.
	NumThreads int

	// SampleRate is the PCM rate the model expects. Defaults to 16000.
	SampleRate int
}

// SherpaRecognizer decodes clips with a sherpa-onnx offline transducer.
// Streams are not safe for concurrent decoding, so calls serialize on an
// internal mutex.
type SherpaRecognizer struct {
	mu         sync.Mutex
	recognizer *sherpa.OfflineRecognizer
}

var _ OfflineRecognizer = (*SherpaRecognizer)(nil)

// NewSherpaRecognizer loads the transducer model named by cfg.
func NewSherpaRecognizer(cfg SherpaConfig) (*SherpaRecognizer, error) {
	if cfg.Encoder == "" || cfg.Decoder == "" || cfg.Joiner == "" || cfg.Tokens == "" {
		return nil, errors.New("fallback: sherpa model requires encoder, decoder, joiner, and tokens paths")
	}
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = 1
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultModelSampleRate
	}

	sherpaConfig := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: cfg.SampleRate,
			FeatureDim: 80,
		},
		ModelConfig: sherpa.OfflineModelConfig{
			Transducer: sherpa.OfflineTransducerModelConfig{
				Encoder: cfg.Encoder,
				Decoder: cfg.Decoder,
				Joiner:  cfg.Joiner,
			},
			Tokens:     cfg.Tokens,
			NumThreads: cfg.NumThreads,
		},
	}
	rec := sherpa.NewOfflineRecognizer(&sherpaConfig)
	if rec == nil {
		return nil, fmt.Errorf("fallback: load sherpa model %q", cfg.Encoder)
	}
	return &SherpaRecognizer{recognizer: rec}, nil
}

// Recognize decodes one PCM clip. An empty transcription is a valid
// outcome for silence.
func (r *SherpaRecognizer) Recognize(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	samples := audio.Float32Samples(pcm)
	if len(samples) == 0 {
		return "", nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	stream := sherpa.NewOfflineStream(r.recognizer)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(sampleRate, samples)
	r.recognizer.Decode(stream)
	return stream.GetResult().Text, nil
}

// Close releases the loaded model.
func (r *SherpaRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(r.recognizer)
		r.recognizer = nil
	}
	return nil
}

// ProviderRecognizer adapts a speech backend into an [OfflineRecognizer],
// letting a local whisper build serve as the model's last-resort method.
type ProviderRecognizer struct {
	provider stt.Provider
}

var _ OfflineRecognizer = (*ProviderRecognizer)(nil)

// NewProviderRecognizer wraps p as an offline recognizer.
func NewProviderRecognizer(p stt.Provider) *ProviderRecognizer {
	return &ProviderRecognizer{provider: p}
}

// Recognize transcribes the clip through the wrapped backend. No-speech
// outcomes map to an empty transcription rather than an error.
func (r *ProviderRecognizer) Recognize(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	cand, err := r.provider.Transcribe(ctx, stt.Request{
		Audio:      pcm,
		SampleRate: sampleRate,
		Channels:   1,
	})
	if err != nil {
		if errors.Is(err, stt.ErrNoSpeech) {
			return "", nil
		}
		return "", err
	}
	return cand.Text, nil
}
