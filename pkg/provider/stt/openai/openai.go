// Package openai provides an stt.Provider backed by the OpenAI audio
// transcription API (whisper-1 and compatible models).
//
// The API reports no per-utterance confidence, so candidates carry a
// configurable default score; the arbiter's own estimator compensates for
// the missing signal.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/hearkenlabs/hearken/pkg/audio"
	"github.com/hearkenlabs/hearken/pkg/provider/stt"
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

const (
	defaultModel      = "whisper-1"
	defaultConfidence = 0.85
)

// Provider implements stt.Provider using the OpenAI transcription endpoint.
type Provider struct {
	client     oai.Client
	model      string
	confidence float64
}

// config holds optional configuration for the provider.
type config struct {
	model      string
	baseURL    string
	timeout    time.Duration
	confidence float64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel selects the transcription model. Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the default OpenAI API base URL, for compatible
// self-hosted endpoints.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDefaultConfidence sets the confidence attached to every candidate,
// since the API does not self-report one. Defaults to 0.85.
func WithDefaultConfidence(conf float64) Option {
	return func(c *config) { c.confidence = conf }
}

// New constructs an OpenAI transcription provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel, confidence: defaultConfidence}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.timeout))
	}

	return &Provider{
		client:     oai.NewClient(reqOpts...),
		model:      cfg.model,
		confidence: stt.ClampConfidence(cfg.confidence),
	}, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "openai" }

// Transcribe implements stt.Provider. The PCM payload is wrapped in a WAV
// container for the multipart upload.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Candidate, error) {
	channels := req.Channels
	if channels <= 0 {
		channels = 1
	}
	wav := audio.EncodeWAV(req.Audio, req.SampleRate, channels)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	if req.Language != "" {
		params.Language = param.NewOpt(shortLanguage(req.Language))
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Candidate{}, fmt.Errorf("openai: transcribe: %w", err)
	}

	text := stt.Normalize(resp.Text)
	if text == "" {
		return stt.Candidate{}, stt.ErrNoSpeech
	}

	return stt.Candidate{
		Backend:    p.Name(),
		Text:       text,
		Confidence: p.confidence,
		Metadata:   map[string]string{"model": p.model},
	}, nil
}

// shortLanguage reduces a BCP-47 tag to the bare ISO-639-1 code the
// transcription endpoint expects ("en-US" -> "en").
func shortLanguage(lang string) string {
	for i := 0; i < len(lang); i++ {
		if lang[i] == '-' || lang[i] == '_' {
			return lang[:i]
		}
	}
	return lang
}
