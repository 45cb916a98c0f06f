// Package google provides an stt.Provider backed by the Google Cloud
// Speech-to-Text v1 API using synchronous (batch) recognition.
//
// Authentication follows the standard Google application-default
// credential chain; WithCredentialsFile overrides it for deployments that
// pin a service-account key.
package google

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/hearkenlabs/hearken/pkg/provider/stt"
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

const defaultLanguage = "en-US"

// Provider implements stt.Provider using Google Cloud Speech-to-Text.
type Provider struct {
	client   *speech.Client
	language string
}

// config holds optional construction settings.
type config struct {
	language        string
	credentialsFile string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithLanguage sets the default BCP-47 recognition language
// (e.g. "en-US", "de-DE"). Per-request languages take precedence.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithCredentialsFile points the client at a service-account key file
// instead of application-default credentials.
func WithCredentialsFile(path string) Option {
	return func(c *config) { c.credentialsFile = path }
}

// New constructs a Google Cloud Speech provider. The caller must call
// Close when the provider is no longer needed.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	cfg := &config{language: defaultLanguage}
	for _, o := range opts {
		o(cfg)
	}

	var clientOpts []option.ClientOption
	if cfg.credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.credentialsFile))
	}

	client, err := speech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("google: create speech client: %w", err)
	}
	return &Provider{client: client, language: cfg.language}, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "google" }

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Transcribe implements stt.Provider. Audio is submitted as LINEAR16 PCM
// in a single synchronous request, which the v1 API accepts for clips up
// to one minute.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Candidate, error) {
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	channels := req.Channels
	if channels <= 0 {
		channels = 1
	}

	resp, err := p.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:          speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:   int32(req.SampleRate),
			AudioChannelCount: int32(channels),
			LanguageCode:      lang,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: req.Audio},
		},
	})
	if err != nil {
		return stt.Candidate{}, fmt.Errorf("google: recognize: %w", err)
	}

	text, confidence := joinResults(resp.GetResults())
	if text == "" {
		return stt.Candidate{}, stt.ErrNoSpeech
	}

	return stt.Candidate{
		Backend:    p.Name(),
		Text:       stt.Normalize(text),
		Confidence: stt.ClampConfidence(confidence),
		Metadata:   map[string]string{"language": lang},
	}, nil
}

// joinResults concatenates the top alternative of each result segment and
// averages their reported confidences, weighted by transcript length so a
// long confident segment is not dragged down by a short mumbled one.
func joinResults(results []*speechpb.SpeechRecognitionResult) (string, float64) {
	var (
		parts       []string
		weightedSum float64
		totalLen    float64
	)
	for _, res := range results {
		alts := res.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		top := alts[0]
		transcript := strings.TrimSpace(top.GetTranscript())
		if transcript == "" {
			continue
		}
		parts = append(parts, transcript)
		w := float64(len(transcript))
		weightedSum += float64(top.GetConfidence()) * w
		totalLen += w
	}
	if totalLen == 0 {
		return "", 0
	}
	return strings.Join(parts, " "), weightedSum / totalLen
}
