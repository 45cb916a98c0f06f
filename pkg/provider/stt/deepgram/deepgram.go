// Package deepgram provides a Deepgram-backed STT provider using the
// prerecorded transcription REST API. Each clip is submitted as one
// synchronous request; Deepgram self-reports a confidence per
// alternative, which is passed through unchanged.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hearkenlabs/hearken/pkg/audio"
	"github.com/hearkenlabs/hearken/pkg/provider/stt"
)

const (
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"
	defaultTimeout   = 30 * time.Second
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en",
// "de-DE"). Per-request languages take precedence.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint points the provider at a self-hosted Deepgram deployment
// instead of the hosted API.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient replaces the default HTTP client, e.g. to tune the
// request timeout for long clips.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// Provider implements stt.Provider backed by the Deepgram prerecorded
// API. It is safe for concurrent use; each Transcribe call is an
// independent request.
type Provider struct {
	apiKey     string
	model      string
	language   string
	endpoint   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		endpoint:   deepgramEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "deepgram" }

// Transcribe implements stt.Provider. The PCM payload is wrapped in a WAV
// container and POSTed to the prerecorded transcription endpoint.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Candidate, error) {
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	channels := req.Channels
	if channels <= 0 {
		channels = 1
	}

	endpoint, err := p.buildURL(lang)
	if err != nil {
		return stt.Candidate{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	wav := audio.EncodeWAV(req.Audio, req.SampleRate, channels)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(wav))
	if err != nil {
		return stt.Candidate{}, fmt.Errorf("deepgram: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return stt.Candidate{}, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Candidate{}, fmt.Errorf("deepgram: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Candidate{}, fmt.Errorf("deepgram: read response body: %w", err)
	}

	alt, ok := bestAlternative(data)
	if !ok {
		return stt.Candidate{}, stt.ErrNoSpeech
	}

	text := stt.Normalize(alt.Transcript)
	if text == "" {
		return stt.Candidate{}, stt.ErrNoSpeech
	}

	return stt.Candidate{
		Backend:    p.Name(),
		Text:       text,
		Confidence: stt.ClampConfidence(alt.Confidence),
		Metadata:   map[string]string{"model": p.model, "language": lang},
	}, nil
}

// buildURL constructs the transcription endpoint URL with query parameters.
func (p *Provider) buildURL(lang string) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	// Candidates are normalized lowercase downstream; skip punctuation.
	q.Set("punctuate", "false")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON envelope returned by the prerecorded API.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type alternative struct {
	Transcript string
	Confidence float64
}

// bestAlternative extracts the first channel's first alternative. Returns
// false when the response carries no alternatives at all.
func bestAlternative(data []byte) (alternative, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return alternative{}, false
	}
	if len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return alternative{}, false
	}
	alt := resp.Results.Channels[0].Alternatives[0]
	return alternative{Transcript: alt.Transcript, Confidence: alt.Confidence}, true
}
