// Package whisper provides local whisper.cpp-backed STT providers.
//
// Provider connects to a running whisper-server binary (which exposes a
// REST API at POST /inference) and submits each clip as one batch
// inference request. NativeProvider links whisper.cpp directly via CGO and
// skips the HTTP hop entirely.
//
// whisper.cpp reports no per-utterance confidence, so candidates carry a
// configurable default score.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	)
//	cand, err := p.Transcribe(ctx, stt.Request{Audio: pcm, SampleRate: 16000})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hearkenlabs/hearken/pkg/audio"
	"github.com/hearkenlabs/hearken/pkg/provider/stt"
)

const (
	// defaultRMSThreshold is the root-mean-square energy level (in 16-bit
	// PCM units) below which a clip is considered silent and rejected
	// without an inference call. The maximum possible value for 16-bit
	// audio is 32 767; 300 corresponds to near-silence.
	defaultRMSThreshold = 300.0

	defaultLanguage   = "en"
	defaultConfidence = 0.8
	defaultTimeout    = 30 * time.Second
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty, the default, the server uses
// whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code sent to the whisper.cpp
// server (e.g., "en", "de", "fr"). Defaults to "en". Per-request languages
// take precedence.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient replaces the default HTTP client, e.g. to tune the
// request timeout for large models on slow hardware.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// WithDefaultConfidence sets the confidence attached to every candidate.
// Defaults to 0.8.
func WithDefaultConfidence(conf float64) Option {
	return func(p *Provider) {
		p.confidence = stt.ClampConfidence(conf)
	}
}

// WithRMSThreshold overrides the silence-rejection energy level. A clip
// whose RMS falls below it is reported as ErrNoSpeech without contacting
// the server. Set to 0 to disable the check.
func WithRMSThreshold(threshold float64) Option {
	return func(p *Provider) {
		p.rmsThreshold = threshold
	}
}

// Provider implements stt.Provider backed by a local whisper.cpp HTTP
// server. It is safe for concurrent use; each Transcribe call is an
// independent request.
type Provider struct {
	serverURL    string
	model        string
	language     string
	confidence   float64
	rmsThreshold float64
	httpClient   *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server
// at serverURL (e.g., "http://localhost:8080"). serverURL must be
// non-empty. Functional options may be provided to override defaults.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}

	p := &Provider{
		serverURL:    strings.TrimRight(serverURL, "/"),
		language:     defaultLanguage,
		confidence:   defaultConfidence,
		rmsThreshold: defaultRMSThreshold,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "whisper" }

// Transcribe implements stt.Provider. The PCM payload is wrapped in a WAV
// container and POSTed to the /inference endpoint as multipart/form-data.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Candidate, error) {
	if p.rmsThreshold > 0 && audio.RMS(req.Audio) < p.rmsThreshold {
		return stt.Candidate{}, stt.ErrNoSpeech
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	channels := req.Channels
	if channels <= 0 {
		channels = 1
	}

	raw, err := p.infer(ctx, audio.EncodeWAV(req.Audio, req.SampleRate, channels), lang)
	if err != nil {
		return stt.Candidate{}, err
	}

	text := stt.Normalize(stripAnnotations(raw))
	if text == "" {
		return stt.Candidate{}, stt.ErrNoSpeech
	}

	return stt.Candidate{
		Backend:    p.Name(),
		Text:       text,
		Confidence: p.confidence,
		Metadata:   map[string]string{"language": lang},
	}, nil
}

// infer POSTs a WAV payload to the whisper.cpp /inference endpoint and
// returns the transcribed text.
func (p *Provider) infer(ctx context.Context, wav []byte, language string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	// Primary audio field.
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	// Optional hint fields.
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := p.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return result.Text, nil
}

// stripAnnotations removes whisper.cpp's non-speech markers, such as
// "[BLANK_AUDIO]", "[MUSIC]" or "(wind blowing)", so silent clips reduce
// to an empty transcript.
func stripAnnotations(text string) string {
	var b strings.Builder
	depth := 0
	for _, r := range text {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 {
				b.WriteRune(r)
			}
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
