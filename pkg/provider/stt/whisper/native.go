// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/hearkenlabs/hearken/pkg/audio"
	"github.com/hearkenlabs/hearken/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using the whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once and
// shared across all calls; each call runs in its own whisper context, so
// concurrent transcriptions do not interfere.
type NativeProvider struct {
	model        whisperlib.Model
	language     string
	confidence   float64
	rmsThreshold float64
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeConfidence sets the confidence attached to every candidate.
// Defaults to 0.8.
func WithNativeConfidence(conf float64) NativeOption {
	return func(p *NativeProvider) { p.confidence = stt.ClampConfidence(conf) }
}

// WithNativeRMSThreshold overrides the silence-rejection energy level.
// Set to 0 to disable the check.
func WithNativeRMSThreshold(threshold float64) NativeOption {
	return func(p *NativeProvider) { p.rmsThreshold = threshold }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:        model,
		language:     defaultLanguage,
		confidence:   defaultConfidence,
		rmsThreshold: defaultRMSThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *NativeProvider) Name() string { return "whisper-native" }

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider. Each call creates a fresh whisper
// context from the shared model; contexts are not thread-safe but the
// model is.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (stt.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return stt.Candidate{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
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

	samples := pcmToFloat32Mono(req.Audio, channels)

	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Candidate{}, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(shortLanguage(lang)); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Candidate{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Candidate{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	text := stt.Normalize(stripAnnotations(strings.Join(parts, " ")))
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

// shortLanguage reduces a BCP-47 tag to the bare code whisper.cpp expects
// ("en-US" -> "en").
func shortLanguage(lang string) string {
	for i := 0; i < len(lang); i++ {
		if lang[i] == '-' || lang[i] == '_' {
			return lang[:i]
		}
	}
	return lang
}
