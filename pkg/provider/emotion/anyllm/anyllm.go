// Package anyllm provides an emotion.Profiler backed by
// github.com/mozilla-ai/any-llm-go, so the word-labelling model can be
// any OpenAI-compatible provider (OpenAI, DeepSeek, Ollama, Mistral,
// Groq, and friends) selected by configuration.
//
// Usage:
//
//	p, err := anyllm.New("deepseek", "deepseek-chat", anyllmlib.WithAPIKey("sk-..."))
//	profile, err := p.Profile(ctx, "serendipity")
package anyllm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/hearkenlabs/hearken/pkg/provider/emotion"
)

// Compile-time assertion that Profiler satisfies emotion.Profiler.
var _ emotion.Profiler = (*Profiler)(nil)

const systemPrompt = `You label single words with emotion weights.
Given one word, respond with only a JSON object mapping emotion labels
(joy, sadness, anger, fear, surprise, neutral) to weights between 0 and 1.
No prose, no code fences. Example: {"joy":0.7,"neutral":0.3}`

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 128
)

// backendFactories maps provider names to any-llm-go constructors. Missing
// provider names fail construction, not profiling.
var backendFactories = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
}

// Profiler implements emotion.Profiler by asking a chat-completion model
// to emit a JSON emotion profile for one word.
type Profiler struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Profiler backed by the named LLM provider. providerName is
// one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq". opts are any-llm-go options (anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL); without an API key option the provider falls
// back to its environment variable (OPENAI_API_KEY, DEEPSEEK_API_KEY, …).
func New(providerName, model string, opts ...anyllmlib.Option) (*Profiler, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	factory, ok := backendFactories[strings.ToLower(providerName)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported provider %q; supported: %s",
			providerName, strings.Join(supportedProviders(), ", "))
	}
	backend, err := factory(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Profiler{backend: backend, model: model}, nil
}

// Profile implements emotion.Profiler.
func (p *Profiler) Profile(ctx context.Context, word string) (emotion.Profile, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return nil, fmt.Errorf("anyllm: word must not be empty")
	}

	temp := defaultTemperature
	maxTokens := defaultMaxTokens
	params := anyllmlib.CompletionParams{
		Model: p.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: word},
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	}

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: profile %q: %w", word, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: profile %q: empty choices in response", word)
	}

	profile, err := parseProfile(resp.Choices[0].Message.ContentString())
	if err != nil {
		return nil, fmt.Errorf("anyllm: profile %q: %w", word, err)
	}
	return profile, nil
}

// parseProfile extracts the JSON object from a model response, tolerating
// code fences and surrounding prose, and clamps weights to [0,1].
func parseProfile(content string) (emotion.Profile, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response %q", content)
	}

	var raw map[string]float64
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("parse profile JSON: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty profile in response")
	}

	profile := make(emotion.Profile, len(raw))
	for label, w := range raw {
		if w < 0 {
			w = 0
		}
		if w > 1 {
			w = 1
		}
		profile[strings.ToLower(strings.TrimSpace(label))] = w
	}
	return profile, nil
}

func supportedProviders() []string {
	names := make([]string, 0, len(backendFactories))
	for name := range backendFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
