package config_test

import (
	"errors"
	"testing"

	"github.com/hearkenlabs/hearken/internal/config"
	"github.com/hearkenlabs/hearken/pkg/provider/stt"
	sttmock "github.com/hearkenlabs/hearken/pkg/provider/stt/mock"
)

func TestRegistryCreateSTT(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	r.RegisterSTT("mock", func(entry config.BackendConfig) (stt.Provider, error) {
		return sttmock.New(entry.Name, sttmock.WithResult("hello", 0.9)), nil
	})

	p, err := r.CreateSTT(config.BackendConfig{Name: "mock"})
	if err != nil {
		t.Fatalf("CreateSTT returned error: %v", err)
	}
	if p.Name() != "mock" {
		t.Errorf("provider name = %q, want mock", p.Name())
	}
}

func TestRegistryCreateSTT_Unregistered(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	_, err := r.CreateSTT(config.BackendConfig{Name: "nope"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("CreateSTT error = %v, want ErrBackendNotRegistered", err)
	}
}

func TestRegistryOverwriteAndNames(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	r.RegisterSTT("b", func(config.BackendConfig) (stt.Provider, error) {
		return sttmock.New("first"), nil
	})
	r.RegisterSTT("a", func(config.BackendConfig) (stt.Provider, error) {
		return sttmock.New("second"), nil
	})
	r.RegisterSTT("b", func(config.BackendConfig) (stt.Provider, error) {
		return sttmock.New("third"), nil
	})

	names := r.STTNames()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("STTNames() = %v, want [a b]", names)
	}

	p, err := r.CreateSTT(config.BackendConfig{Name: "b"})
	if err != nil {
		t.Fatalf("CreateSTT returned error: %v", err)
	}
	if p.Name() != "third" {
		t.Errorf("re-registration should overwrite, got provider %q", p.Name())
	}
}
