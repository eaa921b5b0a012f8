package main

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/simi/internal/config"
	"github.com/MrWong99/simi/pkg/audio/capture"
)

func TestBuildProviders_Mock(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(context.Background(), reg)

	cfg := &config.Config{}
	cfg.Providers.Live = config.ProviderEntry{Name: "mock"}
	cfg.Providers.LLM = []config.ProviderEntry{
		{Name: "mock", Options: map[string]any{"response": `{"ok":true}`}},
	}

	ps, err := buildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.Live == nil || ps.Live.Name() != "mock" {
		t.Errorf("live = %v, want mock", ps.Live)
	}
	if len(ps.LLM) != 1 || ps.LLM[0].Name() != "mock" {
		t.Errorf("llm chain = %v, want [mock]", ps.LLM)
	}
}

func TestBuildProviders_UnknownLive(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(context.Background(), reg)

	cfg := &config.Config{}
	cfg.Providers.Live = config.ProviderEntry{Name: "nope"}

	if _, err := buildProviders(cfg, reg); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestBuildProviders_NoLive(t *testing.T) {
	t.Parallel()

	ps, err := buildProviders(&config.Config{}, config.NewRegistry())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.Live != nil || len(ps.LLM) != 0 {
		t.Errorf("providers = %+v, want empty", ps)
	}
}

func TestProviderLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, model, want string
	}{
		{"", "", "(not configured)"},
		{"gemini", "", "gemini"},
		{"gemini", "flash", "gemini / flash"},
	}
	for _, tt := range tests {
		if got := providerLabel(tt.name, tt.model); got != tt.want {
			t.Errorf("providerLabel(%q, %q) = %q, want %q", tt.name, tt.model, got, tt.want)
		}
	}
}

func TestOpenAudio_DeviceNone(t *testing.T) {
	t.Parallel()

	a, closers, err := openAudio(config.AudioConfig{
		Device:           config.DeviceNone,
		OutputSampleRate: 24000,
		FramesPerBuffer:  960,
	})
	if err != nil {
		t.Fatalf("openAudio: %v", err)
	}
	if a.Speaker == nil {
		t.Fatal("no speaker")
	}
	if _, err := a.Microphone.Open(context.Background()); !errors.Is(err, capture.ErrPermissionDenied) {
		t.Errorf("microphone Open err = %v, want ErrPermissionDenied", err)
	}
	if len(closers) != 1 {
		t.Fatalf("got %d closers, want 1", len(closers))
	}
	if err := closers[0](); err != nil {
		t.Errorf("close speaker: %v", err)
	}
}
