package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// KnownProviders lists the provider names per kind. [Validate] warns about
// names outside these lists; third-party factories may still be registered.
var KnownProviders = map[string][]string{
	"live": {"gemini", "mock"},
	"llm":  {"gemini", "openai", "anyllm", "mock"},
}

// Load reads, expands, decodes and validates the YAML file at path.
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

// LoadFromReader decodes YAML from r. ${VAR} references are expanded from the
// environment before decoding, so secrets can live in .env files.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	warnUnknownProvider("live", cfg.Providers.Live.Name)
	if cfg.Providers.Live.Name == "gemini" && cfg.Providers.Live.APIKey == "" {
		slog.Warn("providers.live.api_key is empty; voice sessions will fail to connect")
	}

	seen := make(map[string]int, len(cfg.Providers.LLM))
	for i, e := range cfg.Providers.LLM {
		prefix := fmt.Sprintf("providers.llm[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		warnUnknownProvider("llm", e.Name)
		key := e.Name + "/" + e.Option("backend") + "/" + e.Model
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s duplicates providers.llm[%d]", prefix, prev))
		}
		seen[key] = i
		if e.Name == "anyllm" && e.Option("backend") == "" {
			errs = append(errs, fmt.Errorf("%s.options.backend is required for anyllm", prefix))
		}
	}
	if len(cfg.Providers.LLM) == 0 {
		slog.Warn("no providers.llm configured; content helpers will return fallbacks")
	}

	if !cfg.Audio.Device.IsValid() {
		errs = append(errs, fmt.Errorf("audio.device %q is invalid; valid values: portaudio, none", cfg.Audio.Device))
	}
	for name, v := range map[string]int{
		"audio.input_sample_rate":  cfg.Audio.InputSampleRate,
		"audio.input_channels":     cfg.Audio.InputChannels,
		"audio.output_sample_rate": cfg.Audio.OutputSampleRate,
		"audio.chunk_size":         cfg.Audio.ChunkSize,
		"audio.frames_per_buffer":  cfg.Audio.FramesPerBuffer,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}

	if !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}

	return errors.Join(errs...)
}

func warnUnknownProvider(kind, name string) {
	if name == "" || slices.Contains(KnownProviders[kind], name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party factory",
		"kind", kind, "name", name, "known", KnownProviders[kind])
}

// decodeBytes is Load for in-memory data.
func decodeBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}
