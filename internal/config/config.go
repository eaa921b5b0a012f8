// Package config provides the configuration schema, loader, provider registry
// and file watcher for simi.
package config

import "github.com/MrWong99/simi/internal/persona"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// AudioDevice selects the audio backend.
type AudioDevice string

const (
	// DevicePortAudio uses the system microphone and speaker. Requires a
	// build with the portaudio tag.
	DevicePortAudio AudioDevice = "portaudio"

	// DeviceNone disables the microphone; playback is rendered to a silent
	// sink. Voice sessions fail to start.
	DeviceNone AudioDevice = "none"
)

// IsValid reports whether d is a recognised device.
func (d AudioDevice) IsValid() bool {
	return d == DevicePortAudio || d == DeviceNone
}

// Config is the root configuration, usually loaded with [Load].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Persona   PersonaConfig   `yaml:"persona"`
	Audio     AudioConfig     `yaml:"audio"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP API, e.g. ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds PEM file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the backends.
type ProvidersConfig struct {
	// Live is the realtime voice provider.
	Live ProviderEntry `yaml:"live"`

	// LLM is the ordered fallback chain for the content helpers. Empty means
	// every content call returns its fallback.
	LLM []ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the configuration block shared by all provider kinds. Name
// selects the factory in the [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific values, e.g. {"backend": "anthropic"}
	// for the anyllm provider.
	Options map[string]any `yaml:"options"`
}

// Option returns Options[key] as a string, or "".
func (e ProviderEntry) Option(key string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return ""
}

// PersonaConfig configures who Simi is.
type PersonaConfig struct {
	// Instructions is the system instruction of every voice session.
	Instructions string `yaml:"instructions"`

	// Voice is the prebuilt voice name, e.g. "Kore".
	Voice string `yaml:"voice"`
}

// AudioConfig configures capture and playback.
type AudioConfig struct {
	Device AudioDevice `yaml:"device"`

	// InputSampleRate is the rate requested from the microphone. Frames sent
	// upstream are always 16 kHz.
	InputSampleRate int `yaml:"input_sample_rate"`

	// InputChannels is the microphone channel count. Multi-channel input is
	// mixed down to mono before resampling.
	InputChannels int `yaml:"input_channels"`

	// OutputSampleRate is the speaker rate.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// ChunkSize is the number of samples per outbound frame.
	ChunkSize int `yaml:"chunk_size"`

	// FramesPerBuffer is the device buffer size in frames.
	FramesPerBuffer int `yaml:"frames_per_buffer"`
}

// MCPConfig controls the MCP command bridge.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP mount point. Default "/mcp".
	Path string `yaml:"path"`
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1:8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.Live.Name == "" {
		cfg.Providers.Live.Name = "gemini"
	}
	if cfg.Persona.Instructions == "" {
		cfg.Persona.Instructions = persona.DefaultInstructions
	}
	if cfg.Persona.Voice == "" {
		cfg.Persona.Voice = persona.DefaultVoice
	}
	if cfg.Audio.Device == "" {
		cfg.Audio.Device = DevicePortAudio
	}
	if cfg.Audio.InputSampleRate == 0 {
		cfg.Audio.InputSampleRate = 16000
	}
	if cfg.Audio.InputChannels == 0 {
		cfg.Audio.InputChannels = 1
	}
	if cfg.Audio.OutputSampleRate == 0 {
		cfg.Audio.OutputSampleRate = 24000
	}
	if cfg.Audio.ChunkSize == 0 {
		cfg.Audio.ChunkSize = 4096
	}
	if cfg.Audio.FramesPerBuffer == 0 {
		cfg.Audio.FramesPerBuffer = 1024
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = "/mcp"
	}
}
