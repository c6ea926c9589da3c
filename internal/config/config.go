// Package config provides the configuration schema, loader, and provider registry
// for the KITT voice front-end.
package config

import (
	"log/slog"
	"time"
)

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

// Slog maps l to the matching [slog.Level]. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for KITT.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader],
// which start from [Default] so omitted keys keep their defaults.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Audio      AudioConfig      `yaml:"audio"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Persona    PersonaConfig    `yaml:"persona"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	// Empty disables the HTTP surface; the console still works.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists Origin host patterns accepted on the UI websocket
	// in addition to same-origin clients.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AuthConfig configures the password gate in front of the UI.
type AuthConfig struct {
	// Password is the shared UI password. Empty disables the gate.
	Password string `yaml:"password"`

	// TokenSecret signs session tokens. Empty generates a random key at
	// startup, which invalidates tokens on restart.
	TokenSecret string `yaml:"token_secret"`

	// TokenTTL is the session token lifetime.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// AudioConfig selects the sound device and the capture format.
type AudioConfig struct {
	// Device is the registered audio backend (e.g., "portaudio").
	Device string `yaml:"device"`

	// DeviceName selects a specific input/output device by name. Empty uses
	// the system defaults.
	DeviceName string `yaml:"device_name"`

	// SampleRate and Channels are the capture format.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// FramesPerBuffer is the device callback size in frames.
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// FFTSize is the analyser window used for level metering. Power of two.
	FFTSize int `yaml:"fft_size"`

	// FrameRate is how many level updates per second the meters emit.
	FrameRate int `yaml:"frame_rate"`

	// OutputSampleRate and OutputChannels force the playback device format.
	// Zero plays each reply in its own format.
	OutputSampleRate int `yaml:"output_sample_rate"`
	OutputChannels   int `yaml:"output_channels"`
}

// PlaybackConfig tunes reply playback.
type PlaybackConfig struct {
	// Rate is the playback speed factor; below 1 is slower and lower.
	Rate float64 `yaml:"rate"`
}

// PersonaConfig describes who KITT is and how it answers.
type PersonaConfig struct {
	// Language is the ISO-639-1 transcription language hint.
	Language string `yaml:"language"`

	// SystemPrompt is sent ahead of every user utterance.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxTokens caps the reply length.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature is the sampling temperature, 0 to 2.
	Temperature float64 `yaml:"temperature"`

	// FallbackReply is spoken when nothing intelligible was heard or the chat
	// model returned no text.
	FallbackReply string `yaml:"fallback_reply"`

	// Voice configures speech synthesis.
	Voice VoiceConfig `yaml:"voice"`
}

// VoiceConfig specifies the TTS voice parameters.
type VoiceConfig struct {
	// ID is the provider-specific voice identifier.
	ID string `yaml:"id"`

	// Speed adjusts speaking rate in the range [0.25, 4.0]. 1.0 means default.
	Speed float64 `yaml:"speed"`
}

// ProvidersConfig declares which provider implementation to use for each
// bridge. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1", "tts-1-hd").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails. Empty by default.
	Fallbacks []FallbackEntry `yaml:"fallbacks"`
}

// FallbackEntry is a secondary provider for the same bridge.
type FallbackEntry struct {
	Name    string         `yaml:"name"`
	APIKey  string         `yaml:"api_key"`
	BaseURL string         `yaml:"base_url"`
	Model   string         `yaml:"model"`
	Options map[string]any `yaml:"options"`

	// Voice overrides persona.voice.id for a TTS fallback.
	Voice string `yaml:"voice"`
}

// Entry returns f as a [ProviderEntry] for the registry.
func (f FallbackEntry) Entry() ProviderEntry {
	return ProviderEntry{Name: f.Name, APIKey: f.APIKey, BaseURL: f.BaseURL, Model: f.Model, Options: f.Options}
}

// ResilienceConfig tunes the per-provider circuit breakers.
type ResilienceConfig struct {
	// MaxFailures is how many consecutive failures open a breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker waits before a trial call.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// DefaultSystemPrompt is KITT's persona.
const DefaultSystemPrompt = "Te KITT vagy, a Knight Industries Two Thousand mesterséges intelligencia. " +
	"Válaszolj röviden, magabiztosan, és KITT stílusában. " +
	"Beszélj első személyben és használj technikai kifejezéseket."

// DefaultFallbackReply is spoken when a turn yields no usable text.
const DefaultFallbackReply = "Sajnálom, nem értettem a kérést."

// Default returns the configuration KITT runs with when a key is omitted.
// Provider models are left to each provider's own default, so switching
// providers.*.name never inherits another backend's model.
func Default() *Config {
	return &Config{
		Server: ServerConfig{ListenAddr: ":8080", LogLevel: LogInfo},
		Auth:   AuthConfig{TokenTTL: 24 * time.Hour},
		Audio: AudioConfig{
			Device:          "portaudio",
			SampleRate:      16000,
			Channels:        1,
			FramesPerBuffer: 1024,
			FFTSize:         256,
			FrameRate:       60,
		},
		Playback: PlaybackConfig{Rate: 0.85},
		Persona: PersonaConfig{
			Language:      "hu",
			SystemPrompt:  DefaultSystemPrompt,
			MaxTokens:     150,
			Temperature:   0.7,
			FallbackReply: DefaultFallbackReply,
			Voice:         VoiceConfig{ID: "onyx", Speed: 1.25},
		},
		Providers: ProvidersConfig{
			STT: ProviderEntry{Name: "openai"},
			LLM: ProviderEntry{Name: "openai"},
			TTS: ProviderEntry{Name: "openai"},
		},
		Resilience: ResilienceConfig{MaxFailures: 3, ResetTimeout: 30 * time.Second},
	}
}
