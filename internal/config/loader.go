package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":   {"openai", "whisper", "whisper-native", "deepgram"},
	"llm":   {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":   {"openai", "elevenlabs", "coqui"},
	"audio": {"portaudio"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		add("server.tls requires both cert_file and key_file")
	}

	// Auth
	if cfg.Auth.Password != "" && cfg.Auth.TokenTTL <= 0 {
		add("auth.token_ttl must be positive, got %s", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.Password == "" && cfg.Server.ListenAddr != "" {
		slog.Warn("auth.password is empty; the UI is reachable without authentication", "listen_addr", cfg.Server.ListenAddr)
	}

	// Audio
	a := cfg.Audio
	if a.Device == "" {
		add("audio.device is required")
	}
	validateProviderName("audio", a.Device)
	if a.SampleRate <= 0 {
		add("audio.sample_rate must be positive, got %d", a.SampleRate)
	}
	if a.Channels < 1 || a.Channels > 2 {
		add("audio.channels %d is out of range [1, 2]", a.Channels)
	}
	if a.FramesPerBuffer <= 0 {
		add("audio.frames_per_buffer must be positive, got %d", a.FramesPerBuffer)
	}
	if a.FFTSize < 32 || a.FFTSize > 32768 || bits.OnesCount(uint(a.FFTSize)) != 1 {
		add("audio.fft_size %d must be a power of two in [32, 32768]", a.FFTSize)
	}
	if a.FrameRate < 1 || a.FrameRate > 240 {
		add("audio.frame_rate %d is out of range [1, 240]", a.FrameRate)
	}
	if (a.OutputSampleRate == 0) != (a.OutputChannels == 0) {
		add("audio.output_sample_rate and audio.output_channels must be set together")
	}
	if a.OutputSampleRate < 0 || a.OutputChannels < 0 || a.OutputChannels > 2 {
		add("audio output format %d Hz / %d ch is invalid", a.OutputSampleRate, a.OutputChannels)
	}

	// Playback
	if r := cfg.Playback.Rate; r <= 0 || r > 4 {
		add("playback.rate %.2f is out of range (0, 4]", r)
	}

	// Persona
	p := cfg.Persona
	if p.MaxTokens <= 0 {
		add("persona.max_tokens must be positive, got %d", p.MaxTokens)
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		add("persona.temperature %.2f is out of range [0, 2]", p.Temperature)
	}
	if strings.TrimSpace(p.FallbackReply) == "" {
		add("persona.fallback_reply must not be blank")
	}
	if p.Voice.ID == "" {
		add("persona.voice.id is required")
	}
	if p.Voice.Speed != 0 && (p.Voice.Speed < 0.25 || p.Voice.Speed > 4) {
		add("persona.voice.speed %.2f is out of range [0.25, 4.0]", p.Voice.Speed)
	}

	// Providers
	for _, kp := range []struct {
		kind  string
		entry ProviderEntry
	}{
		{"stt", cfg.Providers.STT},
		{"llm", cfg.Providers.LLM},
		{"tts", cfg.Providers.TTS},
	} {
		prefix := "providers." + kp.kind
		if kp.entry.Name == "" {
			add("%s.name is required", prefix)
		}
		validateProviderName(kp.kind, kp.entry.Name)
		for i, fb := range kp.entry.Fallbacks {
			fbPrefix := fmt.Sprintf("%s.fallbacks[%d]", prefix, i)
			if fb.Name == "" {
				add("%s.name is required", fbPrefix)
			}
			if fb.Voice != "" && kp.kind != "tts" {
				add("%s.voice is only valid for tts fallbacks", fbPrefix)
			}
			validateProviderName(kp.kind, fb.Name)
		}
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 1 {
		add("resilience.max_failures must be at least 1, got %d", cfg.Resilience.MaxFailures)
	}
	if cfg.Resilience.ResetTimeout <= 0 {
		add("resilience.reset_timeout must be positive, got %s", cfg.Resilience.ResetTimeout)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
