package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/kitt/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   []string // substrings of the joined error; empty means valid
	}{
		{name: "defaults", mutate: func(*config.Config) {}},
		{
			name:   "bad log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = "verbose" },
			want:   []string{"server.log_level"},
		},
		{
			name:   "half tls",
			mutate: func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "cert.pem"} },
			want:   []string{"server.tls"},
		},
		{
			name: "password without ttl",
			mutate: func(c *config.Config) {
				c.Auth.Password = "x"
				c.Auth.TokenTTL = 0
			},
			want: []string{"auth.token_ttl"},
		},
		{
			name: "audio format",
			mutate: func(c *config.Config) {
				c.Audio.SampleRate = 0
				c.Audio.Channels = 6
				c.Audio.FFTSize = 300
				c.Audio.FrameRate = 0
			},
			want: []string{"audio.sample_rate", "audio.channels", "audio.fft_size", "audio.frame_rate"},
		},
		{
			name:   "half output format",
			mutate: func(c *config.Config) { c.Audio.OutputSampleRate = 48000 },
			want:   []string{"set together"},
		},
		{
			name:   "playback rate",
			mutate: func(c *config.Config) { c.Playback.Rate = 0 },
			want:   []string{"playback.rate"},
		},
		{
			name: "persona",
			mutate: func(c *config.Config) {
				c.Persona.MaxTokens = 0
				c.Persona.Temperature = 3
				c.Persona.FallbackReply = "   "
				c.Persona.Voice = config.VoiceConfig{Speed: 9}
			},
			want: []string{"persona.max_tokens", "persona.temperature", "persona.fallback_reply", "persona.voice.id", "persona.voice.speed"},
		},
		{
			name: "providers",
			mutate: func(c *config.Config) {
				c.Providers.STT.Name = ""
				c.Providers.LLM.Fallbacks = []config.FallbackEntry{{Name: "ollama", Voice: "onyx"}, {}}
			},
			want: []string{"providers.stt.name", "providers.llm.fallbacks[0].voice", "providers.llm.fallbacks[1].name"},
		},
		{
			name: "tts fallback voice",
			mutate: func(c *config.Config) {
				c.Providers.TTS.Fallbacks = []config.FallbackEntry{{Name: "elevenlabs", Voice: "Adam"}}
			},
		},
		{
			name: "resilience",
			mutate: func(c *config.Config) {
				c.Resilience.MaxFailures = 0
				c.Resilience.ResetTimeout = 0
			},
			want: []string{"resilience.max_failures", "resilience.reset_timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if len(tt.want) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected errors mentioning %v, got nil", tt.want)
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error should mention %q, got: %v", w, err)
				}
			}
		})
	}
}

func TestLoadFromReader_ValidationErrorsAreJoined(t *testing.T) {
	t.Parallel()

	yaml := `
playback:
  rate: -1
persona:
  max_tokens: 0
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, w := range []string{"playback.rate", "persona.max_tokens"} {
		if !strings.Contains(err.Error(), w) {
			t.Errorf("error should mention %q, got: %v", w, err)
		}
	}
}
