package main

import (
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/kitt/internal/config"
)

func TestRegisterBuiltinProviders_CoversKnownNames(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	for kind, want := range config.ValidProviderNames {
		got := reg.Names(kind)
		slices.Sort(got)
		want = slices.Clone(want)
		slices.Sort(want)
		if !slices.Equal(got, want) {
			t.Errorf("%s providers = %v, want %v", kind, got, want)
		}
	}
}

func TestRegisterBuiltinProviders_OpenAIChatDefaultsModel(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "openai", APIKey: "sk-test"}); err != nil {
		t.Errorf("CreateLLM without model: %v", err)
	}
}

func TestOptHelpers(t *testing.T) {
	opts := map[string]any{
		"language":  "hu",
		"threshold": 0.02,
		"rate":      22050,
		"timeout":   "30s",
		"bad":       "soon",
		"nested":    map[string]any{"x": 1},
	}

	if got := optString(opts, "language"); got != "hu" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(opts, "rate"); got != "" {
		t.Errorf("optString(non-string) = %q", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}
	if v, ok := optFloat(opts, "threshold"); !ok || v != 0.02 {
		t.Errorf("optFloat(float) = %v, %v", v, ok)
	}
	if v, ok := optFloat(opts, "rate"); !ok || v != 22050 {
		t.Errorf("optFloat(int) = %v, %v", v, ok)
	}
	if _, ok := optFloat(opts, "nested"); ok {
		t.Error("optFloat(map) reported ok")
	}
	if got := optDuration(opts, "timeout"); got != 30*time.Second {
		t.Errorf("optDuration = %v", got)
	}
	if got := optDuration(opts, "bad"); got != 0 {
		t.Errorf("optDuration(invalid) = %v", got)
	}
}

func TestNewLogger_SetsLevel(t *testing.T) {
	lv := new(slog.LevelVar)
	logger := newLogger(config.LogWarn, lv)
	if lv.Level() != slog.LevelWarn {
		t.Errorf("level = %v, want warn", lv.Level())
	}
	if logger.Enabled(t.Context(), slog.LevelInfo) {
		t.Error("info enabled at warn level")
	}
	lv.Set(slog.LevelDebug)
	if !logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("debug not enabled after raising verbosity")
	}
}
