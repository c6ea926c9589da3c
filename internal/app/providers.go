package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/kitt/internal/config"
	"github.com/MrWong99/kitt/internal/resilience"
	"github.com/MrWong99/kitt/pkg/audio"
	"github.com/MrWong99/kitt/pkg/provider/llm"
	"github.com/MrWong99/kitt/pkg/provider/stt"
	"github.com/MrWong99/kitt/pkg/provider/tts"
)

// Providers holds one value per bridge plus the sound device. All four are
// required by [New]. Populated by main.go via [BuildProviders].
type Providers struct {
	STT   stt.Provider
	LLM   llm.Provider
	TTS   tts.Provider
	Audio audio.Device

	// closers release backends that hold native resources (whisper models,
	// the PortAudio host). Run by [App.Shutdown].
	closers []io.Closer
}

// breakerStates is implemented by the failover wrappers in
// internal/resilience.
type breakerStates interface {
	States() map[string]resilience.State
}

// BuildProviders instantiates every provider named in cfg through reg. Each
// bridge is wrapped in a failover group holding the configured provider
// followed by its fallbacks, so a breaker guards even a single backend.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}
	fcfg := fallbackConfig(cfg.Resilience)

	// ── STT ──────────────────────────────────────────────────────────────
	primarySTT, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, ps.fail(fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err))
	}
	ps.track(primarySTT)
	sttGroup := resilience.NewSTTFallback(primarySTT, cfg.Providers.STT.Name, fcfg)
	for _, fb := range cfg.Providers.STT.Fallbacks {
		p, err := reg.CreateSTT(fb.Entry())
		if err != nil {
			return nil, ps.fail(fmt.Errorf("create stt fallback %q: %w", fb.Name, err))
		}
		ps.track(p)
		sttGroup.AddFallback(fb.Name, p)
	}
	ps.STT = sttGroup
	slog.Info("provider created", "kind", "stt", "backends", sttGroup.Names())

	// ── LLM ──────────────────────────────────────────────────────────────
	primaryLLM, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, ps.fail(fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err))
	}
	ps.track(primaryLLM)
	llmGroup := resilience.NewLLMFallback(primaryLLM, cfg.Providers.LLM.Name, fcfg)
	for _, fb := range cfg.Providers.LLM.Fallbacks {
		p, err := reg.CreateLLM(fb.Entry())
		if err != nil {
			return nil, ps.fail(fmt.Errorf("create llm fallback %q: %w", fb.Name, err))
		}
		ps.track(p)
		llmGroup.AddFallback(fb.Name, p)
	}
	ps.LLM = llmGroup
	slog.Info("provider created", "kind", "llm", "backends", llmGroup.Names())

	// ── TTS ──────────────────────────────────────────────────────────────
	primaryTTS, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, ps.fail(fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err))
	}
	ps.track(primaryTTS)
	ttsGroup := resilience.NewTTSFallback(primaryTTS, cfg.Providers.TTS.Name, fcfg)
	for _, fb := range cfg.Providers.TTS.Fallbacks {
		p, err := reg.CreateTTS(fb.Entry())
		if err != nil {
			return nil, ps.fail(fmt.Errorf("create tts fallback %q: %w", fb.Name, err))
		}
		ps.track(p)
		ttsGroup.AddFallback(fb.Name, p, fb.Voice)
	}
	ps.TTS = ttsGroup
	slog.Info("provider created", "kind", "tts", "backends", ttsGroup.Names())

	// ── Audio ────────────────────────────────────────────────────────────
	dev, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		return nil, ps.fail(fmt.Errorf("create audio device %q: %w", cfg.Audio.Device, err))
	}
	ps.track(dev)
	ps.Audio = dev
	slog.Info("provider created", "kind", "audio", "name", cfg.Audio.Device)

	return ps, nil
}

// track remembers v for shutdown when it holds resources.
func (ps *Providers) track(v any) {
	if c, ok := v.(io.Closer); ok {
		ps.closers = append(ps.closers, c)
	}
}

// fail releases everything created so far and returns err.
func (ps *Providers) fail(err error) error {
	return errors.Join(err, ps.close())
}

// close releases tracked backends in reverse creation order.
func (ps *Providers) close() error {
	var errs []error
	for i := len(ps.closers) - 1; i >= 0; i-- {
		if err := ps.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	ps.closers = nil
	return errors.Join(errs...)
}

func fallbackConfig(rc config.ResilienceConfig) resilience.FallbackConfig {
	return resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  rc.MaxFailures,
		ResetTimeout: rc.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("provider breaker changed state", "provider", name, "from", from, "to", to)
		},
	}}
}
