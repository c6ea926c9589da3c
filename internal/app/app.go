// Package app wires all KITT subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP surface and the console until the context
// is cancelled or the user quits, and Shutdown tears everything down in
// order.
//
// For testing, construct [Providers] from mocks and leave the listen address
// empty; [App.Handler] exposes the HTTP surface for httptest.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/kitt/internal/auth"
	"github.com/MrWong99/kitt/internal/capture"
	"github.com/MrWong99/kitt/internal/config"
	"github.com/MrWong99/kitt/internal/engine/cascade"
	"github.com/MrWong99/kitt/internal/health"
	"github.com/MrWong99/kitt/internal/observe"
	"github.com/MrWong99/kitt/internal/playback"
	"github.com/MrWong99/kitt/internal/session"
	"github.com/MrWong99/kitt/internal/ui"
	"github.com/MrWong99/kitt/pkg/audio"
	"github.com/MrWong99/kitt/pkg/types"
)

// shutdownGrace bounds how long in-flight HTTP requests may take once Run is
// stopping.
const shutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes and orchestrates the KITT turn cycle.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems, initialised in New.
	engine   *cascade.Engine
	capture  *capture.Controller
	playback *playback.Controller
	orch     *session.Orchestrator
	hub      *ui.Hub
	gate     *auth.Gate
	watcher  *config.Watcher

	// Optional surfaces.
	consoleIn  io.Reader
	consoleOut io.Writer
	configPath string
	logLevel   *slog.LevelVar

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithConsole enables the terminal front-end reading keys from in and
// drawing to out.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(a *App) { a.consoleIn, a.consoleOut = in, out }
}

// WithConfigWatch reloads path while running. Persona and log level changes
// apply to the next turn; other sections are logged as needing a restart.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLogLevel lets config reloads adjust the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via [BuildProviders]).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.LLM == nil || providers.TTS == nil || providers.Audio == nil {
		return nil, errors.New("app: stt, llm, tts and audio providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Engine ────────────────────────────────────────────────────────
	eng, err := cascade.New(providers.STT, providers.LLM, providers.TTS, personaFromConfig(cfg.Persona),
		cascade.WithMetrics(a.metrics),
		cascade.WithProviderNames(cfg.Providers.STT.Name, cfg.Providers.LLM.Name, cfg.Providers.TTS.Name),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init engine: %w", err)
	}
	a.engine = eng

	// ── 2. Capture + playback ────────────────────────────────────────────
	a.initAudio()

	// ── 3. Orchestrator + UI hub ─────────────────────────────────────────
	a.hub = ui.NewHub(ui.WithHubMetrics(a.metrics))
	a.orch = session.New(a.capture, a.engine, a.playback,
		session.WithListener(a.hub),
		session.WithMetrics(a.metrics),
	)

	// ── 4. Auth gate ─────────────────────────────────────────────────────
	gateOpts := []auth.Option{auth.WithTTL(cfg.Auth.TokenTTL)}
	if cfg.Auth.TokenSecret != "" {
		gateOpts = append(gateOpts, auth.WithSecret(cfg.Auth.TokenSecret))
	}
	if a.gate, err = auth.New(cfg.Auth.Password, gateOpts...); err != nil {
		return nil, fmt.Errorf("app: init auth: %w", err)
	}

	// ── 5. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		if a.watcher, err = config.NewWatcher(a.configPath, a.applyConfig); err != nil {
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
	}

	observe.Logger(ctx).Debug("app initialised", "auth", a.gate.Enabled(), "console", a.consoleIn != nil)
	return a, nil
}

// initAudio builds the capture and playback controllers over the shared
// device, each with its own level meter.
func (a *App) initAudio() {
	ac := a.cfg.Audio
	meter := func() *audio.Meter { return audio.NewMeter(audio.WithFrameRate(ac.FrameRate)) }

	a.capture = capture.New(a.providers.Audio,
		capture.WithFormat(audio.Format{SampleRate: ac.SampleRate, Channels: ac.Channels}),
		capture.WithFFTSize(ac.FFTSize),
		capture.WithMeter(meter()),
		capture.WithMetrics(a.metrics),
	)

	popts := []playback.Option{
		playback.WithRate(a.cfg.Playback.Rate),
		playback.WithFFTSize(ac.FFTSize),
		playback.WithMeter(meter()),
		playback.WithMetrics(a.metrics),
	}
	if out := (audio.Format{SampleRate: ac.OutputSampleRate, Channels: ac.OutputChannels}); out.Valid() {
		popts = append(popts, playback.WithOutputFormat(out))
	}
	a.playback = playback.New(a.providers.Audio, popts...)
}

// Orchestrator returns the turn state machine.
func (a *App) Orchestrator() *session.Orchestrator { return a.orch }

// Hub returns the UI event hub.
func (a *App) Hub() *ui.Hub { return a.hub }

// ─── HTTP surface ────────────────────────────────────────────────────────────

// Handler returns the HTTP surface: the login endpoint, the UI websocket,
// health probes and Prometheus metrics. base bounds commands received over
// the websocket and closes open UI connections when cancelled.
func (a *App) Handler(base context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/auth", a.gate.Handler())
	mux.Handle("GET /ws", a.gate.Require(ui.NewServer(base, a.hub, a.orch,
		ui.WithOriginPatterns(a.cfg.Server.AllowedOrigins...))))
	mux.Handle("GET /metrics", observe.MetricsHandler())
	health.New(a.checkers()...).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// checkers returns the readiness checks: the sound device and every provider
// bridge that reports breaker state.
func (a *App) checkers() []health.Checker {
	cs := []health.Checker{health.DeviceCheck(a.providers.Audio)}
	for kind, p := range map[string]any{"stt": a.providers.STT, "llm": a.providers.LLM, "tts": a.providers.TTS} {
		if bs, ok := p.(breakerStates); ok {
			cs = append(cs, health.BackendsCheck(kind, bs.States))
		}
	}
	return cs
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves until ctx is cancelled or the console user quits. A clean stop
// returns nil; a listener failure is returned as is.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Handler(gctx),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", addr, "tls", a.cfg.Server.TLS != nil)
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: http server: %w", err)
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	if a.consoleIn != nil {
		g.Go(func() error {
			defer cancel()
			return ui.NewConsole(a.hub, a.orch, a.consoleIn, a.consoleOut).Run(gctx)
		})
	}

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr, "console", a.consoleIn != nil)
	return g.Wait()
}

// ─── Config reload ───────────────────────────────────────────────────────────

// applyConfig is the watcher callback. It applies what can change live and
// reports the rest.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PersonaChanged {
		if err := a.engine.SetPersona(personaFromConfig(new.Persona)); err != nil {
			slog.Error("persona reload rejected", "err", err)
		} else {
			slog.Info("persona reloaded")
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config change takes effect after restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the microphone if a turn was left open, then closes the
// providers in reverse creation order. It respects the context deadline: if
// ctx expires first, the remaining closers are skipped and the context error
// is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.providers.closers))

		if err := a.orch.Close(); err != nil {
			slog.Warn("capture close error", "err", err)
		}

		closers := a.providers.closers
		for i := len(closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closers[i].Close(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		a.providers.closers = nil

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// personaFromConfig converts the persona section into the engine's persona.
func personaFromConfig(pc config.PersonaConfig) cascade.Persona {
	return cascade.Persona{
		Language:      pc.Language,
		SystemPrompt:  pc.SystemPrompt,
		MaxTokens:     pc.MaxTokens,
		Temperature:   pc.Temperature,
		FallbackReply: pc.FallbackReply,
		Voice: types.VoiceProfile{
			ID:          pc.Voice.ID,
			Name:        "KITT",
			SpeedFactor: pc.Voice.Speed,
		},
	}
}
