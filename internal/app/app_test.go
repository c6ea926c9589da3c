package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/kitt/internal/app"
	"github.com/MrWong99/kitt/internal/config"
	"github.com/MrWong99/kitt/internal/observe"
	"github.com/MrWong99/kitt/internal/ui"
	"github.com/MrWong99/kitt/pkg/audio"
	audiomock "github.com/MrWong99/kitt/pkg/audio/mock"
	"github.com/MrWong99/kitt/pkg/provider/llm"
	llmmock "github.com/MrWong99/kitt/pkg/provider/llm/mock"
	"github.com/MrWong99/kitt/pkg/provider/stt"
	sttmock "github.com/MrWong99/kitt/pkg/provider/stt/mock"
	"github.com/MrWong99/kitt/pkg/provider/tts"
	ttsmock "github.com/MrWong99/kitt/pkg/provider/tts/mock"
)

// testConfig returns the default config without a listen address, so tests
// drive the HTTP surface through httptest.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = ""
	return cfg
}

func replyWAV() []byte {
	f := audio.Format{SampleRate: 24000, Channels: 1}
	return audio.EncodeWAV(make([]byte, f.BytesPerSecond()/10), f)
}

// closingSTT is an STT mock that holds a resource released at shutdown.
type closingSTT struct {
	sttmock.Provider
	mu     sync.Mutex
	closed int
}

func (c *closingSTT) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *closingSTT) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fixture struct {
	stt *closingSTT
	llm *llmmock.Provider
	tts *ttsmock.Provider
	dev *audiomock.Device
	reg *config.Registry
}

func newFixture() *fixture {
	f := &fixture{
		stt: &closingSTT{Provider: sttmock.Provider{Text: "Szia KITT"}},
		llm: &llmmock.Provider{Response: &llm.CompletionResponse{Content: "Jó napot, Michael."}},
		tts: &ttsmock.Provider{Audio: replyWAV()},
		dev: &audiomock.Device{InputFrames: []audio.AudioFrame{{Data: make([]byte, 3200)}}},
		reg: config.NewRegistry(),
	}
	f.reg.RegisterSTT("openai", func(config.ProviderEntry) (stt.Provider, error) { return f.stt, nil })
	f.reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) { return f.llm, nil })
	f.reg.RegisterTTS("openai", func(config.ProviderEntry) (tts.Provider, error) { return f.tts, nil })
	f.reg.RegisterAudio("portaudio", func(config.AudioConfig) (audio.Device, error) { return f.dev, nil })
	return f
}

func newApp(t *testing.T, cfg *config.Config, f *fixture, opts ...app.Option) *app.App {
	t.Helper()
	ps, err := app.BuildProviders(cfg, f.reg)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	a, err := app.New(context.Background(), cfg, ps, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	if _, err := app.New(context.Background(), testConfig(), &app.Providers{STT: &sttmock.Provider{}}); err == nil {
		t.Fatal("expected error for missing providers")
	}
	if _, err := app.New(context.Background(), testConfig(), nil); err == nil {
		t.Fatal("expected error for nil providers")
	}
}

func TestNew_InvalidPersona(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Persona.FallbackReply = "  "
	ps, err := app.BuildProviders(cfg, newFixture().reg)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if _, err := app.New(context.Background(), cfg, ps); err == nil {
		t.Fatal("expected error for blank fallback reply")
	}
}

// ─── providers ───────────────────────────────────────────────────────────────

func TestBuildProviders_Fallbacks(t *testing.T) {
	t.Parallel()

	f := newFixture()
	backup := &sttmock.Provider{Text: "backup"}
	f.reg.RegisterSTT("whisper", func(config.ProviderEntry) (stt.Provider, error) { return backup, nil })
	f.stt.Err = errors.New("upstream down")

	cfg := testConfig()
	cfg.Providers.STT.Fallbacks = []config.FallbackEntry{{Name: "whisper"}}
	ps, err := app.BuildProviders(cfg, f.reg)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}

	payload := audio.Payload{Data: make([]byte, 64), Encoding: audio.EncodingPCM16, Format: audio.CaptureFormat}
	text, err := ps.STT.Transcribe(context.Background(), payload, "hu")
	if err != nil || text != "backup" {
		t.Errorf("Transcribe = %q, %v; want failover to backup", text, err)
	}
}

func TestBuildProviders_FailureReleasesCreated(t *testing.T) {
	t.Parallel()

	f := newFixture()
	cfg := testConfig()
	cfg.Providers.TTS.Name = "coqui"

	_, err := app.BuildProviders(cfg, f.reg)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
	if got := f.stt.Closed(); got != 1 {
		t.Errorf("stt closed %d times, want 1", got)
	}
}

func TestShutdown_ClosesProvidersOnce(t *testing.T) {
	t.Parallel()

	f := newFixture()
	a := newApp(t, testConfig(), f)
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if got := f.stt.Closed(); got != 1 {
		t.Errorf("stt closed %d times, want 1", got)
	}
}

// ─── HTTP surface ────────────────────────────────────────────────────────────

func serve(t *testing.T, a *app.App) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(a.Handler(ctx))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	srv := serve(t, newApp(t, testConfig(), newFixture(), app.WithMetrics(m)))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, name := range []string{"audio", "stt", "llm", "tts"} {
		if body.Checks[name] != "ok" {
			t.Errorf("check %s = %q, want ok", name, body.Checks[name])
		}
	}
}

func TestHandler_AuthGuardsWebsocket(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth.Password = "michael"
	srv := serve(t, newApp(t, cfg, newFixture()))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err == nil {
		t.Fatal("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without token: resp = %v, want 401", resp)
	}

	login, err := http.Post(srv.URL+"/api/auth", "application/json", strings.NewReader(`{"password":"michael"}`))
	if err != nil {
		t.Fatalf("POST /api/auth: %v", err)
	}
	defer login.Body.Close()
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(login.Body).Decode(&body); err != nil || body.Token == "" {
		t.Fatalf("login: token %q, err %v", body.Token, err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL+"?token="+body.Token, nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	defer conn.CloseNow()

	var ev ui.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != ui.EventState || ev.State != "idle" {
		t.Errorf("first event = %+v, want idle state", ev)
	}
}

func TestHandler_TurnOverWebsocket(t *testing.T) {
	t.Parallel()

	f := newFixture()
	a := newApp(t, testConfig(), f)
	srv := serve(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	send := func(cmd string) {
		if err := wsjson.Write(ctx, conn, ui.Command{Command: cmd}); err != nil {
			t.Fatalf("write %s: %v", cmd, err)
		}
	}

	var (
		states []string
		turn   ui.Event
	)
	for {
		var ev ui.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read: %v (states so far %v)", err, states)
		}
		switch ev.Type {
		case ui.EventState:
			states = append(states, ev.State)
			switch ev.State {
			case "idle":
				if len(states) == 1 {
					send("start")
				}
			case "listening":
				send("stop")
			}
		case ui.EventRejected:
			// The stop raced the microphone opening; ask again.
			time.Sleep(10 * time.Millisecond)
			send("stop")
		case ui.EventTurn:
			turn = ev
		case ui.EventError:
			t.Fatalf("turn failed: %s", ev.Message)
		}
		if len(states) > 1 && states[len(states)-1] == "idle" {
			break
		}
	}

	want := []string{"idle", "listening", "processing", "speaking", "idle"}
	if strings.Join(states, ",") != strings.Join(want, ",") {
		t.Errorf("states = %v, want %v", states, want)
	}
	if turn.Transcript != "Szia KITT" || turn.Reply != "Jó napot, Michael." {
		t.Errorf("turn = %+v", turn)
	}

	// The persona reaches the providers.
	call, ok := f.stt.LastCall()
	if !ok || call.Language != "hu" {
		t.Errorf("stt call = %+v, %v; want language hu", call, ok)
	}
	req, ok := f.llm.LastRequest()
	if !ok || req.MaxTokens != 150 {
		t.Errorf("llm request = %+v, %v; want 150 max tokens", req, ok)
	}
	if len(f.tts.Calls) != 1 || f.tts.Calls[0].Voice.ID != "onyx" || f.tts.Calls[0].Voice.SpeedFactor != 1.25 {
		t.Errorf("tts calls = %+v", f.tts.Calls)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

func TestRun_ConsoleQuitStops(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), newFixture(), app.WithConsole(strings.NewReader("q\n"), io.Discard))

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the console quit")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	a := newApp(t, cfg, newFixture())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
