package ui_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/kitt/internal/observe"
	"github.com/MrWong99/kitt/internal/session"
	"github.com/MrWong99/kitt/internal/ui"
)

func next(t *testing.T, sub *ui.Subscription) ui.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return ui.Event{}
	}
}

func TestHub_FansOut(t *testing.T) {
	t.Parallel()

	h := ui.NewHub()
	a, b := h.Subscribe(0), h.Subscribe(0)
	defer a.Close()
	defer b.Close()

	for _, sub := range []*ui.Subscription{a, b} {
		if ev := next(t, sub); ev.Type != ui.EventState || ev.State != "idle" {
			t.Errorf("initial event = %+v", ev)
		}
	}

	h.OnState(session.StateListening)
	h.OnLevel(session.SourceMic, 0)
	h.OnError(errors.New("no microphone"))

	for _, sub := range []*ui.Subscription{a, b} {
		if ev := next(t, sub); ev.State != "listening" {
			t.Errorf("state event = %+v", ev)
		}
		ev := next(t, sub)
		if ev.Type != ui.EventLevel || ev.Source != "mic" || ev.Level == nil || *ev.Level != 0 {
			t.Errorf("level event = %+v", ev)
		}
		if ev := next(t, sub); ev.Type != ui.EventError || ev.Message != "no microphone" {
			t.Errorf("error event = %+v", ev)
		}
	}
	if h.State() != session.StateListening {
		t.Errorf("State() = %v", h.State())
	}
}

func TestHub_LateSubscriberGetsCurrentState(t *testing.T) {
	t.Parallel()

	h := ui.NewHub()
	h.OnState(session.StateSpeaking)
	sub := h.Subscribe(1)
	defer sub.Close()
	if ev := next(t, sub); ev.State != "speaking" {
		t.Errorf("initial event = %+v", ev)
	}
}

func TestHub_FullQueueDoesNotBlock(t *testing.T) {
	t.Parallel()

	h := ui.NewHub()
	sub := h.Subscribe(2)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 1000 {
			h.OnLevel(session.SourceSpeaker, 0.5)
		}
		h.OnState(session.StateIdle)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}
	if n := len(sub.Events()); n != 2 {
		t.Errorf("queued = %d, want 2", n)
	}
}

func TestHub_OnTurn(t *testing.T) {
	t.Parallel()

	h := ui.NewHub()
	sub := h.Subscribe(0)
	defer sub.Close()
	next(t, sub)

	h.OnTurn(session.Turn{ID: "t1", Started: time.Now().Add(-time.Second), Transcript: "Szia", Reply: "Szia Michael."})
	h.OnTurn(session.Turn{ID: "t2", Started: time.Now(), Err: errors.New("boom")})

	ev := next(t, sub)
	if ev.Type != ui.EventTurn || ev.TurnID != "t1" || ev.Transcript != "Szia" || ev.Reply != "Szia Michael." {
		t.Errorf("turn event = %+v", ev)
	}
	select {
	case ev := <-sub.Events():
		t.Errorf("failed turn broadcast: %+v", ev)
	default:
	}

	snap := h.Stats().Snapshot()
	if snap.Turns != 2 || snap.Errors != 1 || snap.Latency.P50 < time.Second {
		t.Errorf("stats = %+v", snap)
	}
}

func TestHub_CloseIsIdempotentAndCounted(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := ui.NewHub(ui.WithHubMetrics(m))
	a := h.Subscribe(0)
	b := h.Subscribe(0)
	a.Close()
	a.Close()

	// The queued initial state drains, then the queue reports closed.
	<-a.Events()
	if _, ok := <-a.Events(); ok {
		t.Error("events channel still open after Close")
	}
	h.OnState(session.StateListening)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var clients int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "kitt.ui.clients" {
				continue
			}
			if sum, ok := met.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
				clients = sum.DataPoints[0].Value
			}
		}
	}
	if clients != 1 {
		t.Errorf("kitt.ui.clients = %d, want 1", clients)
	}
	b.Close()
}
