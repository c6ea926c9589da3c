// Package ui carries KITT's orchestrator events to its front-ends: the
// browser over a websocket and the terminal console.
//
// A [Hub] is the orchestrator's [session.Listener]. It fans every event out
// to its subscribers without ever blocking the turn: each subscriber owns a
// buffered channel, level events that do not fit are dropped silently, and a
// dropped state or error event is logged.
package ui

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/kitt/internal/observe"
	"github.com/MrWong99/kitt/internal/session"
)

// EventType discriminates [Event] payloads on the wire.
type EventType string

const (
	EventState    EventType = "state"
	EventLevel    EventType = "level"
	EventError    EventType = "error"
	EventTurn     EventType = "turn"
	EventRejected EventType = "rejected"
)

// Event is one message to a front-end. Only the fields of its Type are set.
type Event struct {
	Type EventType `json:"type"`

	// State is set for EventState.
	State string `json:"state,omitempty"`

	// Source and Level are set for EventLevel. Level is a pointer so that a
	// final 0 is still encoded.
	Source string   `json:"source,omitempty"`
	Level  *float64 `json:"level,omitempty"`

	// Message is set for EventError and EventRejected.
	Message string `json:"message,omitempty"`

	// TurnID, Transcript and Reply are set for EventTurn.
	TurnID     string `json:"turn_id,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Reply      string `json:"reply,omitempty"`
}

// DefaultBuffer is the per-subscriber queue length: about a second of level
// events from both meters.
const DefaultBuffer = 128

var (
	_ session.Listener     = (*Hub)(nil)
	_ session.TurnObserver = (*Hub)(nil)
)

// Hub broadcasts orchestrator events. It is safe for concurrent use.
type Hub struct {
	mu    sync.Mutex
	subs  map[*Subscription]struct{}
	state session.State

	stats   *Stats
	metrics *observe.Metrics
}

// HubOption is a functional option for NewHub.
type HubOption func(*Hub)

// WithStats sets the collector fed by finished turns. Default: a fresh
// [NewStats] window.
func WithStats(s *Stats) HubOption {
	return func(h *Hub) { h.stats = s }
}

// WithHubMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithHubMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a Hub with no subscribers.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{subs: make(map[*Subscription]struct{})}
	for _, o := range opts {
		o(h)
	}
	if h.stats == nil {
		h.stats = NewStats(0)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Stats returns the hub's turn statistics.
func (h *Hub) Stats() *Stats { return h.stats }

// State returns the last state the orchestrator reported.
func (h *Hub) State() session.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Subscription is one subscriber's event queue.
type Subscription struct {
	hub  *Hub
	ch   chan Event
	once sync.Once
}

// Events returns the subscriber's queue. It is closed by Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close removes the subscription from the hub and closes its queue.
// Idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
		s.hub.metrics.UIClients.Add(context.Background(), -1)
	})
}

// Subscribe registers a subscriber with a queue of buffer events (buffer < 1
// selects [DefaultBuffer]). The current state is queued first so a new
// front-end starts in sync.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	s := &Subscription{hub: h, ch: make(chan Event, buffer)}

	h.mu.Lock()
	s.ch <- Event{Type: EventState, State: h.state.String()}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	h.metrics.UIClients.Add(context.Background(), 1)
	return s
}

// ─── session.Listener ────────────────────────────────────────────────────────

// OnState implements [session.Listener].
func (h *Hub) OnState(st session.State) {
	h.mu.Lock()
	h.state = st
	h.mu.Unlock()
	h.broadcast(Event{Type: EventState, State: st.String()})
}

// OnLevel implements [session.Listener].
func (h *Hub) OnLevel(src session.LevelSource, level float64) {
	h.broadcast(Event{Type: EventLevel, Source: string(src), Level: &level})
}

// OnError implements [session.Listener].
func (h *Hub) OnError(err error) {
	h.broadcast(Event{Type: EventError, Message: err.Error()})
}

// OnTurn implements [session.TurnObserver].
func (h *Hub) OnTurn(t session.Turn) {
	h.stats.RecordTurn(time.Since(t.Started), t.Err != nil)
	if t.Err != nil {
		return
	}
	h.broadcast(Event{Type: EventTurn, TurnID: t.ID, Transcript: t.Transcript, Reply: t.Reply})
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			if ev.Type != EventLevel {
				slog.Warn("ui: subscriber queue full, event dropped", "type", ev.Type)
			}
		}
	}
}
