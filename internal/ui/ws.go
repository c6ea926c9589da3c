package ui

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/kitt/internal/observe"
	"github.com/MrWong99/kitt/internal/session"
)

// writeTimeout bounds a single event write to a slow client.
const writeTimeout = 5 * time.Second

// Controller is the part of the orchestrator a front-end drives.
// [*session.Orchestrator] implements it.
type Controller interface {
	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error
	Toggle(ctx context.Context) error
}

// Command is a client → server websocket message.
type Command struct {
	Command string `json:"command"`
}

// Server is the /ws handler. Each connection subscribes to the hub and may
// send {"command":"toggle"|"start"|"stop"}.
type Server struct {
	hub  *Hub
	ctrl Controller

	// base outlives any single connection: a turn started from a browser
	// keeps running when that browser disconnects.
	base    context.Context
	origins []string
}

// ServerOption is a functional option for NewServer.
type ServerOption func(*Server)

// WithOriginPatterns allows cross-origin websocket clients whose Origin host
// matches one of patterns (see [websocket.AcceptOptions]).
func WithOriginPatterns(patterns ...string) ServerOption {
	return func(s *Server) { s.origins = patterns }
}

// NewServer creates the websocket handler. Commands run under base, which
// should be cancelled at shutdown.
func NewServer(base context.Context, hub *Hub, ctrl Controller, opts ...ServerOption) *Server {
	s := &Server{hub: hub, ctrl: ctrl, base: base}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		observe.Logger(r.Context()).Warn("ui: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	log := observe.Logger(r.Context()).With("remote", r.RemoteAddr)
	log.Info("ui client connected")
	defer log.Info("ui client disconnected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := s.hub.Subscribe(DefaultBuffer)
	defer sub.Close()

	go func() {
		defer cancel()
		s.readCommands(ctx, conn)
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-s.base.Done():
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := s.write(ctx, conn, ev); err != nil {
				log.Debug("ui: write failed", "err", err)
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

// readCommands runs until the client goes away. Each command runs in its own
// goroutine so a long turn does not stall the reader.
func (s *Server) readCommands(ctx context.Context, conn *websocket.Conn) {
	for {
		var cmd Command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				observe.Logger(ctx).Debug("ui: read failed", "err", err)
			}
			return
		}
		run, ok := s.command(cmd.Command)
		if !ok {
			_ = s.write(ctx, conn, Event{Type: EventRejected, Message: "unknown command: " + cmd.Command})
			continue
		}
		go func() {
			err := run(s.base)
			if errors.Is(err, session.ErrTurnInFlight) || errors.Is(err, session.ErrNotListening) {
				_ = s.write(ctx, conn, Event{Type: EventRejected, Message: err.Error()})
			}
			// Turn failures reach every client through the hub.
		}()
	}
}

func (s *Server) command(name string) (func(context.Context) error, bool) {
	switch name {
	case "toggle":
		return s.ctrl.Toggle, true
	case "start":
		return s.ctrl.StartListening, true
	case "stop":
		return s.ctrl.StopListening, true
	default:
		return nil, false
	}
}
