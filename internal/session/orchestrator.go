// Package session sequences KITT's conversational turns.
//
// The [Orchestrator] is an explicit state machine over
// Idle → Listening → Processing → Speaking → Idle. StartListening opens the
// microphone; StopListening finalizes the recording, runs the engine
// (transcription, chat, synthesis) and plays the reply. Any failure returns
// to Idle and is reported to the [Listener] exactly once. Turns are
// serialized: commands that arrive in a state that cannot accept them are
// rejected without side effects.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/kitt/internal/capture"
	"github.com/MrWong99/kitt/internal/engine"
	"github.com/MrWong99/kitt/internal/observe"
	"github.com/MrWong99/kitt/pkg/audio"
)

var (
	// ErrTurnInFlight is returned when a command arrives while a turn is
	// being processed or spoken, or a start arrives while listening.
	ErrTurnInFlight = errors.New("session: a turn is already in flight")

	// ErrNotListening is returned by StopListening when the microphone is not
	// recording (including while it is still starting).
	ErrNotListening = errors.New("session: not listening")
)

// Recorder captures the microphone. [*capture.Controller] implements it.
type Recorder interface {
	Start(ctx context.Context, onLevel func(float64)) (capture.Handle, error)
	Stop(ctx context.Context) (audio.Payload, error)
	Close() error
}

// Player plays a synthesised reply. [*playback.Controller] implements it.
type Player interface {
	Play(ctx context.Context, data []byte, onLevel func(float64)) error
}

// Orchestrator owns turn sequencing. It is safe for concurrent use.
type Orchestrator struct {
	rec      Recorder
	eng      engine.Engine
	play     Player
	listener Listener
	metrics  *observe.Metrics

	mu       sync.Mutex
	state    State
	starting bool
	turn     *Turn

	// notifyMu keeps listener notifications in transition order.
	notifyMu sync.Mutex
}

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithListener sets the event listener. Default: events are discarded.
func WithListener(l Listener) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.listener = l
		}
	}
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an idle Orchestrator.
func New(rec Recorder, eng engine.Engine, play Player, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		rec:      rec,
		eng:      eng,
		play:     play,
		listener: nopListener{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Turn returns a snapshot of the turn in flight. ok is false while Idle.
func (o *Orchestrator) Turn() (t Turn, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.turn == nil {
		return Turn{}, false
	}
	return *o.turn, true
}

// Toggle starts listening when Idle and stops listening when Listening, like
// the single microphone button of the UI. In any other state it returns
// [ErrTurnInFlight].
func (o *Orchestrator) Toggle(ctx context.Context) error {
	switch o.State() {
	case StateIdle:
		return o.StartListening(ctx)
	case StateListening:
		return o.StopListening(ctx)
	default:
		return ErrTurnInFlight
	}
}

// StartListening moves Idle → Listening and opens the microphone. A device
// failure returns to Idle and is returned as well as reported.
func (o *Orchestrator) StartListening(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return ErrTurnInFlight
	}
	t := &Turn{ID: uuid.NewString(), Started: time.Now()}
	o.turn = t
	o.starting = true
	o.transitionLocked(StateListening)

	ctx = observe.WithTurn(ctx, t.ID)
	observe.Logger(ctx).Info("listening")

	_, err := o.rec.Start(ctx, o.levelFunc(SourceMic))

	o.mu.Lock()
	o.starting = false
	o.mu.Unlock()
	if err != nil {
		o.fail(ctx, t, "capture", err)
		return err
	}
	return nil
}

// StopListening moves Listening → Processing, finalizes the recording and
// runs the rest of the turn synchronously: the engine stages, then Speaking
// while the reply plays, then Idle. It returns the turn's failure, which has
// already been reported to the listener.
func (o *Orchestrator) StopListening(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateListening || o.starting {
		o.mu.Unlock()
		return ErrNotListening
	}
	t := o.turn
	o.transitionLocked(StateProcessing)

	ctx, span := observe.StartSpan(observe.WithTurn(ctx, t.ID), "session.turn")
	defer span.End()
	span.SetAttributes(observe.Attr("kitt.turn_id", t.ID))
	log := observe.Logger(ctx)
	begin := time.Now()

	payload, err := o.rec.Stop(ctx)
	o.emitLevel(SourceMic, 0)
	if errors.Is(err, capture.ErrNoActiveSession) {
		// The microphone was released under the turn (Close at shutdown).
		log.Debug("recording already released, abandoning turn", "err", err)
		o.metrics.RecordTurn(ctx, "abandoned")
		o.update(func() { t.Err = err })
		o.finish(t)
		return err
	}
	if err != nil {
		o.fail(ctx, t, "capture", err)
		return err
	}
	o.update(func() { t.Recording = payload })
	log.Info("processing", "recorded", payload.Duration())

	res, err := o.eng.Process(ctx, payload)
	if res != nil {
		o.update(func() {
			t.Transcript = res.Transcript
			t.Reply = res.Reply
			t.Audio = res.Audio
		})
	}
	if err != nil {
		outcome := "engine"
		if stage, ok := engine.FailedStage(err); ok {
			outcome = stage.String()
		}
		o.fail(ctx, t, outcome, err)
		return err
	}
	log.Info("reply ready", "transcript", res.Transcript, "reply", res.Reply)

	o.transition(StateSpeaking)
	err = o.play.Play(ctx, res.Audio, o.levelFunc(SourceSpeaker))
	o.emitLevel(SourceSpeaker, 0)
	if err != nil {
		o.fail(ctx, t, "playback", err)
		return err
	}

	o.metrics.TurnDuration.Record(ctx, time.Since(begin).Seconds())
	o.metrics.RecordTurn(ctx, "ok")
	log.Info("turn complete", "took", time.Since(begin))
	o.finish(t)
	return nil
}

// Close releases a microphone left open by an unfinished turn. It is meant
// for shutdown.
func (o *Orchestrator) Close() error {
	return o.rec.Close()
}

// ─── transitions ─────────────────────────────────────────────────────────────

// transitionLocked sets s and notifies the listener. It must be called with
// o.mu held and releases it.
func (o *Orchestrator) transitionLocked(s State) {
	o.state = s
	if o.turn != nil {
		o.turn.State = s
	}
	o.notifyMu.Lock()
	o.mu.Unlock()
	defer o.notifyMu.Unlock()
	o.listener.OnState(s)
}

func (o *Orchestrator) transition(s State) {
	o.mu.Lock()
	o.transitionLocked(s)
}

// update applies fn to the turn under the lock.
func (o *Orchestrator) update(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn()
}

// finish hands the turn to a TurnObserver and returns to Idle.
func (o *Orchestrator) finish(t *Turn) {
	o.mu.Lock()
	o.turn = nil
	snapshot := *t
	snapshot.State = StateIdle
	o.transitionLocked(StateIdle)

	if obs, ok := o.listener.(TurnObserver); ok {
		obs.OnTurn(snapshot)
	}
}

// fail ends t with err: back to Idle, levels reset, one error notification.
func (o *Orchestrator) fail(ctx context.Context, t *Turn, outcome string, err error) {
	observe.Logger(ctx).Error("turn failed", "outcome", outcome, "err", err)
	o.metrics.RecordTurn(ctx, outcome)
	o.update(func() { t.Err = err })
	o.emitLevel(SourceMic, 0)
	o.emitLevel(SourceSpeaker, 0)
	o.finish(t)
	o.listener.OnError(err)
}

func (o *Orchestrator) levelFunc(src LevelSource) func(float64) {
	return func(l float64) { o.listener.OnLevel(src, l) }
}

func (o *Orchestrator) emitLevel(src LevelSource, l float64) {
	o.listener.OnLevel(src, l)
}
