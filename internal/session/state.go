package session

import (
	"time"

	"github.com/MrWong99/kitt/pkg/audio"
)

// State is the orchestrator's position in the turn cycle.
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSpeaking
)

// String returns the lower-case state name used on the UI wire.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// LevelSource names the signal a level belongs to.
type LevelSource string

const (
	// SourceMic is the microphone during Listening.
	SourceMic LevelSource = "mic"

	// SourceSpeaker is the reply during Speaking.
	SourceSpeaker LevelSource = "speaker"
)

// Turn is the orchestrator's view of one listen → transcribe → respond →
// speak cycle. It exists from StartListening until the cycle returns to Idle.
type Turn struct {
	// ID is a random UUID identifying the turn in logs and UI events.
	ID string

	// State is the turn's current state.
	State State

	// Started is when listening began.
	Started time.Time

	// Recording is the captured microphone payload.
	Recording audio.Payload

	// Transcript is the recognised utterance.
	Transcript string

	// Reply is the text KITT answered with.
	Reply string

	// Audio is the synthesised reply.
	Audio []byte

	// Err is the failure that ended the turn, if any.
	Err error
}

// Listener receives orchestrator events. Implementations must not block or
// call back into the Orchestrator; level events arrive once per meter frame.
type Listener interface {
	// OnState is called after every state transition, in transition order.
	OnState(s State)

	// OnLevel reports a signal level in [0,1]. A final 0 is sent for a source
	// when it stops.
	OnLevel(source LevelSource, level float64)

	// OnError is called exactly once for every failed turn.
	OnError(err error)
}

// TurnObserver is optionally implemented by a [Listener] that wants the
// finished turn's artifacts.
type TurnObserver interface {
	OnTurn(t Turn)
}

// nopListener discards every event.
type nopListener struct{}

func (nopListener) OnState(State)                {}
func (nopListener) OnLevel(LevelSource, float64) {}
func (nopListener) OnError(error)                {}
