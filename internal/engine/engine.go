// Package engine defines the Engine interface and its supporting types.
//
// An Engine runs the provider half of one conversational turn: it receives the
// finalized microphone recording, transcribes it, asks the chat model for a
// reply and synthesises that reply into audio. The three stages are strictly
// sequential; each stage's output is the next stage's sole input and a failure
// aborts the remaining stages.
//
// Stage failures are reported as [*StageError], which matches the stage's
// sentinel ([ErrTranscription], [ErrChat], [ErrSynthesis]) with [errors.Is]
// while still unwrapping to the provider's own error.
//
// This package lives under internal/ because it encapsulates application-private
// processing logic and is not intended to be imported by external code.
package engine

import (
	"context"
	"errors"

	"github.com/MrWong99/kitt/pkg/audio"
)

var (
	// ErrTranscription marks a failure of the speech-to-text stage.
	ErrTranscription = errors.New("engine: transcription failed")

	// ErrChat marks a failure of the chat completion stage.
	ErrChat = errors.New("engine: chat failed")

	// ErrSynthesis marks a failure of the speech synthesis stage.
	ErrSynthesis = errors.New("engine: synthesis failed")
)

// Stage identifies one step of a turn.
type Stage int

const (
	StageTranscription Stage = iota
	StageChat
	StageSynthesis
)

// String returns the lower-case stage name used in logs and metrics.
func (s Stage) String() string {
	switch s {
	case StageTranscription:
		return "transcription"
	case StageChat:
		return "chat"
	case StageSynthesis:
		return "synthesis"
	default:
		return "unknown"
	}
}

// Kind returns the provider kind serving the stage ("stt", "llm", "tts").
func (s Stage) Kind() string {
	switch s {
	case StageTranscription:
		return "stt"
	case StageChat:
		return "llm"
	case StageSynthesis:
		return "tts"
	default:
		return "unknown"
	}
}

// Sentinel returns the sentinel error matched by a [*StageError] for s.
func (s Stage) Sentinel() error {
	switch s {
	case StageTranscription:
		return ErrTranscription
	case StageChat:
		return ErrChat
	case StageSynthesis:
		return ErrSynthesis
	default:
		return nil
	}
}

// StageError wraps a provider error with the stage it occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

// Error implements error.
func (e *StageError) Error() string {
	return "engine: " + e.Stage.String() + ": " + e.Err.Error()
}

// Unwrap returns the provider error.
func (e *StageError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel of e's stage.
func (e *StageError) Is(target error) bool {
	s := e.Stage.Sentinel()
	return s != nil && target == s
}

// FailedStage returns the stage a turn failed in. ok is false when err does
// not carry a [*StageError].
func FailedStage(err error) (stage Stage, ok bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return 0, false
}

// Result holds the artifacts of one turn. On failure the fields produced
// before the failing stage are still set.
type Result struct {
	// Transcript is the recognised user utterance.
	Transcript string

	// Reply is the chat model's answer (or the configured fallback reply).
	Reply string

	// Audio is the synthesised reply, encoded as returned by the TTS provider.
	Audio []byte
}

// Engine runs transcription, chat and synthesis for one recorded utterance.
//
// Implementations must be safe for concurrent use, although the session
// orchestrator never runs two turns at once.
type Engine interface {
	// Process runs the three stages in order. It returns a non-nil Result even
	// when err is non-nil so callers can surface partial artifacts.
	Process(ctx context.Context, payload audio.Payload) (*Result, error)
}
