// Package types defines the data shared between the provider packages and
// the engine.
//
// Each package owns its own domain types; only the values that cross a
// provider boundary live here to avoid import cycles.
package types

import "time"

// Roles used in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in a chat conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text of the message.
	Content string
}

// Transcript is a speech-to-text result. Streaming providers emit partial
// transcripts before the final one.
type Transcript struct {
	Text string

	// IsFinal is false for interim results.
	IsFinal bool

	// Confidence is in [0, 1], or zero if the provider does not report it.
	Confidence float64

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// VoiceProfile selects and tunes a synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier ("onyx", an ElevenLabs
	// voice ID, a Coqui speaker name).
	ID string

	// Name is a human-readable label for logs.
	Name string

	// Provider names the TTS provider the voice belongs to.
	Provider string

	// SpeedFactor adjusts the speaking rate at synthesis time (1.0 = default).
	// It is independent of the client-side playback rate.
	SpeedFactor float64
}
