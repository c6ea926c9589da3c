// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (OpenAI speech, ElevenLabs,
// a local Coqui server) and turns one reply text into one encoded audio
// clip. Every provider in this module returns a RIFF/WAVE clip that
// audio.Decode accepts.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/MrWong99/kitt/pkg/types"
)

// ErrEmptyText is returned when Synthesize is called with blank text.
var ErrEmptyText = errors.New("tts: empty text")

// ErrUnknownVoice is returned by [CheckVoice] when the provider does not
// offer the requested voice.
var ErrUnknownVoice = errors.New("tts: unknown voice")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns the encoded
	// audio bytes. voice.SpeedFactor is applied by the service when it
	// supports a speaking rate; zero means the service default.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)
}

// VoiceLister is implemented by providers that can enumerate their voice
// catalogue.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}

// CheckVoice verifies that p offers the voice with the given ID. Providers
// that do not implement [VoiceLister] pass unchecked.
func CheckVoice(ctx context.Context, p Provider, id string) error {
	vl, ok := p.(VoiceLister)
	if !ok {
		return nil
	}
	voices, err := vl.ListVoices(ctx)
	if err != nil {
		return fmt.Errorf("tts: list voices: %w", err)
	}
	if !slices.ContainsFunc(voices, func(v types.VoiceProfile) bool { return v.ID == id }) {
		return fmt.Errorf("%w: %q", ErrUnknownVoice, id)
	}
	return nil
}
