package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/kitt/pkg/provider/tts"
	"github.com/MrWong99/kitt/pkg/types"
)

// ttsEntry binds a TTS backend to the voice it speaks with. Voice IDs are
// backend specific, so a fallback may replace the caller's voice ID.
type ttsEntry struct {
	provider tts.Provider
	voiceID  string
}

// TTSFallback implements [tts.Provider] with automatic failover across
// multiple synthesis backends.
type TTSFallback struct {
	group *FallbackGroup[ttsEntry]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
// The primary always speaks with the voice passed to Synthesize. Voice
// validation via tts.CheckVoice belongs on the unwrapped primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(ttsEntry{provider: primary}, primaryName, cfg)}
}

// AddFallback registers an additional TTS provider. A non-empty voiceID
// replaces the requested voice ID when this backend is used.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider, voiceID string) {
	f.group.AddFallback(name, ttsEntry{provider: provider, voiceID: voiceID})
}

// Names returns the backend names in failover order.
func (f *TTSFallback) Names() []string { return f.group.Names() }

// States returns the breaker state of every backend by name.
func (f *TTSFallback) States() map[string]State { return f.group.States() }

// Synthesize renders text with the first healthy provider. Blank text is
// rejected up front so it never counts against a breaker.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyText
	}
	return ExecuteWithResult(ctx, f.group, func(e ttsEntry) ([]byte, error) {
		v := voice
		if e.voiceID != "" {
			v.ID = e.voiceID
		}
		return e.provider.Synthesize(ctx, text, v)
	})
}
