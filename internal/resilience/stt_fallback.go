package resilience

import (
	"context"

	"github.com/MrWong99/kitt/pkg/audio"
	"github.com/MrWong99/kitt/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across
// multiple speech-to-text backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in failover order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// States returns the breaker state of every backend by name.
func (f *STTFallback) States() map[string]State { return f.group.States() }

// Transcribe sends the recording to the first healthy provider. An empty
// payload is rejected up front so it never counts against a breaker.
func (f *STTFallback) Transcribe(ctx context.Context, payload audio.Payload, language string) (string, error) {
	if len(payload.Data) == 0 {
		return "", stt.ErrEmptyAudio
	}
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, payload, language)
	})
}
