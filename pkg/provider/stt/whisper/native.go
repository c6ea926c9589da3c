// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/kitt/pkg/audio"
	"github.com/MrWong99/kitt/pkg/provider/stt"
)

// whisperRate is the only sample rate the model accepts.
const whisperRate = 16000

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using the whisper.cpp Go bindings.
// The model is loaded once; every call gets its own inference context.
type NativeProvider struct {
	model      whisperlib.Model
	language   string
	silenceRMS float64

	// whisper.cpp contexts share the model's compute buffers; serialise runs.
	mu sync.Mutex
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language (e.g., "hu", "en").
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSilenceThreshold sets the RMS floor below which a recording is
// skipped. Zero disables the check.
func WithNativeSilenceThreshold(rms float64) NativeOption {
	return func(p *NativeProvider) { p.silenceRMS = rms }
}

// NewNative loads the whisper.cpp model from modelPath. The caller must call
// Close when the provider is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:      model,
		language:   defaultLanguage,
		silenceRMS: defaultRMSThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider. Audio at other rates is resampled to
// 16 kHz before inference.
func (p *NativeProvider) Transcribe(ctx context.Context, payload audio.Payload, language string) (string, error) {
	pcm, f, err := stt.PCM(payload)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	if p.silenceRMS > 0 && computeRMS(pcm) < p.silenceRMS {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	if language == "" {
		language = p.language
	}

	if f.SampleRate != whisperRate {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: whisperRate, Channels: f.Channels}}
		pcm = conv.Convert(audio.AudioFrame{Data: pcm, SampleRate: f.SampleRate, Channels: f.Channels}).Data
	}
	return p.infer(pcmToFloat32Mono(pcm, f.Channels), language)
}

// infer runs whisper.cpp on samples with a fresh context and joins the
// segment texts.
func (p *NativeProvider) infer(samples []float32, language string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
