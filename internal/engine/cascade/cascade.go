// Package cascade implements [engine.Engine] as a sequential provider cascade.
//
// One turn runs three provider calls strictly in order:
//
//  1. The recording is transcribed by the STT provider using the persona
//     language as hint.
//  2. The transcript is sent to the chat model as the only user message,
//     preceded by the persona system prompt and bounded by the persona's
//     max tokens and temperature.
//  3. The reply is synthesised by the TTS provider with the persona voice.
//
// A blank chat reply is replaced by the persona's fallback reply, and so is
// the reply to a blank transcript (the chat model is not called in that case).
// Each stage is traced with its own span and timed into the matching
// observe histogram.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/kitt/internal/engine"
	"github.com/MrWong99/kitt/internal/observe"
	"github.com/MrWong99/kitt/pkg/audio"
	"github.com/MrWong99/kitt/pkg/provider/llm"
	"github.com/MrWong99/kitt/pkg/provider/stt"
	"github.com/MrWong99/kitt/pkg/provider/tts"
	"github.com/MrWong99/kitt/pkg/types"
)

// errNoAudio is reported by the synthesis stage when the provider returned
// an empty clip.
var errNoAudio = errors.New("provider returned no audio")

// Persona is the character the assistant speaks as.
type Persona struct {
	// Language is the transcription language hint ("hu").
	Language string

	// SystemPrompt is sent as the system message of every chat request.
	SystemPrompt string

	// MaxTokens bounds the reply length. Zero uses the provider default.
	MaxTokens int

	// Temperature is the sampling temperature. Zero uses the provider default.
	Temperature float64

	// FallbackReply is spoken when the chat model returns no content. It must
	// not be blank.
	FallbackReply string

	// Voice selects the TTS voice and synthesis speed.
	Voice types.VoiceProfile
}

// Engine implements [engine.Engine] over one STT, one LLM and one TTS provider.
// It holds no per-turn state and is safe for concurrent use.
type Engine struct {
	stt     stt.Provider
	llm     llm.Provider
	tts     tts.Provider
	persona atomic.Pointer[Persona]

	names   map[engine.Stage]string
	metrics *observe.Metrics
}

// Compile-time assertion that Engine satisfies the engine.Engine interface.
var _ engine.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine during construction.
type Option func(*Engine)

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithProviderNames sets the provider names reported in metrics and spans.
func WithProviderNames(sttName, llmName, ttsName string) Option {
	return func(e *Engine) {
		e.names[engine.StageTranscription] = sttName
		e.names[engine.StageChat] = llmName
		e.names[engine.StageSynthesis] = ttsName
	}
}

// New constructs a cascade Engine. All providers are required and the persona
// must carry a fallback reply.
func New(s stt.Provider, l llm.Provider, t tts.Provider, persona Persona, opts ...Option) (*Engine, error) {
	var errs []error
	if s == nil {
		errs = append(errs, errors.New("stt provider is nil"))
	}
	if l == nil {
		errs = append(errs, errors.New("llm provider is nil"))
	}
	if t == nil {
		errs = append(errs, errors.New("tts provider is nil"))
	}
	if err := validatePersona(persona); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, errors.Join(errors.New("cascade: invalid engine"), err)
	}

	e := &Engine{
		stt: s,
		llm: l,
		tts: t,
		names: map[engine.Stage]string{
			engine.StageTranscription: "stt",
			engine.StageChat:          "llm",
			engine.StageSynthesis:     "tts",
		},
	}
	e.persona.Store(&persona)
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e, nil
}

// Persona returns the persona the engine speaks as.
func (e *Engine) Persona() Persona { return *e.persona.Load() }

// SetPersona replaces the persona for turns that start afterwards. A turn in
// flight finishes with the persona it started with.
func (e *Engine) SetPersona(p Persona) error {
	if err := validatePersona(p); err != nil {
		return fmt.Errorf("cascade: %w", err)
	}
	e.persona.Store(&p)
	return nil
}

func validatePersona(p Persona) error {
	if strings.TrimSpace(p.FallbackReply) == "" {
		return errors.New("persona fallback reply is empty")
	}
	return nil
}

// ─── engine.Engine ────────────────────────────────────────────────────────────

// Process runs transcription, chat and synthesis in order. The returned
// Result carries every artifact produced before a failure.
func (e *Engine) Process(ctx context.Context, payload audio.Payload) (*engine.Result, error) {
	ctx, span := observe.StartSpan(ctx, "cascade.Process")
	defer span.End()

	persona := e.Persona()
	res := &engine.Result{}

	// ── Stage 1: transcription ───────────────────────────────────────────────
	transcript, err := runStage(ctx, e, engine.StageTranscription, e.metrics.STTDuration,
		func(ctx context.Context) (string, error) {
			return e.stt.Transcribe(ctx, payload, persona.Language)
		})
	if err != nil {
		return res, e.fail(span, err)
	}
	res.Transcript = strings.TrimSpace(transcript)

	// ── Stage 2: chat ────────────────────────────────────────────────────────
	if res.Transcript == "" {
		observe.Logger(ctx).Info("empty transcript, using fallback reply")
		res.Reply = persona.FallbackReply
	} else {
		reply, err := runStage(ctx, e, engine.StageChat, e.metrics.LLMDuration,
			func(ctx context.Context) (string, error) {
				resp, err := e.llm.Complete(ctx, buildRequest(persona, res.Transcript))
				if err != nil {
					return "", err
				}
				if resp.Truncated() {
					observe.Logger(ctx).Debug("reply hit the token cap", "max_tokens", persona.MaxTokens)
				}
				return resp.Content, nil
			})
		if err != nil {
			return res, e.fail(span, err)
		}
		res.Reply = strings.TrimSpace(reply)
		if res.Reply == "" {
			observe.Logger(ctx).Warn("chat model returned no content, using fallback reply")
			res.Reply = persona.FallbackReply
		}
	}

	// ── Stage 3: synthesis ───────────────────────────────────────────────────
	clip, err := runStage(ctx, e, engine.StageSynthesis, e.metrics.TTSDuration,
		func(ctx context.Context) ([]byte, error) {
			b, err := e.tts.Synthesize(ctx, res.Reply, persona.Voice)
			if err == nil && len(b) == 0 {
				err = errNoAudio
			}
			return b, err
		})
	if err != nil {
		return res, e.fail(span, err)
	}
	res.Audio = clip

	span.SetAttributes(
		attribute.Int("kitt.transcript.chars", len(res.Transcript)),
		attribute.Int("kitt.reply.chars", len(res.Reply)),
		attribute.Int("kitt.audio.bytes", len(res.Audio)),
	)
	return res, nil
}

// buildRequest assembles the single-turn chat request for transcript.
func buildRequest(p Persona, transcript string) llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt: p.SystemPrompt,
		Messages:     []types.Message{{Role: types.RoleUser, Content: transcript}},
		MaxTokens:    p.MaxTokens,
		Temperature:  p.Temperature,
	}
}

// fail marks the turn span as failed and returns err unchanged.
func (e *Engine) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
