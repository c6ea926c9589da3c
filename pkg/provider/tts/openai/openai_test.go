package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/kitt/pkg/audio"
	"github.com/MrWong99/kitt/pkg/provider/tts"
	"github.com/MrWong99/kitt/pkg/provider/tts/openai"
	"github.com/MrWong99/kitt/pkg/types"
)

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`
}

func newSpeechServer(t *testing.T, body []byte, got *speechRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			http.NotFound(w, r)
			return
		}
		if got != nil {
			json.NewDecoder(r.Body).Decode(got)
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	clip := audio.EncodeWAV(make([]byte, 4800), audio.Format{SampleRate: 24000, Channels: 1})
	var got speechRequest
	srv := newSpeechServer(t, clip, &got)

	p, err := openai.New("sk-test", "", openai.WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wav, err := p.Synthesize(context.Background(), "Jó napot, Michael.", types.VoiceProfile{ID: "onyx", SpeedFactor: 1.25})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(wav) != len(clip) {
		t.Errorf("clip = %d bytes, want %d", len(wav), len(clip))
	}
	want := speechRequest{Model: "tts-1-hd", Input: "Jó napot, Michael.", Voice: "onyx", Speed: 1.25, ResponseFormat: "wav"}
	if got != want {
		t.Errorf("request = %+v, want %+v", got, want)
	}
}

func TestSynthesize_SpeedClamp(t *testing.T) {
	t.Parallel()

	var got speechRequest
	srv := newSpeechServer(t, audio.EncodeWAV(make([]byte, 2), audio.CaptureFormat), &got)
	p, _ := openai.New("sk-test", "tts-1", openai.WithBaseURL(srv.URL+"/v1/"))

	if _, err := p.Synthesize(context.Background(), "x", types.VoiceProfile{ID: "nova", SpeedFactor: 9}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.Speed != 4.0 {
		t.Errorf("speed = %v, want clamped 4.0", got.Speed)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	srv := newSpeechServer(t, []byte("not a wav"), nil)
	p, _ := openai.New("sk-test", "", openai.WithBaseURL(srv.URL+"/v1/"))

	if _, err := p.Synthesize(context.Background(), "x", types.VoiceProfile{ID: "onyx"}); !errors.Is(err, audio.ErrDecode) {
		t.Errorf("garbage body err = %v, want audio.ErrDecode", err)
	}
	if _, err := p.Synthesize(context.Background(), "", types.VoiceProfile{ID: "onyx"}); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("empty text err = %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "x", types.VoiceProfile{}); err == nil {
		t.Error("expected error for empty voice")
	}
	if _, err := openai.New("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	p, _ := openai.New("sk-test", "")
	if err := tts.CheckVoice(context.Background(), p, "onyx"); err != nil {
		t.Errorf("CheckVoice(onyx) = %v", err)
	}
	if err := tts.CheckVoice(context.Background(), p, "kitt"); !errors.Is(err, tts.ErrUnknownVoice) {
		t.Errorf("CheckVoice(kitt) = %v", err)
	}
}
