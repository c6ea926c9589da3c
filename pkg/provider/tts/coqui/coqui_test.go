package coqui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/kitt/pkg/audio"
	"github.com/MrWong99/kitt/pkg/provider/tts"
	"github.com/MrWong99/kitt/pkg/types"
)

// ---- test helpers ----

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return p
}

// testClip is 100 ms of 22.05 kHz mono PCM, the native rate of many Coqui
// models.
func testClip() []byte {
	pcm := make([]byte, 4410)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	return audio.EncodeWAV(pcm, audio.Format{SampleRate: 22050, Channels: 1})
}

// ---- Provider creation ----

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "http://localhost:5002/")
		if p.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want trailing slash stripped", p.serverURL)
		}
		if p.language != defaultLanguage || p.apiMode != APIModeStandard {
			t.Errorf("language = %q, mode = %q", p.language, p.apiMode)
		}
		if p.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, defaultTimeout)
		}
	})

	t.Run("with options", func(t *testing.T) {
		p := mustNew(t, "http://localhost:8002",
			WithLanguage("hu"),
			WithTimeout(5*time.Second),
			WithAPIMode(APIModeXTTS),
			WithOutputSampleRate(16000),
		)
		if p.language != "hu" || p.httpClient.Timeout != 5*time.Second || p.apiMode != APIModeXTTS || p.outputRate != 16000 {
			t.Errorf("provider = %+v", p)
		}
	})

	t.Run("errors", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Error("expected error for empty URL")
		}
		if _, err := New("http://x", WithAPIMode("grpc")); err == nil {
			t.Error("expected error for unknown API mode")
		}
	})
}

// ---- Synthesize ----

func TestSynthesize_StandardAPI(t *testing.T) {
	t.Parallel()

	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != apiTTSEndpoint {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		gotQuery = map[string]string{"text": q.Get("text"), "speaker_id": q.Get("speaker_id"), "language_id": q.Get("language_id")}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(testClip())
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithLanguage("hu"))
	wav, err := p.Synthesize(context.Background(), " Turbó boost! ", types.VoiceProfile{ID: "p225"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(wav) != string(testClip()) {
		t.Error("clip was altered without resampling configured")
	}
	want := map[string]string{"text": "Turbó boost!", "speaker_id": "p225", "language_id": "hu"}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	t.Parallel()

	var got ttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != ttsEndpoint {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Content-Type") != "application/json" {
			http.Error(w, "bad content type", http.StatusUnsupportedMediaType)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write(testClip())
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS), WithLanguage("hu"), WithOutputSampleRate(16000))
	wav, err := p.Synthesize(context.Background(), "Szia", types.VoiceProfile{ID: "Claribel Dervla"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.Text != "Szia" || got.SpeakerWav != "Claribel Dervla" || got.Language != "hu" {
		t.Errorf("request = %+v", got)
	}

	buf, err := audio.Decode(wav)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if buf.Format.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want resampled 16000", buf.Format.SampleRate)
	}
	if d := buf.Duration(); d < 95*time.Millisecond || d > 105*time.Millisecond {
		t.Errorf("duration = %v, want ~100ms", d)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	status := http.StatusInternalServerError
	body := "boom"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	defer srv.Close()
	p := mustNew(t, srv.URL)

	_, err := p.Synthesize(context.Background(), "x", types.VoiceProfile{})
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Errorf("HTTP 500 err = %v", err)
	}

	if _, err := p.Synthesize(context.Background(), "   ", types.VoiceProfile{}); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("blank text err = %v", err)
	}
}

func TestSynthesize_NotWAV(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ID3 this is an mp3"))
	}))
	defer srv.Close()

	_, err := mustNew(t, srv.URL).Synthesize(context.Background(), "x", types.VoiceProfile{})
	if !errors.Is(err, audio.ErrDecode) {
		t.Errorf("err = %v, want audio.ErrDecode", err)
	}
}

// ---- ListVoices ----

func TestListVoices_XTTS(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != studioSpeakersEndpoint {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"speaker_bob":{"type":"studio"},"speaker_alice":{"type":"studio"}}`))
	}))
	defer srv.Close()

	voices, err := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS)).ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 || voices[0].ID != "speaker_alice" || voices[1].ID != "speaker_bob" {
		t.Errorf("voices = %+v", voices)
	}
	for _, v := range voices {
		if v.Provider != "coqui" {
			t.Errorf("voice %q Provider = %q", v.ID, v.Provider)
		}
	}
}

func TestListVoices_StandardAPI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		details string
		want    []string
	}{
		{"multi speaker", `{"model_name":"vctk/vits","speakers":["p232","p225"]}`, []string{"p225", "p232"}},
		{"single speaker", `{"model_name":"tts_models/hu/css10/vits"}`, []string{"tts_models/hu/css10/vits"}},
		{"no model name", `{}`, []string{"default"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != detailsEndpoint {
					http.NotFound(w, r)
					return
				}
				w.Write([]byte(tt.details))
			}))
			defer srv.Close()

			voices, err := mustNew(t, srv.URL).ListVoices(context.Background())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			if len(voices) != len(tt.want) {
				t.Fatalf("got %d voices, want %d", len(voices), len(tt.want))
			}
			for i, id := range tt.want {
				if voices[i].ID != id {
					t.Errorf("voices[%d] = %q, want %q", i, voices[i].ID, id)
				}
			}
		})
	}
}

func TestListVoices_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := mustNew(t, srv.URL).ListVoices(context.Background())
	if err == nil || !strings.Contains(err.Error(), "coqui:") {
		t.Fatalf("err = %v, want coqui-prefixed error", err)
	}
}
