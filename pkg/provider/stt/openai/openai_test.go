package openai_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/kitt/pkg/audio"
	"github.com/MrWong99/kitt/pkg/provider/stt"
	"github.com/MrWong99/kitt/pkg/provider/stt/openai"
)

type upload struct {
	auth, model, language, filename string
	file                            []byte
}

func newServer(t *testing.T, status int, body string, got *upload) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if got != nil {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			got.auth = r.Header.Get("Authorization")
			got.model = r.FormValue("model")
			got.language = r.FormValue("language")
			if f, hdr, err := r.FormFile("file"); err == nil {
				got.filename = hdr.Filename
				got.file, _ = io.ReadAll(f)
				f.Close()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var got upload
	srv := newServer(t, http.StatusOK, `{"text":" Szia, KITT! "}`, &got)
	p, err := openai.New("sk-test", "", openai.WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	payload := audio.Payload{Data: make([]byte, 2048), Encoding: audio.EncodingPCM16, Format: audio.CaptureFormat}
	text, err := p.Transcribe(context.Background(), payload, "hu")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "Szia, KITT!" {
		t.Errorf("text = %q", text)
	}
	if got.auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got.auth)
	}
	if got.model != openai.DefaultModel || got.language != "hu" || got.filename != "audio.wav" {
		t.Errorf("upload = model %q language %q file %q", got.model, got.language, got.filename)
	}
	buf, err := audio.Decode(got.file)
	if err != nil || len(buf.Data) != 2048 {
		t.Errorf("uploaded file: %v, %d PCM bytes", err, len(buf.Data))
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()

	srv := newServer(t, http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`, nil)
	p, _ := openai.New("sk-bad", "whisper-1", openai.WithBaseURL(srv.URL+"/v1/"))

	payload := audio.Payload{Data: make([]byte, 64), Encoding: audio.EncodingPCM16, Format: audio.CaptureFormat}
	if _, err := p.Transcribe(context.Background(), payload, ""); err == nil {
		t.Error("expected error for HTTP 401")
	}
	if _, err := p.Transcribe(context.Background(), audio.Payload{}, ""); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("empty payload err = %v", err)
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New("", "whisper-1"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}
