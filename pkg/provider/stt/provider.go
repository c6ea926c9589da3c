// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider receives one finalized recording per turn and returns the
// transcribed text. Implementations wrap a hosted API (OpenAI, Deepgram), a
// whisper.cpp server or an in-process whisper.cpp model.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/kitt/pkg/audio"
)

// ErrEmptyAudio is returned when a payload carries no audio data.
var ErrEmptyAudio = errors.New("stt: empty audio payload")

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts the recording to text. language is a BCP-47 or
	// ISO-639-1 hint ("hu", "en-US"); empty lets the provider detect it.
	//
	// A payload that decodes to silence yields an empty string and no error.
	Transcribe(ctx context.Context, payload audio.Payload, language string) (string, error)
}

// PCM returns the payload as raw 16-bit PCM together with its format,
// unwrapping a WAV container when necessary. It lets every provider accept
// both encodings.
func PCM(p audio.Payload) ([]byte, audio.Format, error) {
	if len(p.Data) == 0 {
		return nil, audio.Format{}, ErrEmptyAudio
	}
	if p.Encoding == audio.EncodingWAV {
		buf, err := audio.Decode(p.Data)
		if err != nil {
			return nil, audio.Format{}, err
		}
		return buf.Data, buf.Format, nil
	}
	f := p.Format
	if !f.Valid() {
		f = audio.CaptureFormat
	}
	return p.Data, f, nil
}

// WAV returns the payload wrapped in a RIFF/WAVE container, the upload format
// every file-based API accepts.
func WAV(p audio.Payload) ([]byte, error) {
	if p.Encoding == audio.EncodingWAV {
		if len(p.Data) == 0 {
			return nil, ErrEmptyAudio
		}
		return p.Data, nil
	}
	pcm, f, err := PCM(p)
	if err != nil {
		return nil, err
	}
	return audio.EncodeWAV(pcm, f), nil
}
