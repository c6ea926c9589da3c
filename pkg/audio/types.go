// Package audio holds the local audio primitives shared by capture and
// playback: PCM frames and payloads, the device abstraction, the
// audio-processing [Context], the frequency [Analyser], the level [Meter],
// RIFF/WAVE coding and format conversion.
//
// All PCM in this package is 16-bit signed little-endian, interleaved when
// there is more than one channel.
package audio

import "time"

// CaptureFormat is the fixed microphone format: 16 kHz mono.
var CaptureFormat = Format{SampleRate: 16000, Channels: 1}

// AudioFrame is a single block of PCM flowing between a device stream and a
// controller. Capture streams emit one frame per device buffer; playback
// writes one frame per device buffer.
type AudioFrame struct {
	// PCM audio data.
	Data []byte

	// SampleRate in Hz (16000 for capture, device dependent for playback).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Encoding tags the container of a [Payload].
type Encoding string

const (
	// EncodingPCM16 is raw 16-bit little-endian PCM; the format travels in
	// [Payload.Format].
	EncodingPCM16 Encoding = "audio/pcm"

	// EncodingWAV is a RIFF/WAVE container.
	EncodingWAV Encoding = "audio/wav"
)

// Payload is a finalized recording: the concatenation of every captured
// chunk, tagged with its encoding.
type Payload struct {
	Data     []byte
	Encoding Encoding
	Format   Format
}

// Duration returns the playing time of a PCM payload, or 0 when the format is
// unknown or the payload is not raw PCM.
func (p Payload) Duration() time.Duration {
	if p.Encoding != EncodingPCM16 {
		return 0
	}
	return p.Format.Duration(len(p.Data))
}

// Buffer is decoded PCM ready for playback.
type Buffer struct {
	Data   []byte
	Format Format
}

// Duration returns the playing time of b at its native rate.
func (b *Buffer) Duration() time.Duration {
	return b.Format.Duration(len(b.Data))
}
