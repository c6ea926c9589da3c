package audio

import (
	"context"
	"errors"
)

// Sentinel errors shared by every [Device] implementation. Backends wrap them
// with their own detail so callers can match with [errors.Is].
var (
	// ErrPermissionDenied is returned when the operating system refuses
	// access to the microphone or speaker.
	ErrPermissionDenied = errors.New("audio: permission denied")

	// ErrNoDevice is returned when no suitable input or output device exists.
	ErrNoDevice = errors.New("audio: no device available")

	// ErrDecode is returned when a synthesized payload cannot be decoded.
	ErrDecode = errors.New("audio: decode failed")

	// ErrStreamClosed is returned by writes on a closed [OutputStream].
	ErrStreamClosed = errors.New("audio: stream closed")
)

// Device is the local sound card. Implementations wrap a host audio API
// (PortAudio) or, in tests, an in-memory fake.
//
// Each Open call acquires a fresh hardware stream owned by the caller; the
// caller is the only party allowed to close it. Implementations must be safe
// for concurrent use.
type Device interface {
	// OpenInput starts capturing in format f. The ctx governs the open call
	// only; the stream lives until [InputStream.Close].
	OpenInput(ctx context.Context, f Format) (InputStream, error)

	// OpenOutput opens a playback stream accepting PCM in format f.
	OpenOutput(ctx context.Context, f Format) (OutputStream, error)
}

// InputStream is a live capture stream.
type InputStream interface {
	// Frames delivers captured PCM in arrival order. The channel is closed
	// after Close has flushed every frame the device had already produced.
	Frames() <-chan AudioFrame

	// Close stops the hardware stream. It is safe to call more than once.
	Close() error
}

// OutputStream is a live playback stream.
type OutputStream interface {
	// Format reports the format the device actually accepts. It may differ
	// from the requested one when the host substitutes a default rate.
	Format() Format

	// Write blocks until the frame has been handed to the device, which
	// paces callers at real time.
	Write(frame AudioFrame) error

	// Close drains pending output and releases the stream. It is safe to
	// call more than once.
	Close() error
}

