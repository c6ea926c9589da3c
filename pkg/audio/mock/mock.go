// Package mock provides an in-memory [audio.Device] for unit tests.
//
// The mock is safe for concurrent use. It records every open call, counts
// streams that are still open so tests can check for leaks, and exposes
// exported fields that control the returned frames and errors.
//
// Typical usage:
//
//	dev := &mock.Device{
//	    InputFrames: []audio.AudioFrame{{Data: make([]byte, 1024)}},
//	}
//	in, err := dev.OpenInput(ctx, audio.CaptureFormat)
//	...
//	if dev.OpenStreams() != 0 { t.Error("leaked stream") }
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/kitt/pkg/audio"
)

// inputBuffer bounds how many frames an [InputStream] holds before Push
// starts dropping.
const inputBuffer = 256

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// InputFrames are queued on every opened input stream, in order, before
	// OpenInput returns. Frames without a rate or channel count get the
	// requested format.
	InputFrames []audio.AudioFrame

	// OpenInputErr is returned by OpenInput when non-nil.
	OpenInputErr error

	// OpenOutputErr is returned by OpenOutput when non-nil.
	OpenOutputErr error

	// OutputFormat overrides the format reported by opened output streams.
	// Zero means the requested format.
	OutputFormat audio.Format

	// WriteErr is returned by every output Write when non-nil.
	WriteErr error

	// Pace scales the real-time sleep in Write. 0 disables pacing, 1 plays
	// in real time.
	Pace float64

	// OpenInputCalls records the format of every OpenInput call.
	OpenInputCalls []audio.Format

	// OpenOutputCalls records the format of every OpenOutput call.
	OpenOutputCalls []audio.Format

	open    atomic.Int64
	inputs  []*InputStream
	outputs []*OutputStream
}

var _ audio.Device = (*Device)(nil)

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(_ context.Context, f audio.Format) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenInputCalls = append(d.OpenInputCalls, f)
	if d.OpenInputErr != nil {
		return nil, d.OpenInputErr
	}

	s := &InputStream{dev: d, ch: make(chan audio.AudioFrame, inputBuffer+len(d.InputFrames))}
	for _, fr := range d.InputFrames {
		if fr.SampleRate == 0 {
			fr.SampleRate = f.SampleRate
		}
		if fr.Channels == 0 {
			fr.Channels = f.Channels
		}
		s.ch <- fr
	}
	d.open.Add(1)
	d.inputs = append(d.inputs, s)
	return s, nil
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(_ context.Context, f audio.Format) (audio.OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenOutputCalls = append(d.OpenOutputCalls, f)
	if d.OpenOutputErr != nil {
		return nil, d.OpenOutputErr
	}
	if d.OutputFormat.Valid() {
		f = d.OutputFormat
	}
	s := &OutputStream{dev: d, format: f, writeErr: d.WriteErr, pace: d.Pace}
	d.open.Add(1)
	d.outputs = append(d.outputs, s)
	return s, nil
}

// OpenStreams returns how many input and output streams are open.
func (d *Device) OpenStreams() int {
	return int(d.open.Load())
}

// LastInput returns the most recently opened input stream, or nil.
func (d *Device) LastInput() *InputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.inputs) == 0 {
		return nil
	}
	return d.inputs[len(d.inputs)-1]
}

// LastOutput returns the most recently opened output stream, or nil.
func (d *Device) LastOutput() *OutputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.outputs) == 0 {
		return nil
	}
	return d.outputs[len(d.outputs)-1]
}

// ─── InputStream ──────────────────────────────────────────────────────────────

// InputStream is a mock [audio.InputStream].
type InputStream struct {
	dev    *Device
	mu     sync.Mutex
	ch     chan audio.AudioFrame
	closed bool

	// CloseCount records how many times Close was called.
	CloseCount int
}

// Frames implements [audio.InputStream].
func (s *InputStream) Frames() <-chan audio.AudioFrame { return s.ch }

// Push delivers one more frame, as if the microphone produced it. It reports
// false when the stream is closed or its buffer is full.
func (s *InputStream) Push(fr audio.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- fr:
		return true
	default:
		return false
	}
}

// Close implements [audio.InputStream]. Queued frames stay readable until the
// channel is drained.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	s.dev.open.Add(-1)
	return nil
}

// Closed reports whether Close has been called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── OutputStream ─────────────────────────────────────────────────────────────

// OutputStream is a mock [audio.OutputStream] that records what was played.
type OutputStream struct {
	dev      *Device
	format   audio.Format
	writeErr error
	pace     float64

	mu      sync.Mutex
	closed  bool
	written []audio.AudioFrame

	// CloseCount records how many times Close was called.
	CloseCount int
}

// Format implements [audio.OutputStream].
func (s *OutputStream) Format() audio.Format { return s.format }

// Write implements [audio.OutputStream]. With pacing enabled it sleeps for
// the frame's playing time scaled by the device's Pace.
func (s *OutputStream) Write(fr audio.AudioFrame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return audio.ErrStreamClosed
	}
	if s.writeErr != nil {
		s.mu.Unlock()
		return s.writeErr
	}
	s.written = append(s.written, fr)
	s.mu.Unlock()

	if s.pace > 0 {
		d := audio.Format{SampleRate: fr.SampleRate, Channels: fr.Channels}.Duration(len(fr.Data))
		time.Sleep(time.Duration(float64(d) * s.pace))
	}
	return nil
}

// Close implements [audio.OutputStream].
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	if s.closed {
		return nil
	}
	s.closed = true
	s.dev.open.Add(-1)
	return nil
}

// Written returns a copy of every frame written so far.
func (s *OutputStream) Written() []audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.AudioFrame, len(s.written))
	copy(out, s.written)
	return out
}

// BytesWritten returns the total PCM byte count written.
func (s *OutputStream) BytesWritten() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, fr := range s.written {
		n += len(fr.Data)
	}
	return n
}
