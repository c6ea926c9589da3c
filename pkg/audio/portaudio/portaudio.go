// Package portaudio implements [audio.Device] on top of the PortAudio
// blocking I/O API via github.com/gordonklaus/portaudio.
//
// A [Device] initializes the PortAudio library once and must be closed on
// shutdown. Every stream it opens is independent and owned by the caller.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/kitt/pkg/audio"
)

// DefaultFramesPerBuffer is the device buffer size when none is configured.
const DefaultFramesPerBuffer = 1024

// Option configures a [Device].
type Option func(*Device)

// WithDeviceName selects the host device whose name contains name
// (case-insensitive) instead of the system default.
func WithDeviceName(name string) Option {
	return func(d *Device) { d.name = name }
}

// WithFramesPerBuffer sets the device buffer size in frames.
func WithFramesPerBuffer(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.frames = n
		}
	}
}

// Device is the PortAudio sound card.
type Device struct {
	name   string
	frames int

	closeOnce sync.Once
}

var _ audio.Device = (*Device)(nil)

// New initializes PortAudio and returns a device.
func New(opts ...Option) (*Device, error) {
	d := &Device{frames: DefaultFramesPerBuffer}
	for _, o := range opts {
		o(d)
	}
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", classify(err))
	}
	return d, nil
}

// Close terminates PortAudio. Streams still open become invalid.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() { err = pa.Terminate() })
	return err
}

// Check reports whether at least one input and one output device exist. It
// backs the readiness probe.
func (d *Device) Check(_ context.Context) error {
	devs, err := pa.Devices()
	if err != nil {
		return fmt.Errorf("portaudio: list devices: %w", classify(err))
	}
	var in, out bool
	for _, dev := range devs {
		in = in || dev.MaxInputChannels > 0
		out = out || dev.MaxOutputChannels > 0
	}
	if !in || !out {
		return fmt.Errorf("portaudio: input=%t output=%t: %w", in, out, audio.ErrNoDevice)
	}
	return nil
}

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(_ context.Context, f audio.Format) (audio.InputStream, error) {
	buf := make([]int16, d.frames*f.Channels)
	stream, err := d.open(f, true, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input %s: %w", f, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start input: %w", classify(err))
	}

	s := &inputStream{
		stream: stream,
		buf:    buf,
		format: f,
		ch:     make(chan audio.AudioFrame, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.read()
	return s, nil
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(_ context.Context, f audio.Format) (audio.OutputStream, error) {
	buf := make([]int16, d.frames*f.Channels)
	stream, err := d.open(f, false, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output %s: %w", f, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start output: %w", classify(err))
	}
	return &outputStream{stream: stream, buf: buf, format: f}, nil
}

func (d *Device) open(f audio.Format, input bool, buf []int16) (*pa.Stream, error) {
	in, out := 0, f.Channels
	if input {
		in, out = f.Channels, 0
	}
	if d.name == "" {
		s, err := pa.OpenDefaultStream(in, out, float64(f.SampleRate), d.frames, buf)
		return s, classify(err)
	}

	dev, err := d.lookup(input)
	if err != nil {
		return nil, err
	}
	var p pa.StreamParameters
	if input {
		p = pa.HighLatencyParameters(dev, nil)
		p.Input.Channels = f.Channels
	} else {
		p = pa.HighLatencyParameters(nil, dev)
		p.Output.Channels = f.Channels
	}
	p.SampleRate = float64(f.SampleRate)
	p.FramesPerBuffer = d.frames
	s, err := pa.OpenStream(p, buf)
	return s, classify(err)
}

func (d *Device) lookup(input bool) (*pa.DeviceInfo, error) {
	devs, err := pa.Devices()
	if err != nil {
		return nil, classify(err)
	}
	want := strings.ToLower(d.name)
	for _, dev := range devs {
		if !strings.Contains(strings.ToLower(dev.Name), want) {
			continue
		}
		if (input && dev.MaxInputChannels > 0) || (!input && dev.MaxOutputChannels > 0) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("device %q: %w", d.name, audio.ErrNoDevice)
}

// classify maps PortAudio failures onto the audio sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pa.InvalidDevice) || errors.Is(err, pa.DeviceUnavailable) {
		return fmt.Errorf("%w: %v", audio.ErrNoDevice, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "access denied") {
		return fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	}
	return err
}

// ─── input ────────────────────────────────────────────────────────────────────

type inputStream struct {
	stream *pa.Stream
	buf    []int16
	format audio.Format
	ch     chan audio.AudioFrame

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (s *inputStream) Frames() <-chan audio.AudioFrame { return s.ch }

// read owns the stream: PortAudio's blocking API is not safe to stop from
// another goroutine while a Read is pending.
func (s *inputStream) read() {
	defer close(s.done)
	defer close(s.ch)

	var pos int
	for {
		select {
		case <-s.stop:
			s.closeErr = errors.Join(s.stream.Stop(), s.stream.Close())
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				slog.Debug("portaudio: input overflowed")
			} else {
				slog.Warn("portaudio: read failed, ending capture", "err", err)
				s.closeErr = errors.Join(s.stream.Stop(), s.stream.Close())
				return
			}
		}
		data := audio.SamplesToBytes(s.buf)
		s.ch <- audio.AudioFrame{
			Data:       data,
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  s.format.Duration(pos),
		}
		pos += len(data)
	}
}

// Close stops the stream after the in-flight buffer has been delivered.
func (s *inputStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
	return s.closeErr
}

// ─── output ───────────────────────────────────────────────────────────────────

type outputStream struct {
	mu     sync.Mutex
	stream *pa.Stream
	buf    []int16
	format audio.Format
	closed bool
}

func (s *outputStream) Format() audio.Format { return s.format }

// Write splits the frame into device buffers; the last one is zero padded.
func (s *outputStream) Write(fr audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrStreamClosed
	}
	samples := audio.BytesToSamples(fr.Data)
	for len(samples) > 0 {
		n := copy(s.buf, samples)
		clear(s.buf[n:])
		samples = samples[n:]
		if err := s.stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			return fmt.Errorf("portaudio: write: %w", classify(err))
		}
	}
	return nil
}

// Close lets queued buffers play out, then releases the stream.
func (s *outputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.stream.Stop(), s.stream.Close())
}
