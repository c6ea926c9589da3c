// Package capture records the microphone for one turn.
//
// A [Controller] owns at most one capture session. Start opens an
// [audio.Context], opens the device input in the capture format and starts a
// reader that buffers every non-empty frame in arrival order while feeding a
// frequency analyser for the level meter. Stop closes the input (the device
// flushes in-flight frames), concatenates the buffered chunks into one
// [audio.Payload] and releases every handle of the session exactly once.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/kitt/internal/observe"
	"github.com/MrWong99/kitt/pkg/audio"
)

var (
	// ErrSessionActive is returned by Start while a session is starting,
	// recording or stopping.
	ErrSessionActive = errors.New("capture: a session is already active")

	// ErrNoActiveSession is returned by Stop when nothing is recording.
	ErrNoActiveSession = errors.New("capture: no active session")
)

type state int

const (
	stateIdle state = iota
	stateStarting
	stateRecording
	stateStopping
)

// Handle describes a live capture session.
type Handle struct {
	// Format is the PCM format being recorded.
	Format audio.Format

	// Started is when the input stream opened.
	Started time.Time

	// Meter observes the level loop. It is nil when Start got no callback.
	Meter *audio.Probe
}

// Controller owns microphone acquisition. It is safe for concurrent use;
// concurrent Start and Stop calls are resolved by an explicit state machine.
type Controller struct {
	dev     audio.Device
	format  audio.Format
	fftSize int
	meter   *audio.Meter
	metrics *observe.Metrics

	mu    sync.Mutex
	state state
	sess  *session
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithFormat overrides the capture format. Default: [audio.CaptureFormat].
func WithFormat(f audio.Format) Option {
	return func(c *Controller) {
		if f.Valid() {
			c.format = f
		}
	}
}

// WithFFTSize sets the analyser window of the level meter. Default:
// [audio.DefaultFFTSize].
func WithFFTSize(n int) Option {
	return func(c *Controller) { c.fftSize = n }
}

// WithMeter sets the meter driving level callbacks.
func WithMeter(m *audio.Meter) Option {
	return func(c *Controller) { c.meter = m }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a Controller recording from dev.
func New(dev audio.Device, opts ...Option) *Controller {
	c := &Controller{
		dev:     dev,
		format:  audio.CaptureFormat,
		fftSize: audio.DefaultFFTSize,
	}
	for _, o := range opts {
		o(c)
	}
	if c.meter == nil {
		c.meter = audio.NewMeter()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Active reports whether a session is starting, recording or stopping.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != stateIdle
}

// Start opens the microphone and begins buffering. onLevel, if non-nil,
// receives the microphone level once per meter frame until Stop.
//
// Device failures wrap [audio.ErrPermissionDenied] or [audio.ErrNoDevice].
// Everything acquired before a failure is released before Start returns.
func (c *Controller) Start(ctx context.Context, onLevel func(float64)) (Handle, error) {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return Handle{}, ErrSessionActive
	}
	c.state = stateStarting
	c.mu.Unlock()

	s, err := c.open(ctx, onLevel)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = stateIdle
		return Handle{}, err
	}
	c.sess = s
	c.state = stateRecording
	c.metrics.ActiveCaptures.Add(ctx, 1)
	observe.Logger(ctx).Debug("capture started", "format", c.format.String())
	return Handle{Format: c.format, Started: s.started, Meter: s.probe}, nil
}

// Stop ends the recording and returns every non-empty chunk concatenated in
// arrival order. Without a recording session it returns [ErrNoActiveSession]
// and touches nothing.
//
// The session is released on every path, including when ctx ends while
// waiting for the device to flush.
func (c *Controller) Stop(ctx context.Context) (audio.Payload, error) {
	c.mu.Lock()
	if c.state != stateRecording {
		c.mu.Unlock()
		return audio.Payload{}, ErrNoActiveSession
	}
	s := c.sess
	c.state = stateStopping
	c.mu.Unlock()

	defer c.finish(ctx)

	closeErr := s.in.Close()
	select {
	case <-s.readerDone:
	case <-ctx.Done():
		_ = s.release()
		s.waitMeter()
		return audio.Payload{}, fmt.Errorf("capture: stop: %w", ctx.Err())
	}

	payload := audio.Payload{
		Data:     s.concat(),
		Encoding: audio.EncodingPCM16,
		Format:   c.format,
	}
	relErr := s.release()
	s.waitMeter()
	s.chunks = nil

	observe.Logger(ctx).Debug("capture stopped",
		"bytes", len(payload.Data),
		"duration", payload.Duration(),
		"recorded_for", time.Since(s.started),
	)
	if err := errors.Join(closeErr, relErr); err != nil {
		observe.Logger(ctx).Warn("capture: release reported errors", "err", err)
	}
	return payload, nil
}

// Close releases a live session without producing a payload. It is used at
// shutdown and is a no-op when nothing is recording.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state != stateRecording {
		c.mu.Unlock()
		return nil
	}
	s := c.sess
	c.state = stateStopping
	c.mu.Unlock()

	defer c.finish(context.Background())
	err := s.release()
	<-s.readerDone
	s.waitMeter()
	return err
}

// finish returns the controller to idle after a stopping session.
func (c *Controller) finish(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess = nil
	c.state = stateIdle
	c.metrics.ActiveCaptures.Add(ctx, -1)
}

// open acquires the session handles in order: context, analyser, input
// stream, level meter. On failure the context releases whatever was taken.
func (c *Controller) open(ctx context.Context, onLevel func(float64)) (*session, error) {
	actx := audio.NewContext()
	s := &session{actx: actx, log: observe.Logger(ctx), readerDone: make(chan struct{})}
	s.release = sync.OnceValue(actx.Close)

	analyser, err := audio.NewAnalyser(c.fftSize)
	if err != nil {
		_ = s.release()
		return nil, fmt.Errorf("capture: %w", err)
	}
	_ = actx.Own(analyser)

	in, err := c.dev.OpenInput(ctx, c.format)
	if err != nil {
		_ = s.release()
		return nil, fmt.Errorf("capture: open input: %w", err)
	}
	_ = actx.Own(in)
	s.in = in
	s.started = time.Now()

	go s.read(analyser)
	if onLevel != nil {
		s.probe = c.meter.Attach(actx, analyser, onLevel)
	}
	return s, nil
}

// ─── session ──────────────────────────────────────────────────────────────────

// session is one live recording. chunks is written only by the reader
// goroutine until readerDone is closed.
type session struct {
	actx    *audio.Context
	in      audio.InputStream
	probe   *audio.Probe
	started time.Time
	log     *slog.Logger

	chunks     [][]byte
	size       int
	readerDone chan struct{}

	// release closes the context, which closes the input stream and stops
	// the analyser (ending the meter). It runs at most once.
	release func() error
}

// read buffers frames until the input stream closes its channel.
func (s *session) read(analyser *audio.Analyser) {
	defer close(s.readerDone)
	for fr := range s.in.Frames() {
		if len(fr.Data) == 0 {
			s.log.Debug("capture: discarding empty chunk")
			continue
		}
		s.chunks = append(s.chunks, fr.Data)
		s.size += len(fr.Data)
		analyser.Write(fr)
	}
}

// waitMeter blocks until the level loop has exited.
func (s *session) waitMeter() {
	if s.probe != nil {
		<-s.probe.Done()
	}
}

// concat joins the buffered chunks in arrival order.
func (s *session) concat() []byte {
	out := make([]byte, 0, s.size)
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}
