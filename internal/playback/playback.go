// Package playback plays synthesised replies on the local output device.
//
// Each [Controller.Play] call is one playback session: a fresh
// [audio.Context] owning the decoded buffer's output stream and, when a level
// callback is given, an analyser tapped between the source and the device.
// The buffer plays at a fixed rate multiplier (0.85 by default) that changes
// tempo and pitch together. This multiplier is independent of the speed the
// TTS provider applied when it synthesised the clip.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MrWong99/kitt/internal/observe"
	"github.com/MrWong99/kitt/pkg/audio"
)

// DefaultRate is the playback rate multiplier applied to every reply.
const DefaultRate = 0.85

// frameDuration is how much audio one device write carries.
const frameDuration = 20 * time.Millisecond

// ErrPlaybackActive is returned by Play while another reply is playing.
var ErrPlaybackActive = errors.New("playback: a reply is already playing")

// Controller plays one reply at a time. It is safe for concurrent use.
type Controller struct {
	dev       audio.Device
	rate      float64
	fftSize   int
	outFormat audio.Format
	meter     *audio.Meter
	metrics   *observe.Metrics

	active atomic.Bool
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithRate sets the playback rate multiplier. Non-positive values are ignored.
func WithRate(r float64) Option {
	return func(c *Controller) {
		if r > 0 {
			c.rate = r
		}
	}
}

// WithFFTSize sets the analyser window of the level meter.
func WithFFTSize(n int) Option {
	return func(c *Controller) { c.fftSize = n }
}

// WithOutputFormat requests a fixed device format. By default the device is
// opened in the decoded clip's native format.
func WithOutputFormat(f audio.Format) Option {
	return func(c *Controller) { c.outFormat = f }
}

// WithMeter sets the meter driving level callbacks.
func WithMeter(m *audio.Meter) Option {
	return func(c *Controller) { c.meter = m }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a Controller playing on dev.
func New(dev audio.Device, opts ...Option) *Controller {
	c := &Controller{
		dev:     dev,
		rate:    DefaultRate,
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

// Rate returns the playback rate multiplier.
func (c *Controller) Rate() float64 { return c.rate }

// Active reports whether a reply is playing.
func (c *Controller) Active() bool { return c.active.Load() }

// Play decodes data and plays it to the end. It returns once, after the last
// frame has been handed to the device and the output drained. onLevel, if
// non-nil, receives the playing signal's level once per meter frame; no call
// happens after Play returns.
//
// Undecodable data fails with an error wrapping [audio.ErrDecode]. Playback
// cannot be stopped early; a cancelled ctx (process shutdown) aborts it with
// ctx's error. Every handle is released before Play returns.
func (c *Controller) Play(ctx context.Context, data []byte, onLevel func(float64)) (err error) {
	if !c.active.CompareAndSwap(false, true) {
		return ErrPlaybackActive
	}
	defer c.active.Store(false)

	actx := audio.NewContext()
	defer func() {
		if cerr := actx.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("playback: release: %w", cerr)
		}
	}()

	buf, err := audio.Decode(data)
	if err != nil {
		return fmt.Errorf("playback: %w", err)
	}

	want := c.outFormat
	if !want.Valid() {
		want = buf.Format
	}
	out, err := c.dev.OpenOutput(ctx, want)
	if err != nil {
		return fmt.Errorf("playback: open output: %w", err)
	}
	_ = actx.Own(out)

	var (
		analyser *audio.Analyser
		probe    *audio.Probe
	)
	if onLevel != nil {
		if analyser, err = audio.NewAnalyser(c.fftSize); err != nil {
			return fmt.Errorf("playback: %w", err)
		}
		_ = actx.Own(analyser)
		probe = c.meter.Attach(actx, analyser, onLevel)
	}

	c.metrics.ActivePlaybacks.Add(ctx, 1)
	defer c.metrics.ActivePlaybacks.Add(context.Background(), -1)

	src := audio.Retime(buf, c.rate)
	log := observe.Logger(ctx)
	log.Debug("playback started",
		"clip", buf.Format.String(),
		"device", out.Format().String(),
		"rate", c.rate,
	)

	start := time.Now()
	writeErr := c.render(ctx, src, out, analyser)
	drainErr := out.Close()
	if analyser != nil {
		analyser.Stop()
		<-probe.Done()
	}
	if writeErr != nil {
		return writeErr
	}
	if drainErr != nil {
		return fmt.Errorf("playback: drain: %w", drainErr)
	}

	played := time.Since(start)
	c.metrics.PlaybackDuration.Record(ctx, played.Seconds())
	log.Debug("playback finished", "played", played)
	return nil
}

// render writes src to out in frameDuration slices converted to the device
// format, feeding the analyser with exactly what the device receives.
func (c *Controller) render(ctx context.Context, src audio.AudioFrame, out audio.OutputStream, analyser *audio.Analyser) error {
	srcFmt := audio.Format{SampleRate: src.SampleRate, Channels: src.Channels}
	step := srcFmt.BytesPerSecond() * int(frameDuration) / int(time.Second)
	step -= step % (2 * max(src.Channels, 1))
	if step <= 0 {
		return fmt.Errorf("playback: unusable clip format %s", srcFmt)
	}
	conv := &audio.FormatConverter{Target: out.Format()}

	for off := 0; off < len(src.Data); off += step {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("playback: %w", err)
		}
		end := min(off+step, len(src.Data))
		fr := conv.Convert(audio.AudioFrame{
			Data:       src.Data[off:end],
			SampleRate: src.SampleRate,
			Channels:   src.Channels,
			Timestamp:  srcFmt.Duration(off),
		})
		if analyser != nil {
			analyser.Write(fr)
		}
		if err := out.Write(fr); err != nil {
			return fmt.Errorf("playback: write: %w", err)
		}
	}
	return nil
}
