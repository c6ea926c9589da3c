package audio

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultFrameRate is the meter's tick rate when none is configured.
const DefaultFrameRate = 60

// Signal is a live source of frequency-magnitude data.
type Signal interface {
	// ByteFrequencyData fills dst with per-bin magnitudes in [0, 255].
	ByteFrequencyData(dst []uint8)

	// FrequencyBinCount returns how many bins ByteFrequencyData produces.
	FrequencyBinCount() int

	// Live reports whether the source is still producing audio.
	Live() bool
}

// ender is implemented by signals that can announce their end, letting a
// meter exit without waiting for the next tick.
type ender interface {
	Ended() <-chan struct{}
}

// Level returns the energy level of a byte magnitude array: the arithmetic
// mean of the bins divided by 255. The result is in [0, 1] and exactly 0 for
// an empty or all-zero array.
func Level(mags []uint8) float64 {
	if len(mags) == 0 {
		return 0
	}
	var sum int
	for _, m := range mags {
		sum += int(m)
	}
	return float64(sum) / float64(len(mags)) / 255
}

// Meter turns a [Signal] into a stream of energy levels, one per frame.
type Meter struct {
	interval time.Duration
	clock    func() (<-chan time.Time, func())
	logger   *slog.Logger
}

// MeterOption configures a [Meter].
type MeterOption func(*Meter)

// WithFrameRate sets the number of ticks per second. Non-positive values are
// ignored.
func WithFrameRate(fps int) MeterOption {
	return func(m *Meter) {
		if fps > 0 {
			m.interval = time.Second / time.Duration(fps)
		}
	}
}

// WithClock replaces the frame ticker with ticks read from ch. Tests use it
// to step the meter deterministically.
func WithClock(ch <-chan time.Time) MeterOption {
	return func(m *Meter) {
		m.clock = func() (<-chan time.Time, func()) { return ch, func() {} }
	}
}

// WithMeterLogger sets the logger used to report a panicking callback.
func WithMeterLogger(l *slog.Logger) MeterOption {
	return func(m *Meter) { m.logger = l }
}

// NewMeter returns a meter ticking at [DefaultFrameRate] unless configured
// otherwise.
func NewMeter(opts ...MeterOption) *Meter {
	m := &Meter{interval: time.Second / DefaultFrameRate, logger: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	if m.clock == nil {
		iv := m.interval
		m.clock = func() (<-chan time.Time, func()) {
			t := time.NewTicker(iv)
			return t.C, t.Stop
		}
	}
	return m
}

// Probe observes a running meter loop.
type Probe struct {
	done  chan struct{}
	ticks atomic.Int64
}

// Done is closed when the loop has exited. No callback runs after that.
func (p *Probe) Done() <-chan struct{} { return p.done }

// Ticks returns how many times the callback has been invoked.
func (p *Probe) Ticks() int64 { return p.ticks.Load() }

// Attach starts a polling loop that reads sig once per frame and passes its
// [Level] to onLevel. The loop exits as soon as sig is nil, sig is no longer
// live or actx is closed; the check runs before every tick, so onLevel never
// sees a level from an ended source. A nil sig yields a single level 0.
//
// onLevel runs on the loop goroutine and must not block. If it panics the
// panic is logged and the loop stops.
func (m *Meter) Attach(actx *Context, sig Signal, onLevel func(float64)) *Probe {
	p := &Probe{done: make(chan struct{})}
	if onLevel == nil {
		onLevel = func(float64) {}
	}
	go m.run(actx, sig, onLevel, p)
	return p
}

func (m *Meter) run(actx *Context, sig Signal, onLevel func(float64), p *Probe) {
	defer close(p.done)

	if sig == nil {
		m.emit(onLevel, 0, p)
		return
	}

	var ended <-chan struct{}
	if e, ok := sig.(ender); ok {
		ended = e.Ended()
	}
	var closed <-chan struct{}
	if actx != nil {
		closed = actx.Done()
	}
	exhausted := func() bool {
		return !sig.Live() || (actx != nil && actx.Closed())
	}

	tick, stop := m.clock()
	defer stop()

	mags := make([]uint8, sig.FrequencyBinCount())
	for {
		if exhausted() {
			return
		}
		select {
		case <-tick:
		case <-ended:
			return
		case <-closed:
			return
		}
		if exhausted() {
			return
		}
		sig.ByteFrequencyData(mags)
		if !m.emit(onLevel, Level(mags), p) {
			return
		}
	}
}

func (m *Meter) emit(onLevel func(float64), level float64, p *Probe) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("audio: level callback panicked, stopping meter", "panic", r)
			ok = false
		}
	}()
	p.ticks.Add(1)
	onLevel(level)
	return true
}
