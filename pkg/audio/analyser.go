package audio

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Analyser defaults, matching the Web Audio AnalyserNode.
const (
	DefaultFFTSize   = 256
	DefaultSmoothing = 0.8
	MinDecibels      = -100.0
	MaxDecibels      = -30.0
)

// Analyser taps a PCM stream and exposes the byte frequency-magnitude view of
// its most recent fftSize samples. Feed it with [Analyser.Write]; read it with
// [Analyser.ByteFrequencyData]. It implements [Signal].
//
// Each read applies a Blackman window, takes |X[k]|/N for the first N/2 bins,
// smooths over time with the configured constant, converts to decibels and
// maps [MinDecibels, MaxDecibels] linearly onto [0, 255].
type Analyser struct {
	mu        sync.Mutex
	size      int
	smoothing float64
	fft       *fourier.FFT
	window    []float64
	samples   []float64 // oldest first
	seq       []float64
	coeffs    []complex128
	smoothed  []float64

	stopped atomic.Bool
	ended   chan struct{}
}

var _ Signal = (*Analyser)(nil)

// AnalyserOption configures an [Analyser].
type AnalyserOption func(*Analyser)

// WithSmoothing sets the time-smoothing constant in [0, 1). Out-of-range
// values are ignored.
func WithSmoothing(tc float64) AnalyserOption {
	return func(a *Analyser) {
		if tc >= 0 && tc < 1 {
			a.smoothing = tc
		}
	}
}

// NewAnalyser returns an analyser with the given FFT size, which must be a
// power of two in [32, 32768].
func NewAnalyser(fftSize int, opts ...AnalyserOption) (*Analyser, error) {
	if fftSize < 32 || fftSize > 32768 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("audio: fft size %d is not a power of two in [32, 32768]", fftSize)
	}
	a := &Analyser{
		size:      fftSize,
		smoothing: DefaultSmoothing,
		fft:       fourier.NewFFT(fftSize),
		window:    blackman(fftSize),
		samples:   make([]float64, fftSize),
		seq:       make([]float64, fftSize),
		coeffs:    make([]complex128, fftSize/2+1),
		smoothed:  make([]float64, fftSize/2),
		ended:     make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// FrequencyBinCount returns fftSize/2.
func (a *Analyser) FrequencyBinCount() int { return a.size / 2 }

// Write pushes a frame of PCM into the analysis window. Multi-channel frames
// are mixed down to mono.
func (a *Analyser) Write(frame AudioFrame) {
	ch := max(frame.Channels, 1)
	n := len(frame.Data) / (2 * ch)
	if n == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Only the newest size frames matter.
	start := 0
	if n > a.size {
		start = n - a.size
	}
	keep := a.size - (n - start)
	copy(a.samples, a.samples[len(a.samples)-keep:])
	dst := a.samples[keep:]
	for i := start; i < n; i++ {
		var sum float64
		for c := range ch {
			sum += float64(sampleAt(frame.Data, i*ch+c))
		}
		dst[i-start] = sum / float64(ch) / 32768
	}
}

// ByteFrequencyData fills dst with up to FrequencyBinCount byte magnitudes.
func (a *Analyser) ByteFrequencyData(dst []uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, s := range a.samples {
		a.seq[i] = s * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.seq)

	scale := 255 / (MaxDecibels - MinDecibels)
	n := min(len(dst), len(a.smoothed))
	for k := range len(a.smoothed) {
		mag := cmplx.Abs(a.coeffs[k]) / float64(a.size)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		if k >= n {
			continue
		}
		db := 20 * math.Log10(a.smoothed[k])
		v := math.Floor((db - MinDecibels) * scale)
		switch {
		case math.IsNaN(v) || v < 0:
			dst[k] = 0
		case v > 255:
			dst[k] = 255
		default:
			dst[k] = uint8(v)
		}
	}
}

// Stop marks the analysed source as ended. Live reports false afterwards and
// any attached meter loop exits.
func (a *Analyser) Stop() {
	if a.stopped.CompareAndSwap(false, true) {
		close(a.ended)
	}
}

// Close implements [io.Closer] by calling Stop, so a [Context] can own it.
func (a *Analyser) Close() error {
	a.Stop()
	return nil
}

// Live reports whether the source is still playing or recording.
func (a *Analyser) Live() bool { return !a.stopped.Load() }

// Ended is closed once Stop has been called.
func (a *Analyser) Ended() <-chan struct{} { return a.ended }

func blackman(n int) []float64 {
	const alpha = 0.16
	a0, a1, a2 := (1-alpha)/2, 0.5, alpha/2
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}
