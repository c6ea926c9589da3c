package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/kitt/pkg/audio"
)

func sine(n, bin, size int, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.MaxInt16 * math.Sin(2*math.Pi*float64(bin)*float64(i)/float64(size)))
	}
	return out
}

func TestNewAnalyser_RejectsInvalidSizes(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, 16, 100, 255, 65536} {
		if _, err := audio.NewAnalyser(n); err == nil {
			t.Errorf("NewAnalyser(%d) succeeded", n)
		}
	}
	a, err := audio.NewAnalyser(256)
	if err != nil {
		t.Fatalf("NewAnalyser(256): %v", err)
	}
	if got := a.FrequencyBinCount(); got != 128 {
		t.Errorf("FrequencyBinCount = %d, want 128", got)
	}
}

func TestAnalyser_SilenceIsZero(t *testing.T) {
	t.Parallel()
	a, _ := audio.NewAnalyser(audio.DefaultFFTSize)
	a.Write(audio.AudioFrame{Data: make([]byte, 1024), SampleRate: 16000, Channels: 1})

	mags := make([]uint8, a.FrequencyBinCount())
	a.ByteFrequencyData(mags)
	for k, m := range mags {
		if m != 0 {
			t.Fatalf("bin %d = %d, want 0", k, m)
		}
	}
	if got := audio.Level(mags); got != 0 {
		t.Errorf("Level = %v, want 0", got)
	}
}

func TestAnalyser_ToneLandsInItsBin(t *testing.T) {
	t.Parallel()
	a, _ := audio.NewAnalyser(256)
	a.Write(audio.AudioFrame{Data: audio.SamplesToBytes(sine(256, 16, 256, 0.5)), SampleRate: 16000, Channels: 1})

	mags := make([]uint8, a.FrequencyBinCount())
	a.ByteFrequencyData(mags)
	if mags[16] < 200 {
		t.Errorf("tone bin = %d, want >= 200", mags[16])
	}
	if mags[100] >= mags[16] {
		t.Errorf("far bin %d not below tone bin %d", mags[100], mags[16])
	}
	if lvl := audio.Level(mags); lvl <= 0 || lvl > 1 {
		t.Errorf("Level = %v, want in (0, 1]", lvl)
	}
}

func TestAnalyser_KeepsNewestWindow(t *testing.T) {
	t.Parallel()
	a, _ := audio.NewAnalyser(256, audio.WithSmoothing(0))

	// A loud tone followed by a full window of silence leaves nothing.
	a.Write(audio.AudioFrame{Data: audio.SamplesToBytes(sine(512, 8, 256, 0.9)), SampleRate: 16000, Channels: 1})
	a.Write(audio.AudioFrame{Data: make([]byte, 512), SampleRate: 16000, Channels: 1})

	mags := make([]uint8, 128)
	a.ByteFrequencyData(mags)
	if got := audio.Level(mags); got != 0 {
		t.Errorf("Level after silence = %v, want 0", got)
	}
}

func TestAnalyser_StereoIsMixedDown(t *testing.T) {
	t.Parallel()
	mono := sine(256, 16, 256, 0.5)
	stereo := make([]int16, 0, 512)
	for _, s := range mono {
		stereo = append(stereo, s, s)
	}
	a, _ := audio.NewAnalyser(256)
	b, _ := audio.NewAnalyser(256)
	a.Write(audio.AudioFrame{Data: audio.SamplesToBytes(mono), Channels: 1})
	b.Write(audio.AudioFrame{Data: audio.SamplesToBytes(stereo), Channels: 2})

	ma, mb := make([]uint8, 128), make([]uint8, 128)
	a.ByteFrequencyData(ma)
	b.ByteFrequencyData(mb)
	if ma[16] != mb[16] {
		t.Errorf("mono bin %d != stereo bin %d", ma[16], mb[16])
	}
}

func TestAnalyser_Stop(t *testing.T) {
	t.Parallel()
	a, _ := audio.NewAnalyser(32)
	if !a.Live() {
		t.Fatal("new analyser is not live")
	}
	a.Stop()
	a.Stop()
	if a.Live() {
		t.Error("Live after Stop")
	}
	select {
	case <-a.Ended():
	default:
		t.Error("Ended not closed after Stop")
	}
}
