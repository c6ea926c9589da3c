package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether f has a positive rate and channel count.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// BytesPerSecond returns the 16-bit PCM byte rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns how long n bytes of 16-bit PCM in format f play for.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// FormatConverter converts frames to a target format. It logs once on the
// first format mismatch. Create one per stream.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a frame to the target format. A frame already in the
// target format is returned unchanged. Resampling runs before channel
// conversion.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if len(frame.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"format", formatString(frame.SampleRate, frame.Channels),
			)
		})
		return AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}
	c.warnedMismatch.Do(func() {
		slog.Debug("audio: converting format",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", c.Target.String(),
		)
	})

	pcm := Resample16(frame.Data, frame.Channels, frame.SampleRate, c.Target.SampleRate)
	pcm = Remix(pcm, frame.Channels, c.Target.Channels)
	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// Retime returns b relabelled so that it plays rate times as fast at its
// nominal sample rate. Combined with a [FormatConverter] targeting the device
// rate this changes tempo and pitch together, like a tape speed change.
func Retime(b *Buffer, rate float64) AudioFrame {
	sr := b.Format.SampleRate
	if rate > 0 && rate != 1 {
		sr = int(math.Round(float64(sr) * rate))
	}
	return AudioFrame{Data: b.Data, SampleRate: sr, Channels: b.Format.Channels}
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages L and R per frame, clamped to the int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		putSample(out, i, clamp16((l+r)/2))
	}
	return out
}

// Remix converts interleaved PCM from one channel count to another. Mono
// fans out to every output channel and any layout folds to mono by averaging.
// Between two multi-channel layouts, output channel c copies source channel c
// when it exists and the mean of all source channels otherwise, so 5.1 or
// quad WAV material keeps its front left/right pair when played on stereo.
func Remix(pcm []byte, from, to int) []byte {
	switch {
	case from <= 0 || to <= 0 || from == to:
		return pcm
	case from == 1 && to == 2:
		return MonoToStereo(pcm)
	case from == 2 && to == 1:
		return StereoToMono(pcm)
	}
	frames := len(pcm) / (2 * from)
	out := make([]byte, frames*2*to)
	for i := range frames {
		var sum int32
		for ch := range from {
			sum += int32(sampleAt(pcm, i*from+ch))
		}
		mean := clamp16(sum / int32(from))
		for ch := range to {
			v := mean
			if from > 1 && ch < from {
				v = sampleAt(pcm, i*from+ch)
			}
			putSample(out, i*to+ch, v)
		}
	}
	return out
}

// Resample16 resamples interleaved PCM with the given channel count from
// srcRate to dstRate, interpolating each channel on its own.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	return resample(pcm, channels, srcRate, dstRate)
}

// ResampleMono16 resamples mono PCM from srcRate to dstRate with linear
// interpolation. Equal rates return the input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, 1, srcRate, dstRate)
}

// ResampleStereo16 resamples interleaved stereo PCM from srcRate to dstRate
// with linear interpolation per channel.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, 2, srcRate, dstRate)
}

func resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if channels <= 0 || srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*2*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, clamp16(int32(math.Round(s0*(1-frac)+s1*frac))))
		}
	}
	return out
}

// SamplesToBytes encodes int16 samples as little-endian PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		putSample(out, i, s)
	}
	return out
}

// BytesToSamples decodes little-endian PCM into int16 samples. A trailing odd
// byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = sampleAt(pcm, i)
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func putSample(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
