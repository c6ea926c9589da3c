package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// EncodeWAV wraps 16-bit PCM in format f in a canonical 44-byte RIFF/WAVE
// header.
func EncodeWAV(pcm []byte, f Format) []byte {
	const bps = 16
	blockAlign := f.Channels * bps / 8
	size := len(pcm)

	buf := make([]byte, 44+size)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+size))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(size))
	copy(buf[44:], pcm)
	return buf
}

type wavFmt struct {
	tag        int
	channels   int
	sampleRate int
	bits       int
}

// Decode parses a RIFF/WAVE payload into 16-bit PCM. Integer PCM of 8, 16,
// 24 or 32 bits and 32-bit float are accepted, plain or in an extensible
// header. A data chunk whose declared size runs past the end of the payload
// (streaming encoders write 0 or 0xFFFFFFFF) is read to the end.
//
// Every failure wraps [ErrDecode].
func Decode(data []byte) (*Buffer, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE payload", ErrDecode)
	}

	var (
		hdr   wavFmt
		found bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("%w: truncated fmt chunk", ErrDecode)
			}
			f := data[body:]
			hdr = wavFmt{
				tag:        int(binary.LittleEndian.Uint16(f[0:2])),
				channels:   int(binary.LittleEndian.Uint16(f[2:4])),
				sampleRate: int(binary.LittleEndian.Uint32(f[4:8])),
				bits:       int(binary.LittleEndian.Uint16(f[14:16])),
			}
			if hdr.tag == wavFormatExtensible && size >= 26 && body+26 <= len(data) {
				hdr.tag = int(binary.LittleEndian.Uint16(f[24:26]))
			}
			found = true
		case "data":
			if !found {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrDecode)
			}
			end := body + size
			if size <= 0 || end > len(data) || end < body {
				end = len(data)
			}
			return hdr.toBuffer(data[body:end])
		}

		next := body + size
		if size%2 != 0 {
			next++
		}
		if next <= off {
			break
		}
		off = next
	}
	return nil, fmt.Errorf("%w: missing data chunk", ErrDecode)
}

func (h wavFmt) toBuffer(raw []byte) (*Buffer, error) {
	if h.channels <= 0 || h.sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid format %d channels at %d Hz", ErrDecode, h.channels, h.sampleRate)
	}
	f := Format{SampleRate: h.sampleRate, Channels: h.channels}

	width := h.bits / 8
	if width == 0 {
		return nil, fmt.Errorf("%w: %d bits per sample", ErrDecode, h.bits)
	}
	raw = raw[:len(raw)-len(raw)%(width*h.channels)]
	n := len(raw) / width
	out := make([]byte, n*2)

	switch {
	case h.tag == wavFormatPCM && h.bits == 16:
		copy(out, raw)
	case h.tag == wavFormatPCM && h.bits == 8:
		for i := range n {
			putSample(out, i, int16(int(raw[i])-128)<<8)
		}
	case h.tag == wavFormatPCM && h.bits == 24:
		for i := range n {
			b := raw[i*3:]
			putSample(out, i, int16(uint16(b[1])|uint16(b[2])<<8))
		}
	case h.tag == wavFormatPCM && h.bits == 32:
		for i := range n {
			v := int32(binary.LittleEndian.Uint32(raw[i*4:]))
			putSample(out, i, int16(v>>16))
		}
	case h.tag == wavFormatFloat && h.bits == 32:
		for i := range n {
			v := float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
			putSample(out, i, clamp16(int32(math.Round(v*math.MaxInt16))))
		}
	default:
		return nil, fmt.Errorf("%w: unsupported encoding tag %d with %d bits", ErrDecode, h.tag, h.bits)
	}
	return &Buffer{Data: out, Format: f}, nil
}
