// Package audioio encodes rendered model output as PCM WAV and inspects WAV
// payloads returned by workers and catalogs.
package audioio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	maxChunkSize     = 256 * 1024 * 1024
	maxDataChunkSize = 500 * 1024 * 1024

	pcm16Scale = 32767.0
)

// Format describes an interleaved PCM stream.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// Duration estimates playback time of dataSize bytes of PCM in this format.
func (f Format) Duration(dataSize int) time.Duration {
	bytesPerSecond := int64(f.SampleRate) * int64(f.Channels) * int64(f.BitDepth) / 8
	if bytesPerSecond <= 0 || dataSize <= 0 {
		return 0
	}
	return time.Duration(float64(dataSize) / float64(bytesPerSecond) * float64(time.Second))
}

// QuantizePCM16 clips float samples to [-1, 1] and scales them to signed
// 16-bit integers, truncating toward zero.
func QuantizePCM16(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		v := float64(s)
		switch {
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		case v != v: // NaN
			v = 0
		}
		out[i] = int(v * pcm16Scale)
	}
	return out
}

// EncodePCM16 renders interleaved float samples as a 16-bit PCM WAV file.
func EncodePCM16(samples []float32, channels, sampleRate int) ([]byte, error) {
	if channels <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("wav: invalid format parameters (channels=%d rate=%d)", channels, sampleRate)
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("wav: %d samples do not divide into %d channels", len(samples), channels)
	}

	out := &memFile{}
	enc := wav.NewEncoder(out, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Data:           QuantizePCM16(samples),
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("wav: write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wav: finalise header: %w", err)
	}
	return out.buf, nil
}

// Header is the parsed structure of a PCM WAV payload.
type Header struct {
	Format     Format
	DataOffset int
	DataSize   int
}

// ParseHeader walks the RIFF chunks of data and locates the PCM payload.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < 12 {
		return Header{}, errors.New("wav: payload too short")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Header{}, errors.New("wav: invalid header")
	}

	var (
		hdr       Header
		fmtParsed bool
	)
	pos := 12
	for {
		if pos+8 > len(data) {
			if !fmtParsed {
				return Header{}, errors.New("wav: fmt chunk missing")
			}
			return Header{}, errors.New("wav: data chunk missing")
		}
		chunkID := string(data[pos : pos+4])
		chunkSize := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		if chunkSize > maxChunkSize {
			return Header{}, fmt.Errorf("wav: chunk %s too large (%d bytes)", strings.TrimSpace(chunkID), chunkSize)
		}
		body := pos + 8

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || body+16 > len(data) {
				return Header{}, errors.New("wav: invalid fmt chunk")
			}
			payload := data[body : body+16]
			if audioFmt := binary.LittleEndian.Uint16(payload[0:2]); audioFmt != 1 {
				return Header{}, fmt.Errorf("wav: unsupported audio format %d", audioFmt)
			}
			hdr.Format = Format{
				Channels:   int(binary.LittleEndian.Uint16(payload[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(payload[4:8])),
				BitDepth:   int(binary.LittleEndian.Uint16(payload[14:16])),
			}
			if hdr.Format.Channels == 0 || hdr.Format.SampleRate == 0 || hdr.Format.BitDepth == 0 {
				return Header{}, errors.New("wav: invalid format values")
			}
			fmtParsed = true
		case "data":
			if chunkSize > maxDataChunkSize {
				return Header{}, fmt.Errorf("wav: data chunk too large (%d bytes)", chunkSize)
			}
			if !fmtParsed {
				return Header{}, errors.New("wav: data chunk precedes fmt chunk")
			}
			size := int(chunkSize)
			if body+size > len(data) {
				size = len(data) - body
			}
			hdr.DataOffset = body
			hdr.DataSize = size
			return hdr, nil
		}

		skip := int(chunkSize)
		if skip%2 == 1 {
			skip++
		}
		pos = body + skip
	}
}

// memFile is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes once the payload length is known.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("wav: invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("wav: negative seek position")
	}
	m.pos = int(next)
	return next, nil
}
