// Package audio provides linear PCM helpers shared by capture, recognition and playback.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyChunk is returned when an encoded chunk holds no complete sample.
var ErrEmptyChunk = errors.New("audio chunk has no samples")

// Chunk is a block of signed 16-bit mono samples at a declared sample rate.
type Chunk struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Seconds returns the playback length in seconds, as used on the device clock.
func (c Chunk) Seconds() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Float32 returns the samples normalized to [-1, 1).
func (c Chunk) Float32() []float32 {
	out := make([]float32, len(c.Samples))
	for i, s := range c.Samples {
		out[i] = float32(float64(s) / 32768.0)
	}
	return out
}

// DecodePCM16 interprets little-endian bytes as 16-bit samples.
// A trailing odd byte is ignored.
func DecodePCM16(data []byte) []int16 {
	n := len(data) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples
}

// EncodePCM16 writes samples as little-endian bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// DecodeBase64Chunk decodes a base64 PCM block received from the conversation backend.
func DecodeBase64Chunk(data string, sampleRate int) (Chunk, error) {
	if sampleRate <= 0 {
		return Chunk{}, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Chunk{}, fmt.Errorf("decode base64 audio: %w", err)
	}
	if len(raw) < 2 {
		return Chunk{}, ErrEmptyChunk
	}
	return Chunk{Samples: DecodePCM16(raw), SampleRate: sampleRate}, nil
}

// IsSilent reports whether every byte of the frame is zero.
// Capture devices deliver all-zero frames when the microphone is muted or denied.
func IsSilent(frame []byte) bool {
	for _, b := range frame {
		if b != 0 {
			return false
		}
	}
	return true
}
