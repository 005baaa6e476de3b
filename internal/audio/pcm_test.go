package audio

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func TestDecodeBase64Chunk(t *testing.T) {
	raw := EncodePCM16([]int16{0, 16384, -32768, 32767})
	chunk, err := DecodeBase64Chunk(base64.StdEncoding.EncodeToString(raw), 24000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunk.Samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(chunk.Samples))
	}
	if chunk.SampleRate != 24000 {
		t.Errorf("expected sample rate 24000, got %d", chunk.SampleRate)
	}

	f := chunk.Float32()
	want := []float32{0, 0.5, -1, float32(32767.0 / 32768.0)}
	for i := range want {
		if f[i] != want[i] {
			t.Errorf("sample %d: expected %v, got %v", i, want[i], f[i])
		}
	}
}

func TestDecodeBase64Chunk_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		rate int
	}{
		{"bad base64", "@@not-base64@@", 24000},
		{"single byte", base64.StdEncoding.EncodeToString([]byte{1}), 24000},
		{"empty", "", 24000},
		{"zero rate", base64.StdEncoding.EncodeToString([]byte{1, 2}), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeBase64Chunk(tt.data, tt.rate); err == nil {
				t.Error("expected error")
			}
		})
	}

	_, err := DecodeBase64Chunk(base64.StdEncoding.EncodeToString([]byte{1}), 24000)
	if !errors.Is(err, ErrEmptyChunk) {
		t.Errorf("expected ErrEmptyChunk, got %v", err)
	}
}

func TestChunk_Duration(t *testing.T) {
	c := Chunk{Samples: make([]int16, 12000), SampleRate: 24000}
	if c.Seconds() != 0.5 {
		t.Errorf("expected 0.5s, got %v", c.Seconds())
	}
	if c.Duration() != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", c.Duration())
	}
	if (Chunk{Samples: make([]int16, 10)}).Seconds() != 0 {
		t.Error("expected zero duration without sample rate")
	}
}

func TestDecodePCM16_OddTrailingByte(t *testing.T) {
	samples := DecodePCM16([]byte{0x01, 0x00, 0xff})
	if len(samples) != 1 || samples[0] != 1 {
		t.Errorf("expected [1], got %v", samples)
	}
}

func TestIsSilent(t *testing.T) {
	if !IsSilent(make([]byte, 64)) {
		t.Error("expected zero frame to be silent")
	}
	frame := make([]byte, 64)
	frame[63] = 1
	if IsSilent(frame) {
		t.Error("expected frame with signal to not be silent")
	}
}
