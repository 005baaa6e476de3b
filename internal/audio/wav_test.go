package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func sine(n, rate int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(16383 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return samples
}

func TestEncodeDecodeWAV(t *testing.T) {
	pcm := EncodePCM16(sine(1600, 16000))

	wav, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if len(wav) != wavHeaderSize+len(pcm) {
		t.Errorf("expected WAV size %d, got %d", wavHeaderSize+len(pcm), len(wav))
	}

	got, rate, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("expected sample rate 16000, got %d", rate)
	}
	if len(got) != len(pcm) {
		t.Fatalf("expected %d bytes, got %d", len(pcm), len(got))
	}
	for i := range pcm {
		if got[i] != pcm[i] {
			t.Fatalf("byte %d differs", i)
		}
	}
}

func TestDecodeWAV_SkipsExtraChunks(t *testing.T) {
	pcm := EncodePCM16([]int16{1, 2, 3})
	wav, _ := EncodeWAV(pcm, 8000)

	// splice a LIST chunk between fmt and data
	list := []byte{'L', 'I', 'S', 'T', 0, 0, 0, 0, 'a', 'b', 'c', 'd'}
	binary.LittleEndian.PutUint32(list[4:8], 4)
	spliced := append([]byte{}, wav[:36]...)
	spliced = append(spliced, list...)
	spliced = append(spliced, wav[36:]...)

	got, rate, err := DecodeWAV(spliced)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate != 8000 || len(got) != 6 {
		t.Errorf("expected 6 bytes at 8000 Hz, got %d bytes at %d Hz", len(got), rate)
	}
}

func TestEncodeWAV_Errors(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("expected error for empty audio")
	}
	if _, err := EncodeWAV([]byte{0, 0}, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	stereo, _ := EncodeWAV(EncodePCM16([]int16{1, 2}), 16000)
	binary.LittleEndian.PutUint16(stereo[22:24], 2)

	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RIFF")},
		{"not riff", make([]byte, 64)},
		{"stereo", stereo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}
