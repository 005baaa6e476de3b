package device

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"ai-voice-turn-client/internal/audio"
)

// ErrSampleRate is returned for a buffer whose rate differs from the sink's.
var ErrSampleRate = errors.New("unsupported sample rate")

type segment struct {
	at      float64
	samples []float32
}

// TimelineSink is an output device whose clock is the wall time since it was
// created. Scheduled buffers are kept on a timeline that can be rendered to a
// WAV file. It satisfies playback.Sink.
type TimelineSink struct {
	sampleRate int
	clock      func() time.Time
	origin     time.Time

	mu       sync.Mutex
	segments []segment
	stops    int
}

// NewTimelineSink creates a sink at sampleRate.
func NewTimelineSink(sampleRate int) *TimelineSink {
	return &TimelineSink{
		sampleRate: sampleRate,
		clock:      time.Now,
		origin:     time.Now(),
	}
}

// Now returns the device clock in seconds.
func (s *TimelineSink) Now() float64 {
	return s.clock().Sub(s.origin).Seconds()
}

// Schedule places samples at device time at.
func (s *TimelineSink) Schedule(samples []float32, sampleRate int, at float64) error {
	if sampleRate != s.sampleRate {
		return fmt.Errorf("%w: %d Hz on a %d Hz sink", ErrSampleRate, sampleRate, s.sampleRate)
	}
	if at < 0 {
		return fmt.Errorf("negative start time %v", at)
	}
	buf := make([]float32, len(samples))
	copy(buf, samples)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append(s.segments, segment{at: at, samples: buf})
	return nil
}

// StopAll cuts the timeline at the current device time: the playing buffer is
// truncated and buffers not yet started are dropped.
func (s *TimelineSink) StopAll() {
	now := s.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	kept := s.segments[:0]
	for _, seg := range s.segments {
		if seg.at >= now {
			continue
		}
		played := int((now - seg.at) * float64(s.sampleRate))
		if played < len(seg.samples) {
			seg.samples = seg.samples[:played]
		}
		kept = append(kept, seg)
	}
	s.segments = kept
}

// Played returns the scheduled audio length in seconds, gaps included.
func (s *TimelineSink) Played() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := 0.0
	for _, seg := range s.segments {
		if e := seg.at + float64(len(seg.samples))/float64(s.sampleRate); e > end {
			end = e
		}
	}
	return end
}

// Render returns the timeline as 16-bit PCM starting at device time 0.
// Gaps are silent.
func (s *TimelineSink) Render() []int16 {
	s.mu.Lock()
	segs := make([]segment, len(s.segments))
	copy(segs, s.segments)
	s.mu.Unlock()

	sort.Slice(segs, func(i, j int) bool { return segs[i].at < segs[j].at })

	total := 0
	for _, seg := range segs {
		if end := int(math.Round(seg.at*float64(s.sampleRate))) + len(seg.samples); end > total {
			total = end
		}
	}
	out := make([]int16, total)
	for _, seg := range segs {
		start := int(math.Round(seg.at * float64(s.sampleRate)))
		for i, v := range seg.samples {
			out[start+i] = toInt16(v)
		}
	}
	return out
}

// WriteWAV renders the timeline to a WAV file at path.
func (s *TimelineSink) WriteWAV(path string) error {
	data, err := audio.EncodeWAV(audio.EncodePCM16(s.Render()), s.sampleRate)
	if err != nil {
		return fmt.Errorf("encode playback: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write playback file: %w", err)
	}
	return nil
}

func toInt16(v float32) int16 {
	f := float64(v) * 32768.0
	if f > math.MaxInt16 {
		return math.MaxInt16
	}
	if f < math.MinInt16 {
		return math.MinInt16
	}
	return int16(f)
}
