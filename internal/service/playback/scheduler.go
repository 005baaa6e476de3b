// Package playback schedules decoded reply audio on an output device clock
// so that consecutive chunks play back to back.
package playback

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-voice-turn-client/internal/audio"
	"ai-voice-turn-client/internal/observability/metrics"
)

// DefaultLead is added before the first chunk of a turn to absorb scheduling jitter.
const DefaultLead = 50 * time.Millisecond

// ErrPlaybackFailure wraps a sink error for a skipped chunk.
var ErrPlaybackFailure = errors.New("playback failure")

// Sink is an audio output device able to start a buffer at a future device-clock time.
type Sink interface {
	// Now returns the device clock in seconds.
	Now() float64

	// Schedule starts samples at device time `at`.
	Schedule(samples []float32, sampleRate int, at float64) error

	// StopAll stops everything scheduled, including the buffer currently playing.
	StopAll()
}

// Scheduled describes where a chunk was placed on the device clock.
type Scheduled struct {
	Start    float64
	Duration float64
}

// End returns the device time at which the chunk finishes.
func (s Scheduled) End() float64 {
	return s.Start + s.Duration
}

// Scheduler places chunks on the device clock.
//
// Cursor rules:
//
//	t    = max(nextStartTime, now)       (+ lead when nextStartTime == 0)
//	next = t + duration
//
// The cursor only moves forward until Reset zeroes it.
// Not safe for concurrent use; the owning session serializes all calls.
type Scheduler struct {
	sink          Sink
	lead          float64
	nextStartTime float64
	scheduled     int
	metrics       *metrics.Metrics
	logger        zerolog.Logger
}

// New creates a scheduler writing to sink. A non-positive lead selects DefaultLead.
func New(sink Sink, lead time.Duration) *Scheduler {
	if lead <= 0 {
		lead = DefaultLead
	}
	return &Scheduler{
		sink:    sink,
		lead:    lead.Seconds(),
		metrics: metrics.DefaultMetrics,
		logger:  log.With().Str("component", "playback").Logger(),
	}
}

// Enqueue schedules one chunk after everything already scheduled.
// When the sink rejects the buffer the chunk is skipped and the cursor is left
// untouched so the next chunk takes its place.
func (s *Scheduler) Enqueue(chunk audio.Chunk) (Scheduled, error) {
	duration := chunk.Seconds()
	if duration <= 0 {
		return Scheduled{}, fmt.Errorf("%w: empty chunk", ErrPlaybackFailure)
	}

	now := s.sink.Now()
	t := s.nextStartTime
	if t == 0 {
		t = now + s.lead
	} else if now > t {
		// arrival fell behind playback; the gap is accepted
		s.metrics.RecordPlaybackUnderrun()
		t = now
	}

	if err := s.sink.Schedule(chunk.Float32(), chunk.SampleRate, t); err != nil {
		s.metrics.RecordPlaybackFailure()
		s.logger.Warn().
			Err(err).
			Float64("at", t).
			Float64("duration", duration).
			Msg("Output sink rejected chunk, skipping")
		return Scheduled{}, fmt.Errorf("%w: %v", ErrPlaybackFailure, err)
	}

	s.nextStartTime = t + duration
	s.scheduled++
	s.metrics.RecordPlaybackChunk(duration)
	return Scheduled{Start: t, Duration: duration}, nil
}

// Reset stops all scheduled audio and zeroes the cursor. Idempotent.
func (s *Scheduler) Reset() {
	if s.scheduled > 0 || s.nextStartTime != 0 {
		s.logger.Debug().
			Int("chunks", s.scheduled).
			Float64("cursor", s.nextStartTime).
			Msg("Stopping scheduled playback")
	}
	s.sink.StopAll()
	s.nextStartTime = 0
	s.scheduled = 0
}

// Busy reports whether scheduled audio is still playing or pending.
func (s *Scheduler) Busy() bool {
	return s.nextStartTime != 0 && s.sink.Now() < s.nextStartTime
}

// Cursor returns the device time at which the next chunk would start.
func (s *Scheduler) Cursor() float64 {
	return s.nextStartTime
}

// ScheduledCount returns the number of chunks scheduled since the last reset.
func (s *Scheduler) ScheduledCount() int {
	return s.scheduled
}
