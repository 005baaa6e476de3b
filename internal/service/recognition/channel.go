// Package recognition manages the speech recognition stream of a recording turn.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-voice-turn-client/internal/observability/metrics"
	"ai-voice-turn-client/internal/service/stt"
)

var (
	// ErrLimitExceeded is returned by SendFrame once the recording reached its byte limit.
	ErrLimitExceeded = errors.New("recording limit exceeded")
	// ErrSuperseded is returned by Connect when the stream was closed or replaced while dialing.
	ErrSuperseded = errors.New("recognition stream superseded")
)

// Limits defines guardrails for one recording turn.
type Limits struct {
	MaxAudioBytes int64 // Max audio sent per turn
	MaxFragments  int   // Max fragment updates accepted per turn
}

// DefaultLimits returns limits sized for the 60 second capture countdown at 16 kHz.
func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes: 4 * 1024 * 1024, // ~2 minutes at 16kHz 16-bit mono
		MaxFragments:  2000,
	}
}

// Listener receives stream events. Calls arrive on recognizer goroutines.
type Listener interface {
	// OnFragment is called for every accepted fragment update.
	OnFragment(localIndex int, text string, isFinal bool)

	// OnOpenChange is called when the stream opens or closes; err is set when it failed.
	OnOpenChange(open bool, err error)
}

// AdapterFactory creates a fresh recognizer session.
type AdapterFactory func() stt.Adapter

// Stats holds usage of the current stream.
type Stats struct {
	Open       bool
	AudioBytes int64
	Frames     int
	Fragments  int
	Duration   time.Duration
}

// Channel owns at most one recognizer stream at a time.
//
// Every Connect starts a new generation; callbacks from older generations
// are discarded, so a closed or replaced stream can never deliver fragments.
type Channel struct {
	newAdapter AdapterFactory
	limits     Limits
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	mu         sync.Mutex
	adapter    stt.Adapter
	listener   Listener
	generation uint64
	open       bool
	limitHit   bool
	startTime  time.Time
	audioBytes int64
	frames     int
	fragments  int
}

// New creates a channel.
func New(factory AdapterFactory, limits Limits) *Channel {
	return &Channel{
		newAdapter: factory,
		limits:     limits,
		metrics:    metrics.DefaultMetrics,
		logger:     log.With().Str("component", "recognition").Logger(),
	}
}

// WithLogger sets the logger used for stream lifecycle messages.
func (c *Channel) WithLogger(logger zerolog.Logger) *Channel {
	c.logger = logger.With().Str("component", "recognition").Logger()
	return c
}

// Connect opens a new stream, closing any prior stream first. It blocks until
// the stream is open or failed. ErrSuperseded is returned, and no stream is
// left open, when ctx is canceled or Close is called before the stream opens.
func (c *Channel) Connect(ctx context.Context, l Listener) error {
	if ctx.Err() != nil {
		return ErrSuperseded
	}

	c.mu.Lock()
	prev := c.adapter
	c.generation++
	gen := c.generation
	adapter := c.newAdapter()
	c.adapter = adapter
	c.listener = l
	c.open = false
	c.limitHit = false
	c.audioBytes = 0
	c.frames = 0
	c.fragments = 0
	c.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Closing previous recognition stream failed")
		}
	}

	err := adapter.Start(ctx, &streamCallback{channel: c, generation: gen})
	c.metrics.RecordChannelConnect("recognition", err)

	c.mu.Lock()
	if gen != c.generation || ctx.Err() != nil {
		if gen == c.generation {
			c.adapter = nil
			c.listener = nil
		}
		c.mu.Unlock()
		adapter.Close()
		c.logger.Debug().Uint64("generation", gen).Msg("Recognition stream superseded before it opened")
		return ErrSuperseded
	}
	if err != nil {
		c.adapter = nil
		c.mu.Unlock()
		adapter.Close()
		c.logger.Warn().Err(err).Msg("Recognition stream failed to open")
		return fmt.Errorf("connect recognition: %w", err)
	}
	c.open = true
	c.startTime = time.Now()
	c.mu.Unlock()

	c.logger.Info().Msg("Recognition stream open")
	l.OnOpenChange(true, nil)
	return nil
}

// SendFrame forwards one captured frame. Frames are dropped silently while
// the stream is not open or its send buffer is full. ErrLimitExceeded is
// returned once the turn reached its byte limit.
func (c *Channel) SendFrame(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	if !c.open || c.adapter == nil {
		c.mu.Unlock()
		c.metrics.RecordFrameDropped("not_connected")
		return nil
	}
	if c.limits.MaxAudioBytes > 0 && c.audioBytes+int64(len(frame)) > c.limits.MaxAudioBytes {
		first := !c.limitHit
		c.limitHit = true
		current := c.audioBytes
		c.mu.Unlock()
		if first {
			c.metrics.RecordLimitExceeded("audio_bytes")
			c.logger.Warn().
				Int64("audioBytes", current).
				Int64("maxAudioBytes", c.limits.MaxAudioBytes).
				Msg("Recording byte limit reached")
		}
		return ErrLimitExceeded
	}
	adapter := c.adapter
	c.mu.Unlock()

	if err := adapter.SendAudio(ctx, frame); err != nil {
		if errors.Is(err, stt.ErrBackpressure) {
			c.metrics.RecordFrameDropped("backpressure")
			return nil
		}
		c.metrics.RecordFrameDropped("send_error")
		c.logger.Debug().Err(err).Msg("Dropping frame")
		return nil
	}

	c.mu.Lock()
	c.audioBytes += int64(len(frame))
	c.frames++
	c.mu.Unlock()
	c.metrics.RecordAudioSent(len(frame))
	return nil
}

// Close ends the current stream. Idempotent.
func (c *Channel) Close(reason string) {
	c.mu.Lock()
	adapter := c.adapter
	wasOpen := c.open
	l := c.listener
	stats := c.statsLocked()
	c.generation++
	c.adapter = nil
	c.listener = nil
	c.open = false
	c.mu.Unlock()

	if adapter == nil {
		return
	}
	if err := adapter.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Recognition stream close failed")
	}

	c.logger.Info().
		Str("reason", reason).
		Int64("audioBytes", stats.AudioBytes).
		Int("frames", stats.Frames).
		Int("fragments", stats.Fragments).
		Dur("duration", stats.Duration.Round(time.Millisecond)).
		Msg("Recognition stream closed")

	if wasOpen && l != nil {
		l.OnOpenChange(false, nil)
	}
}

// IsOpen reports whether the current stream is open.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Stats returns usage of the current stream.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *Channel) statsLocked() Stats {
	s := Stats{
		Open:       c.open,
		AudioBytes: c.audioBytes,
		Frames:     c.frames,
		Fragments:  c.fragments,
	}
	if !c.startTime.IsZero() && c.adapter != nil {
		s.Duration = time.Since(c.startTime)
	}
	return s
}

// accept reports whether a callback of generation gen may reach the listener.
func (c *Channel) accept(gen uint64) (Listener, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.listener == nil {
		return nil, false
	}
	c.fragments++
	if c.limits.MaxFragments > 0 && c.fragments > c.limits.MaxFragments {
		if c.fragments == c.limits.MaxFragments+1 {
			c.metrics.RecordLimitExceeded("fragments")
			c.logger.Warn().Int("maxFragments", c.limits.MaxFragments).Msg("Fragment limit reached, dropping updates")
		}
		return nil, false
	}
	return c.listener, true
}

func (c *Channel) fail(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	l := c.listener
	c.open = false
	c.mu.Unlock()

	c.logger.Warn().Err(err).Msg("Recognition stream lost")
	if l != nil {
		l.OnOpenChange(false, err)
	}
}

// streamCallback binds recognizer callbacks to one generation of the channel.
type streamCallback struct {
	channel    *Channel
	generation uint64
}

func (s *streamCallback) OnPartial(index int, text string) {
	if l, ok := s.channel.accept(s.generation); ok {
		s.channel.metrics.RecordFragment(false)
		l.OnFragment(index, text, false)
	}
}

func (s *streamCallback) OnFinal(index int, text string) {
	if l, ok := s.channel.accept(s.generation); ok {
		s.channel.metrics.RecordFragment(true)
		l.OnFragment(index, text, true)
	}
}

func (s *streamCallback) OnError(err error) {
	s.channel.fail(s.generation, err)
}
