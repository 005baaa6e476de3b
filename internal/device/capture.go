// Package device provides file-backed audio devices: a capture source that
// replays a WAV file as microphone frames and an output sink that renders
// scheduled playback to a timeline.
package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-voice-turn-client/internal/audio"
)

// ErrCaptureRunning is returned by Start while a capture is in progress.
var ErrCaptureRunning = errors.New("capture already running")

// WAVSource replays PCM as fixed-size capture frames.
type WAVSource struct {
	pcm        []byte
	sampleRate int
	frameBytes int
	realtime   bool
	logger     zerolog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	exhausted chan struct{}
}

// OpenWAV loads a 16-bit mono WAV file recorded at sampleRate.
func OpenWAV(path string, sampleRate, frameBytes int) (*WAVSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capture file: %w", err)
	}
	pcm, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decode capture file: %w", err)
	}
	if rate != sampleRate {
		return nil, fmt.Errorf("capture file is %d Hz, want %d Hz", rate, sampleRate)
	}
	return NewWAVSource(pcm, sampleRate, frameBytes), nil
}

// NewWAVSource creates a source paced in real time.
func NewWAVSource(pcm []byte, sampleRate, frameBytes int) *WAVSource {
	if frameBytes <= 0 {
		frameBytes = 6400
	}
	return &WAVSource{
		pcm:        pcm,
		sampleRate: sampleRate,
		frameBytes: frameBytes,
		realtime:   true,
		logger:     log.With().Str("component", "capture").Logger(),
		exhausted:  make(chan struct{}),
	}
}

// WithRealtime toggles real-time pacing. Without it frames are emitted as fast as possible.
func (s *WAVSource) WithRealtime(realtime bool) *WAVSource {
	s.realtime = realtime
	return s
}

// FrameDuration returns the audio duration of one frame.
func (s *WAVSource) FrameDuration() time.Duration {
	samples := s.frameBytes / 2
	return time.Duration(samples) * time.Second / time.Duration(s.sampleRate)
}

// Start replays the file from the beginning on a new goroutine.
func (s *WAVSource) Start(ctx context.Context, onFrame func(frame []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrCaptureRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	select {
	case <-s.exhausted:
		s.exhausted = make(chan struct{})
	default:
	}
	go s.run(runCtx, onFrame, s.done, s.exhausted)

	s.logger.Debug().
		Int("bytes", len(s.pcm)).
		Int("frameBytes", s.frameBytes).
		Bool("realtime", s.realtime).
		Msg("Capture started")
	return nil
}

// Stop ends the replay and waits for the capture goroutine. Idempotent.
func (s *WAVSource) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Exhausted is closed once the current replay, or the next one if none is
// running, has emitted the whole file.
func (s *WAVSource) Exhausted() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhausted
}

func (s *WAVSource) run(ctx context.Context, onFrame func([]byte), done, exhausted chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if s.realtime {
		ticker := time.NewTicker(s.FrameDuration())
		defer ticker.Stop()
		tick = ticker.C
	}

	frames := 0
	for off := 0; off < len(s.pcm); off += s.frameBytes {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return
		}

		end := off + s.frameBytes
		if end > len(s.pcm) {
			end = len(s.pcm)
		}
		frame := make([]byte, end-off)
		copy(frame, s.pcm[off:end])
		onFrame(frame)
		frames++
	}

	s.logger.Debug().Int("frames", frames).Msg("Capture file exhausted")
	close(exhausted)
}
