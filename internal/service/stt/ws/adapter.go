// Package ws implements the recognizer contract over the backend's websocket
// recognition endpoint: binary PCM frames up, JSON fragment updates down.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-voice-turn-client/internal/models"
	"ai-voice-turn-client/internal/observability/metrics"
	"ai-voice-turn-client/internal/schema"
	"ai-voice-turn-client/internal/service/stt"
)

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Config holds recognition stream settings.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	SendBuffer       int // frames buffered before new frames are dropped
}

// DefaultConfig returns settings for a local backend.
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:8000/ws/asr",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		SendBuffer:       64,
	}
}

// Adapter implements stt.Adapter over a websocket.
//
// A reader goroutine decodes fragment updates and a writer goroutine drains
// the frame buffer, so SendAudio never blocks the caller.
type Adapter struct {
	cfg       Config
	dialer    Dialer
	validator *schema.Validator
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cb     stt.Callback
	frames chan []byte
	done   chan struct{}
	closed bool
	failed bool
}

// New creates a websocket recognizer. A nil dialer uses websocket.Dialer.
func New(cfg Config, dialer Dialer) *Adapter {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}
	return &Adapter{
		cfg:       cfg,
		dialer:    dialer,
		validator: schema.New(),
		metrics:   metrics.DefaultMetrics,
		logger:    log.With().Str("component", "stt-ws").Str("url", cfg.URL).Logger(),
	}
}

// Start dials the recognition endpoint and begins streaming.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return stt.ErrClosed
	}
	a.mu.Unlock()

	conn, resp, err := a.dialer.DialContext(ctx, a.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial recognition stream: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial recognition stream: %w", err)
	}

	a.mu.Lock()
	if a.closed {
		// closed while dialing
		a.mu.Unlock()
		conn.Close()
		return stt.ErrClosed
	}
	a.conn = conn
	a.cb = cb
	a.frames = make(chan []byte, a.cfg.SendBuffer)
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.readLoop(conn)
	go a.writeLoop(conn)

	a.logger.Debug().Msg("Recognition stream connected")
	return nil
}

// SendAudio queues one frame for the writer goroutine.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return stt.ErrClosed
	}
	if a.conn == nil {
		return stt.ErrNotStarted
	}

	frame := make([]byte, len(audio))
	copy(frame, audio)
	select {
	case a.frames <- frame:
		return nil
	default:
		return stt.ErrBackpressure
	}
}

// Close sends a close frame and tears the connection down. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	conn := a.conn
	if a.done != nil {
		close(a.done)
	}
	a.mu.Unlock()

	if conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "capture stopped"), deadline)
	return conn.Close()
}

func (a *Adapter) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			a.fail(fmt.Errorf("read recognition stream: %w", err))
			return
		}

		var result models.RecognitionResult
		if err := json.Unmarshal(data, &result); err != nil {
			a.dropMalformed(data, err)
			continue
		}
		if err := a.validator.Validate(&result); err != nil {
			a.dropMalformed(data, err)
			continue
		}

		cb := a.callback()
		if cb == nil {
			return
		}
		if result.IsFinal {
			cb.OnFinal(*result.Index, result.Text)
		} else {
			cb.OnPartial(*result.Index, result.Text)
		}
	}
}

func (a *Adapter) writeLoop(conn *websocket.Conn) {
	a.mu.Lock()
	frames, done := a.frames, a.done
	a.mu.Unlock()

	for {
		select {
		case <-done:
			return
		case frame := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				a.fail(fmt.Errorf("write recognition stream: %w", err))
				return
			}
		}
	}
}

// callback returns the live callback, or nil once the stream closed or failed.
func (a *Adapter) callback() stt.Callback {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.failed {
		return nil
	}
	return a.cb
}

// fail reports the first stream error unless the stream was closed locally.
func (a *Adapter) fail(err error) {
	a.mu.Lock()
	if a.closed || a.failed {
		a.mu.Unlock()
		return
	}
	a.failed = true
	cb := a.cb
	a.mu.Unlock()

	a.logger.Warn().Err(err).Msg("Recognition stream failed")
	if cb != nil {
		cb.OnError(err)
	}
}

func (a *Adapter) dropMalformed(data []byte, err error) {
	a.metrics.RecordMalformedMessage("recognition")
	a.logger.Warn().
		Err(err).
		Int("bytes", len(data)).
		Msg("Dropping malformed recognition message")
}
