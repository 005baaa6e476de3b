package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-voice-turn-client/internal/audio"
	"ai-voice-turn-client/internal/models"
	"ai-voice-turn-client/internal/observability/metrics"
	"ai-voice-turn-client/internal/schema"
)

var (
	// ErrNotConnected is returned by Send without an open connection.
	ErrNotConnected = errors.New("conversation stream not connected")
	// ErrSuperseded is returned when the connection was closed or replaced before the call finished.
	ErrSuperseded = errors.New("conversation stream superseded")
)

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Config holds conversation stream settings.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	SampleRate       int // sample rate of reply audio
}

// DefaultConfig returns settings for a local backend.
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:8000/ws/interview",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		SampleRate:       24000,
	}
}

// Channel owns at most one conversation connection at a time.
// Events of a closed or replaced connection are never delivered.
type Channel struct {
	cfg       Config
	dialer    Dialer
	validator *schema.Validator
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu         sync.Mutex
	writeMu    sync.Mutex
	conn       *websocket.Conn
	handler    Handler
	generation uint64
}

// New creates a channel. A nil dialer uses websocket.Dialer.
func New(cfg Config, dialer Dialer) *Channel {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultConfig().SampleRate
	}
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}
	return &Channel{
		cfg:       cfg,
		dialer:    dialer,
		validator: schema.New(),
		metrics:   metrics.DefaultMetrics,
		logger:    log.With().Str("component", "conversation").Str("url", cfg.URL).Logger(),
	}
}

// WithLogger sets the logger used for stream lifecycle messages.
func (c *Channel) WithLogger(logger zerolog.Logger) *Channel {
	c.logger = logger.With().Str("component", "conversation").Str("url", c.cfg.URL).Logger()
	return c
}

// Connect closes any previous connection and dials a new one.
func (c *Channel) Connect(ctx context.Context, h Handler) error {
	_, err := c.connect(ctx, h)
	return err
}

// Send writes a turn request on the current connection.
func (c *Channel) Send(ctx context.Context, req models.TurnRequest) error {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()
	return c.send(ctx, gen, req)
}

// Open connects and sends req on that same connection. If the connection is
// replaced, or ctx is canceled, before the write, nothing is sent and
// ErrSuperseded is returned.
func (c *Channel) Open(ctx context.Context, h Handler, req models.TurnRequest) error {
	gen, err := c.connect(ctx, h)
	if err != nil {
		return err
	}
	if err := c.send(ctx, gen, req); err != nil {
		if errors.Is(err, ErrSuperseded) {
			c.drop(gen)
		}
		return err
	}
	return nil
}

// Close closes the current connection. Failures on an already dead socket are
// logged and swallowed.
func (c *Channel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.handler = nil
	c.generation++
	c.mu.Unlock()

	closeQuietly(conn, c.logger)
	return nil
}

func (c *Channel) connect(ctx context.Context, h Handler) (uint64, error) {
	if ctx.Err() != nil {
		return 0, ErrSuperseded
	}

	c.mu.Lock()
	prev := c.conn
	c.conn = nil
	c.handler = nil
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	closeQuietly(prev, c.logger)

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	c.metrics.RecordChannelConnect("conversation", err)
	if err != nil {
		if resp != nil {
			return 0, fmt.Errorf("dial conversation stream: %w (status %d)", err, resp.StatusCode)
		}
		return 0, fmt.Errorf("dial conversation stream: %w", err)
	}

	c.mu.Lock()
	if gen != c.generation || ctx.Err() != nil {
		c.mu.Unlock()
		closeQuietly(conn, c.logger)
		c.logger.Debug().Uint64("generation", gen).Msg("Conversation stream superseded while dialing")
		return 0, ErrSuperseded
	}
	c.conn = conn
	c.handler = h
	c.mu.Unlock()

	go c.readLoop(gen, conn)
	c.logger.Debug().Uint64("generation", gen).Msg("Conversation stream connected")
	return gen, nil
}

func (c *Channel) send(ctx context.Context, gen uint64, req models.TurnRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal turn request: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	current := gen == c.generation && ctx.Err() == nil
	c.mu.Unlock()
	if !current {
		return ErrSuperseded
	}
	if conn == nil {
		return ErrNotConnected
	}

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write turn request: %w", err)
	}
	c.logger.Debug().RawJSON("payload", payload).Msg("Turn request sent")
	return nil
}

func (c *Channel) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if h := c.detach(gen); h != nil {
				c.logger.Warn().Err(err).Msg("Conversation stream lost")
				h.OnClose(err)
			}
			return
		}

		ev, err := c.decode(data)
		if err != nil {
			c.metrics.RecordMalformedMessage("conversation")
			c.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping malformed conversation message")
			continue
		}

		h := c.current(gen)
		if h == nil {
			return
		}
		h.OnEvent(ev)
	}
}

func (c *Channel) decode(data []byte) (Event, error) {
	var msg models.ReplyMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrMalformedMessage, err)
	}
	if err := c.validator.Validate(&msg); err != nil {
		return nil, err
	}

	switch msg.Type {
	case models.ReplyTypeSessionID:
		return SessionID{Token: msg.SessionID}, nil
	case models.ReplyTypeUserTextID:
		return UserTextID{Token: msg.TextID}, nil
	case models.ReplyTypeResponseID:
		return ResponseID{Token: msg.ResponseID}, nil
	case models.ReplyTypeText:
		return TextDelta{Content: msg.Content}, nil
	case models.ReplyTypeAudio:
		chunk, err := audio.DecodeBase64Chunk(msg.Data, c.cfg.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", schema.ErrMalformedMessage, err)
		}
		return AudioChunk{Chunk: chunk}, nil
	case models.ReplyTypeTextFinish:
		return TurnComplete{}, nil
	default:
		return Failure{Message: msg.Message}, nil
	}
}

// drop closes the connection of generation gen if it is still current.
func (c *Channel) drop(gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.handler = nil
	c.generation++
	c.mu.Unlock()

	closeQuietly(conn, c.logger)
}

func (c *Channel) current(gen uint64) Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return nil
	}
	return c.handler
}

// detach drops the connection of generation gen after a read failure and
// returns its handler, or nil when it was already closed or replaced.
func (c *Channel) detach(gen uint64) Handler {
	c.mu.Lock()
	if gen != c.generation || c.conn == nil {
		c.mu.Unlock()
		return nil
	}
	h, conn := c.handler, c.conn
	c.conn = nil
	c.handler = nil
	c.mu.Unlock()

	closeQuietly(conn, c.logger)
	return h
}

func closeQuietly(conn *websocket.Conn, logger zerolog.Logger) {
	if conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	if err := conn.Close(); err != nil {
		logger.Debug().Err(err).Msg("Ignoring close error on conversation stream")
	}
}
