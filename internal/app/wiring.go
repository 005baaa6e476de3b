package app

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-voice-turn-client/internal/device"
	"ai-voice-turn-client/internal/events"
	"ai-voice-turn-client/internal/observability/logging"
	"ai-voice-turn-client/internal/service/backend"
	"ai-voice-turn-client/internal/service/chat"
	"ai-voice-turn-client/internal/service/playback"
	"ai-voice-turn-client/internal/service/recognition"
	"ai-voice-turn-client/internal/service/session"
	"ai-voice-turn-client/internal/service/stt"
	"ai-voice-turn-client/internal/service/stt/google"
	"ai-voice-turn-client/internal/service/stt/mock"
	"ai-voice-turn-client/internal/service/stt/ws"
	"ai-voice-turn-client/internal/service/turn"
)

// Runtime is a voice session together with the devices and sinks it drives.
type Runtime struct {
	Session     *session.Session
	Capture     *device.WAVSource
	Speaker     *device.TimelineSink
	Publisher   *events.Publisher
	Recognition *recognition.Channel

	closers []io.Closer
}

// Close releases resources that outlive the session loop.
func (r *Runtime) Close() error {
	for _, c := range r.closers {
		c.Close()
	}
	return r.Publisher.Close()
}

// BuildRuntime wires a session from the configuration. A nil observer logs
// session output.
func (a *Application) BuildRuntime(observer session.Observer) (*Runtime, error) {
	cfg := a.Cfg

	capture, err := a.buildCapture()
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.Backend.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	factory, sttCloser, err := a.adapterFactory(dialer)
	if err != nil {
		return nil, err
	}
	var closers []io.Closer
	if sttCloser != nil {
		closers = append(closers, sttCloser)
	}
	rec := recognition.New(factory, recognition.Limits{
		MaxAudioBytes: cfg.Session.MaxAudioBytes,
		MaxFragments:  cfg.Session.MaxFragments,
	})

	conv := chat.New(chat.Config{
		URL:              cfg.Backend.ConversationURL(),
		HandshakeTimeout: cfg.Backend.HandshakeTimeout,
		SampleRate:       cfg.Playback.SampleRateHz,
	}, dialer)

	speaker := device.NewTimelineSink(cfg.Playback.SampleRateHz)

	client := backend.NewClient(backend.Config{
		BaseURL:      cfg.Backend.HTTPBaseURL,
		UploadPath:   cfg.Backend.UploadPath,
		GreetingPath: cfg.Backend.GreetingPath,
		Timeout:      cfg.Backend.RequestTimeout,
		UserAgent:    serviceName,
	}, nil)

	publisher := events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicUser:      cfg.Kafka.TopicUserTurns,
		TopicAssistant: cfg.Kafka.TopicAssistantTurns,
		Principal:      cfg.Kafka.Principal,
	})

	if observer == nil {
		observer = NewLogObserver(a.Logger)
	}

	deps := session.Deps{
		Capture:      capture,
		Recognizer:   rec,
		Conversation: conv,
		Player:       playback.New(speaker, cfg.Playback.Lead),
		Greeter:      client,
		Journal:      publisher,
		Observer:     observer,
	}

	switch cfg.Upload.Backend {
	case "http":
		deps.Uploader = client
	case "supabase":
		uploader, err := backend.NewSupabaseUploader(backend.SupabaseConfig{
			URL:            cfg.Upload.SupabaseURL,
			ServiceRoleKey: cfg.Upload.SupabaseKey,
			Bucket:         cfg.Upload.Bucket,
		})
		if err != nil {
			publisher.Close()
			for _, c := range closers {
				c.Close()
			}
			return nil, fmt.Errorf("supabase uploader: %w", err)
		}
		deps.Uploader = uploader
	}

	sess := session.New(session.Config{
		UserID:            cfg.Service.UserID,
		CaptureSampleRate: cfg.Capture.SampleRateHz,
		MaxRecording:      cfg.Capture.MaxDuration,
		ResponseTimeout:   cfg.Session.ResponseTimeout,
		RevealInterval:    cfg.Session.RevealInterval,
		DefaultGreeting:   cfg.Backend.DefaultGreeting,
	}, deps)

	rec.WithLogger(logging.WithChannel(sess.SessionKey(), "recognition"))
	conv.WithLogger(logging.WithChannel(sess.SessionKey(), "conversation"))

	a.Logger.Info().
		Str("sessionKey", sess.SessionKey()).
		Str("sttProvider", cfg.STT.Provider).
		Str("uploadBackend", cfg.Upload.Backend).
		Bool("kafkaEnabled", publisher.Enabled()).
		Msg("Voice session wired")

	return &Runtime{
		Session:     sess,
		Capture:     capture,
		Speaker:     speaker,
		Publisher:   publisher,
		Recognition: rec,
		closers:     closers,
	}, nil
}

// buildCapture replays the configured WAV file, or silence for the whole
// countdown when none is set.
func (a *Application) buildCapture() (*device.WAVSource, error) {
	c := a.Cfg.Capture
	if c.SourceFile == "" {
		silence := make([]byte, int(c.MaxDuration.Seconds())*c.SampleRateHz*2)
		return device.NewWAVSource(silence, c.SampleRateHz, c.FrameBytes).WithRealtime(c.Realtime), nil
	}
	src, err := device.OpenWAV(c.SourceFile, c.SampleRateHz, c.FrameBytes)
	if err != nil {
		return nil, err
	}
	return src.WithRealtime(c.Realtime), nil
}

func (a *Application) adapterFactory(dialer *websocket.Dialer) (recognition.AdapterFactory, io.Closer, error) {
	cfg := a.Cfg
	switch cfg.STT.Provider {
	case "mock":
		var utterances []mock.SimulatedUtterance
		for _, text := range cfg.STT.MockUtterances {
			utterances = append(utterances, mock.SimulatedUtterance{Final: text})
		}
		return func() stt.Adapter {
			return mock.New(cfg.STT.MockDelay, utterances...)
		}, nil, nil
	case "google":
		open, closer, err := google.NewClientOpener(context.Background())
		if err != nil {
			return nil, nil, err
		}
		gCfg := google.DefaultConfig()
		gCfg.SampleRateHz = cfg.Capture.SampleRateHz
		gCfg.LanguageCode = cfg.STT.LanguageCode
		return func() stt.Adapter {
			return google.New(open, gCfg)
		}, closer, nil
	default:
		wsCfg := ws.Config{
			URL:              cfg.Backend.RecognitionURL(),
			HandshakeTimeout: cfg.Backend.HandshakeTimeout,
			WriteTimeout:     ws.DefaultConfig().WriteTimeout,
			SendBuffer:       cfg.STT.SendBuffer,
		}
		return func() stt.Adapter {
			return ws.New(wsCfg, dialer)
		}, nil, nil
	}
}

// LogObserver writes session output to the log.
type LogObserver struct {
	logger zerolog.Logger
}

// NewLogObserver creates an observer logging through logger.
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger.With().Str("component", "session_output").Logger()}
}

func (o *LogObserver) OnStateChange(from, to turn.State) {
	o.logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("State changed")
}

func (o *LogObserver) OnTranscript(text string) {
	if text != "" {
		o.logger.Info().Str("transcript", text).Msg("Transcript")
	}
}

func (o *LogObserver) OnReplyText(text string) {
	o.logger.Debug().Str("replyText", text).Msg("Reply text")
}

func (o *LogObserver) OnCountdown(remaining int) {
	if remaining%10 == 0 || remaining <= 5 {
		o.logger.Debug().Int("remainingSeconds", remaining).Msg("Recording countdown")
	}
}

func (o *LogObserver) OnNotice(n session.Notice) {
	o.logger.Warn().Str("kind", string(n.Kind)).Str("message", n.Message).Msg("Notice")
}

func (o *LogObserver) OnHistory(turns []session.Turn) {
	if len(turns) == 0 {
		return
	}
	last := turns[len(turns)-1]
	o.logger.Info().
		Int("turns", len(turns)).
		Str("role", last.Role).
		Str("content", last.Content).
		Msg("History updated")
}

var _ session.Observer = (*LogObserver)(nil)
