// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-voice-turn-client/internal/service/stt"
)

// Config holds Google STT configuration.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string // LINEAR16, MULAW, FLAC, ...
}

// DefaultConfig returns settings for 16 kHz Mandarin capture.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "zh-CN",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// Stream is the bidirectional recognition stream.
// speechpb.Speech_StreamingRecognizeClient satisfies it.
type Stream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// StreamOpener opens one recognition stream.
type StreamOpener func(ctx context.Context) (Stream, error)

// NewClientOpener creates a Speech client and returns an opener backed by it.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set. The returned closer
// releases the client.
func NewClientOpener(ctx context.Context) (StreamOpener, io.Closer, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("speech client: %w", err)
	}
	opener := func(ctx context.Context) (Stream, error) {
		return c.StreamingRecognize(ctx)
	}
	return opener, c, nil
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
//
// Google restarts its results after every final one, so each result is
// reported at local index 0 and the reconciler's offset tracks utterances.
type Adapter struct {
	open   StreamOpener
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	stream Stream
	cancel context.CancelFunc
	cb     stt.Callback
	closed bool
}

// New creates a Google STT adapter using open for its stream.
func New(open StreamOpener, cfg Config) *Adapter {
	return &Adapter{
		open:   open,
		cfg:    cfg,
		logger: log.With().Str("component", "stt_google").Logger(),
	}
}

// Start opens the stream, sends the recognition config and starts the receiver.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return stt.ErrClosed
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := a.open(streamCtx)
	if err != nil {
		cancel()
		return err
	}

	// Send streaming config as the first message
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        parseAudioEncoding(a.cfg.AudioEncoding),
					SampleRateHertz: int32(a.cfg.SampleRateHz),
					LanguageCode:    a.cfg.LanguageCode,
				},
				InterimResults: a.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("send streaming config: %w", err)
	}

	a.stream = stream
	a.cancel = cancel
	a.cb = cb
	go a.listen(stream)

	a.logger.Debug().
		Str("languageCode", a.cfg.LanguageCode).
		Int("sampleRateHz", a.cfg.SampleRateHz).
		Msg("Google recognition stream started")
	return nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return stt.ErrClosed
	}
	if a.stream == nil {
		return stt.ErrNotStarted
	}
	return a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close ends the streaming session. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.stream == nil {
		return nil
	}
	err := a.stream.CloseSend()
	a.cancel()
	return err
}

// listen receives transcript responses and invokes callbacks until the stream ends.
func (a *Adapter) listen(stream Stream) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			a.mu.Lock()
			closed, cb := a.closed, a.cb
			a.mu.Unlock()
			if closed || errors.Is(err, io.EOF) {
				return
			}
			cb.OnError(err)
			return
		}

		a.mu.Lock()
		cb := a.cb
		a.mu.Unlock()

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			if r.IsFinal {
				cb.OnFinal(0, alt.Transcript)
			} else {
				cb.OnPartial(0, alt.Transcript)
			}
		}
	}
}

// parseAudioEncoding maps an encoding name to its proto value, defaulting to LINEAR16.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
