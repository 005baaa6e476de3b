// Package session coordinates one voice conversation: capture, the recognition
// and conversation streams, the transcript and the two reply outputs.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-turn-client/internal/audio"
	"ai-voice-turn-client/internal/models"
	"ai-voice-turn-client/internal/observability/logging"
	"ai-voice-turn-client/internal/observability/metrics"
	"ai-voice-turn-client/internal/service/backend"
	"ai-voice-turn-client/internal/service/chat"
	"ai-voice-turn-client/internal/service/playback"
	"ai-voice-turn-client/internal/service/recognition"
	"ai-voice-turn-client/internal/service/reveal"
	"ai-voice-turn-client/internal/service/transcript"
	"ai-voice-turn-client/internal/service/turn"
)

var (
	// ErrNotRecording is returned by StopRecording and CancelRecording outside RECORDING.
	ErrNotRecording = errors.New("not recording")
	// ErrEmptyCommit is returned by StopRecording when nothing was recognized.
	ErrEmptyCommit = errors.New("empty commit")
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one contribution to the conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NoticeKind classifies a user-visible notice.
type NoticeKind string

const (
	NoticeEmptyCommit       NoticeKind = "empty_commit"
	NoticeConnectionFailure NoticeKind = "connection_failure"
	NoticeResponseTimeout   NoticeKind = "response_timeout"
	NoticeBackendError      NoticeKind = "backend_error"
	NoticeCaptureFailure    NoticeKind = "capture_failure"
)

// Notice messages shown to the user.
const (
	MessageEmptyCommit       = "请先说话"
	MessageConnectionFailure = "连接失败,请检查网络后重试。"
	MessageResponseTimeout   = "抱歉,我遇到了一些问题,请重试。"
	MessageCaptureFailure    = "无法使用麦克风,请检查设备后重试。"
)

// Notice is a transient message for the user.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// Config holds session settings.
type Config struct {
	UserID            string
	CaptureSampleRate int
	MaxRecording      time.Duration // countdown until the turn is committed automatically
	ResponseTimeout   time.Duration
	RevealInterval    time.Duration
	DefaultGreeting   string
}

// DefaultConfig returns the standard session settings.
func DefaultConfig() Config {
	return Config{
		CaptureSampleRate: 16000,
		MaxRecording:      60 * time.Second,
		ResponseTimeout:   30 * time.Second,
		RevealInterval:    reveal.DefaultInterval,
		DefaultGreeting:   "你好呀!我叫念念,",
	}
}

// Capture is a microphone yielding fixed-size PCM frames.
type Capture interface {
	// Start begins capture; onFrame receives a fresh slice per frame on a capture goroutine.
	Start(ctx context.Context, onFrame func(frame []byte)) error
	// Stop ends capture. Stopping a stopped capture is a no-op.
	Stop() error
}

// Recognizer is the recognition stream. *recognition.Channel satisfies it.
type Recognizer interface {
	Connect(ctx context.Context, l recognition.Listener) error
	SendFrame(ctx context.Context, frame []byte) error
	Close(reason string)
}

// Conversation is the conversation stream. *chat.Channel satisfies it.
type Conversation interface {
	Open(ctx context.Context, h chat.Handler, req models.TurnRequest) error
	Close() error
}

// Player schedules reply audio. *playback.Scheduler satisfies it.
type Player interface {
	Enqueue(chunk audio.Chunk) (playback.Scheduled, error)
	Reset()
	Busy() bool
}

// Uploader stores the recording of a committed turn.
type Uploader interface {
	UploadVoice(ctx context.Context, u backend.VoiceUpload) error
	Name() string
}

// Greeter returns the assistant message that opens a session.
type Greeter interface {
	LatestAssistantMessage(ctx context.Context, userID string) (string, error)
}

// Journal records finished turns.
type Journal interface {
	PublishUserTurn(ctx context.Context, key string, event any) error
	PublishAssistantTurn(ctx context.Context, key string, event any) error
}

// Observer receives session output. Calls are made on the session loop and must not block.
type Observer interface {
	OnStateChange(from, to turn.State)
	OnTranscript(text string)
	OnReplyText(text string)
	OnCountdown(remaining int)
	OnNotice(n Notice)
	OnHistory(turns []Turn)
}

// NopObserver ignores all output.
type NopObserver struct{}

func (NopObserver) OnStateChange(from, to turn.State) {}
func (NopObserver) OnTranscript(text string)          {}
func (NopObserver) OnReplyText(text string)           {}
func (NopObserver) OnCountdown(remaining int)         {}
func (NopObserver) OnNotice(n Notice)                 {}
func (NopObserver) OnHistory(turns []Turn)            {}

// Deps are the collaborators of a controller. Uploader, Greeter, Journal and
// Observer are optional.
type Deps struct {
	Dispatcher   Dispatcher
	Clock        Clock
	Spawn        func(fn func()) // runs blocking work off the loop
	Capture      Capture
	Recognizer   Recognizer
	Conversation Conversation
	Player       Player
	Uploader     Uploader
	Greeter      Greeter
	Journal      Journal
	Observer     Observer
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	SessionKey string `json:"sessionKey"`
	UserID     string `json:"userId"`
	State      string `json:"state"`
	Transcript string `json:"transcript"`
	ReplyText  string `json:"replyText"`
	Remaining  int    `json:"remainingSeconds"`
	Playing    bool   `json:"playing"`
	SessionID  string `json:"sessionId,omitempty"`
	UserTextID string `json:"userTextId,omitempty"`
	ResponseID string `json:"responseId,omitempty"`
	History    []Turn `json:"history"`
}

// Controller is the conversation state machine.
//
// All methods must run on the session loop. Work that blocks (dialing,
// uploads, journal writes) runs through Deps.Spawn and posts its result back.
// Each recording turn, reply turn and reveal drain carries a generation;
// results and stream events of an older generation are discarded.
type Controller struct {
	cfg     Config
	deps    Deps
	ctx     context.Context
	logger  zerolog.Logger
	metrics *metrics.Metrics

	sessionKey string
	machine    *turn.Machine
	ids        *turn.Generator
	reconciler *transcript.Reconciler
	reveal     *reveal.Queue
	history    []Turn
	startedAt  time.Time
	closed     bool

	// correlation tokens issued by the backend
	sessionID  string
	userTextID string
	responseID string

	// recording turn
	recGen       uint64
	recCtx       context.Context
	recCancel    context.CancelFunc
	recStart     time.Time
	recPCM       []byte
	silentLogged bool
	remaining    int
	countdown    Timer

	// reply turn
	chatGen      uint64
	chatCancel   context.CancelFunc
	turnID       string
	replyStart   time.Time
	replyText    strings.Builder
	replyTimer   Timer
	pendingVoice []byte

	revealGen   uint64
	revealTimer Timer
}

// NewController creates a controller in IDLE state.
func NewController(cfg Config, deps Deps) *Controller {
	def := DefaultConfig()
	if cfg.CaptureSampleRate <= 0 {
		cfg.CaptureSampleRate = def.CaptureSampleRate
	}
	if cfg.MaxRecording <= 0 {
		cfg.MaxRecording = def.MaxRecording
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = def.ResponseTimeout
	}
	if cfg.RevealInterval <= 0 {
		cfg.RevealInterval = def.RevealInterval
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	if deps.Spawn == nil {
		deps.Spawn = func(fn func()) { go fn() }
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}

	key := turn.NewSessionKey()
	return &Controller{
		cfg:        cfg,
		deps:       deps,
		ctx:        context.Background(),
		logger:     logging.WithSession(key, cfg.UserID, "session"),
		metrics:    metrics.DefaultMetrics,
		sessionKey: key,
		machine:    turn.NewMachine(),
		ids:        turn.New(),
		reconciler: transcript.New(),
		reveal:     reveal.New(),
	}
}

// SessionKey returns the local key of this session.
func (c *Controller) SessionKey() string {
	return c.sessionKey
}

// State returns the current conversation state.
func (c *Controller) State() turn.State {
	return c.machine.State()
}

// Start seeds the history with the opening greeting. ctx bounds all work
// started by the session.
func (c *Controller) Start(ctx context.Context) {
	c.ctx = ctx
	c.startedAt = c.deps.Clock.Now()
	c.metrics.RecordSessionStart()
	c.logger.Info().Msg("Conversation session started")

	if c.deps.Greeter == nil {
		c.seedGreeting("", nil)
		return
	}
	greeter, userID := c.deps.Greeter, c.cfg.UserID
	c.deps.Spawn(func() {
		msg, err := greeter.LatestAssistantMessage(ctx, userID)
		c.post(func() { c.seedGreeting(msg, err) })
	})
}

// StartRecording begins a recording turn. While a reply is in flight this is
// a barge-in: the reply is cut off and its output stopped before recording
// starts. While already recording the current recording is discarded.
func (c *Controller) StartRecording() error {
	if c.closed {
		return ErrSessionClosed
	}

	state := c.machine.State()
	switch {
	case state.IsReplying():
		c.metrics.RecordBargeIn()
		c.logger.Info().Str("state", state.String()).Msg("Barge-in, interrupting reply")
		c.endReply("interrupted")
	case state == turn.StateRecording:
		c.logger.Info().Msg("Restarting recording")
		c.stopRecording("restart")
	}

	c.closeConversation()
	c.deps.Player.Reset()
	c.resetReveal()
	c.reconciler.Reset()
	c.recPCM = nil
	c.silentLogged = false
	c.deps.Observer.OnTranscript("")
	c.transition(turn.StateRecording)

	c.recGen++
	gen := c.recGen
	c.recStart = c.deps.Clock.Now()
	c.remaining = int(c.cfg.MaxRecording / time.Second)
	c.deps.Observer.OnCountdown(c.remaining)
	c.scheduleCountdown(gen)

	// canceled by stopRecording so a connect still in flight cannot leave a stream open
	c.recCtx, c.recCancel = context.WithCancel(c.ctx)
	ctx, rec := c.recCtx, c.deps.Recognizer
	l := &recognitionListener{c: c, gen: gen}
	c.deps.Spawn(func() {
		err := rec.Connect(ctx, l)
		c.post(func() { c.onRecognitionConnected(gen, err) })
	})
	return nil
}

// StopRecording commits the recording turn. ErrEmptyCommit is returned, and
// nothing is sent, when the transcript is blank.
func (c *Controller) StopRecording() error {
	if c.closed {
		return ErrSessionClosed
	}
	if c.machine.State() != turn.StateRecording {
		return ErrNotRecording
	}
	return c.commit("stop")
}

// CancelRecording discards the recording turn without sending anything.
func (c *Controller) CancelRecording() error {
	if c.closed {
		return ErrSessionClosed
	}
	if c.machine.State() != turn.StateRecording {
		return ErrNotRecording
	}
	c.stopRecording("cancel")
	c.recPCM = nil
	c.reconciler.Reset()
	c.deps.Observer.OnTranscript("")
	c.transition(turn.StateIdle)
	c.metrics.RecordTurn("cancelled")
	return nil
}

// Shutdown stops all streams, timers and playback. Idempotent.
func (c *Controller) Shutdown() {
	if c.closed {
		return
	}

	state := c.machine.State()
	if state == turn.StateRecording {
		c.stopRecording("shutdown")
	}
	if state.IsReplying() {
		c.endReply("interrupted")
	}
	c.closeConversation()
	c.deps.Player.Reset()
	c.resetReveal()
	if state != turn.StateIdle {
		c.transition(turn.StateIdle)
	}
	c.closed = true

	c.metrics.RecordSessionEnd(c.deps.Clock.Now().Sub(c.startedAt).Seconds())
	c.logger.Info().Int("turns", len(c.history)).Msg("Conversation session ended")
}

// Snapshot returns a copy of the session state.
func (c *Controller) Snapshot() Snapshot {
	history := make([]Turn, len(c.history))
	copy(history, c.history)
	return Snapshot{
		SessionKey: c.sessionKey,
		UserID:     c.cfg.UserID,
		State:      c.machine.State().String(),
		Transcript: c.reconciler.Text(),
		ReplyText:  c.reveal.Text(),
		Remaining:  c.remaining,
		Playing:    c.deps.Player.Busy(),
		SessionID:  c.sessionID,
		UserTextID: c.userTextID,
		ResponseID: c.responseID,
		History:    history,
	}
}

func (c *Controller) seedGreeting(msg string, err error) {
	if c.closed {
		return
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to load latest assistant message, using default greeting")
	}
	if strings.TrimSpace(msg) == "" {
		msg = c.cfg.DefaultGreeting
	}
	if msg == "" {
		return
	}
	c.history = append([]Turn{{Role: RoleAssistant, Content: msg}}, c.history...)
	c.publishHistory()
}

func (c *Controller) onRecognitionConnected(gen uint64, err error) {
	if gen != c.recGen || c.machine.State() != turn.StateRecording {
		return
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("Recognition stream failed to open, aborting recording")
		c.abortRecording("connect_failed", NoticeConnectionFailure, MessageConnectionFailure)
		return
	}

	onFrame := func(frame []byte) {
		c.post(func() { c.onFrame(gen, frame) })
	}
	if err := c.deps.Capture.Start(c.recCtx, onFrame); err != nil {
		c.logger.Error().Err(err).Msg("Capture failed to start, aborting recording")
		c.abortRecording("capture_failed", NoticeCaptureFailure, MessageCaptureFailure)
		return
	}
	c.logger.Debug().Msg("Capture started")
}

func (c *Controller) onFrame(gen uint64, frame []byte) {
	if gen != c.recGen {
		return
	}
	if audio.IsSilent(frame) {
		c.metrics.RecordSilentFrame()
		if !c.silentLogged {
			c.silentLogged = true
			c.logger.Warn().Int("bytes", len(frame)).Msg("Captured frame is silent, check microphone")
		}
	}

	if err := c.deps.Recognizer.SendFrame(c.recCtx, frame); errors.Is(err, recognition.ErrLimitExceeded) {
		c.logger.Warn().Msg("Recording limit reached, committing turn")
		c.commit("limit")
		return
	}
	c.recPCM = append(c.recPCM, frame...)
}

func (c *Controller) onFragment(gen uint64, localIndex int, text string, isFinal bool) {
	if gen != c.recGen {
		return
	}
	c.reconciler.Observe(localIndex, text, isFinal)
	c.deps.Observer.OnTranscript(c.reconciler.Text())
}

func (c *Controller) onRecognitionLost(gen uint64, err error) {
	if gen != c.recGen {
		return
	}
	// frames are dropped from here on; stop still commits what was recognized
	c.logger.Warn().Err(err).Msg("Recognition stream lost while recording")
}

func (c *Controller) scheduleCountdown(gen uint64) {
	c.countdown = c.deps.Clock.AfterFunc(time.Second, func() {
		c.post(func() { c.onCountdownTick(gen) })
	})
}

func (c *Controller) onCountdownTick(gen uint64) {
	if gen != c.recGen || c.machine.State() != turn.StateRecording {
		return
	}
	c.remaining--
	c.deps.Observer.OnCountdown(c.remaining)
	if c.remaining <= 0 {
		c.logger.Info().Msg("Recording time is up, committing turn")
		c.commit("countdown")
		return
	}
	c.scheduleCountdown(gen)
}

// stopRecording ends capture and the recognition stream of the current recording turn.
func (c *Controller) stopRecording(reason string) {
	c.recGen++
	if c.recCancel != nil {
		c.recCancel()
		c.recCancel = nil
	}
	stopTimer(&c.countdown)
	if err := c.deps.Capture.Stop(); err != nil {
		c.logger.Debug().Err(err).Msg("Capture stop failed")
	}
	c.deps.Recognizer.Close(reason)
	c.metrics.RecordRecordingDuration(c.deps.Clock.Now().Sub(c.recStart).Seconds())
}

func (c *Controller) abortRecording(reason string, kind NoticeKind, message string) {
	c.stopRecording(reason)
	c.recPCM = nil
	c.transition(turn.StateIdle)
	c.notify(kind, message)
	c.metrics.RecordTurn(string(kind))
}

func (c *Controller) commit(trigger string) error {
	c.stopRecording("commit")
	c.reconciler.Finalize()
	text := strings.TrimSpace(c.reconciler.Text())
	pcm := c.recPCM
	c.recPCM = nil

	if text == "" {
		c.logger.Info().Str("trigger", trigger).Msg("Nothing recognized, turn not sent")
		c.transition(turn.StateIdle)
		c.notify(NoticeEmptyCommit, MessageEmptyCommit)
		c.metrics.RecordTurn("empty")
		return ErrEmptyCommit
	}

	c.transition(turn.StateThinking)
	c.turnID = c.ids.Next(c.sessionKey)
	c.history = append(c.history, Turn{Role: RoleUser, Content: text})
	c.publishHistory()

	c.userTextID = ""
	c.responseID = ""
	c.pendingVoice = pcm
	c.replyText.Reset()
	c.replyStart = c.deps.Clock.Now()

	c.chatGen++
	gen := c.chatGen
	c.replyTimer = c.deps.Clock.AfterFunc(c.cfg.ResponseTimeout, func() {
		c.post(func() { c.onResponseTimeout(gen) })
	})

	tl := logging.ForTurn(c.logger, c.turnID)
	tl.Info().
		Str("trigger", trigger).
		Int("chars", len([]rune(text))).
		Int("audioBytes", len(pcm)).
		Msg("Committing user turn")

	req := models.TurnRequest{UserID: c.cfg.UserID, Text: text, HasVoice: len(pcm) > 0}
	ctx, cancel := context.WithCancel(c.ctx)
	c.chatCancel = cancel
	conv := c.deps.Conversation
	h := &conversationHandler{c: c, gen: gen}
	c.deps.Spawn(func() {
		err := conv.Open(ctx, h, req)
		c.post(func() { c.onConversationOpened(gen, text, err) })
	})
	return nil
}

func (c *Controller) onConversationOpened(gen uint64, text string, err error) {
	if gen != c.chatGen {
		return
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("Conversation stream failed, rolling back user turn")
		stopTimer(&c.replyTimer)
		c.closeConversation()
		c.rollbackUserTurn()
		c.pendingVoice = nil
		c.transition(turn.StateIdle)
		c.notify(NoticeConnectionFailure, MessageConnectionFailure)
		c.metrics.RecordTurn("connection_failure")
		return
	}
	c.publishTurn(RoleUser, text, "")
}

func (c *Controller) onReplyEvent(gen uint64, ev chat.Event) {
	if gen != c.chatGen {
		return
	}

	switch ev := ev.(type) {
	case chat.SessionID:
		c.sessionID = ev.Token
	case chat.UserTextID:
		c.userTextID = ev.Token
		c.uploadVoice(ev.Token)
	case chat.ResponseID:
		c.responseID = ev.Token
	case chat.TextDelta:
		if !c.machine.State().IsReplying() {
			return
		}
		c.enterTalking()
		c.replyText.WriteString(ev.Content)
		if c.reveal.Push(ev.Content) {
			c.revealTick(c.revealGen)
		}
	case chat.AudioChunk:
		// audio trailing the text_finish of this reply still plays
		if c.machine.State().IsReplying() {
			c.enterTalking()
		}
		if _, err := c.deps.Player.Enqueue(ev.Chunk); err != nil {
			c.logger.Debug().Err(err).Msg("Reply chunk skipped")
		}
	case chat.TurnComplete:
		if !c.machine.State().IsReplying() {
			return
		}
		c.endReply("complete")
		c.transition(turn.StateIdle)
	case chat.Failure:
		if !c.machine.State().IsReplying() {
			return
		}
		c.logger.Warn().Str("message", ev.Message).Msg("Backend reported an error")
		c.endReply("error")
		c.closeConversation()
		c.transition(turn.StateIdle)
		msg := ev.Message
		if msg == "" {
			msg = MessageResponseTimeout
		}
		c.notify(NoticeBackendError, msg)
	}
}

func (c *Controller) onResponseTimeout(gen uint64) {
	if gen != c.chatGen || !c.machine.State().IsReplying() {
		return
	}
	c.logger.Warn().Dur("timeout", c.cfg.ResponseTimeout).Msg("No reply within timeout")
	c.endReply("timeout")
	c.closeConversation()
	c.transition(turn.StateIdle)
	c.notify(NoticeResponseTimeout, MessageResponseTimeout)
}

func (c *Controller) onConversationLost(gen uint64, err error) {
	if gen != c.chatGen {
		return
	}
	c.chatGen++
	if !c.machine.State().IsReplying() {
		c.logger.Debug().Err(err).Msg("Conversation stream closed after reply")
		return
	}
	c.logger.Warn().Err(err).Msg("Conversation stream lost during reply")
	c.endReply("closed")
	c.transition(turn.StateIdle)
	c.notify(NoticeConnectionFailure, MessageConnectionFailure)
}

func (c *Controller) enterTalking() {
	if c.machine.State() != turn.StateThinking {
		return
	}
	c.transition(turn.StateTalking)
	c.metrics.RecordReplyLatency(c.deps.Clock.Now().Sub(c.replyStart).Seconds())
}

// endReply stops the reply timer and records whatever reply text arrived as
// the assistant turn. The caller moves the state machine on.
func (c *Controller) endReply(outcome string) {
	stopTimer(&c.replyTimer)
	c.pendingVoice = nil

	content := c.replyText.String()
	c.replyText.Reset()
	if strings.TrimSpace(content) != "" {
		c.history = append(c.history, Turn{Role: RoleAssistant, Content: content})
		c.publishHistory()
		c.publishTurn(RoleAssistant, content, outcome)
	}

	c.metrics.RecordTurn(outcome)
	tl := logging.ForTurn(c.logger, c.turnID)
	tl.Info().
		Str("outcome", outcome).
		Str("responseId", c.responseID).
		Int("chars", len([]rune(content))).
		Msg("Reply ended")
}

func (c *Controller) closeConversation() {
	c.chatGen++
	if c.chatCancel != nil {
		c.chatCancel()
		c.chatCancel = nil
	}
	if err := c.deps.Conversation.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Conversation close failed")
	}
}

func (c *Controller) rollbackUserTurn() {
	n := len(c.history)
	if n > 0 && c.history[n-1].Role == RoleUser {
		c.history = c.history[:n-1]
		c.publishHistory()
	}
}

func (c *Controller) uploadVoice(textID string) {
	pcm := c.pendingVoice
	c.pendingVoice = nil
	if len(pcm) == 0 || c.deps.Uploader == nil {
		return
	}

	wav, err := audio.EncodeWAV(pcm, c.cfg.CaptureSampleRate)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to encode turn recording")
		return
	}
	u := backend.VoiceUpload{
		UserID:    c.cfg.UserID,
		SessionID: c.sessionID,
		TextID:    textID,
		WAV:       wav,
	}
	ctx, uploader := c.ctx, c.deps.Uploader
	logger := c.logger.With().Str("textId", textID).Str("uploader", uploader.Name()).Logger()
	c.deps.Spawn(func() {
		if err := uploader.UploadVoice(ctx, u); err != nil {
			logger.Warn().Err(err).Msg("Voice upload failed")
			return
		}
		logger.Debug().Int("bytes", len(wav)).Msg("Voice upload done")
	})
}

func (c *Controller) revealTick(gen uint64) {
	if gen != c.revealGen {
		return
	}
	text, more := c.reveal.Tick()
	if !more {
		return
	}
	c.deps.Observer.OnReplyText(text)
	c.revealTimer = c.deps.Clock.AfterFunc(c.cfg.RevealInterval, func() {
		c.post(func() { c.revealTick(gen) })
	})
}

func (c *Controller) resetReveal() {
	c.revealGen++
	stopTimer(&c.revealTimer)
	c.reveal.Reset()
	c.deps.Observer.OnReplyText("")
}

func (c *Controller) transition(to turn.State) {
	from, err := c.machine.Transition(to)
	if err != nil {
		c.logger.Error().Err(err).Msg("State transition rejected")
		return
	}
	c.metrics.RecordStateTransition(from.String(), to.String())
	c.logger.Debug().Str("from", from.String()).Str("state", to.String()).Msg("State changed")
	c.deps.Observer.OnStateChange(from, to)
}

func (c *Controller) notify(kind NoticeKind, message string) {
	c.deps.Observer.OnNotice(Notice{Kind: kind, Message: message})
}

func (c *Controller) publishHistory() {
	history := make([]Turn, len(c.history))
	copy(history, c.history)
	c.deps.Observer.OnHistory(history)
}

func (c *Controller) publishTurn(role, content, outcome string) {
	if c.deps.Journal == nil {
		return
	}
	ev := models.TurnEvent{
		SessionKey: c.sessionKey,
		UserID:     c.cfg.UserID,
		TurnID:     c.turnID,
		Role:       role,
		Content:    content,
		SessionID:  c.sessionID,
		TextID:     c.userTextID,
		ResponseID: c.responseID,
		Outcome:    outcome,
		Timestamp:  c.deps.Clock.Now().UnixMilli(),
	}
	ctx, journal, key, logger := c.ctx, c.deps.Journal, c.sessionKey, c.logger
	c.deps.Spawn(func() {
		var err error
		if role == RoleUser {
			ev.EventType = models.EventTypeUserTurn
			err = journal.PublishUserTurn(ctx, key, ev)
		} else {
			ev.EventType = models.EventTypeAssistantTurn
			err = journal.PublishAssistantTurn(ctx, key, ev)
		}
		if err != nil {
			logger.Warn().Err(err).Str("turnId", ev.TurnID).Msg("Failed to journal turn")
		}
	})
}

func (c *Controller) post(fn func()) {
	if !c.deps.Dispatcher.Post(fn) {
		c.logger.Debug().Msg("Session loop stopped, dropping event")
	}
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// recognitionListener forwards stream events of one recording turn to the loop.
type recognitionListener struct {
	c   *Controller
	gen uint64
}

func (l *recognitionListener) OnFragment(localIndex int, text string, isFinal bool) {
	l.c.post(func() { l.c.onFragment(l.gen, localIndex, text, isFinal) })
}

// OnOpenChange only forwards failures; a local close needs no event and
// arrives on the loop itself.
func (l *recognitionListener) OnOpenChange(open bool, err error) {
	if open || err == nil {
		return
	}
	l.c.post(func() { l.c.onRecognitionLost(l.gen, err) })
}

// conversationHandler forwards stream events of one reply turn to the loop.
type conversationHandler struct {
	c   *Controller
	gen uint64
}

func (h *conversationHandler) OnEvent(ev chat.Event) {
	h.c.post(func() { h.c.onReplyEvent(h.gen, ev) })
}

func (h *conversationHandler) OnClose(err error) {
	h.c.post(func() { h.c.onConversationLost(h.gen, err) })
}
