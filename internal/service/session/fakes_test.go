package session

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"ai-voice-turn-client/internal/models"
	"ai-voice-turn-client/internal/service/backend"
	"ai-voice-turn-client/internal/service/chat"
	"ai-voice-turn-client/internal/service/playback"
	"ai-voice-turn-client/internal/service/recognition"
	"ai-voice-turn-client/internal/service/turn"
)

// queueDispatcher collects posted work until the test drains it.
type queueDispatcher struct {
	mu      sync.Mutex
	pending []func()
	stopped bool
}

func (q *queueDispatcher) Post(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	q.pending = append(q.pending, fn)
	return true
}

func (q *queueDispatcher) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		fn()
	}
}

// fakeClock fires timers only when the test advances it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped
	t.stopped = true
	return active
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// next removes and returns the earliest live timer due at or before deadline.
func (c *fakeClock) next(deadline time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
	for i, t := range c.timers {
		if t.stopped {
			continue
		}
		if t.at.After(deadline) {
			return nil
		}
		c.timers = append(c.timers[:i], c.timers[i+1:]...)
		t.stopped = true
		c.now = t.at
		return t
	}
	return nil
}

func (c *fakeClock) set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type fakeCapture struct {
	starts   int
	stops    int
	onFrame  func([]byte)
	startErr error
}

func (f *fakeCapture) Start(ctx context.Context, onFrame func([]byte)) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.onFrame = onFrame
	return nil
}

func (f *fakeCapture) Stop() error {
	f.stops++
	f.onFrame = nil
	return nil
}

type fakeRecognizer struct {
	connects   int
	listener   recognition.Listener
	connectErr error
	frames     [][]byte
	limit      int
	closes     []string
	open       bool
}

func (f *fakeRecognizer) Connect(ctx context.Context, l recognition.Listener) error {
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	if ctx.Err() != nil {
		return recognition.ErrSuperseded
	}
	f.listener = l
	f.open = true
	return nil
}

func (f *fakeRecognizer) SendFrame(ctx context.Context, frame []byte) error {
	if f.limit > 0 && len(f.frames) >= f.limit {
		return recognition.ErrLimitExceeded
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeRecognizer) Close(reason string) {
	f.closes = append(f.closes, reason)
	f.open = false
}

type fakeConversation struct {
	requests []models.TurnRequest
	handlers []chat.Handler
	openErr  error
	closes   int
	open     bool
}

func (f *fakeConversation) Open(ctx context.Context, h chat.Handler, req models.TurnRequest) error {
	if f.openErr != nil {
		return f.openErr
	}
	if ctx.Err() != nil {
		return chat.ErrSuperseded
	}
	f.requests = append(f.requests, req)
	f.handlers = append(f.handlers, h)
	f.open = true
	return nil
}

func (f *fakeConversation) Close() error {
	f.closes++
	f.open = false
	return nil
}

func (f *fakeConversation) last() chat.Handler {
	return f.handlers[len(f.handlers)-1]
}

// fakeSink is a playback device whose clock the test sets.
type fakeSink struct {
	now      float64
	starts   []float64
	stopAlls int
}

func (s *fakeSink) Now() float64 { return s.now }

func (s *fakeSink) Schedule(samples []float32, sampleRate int, at float64) error {
	s.starts = append(s.starts, at)
	return nil
}

func (s *fakeSink) StopAll() {
	s.stopAlls++
	s.starts = nil
}

type fakeUploader struct {
	uploads []backend.VoiceUpload
}

func (f *fakeUploader) UploadVoice(ctx context.Context, u backend.VoiceUpload) error {
	f.uploads = append(f.uploads, u)
	return nil
}

func (f *fakeUploader) Name() string { return "fake" }

type fakeGreeter struct {
	msg string
	err error
}

func (f *fakeGreeter) LatestAssistantMessage(ctx context.Context, userID string) (string, error) {
	return f.msg, f.err
}

type fakeJournal struct {
	user      []models.TurnEvent
	assistant []models.TurnEvent
}

func (f *fakeJournal) PublishUserTurn(ctx context.Context, key string, event any) error {
	f.user = append(f.user, event.(models.TurnEvent))
	return nil
}

func (f *fakeJournal) PublishAssistantTurn(ctx context.Context, key string, event any) error {
	f.assistant = append(f.assistant, event.(models.TurnEvent))
	return nil
}

type recordingObserver struct {
	states      []turn.State
	transcripts []string
	replyTexts  []string
	countdowns  []int
	notices     []Notice
	history     []Turn
}

func (o *recordingObserver) OnStateChange(from, to turn.State) { o.states = append(o.states, to) }
func (o *recordingObserver) OnTranscript(text string)          { o.transcripts = append(o.transcripts, text) }
func (o *recordingObserver) OnReplyText(text string)           { o.replyTexts = append(o.replyTexts, text) }
func (o *recordingObserver) OnCountdown(remaining int) {
	o.countdowns = append(o.countdowns, remaining)
}
func (o *recordingObserver) OnNotice(n Notice)      { o.notices = append(o.notices, n) }
func (o *recordingObserver) OnHistory(turns []Turn) { o.history = turns }

func (o *recordingObserver) lastReplyText() string {
	if len(o.replyTexts) == 0 {
		return ""
	}
	return o.replyTexts[len(o.replyTexts)-1]
}

// harness wires a controller to fakes that all run on the test goroutine.
// Spawned work runs inline unless deferSpawn is set, in which case it waits
// for runSpawned.
type harness struct {
	t          *testing.T
	deferSpawn bool
	spawned    []func()
	queue      *queueDispatcher
	clock      *fakeClock
	capture    *fakeCapture
	rec        *fakeRecognizer
	conv       *fakeConversation
	sink       *fakeSink
	uploader   *fakeUploader
	greeter    *fakeGreeter
	journal    *fakeJournal
	observer   *recordingObserver
	c          *Controller
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, &fakeGreeter{})
}

func newHarnessWith(t *testing.T, greeter *fakeGreeter) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		queue:    &queueDispatcher{},
		clock:    newFakeClock(),
		capture:  &fakeCapture{},
		rec:      &fakeRecognizer{},
		conv:     &fakeConversation{},
		sink:     &fakeSink{},
		uploader: &fakeUploader{},
		greeter:  greeter,
		journal:  &fakeJournal{},
		observer: &recordingObserver{},
	}
	cfg := DefaultConfig()
	cfg.UserID = "u1"
	h.c = NewController(cfg, Deps{
		Dispatcher:   h.queue,
		Clock:        h.clock,
		Spawn:        h.spawn,
		Capture:      h.capture,
		Recognizer:   h.rec,
		Conversation: h.conv,
		Player:       playback.New(h.sink, 0),
		Uploader:     h.uploader,
		Greeter:      h.greeter,
		Journal:      h.journal,
		Observer:     h.observer,
	})
	h.c.Start(context.Background())
	h.queue.drain()
	return h
}

func (h *harness) spawn(fn func()) {
	if h.deferSpawn {
		h.spawned = append(h.spawned, fn)
		return
	}
	fn()
}

// runSpawned runs deferred work in spawn order, draining after each.
func (h *harness) runSpawned() {
	for len(h.spawned) > 0 {
		fn := h.spawned[0]
		h.spawned = h.spawned[1:]
		fn()
		h.queue.drain()
	}
}

// advance moves the clock forward, firing due timers and draining after each.
func (h *harness) advance(d time.Duration) {
	deadline := h.clock.Now().Add(d)
	for {
		t := h.clock.next(deadline)
		if t == nil {
			break
		}
		t.f()
		h.queue.drain()
	}
	h.clock.set(deadline)
}

func (h *harness) startRecording() {
	h.t.Helper()
	if err := h.c.StartRecording(); err != nil {
		h.t.Fatalf("StartRecording: %v", err)
	}
	h.queue.drain()
}

func (h *harness) say(localIndex int, text string, isFinal bool) {
	h.rec.listener.OnFragment(localIndex, text, isFinal)
	h.queue.drain()
}

func (h *harness) frame(b []byte) {
	h.capture.onFrame(b)
	h.queue.drain()
}

func (h *harness) reply(ev chat.Event) {
	h.conv.last().OnEvent(ev)
	h.queue.drain()
}

// commitTurn records text as one final fragment and stops recording.
func (h *harness) commitTurn(text string) {
	h.t.Helper()
	h.startRecording()
	h.frame([]byte{1, 0, 2, 0})
	h.say(0, text, true)
	if err := h.c.StopRecording(); err != nil {
		h.t.Fatalf("StopRecording: %v", err)
	}
	h.queue.drain()
}
