package playback

import (
	"errors"
	"math"
	"sync"
	"testing"

	"ai-voice-turn-client/internal/audio"
)

// testSink implements Sink with a manually advanced clock.
type testSink struct {
	mu        sync.Mutex
	now       float64
	starts    []float64
	stopCalls int
	failNext  bool
}

func (s *testSink) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *testSink) Schedule(samples []float32, sampleRate int, at float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errors.New("device busy")
	}
	s.starts = append(s.starts, at)
	return nil
}

func (s *testSink) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	s.starts = nil
}

func (s *testSink) advance(d float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += d
}

func chunkOf(seconds float64) audio.Chunk {
	const rate = 24000
	return audio.Chunk{Samples: make([]int16, int(seconds*rate)), SampleRate: rate}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScheduler_GaplessSequence(t *testing.T) {
	sink := &testSink{now: 10}
	s := New(sink, 0)

	// arrivals jitter but stay ahead of playback
	durations := []float64{0.5, 0.3, 0.7}
	var got []Scheduled
	for i, d := range durations {
		sc, err := s.Enqueue(chunkOf(d))
		if err != nil {
			t.Fatalf("chunk %d: unexpected error: %v", i, err)
		}
		got = append(got, sc)
		sink.advance(0.1)
	}

	t0 := got[0].Start
	if !approx(t0, 10+DefaultLead.Seconds()) {
		t.Errorf("expected first start at now+lead, got %v", t0)
	}
	want := []float64{t0, t0 + 0.5, t0 + 0.8}
	for i := range want {
		if !approx(got[i].Start, want[i]) {
			t.Errorf("chunk %d: expected start %v, got %v", i, want[i], got[i].Start)
		}
	}
	if !approx(s.Cursor(), t0+1.5) {
		t.Errorf("expected cursor %v, got %v", t0+1.5, s.Cursor())
	}
}

func TestScheduler_StartTimesNonDecreasing(t *testing.T) {
	sink := &testSink{}
	s := New(sink, 0)

	durations := []float64{0.2, 0.05, 0.4, 0.1, 0.3}
	delays := []float64{0, 0.5, 0, 1.0, 0.01}
	prev := -1.0
	for i, d := range durations {
		sink.advance(delays[i])
		sc, err := s.Enqueue(chunkOf(d))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sc.Start < prev {
			t.Errorf("chunk %d: start %v before previous %v", i, sc.Start, prev)
		}
		if sc.Start < sink.Now() {
			t.Errorf("chunk %d: scheduled in the past", i)
		}
		prev = sc.Start
	}
}

func TestScheduler_LateArrivalLeavesGap(t *testing.T) {
	sink := &testSink{}
	s := New(sink, 0)

	first, _ := s.Enqueue(chunkOf(0.2))
	sink.advance(1.0)
	second, _ := s.Enqueue(chunkOf(0.2))

	if !approx(second.Start, 1.0) {
		t.Errorf("expected late chunk to start at now (1.0), got %v", second.Start)
	}
	if second.Start <= first.End() {
		t.Error("expected a gap after a late arrival")
	}
}

func TestScheduler_SinkFailureSkipsChunk(t *testing.T) {
	sink := &testSink{}
	s := New(sink, 0)

	a, _ := s.Enqueue(chunkOf(0.5))
	sink.failNext = true
	if _, err := s.Enqueue(chunkOf(0.3)); !errors.Is(err, ErrPlaybackFailure) {
		t.Fatalf("expected ErrPlaybackFailure, got %v", err)
	}
	c, err := s.Enqueue(chunkOf(0.7))
	if err != nil {
		t.Fatalf("unexpected error after failure: %v", err)
	}
	if !approx(c.Start, a.End()) {
		t.Errorf("expected next chunk to take the skipped slot at %v, got %v", a.End(), c.Start)
	}
	if s.ScheduledCount() != 2 {
		t.Errorf("expected 2 scheduled chunks, got %d", s.ScheduledCount())
	}
}

func TestScheduler_EmptyChunk(t *testing.T) {
	s := New(&testSink{}, 0)
	if _, err := s.Enqueue(audio.Chunk{SampleRate: 24000}); err == nil {
		t.Error("expected error for empty chunk")
	}
	if s.Cursor() != 0 {
		t.Errorf("expected cursor untouched, got %v", s.Cursor())
	}
}

func TestScheduler_ResetIdempotent(t *testing.T) {
	sink := &testSink{now: 3}
	s := New(sink, 0)
	s.Enqueue(chunkOf(0.5))
	s.Enqueue(chunkOf(0.5))

	if !s.Busy() {
		t.Error("expected scheduler to be busy with pending audio")
	}

	s.Reset()
	s.Reset()

	if s.Cursor() != 0 {
		t.Errorf("expected cursor 0 after reset, got %v", s.Cursor())
	}
	if s.Busy() {
		t.Error("expected scheduler to be idle after reset")
	}
	if len(sink.starts) != 0 {
		t.Errorf("expected no residual scheduled audio, got %v", sink.starts)
	}

	// next turn gets the lead again
	sc, _ := s.Enqueue(chunkOf(0.1))
	if !approx(sc.Start, 3+DefaultLead.Seconds()) {
		t.Errorf("expected lead after reset, got %v", sc.Start)
	}
}

func TestScheduler_BusyUntilCursor(t *testing.T) {
	sink := &testSink{}
	s := New(sink, 0)
	if s.Busy() {
		t.Error("expected idle before anything is scheduled")
	}
	sc, _ := s.Enqueue(chunkOf(0.25))
	sink.advance(sc.End() - 0.01)
	if !s.Busy() {
		t.Error("expected busy before the chunk ends")
	}
	sink.advance(0.02)
	if s.Busy() {
		t.Error("expected idle after the chunk ends")
	}
}
