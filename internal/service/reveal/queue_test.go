package reveal

import "testing"

func TestQueue_RevealsOneUnitPerTick(t *testing.T) {
	q := New()
	if !q.Push("你好") {
		t.Fatal("expected first push to start draining")
	}
	// a burst of fragments does not restart the drain
	if q.Push("，我是") || q.Push("念念") {
		t.Fatal("expected pushes while draining to not restart the drain")
	}

	want := []string{"你好", "你好，我是", "你好，我是念念"}
	for i, w := range want {
		text, more := q.Tick()
		if text != w {
			t.Errorf("tick %d: expected %q, got %q", i, w, text)
		}
		if !more {
			t.Errorf("tick %d: expected drain to continue", i)
		}
	}

	text, more := q.Tick()
	if more {
		t.Error("expected drain to stop on empty queue")
	}
	if text != "你好，我是念念" {
		t.Errorf("expected full text, got %q", text)
	}
	if q.Draining() {
		t.Error("expected queue to report not draining")
	}
}

func TestQueue_ResumesAfterEmpty(t *testing.T) {
	q := New()
	q.Push("a")
	q.Tick()
	q.Tick()

	if !q.Push("b") {
		t.Error("expected push on a stopped queue to restart the drain")
	}
	if text, _ := q.Tick(); text != "ab" {
		t.Errorf("expected 'ab', got %q", text)
	}
}

func TestQueue_Reset(t *testing.T) {
	q := New()
	q.Push("one")
	q.Push("two")
	q.Tick()

	q.Reset()

	if q.Text() != "" {
		t.Errorf("expected empty text after reset, got %q", q.Text())
	}
	if q.Pending() != 0 {
		t.Errorf("expected no pending fragments, got %d", q.Pending())
	}
	if q.Draining() {
		t.Error("expected drain stopped after reset")
	}
	if !q.Push("three") {
		t.Error("expected push after reset to start draining")
	}
}

func TestQueue_IgnoresEmptyFragment(t *testing.T) {
	q := New()
	if q.Push("") {
		t.Error("expected empty fragment to be ignored")
	}
	if q.Pending() != 0 {
		t.Errorf("expected nothing pending, got %d", q.Pending())
	}
}
