package turn

import (
	"errors"
	"testing"
)

func TestMachine_InitialState(t *testing.T) {
	m := NewMachine()
	if m.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", m.State())
	}
	if m.Transitions() != 0 {
		t.Errorf("expected 0 transitions, got %d", m.Transitions())
	}
}

func TestMachine_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		wantErr bool
	}{
		{"commit and complete", []State{StateRecording, StateThinking, StateTalking, StateIdle}, false},
		{"text-only reply", []State{StateRecording, StateThinking, StateIdle}, false},
		{"cancel", []State{StateRecording, StateIdle}, false},
		{"barge-in while talking", []State{StateRecording, StateThinking, StateTalking, StateRecording}, false},
		{"barge-in while thinking", []State{StateRecording, StateThinking, StateRecording}, false},
		{"restart recording", []State{StateRecording, StateRecording}, false},
		{"idle to thinking", []State{StateThinking}, true},
		{"idle to talking", []State{StateTalking}, true},
		{"recording to talking", []State{StateRecording, StateTalking}, true},
		{"talking to thinking", []State{StateRecording, StateThinking, StateTalking, StateThinking}, true},
		{"idle to idle", []State{StateIdle}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			var err error
			for _, s := range tt.path {
				if _, err = m.Transition(s); err != nil {
					break
				}
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestMachine_RejectedTransitionKeepsState(t *testing.T) {
	m := NewMachine()
	m.Transition(StateRecording)

	from, err := m.Transition(StateTalking)
	if err == nil {
		t.Fatal("expected error")
	}
	if from != StateRecording || m.State() != StateRecording {
		t.Errorf("expected state to stay recording, got %v", m.State())
	}
	if m.CanTransition(StateTalking) {
		t.Error("expected CanTransition to be false")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:      "idle",
		StateRecording: "recording",
		StateThinking:  "thinking",
		StateTalking:   "talking",
		State(42):      "unknown(42)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("expected %q, got %q", want, s.String())
		}
	}
}

func TestState_IsReplying(t *testing.T) {
	if StateIdle.IsReplying() || StateRecording.IsReplying() {
		t.Error("idle and recording are not replying")
	}
	if !StateThinking.IsReplying() || !StateTalking.IsReplying() {
		t.Error("thinking and talking are replying")
	}
}
