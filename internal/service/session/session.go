package session

import (
	"context"
	"errors"
)

// Session runs a Controller on its own loop goroutine and exposes thread-safe
// entry points for it.
type Session struct {
	loop       *Loop
	controller *Controller
}

// New creates a session. deps.Dispatcher is replaced by the session loop.
func New(cfg Config, deps Deps) *Session {
	loop := NewLoop(0)
	deps.Dispatcher = loop
	return &Session{
		loop:       loop,
		controller: NewController(cfg, deps),
	}
}

// SessionKey returns the local key of the session.
func (s *Session) SessionKey() string {
	return s.controller.SessionKey()
}

// Run starts the controller and processes events until ctx is done, then
// shuts the controller down.
func (s *Session) Run(ctx context.Context) error {
	s.controller.Start(ctx)
	err := s.loop.Run(ctx)
	s.controller.Shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Done is closed once the session has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.loop.Done()
}

// StartRecording begins a recording turn, interrupting any reply.
func (s *Session) StartRecording() error {
	return s.call(s.controller.StartRecording)
}

// StopRecording commits the recording turn.
func (s *Session) StopRecording() error {
	return s.call(s.controller.StopRecording)
}

// CancelRecording discards the recording turn.
func (s *Session) CancelRecording() error {
	return s.call(s.controller.CancelRecording)
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.loop.Call(func() { snap = s.controller.Snapshot() })
	return snap, err
}

func (s *Session) call(fn func() error) error {
	var result error
	if err := s.loop.Call(func() { result = fn() }); err != nil {
		return err
	}
	return result
}
