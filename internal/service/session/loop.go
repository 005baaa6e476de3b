package session

import (
	"context"
	"errors"
	"sync"
)

// ErrSessionClosed is returned once the session loop has stopped.
var ErrSessionClosed = errors.New("session closed")

// Dispatcher queues work onto the session loop.
type Dispatcher interface {
	// Post queues fn; it returns false when the loop has stopped.
	Post(fn func()) bool
}

// Loop runs posted functions one at a time, in order, on a single goroutine.
// Everything the controller owns is touched only from inside the loop.
type Loop struct {
	events  chan func()
	stopped chan struct{}
	once    sync.Once
}

// NewLoop creates a loop with the given queue capacity.
func NewLoop(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 256
	}
	return &Loop{
		events:  make(chan func(), buffer),
		stopped: make(chan struct{}),
	}
}

// Post queues fn. It blocks while the queue is full and must not be called
// from inside the loop.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}
	select {
	case l.events <- fn:
		return true
	case <-l.stopped:
		return false
	}
}

// Run processes posted functions until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.stopped) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.events:
			fn()
		}
	}
}

// Call runs fn on the loop and waits for it to return.
func (l *Loop) Call(fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrSessionClosed
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		// fn may have completed right before the loop stopped
		select {
		case <-done:
			return nil
		default:
			return ErrSessionClosed
		}
	}
}

// Done is closed when the loop stops.
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}
