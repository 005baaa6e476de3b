// Package reveal paces the display of streamed reply text.
package reveal

import (
	"strings"
	"time"
)

// DefaultInterval is the pacing between two revealed units.
const DefaultInterval = 20 * time.Millisecond

// Queue holds text fragments waiting to be revealed and the text revealed so far.
//
// The queue itself is passive: the owner calls Tick on a fixed interval while
// Draining reports true. Push reports when a stopped queue needs its drain
// restarted, and the drain stops on its own once Tick finds nothing pending.
//
// Not safe for concurrent use; the owning session serializes all calls.
type Queue struct {
	pending   []string
	displayed strings.Builder
	draining  bool
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Push appends one fragment. It returns true when the caller must start draining.
func (q *Queue) Push(fragment string) bool {
	if fragment == "" {
		return false
	}
	q.pending = append(q.pending, fragment)
	if q.draining {
		return false
	}
	q.draining = true
	return true
}

// Tick reveals the next queued unit. It returns the assembled text and whether
// the drain should continue. When nothing is pending the drain stops.
func (q *Queue) Tick() (string, bool) {
	if len(q.pending) == 0 {
		q.draining = false
		return q.displayed.String(), false
	}
	q.displayed.WriteString(q.pending[0])
	q.pending[0] = ""
	q.pending = q.pending[1:]
	return q.displayed.String(), true
}

// Reset clears pending and displayed text and stops the drain.
func (q *Queue) Reset() {
	q.pending = nil
	q.displayed.Reset()
	q.draining = false
}

// Text returns the text revealed so far.
func (q *Queue) Text() string {
	return q.displayed.String()
}

// Pending returns the number of fragments waiting to be revealed.
func (q *Queue) Pending() int {
	return len(q.pending)
}

// Draining reports whether the owner should keep ticking.
func (q *Queue) Draining() bool {
	return q.draining
}
