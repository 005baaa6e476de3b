package turn

import (
	"fmt"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// Generator issues local turn ids of the form <sessionKey>-turn-<n>.
type Generator struct {
	counter uint64
}

// New creates a generator.
func New() *Generator {
	return &Generator{}
}

// Next returns the next turn id for a session.
func (g *Generator) Next(sessionKey string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-turn-%d", sessionKey, n)
}

// NewSessionKey returns a sortable, unique key for a local conversation session.
func NewSessionKey() string {
	return ulid.Make().String()
}
