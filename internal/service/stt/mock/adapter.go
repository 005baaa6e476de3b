// Package mock provides a simulated recognizer for running without a backend.
// It behaves like a compacting streaming recognizer: each utterance is revised
// through progressive partials at local index 0, confirmed once, and then
// evicted so the next utterance starts again at local index 0.
package mock

import (
	"context"
	"sync"
	"time"

	"ai-voice-turn-client/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials []string // Progressive partial transcripts
	Final    string   // Confirmed transcript text
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials: []string{"今天", "今天天气"},
		Final:    "今天天气不错。",
	},
	{
		Partials: []string{"我想", "我想去公园"},
		Final:    "我想去公园散步。",
	},
}

// DefaultDelay simulates recognizer processing latency.
const DefaultDelay = 50 * time.Millisecond

type update struct {
	index   int
	text    string
	isFinal bool
}

// Adapter implements stt.Adapter with scripted responses.
// One audio frame advances the script by one update.
type Adapter struct {
	utterances []SimulatedUtterance
	delay      time.Duration

	mu           sync.Mutex
	cb           stt.Callback
	updates      chan update
	done         chan struct{}
	utterance    int // current utterance
	partialIndex int // next partial to send
	closed       bool
}

// New creates a mock recognizer cycling through utterances, or DefaultUtterances when none are given.
func New(delay time.Duration, utterances ...SimulatedUtterance) *Adapter {
	if len(utterances) == 0 {
		utterances = DefaultUtterances
	}
	if delay < 0 {
		delay = 0
	}
	return &Adapter{
		utterances: utterances,
		delay:      delay,
	}
}

// Start begins a mock recognition session.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return stt.ErrClosed
	}
	a.cb = cb
	a.updates = make(chan update, 64)
	a.done = make(chan struct{})
	go a.emit(a.updates, a.done)
	return nil
}

// SendAudio advances the script: the next partial, or the final once all
// partials of the current utterance were sent.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return stt.ErrClosed
	}
	if a.cb == nil {
		return stt.ErrNotStarted
	}

	utt := a.utterances[a.utterance%len(a.utterances)]
	var u update
	if a.partialIndex < len(utt.Partials) {
		u = update{index: 0, text: utt.Partials[a.partialIndex]}
		a.partialIndex++
	} else {
		u = update{index: 0, text: utt.Final, isFinal: true}
		a.utterance++
		a.partialIndex = 0
	}

	select {
	case a.updates <- u:
		return nil
	default:
		return stt.ErrBackpressure
	}
}

// Close ends the mock session. Pending updates are discarded.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.done != nil {
		close(a.done)
	}
	return nil
}

// emit delivers updates in order, each after the simulated delay.
func (a *Adapter) emit(updates <-chan update, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case u := <-updates:
			select {
			case <-done:
				return
			case <-time.After(a.delay):
			}

			a.mu.Lock()
			cb, closed := a.cb, a.closed
			a.mu.Unlock()
			if closed || cb == nil {
				return
			}
			if u.isFinal {
				cb.OnFinal(u.index, u.text)
			} else {
				cb.OnPartial(u.index, u.text)
			}
		}
	}
}
