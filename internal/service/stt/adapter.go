// Package stt defines the contract between the recognition channel and a
// streaming recognizer.
package stt

import (
	"context"
	"errors"
)

var (
	// ErrNotStarted is returned when audio is sent before Start succeeded.
	ErrNotStarted = errors.New("recognizer stream not started")
	// ErrClosed is returned when audio is sent after Close.
	ErrClosed = errors.New("recognizer stream closed")
	// ErrBackpressure is returned when the outbound frame buffer is full and the frame was dropped.
	ErrBackpressure = errors.New("recognizer send buffer full")
)

// Callback receives fragment updates from the recognizer.
// Indexes are local to the recognizer and restart at 0 after it compacts its buffer.
type Callback interface {
	// OnPartial is called when an unconfirmed fragment is received or revised.
	OnPartial(index int, text string)

	// OnFinal is called when a fragment is confirmed.
	OnFinal(index int, text string)

	// OnError is called when the stream fails. No further callbacks follow.
	OnError(err error)
}

// Adapter is a streaming recognizer session.
type Adapter interface {
	// Start opens the stream. Callbacks begin once Start returns nil.
	Start(ctx context.Context, cb Callback) error

	// SendAudio forwards one captured PCM frame.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the stream and releases resources. Idempotent.
	Close() error
}
