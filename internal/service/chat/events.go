// Package chat manages the conversation stream: one user turn up, a stream of
// typed reply events down.
package chat

import "ai-voice-turn-client/internal/audio"

// Event is a typed reply event decoded from the conversation stream.
type Event interface {
	Name() string
}

// SessionID carries the conversation session token.
type SessionID struct{ Token string }

// UserTextID carries the token of the stored user turn; it triggers the voice upload.
type UserTextID struct{ Token string }

// ResponseID carries the token of the reply being streamed.
type ResponseID struct{ Token string }

// TextDelta is one incremental fragment of reply text.
type TextDelta struct{ Content string }

// AudioChunk is one decoded block of reply speech.
type AudioChunk struct{ Chunk audio.Chunk }

// TurnComplete marks the end of the reply.
type TurnComplete struct{}

// Failure is an error reported by the backend.
type Failure struct{ Message string }

func (SessionID) Name() string    { return "session_id" }
func (UserTextID) Name() string   { return "user_text_id" }
func (ResponseID) Name() string   { return "response_id" }
func (TextDelta) Name() string    { return "text" }
func (AudioChunk) Name() string   { return "audio" }
func (TurnComplete) Name() string { return "text_finish" }
func (Failure) Name() string      { return "error" }

// Handler receives events of one connection. Calls arrive on the reader goroutine.
type Handler interface {
	OnEvent(ev Event)

	// OnClose is called once when the connection drops without a local Close.
	OnClose(err error)
}
