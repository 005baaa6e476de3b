// Package models defines the wire payloads exchanged with the conversation backend
// and the turn journal events.
package models

// RecognitionResult is one fragment update pushed by the recognition stream.
// Index is a pointer so a missing field can be told apart from index 0.
type RecognitionResult struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Index   *int   `json:"index"`
}
