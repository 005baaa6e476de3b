package models

// Turn journal event types.
const (
	EventTypeUserTurn      = "conversation.turn.user"
	EventTypeAssistantTurn = "conversation.turn.assistant"
)

// TurnEvent is published to the turn journal when a turn is committed or finished.
type TurnEvent struct {
	EventType  string `json:"eventType"`
	SessionKey string `json:"sessionKey"`
	UserID     string `json:"userId"`
	TurnID     string `json:"turnId"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	SessionID  string `json:"sessionId,omitempty"`
	TextID     string `json:"textId,omitempty"`
	ResponseID string `json:"responseId,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}
