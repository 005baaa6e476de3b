package models

// Reply message types sent by the conversation stream.
const (
	ReplyTypeSessionID  = "session_id"
	ReplyTypeUserTextID = "user_text_id"
	ReplyTypeResponseID = "response_id"
	ReplyTypeText       = "text"
	ReplyTypeAudio      = "audio"
	ReplyTypeTextFinish = "text_finish"
	ReplyTypeError      = "error"
)

// TurnRequest opens a reply turn on the conversation stream.
type TurnRequest struct {
	UserID   string `json:"user_id"`
	Text     string `json:"text"`
	HasVoice bool   `json:"has_voice"`
}

// ReplyMessage is the envelope of every message received on the conversation stream.
// Only the fields matching Type are populated.
type ReplyMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	TextID     string `json:"text_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	Content    string `json:"content,omitempty"`
	Data       string `json:"data,omitempty"`
	Message    string `json:"message,omitempty"`
}

// LatestMessageResponse is returned by the latest assistant message endpoint.
type LatestMessageResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data struct {
		AIMessage string `json:"ai_message"`
	} `json:"data"`
}

// UploadResponse is returned by the voice upload endpoint.
type UploadResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
}
