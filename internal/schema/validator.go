// Package schema validates inbound stream messages before they reach the session.
package schema

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"ai-voice-turn-client/internal/models"
)

// ErrMalformedMessage is wrapped by every validation failure.
var ErrMalformedMessage = errors.New("malformed message")

// Validator checks decoded messages for required fields.
type Validator struct{}

// New creates a validator.
func New() *Validator {
	return &Validator{}
}

// Validate checks a decoded inbound message.
func (v *Validator) Validate(event any) error {
	var err error
	switch ev := event.(type) {
	case *models.RecognitionResult:
		err = validateRecognition(ev)
	case *models.ReplyMessage:
		err = validateReply(ev)
	default:
		err = fmt.Errorf("%w: unsupported type %T", ErrMalformedMessage, event)
	}
	if err != nil {
		return err
	}
	log.Trace().Interface("event", event).Msg("Message validated")
	return nil
}

func validateRecognition(r *models.RecognitionResult) error {
	if r == nil {
		return fmt.Errorf("%w: nil recognition result", ErrMalformedMessage)
	}
	if r.Index == nil {
		return fmt.Errorf("%w: recognition result without index", ErrMalformedMessage)
	}
	if *r.Index < 0 {
		return fmt.Errorf("%w: negative recognition index %d", ErrMalformedMessage, *r.Index)
	}
	return nil
}

func validateReply(m *models.ReplyMessage) error {
	if m == nil {
		return fmt.Errorf("%w: nil reply message", ErrMalformedMessage)
	}
	switch m.Type {
	case models.ReplyTypeSessionID:
		return require(m.Type, "session_id", m.SessionID)
	case models.ReplyTypeUserTextID:
		return require(m.Type, "text_id", m.TextID)
	case models.ReplyTypeResponseID:
		return require(m.Type, "response_id", m.ResponseID)
	case models.ReplyTypeAudio:
		return require(m.Type, "data", m.Data)
	case models.ReplyTypeText, models.ReplyTypeTextFinish, models.ReplyTypeError:
		// content and message may legitimately be empty
		return nil
	case "":
		return fmt.Errorf("%w: reply message without type", ErrMalformedMessage)
	default:
		return fmt.Errorf("%w: unknown reply type %q", ErrMalformedMessage, m.Type)
	}
}

func require(msgType, field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s message missing %s", ErrMalformedMessage, msgType, field)
	}
	return nil
}
