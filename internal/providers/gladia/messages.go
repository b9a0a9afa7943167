package gladia

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"casescribe/internal/domain"
)

const (
	stopRecordingMessage = `{"type":"stop_recording"}`
	unknownRemoteError   = "Unknown error occurred"
)

type envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	CreatedAt string          `json:"created_at"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
}

type transcriptData struct {
	ID        string    `json:"id"`
	Utterance utterance `json:"utterance"`
	IsFinal   bool      `json:"is_final"`
	// Confidence is optional on the wire.
	Confidence *float64 `json:"confidence"`
}

type utterance struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Language string  `json:"language"`
	Channel  *int    `json:"channel"`
}

// decodeMessage maps one inbound text payload onto a domain message.
// ok is false for message types the client does not consume.
func decodeMessage(sessionID string, payload []byte) (msg domain.Message, ok bool) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return protocolError(sessionID, err), true
	}

	switch env.Type {
	case string(domain.MessageTypeTranscript):
		var data transcriptData
		if len(env.Data) == 0 {
			return protocolError(sessionID, fmt.Errorf("transcript without data")), true
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return protocolError(sessionID, err), true
		}
		return domain.Message{
			SessionID:  sessionID,
			Type:       domain.MessageTypeTranscript,
			Transcript: toTranscriptEvent(env, data),
		}, true
	case string(domain.MessageTypeError):
		message := strings.TrimSpace(env.Message)
		if message == "" {
			message = unknownRemoteError
		}
		return domain.Message{
			SessionID: sessionID,
			Type:      domain.MessageTypeError,
			Err:       &domain.RemoteError{Message: message},
		}, true
	default:
		return domain.Message{}, false
	}
}

func toTranscriptEvent(env envelope, data transcriptData) domain.TranscriptEvent {
	event := domain.TranscriptEvent{
		UtteranceID: data.ID,
		Kind:        domain.TranscriptKindPartial,
		Text:        data.Utterance.Text,
		Start:       data.Utterance.Start,
		End:         data.Utterance.End,
		Language:    data.Utterance.Language,
		Channel:     data.Utterance.Channel,
	}
	if data.IsFinal {
		event.Kind = domain.TranscriptKindFinal
	}
	if data.Confidence != nil {
		event.Confidence = *data.Confidence
	}
	if env.CreatedAt != "" {
		if created, err := time.Parse(time.RFC3339Nano, env.CreatedAt); err == nil {
			event.CreatedAt = created
		}
	}
	return event
}

func protocolError(sessionID string, cause error) domain.Message {
	return domain.Message{
		SessionID: sessionID,
		Type:      domain.MessageTypeError,
		Err:       fmt.Errorf("%w: %v", domain.ErrProtocol, cause),
	}
}
