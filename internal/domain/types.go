package domain

import "time"

// RecordingState models the dictation lifecycle owned by the controller.
type RecordingState string

const (
	RecordingStateIdle       RecordingState = "idle"
	RecordingStateConnecting RecordingState = "connecting"
	RecordingStateRecording  RecordingState = "recording"
	RecordingStateStopping   RecordingState = "stopping"
	RecordingStateEnded      RecordingState = "ended"
)

// ConnectionState tracks the streaming connection independently of capture.
type ConnectionState string

const (
	ConnectionStateConnecting ConnectionState = "connecting"
	ConnectionStateOpen       ConnectionState = "open"
	ConnectionStateClosed     ConnectionState = "closed"
)

// AudioFormat is negotiated once per session and never changes afterwards.
type AudioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	BitDepth   int    `json:"bit_depth"`
	Channels   int    `json:"channels"`
}

// MessageType tags inbound protocol messages.
type MessageType string

const (
	MessageTypeTranscript MessageType = "transcript"
	MessageTypeError      MessageType = "error"
)

// TranscriptKind identifies whether a transcript is interim or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent is one utterance update from the transcription service.
type TranscriptEvent struct {
	UtteranceID string         `json:"utteranceId,omitempty"`
	Kind        TranscriptKind `json:"kind"`
	Text        string         `json:"text"`
	Confidence  float64        `json:"confidence"`
	Start       float64        `json:"start"`
	End         float64        `json:"end"`
	Language    string         `json:"language,omitempty"`
	Channel     *int           `json:"channel,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// IsFinal reports whether the utterance is settled.
func (e TranscriptEvent) IsFinal() bool {
	return e.Kind == TranscriptKindFinal
}

// Message is a decoded inbound protocol message tagged with the id of the
// session whose connection delivered it.
type Message struct {
	SessionID  string
	Type       MessageType
	Transcript TranscriptEvent
	// Err is set on error messages; it wraps ErrRemote or ErrProtocol.
	Err error
}

// TranscriptState is the reconciled view of a session's transcripts.
type TranscriptState struct {
	Committed  string  `json:"committed"`
	Live       string  `json:"live"`
	Confidence float64 `json:"confidence"`
}

// Status summarizes controller state for the host.
type Status struct {
	State      RecordingState  `json:"state"`
	Connection ConnectionState `json:"connection"`
	SessionID  string          `json:"sessionId,omitempty"`
	Committed  string          `json:"committed"`
	Live       string          `json:"live"`
	Confidence float64         `json:"confidence"`
	Error      string          `json:"error,omitempty"`
}
