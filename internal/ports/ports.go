package ports

import (
	"context"
	"io"

	"casescribe/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// AudioSession is a live capture session producing PCM16 little-endian bytes.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// FrameHandler receives one fixed-size audio frame. The frame is owned by
// the handler once called.
type FrameHandler func(frame []byte)

// CaptureEndHandler is called at most once, when capture ends without
// StopRecording having been called.
type CaptureEndHandler func(err error)

// Recorder turns a capture session into a stream of fixed-size frames.
type Recorder interface {
	StartRecording(ctx context.Context, onFrame FrameHandler, onEnd CaptureEndHandler) error
	StopRecording() error
}

// MessageHandler receives decoded inbound protocol messages in arrival order.
type MessageHandler func(msg domain.Message)

// TranscriptionSession owns a single connection to the streaming service.
type TranscriptionSession interface {
	StartSession(ctx context.Context) (string, error)
	OnMessage(handler MessageHandler)
	SendAudio(frame []byte) error
	IsSessionActive() bool
	State() domain.ConnectionState
	SessionID() string
	EndSession() error
}

// TranscriptionProvider creates unstarted sessions.
type TranscriptionProvider interface {
	NewSession() TranscriptionSession
}

// EventSink is the host integration surface.
type EventSink interface {
	StateChanged(status domain.Status)
	Transcript(text string, isFinal bool)
	SessionError(code domain.ErrorCode, message string)
}
