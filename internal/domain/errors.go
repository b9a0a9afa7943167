package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies fatal setup and non-fatal runtime errors.
type ErrorCode string

const (
	ErrorCodeStartup           ErrorCode = "startup"
	ErrorCodeMissingCredential ErrorCode = "missing_credential"
	ErrorCodeDeviceUnavailable ErrorCode = "device_unavailable"
	ErrorCodeProvision         ErrorCode = "provision"
	ErrorCodeConnect           ErrorCode = "connect"
	ErrorCodeNotConnected      ErrorCode = "not_connected"
	ErrorCodeProtocol          ErrorCode = "protocol"
	ErrorCodeRemote            ErrorCode = "remote"
	ErrorCodeAudioStop         ErrorCode = "audio_stop"
	ErrorCodeUnknown           ErrorCode = "unknown"
)

var (
	ErrMissingCredential = errors.New("transcription API key is required")
	ErrDeviceUnavailable = errors.New("microphone unavailable")
	ErrProvision         = errors.New("failed to create transcription session")
	ErrConnect           = errors.New("failed to connect to transcription websocket")
	ErrNotConnected      = errors.New("transcription websocket not connected")
	ErrProtocol          = errors.New("failed to parse transcription message")
	ErrRemote            = errors.New("transcription error")
)

// ProvisionError is returned when the provisioning call answers non-2xx.
type ProvisionError struct {
	StatusCode int
	Body       string
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("%s: %d - %s", ErrProvision.Error(), e.StatusCode, strings.TrimSpace(e.Body))
}

func (e *ProvisionError) Unwrap() error {
	return ErrProvision
}

// RemoteError carries a message reported by the transcription service.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return ErrRemote.Error() + ": " + e.Message
}

func (e *RemoteError) Unwrap() error {
	return ErrRemote
}

// CodeOf maps an error onto its taxonomy code.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCredential):
		return ErrorCodeMissingCredential
	case errors.Is(err, ErrDeviceUnavailable):
		return ErrorCodeDeviceUnavailable
	case errors.Is(err, ErrProvision):
		return ErrorCodeProvision
	case errors.Is(err, ErrConnect):
		return ErrorCodeConnect
	case errors.Is(err, ErrNotConnected):
		return ErrorCodeNotConnected
	case errors.Is(err, ErrProtocol):
		return ErrorCodeProtocol
	case errors.Is(err, ErrRemote):
		return ErrorCodeRemote
	default:
		return ErrorCodeUnknown
	}
}

// IsSetupError reports whether err aborts a start attempt.
func IsSetupError(err error) bool {
	switch CodeOf(err) {
	case ErrorCodeMissingCredential, ErrorCodeDeviceUnavailable, ErrorCodeProvision, ErrorCodeConnect:
		return true
	default:
		return false
	}
}
