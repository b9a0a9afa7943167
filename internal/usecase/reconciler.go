package usecase

import (
	"errors"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"casescribe/internal/domain"
)

const (
	transcriptionErrorPrefix = "Transcription error: "
	protocolErrorMessage     = "Failed to parse transcription message"
)

// TranscriptListener receives reconciler notifications in event order.
type TranscriptListener interface {
	OnTranscript(text string, isFinal bool)
	OnTranscriptError(code domain.ErrorCode, message string)
}

// TranscriptReconciler folds interim and final events from one bound session
// into a committed transcript plus the live fragment.
type TranscriptReconciler struct {
	listener TranscriptListener

	mu         sync.Mutex
	sessionID  string
	committed  string
	live       string
	confidence float64
}

func NewTranscriptReconciler(listener TranscriptListener) *TranscriptReconciler {
	return &TranscriptReconciler{listener: listener}
}

// Bind accepts events from sessionID only.
func (r *TranscriptReconciler) Bind(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = sessionID
}

// OnEvent applies one message. It reports false when the message belongs to
// a session other than the bound one and was dropped.
func (r *TranscriptReconciler) OnEvent(msg domain.Message) bool {
	r.mu.Lock()
	if r.sessionID == "" || msg.SessionID != r.sessionID {
		r.mu.Unlock()
		return false
	}

	switch msg.Type {
	case domain.MessageTypeTranscript:
		event := msg.Transcript
		r.confidence = event.Confidence
		notify := true
		if event.IsFinal() {
			r.live = ""
			if strings.TrimSpace(event.Text) == "" {
				notify = false
			} else {
				r.committed = joinUtterance(r.committed, event.Text)
			}
		} else {
			r.live = event.Text
		}
		r.mu.Unlock()

		if notify && r.listener != nil {
			r.listener.OnTranscript(event.Text, event.IsFinal())
		}
		return true

	case domain.MessageTypeError:
		r.mu.Unlock()
		if r.listener != nil {
			r.listener.OnTranscriptError(domain.CodeOf(msg.Err), errorText(msg.Err))
		}
		return true

	default:
		r.mu.Unlock()
		return false
	}
}

// Clear drops the live fragment and confidence, keeping committed text.
func (r *TranscriptReconciler) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = ""
	r.confidence = 0
}

// Reset clears all state and unbinds, so late events are dropped.
func (r *TranscriptReconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = ""
	r.committed = ""
	r.live = ""
	r.confidence = 0
}

func (r *TranscriptReconciler) State() domain.TranscriptState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.TranscriptState{
		Committed:  r.committed,
		Live:       r.live,
		Confidence: r.confidence,
	}
}

// joinUtterance appends text with a single separating space unless existing
// is empty or already ends in whitespace.
func joinUtterance(existing, text string) string {
	if existing == "" {
		return text
	}
	last, _ := utf8.DecodeLastRuneInString(existing)
	if unicode.IsSpace(last) {
		return existing + text
	}
	return existing + " " + text
}

func errorText(err error) string {
	var remote *domain.RemoteError
	switch {
	case errors.As(err, &remote):
		return transcriptionErrorPrefix + remote.Message
	case errors.Is(err, domain.ErrProtocol):
		return transcriptionErrorPrefix + protocolErrorMessage
	case err != nil:
		return transcriptionErrorPrefix + err.Error()
	default:
		return transcriptionErrorPrefix + "unknown"
	}
}
