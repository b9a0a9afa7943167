package usecase

import (
	"strings"
	"sync"
)

// SummaryDocument is the host text field dictation folds into. Every append
// reads the current text under lock, never a copy captured earlier.
type SummaryDocument struct {
	mu   sync.Mutex
	text string
}

func NewSummaryDocument(initial string) *SummaryDocument {
	return &SummaryDocument{text: initial}
}

// AppendTranscript appends final transcripts and ignores interim ones. It
// returns the resulting text and whether the document changed.
func (d *SummaryDocument) AppendTranscript(transcript string, isFinal bool) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !isFinal || transcript == "" {
		return d.text, false
	}

	separator := ""
	if d.text != "" && !strings.HasSuffix(d.text, "\n") && !strings.HasSuffix(d.text, " ") {
		separator = " "
	}
	d.text += separator + transcript
	return d.text, true
}

func (d *SummaryDocument) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

// SetText replaces the document, e.g. after the user edits it.
func (d *SummaryDocument) SetText(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
}

func (d *SummaryDocument) Clear() {
	d.SetText("")
}
