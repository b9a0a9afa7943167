package main

import (
	"context"
	"fmt"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"casescribe/internal/bootstrap"
	"casescribe/internal/domain"
)

const (
	eventState      = "casescribe:state"
	eventTranscript = "casescribe:transcript"
	eventDocument   = "casescribe:document"
	eventError      = "casescribe:error"

	shutdownTimeout = 3 * time.Second
)

type emitFunc func(ctx context.Context, name string, data ...interface{})

// App is the Wails application root.
type App struct {
	ctx  context.Context
	emit emitFunc

	services bootstrap.Services
	ready    bool
	bootErr  error
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}
	a.attach(services)
	a.services.Logger.Info().
		Str("api_base", services.Config.Gladia.APIBaseURL).
		Bool("api_key_set", services.Config.Gladia.APIKey != "").
		Msg("casescribe ready")
}

func (a *App) attach(services bootstrap.Services) {
	a.services = services
	a.ready = true
	services.Start()
	a.StateChanged(services.Controller.Status())
}

// shutdown tears dictation down when the window goes away.
func (a *App) shutdown(ctx context.Context) {
	if !a.ready {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := a.services.Shutdown(ctx); err != nil {
		a.services.Logger.Warn().Err(err).Msg("shutdown incomplete")
	}
}

// StartDictation begins recording, negotiating a session if needed.
func (a *App) StartDictation() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Controller.Start(a.ctx); err != nil {
		return a.services.Controller.Status(), err
	}
	return a.services.Controller.Status(), nil
}

// StopDictation pauses recording and keeps the session open.
func (a *App) StopDictation() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	err := a.services.Controller.Stop()
	return a.services.Controller.Status(), err
}

// EndDictation releases the microphone and the remote session.
func (a *App) EndDictation() domain.Status {
	if !a.ready {
		return a.GetStatus()
	}
	a.services.Controller.EndSession()
	return a.services.Controller.Status()
}

// ClearTranscript drops the live fragment.
func (a *App) ClearTranscript() domain.Status {
	if !a.ready {
		return a.GetStatus()
	}
	a.services.Controller.ClearTranscript()
	return a.services.Controller.Status()
}

// ClearAll empties the summary document and ends dictation.
func (a *App) ClearAll() domain.Status {
	if !a.ready {
		return a.GetStatus()
	}
	a.services.Document.Clear()
	a.emitDocument("")
	return a.EndDictation()
}

// GetStatus returns the current dictation status.
func (a *App) GetStatus() domain.Status {
	if !a.ready {
		status := domain.Status{State: domain.RecordingStateIdle, Connection: domain.ConnectionStateClosed}
		if a.bootErr != nil {
			status.Error = a.bootErr.Error()
		}
		return status
	}
	return a.services.Controller.Status()
}

// GetDocument returns the summary text.
func (a *App) GetDocument() string {
	if !a.ready {
		return ""
	}
	return a.services.Document.Text()
}

// SetDocument stores user edits so later finals append to them.
func (a *App) SetDocument(text string) string {
	if !a.ready {
		return ""
	}
	a.services.Document.SetText(text)
	return text
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if !a.ready {
		return map[string]string{}
	}

	cfg := a.services.Config
	return map[string]string{
		"provider":         "Gladia",
		"apiBase":          cfg.Gladia.APIBaseURL,
		"apiKeyConfigured": fmt.Sprint(cfg.Gladia.APIKey != ""),
		"encoding":         cfg.Gladia.Encoding,
		"sampleRate":       fmt.Sprint(cfg.Gladia.SampleRate),
		"channels":         fmt.Sprint(cfg.Gladia.Channels),
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if !a.ready {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// StateChanged emits controller status updates to the frontend.
func (a *App) StateChanged(status domain.Status) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventState, status)
}

// Transcript emits transcript text and folds finals into the document.
func (a *App) Transcript(text string, isFinal bool) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventTranscript, map[string]interface{}{
		"text":    text,
		"isFinal": isFinal,
	})
	if !a.ready {
		return
	}
	if doc, changed := a.services.Document.AppendTranscript(text, isFinal); changed {
		a.emitDocument(doc)
	}
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func (a *App) emitDocument(text string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventDocument, map[string]string{"text": text})
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeMissingCredential:
		return "Transcription API key is not configured"
	case domain.ErrorCodeDeviceUnavailable:
		return "Microphone unavailable"
	case domain.ErrorCodeProvision:
		return "Failed to create transcription session"
	case domain.ErrorCodeConnect:
		return "Failed to connect to transcription service"
	case domain.ErrorCodeNotConnected:
		return "Transcription connection lost"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeProtocol, domain.ErrorCodeRemote:
		return "Transcription error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
