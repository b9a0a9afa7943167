package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"casescribe/internal/domain"
	"casescribe/internal/observability"
	"casescribe/internal/ports"
)

// SessionController orchestrates capture, the streaming session and the
// reconciler for one dictation surface.
//
// Every Start, Stop and EndSession bumps attempt; work started by an older
// attempt notices and backs out. EndSession also bumps episode, which
// discards sessions still being negotiated.
type SessionController struct {
	recorder   ports.Recorder
	provider   ports.TranscriptionProvider
	events     ports.EventSink
	reconciler *TranscriptReconciler
	logger     zerolog.Logger
	metrics    *observability.Metrics

	// startMu serializes session negotiation; captureMu serializes recorder calls.
	startMu   sync.Mutex
	captureMu sync.Mutex

	mu              sync.Mutex
	state           domain.RecordingState
	captureStarting bool
	attempt         uint64
	episode         uint64
	episodeID       string
	session         ports.TranscriptionSession
	cancelConnect   context.CancelFunc
	lastErr         string
	sendFailing     bool
}

func NewSessionController(
	recorder ports.Recorder,
	provider ports.TranscriptionProvider,
	events ports.EventSink,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *SessionController {
	c := &SessionController{
		recorder: recorder,
		provider: provider,
		events:   events,
		logger:   logger,
		metrics:  metrics,
		state:    domain.RecordingStateIdle,
	}
	c.reconciler = NewTranscriptReconciler(controllerListener{c})
	return c
}

// Start begins recording, negotiating a session first if none is open. It
// is a no-op while connecting or recording. ctx must outlive the recording:
// the capture process is bound to it.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == domain.RecordingStateConnecting || c.state == domain.RecordingStateRecording {
		c.mu.Unlock()
		return nil
	}
	if c.episodeID == "" {
		c.episodeID = observability.NewCorrelationID()
	}
	c.attempt++
	attempt, episode, episodeID := c.attempt, c.episode, c.episodeID
	c.state = domain.RecordingStateConnecting
	c.lastErr = ""
	c.mu.Unlock()
	c.publish()

	c.startMu.Lock()
	defer c.startMu.Unlock()

	if !c.isCurrent(attempt) {
		return nil
	}

	session, err := c.ensureSession(ctx, attempt, episode)
	if err != nil {
		return c.failStart(attempt, err)
	}
	if session == nil {
		return nil
	}

	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		return nil
	}
	c.captureStarting = true
	c.mu.Unlock()

	// A capture left behind by a superseded attempt is released first.
	_ = c.recorder.StopRecording()
	err = c.recorder.StartRecording(ctx,
		func(frame []byte) { c.forwardFrame(attempt, frame) },
		func(err error) { c.captureEnded(attempt, err) },
	)

	c.mu.Lock()
	c.captureStarting = false
	c.mu.Unlock()
	if err != nil {
		return c.failStart(attempt, err)
	}

	c.mu.Lock()
	current := c.attempt == attempt
	if current {
		c.state = domain.RecordingStateRecording
		c.sendFailing = false
	}
	c.mu.Unlock()

	if !current {
		_ = c.recorder.StopRecording()
		return nil
	}

	episodeLog := observability.WithCorrelationID(c.logger, episodeID)
	episodeLog.Info().Str("session_id", session.SessionID()).Msg("dictation recording")
	c.publish()
	return nil
}

// Stop halts capture and keeps the session open for a later Start. It wins
// over an in-flight Start.
func (c *SessionController) Stop() error {
	c.mu.Lock()
	c.attempt++
	attempt := c.attempt
	wasActive := c.state == domain.RecordingStateConnecting || c.state == domain.RecordingStateRecording
	if wasActive {
		c.state = domain.RecordingStateStopping
	}
	c.mu.Unlock()

	if wasActive {
		c.publish()
	}

	stopErr := c.stopCapture(attempt)

	c.mu.Lock()
	if c.state == domain.RecordingStateStopping {
		c.state = domain.RecordingStateIdle
	}
	c.mu.Unlock()

	if wasActive {
		c.logger.Info().Msg("dictation paused")
		c.publish()
	}
	if stopErr != nil {
		c.report(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
		return fmt.Errorf("stop audio capture: %w", stopErr)
	}
	return nil
}

// EndSession releases capture and the remote session and resets all
// transcript state. It is safe to call at any time, any number of times.
func (c *SessionController) EndSession() {
	c.mu.Lock()
	c.attempt++
	c.episode++
	attempt := c.attempt
	if c.cancelConnect != nil {
		c.cancelConnect()
		c.cancelConnect = nil
	}
	session := c.session
	c.session = nil
	c.state = domain.RecordingStateEnded
	c.lastErr = ""
	c.sendFailing = false
	episodeID := c.episodeID
	c.episodeID = ""
	c.reconciler.Reset()
	c.mu.Unlock()

	if err := c.stopCapture(attempt); err != nil {
		c.logger.Warn().Err(err).Msg("failed to stop audio capture cleanly")
	}
	if session != nil {
		if err := session.EndSession(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to end transcription session cleanly")
		}
	}

	episodeLog := observability.WithCorrelationID(c.logger, episodeID)
	episodeLog.Info().Msg("dictation session ended")
	c.publish()
}

// ClearTranscript drops the live fragment and confidence.
func (c *SessionController) ClearTranscript() {
	c.reconciler.Clear()
	c.publish()
}

// Status returns the current controller snapshot.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	state, session, lastErr := c.state, c.session, c.lastErr
	c.mu.Unlock()

	status := domain.Status{
		State:      state,
		Connection: domain.ConnectionStateClosed,
		Error:      lastErr,
	}
	if session != nil {
		status.Connection = session.State()
		status.SessionID = session.SessionID()
	}
	transcript := c.reconciler.State()
	status.Committed = transcript.Committed
	status.Live = transcript.Live
	status.Confidence = transcript.Confidence
	return status
}

// Transcript returns the reconciled transcript.
func (c *SessionController) Transcript() domain.TranscriptState {
	return c.reconciler.State()
}

// ensureSession returns the open session, negotiating a new one when needed.
// A nil session with a nil error means the attempt was superseded.
func (c *SessionController) ensureSession(ctx context.Context, attempt, episode uint64) (ports.TranscriptionSession, error) {
	c.mu.Lock()
	existing := c.session
	c.mu.Unlock()

	if existing != nil && existing.IsSessionActive() {
		return existing, nil
	}
	if existing != nil {
		c.mu.Lock()
		if c.session == existing {
			c.session = nil
		}
		c.mu.Unlock()
		c.logger.Info().Str("session_id", existing.SessionID()).Msg("previous transcription session closed; negotiating a new one")
		_ = existing.EndSession()
	}

	connectCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.episode != episode || c.attempt != attempt {
		c.mu.Unlock()
		return nil, nil
	}
	c.cancelConnect = cancel
	c.mu.Unlock()

	session := c.provider.NewSession()
	id, err := session.StartSession(connectCtx)

	c.mu.Lock()
	c.cancelConnect = nil
	if c.episode != episode {
		c.mu.Unlock()
		_ = session.EndSession()
		return nil, nil
	}
	if err != nil {
		c.mu.Unlock()
		_ = session.EndSession()
		return nil, err
	}
	c.session = session
	c.reconciler.Bind(id)
	current := c.attempt == attempt
	c.mu.Unlock()

	session.OnMessage(c.handleMessage)
	c.logger.Info().Str("session_id", id).Msg("transcription session negotiated")

	if !current {
		return nil, nil
	}
	return session, nil
}

// stopCapture releases the recorder unless a newer Start owns it. A Start
// still acquiring the device is left to notice the newer attempt and release
// its own capture, so the caller never waits on device startup.
func (c *SessionController) stopCapture(attempt uint64) error {
	c.mu.Lock()
	starting := c.captureStarting
	c.mu.Unlock()
	if starting {
		return nil
	}

	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	if !c.isCurrent(attempt) {
		// A newer Start owns the recorder.
		return nil
	}
	return c.recorder.StopRecording()
}

func (c *SessionController) forwardFrame(attempt uint64, frame []byte) {
	first, err := c.sendFrame(attempt, frame)
	if first {
		c.report(domain.ErrorCodeNotConnected, fmt.Sprintf("audio frames dropped: %v", err))
	}
}

// sendFrame forwards one frame while the attempt is current. It reports
// whether this failure began a new outage.
func (c *SessionController) sendFrame(attempt uint64, frame []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attempt != attempt {
		c.metrics.FrameDropped(observability.DropStale)
		return false, nil
	}

	var err error
	if c.session == nil || !c.session.IsSessionActive() {
		err = domain.ErrNotConnected
	} else {
		err = c.session.SendAudio(frame)
	}
	if err == nil {
		c.sendFailing = false
		return false, nil
	}

	reason := observability.DropQueueFull
	if domain.CodeOf(err) == domain.ErrorCodeNotConnected {
		reason = observability.DropNotConnected
	}
	c.metrics.FrameDropped(reason)
	c.logger.Warn().Err(err).Int("bytes", len(frame)).Msg("dropping audio frame")

	first := !c.sendFailing
	c.sendFailing = true
	return first, err
}

// captureEnded handles a capture that died on its own while attempt was
// current: recording stops and the device error is reported.
func (c *SessionController) captureEnded(attempt uint64, err error) {
	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		return
	}
	c.attempt++
	if c.state == domain.RecordingStateConnecting || c.state == domain.RecordingStateRecording {
		c.state = domain.RecordingStateIdle
	}
	c.mu.Unlock()

	c.logger.Error().Err(err).Msg("audio capture lost")
	c.report(domain.CodeOf(err), err.Error())
	c.publish()
}

func (c *SessionController) handleMessage(msg domain.Message) {
	if !c.reconciler.OnEvent(msg) {
		switch msg.Type {
		case domain.MessageTypeTranscript, domain.MessageTypeError:
			c.logger.Debug().Str("session_id", msg.SessionID).Msg("dropping message from stale session")
		default:
			c.logger.Debug().Str("type", string(msg.Type)).Msg("ignoring unsupported message type")
		}
		return
	}
	if msg.Type == domain.MessageTypeTranscript {
		c.metrics.TranscriptEvent(string(msg.Transcript.Kind))
	}
}

func (c *SessionController) failStart(attempt uint64, err error) error {
	c.mu.Lock()
	if c.attempt == attempt {
		c.state = domain.RecordingStateIdle
	}
	c.mu.Unlock()

	event := c.logger.Warn()
	if domain.IsSetupError(err) {
		event = c.logger.Error()
	}
	event.Err(err).Str("code", string(domain.CodeOf(err))).Msg("failed to start dictation")
	c.report(domain.CodeOf(err), err.Error())
	c.publish()
	return err
}

// report retains message as the last error and notifies the host.
func (c *SessionController) report(code domain.ErrorCode, message string) {
	c.mu.Lock()
	c.lastErr = message
	c.mu.Unlock()

	c.metrics.Error(string(code))
	c.events.SessionError(code, message)
}

func (c *SessionController) isCurrent(attempt uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt == attempt
}

func (c *SessionController) publish() {
	c.events.StateChanged(c.Status())
}

type controllerListener struct {
	c *SessionController
}

func (l controllerListener) OnTranscript(text string, isFinal bool) {
	l.c.mu.Lock()
	l.c.lastErr = ""
	l.c.mu.Unlock()

	l.c.events.Transcript(text, isFinal)
	l.c.publish()
}

func (l controllerListener) OnTranscriptError(code domain.ErrorCode, message string) {
	l.c.logger.Warn().Str("code", string(code)).Msg(message)
	l.c.report(code, message)
	l.c.publish()
}
