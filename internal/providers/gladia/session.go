package gladia

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"casescribe/internal/domain"
	"casescribe/internal/observability"
	"casescribe/internal/ports"
)

var (
	ErrSessionStarted = errors.New("transcription session already started")
	ErrSendQueueFull  = errors.New("transcription send queue full")
)

// session is one negotiated Gladia live session. It never reconnects: an
// unexpected close leaves it Closed and later sends fail with ErrNotConnected.
type session struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu            sync.Mutex
	state         domain.ConnectionState
	started       bool
	id            string
	conn          *websocket.Conn
	audio         chan []byte
	stopRequested bool
	readDone      chan struct{}
	writeDone     chan struct{}

	handlerMu sync.RWMutex
	handler   ports.MessageHandler
}

func newSession(cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *session {
	return &session{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		state:   domain.ConnectionStateClosed,
	}
}

// StartSession provisions a live session and opens its websocket. It returns
// only once the connection is open.
func (s *session) StartSession(ctx context.Context) (string, error) {
	if s.cfg.APIKey == "" {
		return "", domain.ErrMissingCredential
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return "", ErrSessionStarted
	}
	s.started = true
	s.state = domain.ConnectionStateConnecting
	s.mu.Unlock()

	began := time.Now()
	live, err := provision(ctx, s.cfg)
	if err != nil {
		s.markFailed()
		return "", err
	}

	conn, _, err := s.cfg.Dialer.DialContext(ctx, live.URL, nil)
	if err != nil {
		s.markFailed()
		return "", fmt.Errorf("%w: %v", domain.ErrConnect, err)
	}

	s.mu.Lock()
	if s.state != domain.ConnectionStateConnecting {
		// EndSession ran while the handshake was in flight.
		s.mu.Unlock()
		_ = conn.Close()
		return "", fmt.Errorf("%w: session ended during handshake", domain.ErrConnect)
	}
	s.id = live.ID
	s.conn = conn
	s.audio = make(chan []byte, s.cfg.SendQueueSize)
	s.readDone = make(chan struct{})
	s.writeDone = make(chan struct{})
	s.state = domain.ConnectionStateOpen
	s.mu.Unlock()

	go s.readLoop(conn, s.readDone)
	go s.writeLoop(conn, s.audio, s.writeDone)

	s.metrics.SessionStarted(time.Since(began))
	s.logger.Info().Str("session_id", live.ID).Msg("transcription websocket connected")
	return live.ID, nil
}

// OnMessage replaces the inbound message handler.
func (s *session) OnMessage(handler ports.MessageHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handler = handler
}

// SendAudio queues a binary frame without blocking. Frames are dropped, never
// buffered, while the connection is not open or the writer is behind.
func (s *session) SendAudio(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.ConnectionStateOpen {
		return domain.ErrNotConnected
	}
	select {
	case s.audio <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (s *session) IsSessionActive() bool {
	return s.State() == domain.ConnectionStateOpen
}

func (s *session) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// EndSession sends stop_recording and a normal close when open, then
// releases the connection. It is safe to call repeatedly.
func (s *session) EndSession() error {
	s.mu.Lock()
	conn := s.conn
	wasOpen := s.state == domain.ConnectionStateOpen
	if wasOpen {
		s.stopRequested = true
		close(s.audio)
	}
	s.state = domain.ConnectionStateClosed
	s.conn = nil
	readDone, writeDone := s.readDone, s.writeDone
	id := s.id
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseTimeout)
	defer cancel()

	if wasOpen {
		select {
		case <-writeDone:
		case <-ctx.Done():
			s.logger.Warn().Str("session_id", id).Msg("timed out flushing transcription websocket")
		}
	}

	// Give the service a chance to answer the close frame.
	select {
	case <-readDone:
	case <-ctx.Done():
	}

	err := conn.Close()
	<-readDone
	<-writeDone

	s.logger.Info().Str("session_id", id).Bool("was_open", wasOpen).Msg("transcription session ended")
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) && !isClosedConnErr(err) {
		return err
	}
	return nil
}

func (s *session) markFailed() {
	s.mu.Lock()
	s.state = domain.ConnectionStateClosed
	s.mu.Unlock()
}

// markClosed transitions an open session to Closed after the connection
// failed underneath it.
func (s *session) markClosed(reason error) {
	s.mu.Lock()
	wasOpen := s.state == domain.ConnectionStateOpen
	if wasOpen {
		s.state = domain.ConnectionStateClosed
		close(s.audio)
	}
	id := s.id
	s.mu.Unlock()

	if wasOpen {
		s.logger.Warn().Err(reason).Str("session_id", id).Msg("transcription websocket closed unexpectedly")
	}
}

func (s *session) writeLoop(conn *websocket.Conn, audio <-chan []byte, done chan struct{}) {
	defer close(done)

	for frame := range audio {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			s.markClosed(fmt.Errorf("failed to send audio: %w", err))
			for range audio {
			}
			return
		}
		s.metrics.FrameSent()
	}

	s.mu.Lock()
	stop := s.stopRequested
	s.mu.Unlock()
	if !stop {
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(stopRecordingMessage)); err != nil {
		s.logger.Warn().Err(err).Msg("failed to send stop_recording")
		return
	}
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(s.cfg.CloseTimeout)); err != nil {
		s.logger.Warn().Err(err).Msg("failed to send close frame")
	}
}

func (s *session) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			s.markClosed(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, ok := decodeMessage(s.SessionID(), payload)
		if !ok {
			s.logger.Debug().RawJSON("payload", payload).Msg("ignoring transcription message")
			continue
		}
		s.dispatch(msg)
	}
}

func (s *session) dispatch(msg domain.Message) {
	s.handlerMu.RLock()
	handler := s.handler
	s.handlerMu.RUnlock()

	if handler == nil {
		s.logger.Debug().Str("type", string(msg.Type)).Msg("dropping message without handler")
		return
	}
	handler(msg)
}

func isClosedConnErr(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
