package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"casescribe/internal/domain"
	"casescribe/internal/ports"
)

// DefaultFrameSamples is the number of mono samples per frame.
const DefaultFrameSamples = 4096

const bytesPerSample = 2

var ErrAlreadyRecording = errors.New("audio capture already active")

// Recorder owns at most one capture session and slices it into fixed frames.
type Recorder struct {
	capture   ports.AudioCapture
	cfg       ports.AudioConfig
	frameSize int
	logger    zerolog.Logger

	mu     sync.Mutex
	active *recording
}

type recording struct {
	session ports.AudioSession
	done    chan struct{}

	// deliverMu is held for the duration of every onFrame call so that
	// revoking the callback waits out any in-flight delivery.
	deliverMu sync.Mutex
	revoked   bool
	onFrame   ports.FrameHandler
	onEnd     ports.CaptureEndHandler
}

func NewRecorder(capture ports.AudioCapture, cfg ports.AudioConfig, frameSamples int, logger zerolog.Logger) *Recorder {
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	return &Recorder{
		capture:   capture,
		cfg:       cfg,
		frameSize: frameSamples * bytesPerSample * channels,
		logger:    logger,
	}
}

// StartRecording acquires the microphone and delivers frames to onFrame on
// the capture goroutine until StopRecording. If the capture ends on its own
// the recorder releases it and calls onEnd with an ErrDeviceUnavailable.
func (r *Recorder) StartRecording(ctx context.Context, onFrame ports.FrameHandler, onEnd ports.CaptureEndHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return ErrAlreadyRecording
	}

	session, err := r.capture.Start(ctx, r.cfg)
	if err != nil {
		return err
	}

	rec := &recording{
		session: session,
		done:    make(chan struct{}),
		onFrame: onFrame,
		onEnd:   onEnd,
	}
	r.active = rec
	go r.pump(rec)

	r.logger.Info().Int("frame_bytes", r.frameSize).Msg("audio capture started")
	return nil
}

// StopRecording releases the microphone. No frame is delivered after it returns.
func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	rec := r.active
	r.active = nil
	r.mu.Unlock()

	if rec == nil {
		return nil
	}

	rec.revoke()
	err := rec.session.Stop()
	<-rec.done

	r.logger.Info().Msg("audio capture stopped")
	return err
}

// Recording reports whether a capture session is held.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *Recorder) pump(rec *recording) {
	defer close(rec.done)

	for {
		frame := make([]byte, r.frameSize)
		n, err := io.ReadFull(rec.session, frame)
		if n > 0 {
			if !rec.deliver(frame[:n]) {
				return
			}
		}
		if err != nil {
			if !rec.isRevoked() && !isEndOfStream(err) {
				r.logger.Warn().Err(err).Msg("audio capture read failed")
			}
			r.release(rec, err)
			return
		}
	}
}

// release drops a recording whose capture ended on its own.
func (r *Recorder) release(rec *recording, cause error) {
	r.mu.Lock()
	owned := r.active == rec
	if owned {
		r.active = nil
	}
	r.mu.Unlock()

	if owned {
		rec.revoke()
		_ = rec.session.Stop()
		r.logger.Warn().Err(cause).Msg("audio capture ended unexpectedly")
		if rec.onEnd != nil {
			rec.onEnd(fmt.Errorf("%w: audio capture ended unexpectedly: %v", domain.ErrDeviceUnavailable, cause))
		}
	}
}

func (rec *recording) deliver(frame []byte) bool {
	rec.deliverMu.Lock()
	defer rec.deliverMu.Unlock()
	if rec.revoked {
		return false
	}
	rec.onFrame(frame)
	return true
}

func (rec *recording) revoke() {
	rec.deliverMu.Lock()
	rec.revoked = true
	rec.deliverMu.Unlock()
}

func (rec *recording) isRevoked() bool {
	rec.deliverMu.Lock()
	defer rec.deliverMu.Unlock()
	return rec.revoked
}

func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrClosed)
}
