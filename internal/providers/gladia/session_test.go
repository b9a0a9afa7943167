package gladia

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"casescribe/internal/domain"
)

func TestNewProviderDefaults(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{}, zerolog.Nop(), nil)
	if p.cfg.APIBaseURL != DefaultAPIBaseURL {
		t.Fatalf("unexpected base url: %q", p.cfg.APIBaseURL)
	}
	want := domain.AudioFormat{Encoding: "pcm16", SampleRate: 16000, BitDepth: 16, Channels: 1}
	if p.cfg.Format != want {
		t.Fatalf("unexpected format defaults: %+v", p.cfg.Format)
	}
	if p.cfg.HTTPClient == nil || p.cfg.Dialer == nil {
		t.Fatalf("expected transport defaults")
	}
}

func TestStartSessionRequiresAPIKeyBeforeNetwork(t *testing.T) {
	t.Parallel()

	fake := newFakeGladia(t)
	session := fake.provider(t, "", domain.AudioFormat{}).NewSession()

	_, err := session.StartSession(context.Background())
	if !errors.Is(err, domain.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if fake.provisionCalls.Load() != 0 {
		t.Fatalf("provisioning endpoint must not be called without a key")
	}
	if session.State() != domain.ConnectionStateClosed {
		t.Fatalf("unexpected state: %s", session.State())
	}
}

func TestStartSessionProvisionsAndConnects(t *testing.T) {
	t.Parallel()

	fake := newFakeGladia(t)
	format := domain.AudioFormat{Encoding: "wav/pcm", SampleRate: 16000, BitDepth: 16, Channels: 1}
	session := fake.provider(t, "secret", format).NewSession()

	id, err := session.StartSession(context.Background())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.EndSession()

	if id != "s1" || session.SessionID() != "s1" {
		t.Fatalf("unexpected session id: %q", id)
	}
	if !session.IsSessionActive() || session.State() != domain.ConnectionStateOpen {
		t.Fatalf("expected open session, got %s", session.State())
	}

	req := fake.lastRequest()
	if req.key != "secret" {
		t.Fatalf("unexpected api key header: %q", req.key)
	}
	if req.contentType != "application/json" {
		t.Fatalf("unexpected content type: %q", req.contentType)
	}
	if req.body != format {
		t.Fatalf("unexpected provisioning body: %+v", req.body)
	}
}

func TestStartSessionProvisionRejected(t *testing.T) {
	t.Parallel()

	fake := newFakeGladia(t)
	fake.rejectStatus = http.StatusUnauthorized
	fake.rejectBody = "invalid key"
	session := fake.provider(t, "bad", domain.AudioFormat{}).NewSession()

	_, err := session.StartSession(context.Background())
	var provisionErr *domain.ProvisionError
	if !errors.As(err, &provisionErr) {
		t.Fatalf("expected ProvisionError, got %v", err)
	}
	if provisionErr.StatusCode != http.StatusUnauthorized || !strings.Contains(err.Error(), "invalid key") {
		t.Fatalf("unexpected provision error: %v", err)
	}
	if session.IsSessionActive() {
		t.Fatalf("rejected session must not be active")
	}
}

func TestStartSessionConnectFailure(t *testing.T) {
	t.Parallel()

	fake := newFakeGladia(t)
	fake.wsPath = "/missing"
	session := fake.provider(t, "secret", domain.AudioFormat{}).NewSession()

	_, err := session.StartSession(context.Background())
	if !errors.Is(err, domain.ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
	if session.State() != domain.ConnectionStateClosed {
		t.Fatalf("unexpected state: %s", session.State())
	}
	if err := session.EndSession(); err != nil {
		t.Fatalf("end after failed connect: %v", err)
	}
}

func TestStartSessionTwiceIsRejected(t *testing.T) {
	t.Parallel()

	fake := newFakeGladia(t)
	session := fake.provider(t, "secret", domain.AudioFormat{}).NewSession()
	if _, err := session.StartSession(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.EndSession()

	if _, err := session.StartSession(context.Background()); !errors.Is(err, ErrSessionStarted) {
		t.Fatalf("expected ErrSessionStarted, got %v", err)
	}
	if fake.provisionCalls.Load() != 1 {
		t.Fatalf("expected a single provisioning call, got %d", fake.provisionCalls.Load())
	}
}

func TestSessionSendsAudioThenStopAndNormalClose(t *testing.T) {
	t.Parallel()

	fake := newFakeGladia(t)
	session := fake.provider(t, "secret", domain.AudioFormat{}).NewSession()
	if _, err := session.StartSession(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	conn := fake.accept(t)

	if err := session.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	type received struct {
		kind    int
		payload []byte
		err     error
	}
	got := make(chan received, 4)
	go func() {
		for {
			kind, payload, err := conn.ReadMessage()
			got <- received{kind: kind, payload: payload, err: err}
			if err != nil {
				return
			}
		}
	}()

	frame := <-got
	if frame.kind != websocket.BinaryMessage || string(frame.payload) != "\x01\x02\x03\x04" {
		t.Fatalf("unexpected audio frame: %+v", frame)
	}

	ended := make(chan error, 1)
	go func() { ended <- session.EndSession() }()

	stop := <-got
	if stop.kind != websocket.TextMessage || string(stop.payload) != stopRecordingMessage {
		t.Fatalf("expected stop_recording, got %+v", stop)
	}
	closing := <-got
	if !websocket.IsCloseError(closing.err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure, got %v", closing.err)
	}

	select {
	case err := <-ended:
		if err != nil {
			t.Fatalf("end failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("end session did not return")
	}
	if session.State() != domain.ConnectionStateClosed {
		t.Fatalf("unexpected state after end: %s", session.State())
	}
	if err := session.EndSession(); err != nil {
		t.Fatalf("second end failed: %v", err)
	}
	if err := session.SendAudio([]byte{1}); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after end, got %v", err)
	}
}

func TestSessionDispatchesMessagesInOrder(t *testing.T) {
	t.Parallel()

	fake := newFakeGladia(t)
	session := fake.provider(t, "secret", domain.AudioFormat{}).NewSession()
	if _, err := session.StartSession(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.EndSession()

	messages := make(chan domain.Message, 8)
	session.OnMessage(func(msg domain.Message) { messages <- msg })
	conn := fake.accept(t)

	for _, payload := range []string{
		`{"type":"transcript","data":{"utterance":{"text":"hello"},"is_final":false,"confidence":0.8}}`,
		`{"type":"audio_chunk","data":{"byte_range":[0,10]}}`,
		`{"type":"error","message":"quota exceeded"}`,
		`{not json`,
		`{"type":"transcript","data":{"utterance":{"text":"world"},"is_final":true}}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			t.Fatalf("server write failed: %v", err)
		}
	}

	first := waitMessage(t, messages)
	if first.Type != domain.MessageTypeTranscript || first.Transcript.Text != "hello" || first.Transcript.IsFinal() || first.Transcript.Confidence != 0.8 {
		t.Fatalf("unexpected first message: %+v", first)
	}
	if first.SessionID != "s1" {
		t.Fatalf("expected message tagged with session id, got %q", first.SessionID)
	}
	remote := waitMessage(t, messages)
	var remoteErr *domain.RemoteError
	if !errors.As(remote.Err, &remoteErr) || remoteErr.Message != "quota exceeded" {
		t.Fatalf("unexpected remote error: %+v", remote)
	}
	malformed := waitMessage(t, messages)
	if !errors.Is(malformed.Err, domain.ErrProtocol) {
		t.Fatalf("expected protocol error, got %+v", malformed)
	}
	final := waitMessage(t, messages)
	if final.Transcript.Text != "world" || !final.Transcript.IsFinal() {
		t.Fatalf("unexpected final message: %+v", final)
	}
}

func TestOnMessageReplacesHandler(t *testing.T) {
	t.Parallel()

	fake := newFakeGladia(t)
	session := fake.provider(t, "secret", domain.AudioFormat{}).NewSession()
	if _, err := session.StartSession(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.EndSession()

	var stale atomic.Int32
	current := make(chan domain.Message, 1)
	session.OnMessage(func(domain.Message) { stale.Add(1) })
	session.OnMessage(func(msg domain.Message) { current <- msg })

	conn := fake.accept(t)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"x"}`)); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
	waitMessage(t, current)
	if stale.Load() != 0 {
		t.Fatalf("replaced handler must not receive messages")
	}
}

func TestSendAudioAfterUnexpectedCloseIsNotConnected(t *testing.T) {
	t.Parallel()

	fake := newFakeGladia(t)
	session := fake.provider(t, "secret", domain.AudioFormat{}).NewSession()
	if _, err := session.StartSession(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	conn := fake.accept(t)
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for session.IsSessionActive() {
		if time.Now().After(deadline) {
			t.Fatalf("expected session to become inactive")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := session.SendAudio([]byte{1, 2}); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := session.EndSession(); err != nil {
		t.Fatalf("end after unexpected close failed: %v", err)
	}
}

func TestEndSessionWithoutStartIsNoop(t *testing.T) {
	t.Parallel()

	session := NewProvider(Config{APIKey: "k"}, zerolog.Nop(), nil).NewSession()
	for i := 0; i < 2; i++ {
		if err := session.EndSession(); err != nil {
			t.Fatalf("end failed: %v", err)
		}
	}
	if session.State() != domain.ConnectionStateClosed {
		t.Fatalf("unexpected state: %s", session.State())
	}
}

func waitMessage(t *testing.T, messages <-chan domain.Message) domain.Message {
	t.Helper()
	select {
	case msg := <-messages:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
		return domain.Message{}
	}
}

type provisionRequest struct {
	key         string
	contentType string
	body        domain.AudioFormat
}

type fakeGladia struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
	done     chan struct{}

	rejectStatus int
	rejectBody   string
	wsPath       string

	provisionCalls atomic.Int32

	mu   sync.Mutex
	last provisionRequest
}

func newFakeGladia(t *testing.T) *fakeGladia {
	t.Helper()

	f := &fakeGladia{conns: make(chan *websocket.Conn, 4), done: make(chan struct{}), wsPath: "/ws"}
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/live", func(w http.ResponseWriter, r *http.Request) {
		f.provisionCalls.Add(1)

		var body domain.AudioFormat
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.last = provisionRequest{
			key:         r.Header.Get("X-Gladia-Key"),
			contentType: r.Header.Get("Content-Type"),
			body:        body,
		}
		f.mu.Unlock()

		if f.rejectStatus != 0 {
			w.WriteHeader(f.rejectStatus)
			_, _ = w.Write([]byte(f.rejectBody))
			return
		}
		wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + f.wsPath
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "s1", "url": wsURL})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		select {
		case f.conns <- conn:
		case <-f.done:
			_ = conn.Close()
		}
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(func() {
		close(f.done)
		f.server.Close()
		for {
			select {
			case conn := <-f.conns:
				_ = conn.Close()
			default:
				return
			}
		}
	})
	return f
}

func (f *fakeGladia) provider(t *testing.T, key string, format domain.AudioFormat) *Provider {
	t.Helper()
	return NewProvider(Config{
		APIKey:       key,
		APIBaseURL:   f.server.URL + "/v2",
		Format:       format,
		CloseTimeout: time.Second,
	}, zerolog.Nop(), nil)
}

// accept returns the server side of the most recent connection. The caller
// owns it; it is closed again at cleanup only if never taken.
func (f *fakeGladia) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-f.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatalf("no websocket connection accepted")
		return nil
	}
}

func (f *fakeGladia) lastRequest() provisionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
