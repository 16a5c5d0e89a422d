package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiv6146/twilio-realtime-relay/internal/realtime/realtimetest"
)

var errTransportClosed = errors.New("fake transport closed")

type fakeTransport struct {
	in   chan []byte
	fail chan error
	stop chan struct{}

	mu         sync.Mutex
	sent       [][]byte
	interrupts int
	closed     bool
	stopOnce   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 8), fail: make(chan error, 1), stop: make(chan struct{})}
}

func (f *fakeTransport) Receive() ([]byte, error) {
	select {
	case audio, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return audio, nil
	case err := <-f.fail:
		return nil, err
	case <-f.stop:
		return nil, errTransportClosed
	}
}

func (f *fakeTransport) SendAudio(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, audio)
	return nil
}

func (f *fakeTransport) Interrupt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.stop) })
	return nil
}

func (f *fakeTransport) sentAudio() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeTransport) interruptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupts
}

type recorder struct {
	mu     sync.Mutex
	errs   []error
	closes []CloseEvent
	// events is the order listeners fired in, with the state seen by close listeners
	events []string
}

func (r *recorder) attach(s *Session) {
	s.OnError(func(err error) {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.events = append(r.events, "error")
		r.mu.Unlock()
	})
	s.OnClose(func(ev CloseEvent) {
		state := s.State()
		r.mu.Lock()
		r.closes = append(r.closes, ev)
		r.events = append(r.events, "close:"+state.String())
		r.mu.Unlock()
	})
}

func (r *recorder) sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) closeEvents() []CloseEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CloseEvent(nil), r.closes...)
}

func newTestSession(t *testing.T, url string) (*Session, *fakeTransport, *recorder) {
	t.Helper()

	transport := newFakeTransport()
	agent := NewAgent("Pairrot Support", "Be brief.")
	s := NewSession(agent, transport, TelephonyConfig("gpt-realtime", "alloy"), WithURL(url))
	rec := &recorder{}
	rec.attach(s)
	t.Cleanup(func() { _ = s.Close() })
	return s, transport, rec
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestConnectConfiguresSession(t *testing.T) {
	svc := realtimetest.NewServer(t)
	s, _, _ := newTestSession(t, svc.URL())

	assert.Equal(t, StateConnecting, s.State())
	require.NoError(t, s.Connect(context.Background(), "sk-test"))
	assert.Equal(t, StateActive, s.State())

	conn := svc.Accept()
	assert.Equal(t, "Bearer sk-test", conn.Authorization)
	assert.Equal(t, "gpt-realtime", conn.Model)

	ev := conn.ReadEvent(t)
	assert.Equal(t, "session.update", ev["type"])

	session := ev["session"].(map[string]any)
	assert.Equal(t, "realtime", session["type"])
	assert.Equal(t, "Be brief.", session["instructions"])
	assert.Equal(t, []any{"audio"}, session["output_modalities"])
	assert.Equal(t, []any{}, session["tools"])

	audio := session["audio"].(map[string]any)
	input := audio["input"].(map[string]any)
	output := audio["output"].(map[string]any)
	assert.Equal(t, "audio/pcmu", input["format"].(map[string]any)["type"])
	assert.Equal(t, "audio/pcmu", output["format"].(map[string]any)["type"])
	assert.Equal(t, "alloy", output["voice"])
}

func TestConnectTwice(t *testing.T) {
	svc := realtimetest.NewServer(t)
	s, _, _ := newTestSession(t, svc.URL())

	require.NoError(t, s.Connect(context.Background(), "sk-test"))
	svc.Accept()

	assert.ErrorIs(t, s.Connect(context.Background(), "sk-test"), ErrAlreadyConnected)
}

func TestConnectRejected(t *testing.T) {
	svc := realtimetest.NewRejectingServer(t, http.StatusUnauthorized)
	s, _, rec := newTestSession(t, svc.URL())

	err := s.Connect(context.Background(), "sk-bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, StateFailed, s.State())
	waitDone(t, s)

	assert.Len(t, rec.errors(), 1)
	assert.Empty(t, rec.closeEvents())
}

func TestCallerAudioIsAppended(t *testing.T) {
	svc := realtimetest.NewServer(t)
	s, transport, _ := newTestSession(t, svc.URL())

	require.NoError(t, s.Connect(context.Background(), "sk-test"))
	conn := svc.Accept()
	conn.ReadEvent(t) // session.update

	transport.in <- []byte{0xff, 0x00, 0x7f}

	ev := conn.ReadEvent(t)
	assert.Equal(t, "input_audio_buffer.append", ev["type"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xff, 0x00, 0x7f}), ev["audio"])
}

func TestAssistantAudioReachesCaller(t *testing.T) {
	svc := realtimetest.NewServer(t)
	s, transport, _ := newTestSession(t, svc.URL())

	require.NoError(t, s.Connect(context.Background(), "sk-test"))
	conn := svc.Accept()
	conn.ReadEvent(t)

	conn.SendEvent(t, map[string]any{
		"type":    "response.output_audio.delta",
		"item_id": "item_1",
		"delta":   base64.StdEncoding.EncodeToString([]byte{0x01, 0x02}),
	})
	conn.SendEvent(t, map[string]any{
		"type":  "response.audio.delta",
		"delta": base64.StdEncoding.EncodeToString([]byte{0x03}),
	})
	conn.SendEvent(t, map[string]any{"type": "input_audio_buffer.speech_started"})

	require.Eventually(t, func() bool {
		return len(transport.sentAudio()) == 2 && transport.interruptCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, [][]byte{{0x01, 0x02}, {0x03}}, transport.sentAudio())
}

func TestErrorEventKeepsSessionActive(t *testing.T) {
	svc := realtimetest.NewServer(t)
	s, _, rec := newTestSession(t, svc.URL())

	require.NoError(t, s.Connect(context.Background(), "sk-test"))
	conn := svc.Accept()
	conn.ReadEvent(t)

	conn.SendEvent(t, map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "invalid_request_error",
			"code":    "invalid_value",
			"message": "bad audio",
		},
	})

	require.Eventually(t, func() bool { return len(rec.errors()) == 1 }, 2*time.Second, 10*time.Millisecond)

	var apiErr *APIError
	require.ErrorAs(t, rec.errors()[0], &apiErr)
	assert.Equal(t, "bad audio", apiErr.Message)
	assert.Equal(t, StateActive, s.State())
}

func TestServiceCloseEndsSession(t *testing.T) {
	svc := realtimetest.NewServer(t)
	s, transport, rec := newTestSession(t, svc.URL())

	require.NoError(t, s.Connect(context.Background(), "sk-test"))
	conn := svc.Accept()
	conn.ReadEvent(t)

	conn.CloseWith(t, websocket.CloseNormalClosure, "normal")
	waitDone(t, s)

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, []CloseEvent{{Code: 1000, Reason: "normal"}}, rec.closeEvents())
	assert.Empty(t, rec.errors())

	transport.mu.Lock()
	assert.True(t, transport.closed)
	transport.mu.Unlock()
}

func TestServiceAbnormalCloseFails(t *testing.T) {
	svc := realtimetest.NewServer(t)
	s, _, rec := newTestSession(t, svc.URL())

	require.NoError(t, s.Connect(context.Background(), "sk-test"))
	conn := svc.Accept()
	conn.ReadEvent(t)

	conn.CloseWith(t, websocket.CloseInternalServerErr, "server_error")
	waitDone(t, s)

	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, []CloseEvent{{Code: 1011, Reason: "server_error"}}, rec.closeEvents())
}

func TestCallerHangupEndsSession(t *testing.T) {
	svc := realtimetest.NewServer(t)
	s, transport, rec := newTestSession(t, svc.URL())

	require.NoError(t, s.Connect(context.Background(), "sk-test"))
	conn := svc.Accept()
	conn.ReadEvent(t)

	close(transport.in)
	waitDone(t, s)

	assert.Equal(t, StateClosed, s.State())
	require.Len(t, rec.closeEvents(), 1)
	assert.Equal(t, 1000, rec.closeEvents()[0].Code)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestCloseIsIdempotent(t *testing.T) {
	svc := realtimetest.NewServer(t)
	s, _, rec := newTestSession(t, svc.URL())

	require.NoError(t, s.Connect(context.Background(), "sk-test"))
	svc.Accept()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	waitDone(t, s)

	assert.Len(t, rec.closeEvents(), 1)
	assert.Empty(t, rec.errors())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "failed", StateFailed.String())
}

func TestSessionID(t *testing.T) {
	agent := NewAgent("Pairrot Support", "Be brief.")
	cfg := TelephonyConfig("gpt-realtime", "alloy")

	a := NewSession(agent, newFakeTransport(), cfg)
	b := NewSession(agent, newFakeTransport(), cfg)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())

	c := NewSession(agent, newFakeTransport(), cfg, WithID("call-42"))
	assert.Equal(t, "call-42", c.ID())
}

func TestTransportFaultFailsSession(t *testing.T) {
	svc := realtimetest.NewServer(t)
	s, transport, rec := newTestSession(t, svc.URL())

	require.NoError(t, s.Connect(context.Background(), "sk-test"))
	conn := svc.Accept()
	conn.ReadEvent(t)

	fault := errors.New("connection reset by peer")
	transport.fail <- fault
	waitDone(t, s)

	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, []string{"error", "close:failed"}, rec.sequence())
	require.Len(t, rec.errors(), 1)
	assert.ErrorIs(t, rec.errors()[0], fault)
	require.Len(t, rec.closeEvents(), 1)
	assert.Equal(t, websocket.CloseInternalServerErr, rec.closeEvents()[0].Code)
	assert.Equal(t, fault.Error(), rec.closeEvents()[0].Reason)

	// The realtime socket is released too
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestCloseDuringConnect(t *testing.T) {
	released := make(chan error, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			released <- err
			return
		}
		defer ws.Close()
		_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				released <- err
				return
			}
		}
	}))
	t.Cleanup(slow.Close)

	s, _, rec := newTestSession(t, "ws"+strings.TrimPrefix(slow.URL, "http"))

	connected := make(chan error, 1)
	go func() { connected <- s.Connect(context.Background(), "sk-test") }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Close())
	waitDone(t, s)

	select {
	case err := <-connected:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Connect did not return")
	}

	assert.Equal(t, StateClosed, s.State())
	assert.Len(t, rec.closeEvents(), 1)
	assert.Empty(t, rec.errors())

	// The late socket is closed rather than left running
	select {
	case err := <-released:
		assert.False(t, isTimeout(err), "realtime socket left open: %v", err)
	case <-time.After(6 * time.Second):
		t.Fatal("realtime socket was never released")
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
