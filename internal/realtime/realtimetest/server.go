// Package realtimetest provides an in-process stand-in for the realtime service.
package realtimetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Server accepts realtime WebSocket connections on an httptest server
type Server struct {
	t     testing.TB
	srv   *httptest.Server
	conns chan *Conn
}

// Conn is one accepted session seen from the service side
type Conn struct {
	*websocket.Conn
	Authorization string
	Model         string
}

// NewServer starts a fake service that is shut down with the test
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{t: t, conns: make(chan *Conn, 8)}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("realtimetest: upgrade: %v", err)
			return
		}
		s.conns <- &Conn{
			Conn:          ws,
			Authorization: r.Header.Get("Authorization"),
			Model:         r.URL.Query().Get("model"),
		}
	}))
	t.Cleanup(s.srv.Close)

	return s
}

// NewRejectingServer starts a fake service that refuses every handshake with status
func NewRejectingServer(t testing.TB, status int) *Server {
	t.Helper()

	s := &Server{t: t, conns: make(chan *Conn)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid api key"}}`, status)
	}))
	t.Cleanup(s.srv.Close)

	return s
}

// URL returns the ws:// endpoint to dial
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Accept waits for the next session to connect
func (s *Server) Accept() *Conn {
	s.t.Helper()

	select {
	case c := <-s.conns:
		s.t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(5 * time.Second):
		s.t.Fatal("realtimetest: no session connected")
		return nil
	}
}

// ReadEvent reads the next client event as a generic JSON object
func (c *Conn) ReadEvent(t testing.TB) map[string]any {
	t.Helper()

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("realtimetest: read event: %v", err)
	}
	var ev map[string]any
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("realtimetest: decode event %q: %v", data, err)
	}
	return ev
}

// SendEvent writes a server event
func (c *Conn) SendEvent(t testing.TB, ev map[string]any) {
	t.Helper()

	if err := c.WriteJSON(ev); err != nil {
		t.Fatalf("realtimetest: send event: %v", err)
	}
}

// CloseWith sends a close frame with code and reason
func (c *Conn) CloseWith(t testing.TB, code int, reason string) {
	t.Helper()

	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("realtimetest: close: %v", err)
	}
}
