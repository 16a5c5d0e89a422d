// Package realtime runs one speech-to-speech conversation against the OpenAI Realtime API.
//
// A Session owns a Transport (the caller's audio leg) and a WebSocket to the realtime
// service. Once connected it pumps caller audio up and assistant audio down until
// either side goes away, then reports a single close event.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultURL is the OpenAI Realtime WebSocket endpoint
const DefaultURL = "wss://api.openai.com/v1/realtime"

var (
	// ErrAlreadyConnected is returned by a second call to Connect
	ErrAlreadyConnected = errors.New("realtime: session already connected")
	// ErrNotReady is wrapped by transports that cannot play audio yet
	ErrNotReady = errors.New("realtime: transport not ready")
	// ErrSessionClosed is returned by Connect when Close won the race with the handshake
	ErrSessionClosed = errors.New("realtime: session closed during connect")
)

// State is the lifecycle state of a Session
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// CloseEvent describes why a session ended. Code is a WebSocket close code when one
// is known and zero otherwise.
type CloseEvent struct {
	Code   int
	Reason string
}

// Transport is the caller's side of the conversation as raw audio in the session's
// configured format.
type Transport interface {
	// Receive blocks for the next chunk of caller audio and returns io.EOF when the
	// caller has gone.
	Receive() ([]byte, error)
	// SendAudio plays assistant audio to the caller.
	SendAudio(audio []byte) error
	// Interrupt discards assistant audio queued for playback.
	Interrupt() error
	// Close stops the transport from sending. It does not own the caller's connection.
	Close() error
}

// Config is the per-session realtime configuration
type Config struct {
	Model        string
	Voice        string
	InputFormat  AudioFormat
	OutputFormat AudioFormat
	Modalities   []string
}

// TelephonyConfig returns the configuration for a phone call: mu-law both ways and
// audio-only replies.
func TelephonyConfig(model, voice string) Config {
	return Config{
		Model:        model,
		Voice:        voice,
		InputFormat:  PCMU,
		OutputFormat: PCMU,
		Modalities:   []string{"audio"},
	}
}

// Option configures a Session
type Option func(*Session)

// WithID sets the session identifier instead of generating one
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithURL overrides the realtime endpoint
func WithURL(u string) Option {
	return func(s *Session) {
		s.url = u
	}
}

// WithDialer sets the WebSocket dialer used by Connect
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) {
		s.dialer = d
	}
}

// WithWriteTimeout bounds each write to the realtime socket
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.writeTimeout = d
	}
}

// WithLogger sets the logger for protocol-level detail
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// Session is one realtime conversation
type Session struct {
	id           string
	agent        *Agent
	transport    Transport
	config       Config
	url          string
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	log          zerolog.Logger

	mu            sync.RWMutex
	state         State
	connecting    bool
	conn          *websocket.Conn
	errorHandlers []func(error)
	closeHandlers []func(CloseEvent)

	writeMu   sync.Mutex
	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewSession creates a session in the Connecting state. Nothing is dialled until Connect.
func NewSession(agent *Agent, transport Transport, cfg Config, opts ...Option) *Session {
	s := &Session{
		id:           uuid.New().String(),
		agent:        agent,
		transport:    transport,
		config:       cfg,
		url:          DefaultURL,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		writeTimeout: 10 * time.Second,
		log:          zerolog.Nop(),
		state:        StateConnecting,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnError registers a listener for faults reported by the service or the transport
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	s.errorHandlers = append(s.errorHandlers, fn)
	s.mu.Unlock()
}

// OnClose registers a listener for the end of the session. It fires at most once.
func (s *Session) OnClose(fn func(CloseEvent)) {
	s.mu.Lock()
	s.closeHandlers = append(s.closeHandlers, fn)
	s.mu.Unlock()
}

// Done is closed once the session has ended and every close listener has returned
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session has ended
func (s *Session) Wait() {
	<-s.done
}

// Connect dials the realtime service, configures the conversation and starts relaying
// audio. It returns once the handshake and session.update have been sent.
func (s *Session) Connect(ctx context.Context, apiKey string) error {
	s.mu.Lock()
	if s.state != StateConnecting || s.connecting {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.connecting = true
	s.mu.Unlock()

	endpoint, err := s.endpoint()
	if err != nil {
		return s.connectFailed(err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)

	conn, resp, err := s.dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return s.connectFailed(fmt.Errorf("realtime: dial: %w", err))
	}

	// finish reads conn under mu after setting closing, so either it sees this conn
	// and closes it or this check sees closing
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrSessionClosed
	}
	s.conn = conn
	s.mu.Unlock()

	if err := s.send(s.sessionUpdate()); err != nil {
		_ = conn.Close()
		return s.connectFailed(fmt.Errorf("realtime: configure session: %w", err))
	}

	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = StateActive
	s.mu.Unlock()

	s.log.Debug().Str("session_id", s.id).Str("model", s.config.Model).Msg("[Realtime] Session configured")

	go s.readModel(conn)
	go s.readCaller()

	return nil
}

// Close ends the session. It is safe to call more than once.
func (s *Session) Close() error {
	s.finish(CloseEvent{Code: websocket.CloseNormalClosure, Reason: "session closed"}, StateClosed)
	return nil
}

func (s *Session) endpoint() (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("realtime: parse url: %w", err)
	}
	if s.config.Model != "" {
		q := u.Query()
		q.Set("model", s.config.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *Session) sessionUpdate() sessionUpdateEvent {
	return sessionUpdateEvent{
		Type: eventSessionUpdate,
		Session: sessionConfig{
			Type:             sessionTypeRealtime,
			Model:            s.config.Model,
			Instructions:     s.agent.Instructions,
			OutputModalities: s.config.Modalities,
			Audio: audioConfig{
				Input:  audioInputConfig{Format: s.config.InputFormat},
				Output: audioOutputConfig{Format: s.config.OutputFormat, Voice: s.config.Voice},
			},
			Tools: []struct{}{},
		},
	}
}

func (s *Session) connectFailed(err error) error {
	if s.closing.Swap(true) {
		// Already closed; keep the terminal state Close chose
		return ErrSessionClosed
	}
	s.mu.Lock()
	s.state = StateFailed
	s.mu.Unlock()

	s.emitError(err)
	s.closeOnce.Do(func() {
		_ = s.transport.Close()
		close(s.done)
	})
	return err
}

// readModel relays service events to the caller until the realtime socket closes
func (s *Session) readModel(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				state := StateClosed
				if closeErr.Code != websocket.CloseNormalClosure && closeErr.Code != websocket.CloseGoingAway {
					state = StateFailed
				}
				s.finish(CloseEvent{Code: closeErr.Code, Reason: closeErr.Text}, state)
				return
			}
			if s.closing.Load() {
				return
			}
			s.emitError(fmt.Errorf("realtime: read: %w", err))
			s.finish(CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}, StateFailed)
			return
		}
		s.handleServerEvent(data)
	}
}

func (s *Session) handleServerEvent(data []byte) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		s.log.Warn().Err(err).Str("session_id", s.id).Msg("[Realtime] Dropping malformed event")
		return
	}

	switch ev.Type {
	case eventSessionCreated, eventSessionUpdated:
		s.log.Debug().Str("session_id", s.id).Str("type", ev.Type).Msg("[Realtime] Session acknowledged")

	case eventOutputAudioDelta, eventAudioDeltaBeta:
		audio, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", s.id).Msg("[Realtime] Dropping undecodable audio delta")
			return
		}
		if err := s.transport.SendAudio(audio); err != nil {
			s.transportError(err)
		}

	case eventSpeechStarted:
		// Caller barged in; drop whatever the assistant still has queued
		if err := s.transport.Interrupt(); err != nil {
			s.transportError(err)
		}

	case eventResponseDone:
		s.log.Debug().Str("session_id", s.id).Msg("[Realtime] Response done")

	case eventError:
		if ev.Error != nil {
			s.emitError(ev.Error)
		} else {
			s.emitError(errors.New("realtime: unspecified error event"))
		}

	default:
		s.log.Trace().Str("session_id", s.id).Str("type", ev.Type).Msg("[Realtime] Event ignored")
	}
}

func (s *Session) transportError(err error) {
	if errors.Is(err, ErrNotReady) || s.closing.Load() {
		s.log.Debug().Err(err).Str("session_id", s.id).Msg("[Realtime] Audio dropped")
		return
	}
	s.emitError(err)
}

// readCaller relays caller audio to the service until the transport ends
func (s *Session) readCaller() {
	for {
		audio, err := s.transport.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.finish(CloseEvent{Code: websocket.CloseNormalClosure, Reason: "caller disconnected"}, StateClosed)
				return
			}
			if s.closing.Load() {
				return
			}
			s.emitError(err)
			s.finish(CloseEvent{Code: websocket.CloseInternalServerErr, Reason: err.Error()}, StateFailed)
			return
		}

		if err := s.send(inputAudioAppendEvent{
			Type:  eventInputAudioAppend,
			Audio: base64.StdEncoding.EncodeToString(audio),
		}); err != nil {
			if s.closing.Load() {
				return
			}
			s.emitError(fmt.Errorf("realtime: append audio: %w", err))
			s.finish(CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}, StateFailed)
			return
		}
	}
}

func (s *Session) send(v any) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return errors.New("realtime: not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return conn.WriteJSON(v)
}

func (s *Session) emitError(err error) {
	s.mu.RLock()
	handlers := append(([]func(error))(nil), s.errorHandlers...)
	s.mu.RUnlock()

	for _, fn := range handlers {
		fn(err)
	}
}

// finish moves the session to its terminal state exactly once, releases the realtime
// socket and notifies close listeners before Done is closed.
func (s *Session) finish(ev CloseEvent, state State) {
	s.closeOnce.Do(func() {
		s.closing.Store(true)

		s.mu.Lock()
		s.state = state
		conn := s.conn
		handlers := append(([]func(CloseEvent))(nil), s.closeHandlers...)
		s.mu.Unlock()

		if conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
		}
		_ = s.transport.Close()

		for _, fn := range handlers {
			fn(ev)
		}
		close(s.done)
	})
}
