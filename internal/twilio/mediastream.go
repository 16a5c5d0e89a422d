// Package twilio adapts a Twilio Media Streams WebSocket into a raw audio transport.
//
// Twilio wraps every 20ms chunk of 8kHz mu-law audio in a JSON "media" frame with a
// base64 payload, and announces the stream with "connected" and "start" frames before
// any audio flows. MediaStream hides that framing behind Receive and SendAudio so the
// realtime session only ever sees raw mu-law bytes.
package twilio

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/shiv6146/twilio-realtime-relay/internal/realtime"
)

var _ realtime.Transport = (*MediaStream)(nil)

var (
	// ErrStreamNotStarted is returned when audio is sent before Twilio's start frame
	ErrStreamNotStarted = fmt.Errorf("twilio: media stream not started: %w", realtime.ErrNotReady)
	// ErrClosed is returned after Close
	ErrClosed = errors.New("twilio: media stream closed")
)

// Directions reported to a FrameObserver
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// FrameObserver is told about every frame read from or written to the socket. event
// is one of the Event constants or EventOther.
type FrameObserver func(direction, event string)

// StartInfo is what Twilio reports about the call when the stream starts
type StartInfo struct {
	StreamSID        string
	CallSID          string
	AccountSID       string
	MediaFormat      MediaFormat
	CustomParameters map[string]string
}

// Option configures a MediaStream
type Option func(*MediaStream)

// WithLogger sets the logger for stream events
func WithLogger(l zerolog.Logger) Option {
	return func(m *MediaStream) {
		m.log = l
	}
}

// WithWriteTimeout bounds each frame write
func WithWriteTimeout(d time.Duration) Option {
	return func(m *MediaStream) {
		m.writeTimeout = d
	}
}

// WithFrameObserver registers a per-frame callback
func WithFrameObserver(fn FrameObserver) Option {
	return func(m *MediaStream) {
		m.observe = fn
	}
}

// WithStartHandler is called once when the start frame arrives
func WithStartHandler(fn func(StartInfo)) Option {
	return func(m *MediaStream) {
		m.onStart = fn
	}
}

// MediaStream is the transport adapter for one Twilio call. It holds the socket
// but never closes it; the socket belongs to the HTTP handler that upgraded it.
type MediaStream struct {
	conn         *websocket.Conn
	log          zerolog.Logger
	writeTimeout time.Duration
	observe      FrameObserver
	onStart      func(StartInfo)

	mu        sync.RWMutex
	streamSID string
	callSID   string
	closed    bool
	marks     int

	writeMu sync.Mutex
}

// NewMediaStream wraps an upgraded Twilio Media Streams connection
func NewMediaStream(conn *websocket.Conn, opts ...Option) *MediaStream {
	m := &MediaStream{
		conn:         conn,
		log:          zerolog.Nop(),
		writeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StreamSID returns the stream identifier, empty until the start frame
func (m *MediaStream) StreamSID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streamSID
}

// CallSID returns the call identifier, empty until the start frame
func (m *MediaStream) CallSID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callSID
}

// Receive blocks until the next chunk of caller audio. It returns io.EOF when Twilio
// stops the stream or closes the socket normally.
func (m *MediaStream) Receive() ([]byte, error) {
	for {
		_, data, err := m.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			if m.isClosed() {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("twilio: read: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			m.log.Warn().Err(err).Msg("[Twilio] Dropping malformed frame")
			continue
		}
		m.observed(DirectionInbound, msg.Event)

		switch msg.Event {
		case EventConnected:
			m.log.Debug().Str("protocol", msg.Protocol).Str("version", msg.Version).Msg("[Twilio] Stream connected")

		case EventStart:
			if msg.Start == nil {
				continue
			}
			m.handleStart(msg.Start)

		case EventMedia:
			if msg.Media == nil || msg.Media.Payload == "" {
				continue
			}
			// Only the caller's leg is forwarded when both tracks are streamed
			if msg.Media.Track != "" && msg.Media.Track != "inbound" {
				continue
			}
			audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				m.log.Warn().Err(err).Msg("[Twilio] Dropping undecodable media payload")
				continue
			}
			return audio, nil

		case EventMark:
			if msg.Mark != nil {
				m.log.Trace().Str("mark", msg.Mark.Name).Msg("[Twilio] Playback mark reached")
			}

		case EventDTMF:
			if msg.DTMF != nil {
				m.log.Info().Str("digit", msg.DTMF.Digit).Msg("[Twilio] DTMF received")
			}

		case EventStop:
			m.log.Info().Str("stream_sid", msg.StreamSID).Msg("[Twilio] Stream stopped")
			return nil, io.EOF
		}
	}
}

func (m *MediaStream) handleStart(start *StartPayload) {
	m.mu.Lock()
	m.streamSID = start.StreamSID
	m.callSID = start.CallSID
	m.mu.Unlock()

	m.log.Info().
		Str("stream_sid", start.StreamSID).
		Str("call_sid", start.CallSID).
		Str("encoding", start.MediaFormat.Encoding).
		Int("sample_rate", start.MediaFormat.SampleRate).
		Msg("[Twilio] Stream started")

	if m.onStart != nil {
		m.onStart(StartInfo{
			StreamSID:        start.StreamSID,
			CallSID:          start.CallSID,
			AccountSID:       start.AccountSID,
			MediaFormat:      start.MediaFormat,
			CustomParameters: start.CustomParameters,
		})
	}
}

// SendAudio plays raw mu-law audio to the caller, followed by a mark so Twilio
// reports when playback reaches the end of the chunk.
func (m *MediaStream) SendAudio(audio []byte) error {
	sid, err := m.activeStream()
	if err != nil {
		return err
	}

	if err := m.write(Message{
		Event:     EventMedia,
		StreamSID: sid,
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString(audio)},
	}); err != nil {
		return err
	}

	m.mu.Lock()
	m.marks++
	name := "chunk-" + strconv.Itoa(m.marks)
	m.mu.Unlock()

	return m.write(Message{
		Event:     EventMark,
		StreamSID: sid,
		Mark:      &MarkPayload{Name: name},
	})
}

// Interrupt tells Twilio to discard audio it has buffered but not yet played
func (m *MediaStream) Interrupt() error {
	sid, err := m.activeStream()
	if err != nil {
		return err
	}
	return m.write(Message{Event: EventClear, StreamSID: sid})
}

// Close stops further writes. It does not close the underlying socket.
func (m *MediaStream) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MediaStream) activeStream() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", ErrClosed
	}
	if m.streamSID == "" {
		return "", ErrStreamNotStarted
	}
	return m.streamSID, nil
}

func (m *MediaStream) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *MediaStream) write(msg Message) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.writeTimeout > 0 {
		if err := m.conn.SetWriteDeadline(time.Now().Add(m.writeTimeout)); err != nil {
			return fmt.Errorf("twilio: set write deadline: %w", err)
		}
	}
	if err := m.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("twilio: write %s: %w", msg.Event, err)
	}
	m.observed(DirectionOutbound, msg.Event)
	return nil
}

// EventOther is reported to a FrameObserver for frames with an unrecognised event
const EventOther = "other"

// frameEvent maps event to a fixed set so callers can use it as a metric label
func frameEvent(event string) string {
	switch event {
	case EventConnected, EventStart, EventMedia, EventMark, EventDTMF, EventStop, EventClear:
		return event
	default:
		return EventOther
	}
}

func (m *MediaStream) observed(direction, event string) {
	if m.observe != nil {
		m.observe(direction, frameEvent(event))
	}
}
