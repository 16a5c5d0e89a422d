// Package call bridges Twilio media streams to realtime sessions
package call

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shiv6146/twilio-realtime-relay/internal/models"
)

// Count sources reported by Manager.Count
const (
	SourceValkey = "valkey"
	SourceLocal  = "local"
)

const cacheTimeout = 2 * time.Second

// Tracker mirrors active calls outside the process
type Tracker interface {
	SetActiveCall(ctx context.Context, call *models.ActiveCall) error
	RemoveActiveCall(ctx context.Context, sessionID string) error
	GetActiveCallCount(ctx context.Context) (int64, error)
}

// Manager keeps the calls bridged by this process and mirrors them to an optional
// Tracker. Tracker failures are logged and never fail a call.
type Manager struct {
	tracker Tracker
	log     zerolog.Logger

	mu    sync.RWMutex
	calls map[string]*models.ActiveCall
}

// NewManager creates a new call manager. tracker may be nil.
func NewManager(tracker Tracker, logger zerolog.Logger) *Manager {
	return &Manager{
		tracker: tracker,
		log:     logger,
		calls:   make(map[string]*models.ActiveCall),
	}
}

// Add registers a call
func (m *Manager) Add(ctx context.Context, call *models.ActiveCall) {
	m.mu.Lock()
	m.calls[call.SessionID] = call
	snapshot := *call
	m.mu.Unlock()

	m.mirror(ctx, &snapshot)
}

// Update applies fn to a registered call. Unknown sessions are ignored.
func (m *Manager) Update(ctx context.Context, sessionID string, fn func(*models.ActiveCall)) {
	m.mu.Lock()
	call, ok := m.calls[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	fn(call)
	snapshot := *call
	m.mu.Unlock()

	m.mirror(ctx, &snapshot)
}

// Remove forgets a call that ended with status
func (m *Manager) Remove(ctx context.Context, sessionID string, status models.CallStatus) {
	m.mu.Lock()
	call, ok := m.calls[sessionID]
	delete(m.calls, sessionID)
	m.mu.Unlock()

	if !ok {
		return
	}
	m.log.Info().
		Str("session_id", sessionID).
		Str("stream_sid", call.StreamSID).
		Str("call_sid", call.CallSID).
		Str("status", string(status)).
		Dur("duration", time.Since(call.StartedAt)).
		Msg("[Call] Session removed")

	if m.tracker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	if err := m.tracker.RemoveActiveCall(ctx, sessionID); err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("[Call] Failed to remove active call from cache")
	}
}

// KeepAlive rewrites every local call to the tracker each interval until ctx is done,
// so tracker records outlive their TTL for as long as the call runs. interval should
// be well under the tracker TTL.
func (m *Manager) KeepAlive(ctx context.Context, interval time.Duration) {
	if m.tracker == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refresh(ctx)
		}
	}
}

func (m *Manager) refresh(ctx context.Context) {
	m.mu.RLock()
	snapshot := make([]models.ActiveCall, 0, len(m.calls))
	for _, call := range m.calls {
		snapshot = append(snapshot, *call)
	}
	m.mu.RUnlock()

	for i := range snapshot {
		m.mirror(ctx, &snapshot[i])
	}
}

// ActiveCount returns the number of calls bridged by this process
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// Count returns the active-call count from the tracker when one is configured,
// otherwise from this process.
func (m *Manager) Count(ctx context.Context) (int64, string, error) {
	if m.tracker == nil {
		return int64(m.ActiveCount()), SourceLocal, nil
	}
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	n, err := m.tracker.GetActiveCallCount(ctx)
	if err != nil {
		return 0, SourceValkey, err
	}
	return n, SourceValkey, nil
}

func (m *Manager) mirror(ctx context.Context, call *models.ActiveCall) {
	if m.tracker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	if err := m.tracker.SetActiveCall(ctx, call); err != nil {
		m.log.Warn().Err(err).Str("session_id", call.SessionID).Msg("[Call] Failed to track active call")
	}
}
