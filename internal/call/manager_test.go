package call

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiv6146/twilio-realtime-relay/internal/logging"
	"github.com/shiv6146/twilio-realtime-relay/internal/models"
)

type fakeTracker struct {
	mu       sync.Mutex
	calls    map[string]models.ActiveCall
	countErr error
	setErr   error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{calls: make(map[string]models.ActiveCall)}
}

func (f *fakeTracker) SetActiveCall(_ context.Context, call *models.ActiveCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.calls[call.SessionID] = *call
	return nil
}

func (f *fakeTracker) RemoveActiveCall(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.calls, sessionID)
	return nil
}

func (f *fakeTracker) GetActiveCallCount(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	// Pretend another relay holds one more call
	return int64(len(f.calls)) + 1, nil
}

func (f *fakeTracker) get(id string) (models.ActiveCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[id]
	return c, ok
}

func TestManagerLocalCount(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	ctx := context.Background()

	m.Add(ctx, &models.ActiveCall{SessionID: "a", Status: models.CallStatusActive, StartedAt: time.Now()})
	m.Add(ctx, &models.ActiveCall{SessionID: "b", Status: models.CallStatusActive, StartedAt: time.Now()})

	n, source, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, SourceLocal, source)

	m.Remove(ctx, "a", models.CallStatusCompleted)
	m.Remove(ctx, "missing", models.CallStatusCompleted)
	assert.Equal(t, 1, m.ActiveCount())
}

func TestManagerMirrorsToTracker(t *testing.T) {
	tracker := newFakeTracker()
	m := NewManager(tracker, zerolog.Nop())
	ctx := context.Background()

	m.Add(ctx, &models.ActiveCall{SessionID: "a", Status: models.CallStatusConnecting, StartedAt: time.Now()})
	m.Update(ctx, "a", func(c *models.ActiveCall) {
		c.Status = models.CallStatusActive
		c.StreamSID = "MZ1"
	})
	m.Update(ctx, "unknown", func(c *models.ActiveCall) {
		t.Fatal("update called for unknown session")
	})

	mirrored, ok := tracker.get("a")
	require.True(t, ok)
	assert.Equal(t, models.CallStatusActive, mirrored.Status)
	assert.Equal(t, "MZ1", mirrored.StreamSID)

	n, source, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, SourceValkey, source)

	m.Remove(ctx, "a", models.CallStatusCompleted)
	_, ok = tracker.get("a")
	assert.False(t, ok)
}

func TestManagerTrackerFailures(t *testing.T) {
	tracker := newFakeTracker()
	tracker.setErr = errors.New("connection refused")
	tracker.countErr = errors.New("connection refused")
	m := NewManager(tracker, zerolog.Nop())
	ctx := context.Background()

	// A failing tracker never loses the local record
	m.Add(ctx, &models.ActiveCall{SessionID: "a", StartedAt: time.Now()})
	assert.Equal(t, 1, m.ActiveCount())

	_, source, err := m.Count(ctx)
	assert.Error(t, err)
	assert.Equal(t, SourceValkey, source)
}

func TestManagerRemoveLogsFinalStatus(t *testing.T) {
	var logs bytes.Buffer
	m := NewManager(nil, logging.NewWithWriter(&logs, "info", "json"))
	ctx := context.Background()

	m.Add(ctx, &models.ActiveCall{SessionID: "a", StartedAt: time.Now()})
	m.Update(ctx, "a", func(c *models.ActiveCall) { c.CallSID = "CA9" })
	m.Remove(ctx, "a", models.CallStatusFailed)

	assert.Contains(t, logs.String(), `"message":"[Call] Session removed"`)
	assert.Contains(t, logs.String(), `"status":"failed"`)
	assert.Contains(t, logs.String(), `"call_sid":"CA9"`)
}

func TestManagerKeepAliveRefreshesTracker(t *testing.T) {
	tracker := newFakeTracker()
	m := NewManager(tracker, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Add(ctx, &models.ActiveCall{SessionID: "long-call", Status: models.CallStatusActive, StartedAt: time.Now()})

	// Simulate the tracker record expiring while the call is still up
	require.NoError(t, tracker.RemoveActiveCall(ctx, "long-call"))

	done := make(chan struct{})
	go func() {
		m.KeepAlive(ctx, 20*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, ok := tracker.get("long-call")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("KeepAlive did not stop")
	}
}

func TestManagerKeepAliveWithoutTracker(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	// Returns immediately instead of ticking forever
	m.KeepAlive(context.Background(), time.Millisecond)
}
