package call

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/shiv6146/twilio-realtime-relay/internal/config"
	"github.com/shiv6146/twilio-realtime-relay/internal/models"
	"github.com/shiv6146/twilio-realtime-relay/internal/observability"
	"github.com/shiv6146/twilio-realtime-relay/internal/realtime"
	"github.com/shiv6146/twilio-realtime-relay/internal/twilio"
)

// Bridge connects each Twilio media stream to its own realtime session
type Bridge struct {
	config   *config.Config
	agent    *realtime.Agent
	manager  *Manager
	metrics  *observability.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewBridge creates the media-stream bridge. The agent is shared by every call.
func NewBridge(cfg *config.Config, agent *realtime.Agent, manager *Manager, metrics *observability.Metrics, logger zerolog.Logger) *Bridge {
	return &Bridge{
		config:  cfg,
		agent:   agent,
		manager: manager,
		metrics: metrics,
		log:     logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.WSHandshakeTimeout,
			// Twilio does not send an Origin header
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleMediaStream godoc
// @Summary Twilio media stream
// @Description WebSocket endpoint Twilio connects to after <Connect><Stream>. Caller audio is relayed to the OpenAI Realtime API and assistant audio back to the caller until either side hangs up.
// @Tags media
// @Success 101 "Switching Protocols"
// @Failure 400 {string} string "Not a WebSocket handshake"
// @Router /media-stream [get]
func (b *Bridge) HandleMediaStream(c *gin.Context) {
	conn, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already answered the request
		b.log.Warn().Err(err).Str("remote_addr", c.Request.RemoteAddr).Msg("[media-stream] upgrade failed")
		return
	}
	defer conn.Close()

	b.log.Info().Str("remote_addr", c.Request.RemoteAddr).Msg("[media-stream] websocket connected")

	b.serve(c.Request.Context(), conn)
}

// serve runs one call to completion on an upgraded socket
func (b *Bridge) serve(ctx context.Context, conn *websocket.Conn) {
	id := uuid.New().String()
	logger := b.log.With().Str("session_id", id).Logger()

	stream := twilio.NewMediaStream(conn,
		twilio.WithLogger(logger),
		twilio.WithWriteTimeout(b.config.WSWriteTimeout),
		twilio.WithFrameObserver(func(direction, event string) {
			b.metrics.MediaFrames.WithLabelValues(direction, event).Inc()
		}),
		twilio.WithStartHandler(func(info twilio.StartInfo) {
			b.manager.Update(context.Background(), id, func(call *models.ActiveCall) {
				call.StreamSID = info.StreamSID
				call.CallSID = info.CallSID
			})
		}),
	)

	session := realtime.NewSession(b.agent, stream,
		realtime.TelephonyConfig(b.config.RealtimeModel, b.config.RealtimeVoice),
		realtime.WithID(id),
		realtime.WithURL(b.config.RealtimeURL),
		realtime.WithDialer(&websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: b.config.WSHandshakeTimeout,
		}),
		realtime.WithWriteTimeout(b.config.WSWriteTimeout),
		realtime.WithLogger(logger),
	)
	watchLifecycle(session, logger, b.metrics)

	// Registered before Connect so the start frame always finds the call
	startedAt := time.Now()
	b.manager.Add(ctx, &models.ActiveCall{
		SessionID: id,
		Status:    models.CallStatusConnecting,
		StartedAt: startedAt.UTC(),
	})
	final := models.CallStatusFailed
	defer func() { b.manager.Remove(context.Background(), id, final) }()

	if err := session.Connect(ctx, b.config.OpenAIAPIKey); err != nil {
		b.metrics.SessionEvents.WithLabelValues(observability.EventConnectFailed).Inc()
		logger.Error().Err(err).Msg("[media-stream] Failed to connect to the OpenAI Realtime API")
		return
	}

	b.metrics.ObserveConnectLatency(time.Since(startedAt))
	b.metrics.SessionEvents.WithLabelValues(observability.EventConnected).Inc()
	b.metrics.ActiveSessions.Inc()
	defer b.metrics.ActiveSessions.Dec()

	b.manager.Update(ctx, id, func(call *models.ActiveCall) {
		call.Status = models.CallStatusActive
	})
	logger.Info().Str("model", b.config.RealtimeModel).Msg("[media-stream] Connected to the OpenAI Realtime API")

	session.Wait()
	if session.State() == realtime.StateClosed {
		final = models.CallStatusCompleted
	}
}
