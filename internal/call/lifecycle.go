package call

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/shiv6146/twilio-realtime-relay/internal/observability"
	"github.com/shiv6146/twilio-realtime-relay/internal/realtime"
)

// watchLifecycle logs and counts the error and close events of a session. It must be
// attached before Connect so a failed handshake is reported too.
func watchLifecycle(s *realtime.Session, logger zerolog.Logger, metrics *observability.Metrics) {
	s.OnError(func(err error) {
		metrics.SessionEvents.WithLabelValues(observability.EventError).Inc()

		ev := logger.Error().Err(err)
		var apiErr *realtime.APIError
		if errors.As(err, &apiErr) {
			ev = ev.Str("error_type", apiErr.Type).Str("error_code", apiErr.Code)
		}
		ev.Msg("[realtime session] error")
	})

	s.OnClose(func(ce realtime.CloseEvent) {
		metrics.SessionEvents.WithLabelValues(observability.EventClose).Inc()
		logger.Info().
			Int("code", ce.Code).
			Str("reason", ce.Reason).
			Str("state", s.State().String()).
			Msg("[realtime session] closed")
	})
}
