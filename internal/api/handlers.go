// Package api provides the HTTP handlers for twilio-realtime-relay
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog"

	"github.com/shiv6146/twilio-realtime-relay/internal/call"
	"github.com/shiv6146/twilio-realtime-relay/internal/models"
	"github.com/shiv6146/twilio-realtime-relay/internal/twiml"
)

// HealthMessage is the body of the health check
const HealthMessage = "Twilio Media Stream Server is running!"

const contentTypeXML = "text/xml"

// Handler holds the API dependencies
type Handler struct {
	calls *call.Manager
	log   zerolog.Logger
}

// NewHandler creates a new API handler
func NewHandler(calls *call.Manager, logger zerolog.Logger) *Handler {
	return &Handler{
		calls: calls,
		log:   logger,
	}
}

// =============================================================================
// Health Check
// =============================================================================

// HealthCheck godoc
// @Summary Health check
// @Description Reports that the relay is up
// @Tags Health
// @Produce json
// @Success 200 {object} models.HealthResponse
// @Router / [get]
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{Message: HealthMessage})
}

// =============================================================================
// Twilio Webhooks
// =============================================================================

// IncomingCall godoc
// @Summary Incoming call webhook
// @Description Returns TwiML that connects the call to the media stream on this host. Accepts any HTTP method.
// @Tags Webhooks
// @Accept x-www-form-urlencoded
// @Produce xml
// @Param CallSid formData string false "Twilio call SID"
// @Param From formData string false "Caller"
// @Param To formData string false "Called number"
// @Success 200 {string} string "TwiML document"
// @Router /incoming-call [post]
func (h *Handler) IncomingCall(c *gin.Context) {
	h.respondTwiML(c, "")
}

// Voice godoc
// @Summary Legacy voice webhook
// @Description Same as /incoming-call with a spoken greeting before the stream opens. Accepts any HTTP method.
// @Tags Webhooks
// @Accept x-www-form-urlencoded
// @Produce xml
// @Param CallSid formData string false "Twilio call SID"
// @Param From formData string false "Caller"
// @Param To formData string false "Called number"
// @Success 200 {string} string "TwiML document"
// @Router /voice [post]
func (h *Handler) Voice(c *gin.Context) {
	h.respondTwiML(c, twiml.Greeting)
}

func (h *Handler) respondTwiML(c *gin.Context, say string) {
	var in models.IncomingCall
	// Twilio parameters only feed the log line; a request without them is still answered
	if err := c.ShouldBindWith(&in, binding.Form); err != nil {
		h.log.Debug().Err(err).Msg("[Webhook] Could not parse webhook parameters")
	}

	host := c.Request.Host
	h.log.Info().
		Str("path", c.Request.URL.Path).
		Str("method", c.Request.Method).
		Str("host", host).
		Str("call_sid", in.CallSID).
		Str("from", in.From).
		Str("to", in.To).
		Msg("[Webhook] Incoming call")

	body := twiml.ConnectStream(twiml.StreamURL(host), say)
	c.Data(http.StatusOK, contentTypeXML, []byte(body))
}

// =============================================================================
// Status
// =============================================================================

// Status godoc
// @Summary Active calls
// @Description Number of calls currently bridged. Counted across relays when Valkey is configured, otherwise for this process.
// @Tags Health
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /status [get]
func (h *Handler) Status(c *gin.Context) {
	n, source, err := h.calls.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "Failed to count active calls", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{ActiveCalls: n, Source: source})
}
