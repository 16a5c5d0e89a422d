package api

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/shiv6146/twilio-realtime-relay/internal/call"
	"github.com/shiv6146/twilio-realtime-relay/internal/config"
	"github.com/shiv6146/twilio-realtime-relay/internal/observability"
	"github.com/shiv6146/twilio-realtime-relay/internal/twiml"
)

// Server serves the health check, the Twilio webhooks and the media stream endpoint
type Server struct {
	config     *config.Config
	handler    *Handler
	bridge     *call.Bridge
	metrics    *observability.Metrics
	log        zerolog.Logger
	router     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	errCh      chan error
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, calls *call.Manager, bridge *call.Bridge, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	gin.SetMode(ginMode(cfg.GinMode))

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	s := &Server{
		config:  cfg,
		handler: NewHandler(calls, logger),
		bridge:  bridge,
		metrics: metrics,
		log:     logger,
		router:  router,
	}

	s.setupRoutes()
	return s
}

// ginMode maps unknown values to release; gin.SetMode panics on them
func ginMode(mode string) string {
	switch mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		return mode
	default:
		return gin.ReleaseMode
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handler.HealthCheck)
	s.router.GET("/status", s.handler.Status)

	// Twilio may be configured to use GET or POST for webhooks
	s.router.Any("/incoming-call", s.handler.IncomingCall)
	s.router.Any("/voice", s.handler.Voice)

	s.router.GET(twiml.MediaStreamPath, s.bridge.HandleMediaStream)

	if s.config.MetricsEnabled && s.metrics != nil {
		s.router.GET(s.config.MetricsPath, gin.WrapH(s.metrics.Handler()))
	}

	if s.config.SwaggerEnabled {
		s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
}

// Start binds the listener and serves in the background. Bind errors are returned
// directly; later serve errors arrive on Errors.
func (s *Server) Start() error {
	addr := s.config.Addr()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.errCh = make(chan error, 1)
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		defer close(s.errCh)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("Server is listening")
	if s.config.SwaggerEnabled {
		s.log.Info().Msgf("Swagger UI available at http://%s/swagger/index.html", ln.Addr())
	}
	return nil
}

// Errors reports a failure of the serve loop after Start. It is closed when the
// server stops.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Addr returns the bound listener address, or "" before Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops accepting connections immediately. Calls already bridged are not drained.
func (s *Server) Close() error {
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
