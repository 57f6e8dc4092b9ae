package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/querygate/internal/config"
	"github.com/querygate/internal/gateway"
	"github.com/querygate/internal/license"
	"github.com/querygate/internal/logging"
	"github.com/querygate/internal/metrics"
	"github.com/querygate/pkg/models"
)

// Deps are the services the HTTP layer fronts.
type Deps struct {
	Licenses *license.Service
	Gateway  *gateway.Gateway
	Metrics  *metrics.Metrics
	// Monitor, when set, answers /health from its last store ping.
	Monitor *license.Monitor
}

// Server represents the API server
type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	licenses *license.Service
	gateway  *gateway.Gateway
	metrics  *metrics.Metrics
	monitor  *license.Monitor
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	server := &Server{
		echo:     e,
		cfg:      cfg,
		licenses: deps.Licenses,
		gateway:  deps.Gateway,
		metrics:  deps.Metrics,
		monitor:  deps.Monitor,
	}

	e.HTTPErrorHandler = server.handleHTTPError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			ctx, _ := logging.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	}))
	e.Use(server.requestLogger())
	if len(cfg.Server.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.Server.CORSOrigins,
			AllowHeaders: []string{echo.HeaderContentType, models.HeaderAPIKey, models.HeaderRegNo, models.HeaderMACAddress},
		}))
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	limited := s.activationRateLimiter()
	client := requireKey(models.HeaderAPIKey, s.cfg.Auth.APIKey)

	s.echo.POST("/trial_activate", s.handleTrialActivate, limited)
	s.echo.POST("/activate", s.handleActivate, limited, client)
	s.echo.POST("/chat", s.handleChat, client)
	s.echo.GET("/status", s.handleStatus, client)

	s.attachAdminRoutes(s.echo.Group("/admin", requireKey(models.HeaderAdminAPIKey, s.cfg.Auth.AdminAPIKey)))
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Server.Addr).Msg("API server listening")
		if err := s.echo.Start(s.cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info().Msg("shutting down API server")
	return s.echo.Shutdown(shutdownCtx)
}

// Start begins the API server and blocks until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.monitor != nil {
		if !s.monitor.Healthy() {
			return c.JSON(http.StatusServiceUnavailable, models.HealthResponse{Status: "unhealthy", Store: "unreachable"})
		}
		return c.JSON(http.StatusOK, models.HealthResponse{Status: "healthy", Store: "ok"})
	}
	if err := s.licenses.Ping(c.Request().Context()); err != nil {
		log.Error().Err(err).Msg("health check failed")
		return c.JSON(http.StatusServiceUnavailable, models.HealthResponse{Status: "unhealthy", Store: "unreachable"})
	}
	return c.JSON(http.StatusOK, models.HealthResponse{Status: "healthy", Store: "ok"})
}
