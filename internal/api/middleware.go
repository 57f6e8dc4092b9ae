package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/querygate/internal/logging"
	"github.com/querygate/pkg/models"
)

// requireKey rejects requests whose header does not match want.
func requireKey(header, want string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := c.Request().Header.Get(header)
			if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				logging.FromContext(c.Request().Context()).Warn().
					Str("header", header).Str("ip", c.RealIP()).Msg("invalid credential")
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:  models.CodeUnauthenticated,
					Detail: "Invalid " + header,
				})
			}
			return next(c)
		}
	}
}

// requestLogger logs one line per request and feeds the HTTP metrics.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.metrics.ObserveRequest(v.Method, v.RoutePath, v.Status, v.Latency)

			level := zerolog.InfoLevel
			switch {
			case v.Status >= 500:
				level = zerolog.ErrorLevel
			case v.Status >= 400:
				level = zerolog.WarnLevel
			}
			ev := logging.FromContext(c.Request().Context()).WithLevel(level).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("ip", v.RemoteIP)
			if v.Error != nil {
				ev = ev.Err(v.Error)
			}
			ev.Msg("request")
			return nil
		},
	})
}

// activationRateLimiter throttles activation attempts per client IP.
func (s *Server) activationRateLimiter() echo.MiddlewareFunc {
	limit := s.cfg.Server.ActivationRateLimit
	if limit <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	burst := s.cfg.Server.ActivationBurst
	if burst <= 0 {
		burst = int(limit)
	}

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(limit),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, models.ErrorResponse{Error: models.CodeForbidden, Detail: "unable to identify client"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			logging.FromContext(c.Request().Context()).Warn().Str("ip", identifier).Msg("activation rate limit exceeded")
			return c.JSON(http.StatusTooManyRequests, models.ErrorResponse{Error: models.CodeRateLimited, Detail: "Too many activation attempts, slow down"})
		},
	})
}
