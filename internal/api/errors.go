package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/querygate/internal/gateway"
	"github.com/querygate/internal/license"
	"github.com/querygate/internal/logging"
	"github.com/querygate/pkg/models"
)

// classifyError maps service errors onto a status code and wire body.
func classifyError(err error) (int, models.ErrorResponse) {
	var upErr *gateway.UpstreamError
	if errors.As(err, &upErr) {
		status := http.StatusBadGateway
		if upErr.Timeout() {
			status = http.StatusGatewayTimeout
		}
		return status, models.ErrorResponse{Error: models.CodeUpstream, Detail: upErr.Error()}
	}

	var quotaErr *license.QuotaError
	if errors.As(err, &quotaErr) {
		code := models.CodeQuotaExceeded
		if errors.Is(err, license.ErrTrialExpired) {
			code = models.CodeTrialExpired
		}
		return http.StatusForbidden, models.ErrorResponse{Error: code, Detail: quotaErr.Message}
	}

	detail := strings.TrimPrefix(err.Error(), "license: ")
	switch license.KindOf(err) {
	case license.KindValidation:
		return http.StatusBadRequest, models.ErrorResponse{Error: models.CodeInvalidRequest, Detail: detail}
	case license.KindNotFound:
		return http.StatusNotFound, models.ErrorResponse{Error: models.CodeNotFound, Detail: detail}
	case license.KindConflict:
		return http.StatusConflict, models.ErrorResponse{Error: models.CodeConflict, Detail: detail}
	case license.KindForbidden:
		return http.StatusForbidden, models.ErrorResponse{Error: models.CodeForbidden, Detail: detail}
	case license.KindQuota:
		return http.StatusForbidden, models.ErrorResponse{Error: models.CodeQuotaExceeded, Detail: detail}
	case license.KindUnavailable:
		return http.StatusServiceUnavailable, models.ErrorResponse{Error: models.CodeUnavailable, Detail: "license store unavailable, try again later"}
	default:
		return http.StatusInternalServerError, models.ErrorResponse{Error: models.CodeInternal, Detail: "internal error"}
	}
}

func writeError(c echo.Context, err error) error {
	status, body := classifyError(err)
	if status >= 500 {
		logging.FromContext(c.Request().Context()).Error().Err(err).Int("status", status).Msg("request failed")
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, detail string) error {
	return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.CodeInvalidRequest, Detail: detail})
}

// handleHTTPError renders router and middleware errors in the same body
// shape as handler errors.
func (s *Server) handleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := models.ErrorResponse{Error: models.CodeInternal, Detail: "internal error"}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		body.Detail = http.StatusText(status)
		if msg, ok := he.Message.(string); ok && msg != "" {
			body.Detail = msg
		}
		switch {
		case status == http.StatusNotFound:
			body.Error = models.CodeNotFound
		case status == http.StatusUnauthorized:
			body.Error = models.CodeUnauthenticated
		case status == http.StatusTooManyRequests:
			body.Error = models.CodeRateLimited
		case status < 500:
			body.Error = models.CodeInvalidRequest
		}
	} else {
		status, body = classifyError(err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		logging.FromContext(c.Request().Context()).Error().Err(err).Msg("failed to write error response")
	}
}
