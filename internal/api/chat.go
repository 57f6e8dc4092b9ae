package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/querygate/internal/gateway"
	"github.com/querygate/pkg/models"
)

func (s *Server) handleChat(c echo.Context) error {
	var body models.ChatRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	h := c.Request().Header
	ans, err := s.gateway.SubmitQuery(c.Request().Context(), gateway.Request{
		LicenseID:   h.Get(models.HeaderRegNo),
		Fingerprint: h.Get(models.HeaderMACAddress),
		Query:       body.Query,
	})
	if err != nil {
		return writeError(c, err)
	}

	resp := models.ChatResponse{Response: ans.Text, Cached: ans.Cached, ElapsedMS: ans.Elapsed.Milliseconds()}
	if ans.Remaining >= 0 {
		remaining := ans.Remaining
		resp.Remaining = &remaining
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStatus(c echo.Context) error {
	h := c.Request().Header
	st, err := s.licenses.Status(c.Request().Context(), h.Get(models.HeaderRegNo), h.Get(models.HeaderMACAddress))
	if err != nil {
		return writeError(c, err)
	}

	resp := models.StatusResponse{
		LicenseID: st.Entitlement.LicenseID,
		Kind:      st.Entitlement.Kind,
		Expired:   st.Expired,
	}
	if st.Entitlement.IsTrial() {
		limit, used, remaining := st.Limit, st.Entitlement.CommandCount, st.Remaining
		resp.Limit, resp.Used, resp.Remaining = &limit, &used, &remaining
	}
	if st.ExpiresAt != nil {
		exp := st.ExpiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &exp
	}
	return c.JSON(http.StatusOK, resp)
}
