package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	lic "github.com/querygate/internal/license"
	"github.com/querygate/pkg/models"
)

func (s *Server) handleTrialActivate(c echo.Context) error {
	var body models.TrialActivateRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	id, err := s.licenses.ActivateTrial(c.Request().Context(), body.ActivationCode, body.Fingerprint())
	if err != nil {
		s.metrics.Activation(lic.KindTrial, string(lic.KindOf(err)))
		return writeError(c, err)
	}
	s.metrics.Activation(lic.KindTrial, "ok")
	return c.JSON(http.StatusOK, models.TrialActivateResponse{Message: "Trial activation successful", RegNo: id, LicenseID: id})
}

func (s *Server) handleActivate(c echo.Context) error {
	var body models.ActivateRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	res, err := s.licenses.ActivatePremium(c.Request().Context(), body.License(), body.Fingerprint())
	if err != nil {
		s.metrics.Activation(lic.KindPremium, string(lic.KindOf(err)))
		return writeError(c, err)
	}
	outcome := "ok"
	if res.Reactivated {
		outcome = "reactivated"
	}
	s.metrics.Activation(lic.KindPremium, outcome)
	return c.JSON(http.StatusOK, models.MessageResponse{Message: "Activation successful"})
}

// attachAdminRoutes registers license management endpoints.
func (s *Server) attachAdminRoutes(g *echo.Group) {
	g.POST("/add_reg_no", s.handleAddLicense)
	g.POST("/add_license", s.handleAddLicense)
	g.GET("/licenses", s.handleListLicenses)
	g.GET("/licenses/:id", s.handleGetLicense)
	g.POST("/licenses/:id/deactivate", s.handleSetActive(false))
	g.POST("/licenses/:id/activate", s.handleSetActive(true))
	g.POST("/cache/purge", s.handlePurgeCache)
}

func (s *Server) handlePurgeCache(c echo.Context) error {
	n := s.gateway.PurgeCache()
	return c.JSON(http.StatusOK, models.MessageResponse{Message: fmt.Sprintf("Purged %d cached answers", n)})
}

func toLicenseDTO(rec lic.LicenseRecord) models.License {
	return models.License{
		ID:        rec.ID,
		Active:    rec.Active,
		IsTrial:   rec.IsTrial,
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleAddLicense(c echo.Context) error {
	var body models.AddLicenseRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	rec, err := s.licenses.CreateLicense(c.Request().Context(), body.License(), body.Active())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, models.MessageResponse{Message: fmt.Sprintf("Registration number %s added successfully", rec.ID)})
}

func (s *Server) handleListLicenses(c echo.Context) error {
	recs, err := s.licenses.ListLicenses(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	out := models.LicenseList{Licenses: make([]models.License, 0, len(recs)), Count: len(recs)}
	for _, rec := range recs {
		out.Licenses = append(out.Licenses, toLicenseDTO(rec))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetLicense(c echo.Context) error {
	rec, err := s.licenses.Lookup(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toLicenseDTO(*rec))
}

func (s *Server) handleSetActive(active bool) echo.HandlerFunc {
	verb := "deactivated"
	if active {
		verb = "activated"
	}
	return func(c echo.Context) error {
		id := c.Param("id")
		if err := s.licenses.SetActive(c.Request().Context(), id, active); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, models.MessageResponse{Message: fmt.Sprintf("License %s %s", id, verb)})
	}
}
