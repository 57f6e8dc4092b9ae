package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
)

const (
	maxLicenseIDLength   = 128
	maxFingerprintLength = 256
)

func validateToken(field, value string, max int) error {
	if strings.TrimSpace(value) == "" {
		return invalidf("%s is required", field)
	}
	if len(value) > max {
		return invalidf("%s exceeds %d characters", field, max)
	}
	for _, r := range value {
		if !unicode.IsPrint(r) {
			return invalidf("%s contains non-printable characters", field)
		}
	}
	return nil
}

// CreateLicense registers a new premium license id.
func (s *Service) CreateLicense(ctx context.Context, id string, active bool) (*LicenseRecord, error) {
	if err := validateToken("license id", id, maxLicenseIDLength); err != nil {
		return nil, err
	}

	rec := &LicenseRecord{ID: id, Active: active, IsTrial: false, CreatedAt: s.clock()}
	if err := s.store.InsertLicense(ctx, rec); err != nil {
		log.Warn().Err(err).Str("license_id", id).Msg("failed to add license")
		return nil, err
	}
	log.Info().Str("license_id", id).Bool("active", active).Msg("license added")
	return rec, nil
}

// SetActive activates or deactivates a license. Records are never deleted.
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	if err := validateToken("license id", id, maxLicenseIDLength); err != nil {
		return err
	}
	if err := s.store.SetLicenseActive(ctx, id, active); err != nil {
		return err
	}
	log.Info().Str("license_id", id).Bool("active", active).Msg("license state changed")
	return nil
}

// Lookup returns the record for id or ErrNotFound.
func (s *Service) Lookup(ctx context.Context, id string) (*LicenseRecord, error) {
	if err := validateToken("license id", id, maxLicenseIDLength); err != nil {
		return nil, err
	}
	return s.store.GetLicense(ctx, id)
}

// ListLicenses returns every issued license, trial included.
func (s *Service) ListLicenses(ctx context.Context) ([]LicenseRecord, error) {
	return s.store.ListLicenses(ctx)
}

// EnsureTrialLicense inserts the shared trial record if it is missing.
// Safe to call on every startup.
func (s *Service) EnsureTrialLicense(ctx context.Context) error {
	rec := &LicenseRecord{ID: s.cfg.TrialLicenseID, Active: true, IsTrial: true, CreatedAt: s.clock()}
	created, err := s.store.InsertLicenseIfMissing(ctx, rec)
	if errors.Is(err, ErrAlreadyExists) {
		return fmt.Errorf("configured trial id %q conflicts with an existing trial record: %w", rec.ID, err)
	}
	if err != nil {
		return err
	}
	if created {
		log.Info().Str("license_id", rec.ID).Msg("trial license initialized")
		return nil
	}

	existing, err := s.store.GetLicense(ctx, rec.ID)
	if err != nil {
		return err
	}
	if !existing.IsTrial {
		return fmt.Errorf("configured trial id %q already exists as a premium license", rec.ID)
	}
	return nil
}
