package license

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/rs/zerolog/log"
)

// shortFP keeps fingerprints recognisable in logs without writing them out whole.
func shortFP(fp string) string {
	if len(fp) <= 12 {
		return fp
	}
	return fp[:12] + "…"
}

// ActivateTrial starts the shared trial on a device that holds no
// entitlement yet and returns the trial license id.
func (s *Service) ActivateTrial(ctx context.Context, activationCode, fingerprint string) (string, error) {
	if err := validateToken("device fingerprint", fingerprint, maxFingerprintLength); err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(activationCode), []byte(s.cfg.TrialActivationCode)) != 1 {
		log.Warn().Str("fingerprint", shortFP(fingerprint)).Msg("invalid trial activation code")
		return "", ErrInvalidActivationCode
	}

	trial, err := s.store.GetLicense(ctx, s.cfg.TrialLicenseID)
	if err != nil {
		return "", err
	}
	if !trial.Active {
		return "", fmt.Errorf("%w: %s", ErrInactive, trial.ID)
	}

	claim, err := s.store.GetClaim(ctx, fingerprint)
	if err != nil {
		return "", err
	}
	if claim != nil {
		log.Warn().Str("fingerprint", shortFP(fingerprint)).Str("kind", claim.Kind).Msg("device already holds an entitlement")
		return "", fmt.Errorf("%w: device already used for %s", ErrAlreadyBound, claim.Kind)
	}

	// The read above only gives a friendly message; the claim's primary
	// key decides concurrent activations.
	if err := s.store.CreateTrialUsage(ctx, fingerprint, trial.ID, s.clock()); err != nil {
		log.Warn().Err(err).Str("fingerprint", shortFP(fingerprint)).Msg("trial activation failed")
		return "", err
	}

	log.Info().Str("license_id", trial.ID).Str("fingerprint", shortFP(fingerprint)).Msg("trial activation successful")
	return trial.ID, nil
}

// ActivatePremium binds licenseID to fingerprint. Re-activating from the
// bound device refreshes the timestamp; any other device is rejected.
func (s *Service) ActivatePremium(ctx context.Context, licenseID, fingerprint string) (*PremiumActivation, error) {
	if err := validateToken("license id", licenseID, maxLicenseIDLength); err != nil {
		return nil, err
	}
	if err := validateToken("device fingerprint", fingerprint, maxFingerprintLength); err != nil {
		return nil, err
	}

	rec, err := s.store.GetLicense(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	switch {
	case !rec.Active:
		return nil, fmt.Errorf("%w: %s", ErrInactive, licenseID)
	case rec.IsTrial:
		return nil, fmt.Errorf("%w: %s", ErrTrialLicenseNotEligible, licenseID)
	}

	now := s.clock()

	existing, err := s.store.GetBindingByLicense(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.DeviceFingerprint != fingerprint {
			log.Warn().Str("license_id", licenseID).
				Str("bound", shortFP(existing.DeviceFingerprint)).
				Str("provided", shortFP(fingerprint)).
				Msg("device mismatch on activation")
			return nil, fmt.Errorf("%w: license %s", ErrDeviceMismatch, licenseID)
		}
		if err := s.store.TouchBinding(ctx, licenseID, fingerprint, now); err != nil {
			return nil, err
		}
		log.Info().Str("license_id", licenseID).Str("fingerprint", shortFP(fingerprint)).Msg("re-activation successful")
		existing.ActivatedAt = now
		return &PremiumActivation{Binding: *existing, Reactivated: true}, nil
	}

	claim, err := s.store.GetClaim(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if claim != nil {
		return nil, fmt.Errorf("%w: device holds a %s entitlement", ErrDeviceAlreadyBound, claim.Kind)
	}

	if err := s.store.CreateBinding(ctx, licenseID, fingerprint, now); err != nil {
		log.Warn().Err(err).Str("license_id", licenseID).Str("fingerprint", shortFP(fingerprint)).Msg("activation failed")
		return nil, err
	}

	log.Info().Str("license_id", licenseID).Str("fingerprint", shortFP(fingerprint)).Msg("activation successful")
	return &PremiumActivation{
		Binding: ActivationBinding{LicenseID: licenseID, DeviceFingerprint: fingerprint, ActivatedAt: now},
	}, nil
}

// ResolveEntitlement authorizes a (license, device) pair before a query.
// Deactivated licenses are rejected as well as unbound pairs.
func (s *Service) ResolveEntitlement(ctx context.Context, licenseID, fingerprint string) (*Entitlement, error) {
	if err := validateToken("license id", licenseID, maxLicenseIDLength); err != nil {
		return nil, err
	}
	if err := validateToken("device fingerprint", fingerprint, maxFingerprintLength); err != nil {
		return nil, err
	}

	if licenseID == s.cfg.TrialLicenseID {
		usage, err := s.store.GetTrialUsage(ctx, fingerprint, licenseID)
		if err != nil {
			return nil, err
		}
		if usage == nil {
			log.Warn().Str("fingerprint", shortFP(fingerprint)).Msg("no trial activation found")
			return nil, fmt.Errorf("%w: no trial activation for this device", ErrNotEntitled)
		}
		if err := s.requireActive(ctx, licenseID); err != nil {
			return nil, err
		}
		return &Entitlement{Kind: KindTrial, LicenseID: licenseID, DeviceFingerprint: fingerprint, CommandCount: usage.CommandCount}, nil
	}

	binding, err := s.store.GetBindingByLicense(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	if binding == nil {
		log.Warn().Str("license_id", licenseID).Msg("invalid or unactivated license")
		return nil, fmt.Errorf("%w: license %s is not activated", ErrNotEntitled, licenseID)
	}
	if binding.DeviceFingerprint != fingerprint {
		log.Warn().Str("license_id", licenseID).Str("provided", shortFP(fingerprint)).Msg("device mismatch on query")
		return nil, fmt.Errorf("%w: license %s", ErrDeviceMismatch, licenseID)
	}
	if err := s.requireActive(ctx, licenseID); err != nil {
		return nil, err
	}
	return &Entitlement{Kind: KindPremium, LicenseID: licenseID, DeviceFingerprint: fingerprint}, nil
}

func (s *Service) requireActive(ctx context.Context, licenseID string) error {
	rec, err := s.store.GetLicense(ctx, licenseID)
	if err != nil {
		return err
	}
	if !rec.Active {
		return fmt.Errorf("%w: %s", ErrInactive, licenseID)
	}
	return nil
}
