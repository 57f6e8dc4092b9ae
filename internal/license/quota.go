package license

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// TrialExpired reports whether the global trial cutoff has passed.
func (s *Service) TrialExpired() bool {
	if s.cfg.TrialExpiresAt.IsZero() {
		return false
	}
	return s.clock().After(s.cfg.TrialExpiresAt)
}

// AuthorizeTrialQuery checks the cutoff and consumes one unit of the
// device's quota. It returns the remaining budget after this query.
//
// The consumption is a single conditional UPDATE so concurrent queries
// from one device can never push the counter past the limit.
func (s *Service) AuthorizeTrialQuery(ctx context.Context, fingerprint string) (int, error) {
	if s.TrialExpired() {
		log.Info().Str("fingerprint", shortFP(fingerprint)).Msg("trial expired")
		return 0, &QuotaError{Err: ErrTrialExpired, Message: s.cfg.expiredMessage()}
	}

	limit := s.cfg.TrialCommandLimit
	count, ok, err := s.store.IncrementTrialUsage(ctx, fingerprint, s.cfg.TrialLicenseID, limit)
	if err != nil {
		return 0, err
	}
	if !ok {
		usage, err := s.store.GetTrialUsage(ctx, fingerprint, s.cfg.TrialLicenseID)
		if err != nil {
			return 0, err
		}
		if usage == nil {
			return 0, fmt.Errorf("%w: no trial activation for this device", ErrNotEntitled)
		}
		log.Info().Str("fingerprint", shortFP(fingerprint)).Int("count", usage.CommandCount).Msg("trial command limit reached")
		return 0, &QuotaError{Err: ErrQuotaExceeded, Message: s.cfg.quotaMessage()}
	}

	log.Info().Str("fingerprint", shortFP(fingerprint)).Msgf("trial command count updated: %d/%d", count, limit)
	return limit - count, nil
}

// Status resolves the entitlement and reports remaining trial budget
// without consuming any of it.
func (s *Service) Status(ctx context.Context, licenseID, fingerprint string) (*Status, error) {
	ent, err := s.ResolveEntitlement(ctx, licenseID, fingerprint)
	if err != nil {
		return nil, err
	}

	st := &Status{Entitlement: *ent, Remaining: -1}
	if !ent.IsTrial() {
		return st, nil
	}

	st.Limit = s.cfg.TrialCommandLimit
	st.Remaining = max(st.Limit-ent.CommandCount, 0)
	if !s.cfg.TrialExpiresAt.IsZero() {
		exp := s.cfg.TrialExpiresAt
		st.ExpiresAt = &exp
	}
	st.Expired = s.TrialExpired()
	return st, nil
}
