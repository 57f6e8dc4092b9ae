package license

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput            = errors.New("license: invalid input")
	ErrInvalidActivationCode   = errors.New("license: invalid trial activation code")
	ErrNotFound                = errors.New("license: not found")
	ErrAlreadyExists           = errors.New("license: already exists")
	ErrInactive                = errors.New("license: inactive")
	ErrTrialLicenseNotEligible = errors.New("license: trial license cannot be used for premium activation")
	ErrAlreadyBound            = errors.New("license: device already holds an entitlement")
	ErrDeviceMismatch          = errors.New("license: device does not match the bound device")
	ErrDeviceAlreadyBound      = errors.New("license: device already bound to another license")
	ErrActivationConflict      = errors.New("license: concurrent activation conflict")
	ErrNotEntitled             = errors.New("license: no activation found for this device")
	ErrQuotaExceeded           = errors.New("license: trial command limit reached")
	ErrTrialExpired            = errors.New("license: trial period has ended")
)

// StoreUnavailableError wraps store failures distinct from licence semantic errors.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string { return "store unavailable: " + e.Op + ": " + e.Err.Error() }
func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// QuotaError is a trial rejection carrying the remediation shown to end users.
type QuotaError struct {
	Err     error
	Message string
}

func (e *QuotaError) Error() string { return e.Message }
func (e *QuotaError) Unwrap() error { return e.Err }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Kind groups errors by how a caller should react to them.
type Kind string

const (
	KindNone        Kind = ""
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindForbidden   Kind = "forbidden"
	KindQuota       Kind = "quota"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

// KindOf classifies err. Conflicts stay distinguishable from NotFound and
// Inactive so callers can render precise messages.
func KindOf(err error) Kind {
	var storeErr *StoreUnavailableError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidActivationCode):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrAlreadyBound),
		errors.Is(err, ErrDeviceMismatch),
		errors.Is(err, ErrDeviceAlreadyBound),
		errors.Is(err, ErrActivationConflict):
		return KindConflict
	case errors.Is(err, ErrInactive), errors.Is(err, ErrTrialLicenseNotEligible), errors.Is(err, ErrNotEntitled):
		return KindForbidden
	case errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrTrialExpired):
		return KindQuota
	case errors.As(err, &storeErr):
		return KindUnavailable
	default:
		return KindInternal
	}
}
