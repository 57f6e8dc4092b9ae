package models

import (
	"strings"
)

// HTTP headers carried by client requests.
const (
	HeaderAPIKey      = "X-API-Key"
	HeaderAdminAPIKey = "X-Admin-API-Key"
	HeaderRegNo       = "X-Reg-No"
	HeaderMACAddress  = "X-MAC-Address"
)

// Error codes returned in ErrorResponse.Error.
const (
	CodeInvalidRequest  = "invalid_request"
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeQuotaExceeded   = "quota_exceeded"
	CodeTrialExpired    = "trial_expired"
	CodeRateLimited     = "rate_limited"
	CodeUpstream        = "upstream_error"
	CodeUnavailable     = "store_unavailable"
	CodeInternal        = "internal_error"
)

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// TrialActivateRequest starts a trial on a device.
type TrialActivateRequest struct {
	ActivationCode    string `json:"activation_code"`
	MACAddress        string `json:"mac_address,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
}

// Fingerprint returns whichever device field was supplied.
func (r TrialActivateRequest) Fingerprint() string {
	return firstNonEmpty(r.DeviceFingerprint, r.MACAddress)
}

type TrialActivateResponse struct {
	Message   string `json:"message"`
	RegNo     string `json:"reg_no"`
	LicenseID string `json:"license_id"`
}

// ActivateRequest binds a premium license to a device.
type ActivateRequest struct {
	RegNo             string `json:"reg_no,omitempty"`
	LicenseID         string `json:"license_id,omitempty"`
	MACAddress        string `json:"mac_address,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
}

func (r ActivateRequest) License() string     { return firstNonEmpty(r.LicenseID, r.RegNo) }
func (r ActivateRequest) Fingerprint() string { return firstNonEmpty(r.DeviceFingerprint, r.MACAddress) }

type MessageResponse struct {
	Message string `json:"message"`
}

type ChatRequest struct {
	Query string `json:"query"`
}

// ChatResponse carries the answer. Remaining is omitted for premium licenses.
type ChatResponse struct {
	Response  string `json:"response"`
	Cached    bool   `json:"cached"`
	Remaining *int   `json:"remaining,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// AddLicenseRequest registers a premium license. IsActive defaults to true.
type AddLicenseRequest struct {
	RegNo     string `json:"reg_no,omitempty"`
	LicenseID string `json:"license_id,omitempty"`
	IsActive  *bool  `json:"is_active,omitempty"`
}

func (r AddLicenseRequest) License() string { return firstNonEmpty(r.LicenseID, r.RegNo) }

func (r AddLicenseRequest) Active() bool { return r.IsActive == nil || *r.IsActive }

type License struct {
	ID        string `json:"id"`
	Active    bool   `json:"is_active"`
	IsTrial   bool   `json:"is_trial"`
	CreatedAt string `json:"created_at"`
}

type LicenseList struct {
	Licenses []License `json:"licenses"`
	Count    int       `json:"count"`
}

// StatusResponse describes an entitlement without consuming quota.
type StatusResponse struct {
	LicenseID string  `json:"license_id"`
	Kind      string  `json:"kind"`
	Limit     *int    `json:"limit,omitempty"`
	Used      *int    `json:"used,omitempty"`
	Remaining *int    `json:"remaining,omitempty"`
	ExpiresAt *string `json:"expires_at,omitempty"`
	Expired   bool    `json:"expired"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}
