package license

import "time"

// Entitlement kinds.
const (
	KindTrial   = "trial"
	KindPremium = "premium"
)

// LicenseRecord is an issuable license identifier.
type LicenseRecord struct {
	ID        string    `db:"id" json:"id"`
	Active    bool      `db:"is_active" json:"active"`
	IsTrial   bool      `db:"is_trial" json:"is_trial"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ActivationBinding links a premium license to exactly one device.
type ActivationBinding struct {
	LicenseID         string    `db:"license_id" json:"license_id"`
	DeviceFingerprint string    `db:"device_fingerprint" json:"device_fingerprint"`
	ActivatedAt       time.Time `db:"activated_at" json:"activated_at"`
}

// TrialUsage is the per-device counter for the shared trial license.
type TrialUsage struct {
	DeviceFingerprint string    `db:"device_fingerprint"`
	LicenseID         string    `db:"license_id"`
	CommandCount      int       `db:"command_count"`
	CreatedAt         time.Time `db:"created_at"`
}

// DeviceClaim records which entitlement a device holds. Its primary key
// keeps a fingerprint out of both activations and trial_usage.
type DeviceClaim struct {
	DeviceFingerprint string    `db:"device_fingerprint"`
	Kind              string    `db:"kind"`
	LicenseID         string    `db:"license_id"`
	ClaimedAt         time.Time `db:"claimed_at"`
}

// Entitlement is the resolved authorization state of a (license, device) pair.
type Entitlement struct {
	Kind              string
	LicenseID         string
	DeviceFingerprint string
	CommandCount      int
}

func (e Entitlement) IsTrial() bool { return e.Kind == KindTrial }

// PremiumActivation is the outcome of a successful premium activation.
type PremiumActivation struct {
	Binding     ActivationBinding
	Reactivated bool
}

// Status is a read-only snapshot for clients; Remaining is -1 for premium.
type Status struct {
	Entitlement Entitlement
	Limit       int
	Remaining   int
	ExpiresAt   *time.Time
	Expired     bool
}
