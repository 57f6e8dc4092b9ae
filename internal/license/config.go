package license

import (
	"fmt"
	"time"
)

// Config holds the entitlement rules injected at startup.
type Config struct {
	TrialLicenseID      string        // Shared trial identifier, created on startup if absent
	TrialActivationCode string        // Shared secret a client must present to start a trial
	TrialCommandLimit   int           // Authorized queries per trial device
	TrialExpiresAt      time.Time     // Global trial cutoff (UTC); zero means no expiry
	Contact             string        // Where users go to buy premium
	PremiumPrice        string        // Displayed in quota remediation messages
	StoreTimeout        time.Duration // Deadline applied to every store call
}

// DefaultConfig mirrors the values the service has always shipped with,
// minus the expiry which must come from deployment configuration.
func DefaultConfig() *Config {
	return &Config{
		TrialLicenseID:      "Helper2.0_Trail",
		TrialActivationCode: "Helper2.0_Trail",
		TrialCommandLimit:   20,
		Contact:             "support",
		PremiumPrice:        "500",
		StoreTimeout:        5 * time.Second,
	}
}

// EffectiveStoreTimeout never returns less than 100ms.
func (c *Config) EffectiveStoreTimeout() time.Duration {
	if c.StoreTimeout < 100*time.Millisecond {
		return 100 * time.Millisecond
	}
	return c.StoreTimeout
}

// Validate rejects configurations the service cannot enforce.
func (c *Config) Validate() error {
	if c.TrialLicenseID == "" {
		return fmt.Errorf("trial license id is required")
	}
	if c.TrialActivationCode == "" {
		return fmt.Errorf("trial activation code is required")
	}
	if c.TrialCommandLimit <= 0 {
		return fmt.Errorf("trial command limit must be positive, got %d", c.TrialCommandLimit)
	}
	return nil
}

func (c *Config) quotaMessage() string {
	return fmt.Sprintf("Trial command limit of %d reached. Please contact %s to get a premium subscription at %s.",
		c.TrialCommandLimit, c.Contact, c.PremiumPrice)
}

func (c *Config) expiredMessage() string {
	return fmt.Sprintf("Trial period has ended. Please contact %s to get a premium subscription at %s.",
		c.Contact, c.PremiumPrice)
}
