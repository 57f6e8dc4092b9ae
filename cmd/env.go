package cmd

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/querygate/internal/config"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Values   map[string]string // Effective settings, secrets masked
	Warnings []string          // Non-fatal warnings
	Err      error             // Validation failure, if any
}

// CheckConfig summarises cfg for display.
func CheckConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Values:   make(map[string]string),
		Warnings: []string{},
		Err:      config.Validate(cfg),
	}

	result.Values["server.addr"] = cfg.Server.Addr
	result.Values["auth.api_key"] = maskSecret(cfg.Auth.APIKey)
	result.Values["auth.admin_api_key"] = maskSecret(cfg.Auth.AdminAPIKey)
	result.Values["database.engine"] = cfg.Database.Engine
	if cfg.Database.Engine == "postgres" {
		result.Values["database.driver"] = cfg.Database.Driver
		result.Values["database.dsn"] = maskSecret(cfg.Database.DSN)
	} else {
		result.Values["database.path"] = cfg.Database.Path
	}
	result.Values["trial.license_id"] = cfg.Trial.LicenseID
	result.Values["trial.activation_code"] = maskSecret(cfg.Trial.ActivationCode)
	result.Values["trial.command_limit"] = fmt.Sprint(cfg.Trial.CommandLimit)
	result.Values["trial.expires_at"] = cfg.Trial.ExpiresAt
	result.Values["ai.provider"] = cfg.AI.Provider
	result.Values["ai.model"] = cfg.AI.Model
	result.Values["ai.api_key"] = maskSecret(cfg.AI.APIKey)

	if expiry, err := cfg.TrialExpiry(); err == nil && !expiry.IsZero() && expiry.Before(time.Now()) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("trial cutoff %s has passed, trial queries will be rejected", expiry.Format(time.RFC3339)))
	}
	if cfg.Database.Engine == "postgres" && cfg.Database.DSN == "" && os.Getenv("DATABASE_URL") == "" {
		result.Warnings = append(result.Warnings, "database.dsn is empty, DATABASE_URL or .env will be consulted")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Configuration ===")

	keys := make([]string, 0, len(result.Values))
	for k := range result.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("   %s = %s\n", k, result.Values[k])
	}
	fmt.Println("")

	for _, w := range result.Warnings {
		fmt.Printf("⚠ Warning: %s\n", w)
	}

	if result.Err != nil {
		fmt.Printf("❌ Invalid: %s\n", result.Err)
	} else {
		fmt.Println("✓ Configuration is valid")
	}

	fmt.Println("=====================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if value == "" {
		return "(unset)"
	}
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads environment variables from a file without overwriting
// ones already set.
func LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}

	return scanner.Err()
}
