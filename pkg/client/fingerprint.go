package client

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"runtime"
	"strings"

	"github.com/keygen-sh/machineid"
	"github.com/rs/zerolog/log"
)

// DeviceFingerprint returns a stable one-way identifier for this machine,
// scoped to appID so it cannot be correlated across applications.
func DeviceFingerprint(appID string) (string, error) {
	id, err := machineid.ProtectedID(appID)
	if err == nil && id != "" {
		return id, nil
	}
	log.Warn().Err(err).Msg("machine id unavailable, falling back to host fingerprint")
	return hostFingerprint(appID), nil
}

func hostFingerprint(appID string) string {
	raw := strings.Join([]string{appID, safeHostname(), runtime.GOOS, runtime.GOARCH}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func safeHostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return strings.Split(h, ".")[0]
}
