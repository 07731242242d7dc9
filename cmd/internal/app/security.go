package app

import (
	"fmt"

	"huddle/cmd/security/token"
)

// ValidateSecurityConfig enforces the deployment's security policy before
// the server starts. With HUDDLE_REQUIRE_TOKEN_HMAC set, a missing or
// short HUDDLE_TOKEN_HMAC_KEY is a startup error rather than a silent
// fallback to plain hashing.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		return fmt.Errorf("HUDDLE_REQUIRE_TOKEN_HMAC is set: %w", err)
	}
	if !token.HMACEnabled() {
		return fmt.Errorf("HUDDLE_REQUIRE_TOKEN_HMAC is set but HMAC hashing is not active")
	}
	return nil
}
