package coordapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls coordinator API behavior and security defaults.
type Config struct {
	// TrustProxy enables X-Forwarded-For parsing for request logs.
	TrustProxy bool

	// MaxBodyBytes bounds every request body read.
	MaxBodyBytes int64

	// CallerHMACKey, when non-empty, requires each request's caller header
	// to be countersigned by the upstream auth layer. Empty disables the
	// check (dev mode).
	CallerHMACKey []byte

	// InviteTTL and InviteMaxTTL bound the expiry window of minted invites.
	InviteTTL    time.Duration
	InviteMaxTTL time.Duration
}

// LoadConfigFromEnv loads API config from environment variables with safe
// defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:   envBool("HUDDLE_API_TRUST_PROXY", false),
		MaxBodyBytes: envInt64("HUDDLE_API_MAX_BODY_BYTES", 1<<20), // 1 MiB
		InviteTTL:    envDuration("HUDDLE_INVITE_TTL", 7*24*time.Hour),
		InviteMaxTTL: envDuration("HUDDLE_INVITE_TTL_MAX", 30*24*time.Hour),
	}

	if key := strings.TrimSpace(os.Getenv("HUDDLE_CALLER_HMAC_KEY")); key != "" {
		cfg.CallerHMACKey = []byte(key)
	}

	// Clamp TTLs to keep them sensible.
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = 7 * 24 * time.Hour
	}
	if cfg.InviteMaxTTL <= 0 {
		cfg.InviteMaxTTL = 30 * 24 * time.Hour
	}
	if cfg.InviteTTL > cfg.InviteMaxTTL {
		cfg.InviteTTL = cfg.InviteMaxTTL
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
