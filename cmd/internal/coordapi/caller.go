package coordapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

// Caller identity headers. Authentication happens in the upstream auth
// service; it forwards the resolved user id here. When a caller HMAC key is
// configured, the auth layer must countersign the user id so this service
// can reject spoofed headers from anything that bypasses it.
const (
	callerHeader    = "X-Huddle-User"
	callerSigHeader = "X-Huddle-Sig"
)

var (
	errNoCaller  = errors.New("missing caller identity")
	errBadCaller = errors.New("invalid caller signature")
)

// Caller extracts and verifies the authenticated user id from the request.
// The method signature matches the realtime gateway's CallerFunc so one
// resolver serves both surfaces.
func (h *Handler) Caller(r *http.Request) (string, error) {
	userID := strings.TrimSpace(r.Header.Get(callerHeader))
	if userID == "" {
		return "", errNoCaller
	}

	if len(h.cfg.CallerHMACKey) > 0 {
		sig := strings.TrimSpace(r.Header.Get(callerSigHeader))
		if sig == "" || !validCallerSig(h.cfg.CallerHMACKey, userID, sig) {
			return "", errBadCaller
		}
	}
	return userID, nil
}

// SignCaller produces the countersignature the auth layer attaches. Exposed
// for tests and operator tooling.
func SignCaller(key []byte, userID string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

func validCallerSig(key []byte, userID, sigHex string) bool {
	want, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(userID))
	return hmac.Equal(mac.Sum(nil), want)
}
