// Package token provides token hashing primitives for Huddle.
//
// It is the single source of truth for invite-code hashing behavior.
//
// Design goals:
// - Default dev/back-compat mode: SHA-256(code) when no HMAC key is configured.
// - Production-enforced mode: HMAC-SHA256(code, key) when policy requires it.
// - Stable 64-char hex output for storage and constant-time comparison.
//
// Environment:
// - HUDDLE_TOKEN_HMAC_KEY: when set, enables HMAC mode.
// Policy:
//   - If RequireTokenHMAC=true, callers MUST enforce a minimum key size (>= 32 bytes)
//     and MUST use HMAC (no SHA fallback).
package token
