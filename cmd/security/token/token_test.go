package token

import (
	"errors"
	"strings"
	"testing"
)

func TestHashSHA256HexStable(t *testing.T) {
	a := HashSHA256Hex("abc")
	b := HashSHA256Hex("abc")
	if a != b {
		t.Fatal("same input must hash identically")
	}
	if len(a) != 64 {
		t.Fatalf("digest length = %d, want 64 hex chars", len(a))
	}
	if a == HashSHA256Hex("abd") {
		t.Fatal("different inputs must not collide trivially")
	}
}

func TestHashInviteCodeHexFallsBackWithoutKey(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if got := HashInviteCodeHex("code-1"); got != HashSHA256Hex("code-1") {
		t.Fatal("without a key, invite hashing must be plain SHA-256")
	}
}

func TestHashInviteCodeHexUsesHMACWithKey(t *testing.T) {
	key := strings.Repeat("k", 32)
	t.Setenv(HMACEnvKey, key)
	got := HashInviteCodeHex("code-1")
	if got == HashSHA256Hex("code-1") {
		t.Fatal("with a key, invite hashing must not be plain SHA-256")
	}
	if got != HashHMACSHA256Hex("code-1", []byte(key)) {
		t.Fatal("HMAC digest mismatch")
	}
}

func TestHMACKeyFromEnvPolicy(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HMACKeyFromEnv(32); !errors.Is(err, ErrHMACKeyMissing) {
		t.Fatalf("err = %v, want ErrHMACKeyMissing", err)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HMACKeyFromEnv(32); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("err = %v, want ErrHMACKeyTooShort", err)
	}

	t.Setenv(HMACEnvKey, strings.Repeat("k", 32))
	key, err := HMACKeyFromEnv(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("key length = %d", len(key))
	}
}

func TestHashInviteCodeHexRequireHMAC(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HashInviteCodeHexRequireHMAC("c", 32); err == nil {
		t.Fatal("expected error without a key")
	}

	t.Setenv(HMACEnvKey, strings.Repeat("k", 32))
	got, err := HashInviteCodeHexRequireHMAC("c", 32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 64 {
		t.Fatalf("digest length = %d", len(got))
	}
}
