package app

import (
	"testing"
	"time"
)

func TestEnvString(t *testing.T) {
	t.Setenv("HUDDLE_TEST_STR", "  value  ")
	if got := EnvString("HUDDLE_TEST_STR", "def"); got != "value" {
		t.Errorf("got %q, want %q", got, "value")
	}
	if got := EnvString("HUDDLE_TEST_STR_UNSET", "def"); got != "def" {
		t.Errorf("got %q, want default", got)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("HUDDLE_TEST_BOOL", "true")
	if !EnvBool("HUDDLE_TEST_BOOL", false) {
		t.Error("expected true")
	}
	t.Setenv("HUDDLE_TEST_BOOL", "nonsense")
	if !EnvBool("HUDDLE_TEST_BOOL", true) {
		t.Error("invalid value should fall back to default")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("HUDDLE_TEST_INT", "42")
	if got := EnvInt("HUDDLE_TEST_INT", 1); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	t.Setenv("HUDDLE_TEST_INT", "-5")
	if got := EnvInt("HUDDLE_TEST_INT", 7); got != 7 {
		t.Errorf("non-positive value should fall back to default, got %d", got)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("HUDDLE_TEST_DUR", "90s")
	if got := EnvDuration("HUDDLE_TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("got %v, want 90s", got)
	}
	t.Setenv("HUDDLE_TEST_DUR", "0s")
	if got := EnvDuration("HUDDLE_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("zero duration should fall back to default, got %v", got)
	}
}
