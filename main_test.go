package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"perp-trading-agent/config"
)

// ===== TEST CASES: COMMANDS =====

func TestSampleConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")

	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"sample-config", path})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("sample-config failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected sample file written: %v", err)
	}
	if !strings.Contains(out.String(), path) {
		t.Errorf("Expected output to name %s, got %q", path, out.String())
	}
}

func TestIssueTokenNeedsSecret(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("JWT_SECRET", "")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"issue-token"})

	if err := cmd.Execute(); err == nil {
		t.Error("Expected error without JWT secret")
	}
}

func TestIssueToken(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("JWT_SECRET", "s3cret")

	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"issue-token", "--subject", "alice"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("issue-token failed: %v", err)
	}
	if parts := strings.Split(strings.TrimSpace(out.String()), "."); len(parts) != 3 {
		t.Errorf("Expected a three-part JWT, got %q", out.String())
	}
}

// ===== TEST CASES: WIRING =====

func TestAccountID(t *testing.T) {
	a := accountID(config.ExchangeConfig{BaseURL: "https://x", APIKey: "key-a"})
	b := accountID(config.ExchangeConfig{BaseURL: "https://x", APIKey: "key-b"})

	if a == b {
		t.Error("Expected different accounts to get different ids")
	}
	if strings.Contains(a, "key-a") {
		t.Error("Expected api key not to leak into the id")
	}
	if len(a) != 12 {
		t.Errorf("Expected 12 hex chars, got %d", len(a))
	}
	if got := accountID(config.ExchangeConfig{MockMode: true}); got != "mock" {
		t.Errorf("Expected mock, got %s", got)
	}
}
