package config

import (
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func tempConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadWithoutFileUsesSecureDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Auth.Enabled {
		t.Fatal("auth should be on by default")
	}
	if !cfg.Auth.enabledSet {
		t.Fatal("defaulted auth.enabled should count as explicitly set")
	}
	if cfg.Auth.AllowAnonymous {
		t.Fatal("anonymous access should be off by default")
	}
	if cfg.Observability.ServiceName != "refnet-gateway" {
		t.Fatalf("service name defaulted to %q", cfg.Observability.ServiceName)
	}
}

func TestLoadIdempotencyDefaults(t *testing.T) {
	cfg, err := Load(tempConfig(t, "idempotency:\n  enabled: true\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Idempotency.Enabled {
		t.Fatal("idempotency should be enabled")
	}
	if cfg.Idempotency.Path != "refnet-gateway-idempotency.db" {
		t.Fatalf("idempotency path defaulted to %q", cfg.Idempotency.Path)
	}
	if cfg.Idempotency.TTL != 24*time.Hour {
		t.Fatalf("idempotency TTL defaulted to %s", cfg.Idempotency.TTL)
	}
}

func TestLoadServicesAndRateLimits(t *testing.T) {
	const yaml = `
listen: ":9090"
services:
  - name: refnetd
    endpoint: http://127.0.0.1:8545
  - name: indexd
    endpoint: http://127.0.0.1:7410
rateLimits:
  - id: referral
    ratePerSecond: 2
    burst: 20
    tokens:
      "POST /v1/referral/rpc": 3
`
	cfg, err := Load(tempConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddress != ":9090" {
		t.Fatalf("listen address = %q", cfg.ListenAddress)
	}

	svc, err := cfg.ServiceByName("refnetd")
	if err != nil {
		t.Fatalf("ServiceByName: %v", err)
	}
	target, err := svc.URL()
	if err != nil {
		t.Fatalf("service URL: %v", err)
	}
	if target.Host != "127.0.0.1:8545" {
		t.Fatalf("refnetd host = %q", target.Host)
	}

	if len(cfg.RateLimits) != 1 {
		t.Fatalf("rate limit entries = %d, want 1", len(cfg.RateLimits))
	}
	limit := cfg.RateLimits[0]
	if limit.ID != "referral" || limit.RatePerSecond != 2 || limit.Burst != 20 {
		t.Fatalf("rate limit entry = %+v", limit)
	}
	if limit.Tokens["POST /v1/referral/rpc"] != 3 {
		t.Fatalf("rpc token cost = %d, want 3", limit.Tokens["POST /v1/referral/rpc"])
	}
}

func TestLoadAuthHardening(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg Config)
	}{
		{
			name: "anonymous stays off when auth enabled",
			yaml: "auth:\n  enabled: true\n",
			check: func(t *testing.T, cfg Config) {
				if cfg.Auth.AllowAnonymous {
					t.Fatal("anonymous access enabled without opt-in")
				}
			},
		},
		{
			name:    "anonymous without optional paths rejected",
			yaml:    "auth:\n  enabled: true\n  allowAnonymous: true\n",
			wantErr: true,
		},
		{
			name: "tls deployment forces auth on",
			yaml: "security:\n  tlsCertFile: /etc/gateway/cert.pem\n  tlsKeyFile: /etc/gateway/key.pem\n",
			check: func(t *testing.T, cfg Config) {
				if !cfg.Auth.Enabled {
					t.Fatal("tls deployment should default auth on")
				}
			},
		},
		{
			name: "explicit auth off wins over tls default",
			yaml: "auth:\n  enabled: false\nsecurity:\n  tlsCertFile: /etc/gateway/cert.pem\n  tlsKeyFile: /etc/gateway/key.pem\n",
		},
		{
			name:    "optional path without leading slash rejected",
			yaml:    "auth:\n  enabled: true\n  allowAnonymous: true\n  optionalPaths:\n    - v1/referral/rpc\n",
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(tempConfig(t, tc.yaml))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected Load to fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if tc.check != nil {
				tc.check(t, cfg)
			}
		})
	}
}

func TestLoadTrimsOptionalPaths(t *testing.T) {
	const yaml = `
auth:
  enabled: true
  allowAnonymous: true
  optionalPaths:
    - /v1/referral/rpc
    - "   /v1/stats   "
`
	cfg, err := Load(tempConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"/v1/referral/rpc", "/v1/stats"}
	if !slices.Equal(cfg.Auth.OptionalPaths, want) {
		t.Fatalf("optional paths = %v, want %v", cfg.Auth.OptionalPaths, want)
	}
}

func TestEnforceSecureScheme(t *testing.T) {
	target, err := url.Parse("http://api.example.com/v1")
	if err != nil {
		t.Fatalf("parse target: %v", err)
	}

	upgraded, changed, err := EnforceSecureScheme("production", target, true)
	if err != nil {
		t.Fatalf("auto-upgrade: %v", err)
	}
	if !changed || upgraded.Scheme != "https" {
		t.Fatalf("expected https upgrade, got %s (changed=%v)", upgraded, changed)
	}
	if target.Scheme != "http" {
		t.Fatal("upgrade must not mutate the input URL")
	}

	if _, _, err := EnforceSecureScheme("production", target, false); err == nil {
		t.Fatal("plain http in production should fail without auto-upgrade")
	}

	kept, changed, err := EnforceSecureScheme("dev", target, false)
	if err != nil || changed || kept.Scheme != "http" {
		t.Fatalf("dev env should keep http, got %s (changed=%v, err=%v)", kept, changed, err)
	}
}

func TestValidateNeedsExplicitAnonymousOptIn(t *testing.T) {
	cfg := Config{
		Auth: AuthConfig{
			Enabled:        true,
			AllowAnonymous: true,
			OptionalPaths:  []string{"/v1/stats"},
			enabledSet:     true,
		},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("anonymous access without the explicit flag should fail validation")
	}
	if !strings.Contains(err.Error(), "auth.allowAnonymous must be explicitly set") {
		t.Fatalf("wrong error: %v", err)
	}
}
