package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddress string              `yaml:"listen"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	Services      []ServiceConfig     `yaml:"services"`
	RateLimits    []RateLimitConfig   `yaml:"rateLimits"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
	Security      SecurityConfig      `yaml:"security"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
}

type ServiceConfig struct {
	Name     string        `yaml:"name"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	ID                string         `yaml:"id"`
	RequestsPerMinute float64        `yaml:"requestsPerMinute"`
	RatePerSecond     float64        `yaml:"ratePerSecond"`
	Burst             int            `yaml:"burst"`
	DefaultTokens     int            `yaml:"defaultTokens"`
	Tokens            map[string]int `yaml:"tokens"`
}

type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	Metrics       bool   `yaml:"metrics"`
	Tracing       bool   `yaml:"tracing"`
	LogRequests   bool   `yaml:"logRequests"`
	MetricsPrefix string `yaml:"metricsPrefix"`
}

type IdempotencyConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	TTL     time.Duration `yaml:"ttl"`
}

type SecurityConfig struct {
	AutoUpgradeHTTP bool   `yaml:"autoUpgradeHTTP"`
	AllowInsecure   bool   `yaml:"allowInsecure"`
	TLSCertFile     string `yaml:"tlsCertFile"`
	TLSKeyFile      string `yaml:"tlsKeyFile"`
	TLSClientCAFile string `yaml:"tlsClientCAFile"`
}

type AuthConfig struct {
	Enabled           bool          `yaml:"enabled"`
	HMACSecret        string        `yaml:"hmacSecret"`
	Issuer            string        `yaml:"issuer"`
	Audience          string        `yaml:"audience"`
	ScopeClaim        string        `yaml:"scopeClaim"`
	OptionalPaths     []string      `yaml:"optionalPaths"`
	AllowAnonymous    bool          `yaml:"allowAnonymous"`
	ClockSkew         time.Duration `yaml:"clockSkew"`
	allowAnonymousSet bool          `yaml:"-"`
	enabledSet        bool          `yaml:"-"`
}

// UnmarshalYAML records which security-sensitive booleans the file spelled
// out, so Validate can tell an explicit "false" apart from an absent key.
func (a *AuthConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain AuthConfig
	var decoded plain
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	*a = AuthConfig(decoded)
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "enabled":
			a.enabledSet = true
		case "allowAnonymous":
			a.allowAnonymousSet = true
		}
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		ListenAddress: ":8081",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Observability: ObservabilityConfig{
			ServiceName:   "refnet-gateway",
			Metrics:       true,
			Tracing:       true,
			LogRequests:   true,
			MetricsPrefix: "gateway",
		},
		Auth: AuthConfig{
			Enabled:        true,
			ScopeClaim:     "scope",
			AllowAnonymous: false,
			ClockSkew:      2 * time.Minute,
			enabledSet:     true,
		},
		Idempotency: IdempotencyConfig{
			Path: "refnet-gateway-idempotency.db",
			TTL:  24 * time.Hour,
		},
	}
}

// Load reads the gateway configuration. An empty path yields the built-in
// defaults, which lock auth on.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg == nil {
		return
	}
	if !cfg.Auth.enabledSet {
		cfg.Auth.Enabled = true
		cfg.Auth.enabledSet = true
	}
	if !cfg.Auth.allowAnonymousSet {
		cfg.Auth.AllowAnonymous = false
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if cfg.Auth.ScopeClaim == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
	if strings.TrimSpace(cfg.Idempotency.Path) == "" {
		cfg.Idempotency.Path = "refnet-gateway-idempotency.db"
	}
	if cfg.Idempotency.TTL <= 0 {
		cfg.Idempotency.TTL = 24 * time.Hour
	}
}

var ErrAuthEnabledNotConfigured = errors.New("auth.enabled needs an explicit value once TLS or HTTPS upgrades are configured")

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.requiresExplicitAuth() && !cfg.Auth.enabledSet {
		return ErrAuthEnabledNotConfigured
	}
	if cfg.Auth.AllowAnonymous && !cfg.Auth.allowAnonymousSet {
		return fmt.Errorf("auth.allowAnonymous must be explicitly set before anonymous access is served")
	}
	normalized, err := normalizeOptionalPaths(cfg.Auth.OptionalPaths)
	if err != nil {
		return err
	}
	cfg.Auth.OptionalPaths = normalized
	if cfg.Auth.Enabled && cfg.Auth.AllowAnonymous && len(normalized) == 0 {
		return fmt.Errorf("anonymous access needs at least one auth.optionalPaths entry")
	}
	return nil
}

func normalizeOptionalPaths(paths []string) ([]string, error) {
	normalized := make([]string, len(paths))
	for i, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			return nil, fmt.Errorf("auth.optionalPaths[%d] cannot be empty", i)
		}
		if !strings.HasPrefix(trimmed, "/") {
			return nil, fmt.Errorf("auth.optionalPaths[%d] must start with '/'", i)
		}
		normalized[i] = trimmed
	}
	return normalized, nil
}

// requiresExplicitAuth reports whether the deployment carries TLS material or
// an HTTPS upgrade policy. Those deployments must spell out auth.enabled in
// the file rather than inherit the default.
func (cfg *Config) requiresExplicitAuth() bool {
	if cfg == nil {
		return false
	}
	sec := cfg.Security
	return sec.AutoUpgradeHTTP ||
		strings.TrimSpace(sec.TLSCertFile) != "" ||
		strings.TrimSpace(sec.TLSKeyFile) != "" ||
		strings.TrimSpace(sec.TLSClientCAFile) != ""
}

func (s ServiceConfig) URL() (*url.URL, error) {
	if s.Endpoint == "" {
		return nil, fmt.Errorf("service %s has no endpoint configured", s.Name)
	}
	parsed, err := url.Parse(s.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint for service %s: %w", s.Name, err)
	}
	return parsed, nil
}

func (cfg Config) ServiceByName(name string) (*ServiceConfig, error) {
	for i := range cfg.Services {
		if cfg.Services[i].Name == name {
			svc := cfg.Services[i]
			return &svc, nil
		}
	}
	return nil, fmt.Errorf("no service named %s in the gateway config", name)
}

// EnforceSecureScheme applies the gateway's HTTPS policy to an upstream URL.
// Plaintext HTTP is tolerated in dev; elsewhere it is either upgraded in
// place (when autoUpgrade is on) or rejected. The boolean reports whether an
// upgrade happened.
func EnforceSecureScheme(env string, target *url.URL, autoUpgrade bool) (*url.URL, bool, error) {
	if target == nil {
		return nil, false, fmt.Errorf("target URL required")
	}
	scheme := strings.ToLower(strings.TrimSpace(target.Scheme))
	if scheme == "https" {
		return target, false, nil
	}
	if scheme != "http" {
		if scheme == "" {
			return nil, false, fmt.Errorf("upstream URL has no scheme")
		}
		return nil, false, fmt.Errorf("unsupported upstream scheme %q", target.Scheme)
	}
	if isDevEnv(env) {
		return target, false, nil
	}
	if !autoUpgrade {
		if strings.TrimSpace(env) == "" {
			env = "(unset)"
		}
		return nil, false, fmt.Errorf("refusing plaintext HTTP upstream in environment %s", env)
	}
	secured := *target
	secured.Scheme = "https"
	return &secured, true, nil
}

func isDevEnv(env string) bool {
	return strings.EqualFold(strings.TrimSpace(env), "dev")
}
