package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"refnet/gateway/config"
	"refnet/gateway/middleware"
	"refnet/gateway/routes"
	"refnet/observability/logging"
	telemetry "refnet/observability/otel"
)

const (
	defaultNodeEndpoint  = "http://127.0.0.1:8080"
	defaultStatsEndpoint = "http://127.0.0.1:7410/stats"
)

func main() {
	var (
		cfgPath           string
		allowInsecureFlag bool
	)
	flag.StringVar(&cfgPath, "config", "", "gateway configuration file")
	flag.BoolVar(&allowInsecureFlag, "allow-insecure", false, "DEV ONLY: serve plaintext HTTP on loopback addresses")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("REFNET_ENV"))
	slogger := logging.Setup("gateway", env)
	logger := log.New(os.Stdout, "[gateway] ", log.LstdFlags)

	shutdownTelemetry := initTelemetry(env, slogger)
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	var configDir string
	if strings.TrimSpace(cfgPath) != "" {
		configDir = filepath.Dir(cfgPath)
	}

	targets := resolveTargets(cfg, env, logger)

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   cfg.Observability.ServiceName,
		MetricsPrefix: cfg.Observability.MetricsPrefix,
		LogRequests:   cfg.Observability.LogRequests,
		Enabled:       cfg.Observability.Metrics || cfg.Observability.Tracing,
	}, logger)

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:        cfg.Auth.Enabled,
		HMACSecret:     cfg.Auth.HMACSecret,
		Issuer:         cfg.Auth.Issuer,
		Audience:       cfg.Auth.Audience,
		ScopeClaim:     cfg.Auth.ScopeClaim,
		OptionalPaths:  cfg.Auth.OptionalPaths,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		ClockSkew:      cfg.Auth.ClockSkew,
	}, logger)

	var idem *middleware.Idempotency
	if cfg.Idempotency.Enabled {
		idemPath := cfg.Idempotency.Path
		if configDir != "" && !filepath.IsAbs(idemPath) {
			idemPath = filepath.Join(configDir, idemPath)
		}
		idem, err = middleware.NewIdempotency(idemPath, cfg.Idempotency.TTL, logger)
		if err != nil {
			logger.Fatalf("open idempotency store: %v", err)
		}
		defer func() {
			if err := idem.Close(); err != nil {
				logger.Printf("close idempotency store: %v", err)
			}
		}()
	}

	nodeToken := strings.TrimSpace(os.Getenv("REFNET_GATEWAY_NODE_TOKEN"))
	if nodeToken == "" {
		nodeToken = strings.TrimSpace(os.Getenv("REFNET_RPC_TOKEN"))
	}
	slogger.Info("resolved upstream node token", logging.MaskField("nodeToken", nodeToken))

	router, err := routes.New(routes.Config{
		Routes: []routes.ServiceRoute{
			{
				Name:           "referral",
				Prefix:         "/v1/referral",
				Target:         targets["refnetd"],
				RequireAuth:    true,
				RequiredScopes: []string{"referral:write"},
				RateLimitKey:   "referral",
				Idempotent:     true,
			},
			{
				Name:         "events",
				Prefix:       "/v1/events",
				Target:       targets["refnetd"],
				RequireAuth:  false,
				RateLimitKey: "events",
			},
			{
				Name:         "stats",
				Prefix:       "/v1/stats",
				Target:       targets["indexd"],
				RequireAuth:  false,
				RateLimitKey: "stats",
			},
		},
		Authenticator: auth,
		RateLimiter:   middleware.NewRateLimiter(rateLimitsFromConfig(cfg), logger),
		Observability: obs,
		Idempotency:   idem,
		NodeAuthToken: nodeToken,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key"},
			AllowCredentials: false,
		},
	})
	if err != nil {
		logger.Fatalf("configure routes: %v", err)
	}

	var handler http.Handler = router
	if cfg.Observability.Tracing {
		handler = otelhttp.NewHandler(router, "gateway")
	}

	tlsCfg, err := gatewayTLS(configDir, cfg.Security)
	if err != nil {
		logger.Fatalf("configure TLS: %v", err)
	}
	if tlsCfg == nil {
		if !cfg.Security.AllowInsecure && !allowInsecureFlag {
			logger.Fatal("TLS is required: set security.tlsCertFile and security.tlsKeyFile, or pass --allow-insecure for local development")
		}
		if !strings.EqualFold(env, "dev") && !loopbackListener(cfg.ListenAddress) {
			logger.Fatal("refusing a plaintext listener outside dev or loopback")
		}
	}

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		TLSConfig:    tlsCfg,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	scheme := "http"
	if tlsCfg != nil {
		scheme = "https"
	}
	logger.Printf("listening on %s://%s", scheme, listener.Addr())

	serveErr := make(chan error, 1)
	go func() {
		if tlsCfg != nil {
			serveErr <- server.ServeTLS(listener, "", "")
			return
		}
		serveErr <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("serve: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}

// initTelemetry wires the OTLP exporters from the standard OTEL_* environment
// variables. Telemetry failures abort startup so a misconfigured collector
// endpoint is caught at deploy time.
func initTelemetry(env string, logger *slog.Logger) func(context.Context) error {
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "gateway",
		Environment: env,
		Endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", "error", err)
		os.Exit(1)
	}
	return shutdown
}

// serviceEndpoints layers the upstream endpoint sources: built-in defaults,
// then environment overrides, then the config file, which wins.
func serviceEndpoints(cfg config.Config) map[string]string {
	endpoints := map[string]string{
		"refnetd": defaultNodeEndpoint,
		"indexd":  defaultStatsEndpoint,
	}
	if v := strings.TrimSpace(os.Getenv("REFNET_GATEWAY_NODE_URL")); v != "" {
		endpoints["refnetd"] = v
	}
	if v := strings.TrimSpace(os.Getenv("REFNET_GATEWAY_STATS_URL")); v != "" {
		endpoints["indexd"] = v
	}
	for _, svc := range cfg.Services {
		name := strings.TrimSpace(svc.Name)
		if name == "" || strings.TrimSpace(svc.Endpoint) == "" {
			continue
		}
		endpoints[name] = svc.Endpoint
	}
	return endpoints
}

// resolveTargets parses every upstream endpoint and applies the HTTPS policy.
// Both required services must resolve or the gateway refuses to start.
func resolveTargets(cfg config.Config, env string, logger *log.Logger) map[string]*url.URL {
	autoUpgrade := cfg.Security.AutoUpgradeHTTP
	if override := strings.TrimSpace(os.Getenv("REFNET_GATEWAY_AUTO_HTTPS")); override != "" {
		parsed, err := strconv.ParseBool(override)
		if err != nil {
			logger.Fatalf("parse REFNET_GATEWAY_AUTO_HTTPS: %v", err)
		}
		autoUpgrade = parsed
	}

	targets := make(map[string]*url.URL)
	for name, endpoint := range serviceEndpoints(cfg) {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			logger.Fatalf("parse %s endpoint: %v", name, err)
		}
		secured, upgraded, err := config.EnforceSecureScheme(env, parsed, autoUpgrade)
		if err != nil {
			logger.Fatalf("enforce HTTPS for %s endpoint: %v", name, err)
		}
		if upgraded {
			logger.Printf("auto-upgraded %s endpoint to HTTPS", name)
		}
		targets[name] = secured
	}
	for _, required := range []string{"refnetd", "indexd"} {
		if targets[required] == nil {
			logger.Fatalf("missing configuration for service %s", required)
		}
	}
	return targets
}

// rateLimitsFromConfig converts the configured limits into the middleware
// form. An empty configuration falls back to the stock per-route limits.
func rateLimitsFromConfig(cfg config.Config) map[string]middleware.RateLimit {
	limits := make(map[string]middleware.RateLimit)
	for _, entry := range cfg.RateLimits {
		if entry.ID == "" {
			continue
		}
		rate := entry.RatePerSecond
		if rate <= 0 && entry.RequestsPerMinute > 0 {
			rate = entry.RequestsPerMinute / 60.0
		}
		limits[entry.ID] = middleware.RateLimit{
			RatePerSecond: rate,
			Burst:         entry.Burst,
			DefaultTokens: entry.DefaultTokens,
			Tokens:        entry.Tokens,
		}
	}
	if len(limits) == 0 {
		limits["referral"] = middleware.RateLimit{RatePerSecond: 2, Burst: 20}
		limits["events"] = middleware.RateLimit{RatePerSecond: 4, Burst: 40}
		limits["stats"] = middleware.RateLimit{RatePerSecond: 5, Burst: 50}
	}
	return limits
}

func gatewayTLS(baseDir string, sec config.SecurityConfig) (*tls.Config, error) {
	certPath := resolveRelative(baseDir, sec.TLSCertFile)
	keyPath := resolveRelative(baseDir, sec.TLSKeyFile)
	caPath := resolveRelative(baseDir, sec.TLSClientCAFile)
	if certPath == "" && keyPath == "" && caPath == "" {
		return nil, nil
	}
	if certPath == "" || keyPath == "" {
		return nil, fmt.Errorf("TLS needs both security.tlsCertFile and security.tlsKeyFile")
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load TLS certificate: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read client CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in client CA bundle %s", caPath)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}

func resolveRelative(baseDir, path string) string {
	p := strings.TrimSpace(path)
	if p == "" || baseDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

func loopbackListener(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
