package routes

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"refnet/gateway/middleware"
)

type ServiceRoute struct {
	Name           string
	Prefix         string
	Target         *url.URL
	RequireAuth    bool
	RequiredScopes []string
	RateLimitKey   string
	// Idempotent mounts the idempotency replay cache on the route.
	Idempotent bool
}

type Config struct {
	Routes        []ServiceRoute
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Idempotency   *middleware.Idempotency
	CORS          middleware.CORSConfig
	// NodeAuthToken is the bearer token the referral bridge attaches when
	// relaying mutating JSON-RPC calls to the node.
	NodeAuthToken string
}

func New(cfg Config) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware("root"))
	}
	r.Get("/healthz", handleHealth)

	for _, route := range cfg.Routes {
		if err := cfg.mountService(r, route); err != nil {
			return nil, err
		}
	}

	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}
	return r, nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// mountService attaches one upstream behind its middleware chain. The
// referral route additionally gets the REST-to-RPC bridge mounted ahead of
// the raw proxy.
func (cfg Config) mountService(r chi.Router, route ServiceRoute) error {
	var bridge *referralRoutes
	if route.Name == "referral" {
		b, err := newReferralRoutes(route.Target, cfg.NodeAuthToken)
		if err != nil {
			return fmt.Errorf("configure referral routes: %w", err)
		}
		bridge = b
	}
	proxy := NewProxy(route.Target, route.Prefix)

	r.Route(route.Prefix, func(sr chi.Router) {
		sr.Use(cfg.routeMiddleware(route)...)
		if bridge != nil {
			bridge.mount(sr)
		}
		sr.Handle("/*", proxy)
		sr.Handle("/", proxy)
	})
	return nil
}

// routeMiddleware orders the chain: rate limiting first so throttled clients
// cannot burn token verification work, then auth, then idempotency replay,
// then per-route metrics.
func (cfg Config) routeMiddleware(route ServiceRoute) []func(http.Handler) http.Handler {
	var chain []func(http.Handler) http.Handler
	if cfg.RateLimiter != nil && route.RateLimitKey != "" {
		chain = append(chain, cfg.RateLimiter.Middleware(route.RateLimitKey))
	}
	if cfg.Authenticator != nil && route.RequireAuth {
		chain = append(chain, cfg.Authenticator.Middleware(route.RequiredScopes...))
	}
	if cfg.Idempotency != nil && route.Idempotent {
		chain = append(chain, cfg.Idempotency.Middleware())
	}
	if cfg.Observability != nil {
		chain = append(chain, cfg.Observability.Middleware(route.Name))
	}
	return chain
}
