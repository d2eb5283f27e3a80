package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type AuthConfig struct {
	Enabled        bool
	HMACSecret     string
	Issuer         string
	Audience       string
	ScopeClaim     string
	OptionalPaths  []string
	AllowAnonymous bool
	ClockSkew      time.Duration
}

type contextKey string

const (
	ContextKeyToken   contextKey = "gateway.token"
	ContextKeySubject contextKey = "gateway.subject"
	ContextKeyScopes  contextKey = "gateway.scopes"
)

// Subject returns the authenticated token subject recorded by the auth
// middleware, or the empty string for anonymous requests.
func Subject(ctx context.Context) string {
	if sub, ok := ctx.Value(ContextKeySubject).(string); ok {
		return sub
	}
	return ""
}

// Authenticator verifies HMAC-signed bearer tokens on gateway requests and
// propagates the subject and granted scopes through the request context.
type Authenticator struct {
	cfg    AuthConfig
	logger *log.Logger
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *log.Logger) *Authenticator {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
	}
}

func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			if a.cfg.AllowAnonymous && a.optionalPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			raw := bearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := a.verify(raw)
			if err != nil {
				a.logger.Printf("auth: token rejected: %v", err)
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}
			scopes := scopesFromClaims(claims, a.cfg.ScopeClaim)
			if len(missingScopes(scopes, requiredScopes)) > 0 {
				http.Error(w, "missing required scope", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(a.requestContext(r.Context(), raw, claims, scopes)))
		})
	}
}

func (a *Authenticator) optionalPath(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// verify parses the token against the shared secret and checks the standard
// claims the gateway cares about. Only HMAC signatures are accepted.
func (a *Authenticator) verify(raw string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("no HMAC secret configured")
	}
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("token claims unreadable")
	}
	if err := a.checkIssuer(claims); err != nil {
		return nil, err
	}
	if err := a.checkAudience(claims); err != nil {
		return nil, err
	}
	if exp, ok := claims["exp"].(float64); ok && int64(exp) < time.Now().Unix() {
		return nil, errors.New("token expired")
	}
	return claims, nil
}

func (a *Authenticator) checkIssuer(claims jwt.MapClaims) error {
	if a.cfg.Issuer == "" {
		return nil
	}
	if value, ok := claims["iss"].(string); !ok || value != a.cfg.Issuer {
		return errors.New("issuer mismatch")
	}
	return nil
}

func (a *Authenticator) checkAudience(claims jwt.MapClaims) error {
	if a.cfg.Audience == "" {
		return nil
	}
	switch aud := claims["aud"].(type) {
	case string:
		if aud == a.cfg.Audience {
			return nil
		}
	case []interface{}:
		for _, entry := range aud {
			if s, ok := entry.(string); ok && s == a.cfg.Audience {
				return nil
			}
		}
	default:
		// Tokens without an audience claim are accepted; issuers that scope
		// their tokens do so via the string or list form.
		return nil
	}
	return errors.New("audience mismatch")
}

func (a *Authenticator) requestContext(ctx context.Context, token string, claims jwt.MapClaims, scopes []string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyToken, token)
	if sub, _ := claims["sub"].(string); sub != "" {
		ctx = context.WithValue(ctx, ContextKeySubject, sub)
	}
	return context.WithValue(ctx, ContextKeyScopes, scopes)
}

// scopesFromClaims reads the scope claim in either of its common encodings: a
// space-separated string or a JSON list.
func scopesFromClaims(claims jwt.MapClaims, scopeClaim string) []string {
	if scopeClaim == "" {
		scopeClaim = "scope"
	}
	switch v := claims[scopeClaim].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func missingScopes(granted, required []string) []string {
	if len(required) == 0 {
		return nil
	}
	have := make(map[string]struct{}, len(granted))
	for _, scope := range granted {
		have[scope] = struct{}{}
	}
	var missing []string
	for _, want := range required {
		if _, ok := have[want]; !ok {
			missing = append(missing, want)
		}
	}
	return missing
}

func bearerToken(header string) string {
	scheme, rest, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(rest)
}
