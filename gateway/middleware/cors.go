package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
}

// CORS answers preflight requests and stamps the allow headers on every
// response. With no configured origins the gateway answers any origin.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	origins := fallback(cfg.AllowedOrigins, []string{"*"})
	allowMethods := strings.Join(fallback(cfg.AllowedMethods, []string{"GET", "POST", "OPTIONS"}), ", ")
	allowHeaders := strings.Join(fallback(cfg.AllowedHeaders, []string{"Content-Type", "Authorization", "Idempotency-Key"}), ", ")
	allowCredentials := strconv.FormatBool(cfg.AllowCredentials)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origins[0])
			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Allow-Credentials", allowCredentials)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func fallback(values, defaults []string) []string {
	if len(values) == 0 {
		return defaults
	}
	return values
}
