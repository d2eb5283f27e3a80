package routes

import (
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// NewProxy forwards requests to the target after stripping the route prefix.
// The forwarded-for chain is preserved and trace context is injected so
// upstream spans join the gateway trace.
func NewProxy(target *url.URL, stripPrefix string) http.Handler {
	logger := log.Default()
	basePath := strings.TrimSuffix(stripPrefix, "/")
	return &httputil.ReverseProxy{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Rewrite: func(pr *httputil.ProxyRequest) {
			path := pr.In.URL.Path
			if basePath != "" && strings.HasPrefix(path, basePath) {
				path = strings.TrimPrefix(path, basePath)
			}
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			pr.Out.URL.Path = path
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			pr.Out.Host = target.Host
			pr.SetXForwarded()
			otel.GetTextMapPropagator().Inject(pr.Out.Context(), propagation.HeaderCarrier(pr.Out.Header))
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Printf("proxy error: %v", err)
			http.Error(w, "upstream error", http.StatusBadGateway)
		},
	}
}
