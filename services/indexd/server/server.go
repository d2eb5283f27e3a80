package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"refnet/crypto"
	"refnet/services/indexd/storage"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
}

// Server hosts the stats and health endpoints for indexd.
type Server struct {
	cfg     Config
	storage *storage.Storage
	logger  *log.Logger
}

// New constructs a new HTTP server.
func New(cfg Config, store *storage.Storage, logger *log.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("storage required")
	}
	if logger == nil {
		logger = log.Default()
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":7410"
	}
	return &Server{cfg: cfg, storage: store, logger: logger}, nil
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	mux := http.NewServeMux()
	mux.Handle("/healthz", otelhttp.NewHandler(http.HandlerFunc(s.handleHealth), "indexd.health"))
	mux.Handle("/stats/campaign/", otelhttp.NewHandler(http.HandlerFunc(s.handleCampaignStats), "indexd.campaign_stats"))
	mux.Handle("/stats/referrer/", otelhttp.NewHandler(http.HandlerFunc(s.handleReferrerStats), "indexd.referrer_stats"))

	srv := &http.Server{Addr: s.cfg.ListenAddress, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Printf("indexd: http server listening on %s", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/stats/campaign/"), "/")
	if raw == "" || strings.Contains(raw, "/") {
		http.Error(w, "campaign id required", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}
	stats, err := s.storage.CampaignStats(r.Context(), id)
	if err != nil {
		s.logger.Printf("indexd: campaign stats: %v", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if stats.Events == 0 {
		http.Error(w, "campaign not observed", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (s *Server) handleReferrerStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/stats/referrer/"), "/")
	address, err := normalizeAddress(raw)
	if err != nil {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}
	stats, err := s.storage.ReferrerStats(r.Context(), address)
	if err != nil {
		s.logger.Printf("indexd: referrer stats: %v", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if stats.Claims == 0 && len(stats.Deposited) == 0 {
		http.Error(w, "address not observed", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// normalizeAddress accepts a bech32 or hex account address and returns the
// lowercase hex form used for stored attributes.
func normalizeAddress(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return "", fmt.Errorf("address required")
	}
	if decoded, err := crypto.DecodeAddress(trimmed); err == nil {
		return hex.EncodeToString(decoded.Bytes()), nil
	}
	cleaned := strings.ToLower(strings.TrimPrefix(trimmed, "0x"))
	if len(cleaned) != 40 {
		return "", fmt.Errorf("address must be bech32 or 20-byte hex")
	}
	if _, err := hex.DecodeString(cleaned); err != nil {
		return "", fmt.Errorf("decode address: %w", err)
	}
	return cleaned, nil
}
