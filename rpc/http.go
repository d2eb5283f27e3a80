package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"refnet/core"
	"refnet/observability"
	"refnet/rpc/modules"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	rateLimitWindow    = time.Minute
	maxClaimsPerWindow = 10
)

// Standard JSON-RPC 2.0 codes plus implementation-defined codes in the
// server-error range.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
)

// ServerConfig carries the transport knobs for the JSON-RPC server. AuthToken
// falls back to the REFNET_RPC_TOKEN environment variable when unset.
type ServerConfig struct {
	AuthToken         string
	TrustedProxies    []string
	TrustProxyHeaders bool
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// claimWindow tracks how many claims a source submitted inside the current
// rate-limit window.
type claimWindow struct {
	openedAt time.Time
	used     int
}

type Server struct {
	node     *core.Node
	cfg      ServerConfig
	referral *modules.ReferralModule

	authToken      string
	trustedProxies map[string]struct{}

	mu      sync.Mutex
	windows map[string]*claimWindow

	serverMu   sync.Mutex
	httpServer *http.Server
}

func NewServer(node *core.Node, cfg ServerConfig) *Server {
	token := strings.TrimSpace(cfg.AuthToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("REFNET_RPC_TOKEN"))
	}
	trusted := make(map[string]struct{}, len(cfg.TrustedProxies))
	for _, host := range cfg.TrustedProxies {
		if host = strings.TrimSpace(host); host != "" {
			trusted[host] = struct{}{}
		}
	}
	return &Server{
		node:           node,
		cfg:            cfg,
		referral:       modules.NewReferralModule(node),
		authToken:      token,
		trustedProxies: trusted,
		windows:        make(map[string]*claimWindow),
	}
}

// Handler exposes the JSON-RPC endpoint, the event stream websocket and the
// Prometheus scrape endpoint on one mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

func (s *Server) Serve(listener net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	s.serverMu.Lock()
	s.httpServer = server
	s.serverMu.Unlock()
	return server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	server := s.httpServer
	s.serverMu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	payload := RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

// statusWriter captures the status code written by a handler so the request
// can be recorded in the module metrics.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// methodNamespace extracts the module prefix of a method name, e.g.
// "referral" from "referral_makeReferral".
func methodNamespace(method string) string {
	ns, _, ok := strings.Cut(method, "_")
	if !ok || ns == "" {
		return method
	}
	return ns
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	req := s.readRequest(w, r)
	if req == nil {
		return
	}

	started := time.Now()
	sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
	s.dispatch(sw, r, req)
	observability.ModuleMetrics().Observe(methodNamespace(req.Method), req.Method, sw.code, time.Since(started))
}

// readRequest decodes and validates the request envelope. It writes the
// error response itself and returns nil when the request is unusable.
func (s *Server) readRequest(w http.ResponseWriter, r *http.Request) *RPCRequest {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest,
				fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes), err.Error())
		} else {
			writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "failed to read request body", err.Error())
		}
		return nil
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return nil
	}

	req := new(RPCRequest)
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return nil
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return nil
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return nil
	}
	return req
}

type methodSpec struct {
	handler   func(*Server, http.ResponseWriter, *http.Request, *RPCRequest)
	needsAuth bool
}

// methodTable maps method names to handlers. Mutating methods require the
// bearer token; read methods are open.
var methodTable = map[string]methodSpec{
	"referral_createCampaign":        {(*Server).handleReferralCreateCampaign, true},
	"referral_setCampaignStatus":     {(*Server).handleReferralSetCampaignStatus, true},
	"referral_updateRedirectUrl":     {(*Server).handleReferralUpdateRedirect, true},
	"referral_updateReferralRewards": {(*Server).handleReferralUpdateRewards, true},
	"referral_transferOwnership":     {(*Server).handleReferralTransferOwnership, true},
	"referral_makeReferral":          {(*Server).handleReferralMakeReferral, true},
	"referral_withdrawFunds":         {(*Server).handleReferralWithdrawFunds, true},
	"referral_deposit":               {(*Server).handleReferralDeposit, true},
	"referral_setPaused":             {(*Server).handleReferralSetPaused, true},
	"referral_getCampaign":           {(*Server).handleReferralGetCampaign, false},
	"referral_listCampaigns":         {(*Server).handleReferralListCampaigns, false},
	"referral_getStats":              {(*Server).handleReferralGetStats, false},
	"referral_hasReferred":           {(*Server).handleReferralHasReferred, false},
	"referral_isPaused":              {(*Server).handleReferralIsPaused, false},
	"referral_poolBalance":           {(*Server).handleReferralPoolBalance, false},
	"refnet_getBalance":              {(*Server).handleGetBalance, false},
	"refnet_getTokenList":            {(*Server).handleGetTokenList, false},
	"refnet_getEvents":               {(*Server).handleGetEvents, false},
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	spec, ok := methodTable[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		return
	}
	if spec.needsAuth {
		if rpcErr := s.requireAuth(r); rpcErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
			return
		}
	}
	spec.handler(s, w, r, req)
}

func authError(message string) *RPCError {
	return &RPCError{Code: codeUnauthorized, Message: message}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return authError("RPC authentication token not configured")
	}
	raw := r.Header.Get("Authorization")
	if raw == "" {
		return authError("missing Authorization header")
	}
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok {
		return authError("Authorization header must use Bearer scheme")
	}
	if token = strings.TrimSpace(token); token == "" {
		return authError("missing bearer token")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return authError("invalid RPC credentials")
	}
	return nil
}

// allowSource admits a claim from source, opening a fresh window when the
// previous one has elapsed.
func (s *Server) allowSource(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	win := s.windows[source]
	if win == nil || now.Sub(win.openedAt) >= rateLimitWindow {
		s.windows[source] = &claimWindow{openedAt: now, used: 1}
		return true
	}
	if win.used >= maxClaimsPerWindow {
		return false
	}
	win.used++
	return true
}

// clientSource resolves the caller identity used for rate limiting. Forwarded
// headers are only honoured when the direct peer is a configured proxy or the
// trust flag is enabled, so clients cannot spoof fresh identities.
func (s *Server) clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !s.cfg.TrustProxyHeaders {
		if _, ok := s.trustedProxies[host]; !ok {
			return host
		}
	}
	first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	if first = strings.TrimSpace(first); first != "" {
		return first
	}
	return host
}
