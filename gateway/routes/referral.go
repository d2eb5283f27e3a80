package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

const referralRequestLimit = 1 << 20 // 1 MiB

// referralMethods enumerates the JSON-RPC methods the gateway relays to the
// node. The value marks methods that mutate state and carry the node bearer
// token upstream.
var referralMethods = map[string]bool{
	"referral_createCampaign":        true,
	"referral_setCampaignStatus":     true,
	"referral_updateRedirectUrl":     true,
	"referral_updateReferralRewards": true,
	"referral_transferOwnership":     true,
	"referral_makeReferral":          true,
	"referral_withdrawFunds":         true,
	"referral_deposit":               true,
	"referral_setPaused":             true,
	"referral_getCampaign":           false,
	"referral_listCampaigns":         false,
	"referral_getStats":              false,
	"referral_hasReferred":           false,
	"referral_isPaused":              false,
	"referral_poolBalance":           false,
	"refnet_getBalance":              false,
	"refnet_getTokenList":            false,
	"refnet_getEvents":               false,
}

// referralRoutes validates referral JSON-RPC requests before relaying them to
// the node RPC endpoint.
type referralRoutes struct {
	target    *url.URL
	client    *http.Client
	timeout   time.Duration
	nodeToken string
}

type rpcEnvelope struct {
	JSONRPC string            `json:"jsonrpc,omitempty"`
	ID      json.RawMessage   `json:"id,omitempty"`
	Method  string            `json:"method,omitempty"`
	Params  []json.RawMessage `json:"params"`
}

func newReferralRoutes(target *url.URL, nodeToken string) (*referralRoutes, error) {
	if target == nil {
		return nil, fmt.Errorf("nil referral target")
	}
	cloned := *target
	if strings.TrimSpace(cloned.Scheme) == "" {
		return nil, fmt.Errorf("referral target scheme required")
	}
	if strings.TrimSpace(cloned.Host) == "" {
		return nil, fmt.Errorf("referral target host required")
	}
	if strings.TrimSpace(cloned.Path) == "" {
		cloned.Path = "/"
	}
	return &referralRoutes{
		target:    &cloned,
		client:    &http.Client{Timeout: 15 * time.Second},
		timeout:   10 * time.Second,
		nodeToken: strings.TrimSpace(nodeToken),
	}, nil
}

func (rr *referralRoutes) mount(r chi.Router) {
	r.Post("/rpc", rr.relay)
}

func (rr *referralRoutes) relay(w http.ResponseWriter, r *http.Request) {
	if rr == nil || rr.target == nil {
		writeInternalError(w, errors.New("referral route misconfigured"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, referralRequestLimit))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("read request body: %w", err))
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeBadRequest(w, errors.New("request body is empty"))
		return
	}

	var req rpcEnvelope
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(w, fmt.Errorf("decode request: %w", err))
		return
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		writeBadRequest(w, errors.New("method required"))
		return
	}
	mutating, supported := referralMethods[method]
	if !supported {
		writeBadRequest(w, fmt.Errorf("unsupported method %q", method))
		return
	}
	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}

	forwardBody, err := json.Marshal(req)
	if err != nil {
		writeInternalError(w, fmt.Errorf("encode upstream request: %w", err))
		return
	}

	ctx, cancel := rr.context(r.Context())
	defer cancel()

	forwardReq, err := http.NewRequestWithContext(ctx, http.MethodPost, rr.target.String(), bytes.NewReader(forwardBody))
	if err != nil {
		writeInternalError(w, fmt.Errorf("build upstream request: %w", err))
		return
	}
	forwardReq.Header.Set("Content-Type", "application/json")
	if mutating && rr.nodeToken != "" {
		forwardReq.Header.Set("Authorization", "Bearer "+rr.nodeToken)
	} else if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		forwardReq.Header.Set("Authorization", auth)
	}
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if remote := clientIP(r.RemoteAddr); remote != "" {
		if forwarded != "" {
			forwarded = fmt.Sprintf("%s, %s", forwarded, remote)
		} else {
			forwarded = remote
		}
	}
	if forwarded != "" {
		forwardReq.Header.Set("X-Forwarded-For", forwarded)
	}

	resp, err := rr.client.Do(forwardReq)
	if err != nil {
		writeInternalError(w, fmt.Errorf("forward request: %w", err))
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (rr *referralRoutes) context(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := rr.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		// Skip Content-Length to allow Go's http server to set it automatically.
		if strings.EqualFold(key, "Content-Length") {
			continue
		}
		dst.Del(key)
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func clientIP(addr string) string {
	host := strings.TrimSpace(addr)
	if host == "" {
		return ""
	}
	if parsedHost, _, err := net.SplitHostPort(host); err == nil {
		host = parsedHost
	}
	return strings.TrimSpace(host)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusInternalServerError, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	payload, marshalErr := json.Marshal(map[string]string{"error": message})
	if marshalErr != nil {
		payload = []byte(`{"error":"internal error"}`)
	}
	_, _ = w.Write(payload)
}
