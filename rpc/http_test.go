package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"refnet/core"
	"refnet/core/genesis"
	"refnet/crypto"
	"refnet/native/referral"
	"refnet/storage"
)

const (
	rpcTestNow   = int64(1767225600) // 2026-01-01T00:00:00Z
	rpcTestToken = "test-rpc-token"
)

func rpcTestAddr(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

func rpcBech32(addr [20]byte) string {
	return crypto.MustNewAddress(addr[:]).String()
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := core.NewNode(db)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	node.SetNowFunc(func() int64 { return rpcTestNow })

	owner := rpcTestAddr(0x01)
	admin := rpcTestAddr(0x0A)
	spec := &genesis.GenesisSpec{
		GenesisTime: "2026-01-01T00:00:00Z",
		NativeTokens: []genesis.NativeTokenSpec{
			{Symbol: "PTS", Name: "Points", Decimals: 18},
		},
		Alloc: map[string]map[string]string{
			rpcBech32(rpcTestAddr(0xEE)): {"RNET": "10000"},
		},
		Roles: map[string][]string{
			referral.RoleAdmin: {rpcBech32(admin)},
		},
		Pool: map[string]string{"RNET": "1000", "PTS": "500"},
		Campaigns: []genesis.CampaignSpec{
			{
				ID:          1,
				Owner:       rpcBech32(owner),
				Title:       "launch week",
				RedirectURL: "https://example.com/launch",
				BaseReward:  "50",
				RewardToken: "PTS",
				TokenReward: "10",
				ReferralCap: 100,
				ExpiryTime:  uint64(rpcTestNow + 3600),
			},
		},
	}
	if err := node.ApplyGenesis(spec); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	return NewServer(node, ServerConfig{AuthToken: rpcTestToken})
}

type testResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func rpcCall(t *testing.T, s *Server, token, method string, params interface{}) (int, testResponse) {
	t.Helper()
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		request["params"] = []interface{}{params}
	} else {
		request["params"] = []interface{}{}
	}
	body, err := json.Marshal(request)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:54321"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handle(rec, req)

	var resp testResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return rec.Code, resp
}

func decodeResult(t *testing.T, raw json.RawMessage, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode result: %v (%s)", err, raw)
	}
}

func TestGetCampaignRoundTrip(t *testing.T) {
	server := newTestServer(t)

	status, resp := rpcCall(t, server, "", "referral_getCampaign", map[string]interface{}{"id": 1})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("unexpected response: %d %+v", status, resp.Error)
	}
	var campaign struct {
		ID          uint64 `json:"id"`
		Title       string `json:"title"`
		RedirectURL string `json:"redirectUrl"`
		BaseReward  string `json:"baseReward"`
		Active      bool   `json:"active"`
	}
	decodeResult(t, resp.Result, &campaign)
	if campaign.ID != 1 || campaign.Title != "launch week" || !campaign.Active {
		t.Fatalf("unexpected campaign: %+v", campaign)
	}
	if campaign.BaseReward != "50" || campaign.RedirectURL != "https://example.com/launch" {
		t.Fatalf("unexpected campaign payload: %+v", campaign)
	}

	status, resp = rpcCall(t, server, "", "referral_getCampaign", map[string]interface{}{"id": 404})
	if status != http.StatusNotFound || resp.Error == nil {
		t.Fatalf("expected not found, got %d %+v", status, resp)
	}
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	server := newTestServer(t)
	params := map[string]interface{}{
		"caller":      rpcBech32(rpcTestAddr(0x01)),
		"id":          7,
		"title":       "autumn push",
		"redirectUrl": "https://example.com/autumn",
		"baseReward":  "5",
		"referralCap": 10,
		"expiryTime":  rpcTestNow + 7200,
	}

	status, resp := rpcCall(t, server, "", "referral_createCampaign", params)
	if status != http.StatusUnauthorized || resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized, got %d %+v", status, resp)
	}

	status, resp = rpcCall(t, server, "wrong-token", "referral_createCampaign", params)
	if status != http.StatusUnauthorized || resp.Error == nil {
		t.Fatalf("expected bad token rejection, got %d %+v", status, resp)
	}

	status, resp = rpcCall(t, server, rpcTestToken, "referral_createCampaign", params)
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("expected create to succeed, got %d %+v", status, resp.Error)
	}
	var campaign struct {
		ID    uint64 `json:"id"`
		Owner string `json:"owner"`
	}
	decodeResult(t, resp.Result, &campaign)
	if campaign.ID != 7 || campaign.Owner != rpcBech32(rpcTestAddr(0x01)) {
		t.Fatalf("unexpected campaign: %+v", campaign)
	}
}

func TestMakeReferralRoundTrip(t *testing.T) {
	server := newTestServer(t)
	participant := rpcBech32(rpcTestAddr(0x02))
	params := map[string]interface{}{"caller": participant, "id": 1}

	status, resp := rpcCall(t, server, rpcTestToken, "referral_makeReferral", params)
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("claim failed: %d %+v", status, resp.Error)
	}
	var claim struct {
		CampaignID  uint64 `json:"campaignId"`
		RedirectURL string `json:"redirectUrl"`
		Status      string `json:"status"`
	}
	decodeResult(t, resp.Result, &claim)
	if claim.CampaignID != 1 || claim.Status != "settled" || claim.RedirectURL != "https://example.com/launch" {
		t.Fatalf("unexpected claim result: %+v", claim)
	}

	// A repeat claim maps to a conflict, not a server error.
	status, resp = rpcCall(t, server, rpcTestToken, "referral_makeReferral", params)
	if status != http.StatusConflict || resp.Error == nil {
		t.Fatalf("expected conflict on repeat claim, got %d %+v", status, resp)
	}

	status, resp = rpcCall(t, server, "", "refnet_getBalance", map[string]interface{}{"address": participant})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("balance query failed: %d %+v", status, resp.Error)
	}
	var balance struct {
		Currency string `json:"currency"`
		Amount   string `json:"amount"`
	}
	decodeResult(t, resp.Result, &balance)
	if balance.Currency != "RNET" || balance.Amount != "50" {
		t.Fatalf("unexpected balance: %+v", balance)
	}
}

func TestGetEventsPolling(t *testing.T) {
	server := newTestServer(t)
	participant := map[string]interface{}{"caller": rpcBech32(rpcTestAddr(0x03)), "id": 1}
	if status, resp := rpcCall(t, server, rpcTestToken, "referral_makeReferral", participant); status != http.StatusOK {
		t.Fatalf("claim failed: %d %+v", status, resp.Error)
	}

	status, resp := rpcCall(t, server, "", "refnet_getEvents", nil)
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("events query failed: %d %+v", status, resp.Error)
	}
	var entries []struct {
		Sequence uint64 `json:"sequence"`
		Event    struct {
			Type string `json:"type"`
		} `json:"event"`
	}
	decodeResult(t, resp.Result, &entries)
	if len(entries) != 1 || entries[0].Event.Type != "referral.referral.successful" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	status, resp = rpcCall(t, server, "", "refnet_getEvents", map[string]interface{}{"cursor": fmt.Sprintf("%d", entries[0].Sequence)})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("cursor query failed: %d %+v", status, resp.Error)
	}
	var after []json.RawMessage
	decodeResult(t, resp.Result, &after)
	if len(after) != 0 {
		t.Fatalf("expected no entries after cursor, got %d", len(after))
	}
}

func TestUnknownMethod(t *testing.T) {
	server := newTestServer(t)
	status, resp := rpcCall(t, server, "", "referral_unknown", nil)
	if status != http.StatusNotFound || resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %d %+v", status, resp)
	}
}

func TestClientSourceIgnoresForwardedForWhenNotTrusted(t *testing.T) {
	server := NewServer(nil, ServerConfig{})
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	if source := server.clientSource(req); source != "10.0.0.5" {
		t.Fatalf("expected remote address, got %q", source)
	}
}

func TestClientSourceHonorsForwardedForFromTrustedProxy(t *testing.T) {
	server := NewServer(nil, ServerConfig{TrustedProxies: []string{"10.0.0.1"}})
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:8080"
	req.Header.Set("X-Forwarded-For", "198.51.100.7")

	if source := server.clientSource(req); source != "198.51.100.7" {
		t.Fatalf("expected forwarded client, got %q", source)
	}
}

func TestClientSourceHonorsForwardedForWhenTrustFlagEnabled(t *testing.T) {
	server := NewServer(nil, ServerConfig{TrustProxyHeaders: true})
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.0.2.10:7000"
	req.Header.Set("X-Forwarded-For", "198.51.100.8")

	if source := server.clientSource(req); source != "198.51.100.8" {
		t.Fatalf("expected forwarded client, got %q", source)
	}
}

func TestRateLimitSpoofedForwardedFor(t *testing.T) {
	server := NewServer(nil, ServerConfig{})
	now := time.Now()
	remoteAddr := "10.1.1.1:9000"

	for i := 0; i < maxClaimsPerWindow; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = remoteAddr
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		if !server.allowSource(server.clientSource(req), now) {
			t.Fatalf("request %d should not be rate limited", i)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = remoteAddr
	req.Header.Set("X-Forwarded-For", "198.51.100.250")
	if server.allowSource(server.clientSource(req), now) {
		t.Fatalf("spoofed forwarded-for should not bypass rate limiting")
	}
}

func TestRateLimitWindowResets(t *testing.T) {
	server := NewServer(nil, ServerConfig{})
	now := time.Now()

	for i := 0; i < maxClaimsPerWindow; i++ {
		if !server.allowSource("1.2.3.4", now) {
			t.Fatalf("request %d should pass", i)
		}
	}
	if server.allowSource("1.2.3.4", now) {
		t.Fatalf("expected limiter to trip")
	}
	if !server.allowSource("1.2.3.4", now.Add(rateLimitWindow)) {
		t.Fatalf("expected fresh window to pass")
	}
}
