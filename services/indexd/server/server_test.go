package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"refnet/core/events"
	"refnet/crypto"
	"refnet/services/indexd/storage"
)

var (
	ownerHex   = strings.Repeat("aa", 20)
	callerHex  = strings.Repeat("bb", 20)
	callerAddr = crypto.MustNewAddress(bytes.Repeat([]byte{0xbb}, 20))
)

func newTestServer(t *testing.T, name string) (*Server, *storage.Storage) {
	t.Helper()
	store, err := storage.Open("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	srv, err := New(Config{ListenAddress: ":0"}, store, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, store
}

func seedCampaignSeven(t *testing.T, store *storage.Storage) {
	t.Helper()
	campaign := uint64(7)
	records := []storage.EventRecord{
		{Sequence: 1, RunID: "run-1", Type: events.TypeReferralCampaignCreated, CampaignID: &campaign, Owner: ownerHex, Attributes: `{"campaignId":"7"}`, EmittedAt: 100},
		{Sequence: 2, RunID: "run-1", Type: events.TypeReferralSuccessful, CampaignID: &campaign, Owner: ownerHex, Participant: callerHex, Attributes: `{"campaignId":"7"}`, EmittedAt: 200},
		{Sequence: 3, RunID: "run-1", Type: events.TypeReferralSuccessful, CampaignID: &campaign, Owner: ownerHex, Participant: strings.Repeat("cc", 20), Attributes: `{"campaignId":"7"}`, EmittedAt: 300},
		{Sequence: 4, RunID: "run-1", Type: events.TypeReferralFundsWithdrawn, CampaignID: &campaign, Participant: ownerHex, Amount: "250", Currency: "RNET", Attributes: `{"campaignId":"7"}`, EmittedAt: 400},
	}
	for _, rec := range records {
		if _, err := store.InsertEvent(context.Background(), rec); err != nil {
			t.Fatalf("seed event %d: %v", rec.Sequence, err)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "server_health_test")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.handleHealth(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestCampaignStatsEndpoint(t *testing.T) {
	srv, store := newTestServer(t, "server_campaign_test")
	seedCampaignSeven(t, store)

	req := httptest.NewRequest(http.MethodGet, "/stats/campaign/7", nil)
	rr := httptest.NewRecorder()
	srv.handleCampaignStats(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body %s", rr.Code, rr.Body.String())
	}
	var stats storage.CampaignStats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.CampaignID != 7 || stats.Events != 4 || stats.Claims != 2 || stats.Participants != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(stats.Withdrawn) != 1 || stats.Withdrawn[0].Total != "250" {
		t.Fatalf("unexpected withdrawals: %+v", stats.Withdrawn)
	}

	cases := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"unknown_campaign", http.MethodGet, "/stats/campaign/99", http.StatusNotFound},
		{"bad_id", http.MethodGet, "/stats/campaign/abc", http.StatusBadRequest},
		{"zero_id", http.MethodGet, "/stats/campaign/0", http.StatusBadRequest},
		{"missing_id", http.MethodGet, "/stats/campaign/", http.StatusBadRequest},
		{"wrong_method", http.MethodPost, "/stats/campaign/7", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			rr := httptest.NewRecorder()
			srv.handleCampaignStats(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestReferrerStatsEndpoint(t *testing.T) {
	srv, store := newTestServer(t, "server_referrer_test")
	seedCampaignSeven(t, store)

	req := httptest.NewRequest(http.MethodGet, "/stats/referrer/"+callerAddr.String(), nil)
	rr := httptest.NewRecorder()
	srv.handleReferrerStats(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body %s", rr.Code, rr.Body.String())
	}
	var stats storage.ReferrerStats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Address != callerHex || stats.Claims != 1 || stats.Campaigns != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	req = httptest.NewRequest(http.MethodGet, "/stats/referrer/0x"+strings.ToUpper(callerHex), nil)
	rr = httptest.NewRecorder()
	srv.handleReferrerStats(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("hex lookup failed: %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/stats/referrer/"+strings.Repeat("ee", 20), nil)
	rr = httptest.NewRecorder()
	srv.handleReferrerStats(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unobserved address, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/stats/referrer/not-an-address", nil)
	rr = httptest.NewRecorder()
	srv.handleReferrerStats(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed address, got %d", rr.Code)
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"bech32", callerAddr.String(), callerHex, false},
		{"hex", callerHex, callerHex, false},
		{"hex_prefixed_upper", "0x" + strings.ToUpper(callerHex), callerHex, false},
		{"empty", "", "", true},
		{"short_hex", strings.Repeat("bb", 19), "", true},
		{"junk", "not-an-address", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := normalizeAddress(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
