package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"refnet/core/events"
	"refnet/core/types"
	"refnet/services/indexd/storage"
)

var (
	testOwner  = strings.Repeat("aa", 20)
	testCaller = strings.Repeat("bb", 20)
)

func encodeEntry(t *testing.T, seq uint64, ts int64, event *types.Event) []byte {
	t.Helper()
	data, err := json.Marshal(streamEntry{Sequence: seq, Cursor: "", Timestamp: ts, Event: event})
	if err != nil {
		t.Fatalf("encode entry: %v", err)
	}
	return data
}

// streamServer serves canned entries over /ws/events and records the cursor
// carried by each dial. The stream stays open until the test finishes so the
// indexer never redials mid-assertion.
type streamServer struct {
	mu      sync.Mutex
	cursors []string
	entries [][]byte
	stop    chan struct{}
}

func newStreamServer(t *testing.T, entries [][]byte) (*streamServer, string) {
	t.Helper()
	ss := &streamServer{entries: entries, stop: make(chan struct{})}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/events" {
			http.NotFound(w, r)
			return
		}
		ss.mu.Lock()
		ss.cursors = append(ss.cursors, r.URL.Query().Get("cursor"))
		ss.mu.Unlock()
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		for _, raw := range ss.entries {
			if err := conn.Write(r.Context(), websocket.MessageText, raw); err != nil {
				return
			}
		}
		<-ss.stop
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(ss.stop) })
	return ss, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
}

func (ss *streamServer) dialCursors() []string {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return append([]string(nil), ss.cursors...)
}

func openTestStorage(t *testing.T, name string) *storage.Storage {
	t.Helper()
	store, err := storage.Open("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func waitForCursor(t *testing.T, store *storage.Storage, want uint64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		cursor, err := store.LastCursor(context.Background())
		if err != nil {
			t.Fatalf("last cursor: %v", err)
		}
		if cursor == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for cursor %d, at %d", want, cursor)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestIndexerStoresStreamedEvents(t *testing.T) {
	store := openTestStorage(t, "indexer_stream_test")
	entries := [][]byte{
		encodeEntry(t, 1, 100, &types.Event{
			Type: events.TypeReferralCampaignCreated,
			Attributes: map[string]string{
				"campaignId": "7",
				"owner":      testOwner,
				"title":      "Launch",
				"baseReward": "100",
			},
		}),
		encodeEntry(t, 2, 200, &types.Event{
			Type: events.TypeReferralSuccessful,
			Attributes: map[string]string{
				"campaignId":  "7",
				"owner":       testOwner,
				"caller":      testCaller,
				"redirectUrl": "https://example.com/launch",
			},
		}),
		encodeEntry(t, 3, 300, &types.Event{
			Type: events.TypeReferralFundsWithdrawn,
			Attributes: map[string]string{
				"campaignId": "7",
				"caller":     testOwner,
				"amount":     "250",
				"currency":   "RNET",
			},
		}),
	}
	ss, nodeURL := newStreamServer(t, entries)

	ix, err := New(store, nodeURL, 50*time.Millisecond, WithRunID("run-test"))
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ix.Run(ctx) }()

	waitForCursor(t, store, 3)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("indexer did not stop")
	}

	cursors := ss.dialCursors()
	if len(cursors) == 0 || cursors[0] != "" {
		t.Fatalf("expected first dial without cursor, got %v", cursors)
	}

	stats, err := store.CampaignStats(context.Background(), 7)
	if err != nil {
		t.Fatalf("campaign stats: %v", err)
	}
	if stats.Events != 3 || stats.Claims != 1 || stats.Participants != 1 {
		t.Fatalf("unexpected campaign stats: %+v", stats)
	}
	if len(stats.Withdrawn) != 1 || stats.Withdrawn[0].Currency != "RNET" || stats.Withdrawn[0].Total != "250" {
		t.Fatalf("unexpected withdrawals: %+v", stats.Withdrawn)
	}
	referrer, err := store.ReferrerStats(context.Background(), testCaller)
	if err != nil {
		t.Fatalf("referrer stats: %v", err)
	}
	if referrer.Claims != 1 || referrer.Campaigns != 1 {
		t.Fatalf("unexpected referrer stats: %+v", referrer)
	}
}

func TestIndexerResumesFromStoredCursor(t *testing.T) {
	store := openTestStorage(t, "indexer_resume_test")
	for seq := uint64(1); seq <= 2; seq++ {
		campaign := uint64(7)
		if _, err := store.InsertEvent(context.Background(), storage.EventRecord{
			Sequence:   seq,
			RunID:      "run-prior",
			Type:       events.TypeReferralCampaignCreated,
			CampaignID: &campaign,
			Owner:      testOwner,
			Attributes: `{"campaignId":"7"}`,
			EmittedAt:  int64(seq * 100),
		}); err != nil {
			t.Fatalf("seed event %d: %v", seq, err)
		}
	}

	// Replays sequence 2 before the new entry to exercise dedup on a live
	// stream.
	entries := [][]byte{
		encodeEntry(t, 2, 200, &types.Event{
			Type:       events.TypeReferralCampaignCreated,
			Attributes: map[string]string{"campaignId": "7", "owner": testOwner},
		}),
		encodeEntry(t, 3, 300, &types.Event{
			Type: events.TypeReferralPoolDeposited,
			Attributes: map[string]string{
				"caller":   testCaller,
				"amount":   "1000",
				"currency": "RNET",
			},
		}),
	}
	ss, nodeURL := newStreamServer(t, entries)

	ix, err := New(store, nodeURL, 50*time.Millisecond, WithRunID("run-resume"))
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ix.Run(ctx) }()

	waitForCursor(t, store, 3)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("indexer did not stop")
	}

	cursors := ss.dialCursors()
	if len(cursors) == 0 || cursors[0] != "2" {
		t.Fatalf("expected resume dial with cursor 2, got %v", cursors)
	}

	referrer, err := store.ReferrerStats(context.Background(), testCaller)
	if err != nil {
		t.Fatalf("referrer stats: %v", err)
	}
	if len(referrer.Deposited) != 1 || referrer.Deposited[0].Total != "1000" {
		t.Fatalf("unexpected deposits: %+v", referrer.Deposited)
	}
}

func TestNewValidatesArguments(t *testing.T) {
	store := openTestStorage(t, "indexer_args_test")
	if _, err := New(nil, "ws://127.0.0.1:8080/ws/events", 0); err == nil {
		t.Fatalf("expected error for nil storage")
	}
	if _, err := New(store, "   ", 0); err == nil {
		t.Fatalf("expected error for empty url")
	}
	ix, err := New(store, "ws://127.0.0.1:8080/ws/events", 0)
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	if ix.RunID() == "" {
		t.Fatalf("expected generated run id")
	}
	target, err := ix.streamURL(42)
	if err != nil {
		t.Fatalf("stream url: %v", err)
	}
	if target != "ws://127.0.0.1:8080/ws/events?cursor=42" {
		t.Fatalf("unexpected stream url: %q", target)
	}
}
