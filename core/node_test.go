package core

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"refnet/core/genesis"
	"refnet/crypto"
	nativecommon "refnet/native/common"
	"refnet/native/referral"
	"refnet/storage"
)

// 2026-01-01T00:00:00Z, matching the genesis time used by the fixtures.
const nodeTestNow = int64(1767225600)

func nodeTestAddr(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

func bech32For(addr [20]byte) string {
	return crypto.MustNewAddress(addr[:]).String()
}

func newTestNode(t *testing.T) *Node {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := NewNode(db)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	node.SetNowFunc(func() int64 { return nodeTestNow })

	owner := nodeTestAddr(0x01)
	admin := nodeTestAddr(0x0A)
	spec := &genesis.GenesisSpec{
		GenesisTime: "2026-01-01T00:00:00Z",
		NativeTokens: []genesis.NativeTokenSpec{
			{Symbol: "PTS", Name: "Points", Decimals: 18},
		},
		Alloc: map[string]map[string]string{
			bech32For(nodeTestAddr(0xEE)): {"RNET": "10000", "PTS": "1000"},
		},
		Roles: map[string][]string{
			referral.RoleAdmin: {bech32For(admin)},
		},
		Pool: map[string]string{
			"RNET": "1000",
			"PTS":  "500",
		},
		Campaigns: []genesis.CampaignSpec{
			{
				ID:          1,
				Owner:       bech32For(owner),
				Title:       "launch week",
				RedirectURL: "https://example.com/launch",
				BaseReward:  "50",
				RewardToken: "PTS",
				TokenReward: "10",
				ReferralCap: 100,
				ExpiryTime:  uint64(nodeTestNow + 3600),
			},
		},
	}
	if err := node.ApplyGenesis(spec); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	return node
}

func TestNodeClaimLifecycle(t *testing.T) {
	node := newTestNode(t)
	participant := nodeTestAddr(0x02)

	if err := node.MakeReferral(participant, 1); err != nil {
		t.Fatalf("make referral: %v", err)
	}

	balance, err := node.Balance(participant, "")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected base payout 50, got %s", balance)
	}
	tokenBalance, err := node.Balance(participant, "PTS")
	if err != nil {
		t.Fatalf("token balance: %v", err)
	}
	if tokenBalance.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected token payout 10, got %s", tokenBalance)
	}
	poolBalance, err := node.PoolBalance("")
	if err != nil {
		t.Fatalf("pool balance: %v", err)
	}
	if poolBalance.Cmp(big.NewInt(950)) != 0 {
		t.Fatalf("expected pool 950, got %s", poolBalance)
	}

	stats, err := node.CampaignStats(1)
	if err != nil {
		t.Fatalf("campaign stats: %v", err)
	}
	if stats.Referrals != 1 || stats.Remaining != 99 || stats.Expired {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	entries := node.EventsAfter(0)
	if len(entries) != 1 {
		t.Fatalf("expected one stream entry, got %d", len(entries))
	}
	if entries[0].Event.Type != "referral.referral.successful" {
		t.Fatalf("unexpected event type %q", entries[0].Event.Type)
	}
	if entries[0].Event.Attributes["redirectUrl"] != "https://example.com/launch" {
		t.Fatalf("expected redirect url attribute, got %v", entries[0].Event.Attributes)
	}

	if err := node.MakeReferral(participant, 1); !errors.Is(err, referral.ErrAlreadyReferred) {
		t.Fatalf("expected ErrAlreadyReferred, got %v", err)
	}
}

func TestNodeCampaignAdministration(t *testing.T) {
	node := newTestNode(t)
	owner := nodeTestAddr(0x01)
	next := nodeTestAddr(0x03)

	campaign := &referral.Campaign{
		ID:          2,
		Title:       "spring push",
		RedirectURL: "https://example.com/spring",
		BaseReward:  big.NewInt(5),
		ReferralCap: 10,
		ExpiryTime:  uint64(nodeTestNow + 7200),
	}
	if err := node.CreateCampaign(owner, campaign); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	if err := node.UpdateCampaignRedirect(owner, 2, "https://example.com/updated"); err != nil {
		t.Fatalf("update redirect: %v", err)
	}
	if err := node.TransferCampaignOwnership(owner, 2, next); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}

	ids, err := node.ListCampaignsByOwner(next)
	if err != nil {
		t.Fatalf("list campaigns: %v", err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("expected campaign 2 under new owner, got %v", ids)
	}
	if err := node.SetCampaignStatus(owner, 2, false); !errors.Is(err, referral.ErrNotOwner) {
		t.Fatalf("old owner must lose rights, got %v", err)
	}
}

func TestNodeClaimQuotaRequests(t *testing.T) {
	node := newTestNode(t)
	node.SetClaimQuota(nativecommon.Quota{MaxRequestsPerMin: 2, EpochSeconds: 60})
	participant := nodeTestAddr(0x04)

	if err := node.MakeReferral(participant, 1); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	// Second attempt fails on the claim but still consumes a request slot.
	if err := node.MakeReferral(participant, 1); !errors.Is(err, referral.ErrAlreadyReferred) {
		t.Fatalf("expected ErrAlreadyReferred, got %v", err)
	}
	if err := node.MakeReferral(participant, 1); !errors.Is(err, nativecommon.ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}

	// The next epoch clears the counter.
	node.SetNowFunc(func() int64 { return nodeTestNow + 60 })
	if err := node.MakeReferral(participant, 1); !errors.Is(err, referral.ErrAlreadyReferred) {
		t.Fatalf("expected ErrAlreadyReferred after rollover, got %v", err)
	}
}

func TestNodeClaimQuotaReleasesPayoutOnFailure(t *testing.T) {
	node := newTestNode(t)
	// Budget admits exactly one base payout of 50 per epoch.
	node.SetClaimQuota(nativecommon.Quota{MaxRequestsPerMin: 10, MaxRNETPerEpoch: 50, EpochSeconds: 60})

	alice := nodeTestAddr(0x05)
	bob := nodeTestAddr(0x06)

	if err := node.MakeReferral(alice, 1); err != nil {
		t.Fatalf("alice claim: %v", err)
	}
	// Alice used her budget; a repeat attempt reserves and then releases it.
	if err := node.MakeReferral(alice, 1); !errors.Is(err, nativecommon.ErrQuotaRNETCapExceeded) {
		t.Fatalf("expected ErrQuotaRNETCapExceeded, got %v", err)
	}
	// Bob has his own per-address budget.
	if err := node.MakeReferral(bob, 1); err != nil {
		t.Fatalf("bob claim: %v", err)
	}

	// A failed claim releases the reserved payout, keeping the address able
	// to settle a different campaign inside the same epoch.
	owner := nodeTestAddr(0x01)
	dormant := &referral.Campaign{
		ID:          2,
		Title:       "dormant",
		RedirectURL: "https://example.com/dormant",
		BaseReward:  big.NewInt(50),
		ReferralCap: 10,
		ExpiryTime:  uint64(nodeTestNow + 7200),
	}
	if err := node.CreateCampaign(owner, dormant); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	if err := node.SetCampaignStatus(owner, 2, false); err != nil {
		t.Fatalf("deactivate campaign: %v", err)
	}

	carol := nodeTestAddr(0x07)
	if err := node.MakeReferral(carol, 2); !errors.Is(err, referral.ErrCampaignInactive) {
		t.Fatalf("expected ErrCampaignInactive, got %v", err)
	}
	if err := node.MakeReferral(carol, 1); err != nil {
		t.Fatalf("carol claim after failed attempt: %v", err)
	}
}

func TestNodePauseOverrideAndFlag(t *testing.T) {
	node := newTestNode(t)
	admin := nodeTestAddr(0x0A)
	participant := nodeTestAddr(0x08)

	node.SetPauseOverrides(map[string]bool{referral.ModuleName: true})
	if err := node.MakeReferral(participant, 1); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected override pause, got %v", err)
	}
	paused, err := node.Paused()
	if err != nil || !paused {
		t.Fatalf("expected paused true, got %v %v", paused, err)
	}

	node.SetPauseOverrides(nil)
	if err := node.SetPaused(admin, true); err != nil {
		t.Fatalf("set paused: %v", err)
	}
	if err := node.MakeReferral(participant, 1); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected persisted pause, got %v", err)
	}
	if err := node.SetPaused(participant, false); !errors.Is(err, referral.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := node.SetPaused(admin, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := node.MakeReferral(participant, 1); err != nil {
		t.Fatalf("claim after unpause: %v", err)
	}
}

func TestNodeEventStreamCursorReplay(t *testing.T) {
	node := newTestNode(t)

	for i := byte(0); i < 3; i++ {
		if err := node.MakeReferral(nodeTestAddr(0x20+i), 1); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
	}

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	updates, cancel, backlog, err := node.EventsSubscribe(ctx, "1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if len(backlog) != 2 {
		t.Fatalf("expected 2 backlog entries after cursor 1, got %d", len(backlog))
	}
	if backlog[0].Sequence != 2 || backlog[1].Sequence != 3 {
		t.Fatalf("unexpected backlog sequences: %d %d", backlog[0].Sequence, backlog[1].Sequence)
	}

	if err := node.MakeReferral(nodeTestAddr(0x30), 1); err != nil {
		t.Fatalf("live claim: %v", err)
	}
	select {
	case entry := <-updates:
		if entry.Sequence != 4 {
			t.Fatalf("expected live sequence 4, got %d", entry.Sequence)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for live entry")
	}

	cancel()
	if _, ok := <-updates; ok {
		t.Fatalf("expected channel closed after cancel")
	}

	if _, _, _, err := node.EventsSubscribe(context.Background(), "not-a-cursor"); err == nil {
		t.Fatalf("expected invalid cursor to fail")
	}
}

func TestNodeBalanceUnknownToken(t *testing.T) {
	node := newTestNode(t)
	if _, err := node.Balance(nodeTestAddr(0x09), "DOGE"); !errors.Is(err, referral.ErrTokenNotRegistered) {
		t.Fatalf("expected ErrTokenNotRegistered, got %v", err)
	}
	list, err := node.TokenList()
	if err != nil {
		t.Fatalf("token list: %v", err)
	}
	if len(list) != 1 || list[0] != "PTS" {
		t.Fatalf("unexpected token list %v", list)
	}
}

func TestNodeGenesisIdempotent(t *testing.T) {
	node := newTestNode(t)

	funder := nodeTestAddr(0xEE)
	before, err := node.Balance(funder, "")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}

	spec := &genesis.GenesisSpec{
		GenesisTime: "2026-01-01T00:00:00Z",
		Alloc: map[string]map[string]string{
			bech32For(funder): {"RNET": "10000"},
		},
	}
	if err := node.ApplyGenesis(spec); err != nil {
		t.Fatalf("reapply genesis: %v", err)
	}
	after, err := node.Balance(funder, "")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if before.Cmp(after) != 0 {
		t.Fatalf("genesis reapply changed balance: %s -> %s", before, after)
	}
	if !bytes.Equal(before.Bytes(), after.Bytes()) {
		t.Fatalf("balance bytes diverged")
	}
}
