package referral_test

import (
	"errors"
	"math/big"
	"testing"

	"refnet/core/events"
	"refnet/core/state"
	referral "refnet/native/referral"
	"refnet/storage"
)

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(e events.Event) {
	c.events = append(c.events, e)
}

const testNow = int64(1_000_000)

func testAddr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func newTestRegistry(t *testing.T) (*referral.Registry, *state.Manager) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	manager := state.NewManager(db)
	if err := manager.RegisterToken("PTS", "Points", 18); err != nil {
		t.Fatalf("register token: %v", err)
	}
	registry := referral.NewRegistry(manager)
	registry.SetNowFunc(func() int64 { return testNow })
	return registry, manager
}

func testCampaign(id uint64) *referral.Campaign {
	return &referral.Campaign{
		ID:          id,
		Title:       "launch week",
		RedirectURL: "https://example.com/launch",
		BaseReward:  big.NewInt(50),
		RewardToken: "pts",
		TokenReward: big.NewInt(10),
		ReferralCap: 100,
		ExpiryTime:  uint64(testNow) + 3_600,
	}
}

func TestRegistryCreateAndGetCampaign(t *testing.T) {
	registry, _ := newTestRegistry(t)
	owner := testAddr(0x11)

	emitter := &capturingEmitter{}
	registry.SetEmitter(emitter)

	if err := registry.CreateCampaign(owner, testCampaign(1)); err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	stored, ok := registry.GetCampaign(1)
	if !ok {
		t.Fatalf("expected campaign to exist")
	}
	if stored.Owner != owner {
		t.Fatalf("expected caller recorded as owner")
	}
	if !stored.Active {
		t.Fatalf("expected campaign active after create")
	}
	if stored.RewardToken != "PTS" {
		t.Fatalf("expected token symbol uppercased, got %q", stored.RewardToken)
	}
	if stored.BaseReward.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected base reward: %s", stored.BaseReward)
	}

	ids, err := registry.ListCampaignsByOwner(owner)
	if err != nil {
		t.Fatalf("list campaigns: %v", err)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("expected one campaign id, got %v", ids)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.events))
	}
	if emitter.events[0].EventType() != events.TypeReferralCampaignCreated {
		t.Fatalf("unexpected event type %q", emitter.events[0].EventType())
	}
}

func TestRegistryCreateRejectsDuplicateID(t *testing.T) {
	registry, _ := newTestRegistry(t)
	owner := testAddr(0x01)
	other := testAddr(0x02)

	if err := registry.CreateCampaign(owner, testCampaign(7)); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	if err := registry.CreateCampaign(other, testCampaign(7)); !errors.Is(err, referral.ErrCampaignExists) {
		t.Fatalf("expected ErrCampaignExists, got %v", err)
	}

	stored, ok := registry.GetCampaign(7)
	if !ok || stored.Owner != owner {
		t.Fatalf("original campaign should be untouched")
	}
}

func TestRegistryCreateValidation(t *testing.T) {
	registry, _ := newTestRegistry(t)
	owner := testAddr(0x03)

	if err := registry.CreateCampaign(owner, nil); !errors.Is(err, referral.ErrNilCampaign) {
		t.Fatalf("expected ErrNilCampaign, got %v", err)
	}

	var zero [20]byte
	if err := registry.CreateCampaign(zero, testCampaign(1)); !errors.Is(err, referral.ErrInvalidOwner) {
		t.Fatalf("expected ErrInvalidOwner for zero caller, got %v", err)
	}

	expired := testCampaign(2)
	expired.ExpiryTime = uint64(testNow)
	if err := registry.CreateCampaign(owner, expired); !errors.Is(err, referral.ErrInvalidExpiry) {
		t.Fatalf("expected ErrInvalidExpiry for expiry at now, got %v", err)
	}

	negative := testCampaign(3)
	negative.BaseReward = big.NewInt(-1)
	if err := registry.CreateCampaign(owner, negative); !errors.Is(err, referral.ErrInvalidCampaign) {
		t.Fatalf("expected ErrInvalidCampaign, got %v", err)
	}

	unknownToken := testCampaign(4)
	unknownToken.RewardToken = "NOPE"
	if err := registry.CreateCampaign(owner, unknownToken); !errors.Is(err, referral.ErrTokenNotRegistered) {
		t.Fatalf("expected ErrTokenNotRegistered, got %v", err)
	}

	baseOnly := testCampaign(5)
	baseOnly.RewardToken = ""
	baseOnly.TokenReward = big.NewInt(99)
	if err := registry.CreateCampaign(owner, baseOnly); err != nil {
		t.Fatalf("base-only campaign should be valid: %v", err)
	}
	stored, _ := registry.GetCampaign(5)
	if stored.TokenReward.Sign() != 0 {
		t.Fatalf("token reward should be zeroed without a reward token, got %s", stored.TokenReward)
	}
}

func TestRegistryCreateAllowsZeroCap(t *testing.T) {
	registry, _ := newTestRegistry(t)
	owner := testAddr(0x04)

	campaign := testCampaign(9)
	campaign.ReferralCap = 0
	if err := registry.CreateCampaign(owner, campaign); err != nil {
		t.Fatalf("zero-cap campaign should be allowed at create: %v", err)
	}
}

func TestRegistrySetCampaignStatus(t *testing.T) {
	registry, _ := newTestRegistry(t)
	owner := testAddr(0x05)
	outsider := testAddr(0x06)

	if err := registry.CreateCampaign(owner, testCampaign(1)); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	emitter := &capturingEmitter{}
	registry.SetEmitter(emitter)

	if err := registry.SetCampaignStatus(outsider, 1, false); !errors.Is(err, referral.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := registry.SetCampaignStatus(owner, 99, false); !errors.Is(err, referral.ErrCampaignNotFound) {
		t.Fatalf("expected ErrCampaignNotFound, got %v", err)
	}

	if err := registry.SetCampaignStatus(owner, 1, false); err != nil {
		t.Fatalf("set status: %v", err)
	}
	stored, _ := registry.GetCampaign(1)
	if stored.Active {
		t.Fatalf("expected campaign inactive")
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType() != events.TypeReferralCampaignStatusUpdated {
		t.Fatalf("expected status event, got %#v", emitter.events)
	}

	if err := registry.SetCampaignStatus(owner, 1, true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	stored, _ = registry.GetCampaign(1)
	if !stored.Active {
		t.Fatalf("expected campaign active again")
	}
}

func TestRegistryUpdateRedirectURL(t *testing.T) {
	registry, _ := newTestRegistry(t)
	owner := testAddr(0x07)
	outsider := testAddr(0x08)

	if err := registry.CreateCampaign(owner, testCampaign(1)); err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	if err := registry.UpdateRedirectURL(outsider, 1, "https://evil.example"); !errors.Is(err, referral.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := registry.UpdateRedirectURL(owner, 1, "https://example.com/v2"); err != nil {
		t.Fatalf("update redirect: %v", err)
	}
	stored, _ := registry.GetCampaign(1)
	if stored.RedirectURL != "https://example.com/v2" {
		t.Fatalf("unexpected redirect url: %q", stored.RedirectURL)
	}
}

func TestRegistryUpdateReferralRewards(t *testing.T) {
	registry, _ := newTestRegistry(t)
	owner := testAddr(0x09)

	if err := registry.CreateCampaign(owner, testCampaign(1)); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	emitter := &capturingEmitter{}
	registry.SetEmitter(emitter)

	if err := registry.UpdateReferralRewards(owner, 1, big.NewInt(-5), big.NewInt(1)); !errors.Is(err, referral.ErrInvalidCampaign) {
		t.Fatalf("expected ErrInvalidCampaign for negative base, got %v", err)
	}
	if err := registry.UpdateReferralRewards(owner, 1, big.NewInt(75), big.NewInt(20)); err != nil {
		t.Fatalf("update rewards: %v", err)
	}

	stored, _ := registry.GetCampaign(1)
	if stored.BaseReward.Cmp(big.NewInt(75)) != 0 || stored.TokenReward.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("rewards not updated: base=%s token=%s", stored.BaseReward, stored.TokenReward)
	}
	if stored.RewardToken != "PTS" {
		t.Fatalf("reward token must be immutable, got %q", stored.RewardToken)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType() != events.TypeReferralCampaignRewardsUpdated {
		t.Fatalf("expected rewards event, got %#v", emitter.events)
	}
}

func TestRegistryTransferOwnership(t *testing.T) {
	registry, _ := newTestRegistry(t)
	owner := testAddr(0x0A)
	next := testAddr(0x0B)

	if err := registry.CreateCampaign(owner, testCampaign(1)); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	emitter := &capturingEmitter{}
	registry.SetEmitter(emitter)

	var zero [20]byte
	if err := registry.TransferOwnership(owner, 1, zero); !errors.Is(err, referral.ErrInvalidOwner) {
		t.Fatalf("expected ErrInvalidOwner for zero owner, got %v", err)
	}

	if err := registry.TransferOwnership(owner, 1, next); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	stored, _ := registry.GetCampaign(1)
	if stored.Owner != next {
		t.Fatalf("ownership not transferred")
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType() != events.TypeReferralCampaignOwnershipTransferred {
		t.Fatalf("expected ownership event, got %#v", emitter.events)
	}

	// The previous owner retains no rights at all.
	if err := registry.SetCampaignStatus(owner, 1, false); !errors.Is(err, referral.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner for previous owner, got %v", err)
	}
	if err := registry.SetCampaignStatus(next, 1, false); err != nil {
		t.Fatalf("new owner update: %v", err)
	}

	oldList, err := registry.ListCampaignsByOwner(owner)
	if err != nil {
		t.Fatalf("list old owner: %v", err)
	}
	if len(oldList) != 0 {
		t.Fatalf("previous owner should list no campaigns, got %v", oldList)
	}
	newList, err := registry.ListCampaignsByOwner(next)
	if err != nil {
		t.Fatalf("list new owner: %v", err)
	}
	if len(newList) != 1 || newList[0] != 1 {
		t.Fatalf("new owner should list the campaign, got %v", newList)
	}
}

func TestRegistryCountersForUnknownCampaign(t *testing.T) {
	registry, _ := newTestRegistry(t)

	if _, err := registry.ReferralCount(404); !errors.Is(err, referral.ErrCampaignNotFound) {
		t.Fatalf("expected ErrCampaignNotFound, got %v", err)
	}
	if _, err := registry.HasReferred(404, testAddr(0x01)); !errors.Is(err, referral.ErrCampaignNotFound) {
		t.Fatalf("expected ErrCampaignNotFound, got %v", err)
	}
}
