package referral

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"refnet/core/events"
)

type registryState interface {
	TokenExists(symbol string) bool
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Registry manages persistence, validation and ownership of referral
// campaigns. Reward settlement lives in the Engine; the registry never moves
// funds, so its operations stay available while claims are paused.
type Registry struct {
	st      registryState
	emitter events.Emitter
	nowFn   func() int64
}

// NewRegistry creates a registry backed by the provided state manager.
func NewRegistry(st registryState) *Registry {
	return &Registry{
		st:      st,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter used to broadcast registry updates.
// Passing nil resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the time source used for expiry validation. Primarily
// intended for tests.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

func (r *Registry) now() int64 {
	if r == nil || r.nowFn == nil {
		return time.Now().Unix()
	}
	return r.nowFn()
}

func (r *Registry) emit(event events.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(event)
}

// CreateCampaign persists a new campaign owned by the caller. The supplied ID
// must be unused forever; IDs of expired or deactivated campaigns are never
// recycled.
func (r *Registry) CreateCampaign(caller [20]byte, c *Campaign) error {
	if c == nil {
		return ErrNilCampaign
	}
	if isZeroAddress(caller) {
		return ErrInvalidOwner
	}
	sanitized, err := sanitizeCampaign(c)
	if err != nil {
		return err
	}
	if sanitized.RewardToken != "" && !r.st.TokenExists(sanitized.RewardToken) {
		return fmt.Errorf("%w: %s", ErrTokenNotRegistered, sanitized.RewardToken)
	}
	if sanitized.ExpiryTime <= uint64(r.now()) {
		return fmt.Errorf("%w: %d", ErrInvalidExpiry, sanitized.ExpiryTime)
	}
	exists, err := r.st.KVGet(campaignKey(sanitized.ID), new(Campaign))
	if err != nil {
		return err
	}
	if exists {
		return ErrCampaignExists
	}
	sanitized.Owner = caller
	sanitized.Active = true
	if err := r.st.KVPut(campaignKey(sanitized.ID), sanitized); err != nil {
		return err
	}
	if err := r.st.KVAppend(ownerIdxKey(caller), idBytes(sanitized.ID)); err != nil {
		return err
	}
	r.emit(newCampaignCreatedEvent(sanitized))
	return nil
}

// SetCampaignStatus toggles the owner-controlled active flag. The flag is
// independent of expiry; re-activating an expired campaign does not make it
// claimable again.
func (r *Registry) SetCampaignStatus(caller [20]byte, id uint64, active bool) error {
	campaign, err := r.authorize(caller, id)
	if err != nil {
		return err
	}
	campaign.Active = active
	if err := r.st.KVPut(campaignKey(id), campaign); err != nil {
		return err
	}
	r.emit(newStatusUpdatedEvent(campaign))
	return nil
}

// UpdateRedirectURL replaces the campaign's redirect URL. The URL is an opaque
// string surfaced through claim events; it is not validated here.
func (r *Registry) UpdateRedirectURL(caller [20]byte, id uint64, url string) error {
	campaign, err := r.authorize(caller, id)
	if err != nil {
		return err
	}
	campaign.RedirectURL = url
	if err := r.st.KVPut(campaignKey(id), campaign); err != nil {
		return err
	}
	r.emit(newRedirectUpdatedEvent(campaign))
	return nil
}

// UpdateReferralRewards replaces both per-referral reward amounts in a single
// update. The reward token symbol itself is immutable after creation.
func (r *Registry) UpdateReferralRewards(caller [20]byte, id uint64, base, token *big.Int) error {
	campaign, err := r.authorize(caller, id)
	if err != nil {
		return err
	}
	if base != nil && base.Sign() < 0 {
		return fmt.Errorf("%w: base reward must be non-negative", ErrInvalidCampaign)
	}
	if token != nil && token.Sign() < 0 {
		return fmt.Errorf("%w: token reward must be non-negative", ErrInvalidCampaign)
	}
	campaign.BaseReward = cloneBigInt(base)
	campaign.TokenReward = cloneBigInt(token)
	if campaign.RewardToken == "" {
		campaign.TokenReward = big.NewInt(0)
	}
	if err := r.st.KVPut(campaignKey(id), campaign); err != nil {
		return err
	}
	r.emit(newRewardsUpdatedEvent(campaign))
	return nil
}

// TransferOwnership moves all administrative rights for the campaign to the
// new owner. The zero address is rejected so the exists-sentinel stays sound.
func (r *Registry) TransferOwnership(caller [20]byte, id uint64, newOwner [20]byte) error {
	campaign, err := r.authorize(caller, id)
	if err != nil {
		return err
	}
	if isZeroAddress(newOwner) {
		return ErrInvalidOwner
	}
	previous := campaign.Owner
	campaign.Owner = newOwner
	if err := r.st.KVPut(campaignKey(id), campaign); err != nil {
		return err
	}
	if err := r.st.KVAppend(ownerIdxKey(newOwner), idBytes(id)); err != nil {
		return err
	}
	r.emit(newOwnershipTransferredEvent(id, previous, newOwner))
	return nil
}

// GetCampaign retrieves a campaign by its identifier.
func (r *Registry) GetCampaign(id uint64) (*Campaign, bool) {
	out := new(Campaign)
	ok, err := r.st.KVGet(campaignKey(id), out)
	if err != nil || !ok {
		return nil, false
	}
	return out, true
}

// ListCampaignsByOwner returns the IDs of all campaigns currently owned by the
// provided address in ascending order. The owner index keeps entries from
// before an ownership transfer, so each entry is verified against the stored
// record before it is reported.
func (r *Registry) ListCampaignsByOwner(owner [20]byte) ([]uint64, error) {
	var raw [][]byte
	if err := r.st.KVGetList(ownerIdxKey(owner), &raw); err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(raw))
	seen := make(map[uint64]struct{}, len(raw))
	for _, b := range raw {
		if len(b) != 8 {
			continue
		}
		id := binary.BigEndian.Uint64(b)
		if _, exists := seen[id]; exists {
			continue
		}
		seen[id] = struct{}{}
		campaign, ok := r.GetCampaign(id)
		if !ok || campaign.Owner != owner {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ReferralCount returns the number of successful referrals settled for the
// campaign.
func (r *Registry) ReferralCount(id uint64) (uint64, error) {
	if _, ok := r.GetCampaign(id); !ok {
		return 0, ErrCampaignNotFound
	}
	var count uint64
	if _, err := r.st.KVGet(countKey(id), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// HasReferred reports whether the address already claimed a referral for the
// campaign.
func (r *Registry) HasReferred(id uint64, addr [20]byte) (bool, error) {
	if _, ok := r.GetCampaign(id); !ok {
		return false, ErrCampaignNotFound
	}
	var claimed bool
	if _, err := r.st.KVGet(claimedKey(id, addr), &claimed); err != nil {
		return false, err
	}
	return claimed, nil
}

func (r *Registry) authorize(caller [20]byte, id uint64) (*Campaign, error) {
	campaign := new(Campaign)
	found, err := r.st.KVGet(campaignKey(id), campaign)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrCampaignNotFound
	}
	if caller != campaign.Owner {
		return nil, ErrNotOwner
	}
	return campaign, nil
}

func sanitizeCampaign(c *Campaign) (*Campaign, error) {
	copyCampaign := *c
	copyCampaign.RewardToken = strings.ToUpper(strings.TrimSpace(copyCampaign.RewardToken))
	if copyCampaign.BaseReward != nil && copyCampaign.BaseReward.Sign() < 0 {
		return nil, fmt.Errorf("%w: base reward must be non-negative", ErrInvalidCampaign)
	}
	if copyCampaign.TokenReward != nil && copyCampaign.TokenReward.Sign() < 0 {
		return nil, fmt.Errorf("%w: token reward must be non-negative", ErrInvalidCampaign)
	}
	copyCampaign.BaseReward = cloneBigInt(copyCampaign.BaseReward)
	copyCampaign.TokenReward = cloneBigInt(copyCampaign.TokenReward)
	if copyCampaign.RewardToken == "" {
		copyCampaign.TokenReward = big.NewInt(0)
	}
	return &copyCampaign, nil
}
