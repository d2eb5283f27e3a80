package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"refnet/core/types"
)

const (
	// TypeReferralCampaignCreated is emitted when a campaign is first
	// registered.
	TypeReferralCampaignCreated = "referral.campaign.created"
	// TypeReferralCampaignStatusUpdated is emitted when the owner toggles a
	// campaign's active flag.
	TypeReferralCampaignStatusUpdated = "referral.campaign.status_updated"
	// TypeReferralCampaignRedirectUpdated is emitted when the owner replaces
	// a campaign's redirect URL.
	TypeReferralCampaignRedirectUpdated = "referral.campaign.redirect_updated"
	// TypeReferralCampaignRewardsUpdated is emitted when the owner replaces a
	// campaign's per-referral reward amounts.
	TypeReferralCampaignRewardsUpdated = "referral.campaign.rewards_updated"
	// TypeReferralCampaignOwnershipTransferred is emitted when campaign
	// ownership moves to a new address.
	TypeReferralCampaignOwnershipTransferred = "referral.campaign.ownership_transferred"
	// TypeReferralSuccessful is emitted when a participant claims a referral
	// reward.
	TypeReferralSuccessful = "referral.referral.successful"
	// TypeReferralFundsWithdrawn is emitted when a campaign owner drains
	// funds from the shared reward pool.
	TypeReferralFundsWithdrawn = "referral.funds.withdrawn"
	// TypeReferralPoolDeposited is emitted when an account funds the shared
	// reward pool.
	TypeReferralPoolDeposited = "referral.pool.deposited"
	// TypeReferralPauseChanged is emitted when a module admin pauses or
	// resumes referral claims.
	TypeReferralPauseChanged = "referral.pause.changed"
)

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// ReferralCampaignCreated captures the full configuration of a newly
// registered campaign.
type ReferralCampaignCreated struct {
	ID          uint64
	Owner       [20]byte
	Title       string
	BaseReward  *big.Int
	RewardToken string
	TokenReward *big.Int
	ReferralCap uint64
	ExpiryTime  uint64
}

// EventType implements the Event interface.
func (ReferralCampaignCreated) EventType() string { return TypeReferralCampaignCreated }

// Event converts the payload to the generic event form.
func (e ReferralCampaignCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeReferralCampaignCreated,
		Attributes: map[string]string{
			"campaignId":  strconv.FormatUint(e.ID, 10),
			"owner":       hex.EncodeToString(e.Owner[:]),
			"title":       e.Title,
			"baseReward":  bigString(e.BaseReward),
			"rewardToken": e.RewardToken,
			"tokenReward": bigString(e.TokenReward),
			"referralCap": strconv.FormatUint(e.ReferralCap, 10),
			"expiryTime":  strconv.FormatUint(e.ExpiryTime, 10),
		},
	}
}

// ReferralCampaignStatusUpdated captures an owner toggling the active flag.
type ReferralCampaignStatusUpdated struct {
	ID     uint64
	Owner  [20]byte
	Active bool
}

// EventType implements the Event interface.
func (ReferralCampaignStatusUpdated) EventType() string { return TypeReferralCampaignStatusUpdated }

// Event converts the payload to the generic event form.
func (e ReferralCampaignStatusUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeReferralCampaignStatusUpdated,
		Attributes: map[string]string{
			"campaignId": strconv.FormatUint(e.ID, 10),
			"owner":      hex.EncodeToString(e.Owner[:]),
			"active":     strconv.FormatBool(e.Active),
		},
	}
}

// ReferralCampaignRedirectUpdated captures a redirect URL replacement.
type ReferralCampaignRedirectUpdated struct {
	ID    uint64
	Owner [20]byte
}

// EventType implements the Event interface.
func (ReferralCampaignRedirectUpdated) EventType() string {
	return TypeReferralCampaignRedirectUpdated
}

// Event converts the payload to the generic event form.
func (e ReferralCampaignRedirectUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeReferralCampaignRedirectUpdated,
		Attributes: map[string]string{
			"campaignId": strconv.FormatUint(e.ID, 10),
			"owner":      hex.EncodeToString(e.Owner[:]),
		},
	}
}

// ReferralCampaignRewardsUpdated captures replacement of the per-referral
// reward amounts.
type ReferralCampaignRewardsUpdated struct {
	ID          uint64
	Owner       [20]byte
	BaseReward  *big.Int
	TokenReward *big.Int
}

// EventType implements the Event interface.
func (ReferralCampaignRewardsUpdated) EventType() string { return TypeReferralCampaignRewardsUpdated }

// Event converts the payload to the generic event form.
func (e ReferralCampaignRewardsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeReferralCampaignRewardsUpdated,
		Attributes: map[string]string{
			"campaignId":  strconv.FormatUint(e.ID, 10),
			"owner":       hex.EncodeToString(e.Owner[:]),
			"baseReward":  bigString(e.BaseReward),
			"tokenReward": bigString(e.TokenReward),
		},
	}
}

// ReferralCampaignOwnershipTransferred captures a change of campaign owner.
type ReferralCampaignOwnershipTransferred struct {
	ID            uint64
	PreviousOwner [20]byte
	NewOwner      [20]byte
}

// EventType implements the Event interface.
func (ReferralCampaignOwnershipTransferred) EventType() string {
	return TypeReferralCampaignOwnershipTransferred
}

// Event converts the payload to the generic event form.
func (e ReferralCampaignOwnershipTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeReferralCampaignOwnershipTransferred,
		Attributes: map[string]string{
			"campaignId":    strconv.FormatUint(e.ID, 10),
			"previousOwner": hex.EncodeToString(e.PreviousOwner[:]),
			"newOwner":      hex.EncodeToString(e.NewOwner[:]),
		},
	}
}

// ReferralSuccessful captures a settled referral claim.
type ReferralSuccessful struct {
	ID          uint64
	Owner       [20]byte
	Caller      [20]byte
	RedirectURL string
}

// EventType implements the Event interface.
func (ReferralSuccessful) EventType() string { return TypeReferralSuccessful }

// Event converts the payload to the generic event form.
func (e ReferralSuccessful) Event() *types.Event {
	return &types.Event{
		Type: TypeReferralSuccessful,
		Attributes: map[string]string{
			"campaignId":  strconv.FormatUint(e.ID, 10),
			"owner":       hex.EncodeToString(e.Owner[:]),
			"caller":      hex.EncodeToString(e.Caller[:]),
			"redirectUrl": e.RedirectURL,
		},
	}
}

// ReferralFundsWithdrawn captures an owner draining pooled funds.
type ReferralFundsWithdrawn struct {
	ID       uint64
	Caller   [20]byte
	Amount   *big.Int
	Currency string
}

// EventType implements the Event interface.
func (ReferralFundsWithdrawn) EventType() string { return TypeReferralFundsWithdrawn }

// Event converts the payload to the generic event form.
func (e ReferralFundsWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeReferralFundsWithdrawn,
		Attributes: map[string]string{
			"campaignId": strconv.FormatUint(e.ID, 10),
			"caller":     hex.EncodeToString(e.Caller[:]),
			"amount":     bigString(e.Amount),
			"currency":   e.Currency,
		},
	}
}

// ReferralPoolDeposited captures an account funding the shared reward pool.
type ReferralPoolDeposited struct {
	Caller   [20]byte
	Amount   *big.Int
	Currency string
}

// EventType implements the Event interface.
func (ReferralPoolDeposited) EventType() string { return TypeReferralPoolDeposited }

// Event converts the payload to the generic event form.
func (e ReferralPoolDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeReferralPoolDeposited,
		Attributes: map[string]string{
			"caller":   hex.EncodeToString(e.Caller[:]),
			"amount":   bigString(e.Amount),
			"currency": e.Currency,
		},
	}
}

// ReferralPauseChanged captures an admin pausing or resuming referral claims.
type ReferralPauseChanged struct {
	Paused bool
	Caller [20]byte
}

// EventType implements the Event interface.
func (ReferralPauseChanged) EventType() string { return TypeReferralPauseChanged }

// Event converts the payload to the generic event form.
func (e ReferralPauseChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeReferralPauseChanged,
		Attributes: map[string]string{
			"paused": strconv.FormatBool(e.Paused),
			"caller": hex.EncodeToString(e.Caller[:]),
		},
	}
}
