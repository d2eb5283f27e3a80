package referral

import (
	"math/big"

	"refnet/core/events"
)

func newCampaignCreatedEvent(c *Campaign) events.ReferralCampaignCreated {
	if c == nil {
		return events.ReferralCampaignCreated{}
	}
	return events.ReferralCampaignCreated{
		ID:          c.ID,
		Owner:       c.Owner,
		Title:       c.Title,
		BaseReward:  cloneBigInt(c.BaseReward),
		RewardToken: c.RewardToken,
		TokenReward: cloneBigInt(c.TokenReward),
		ReferralCap: c.ReferralCap,
		ExpiryTime:  c.ExpiryTime,
	}
}

func newStatusUpdatedEvent(c *Campaign) events.ReferralCampaignStatusUpdated {
	if c == nil {
		return events.ReferralCampaignStatusUpdated{}
	}
	return events.ReferralCampaignStatusUpdated{
		ID:     c.ID,
		Owner:  c.Owner,
		Active: c.Active,
	}
}

func newRedirectUpdatedEvent(c *Campaign) events.ReferralCampaignRedirectUpdated {
	if c == nil {
		return events.ReferralCampaignRedirectUpdated{}
	}
	return events.ReferralCampaignRedirectUpdated{
		ID:    c.ID,
		Owner: c.Owner,
	}
}

func newRewardsUpdatedEvent(c *Campaign) events.ReferralCampaignRewardsUpdated {
	if c == nil {
		return events.ReferralCampaignRewardsUpdated{}
	}
	return events.ReferralCampaignRewardsUpdated{
		ID:          c.ID,
		Owner:       c.Owner,
		BaseReward:  cloneBigInt(c.BaseReward),
		TokenReward: cloneBigInt(c.TokenReward),
	}
}

func newOwnershipTransferredEvent(id uint64, previous, next [20]byte) events.ReferralCampaignOwnershipTransferred {
	return events.ReferralCampaignOwnershipTransferred{
		ID:            id,
		PreviousOwner: previous,
		NewOwner:      next,
	}
}

func newReferralSuccessfulEvent(c *Campaign, caller [20]byte) events.ReferralSuccessful {
	if c == nil {
		return events.ReferralSuccessful{Caller: caller}
	}
	return events.ReferralSuccessful{
		ID:          c.ID,
		Owner:       c.Owner,
		Caller:      caller,
		RedirectURL: c.RedirectURL,
	}
}

func newFundsWithdrawnEvent(id uint64, caller [20]byte, amount *big.Int, currency string) events.ReferralFundsWithdrawn {
	return events.ReferralFundsWithdrawn{
		ID:       id,
		Caller:   caller,
		Amount:   cloneBigInt(amount),
		Currency: currency,
	}
}

func newPoolDepositedEvent(caller [20]byte, amount *big.Int, currency string) events.ReferralPoolDeposited {
	return events.ReferralPoolDeposited{
		Caller:   caller,
		Amount:   cloneBigInt(amount),
		Currency: currency,
	}
}

func newPauseChangedEvent(paused bool, caller [20]byte) events.ReferralPauseChanged {
	return events.ReferralPauseChanged{
		Paused: paused,
		Caller: caller,
	}
}
