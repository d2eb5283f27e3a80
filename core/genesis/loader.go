package genesis

import (
	"fmt"
	"maps"
	"math/big"
	"slices"
	"strings"

	"refnet/core/state"
	"refnet/native/referral"
)

var appliedMarkerKey = []byte("genesis/applied")

// Applied reports whether genesis state has already been written to the store.
func Applied(manager *state.Manager) (bool, error) {
	var done bool
	found, err := manager.KVGet(appliedMarkerKey, &done)
	if err != nil {
		return false, err
	}
	return found && done, nil
}

// Apply writes the genesis spec into state. The operation is idempotent: once
// the applied marker is present subsequent calls are no-ops so restarts do not
// double-fund accounts.
func Apply(spec *GenesisSpec, manager *state.Manager) error {
	if spec == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	if manager == nil {
		return fmt.Errorf("state manager must not be nil")
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	if done, err := Applied(manager); err != nil {
		return err
	} else if done {
		return nil
	}

	// Tokens first so allocations and campaigns can reference them. Sorted
	// for deterministic state regardless of spec ordering.
	tokens := slices.Clone(spec.NativeTokens)
	slices.SortFunc(tokens, func(a, b NativeTokenSpec) int {
		return strings.Compare(strings.ToUpper(a.Symbol), strings.ToUpper(b.Symbol))
	})
	for i := range tokens {
		token := &tokens[i]
		if err := manager.RegisterToken(token.Symbol, token.Name, token.Decimals); err != nil {
			return fmt.Errorf("register token %q: %w", token.Symbol, err)
		}
	}

	for _, addrStr := range slices.Sorted(maps.Keys(spec.Alloc)) {
		parsed, err := ParseBech32Account(addrStr)
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", addrStr, err)
		}
		if err := creditBalances(manager, parsed, spec.Alloc[addrStr]); err != nil {
			return fmt.Errorf("alloc[%q]: %w", addrStr, err)
		}
	}

	if len(spec.Pool) > 0 {
		if err := creditBalances(manager, referral.PoolAddress(), spec.Pool); err != nil {
			return fmt.Errorf("pool: %w", err)
		}
	}

	for _, role := range slices.Sorted(maps.Keys(spec.Roles)) {
		for _, addrStr := range spec.Roles[role] {
			parsed, err := ParseBech32Account(addrStr)
			if err != nil {
				return fmt.Errorf("roles[%q]: %w", role, err)
			}
			if err := manager.SetRole(role, parsed[:]); err != nil {
				return fmt.Errorf("roles[%q]: %w", role, err)
			}
		}
	}

	if len(spec.Campaigns) > 0 {
		registry := referral.NewRegistry(manager)
		genesisUnix := spec.GenesisTimestamp().Unix()
		registry.SetNowFunc(func() int64 { return genesisUnix })
		for i := range spec.Campaigns {
			if err := seedCampaign(registry, &spec.Campaigns[i]); err != nil {
				return fmt.Errorf("campaign[%d]: %w", i, err)
			}
		}
	}

	if spec.Paused {
		if err := manager.KVPut(referral.PausedStorageKey(), true); err != nil {
			return fmt.Errorf("paused flag: %w", err)
		}
	}

	return manager.KVPut(appliedMarkerKey, true)
}

// creditBalances adds the listed amounts to an account. The base currency goes
// to the account balance, everything else to the token ledger.
func creditBalances(manager *state.Manager, addr [20]byte, balances map[string]string) error {
	for _, symbol := range slices.Sorted(maps.Keys(balances)) {
		amount, err := parseAmount(balances[symbol])
		if err != nil {
			return fmt.Errorf("%q: %w", symbol, err)
		}
		if amount.Sign() == 0 {
			continue
		}
		normalized := strings.ToUpper(strings.TrimSpace(symbol))
		if normalized == referral.BaseCurrency {
			account, err := manager.GetAccount(addr[:])
			if err != nil {
				return err
			}
			account.BalanceRNET = new(big.Int).Add(account.BalanceRNET, amount)
			if err := manager.PutAccount(addr[:], account); err != nil {
				return err
			}
			continue
		}
		existing, err := manager.Balance(addr[:], normalized)
		if err != nil {
			return err
		}
		if err := manager.SetBalance(addr[:], normalized, new(big.Int).Add(existing, amount)); err != nil {
			return err
		}
	}
	return nil
}

func seedCampaign(registry *referral.Registry, spec *CampaignSpec) error {
	owner, err := ParseBech32Account(spec.Owner)
	if err != nil {
		return err
	}
	baseReward, err := parseAmount(spec.BaseReward)
	if err != nil {
		return err
	}
	tokenReward, err := parseAmount(spec.TokenReward)
	if err != nil {
		return err
	}
	campaign := &referral.Campaign{
		ID:          spec.ID,
		Title:       strings.TrimSpace(spec.Title),
		RedirectURL: strings.TrimSpace(spec.RedirectURL),
		BaseReward:  baseReward,
		RewardToken: strings.TrimSpace(spec.RewardToken),
		TokenReward: tokenReward,
		ReferralCap: spec.ReferralCap,
		ExpiryTime:  spec.ExpiryTime,
	}
	if err := registry.CreateCampaign(owner, campaign); err != nil {
		return err
	}
	if spec.Active != nil && !*spec.Active {
		return registry.SetCampaignStatus(owner, spec.ID, false)
	}
	return nil
}
