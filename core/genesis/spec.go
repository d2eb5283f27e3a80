package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math/big"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"refnet/crypto"
	"refnet/native/referral"
)

// GenesisSpec describes the initial service state: reward tokens, account
// balances, role grants, the shared reward pool and optionally pre-registered
// campaigns.
type GenesisSpec struct {
	GenesisTime  string                       `json:"genesisTime"`
	NativeTokens []NativeTokenSpec            `json:"nativeTokens"`
	Alloc        map[string]map[string]string `json:"alloc"` // addr -> currency -> amount
	Roles        map[string][]string          `json:"roles"` // role -> []addr
	Pool         map[string]string            `json:"pool"`  // currency -> amount seeded into the reward pool
	Paused       bool                         `json:"paused,omitempty"`
	Campaigns    []CampaignSpec               `json:"campaigns,omitempty"`

	genesisTimestamp time.Time
}

type NativeTokenSpec struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
}

// CampaignSpec seeds a campaign at genesis. Amounts are decimal strings so
// specs survive JSON number precision limits.
type CampaignSpec struct {
	ID          uint64 `json:"id"`
	Owner       string `json:"owner"`
	Title       string `json:"title"`
	RedirectURL string `json:"redirectUrl"`
	BaseReward  string `json:"baseReward,omitempty"`
	RewardToken string `json:"rewardToken,omitempty"`
	TokenReward string `json:"tokenReward,omitempty"`
	ReferralCap uint64 `json:"referralCap"`
	ExpiryTime  uint64 `json:"expiryTime"`
	Active      *bool  `json:"active,omitempty"`
}

func (t *NativeTokenSpec) validate() error {
	if strings.TrimSpace(t.Symbol) == "" {
		return fmt.Errorf("symbol must be provided")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("name must be provided")
	}
	if strings.EqualFold(strings.TrimSpace(t.Symbol), referral.BaseCurrency) {
		return fmt.Errorf("%s is the base currency and must not be declared as a token", referral.BaseCurrency)
	}
	return nil
}

// LoadGenesisSpec reads and validates a genesis spec from disk. Unknown JSON
// fields are rejected so config typos surface at startup instead of being
// silently ignored.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %s: %w", path, err)
	}
	spec := new(GenesisSpec)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(spec); err != nil {
		return nil, fmt.Errorf("parse genesis spec %s: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("genesis spec %s: %w", path, err)
	}
	return spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// Validate checks the spec for internal consistency and caches the parsed
// genesis timestamp.
func (s *GenesisSpec) Validate() error {
	ts, err := parseTimestamp(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = ts

	known, err := s.tokenTable()
	if err != nil {
		return err
	}
	if err := s.checkAlloc(known); err != nil {
		return err
	}
	if err := s.checkPool(known); err != nil {
		return err
	}
	if err := s.checkRoles(); err != nil {
		return err
	}
	return s.checkCampaigns(known, uint64(ts.Unix()))
}

// tokenTable validates the declared tokens and returns the set of known
// currency symbols, base currency included.
func (s *GenesisSpec) tokenTable() (map[string]struct{}, error) {
	known := map[string]struct{}{referral.BaseCurrency: {}}
	for i := range s.NativeTokens {
		tok := &s.NativeTokens[i]
		if err := tok.validate(); err != nil {
			return nil, fmt.Errorf("nativeToken[%d]: %w", i, err)
		}
		symbol := strings.ToUpper(strings.TrimSpace(tok.Symbol))
		if _, dup := known[symbol]; dup {
			return nil, fmt.Errorf("nativeToken[%d]: duplicate symbol %q", i, tok.Symbol)
		}
		known[symbol] = struct{}{}
	}
	return known, nil
}

func knownCurrency(known map[string]struct{}, symbol string) bool {
	_, ok := known[strings.ToUpper(strings.TrimSpace(symbol))]
	return ok
}

func (s *GenesisSpec) checkAlloc(known map[string]struct{}) error {
	for _, account := range slices.Sorted(maps.Keys(s.Alloc)) {
		if _, err := ParseBech32Account(account); err != nil {
			return fmt.Errorf("alloc[%q]: %w", account, err)
		}
		for symbol, amount := range s.Alloc[account] {
			if !knownCurrency(known, symbol) {
				return fmt.Errorf("alloc[%q][%q]: undefined currency", account, symbol)
			}
			if _, err := parseAmount(amount); err != nil {
				return fmt.Errorf("alloc[%q][%q]: %w", account, symbol, err)
			}
		}
	}
	return nil
}

func (s *GenesisSpec) checkPool(known map[string]struct{}) error {
	for symbol, amount := range s.Pool {
		if !knownCurrency(known, symbol) {
			return fmt.Errorf("pool[%q]: undefined currency", symbol)
		}
		if _, err := parseAmount(amount); err != nil {
			return fmt.Errorf("pool[%q]: %w", symbol, err)
		}
	}
	return nil
}

func (s *GenesisSpec) checkRoles() error {
	for _, role := range slices.Sorted(maps.Keys(s.Roles)) {
		if strings.TrimSpace(role) == "" {
			return fmt.Errorf("roles: role name must be provided")
		}
		for i, account := range s.Roles[role] {
			if _, err := ParseBech32Account(account); err != nil {
				return fmt.Errorf("roles[%q][%d]: %w", role, i, err)
			}
		}
	}
	return nil
}

func (s *GenesisSpec) checkCampaigns(known map[string]struct{}, genesisUnix uint64) error {
	seen := make(map[uint64]struct{}, len(s.Campaigns))
	for i := range s.Campaigns {
		c := &s.Campaigns[i]
		if c.ID == 0 {
			return fmt.Errorf("campaign[%d]: id must be greater than zero", i)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("campaign[%d]: duplicate id %d", i, c.ID)
		}
		seen[c.ID] = struct{}{}

		if _, err := ParseBech32Account(c.Owner); err != nil {
			return fmt.Errorf("campaign[%d]: owner: %w", i, err)
		}
		if strings.TrimSpace(c.Title) == "" {
			return fmt.Errorf("campaign[%d]: title must be provided", i)
		}
		if _, err := url.ParseRequestURI(strings.TrimSpace(c.RedirectURL)); err != nil {
			return fmt.Errorf("campaign[%d]: redirectUrl: %w", i, err)
		}
		if _, err := parseAmount(c.BaseReward); err != nil {
			return fmt.Errorf("campaign[%d]: baseReward: %w", i, err)
		}
		if token := strings.TrimSpace(c.RewardToken); token != "" {
			if strings.EqualFold(token, referral.BaseCurrency) || !knownCurrency(known, token) {
				return fmt.Errorf("campaign[%d]: rewardToken %q not declared", i, c.RewardToken)
			}
			if _, err := parseAmount(c.TokenReward); err != nil {
				return fmt.Errorf("campaign[%d]: tokenReward: %w", i, err)
			}
		}
		if c.ExpiryTime <= genesisUnix {
			return fmt.Errorf("campaign[%d]: expiryTime must be after genesisTime", i)
		}
	}
	return nil
}

// ParseBech32Account decodes a bech32 account string into the fixed address
// form used by module state.
func ParseBech32Account(addr string) ([20]byte, error) {
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(addr))
	if err != nil {
		return [20]byte{}, fmt.Errorf("decode bech32 account: %w", err)
	}
	return decoded.Raw(), nil
}

// parseAmount parses a non-negative base-10 amount. Empty strings count as
// zero so optional reward fields can be left out.
func parseAmount(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must be a non-negative integer", value)
	}
	return n, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
