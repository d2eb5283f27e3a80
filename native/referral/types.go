package referral

import (
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// ModuleName identifies the referral module to the pause view and the
	// node metrics.
	ModuleName = "referral"
	// RoleAdmin marks addresses allowed to pause and resume referral claims.
	RoleAdmin = "ROLE_REFERRAL_ADMIN"
	// BaseCurrency is the symbol accepted as an alias for the pooled RNET
	// balance in withdraw and deposit calls.
	BaseCurrency = "RNET"
)

// Campaign captures the configuration and lifecycle state of a referral
// campaign. A campaign whose Owner is the zero address does not exist; records
// are never deleted, they go dormant through Active=false or expiry.
type Campaign struct {
	ID          uint64
	Title       string
	RedirectURL string
	Owner       [20]byte
	BaseReward  *big.Int
	RewardToken string
	TokenReward *big.Int
	ReferralCap uint64
	ExpiryTime  uint64
	Active      bool
}

// Clone returns a deep copy of the campaign.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	cp := *c
	cp.BaseReward = cloneBigInt(c.BaseReward)
	cp.TokenReward = cloneBigInt(c.TokenReward)
	return &cp
}

// HasTokenReward reports whether the campaign pays a token reward per
// referral in addition to (or instead of) the base reward.
func (c *Campaign) HasTokenReward() bool {
	if c == nil {
		return false
	}
	return c.RewardToken != "" && c.TokenReward != nil && c.TokenReward.Sign() > 0
}

func (c *Campaign) baseRewardValue() *big.Int {
	if c == nil || c.BaseReward == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(c.BaseReward)
}

func isZeroAddress(addr [20]byte) bool {
	return addr == ([20]byte{})
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// NormalizeCurrency maps the empty string to the base currency and upper-cases
// token symbols so state lookups are case-insensitive.
func NormalizeCurrency(currency string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(currency))
	if trimmed == "" {
		return BaseCurrency
	}
	return trimmed
}

var poolSeed = []byte("refnet/referral/pool")

// PoolAddress returns the address holding the shared reward pool. RNET sits in
// the pool's account balance and token rewards in the pool's token balances.
// Funds are deliberately commingled across campaigns; withdrawals are bounded
// only by the live pool balance.
func PoolAddress() [20]byte {
	var addr [20]byte
	hash := ethcrypto.Keccak256(poolSeed)
	copy(addr[:], hash[len(hash)-20:])
	return addr
}
