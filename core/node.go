package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"time"

	"refnet/core/events"
	"refnet/core/genesis"
	"refnet/core/state"
	"refnet/core/types"
	nativecommon "refnet/native/common"
	"refnet/native/referral"
	"refnet/native/system/quotas"
	"refnet/observability"
	"refnet/storage"
)

// Node is the central controller. It owns the state database, serialises all
// module operations behind a single mutex and fans settled events out to the
// event stream.
type Node struct {
	db      storage.Database
	manager *state.Manager
	stateMu sync.Mutex
	nowFn   func() int64
	logger  *slog.Logger

	claimQuota     nativecommon.Quota
	pauseOverrides map[string]bool

	eventStreamMu      sync.Mutex
	eventStreamSeq     uint64
	eventStreamNextID  uint64
	eventStreamSubs    map[uint64]chan EventStreamEntry
	eventStreamHistory []EventStreamEntry
}

func NewNode(db storage.Database) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("storage database required")
	}
	return &Node{
		db:      db,
		manager: state.NewManager(db),
		nowFn:   func() int64 { return time.Now().Unix() },
		logger:  slog.Default().With("component", "node"),
	}, nil
}

// SetLogger overrides the node logger. Passing nil restores the default.
func (n *Node) SetLogger(logger *slog.Logger) {
	if logger == nil {
		n.logger = slog.Default().With("component", "node")
		return
	}
	n.logger = logger
}

// SetNowFunc overrides the node time source, primarily for tests.
func (n *Node) SetNowFunc(now func() int64) {
	if now == nil {
		n.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	n.nowFn = now
}

// SetClaimQuota configures the per-address quota applied to referral claims.
// A zero quota disables throttling.
func (n *Node) SetClaimQuota(q nativecommon.Quota) {
	n.claimQuota = q
}

// SetPauseOverrides installs operator-forced pause flags keyed by module name.
// An override takes effect in addition to the pause flag persisted in state.
func (n *Node) SetPauseOverrides(overrides map[string]bool) {
	if len(overrides) == 0 {
		n.pauseOverrides = nil
		return
	}
	copied := make(map[string]bool, len(overrides))
	for module, paused := range overrides {
		copied[module] = paused
	}
	n.pauseOverrides = copied
}

// ApplyGenesis writes the genesis spec into state. Safe to call on every
// startup; the loader makes reapplication a no-op.
func (n *Node) ApplyGenesis(spec *genesis.GenesisSpec) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	applied, err := genesis.Applied(n.manager)
	if err != nil {
		return err
	}
	if err := genesis.Apply(spec, n.manager); err != nil {
		return err
	}
	if !applied {
		n.logger.Info("genesis state applied",
			"tokens", len(spec.NativeTokens),
			"accounts", len(spec.Alloc),
			"campaigns", len(spec.Campaigns))
	}
	return nil
}

// GenesisApplied reports whether a genesis spec was ever written into this
// node's state database.
func (n *Node) GenesisApplied() (bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return genesis.Applied(n.manager)
}

// nodePauseView resolves the effective pause state for a module: an operator
// override wins, otherwise the flag persisted in state decides.
type nodePauseView struct {
	node *Node
}

func (p nodePauseView) IsPaused(module string) bool {
	if p.node == nil {
		return false
	}
	if p.node.pauseOverrides[module] {
		return true
	}
	if module == referral.ModuleName {
		var paused bool
		if _, err := p.node.manager.KVGet(referral.PausedStorageKey(), &paused); err == nil {
			return paused
		}
	}
	return false
}

type eventWithPayload interface {
	Event() *types.Event
}

// moduleEventEmitter bridges module events into the node's event stream.
type moduleEventEmitter struct {
	node *Node
}

func (e moduleEventEmitter) Emit(evt events.Event) {
	if e.node == nil || evt == nil {
		return
	}
	payload, ok := evt.(eventWithPayload)
	if !ok {
		return
	}
	event := payload.Event()
	if event == nil {
		return
	}
	observability.Events().RecordEvent(event.Type)
	e.node.publishEvent(event)
}

func (n *Node) referralRegistry() *referral.Registry {
	registry := referral.NewRegistry(n.manager)
	registry.SetEmitter(moduleEventEmitter{node: n})
	registry.SetNowFunc(n.nowFn)
	return registry
}

func (n *Node) referralEngine() *referral.Engine {
	engine := referral.NewEngine()
	engine.SetState(n.manager)
	engine.SetEmitter(moduleEventEmitter{node: n})
	engine.SetPauses(nodePauseView{node: n})
	engine.SetNowFunc(n.nowFn)
	return engine
}

// --- Campaign registry operations ---

func (n *Node) CreateCampaign(caller [20]byte, c *referral.Campaign) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.referralRegistry().CreateCampaign(caller, c)
}

func (n *Node) SetCampaignStatus(caller [20]byte, id uint64, active bool) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.referralRegistry().SetCampaignStatus(caller, id, active)
}

func (n *Node) UpdateCampaignRedirect(caller [20]byte, id uint64, redirectURL string) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.referralRegistry().UpdateRedirectURL(caller, id, redirectURL)
}

func (n *Node) UpdateCampaignRewards(caller [20]byte, id uint64, base, token *big.Int) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.referralRegistry().UpdateReferralRewards(caller, id, base, token)
}

func (n *Node) TransferCampaignOwnership(caller [20]byte, id uint64, newOwner [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.referralRegistry().TransferOwnership(caller, id, newOwner)
}

func (n *Node) GetCampaign(id uint64) (*referral.Campaign, bool) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.referralRegistry().GetCampaign(id)
}

func (n *Node) ListCampaignsByOwner(owner [20]byte) ([]uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.referralRegistry().ListCampaignsByOwner(owner)
}

// CampaignStats summarises a campaign's live counters.
type CampaignStats struct {
	Campaign  *referral.Campaign
	Referrals uint64
	Remaining uint64
	Expired   bool
}

func (n *Node) CampaignStats(id uint64) (CampaignStats, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	registry := n.referralRegistry()
	campaign, ok := registry.GetCampaign(id)
	if !ok {
		return CampaignStats{}, referral.ErrCampaignNotFound
	}
	count, err := registry.ReferralCount(id)
	if err != nil {
		return CampaignStats{}, err
	}
	var remaining uint64
	if campaign.ReferralCap > count {
		remaining = campaign.ReferralCap - count
	}
	return CampaignStats{
		Campaign:  campaign,
		Referrals: count,
		Remaining: remaining,
		Expired:   uint64(n.nowFn()) > campaign.ExpiryTime,
	}, nil
}

func (n *Node) ReferralCount(id uint64) (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.referralRegistry().ReferralCount(id)
}

func (n *Node) HasReferred(id uint64, addr [20]byte) (bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.referralRegistry().HasReferred(id, addr)
}

// --- Reward settlement operations ---

// MakeReferral settles a claim for the caller. The per-address quota is
// reserved before the claim runs; a failed claim keeps the request counted but
// releases the reserved payout budget.
func (n *Node) MakeReferral(caller [20]byte, id uint64) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	release, err := n.reserveClaimQuota(caller, id)
	if err != nil {
		observability.ModuleMetrics().RecordThrottle(referral.ModuleName, throttleReason(err))
		observability.Referral().RecordClaim("throttled")
		return err
	}

	engine := n.referralEngine()
	claimErr := engine.MakeReferral(caller, id)
	if claimErr != nil {
		release()
		observability.Referral().RecordClaim(claimOutcome(claimErr))
		return claimErr
	}

	observability.Referral().RecordClaim("settled")
	if campaign, ok := n.referralRegistry().GetCampaign(id); ok {
		if campaign.BaseReward != nil && campaign.BaseReward.Sign() > 0 {
			observability.Referral().RecordPayout(referral.BaseCurrency)
		}
		if campaign.HasTokenReward() {
			observability.Referral().RecordPayout(campaign.RewardToken)
		}
	}
	return nil
}

func (n *Node) WithdrawFunds(caller [20]byte, id uint64, amount *big.Int, currency string) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if err := n.referralEngine().WithdrawFunds(caller, id, amount, currency); err != nil {
		return err
	}
	observability.Referral().RecordWithdrawal(referral.NormalizeCurrency(currency))
	return nil
}

func (n *Node) DepositPool(caller [20]byte, amount *big.Int, currency string) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if err := n.referralEngine().Deposit(caller, amount, currency); err != nil {
		return err
	}
	observability.Referral().RecordDeposit()
	return nil
}

func (n *Node) SetPaused(caller [20]byte, paused bool) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if err := n.referralEngine().SetPaused(caller, paused); err != nil {
		return err
	}
	n.logger.Info("referral pause flag changed", "module", referral.ModuleName, "paused", paused)
	return nil
}

// Paused reports the effective pause state for referral claims, combining the
// persisted flag with any operator override.
func (n *Node) Paused() (bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if n.pauseOverrides[referral.ModuleName] {
		return true, nil
	}
	return n.referralEngine().Paused()
}

func (n *Node) PoolBalance(currency string) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.referralEngine().PoolBalance(currency)
}

// Balance reports an account balance for the given currency. The base currency
// reads the account record, everything else the token ledger.
func (n *Node) Balance(addr [20]byte, currency string) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	normalized := referral.NormalizeCurrency(currency)
	if normalized == referral.BaseCurrency {
		account, err := n.manager.GetAccount(addr[:])
		if err != nil {
			return nil, err
		}
		return account.BalanceRNET, nil
	}
	if !n.manager.TokenExists(normalized) {
		return nil, fmt.Errorf("%w: %s", referral.ErrTokenNotRegistered, normalized)
	}
	return n.manager.Balance(addr[:], normalized)
}

func (n *Node) TokenList() ([]string, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.manager.TokenList()
}

func (n *Node) HasRole(role string, addr []byte) bool {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.manager.HasRole(role, addr)
}

// --- Claim quota plumbing ---

// quotaEpoch maps a unix timestamp onto the configured epoch. A missing epoch
// length falls back to one minute so MaxRequestsPerMin keeps its meaning.
func quotaEpoch(q nativecommon.Quota, now int64) uint64 {
	seconds := q.EpochSeconds
	if seconds == 0 {
		seconds = 60
	}
	if now < 0 {
		return 0
	}
	return uint64(now) / uint64(seconds)
}

// clampToUint64 converts a payout amount for quota accounting. Amounts beyond
// uint64 saturate rather than wrap.
func clampToUint64(amount *big.Int) uint64 {
	if amount == nil || amount.Sign() <= 0 {
		return 0
	}
	if !amount.IsUint64() {
		return math.MaxUint64
	}
	return amount.Uint64()
}

// reserveClaimQuota charges the caller's quota for one request plus the base
// payout the claim would settle. The returned release function refunds the
// payout reservation when the claim subsequently fails; the request itself
// stays counted so retry storms remain bounded.
func (n *Node) reserveClaimQuota(caller [20]byte, id uint64) (func(), error) {
	if !n.claimQuota.Enabled() {
		return func() {}, nil
	}

	store := quotas.NewStore(n.manager)
	epoch := quotaEpoch(n.claimQuota, n.nowFn())

	var payout uint64
	if campaign, ok := n.referralRegistry().GetCampaign(id); ok {
		payout = clampToUint64(campaign.BaseReward)
	}

	next, err := nativecommon.Apply(store, referral.ModuleName, epoch, caller[:], n.claimQuota, 1, payout)
	if err != nil {
		return nil, err
	}

	release := func() {
		if payout == 0 {
			return
		}
		next.RNETUsed -= payout
		if saveErr := store.Save(referral.ModuleName, epoch, caller[:], next); saveErr != nil {
			n.logger.Warn("quota release failed", "error", saveErr)
		}
	}
	return release, nil
}

func throttleReason(err error) string {
	switch {
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded):
		return "request_quota"
	case errors.Is(err, nativecommon.ErrQuotaRNETCapExceeded):
		return "payout_quota"
	default:
		return "quota"
	}
}

func claimOutcome(err error) string {
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	case errors.Is(err, referral.ErrCampaignNotFound):
		return "not_found"
	case errors.Is(err, referral.ErrCampaignInactive):
		return "inactive"
	case errors.Is(err, referral.ErrCampaignExpired):
		return "expired"
	case errors.Is(err, referral.ErrAlreadyReferred):
		return "already_referred"
	case errors.Is(err, referral.ErrCapReached):
		return "cap_reached"
	case errors.Is(err, referral.ErrInsufficientPoolFunds):
		return "pool_exhausted"
	case errors.Is(err, referral.ErrInsufficientTokenFunds):
		return "token_pool_exhausted"
	default:
		return "error"
	}
}
